package storage

import (
	"context"
	"fmt"

	"github.com/skalibog/tradetracker/internal/config"
	"github.com/skalibog/tradetracker/pkg/models"
)

// Recorder архив закрытых свечей и сгенерированных сигналов
type Recorder interface {
	SaveCandles(ctx context.Context, symbol, interval string, candles []models.Candle) error
	SaveSignal(ctx context.Context, signal models.Signal) error
	GetSignalHistory(ctx context.Context, symbol string, limit int) ([]models.Signal, error)
	Close()
}

// New выбирает реализацию по типу хранилища
func New(ctx context.Context, cfg config.StorageConfig) (Recorder, error) {
	switch cfg.Type {
	case "", "none":
		return NopRecorder{}, nil
	case "influxdb":
		return NewInfluxRecorder(ctx, cfg)
	default:
		return nil, fmt.Errorf("неизвестный тип хранилища %q", cfg.Type)
	}
}

// NopRecorder ничего не сохраняет
type NopRecorder struct{}

func (NopRecorder) SaveCandles(context.Context, string, string, []models.Candle) error { return nil }
func (NopRecorder) SaveSignal(context.Context, models.Signal) error                    { return nil }

func (NopRecorder) GetSignalHistory(context.Context, string, int) ([]models.Signal, error) {
	return nil, nil
}

func (NopRecorder) Close() {}
