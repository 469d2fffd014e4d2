package exchange

import (
	"context"
	"fmt"

	"github.com/skalibog/tradetracker/pkg/models"
)

// Gateway доступ к рыночным данным и аккаунту биржи
type Gateway interface {
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)
	GetTicker(ctx context.Context, symbol string) (models.Tick, error)
	Get24hStats(ctx context.Context, symbol string) (models.DayStats, error)
	GetAll24hStats(ctx context.Context) ([]models.DayStats, error)

	// SubscribeTicks и SubscribeCandles запускают поток и возвращают канал,
	// закрывающийся при его завершении. Отмена ctx останавливает поток.
	SubscribeTicks(ctx context.Context, symbols []string, onTick func(models.Tick), onErr func(error)) (<-chan struct{}, error)
	SubscribeCandles(ctx context.Context, symbol, interval string, onUpdate func(models.CandleUpdate), onErr func(error)) (<-chan struct{}, error)

	// Требуют ключей API
	GetAccountBalances(ctx context.Context) ([]models.Balance, error)
	GetOpenPositions(ctx context.Context) ([]models.Position, error)
}

// GatewayError ошибка транспорта, авторизации или лимита запросов
type GatewayError struct {
	Op     string
	Symbol string
	Err    error
}

func (e *GatewayError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Symbol, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func wrap(op, symbol string, err error) error {
	if err == nil {
		return nil
	}
	return &GatewayError{Op: op, Symbol: symbol, Err: err}
}
