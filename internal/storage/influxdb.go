package storage

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/skalibog/tradetracker/internal/config"
	"github.com/skalibog/tradetracker/pkg/logger"
	"github.com/skalibog/tradetracker/pkg/models"
	"go.uber.org/zap"
)

// InfluxRecorder реализует Recorder с использованием InfluxDB
type InfluxRecorder struct {
	client   influxdb2.Client
	queryAPI api.QueryAPI
	writeAPI api.WriteAPI
	bucket   string
	done     chan struct{}
}

// NewInfluxRecorder создает новое хранилище InfluxDB
func NewInfluxRecorder(ctx context.Context, cfg config.StorageConfig) (*InfluxRecorder, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Проверка соединения
	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ошибка соединения с InfluxDB: %w", err)
	}
	if health == nil || health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("InfluxDB не в состоянии 'pass': %+v", health)
	}

	r := &InfluxRecorder{
		client:   client,
		queryAPI: client.QueryAPI(cfg.Organization),
		writeAPI: client.WriteAPI(cfg.Organization, cfg.Bucket),
		bucket:   cfg.Bucket,
		done:     make(chan struct{}),
	}
	go r.logWriteErrors()
	return r, nil
}

// Запись асинхронная, ошибки приходят через канал
func (r *InfluxRecorder) logWriteErrors() {
	errs := r.writeAPI.Errors()
	for {
		select {
		case err, ok := <-errs:
			if !ok {
				return
			}
			logger.Warn("Ошибка записи в InfluxDB", zap.Error(err))
		case <-r.done:
			return
		}
	}
}

// Close сбрасывает буфер и закрывает соединение
func (r *InfluxRecorder) Close() {
	r.writeAPI.Flush()
	close(r.done)
	r.client.Close()
}

// SaveCandles сохраняет закрытые свечи
func (r *InfluxRecorder) SaveCandles(_ context.Context, symbol, interval string, candles []models.Candle) error {
	for _, c := range candles {
		if !c.Closed {
			continue
		}
		r.writeAPI.WritePoint(candlePoint(symbol, interval, c))
	}
	r.writeAPI.Flush()
	return nil
}

// SaveSignal сохраняет сигнал
func (r *InfluxRecorder) SaveSignal(_ context.Context, s models.Signal) error {
	r.writeAPI.WritePoint(signalPoint(s))
	return nil
}

// GetSignalHistory получает историю сигналов символа, новые первыми
func (r *InfluxRecorder) GetSignalHistory(ctx context.Context, symbol string, limit int) ([]models.Signal, error) {
	result, err := r.queryAPI.Query(ctx, signalHistoryQuery(r.bucket, symbol, limit))
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса истории сигналов: %w", err)
	}

	var signals []models.Signal
	for result.Next() {
		record := result.Record()

		strategyID, _ := record.ValueByKey("strategy").(string)
		signalType, _ := record.ValueByKey("type").(string)
		strength, _ := record.ValueByKey("strength").(float64)
		id, _ := record.ValueByKey("id").(string)

		signals = append(signals, models.Signal{
			ID:         id,
			Symbol:     symbol,
			StrategyID: strategyID,
			Type:       models.SignalType(signalType),
			Strength:   strength,
			Timestamp:  record.Time(),
		})
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("ошибка при обработке результатов: %w", result.Err())
	}
	return signals, nil
}

func candlePoint(symbol, interval string, c models.Candle) *write.Point {
	return influxdb2.NewPoint(
		"candles",
		map[string]string{
			"symbol":   symbol,
			"interval": interval,
		},
		map[string]interface{}{
			"open":   c.Open.InexactFloat64(),
			"high":   c.High.InexactFloat64(),
			"low":    c.Low.InexactFloat64(),
			"close":  c.Close.InexactFloat64(),
			"volume": c.Volume.InexactFloat64(),
		},
		c.OpenTime,
	)
}

func signalPoint(s models.Signal) *write.Point {
	fields := map[string]interface{}{
		"id":       s.ID,
		"type":     string(s.Type),
		"strength": s.Strength,
	}
	for name, v := range s.Params {
		fields["param_"+name] = v.String()
	}
	return influxdb2.NewPoint(
		"signals",
		map[string]string{
			"symbol":   s.Symbol,
			"strategy": s.StrategyID,
		},
		fields,
		s.Timestamp,
	)
}

func signalHistoryQuery(bucket, symbol string, limit int) string {
	return fmt.Sprintf(`
		from(bucket: %q)
			|> range(start: -30d)
			|> filter(fn: (r) => r._measurement == "signals")
			|> filter(fn: (r) => r.symbol == %q)
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
			|> group()
			|> sort(columns: ["_time"], desc: true)
			|> limit(n: %d)
	`, bucket, symbol, limit)
}
