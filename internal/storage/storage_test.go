package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/skalibog/tradetracker/internal/config"
	"github.com/skalibog/tradetracker/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNop(t *testing.T) {
	r, err := New(context.Background(), config.StorageConfig{Type: "none"})
	require.NoError(t, err)
	assert.IsType(t, NopRecorder{}, r)

	assert.NoError(t, r.SaveSignal(context.Background(), models.Signal{}))
	history, err := r.GetSignalHistory(context.Background(), "BTCUSDT", 10)
	assert.NoError(t, err)
	assert.Empty(t, history)

	_, err = New(context.Background(), config.StorageConfig{Type: "redis"})
	assert.Error(t, err)
}

func TestSignalPoint(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := signalPoint(models.Signal{
		ID:         "id-1",
		Symbol:     "BTCUSDT",
		StrategyID: "momentum",
		Type:       models.SignalLong,
		Strength:   0.7,
		Timestamp:  ts,
		Params:     map[string]models.ParamValue{"momentum": models.FloatParam(0.5)},
	})

	assert.Equal(t, "signals", p.Name())
	assert.Equal(t, ts, p.Time())

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, map[string]string{"symbol": "BTCUSDT", "strategy": "momentum"}, tags)

	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, "LONG", fields["type"])
	assert.Equal(t, "0.5", fields["param_momentum"])
}

func TestCandlePoint(t *testing.T) {
	p := candlePoint("ETHUSDT", "1h", models.Candle{
		OpenTime: time.Unix(0, 0),
		Close:    decimal.RequireFromString("2500.5"),
	})
	assert.Equal(t, "candles", p.Name())

	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, 2500.5, fields["close"])
}

func TestSignalHistoryQuery(t *testing.T) {
	q := signalHistoryQuery("tracker", "BTCUSDT", 20)
	assert.Contains(t, q, `from(bucket: "tracker")`)
	assert.Contains(t, q, `r.symbol == "BTCUSDT"`)
	assert.Contains(t, q, "limit(n: 20)")
}
