package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/skalibog/tradetracker/internal/config"
	"github.com/skalibog/tradetracker/internal/events"
	"github.com/skalibog/tradetracker/internal/exchange/exchangetest"
	"github.com/skalibog/tradetracker/internal/ingest"
	"github.com/skalibog/tradetracker/internal/portfolio"
	"github.com/skalibog/tradetracker/internal/strategy"
	"github.com/skalibog/tradetracker/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func createTestCandle(hour int, closePrice decimal.Decimal, closed bool) models.Candle {
	return models.Candle{
		OpenTime:  base.Add(time.Duration(hour) * time.Hour),
		CloseTime: base.Add(time.Duration(hour+1)*time.Hour - time.Millisecond),
		Open:      closePrice,
		High:      closePrice,
		Low:       closePrice,
		Close:     closePrice,
		Volume:    decimal.NewFromInt(1),
		Closed:    closed,
	}
}

// risingSeries n закрытых свечей, каждая на 1% выше предыдущей
func risingSeries(n int) []models.Candle {
	out := make([]models.Candle, n)
	price := decimal.NewFromInt(100)
	step := decimal.RequireFromString("1.01")
	for i := range out {
		out[i] = createTestCandle(i, price, true)
		price = price.Mul(step)
	}
	return out
}

func newTestTracker(t *testing.T, withCredentials bool) (*Tracker, *exchangetest.Gateway) {
	t.Helper()

	cfg := config.Default()
	cfg.Binance = config.BinanceConfig{}
	if withCredentials {
		cfg.Binance = config.BinanceConfig{APIKey: "key", APISecret: "secret"}
	}
	cfg.Data.Directory = t.TempDir()
	cfg.Tracker.Interval = "1h"

	registry, err := strategy.NewDefaultRegistry(cfg.Strategies)
	require.NoError(t, err)

	gw := exchangetest.New()
	tr := New(Options{Config: cfg, Gateway: gw, Registry: registry, Events: events.NewBus()})
	t.Cleanup(tr.Stop)
	return tr, gw
}

func TestAssignMomentumProducesLongSignal(t *testing.T) {
	tr, gw := newTestTracker(t, false)
	gw.SetCandles("BTCUSDT", risingSeries(5))
	ctx := context.Background()

	require.True(t, tr.Assign(ctx, "BTCUSDT", "momentum"))
	require.False(t, tr.Assign(ctx, "BTCUSDT", "momentum"))

	signals := tr.SignalsFor("BTCUSDT")
	require.Len(t, signals, 1)
	assert.Equal(t, models.SignalLong, signals[0].Type)
	assert.Greater(t, signals[0].Strength, 0.0)
	assert.Equal(t, []string{ingest.CandleKey("BTCUSDT", "1h")}, tr.Ingestor().Keys())
}

func TestUnassignRemovesOnlyThatPair(t *testing.T) {
	tr, gw := newTestTracker(t, false)
	gw.SetCandles("BTCUSDT", risingSeries(30))
	ctx := context.Background()

	require.True(t, tr.Assign(ctx, "BTCUSDT", "momentum"))
	require.True(t, tr.Assign(ctx, "BTCUSDT", "stick"))
	require.Len(t, tr.SignalsFor("BTCUSDT"), 2)

	require.True(t, tr.Unassign(ctx, "BTCUSDT", "momentum"))
	signals := tr.SignalsFor("BTCUSDT")
	require.Len(t, signals, 1)
	assert.Equal(t, "stick", signals[0].StrategyID)
	assert.NotEmpty(t, tr.Ingestor().Keys())

	require.True(t, tr.Unassign(ctx, "BTCUSDT", "stick"))
	assert.Empty(t, tr.SignalsFor("BTCUSDT"))
	assert.Empty(t, tr.Ingestor().Keys())
}

func TestClosedCandleTriggersRecompute(t *testing.T) {
	tr, gw := newTestTracker(t, false)
	gw.SetCandles("BTCUSDT", risingSeries(5))
	ctx := context.Background()

	require.True(t, tr.Assign(ctx, "BTCUSDT LONG 10x", "momentum"))
	key := ingest.CandleKey("BTCUSDT", "1h")
	require.Eventually(t, func() bool {
		return tr.Ingestor().State(key) == ingest.Streaming
	}, time.Second, time.Millisecond)

	next := createTestCandle(5, decimal.NewFromInt(90), true)
	require.True(t, gw.EmitCandle(models.CandleUpdate{Symbol: "BTCUSDT", Interval: "1h", Candle: next, IsClosed: true}))

	signals := tr.SignalsFor("BTCUSDT LONG 10x")
	require.Len(t, signals, 1)
	assert.Equal(t, next.OpenTime, signals[0].Timestamp)
	assert.Equal(t, models.SignalShort, signals[0].Type)
}

func TestWatchlistDrivesTickerSubscription(t *testing.T) {
	tr, gw := newTestTracker(t, false)
	gw.Prices["ETHUSDT"] = decimal.NewFromInt(3000)
	ctx := context.Background()

	require.True(t, tr.CreateWatchlist("alpha"))
	require.True(t, tr.AddToWatchlist(ctx, "alpha", "ETHUSDT"))
	require.True(t, tr.SetActiveWatchlist("alpha"))

	require.Eventually(t, func() bool {
		return tr.Ingestor().State(ingest.TickerKey) == ingest.Streaming
	}, time.Second, time.Millisecond)
	assert.Equal(t, []string{"ETHUSDT"}, gw.TickSymbols())
	require.True(t, gw.EmitTick(models.Tick{Symbol: "ETHUSDT", Price: decimal.NewFromInt(3100), Timestamp: base}))

	asset, ok := tr.Manager().Portfolio().Asset("ETHUSDT")
	require.True(t, ok)
	require.NotNil(t, asset.Price)
	assert.True(t, asset.Price.Price.Equal(decimal.NewFromInt(3100)))

	require.True(t, tr.DeleteWatchlist(ctx, "alpha"))
	assert.Equal(t, portfolio.DefaultWatchlist, tr.Manager().Portfolio().ActiveWatchlist())
	assert.NotContains(t, tr.Manager().Portfolio().Watchlists(), "alpha")
	assert.NotContains(t, tr.Ingestor().Keys(), ingest.TickerKey)
}

func TestRefreshRestartsIdleStreams(t *testing.T) {
	tr, gw := newTestTracker(t, false)
	ctx := context.Background()

	gw.SetSubscribeErr(errors.New("handshake failed"))
	require.True(t, tr.AddToWatchlist(ctx, "", "ETHUSDT"))
	require.Eventually(t, func() bool {
		return gw.Calls("SubscribeTicks") == 1 && tr.Ingestor().State(ingest.TickerKey) == ingest.Idle
	}, time.Second, time.Millisecond)

	gw.SetCandlesErr(errors.New("timeout"))
	require.True(t, tr.Assign(ctx, "BTCUSDT", "momentum"))
	candleKey := ingest.CandleKey("BTCUSDT", "1h")
	assert.NotContains(t, tr.Ingestor().Keys(), candleKey)

	gw.SetSubscribeErr(nil)
	gw.SetCandlesErr(nil)
	gw.SetCandles("BTCUSDT", risingSeries(5))

	require.NoError(t, tr.RefreshNow(ctx))

	require.Eventually(t, func() bool {
		return tr.Ingestor().State(ingest.TickerKey) == ingest.Streaming &&
			tr.Ingestor().State(candleKey) == ingest.Streaming
	}, time.Second, time.Millisecond)
	assert.Equal(t, 2, gw.Calls("SubscribeTicks"))
	assert.Equal(t, []string{"ETHUSDT"}, gw.TickSymbols())
}

func TestStartWithCredentials(t *testing.T) {
	tr, gw := newTestTracker(t, true)
	gw.Balances = []models.Balance{{Asset: "BTC", Free: decimal.RequireFromString("1.5")}}
	gw.Positions = []models.Position{
		{Symbol: "SOLUSDT", PositionAmt: decimal.NewFromInt(-3), MarkPrice: decimal.NewFromInt(150), Leverage: decimal.NewFromInt(5)},
	}

	require.NoError(t, tr.Start(context.Background()))

	asset, ok := tr.Manager().Portfolio().Asset("BTCUSDT")
	require.True(t, ok)
	assert.True(t, asset.Balance.Equal(decimal.RequireFromString("1.5")))

	futures, ok := tr.Manager().Portfolio().Watchlist(portfolio.FuturesWatchlist)
	require.True(t, ok)
	assert.Equal(t, []string{"SOLUSDT"}, futures.Symbols)
	require.Eventually(t, func() bool {
		return tr.Ingestor().State(ingest.TickerKey) == ingest.Streaming
	}, time.Second, time.Millisecond)
	assert.Contains(t, gw.TickSymbols(), "SOLUSDT")

	gw.SetPositions(nil)
	require.NoError(t, tr.RefreshNow(context.Background()))

	futures, _ = tr.Manager().Portfolio().Watchlist(portfolio.FuturesWatchlist)
	assert.Empty(t, futures.Symbols)
}

func TestStartBackfillsAssignedSymbols(t *testing.T) {
	cfgDir := t.TempDir()
	cfg := config.Default()
	cfg.Binance = config.BinanceConfig{}
	cfg.Data.Directory = cfgDir
	registry, err := strategy.NewDefaultRegistry(cfg.Strategies)
	require.NoError(t, err)

	// первый запуск сохраняет назначения
	first := New(Options{Config: cfg, Gateway: exchangetest.New(), Registry: registry})
	require.True(t, first.Assign(context.Background(), "ETHUSDT", "momentum"))
	first.Stop()

	gw := exchangetest.New()
	gw.SetCandles("ETHUSDT", risingSeries(5))
	tr := New(Options{Config: cfg, Gateway: gw, Registry: registry})
	t.Cleanup(tr.Stop)

	require.NoError(t, tr.Start(context.Background()))

	assert.Equal(t, 5, tr.Candles().Len("ETHUSDT", cfg.Tracker.Interval))
	require.Len(t, tr.SignalsFor("ETHUSDT"), 1)
	assert.Equal(t, models.SignalLong, tr.SignalsFor("ETHUSDT")[0].Type)
	assert.Equal(t, 0, gw.Calls("GetAccountBalances"))
}
