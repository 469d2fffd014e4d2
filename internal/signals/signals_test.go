package signals

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/skalibog/tradetracker/internal/assignment"
	"github.com/skalibog/tradetracker/internal/candles"
	"github.com/skalibog/tradetracker/internal/events"
	"github.com/skalibog/tradetracker/internal/exchange/exchangetest"
	"github.com/skalibog/tradetracker/internal/strategy"
	"github.com/skalibog/tradetracker/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// createTestCandles n закрытых свечей, каждое закрытие на step больше предыдущего
func createTestCandles(n int, start, step float64) []models.Candle {
	out := make([]models.Candle, n)
	price := start
	for i := range out {
		next := price * (1 + step)
		out[i] = models.Candle{
			OpenTime:  base.Add(time.Duration(i) * time.Hour),
			CloseTime: base.Add(time.Duration(i+1)*time.Hour - time.Millisecond),
			Open:      decimal.NewFromFloat(price),
			High:      decimal.NewFromFloat(next),
			Low:       decimal.NewFromFloat(price),
			Close:     decimal.NewFromFloat(next),
			Volume:    decimal.NewFromInt(1),
			Closed:    true,
		}
		price = next
	}
	return out
}

type fixture struct {
	store       *candles.Store
	cache       *Cache
	assignments *assignment.Store
	evaluator   *Evaluator
	gateway     *exchangetest.Gateway
	bus         *events.Bus
}

func newFixture(t *testing.T, withGateway bool) *fixture {
	t.Helper()

	registry := strategy.NewRegistry()
	require.NoError(t, registry.Register(strategy.Strategy{
		ID: "momentum", Name: "Momentum",
		Params: strategy.MomentumParams{Period: 4, Threshold: 0.5},
	}))
	require.NoError(t, registry.Register(strategy.Strategy{
		ID: "stick", Name: "Stick",
		Params: strategy.StickParams{StickCount: 3},
	}))

	f := &fixture{
		store: candles.NewStore(100, registry.MaxLookback()),
		cache: NewCache(),
		bus:   events.NewBus(),
	}
	f.assignments = assignment.NewStore("", registry)

	opts := Options{
		Cache:       f.cache,
		Store:       f.store,
		Registry:    registry,
		Assignments: f.assignments,
		Events:      f.bus,
		Interval:    "1h",
	}
	if withGateway {
		f.gateway = exchangetest.New()
		opts.Gateway = f.gateway
	}
	f.evaluator = NewEvaluator(opts)
	f.assignments.SetListener(f.evaluator)
	return f
}

func TestCachePutOverwrites(t *testing.T) {
	c := NewCache()
	c.Put(models.Signal{ID: "1", Symbol: "BTCUSDT", StrategyID: "momentum", Type: models.SignalLong})
	c.Put(models.Signal{ID: "2", Symbol: "BTCUSDT", StrategyID: "momentum", Type: models.SignalShort})
	c.Put(models.Signal{ID: "3", Symbol: "BTCUSDT", StrategyID: "stick"})
	c.Put(models.Signal{ID: "4", Symbol: "ETHUSDT", StrategyID: "stick"})

	s, ok := c.Get("BTCUSDT", "momentum")
	require.True(t, ok)
	assert.Equal(t, "2", s.ID)
	assert.Equal(t, 3, c.Len())
	assert.Len(t, c.ForSymbol("BTCUSDT"), 2)
	assert.Equal(t, "momentum", c.ForSymbol("BTCUSDT")[0].StrategyID)

	assert.True(t, c.Delete("BTCUSDT", "momentum"))
	assert.False(t, c.Delete("BTCUSDT", "momentum"))
	_, ok = c.Get("BTCUSDT", "momentum")
	assert.False(t, ok)
	assert.Len(t, c.All(), 2)
}

func TestMomentumScenario(t *testing.T) {
	f := newFixture(t, false)
	f.store.MergeAll("BTCUSDT", "1h", createTestCandles(5, 100, 0.01))

	require.True(t, f.assignments.Assign(context.Background(), "BTCUSDT", "momentum"))

	sig, ok := f.cache.Get("BTCUSDT", "momentum")
	require.True(t, ok, "назначение запускает немедленную оценку")
	assert.Equal(t, models.SignalLong, sig.Type)
	assert.Greater(t, sig.Strength, 0.0)
}

func TestUnassignRemovesOnlyThatPair(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.store.MergeAll("BTCUSDT", "1h", createTestCandles(5, 100, 0.01))

	sub, cancel := f.bus.Subscribe(16)
	defer cancel()

	f.assignments.Assign(ctx, "BTCUSDT", "momentum")
	f.assignments.Assign(ctx, "BTCUSDT", "stick")
	require.Equal(t, 2, f.cache.Len())

	f.assignments.Unassign(ctx, "BTCUSDT", "momentum")

	_, ok := f.cache.Get("BTCUSDT", "momentum")
	assert.False(t, ok)
	_, ok = f.cache.Get("BTCUSDT", "stick")
	assert.True(t, ok)

	var removed []models.SignalKey
	for len(sub) > 0 {
		if e, ok := (<-sub).(events.SignalRemoved); ok {
			removed = append(removed, e.Key)
		}
	}
	assert.Equal(t, []models.SignalKey{{Symbol: "BTCUSDT", StrategyID: "momentum"}}, removed)
}

func TestRecomputeFailureKeepsPrior(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.gateway.SetCandles("BTCUSDT", createTestCandles(5, 100, 0.01))

	f.assignments.Assign(ctx, "BTCUSDT", "momentum")
	prior, ok := f.cache.Get("BTCUSDT", "momentum")
	require.True(t, ok)

	// ряд очищен, шлюз недоступен
	f.store.Drop("BTCUSDT", "1h")
	f.gateway.SetCandlesErr(errors.New("connection reset"))

	err := f.evaluator.InvalidateAndRecompute(ctx, "BTCUSDT")
	require.Error(t, err)

	after, ok := f.cache.Get("BTCUSDT", "momentum")
	require.True(t, ok)
	assert.Equal(t, prior.ID, after.ID)
}

func TestUnassignDuringRecomputeStaysRemoved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.gateway.SetCandles("BTCUSDT", createTestCandles(5, 100, 0.01))

	require.True(t, f.assignments.Assign(ctx, "BTCUSDT", "momentum"))
	_, ok := f.cache.Get("BTCUSDT", "momentum")
	require.True(t, ok)

	// пересчет пойдет за свечами в шлюз, и в этот момент назначение снимается
	f.store.Drop("BTCUSDT", "1h")
	f.gateway.SetBeforeCandles(func(string) {
		f.assignments.Unassign(ctx, "BTCUSDT", "momentum")
	})

	require.NoError(t, f.evaluator.RefreshAll(ctx))

	assert.False(t, f.assignments.Has("BTCUSDT", "momentum"))
	_, ok = f.cache.Get("BTCUSDT", "momentum")
	assert.False(t, ok)
	assert.Equal(t, 0, f.cache.Len())
}

func TestInsufficientDataKeepsPrior(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	prior := models.Signal{ID: "old", Symbol: "ETHUSDT", StrategyID: "momentum", Type: models.SignalShort}
	f.cache.Put(prior)
	f.assignments.Assign(ctx, "ETHUSDT", "momentum")
	f.store.MergeAll("ETHUSDT", "1h", createTestCandles(2, 100, 0.01))

	err := f.evaluator.InvalidateAndRecompute(ctx, "ETHUSDT")
	assert.ErrorIs(t, err, strategy.ErrInsufficientData)

	got, _ := f.cache.Get("ETHUSDT", "momentum")
	assert.Equal(t, "old", got.ID)
}

func TestBackfillFromGateway(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.gateway.SetCandles("SOLUSDT", createTestCandles(10, 20, -0.02))

	sig, err := f.evaluator.Evaluate(ctx, "SOLUSDT SHORT 5x", "momentum")
	require.NoError(t, err)

	assert.Equal(t, models.SignalShort, sig.Type)
	assert.Equal(t, "SOLUSDT SHORT 5x", sig.Symbol)
	assert.Equal(t, 1, f.gateway.Calls("GetCandles"))
	assert.Equal(t, 10, f.store.Len("SOLUSDT", "1h"))

	// данных хватает, повторной загрузки нет
	_, err = f.evaluator.Evaluate(ctx, "SOLUSDT SHORT 5x", "momentum")
	require.NoError(t, err)
	assert.Equal(t, 1, f.gateway.Calls("GetCandles"))
}

func TestRecomputeCleanAndRefreshAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.store.MergeAll("BTCUSDT", "1h", createTestCandles(5, 100, 0.01))
	f.store.MergeAll("ETHUSDT", "1h", createTestCandles(5, 100, -0.01))

	f.assignments.Assign(ctx, "BTCUSDT", "momentum")
	f.assignments.Assign(ctx, "BTCUSDT LONG 10x", "momentum")
	f.assignments.Assign(ctx, "ETHUSDT", "momentum")

	before, _ := f.cache.Get("BTCUSDT LONG 10x", "momentum")
	require.NoError(t, f.evaluator.RecomputeClean(ctx, "BTCUSDT"))
	after, _ := f.cache.Get("BTCUSDT LONG 10x", "momentum")
	assert.NotEqual(t, before.ID, after.ID)
	assert.Equal(t, before.Type, after.Type)

	eth, _ := f.cache.Get("ETHUSDT", "momentum")
	require.NoError(t, f.evaluator.RefreshAll(ctx))
	ethAfter, _ := f.cache.Get("ETHUSDT", "momentum")
	assert.NotEqual(t, eth.ID, ethAfter.ID)
	assert.Equal(t, models.SignalShort, ethAfter.Type)
}
