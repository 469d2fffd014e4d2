package signals

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/skalibog/tradetracker/internal/candles"
	"github.com/skalibog/tradetracker/internal/events"
	"github.com/skalibog/tradetracker/internal/exchange"
	"github.com/skalibog/tradetracker/internal/storage"
	"github.com/skalibog/tradetracker/internal/strategy"
	"github.com/skalibog/tradetracker/internal/symbol"
	"github.com/skalibog/tradetracker/pkg/logger"
	"github.com/skalibog/tradetracker/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Assignments источник назначений стратегий
type Assignments interface {
	StrategiesFor(symbol string) []string
	Symbols() []string
	Has(symbol, strategyID string) bool
}

// Evaluator пересчитывает сигналы назначенных стратегий по окну из хранилища свечей
type Evaluator struct {
	cache       *Cache
	store       *candles.Store
	registry    *strategy.Registry
	assignments Assignments
	gateway     exchange.Gateway
	events      events.Publisher
	recorder    storage.Recorder

	interval      string
	backfillLimit int

	group singleflight.Group

	// publishMu: проверка назначения и запись в кэш атомарны относительно OnUnassigned
	publishMu sync.Mutex
}

// Options зависимости Evaluator. Gateway может быть nil: тогда догрузки свечей нет.
type Options struct {
	Cache         *Cache
	Store         *candles.Store
	Registry      *strategy.Registry
	Assignments   Assignments
	Gateway       exchange.Gateway
	Events        events.Publisher
	Recorder      storage.Recorder
	Interval      string
	BackfillLimit int
}

// NewEvaluator создает новый вычислитель сигналов
func NewEvaluator(opts Options) *Evaluator {
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	if opts.Recorder == nil {
		opts.Recorder = storage.NopRecorder{}
	}
	if opts.Interval == "" {
		opts.Interval = "1h"
	}
	if opts.BackfillLimit <= 0 {
		opts.BackfillLimit = 100
	}
	return &Evaluator{
		cache:         opts.Cache,
		store:         opts.Store,
		registry:      opts.Registry,
		assignments:   opts.Assignments,
		gateway:       opts.Gateway,
		events:        opts.Events,
		recorder:      opts.Recorder,
		interval:      opts.Interval,
		backfillLimit: opts.BackfillLimit,
	}
}

// SetAssignments задает источник назначений после создания
func (e *Evaluator) SetAssignments(a Assignments) {
	e.assignments = a
}

// Cache кэш сигналов
func (e *Evaluator) Cache() *Cache {
	return e.cache
}

// Evaluate оценивает одну стратегию для символа и кладет сигнал в кэш.
// При ошибке прежний сигнал остается в кэше.
func (e *Evaluator) Evaluate(ctx context.Context, display, strategyID string) (models.Signal, error) {
	s, ok := e.registry.Get(strategyID)
	if !ok {
		return models.Signal{}, fmt.Errorf("неизвестная стратегия %s", strategyID)
	}

	clean := symbol.Normalize(display)
	window, err := e.window(ctx, clean, s.Lookback())
	if err != nil {
		return models.Signal{}, err
	}
	return e.evaluate(ctx, s, display, window)
}

// InvalidateAndRecompute пересчитывает все стратегии, назначенные символу.
// Одновременные вызовы для одного символа объединяются.
func (e *Evaluator) InvalidateAndRecompute(ctx context.Context, display string) error {
	_, err, _ := e.group.Do(display, func() (any, error) {
		return nil, e.recompute(ctx, display)
	})
	return err
}

func (e *Evaluator) recompute(ctx context.Context, display string) error {
	ids := e.assignments.StrategiesFor(display)
	if len(ids) == 0 {
		return nil
	}

	var strategies []strategy.Strategy
	need := 0
	for _, id := range ids {
		s, ok := e.registry.Get(id)
		if !ok {
			logger.Warn("Назначена незарегистрированная стратегия", zap.String("symbol", display), zap.String("strategy", id))
			continue
		}
		strategies = append(strategies, s)
		if lb := s.Lookback(); lb > need {
			need = lb
		}
	}

	clean := symbol.Normalize(display)
	window, err := e.window(ctx, clean, need)
	if err != nil {
		return err
	}

	var errs []error
	for _, s := range strategies {
		if _, err := e.evaluate(ctx, s, display, window); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecomputeClean пересчитывает все отображаемые символы, соответствующие биржевому символу
func (e *Evaluator) RecomputeClean(ctx context.Context, clean string) error {
	var errs []error
	for _, display := range e.assignments.Symbols() {
		if symbol.Normalize(display) != clean {
			continue
		}
		if err := e.InvalidateAndRecompute(ctx, display); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RefreshAll пересчитывает все символы с назначениями. Ошибка одного символа не останавливает остальные.
func (e *Evaluator) RefreshAll(ctx context.Context) error {
	var errs []error
	for _, display := range e.assignments.Symbols() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.InvalidateAndRecompute(ctx, display); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OnAssigned сразу оценивает новую пару
func (e *Evaluator) OnAssigned(ctx context.Context, display, strategyID string) {
	if _, err := e.Evaluate(ctx, display, strategyID); err != nil {
		logger.Debug("Оценка после назначения не выполнена",
			zap.String("symbol", display), zap.String("strategy", strategyID), zap.Error(err))
	}
}

// OnUnassigned удаляет сигнал пары из кэша
func (e *Evaluator) OnUnassigned(_ context.Context, display, strategyID string) {
	e.publishMu.Lock()
	removed := e.cache.Delete(display, strategyID)
	e.publishMu.Unlock()

	if removed {
		e.events.Publish(events.SignalRemoved{Key: models.SignalKey{Symbol: display, StrategyID: strategyID}})
	}
}

func (e *Evaluator) evaluate(ctx context.Context, s strategy.Strategy, display string, window []models.Candle) (models.Signal, error) {
	sig, err := s.Evaluate(display, window)
	if err != nil {
		if errors.Is(err, strategy.ErrInsufficientData) {
			logger.Debug("Оценка пропущена", zap.String("symbol", display), zap.Error(err))
		} else {
			logger.Warn("Ошибка оценки стратегии", zap.String("symbol", display), zap.String("strategy", s.ID), zap.Error(err))
		}
		return models.Signal{}, err
	}

	e.publishMu.Lock()
	assigned := e.assignments.Has(display, s.ID)
	if assigned {
		e.cache.Put(sig)
	}
	e.publishMu.Unlock()

	if !assigned {
		logger.Debug("Назначение снято во время пересчета, сигнал не сохранен",
			zap.String("symbol", display), zap.String("strategy", s.ID))
		return sig, nil
	}

	e.events.Publish(events.SignalGenerated{Signal: sig})
	if err := e.recorder.SaveSignal(ctx, sig); err != nil {
		logger.Warn("Ошибка сохранения сигнала в историю", zap.String("symbol", display), zap.Error(err))
	}
	return sig, nil
}

// window последние need свечей; при нехватке догружает историю через шлюз
func (e *Evaluator) window(ctx context.Context, clean string, need int) ([]models.Candle, error) {
	if e.store.Len(clean, e.interval) < need && e.gateway != nil {
		if err := symbol.Validate(clean); err != nil {
			return nil, err
		}
		limit := e.backfillLimit
		if limit < need {
			limit = need
		}

		batch, err := e.gateway.GetCandles(ctx, clean, e.interval, limit)
		if err != nil {
			e.events.Publish(events.ConnectionStatus{Key: clean, Connected: false, Err: err})
			logger.Warn("Ошибка загрузки свечей для пересчета", zap.String("symbol", clean), zap.Error(err))
			return nil, err
		}
		e.store.MergeAll(clean, e.interval, batch)
	}
	return e.store.Window(clean, e.interval, need), nil
}
