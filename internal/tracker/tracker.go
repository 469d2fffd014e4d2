// Package tracker связывает потоки, хранилища, стратегии и фоновое обновление.
package tracker

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/skalibog/tradetracker/internal/assignment"
	"github.com/skalibog/tradetracker/internal/candles"
	"github.com/skalibog/tradetracker/internal/config"
	"github.com/skalibog/tradetracker/internal/events"
	"github.com/skalibog/tradetracker/internal/exchange"
	"github.com/skalibog/tradetracker/internal/ingest"
	"github.com/skalibog/tradetracker/internal/portfolio"
	"github.com/skalibog/tradetracker/internal/scheduler"
	"github.com/skalibog/tradetracker/internal/signals"
	"github.com/skalibog/tradetracker/internal/storage"
	"github.com/skalibog/tradetracker/internal/strategy"
	"github.com/skalibog/tradetracker/internal/symbol"
	"github.com/skalibog/tradetracker/pkg/logger"
	"github.com/skalibog/tradetracker/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// параллельных догрузок истории при старте
const backfillWorkers = 4

// Options зависимости Tracker
type Options struct {
	Config   *config.Config
	Gateway  exchange.Gateway
	Registry *strategy.Registry
	Recorder storage.Recorder
	Events   events.Publisher
}

// Tracker координатор: владеет хранилищами и подписками
type Tracker struct {
	cfg            *config.Config
	gateway        exchange.Gateway
	registry       *strategy.Registry
	recorder       storage.Recorder
	events         events.Publisher
	hasCredentials bool

	store       *candles.Store
	assignments *assignment.Store
	evaluator   *signals.Evaluator
	manager     *portfolio.Manager
	ingestor    *ingest.Ingestor
	scheduler   *scheduler.Scheduler

	ctx    context.Context
	cancel context.CancelFunc

	resyncMu sync.Mutex
}

// New создает трекер и загружает сохраненное состояние
func New(opts Options) *Tracker {
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	if opts.Recorder == nil {
		opts.Recorder = storage.NopRecorder{}
	}
	cfg := opts.Config
	tc := cfg.Tracker

	t := &Tracker{
		cfg:            cfg,
		gateway:        opts.Gateway,
		registry:       opts.Registry,
		recorder:       opts.Recorder,
		events:         opts.Events,
		hasCredentials: cfg.Binance.HasCredentials(),
		store:          candles.NewStore(tc.MaxCandles, opts.Registry.MaxLookback()),
		scheduler:      scheduler.New(tc.RefreshInterval()),
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())

	t.assignments = assignment.NewStore(filepath.Join(cfg.Data.Directory, assignment.FileName), opts.Registry)
	t.evaluator = signals.NewEvaluator(signals.Options{
		Cache:         signals.NewCache(),
		Store:         t.store,
		Registry:      opts.Registry,
		Assignments:   t.assignments,
		Gateway:       opts.Gateway,
		Events:        opts.Events,
		Recorder:      opts.Recorder,
		Interval:      tc.Interval,
		BackfillLimit: tc.BackfillLimit,
	})
	t.assignments.SetListener(t)

	t.manager = portfolio.NewManager(portfolio.ManagerOptions{
		DataDir:    cfg.Data.Directory,
		Gateway:    opts.Gateway,
		Events:     opts.Events,
		Strategies: t.assignments,
	})

	t.ingestor = ingest.New(ingest.Options{
		Gateway:         opts.Gateway,
		Store:           t.store,
		Sink:            t,
		Events:          opts.Events,
		BackfillLimit:   tc.BackfillLimit,
		AutoResubscribe: tc.AutoResubscribe,
		MinBackoff:      time.Duration(tc.ResubscribeMinMs) * time.Millisecond,
		MaxBackoff:      time.Duration(tc.ResubscribeMaxMs) * time.Millisecond,
	})

	t.scheduler.Add(scheduler.Job{Name: "signals", Run: t.evaluator.RefreshAll})
	if t.hasCredentials {
		t.scheduler.Add(scheduler.Job{Name: "futures_positions", Run: t.manager.RefreshFuturesPositions})
	}
	// поднимает упавшие подписки и подхватывает новые позиции
	t.scheduler.Add(scheduler.Job{Name: "streams", Run: t.ResyncStreams})
	return t
}

// Start синхронизирует состояние с биржей, поднимает подписки и запускает планировщик
func (t *Tracker) Start(ctx context.Context) error {
	logger.Info("Запуск трекера",
		zap.String("interval", t.cfg.Tracker.Interval),
		zap.Bool("credentials", t.hasCredentials),
		zap.Strings("assigned", t.assignments.Symbols()))

	if t.hasCredentials {
		if err := t.manager.SyncBalances(ctx); err != nil {
			logger.Warn("Синхронизация балансов не выполнена", zap.Error(err))
		}
		if err := t.manager.RefreshFuturesPositions(ctx); err != nil {
			logger.Warn("Обновление фьючерсных позиций не выполнено", zap.Error(err))
		}
	}
	if err := t.manager.RefreshPrices(ctx); err != nil {
		logger.Warn("Обновление цен не выполнено", zap.Error(err))
	}

	t.backfillAssigned(ctx)

	if err := t.ResyncStreams(ctx); err != nil {
		logger.Warn("Часть подписок не поднята", zap.Error(err))
	}
	if err := t.evaluator.RefreshAll(ctx); err != nil {
		logger.Warn("Первичный расчет сигналов завершился с ошибками", zap.Error(err))
	}

	t.scheduler.Start(t.ctx)
	return nil
}

// backfillAssigned параллельно поднимает потоки свечей назначенных символов;
// подписка синхронно загружает историю
func (t *Tracker) backfillAssigned(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(backfillWorkers)

	for _, clean := range t.assignedClean() {
		clean := clean
		g.Go(func() error {
			if err := t.ingestor.Subscribe(gctx, ingest.CandleSpec(clean, t.cfg.Tracker.Interval)); err != nil {
				logger.Warn("Ошибка загрузки истории", zap.String("symbol", clean), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Stop останавливает планировщик и подписки, сохраняет портфель
func (t *Tracker) Stop() {
	t.scheduler.Stop()
	t.ingestor.Close()
	t.cancel()
	_ = t.manager.Save()
	t.recorder.Close()
	logger.Info("Трекер остановлен")
}

// ResyncStreams приводит подписки к текущим спискам и назначениям.
// Подписки в состоянии Idle (поток оборвался, история не загрузилась) запускаются заново.
func (t *Tracker) ResyncStreams(ctx context.Context) error {
	t.resyncMu.Lock()
	defer t.resyncMu.Unlock()

	var errs []error

	wanted := t.manager.Portfolio().AllSymbols()
	current, subscribed := t.ingestor.Spec(ingest.TickerKey)
	switch {
	case len(wanted) == 0 && subscribed:
		t.ingestor.Unsubscribe(ingest.TickerKey)
	case len(wanted) > 0 && (!subscribed || !slices.Equal(current.Symbols, wanted) ||
		t.ingestor.State(ingest.TickerKey) == ingest.Idle):
		if err := t.ingestor.Subscribe(ctx, ingest.TickerSpec(wanted)); err != nil {
			errs = append(errs, err)
		}
	}

	interval := t.cfg.Tracker.Interval
	assigned := t.assignedClean()
	for _, key := range t.ingestor.Keys() {
		if key == ingest.TickerKey {
			continue
		}
		spec, ok := t.ingestor.Spec(key)
		if ok && !slices.Contains(assigned, spec.Symbol) {
			t.ingestor.Unsubscribe(key)
		}
	}
	for _, clean := range assigned {
		key := ingest.CandleKey(clean, interval)
		if t.ingestor.State(key) != ingest.Idle {
			continue
		}
		if err := t.ingestor.Subscribe(ctx, ingest.CandleSpec(clean, interval)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// assignedClean биржевые символы с назначениями, без повторов
func (t *Tracker) assignedClean() []string {
	var out []string
	for _, display := range t.assignments.Symbols() {
		clean := symbol.Normalize(display)
		if symbol.Valid(clean) && !slices.Contains(out, clean) {
			out = append(out, clean)
		}
	}
	return out
}

// OnCandle обрабатывает свечу после слияния в хранилище
func (t *Tracker) OnCandle(ctx context.Context, u models.CandleUpdate) {
	t.events.Publish(events.CandleUpdated{Symbol: u.Symbol, Interval: u.Interval, Candle: u.Candle})
	if !u.IsClosed {
		return
	}

	if err := t.recorder.SaveCandles(ctx, u.Symbol, u.Interval, []models.Candle{u.Candle}); err != nil {
		logger.Warn("Ошибка сохранения свечи в историю", zap.String("symbol", u.Symbol), zap.Error(err))
	}
	if err := t.evaluator.RecomputeClean(ctx, u.Symbol); err != nil {
		logger.Debug("Пересчет сигналов по закрытой свече не выполнен", zap.String("symbol", u.Symbol), zap.Error(err))
	}
}

// OnTick применяет тик к портфелю
func (t *Tracker) OnTick(_ context.Context, tick models.Tick) {
	t.manager.HandleTick(tick)
}

// OnAssigned поднимает поток свечей и сразу оценивает пару
func (t *Tracker) OnAssigned(ctx context.Context, display, strategyID string) {
	clean := symbol.Normalize(display)
	key := ingest.CandleKey(clean, t.cfg.Tracker.Interval)
	if symbol.Valid(clean) && t.ingestor.State(key) == ingest.Idle {
		if err := t.ingestor.Subscribe(ctx, ingest.CandleSpec(clean, t.cfg.Tracker.Interval)); err != nil {
			logger.Warn("Ошибка подписки на свечи", zap.String("symbol", clean), zap.Error(err))
		}
	}
	t.evaluator.OnAssigned(ctx, display, strategyID)
}

// OnUnassigned удаляет сигнал пары и снимает поток, если символ больше не нужен
func (t *Tracker) OnUnassigned(ctx context.Context, display, strategyID string) {
	t.evaluator.OnUnassigned(ctx, display, strategyID)

	clean := symbol.Normalize(display)
	if !slices.Contains(t.assignedClean(), clean) {
		t.ingestor.Unsubscribe(ingest.CandleKey(clean, t.cfg.Tracker.Interval))
	}
}

// Assign назначает стратегию символу
func (t *Tracker) Assign(ctx context.Context, display, strategyID string) bool {
	return t.assignments.Assign(ctx, display, strategyID)
}

// Unassign снимает стратегию с символа
func (t *Tracker) Unassign(ctx context.Context, display, strategyID string) bool {
	return t.assignments.Unassign(ctx, display, strategyID)
}

func (t *Tracker) AddToWatchlist(ctx context.Context, name, sym string) bool {
	if !t.manager.AddToWatchlist(ctx, name, sym) {
		return false
	}
	t.resync(ctx)
	return true
}

func (t *Tracker) RemoveFromWatchlist(ctx context.Context, name, sym string) bool {
	if !t.manager.RemoveFromWatchlist(name, sym) {
		return false
	}
	t.resync(ctx)
	return true
}

func (t *Tracker) CreateWatchlist(name string) bool {
	return t.manager.CreateWatchlist(name)
}

func (t *Tracker) DeleteWatchlist(ctx context.Context, name string) bool {
	if !t.manager.DeleteWatchlist(name) {
		return false
	}
	t.resync(ctx)
	return true
}

func (t *Tracker) SetActiveWatchlist(name string) bool {
	return t.manager.SetActiveWatchlist(name)
}

func (t *Tracker) ActiveWatchlist() string {
	return t.manager.Portfolio().ActiveWatchlist()
}

func (t *Tracker) Watchlists() []string {
	return t.manager.Portfolio().Watchlists()
}

// WatchlistAssets активы списка с назначенными стратегиями
func (t *Tracker) WatchlistAssets(name string) []portfolio.Asset {
	return t.manager.WatchlistAssets(name)
}

func (t *Tracker) resync(ctx context.Context) {
	if err := t.ResyncStreams(ctx); err != nil {
		logger.Warn("Ошибка пересинхронизации подписок", zap.Error(err))
	}
}

// RefreshNow выполняет задачи планировщика вне расписания
func (t *Tracker) RefreshNow(ctx context.Context) error {
	return t.scheduler.RefreshNow(ctx)
}

// TriggerRefresh просит планировщик выполнить задачи в фоне
func (t *Tracker) TriggerRefresh() {
	t.scheduler.Trigger()
}

// Signals все сигналы кэша
func (t *Tracker) Signals() []models.Signal {
	return t.evaluator.Cache().All()
}

// SignalsFor сигналы отображаемого символа
func (t *Tracker) SignalsFor(display string) []models.Signal {
	return t.evaluator.Cache().ForSymbol(display)
}

// SignalHistory история сигналов из хранилища
func (t *Tracker) SignalHistory(ctx context.Context, display string, limit int) ([]models.Signal, error) {
	return t.recorder.GetSignalHistory(ctx, display, limit)
}

func (t *Tracker) TopMovers(ctx context.Context, window, quote string, limit int) ([]portfolio.Asset, error) {
	return t.manager.TopMovers(ctx, window, quote, limit)
}

func (t *Tracker) Manager() *portfolio.Manager {
	return t.manager
}

func (t *Tracker) Assignments() *assignment.Store {
	return t.assignments
}

func (t *Tracker) Registry() *strategy.Registry {
	return t.registry
}

func (t *Tracker) Candles() *candles.Store {
	return t.store
}

func (t *Tracker) Ingestor() *ingest.Ingestor {
	return t.ingestor
}
