// Package ingest владеет потоковыми подписками: по одной задаче на ключ.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/skalibog/tradetracker/internal/candles"
	"github.com/skalibog/tradetracker/internal/events"
	"github.com/skalibog/tradetracker/internal/exchange"
	"github.com/skalibog/tradetracker/pkg/logger"
	"github.com/skalibog/tradetracker/pkg/models"
	"go.uber.org/zap"
)

// TickerKey ключ подписки на тикеры
const TickerKey = "ticker"

// CandleKey ключ подписки на свечи символа
func CandleKey(symbol, interval string) string {
	return fmt.Sprintf("%s_%s_kline", symbol, interval)
}

var errStreamClosed = errors.New("поток закрыт биржей")

// State состояние подписки
type State int

const (
	Idle State = iota
	Subscribing
	Streaming
	Cancelled
)

func (s State) String() string {
	switch s {
	case Subscribing:
		return "subscribing"
	case Streaming:
		return "streaming"
	case Cancelled:
		return "cancelled"
	default:
		return "idle"
	}
}

// Spec что именно подписывать
type Spec struct {
	Symbol   string
	Interval string
	Symbols  []string
	ticker   bool
}

// CandleSpec подписка на свечи
func CandleSpec(symbol, interval string) Spec {
	return Spec{Symbol: symbol, Interval: interval}
}

// TickerSpec подписка на тикеры набора символов
func TickerSpec(symbols []string) Spec {
	return Spec{Symbols: append([]string(nil), symbols...), ticker: true}
}

// Key ключ подписки
func (s Spec) Key() string {
	if s.ticker {
		return TickerKey
	}
	return CandleKey(s.Symbol, s.Interval)
}

// Sink получает обновления после слияния в хранилище
type Sink interface {
	OnCandle(ctx context.Context, update models.CandleUpdate)
	OnTick(ctx context.Context, tick models.Tick)
}

// Options зависимости Ingestor
type Options struct {
	Gateway         exchange.Gateway
	Store           *candles.Store
	Sink            Sink
	Events          events.Publisher
	BackfillLimit   int
	AutoResubscribe bool
	MinBackoff      time.Duration
	MaxBackoff      time.Duration
}

type task struct {
	key    string
	spec   Spec
	cancel context.CancelFunc
	done   chan struct{}

	// mu делает проверку отмены и слияние одной операцией
	mu        sync.Mutex
	cancelled bool
	state     State
}

func (t *task) setState(s State) {
	t.mu.Lock()
	if !t.cancelled || s == Cancelled {
		t.state = s
	}
	t.mu.Unlock()
}

func (t *task) getState() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Ingestor управляет подписками и сливает обновления в хранилище свечей
type Ingestor struct {
	opts Options

	ctx  context.Context
	stop context.CancelFunc

	mu       sync.Mutex
	tasks    map[string]*task
	keyLocks map[string]*sync.Mutex
}

// New создает новый Ingestor
func New(opts Options) *Ingestor {
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	if opts.BackfillLimit <= 0 {
		opts.BackfillLimit = 100
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = 30 * time.Second
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Ingestor{
		opts:     opts,
		ctx:      ctx,
		stop:     stop,
		tasks:    make(map[string]*task),
		keyLocks: make(map[string]*sync.Mutex),
	}
}

func (in *Ingestor) keyLock(key string) *sync.Mutex {
	in.mu.Lock()
	defer in.mu.Unlock()

	l, ok := in.keyLocks[key]
	if !ok {
		l = &sync.Mutex{}
		in.keyLocks[key] = l
	}
	return l
}

// Subscribe запускает подписку. Если по ключу уже есть задача, она отменяется
// и завершается до старта новой. Для свечей история загружается синхронно;
// при ошибке загрузки подписка не создается.
func (in *Ingestor) Subscribe(ctx context.Context, spec Spec) error {
	key := spec.Key()
	lock := in.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	if err := in.ctx.Err(); err != nil {
		return fmt.Errorf("ingestor закрыт: %w", err)
	}

	in.cancelTask(key)

	taskCtx, cancel := context.WithCancel(in.ctx)
	t := &task{key: key, spec: spec, cancel: cancel, done: make(chan struct{}), state: Subscribing}

	if !spec.ticker {
		if err := in.backfill(ctx, t); err != nil {
			cancel()
			in.reportDown(key, err)
			return err
		}
	}

	in.mu.Lock()
	in.tasks[key] = t
	in.mu.Unlock()

	go in.run(taskCtx, t)
	return nil
}

// Unsubscribe отменяет подписку и дожидается завершения задачи
func (in *Ingestor) Unsubscribe(key string) bool {
	lock := in.keyLock(key)
	lock.Lock()
	defer lock.Unlock()
	return in.cancelTask(key)
}

func (in *Ingestor) cancelTask(key string) bool {
	in.mu.Lock()
	t, ok := in.tasks[key]
	delete(in.tasks, key)
	in.mu.Unlock()

	if !ok {
		return false
	}

	t.mu.Lock()
	t.cancelled = true
	t.state = Cancelled
	t.mu.Unlock()

	t.cancel()
	<-t.done
	logger.Debug("Подписка отменена", zap.String("key", key))
	return true
}

// State состояние подписки по ключу
func (in *Ingestor) State(key string) State {
	in.mu.Lock()
	t, ok := in.tasks[key]
	in.mu.Unlock()

	if !ok {
		return Idle
	}
	return t.getState()
}

// Keys ключи текущих подписок
func (in *Ingestor) Keys() []string {
	in.mu.Lock()
	keys := make([]string, 0, len(in.tasks))
	for k := range in.tasks {
		keys = append(keys, k)
	}
	in.mu.Unlock()

	sort.Strings(keys)
	return keys
}

// Spec параметры текущей подписки
func (in *Ingestor) Spec(key string) (Spec, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()

	t, ok := in.tasks[key]
	if !ok {
		return Spec{}, false
	}
	return t.spec, true
}

// Close отменяет все подписки
func (in *Ingestor) Close() {
	for _, key := range in.Keys() {
		in.Unsubscribe(key)
	}
	in.stop()
}

func (in *Ingestor) run(ctx context.Context, t *task) {
	defer close(t.done)

	b := &backoff.Backoff{
		Min:    in.opts.MinBackoff,
		Max:    in.opts.MaxBackoff,
		Factor: 2,
		Jitter: true,
	}
	first := true

	for {
		if !first && !t.spec.ticker {
			// догружаем пропущенные за время обрыва свечи
			if err := in.backfill(ctx, t); err != nil && ctx.Err() == nil {
				in.reportDown(t.key, err)
				if !in.wait(ctx, b) {
					break
				}
				continue
			}
		}
		first = false

		err := in.stream(ctx, t, b)
		if ctx.Err() != nil {
			break
		}
		in.reportDown(t.key, err)

		if !in.opts.AutoResubscribe {
			t.setState(Idle)
			return
		}
		if !in.wait(ctx, b) {
			break
		}
	}
	t.setState(Cancelled)
}

func (in *Ingestor) wait(ctx context.Context, b *backoff.Backoff) bool {
	d := b.Duration()
	logger.Info("Повторная подписка", zap.Duration("delay", d))

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (in *Ingestor) stream(ctx context.Context, t *task, b *backoff.Backoff) error {
	t.setState(Subscribing)

	errC := make(chan error, 1)
	onErr := func(err error) {
		select {
		case errC <- err:
		default:
		}
	}

	var (
		done <-chan struct{}
		err  error
	)
	if t.spec.ticker {
		done, err = in.opts.Gateway.SubscribeTicks(ctx, t.spec.Symbols, func(tick models.Tick) {
			in.applyTick(ctx, t, tick)
		}, onErr)
	} else {
		done, err = in.opts.Gateway.SubscribeCandles(ctx, t.spec.Symbol, t.spec.Interval, func(u models.CandleUpdate) {
			in.applyCandle(ctx, t, u)
		}, onErr)
	}
	if err != nil {
		return err
	}

	t.setState(Streaming)
	b.Reset()
	in.opts.Events.Publish(events.ConnectionStatus{Key: t.key, Connected: true})
	logger.Info("Подписка активна", zap.String("key", t.key), zap.String("symbols", strings.Join(t.spec.Symbols, ",")))

	select {
	case <-done:
		select {
		case err := <-errC:
			return err
		default:
			return errStreamClosed
		}
	case <-ctx.Done():
		return nil
	}
}

func (in *Ingestor) backfill(ctx context.Context, t *task) error {
	batch, err := in.opts.Gateway.GetCandles(ctx, t.spec.Symbol, t.spec.Interval, in.opts.BackfillLimit)
	if err != nil {
		return fmt.Errorf("загрузка истории %s: %w", t.key, err)
	}

	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return nil
	}
	in.opts.Store.MergeAll(t.spec.Symbol, t.spec.Interval, batch)
	t.mu.Unlock()

	logger.Debug("История загружена", zap.String("key", t.key), zap.Int("candles", len(batch)))
	if n := len(batch); n > 0 && in.opts.Sink != nil {
		last := batch[n-1]
		in.opts.Sink.OnCandle(ctx, models.CandleUpdate{
			Symbol: t.spec.Symbol, Interval: t.spec.Interval, Candle: last, IsClosed: last.Closed,
		})
	}
	return nil
}

// applyCandle сливает обновление, если задача не отменена
func (in *Ingestor) applyCandle(ctx context.Context, t *task, u models.CandleUpdate) {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	applied := in.opts.Store.Merge(u.Symbol, u.Interval, u.Candle, u.IsClosed)
	t.mu.Unlock()

	if applied && in.opts.Sink != nil {
		in.opts.Sink.OnCandle(ctx, u)
	}
}

func (in *Ingestor) applyTick(ctx context.Context, t *task, tick models.Tick) {
	t.mu.Lock()
	cancelled := t.cancelled
	t.mu.Unlock()

	if !cancelled && in.opts.Sink != nil {
		in.opts.Sink.OnTick(ctx, tick)
	}
}

func (in *Ingestor) reportDown(key string, err error) {
	logger.Warn("Подписка прервана", zap.String("key", key), zap.Error(err))
	in.opts.Events.Publish(events.ConnectionStatus{Key: key, Connected: false, Err: err})
}
