// Package exchangetest управляемая подмена exchange.Gateway для тестов.
package exchangetest

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/skalibog/tradetracker/pkg/models"
)

// ErrNotFound нет данных для символа
var ErrNotFound = errors.New("exchangetest: нет данных")

type stream struct {
	onTick   func(models.Tick)
	onUpdate func(models.CandleUpdate)
	onErr    func(error)
	done     chan struct{}
	once     sync.Once
}

func (s *stream) finish() {
	s.once.Do(func() { close(s.done) })
}

// Gateway заполняется тестом; вызовы считаются в Calls
type Gateway struct {
	mu sync.Mutex

	Candles      map[string][]models.Candle
	CandlesErr   error
	Prices       map[string]decimal.Decimal
	Stats        map[string]models.DayStats
	Balances     []models.Balance
	BalancesErr  error
	Positions    []models.Position
	PositionsErr error
	SubscribeErr error

	beforeCandles func(symbol string)
	calls       map[string]int
	candleSubs  map[string]*stream
	tickSubs    []*stream
	tickSymbols [][]string
}

func New() *Gateway {
	return &Gateway{
		Candles:    make(map[string][]models.Candle),
		Prices:     make(map[string]decimal.Decimal),
		Stats:      make(map[string]models.DayStats),
		calls:      make(map[string]int),
		candleSubs: make(map[string]*stream),
	}
}

func (g *Gateway) count(op string) {
	g.calls[op]++
}

// Calls число вызовов операции
func (g *Gateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

func (g *Gateway) SetCandles(symbol string, c []models.Candle) {
	g.mu.Lock()
	g.Candles[symbol] = c
	g.mu.Unlock()
}

func (g *Gateway) SetCandlesErr(err error) {
	g.mu.Lock()
	g.CandlesErr = err
	g.mu.Unlock()
}

func (g *Gateway) SetSubscribeErr(err error) {
	g.mu.Lock()
	g.SubscribeErr = err
	g.mu.Unlock()
}

func (g *Gateway) SetPositions(p []models.Position) {
	g.mu.Lock()
	g.Positions = p
	g.mu.Unlock()
}

// SetBeforeCandles задает функцию, вызываемую в начале GetCandles вне блокировки
func (g *Gateway) SetBeforeCandles(fn func(symbol string)) {
	g.mu.Lock()
	g.beforeCandles = fn
	g.mu.Unlock()
}

func (g *Gateway) GetCandles(_ context.Context, symbol, _ string, limit int) ([]models.Candle, error) {
	g.mu.Lock()
	hook := g.beforeCandles
	g.mu.Unlock()
	if hook != nil {
		hook(symbol)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.count("GetCandles")

	if g.CandlesErr != nil {
		return nil, g.CandlesErr
	}
	c := g.Candles[symbol]
	if limit > 0 && len(c) > limit {
		c = c[len(c)-limit:]
	}
	return append([]models.Candle(nil), c...), nil
}

func (g *Gateway) GetTicker(_ context.Context, symbol string) (models.Tick, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.count("GetTicker")

	p, ok := g.Prices[symbol]
	if !ok {
		return models.Tick{}, ErrNotFound
	}
	return models.Tick{Symbol: symbol, Price: p}, nil
}

func (g *Gateway) Get24hStats(_ context.Context, symbol string) (models.DayStats, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.count("Get24hStats")

	s, ok := g.Stats[symbol]
	if !ok {
		return models.DayStats{}, ErrNotFound
	}
	return s, nil
}

func (g *Gateway) GetAll24hStats(context.Context) ([]models.DayStats, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.count("GetAll24hStats")

	out := make([]models.DayStats, 0, len(g.Stats))
	for _, s := range g.Stats {
		out = append(out, s)
	}
	return out, nil
}

func (g *Gateway) GetAccountBalances(context.Context) ([]models.Balance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.count("GetAccountBalances")
	return g.Balances, g.BalancesErr
}

func (g *Gateway) GetOpenPositions(context.Context) ([]models.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.count("GetOpenPositions")
	return g.Positions, g.PositionsErr
}

func (g *Gateway) SubscribeTicks(ctx context.Context, symbols []string, onTick func(models.Tick), onErr func(error)) (<-chan struct{}, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.count("SubscribeTicks")

	if g.SubscribeErr != nil {
		return nil, g.SubscribeErr
	}
	s := &stream{onTick: onTick, onErr: onErr, done: make(chan struct{})}
	g.tickSubs = append(g.tickSubs, s)
	g.tickSymbols = append(g.tickSymbols, append([]string(nil), symbols...))
	go stopOnCancel(ctx, s)
	return s.done, nil
}

func (g *Gateway) SubscribeCandles(ctx context.Context, symbol, interval string, onUpdate func(models.CandleUpdate), onErr func(error)) (<-chan struct{}, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.count("SubscribeCandles")

	if g.SubscribeErr != nil {
		return nil, g.SubscribeErr
	}
	s := &stream{onUpdate: onUpdate, onErr: onErr, done: make(chan struct{})}
	g.candleSubs[symbol+"/"+interval] = s
	go stopOnCancel(ctx, s)
	return s.done, nil
}

func stopOnCancel(ctx context.Context, s *stream) {
	select {
	case <-ctx.Done():
		s.finish()
	case <-s.done:
	}
}

// EmitCandle доставляет обновление в текущую подписку ряда. false, если подписки нет или она завершена.
func (g *Gateway) EmitCandle(u models.CandleUpdate) bool {
	g.mu.Lock()
	s := g.candleSubs[u.Symbol+"/"+u.Interval]
	g.mu.Unlock()

	if s == nil || isDone(s) {
		return false
	}
	s.onUpdate(u)
	return true
}

// EmitTick доставляет тик в последнюю подписку тикеров
func (g *Gateway) EmitTick(t models.Tick) bool {
	g.mu.Lock()
	var s *stream
	if n := len(g.tickSubs); n > 0 {
		s = g.tickSubs[n-1]
	}
	g.mu.Unlock()

	if s == nil || isDone(s) {
		return false
	}
	s.onTick(t)
	return true
}

// FailCandles обрывает поток ряда с ошибкой
func (g *Gateway) FailCandles(symbol, interval string, err error) {
	g.mu.Lock()
	s := g.candleSubs[symbol+"/"+interval]
	g.mu.Unlock()

	if s == nil {
		return
	}
	s.onErr(err)
	s.finish()
}

// CandleStreamDone канал завершения текущей подписки ряда
func (g *Gateway) CandleStreamDone(symbol, interval string) <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s := g.candleSubs[symbol+"/"+interval]; s != nil {
		return s.done
	}
	return nil
}

// TickSymbols символы последней подписки тикеров
func (g *Gateway) TickSymbols() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n := len(g.tickSymbols); n > 0 {
		return g.tickSymbols[n-1]
	}
	return nil
}

func isDone(s *stream) bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
