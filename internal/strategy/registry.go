package strategy

import (
	"fmt"
	"sync"

	"github.com/skalibog/tradetracker/internal/config"
)

// Registry набор доступных стратегий по ID
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	order      []string
}

// NewRegistry создает пустой реестр
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// NewDefaultRegistry реестр со всеми встроенными стратегиями
func NewDefaultRegistry(cfg config.StrategiesConfig) (*Registry, error) {
	r := NewRegistry()
	builtins := []Strategy{
		{ID: string(KindMomentum), Name: "Momentum", Params: MomentumParams{
			Period: cfg.Momentum.Lookback, Threshold: cfg.Momentum.Threshold}},
		{ID: string(KindStick), Name: "Stick", Params: StickParams{
			StickCount: cfg.Stick.StickCount, Avg: cfg.Stick.Avg}},
		{ID: string(KindMeanReversion), Name: "Mean Reversion", Params: MeanReversionParams{
			Period: cfg.MeanReversion.Period, Deviation: cfg.MeanReversion.Deviation}},
		{ID: string(KindBreakout), Name: "Breakout", Params: BreakoutParams{
			Period: cfg.Breakout.Period}},
		{ID: string(KindScalping), Name: "Scalping", Params: ScalpingParams{
			FastPeriod: cfg.Scalping.FastPeriod, SlowPeriod: cfg.Scalping.SlowPeriod, MinSpread: cfg.Scalping.MinSpread}},
	}
	for _, s := range builtins {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register добавляет стратегию
func (r *Registry) Register(s Strategy) error {
	if s.ID == "" || s.Params == nil {
		return fmt.Errorf("стратегия без ID или параметров")
	}
	if err := s.Params.Validate(); err != nil {
		return fmt.Errorf("стратегия %s: %w", s.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.strategies[s.ID]; exists {
		return fmt.Errorf("стратегия %s уже зарегистрирована", s.ID)
	}
	r.strategies[s.ID] = s
	r.order = append(r.order, s.ID)
	return nil
}

// Get стратегия по ID
func (r *Registry) Get(id string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[id]
	return s, ok
}

// All стратегии в порядке регистрации
func (r *Registry) All() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Strategy, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.strategies[id])
	}
	return out
}

// MaxLookback наибольший lookback среди стратегий
func (r *Registry) MaxLookback() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	max := 0
	for _, s := range r.strategies {
		if lb := s.Lookback(); lb > max {
			max = lb
		}
	}
	return max
}

// Has зарегистрирована ли стратегия
func (r *Registry) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}
