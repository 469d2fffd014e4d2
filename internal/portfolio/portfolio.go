package portfolio

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/skalibog/tradetracker/internal/persist"
	"github.com/skalibog/tradetracker/pkg/models"
)

// Portfolio владеет активами и списками наблюдения. Активный список всегда существует.
type Portfolio struct {
	mu         sync.RWMutex
	assets     map[string]*Asset
	watchlists map[string]*Watchlist
	active     string
	now        func() time.Time
}

// New портфель с зарезервированными списками
func New() *Portfolio {
	p := &Portfolio{
		assets:     make(map[string]*Asset),
		watchlists: make(map[string]*Watchlist),
		active:     DefaultWatchlist,
		now:        time.Now,
	}
	p.ensureReserved()
	return p
}

func (p *Portfolio) ensureReserved() {
	for _, name := range []string{DefaultWatchlist, FuturesWatchlist} {
		if _, ok := p.watchlists[name]; !ok {
			p.watchlists[name] = p.newWatchlist(name)
		}
	}
	if _, ok := p.watchlists[p.active]; !ok {
		p.active = DefaultWatchlist
	}
}

func (p *Portfolio) newWatchlist(name string) *Watchlist {
	now := p.now()
	return &Watchlist{Name: name, CreatedAt: now, UpdatedAt: now}
}

// AddAsset добавляет или заменяет актив
func (p *Portfolio) AddAsset(a Asset) {
	p.mu.Lock()
	p.assets[a.Symbol] = &a
	p.mu.Unlock()
}

// RemoveAsset удаляет актив. false, если его не было.
func (p *Portfolio) RemoveAsset(sym string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.assets[sym]; !ok {
		return false
	}
	delete(p.assets, sym)
	return true
}

// Asset копия актива
func (p *Portfolio) Asset(sym string) (Asset, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	a, ok := p.assets[sym]
	if !ok {
		return Asset{}, false
	}
	return *a, true
}

// Assets копии всех активов по символу
func (p *Portfolio) Assets() []Asset {
	p.mu.RLock()
	out := make([]Asset, 0, len(p.assets))
	for _, a := range p.assets {
		out = append(out, *a)
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// UpdateAsset изменяет актив под блокировкой. false, если актива нет.
func (p *Portfolio) UpdateAsset(sym string, fn func(*Asset)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.assets[sym]
	if !ok {
		return false
	}
	fn(a)
	return true
}

// ApplyPrice заменяет цену актива целиком
func (p *Portfolio) ApplyPrice(price models.AssetPrice) bool {
	return p.UpdateAsset(price.Symbol, func(a *Asset) {
		a.Price = &price
	})
}

// CreateWatchlist false, если имя пустое или занято
func (p *Portfolio) CreateWatchlist(name string) bool {
	if name == "" {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.watchlists[name]; ok {
		return false
	}
	p.watchlists[name] = p.newWatchlist(name)
	return true
}

// DeleteWatchlist false для зарезервированных и неизвестных списков.
// Если удален активный, активным становится default.
func (p *Portfolio) DeleteWatchlist(name string) bool {
	if name == DefaultWatchlist || name == FuturesWatchlist {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.watchlists[name]; !ok {
		return false
	}
	delete(p.watchlists, name)
	if p.active == name {
		p.active = DefaultWatchlist
	}
	return true
}

// AddToWatchlist добавляет символ; пустое имя означает активный список.
// false, если символ уже есть или список неизвестен. futures_positions только перестраивается.
func (p *Portfolio) AddToWatchlist(name, sym string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	w := p.target(name)
	if w == nil || w.Name == FuturesWatchlist || w.Contains(sym) {
		return false
	}
	w.Symbols = append(w.Symbols, sym)
	w.UpdatedAt = p.now()
	return true
}

// RemoveFromWatchlist false, если символа нет или список неизвестен
func (p *Portfolio) RemoveFromWatchlist(name, sym string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	w := p.target(name)
	if w == nil || w.Name == FuturesWatchlist {
		return false
	}
	for i, s := range w.Symbols {
		if s == sym {
			w.Symbols = append(w.Symbols[:i], w.Symbols[i+1:]...)
			w.UpdatedAt = p.now()
			return true
		}
	}
	return false
}

func (p *Portfolio) target(name string) *Watchlist {
	if name == "" {
		name = p.active
	}
	return p.watchlists[name]
}

// SetActiveWatchlist false, если списка нет
func (p *Portfolio) SetActiveWatchlist(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.watchlists[name]; !ok {
		return false
	}
	p.active = name
	return true
}

// ActiveWatchlist имя активного списка
func (p *Portfolio) ActiveWatchlist() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active
}

// Watchlist копия списка; пустое имя означает активный
func (p *Portfolio) Watchlist(name string) (Watchlist, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	w := p.target(name)
	if w == nil {
		return Watchlist{}, false
	}
	return copyWatchlist(w), true
}

// Watchlists имена всех списков, default первым
func (p *Portfolio) Watchlists() []string {
	p.mu.RLock()
	names := make([]string, 0, len(p.watchlists))
	for name := range p.watchlists {
		names = append(names, name)
	}
	p.mu.RUnlock()

	sort.Slice(names, func(i, j int) bool {
		if names[i] == DefaultWatchlist || names[j] == DefaultWatchlist {
			return names[i] == DefaultWatchlist
		}
		return names[i] < names[j]
	})
	return names
}

// WatchlistAssets активы символов списка в порядке добавления
func (p *Portfolio) WatchlistAssets(name string) []Asset {
	p.mu.RLock()
	defer p.mu.RUnlock()

	w := p.target(name)
	if w == nil {
		return nil
	}
	var out []Asset
	for _, s := range w.Symbols {
		if a, ok := p.assets[s]; ok {
			out = append(out, *a)
		}
	}
	return out
}

// AllSymbols объединение символов всех списков, отсортированное
func (p *Portfolio) AllSymbols() []string {
	p.mu.RLock()
	set := make(map[string]struct{})
	for _, w := range p.watchlists {
		for _, s := range w.Symbols {
			set[s] = struct{}{}
		}
	}
	p.mu.RUnlock()

	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// TotalValue суммарная стоимость активов с известной ценой
func (p *Portfolio) TotalValue() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()

	total := decimal.Zero
	for _, a := range p.assets {
		total = total.Add(a.Value())
	}
	return total
}

// RebuildFuturesPositions очищает futures_positions и заполняет его ненулевыми позициями.
// Поля позиции у активов перезаписываются, у закрытых позиций сбрасываются.
// Возвращает символы нового списка.
func (p *Portfolio) RebuildFuturesPositions(positions []models.Position) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	w := p.watchlists[FuturesWatchlist]
	previous := w.Symbols
	w.Symbols = nil

	for _, pos := range positions {
		if pos.PositionAmt.IsZero() {
			continue
		}
		if !w.Contains(pos.Symbol) {
			w.Symbols = append(w.Symbols, pos.Symbol)
		}

		a, ok := p.assets[pos.Symbol]
		if !ok {
			na := NewAsset(pos.Symbol, Futures)
			a = &na
			p.assets[pos.Symbol] = a
		}
		a.Balance = pos.PositionAmt.Abs()
		a.IsLong = pos.PositionAmt.IsPositive()
		a.IsShort = pos.PositionAmt.IsNegative()
		a.Leverage = pos.Leverage
	}

	for _, sym := range previous {
		a, ok := p.assets[sym]
		if !ok || w.Contains(sym) {
			continue
		}
		a.IsLong = false
		a.IsShort = false
		a.Leverage = decimal.NewFromInt(1)
		if a.Type == Futures {
			a.Balance = decimal.Zero
		}
	}
	w.UpdatedAt = p.now()

	return append([]string(nil), w.Symbols...)
}

// Save записывает списки наблюдения в path. futures_positions и активы не сохраняются.
func (p *Portfolio) Save(path string) error {
	p.mu.RLock()
	state := fileState{
		ActiveWatchlist: p.active,
		Watchlists:      make(map[string]fileWatchlist, len(p.watchlists)),
	}
	for name, w := range p.watchlists {
		if name == FuturesWatchlist {
			continue
		}
		symbols := w.Symbols
		if symbols == nil {
			symbols = []string{}
		}
		state.Watchlists[name] = fileWatchlist{
			Name:      w.Name,
			Symbols:   symbols,
			CreatedAt: w.CreatedAt,
			UpdatedAt: w.UpdatedAt,
		}
	}
	err := persist.WriteJSON(path, state)
	p.mu.RUnlock()
	return err
}

// Load читает портфель из path. Отсутствующий файл дает портфель по умолчанию,
// при ошибке разбора возвращается портфель по умолчанию и ошибка.
func Load(path string) (*Portfolio, error) {
	p := New()

	var state fileState
	found, err := persist.ReadJSON(path, &state)
	if err != nil || !found {
		return p, err
	}

	for name, fw := range state.Watchlists {
		if name == FuturesWatchlist || name == "" {
			continue
		}
		w := &Watchlist{
			Name:      name,
			CreatedAt: fw.CreatedAt,
			UpdatedAt: fw.UpdatedAt,
		}
		for _, s := range fw.Symbols {
			if !w.Contains(s) {
				w.Symbols = append(w.Symbols, s)
			}
		}
		p.watchlists[name] = w
	}
	if state.ActiveWatchlist != "" {
		p.active = state.ActiveWatchlist
	}
	p.ensureReserved()
	return p, nil
}

func copyWatchlist(w *Watchlist) Watchlist {
	c := *w
	c.Symbols = append([]string(nil), w.Symbols...)
	return c
}
