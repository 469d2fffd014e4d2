// Package assignment хранит назначения стратегий символам.
package assignment

import (
	"context"
	"sort"
	"sync"

	"github.com/skalibog/tradetracker/internal/persist"
	"github.com/skalibog/tradetracker/pkg/logger"
	"go.uber.org/zap"
)

// FileName имя файла назначений в каталоге данных
const FileName = "strategy_assignments.json"

// Listener уведомляется об изменении назначений
type Listener interface {
	OnAssigned(ctx context.Context, symbol, strategyID string)
	OnUnassigned(ctx context.Context, symbol, strategyID string)
}

// Catalog проверяет существование стратегии
type Catalog interface {
	Has(strategyID string) bool
}

// Store единственный владелец отношения символ -> стратегии
type Store struct {
	mu       sync.RWMutex
	path     string
	catalog  Catalog
	relation map[string]map[string]struct{}
	listener Listener
}

// NewStore создает хранилище и загружает назначения из path.
// Ошибка загрузки не фатальна: начинаем с пустого набора.
func NewStore(path string, catalog Catalog) *Store {
	s := &Store{
		path:     path,
		catalog:  catalog,
		relation: make(map[string]map[string]struct{}),
	}
	s.load()
	return s
}

func (s *Store) load() {
	var raw map[string][]string
	found, err := persist.ReadJSON(s.path, &raw)
	if err != nil {
		logger.Error("Ошибка загрузки назначений стратегий, начинаем с пустого набора",
			zap.String("path", s.path), zap.Error(err))
		return
	}
	if !found {
		return
	}

	for sym, ids := range raw {
		for _, id := range ids {
			if s.catalog != nil && !s.catalog.Has(id) {
				logger.Warn("Пропущено назначение неизвестной стратегии", zap.String("symbol", sym), zap.String("strategy", id))
				continue
			}
			s.add(sym, id)
		}
	}
	logger.Info("Загружены назначения стратегий", zap.Int("symbols", len(s.relation)))
}

// SetListener задает получателя уведомлений
func (s *Store) SetListener(l Listener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

// Assign назначает стратегию символу. false, если пара уже есть или стратегия неизвестна.
func (s *Store) Assign(ctx context.Context, symbol, strategyID string) bool {
	if s.catalog != nil && !s.catalog.Has(strategyID) {
		return false
	}

	s.mu.Lock()
	if s.has(symbol, strategyID) {
		s.mu.Unlock()
		return false
	}
	s.add(symbol, strategyID)
	s.saveLocked()
	l := s.listener
	s.mu.Unlock()

	logger.Info("Стратегия назначена", zap.String("symbol", symbol), zap.String("strategy", strategyID))
	if l != nil {
		l.OnAssigned(ctx, symbol, strategyID)
	}
	return true
}

// Unassign снимает назначение. false, если его не было.
func (s *Store) Unassign(ctx context.Context, symbol, strategyID string) bool {
	s.mu.Lock()
	if !s.has(symbol, strategyID) {
		s.mu.Unlock()
		return false
	}
	delete(s.relation[symbol], strategyID)
	if len(s.relation[symbol]) == 0 {
		delete(s.relation, symbol)
	}
	s.saveLocked()
	l := s.listener
	s.mu.Unlock()

	logger.Info("Назначение стратегии снято", zap.String("symbol", symbol), zap.String("strategy", strategyID))
	if l != nil {
		l.OnUnassigned(ctx, symbol, strategyID)
	}
	return true
}

// Has назначена ли стратегия символу
func (s *Store) Has(symbol, strategyID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.has(symbol, strategyID)
}

// StrategiesFor отсортированные ID стратегий символа
func (s *Store) StrategiesFor(symbol string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.relation[symbol])
}

// Symbols символы хотя бы с одним назначением
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.relation))
	for sym := range s.relation {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Snapshot копия отношения
func (s *Store) Snapshot() map[string][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot()
}

func (s *Store) snapshot() map[string][]string {
	out := make(map[string][]string, len(s.relation))
	for sym, ids := range s.relation {
		out[sym] = sortedKeys(ids)
	}
	return out
}

func (s *Store) has(symbol, strategyID string) bool {
	_, ok := s.relation[symbol][strategyID]
	return ok
}

func (s *Store) add(symbol, strategyID string) {
	ids, ok := s.relation[symbol]
	if !ok {
		ids = make(map[string]struct{})
		s.relation[symbol] = ids
	}
	ids[strategyID] = struct{}{}
}

// saveLocked ошибка записи не откатывает состояние в памяти
func (s *Store) saveLocked() {
	if s.path == "" {
		return
	}
	if err := persist.WriteJSON(s.path, s.snapshot()); err != nil {
		logger.Error("Ошибка сохранения назначений стратегий", zap.String("path", s.path), zap.Error(err))
	}
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
