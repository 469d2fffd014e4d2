// Package signals кэш последних сигналов и их пересчет.
package signals

import (
	"sort"
	"sync"

	"github.com/skalibog/tradetracker/pkg/models"
)

// Cache последний сигнал по паре (символ, стратегия)
type Cache struct {
	mu      sync.RWMutex
	signals map[models.SignalKey]models.Signal
}

func NewCache() *Cache {
	return &Cache{signals: make(map[models.SignalKey]models.Signal)}
}

// Put заменяет сигнал для пары целиком
func (c *Cache) Put(s models.Signal) {
	c.mu.Lock()
	c.signals[s.Key()] = s
	c.mu.Unlock()
}

func (c *Cache) Get(symbol, strategyID string) (models.Signal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.signals[models.SignalKey{Symbol: symbol, StrategyID: strategyID}]
	return s, ok
}

// Delete удаляет сигнал пары, возвращает true если он был
func (c *Cache) Delete(symbol, strategyID string) bool {
	key := models.SignalKey{Symbol: symbol, StrategyID: strategyID}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.signals[key]; !ok {
		return false
	}
	delete(c.signals, key)
	return true
}

// ForSymbol сигналы символа по ID стратегии
func (c *Cache) ForSymbol(symbol string) []models.Signal {
	c.mu.RLock()
	var out []models.Signal
	for k, s := range c.signals {
		if k.Symbol == symbol {
			out = append(out, s)
		}
	}
	c.mu.RUnlock()

	sortSignals(out)
	return out
}

// All все сигналы, отсортированные по символу и стратегии
func (c *Cache) All() []models.Signal {
	c.mu.RLock()
	out := make([]models.Signal, 0, len(c.signals))
	for _, s := range c.signals {
		out = append(out, s)
	}
	c.mu.RUnlock()

	sortSignals(out)
	return out
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.signals)
}

func sortSignals(s []models.Signal) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Symbol != s[j].Symbol {
			return s[i].Symbol < s[j].Symbol
		}
		return s[i].StrategyID < s[j].StrategyID
	})
}
