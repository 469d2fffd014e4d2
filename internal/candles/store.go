// Package candles хранит ряды свечей по символу и интервалу.
package candles

import (
	"sort"
	"sync"
	"time"

	"github.com/skalibog/tradetracker/pkg/logger"
	"github.com/skalibog/tradetracker/pkg/models"
	"go.uber.org/zap"
)

// SeriesKey ключ ряда
type SeriesKey struct {
	Symbol   string
	Interval string
}

// Store потокобезопасное хранилище свечей. Ряд упорядочен по OpenTime строго по возрастанию,
// последняя свеча может быть незакрытой.
type Store struct {
	mu         sync.RWMutex
	series     map[SeriesKey][]models.Candle
	maxCandles int
}

// NewStore создает хранилище с ограничением maxCandles на ряд.
// Лимит не бывает меньше longestLookback.
func NewStore(maxCandles, longestLookback int) *Store {
	if maxCandles < longestLookback {
		maxCandles = longestLookback
	}
	if maxCandles < 1 {
		maxCandles = 1
	}
	return &Store{
		series:     make(map[SeriesKey][]models.Candle),
		maxCandles: maxCandles,
	}
}

// MaxCandles лимит хранения на ряд
func (s *Store) MaxCandles() int {
	return s.maxCandles
}

// Merge применяет одно обновление свечи. Возвращает false, если обновление отброшено.
func (s *Store) Merge(symbol, interval string, c models.Candle, isClosed bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.merge(SeriesKey{symbol, interval}, c, isClosed)
}

// MergeAll применяет пачку свечей (начальная загрузка); у каждой свой признак Closed
func (s *Store) MergeAll(symbol, interval string, batch []models.Candle) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := SeriesKey{symbol, interval}
	applied := 0
	for _, c := range batch {
		if s.merge(key, c, c.Closed) {
			applied++
		}
	}
	return applied
}

func (s *Store) merge(key SeriesKey, c models.Candle, isClosed bool) bool {
	c.Closed = isClosed
	series := s.series[key]

	if isClosed {
		if i := indexOf(series, c.OpenTime); i >= 0 {
			series[i] = c
			return true
		}
		n := len(series)
		if n > 0 && series[n-1].OpenTime.After(c.OpenTime) {
			logger.Warn("Закрытая свеча пришла не по порядку",
				zap.String("symbol", key.Symbol),
				zap.String("interval", key.Interval),
				zap.Time("open_time", c.OpenTime))
			series = append(series, c)
			sort.Slice(series, func(i, j int) bool { return series[i].OpenTime.Before(series[j].OpenTime) })
		} else {
			if n > 0 {
				series[n-1].Closed = true
			}
			series = append(series, c)
		}
		s.series[key] = s.trim(series)
		return true
	}

	n := len(series)
	if n == 0 {
		s.series[key] = append(series, c)
		return true
	}

	last := series[n-1]
	switch {
	case last.OpenTime.Equal(c.OpenTime):
		if last.Closed {
			// свеча уже закрыта, запоздавшее обновление не откатывает её
			return false
		}
		series[n-1] = c
		return true
	case c.OpenTime.After(last.OpenTime):
		series[n-1].Closed = true
		s.series[key] = s.trim(append(series, c))
		return true
	default:
		logger.Debug("Отброшено устаревшее обновление свечи",
			zap.String("symbol", key.Symbol),
			zap.String("interval", key.Interval),
			zap.Time("open_time", c.OpenTime))
		return false
	}
}

func (s *Store) trim(series []models.Candle) []models.Candle {
	if over := len(series) - s.maxCandles; over > 0 {
		// копия, чтобы не удерживать старый массив
		series = append([]models.Candle(nil), series[over:]...)
	}
	return series
}

// Window возвращает копию последних n свечей (или меньше, если данных нет)
func (s *Store) Window(symbol, interval string, n int) []models.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.series[SeriesKey{symbol, interval}]
	if n <= 0 || len(series) == 0 {
		return nil
	}
	if n > len(series) {
		n = len(series)
	}
	out := make([]models.Candle, n)
	copy(out, series[len(series)-n:])
	return out
}

// Len количество свечей в ряду
func (s *Store) Len(symbol, interval string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series[SeriesKey{symbol, interval}])
}

// Last последняя свеча ряда
func (s *Store) Last(symbol, interval string) (models.Candle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.series[SeriesKey{symbol, interval}]
	if len(series) == 0 {
		return models.Candle{}, false
	}
	return series[len(series)-1], true
}

// Drop удаляет ряд
func (s *Store) Drop(symbol, interval string) {
	s.mu.Lock()
	delete(s.series, SeriesKey{symbol, interval})
	s.mu.Unlock()
}

// Keys ключи всех рядов
func (s *Store) Keys() []SeriesKey {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]SeriesKey, 0, len(s.series))
	for k := range s.series {
		keys = append(keys, k)
	}
	return keys
}

func indexOf(series []models.Candle, openTime time.Time) int {
	// обновления почти всегда касаются хвоста
	for i := len(series) - 1; i >= 0; i-- {
		if series[i].OpenTime.Equal(openTime) {
			return i
		}
		if series[i].OpenTime.Before(openTime) {
			break
		}
	}
	return -1
}
