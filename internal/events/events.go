// Package events типизированная шина событий между компонентами трекера.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/skalibog/tradetracker/pkg/logger"
	"github.com/skalibog/tradetracker/pkg/models"
	"go.uber.org/zap"
)

// Event маркер события
type Event interface {
	event()
}

// PriceUpdated новая цена актива
type PriceUpdated struct {
	Price models.AssetPrice
}

// CandleUpdated свеча ряда изменилась
type CandleUpdated struct {
	Symbol   string
	Interval string
	Candle   models.Candle
}

// SignalGenerated новый сигнал положен в кэш
type SignalGenerated struct {
	Signal models.Signal
}

// SignalRemoved сигнал удален из кэша (снято назначение)
type SignalRemoved struct {
	Key models.SignalKey
}

// WatchlistChanged изменился состав или набор списков наблюдения
type WatchlistChanged struct {
	Name string
}

// PortfolioUpdated изменились активы или балансы
type PortfolioUpdated struct{}

// ConnectionStatus состояние подписки или запроса к бирже
type ConnectionStatus struct {
	Key       string
	Connected bool
	Err       error
}

func (PriceUpdated) event()     {}
func (CandleUpdated) event()    {}
func (SignalGenerated) event()  {}
func (SignalRemoved) event()    {}
func (WatchlistChanged) event() {}
func (PortfolioUpdated) event() {}
func (ConnectionStatus) event() {}

// Publisher принимает события
type Publisher interface {
	Publish(Event)
}

// Bus рассылает события подписчикам. Publish не блокируется:
// если буфер подписчика полон, событие для него отбрасывается.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	nextID  int
	dropped atomic.Int64
}

// NewBus создает шину
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe возвращает канал событий и функцию отписки
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish отправляет событие всем подписчикам
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			if n := b.dropped.Add(1); n%100 == 1 {
				logger.Warn("Подписчик не успевает, событие отброшено", zap.Int64("dropped_total", n))
			}
		}
	}
}

// Dropped количество отброшенных событий
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Nop шина без подписчиков
type Nop struct{}

func (Nop) Publish(Event) {}
