package candles

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/skalibog/tradetracker/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func createTestCandle(hour int, closePrice float64) models.Candle {
	c := decimal.NewFromFloat(closePrice)
	return models.Candle{
		OpenTime:  base.Add(time.Duration(hour) * time.Hour),
		CloseTime: base.Add(time.Duration(hour+1)*time.Hour - time.Millisecond),
		Open:      c,
		High:      c,
		Low:       c,
		Close:     c,
		Volume:    decimal.NewFromInt(1),
	}
}

func TestMergeClosedIsIdempotent(t *testing.T) {
	s := NewStore(10, 0)

	s.Merge("BTCUSDT", "1h", createTestCandle(0, 100), true)
	s.Merge("BTCUSDT", "1h", createTestCandle(0, 101), true)

	w := s.Window("BTCUSDT", "1h", 10)
	require.Len(t, w, 1)
	assert.True(t, w[0].Close.Equal(decimal.NewFromInt(101)))
	assert.True(t, w[0].Closed)
}

func TestMergeOpenThenClosed(t *testing.T) {
	s := NewStore(10, 0)

	s.Merge("BTCUSDT", "1h", createTestCandle(0, 100), false)
	s.Merge("BTCUSDT", "1h", createTestCandle(0, 102), false)
	last, ok := s.Last("BTCUSDT", "1h")
	require.True(t, ok)
	assert.False(t, last.Closed)

	s.Merge("BTCUSDT", "1h", createTestCandle(0, 103), true)

	w := s.Window("BTCUSDT", "1h", 10)
	require.Len(t, w, 1)
	assert.True(t, w[0].Closed)
	assert.True(t, w[0].Close.Equal(decimal.NewFromInt(103)))
}

func TestMergeOpenAfterClosedIgnored(t *testing.T) {
	s := NewStore(10, 0)

	s.Merge("BTCUSDT", "1h", createTestCandle(0, 100), true)
	assert.False(t, s.Merge("BTCUSDT", "1h", createTestCandle(0, 90), false))

	last, _ := s.Last("BTCUSDT", "1h")
	assert.True(t, last.Closed)
	assert.True(t, last.Close.Equal(decimal.NewFromInt(100)))
}

func TestMergeNewOpenSupersedesTail(t *testing.T) {
	s := NewStore(10, 0)

	s.Merge("BTCUSDT", "1h", createTestCandle(0, 100), false)
	s.Merge("BTCUSDT", "1h", createTestCandle(1, 101), false)

	w := s.Window("BTCUSDT", "1h", 10)
	require.Len(t, w, 2)
	assert.True(t, w[0].Closed, "вытесненная свеча становится закрытой")
	assert.False(t, w[1].Closed)
}

func TestMergeStaleOpenDropped(t *testing.T) {
	s := NewStore(10, 0)

	s.Merge("BTCUSDT", "1h", createTestCandle(5, 100), false)
	assert.False(t, s.Merge("BTCUSDT", "1h", createTestCandle(3, 100), false))
	assert.Equal(t, 1, s.Len("BTCUSDT", "1h"))
}

func TestMergeOutOfOrderClosedResorts(t *testing.T) {
	s := NewStore(10, 0)

	s.Merge("BTCUSDT", "1h", createTestCandle(0, 100), true)
	s.Merge("BTCUSDT", "1h", createTestCandle(2, 102), true)
	s.Merge("BTCUSDT", "1h", createTestCandle(1, 101), true)

	w := s.Window("BTCUSDT", "1h", 10)
	require.Len(t, w, 3)
	for i := 1; i < len(w); i++ {
		assert.True(t, w[i].OpenTime.After(w[i-1].OpenTime))
	}
}

func TestRetention(t *testing.T) {
	s := NewStore(3, 0)
	for i := 0; i < 10; i++ {
		s.Merge("ETHUSDT", "1h", createTestCandle(i, float64(100+i)), true)
	}

	w := s.Window("ETHUSDT", "1h", 100)
	require.Len(t, w, 3)
	assert.Equal(t, base.Add(7*time.Hour), w[0].OpenTime)
}

func TestRetentionRaisedToLookback(t *testing.T) {
	s := NewStore(5, 21)
	assert.Equal(t, 21, s.MaxCandles())
}

func TestWindowIsCopy(t *testing.T) {
	s := NewStore(10, 0)
	s.Merge("BTCUSDT", "1h", createTestCandle(0, 100), true)

	w := s.Window("BTCUSDT", "1h", 1)
	w[0].Close = decimal.NewFromInt(1)

	again := s.Window("BTCUSDT", "1h", 1)
	assert.True(t, again[0].Close.Equal(decimal.NewFromInt(100)))
	assert.Nil(t, s.Window("XRPUSDT", "1h", 5))
}

func TestMergeAllAndDrop(t *testing.T) {
	s := NewStore(10, 0)
	batch := []models.Candle{createTestCandle(0, 1), createTestCandle(1, 2), createTestCandle(2, 3)}
	batch[0].Closed, batch[1].Closed = true, true

	assert.Equal(t, 3, s.MergeAll("BTCUSDT", "1h", batch))
	last, _ := s.Last("BTCUSDT", "1h")
	assert.False(t, last.Closed)
	assert.Len(t, s.Keys(), 1)

	s.Drop("BTCUSDT", "1h")
	assert.Equal(t, 0, s.Len("BTCUSDT", "1h"))
}

func TestConcurrentMerge(t *testing.T) {
	s := NewStore(1000, 0)
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.Merge("BTCUSDT", "1h", createTestCandle(i, float64(g)), true)
				_ = s.Window("BTCUSDT", "1h", 10)
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 100, s.Len("BTCUSDT", "1h"))
}
