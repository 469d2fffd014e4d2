package exchange

import "time"

// Intervals поддерживаемые интервалы свечей
var Intervals = []string{"1m", "5m", "15m", "30m", "1h", "4h", "1d", "1w"}

// ValidInterval проверяет интервал
func ValidInterval(interval string) bool {
	_, ok := intervalDurations[interval]
	return ok
}

// IntervalDuration конвертирует строковый интервал в duration
func IntervalDuration(interval string) time.Duration {
	if d, ok := intervalDurations[interval]; ok {
		return d
	}
	return time.Hour
}

var intervalDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}
