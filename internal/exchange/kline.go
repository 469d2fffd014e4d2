package exchange

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/skalibog/tradetracker/pkg/models"
)

// ParseKlineRow разбирает строку свечи Binance из 12 полей:
// [openTime, open, high, low, close, volume, closeTime, quoteVolume, trades, takerBase, takerQuote, ignore].
// Обязательны первые шесть, цены приходят строками. Без closeTime свеча считается открытой.
func ParseKlineRow(row []any, now time.Time) (models.Candle, error) {
	if len(row) < 6 {
		return models.Candle{}, fmt.Errorf("строка свечи: ожидалось не менее 6 полей, получено %d", len(row))
	}

	openMs, err := toMillis(row[0])
	if err != nil {
		return models.Candle{}, fmt.Errorf("open time: %w", err)
	}

	var prices [5]decimal.Decimal
	for i := range prices {
		prices[i], err = toDecimal(row[i+1])
		if err != nil {
			return models.Candle{}, fmt.Errorf("поле %d: %w", i+1, err)
		}
	}

	if len(row) == 6 {
		c := newCandle(openMs, 0, prices, now)
		c.CloseTime = time.Time{}
		c.Closed = false
		return c, nil
	}

	closeMs, err := toMillis(row[6])
	if err != nil {
		return models.Candle{}, fmt.Errorf("close time: %w", err)
	}
	return newCandle(openMs, closeMs, prices, now), nil
}

// parseKline общая часть для REST и потоковых свечей
func parseKline(openMs, closeMs int64, open, high, low, cl, volume string, now time.Time) (models.Candle, error) {
	var prices [5]decimal.Decimal
	for i, s := range []string{open, high, low, cl, volume} {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return models.Candle{}, fmt.Errorf("ошибка разбора %q: %w", s, err)
		}
		prices[i] = d
	}
	return newCandle(openMs, closeMs, prices, now), nil
}

func newCandle(openMs, closeMs int64, p [5]decimal.Decimal, now time.Time) models.Candle {
	closeTime := time.UnixMilli(closeMs).UTC()
	return models.Candle{
		OpenTime:  time.UnixMilli(openMs).UTC(),
		CloseTime: closeTime,
		Open:      p[0],
		High:      p[1],
		Low:       p[2],
		Close:     p[3],
		Volume:    p[4],
		Closed:    closeTime.Before(now),
	}
}

func toMillis(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case json.Number:
		return x.Int64()
	case string:
		return strconv.ParseInt(x, 10, 64)
	default:
		return 0, fmt.Errorf("неожиданный тип %T", v)
	}
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case string:
		return decimal.NewFromString(x)
	case float64:
		return decimal.NewFromFloat(x), nil
	case json.Number:
		return decimal.NewFromString(x.String())
	default:
		return decimal.Decimal{}, fmt.Errorf("неожиданный тип %T", v)
	}
}
