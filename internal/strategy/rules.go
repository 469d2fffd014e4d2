package strategy

import (
	"github.com/markcheno/go-talib"
	"github.com/skalibog/tradetracker/pkg/models"
)

func evaluateMomentum(p MomentumParams, window []models.Candle) (models.SignalType, float64) {
	c := closes(window)
	change := pctChange(c[0], c[len(c)-1])
	return classify(change, p.Threshold)
}

func evaluateStick(p StickParams, window []models.Candle) (models.SignalType, float64) {
	var bullish, bearish int
	var bodySum float64

	for _, candle := range window {
		open := candle.Open.InexactFloat64()
		cl := candle.Close.InexactFloat64()
		switch {
		case cl > open:
			bullish++
		case cl < open:
			bearish++
		}
		body := pctChange(open, cl)
		if body < 0 {
			body = -body
		}
		bodySum += body
	}

	avgBody := bodySum / float64(len(window))
	if avgBody < p.Avg {
		return models.SignalNeutral, 0
	}

	switch len(window) {
	case bullish:
		return models.SignalLong, scaleStrength(avgBody, p.Avg)
	case bearish:
		return models.SignalShort, scaleStrength(avgBody, p.Avg)
	default:
		return models.SignalNeutral, 0
	}
}

func evaluateMeanReversion(p MeanReversionParams, window []models.Candle) (models.SignalType, float64) {
	c := closes(window)
	upper, _, lower := talib.BBands(c, p.Period, p.Deviation, p.Deviation, talib.SMA)

	last := c[len(c)-1]
	up, low := upper[len(upper)-1], lower[len(lower)-1]
	width := up - low
	if width <= 0 {
		return models.SignalNeutral, 0
	}

	switch {
	case last < low:
		return models.SignalLong, clamp01(0.5 + (low-last)/width)
	case last > up:
		return models.SignalShort, clamp01(0.5 + (last-up)/width)
	default:
		return models.SignalNeutral, 0
	}
}

func evaluateBreakout(p BreakoutParams, window []models.Candle) (models.SignalType, float64) {
	prev := window[:len(window)-1]
	highs := make([]float64, len(prev))
	lows := make([]float64, len(prev))
	for i, c := range prev {
		highs[i] = c.High.InexactFloat64()
		lows[i] = c.Low.InexactFloat64()
	}

	maxHigh := talib.Max(highs, p.Period)
	minLow := talib.Min(lows, p.Period)
	channelHigh, channelLow := maxHigh[len(maxHigh)-1], minLow[len(minLow)-1]

	last := window[len(window)-1].Close.InexactFloat64()
	switch {
	case last > channelHigh:
		return models.SignalLong, scaleStrength(pctChange(channelHigh, last), 0)
	case last < channelLow:
		return models.SignalShort, scaleStrength(pctChange(channelLow, last), 0)
	default:
		return models.SignalNeutral, 0
	}
}

func evaluateScalping(p ScalpingParams, window []models.Candle) (models.SignalType, float64) {
	c := closes(window)
	fast := talib.Ema(c, p.FastPeriod)
	slow := talib.Ema(c, p.SlowPeriod)

	spread := pctChange(slow[len(slow)-1], fast[len(fast)-1])
	return classify(spread, p.MinSpread)
}
