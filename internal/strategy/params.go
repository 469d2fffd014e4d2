package strategy

import (
	"errors"

	"github.com/skalibog/tradetracker/pkg/models"
)

// MomentumParams изменение цены закрытия за Lookback свечей против порога в процентах
type MomentumParams struct {
	Period    int
	Threshold float64 // "momentum", %
}

func (MomentumParams) isParams()       {}
func (MomentumParams) Kind() Kind      { return KindMomentum }
func (p MomentumParams) Lookback() int { return p.Period + 1 }

func (p MomentumParams) Snapshot() map[string]models.ParamValue {
	return map[string]models.ParamValue{
		"lookback": models.IntParam(p.Period),
		"momentum": models.FloatParam(p.Threshold),
	}
}

func (p MomentumParams) Validate() error {
	if p.Period < 1 {
		return errors.New("momentum: lookback должен быть положительным")
	}
	if p.Threshold < 0 {
		return errors.New("momentum: порог не может быть отрицательным")
	}
	return nil
}

// StickParams серия из StickCount однонаправленных свечей со средним телом не меньше Avg %
type StickParams struct {
	StickCount int
	Avg        float64
}

func (StickParams) isParams()       {}
func (StickParams) Kind() Kind      { return KindStick }
func (p StickParams) Lookback() int { return p.StickCount }

func (p StickParams) Snapshot() map[string]models.ParamValue {
	return map[string]models.ParamValue{
		"stick_count": models.IntParam(p.StickCount),
		"avg":         models.FloatParam(p.Avg),
	}
}

func (p StickParams) Validate() error {
	if p.StickCount < 1 {
		return errors.New("stick: stick_count должен быть положительным")
	}
	if p.Avg < 0 {
		return errors.New("stick: avg не может быть отрицательным")
	}
	return nil
}

// MeanReversionParams полосы Боллинджера
type MeanReversionParams struct {
	Period    int
	Deviation float64
}

func (MeanReversionParams) isParams()       {}
func (MeanReversionParams) Kind() Kind      { return KindMeanReversion }
func (p MeanReversionParams) Lookback() int { return p.Period }

func (p MeanReversionParams) Snapshot() map[string]models.ParamValue {
	return map[string]models.ParamValue{
		"period":    models.IntParam(p.Period),
		"deviation": models.FloatParam(p.Deviation),
	}
}

func (p MeanReversionParams) Validate() error {
	if p.Period < 2 {
		return errors.New("mean_reversion: period должен быть не меньше 2")
	}
	if p.Deviation <= 0 {
		return errors.New("mean_reversion: deviation должен быть положительным")
	}
	return nil
}

// BreakoutParams пробой канала Дончиана за Period предыдущих свечей
type BreakoutParams struct {
	Period int
}

func (BreakoutParams) isParams()       {}
func (BreakoutParams) Kind() Kind      { return KindBreakout }
func (p BreakoutParams) Lookback() int { return p.Period + 1 }

func (p BreakoutParams) Snapshot() map[string]models.ParamValue {
	return map[string]models.ParamValue{
		"period": models.IntParam(p.Period),
	}
}

func (p BreakoutParams) Validate() error {
	if p.Period < 2 {
		return errors.New("breakout: period должен быть не меньше 2")
	}
	return nil
}

// ScalpingParams спред быстрой и медленной EMA в процентах
type ScalpingParams struct {
	FastPeriod int
	SlowPeriod int
	MinSpread  float64
}

func (ScalpingParams) isParams()  {}
func (ScalpingParams) Kind() Kind { return KindScalping }

// Lookback две медленных EMA, чтобы сгладить разгон
func (p ScalpingParams) Lookback() int { return 2 * p.SlowPeriod }

func (p ScalpingParams) Snapshot() map[string]models.ParamValue {
	return map[string]models.ParamValue{
		"fast_period": models.IntParam(p.FastPeriod),
		"slow_period": models.IntParam(p.SlowPeriod),
		"min_spread":  models.FloatParam(p.MinSpread),
	}
}

func (p ScalpingParams) Validate() error {
	if p.FastPeriod < 2 || p.SlowPeriod <= p.FastPeriod {
		return errors.New("scalping: требуется 2 <= fast_period < slow_period")
	}
	if p.MinSpread < 0 {
		return errors.New("scalping: min_spread не может быть отрицательным")
	}
	return nil
}
