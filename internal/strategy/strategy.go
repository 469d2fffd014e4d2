// Package strategy торговые стратегии: чистые функции от окна свечей и параметров к сигналу.
package strategy

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/skalibog/tradetracker/pkg/models"
)

// ErrInsufficientData в окне меньше свечей, чем требует стратегия
var ErrInsufficientData = errors.New("недостаточно данных")

// DataInsufficientError подробности нехватки данных
type DataInsufficientError struct {
	Strategy string
	Need     int
	Have     int
}

func (e *DataInsufficientError) Error() string {
	return fmt.Sprintf("%s: недостаточно данных: нужно %d свечей, есть %d", e.Strategy, e.Need, e.Have)
}

func (e *DataInsufficientError) Is(target error) bool {
	return target == ErrInsufficientData
}

// Kind вид стратегии
type Kind string

const (
	KindMomentum      Kind = "momentum"
	KindStick         Kind = "stick"
	KindMeanReversion Kind = "mean_reversion"
	KindBreakout      Kind = "breakout"
	KindScalping      Kind = "scalping"
)

// Params параметры конкретного вида стратегии. Реализуется только типами этого пакета.
type Params interface {
	Kind() Kind
	// Lookback минимальное число свечей для оценки
	Lookback() int
	Snapshot() map[string]models.ParamValue
	Validate() error
	isParams()
}

// Strategy именованная стратегия с параметрами
type Strategy struct {
	ID     string
	Name   string
	Params Params
}

// Lookback минимальное число свечей для оценки
func (s Strategy) Lookback() int {
	return s.Params.Lookback()
}

// Evaluate оценивает окно свечей. Результат зависит только от окна и параметров,
// кроме ID сигнала. Окно упорядочено по времени, используются последние Lookback свечей.
func (s Strategy) Evaluate(symbol string, window []models.Candle) (models.Signal, error) {
	need := s.Params.Lookback()
	if len(window) < need {
		return models.Signal{}, &DataInsufficientError{Strategy: s.ID, Need: need, Have: len(window)}
	}
	window = window[len(window)-need:]

	var (
		signalType models.SignalType
		strength   float64
	)
	switch p := s.Params.(type) {
	case MomentumParams:
		signalType, strength = evaluateMomentum(p, window)
	case StickParams:
		signalType, strength = evaluateStick(p, window)
	case MeanReversionParams:
		signalType, strength = evaluateMeanReversion(p, window)
	case BreakoutParams:
		signalType, strength = evaluateBreakout(p, window)
	case ScalpingParams:
		signalType, strength = evaluateScalping(p, window)
	default:
		return models.Signal{}, fmt.Errorf("неизвестный вид стратегии %T", s.Params)
	}

	if signalType == models.SignalNeutral {
		strength = 0
	}

	return models.Signal{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		StrategyID: s.ID,
		Type:       signalType,
		Strength:   strength,
		Timestamp:  window[len(window)-1].OpenTime,
		Params:     s.Params.Snapshot(),
	}, nil
}

// classify переводит показатель x и порог threshold в тип и силу сигнала.
// Сила 1 достигается при |x| вдвое больше порога.
func classify(x, threshold float64) (models.SignalType, float64) {
	switch {
	case x >= threshold && x > 0:
		return models.SignalLong, scaleStrength(x, threshold)
	case x <= -threshold && x < 0:
		return models.SignalShort, scaleStrength(x, threshold)
	default:
		return models.SignalNeutral, 0
	}
}

func scaleStrength(x, threshold float64) float64 {
	return clamp01(math.Abs(x) / (2 * math.Max(threshold, 0.1)))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func closes(window []models.Candle) []float64 {
	out := make([]float64, len(window))
	for i, c := range window {
		out[i] = c.Close.InexactFloat64()
	}
	return out
}

func pctChange(from, to float64) float64 {
	if from == 0 {
		return 0
	}
	return (to - from) / from * 100
}
