package models

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Candle представляет свечу (OHLCV) одного интервала
type Candle struct {
	OpenTime  time.Time
	CloseTime time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	// Closed свеча закрыта и больше не меняется
	Closed bool
}

// CandleUpdate обновление свечи из потока
type CandleUpdate struct {
	Symbol   string
	Interval string
	Candle   Candle
	IsClosed bool
}

// Tick обновление последней цены из потока тикеров
type Tick struct {
	Symbol    string
	Price     decimal.Decimal
	Volume    decimal.Decimal
	ChangePct decimal.Decimal
	Timestamp time.Time
}

// AssetPrice цена и связанные данные актива. Заменяется целиком при каждом обновлении.
type AssetPrice struct {
	Symbol    string
	Price     decimal.Decimal
	Timestamp time.Time
	Change24h decimal.Decimal // доля, 0.05 = 5%
	Change4h  decimal.Decimal
	Volume24h decimal.Decimal
}

// DayStats статистика за 24 часа
type DayStats struct {
	Symbol    string
	LastPrice decimal.Decimal
	ChangePct decimal.Decimal // в процентах, как отдаёт биржа
	Volume    decimal.Decimal
	CloseTime time.Time
}

// Balance баланс актива на споте
type Balance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// Total свободный + заблокированный
func (b Balance) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}

// Position открытая фьючерсная позиция
type Position struct {
	Symbol      string
	PositionAmt decimal.Decimal
	MarkPrice   decimal.Decimal
	Leverage    decimal.Decimal
}

// SignalType направление сигнала
type SignalType string

const (
	SignalLong    SignalType = "LONG"
	SignalShort   SignalType = "SHORT"
	SignalNeutral SignalType = "NEUTRAL"
)

// ParamType тип значения параметра стратегии
type ParamType int

const (
	ParamInt ParamType = iota
	ParamFloat
	ParamString
)

// ParamValue типизированное значение параметра
type ParamValue struct {
	Type  ParamType
	Int   int
	Float float64
	Str   string
}

func IntParam(v int) ParamValue       { return ParamValue{Type: ParamInt, Int: v} }
func FloatParam(v float64) ParamValue { return ParamValue{Type: ParamFloat, Float: v} }
func StringParam(v string) ParamValue { return ParamValue{Type: ParamString, Str: v} }

func (p ParamValue) String() string {
	switch p.Type {
	case ParamInt:
		return strconv.Itoa(p.Int)
	case ParamFloat:
		return strconv.FormatFloat(p.Float, 'f', -1, 64)
	default:
		return p.Str
	}
}

// Signal результат оценки стратегии. Не изменяется после создания:
// новая оценка порождает новый сигнал.
type Signal struct {
	ID         string
	Symbol     string
	StrategyID string
	Type       SignalType
	Strength   float64 // 0..1
	Timestamp  time.Time
	Params     map[string]ParamValue
}

// Key ключ сигнала в кэше
func (s Signal) Key() SignalKey {
	return SignalKey{Symbol: s.Symbol, StrategyID: s.StrategyID}
}

func (s Signal) String() string {
	return fmt.Sprintf("%s/%s %s (%.2f)", s.Symbol, s.StrategyID, s.Type, s.Strength)
}

// SignalKey пара (символ, стратегия)
type SignalKey struct {
	Symbol     string
	StrategyID string
}
