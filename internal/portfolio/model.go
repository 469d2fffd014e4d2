// Package portfolio активы, балансы и списки наблюдения.
package portfolio

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/skalibog/tradetracker/internal/symbol"
	"github.com/skalibog/tradetracker/pkg/models"
)

// Зарезервированные списки наблюдения
const (
	DefaultWatchlist = "default"
	FuturesWatchlist = "futures_positions"
)

// AssetType тип актива
type AssetType string

const (
	Spot    AssetType = "SPOT"
	Futures AssetType = "FUTURES"
	Margin  AssetType = "MARGIN"
)

// Asset актив портфеля. Один актив на биржевой символ.
type Asset struct {
	Symbol   string
	Type     AssetType
	Balance  decimal.Decimal
	Price    *models.AssetPrice
	IsLong   bool
	IsShort  bool
	Leverage decimal.Decimal
	// Strategies только для отображения, источник истины хранилище назначений
	Strategies []string
}

// NewAsset создает актив с плечом 1
func NewAsset(sym string, t AssetType) Asset {
	return Asset{Symbol: sym, Type: t, Leverage: decimal.NewFromInt(1)}
}

// Value стоимость в котируемой валюте
func (a Asset) Value() decimal.Decimal {
	if a.Price == nil {
		return decimal.Zero
	}
	return a.Balance.Mul(a.Price.Price)
}

// DisplaySymbol символ с направлением позиции и плечом
func (a Asset) DisplaySymbol() string {
	return symbol.Display(a.Symbol, a.IsLong, a.IsShort, a.Leverage)
}

// PositionType LONG, SHORT или пустая строка
func (a Asset) PositionType() string {
	switch {
	case a.IsLong:
		return "LONG"
	case a.IsShort:
		return "SHORT"
	default:
		return ""
	}
}

// Watchlist именованный набор символов
type Watchlist struct {
	Name      string
	Symbols   []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Contains входит ли символ в список
func (w Watchlist) Contains(sym string) bool {
	for _, s := range w.Symbols {
		if s == sym {
			return true
		}
	}
	return false
}

// файл portfolio.json
type fileState struct {
	ActiveWatchlist string                   `json:"active_watchlist"`
	Watchlists      map[string]fileWatchlist `json:"watchlists"`
}

type fileWatchlist struct {
	Name      string    `json:"name"`
	Symbols   []string  `json:"symbols"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
