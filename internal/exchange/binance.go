package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"github.com/skalibog/tradetracker/internal/config"
	"github.com/skalibog/tradetracker/internal/symbol"
	"github.com/skalibog/tradetracker/pkg/logger"
	"github.com/skalibog/tradetracker/pkg/models"
	"go.uber.org/zap"
)

// ErrNoCredentials запрос аккаунта без ключей API
var ErrNoCredentials = errors.New("не заданы ключи API")

// BinanceClient клиент для взаимодействия с Binance: рыночные данные со спота,
// позиции с фьючерсов
type BinanceClient struct {
	futures        *futures.Client
	spot           *binance.Client
	requestTimeout time.Duration
	hasCredentials bool
}

// NewBinanceClient создает новый клиент Binance
func NewBinanceClient(cfg config.BinanceConfig, requestTimeout time.Duration) *BinanceClient {
	if cfg.Testnet {
		binance.UseTestnet = true
		futures.UseTestnet = true
	}
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}

	return &BinanceClient{
		futures:        futures.NewClient(cfg.APIKey, cfg.APISecret),
		spot:           binance.NewClient(cfg.APIKey, cfg.APISecret),
		requestTimeout: requestTimeout,
		hasCredentials: cfg.HasCredentials(),
	}
}

func (c *BinanceClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.requestTimeout)
}

// GetCandles получает исторические свечи
func (c *BinanceClient) GetCandles(ctx context.Context, sym, interval string, limit int) ([]models.Candle, error) {
	if err := symbol.Validate(sym); err != nil {
		return nil, err
	}
	if !ValidInterval(interval) {
		return nil, fmt.Errorf("неподдерживаемый интервал %q", interval)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	klines, err := c.spot.NewKlinesService().
		Symbol(sym).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, wrap("klines", sym, err)
	}

	now := time.Now()
	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		candle, err := parseKline(k.OpenTime, k.CloseTime, k.Open, k.High, k.Low, k.Close, k.Volume, now)
		if err != nil {
			return nil, wrap("klines", sym, err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// GetTicker последняя цена символа
func (c *BinanceClient) GetTicker(ctx context.Context, sym string) (models.Tick, error) {
	if err := symbol.Validate(sym); err != nil {
		return models.Tick{}, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	prices, err := c.spot.NewListPricesService().Symbol(sym).Do(ctx)
	if err != nil {
		return models.Tick{}, wrap("ticker", sym, err)
	}
	if len(prices) == 0 {
		return models.Tick{}, wrap("ticker", sym, errors.New("пустой ответ"))
	}

	price, err := decimal.NewFromString(prices[0].Price)
	if err != nil {
		return models.Tick{}, wrap("ticker", sym, err)
	}
	return models.Tick{Symbol: sym, Price: price, Timestamp: time.Now()}, nil
}

// Get24hStats статистика за сутки по символу
func (c *BinanceClient) Get24hStats(ctx context.Context, sym string) (models.DayStats, error) {
	if err := symbol.Validate(sym); err != nil {
		return models.DayStats{}, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	stats, err := c.spot.NewListPriceChangeStatsService().Symbol(sym).Do(ctx)
	if err != nil {
		return models.DayStats{}, wrap("24h stats", sym, err)
	}
	if len(stats) == 0 {
		return models.DayStats{}, wrap("24h stats", sym, errors.New("пустой ответ"))
	}
	return toDayStats(stats[0]), nil
}

// GetAll24hStats статистика за сутки по всем символам
func (c *BinanceClient) GetAll24hStats(ctx context.Context) ([]models.DayStats, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	stats, err := c.spot.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, wrap("24h stats", "", err)
	}

	out := make([]models.DayStats, 0, len(stats))
	for _, s := range stats {
		out = append(out, toDayStats(s))
	}
	return out, nil
}

func toDayStats(s *binance.PriceChangeStats) models.DayStats {
	return models.DayStats{
		Symbol:    s.Symbol,
		LastPrice: decimalOrZero(s.LastPrice),
		ChangePct: decimalOrZero(s.PriceChangePercent),
		Volume:    decimalOrZero(s.Volume),
		CloseTime: time.UnixMilli(s.CloseTime).UTC(),
	}
}

// SubscribeTicks подписывается на поток суточной статистики по списку символов
func (c *BinanceClient) SubscribeTicks(ctx context.Context, symbols []string, onTick func(models.Tick), onErr func(error)) (<-chan struct{}, error) {
	if len(symbols) == 0 {
		return nil, errors.New("пустой список символов")
	}
	for _, s := range symbols {
		if err := symbol.Validate(s); err != nil {
			return nil, err
		}
	}

	handler := func(e *binance.WsMarketStatEvent) {
		onTick(models.Tick{
			Symbol:    e.Symbol,
			Price:     decimalOrZero(e.LastPrice),
			Volume:    decimalOrZero(e.BaseVolume),
			ChangePct: decimalOrZero(e.PriceChangePercent),
			Timestamp: time.UnixMilli(e.Time).UTC(),
		})
	}
	errHandler := func(err error) {
		onErr(wrap("ticker stream", strings.Join(symbols, ","), err))
	}

	doneC, stopC, err := binance.WsCombinedMarketStatServe(symbols, handler, errHandler)
	if err != nil {
		return nil, wrap("ticker stream", "", err)
	}
	go stopOnCancel(ctx, doneC, stopC)
	return doneC, nil
}

// SubscribeCandles подписывается на поток свечей символа
func (c *BinanceClient) SubscribeCandles(ctx context.Context, sym, interval string, onUpdate func(models.CandleUpdate), onErr func(error)) (<-chan struct{}, error) {
	if err := symbol.Validate(sym); err != nil {
		return nil, err
	}

	handler := func(e *binance.WsKlineEvent) {
		k := e.Kline
		candle, err := parseKline(k.StartTime, k.EndTime, k.Open, k.High, k.Low, k.Close, k.Volume, time.Now())
		if err != nil {
			logger.Warn("Ошибка разбора свечи из потока", zap.String("symbol", sym), zap.Error(err))
			return
		}
		candle.Closed = k.IsFinal
		onUpdate(models.CandleUpdate{Symbol: sym, Interval: interval, Candle: candle, IsClosed: k.IsFinal})
	}
	errHandler := func(err error) {
		onErr(wrap("kline stream", sym, err))
	}

	doneC, stopC, err := binance.WsKlineServe(sym, interval, handler, errHandler)
	if err != nil {
		return nil, wrap("kline stream", sym, err)
	}
	go stopOnCancel(ctx, doneC, stopC)
	return doneC, nil
}

func stopOnCancel(ctx context.Context, doneC, stopC chan struct{}) {
	select {
	case <-ctx.Done():
		close(stopC)
	case <-doneC:
	}
}

// GetAccountBalances балансы спотового аккаунта
func (c *BinanceClient) GetAccountBalances(ctx context.Context) ([]models.Balance, error) {
	if !c.hasCredentials {
		return nil, wrap("account", "", ErrNoCredentials)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	account, err := c.spot.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, wrap("account", "", err)
	}

	balances := make([]models.Balance, 0, len(account.Balances))
	for _, b := range account.Balances {
		balances = append(balances, models.Balance{
			Asset:  b.Asset,
			Free:   decimalOrZero(b.Free),
			Locked: decimalOrZero(b.Locked),
		})
	}
	return balances, nil
}

// GetOpenPositions ненулевые фьючерсные позиции
func (c *BinanceClient) GetOpenPositions(ctx context.Context) ([]models.Position, error) {
	if !c.hasCredentials {
		return nil, wrap("positions", "", ErrNoCredentials)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	risks, err := c.futures.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, wrap("positions", "", err)
	}

	var positions []models.Position
	for _, r := range risks {
		amt := decimalOrZero(r.PositionAmt)
		if amt.IsZero() {
			continue
		}
		positions = append(positions, models.Position{
			Symbol:      r.Symbol,
			PositionAmt: amt,
			MarkPrice:   decimalOrZero(r.MarkPrice),
			Leverage:    decimalOrZero(r.Leverage),
		})
	}
	return positions, nil
}

func decimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
