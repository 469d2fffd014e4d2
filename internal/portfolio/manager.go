package portfolio

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/skalibog/tradetracker/internal/events"
	"github.com/skalibog/tradetracker/internal/exchange"
	"github.com/skalibog/tradetracker/internal/symbol"
	"github.com/skalibog/tradetracker/pkg/logger"
	"github.com/skalibog/tradetracker/pkg/models"
	"go.uber.org/zap"
)

// FileName имя файла портфеля в каталоге данных
const FileName = "portfolio.json"

// ErrWindowUnsupported окно изменения цены не поддерживается
var ErrWindowUnsupported = errors.New("окно изменения цены не поддерживается")

var hundred = decimal.NewFromInt(100)

// StrategyView источник назначенных стратегий для отображения
type StrategyView interface {
	StrategiesFor(symbol string) []string
}

// Manager портфель с сохранением на диск и синхронизацией с биржей
type Manager struct {
	portfolio  *Portfolio
	path       string
	gateway    exchange.Gateway
	events     events.Publisher
	strategies StrategyView
}

// ManagerOptions зависимости Manager
type ManagerOptions struct {
	DataDir    string
	Gateway    exchange.Gateway
	Events     events.Publisher
	Strategies StrategyView
}

// NewManager загружает портфель из каталога данных. Ошибка загрузки не фатальна.
func NewManager(opts ManagerOptions) *Manager {
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	path := filepath.Join(opts.DataDir, FileName)

	p, err := Load(path)
	if err != nil {
		logger.Error("Ошибка загрузки портфеля, используются списки по умолчанию", zap.String("path", path), zap.Error(err))
	} else {
		logger.Info("Загружен портфель", zap.String("path", path), zap.Strings("watchlists", p.Watchlists()))
	}

	return &Manager{
		portfolio:  p,
		path:       path,
		gateway:    opts.Gateway,
		events:     opts.Events,
		strategies: opts.Strategies,
	}
}

// Portfolio модель портфеля
func (m *Manager) Portfolio() *Portfolio {
	return m.portfolio
}

// SetStrategyView задает источник назначений после создания
func (m *Manager) SetStrategyView(v StrategyView) {
	m.strategies = v
}

// Save сохраняет портфель. Состояние в памяти при ошибке не откатывается.
func (m *Manager) Save() error {
	if err := m.portfolio.Save(m.path); err != nil {
		logger.Error("Ошибка сохранения портфеля", zap.String("path", m.path), zap.Error(err))
		return err
	}
	return nil
}

func (m *Manager) saveAndNotify(watchlist string) {
	_ = m.Save()
	m.events.Publish(events.WatchlistChanged{Name: watchlist})
}

func (m *Manager) CreateWatchlist(name string) bool {
	if !m.portfolio.CreateWatchlist(name) {
		return false
	}
	m.saveAndNotify(name)
	return true
}

func (m *Manager) DeleteWatchlist(name string) bool {
	if !m.portfolio.DeleteWatchlist(name) {
		return false
	}
	m.saveAndNotify(name)
	return true
}

func (m *Manager) SetActiveWatchlist(name string) bool {
	if !m.portfolio.SetActiveWatchlist(name) {
		return false
	}
	m.saveAndNotify(name)
	return true
}

// AddToWatchlist добавляет символ в список (пустое имя означает активный),
// создает актив и запрашивает его цену
func (m *Manager) AddToWatchlist(ctx context.Context, name, sym string) bool {
	sym = strings.ToUpper(strings.TrimSpace(sym))
	if !symbol.Valid(sym) {
		return false
	}
	if name == "" {
		name = m.portfolio.ActiveWatchlist()
	}
	if !m.portfolio.AddToWatchlist(name, sym) {
		return false
	}

	if _, ok := m.portfolio.Asset(sym); !ok {
		m.portfolio.AddAsset(NewAsset(sym, Spot))
		if err := m.FetchPrice(ctx, sym); err != nil {
			logger.Warn("Ошибка получения цены актива", zap.String("symbol", sym), zap.Error(err))
		}
	}
	m.saveAndNotify(name)
	return true
}

func (m *Manager) RemoveFromWatchlist(name, sym string) bool {
	if name == "" {
		name = m.portfolio.ActiveWatchlist()
	}
	if !m.portfolio.RemoveFromWatchlist(name, sym) {
		return false
	}
	m.saveAndNotify(name)
	return true
}

// FetchPrice запрашивает цену и суточную статистику актива
func (m *Manager) FetchPrice(ctx context.Context, sym string) error {
	if m.gateway == nil {
		return nil
	}
	clean := symbol.Normalize(sym)

	tick, err := m.gateway.GetTicker(ctx, clean)
	if err != nil {
		m.reportGatewayError(clean, err)
		return err
	}

	price := models.AssetPrice{Symbol: sym, Price: tick.Price, Timestamp: time.Now()}
	if stats, err := m.gateway.Get24hStats(ctx, clean); err == nil {
		price.Change24h = stats.ChangePct.Div(hundred)
		price.Volume24h = stats.Volume
		price.Timestamp = stats.CloseTime
	} else {
		logger.Debug("Нет суточной статистики", zap.String("symbol", clean), zap.Error(err))
	}

	if m.portfolio.ApplyPrice(price) {
		m.events.Publish(events.PriceUpdated{Price: price})
	}
	return nil
}

// RefreshPrices обновляет цены всех активов
func (m *Manager) RefreshPrices(ctx context.Context) error {
	var errs []error
	for _, a := range m.portfolio.Assets() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := m.FetchPrice(ctx, a.Symbol); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HandleTick применяет тик из потока к активу
func (m *Manager) HandleTick(t models.Tick) {
	ts := t.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	price := models.AssetPrice{
		Symbol:    t.Symbol,
		Price:     t.Price,
		Timestamp: ts,
		Change24h: t.ChangePct.Div(hundred),
		Volume24h: t.Volume,
	}
	if m.portfolio.ApplyPrice(price) {
		m.events.Publish(events.PriceUpdated{Price: price})
	}
}

// SyncBalances переносит ненулевые балансы аккаунта в активы <ASSET>USDT
func (m *Manager) SyncBalances(ctx context.Context) error {
	if m.gateway == nil {
		return nil
	}
	balances, err := m.gateway.GetAccountBalances(ctx)
	if err != nil {
		m.reportGatewayError("account", err)
		return fmt.Errorf("ошибка синхронизации балансов: %w", err)
	}

	var synced []string
	for _, b := range balances {
		total := b.Total()
		if !total.IsPositive() {
			continue
		}
		sym := b.Asset + "USDT"
		if !m.portfolio.UpdateAsset(sym, func(a *Asset) { a.Balance = total }) {
			a := NewAsset(sym, Spot)
			a.Balance = total
			m.portfolio.AddAsset(a)
		}
		synced = append(synced, sym)
	}

	for _, sym := range synced {
		if err := m.FetchPrice(ctx, sym); err != nil {
			logger.Debug("Нет цены для баланса", zap.String("symbol", sym), zap.Error(err))
		}
	}

	logger.Info("Балансы синхронизированы", zap.Int("assets", len(synced)))
	m.events.Publish(events.PortfolioUpdated{})
	_ = m.Save()
	return nil
}

// RefreshFuturesPositions перестраивает futures_positions по открытым позициям.
// При ошибке шлюза список не меняется.
func (m *Manager) RefreshFuturesPositions(ctx context.Context) error {
	if m.gateway == nil {
		return nil
	}
	positions, err := m.gateway.GetOpenPositions(ctx)
	if err != nil {
		m.reportGatewayError("positions", err)
		return fmt.Errorf("ошибка получения позиций: %w", err)
	}

	symbols := m.portfolio.RebuildFuturesPositions(positions)
	for _, pos := range positions {
		if pos.PositionAmt.IsZero() || pos.MarkPrice.IsZero() {
			continue
		}
		// до первого тика цена берется из цены маркировки
		m.portfolio.UpdateAsset(pos.Symbol, func(a *Asset) {
			if a.Price == nil {
				a.Price = &models.AssetPrice{Symbol: pos.Symbol, Price: pos.MarkPrice, Timestamp: time.Now()}
			}
		})
	}

	logger.Debug("Фьючерсные позиции обновлены", zap.Strings("symbols", symbols))
	m.events.Publish(events.WatchlistChanged{Name: FuturesWatchlist})
	m.events.Publish(events.PortfolioUpdated{})
	return nil
}

// TopMovers активы с наибольшим ростом за окно для пар с котировкой quote.
// Поддерживается только "24h".
func (m *Manager) TopMovers(ctx context.Context, window, quote string, limit int) ([]Asset, error) {
	if window != "24h" {
		// TODO: поддержать "4h", посчитав change4h по свечам 4h через GetCandles
		return nil, fmt.Errorf("%w: %s", ErrWindowUnsupported, window)
	}
	if m.gateway == nil {
		return nil, nil
	}
	if quote == "" {
		quote = "USDT"
	}

	stats, err := m.gateway.GetAll24hStats(ctx)
	if err != nil {
		m.reportGatewayError("24h stats", err)
		return nil, err
	}

	filtered := stats[:0:0]
	for _, s := range stats {
		if strings.HasSuffix(s.Symbol, quote) {
			filtered = append(filtered, s)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].ChangePct.GreaterThan(filtered[j].ChangePct)
	})
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}

	out := make([]Asset, 0, len(filtered))
	for _, s := range filtered {
		if _, ok := m.portfolio.Asset(s.Symbol); !ok {
			m.portfolio.AddAsset(NewAsset(s.Symbol, Spot))
		}
		m.portfolio.ApplyPrice(models.AssetPrice{
			Symbol:    s.Symbol,
			Price:     s.LastPrice,
			Timestamp: s.CloseTime,
			Change24h: s.ChangePct.Div(hundred),
			Volume24h: s.Volume,
		})
		a, _ := m.portfolio.Asset(s.Symbol)
		out = append(out, m.withStrategies(a))
	}
	return out, nil
}

// Assets активы с назначенными стратегиями
func (m *Manager) Assets() []Asset {
	assets := m.portfolio.Assets()
	for i := range assets {
		assets[i] = m.withStrategies(assets[i])
	}
	return assets
}

// WatchlistAssets активы списка с назначенными стратегиями
func (m *Manager) WatchlistAssets(name string) []Asset {
	assets := m.portfolio.WatchlistAssets(name)
	for i := range assets {
		assets[i] = m.withStrategies(assets[i])
	}
	return assets
}

func (m *Manager) withStrategies(a Asset) Asset {
	if m.strategies == nil {
		return a
	}
	ids := m.strategies.StrategiesFor(a.Symbol)
	if a.IsLong || a.IsShort {
		if display := m.strategies.StrategiesFor(a.DisplaySymbol()); len(display) > 0 {
			ids = append(append([]string(nil), ids...), display...)
		}
	}
	a.Strategies = ids
	return a
}

func (m *Manager) reportGatewayError(key string, err error) {
	var gerr *exchange.GatewayError
	if errors.As(err, &gerr) {
		m.events.Publish(events.ConnectionStatus{Key: key, Connected: false, Err: err})
	}
}
