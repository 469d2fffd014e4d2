// Package ui терминальная панель: цены активного списка и сигналы стратегий.
package ui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
	"github.com/skalibog/tradetracker/internal/config"
	"github.com/skalibog/tradetracker/internal/events"
	"github.com/skalibog/tradetracker/internal/portfolio"
	"github.com/skalibog/tradetracker/pkg/logger"
	"github.com/skalibog/tradetracker/pkg/models"
	"go.uber.org/zap"
)

// сколько последних событий держим в ленте
const maxEventLines = 50

// Стили UI
var (
	primaryColor   = lipgloss.Color("#0077cc")
	secondaryColor = lipgloss.Color("#333333")
	errorColor     = lipgloss.Color("#cc3300")
	successColor   = lipgloss.Color("#33cc33")
	warningColor   = lipgloss.Color("#cccc00")

	appStyle = lipgloss.NewStyle().
			Padding(1, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor)
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			Background(primaryColor).
			Padding(0, 1).
			Align(lipgloss.Center)
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			Background(secondaryColor).
			Padding(0, 1)
	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(secondaryColor).
			Padding(0, 1)
	activeTabStyle   = lipgloss.NewStyle().Bold(true).Foreground(primaryColor).Underline(true)
	inactiveTabStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	selectedStyle    = lipgloss.NewStyle().Background(lipgloss.Color("#222222"))
	footerStyle      = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#999999")).
				Padding(0, 1)
)

// Source данные для панели
type Source interface {
	ActiveWatchlist() string
	Watchlists() []string
	WatchlistAssets(name string) []portfolio.Asset
	SignalsFor(display string) []models.Signal
	SetActiveWatchlist(name string) bool
	TriggerRefresh()
}

// Dashboard терминальная панель, обновляется по событиям шины
type Dashboard struct {
	source      Source
	bus         *events.Bus
	refreshRate time.Duration
	buffer      int

	mu       sync.Mutex
	lines    []string
	statuses map[string]bool
}

// Сообщения для обновления UI
type eventMsg struct{ event events.Event }
type closedMsg struct{}
type tickMsg time.Time

// bubbleModel модель для bubbletea
type bubbleModel struct {
	ui       *Dashboard
	feed     <-chan events.Event
	selected int
	width    int
	height   int
}

// NewDashboard создает панель
func NewDashboard(cfg config.UIConfig, source Source, bus *events.Bus, buffer int) *Dashboard {
	rate := time.Duration(cfg.RefreshRate) * time.Millisecond
	if rate <= 0 {
		rate = time.Second
	}
	return &Dashboard{
		source:      source,
		bus:         bus,
		refreshRate: rate,
		buffer:      buffer,
		lines:       []string{"tradetracker запущен. Ожидание данных..."},
		statuses:    make(map[string]bool),
	}
}

// Run показывает панель до выхода пользователя или отмены ctx
func (d *Dashboard) Run(ctx context.Context) error {
	feed, cancel := d.bus.Subscribe(d.buffer)
	defer cancel()

	p := tea.NewProgram(d.model(feed), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("ошибка UI: %w", err)
	}
	logger.Info("Панель закрыта")
	return nil
}

func (d *Dashboard) model(feed <-chan events.Event) bubbleModel {
	return bubbleModel{ui: d, feed: feed, width: 120, height: 40}
}

func (d *Dashboard) record(e events.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if st, ok := e.(events.ConnectionStatus); ok {
		d.statuses[st.Key] = st.Connected
	}
	line, ok := describe(e)
	if !ok {
		return
	}
	d.lines = append(d.lines, time.Now().Format("15:04:05")+" "+line)
	if len(d.lines) > maxEventLines {
		d.lines = d.lines[len(d.lines)-maxEventLines:]
	}
}

func (d *Dashboard) snapshot() ([]string, int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	down := 0
	for _, ok := range d.statuses {
		if !ok {
			down++
		}
	}
	return append([]string(nil), d.lines...), down
}

// describe строка ленты для события; цены и свечи в ленту не попадают
func describe(e events.Event) (string, bool) {
	switch ev := e.(type) {
	case events.SignalGenerated:
		return fmt.Sprintf("[SIGNAL] %s %s: %s (%.2f)", ev.Signal.Symbol, ev.Signal.StrategyID, ev.Signal.Type, ev.Signal.Strength), true
	case events.SignalRemoved:
		return fmt.Sprintf("[SIGNAL] %s %s снят", ev.Key.Symbol, ev.Key.StrategyID), true
	case events.WatchlistChanged:
		return fmt.Sprintf("[INFO] список %s изменен", ev.Name), true
	case events.PortfolioUpdated:
		return "[INFO] портфель обновлен", true
	case events.ConnectionStatus:
		if ev.Connected {
			return fmt.Sprintf("[INFO] %s подключен", ev.Key), true
		}
		return fmt.Sprintf("[ERROR] %s отключен: %v", ev.Key, ev.Err), true
	default:
		return "", false
	}
}

func waitEvent(feed <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-feed
		if !ok {
			return closedMsg{}
		}
		return eventMsg{event: e}
	}
}

func tick(rate time.Duration) tea.Cmd {
	return tea.Tick(rate, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Методы для bubbletea
func (m bubbleModel) Init() tea.Cmd {
	return tea.Batch(waitEvent(m.feed), tick(m.ui.refreshRate))
}

func (m bubbleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up":
			m.selected = max(0, m.selected-1)
		case "down":
			n := len(m.ui.source.WatchlistAssets(m.ui.source.ActiveWatchlist()))
			m.selected = max(0, min(n-1, m.selected+1))
		case "tab":
			m.nextWatchlist()
			m.selected = 0
		case "r":
			m.ui.source.TriggerRefresh()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case eventMsg:
		m.ui.record(msg.event)
		return m, waitEvent(m.feed)

	case closedMsg:
		return m, nil

	case tickMsg:
		return m, tick(m.ui.refreshRate)
	}

	return m, nil
}

func (m bubbleModel) nextWatchlist() {
	names := m.ui.source.Watchlists()
	if len(names) == 0 {
		return
	}
	active := m.ui.source.ActiveWatchlist()
	next := names[0]
	for i, n := range names {
		if n == active {
			next = names[(i+1)%len(names)]
			break
		}
	}
	if !m.ui.source.SetActiveWatchlist(next) {
		logger.Warn("Не удалось переключить список", zap.String("watchlist", next))
	}
}

func (m bubbleModel) View() string {
	lines, down := m.ui.snapshot()
	active := m.ui.source.ActiveWatchlist()

	title := titleStyle.Render("tradetracker - Binance Portfolio & Signals")
	tabs := renderTabs(m.ui.source.Watchlists(), active)
	assets := renderAssets(m.ui.source.WatchlistAssets(active), m.ui.source.SignalsFor, m.selected)
	feed := renderEvents(lines, max(6, m.height/4))

	footer := "Клавиши: ↑/↓ - навигация, Tab - следующий список, R - обновить, Q - выход"
	if down > 0 {
		footer = lipgloss.NewStyle().Foreground(errorColor).Render(fmt.Sprintf("Нет связи: %d", down)) + "  " + footer
	}

	return appStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			title,
			tabs,
			"\n",
			assets,
			"\n",
			feed,
			"\n",
			footerStyle.Render(footer),
		),
	)
}

func renderTabs(names []string, active string) string {
	parts := make([]string, 0, len(names))
	for _, n := range names {
		if n == active {
			parts = append(parts, activeTabStyle.Render(n))
		} else {
			parts = append(parts, inactiveTabStyle.Render(n))
		}
	}
	return strings.Join(parts, " | ")
}

func renderAssets(assets []portfolio.Asset, signalsFor func(string) []models.Signal, selected int) string {
	header := headerStyle.Render("АКТИВЫ")
	content := strings.Builder{}

	if len(assets) == 0 {
		content.WriteString("  Список пуст\n")
	}
	for i, a := range assets {
		display := a.DisplaySymbol()
		line := fmt.Sprintf("  %-22s %14s %9s  %s",
			display, formatPrice(a.Price), formatChange(a.Price), renderSignals(signalsFor(display)))

		if i == selected {
			line = selectedStyle.Render("> " + line[2:])
		}
		content.WriteString(line + "\n")
	}

	return sectionStyle.Render(lipgloss.JoinVertical(lipgloss.Left, header, content.String()))
}

func renderSignals(signals []models.Signal) string {
	parts := make([]string, 0, len(signals))
	for _, s := range signals {
		parts = append(parts, formatSignalText(s))
	}
	return strings.Join(parts, " ")
}

func formatSignalText(s models.Signal) string {
	var style lipgloss.Style

	switch {
	case s.Type == models.SignalLong && s.Strength >= 0.7:
		style = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	case s.Type == models.SignalLong:
		style = lipgloss.NewStyle().Foreground(successColor)
	case s.Type == models.SignalShort && s.Strength >= 0.7:
		style = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	case s.Type == models.SignalShort:
		style = lipgloss.NewStyle().Foreground(errorColor)
	default:
		style = lipgloss.NewStyle().Foreground(warningColor)
	}

	return style.Render(fmt.Sprintf("%s:%s", s.StrategyID, s.Type))
}

func formatPrice(p *models.AssetPrice) string {
	if p == nil {
		return "-"
	}
	return p.Price.StringFixed(4)
}

func formatChange(p *models.AssetPrice) string {
	if p == nil {
		return ""
	}
	pct := p.Change24h.Mul(decimal.NewFromInt(100))
	text := pct.StringFixed(2) + "%"
	switch {
	case pct.IsPositive():
		return lipgloss.NewStyle().Foreground(successColor).Render("+" + text)
	case pct.IsNegative():
		return lipgloss.NewStyle().Foreground(errorColor).Render(text)
	default:
		return text
	}
}

func renderEvents(lines []string, limit int) string {
	header := headerStyle.Render("СОБЫТИЯ")
	content := strings.Builder{}

	start := 0
	if len(lines) > limit {
		start = len(lines) - limit
	}
	for _, line := range lines[start:] {
		switch {
		case strings.Contains(line, "[ERROR]"):
			line = lipgloss.NewStyle().Foreground(errorColor).Render(line)
		case strings.Contains(line, "[SIGNAL]"):
			line = lipgloss.NewStyle().Foreground(successColor).Render(line)
		case strings.Contains(line, "[INFO]"):
			line = lipgloss.NewStyle().Foreground(lipgloss.Color("#9999ff")).Render(line)
		}
		content.WriteString("  " + line + "\n")
	}

	return sectionStyle.Render(lipgloss.JoinVertical(lipgloss.Left, header, content.String()))
}
