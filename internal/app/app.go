// Package app собирает трекер из fx-модулей.
package app

import (
	"context"

	"github.com/skalibog/tradetracker/internal/config"
	"github.com/skalibog/tradetracker/internal/events"
	"github.com/skalibog/tradetracker/internal/exchange"
	"github.com/skalibog/tradetracker/internal/storage"
	"github.com/skalibog/tradetracker/internal/strategy"
	"github.com/skalibog/tradetracker/internal/tracker"
	"github.com/skalibog/tradetracker/internal/ui"
	"github.com/skalibog/tradetracker/pkg/logger"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// New приложение с уже загруженной конфигурацией
func New(cfg *config.Config, extra ...fx.Option) *fx.App {
	return fx.New(Options(cfg, extra...))
}

// Options все модули приложения
func Options(cfg *config.Config, extra ...fx.Option) fx.Option {
	opts := []fx.Option{
		fx.Supply(cfg),
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.GetLogger()}
		}),
		EventsModule(),
		ExchangeModule(),
		StorageModule(),
		StrategyModule(),
		TrackerModule(),
		UIModule(),
	}
	return fx.Options(append(opts, extra...)...)
}

func EventsModule() fx.Option {
	return fx.Module("events",
		fx.Provide(
			events.NewBus,
			func(b *events.Bus) events.Publisher { return b },
		),
	)
}

func ExchangeModule() fx.Option {
	return fx.Module("exchange",
		fx.Provide(
			func(cfg *config.Config) exchange.Gateway {
				return exchange.NewBinanceClient(cfg.Binance, cfg.Tracker.RequestTimeout())
			},
		),
	)
}

func StorageModule() fx.Option {
	return fx.Module("storage",
		fx.Provide(
			func(cfg *config.Config) (storage.Recorder, error) {
				ctx, cancel := context.WithTimeout(context.Background(), cfg.Tracker.RequestTimeout())
				defer cancel()
				return storage.New(ctx, cfg.Storage)
			},
		),
	)
}

func StrategyModule() fx.Option {
	return fx.Module("strategy",
		fx.Provide(
			func(cfg *config.Config) (*strategy.Registry, error) {
				return strategy.NewDefaultRegistry(cfg.Strategies)
			},
		),
	)
}

// TrackerModule трекер; Stop закрывает и хранилище истории
func TrackerModule() fx.Option {
	return fx.Module("tracker",
		fx.Provide(
			func(cfg *config.Config, gw exchange.Gateway, reg *strategy.Registry, rec storage.Recorder, pub events.Publisher) *tracker.Tracker {
				return tracker.New(tracker.Options{Config: cfg, Gateway: gw, Registry: reg, Recorder: rec, Events: pub})
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, t *tracker.Tracker) {
			lc.Append(fx.Hook{
				OnStart: t.Start,
				OnStop: func(context.Context) error {
					t.Stop()
					return nil
				},
			})
		}),
	)
}

// UIModule панель в терминале; выход из панели завершает приложение
func UIModule() fx.Option {
	return fx.Module("ui",
		fx.Provide(
			func(cfg *config.Config, t *tracker.Tracker, bus *events.Bus) *ui.Dashboard {
				return ui.NewDashboard(cfg.UI, t, bus, cfg.Tracker.EventBuffer)
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, sd fx.Shutdowner, cfg *config.Config, d *ui.Dashboard) {
			if !cfg.UI.Enabled {
				logger.Info("Панель отключена, работа без интерфейса")
				return
			}

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						defer close(done)
						if err := d.Run(ctx); err != nil {
							logger.Error("Ошибка панели", zap.Error(err))
						}
						if ctx.Err() != nil {
							return
						}
						if err := sd.Shutdown(); err != nil {
							logger.Warn("Ошибка завершения приложения", zap.Error(err))
						}
					}()
					return nil
				},
				OnStop: func(context.Context) error {
					cancel()
					<-done
					return nil
				},
			})
		}),
	)
}
