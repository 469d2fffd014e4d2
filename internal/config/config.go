package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/skalibog/tradetracker/pkg/logger"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Config представляет полную конфигурацию приложения
type Config struct {
	Binance    BinanceConfig    `yaml:"binance"`
	Tracker    TrackerConfig    `yaml:"tracker"`
	Data       DataConfig       `yaml:"data"`
	Strategies StrategiesConfig `yaml:"strategies"`
	Storage    StorageConfig    `yaml:"storage"`
	UI         UIConfig         `yaml:"ui"`
	Log        LogConfig        `yaml:"log"`
}

// BinanceConfig содержит настройки подключения к Binance
type BinanceConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Testnet   bool   `yaml:"testnet"`
}

// HasCredentials ключи заданы
func (b BinanceConfig) HasCredentials() bool {
	return b.APIKey != "" && b.APISecret != ""
}

// TrackerConfig настройки потоков, свечей и обновления сигналов
type TrackerConfig struct {
	Interval               string `yaml:"interval"`
	BackfillLimit          int    `yaml:"backfill_limit"`
	MaxCandles             int    `yaml:"max_candles"`
	RefreshIntervalSeconds int    `yaml:"refresh_interval_seconds"`
	RequestTimeoutSeconds  int    `yaml:"request_timeout_seconds"`
	AutoResubscribe        bool   `yaml:"auto_resubscribe"`
	ResubscribeMinMs       int    `yaml:"resubscribe_min_ms"`
	ResubscribeMaxMs       int    `yaml:"resubscribe_max_ms"`
	EventBuffer            int    `yaml:"event_buffer"`
}

func (t TrackerConfig) RefreshInterval() time.Duration {
	return time.Duration(t.RefreshIntervalSeconds) * time.Second
}

func (t TrackerConfig) RequestTimeout() time.Duration {
	return time.Duration(t.RequestTimeoutSeconds) * time.Second
}

// DataConfig каталог файлов состояния
type DataConfig struct {
	Directory string `yaml:"directory"`
}

// StrategiesConfig параметры стратегий
type StrategiesConfig struct {
	Momentum      MomentumConfig      `yaml:"momentum"`
	Stick         StickConfig         `yaml:"stick"`
	MeanReversion MeanReversionConfig `yaml:"mean_reversion"`
	Breakout      BreakoutConfig      `yaml:"breakout"`
	Scalping      ScalpingConfig      `yaml:"scalping"`
}

type MomentumConfig struct {
	Lookback  int     `yaml:"lookback"`
	Threshold float64 `yaml:"momentum"` // порог в процентах
}

type StickConfig struct {
	StickCount int     `yaml:"stick_count"`
	Avg        float64 `yaml:"avg"`
}

type MeanReversionConfig struct {
	Period    int     `yaml:"period"`
	Deviation float64 `yaml:"deviation"`
}

type BreakoutConfig struct {
	Period int `yaml:"period"`
}

type ScalpingConfig struct {
	FastPeriod int     `yaml:"fast_period"`
	SlowPeriod int     `yaml:"slow_period"`
	MinSpread  float64 `yaml:"min_spread"`
}

// StorageConfig настройки хранения истории
type StorageConfig struct {
	Type         string `yaml:"type"` // none | influxdb
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket"`
}

// UIConfig настройки пользовательского интерфейса
type UIConfig struct {
	Enabled     bool `yaml:"enabled"`
	RefreshRate int  `yaml:"refresh_rate_ms"`
}

// LogConfig настройки логирования
type LogConfig struct {
	File     string `yaml:"file"`
	JSONFile string `yaml:"json_file"`
	Level    string `yaml:"level"`
}

// Options для pkg/logger
func (l LogConfig) Options() logger.Options {
	return logger.Options{File: l.File, JSONFile: l.JSONFile, Level: l.Level}
}

// Load загружает конфигурацию из файла
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	logger.Debug("Загружена конфигурация", zap.String("path", path), zap.String("interval", cfg.Tracker.Interval))
	return cfg, nil
}

// Parse разбирает YAML, применяет переменные окружения и значения по умолчанию
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора файла конфигурации: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default конфигурация без файла
func Default() *Config {
	var cfg Config
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyEnv() {
	c.Binance.APIKey = getenvDefault("BINANCE_API_KEY", c.Binance.APIKey)
	c.Binance.APISecret = getenvDefault("BINANCE_API_SECRET", c.Binance.APISecret)
	c.Data.Directory = getenvDefault("TRACKER_DATA_DIR", c.Data.Directory)
}

func (c *Config) applyDefaults() {
	t := &c.Tracker
	if t.Interval == "" {
		t.Interval = "1h"
	}
	setDefault(&t.BackfillLimit, 100)
	setDefault(&t.MaxCandles, 500)
	setDefault(&t.RefreshIntervalSeconds, 60)
	setDefault(&t.RequestTimeoutSeconds, 10)
	setDefault(&t.ResubscribeMinMs, 500)
	setDefault(&t.ResubscribeMaxMs, 30000)
	setDefault(&t.EventBuffer, 256)

	if c.Data.Directory == "" {
		c.Data.Directory = "data"
	}

	s := &c.Strategies
	setDefault(&s.Momentum.Lookback, 4)
	setDefaultFloat(&s.Momentum.Threshold, 0.5)
	setDefault(&s.Stick.StickCount, 3)
	setDefault(&s.MeanReversion.Period, 20)
	setDefaultFloat(&s.MeanReversion.Deviation, 2)
	setDefault(&s.Breakout.Period, 20)
	setDefault(&s.Scalping.FastPeriod, 5)
	setDefault(&s.Scalping.SlowPeriod, 13)
	setDefaultFloat(&s.Scalping.MinSpread, 0.05)

	if c.Storage.Type == "" {
		c.Storage.Type = "none"
	}
	setDefault(&c.UI.RefreshRate, 1000)
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate проверяет согласованность настроек
func (c *Config) Validate() error {
	var errs []error

	switch c.Tracker.Interval {
	case "1m", "5m", "15m", "30m", "1h", "4h", "1d", "1w":
	default:
		errs = append(errs, fmt.Errorf("неподдерживаемый интервал %q", c.Tracker.Interval))
	}
	if c.Tracker.BackfillLimit < 1 || c.Tracker.BackfillLimit > 1000 {
		errs = append(errs, fmt.Errorf("backfill_limit должен быть в диапазоне 1..1000, получено %d", c.Tracker.BackfillLimit))
	}
	if c.Tracker.ResubscribeMinMs > c.Tracker.ResubscribeMaxMs {
		errs = append(errs, errors.New("resubscribe_min_ms больше resubscribe_max_ms"))
	}
	if c.Strategies.Scalping.FastPeriod >= c.Strategies.Scalping.SlowPeriod {
		errs = append(errs, errors.New("scalping: fast_period должен быть меньше slow_period"))
	}
	switch c.Storage.Type {
	case "none":
	case "influxdb":
		if c.Storage.URL == "" || c.Storage.Bucket == "" {
			errs = append(errs, errors.New("influxdb: необходимо указать url и bucket"))
		}
	default:
		errs = append(errs, fmt.Errorf("неизвестный тип хранилища %q", c.Storage.Type))
	}

	return errors.Join(errs...)
}

func setDefault(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

func setDefaultFloat(v *float64, def float64) {
	if *v <= 0 {
		*v = def
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
