package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/skalibog/tradetracker/internal/app"
	"github.com/skalibog/tradetracker/internal/config"
	"github.com/skalibog/tradetracker/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	// Обработка флагов командной строки
	configPath := flag.String("config", "config.yaml", "путь к файлу конфигурации")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	// панель занимает терминал, поэтому лог уходит в файл
	if cfg.UI.Enabled && cfg.Log.File == "" && cfg.Log.JSONFile == "" {
		cfg.Log.File = "tradetracker.log"
	}
	if err := logger.Init(cfg.Log.Options()); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Конфигурация загружена",
		zap.String("path", *configPath),
		zap.String("data_dir", cfg.Data.Directory),
		zap.Bool("testnet", cfg.Binance.Testnet))

	app.New(cfg).Run()
}

// loadConfig без файла работает на значениях по умолчанию
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}
