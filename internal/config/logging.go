package config

import (
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
)

type LogConfig struct {
	Level string `env:"LOG_LEVEL" envDefault:"info"`
	Env   string `env:"DICEONLINE_ENV" envDefault:"development"`
}

func LoadLog() (LogConfig, error) {
	var cfg LogConfig
	err := env.Parse(&cfg)
	return cfg, err
}

// Production reports whether DICEONLINE_ENV asks for production behaviour.
func (c LogConfig) Production() bool { return c.Env == "production" }

// NewLogger builds the process logger: JSON in production, text otherwise.
// An unknown level falls back to info.
func NewLogger(cfg LogConfig) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Production() {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
