package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type HistorianConfig struct {
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	ActivityQueue string `env:"ACTIVITY_QUEUE" envDefault:"diceonline:activity"`
	DatabaseURL   string `env:"DATABASE_URL,notEmpty"`

	BatchSize     int           `env:"HISTORIAN_BATCH_SIZE" envDefault:"50"`
	FlushInterval time.Duration `env:"HISTORIAN_FLUSH_INTERVAL" envDefault:"5s"`
	// Inactivity is how long a lobby may stay silent before its session is marked expired.
	Inactivity time.Duration `env:"HISTORIAN_INACTIVITY" envDefault:"180m"`
}

func LoadHistorian() (HistorianConfig, error) {
	var cfg HistorianConfig
	err := env.Parse(&cfg)
	return cfg, err
}
