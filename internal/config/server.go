// internal/config/server.go
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type ServerConfig struct {
	Port           string   `env:"PORT" envDefault:"8080"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"localhost:*,127.0.0.1:*"`

	// LobbyStore selects the lobby document store: "mongo" or "memory".
	LobbyStore      string `env:"LOBBY_STORE" envDefault:"mongo"`
	MongoURI        string `env:"MONGODB_URI" envDefault:"mongodb://localhost:27017"`
	MongoDatabase   string `env:"MONGODB_DATABASE" envDefault:"diceonline"`
	MongoCollection string `env:"MONGODB_COLLECTION" envDefault:"lobbies"`

	LobbyTTL           time.Duration `env:"LOBBY_TTL" envDefault:"180m"`
	SweepInterval      time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	RequestTimeout     time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
	DisconnectTimeout  time.Duration `env:"DISCONNECT_TIMEOUT" envDefault:"5s"`
	WriteTimeout       time.Duration `env:"WRITE_TIMEOUT" envDefault:"5s"`
	CodeAttempts       int           `env:"CODE_ATTEMPTS" envDefault:"8"`
	DeleteEmptyLobbies bool          `env:"DELETE_EMPTY_LOBBIES" envDefault:"true"`
	Timezone           string        `env:"TIMEZONE" envDefault:"Europe/Amsterdam"`

	// Activity feed. An empty RedisAddr disables it.
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	ActivityQueue string `env:"ACTIVITY_QUEUE" envDefault:"diceonline:activity"`
}

func LoadServer() (ServerConfig, error) {
	var cfg ServerConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.validate()
}

func (c ServerConfig) validate() error {
	switch c.LobbyStore {
	case "mongo", "memory":
	default:
		return fmt.Errorf("LOBBY_STORE must be mongo or memory, got %q", c.LobbyStore)
	}
	if c.LobbyTTL <= 0 {
		return fmt.Errorf("LOBBY_TTL must be positive, got %s", c.LobbyTTL)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", c.SweepInterval)
	}
	if c.CodeAttempts < 1 {
		return fmt.Errorf("CODE_ATTEMPTS must be at least 1, got %d", c.CodeAttempts)
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c ServerConfig) Addr() string { return ":" + c.Port }
