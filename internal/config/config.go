package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	HTTPAddr      string     `env:"HTTP_ADDR" envDefault:":8080"`
	DBPath        string     `env:"DB_PATH" envDefault:"data/laotypo.db"`
	RedisURL      string     `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	LogLevel      slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	PublicBaseURL string     `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`

	JWTSecret    string `env:"JWT_SECRET,required,notEmpty"`
	JWTIssuer    string `env:"JWT_ISSUER" envDefault:"laotypo"`
	AdminKeyHash string `env:"ADMIN_KEY_HASH"`

	MaxPlayers     int           `env:"MAX_PLAYERS" envDefault:"50"`
	StartCountdown time.Duration `env:"START_COUNTDOWN" envDefault:"3s"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL" envDefault:"24h"`
	Retention      time.Duration `env:"RETENTION" envDefault:"168h"`
	TriggerWorkers int           `env:"TRIGGER_WORKERS" envDefault:"8"`
	ScoreTolerance int           `env:"SCORE_TOLERANCE" envDefault:"5"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if cfg.MaxPlayers < 1 {
		return nil, fmt.Errorf("MAX_PLAYERS must be at least 1, got %d", cfg.MaxPlayers)
	}
	if cfg.TriggerWorkers < 1 {
		return nil, fmt.Errorf("TRIGGER_WORKERS must be at least 1, got %d", cfg.TriggerWorkers)
	}
	return &cfg, nil
}
