// internal/config/config.go
//
// 服務設定。所有欄位皆由 BANK_ 前綴的環境變數提供，未設定時採用預設值。

// Package config 載入並驗證服務設定。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// 儲存後端。
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// 帳戶鎖後端。
const (
	LockerMemory = "memory"
	LockerRedis  = "redis"
)

var (
	// ErrUnknownStore 代表 BANK_STORE 不是已知的後端。
	ErrUnknownStore = errors.New("unknown store backend")
	// ErrUnknownLocker 代表 BANK_LOCKER 不是已知的後端。
	ErrUnknownLocker = errors.New("unknown locker backend")
	// ErrMissingSetting 代表所選後端缺少必要設定。
	ErrMissingSetting = errors.New("missing required setting")
)

// Config 為 HTTP 服務的完整設定。
type Config struct {
	HTTPAddr        string        `env:"BANK_HTTP_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"BANK_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	Store         string `env:"BANK_STORE" envDefault:"memory"`
	DataFile      string `env:"BANK_DATA_FILE" envDefault:"data.json"`
	SQLitePath    string `env:"BANK_SQLITE_PATH" envDefault:"bank.db"`
	PostgresDSN   string `env:"BANK_POSTGRES_DSN"`
	Locker        string `env:"BANK_LOCKER" envDefault:"memory"`
	RedisAddr     string `env:"BANK_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"BANK_REDIS_PASSWORD"`

	LogLevel string `env:"BANK_LOG_LEVEL" envDefault:"info"`

	OTelEndpoint string `env:"BANK_OTEL_ENDPOINT"`
	OTelEnabled  bool   `env:"BANK_OTEL_ENABLED" envDefault:"true"`
}

// Load 由環境變數載入設定並驗證。
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	cfg.Locker = strings.ToLower(strings.TrimSpace(cfg.Locker))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate 檢查後端選擇與其必要設定。
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, fmt.Errorf("%w: BANK_HTTP_ADDR", ErrMissingSetting))
	}
	switch c.Store {
	case StoreMemory:
		if strings.TrimSpace(c.DataFile) == "" {
			errs = append(errs, fmt.Errorf("%w: BANK_DATA_FILE", ErrMissingSetting))
		}
	case StoreSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			errs = append(errs, fmt.Errorf("%w: BANK_SQLITE_PATH", ErrMissingSetting))
		}
	case StorePostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, fmt.Errorf("%w: BANK_POSTGRES_DSN", ErrMissingSetting))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownStore, c.Store))
	}
	switch c.Locker {
	case LockerMemory:
	case LockerRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			errs = append(errs, fmt.Errorf("%w: BANK_REDIS_ADDR", ErrMissingSetting))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownLocker, c.Locker))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: BANK_SHUTDOWN_TIMEOUT must be positive", ErrMissingSetting))
	}
	return errors.Join(errs...)
}
