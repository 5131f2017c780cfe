package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ParseEnv 由環境變數載入設定到 target。
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
