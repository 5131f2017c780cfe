// Package logging 建立服務共用的 zap 記錄器。
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New 以指定等級建立 JSON 格式的正式環境記錄器；等級空白時為 info。
// 回傳的 AtomicLevel 可在執行期調整等級。
func New(level string) (*zap.Logger, zap.AtomicLevel, error) {
	lvl := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if strings.TrimSpace(level) != "" {
		var parsed zapcore.Level
		if err := parsed.Set(level); err != nil {
			return nil, zap.AtomicLevel{}, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl.SetLevel(parsed)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("build logger: %w", err)
	}
	return logger, lvl, nil
}

// Nop 回傳不輸出任何內容的記錄器。
func Nop() *zap.Logger { return zap.NewNop() }
