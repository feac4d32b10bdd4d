package config

import (
	"fmt"
	"strings"
)

func validate(cfg *Config) error {
	env := strings.ToLower(strings.TrimSpace(cfg.OANDA.Environment))
	if env != "practice" && env != "live" {
		return fmt.Errorf("oanda.environment must be practice or live, got %q", cfg.OANDA.Environment)
	}
	cfg.OANDA.Environment = env
	if cfg.Fetch.PageLimit > 5000 {
		return fmt.Errorf("fetch.page_limit exceeds the server cap of 5000")
	}
	return nil
}

// IsPlaceholder 判断凭证是否仍是示例占位值。
// 约定与示例配置一致：空值或含 YOUR_ 前缀都视为未填写。
func IsPlaceholder(value string) bool {
	v := strings.TrimSpace(value)
	return v == "" || strings.Contains(v, "YOUR_")
}
