package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

func getString(key, fallback string) string {
	if v := strings.TrimSpace(viper.GetString(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if viper.IsSet(key) {
		if v := viper.GetInt(key); v != 0 {
			return v
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if viper.IsSet(key) {
		return viper.GetBool(key)
	}
	return fallback
}

func getDurationMs(key string, fallback time.Duration) time.Duration {
	if viper.IsSet(key) {
		if ms := viper.GetInt64(key); ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return fallback
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
