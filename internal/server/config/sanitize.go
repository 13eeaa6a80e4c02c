package config

import "strings"

// Sanitize returns a copy of the config with secrets masked, for logging.
func Sanitize(cfg *Config) *Config {
	sanitized := *cfg
	if sanitized.Heartbeat.SecretKey != "" {
		sanitized.Heartbeat.SecretKey = maskSecret(sanitized.Heartbeat.SecretKey)
	}
	if sanitized.Workload.SnapshotKey != "" {
		sanitized.Workload.SnapshotKey = maskSecret(sanitized.Workload.SnapshotKey)
	}
	return &sanitized
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
