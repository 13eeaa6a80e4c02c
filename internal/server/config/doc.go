// Package config defines the colod configuration.
//
//   - spec.go: Config struct definition with koanf tags
//   - default.go: default values
//   - verify.go: validation before a session is started
//   - sanitize.go: masking of secrets for logging
//
// Configuration is loaded through internal/infra/confloader from a YAML
// file and COLO_ environment variables.
package config
