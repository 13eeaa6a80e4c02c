// Package logger builds the process-wide slog logger.
//
//   - logger.go: handler construction, dynamic level
//   - context.go: loggers carried in a context, session attributes
//   - redact.go: masking of secret-looking attributes
//
// Components receive a *slog.Logger in their Config; this package only
// decides how that logger is built and what it emits.
package logger
