package heartbeat

import (
	"bytes"
	"io"
	"log"
	"log/slog"

	"github.com/hashicorp/go-hclog"
)

// hcLogger adapts slog.Logger to hashicorp/go-hclog.Logger.
type hcLogger struct {
	logger *slog.Logger
	name   string
	level  hclog.Level
}

func newHCLogger(logger *slog.Logger, name string) *hcLogger {
	return &hcLogger{logger: logger.With("subsystem", name), name: name, level: hclog.Debug}
}

func (l *hcLogger) Log(level hclog.Level, msg string, args ...any) {
	if level < l.level {
		return
	}
	switch level {
	case hclog.Trace, hclog.Debug:
		l.logger.Debug(msg, args...)
	case hclog.Info:
		l.logger.Info(msg, args...)
	case hclog.Warn:
		l.logger.Warn(msg, args...)
	case hclog.Error:
		l.logger.Error(msg, args...)
	default:
		l.logger.Info(msg, args...)
	}
}

func (l *hcLogger) Trace(msg string, args ...any) { l.Log(hclog.Trace, msg, args...) }
func (l *hcLogger) Debug(msg string, args ...any) { l.Log(hclog.Debug, msg, args...) }
func (l *hcLogger) Info(msg string, args ...any)  { l.Log(hclog.Info, msg, args...) }
func (l *hcLogger) Warn(msg string, args ...any)  { l.Log(hclog.Warn, msg, args...) }
func (l *hcLogger) Error(msg string, args ...any) { l.Log(hclog.Error, msg, args...) }

func (l *hcLogger) IsTrace() bool { return l.level <= hclog.Trace }
func (l *hcLogger) IsDebug() bool { return l.level <= hclog.Debug }
func (l *hcLogger) IsInfo() bool  { return l.level <= hclog.Info }
func (l *hcLogger) IsWarn() bool  { return l.level <= hclog.Warn }
func (l *hcLogger) IsError() bool { return l.level <= hclog.Error }

func (l *hcLogger) ImpliedArgs() []any { return nil }

func (l *hcLogger) With(args ...any) hclog.Logger {
	return &hcLogger{logger: l.logger.With(args...), name: l.name, level: l.level}
}

func (l *hcLogger) Name() string { return l.name }

func (l *hcLogger) Named(name string) hclog.Logger {
	return &hcLogger{logger: l.logger, name: l.name + "." + name, level: l.level}
}

func (l *hcLogger) ResetNamed(name string) hclog.Logger {
	return &hcLogger{logger: l.logger, name: name, level: l.level}
}

func (l *hcLogger) SetLevel(level hclog.Level) { l.level = level }
func (l *hcLogger) GetLevel() hclog.Level      { return l.level }

func (l *hcLogger) StandardLogger(opts *hclog.StandardLoggerOptions) *log.Logger {
	return log.New(l.StandardWriter(opts), "", 0)
}

func (l *hcLogger) StandardWriter(opts *hclog.StandardLoggerOptions) io.Writer {
	return &levelWriter{logger: l}
}

// levelWriter turns standard log lines such as "[WARN] memberlist: ..." into
// leveled records.
type levelWriter struct {
	logger *hcLogger
}

func (w *levelWriter) Write(p []byte) (int, error) {
	line := bytes.TrimSpace(p)
	level := hclog.Info

	prefixes := []struct {
		tag   string
		level hclog.Level
	}{
		{"[TRACE]", hclog.Trace},
		{"[DEBUG]", hclog.Debug},
		{"[INFO]", hclog.Info},
		{"[WARN]", hclog.Warn},
		{"[ERR]", hclog.Error},
		{"[ERROR]", hclog.Error},
	}
	for _, pf := range prefixes {
		if bytes.HasPrefix(line, []byte(pf.tag)) {
			level = pf.level
			line = bytes.TrimSpace(line[len(pf.tag):])
			break
		}
	}

	w.logger.Log(level, string(line))
	return len(p), nil
}
