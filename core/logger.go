package core

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var loggerInstance Logger = *NewDevelopmentLogger() // default to development logger

// SetLogger sets the global logger instance
func SetLogger(logger Logger) {
	loggerInstance = logger
}

// GetLogger retrieves the global logger instance
func GetLogger() *Logger {
	return &loggerInstance
}

// LogHandlerFunc receives every log line after attributes are merged.
type LogHandlerFunc func(level string, msg string, attrs map[string]any)

// Logger is a small structured logger. Attributes attached with With are
// carried by every child logger; the sink is decided by the handler func.
type Logger struct {
	handlerFunc LogHandlerFunc
	attrs       map[string]any
}

func NewLogger(handler LogHandlerFunc) *Logger {
	return &Logger{
		handlerFunc: handler,
		attrs:       make(map[string]any),
	}
}

// NewDevelopmentLogger writes human readable console output through zap.
func NewDevelopmentLogger() *Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.DisableStacktrace = true
	return NewZapLogger(buildZap(cfg))
}

// NewProductionLogger writes JSON lines through zap.
func NewProductionLogger() *Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Encoding = "json"
	return NewZapLogger(buildZap(cfg))
}

// NewLoggerFromEnv picks the encoder from LOG_FORMAT ("json" or console) and
// the minimum level from LOG_LEVEL.
func NewLoggerFromEnv() *Logger {
	var cfg zap.Config
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "time"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.DisableStacktrace = true
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		if parsed, err := zapcore.ParseLevel(lvl); err == nil {
			cfg.Level = zap.NewAtomicLevelAt(parsed)
		}
	}
	return NewZapLogger(buildZap(cfg))
}

func buildZap(cfg zap.Config) *zap.Logger {
	z, err := cfg.Build(zap.AddCallerSkip(3))
	if err != nil {
		return zap.NewNop()
	}
	return z
}

// NewZapLogger adapts a zap logger to the Logger API.
func NewZapLogger(z *zap.Logger) *Logger {
	handler := func(level string, msg string, attrs map[string]any) {
		fields := make([]zap.Field, 0, len(attrs))
		keys := make([]string, 0, len(attrs))
		for k := range attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fields = append(fields, zap.Any(k, attrs[k]))
		}
		switch level {
		case "TRACE", "DEBUG":
			z.Debug(msg, fields...)
		case "INFO":
			z.Info(msg, fields...)
		case "WARN":
			z.Warn(msg, fields...)
		case "ERROR":
			z.Error(msg, fields...)
		case "PANIC":
			z.Panic(msg, fields...)
		case "FATAL":
			z.Fatal(msg, fields...)
		default:
			z.Info(msg, fields...)
		}
	}
	return NewLogger(handler)
}

func (l *Logger) log(level string, msg string, args ...any) {
	if l.handlerFunc == nil {
		return
	}
	if len(args) > 0 {
		// slog-style key/value pairs: even count with string keys.
		if isKeyValuePairs(args) {
			attrs := make(map[string]any, len(l.attrs)+len(args)/2)
			for k, v := range l.attrs {
				attrs[k] = v
			}
			for i := 0; i < len(args)-1; i += 2 {
				key, _ := args[i].(string)
				attrs[key] = args[i+1]
			}
			l.handlerFunc(level, msg, attrs)
			return
		}
		msg = fmt.Sprintf(msg, args...)
	}
	l.handlerFunc(level, msg, l.attrs)
}

// logf always formats; its arguments are never read as key/value pairs.
func (l *Logger) logf(level string, format string, args ...any) {
	if l.handlerFunc == nil {
		return
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	l.handlerFunc(level, msg, l.attrs)
}

func isKeyValuePairs(args []any) bool {
	if len(args)%2 != 0 {
		return false
	}
	for i := 0; i < len(args); i += 2 {
		if _, ok := args[i].(string); !ok {
			return false
		}
	}
	return true
}

func (l *Logger) Debug(msg string, args ...any) { l.log("DEBUG", msg, args...) }

func (l *Logger) Debugf(format string, args ...any) { l.logf("DEBUG", format, args...) }

func (l *Logger) Info(msg string, args ...any) { l.log("INFO", msg, args...) }

func (l *Logger) Infof(format string, args ...any) { l.logf("INFO", format, args...) }

func (l *Logger) Warn(msg string, args ...any) { l.log("WARN", msg, args...) }

func (l *Logger) Warnf(format string, args ...any) { l.logf("WARN", format, args...) }

func (l *Logger) Error(msg string, args ...any) { l.log("ERROR", msg, args...) }

func (l *Logger) Errorf(format string, args ...any) { l.logf("ERROR", format, args...) }

func (l *Logger) Fatal(msg string, args ...any) { l.log("FATAL", msg, args...) }

func (l *Logger) Panic(msg string, args ...any) { l.log("PANIC", msg, args...) }

// With returns a child logger carrying attrs in addition to the parent's.
func (l *Logger) With(attrs map[string]any) *Logger {
	combined := make(map[string]any, len(l.attrs)+len(attrs))
	for k, v := range l.attrs {
		combined[k] = v
	}
	for k, v := range attrs {
		combined[k] = v
	}
	return &Logger{
		handlerFunc: l.handlerFunc,
		attrs:       combined,
	}
}

// Sync is kept for call sites that flush before exit; zap flushes per write
// for stdout sinks.
func (l *Logger) Sync() error {
	return nil
}
