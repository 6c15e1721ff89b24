// Package logging builds the zap-backed logr.Logger used by the driver.
package logging

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the logger settings.
type Config struct {
	// Level is debug, info, warn, error or a logr verbosity such as "2".
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"` // "json" or "console"
	// Development enables stack traces on warnings.
	Development bool `yaml:"development" envconfig:"DEVELOPMENT"`
}

// DefaultConfig returns JSON logging at info level.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "json"}
}

// Validate checks the level and format.
func (c Config) Validate() error {
	if _, err := ParseLevel(c.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Format) {
	case "", "json", "console":
		return nil
	}
	return fmt.Errorf("unsupported log format %q", c.Format)
}

// New builds a logger writing to stderr.
func New(cfg Config, service string) (logr.Logger, error) {
	return NewWithWriter(cfg, service, os.Stderr)
}

// NewWithWriter builds a logger writing to w.
func NewWithWriter(cfg Config, service string, w io.Writer) (logr.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return logr.Logger{}, err
	}
	level, _ := ParseLevel(cfg.Level)

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeDuration = zapcore.StringDurationEncoder

	var encoder zapcore.Encoder
	if strings.EqualFold(cfg.Format, "console") {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(w), zap.NewAtomicLevelAt(level))
	opts := []zap.Option{zap.AddCaller()}
	if cfg.Development {
		opts = append(opts, zap.Development(), zap.AddStacktrace(zapcore.WarnLevel))
	}
	zapLogger := zap.New(core, opts...)
	if service != "" {
		zapLogger = zapLogger.With(zap.String("service", service))
	}
	return zapr.NewLogger(zapLogger), nil
}

// ParseLevel converts a level name or logr verbosity to a zap level. zapr
// maps V(n) to zap level -n, so "debug" enables V(1).
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	v, err := strconv.Atoi(level)
	if err != nil || v < 0 || v > 127 {
		return zapcore.InfoLevel, fmt.Errorf("unsupported log level %q", level)
	}
	return zapcore.Level(-v), nil
}
