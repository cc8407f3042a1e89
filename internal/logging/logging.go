// Package logging builds the process-wide zap logger.
package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	Dev        bool   `yaml:"dev"`
}

// New returns a logger writing to the rotated file when opts.File is set and
// to stderr otherwise. The terminal view logs to a file only, since stderr
// belongs to the program.
func New(opts Options) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(orDefault(opts.Level, "info"))
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	var sink io.Writer = os.Stderr
	if opts.File != "" {
		sink = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		}
	}
	return newLogger(sink, lvl, opts.Dev), nil
}

func newLogger(w io.Writer, lvl zapcore.Level, dev bool) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if dev {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(w), zap.NewAtomicLevelAt(lvl))
	return zap.New(core, zap.AddCaller())
}

// Discard is used where no log file was configured but stderr is taken.
func Discard() *zap.Logger {
	return zap.NewNop()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
