package logger

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Level string
	Color bool
	Name  string
}

// New builds a console logger writing to stdout.
func New(cfg Config) (*zap.Logger, error) {
	return NewWithOutput(cfg, os.Stdout)
}

// NewWithOutput builds a console logger writing to w.
// Color turns on ANSI coloured level names.
func NewWithOutput(cfg Config, w io.Writer) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, err
		}
	}

	ec := zap.NewDevelopmentEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Color {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(ec), zapcore.AddSync(w), level)
	lg := zap.New(core, zap.AddCaller())
	if cfg.Name != "" {
		lg = lg.Named(cfg.Name)
	}
	return lg, nil
}
