// Package logger builds the process-wide zap logger (stdout or rotated file output).
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const logFilename = "inclusion.log"

// Options configures New.
type Options struct {
	// Level is debug, info, warn or error; anything else means info.
	Level string
	// Output is "stdout" or "file".
	Output string
	// Path is the directory for file output.
	Path string
	// Development switches to the console encoder.
	Development bool
}

// New returns a zap logger for the given options and installs it as the zap global.
func New(opts Options) (*zap.Logger, error) {
	var ws zapcore.WriteSyncer
	switch strings.ToLower(opts.Output) {
	case "", "stdout":
		ws = zapcore.AddSync(os.Stdout)
	case "file":
		if opts.Path == "" {
			return nil, fmt.Errorf("logger: path is required when output is file")
		}
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   filepath.Join(opts.Path, logFilename),
			MaxSize:    100, // MB
			MaxBackups: 10,
			MaxAge:     7, // days
			Compress:   true,
		})
	default:
		return nil, fmt.Errorf("logger: unknown output %q", opts.Output)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if opts.Development {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, ws, ParseLevel(opts.Level))
	l := zap.New(core, zap.AddCaller())
	zap.ReplaceGlobals(l)
	return l, nil
}

// ParseLevel maps a level name to a zapcore.Level, defaulting to info.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
