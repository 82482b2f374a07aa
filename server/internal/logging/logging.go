// Package logging builds the process-wide zap logger. The encoding
// differs by run mode: the foreground "start" UI wants readable
// console output, while "background"/"daemon" mode wants JSON lines
// suitable for a container log collector.
package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Mode selects the encoder used by New.
type Mode int

const (
	ModeConsole Mode = iota
	ModeJSON
)

// New builds a *zap.Logger writing to stdout and, if dir is non-empty,
// also to a size-rotated file under dir. Rotation is size-based with a
// fixed generation count, matching the log-directory contract of the
// persisted state layout.
func New(mode Mode, dir string, maxSizeMB, maxBackups int) (*zap.Logger, error) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if mode == ModeConsole {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), zap.InfoLevel),
	}

	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		rotator := newSizeRotator(filepath.Join(dir, "newsflow.log"), maxSizeMB, maxBackups)
		fileEncoder := zapcore.NewJSONEncoder(encCfg)
		cores = append(cores, zapcore.NewCore(fileEncoder, zapcore.AddSync(rotator), zap.InfoLevel))
	}

	core := zapcore.NewTee(cores...)
	return zap.New(core, zap.AddCaller()), nil
}
