package logger

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Logger = zap.NewNop()

// InitializeLogger builds the process logger. It tees structured output to
// stdout (captured by journald when running under systemd) and to a daemon
// log file under logDir.
func InitializeLogger(logDir string) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderCfg),
			zapcore.Lock(os.Stdout),
			zapcore.InfoLevel,
		),
	}

	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o755); err == nil {
			file, err := os.OpenFile(
				filepath.Join(logDir, "sentinel_service.log"),
				os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640,
			)
			if err == nil {
				cores = append(cores, zapcore.NewCore(
					zapcore.NewJSONEncoder(encoderCfg),
					zapcore.Lock(file),
					zapcore.InfoLevel,
				))
			}
		}
	}

	Logger = zap.New(zapcore.NewTee(cores...))
}
