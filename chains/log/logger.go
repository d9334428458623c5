package logging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogDir holds the per-run log files.
const LogDir = "/tmp/feerelay"

type loggerContextKey struct{}

var (
	logFile *os.File
	once    sync.Once
)

func getLogFile() (*os.File, error) {
	var err error
	once.Do(func() {
		if err = os.MkdirAll(LogDir, 0o755); err != nil {
			err = fmt.Errorf("failed to create log directory: %w", err)
			return
		}

		timestamp := time.Now().Format("2006-01-02-15-04-05")
		logPath := filepath.Join(LogDir, fmt.Sprintf("feerelay-%s.log", timestamp))

		//nolint:gosec // G302: log file is not sensitive
		logFile, err = os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			err = fmt.Errorf("failed to open log file: %w", err)
		}
	})

	return logFile, err
}

// CloseLogFile flushes the run's log file, if one was opened.
func CloseLogFile() {
	if logFile != nil {
		_ = logFile.Sync()
		_ = logFile.Close()
	}
}

// DefaultLogger writes to stderr and to a log file under LogDir. Stdout is
// left to the balance report. If the file cannot be opened the stderr logger
// is still returned alongside the error.
func DefaultLogger(devLogging bool, options ...zap.Option) (*zap.Logger, error) {
	encoder, level := encoderFor(devLogging)
	stderrCore := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)

	f, err := getLogFile()
	if err != nil {
		return zap.New(stderrCore, options...), err
	}

	fileCore := zapcore.NewCore(encoder.Clone(), zapcore.AddSync(f), level)
	return zap.New(zapcore.NewTee(stderrCore, fileCore), options...), nil
}

func encoderFor(devLogging bool) (zapcore.Encoder, zapcore.Level) {
	if devLogging {
		return zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()), zap.DebugLevel
	}

	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewJSONEncoder(cfg), zap.InfoLevel
}

func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, logger)
}

func FromContext(ctx context.Context) *zap.Logger {
	logger, ok := ctx.Value(loggerContextKey{}).(*zap.Logger)
	if ok {
		return logger
	}

	return zap.NewNop()
}

// FieldOnLevel drops field unless the context logger has level enabled.
// Levels are fixed at startup.
func FieldOnLevel(ctx context.Context, level zapcore.Level, field zap.Field) zap.Field {
	if !FromContext(ctx).Core().Enabled(level) {
		return zap.Skip()
	}

	return field
}
