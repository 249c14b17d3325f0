package logger

import (
	"os"

	"go.uber.org/zap"
)

type Logger interface {
	Info(msg string, values ...any)
	Warn(msg string, values ...any)
	Error(msg string, values ...any)
	Debug(msg string, values ...any)
	Panic(message string, values ...any)
	Fatal(error error, values ...any)
	Printf(format string, args ...interface{})
}

// init installs a console logger so packages can log before Configure runs.
func init() {
	if _, err := NewLogger(baseConfig()); err != nil {
		panic(err)
	}
}

// baseConfig picks the production JSON encoder when LOG_ENV=production.
func baseConfig() zap.Config {
	if os.Getenv("LOG_ENV") == "production" {
		return zap.NewProductionConfig()
	}
	return zap.NewDevelopmentConfig()
}

func Info(msg string, values ...any) {
	GetLogger().Info(msg, values...)
}

func Warn(msg string, values ...any) {
	GetLogger().Warn(msg, values...)
}

func Error(msg string, values ...any) {
	GetLogger().Error(msg, values...)
}

func Debug(msg string, values ...any) {
	GetLogger().Debug(msg, values...)
}

func Panic(msg string, values ...any) {
	GetLogger().Panic(msg, values...)
}

func Fatal(error error, values ...any) {
	GetLogger().Fatal(error, values...)
}

// Sync flushes buffered entries, including the rotated file sink.
func Sync() error {
	return GetLogger().log.Sync()
}
