package common

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger = zap.Must(zap.NewProduction(zap.IncreaseLevel(zapcore.WarnLevel)))

// ConfigureLogger replaces the package logger. Pass a development logger from
// tests or the CLI to see Debug/Info output.
func ConfigureLogger(l *zap.Logger) {
	if l == nil {
		return
	}
	logger = l
}

func Debug(msg string, fields ...zap.Field) {
	logger.Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	logger.Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	logger.Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	logger.Error(msg, fields...)
}
