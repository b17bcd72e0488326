package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	Log *zap.Logger
)

func init() {
	// 默认 Nop Logger，防止未 Init 就调用导致 panic
	Log = zap.NewNop()
}

// New builds a logger for the given environment without touching the global.
// production: JSON + ISO8601; 其他环境: 彩色 console 输出
func New(env string) (*zap.Logger, error) {
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	return config.Build()
}

// Init initializes the global logger used by the helper functions below.
// Components should receive Named() children of Log through their constructors.
func Init(env string) {
	l, err := New(env)
	if err != nil {
		panic(err)
	}
	// Skip 1 caller so logs show where logger.Info was called, not wrapper
	Log = l.WithOptions(zap.AddCallerSkip(1))

	// 替换 zap 全局 logger
	zap.ReplaceGlobals(l)
}

// Named returns a component logger without the helper caller skip
func Named(name string) *zap.Logger {
	return Log.WithOptions(zap.AddCallerSkip(-1)).Named(name)
}

// Sync flushes any buffered log entries
func Sync() {
	_ = Log.Sync()
}

func Info(msg string, fields ...zap.Field) {
	Log.Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	Log.Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	Log.Error(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	Log.Fatal(msg, fields...)
}

func Debug(msg string, fields ...zap.Field) {
	Log.Debug(msg, fields...)
}
