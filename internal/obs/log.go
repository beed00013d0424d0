package obs

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger строит zap-логгер: "debug" даёт цветной консольный вывод,
// любой другой режим пишет JSON с ISO8601 timestamp.
func NewLogger(mode string) (*zap.Logger, error) {
	var cfg zap.Config
	if mode == "debug" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	return cfg.Build()
}

// MustLogger is NewLogger for process entry points.
func MustLogger(mode string) *zap.Logger {
	log, err := NewLogger(mode)
	if err != nil {
		panic("obs: build logger: " + err.Error())
	}
	return log
}
