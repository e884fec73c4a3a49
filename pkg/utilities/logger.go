package utilities

import (
	"os"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Level string
	Dev   bool
	// File, when set, adds a daily-rotated JSON log file next to stdout.
	File string
}

// ConfigFromEnv reads minimal config from env vars.
func ConfigFromEnv() Config {
	dev := os.Getenv("LOG_DEV") == "1"
	lvl := os.Getenv("LOG_LEVEL")
	if lvl == "" {
		if dev {
			lvl = "debug"
		} else {
			lvl = "info"
		}
	}
	return Config{Level: lvl, Dev: dev, File: os.Getenv("LOG_FILE")}
}

func levelFromString(l string) zapcore.Level {
	switch l {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Init initializes and returns a *zap.Logger
func Init(cfg Config) (*zap.Logger, error) {
	lvl := levelFromString(cfg.Level)
	if cfg.Dev {
		c := zap.NewDevelopmentConfig()
		c.Level = zap.NewAtomicLevelAt(lvl)
		return c.Build()
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	sink := zapcore.AddSync(os.Stdout)
	if cfg.File != "" {
		w, err := rotatelogs.New(
			cfg.File+".%Y%m%d",
			rotatelogs.WithLinkName(cfg.File),
			rotatelogs.WithMaxAge(14*24*time.Hour),
			rotatelogs.WithRotationTime(24*time.Hour),
		)
		if err != nil {
			return nil, err
		}
		sink = zapcore.NewMultiWriteSyncer(sink, zapcore.AddSync(w))
	}

	core := zapcore.NewCore(encoder, sink, lvl)
	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	return zap.New(core, opts...), nil
}
