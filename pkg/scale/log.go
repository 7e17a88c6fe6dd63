package scale

import (
	"fmt"

	"github.com/itohio/goweigh/pkg/config"
	"go.uber.org/zap"
)

// Logger denotes a generic log interface that logging service must provide
type Logger interface {
	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})

	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
}

// NullLogger denotes a null-op logger that ignores all messages
type NullLogger struct{}

func (l *NullLogger) Error(args ...interface{}) {}

func (l *NullLogger) Errorf(format string, args ...interface{}) {}

func (l *NullLogger) Warn(args ...interface{}) {}

func (l *NullLogger) Warnf(format string, args ...interface{}) {}

func (l *NullLogger) Info(args ...interface{}) {}

func (l *NullLogger) Infof(format string, args ...interface{}) {}

func (l *NullLogger) Debug(args ...interface{}) {}

func (l *NullLogger) Debugf(format string, args ...interface{}) {}

// NewLogger builds a logger writing to stderr. The json format uses the zap
// production encoder, console (or an unset format) the development encoder.
func NewLogger(cfg config.LogConfig) (*zap.SugaredLogger, error) {
	level := zap.InfoLevel
	if cfg.Debug {
		level = zap.DebugLevel
	}

	var logCfg zap.Config
	switch cfg.Format {
	case config.LogFormatJSON:
		logCfg = zap.NewProductionConfig()
		logCfg.Sampling = nil
	case config.LogFormatConsole, "":
		logCfg = zap.NewDevelopmentConfig()
		logCfg.DisableCaller = !cfg.Debug
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	logCfg.DisableStacktrace = true
	logCfg.Level.SetLevel(level)

	zapLogger, err := logCfg.Build()
	if err != nil {
		return nil, err
	}

	return zapLogger.Sugar(), nil
}
