package scale_test

import (
	"testing"

	"github.com/itohio/goweigh/pkg/config"
	"github.com/itohio/goweigh/pkg/scale"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.LogConfig
		wantDebug bool
	}{
		{"console", config.LogConfig{Format: config.LogFormatConsole}, false},
		{"console debug", config.LogConfig{Debug: true, Format: config.LogFormatConsole}, true},
		{"json", config.LogConfig{Format: config.LogFormatJSON}, false},
		{"json debug", config.LogConfig{Debug: true, Format: config.LogFormatJSON}, true},
		{"unset format", config.LogConfig{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := scale.NewLogger(tt.cfg)
			require.NoError(t, err)
			require.NotNil(t, logger)

			core := logger.Desugar().Core()
			assert.True(t, core.Enabled(zap.InfoLevel))
			assert.Equal(t, tt.wantDebug, core.Enabled(zap.DebugLevel))
		})
	}
}

func TestNewLogger_UnknownFormat(t *testing.T) {
	logger, err := scale.NewLogger(config.LogConfig{Format: "xml"})
	assert.Error(t, err)
	assert.Nil(t, logger)
}
