package main

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/app"
)

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		name      string
		format    string
		level     string
		wantLevel log.Level
		wantJSON  bool
		wantErr   bool
	}{
		{name: "defaults", format: app.LogFormatText, level: "info", wantLevel: log.InfoLevel},
		{name: "json debug", format: app.LogFormatJSON, level: "debug", wantLevel: log.DebugLevel, wantJSON: true},
		{name: "invalid level falls back to info", format: app.LogFormatText, level: "loud", wantLevel: log.InfoLevel, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := log.New()
			cfg := app.DefaultConfig()
			cfg.LogFormat = tt.format
			cfg.LogLevel = tt.level

			err := setupLogger(logger, cfg)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tt.wantLevel, logger.GetLevel())
			_, isJSON := logger.Formatter.(*log.JSONFormatter)
			require.Equal(t, tt.wantJSON, isJSON)
		})
	}
}
