package logging

import (
	"testing"

	"github.com/ppiankov/outagelens/internal/model"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     model.LoggingConfig
		verbose bool
		level   zapcore.Level
		wantErr bool
	}{
		{"defaults", model.LoggingConfig{}, false, zapcore.InfoLevel, false},
		{"json warn", model.LoggingConfig{Level: "warn", Format: "json"}, false, zapcore.WarnLevel, false},
		{"verbose wins", model.LoggingConfig{Level: "error", Format: "console"}, true, zapcore.DebugLevel, false},
		{"bad level", model.LoggingConfig{Level: "loud"}, false, 0, true},
		{"bad format", model.LoggingConfig{Format: "xml"}, false, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg, tt.verbose)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			if !logger.Core().Enabled(tt.level) {
				t.Errorf("level %s should be enabled", tt.level)
			}
			if tt.level > zapcore.DebugLevel && logger.Core().Enabled(tt.level-1) {
				t.Errorf("level %s should be disabled", tt.level-1)
			}
		})
	}
}
