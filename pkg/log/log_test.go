package log_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basvanbeek/hubstep/pkg/log"
)

func TestFlagDefaults(t *testing.T) {
	s := &log.Service{}
	require.NoError(t, s.FlagSet().Parse([]string{}))

	assert.Equal(t, "info", s.Level)
	assert.Equal(t, log.FormatJSON, s.Format)
	assert.NoError(t, s.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		format string
		valid  bool
	}{
		{"json debug", "debug", log.FormatJSON, true},
		{"console warn", "warn", log.FormatConsole, true},
		{"bad level", "chatty", log.FormatJSON, false},
		{"bad format", "info", "xml", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &log.Service{Level: tt.level, Format: tt.format}
			err := s.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestLoggerBeforePreRun(t *testing.T) {
	s := &log.Service{}
	assert.NotNil(t, s.Logger())
	s.Logger().Info("discarded")
	s.Sync()
}

func TestJSONOutput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.log")
	s := &log.Service{Level: "warn", Format: log.FormatJSON, OutputPaths: []string{out}}
	require.NoError(t, s.Validate())
	require.NoError(t, s.PreRun())

	s.Logger().Info("below level")
	s.Logger().Warn("kept")
	s.Sync()

	data, err := os.ReadFile(out)
	require.NoError(t, err)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "warn", entry["level"])
}
