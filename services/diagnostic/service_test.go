package diagnostic

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gf2influx/gf2influx/keyvalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_Stdout(t *testing.T) {
	var stdout, stderr bytes.Buffer
	c := NewConfig()
	c.File = "STDOUT"
	s := NewService(c, &stdout, &stderr)
	require.NoError(t, s.Open())
	defer s.Close()

	s.NewServerHandler().Info("opened service", keyvalue.KV("service", "tail"))
	s.NewServerHandler().Debug("hidden")

	out := stdout.String()
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "opened service")
	assert.Contains(t, out, `"service": "tail"`)
	assert.NotContains(t, out, "hidden")
	assert.Empty(t, stderr.String())

	require.NoError(t, s.SetLevel("debug"))
	s.NewServerHandler().Debug("visible")
	assert.Contains(t, stdout.String(), "visible")
}

func TestService_JSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "gf2influx.log")
	s := NewService(Config{File: path, Level: "warn", Encoding: "json"}, nil, nil)
	require.NoError(t, s.Open())

	h := s.NewIngestHandler()
	h.BatchDropped(7, 250)
	h.IdleWindow(time.Second, 2)
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "queue full, dropped oldest batch", entry["msg"])
	assert.Equal(t, "ingest", entry["service"])
	assert.Equal(t, 7.0, entry["batch"])
	assert.Equal(t, 250.0, entry["lines"])
}

func TestService_BadLevel(t *testing.T) {
	s := NewService(Config{File: "STDERR", Level: "loud", Encoding: "console"}, nil, &bytes.Buffer{})
	err := s.Open()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown logging level")
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, NewConfig().Validate())

	tests := map[string]Config{
		"no file":      {Level: "INFO", Encoding: "console"},
		"bad level":    {File: "STDERR", Level: "trace", Encoding: "console"},
		"bad encoding": {File: "STDERR", Level: "INFO", Encoding: "logfmt"},
	}
	for name, c := range tests {
		assert.Error(t, c.Validate(), name)
	}
}
