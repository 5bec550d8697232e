package logger

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "publisher.log")
	log := New(Config{Level: "debug", Format: "json", Output: path})

	log.Named("publisher").With("service", "ledger").Info("Execution registered", "executionId", 7)
	log.Debug("debug line")
	require.NoError(t, log.Sync())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "Execution registered", lines[0]["msg"])
	assert.Equal(t, "publisher", lines[0]["logger"])
	assert.Equal(t, "ledger", lines[0]["service"])
	assert.Equal(t, float64(7), lines[0]["executionId"])
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	log := New(Config{Level: "loud", Output: path})

	log.Debug("hidden")
	log.Info("shown")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
}

func TestNewZap(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log := NewZap(zap.New(core))

	log.Warn("Cache unavailable", "error", "timeout")
	entries := logs.FilterMessage("Cache unavailable").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "timeout", entries[0].ContextMap()["error"])
}
