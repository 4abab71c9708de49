package collab

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestFileLogStoreTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\nfour\n"), 0644))

	store := NewFileLogStore(path, 1000)
	lines, err := store.Tail(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"three", "four"}, lines)
}

func TestFileLogStoreCapsAtMaxLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0644))

	store := NewFileLogStore(path, 2)
	lines, err := store.Tail(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"two", "three"}, lines)
}

func TestFileLogStoreMissingFile(t *testing.T) {
	store := NewFileLogStore(filepath.Join(t.TempDir(), "absent.log"), 100)
	_, err := store.Tail(context.Background(), 10)
	assert.Error(t, err)
}

func TestFileSignalProviderMissingFileIsEmpty(t *testing.T) {
	provider := NewFileSignalProvider(filepath.Join(t.TempDir(), "signals.yaml"))
	signals, err := provider.LatestSignals(context.Background())
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestFileSignalProviderParsesExport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signals.yaml")
	export := []Signal{
		{Symbol: "EURUSD", Action: "buy", EntryPrice: 1.0842, StopLoss: 1.08, TakeProfit: 1.09, Confidence: 0.8},
		{Symbol: "GBPUSD", Action: "sell", EntryPrice: 1.27, Confidence: 0.6},
	}
	data, err := yaml.Marshal(export)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	provider := NewFileSignalProvider(path)
	signals, err := provider.LatestSignals(context.Background())
	require.NoError(t, err)
	require.Len(t, signals, 2)
	assert.Equal(t, "EURUSD", signals[0].Symbol)
	assert.Equal(t, 1.0842, signals[0].EntryPrice)
	// Exports without timestamps still sort deterministically.
	assert.False(t, signals[0].Timestamp.IsZero())
}

func TestFileConfigStoreShallowMerge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runtime.yaml")
	require.NoError(t, os.WriteFile(path, []byte("risk_percent: 1.0\nmax_positions: 3\n"), 0644))

	store := NewFileConfigStore(path)
	err := store.Apply(context.Background(), map[string]interface{}{
		"risk_percent": 0.5,
		"new_key":      true,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var merged map[string]interface{}
	require.NoError(t, yaml.Unmarshal(data, &merged))
	assert.Equal(t, 0.5, merged["risk_percent"])
	assert.Equal(t, 3, merged["max_positions"])
	assert.Equal(t, true, merged["new_key"])
}

func TestFileConfigStoreCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runtime.yaml")

	store := NewFileConfigStore(path)
	require.NoError(t, store.Apply(context.Background(), map[string]interface{}{"enabled": true}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var merged map[string]interface{}
	require.NoError(t, yaml.Unmarshal(data, &merged))
	assert.Equal(t, true, merged["enabled"])
}

func TestExecControllerProbeMapsOutput(t *testing.T) {
	// /bin/echo is available on the Linux hosts the gateway targets.
	c := NewExecController(CommandSet{
		TradingProbe: "echo Stopped",
		APIProbe:     "echo something-else",
	})

	state, err := c.TradingStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateStopped, state)

	// Unrecognized output from a succeeding probe means Running.
	state, err = c.APIStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateRunning, state)
}

func TestExecControllerProbeFailureIsDown(t *testing.T) {
	c := NewExecController(CommandSet{TradingProbe: "false"})

	state, err := c.TradingStatus(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StateDown, state)
}

func TestExecControllerUnconfiguredOperation(t *testing.T) {
	c := NewExecController(CommandSet{})
	assert.Error(t, c.StartTrading(context.Background()))
}
