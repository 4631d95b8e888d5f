package parsimon

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestReadConfigKeepsDefaults(t *testing.T) {
	dict := []byte(`
name: partial
clustering:
  algo: greedy
dispatch:
  max_in_flight: 2
  workers: ["10.0.0.1:7000"]
`)
	cfg, err := ReadConfig("", true, dict)
	require.NoError(t, err)
	require.Equal(t, "partial", cfg.Name)
	require.Equal(t, "greedy", cfg.Clustering.Algo)
	require.Equal(t, 0.1, cfg.Clustering.Epsilon)
	require.Equal(t, 2, cfg.Dispatch.MaxInFlight)
	require.Equal(t, 3, cfg.Dispatch.MaxRetries)
	require.Equal(t, []string{"10.0.0.1:7000"}, cfg.Dispatch.Workers)
	require.Equal(t, "fifo", cfg.LinkSim.Model)
	require.Equal(t, DefaultMaxAtoms, cfg.Aggregation.MaxAtoms)
	require.Equal(t, DefaultBucketOpts(), cfg.Dispatch.SizeBuckets)
}

func TestConfigFileRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LinkSim.Model = "rr"
	cfg.LinkSim.Quantum = 1500
	cfg.Trace = TraceConfig{InUse: true, File: "trace.yaml"}
	cfg.Dispatch.Workers = []string{"worker-0:7000", "worker-1:7000"}

	for _, name := range []string{"cfg.yaml", "cfg.json"} {
		filename := filepath.Join(t.TempDir(), name)
		require.NoError(t, cfg.WriteToFile(filename))
		read, err := ReadConfig(filename, isYAMLFile(filename), nil)
		require.NoError(t, err)
		require.Equal(t, cfg, read)
	}

	require.Error(t, cfg.WriteToFile(filepath.Join(t.TempDir(), "cfg.toml")))
}

func TestConfigValidateReportsEverything(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "chatty"
	cfg.Clustering.Algo = "kmeans"
	cfg.LinkSim.Model = "ns3"
	cfg.Dispatch.MaxInFlight = 0
	cfg.Dispatch.Backoff = -1
	cfg.Dispatch.SizeBuckets.Ratio = 0.5

	err := cfg.Validate()
	require.Error(t, err)
	for _, fragment := range []string{"chatty", "kmeans", "ns3", "max_in_flight", "negative", "size_buckets"} {
		require.ErrorContains(t, err, fragment)
	}

	_, err = ReadConfig("", true, []byte("dispatch: {max_retries: -2}"))
	require.ErrorContains(t, err, "max_retries")
}

func TestConfigLogger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "debug"
	cfg.LogFormat = "json"
	logger := cfg.Logger()
	require.Equal(t, logrus.DebugLevel, logger.GetLevel())
	require.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}
