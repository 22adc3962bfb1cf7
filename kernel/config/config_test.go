package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "weensyos.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Nil(t, cfg.Validate())
	assert.Equal(t, uint64(100), cfg.Hz)
	assert.Len(t, cfg.Processes, 4)
	assert.Equal(t, "allocator", cfg.Processes[0].Program)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
hz: 50
max_ticks: 1000
stop_when_idle: true
processes:
  - program: test_kill
    uid: 5
    euid: 0
`)

	cfg, err := Load(path)
	require.Nil(t, err)

	exp := DefaultConfig()
	exp.Hz = 50
	exp.MaxTicks = 1000
	exp.StopWhenIdle = true
	exp.Processes = []Process{{Program: "test_kill", UID: 5, EUID: 0}}

	if diff := cmp.Diff(exp, cfg); diff != "" {
		t.Fatalf("unexpected config (-want +got):\n%s", diff)
	}
}

func TestLoadErrors(t *testing.T) {
	specs := []struct {
		contents string
		expErr   string
	}{
		{"hz: [", "failed to parse config"},
		{"hz: 0", errZeroHz.Message},
		{"instructions_per_tick: -1", errZeroBudget.Message},
		{"processes:\n  - uid: 1", "process 1: missing program name"},
		{"processes:\n  - program: fork\n    euid: -2", "process 1: negative user id"},
		{"processes: [" + strings.TrimSuffix(strings.Repeat("{program: fork}, ", 16), ", ") + "]", errTooManyProcesses.Message},
	}

	for specIndex, spec := range specs {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			_, err := Load(writeConfig(t, spec.contents))
			require.NotNil(t, err)
			assert.Contains(t, err.Error(), spec.expErr)
			assert.Equal(t, "config", err.Module)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		require.NotNil(t, err)
		assert.Contains(t, err.Error(), "failed to read config")
	})
}

func TestWithProgram(t *testing.T) {
	cfg := DefaultConfig()
	single := cfg.WithProgram("sleeper")

	assert.Equal(t, []Process{{Program: "sleeper"}}, single.Processes)
	assert.Len(t, cfg.Processes, 4, "original config must not change")
	assert.Equal(t, cfg.Hz, single.Hz)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := DefaultConfig().WithProgram("forkexit")
	cfg.MaxTicks = 42

	require.Nil(t, cfg.Save(path))
	loaded, err := Load(path)
	require.Nil(t, err)

	if diff := cmp.Diff(cfg, loaded); diff != "" {
		t.Fatalf("config changed across save and load (-want +got):\n%s", diff)
	}
}
