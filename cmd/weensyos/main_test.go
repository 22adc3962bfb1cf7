package main

import (
	"bytes"
	"context"
	"image/png"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"weensyos/kernel/config"
	"weensyos/kernel/driver/keyboard"
	"weensyos/kernel/kmain"
	"weensyos/user"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var ansiSeq = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// execute runs the root command with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return ansiSeq.ReplaceAllString(out.String(), ""), err
}

func TestProgramsCmd(t *testing.T) {
	out, err := execute(t, "programs")
	require.NoError(t, err)

	for _, name := range user.Names {
		assert.Contains(t, out, name)
		assert.NotEmpty(t, programHelp[name], "missing help for %s", name)
	}
}

func TestInitConfigCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weensyos.yaml")

	out, err := execute(t, "init-config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+path)

	cfg, kerr := config.Load(path)
	require.Nil(t, kerr)
	assert.Equal(t, config.DefaultConfig(), cfg)
}

func TestRunCmd(t *testing.T) {
	specs := []struct {
		name   string
		args   []string
		expOut []string
		expLog string
	}{
		{
			name:   "single program",
			args:   []string{"run", "--program", user.Allocator, "--max-ticks", "20"},
			expOut: []string{"PHYSICAL MEMORY (tick 21)", "VIRTUAL ADDRESS SPACE FOR 1", "stopped after 20 ticks: tick limit reached"},
			expLog: `"msg":"kernel booted"`,
		},
		{
			name:   "config file",
			args:   []string{"run", "--config", "testdata/kill.yaml"},
			expOut: []string{"stopped after 150 ticks"},
			expLog: `"msg":"process killed"`,
		},
		{
			name:   "stop when idle",
			args:   []string{"run", "--program", user.Fault, "--stop-when-idle"},
			expOut: []string{"no live process"},
			expLog: `"msg":"page fault"`,
		},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			logFile := filepath.Join(t.TempDir(), "log.txt")
			out, err := execute(t, append(spec.args, "--log-file", logFile)...)
			require.NoError(t, err)

			for _, exp := range spec.expOut {
				assert.Contains(t, out, exp)
			}

			logs, rerr := os.ReadFile(logFile)
			require.NoError(t, rerr)
			assert.Contains(t, string(logs), spec.expLog)
			assert.Contains(t, string(logs), `"boot_id"`)
		})
	}
}

func TestRunCmdErrors(t *testing.T) {
	specs := []struct {
		args   []string
		expErr string
	}{
		{[]string{"run", "--program", "nope"}, "unknown program"},
		{[]string{"run", "--config", "testdata/missing.yaml"}, "failed to read config"},
		{[]string{"run", "--log-level", "loud", "--max-ticks", "1"}, "invalid log level"},
	}

	for _, spec := range specs {
		t.Run(spec.expErr, func(t *testing.T) {
			_, err := execute(t, append(spec.args, "--log-file", filepath.Join(t.TempDir(), "log.txt"))...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), spec.expErr)
		})
	}
}

func TestRunSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memory.png")

	_, err := execute(t, "run", "--program", user.Fork, "--max-ticks", "30",
		"--snapshot", path, "--log-file", filepath.Join(dir, "log.txt"))
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Greater(t, img.Bounds().Dx(), 0)
}

func TestRunHeadlessCanceled(t *testing.T) {
	programs, kerr := user.Programs(100)
	require.Nil(t, kerr)

	k, err := kmain.Boot(config.DefaultConfig(), programs)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, runHeadless(ctx, k))
	assert.Equal(t, kmain.StopCanceled, k.StopReason())
}

func TestViewModel(t *testing.T) {
	latch := &keyboard.Latch{}
	var m tea.Model = newViewModel(latch)

	m, cmd := m.Update(frameMsg("PHYSICAL MEMORY"))
	assert.Nil(t, cmd)
	assert.Contains(t, m.View(), "PHYSICAL MEMORY")
	assert.Contains(t, m.View(), "q: quit")

	m, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'x'}})
	assert.Nil(t, cmd)
	assert.False(t, latch.Poll())

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	assert.True(t, latch.Poll())
	assert.Contains(t, m.View(), "stopping...")

	_, cmd = m.Update(doneMsg{})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}
