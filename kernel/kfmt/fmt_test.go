package kfmt

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintfEarlyBuffering(t *testing.T) {
	defer SetOutputSink(nil)
	SetOutputSink(nil)

	Printf("booting %s: %d pages\n", "weensyos", 512)

	var buf bytes.Buffer
	SetOutputSink(&buf)
	assert.Equal(t, "booting weensyos: 512 pages\n", buf.String())

	Printf("pid %d", 1)
	assert.Equal(t, "booting weensyos: 512 pages\npid 1", buf.String())
}

func TestNewLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")

	l, err := NewLogger("debug", path)
	require.NoError(t, err)
	l.Debug("hello")
	_ = l.Sync()

	_, err = NewLogger("chatty", path)
	assert.Error(t, err)
}

func TestSetLogger(t *testing.T) {
	defer SetLogger(nil)

	SetLogger(nil)
	require.NotNil(t, Logger())
}
