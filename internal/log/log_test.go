package log

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesPattern(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "debug", Pattern: "[%level] %field %msg\n", Output: &buf})
	require.NoError(t, err)

	l.WithFields(map[string]interface{}{"iface": "eth0", "code": -1}).Warn("init failed")

	assert.Equal(t, "[WARNING] code=-1,iface=eth0 init failed\n", buf.String())
}

func TestNewLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "info", Output: &buf})
	require.NoError(t, err)

	l.Debug("hidden")
	l.Trace("hidden")
	assert.Empty(t, buf.String())
	assert.False(t, l.IsDebugEnabled())
	assert.False(t, l.IsTraceEnabled())
	assert.True(t, l.IsInfoEnabled())

	l.Info("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewInvalidLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNewWithFileAppender(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "netsensor.log")

	l, err := New(Config{Output: &buf, File: FileAppenderOpt{Filename: path, MaxSize: 1}})
	require.NoError(t, err)

	l.WithError(errors.New("boom")).Error("queue closed")
	assert.True(t, strings.Contains(buf.String(), "error=boom"))
	assert.FileExists(t, path)
}

func TestNamed(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Pattern: "%field %msg", Output: &buf})
	require.NoError(t, err)

	Named(l, "cleaner").Info("cycle")
	assert.Equal(t, "component=cleaner cycle", buf.String())
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Error("nothing")
	assert.False(t, l.IsInfoEnabled())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestMultiWriterKeepsWritingAfterFailure(t *testing.T) {
	var a, b bytes.Buffer
	w := NewMultiWriter().Add(&a).Add(failingWriter{}).Add(&b)

	n, err := w.Write([]byte("line\n"))
	assert.Equal(t, 5, n)
	assert.EqualError(t, err, "disk full")
	assert.Equal(t, "line\n", a.String())
	assert.Equal(t, "line\n", b.String())
}
