package logger

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetOutput(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	l := New("tracker")
	l.Info("announced")
	l.Debug("hidden")
	SetDebug(true)
	l.Debug("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "INFO")
	assert.Contains(t, lines[0], "[tracker]")
	assert.True(t, strings.HasSuffix(lines[0], " announced"))
	assert.True(t, strings.HasSuffix(lines[1], " shown"))
}
