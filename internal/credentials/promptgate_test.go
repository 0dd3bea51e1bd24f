package credentials

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromptGateCooldown(t *testing.T) {
	gate := NewPromptGate("", 6*time.Hour, zerolog.Nop())
	base := time.Now()
	gate.now = func() time.Time { return base }

	assert.True(t, gate.ShouldAllowPrompt())

	gate.RecordDenied()
	assert.False(t, gate.ShouldAllowPrompt())

	// One hour in: still suppressed.
	gate.now = func() time.Time { return base.Add(time.Hour) }
	assert.False(t, gate.ShouldAllowPrompt())

	// Seven hours in: the cooldown has lapsed.
	gate.now = func() time.Time { return base.Add(7 * time.Hour) }
	assert.True(t, gate.ShouldAllowPrompt())

	// The lapsed cooldown was cleared, not just ignored.
	gate.now = func() time.Time { return base }
	assert.True(t, gate.ShouldAllowPrompt())
}

func TestPromptGatePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gate.json")
	base := time.Now()

	gate := NewPromptGate(path, 6*time.Hour, zerolog.Nop())
	gate.now = func() time.Time { return base }
	gate.RecordDenied()

	reopened := NewPromptGate(path, 6*time.Hour, zerolog.Nop())
	reopened.now = func() time.Time { return base.Add(time.Hour) }
	assert.False(t, reopened.ShouldAllowPrompt())

	reopened.now = func() time.Time { return base.Add(7 * time.Hour) }
	assert.True(t, reopened.ShouldAllowPrompt())
}

func TestPromptGateReset(t *testing.T) {
	gate := NewPromptGate("", time.Hour, zerolog.Nop())
	gate.RecordDenied()
	assert.False(t, gate.ShouldAllowPrompt())

	gate.Reset()
	assert.True(t, gate.ShouldAllowPrompt())
}

func TestPromptGateCorruptStateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gate.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0600))

	gate := NewPromptGate(path, time.Hour, zerolog.Nop())
	assert.True(t, gate.ShouldAllowPrompt())
}
