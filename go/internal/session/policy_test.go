package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReduceTimer(t *testing.T) {
	t.Parallel()
	p := DefaultPolicy()

	tests := []struct {
		in, want int
	}{
		{100, 90},
		{60, 54},
		{12, 10},
		{11, 10},
		{10, 10},
		{4, 4},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.ReduceTimer(tt.in), "reduce %d", tt.in)
	}
}

func TestIsPenalty(t *testing.T) {
	t.Parallel()
	p := DefaultPolicy()

	assert.True(t, p.IsPenalty(60, 54))
	assert.True(t, p.IsPenalty(60, 57))
	assert.False(t, p.IsPenalty(60, 58), "regular tick plus jitter")
	assert.False(t, p.IsPenalty(10, 60), "reset to base time")
}

func TestSkipThreshold(t *testing.T) {
	t.Parallel()
	p := DefaultPolicy()

	assert.Equal(t, 5*time.Second, p.SkipThreshold(1))
	assert.Equal(t, 60*time.Second, p.SkipThreshold(2))
	assert.Equal(t, 60*time.Second, p.SkipThreshold(7))
}

func TestLoadPolicy(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("grace_delay: 2s\nskip_placeholder: \"(gone)\"\n"), 0o600))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, p.GraceDelay)
	assert.Equal(t, "(gone)", p.SkipPlaceholder)
	assert.Equal(t, 60*time.Second, p.SkipAfter)
	assert.Equal(t, 10, p.TimerFloorSec)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("reduction_percent: 150\n"), 0o600))
	_, err = LoadPolicy(bad)
	assert.ErrorContains(t, err, "reduction_percent")

	_, err = LoadPolicy(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
