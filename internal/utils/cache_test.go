package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueCacheExpiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewValueCache(time.Minute)
	c.now = func() time.Time { return now }

	c.Set("Channel 0", 1.5, now)
	snap := c.Snapshot()
	require.Contains(t, snap, "Channel 0")
	assert.Equal(t, 1.5, snap["Channel 0"].Value)

	now = now.Add(2 * time.Minute)
	assert.Empty(t, c.Snapshot())
}

func TestValueCacheKeepsNewest(t *testing.T) {
	c := NewValueCache(0)
	t0 := time.Now()
	c.Set("a", 2, t0)
	c.Set("a", 1, t0.Add(-time.Second))
	c.Set("b", 3, t0)

	snap := c.Snapshot()
	assert.Len(t, snap, 2)
	assert.Equal(t, 2.0, snap["a"].Value)
	assert.Equal(t, t0, snap["a"].At)
}
