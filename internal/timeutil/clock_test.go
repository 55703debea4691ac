package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSystemClock(t *testing.T) {
	t.Parallel()
	var c Clock = SystemClock{}
	before := time.Now()
	now := c.Now()
	assert.False(t, now.Before(before))
	assert.GreaterOrEqual(t, c.Since(before.Add(-time.Second)), time.Second)
}

func TestManualClock(t *testing.T) {
	t.Parallel()
	start := time.Date(2021, 7, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(start)
	assert.True(t, c.Now().Equal(start))

	c.Advance(6 * time.Hour)
	assert.Equal(t, 6*time.Hour, c.Since(start))

	later := start.Add(24 * time.Hour)
	c.Set(later)
	assert.True(t, c.Now().Equal(later))
	assert.Equal(t, -18*time.Hour, c.Since(start.Add(42*time.Hour)))
}
