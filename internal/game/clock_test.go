package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClock(t *testing.T) {
	var c Clock
	assert.False(t, c.Tick(), "frozen clock must not advance")
	assert.Zero(t, c.Elapsed())

	c.Start()
	for i := 0; i < 30; i++ {
		assert.True(t, c.Tick())
	}
	assert.Equal(t, 3.0, c.Elapsed())

	c.Freeze()
	assert.False(t, c.Tick())
	assert.Equal(t, 3.0, c.Elapsed(), "freeze keeps the last value")

	c.Start()
	c.Tick()
	assert.Equal(t, 3.1, c.Elapsed())

	c.Reset()
	assert.False(t, c.Running())
	assert.Zero(t, c.Elapsed())
}

func TestClock_NoDriftOverLongTrack(t *testing.T) {
	var c Clock
	c.Start()
	for i := 0; i < 1800; i++ {
		c.Tick()
	}
	assert.Equal(t, 180.0, c.Elapsed())
}
