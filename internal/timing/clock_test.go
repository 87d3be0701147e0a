package timing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewClockStoppedAtZero(t *testing.T) {
	c := New(120, 4, 4)
	assert.False(t, c.Running())
	assert.Equal(t, 0.0, c.BeatAt(time.Now()))
}

func TestBeatAtFrozenWhileStopped(t *testing.T) {
	c := New(120, 4, 4)
	c.Seek(10)
	b1 := c.BeatAt(time.Now())
	time.Sleep(5 * time.Millisecond)
	b2 := c.BeatAt(time.Now())
	assert.Equal(t, b1, b2)
	assert.Equal(t, 10.0, b2)
}

func TestStartAdvancesBeat(t *testing.T) {
	c := New(120, 4, 4)
	c.Start()
	time.Sleep(20 * time.Millisecond)
	beat := c.BeatAt(time.Now())
	assert.Greater(t, beat, 0.0)
}

func TestSetBPMPreservesCurrentBeatWhileRunning(t *testing.T) {
	c := New(120, 4, 4)
	c.Start()
	time.Sleep(20 * time.Millisecond)
	before := c.BeatAt(time.Now())
	c.SetBPM(240)
	after := c.BeatAt(time.Now())
	assert.InDelta(t, before, after, 0.05)
}

func TestStopFreezesBeat(t *testing.T) {
	c := New(120, 4, 4)
	c.Start()
	time.Sleep(20 * time.Millisecond)
	c.Stop()
	frozen := c.BeatAt(time.Now())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, frozen, c.BeatAt(time.Now()))
}

func TestLookaheadBeats(t *testing.T) {
	c := New(120, 4, 4)
	// At 120 BPM, 1 beat = 0.5s, so 50ms = 0.1 beats.
	assert.InDelta(t, 0.1, c.LookaheadBeats(50), 1e-9)
}

func TestSeekWhileRunningPreservesRunning(t *testing.T) {
	c := New(120, 4, 4)
	c.Start()
	c.Seek(8)
	assert.True(t, c.Running())
	assert.InDelta(t, 8.0, c.BeatAt(time.Now()), 0.01)
}

func TestSetTimeSignature(t *testing.T) {
	c := New(120, 4, 4)
	c.SetTimeSignature(3, 8)
	n, d := c.TimeSignature()
	assert.Equal(t, 3, n)
	assert.Equal(t, 8, d)
}
