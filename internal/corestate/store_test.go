package corestate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStoreHasRootGroup(t *testing.T) {
	s := NewStore()
	snap := s.Snapshot()
	assert.Contains(t, snap.Groups, RootGroupPath)
	assert.Equal(t, 120.0, snap.Tempo)
	assert.Equal(t, uint64(0), snap.Version)
}

func TestWithWriteBumpsVersionOnSuccess(t *testing.T) {
	s := NewStore()
	err := s.WithWrite(func(snap *Snapshot) error {
		snap.Tempo = 140
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s.Version())
	assert.Equal(t, 140.0, s.Tempo())
}

func TestWithWriteLeavesVersionOnFailure(t *testing.T) {
	s := NewStore()
	err := s.WithWrite(func(snap *Snapshot) error {
		snap.Tempo = 999
		return NewError(ErrInvalidArgument, "", "bad tempo")
	})
	require.Error(t, err)
	assert.Equal(t, uint64(0), s.Version())
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	s := NewStore()
	snap := s.Snapshot()
	snap.Groups["extra"] = Group{Path: "extra"}

	s.WithRead(func(live Snapshot) {
		_, ok := live.Groups["extra"]
		assert.False(t, ok)
	})
}

func TestWithReadSeesLatestWrite(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.WithWrite(func(snap *Snapshot) error {
		snap.Groups["kick"] = Group{Path: "kick", ParentPath: RootGroupPath}
		return nil
	}))
	s.WithRead(func(live Snapshot) {
		g, ok := live.Groups["kick"]
		require.True(t, ok)
		assert.Equal(t, RootGroupPath, g.ParentPath)
	})
}

func TestActiveFadeCurrentValueLerpsAndClamps(t *testing.T) {
	start := time.Now()
	f := ActiveFade{
		StartValue:      0,
		TargetValue:     1,
		StartTime:       start,
		DurationSeconds: 1.0,
	}
	assert.Equal(t, float32(0), f.CurrentValue(start))
	assert.InDelta(t, 0.5, f.CurrentValue(start.Add(500*time.Millisecond)), 0.01)
	assert.Equal(t, float32(1), f.CurrentValue(start.Add(2*time.Second)))
}
