package meter

import (
	"context"
	"testing"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/schollz/vibecore/internal/bus"
	"github.com/schollz/vibecore/internal/corestate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaleReportsPastThreshold(t *testing.T) {
	now := time.Now()
	fresh := corestate.MeterReading{At: now.Add(-50 * time.Millisecond)}
	old := corestate.MeterReading{At: now.Add(-250 * time.Millisecond)}
	assert.False(t, Stale(fresh, now))
	assert.True(t, Stale(old, now))
}

func TestDecoderAccumulatesFieldsIntoOneReading(t *testing.T) {
	store := corestate.NewStore()
	require.NoError(t, store.WithWrite(func(s *corestate.Snapshot) error {
		s.ActiveSynths[42] = corestate.ActiveSynth{NodeID: 42, GroupPaths: []string{"main/bass"}}
		return nil
	}))
	b := bus.New(store, 8)
	go bus.NewWorker(b).Run(context.Background())
	defer b.Close()

	d := NewDecoder(b.Handle(), func(nodeID int32) (string, bool) {
		if nodeID == 42 {
			return "main/bass", true
		}
		return "", false
	})

	require.NoError(t, d.handle(&osc.Message{Address: "/tr", Arguments: []any{int32(42), int32(trigPeakL), float32(0.8)}}))
	require.NoError(t, d.handle(&osc.Message{Address: "/tr", Arguments: []any{int32(42), int32(trigRmsR), float32(0.3)}}))

	time.Sleep(20 * time.Millisecond)
	store.WithRead(func(s corestate.Snapshot) {
		r := s.LastMeters["main/bass"]
		assert.InDelta(t, 0.8, r.PeakL, 1e-6)
		assert.InDelta(t, 0.3, r.RmsR, 1e-6)
		assert.False(t, r.At.IsZero())
	})
}

func TestDecoderIgnoresUnresolvableNode(t *testing.T) {
	store := corestate.NewStore()
	b := bus.New(store, 8)
	go bus.NewWorker(b).Run(context.Background())
	defer b.Close()

	d := NewDecoder(b.Handle(), func(nodeID int32) (string, bool) { return "", false })
	err := d.handle(&osc.Message{Address: "/tr", Arguments: []any{int32(99), int32(trigPeakL), float32(0.5)}})
	assert.NoError(t, err)
}

func TestDecoderRejectsWrongArgCount(t *testing.T) {
	d := NewDecoder(nil, func(int32) (string, bool) { return "", false })
	err := d.handle(&osc.Message{Address: "/tr", Arguments: []any{int32(1)}})
	assert.Error(t, err)
}

func TestDecoderRejectsUnknownTrigID(t *testing.T) {
	store := corestate.NewStore()
	b := bus.New(store, 8)
	go bus.NewWorker(b).Run(context.Background())
	defer b.Close()

	d := NewDecoder(b.Handle(), func(int32) (string, bool) { return "main/bass", true })
	err := d.handle(&osc.Message{Address: "/tr", Arguments: []any{int32(1), int32(99), float32(0.1)}})
	assert.Error(t, err)
}
