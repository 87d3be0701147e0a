package dispatch

import (
	"testing"
	"time"

	"github.com/schollz/vibecore/internal/bus"
	"github.com/schollz/vibecore/internal/corestate"
	"github.com/schollz/vibecore/internal/fade"
	"github.com/schollz/vibecore/internal/oscclient"
	"github.com/schollz/vibecore/internal/scheduler"
	"github.com/schollz/vibecore/internal/timing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent []oscclient.Bundle
}

func (f *fakeSender) SendBundle(b oscclient.Bundle) error {
	f.sent = append(f.sent, b)
	return nil
}

func (f *fakeSender) Close() error { return nil }

func newDispatcher(t *testing.T, sender oscclient.Sender) *Dispatcher {
	t.Helper()
	store := corestate.NewStore()
	b := bus.New(store, 0)
	clock := timing.New(120, 4, 4)
	return NewDispatcher(clock, 0, sender, fade.New(), b.Handle(), store)
}

func TestDispatchSendsSNewForSynthDefEvent(t *testing.T) {
	sender := &fakeSender{}
	d := newDispatcher(t, sender)

	batches := []scheduler.BeatBatch{
		{Beat: 0, Events: []corestate.BeatEvent{{SynthDef: "sine", Controls: []corestate.ControlPair{{Name: "amp", Value: 1.0}}}}},
	}
	require.NoError(t, d.Dispatch(batches))
	require.Len(t, sender.sent, 1)
	require.Len(t, sender.sent[0].Commands, 1)
	assert.Equal(t, "/s_new", sender.sent[0].Commands[0].Address)
}

func TestDispatchGroupsSameWallTimeEvents(t *testing.T) {
	sender := &fakeSender{}
	d := newDispatcher(t, sender)

	batches := []scheduler.BeatBatch{
		{Beat: 0, Events: []corestate.BeatEvent{{SynthDef: "sine"}, {SynthDef: "sine"}}},
	}
	require.NoError(t, d.Dispatch(batches))
	require.Len(t, sender.sent, 1)
	assert.Len(t, sender.sent[0].Commands, 2)
}

func TestDispatchRegistersFadeTrigger(t *testing.T) {
	sender := &fakeSender{}
	d := newDispatcher(t, sender)

	key := corestate.FadeKey{TargetKind: corestate.FadeTargetGroup, TargetName: "main/a", ParamName: "amp"}
	batches := []scheduler.BeatBatch{
		{Beat: 0, Events: []corestate.BeatEvent{{
			Fade: &corestate.FadeClip{TargetKind: corestate.FadeTargetGroup, TargetName: "main/a", ParamName: "amp", StartValue: 0, TargetValue: 1, DurationBeats: 4},
		}}},
	}
	require.NoError(t, d.Dispatch(batches))
	assert.True(t, d.Fades.Active(key))
}

func TestDispatchBareControlUpdateEmitsNSet(t *testing.T) {
	sender := &fakeSender{}
	d := newDispatcher(t, sender)
	require.NoError(t, d.Store.WithWrite(func(s *corestate.Snapshot) error {
		s.Voices["bass"] = corestate.Voice{Name: "bass", TriggerNodeID: 1042, ActiveNotes: map[uint8]int32{}}
		return nil
	}))

	batches := []scheduler.BeatBatch{
		{Beat: 0, Events: []corestate.BeatEvent{{VoiceName: "bass", Controls: []corestate.ControlPair{{Name: "amp", Value: 0.5}}}}},
	}
	require.NoError(t, d.Dispatch(batches))
	require.Len(t, sender.sent[0].Commands, 1)
	assert.Equal(t, "/n_set", sender.sent[0].Commands[0].Address)
	assert.Equal(t, []any{int32(1042), "amp", float32(0.5)}, sender.sent[0].Commands[0].Args)
}

func TestDispatchBareControlUpdateWithNoActiveNodeIsDropped(t *testing.T) {
	sender := &fakeSender{}
	d := newDispatcher(t, sender)

	batches := []scheduler.BeatBatch{
		{Beat: 0, Events: []corestate.BeatEvent{{VoiceName: "missing", Controls: []corestate.ControlPair{{Name: "amp", Value: 0.5}}}}},
	}
	require.NoError(t, d.Dispatch(batches))
	require.Len(t, sender.sent, 1)
	assert.Empty(t, sender.sent[0].Commands)
}

func TestDispatchStopNodeEmitsNFreeForTrackedVoice(t *testing.T) {
	sender := &fakeSender{}
	d := newDispatcher(t, sender)
	require.NoError(t, d.Store.WithWrite(func(s *corestate.Snapshot) error {
		s.Voices["bass"] = corestate.Voice{Name: "bass", TriggerNodeID: 2001, ActiveNotes: map[uint8]int32{}}
		return nil
	}))

	batches := []scheduler.BeatBatch{
		{Beat: 0, Events: []corestate.BeatEvent{{VoiceName: "bass", StopNode: true}}},
	}
	require.NoError(t, d.Dispatch(batches))
	require.Len(t, sender.sent[0].Commands, 1)
	assert.Equal(t, "/n_free", sender.sent[0].Commands[0].Address)
	assert.Equal(t, []any{int32(2001)}, sender.sent[0].Commands[0].Args)
}

func TestDispatchStopNodeByMidiResolvesPerNoteEntry(t *testing.T) {
	sender := &fakeSender{}
	d := newDispatcher(t, sender)
	require.NoError(t, d.Store.WithWrite(func(s *corestate.Snapshot) error {
		s.Voices["lead"] = corestate.Voice{Name: "lead", TriggerNodeID: corestate.NoActiveNode, ActiveNotes: map[uint8]int32{60: 3005}}
		return nil
	}))

	batches := []scheduler.BeatBatch{
		{Beat: 0, Events: []corestate.BeatEvent{{VoiceName: "lead", HasMidi: true, Midi: 60, StopNode: true}}},
	}
	require.NoError(t, d.Dispatch(batches))
	require.Len(t, sender.sent[0].Commands, 1)
	assert.Equal(t, []any{int32(3005)}, sender.sent[0].Commands[0].Args)
}

func TestDispatchWallTimeHonorsOutputLatency(t *testing.T) {
	sender := &fakeSender{}
	store := corestate.NewStore()
	b := bus.New(store, 0)
	clock := timing.New(120, 4, 4)
	clock.Start()
	d := NewDispatcher(clock, 100*time.Millisecond, sender, fade.New(), b.Handle(), store)

	beat := clock.BeatAt(time.Now())
	wallNoLatency := clock.WallAt(beat)
	batches := []scheduler.BeatBatch{{Beat: beat, Events: []corestate.BeatEvent{{SynthDef: "sine"}}}}
	require.NoError(t, d.Dispatch(batches))

	require.Len(t, sender.sent, 1)
	assert.True(t, sender.sent[0].At.After(wallNoLatency))
}
