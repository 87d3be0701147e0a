package reload

import (
	"testing"

	"github.com/schollz/vibecore/internal/corestate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseSnapshot() corestate.Snapshot {
	s := corestate.NewSnapshot()
	s.Voices["bass"] = corestate.Voice{
		Name:     "bass",
		SynthDef: "sub",
		Defaults: map[string]float32{"amp": 0.5},
	}
	s.Patterns["pA"] = corestate.Pattern{
		Name:            "pA",
		Kind:            corestate.LoopKindPattern,
		LoopLengthBeats: 4,
		Events: []corestate.BeatEvent{
			{Beat: 0, SynthDef: "sub"},
			{Beat: 2, SynthDef: "sub"},
		},
		Status: corestate.LoopStatus{Kind: corestate.LoopPlaying, StartBeat: 0},
	}
	return s
}

func TestContentHashStableAcrossRuntimeOnlyChanges(t *testing.T) {
	snap := baseSnapshot()
	h1, ok := ContentHash(EntityPattern, "pA", &snap)
	require.True(t, ok)

	p := snap.Patterns["pA"]
	p.Status = corestate.LoopStatus{Kind: corestate.LoopQueuedStop, StartBeat: 4, StopBeat: 8}
	snap.Patterns["pA"] = p

	h2, ok := ContentHash(EntityPattern, "pA", &snap)
	require.True(t, ok)
	assert.Equal(t, h1, h2)
}

func TestContentHashChangesWithEvents(t *testing.T) {
	snap := baseSnapshot()
	h1, _ := ContentHash(EntityPattern, "pA", &snap)

	p := snap.Patterns["pA"]
	p.Events = append(p.Events, corestate.BeatEvent{Beat: 3, SynthDef: "sub"})
	snap.Patterns["pA"] = p

	h2, _ := ContentHash(EntityPattern, "pA", &snap)
	assert.NotEqual(t, h1, h2)
}

func TestUnchangedScriptYieldsAllKeep(t *testing.T) {
	snap := baseSnapshot()
	baseline := BeginReload(snap)

	diff, removals := FinalizeReload(baseline, snap, 4, MinApplyDelayBeats, 1.0)
	assert.Empty(t, removals)
	assert.Empty(t, diff.Added)
	assert.Empty(t, diff.Updated)
	assert.Empty(t, diff.Removed)
	assert.ElementsMatch(t, []EntityRef{
		{EntityVoice, "bass"},
		{EntityPattern, "pA"},
	}, diff.Kept)
}

func TestRemovedPatternScheduledAtNextQuantizationBoundary(t *testing.T) {
	snap := baseSnapshot()
	baseline := BeginReload(snap)

	delete(snap.Patterns, "pA")

	diff, removals := FinalizeReload(baseline, snap, 4, MinApplyDelayBeats, 3.2)
	require.Len(t, diff.Removed, 1)
	assert.Equal(t, EntityRef{EntityPattern, "pA"}, diff.Removed[0])
	require.Len(t, removals, 1)
	assert.InDelta(t, 4.0, removals[0].RemoveAt, 1e-9)
}

func TestUpdatedVoiceParamIsClassifiedUpdated(t *testing.T) {
	snap := baseSnapshot()
	baseline := BeginReload(snap)

	v := snap.Voices["bass"]
	v.Defaults = map[string]float32{"amp": 0.8}
	snap.Voices["bass"] = v

	diff, _ := FinalizeReload(baseline, snap, 4, MinApplyDelayBeats, 0)
	require.Len(t, diff.Updated, 1)
	assert.Equal(t, EntityRef{EntityVoice, "bass"}, diff.Updated[0])
}

func TestNewEntityIsClassifiedAdded(t *testing.T) {
	snap := baseSnapshot()
	baseline := BeginReload(snap)

	snap.Voices["lead"] = corestate.Voice{Name: "lead", SynthDef: "sine"}

	diff, _ := FinalizeReload(baseline, snap, 4, MinApplyDelayBeats, 0)
	require.Len(t, diff.Added, 1)
	assert.Equal(t, EntityRef{EntityVoice, "lead"}, diff.Added[0])
}

func TestNextQuantizedRemovalRoundsUp(t *testing.T) {
	assert.InDelta(t, 4.0, nextQuantizedRemoval(3.2, 0.1, 4), 1e-9)
	assert.InDelta(t, 4.0, nextQuantizedRemoval(0, 0.1, 4), 1e-9)
	assert.InDelta(t, 8.0, nextQuantizedRemoval(4.0, 0.1, 4), 1e-9)
}

func TestSequenceHashCatchesClipChange(t *testing.T) {
	snap := baseSnapshot()
	snap.Sequences["seqA"] = corestate.SequenceDefinition{
		Name:      "seqA",
		LoopBeats: 8,
		Clips: []corestate.SequenceClip{
			{Start: 0, End: 4, Source: corestate.ClipSource{Kind: corestate.ClipSourcePattern, Name: "pA"}, Mode: corestate.ClipMode{Kind: corestate.ClipModeLoop}},
		},
	}
	h1, ok := ContentHash(EntitySequence, "seqA", &snap)
	require.True(t, ok)

	seq := snap.Sequences["seqA"]
	seq.Clips[0].End = 6
	snap.Sequences["seqA"] = seq

	h2, _ := ContentHash(EntitySequence, "seqA", &snap)
	assert.NotEqual(t, h1, h2)
}
