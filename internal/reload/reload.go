// Package reload implements the live-reload diff engine: it hashes the
// "audible" shape of every voice, pattern/melody, and sequence, diffs
// two snapshots of those hashes, and schedules quantized removal of
// whatever dropped out.
package reload

import (
	"hash/fnv"
	"math"
	"sort"
	"strconv"

	"github.com/schollz/vibecore/internal/corestate"
)

// EntityKind is the closed set of entity kinds the reload engine
// tracks. Groups, effects, samples, and fades are not diffed: a reload
// only ever changes script-authored sound sources and arrangements.
type EntityKind int

const (
	EntityVoice EntityKind = iota
	EntityPattern
	EntityMelody
	EntitySequence
)

// EntityRef names one tracked entity.
type EntityRef struct {
	Kind EntityKind
	Name string
}

// MinApplyDelayBeats is the minimum delay, in beats, before a removal
// may take effect.
const MinApplyDelayBeats = 0.1

// CrossfadeBeats is the crossfade duration, in beats, carried over from
// the original implementation's constants. Nothing in this module reads
// it: removals scheduled by FinalizeReload are not crossfaded.
const CrossfadeBeats = 0.25

// ContentHash computes an FNV-1a hash over the canonical encoding of
// exactly the audible fields of the named entity: for a voice, its
// synth-def name and sorted default params; for a pattern or melody,
// its sorted events, loop length, and phase offset; for a sequence,
// its sorted clips and loop length. Runtime-only fields (LoopStatus,
// ActiveSequenceState, node ids) never enter the hash, so starting,
// stopping, or re-triggering an entity is never mistaken for an edit.
func ContentHash(kind EntityKind, name string, snap *corestate.Snapshot) (uint64, bool) {
	h := fnv.New64a()
	switch kind {
	case EntityVoice:
		v, ok := snap.Voices[name]
		if !ok {
			return 0, false
		}
		writeString(h, v.SynthDef)
		writeParams(h, v.Defaults)
	case EntityPattern:
		p, ok := snap.Patterns[name]
		if !ok || p.Kind != corestate.LoopKindPattern {
			return 0, false
		}
		writePattern(h, p)
	case EntityMelody:
		p, ok := snap.Melodies[name]
		if !ok {
			return 0, false
		}
		writePattern(h, p)
	case EntitySequence:
		s, ok := snap.Sequences[name]
		if !ok {
			return 0, false
		}
		writeFloat(h, s.LoopBeats)
		clips := make([]corestate.SequenceClip, len(s.Clips))
		copy(clips, s.Clips)
		sort.Slice(clips, func(i, j int) bool {
			a, b := clips[i], clips[j]
			if a.Start != b.Start {
				return a.Start < b.Start
			}
			if a.End != b.End {
				return a.End < b.End
			}
			if a.Source.Kind != b.Source.Kind {
				return a.Source.Kind < b.Source.Kind
			}
			return a.Source.Name < b.Source.Name
		})
		for _, c := range clips {
			writeFloat(h, c.Start)
			writeFloat(h, c.End)
			writeInt(h, int64(c.Source.Kind))
			writeString(h, c.Source.Name)
			writeInt(h, int64(c.Mode.Kind))
			writeInt(h, c.Mode.Count)
		}
	}
	return h.Sum64(), true
}

func writePattern(h interface{ Write([]byte) (int, error) }, p corestate.Pattern) {
	writeFloat(h, p.LoopLengthBeats)
	writeFloat(h, p.PhaseOffset)
	events := make([]corestate.BeatEvent, len(p.Events))
	copy(events, p.Events)
	sort.Slice(events, func(i, j int) bool { return events[i].Beat < events[j].Beat })
	for _, ev := range events {
		writeFloat(h, ev.Beat)
		writeString(h, ev.SynthDef)
		writeParams(h, controlMap(ev.Controls))
	}
}

func controlMap(cs []corestate.ControlPair) map[string]float32 {
	m := make(map[string]float32, len(cs))
	for _, c := range cs {
		m[c.Name] = c.Value
	}
	return m
}

func writeParams(h interface{ Write([]byte) (int, error) }, params map[string]float32) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeString(h, k)
		writeFloat(h, float64(params[k]))
	}
}

func writeString(h interface{ Write([]byte) (int, error) }, s string) {
	h.Write([]byte(s))
	h.Write([]byte{0})
}

func writeFloat(h interface{ Write([]byte) (int, error) }, f float64) {
	writeString(h, strconv.FormatFloat(f, 'g', -1, 64))
}

func writeInt(h interface{ Write([]byte) (int, error) }, i int64) {
	writeString(h, strconv.FormatInt(i, 10))
}

// ReloadBaseline is a snapshot of every tracked entity's content hash,
// captured at the start of a reload.
type ReloadBaseline struct {
	Hashes map[EntityRef]uint64
}

// BeginReload captures the current content hash of every voice,
// pattern, melody, and sequence in snap.
func BeginReload(snap corestate.Snapshot) ReloadBaseline {
	hashes := map[EntityRef]uint64{}
	for name := range snap.Voices {
		if hv, ok := ContentHash(EntityVoice, name, &snap); ok {
			hashes[EntityRef{EntityVoice, name}] = hv
		}
	}
	for name := range snap.Patterns {
		if hv, ok := ContentHash(EntityPattern, name, &snap); ok {
			hashes[EntityRef{EntityPattern, name}] = hv
		}
	}
	for name := range snap.Melodies {
		if hv, ok := ContentHash(EntityMelody, name, &snap); ok {
			hashes[EntityRef{EntityMelody, name}] = hv
		}
	}
	for name := range snap.Sequences {
		if hv, ok := ContentHash(EntitySequence, name, &snap); ok {
			hashes[EntityRef{EntitySequence, name}] = hv
		}
	}
	return ReloadBaseline{Hashes: hashes}
}

// Diff classifies every tracked entity between a baseline and a new
// snapshot into Kept (hash unchanged), Updated (hash changed), Added
// (new in snap), or Removed (present in baseline, absent from snap).
type Diff struct {
	Kept    []EntityRef
	Updated []EntityRef
	Added   []EntityRef
	Removed []EntityRef
}

// ScheduledRemoval is a Removed entity together with the beat at which
// its removal should take effect on the external engine.
type ScheduledRemoval struct {
	Entity   EntityRef
	RemoveAt float64
}

// FinalizeReload diffs baseline against snap's current entities and
// schedules every Removed entity (other than the root group, which
// this diff never tracks anyway) for removal no sooner than
// minApplyDelayBeats from now, rounded up to the next quantization
// boundary.
func FinalizeReload(baseline ReloadBaseline, snap corestate.Snapshot, quantizationBeats, minApplyDelayBeats, currentBeat float64) (Diff, []ScheduledRemoval) {
	var diff Diff
	current := map[EntityRef]uint64{}

	collect := func(kind EntityKind, names []string) {
		for _, name := range names {
			hv, ok := ContentHash(kind, name, &snap)
			if !ok {
				continue
			}
			ref := EntityRef{kind, name}
			current[ref] = hv
			if prior, existed := baseline.Hashes[ref]; !existed {
				diff.Added = append(diff.Added, ref)
			} else if prior != hv {
				diff.Updated = append(diff.Updated, ref)
			} else {
				diff.Kept = append(diff.Kept, ref)
			}
		}
	}

	collect(EntityVoice, keysOf(snap.Voices))
	collect(EntityPattern, keysOf(snap.Patterns))
	collect(EntityMelody, keysOf(snap.Melodies))
	collect(EntitySequence, keysOf(snap.Sequences))

	var removals []ScheduledRemoval
	removeAt := nextQuantizedRemoval(currentBeat, minApplyDelayBeats, quantizationBeats)
	for ref := range baseline.Hashes {
		if _, stillPresent := current[ref]; stillPresent {
			continue
		}
		diff.Removed = append(diff.Removed, ref)
		removals = append(removals, ScheduledRemoval{Entity: ref, RemoveAt: removeAt})
	}

	sortRefs(diff.Kept)
	sortRefs(diff.Updated)
	sortRefs(diff.Added)
	sortRefs(diff.Removed)
	sort.Slice(removals, func(i, j int) bool {
		if removals[i].Entity.Kind != removals[j].Entity.Kind {
			return removals[i].Entity.Kind < removals[j].Entity.Kind
		}
		return removals[i].Entity.Name < removals[j].Entity.Name
	})

	return diff, removals
}

// nextQuantizedRemoval is ceil((currentBeat+minApplyDelayBeats)/quantizationBeats)*quantizationBeats.
func nextQuantizedRemoval(currentBeat, minApplyDelayBeats, quantizationBeats float64) float64 {
	if quantizationBeats <= 0 {
		return currentBeat + minApplyDelayBeats
	}
	return math.Ceil((currentBeat+minApplyDelayBeats)/quantizationBeats) * quantizationBeats
}

func keysOf[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func sortRefs(refs []EntityRef) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Kind != refs[j].Kind {
			return refs[i].Kind < refs[j].Kind
		}
		return refs[i].Name < refs[j].Name
	})
}
