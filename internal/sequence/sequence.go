// Package sequence implements the sequence expander: it turns a
// SequenceDefinition plus a start anchor into the set of child loop
// snapshots and one-shot events the scheduler should track. The
// expander is a pure function over its inputs; it never mutates
// ActiveSequenceState itself.
package sequence

import (
	"math"

	"github.com/schollz/vibecore/internal/corestate"
	"github.com/schollz/vibecore/internal/scheduler"
)

// cycleEpsilon guards against floating point jitter when comparing a
// beat to a loop-cycle boundary.
const cycleEpsilon = 1e-9

// ClipIdentity lets the reload engine correlate a clip's produced loop
// across edits even when its timeline position shifts.
type ClipIdentity struct {
	SourceKind corestate.ClipSourceKind
	SourceName string
}

// ExpandedLoop pairs a scheduler.LoopSnapshot with the clip identity
// that produced it.
type ExpandedLoop struct {
	Snapshot scheduler.LoopSnapshot
	Identity ClipIdentity
}

// Resolver looks up the concrete entity a clip source names.
type Resolver func(kind corestate.ClipSourceKind, name string) (any, bool)

// Expander turns sequence definitions into scheduler inputs.
type Expander struct{}

// NewExpander returns an Expander. It holds no state: every call to
// Expand is independent.
func NewExpander() *Expander { return &Expander{} }

// Expand walks def.Clips once per loop-timeline cycle overlapping
// [currentBeat, windowEnd] and produces the loop snapshots and
// one-shot events active in that range. A sequence's timeline repeats
// every def.LoopBeats starting at anchor, so a clip at [s, e) on the
// timeline is live at [anchor+iter*LoopBeats+s, anchor+iter*LoopBeats+e)
// for every cycle iter the scheduling window touches. If def.PlayOnce
// is set, only cycle zero is ever expanded, and completed reports
// whether that single cycle has fully elapsed (anchor+LoopBeats <=
// currentBeat), so the caller can deactivate the sequence. If
// def.LoopBeats <= 0 the timeline does not repeat at all; every clip
// is expanded exactly once, anchored directly.
func (e *Expander) Expand(def corestate.SequenceDefinition, anchor, currentBeat, windowEnd float64, active corestate.ActiveSequenceState, resolve Resolver) (loops []ExpandedLoop, oneShot []scheduler.ScheduledEvent, completed bool) {
	if def.LoopBeats <= 0 {
		loops, oneShot = e.expandCycle(def, anchor, resolve)
		return loops, oneShot, false
	}

	if def.PlayOnce {
		cycleEnd := anchor + def.LoopBeats
		if currentBeat >= cycleEnd-cycleEpsilon {
			return nil, nil, true
		}
		if windowEnd < anchor {
			return nil, nil, false
		}
		loops, oneShot = e.expandCycle(def, anchor, resolve)
		return loops, oneShot, false
	}

	if windowEnd < anchor {
		return nil, nil, false
	}

	iterFirst := int64(math.Floor((math.Max(currentBeat, anchor) - anchor) / def.LoopBeats))
	iterLast := int64(math.Floor((windowEnd - anchor) / def.LoopBeats))
	if iterFirst < 0 {
		iterFirst = 0
	}
	if iterLast < iterFirst {
		iterLast = iterFirst
	}

	for iter := iterFirst; iter <= iterLast; iter++ {
		cycleStart := anchor + float64(iter)*def.LoopBeats
		cycleLoops, cycleOneShot := e.expandCycle(def, cycleStart, resolve)
		loops = append(loops, cycleLoops...)
		oneShot = append(oneShot, cycleOneShot...)
	}
	return loops, oneShot, false
}

// expandCycle expands every clip in def relative to a single cycle
// start (either the sequence's anchor, for a non-repeating timeline,
// or one repetition's absolute start beat).
func (e *Expander) expandCycle(def corestate.SequenceDefinition, cycleStart float64, resolve Resolver) ([]ExpandedLoop, []scheduler.ScheduledEvent) {
	var loops []ExpandedLoop
	var oneShot []scheduler.ScheduledEvent

	for _, clip := range def.Clips {
		start := cycleStart + clip.Start
		end := cycleStart + clip.End

		switch clip.Source.Kind {
		case corestate.ClipSourcePattern, corestate.ClipSourceMelody:
			entity, ok := resolve(clip.Source.Kind, clip.Source.Name)
			if !ok {
				continue
			}
			pattern, ok := entity.(corestate.Pattern)
			if !ok {
				continue
			}
			switch clip.Mode.Kind {
			case corestate.ClipModeOnce:
				oneShot = append(oneShot, e.patternAsOneShots(pattern, start)...)
			case corestate.ClipModeLoopCount:
				effectiveEnd := end
				if pattern.LoopLengthBeats > 0 {
					capped := start + float64(clip.Mode.Count)*pattern.LoopLengthBeats
					if capped < effectiveEnd {
						effectiveEnd = capped
					}
				}
				loops = append(loops, e.loopSnapshotFor(clip, pattern, start, effectiveEnd))
			default: // ClipModeLoop
				loops = append(loops, e.loopSnapshotFor(clip, pattern, start, end))
			}

		case corestate.ClipSourceFade:
			fd, ok := resolve(clip.Source.Kind, clip.Source.Name)
			if !ok {
				continue
			}
			fade, ok := fd.(corestate.FadeDefinition)
			if !ok {
				continue
			}
			oneShot = append(oneShot, scheduler.ScheduledEvent{
				Beat: start,
				Event: corestate.BeatEvent{
					Beat: start,
					Fade: &corestate.FadeClip{
						Name:          fade.Name,
						TargetKind:    fade.TargetKind,
						TargetName:    fade.TargetName,
						ParamName:     fade.ParamName,
						StartValue:    fade.From,
						TargetValue:   fade.To,
						DurationBeats: fade.DurationBeats,
					},
				},
			})

		case corestate.ClipSourceSequence:
			childDef, ok := resolve(clip.Source.Kind, clip.Source.Name)
			if !ok {
				continue
			}
			child, ok := childDef.(corestate.SequenceDefinition)
			if !ok {
				continue
			}
			// A nested sequence expands one cycle of its own timeline
			// per parent cycle it's embedded in; it does not separately
			// repeat within the parent clip's window.
			childLoops, childOneShot := e.expandCycle(child, start, resolve)
			loops = append(loops, childLoops...)
			oneShot = append(oneShot, childOneShot...)
		}
	}

	return loops, oneShot
}

func (e *Expander) loopSnapshotFor(clip corestate.SequenceClip, pattern corestate.Pattern, start, end float64) ExpandedLoop {
	kind := scheduler.LoopKindPattern
	if pattern.Kind == corestate.LoopKindMelody {
		kind = scheduler.LoopKindMelody
	}
	return ExpandedLoop{
		Snapshot: scheduler.LoopSnapshot{
			Name:      clip.Source.Name,
			Kind:      kind,
			Pattern:   pattern,
			StartBeat: start,
			EndBeat:   end,
		},
		Identity: ClipIdentity{SourceKind: clip.Source.Kind, SourceName: clip.Source.Name},
	}
}

// patternAsOneShots fires every event in a Once-mode pattern a single
// time, anchored at start rather than being tracked as a loop.
func (e *Expander) patternAsOneShots(pattern corestate.Pattern, start float64) []scheduler.ScheduledEvent {
	out := make([]scheduler.ScheduledEvent, 0, len(pattern.Events))
	for _, ev := range pattern.Events {
		beat := start + pattern.PhaseOffset + ev.Beat
		tagged := ev
		tagged.Beat = beat
		out = append(out, scheduler.ScheduledEvent{Beat: beat, Event: tagged})
	}
	return out
}
