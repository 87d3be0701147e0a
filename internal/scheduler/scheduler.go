// Package scheduler implements the beat-based event scheduler: given
// the current beat and a set of playing loops, it emits every event
// whose absolute beat falls in a lookahead window exactly once. Ported
// 1:1 from the Rust original's EventScheduler.collect_due_events.
package scheduler

import (
	"math"
	"sort"
	"time"

	"github.com/schollz/vibecore/internal/corestate"
	"github.com/schollz/vibecore/internal/timing"
)

// maxIterationsPerLoop defends against degenerate loop lengths (e.g.
// near-zero) producing unbounded iteration within one tick.
const maxIterationsPerLoop = 2048

// windowEpsilon guards against floating point boundary jitter when
// comparing a candidate beat to the window end.
const windowEpsilon = 1e-9

// LoopKind distinguishes the three things a LoopSnapshot can model.
type LoopKind int

const (
	LoopKindPattern LoopKind = iota
	LoopKindMelody
	LoopKindSequence
)

// LoopSnapshot is one playing loop as seen by the scheduler on a given
// tick: a read-only view, never mutated here. EndBeat is exclusive and
// zero means unbounded (a directly-started pattern/melody plays until
// explicitly stopped); a sequence-derived loop sets it to the clip's
// absolute end so the scheduler stops emitting once the clip's window
// closes.
type LoopSnapshot struct {
	Name      string
	Kind      LoopKind
	Pattern   corestate.Pattern
	StartBeat float64
	EndBeat   float64
	GroupPath string
	VoiceName string
}

// ScheduledEvent is a one-shot event with an absolute beat, merged
// into the window alongside loop-derived events.
type ScheduledEvent struct {
	Beat  float64
	Event corestate.BeatEvent
}

// BeatBatch groups every event due at the same absolute beat.
type BeatBatch struct {
	Beat   float64
	Events []corestate.BeatEvent
}

// Scheduler tracks per-loop last-scheduled-beat state across ticks.
type Scheduler struct {
	lastScheduled        map[string]float64
	defaultLastScheduled float64
}

// New returns a Scheduler with no loops tracked yet.
func New() *Scheduler {
	return &Scheduler{
		lastScheduled:        map[string]float64{},
		defaultLastScheduled: -1,
	}
}

// CollectDueEvents computes window_end = now's beat + lookahead, then
// for every loop snapshot with a positive loop length, walks forward
// from its first occurrence since start, emitting every candidate
// beat in (last, window_end] up to the iteration cap. One-shot events
// in (current, window_end] are merged in. The result is sorted
// ascending by beat.
func (s *Scheduler) CollectDueEvents(clock *timing.Clock, now time.Time, loops []LoopSnapshot, oneShot []ScheduledEvent, lookaheadMs int64) []BeatBatch {
	current := clock.BeatAt(now)
	windowEnd := current + clock.LookaheadBeats(lookaheadMs)

	eventsByBeat := map[float64][]corestate.BeatEvent{}

	for _, loop := range loops {
		if loop.Pattern.LoopLengthBeats <= 0 {
			continue
		}
		last, ok := s.lastScheduled[loop.Name]
		if !ok {
			last = s.defaultLastScheduled
		}
		maxBeat := last

		for _, ev := range loop.Pattern.Events {
			first := loop.StartBeat + loop.Pattern.PhaseOffset + ev.Beat
			loopLen := loop.Pattern.LoopLengthBeats

			iterationsSinceStart := math.Max(0, math.Floor((current-first)/loopLen))
			iteration := iterationsSinceStart

			for i := 0; i < maxIterationsPerLoop; i++ {
				ab := first + iteration*loopLen
				if ab > windowEnd+windowEpsilon {
					break
				}
				if loop.EndBeat > 0 && ab >= loop.EndBeat-windowEpsilon {
					break
				}
				if ab > last && ab <= windowEnd {
					tagged := ev
					tagged.Beat = ab
					tagged.GroupPath = loop.GroupPath
					tagged.VoiceName = loop.VoiceName
					switch loop.Kind {
					case LoopKindPattern:
						tagged.PatternName = loop.Name
					case LoopKindMelody:
						tagged.MelodyName = loop.Name
					}
					eventsByBeat[ab] = append(eventsByBeat[ab], tagged)
					if ab > maxBeat {
						maxBeat = ab
					}
				}
				iteration++
			}
		}

		if maxBeat > last {
			s.lastScheduled[loop.Name] = maxBeat
		} else if !ok {
			s.lastScheduled[loop.Name] = last
		}
	}

	for _, one := range oneShot {
		if one.Beat > current && one.Beat <= windowEnd {
			eventsByBeat[one.Beat] = append(eventsByBeat[one.Beat], one.Event)
		}
	}

	beats := make([]float64, 0, len(eventsByBeat))
	for b := range eventsByBeat {
		beats = append(beats, b)
	}
	sort.Float64s(beats)

	batches := make([]BeatBatch, 0, len(beats))
	for _, b := range beats {
		batches = append(batches, BeatBatch{Beat: b, Events: eventsByBeat[b]})
	}
	return batches
}

// Reset empties all per-loop state and resets defaultLastScheduled to
// -1, so a fresh transport re-starts from beat 0 without re-emitting
// past events.
func (s *Scheduler) Reset() {
	s.lastScheduled = map[string]float64{}
	s.defaultLastScheduled = -1
}

// ResetToBeat sets defaultLastScheduled to b-epsilon (so events at b
// are emitted but earlier ones are skipped) and clears all per-loop
// entries, which will re-seed from the new default on next tick.
func (s *Scheduler) ResetToBeat(b float64) {
	s.lastScheduled = map[string]float64{}
	s.defaultLastScheduled = b - windowEpsilon
}

// ResetLoop clears tracked state for a single loop, so it re-seeds
// from defaultLastScheduled on its next tick.
func (s *Scheduler) ResetLoop(name string) {
	delete(s.lastScheduled, name)
}

// SyncToBeat rewrites every tracked loop's last-scheduled entry to b,
// without forgetting which loops exist (used on pause/resume).
func (s *Scheduler) SyncToBeat(b float64) {
	for name := range s.lastScheduled {
		s.lastScheduled[name] = b
	}
}
