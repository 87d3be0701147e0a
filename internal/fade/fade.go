// Package fade implements the parameter-fade engine: linear
// interpolation of a running automation between a start and target
// value, emitted as throttled parameter-set commands. Fades continue
// advancing against wall-clock time regardless of transport running
// state, using a monotonic clock rather than the beat clock.
package fade

import (
	"time"

	"github.com/schollz/vibecore/internal/corestate"
)

// Emission is a parameter-set command the engine should send.
type Emission struct {
	Target       corestate.FadeKey
	TargetNodeIDs []int32
	Value        float32
	Final        bool
}

// Engine tracks every currently-running fade and decides, each tick,
// whether it has advanced enough to be worth sending.
type Engine struct {
	pending map[corestate.FadeKey]*corestate.ActiveFade
}

// New returns an empty Engine.
func New() *Engine {
	return &Engine{pending: map[corestate.FadeKey]*corestate.ActiveFade{}}
}

// Start installs a fade, overwriting any existing entry for the same
// key — invariant: at most one active fade per (kind, target, param).
func (e *Engine) Start(key corestate.FadeKey, f corestate.ActiveFade) {
	cp := f
	e.pending[key] = &cp
}

// Cancel removes a fade without emitting a final value.
func (e *Engine) Cancel(key corestate.FadeKey) {
	delete(e.pending, key)
}

// Active reports whether a fade is currently running for key.
func (e *Engine) Active(key corestate.FadeKey) bool {
	_, ok := e.pending[key]
	return ok
}

// Tick advances every pending fade to now and returns the emissions
// that should be sent: either because the throttle interval elapsed
// since the last send, or because the value moved by more than
// deadband, or because the fade just completed (always emitted once
// more at the target value). Completed fades are removed from
// pending.
func (e *Engine) Tick(now time.Time, throttle time.Duration, deadband float32) []Emission {
	var emissions []Emission

	for key, f := range e.pending {
		value := f.CurrentValue(now)
		complete := f.IsComplete(now)

		shouldSend := f.LastSentValue == nil
		if !shouldSend && now.Sub(f.LastSendTime) >= throttle {
			shouldSend = true
		}
		if !shouldSend && f.LastSentValue != nil && absFloat32(value-*f.LastSentValue) > deadband {
			shouldSend = true
		}
		if complete {
			shouldSend = true
			value = f.TargetValue
		}

		if shouldSend {
			emissions = append(emissions, Emission{
				Target:        key,
				TargetNodeIDs: f.NodeIDs,
				Value:         value,
				Final:         complete,
			})
			sent := value
			f.LastSentValue = &sent
			f.LastSendTime = now
		}

		if complete {
			delete(e.pending, key)
		}
	}

	return emissions
}

func absFloat32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
