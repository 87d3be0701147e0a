package pattern

import (
	"unicode"

	"github.com/schollz/vibecore/internal/corestate"
)

// beatsPerBar is the standard 4/4 assumption the step parser uses;
// ParseSteps does not attempt to honor an arbitrary time signature.
const beatsPerBar = 4.0

// PatternWarning records an unrecognized token so a caller can surface
// it; the parser itself never errors on one, silently treating it as a
// rest.
type PatternWarning struct {
	Bar   int
	Index int
	Rune  rune
}

// ParseSteps parses a bar-separated step string into beat events. Each
// bar is treated as exactly 4 beats regardless of the transport's
// actual time signature; tokens within a bar divide that bar's 4 beats
// evenly. Swing is applied per token index (odd global token index
// shifted later by swing*beatPerToken*0.5) rather than per beat — this
// means swing's musical effect shifts depending on how many tokens
// share a bar, a mismatch in compound meters that this implementation
// preserves rather than "fixes".
func ParseSteps(steps string, swingFraction float64) ([]corestate.BeatEvent, float64, []PatternWarning) {
	bars := SplitIntoBars(steps)
	var events []corestate.BeatEvent
	var warnings []PatternWarning

	currentBeat := 0.0
	stepIndex := 0

	for barIdx, bar := range bars {
		tokens := []rune(bar)
		var filtered []rune
		for _, r := range tokens {
			if !unicode.IsSpace(r) {
				filtered = append(filtered, r)
			}
		}

		if len(filtered) == 0 {
			currentBeat += beatsPerBar
			continue
		}

		beatPerToken := beatsPerBar / float64(len(filtered))

		for i, ch := range filtered {
			beat := currentBeat + float64(i)*beatPerToken
			if stepIndex%2 == 1 {
				beat += swingFraction * beatPerToken * 0.5
			}

			amp, isEvent := tokenAmplitude(ch)
			if isEvent {
				events = append(events, corestate.BeatEvent{
					Beat:     beat,
					SynthDef: "trigger",
					Controls: []corestate.ControlPair{{Name: "amp", Value: amp}},
				})
			} else if !isRestToken(ch) {
				warnings = append(warnings, PatternWarning{Bar: barIdx, Index: i, Rune: ch})
			}
			stepIndex++
		}

		currentBeat += beatsPerBar
	}

	loopLength := float64(len(bars)) * beatsPerBar
	return events, loopLength, warnings
}

func isRestToken(ch rune) bool {
	switch ch {
	case '.', '_', '0', '-':
		return true
	}
	return false
}

// tokenAmplitude maps a step token to an event amplitude. ok is false
// for rest tokens and unrecognized runes alike — the caller
// distinguishes the two via isRestToken for warning purposes.
func tokenAmplitude(ch rune) (float32, bool) {
	switch {
	case ch == 'x':
		return 1.0, true
	case ch == 'X' || ch == 'o' || ch == 'O':
		return 1.2, true
	case ch >= '1' && ch <= '9':
		digit := float64(ch - '0')
		return float32(0.1 + (digit/9.0)*0.9), true
	default:
		return 0, false
	}
}

// Euclid generates a Bresenham-style Euclidean rhythm of the given
// number of hits distributed over steps, ported verbatim from
// generate_euclidean.
func Euclid(hits, steps int) string {
	if steps == 0 {
		return ""
	}
	if hits >= steps {
		return repeatRune('x', steps)
	}
	if hits == 0 {
		return repeatRune('.', steps)
	}

	out := make([]byte, steps)
	bucket := 0
	for i := 0; i < steps; i++ {
		bucket += hits
		if bucket >= steps {
			bucket -= steps
			out[i] = 'x'
		} else {
			out[i] = '.'
		}
	}
	return string(out)
}

func repeatRune(r rune, n int) string {
	out := make([]rune, n)
	for i := range out {
		out[i] = r
	}
	return string(out)
}
