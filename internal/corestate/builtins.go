package corestate

import (
	_ "embed"
	"regexp"
)

// builtinSynthDefsSCD is a minimal set of built-in SynthDefs (a sine
// voice, a sampler, and a group link synth) available before any user definitions are
// loaded, trimmed down to the handful of defs the core runtime itself
// depends on for smoke-testing group/voice wiring.
//
//go:embed builtins.scd
var builtinSynthDefsSCD []byte

// synthDefNameRe matches both quoted-string and symbol SynthDef names,
// e.g. SynthDef("name", ... and SynthDef(\name, ...
var synthDefNameRe = regexp.MustCompile(`SynthDef\s*\(\s*(?:"([^"]+)"|\\([^,\s\)]+))`)

// builtinExclusions are infrastructure SynthDef names that are not
// user-facing voices; of these, only "sampler" appears in the embedded
// file.
var builtinExclusions = map[string]bool{
	"sampler":       true,
	"externalInput": true,
	"playback":      true,
	"diskout":       true,
	"out":           true,
}

// ExtractSynthDefNames extracts user-facing SynthDef names from
// SuperCollider source text, filtering out the infrastructure defs
// every engine process installs for routing.
func ExtractSynthDefNames(scdContent string) []string {
	matches := synthDefNameRe.FindAllStringSubmatch(scdContent, -1)

	var names []string
	for _, m := range matches {
		switch {
		case m[1] != "":
			names = append(names, m[1])
		case m[2] != "":
			names = append(names, m[2])
		}
	}

	var filtered []string
	for _, name := range names {
		if !builtinExclusions[name] {
			filtered = append(filtered, name)
		}
	}
	return filtered
}

// BuiltinSynthDefNames returns the names of the SynthDefs carried in
// the embedded builtin SuperCollider source.
func BuiltinSynthDefNames() []string {
	return ExtractSynthDefNames(string(builtinSynthDefsSCD))
}

// BuiltinSynthDefSource returns the embedded builtin SuperCollider
// source verbatim, for an engine adapter to send via /d_recv.
func BuiltinSynthDefSource() []byte {
	return builtinSynthDefsSCD
}
