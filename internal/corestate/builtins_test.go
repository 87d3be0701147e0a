package corestate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractSynthDefNamesQuotedAndSymbol(t *testing.T) {
	src := `
SynthDef("pluck", { |freq=440| }).add;
SynthDef(\bass, { |freq=110| }).add;
SynthDef(\sampler, { }).add;
SynthDef("out", { }).add;
`
	names := ExtractSynthDefNames(src)
	assert.ElementsMatch(t, []string{"pluck", "bass"}, names)
}

func TestExtractSynthDefNamesEmpty(t *testing.T) {
	assert.Empty(t, ExtractSynthDefNames("// nothing here"))
}

func TestBuiltinSynthDefNamesExcludesInfrastructure(t *testing.T) {
	names := BuiltinSynthDefNames()
	assert.Contains(t, names, "sine")
	assert.NotContains(t, names, "sampler")
}
