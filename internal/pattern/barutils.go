// Package pattern implements the step-pattern/euclid mini-language
// used to describe a loop body as a compact string: bars separated by
// "|", one character per step.
package pattern

import "strings"

// SplitIntoBars splits input into bars, collapsing consecutive "|"
// separators (with optional whitespace between them), stripping
// leading/trailing separators, and trimming each bar while preserving
// whitespace within it.
func SplitIntoBars(input string) []string {
	parts := strings.Split(input, "|")
	bars := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			bars = append(bars, trimmed)
		}
	}
	return bars
}

// NormalizeBars returns input with its bar structure normalized:
// consecutive separators collapsed, leading/trailing separators
// stripped, internal content preserved.
func NormalizeBars(input string) string {
	return strings.Join(SplitIntoBars(input), "|")
}

// CountBars returns the number of non-empty bars in input.
func CountBars(input string) int {
	return len(SplitIntoBars(input))
}
