package tokens

import "math"

// DefaultMaxOutput is assumed when a request does not state an expected
// output size.
const DefaultMaxOutput = 256

// EstimateText approximates tokens for a text using the four characters per
// token heuristic.
func EstimateText(text string) int {
	runes := len([]rune(text))
	if runes == 0 {
		return 0
	}
	return int(math.Ceil(float64(runes) / 4.0))
}

// Estimate computes the deterministic admission estimate for a call:
// ceil(inputCharacters/4) plus the caller-supplied expected output tokens.
// It is a fixed heuristic, not an exact count, and never touches the network.
func Estimate(input string, expectedOutput int) int {
	if expectedOutput <= 0 {
		expectedOutput = DefaultMaxOutput
	}
	return EstimateText(input) + expectedOutput
}
