package tokens

import (
	"strings"
	"testing"
)

func TestEstimateFormula(t *testing.T) {
	cases := []struct {
		input    string
		expected int
		want     int
	}{
		{"", 10, 10},
		{"abcd", 10, 11},
		{"abcde", 10, 12},          // ceil(5/4) = 2
		{strings.Repeat("x", 100), 50, 75}, // 25 + 50
		{"hé", 5, 6},               // runes, not bytes: ceil(2/4)=1
	}
	for _, tc := range cases {
		if got := Estimate(tc.input, tc.expected); got != tc.want {
			t.Errorf("Estimate(%q, %d) = %d, want %d", tc.input, tc.expected, got, tc.want)
		}
	}
}

func TestEstimateDefaultsOutput(t *testing.T) {
	if got := Estimate("abcd", 0); got != 1+DefaultMaxOutput {
		t.Fatalf("got %d", got)
	}
	if got := Estimate("abcd", -3); got != 1+DefaultMaxOutput {
		t.Fatalf("got %d", got)
	}
}

func TestEstimateText(t *testing.T) {
	if got := EstimateText(""); got != 0 {
		t.Fatalf("empty input: %d", got)
	}
	if got := EstimateText("abcdefgh"); got != 2 {
		t.Fatalf("got %d", got)
	}
}
