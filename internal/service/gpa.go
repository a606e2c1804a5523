package service

import (
	"strconv"
	"strings"

	"github.com/campus-tools/canvaswatch/internal/config"
)

// letterCutoffs maps inclusive lower score bounds to letter grades, in
// descending order. Anything below 60 is an F.
var letterCutoffs = []struct {
	min    float64
	letter string
}{
	{93, "A"},
	{90, "A-"},
	{87, "B+"},
	{83, "B"},
	{80, "B-"},
	{77, "C+"},
	{73, "C"},
	{70, "C-"},
	{67, "D+"},
	{63, "D"},
	{60, "D-"},
}

var plusMinusPoints = map[string]float64{
	"A": 4.0, "A-": 3.7,
	"B+": 3.3, "B": 3.0, "B-": 2.7,
	"C+": 2.3, "C": 2.0, "C-": 1.7,
	"D+": 1.3, "D": 1.0, "D-": 0.7,
	"F": 0.0,
}

var simplePoints = map[string]float64{
	"A": 4.0, "B": 3.0, "C": 2.0, "D": 1.0, "F": 0.0,
}

// letterFromScore converts a 0-100 score to a plus/minus letter grade.
func letterFromScore(score float64) string {
	for _, cutoff := range letterCutoffs {
		if score >= cutoff.min {
			return cutoff.letter
		}
	}
	return "F"
}

// pointsFromLetter converts a letter grade to grade points under the given
// scale. The simple_cutoffs scale collapses to whole-letter buckets by
// truncating the letter to its first character; every other scale uses the
// plus/minus table. Unknown letters yield ok=false.
func pointsFromLetter(letter, scale string) (float64, bool) {
	letter = strings.ToUpper(strings.TrimSpace(letter))
	if letter == "" {
		return 0, false
	}

	if scale == config.GPAScaleSimpleCutoffs {
		base := letter[:1]
		if _, known := simplePoints[base]; !known {
			base = "F"
		}
		return simplePoints[base], true
	}

	points, known := plusMinusPoints[letter]
	return points, known
}

// scaleFactor returns the multiplier applied to a raw 4.0-based GPA. Named
// scales stay at 1.0; a numeric scale rescales linearly by scale/4.0.
func scaleFactor(scale string) float64 {
	switch scale {
	case "", config.GPAScalePlusMinus, config.GPAScaleSimpleCutoffs:
		return 1.0
	}

	numeric, err := strconv.ParseFloat(strings.TrimSpace(scale), 64)
	if err != nil || numeric <= 0 {
		return 1.0
	}
	return numeric / 4.0
}
