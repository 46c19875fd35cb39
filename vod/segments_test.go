package vod

import (
	"math"
	"testing"
	"time"
)

func Test_convertToSegments(t *testing.T) {
	t.Run("keyframe aligned plan with equal subdivision of long gaps", func(t *testing.T) {
		keyframes := []float64{3, 6, 20}
		duration := 31 * time.Second

		expected := []float64{0, 3, 6, 9.5, 13, 16.5, 20, 22.75, 25.5, 28.25, 31}
		results := convertToSegments(keyframes, duration, 3.5, 1.25)

		if len(results) != len(expected) {
			t.Fatalf("convertToSegments(%v) = %v, want %v", keyframes, results, expected)
		}

		for i := range expected {
			if math.Abs(results[i]-expected[i]) > 1e-9 {
				t.Errorf("convertToSegments(%v)[%d] = %v, want %v", keyframes, i, results[i], expected[i])
			}
		}
	})

	t.Run("first and last boundaries are zero and duration", func(t *testing.T) {
		inputs := [][]float64{
			{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
			{5, 55, 555},
			{5, 1, 9},
			{10},
			{0, 10, 20},
			{1},
		}

		for _, input := range inputs {
			duration := time.Duration(input[len(input)-1] * float64(time.Second))
			input = input[:len(input)-1]

			results := convertToSegments(input, duration, 3.5, 1.25)

			if results[0] != 0 {
				t.Errorf("convertToSegments(%v)[0] = %v, want 0", input, results[0])
			}
			if last := results[len(results)-1]; math.Abs(last-duration.Seconds()) > 1e-9 {
				t.Errorf("convertToSegments(%v) last = %v, want %v", input, last, duration.Seconds())
			}

			for i := 1; i < len(results); i++ {
				if results[i] <= results[i-1] {
					t.Errorf("convertToSegments(%v) = %v, not strictly increasing at %d", input, results, i)
				}
			}
		}
	})

	t.Run("difference between entries cannot be outside defined boundaries", func(t *testing.T) {
		// length, offset
		segmentTimes := [][]float64{
			{3.5, 1.25},
			{10, 5},
			{50, 1},
			{20, 19},
			{1, 0.5},
		}

		// ...keyframes, duration
		inputs := [][]float64{
			{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
			{5, 55, 555},
			{5, 1, 9},
			{10},
			{0, 10, 20},
			{1},
		}

		for _, segmentTime := range segmentTimes {
			segmentLength := segmentTime[0]
			segmentOffset := segmentTime[1]

			// with a narrow tolerance, sparse keyframes cannot always be split
			// within bounds: subdividing a gap just above the maximum yields
			// halves below the minimum unless the tolerance covers a third of
			// the target length, so only the upper bound holds unconditionally
			lowerBoundHolds := segmentOffset >= segmentLength/3

			for _, input := range inputs {
				duration := time.Duration(input[len(input)-1] * float64(time.Second))
				input = input[:len(input)-1]
				results := convertToSegments(input, duration, segmentLength, segmentOffset)

				var lastEl float64
				for _, el := range results {
					if lastEl != 0 {
						if lowerBoundHolds && el-lastEl < segmentLength-segmentOffset-1e-9 {
							t.Errorf("convertToSegments(%v, %v, %v, %v) gap %v, want at least %v",
								input, duration, segmentLength, segmentOffset, el-lastEl, segmentLength-segmentOffset)
						}
						if el-lastEl > segmentLength+segmentOffset+1e-9 {
							t.Errorf("convertToSegments(%v, %v, %v, %v) gap %v, want at most %v",
								input, duration, segmentLength, segmentOffset, el-lastEl, segmentLength+segmentOffset)
						}
					}

					lastEl = el
				}
			}
		}
	})

	t.Run("a valid plan maps onto itself", func(t *testing.T) {
		keyframes := []float64{3, 6, 20}
		duration := 31 * time.Second

		first := convertToSegments(keyframes, duration, 3.5, 1.25)
		second := convertToSegments(first[1:len(first)-1], duration, 3.5, 1.25)

		if len(first) != len(second) {
			t.Fatalf("replanning changed the segment count: %v vs %v", first, second)
		}

		for i := range first {
			if math.Abs(first[i]-second[i]) > 1e-9 {
				t.Errorf("replanning changed boundary %d: %v vs %v", i, first[i], second[i])
			}
		}
	})

	t.Run("without keyframes the plan is a uniform division", func(t *testing.T) {
		results := convertToSegments(nil, 31*time.Second, 3.5, 1.25)

		width := results[1] - results[0]
		for i := 1; i < len(results); i++ {
			if math.Abs(results[i]-results[i-1]-width) > 1e-9 {
				t.Errorf("expected uniform segments, got %v", results)
				break
			}
		}

		if width < 2.25 || width > 4.75 {
			t.Errorf("uniform width %v outside tolerance", width)
		}
	})
}
