package vod

import (
	"math"
	"time"
)

// convertToSegments turns a list of keyframe timestamps and the total duration
// into segment boundaries. The first boundary is always 0 and the last one is
// always the duration; every gap between neighbours stays within
// [segmentLength-segmentOffset, segmentLength+segmentOffset], except that a
// trailing remainder shorter than the minimum is absorbed into the previous
// segment.
func convertToSegments(rawTimeList []float64, duration time.Duration, segmentLength float64, segmentOffset float64) []float64 {
	durationSec := duration.Seconds()
	minSegmentLength := segmentLength - segmentOffset
	maxSegmentLength := segmentLength + segmentOffset

	timeList := append(append([]float64{}, rawTimeList...), durationSec)
	breakpoints := []float64{0}

	lastTime := float64(0)
	for _, time := range timeList {
		// too close to the previous boundary, skip it regardless
		if time-lastTime < minSegmentLength {
			continue
		}

		// within tolerance, use it as-is
		if time-lastTime < maxSegmentLength {
			lastTime = time
			breakpoints = append(breakpoints, lastTime)
			continue
		}

		// the gap is too long, split it into equal parts
		count := math.Ceil((time - lastTime) / segmentLength)
		width := (time - lastTime) / count
		for i := 1; i < int(count); i++ {
			breakpoints = append(breakpoints, lastTime+width*float64(i))
		}

		// use time directly instead of setting it in the loop so we won't lose
		// accuracy due to float point precision limit
		lastTime = time
		breakpoints = append(breakpoints, lastTime)
	}

	// when the trailing remainder was absorbed, the merged final segment can
	// end up longer than allowed and has to be halved
	if len(breakpoints) > 1 {
		breakpoints = breakpoints[:len(breakpoints)-1]

		last := breakpoints[len(breakpoints)-1]
		if durationSec-last > maxSegmentLength {
			breakpoints = append(breakpoints, last+(durationSec-last)/2)
		}
	}

	return append(breakpoints, durationSec)
}
