package prices

import (
	"time"
)

// Score weights: a good window is primarily cheap relative to the look-ahead
// horizon, secondarily flat. A flat cheap stretch beats a lone spike
// surrounded by expensive hours.
const (
	positionWeight  = 0.6
	stabilityWeight = 0.4
)

// Window is a candidate charging interval of consecutive future hours.
// It is derived from a series and recomputed every cycle, never persisted.
type Window struct {
	Start            time.Time
	End              time.Time
	AveragePrice     float64
	RelativePosition float64 // 0 = at the horizon minimum, 1 = at its maximum
	Stability        float64 // internal spread relative to the horizon range
	Score            float64 // lower is better
	Points           Series
}

// Contains reports whether t falls within [Start, End).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// scoreWindow computes the relative position, stability and combined score of
// a window against the min/max of the whole future horizon. Both divisions
// are guarded: a flat horizon scores every window 0.
func scoreWindow(points Series, seriesMin, seriesMax float64) (position, stability, score float64) {
	var sum float64
	winMin, winMax := points[0].Total, points[0].Total
	for _, p := range points {
		sum += p.Total
		if p.Total < winMin {
			winMin = p.Total
		}
		if p.Total > winMax {
			winMax = p.Total
		}
	}
	avg := sum / float64(len(points))

	if priceRange := seriesMax - seriesMin; priceRange > 0 {
		position = (avg - seriesMin) / priceRange
		stability = (winMax - winMin) / priceRange
	}
	score = positionWeight*position + stabilityWeight*stability
	return position, stability, score
}

// consecutive reports whether the points are exactly hourly spaced. The price
// source can leave a multi-hour void before tomorrow's prices publish, and a
// window of adjacent indices across such a gap is not a contiguous time span.
func consecutive(points Series) bool {
	for i := 1; i < len(points); i++ {
		if !points[i].StartsAt.Equal(points[i-1].StartsAt.Add(time.Hour)) {
			return false
		}
	}
	return true
}

// FindBestWindow searches the future part of the series for the
// lowest-scoring window of exactly hoursNeeded consecutive points. Candidate
// windows spanning a timestamp gap are skipped. Ties resolve to the
// earliest-starting window so repeated calls are deterministic.
//
// It returns ok=false when fewer than hoursNeeded future points remain. That
// is insufficient data, not an error; callers default to normal operation.
func FindBestWindow(s Series, now time.Time, hoursNeeded int) (Window, bool) {
	if hoursNeeded <= 0 {
		return Window{}, false
	}

	future := s.FutureOf(now)
	if len(future) < hoursNeeded {
		return Window{}, false
	}

	// window quality is judged against future opportunities only, not
	// against stale history
	seriesMin, seriesMax := future.MinMax()

	var best Window
	found := false
	for i := 0; i+hoursNeeded <= len(future); i++ {
		points := future[i : i+hoursNeeded]
		if !consecutive(points) {
			continue
		}

		position, stability, score := scoreWindow(points, seriesMin, seriesMax)
		if found && score >= best.Score {
			continue
		}

		var sum float64
		for _, p := range points {
			sum += p.Total
		}
		best = Window{
			Start:            points[0].StartsAt,
			End:              points[len(points)-1].StartsAt.Add(time.Hour),
			AveragePrice:     sum / float64(len(points)),
			RelativePosition: position,
			Stability:        stability,
			Score:            score,
			Points:           points,
		}
		found = true
	}
	return best, found
}
