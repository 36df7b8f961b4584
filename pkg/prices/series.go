package prices

import (
	"errors"
	"sort"
	"time"

	"github.com/aseelert/sma-byd-tibber-automation/pkg/types"
)

// ErrEmptyInput is returned by Normalize when given zero points. Whether that
// is fatal is up to the caller.
var ErrEmptyInput = errors.New("prices: no price points")

// Series is an hourly price series, sorted ascending by StartsAt and unique
// per timestamp. Build one with Normalize.
type Series []types.PricePoint

// Normalize deduplicates raw points by timestamp (last write wins) and sorts
// them ascending by StartsAt.
func Normalize(raw []types.PricePoint) (Series, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyInput
	}

	// key by instant, not by time.Time struct equality, so the same hour
	// reported with different offsets still deduplicates
	byStart := make(map[int64]types.PricePoint, len(raw))
	for _, p := range raw {
		byStart[p.StartsAt.Unix()] = p
	}

	s := make(Series, 0, len(byStart))
	for _, p := range byStart {
		s = append(s, p)
	}
	sort.Slice(s, func(i, j int) bool {
		return s[i].StartsAt.Before(s[j].StartsAt)
	})
	return s, nil
}

// FutureOf returns the subsequence of points whose hour has not fully elapsed
// at now (StartsAt+1h after now). The result is a view into the series; it is
// empty, not an error, when every point is in the past.
func (s Series) FutureOf(now time.Time) Series {
	i := sort.Search(len(s), func(i int) bool {
		return s[i].StartsAt.Add(time.Hour).After(now)
	})
	return s[i:]
}

// At returns the point whose [StartsAt, StartsAt+1h) interval contains t.
func (s Series) At(t time.Time) (types.PricePoint, bool) {
	i := sort.Search(len(s), func(i int) bool {
		return s[i].StartsAt.After(t)
	})
	if i == 0 {
		return types.PricePoint{}, false
	}
	p := s[i-1]
	if t.Before(p.StartsAt.Add(time.Hour)) {
		return p, true
	}
	return types.PricePoint{}, false
}

// MinMax returns the cheapest and most expensive totals in the series.
func (s Series) MinMax() (min, max float64) {
	if len(s) == 0 {
		return 0, 0
	}
	min, max = s[0].Total, s[0].Total
	for _, p := range s[1:] {
		if p.Total < min {
			min = p.Total
		}
		if p.Total > max {
			max = p.Total
		}
	}
	return min, max
}

// RelativePosition normalizes price within [min, max]: 0 is the cheapest
// observed price, 1 the most expensive. A flat series (max == min) yields 0,
// every price is equally attractive.
func RelativePosition(price, min, max float64) float64 {
	if max <= min {
		return 0
	}
	pos := (price - min) / (max - min)
	if pos < 0 {
		return 0
	}
	if pos > 1 {
		return 1
	}
	return pos
}
