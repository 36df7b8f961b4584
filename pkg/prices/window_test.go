package prices

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindBestWindow(t *testing.T) {
	base := time.Date(2024, 11, 12, 0, 0, 0, 0, time.UTC)

	t.Run("Cheap Flat Stretch Wins", func(t *testing.T) {
		s, err := Normalize(hourlyPoints(base,
			0.30, 0.30, 0.10, 0.10, 0.10, 0.30, 0.30, 0.30,
		))
		require.NoError(t, err)

		w, ok := FindBestWindow(s, base, 3)
		require.True(t, ok)
		assert.Equal(t, base.Add(2*time.Hour), w.Start)
		assert.Equal(t, base.Add(5*time.Hour), w.End)
		assert.InDelta(t, 0.10, w.AveragePrice, 0.0001)
		assert.InDelta(t, 0.0, w.RelativePosition, 0.0001)
		assert.InDelta(t, 0.0, w.Stability, 0.0001)
		assert.InDelta(t, 0.0, w.Score, 0.0001)
		assert.True(t, w.Contains(base.Add(2*time.Hour)))
		assert.True(t, w.Contains(base.Add(4*time.Hour+59*time.Minute)))
		assert.False(t, w.Contains(base.Add(5*time.Hour)))
	})

	t.Run("Score Arithmetic", func(t *testing.T) {
		// horizon range 0.10..0.30; window [0.16 0.10 0.10 0.10]:
		// avg 0.115, position 0.075, stability 0.3, score 0.165
		s, err := Normalize(hourlyPoints(base,
			0.16, 0.10, 0.10, 0.10, 0.30, 0.30, 0.30, 0.30,
		))
		require.NoError(t, err)

		w, ok := FindBestWindow(s, base, 4)
		require.True(t, ok)
		assert.Equal(t, base, w.Start)
		assert.InDelta(t, 0.115, w.AveragePrice, 0.0001)
		assert.InDelta(t, 0.075, w.RelativePosition, 0.0001)
		assert.InDelta(t, 0.3, w.Stability, 0.0001)
		assert.InDelta(t, 0.165, w.Score, 0.0001)
	})

	t.Run("Flat Horizon Ties Resolve Earliest", func(t *testing.T) {
		s, err := Normalize(hourlyPoints(base, 0.20, 0.20, 0.20, 0.20, 0.20, 0.20))
		require.NoError(t, err)

		w, ok := FindBestWindow(s, base, 3)
		require.True(t, ok)
		assert.Equal(t, base, w.Start)
		assert.InDelta(t, 0.0, w.Score, 0.0001)

		again, ok := FindBestWindow(s, base, 3)
		require.True(t, ok)
		assert.Equal(t, w, again)
	})

	t.Run("Skips Gap Spanning Windows", func(t *testing.T) {
		// hours 3 and 4 missing; the cheapest three adjacent indices
		// straddle the gap and must not be considered
		points := hourlyPoints(base, 0.30, 0.30, 0.10)
		points = append(points, hourlyPoints(base.Add(5*time.Hour), 0.10, 0.10, 0.30)...)
		s, err := Normalize(points)
		require.NoError(t, err)

		w, ok := FindBestWindow(s, base, 3)
		require.True(t, ok)
		assert.Equal(t, base.Add(5*time.Hour), w.Start)
	})

	t.Run("Ignores Past Prices", func(t *testing.T) {
		// the cheapest hours are behind us; the only future window is the
		// expensive tail
		s, err := Normalize(hourlyPoints(base, 0.05, 0.05, 0.05, 0.30, 0.30, 0.30))
		require.NoError(t, err)

		w, ok := FindBestWindow(s, base.Add(3*time.Hour+30*time.Minute), 3)
		require.True(t, ok)
		assert.Equal(t, base.Add(3*time.Hour), w.Start)
		assert.InDelta(t, 0.30, w.AveragePrice, 0.0001)
	})

	t.Run("Insufficient Future Points", func(t *testing.T) {
		s, err := Normalize(hourlyPoints(base, 0.10, 0.20, 0.30))
		require.NoError(t, err)

		_, ok := FindBestWindow(s, base.Add(time.Hour+30*time.Minute), 3)
		assert.False(t, ok)

		_, ok = FindBestWindow(s, base, 0)
		assert.False(t, ok)
	})
}
