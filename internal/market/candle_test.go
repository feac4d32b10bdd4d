package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func t0(minute int) time.Time {
	return time.Date(2024, 3, 1, 10, minute, 0, 0, time.UTC)
}

func TestSortDedupeKeepsLastDuplicate(t *testing.T) {
	candles := []Candle{
		{Time: t0(2), Close: 1.2},
		{Time: t0(0), Close: 1.0},
		{Time: t0(1), Close: 1.1, Complete: false},
		{Time: t0(1), Close: 1.15, Complete: true}, // 后到的覆盖前者
	}
	out := SortDedupe(candles)
	require.Len(t, out, 3)
	assert.Equal(t, t0(0), out[0].Time)
	assert.Equal(t, t0(1), out[1].Time)
	assert.Equal(t, 1.15, out[1].Close)
	assert.True(t, out[1].Complete)
	assert.Equal(t, t0(2), out[2].Time)
}

func TestSortDedupeStrictlyIncreasing(t *testing.T) {
	var candles []Candle
	for i := 9; i >= 0; i-- {
		candles = append(candles, Candle{Time: t0(i)})
	}
	out := SortDedupe(candles)
	for i := 1; i < len(out); i++ {
		assert.True(t, out[i-1].Time.Before(out[i].Time))
	}
}

func TestSpan(t *testing.T) {
	_, _, ok := Span(nil)
	assert.False(t, ok)

	min, max, ok := Span([]Candle{{Time: t0(5)}, {Time: t0(1)}, {Time: t0(3)}})
	require.True(t, ok)
	assert.Equal(t, t0(1), min)
	assert.Equal(t, t0(5), max)
}

func TestCompleteOnlyDropsFormingCandle(t *testing.T) {
	candles := []Candle{
		{Time: t0(0), Complete: true},
		{Time: t0(1), Complete: true},
		{Time: t0(2), Complete: false},
	}
	out := CompleteOnly(candles)
	require.Len(t, out, 2)
	assert.Equal(t, t0(1), out[1].Time)
}

func TestParseGranularity(t *testing.T) {
	g, err := ParseGranularity("m15")
	require.NoError(t, err)
	assert.Equal(t, GranM15, g)
	assert.Equal(t, int64(900), g.Seconds())
	assert.Equal(t, 15*time.Minute, g.Duration())

	_, err = ParseGranularity("M7")
	assert.Error(t, err)
}

func TestGranularitySecondsTable(t *testing.T) {
	cases := map[Granularity]int64{
		GranS5:  5,
		GranM1:  60,
		GranH1:  3600,
		GranD:   86400,
		GranW:   604800,
		GranMo:  2592000,
		GranH4:  14400,
		GranM30: 1800,
	}
	for g, want := range cases {
		assert.Equal(t, want, g.Seconds(), "granularity %s", g)
	}
}

func TestSupportedGranularitiesSortedByDuration(t *testing.T) {
	names := SupportedGranularities()
	require.NotEmpty(t, names)
	prev := int64(0)
	for _, name := range names {
		g, err := ParseGranularity(name)
		require.NoError(t, err)
		assert.Greater(t, g.Seconds(), prev)
		prev = g.Seconds()
	}
}
