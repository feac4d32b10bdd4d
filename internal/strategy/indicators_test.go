package strategy

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMAWarmupAndValue(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5, 6}
	sma := SMA(closes, 3)
	require.Len(t, sma, 6)
	assert.False(t, IsDefined(sma[0]))
	assert.False(t, IsDefined(sma[1]))
	assert.InDelta(t, 2.0, sma[2], 1e-9)
	assert.InDelta(t, 5.0, sma[5], 1e-9)
}

func TestRSIWarmup(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 1.0 + 0.01*float64(i%5)
	}
	rsi := RSI(closes, 14)
	for i := 0; i < 14; i++ {
		assert.False(t, IsDefined(rsi[i]), "index %d should still be warming up", i)
	}
	assert.True(t, IsDefined(rsi[14]))
	assert.GreaterOrEqual(t, rsi[14], 0.0)
	assert.LessOrEqual(t, rsi[14], 100.0)
}

func TestBBandsOrdering(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 1.08 + 0.002*math.Sin(float64(i))
	}
	bands := BBands(closes, 20, 2.0)
	assert.False(t, IsDefined(bands.Middle[18]))
	require.True(t, IsDefined(bands.Middle[19]))
	for i := 19; i < 40; i++ {
		assert.Less(t, bands.Lower[i], bands.Middle[i])
		assert.Less(t, bands.Middle[i], bands.Upper[i])
	}
}

func TestDonchianExcludesCurrentBar(t *testing.T) {
	highs := []float64{1.0, 1.1, 1.2, 1.3, 1.4, 2.0}
	lows := []float64{0.9, 1.0, 1.1, 1.2, 1.3, 1.9}
	ch := Donchian(highs, lows, 5)
	for i := 0; i < 5; i++ {
		assert.False(t, IsDefined(ch.Upper[i]))
	}
	// index 5 的通道来自前 5 根，不包含当前根的 2.0 新高。
	assert.InDelta(t, 1.4, ch.Upper[5], 1e-9)
	assert.InDelta(t, 0.9, ch.Lower[5], 1e-9)
	assert.InDelta(t, 1.15, ch.Middle[5], 1e-9)
}

func TestHMAWarmup(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 1.0 + 0.001*float64(i)
	}
	hma := HMA(closes, 21)
	// 预热期 = period-1 + sqrt(period)-1
	warmup := 21 - 1 + 5 - 1
	assert.False(t, IsDefined(hma[warmup-1]))
	// 预热期之后必须全程有值，不允许 NaN 渗出
	for i := warmup; i < len(hma); i++ {
		require.True(t, IsDefined(hma[i]), "index %d should be defined", i)
	}
	// 单调上升序列的 HMA 跟随趋势
	assert.Greater(t, hma[59], hma[40])
}

func TestVWAPDailyReset(t *testing.T) {
	day1 := time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	times := []int64{day1.Unix(), day1.Add(time.Hour).Unix(), day2.Unix()}
	highs := []float64{1.2, 1.4, 2.2}
	lows := []float64{1.0, 1.2, 2.0}
	closes := []float64{1.1, 1.3, 2.1}
	volumes := []float64{100, 100, 50}

	vwap := VWAP(times, highs, lows, closes, volumes)
	require.Len(t, vwap, 3)
	assert.InDelta(t, 1.1, vwap[0], 1e-9)
	assert.InDelta(t, 1.2, vwap[1], 1e-9)
	// 新的一天从零累计，与前一天无关。
	assert.InDelta(t, 2.1, vwap[2], 1e-9)
}

func TestVWAPZeroVolumeFallsBackToTypical(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	times := []int64{day.Unix(), day.Add(time.Hour).Unix()}
	highs := []float64{1.2, 1.4}
	lows := []float64{1.0, 1.2}
	closes := []float64{1.1, 1.3}
	volumes := []float64{0, 100}

	vwap := VWAP(times, highs, lows, closes, volumes)
	// 开盘零量时取典型价，有量后恢复加权
	assert.InDelta(t, 1.1, vwap[0], 1e-9)
	assert.InDelta(t, 1.3, vwap[1], 1e-9)
}

func TestCrosses(t *testing.T) {
	a := []float64{1.0, 1.0, 1.2, 1.2, 0.8}
	b := []float64{1.1, 1.1, 1.1, 1.1, 1.1}
	assert.False(t, CrossAbove(a, b, 1))
	assert.True(t, CrossAbove(a, b, 2))
	assert.False(t, CrossAbove(a, b, 3))
	assert.True(t, CrossBelow(a, b, 4))

	// 预热区 NaN 不触发穿越。
	withNaN := []float64{math.NaN(), 1.2}
	assert.False(t, CrossAbove(withNaN, b, 1))
	assert.False(t, CrossAbove(a, b, 0))
}

func TestForwardFill(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	lower := []time.Time{
		base.Add(-15 * time.Minute), // 第一根高周期之前
		base,
		base.Add(15 * time.Minute),
		base.Add(45 * time.Minute),
		base.Add(time.Hour),
		base.Add(90 * time.Minute),
	}
	higher := []time.Time{base, base.Add(time.Hour)}
	values := []float64{10, 20}

	filled := ForwardFill(lower, higher, values)
	require.Len(t, filled, 6)
	assert.False(t, IsDefined(filled[0]))
	assert.Equal(t, 10.0, filled[1])
	assert.Equal(t, 10.0, filled[2])
	assert.Equal(t, 10.0, filled[3])
	assert.Equal(t, 20.0, filled[4])
	assert.Equal(t, 20.0, filled[5])
}
