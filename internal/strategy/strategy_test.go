package strategy

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fxtide/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryNames(t *testing.T) {
	names := Names()
	assert.Contains(t, names, "rsi_mean_reversion")
	assert.Contains(t, names, "donchian_breakout")
	assert.Contains(t, names, "donchian_breakout_mtf")
	assert.Contains(t, names, "vwap_hma_crossover")
	for i := 1; i < len(names); i++ {
		assert.Less(t, names[i-1], names[i])
	}
}

func TestNewUnknownStrategy(t *testing.T) {
	_, err := New("no_such_thing", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no_such_thing")
}

func TestParamOverridesAndUnknownKey(t *testing.T) {
	dec, err := New("donchian_breakout", map[string]any{
		"dc_period":   20,
		"risk_reward": "3.0", // 宽松类型转换
	})
	require.NoError(t, err)
	db := dec.(*DonchianBreakout)
	assert.Equal(t, 20, db.Period)
	assert.Equal(t, 3.0, db.RiskReward)
	assert.Equal(t, 14, db.ATRPeriod) // 未覆盖的保持默认

	_, err = New("donchian_breakout", map[string]any{"dc_perod": 20})
	assert.Error(t, err)
}

func TestLoadProfilesMissingFileIsEmpty(t *testing.T) {
	pf, err := LoadProfiles(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Empty(t, pf.Strategies)

	dec, err := pf.Build("vwap_hma_crossover")
	require.NoError(t, err)
	assert.Equal(t, "vwap_hma_crossover", dec.Name())
}

func TestLoadProfiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	content := "strategies:\n  donchian_breakout:\n    dc_period: 55\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	pf, err := LoadProfiles(path)
	require.NoError(t, err)
	dec, err := pf.Build("donchian_breakout")
	require.NoError(t, err)
	assert.Equal(t, 55, dec.(*DonchianBreakout).Period)
}

// oscillating 生成围绕 base 窄幅震荡的 K 线序列。
func oscillating(n int, base, amp float64, start time.Time, step time.Duration) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		offset := amp * math.Sin(float64(i))
		close := base + offset
		out[i] = market.Candle{
			Time:     start.Add(time.Duration(i) * step),
			Open:     close,
			High:     close + amp/2,
			Low:      close - amp/2,
			Close:    close,
			Volume:   100,
			Complete: true,
		}
	}
	return out
}

func TestDonchianBreakoutSignals(t *testing.T) {
	dec, err := New("donchian_breakout", nil)
	require.NoError(t, err)
	db := dec.(*DonchianBreakout)
	assert.Equal(t, 41, db.Warmup())
	_, ok := db.HigherTimeframe()
	assert.False(t, ok)

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	candles := oscillating(60, 1.08, 0.004, start, 15*time.Minute)
	// 最后一根收在通道上轨之外。
	last := &candles[59]
	last.Close = 1.10
	last.High = 1.101
	last.Open = 1.084

	require.NoError(t, db.Prepare(candles, nil))

	d := db.Decide(59, nil)
	assert.Equal(t, ActionLong, d.Action)
	assert.Equal(t, "channel_breakout_up", d.Tag)
	assert.Less(t, d.StopLoss, last.Close)
	assert.Greater(t, d.TakeProfit, last.Close)
	// 止盈距离 = 止损距离 × 风险回报比
	assert.InDelta(t, (d.TakeProfit-last.Close)/(last.Close-d.StopLoss), 2.0, 1e-9)

	// 持仓中不再给入场信号。
	held := db.Decide(59, &PositionState{Side: ActionLong, EntryPrice: 1.09})
	assert.Equal(t, ActionNone, held.Action)

	// 预热期内一律观望。
	assert.Equal(t, ActionNone, db.Decide(10, nil).Action)
}

func TestDonchianSkipsNarrowChannel(t *testing.T) {
	dec, err := New("donchian_breakout", map[string]any{"min_channel_pct": 0.05})
	require.NoError(t, err)
	db := dec.(*DonchianBreakout)

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	candles := oscillating(60, 1.08, 0.004, start, 15*time.Minute)
	candles[59].Close = 1.10

	require.NoError(t, db.Prepare(candles, nil))
	assert.Equal(t, ActionNone, db.Decide(59, nil).Action)
}

func TestDonchianMTFRequiresHigherSeries(t *testing.T) {
	dec, err := New("donchian_breakout_mtf", nil)
	require.NoError(t, err)
	g, ok := dec.HigherTimeframe()
	require.True(t, ok)
	assert.Equal(t, market.GranH1, g)

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	candles := oscillating(60, 1.08, 0.004, start, 15*time.Minute)
	assert.Error(t, dec.Prepare(candles, nil))
}

func TestRSIMeanReversionRequiresHigherSeries(t *testing.T) {
	dec, err := New("rsi_mean_reversion", nil)
	require.NoError(t, err)
	assert.Equal(t, 21, dec.Warmup())
	g, ok := dec.HigherTimeframe()
	require.True(t, ok)
	assert.Equal(t, market.GranH1, g)

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	candles := oscillating(30, 1.08, 0.004, start, 15*time.Minute)
	assert.Error(t, dec.Prepare(candles, nil))
}

func TestShouldCloseEOD(t *testing.T) {
	friday := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) // 周五
	assert.False(t, shouldCloseEOD(friday.Add(20*time.Hour)))
	assert.True(t, shouldCloseEOD(friday.Add(20*time.Hour+30*time.Minute)))
	assert.True(t, shouldCloseEOD(friday.Add(21*time.Hour)))

	monday := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	assert.False(t, shouldCloseEOD(monday.Add(22*time.Hour+59*time.Minute)))
	assert.True(t, shouldCloseEOD(monday.Add(23*time.Hour)))
}

func TestVWAPHMAIndicatorsReadyAfterWarmup(t *testing.T) {
	dec, err := New("vwap_hma_crossover", nil)
	require.NoError(t, err)
	s := dec.(*VWAPHMACrossover)

	start := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	candles := oscillating(80, 1.08, 0.003, start, 15*time.Minute)
	require.NoError(t, s.Prepare(candles, nil))

	// 预热期过后三条序列都要有值，否则策略永远不会开仓。
	for i := s.Warmup() + 3; i < len(candles); i++ {
		require.True(t, IsDefined(s.hma[i]), "hma undefined at %d", i)
		require.True(t, IsDefined(s.vwap[i]), "vwap undefined at %d", i)
		require.True(t, IsDefined(s.atr[i]), "atr undefined at %d", i)
	}
}

func TestVWAPHMAClosesPositionAtEOD(t *testing.T) {
	dec, err := New("vwap_hma_crossover", nil)
	require.NoError(t, err)

	// 周一白天开始，最后几根落在 23:00 之后。
	start := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	candles := oscillating(64, 1.08, 0.003, start, 15*time.Minute)
	require.NoError(t, dec.Prepare(candles, nil))

	// 23:00 对应 start 后 60 根。
	d := dec.Decide(60, &PositionState{Side: ActionLong, EntryPrice: 1.08})
	assert.Equal(t, ActionClose, d.Action)
	assert.Equal(t, "eod_close", d.Tag)

	// 空仓时强平时段直接观望。
	assert.Equal(t, ActionNone, dec.Decide(60, nil).Action)
}
