package strategy

// 技术指标计算层。所有序列与输入等长，预热期（窗口不足）用 NaN 填充，
// 绝不会出现伪造的 0 值混入信号判断。

import (
	"math"

	"github.com/markcheno/go-talib"
)

// NaN 预热占位值。
var nan = math.NaN()

// IsDefined 判断某个指标值是否已经走出预热期。
func IsDefined(v float64) bool {
	return !math.IsNaN(v)
}

// padWarmup 把序列前 warmup 个位置替换为 NaN。talib 的实现用 0
// 填充预热区，直接拿来比较会产生假信号。
func padWarmup(series []float64, warmup int) []float64 {
	for i := 0; i < warmup && i < len(series); i++ {
		series[i] = nan
	}
	return series
}

// RSI Wilder 平滑，预热期为 period。
func RSI(closes []float64, period int) []float64 {
	return padWarmup(talib.Rsi(closes, period), period)
}

// EMA 预热期为 period-1。
func EMA(closes []float64, period int) []float64 {
	return padWarmup(talib.Ema(closes, period), period-1)
}

// SMA 预热期为 period-1。
func SMA(closes []float64, period int) []float64 {
	return padWarmup(talib.Sma(closes, period), period-1)
}

// ATR 预热期为 period。
func ATR(highs, lows, closes []float64, period int) []float64 {
	return padWarmup(talib.Atr(highs, lows, closes, period), period)
}

// Bands 布林带三条轨道。
type Bands struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// BBands 以 SMA 为中轨，上下轨偏移 dev 个标准差。
func BBands(closes []float64, period int, dev float64) Bands {
	upper, middle, lower := talib.BBands(closes, period, dev, dev, talib.SMA)
	warmup := period - 1
	return Bands{
		Upper:  padWarmup(upper, warmup),
		Middle: padWarmup(middle, warmup),
		Lower:  padWarmup(lower, warmup),
	}
}

// HMA Hull 移动平均：WMA(sqrt(n)) of (2*WMA(n/2) - WMA(n))。
// 响应快、滞后小，适合做趋势滤波。
func HMA(closes []float64, period int) []float64 {
	if period < 2 || len(closes) == 0 {
		return padWarmup(make([]float64, len(closes)), len(closes))
	}
	// talib 的滚动和实现一旦吃进 NaN 会污染整条序列，中间结果必须
	// 保持原始输出，预热区只在最后补一次。
	half := talib.Wma(closes, period/2)
	full := talib.Wma(closes, period)
	diff := make([]float64, len(closes))
	for i := range diff {
		diff[i] = 2*half[i] - full[i]
	}
	sqrtLen := int(math.Round(math.Sqrt(float64(period))))
	if sqrtLen < 1 {
		sqrtLen = 1
	}
	return padWarmup(talib.Wma(diff, sqrtLen), period-1+sqrtLen-1)
}

// Channel 唐奇安通道。Upper/Lower 是过去 period 根（不含当前根）的
// 最高/最低，突破判定才不会自证。
type Channel struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// Donchian 计算唐奇安通道。index i 处的值来自 [i-period, i) 区间。
func Donchian(highs, lows []float64, period int) Channel {
	n := len(highs)
	upper := make([]float64, n)
	lower := make([]float64, n)
	middle := make([]float64, n)
	for i := 0; i < n; i++ {
		if i < period {
			upper[i], lower[i], middle[i] = nan, nan, nan
			continue
		}
		hi := math.Inf(-1)
		lo := math.Inf(1)
		for j := i - period; j < i; j++ {
			if highs[j] > hi {
				hi = highs[j]
			}
			if lows[j] < lo {
				lo = lows[j]
			}
		}
		upper[i] = hi
		lower[i] = lo
		middle[i] = (hi + lo) / 2
	}
	return Channel{Upper: upper, Middle: middle, Lower: lower}
}

// VWAP 成交量加权均价，按 UTC 自然日重置累计。外汇没有统一的
// 日内成交量基准，用报价流的 tick 量近似。
func VWAP(times []int64, highs, lows, closes, volumes []float64) []float64 {
	n := len(closes)
	out := make([]float64, n)
	var cumPV, cumV float64
	currentDay := int64(-1)
	for i := 0; i < n; i++ {
		day := times[i] / 86400
		if day != currentDay {
			currentDay = day
			cumPV, cumV = 0, 0
		}
		typical := (highs[i] + lows[i] + closes[i]) / 3
		cumPV += typical * volumes[i]
		cumV += volumes[i]
		// 零量时段退回典型价，当天有量后恢复加权
		if cumV <= 0 {
			out[i] = typical
			continue
		}
		out[i] = cumPV / cumV
	}
	return out
}

// CrossAbove 判断序列 a 在 i 处上穿序列 b。
func CrossAbove(a, b []float64, i int) bool {
	if i < 1 || !IsDefined(a[i]) || !IsDefined(b[i]) || !IsDefined(a[i-1]) || !IsDefined(b[i-1]) {
		return false
	}
	return a[i-1] <= b[i-1] && a[i] > b[i]
}

// CrossBelow 判断序列 a 在 i 处下穿序列 b。
func CrossBelow(a, b []float64, i int) bool {
	if i < 1 || !IsDefined(a[i]) || !IsDefined(b[i]) || !IsDefined(a[i-1]) || !IsDefined(b[i-1]) {
		return false
	}
	return a[i-1] >= b[i-1] && a[i] < b[i]
}
