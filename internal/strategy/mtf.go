package strategy

import (
	"fmt"
	"math"
	"time"

	"fxtide/internal/market"
)

func errMissingHigher(name, tf string) error {
	return fmt.Errorf("%s: trend timeframe %s series is required", name, tf)
}

func candleTimes(candles []market.Candle) []time.Time {
	out := make([]time.Time, len(candles))
	for i, c := range candles {
		out[i] = c.Time
	}
	return out
}

// ForwardFill 把高周期指标序列对齐到低周期时间轴上：低周期第 i 根
// 取 higherTimes 中不晚于它的最近一根对应的值。第一根高周期 K 线
// 之前的位置没有可用值，填 NaN。
//
// higherTimes 必须升序且与 values 等长。
func ForwardFill(lowerTimes []time.Time, higherTimes []time.Time, values []float64) []float64 {
	out := make([]float64, len(lowerTimes))
	j := -1
	for i, t := range lowerTimes {
		for j+1 < len(higherTimes) && !higherTimes[j+1].After(t) {
			j++
		}
		if j < 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = values[j]
	}
	return out
}
