package market

import (
	"sort"
	"time"
)

// Candle 表示一根 OHLCV K 线，Time 为区间开盘时间（UTC）。
// Complete=false 仅出现在最新的、仍在形成中的 K 线上。
type Candle struct {
	Time     time.Time `json:"time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   int64     `json:"volume"`
	Complete bool      `json:"complete"`
}

// SortDedupe 按时间升序排序并去重（同一时间戳保留最后一次出现）。
// 后到的 K 线更可能是已完结版本，因此以它为准。
func SortDedupe(candles []Candle) []Candle {
	if len(candles) == 0 {
		return candles
	}
	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].Time.Before(candles[j].Time)
	})
	out := candles[:0]
	for _, c := range candles {
		if n := len(out); n > 0 && out[n-1].Time.Equal(c.Time) {
			out[n-1] = c
			continue
		}
		out = append(out, c)
	}
	return out
}

// Span 返回序列中实际存在的最小/最大时间戳。
func Span(candles []Candle) (time.Time, time.Time, bool) {
	if len(candles) == 0 {
		return time.Time{}, time.Time{}, false
	}
	min, max := candles[0].Time, candles[0].Time
	for _, c := range candles[1:] {
		if c.Time.Before(min) {
			min = c.Time
		}
		if c.Time.After(max) {
			max = c.Time
		}
	}
	return min, max, true
}

// CompleteOnly 过滤掉仍在形成中的 K 线。
func CompleteOnly(candles []Candle) []Candle {
	out := make([]Candle, 0, len(candles))
	for _, c := range candles {
		if c.Complete {
			out = append(out, c)
		}
	}
	return out
}

// Closes 提取收盘价序列，供指标计算使用。
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Highs 提取最高价序列。
func Highs(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.High
	}
	return out
}

// Lows 提取最低价序列。
func Lows(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Low
	}
	return out
}

// Volumes 提取成交量序列（float64，方便直接喂给 talib）。
func Volumes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = float64(c.Volume)
	}
	return out
}
