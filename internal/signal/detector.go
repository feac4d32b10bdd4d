// Package signal 在最新收盘 K 线上复现回测入场规则，供实盘下单用。
package signal

import (
	"fmt"

	"fxtide/internal/market"
	"fxtide/internal/strategy"
)

// Side 信号方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Signal 一次可执行的入场信号。SLDistance 是止损距离（价格单位），
// 仓位大小由调用方按风险换算。
type Signal struct {
	Side       Side
	EntryPrice float64
	SLDistance float64
}

// DetectorParams 与回测里 donchian_breakout 的默认参数一致。
type DetectorParams struct {
	DCPeriod      int
	ATRPeriod     int
	SLATRMult     float64
	MinChannelPct float64
}

func DefaultParams() DetectorParams {
	return DetectorParams{
		DCPeriod:      40,
		ATRPeriod:     14,
		SLATRMult:     2.0,
		MinChannelPct: 0.002,
	}
}

// Detect 对最后一根已收盘 K 线做突破判定。调用方必须事先剔除
// 未完结的 K 线（market.CompleteOnly），否则信号会基于半根数据。
// 无信号返回 (nil, nil)。
func Detect(candles []market.Candle, p DetectorParams) (*Signal, error) {
	need := p.DCPeriod + 1
	if p.ATRPeriod+1 > need {
		need = p.ATRPeriod + 1
	}
	if len(candles) < need {
		return nil, fmt.Errorf("signal: need at least %d complete candles, got %d", need, len(candles))
	}

	highs := market.Highs(candles)
	lows := market.Lows(candles)
	closes := market.Closes(candles)

	channel := strategy.Donchian(highs, lows, p.DCPeriod)
	atr := strategy.ATR(highs, lows, closes, p.ATRPeriod)

	last := len(candles) - 1
	if !strategy.IsDefined(channel.Upper[last]) || !strategy.IsDefined(atr[last]) {
		return nil, nil
	}
	price := closes[last]
	if (channel.Upper[last]-channel.Lower[last])/price < p.MinChannelPct {
		return nil, nil
	}

	slDist := atr[last] * p.SLATRMult
	switch {
	case price > channel.Upper[last]:
		return &Signal{Side: SideBuy, EntryPrice: price, SLDistance: slDist}, nil
	case price < channel.Lower[last]:
		return &Signal{Side: SideSell, EntryPrice: price, SLDistance: slDist}, nil
	}
	return nil, nil
}
