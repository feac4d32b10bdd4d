package strategy

import (
	"fxtide/internal/market"
)

// DonchianBreakout 唐奇安通道突破策略。收盘价突破过去 N 根（不含
// 当前根）的最高/最低即入场，ATR 止损，风险回报比推算止盈。
// UseMTF 打开后叠加高周期通道中轨的趋势过滤。
type DonchianBreakout struct {
	Period        int     `yaml:"dc_period"`
	ATRPeriod     int     `yaml:"atr_period"`
	SLATRMult     float64 `yaml:"sl_atr_mult"`
	RiskReward    float64 `yaml:"risk_reward"`
	MinChannelPct float64 `yaml:"min_channel_pct"`
	UseMTF        bool    `yaml:"use_mtf"`
	TrendTF       string  `yaml:"trend_timeframe"`

	closes  []float64
	channel Channel
	atr     []float64
	// MTF 模式下高周期中轨前向填充到主周期，否则为 nil
	trendMid []float64
}

func init() {
	newDonchian := func(useMTF bool) Factory {
		return func(params map[string]any) (Decider, error) {
			s := &DonchianBreakout{
				Period:        40,
				ATRPeriod:     14,
				SLATRMult:     2.0,
				RiskReward:    2.0,
				MinChannelPct: 0.002,
				UseMTF:        useMTF,
				TrendTF:       "H1",
			}
			if err := decodeParams(params, s); err != nil {
				return nil, err
			}
			return s, nil
		}
	}
	Register("donchian_breakout", newDonchian(false))
	Register("donchian_breakout_mtf", newDonchian(true))
}

func (s *DonchianBreakout) Name() string {
	if s.UseMTF {
		return "donchian_breakout_mtf"
	}
	return "donchian_breakout"
}

func (s *DonchianBreakout) Warmup() int {
	w := s.Period
	if s.ATRPeriod > w {
		w = s.ATRPeriod
	}
	return w + 1
}

func (s *DonchianBreakout) HigherTimeframe() (market.Granularity, bool) {
	if !s.UseMTF {
		return "", false
	}
	g, err := market.ParseGranularity(s.TrendTF)
	if err != nil {
		return "", false
	}
	return g, true
}

func (s *DonchianBreakout) Prepare(primary []market.Candle, higher []market.Candle) error {
	highs := market.Highs(primary)
	lows := market.Lows(primary)
	s.closes = market.Closes(primary)
	s.channel = Donchian(highs, lows, s.Period)
	s.atr = ATR(highs, lows, s.closes, s.ATRPeriod)

	s.trendMid = nil
	if s.UseMTF {
		if len(higher) == 0 {
			return errMissingHigher(s.Name(), s.TrendTF)
		}
		hc := Donchian(market.Highs(higher), market.Lows(higher), s.Period)
		s.trendMid = ForwardFill(candleTimes(primary), candleTimes(higher), hc.Middle)
	}
	return nil
}

func (s *DonchianBreakout) Decide(i int, pos *PositionState) Decision {
	if pos != nil || i < s.Warmup() {
		return Decision{Action: ActionNone}
	}
	price := s.closes[i]
	if !IsDefined(s.channel.Upper[i]) || !IsDefined(s.atr[i]) {
		return Decision{Action: ActionNone}
	}
	var mid float64
	if s.trendMid != nil {
		mid = s.trendMid[i]
		if !IsDefined(mid) {
			return Decision{Action: ActionNone}
		}
	}
	// 窄通道里的"突破"多半是噪音，不做
	if (s.channel.Upper[i]-s.channel.Lower[i])/price < s.MinChannelPct {
		return Decision{Action: ActionNone}
	}

	slDist := s.atr[i] * s.SLATRMult
	if price > s.channel.Upper[i] && (s.trendMid == nil || price > mid) {
		return Decision{
			Action:     ActionLong,
			StopLoss:   price - slDist,
			TakeProfit: price + slDist*s.RiskReward,
			Tag:        "channel_breakout_up",
		}
	}
	if price < s.channel.Lower[i] && (s.trendMid == nil || price < mid) {
		return Decision{
			Action:     ActionShort,
			StopLoss:   price + slDist,
			TakeProfit: price - slDist*s.RiskReward,
			Tag:        "channel_breakout_down",
		}
	}
	return Decision{Action: ActionNone}
}
