package strategy

import (
	"time"

	"fxtide/internal/market"
)

// VWAPHMACrossover 日内趋势策略：VWAP 定多空偏向，HMA 相对价格的
// 穿越定入场时机。日内策略不留隔夜仓：周五 20:30 之后、每天 23:00
// 之后强制平仓。
type VWAPHMACrossover struct {
	HMAPeriod  int     `yaml:"hma_period"`
	ATRPeriod  int     `yaml:"atr_period"`
	ATRMult    float64 `yaml:"atr_multiplier"`
	RiskReward float64 `yaml:"risk_reward"`

	times  []time.Time
	closes []float64
	vwap   []float64
	hma    []float64
	atr    []float64
}

func init() {
	Register("vwap_hma_crossover", func(params map[string]any) (Decider, error) {
		s := &VWAPHMACrossover{
			HMAPeriod:  21,
			ATRPeriod:  14,
			ATRMult:    1.5,
			RiskReward: 2.0,
		}
		if err := decodeParams(params, s); err != nil {
			return nil, err
		}
		return s, nil
	})
}

func (s *VWAPHMACrossover) Name() string { return "vwap_hma_crossover" }

func (s *VWAPHMACrossover) Warmup() int {
	w := s.HMAPeriod
	if s.ATRPeriod > w {
		w = s.ATRPeriod
	}
	return w + 1
}

func (s *VWAPHMACrossover) HigherTimeframe() (market.Granularity, bool) {
	return "", false
}

func (s *VWAPHMACrossover) Prepare(primary []market.Candle, _ []market.Candle) error {
	s.times = candleTimes(primary)
	highs := market.Highs(primary)
	lows := market.Lows(primary)
	s.closes = market.Closes(primary)
	volumes := market.Volumes(primary)

	epochs := make([]int64, len(primary))
	for i, c := range primary {
		epochs[i] = c.Time.Unix()
	}
	s.vwap = VWAP(epochs, highs, lows, s.closes, volumes)
	s.hma = HMA(s.closes, s.HMAPeriod)
	s.atr = ATR(highs, lows, s.closes, s.ATRPeriod)
	return nil
}

func (s *VWAPHMACrossover) Decide(i int, pos *PositionState) Decision {
	if i < s.Warmup() {
		return Decision{Action: ActionNone}
	}
	if shouldCloseEOD(s.times[i]) {
		if pos != nil {
			return Decision{Action: ActionClose, Tag: "eod_close"}
		}
		return Decision{Action: ActionNone}
	}
	if pos != nil {
		return Decision{Action: ActionNone}
	}
	price := s.closes[i]
	if !IsDefined(s.hma[i]) || !IsDefined(s.vwap[i]) || !IsDefined(s.atr[i]) {
		return Decision{Action: ActionNone}
	}

	crossesAbove := CrossAbove(s.hma, s.closes, i)
	crossesBelow := CrossBelow(s.hma, s.closes, i)

	if price > s.vwap[i] && crossesAbove {
		dist := s.atr[i] * s.ATRMult
		return Decision{
			Action:     ActionLong,
			StopLoss:   price - dist,
			TakeProfit: price + dist*s.RiskReward,
			Tag:        "hma_cross_above_vwap_bull",
		}
	}
	if price < s.vwap[i] && crossesBelow {
		dist := s.atr[i] * s.ATRMult
		return Decision{
			Action:     ActionShort,
			StopLoss:   price + dist,
			TakeProfit: price - dist*s.RiskReward,
			Tag:        "hma_cross_below_vwap_bear",
		}
	}
	return Decision{Action: ActionNone}
}

// shouldCloseEOD 外汇 24 小时连续交易，"收盘"按 UTC 约定：
// 周五 20:30 之后防周末跳空，每天 23:00 之后避开低流动性时段。
func shouldCloseEOD(t time.Time) bool {
	t = t.UTC()
	if t.Weekday() == time.Friday && (t.Hour() > 20 || (t.Hour() == 20 && t.Minute() >= 30)) {
		return true
	}
	return t.Hour() >= 23
}
