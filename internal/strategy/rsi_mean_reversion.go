package strategy

import (
	"math"

	"fxtide/internal/market"
)

// RSIMeanReversion 均值回归策略：M15 主周期触碰布林带 + RSI 极值，
// H1 EMA200 前向填充后做趋势过滤。止损放在带外 1.1 倍距离处，
// 止盈按风险回报比推算。
type RSIMeanReversion struct {
	RSIPeriod     int     `yaml:"rsi_period"`
	RSIOversold   float64 `yaml:"rsi_oversold"`
	RSIOverbought float64 `yaml:"rsi_overbought"`
	BBPeriod      int     `yaml:"bb_period"`
	BBStd         float64 `yaml:"bb_std"`
	EMAPeriod     int     `yaml:"ema_period"`
	RiskReward    float64 `yaml:"risk_reward"`
	TrendTF       string  `yaml:"trend_timeframe"`

	closes   []float64
	rsi      []float64
	bands    Bands
	trendEMA []float64 // 高周期 EMA 前向填充到主周期
}

func init() {
	Register("rsi_mean_reversion", func(params map[string]any) (Decider, error) {
		s := &RSIMeanReversion{
			RSIPeriod:     14,
			RSIOversold:   20,
			RSIOverbought: 80,
			BBPeriod:      20,
			BBStd:         2.0,
			EMAPeriod:     200,
			RiskReward:    2.0,
			TrendTF:       "H1",
		}
		if err := decodeParams(params, s); err != nil {
			return nil, err
		}
		return s, nil
	})
}

func (s *RSIMeanReversion) Name() string { return "rsi_mean_reversion" }

func (s *RSIMeanReversion) Warmup() int {
	w := s.RSIPeriod
	if s.BBPeriod > w {
		w = s.BBPeriod
	}
	return w + 1
}

func (s *RSIMeanReversion) HigherTimeframe() (market.Granularity, bool) {
	g, err := market.ParseGranularity(s.TrendTF)
	if err != nil {
		return "", false
	}
	return g, true
}

func (s *RSIMeanReversion) Prepare(primary []market.Candle, higher []market.Candle) error {
	if len(higher) == 0 {
		return errMissingHigher(s.Name(), s.TrendTF)
	}
	s.closes = market.Closes(primary)
	s.rsi = RSI(s.closes, s.RSIPeriod)
	s.bands = BBands(s.closes, s.BBPeriod, s.BBStd)

	higherEMA := EMA(market.Closes(higher), s.EMAPeriod)
	s.trendEMA = ForwardFill(candleTimes(primary), candleTimes(higher), higherEMA)
	return nil
}

func (s *RSIMeanReversion) Decide(i int, pos *PositionState) Decision {
	if pos != nil || i < s.Warmup() {
		return Decision{Action: ActionNone}
	}
	price := s.closes[i]
	if !IsDefined(s.rsi[i]) || !IsDefined(s.bands.Lower[i]) || !IsDefined(s.trendEMA[i]) {
		return Decision{Action: ActionNone}
	}

	trendUp := price > s.trendEMA[i]
	trendDown := price < s.trendEMA[i]
	// 1.001/0.999 容差：收盘价贴近带边也算触碰
	touchesLower := price <= s.bands.Lower[i]*1.001
	touchesUpper := price >= s.bands.Upper[i]*0.999

	if trendUp && touchesLower && s.rsi[i] < s.RSIOversold {
		dist := math.Abs(price-s.bands.Lower[i]) * 1.1
		// 收盘正好在带上时距离为 0，退回用半带宽兜底
		if dist <= 0 {
			dist = (s.bands.Middle[i] - s.bands.Lower[i]) / 2
		}
		return Decision{
			Action:     ActionLong,
			StopLoss:   price - dist,
			TakeProfit: price + dist*s.RiskReward,
			Tag:        "rsi_oversold_bb_touch",
		}
	}
	if trendDown && touchesUpper && s.rsi[i] > s.RSIOverbought {
		dist := math.Abs(s.bands.Upper[i]-price) * 1.1
		if dist <= 0 {
			dist = (s.bands.Upper[i] - s.bands.Middle[i]) / 2
		}
		return Decision{
			Action:     ActionShort,
			StopLoss:   price + dist,
			TakeProfit: price - dist*s.RiskReward,
			Tag:        "rsi_overbought_bb_touch",
		}
	}
	return Decision{Action: ActionNone}
}
