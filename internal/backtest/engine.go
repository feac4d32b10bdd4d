package backtest

import (
	"fmt"
	"math"
	"time"

	"fxtide/internal/logger"
	"fxtide/internal/market"
	"fxtide/internal/strategy"

	"github.com/google/uuid"
)

// EngineConfig 回测引擎参数。CommissionPips 是单边手续费（点），
// PipSize 是该品种一个点的价格单位（JPY 对为 0.01，其余 0.0001）。
type EngineConfig struct {
	InitialBalance float64
	CommissionPips float64
	PipSize        float64
}

// Engine 逐根 K 线推演策略，产出订单、持仓和资金曲线。
// 同一时刻最多一笔持仓，市价按收盘价成交。
type Engine struct {
	cfg EngineConfig
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.InitialBalance <= 0 {
		return nil, fmt.Errorf("backtest: initial balance must be positive")
	}
	if cfg.PipSize <= 0 {
		cfg.PipSize = 0.0001
	}
	return &Engine{cfg: cfg}, nil
}

type openPosition struct {
	side         strategy.Action
	entryPrice   float64
	entryIndex   int
	entryOrderID int64
	units        float64
	stopLoss     float64
	takeProfit   float64
	openedAt     time.Time
}

// Run 在一段完整 K 线序列上执行策略。higher 是策略声明的高周期
// 序列，单周期策略传 nil。
func (e *Engine) Run(dec strategy.Decider, instrument string, g market.Granularity, primary []market.Candle, higher []market.Candle) (*Result, error) {
	if len(primary) < dec.Warmup()+1 {
		return nil, fmt.Errorf("backtest: need at least %d candles, got %d", dec.Warmup()+1, len(primary))
	}
	if err := dec.Prepare(primary, higher); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	now := time.Now().UTC()
	result := &Result{
		Run: Run{
			ID:             runID,
			Instrument:     instrument,
			Strategy:       dec.Name(),
			Status:         RunStatusRunning,
			Granularity:    g.String(),
			StartTS:        primary[0].Time.Unix(),
			EndTS:          primary[len(primary)-1].Time.Unix(),
			InitialBalance: e.cfg.InitialBalance,
			CreatedAt:      now,
			UpdatedAt:      now,
		},
	}
	result.Run.Config = RunConfig{
		Strategy:       dec.Name(),
		Instrument:     instrument,
		Granularity:    g.String(),
		StartTS:        result.Run.StartTS,
		EndTS:          result.Run.EndTS,
		InitialBalance: e.cfg.InitialBalance,
		CommissionPips: e.cfg.CommissionPips,
		PipSize:        e.cfg.PipSize,
	}
	if tf, ok := dec.HigherTimeframe(); ok {
		result.Run.Config.TrendTF = tf.String()
	}

	balance := e.cfg.InitialBalance
	var pos *openPosition
	peak := balance
	maxDrawdown := 0.0
	barsInPosition := 0
	var orderSeq, posSeq int64
	var holdingTotal time.Duration
	perBarReturns := make([]float64, 0, len(primary))
	prevEquity := balance

	commissionPrice := e.cfg.CommissionPips * e.cfg.PipSize

	appendOrder := func(o Order) int64 {
		orderSeq++
		o.ID = orderSeq
		o.RunID = runID
		result.Orders = append(result.Orders, o)
		return o.ID
	}

	closePosition := func(p *openPosition, price float64, at time.Time, reason string) {
		dir := 1.0
		action := "close_long"
		if p.side == strategy.ActionShort {
			dir = -1.0
			action = "close_short"
		}
		commission := commissionPrice * p.units
		pnl := (price-p.entryPrice)*dir*p.units - commission
		balance += pnl
		exitOrderID := appendOrder(Order{
			Action:     action,
			Side:       string(p.side),
			Price:      price,
			Units:      p.units,
			Notional:   price * p.units,
			Commission: commission,
			Reason:     reason,
			ExecutedAt: at,
		})
		posSeq++
		holding := at.Sub(p.openedAt)
		holdingTotal += holding
		result.Positions = append(result.Positions, Position{
			ID:           posSeq,
			RunID:        runID,
			Instrument:   instrument,
			Side:         string(p.side),
			EntryOrderID: p.entryOrderID,
			ExitOrderID:  exitOrderID,
			EntryPrice:   p.entryPrice,
			ExitPrice:    price,
			Units:        p.units,
			PnL:          pnl,
			PnLPct:       pnl / (p.entryPrice * p.units) * 100,
			HoldingMs:    holding.Milliseconds(),
			StopLoss:     p.stopLoss,
			TakeProfit:   p.takeProfit,
			ExitReason:   reason,
			OpenedAt:     p.openedAt,
			ClosedAt:     at,
		})
	}

	for i := range primary {
		c := primary[i]

		// 先结算已有持仓的保护价：同一根 K 线内止损优先于止盈，
		// 这是对未知路径的保守假设。
		if pos != nil {
			dir := 1.0
			if pos.side == strategy.ActionShort {
				dir = -1.0
			}
			stopHit := pos.stopLoss > 0 && ((dir > 0 && c.Low <= pos.stopLoss) || (dir < 0 && c.High >= pos.stopLoss))
			targetHit := pos.takeProfit > 0 && ((dir > 0 && c.High >= pos.takeProfit) || (dir < 0 && c.Low <= pos.takeProfit))
			switch {
			case stopHit:
				closePosition(pos, pos.stopLoss, c.Time, "stop_loss")
				pos = nil
			case targetHit:
				closePosition(pos, pos.takeProfit, c.Time, "take_profit")
				pos = nil
			}
		}

		// 再问策略
		var state *strategy.PositionState
		if pos != nil {
			state = &strategy.PositionState{Side: pos.side, EntryPrice: pos.entryPrice, EntryIndex: pos.entryIndex}
		}
		d := dec.Decide(i, state)
		switch d.Action {
		case strategy.ActionClose:
			if pos != nil {
				reason := d.Tag
				if reason == "" {
					reason = "signal"
				}
				closePosition(pos, c.Close, c.Time, reason)
				pos = nil
			}
		case strategy.ActionLong, strategy.ActionShort:
			if pos == nil {
				units := balance / c.Close
				commission := commissionPrice * units
				action := "open_long"
				if d.Action == strategy.ActionShort {
					action = "open_short"
				}
				balance -= commission
				entryOrderID := appendOrder(Order{
					Action:     action,
					Side:       string(d.Action),
					Price:      c.Close,
					Units:      units,
					Notional:   c.Close * units,
					Commission: commission,
					Reason:     "signal",
					Tag:        d.Tag,
					ExecutedAt: c.Time,
					StopLoss:   d.StopLoss,
					TakeProfit: d.TakeProfit,
				})
				pos = &openPosition{
					side:         d.Action,
					entryPrice:   c.Close,
					entryIndex:   i,
					entryOrderID: entryOrderID,
					units:        units,
					stopLoss:     d.StopLoss,
					takeProfit:   d.TakeProfit,
					openedAt:     c.Time,
				}
			}
		}

		// 资金曲线：持仓按收盘价浮动计价
		equity := balance
		exposure := 0.0
		if pos != nil {
			dir := 1.0
			if pos.side == strategy.ActionShort {
				dir = -1.0
			}
			equity += (c.Close - pos.entryPrice) * dir * pos.units
			exposure = 1.0
			barsInPosition++
		}
		if equity > peak {
			peak = equity
		}
		drawdown := 0.0
		if peak > 0 {
			drawdown = (peak - equity) / peak * 100
		}
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}
		if prevEquity > 0 {
			perBarReturns = append(perBarReturns, equity/prevEquity-1)
		}
		prevEquity = equity
		result.Snapshots = append(result.Snapshots, Snapshot{
			RunID:    runID,
			TS:       c.Time.Unix(),
			Equity:   equity,
			Balance:  balance,
			Drawdown: drawdown,
			Exposure: exposure,
		})
	}

	// 末根仍持仓的按收盘价了结，避免留下悬空持仓
	if pos != nil {
		last := primary[len(primary)-1]
		closePosition(pos, last.Close, last.Time, "final")
		pos = nil
	}

	result.Run.Stats = e.buildStats(result, balance, peak, maxDrawdown, barsInPosition, len(primary), holdingTotal, perBarReturns, g)
	result.Run.FinalBalance = result.Run.Stats.FinalBalance
	result.Run.Profit = result.Run.Stats.Profit
	result.Run.ReturnPct = result.Run.Stats.ReturnPct
	result.Run.WinRate = result.Run.Stats.WinRate
	result.Run.MaxDrawdownPct = result.Run.Stats.MaxDrawdownPct
	result.Run.Orders = len(result.Orders)
	result.Run.Positions = len(result.Positions)
	result.Run.Status = RunStatusDone
	result.Run.CompletedAt = time.Now().UTC()
	result.Run.UpdatedAt = result.Run.CompletedAt

	logger.Infof("backtest %s %s/%s: %d trades, return %.2f%%, max drawdown %.2f%%",
		dec.Name(), instrument, g, result.Run.Positions, result.Run.ReturnPct, result.Run.MaxDrawdownPct)
	return result, nil
}

func (e *Engine) buildStats(result *Result, balance, peak, maxDrawdown float64, barsInPosition, totalBars int, holdingTotal time.Duration, perBarReturns []float64, g market.Granularity) RunStats {
	wins, losses := 0, 0
	valley := e.cfg.InitialBalance
	for _, p := range result.Positions {
		if p.PnL > 0 {
			wins++
		} else {
			losses++
		}
	}
	for _, s := range result.Snapshots {
		if s.Equity < valley {
			valley = s.Equity
		}
	}
	stats := RunStats{
		FinalBalance:   balance,
		Profit:         balance - e.cfg.InitialBalance,
		ReturnPct:      (balance/e.cfg.InitialBalance - 1) * 100,
		MaxDrawdownPct: maxDrawdown,
		Orders:         len(result.Orders),
		Positions:      len(result.Positions),
		Wins:           wins,
		Losses:         losses,
		Snapshots:      len(result.Snapshots),
		EquityPeak:     peak,
		EquityValley:   valley,
		FinishedAt:     time.Now().UTC(),
	}
	if n := len(result.Positions); n > 0 {
		stats.WinRate = float64(wins) / float64(n) * 100
		stats.AvgHoldingMinutes = holdingTotal.Minutes() / float64(n)
	}
	if totalBars > 0 {
		stats.ExposurePct = float64(barsInPosition) / float64(totalBars) * 100
	}
	stats.Sharpe = sharpeRatio(perBarReturns, g)
	return stats
}

// sharpeRatio 以每根 K 线的资金变动率计算，按名义周期数年化。
func sharpeRatio(returns []float64, g market.Granularity) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	barsPerYear := float64(365*24*3600) / float64(g.Seconds())
	return mean / std * math.Sqrt(barsPerYear)
}
