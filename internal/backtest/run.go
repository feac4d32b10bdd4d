package backtest

import (
	"encoding/json"
	"time"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// RunConfig 记录本次回测的参数快照，便于重放。
type RunConfig struct {
	Strategy       string         `json:"strategy"`
	Instrument     string         `json:"instrument"`
	Granularity    string         `json:"granularity"`
	TrendTF        string         `json:"trend_timeframe,omitempty"`
	StartTS        int64          `json:"start_ts"`
	EndTS          int64          `json:"end_ts"`
	InitialBalance float64        `json:"initial_balance"`
	CommissionPips float64        `json:"commission_pips"`
	PipSize        float64        `json:"pip_size"`
	Params         map[string]any `json:"params,omitempty"`
	Notes          string         `json:"notes,omitempty"`
}

// RunStats 汇总收益、风控指标。
type RunStats struct {
	FinalBalance      float64   `json:"final_balance"`
	Profit            float64   `json:"profit"`
	ReturnPct         float64   `json:"return_pct"`
	WinRate           float64   `json:"win_rate"`
	MaxDrawdownPct    float64   `json:"max_drawdown_pct"`
	Sharpe            float64   `json:"sharpe"`
	ExposurePct       float64   `json:"exposure_pct"`
	Orders            int       `json:"orders"`
	Positions         int       `json:"positions"`
	Wins              int       `json:"wins"`
	Losses            int       `json:"losses"`
	AvgHoldingMinutes float64   `json:"avg_holding_minutes"`
	Snapshots         int       `json:"snapshots"`
	EquityPeak        float64   `json:"equity_peak"`
	EquityValley      float64   `json:"equity_valley"`
	FinishedAt        time.Time `json:"finished_at"`
}

// Run 表示一次回测任务。
type Run struct {
	ID             string    `json:"id"`
	Instrument     string    `json:"instrument"`
	Strategy       string    `json:"strategy"`
	Status         string    `json:"status"`
	StartTS        int64     `json:"start_ts"`
	EndTS          int64     `json:"end_ts"`
	Granularity    string    `json:"granularity"`
	InitialBalance float64   `json:"initial_balance"`
	FinalBalance   float64   `json:"final_balance"`
	Profit         float64   `json:"profit"`
	ReturnPct      float64   `json:"return_pct"`
	WinRate        float64   `json:"win_rate"`
	MaxDrawdownPct float64   `json:"max_drawdown_pct"`
	Message        string    `json:"message"`
	Config         RunConfig `json:"config"`
	Stats          RunStats  `json:"stats"`
	Orders         int       `json:"orders"`
	Positions      int       `json:"positions"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	CompletedAt    time.Time `json:"completed_at"`
}

// MarshalStats 返回 stats JSON。
func (r Run) MarshalStats() ([]byte, error) {
	return json.Marshal(r.Stats)
}

// MarshalConfig 返回 config JSON。
func (r Run) MarshalConfig() ([]byte, error) {
	return json.Marshal(r.Config)
}

// Order 记录一次模拟下单行为（开仓/平仓）。
type Order struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	Action     string    `json:"action"` // open_long/close_long/open_short/close_short
	Side       string    `json:"side"`   // long/short
	Price      float64   `json:"price"`
	Units      float64   `json:"units"`
	Notional   float64   `json:"notional"`
	Commission float64   `json:"commission"`
	Reason     string    `json:"reason"` // signal/stop_loss/take_profit/eod_close/final
	Tag        string    `json:"tag,omitempty"`
	ExecutedAt time.Time `json:"executed_at"`
	StopLoss   float64   `json:"stop_loss,omitempty"`
	TakeProfit float64   `json:"take_profit,omitempty"`
}

// Position 记录一次完整持仓的盈亏。
type Position struct {
	ID           int64     `json:"id"`
	RunID        string    `json:"run_id"`
	Instrument   string    `json:"instrument"`
	Side         string    `json:"side"`
	EntryOrderID int64     `json:"entry_order_id"`
	ExitOrderID  int64     `json:"exit_order_id"`
	EntryPrice   float64   `json:"entry_price"`
	ExitPrice    float64   `json:"exit_price"`
	Units        float64   `json:"units"`
	PnL          float64   `json:"pnl"`
	PnLPct       float64   `json:"pnl_pct"`
	HoldingMs    int64     `json:"holding_ms"`
	StopLoss     float64   `json:"stop_loss,omitempty"`
	TakeProfit   float64   `json:"take_profit,omitempty"`
	ExitReason   string    `json:"exit_reason"`
	OpenedAt     time.Time `json:"opened_at"`
	ClosedAt     time.Time `json:"closed_at"`
}

// Snapshot 保存资金曲线上的一个点。
type Snapshot struct {
	ID       int64   `json:"id"`
	RunID    string  `json:"run_id"`
	TS       int64   `json:"ts"`
	Equity   float64 `json:"equity"`
	Balance  float64 `json:"balance"`
	Drawdown float64 `json:"drawdown"`
	Exposure float64 `json:"exposure"` // 0=空仓 1=持仓
}

// Result 一次回测的完整产物，引擎返回后由调用方决定是否入库。
type Result struct {
	Run       Run        `json:"run"`
	Orders    []Order    `json:"orders"`
	Positions []Position `json:"positions"`
	Snapshots []Snapshot `json:"snapshots"`
}
