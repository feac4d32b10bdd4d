package strategy

import (
	"fmt"
	"sort"

	"fxtide/internal/market"
)

// Action 策略在某根 K 线收盘后给出的动作。
type Action string

const (
	ActionNone  Action = "none"
	ActionLong  Action = "long"
	ActionShort Action = "short"
	ActionClose Action = "close"
)

// Decision 单根 K 线上的策略输出。StopLoss/TakeProfit 为 0 表示
// 不设该保护价；Tag 记录触发原因，回测报告里展示。
type Decision struct {
	Action     Action
	StopLoss   float64
	TakeProfit float64
	Tag        string
}

// PositionState 回测引擎传给策略的当前持仓视图。
type PositionState struct {
	Side       Action // ActionLong / ActionShort
	EntryPrice float64
	EntryIndex int
}

// Decider 是所有策略的统一接口。Prepare 在回测开始前一次性计算
// 全部指标序列，Decide 只做索引查表，避免每根 K 线重复计算。
type Decider interface {
	Name() string
	// Warmup 返回指标就绪所需的最少 K 线数，之前的 Decide 一律返回 none。
	Warmup() int
	// HigherTimeframe 返回策略需要的高周期；ok=false 表示单周期策略。
	HigherTimeframe() (market.Granularity, bool)
	// Prepare 预计算指标。higher 在单周期策略下传 nil。
	Prepare(primary []market.Candle, higher []market.Candle) error
	// Decide 对第 i 根（已收盘）K 线给出动作。pos 为 nil 表示空仓。
	Decide(i int, pos *PositionState) Decision
}

// Factory 按名字和参数构造策略实例。
type Factory func(params map[string]any) (Decider, error)

var registry = map[string]Factory{}

// Register 注册策略工厂，在各策略文件的 init 里调用。
func Register(name string, f Factory) {
	registry[name] = f
}

// New 构造已注册的策略。
func New(name string, params map[string]any) (Decider, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("strategy: unknown strategy %q (available: %v)", name, Names())
	}
	return f(params)
}

// Names 返回所有已注册的策略名。
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
