// Package sizing 外汇仓位计算：账户权益 × 风险比例 → 止损距离反推手数。
// 全程用 decimal 结算，避免手数出现 0.4999999 这类浮点尾巴。
package sizing

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// 每个品种一个 pip 对应的小数位（EUR_USD: 0.0001，USD_JPY: 0.01）。
var pipDecimals = map[string]int32{
	"EUR_USD": 4,
	"GBP_USD": 4,
	"AUD_USD": 4,
	"NZD_USD": 4,
	"USD_JPY": 2,
	"USD_CHF": 4,
	"USD_CAD": 4,
	"EUR_GBP": 4,
	"EUR_JPY": 2,
}

// 一标准手（100,000 units）每 pip 的美元价值。JPY/CHF 交叉盘随
// 汇率波动，这里取近似常数。
var pipValues = map[string]string{
	"EUR_USD": "10.0",
	"GBP_USD": "10.0",
	"AUD_USD": "10.0",
	"NZD_USD": "10.0",
	"USD_JPY": "9.12",
	"USD_CHF": "10.15",
	"USD_CAD": "10.0",
	"EUR_GBP": "10.0",
	"EUR_JPY": "9.12",
}

const unitsPerLot = 100_000

// SupportedInstruments 返回有 pip 表项的品种列表。
func SupportedInstruments() []string {
	out := make([]string, 0, len(pipDecimals))
	for k := range pipDecimals {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func errUnsupported(instrument string) error {
	return fmt.Errorf("sizing: instrument %q not supported (available: %v)", instrument, SupportedInstruments())
}

// PipSize 返回一个 pip 的价格单位。
func PipSize(instrument string) (decimal.Decimal, error) {
	places, ok := pipDecimals[instrument]
	if !ok {
		return decimal.Decimal{}, errUnsupported(instrument)
	}
	return decimal.New(1, -places), nil
}

// PipValue 返回一标准手每 pip 的美元价值。
func PipValue(instrument string) (decimal.Decimal, error) {
	v, ok := pipValues[instrument]
	if !ok {
		return decimal.Decimal{}, errUnsupported(instrument)
	}
	return decimal.RequireFromString(v), nil
}

// PricePrecision 返回下单价格应有的小数位（pip 位数 + 1 位碎点）。
func PricePrecision(instrument string) (int, error) {
	places, ok := pipDecimals[instrument]
	if !ok {
		return 0, errUnsupported(instrument)
	}
	return int(places) + 1, nil
}

// PipsToPrice 把 pip 数换算成价格距离。
func PipsToPrice(pips decimal.Decimal, instrument string) (decimal.Decimal, error) {
	size, err := PipSize(instrument)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return pips.Mul(size), nil
}

// PriceToPips 把价格距离换算成 pip 数。
func PriceToPips(distance decimal.Decimal, instrument string) (decimal.Decimal, error) {
	size, err := PipSize(instrument)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return distance.Div(size), nil
}

// RiskAmount 计算本笔交易愿意亏损的金额。
func RiskAmount(equity, riskPercent decimal.Decimal) (decimal.Decimal, error) {
	if equity.Sign() <= 0 {
		return decimal.Decimal{}, fmt.Errorf("sizing: equity must be positive, got %s", equity)
	}
	if riskPercent.Sign() <= 0 || riskPercent.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.Decimal{}, fmt.Errorf("sizing: risk percent must be in (0, 100], got %s", riskPercent)
	}
	return equity.Mul(riskPercent).Div(decimal.NewFromInt(100)), nil
}

// Lots 按风险额和止损 pip 数计算手数：
//
//	lots = riskAmount / (stopLossPips × pipValue)
//
// 结果截到 0.01 手（1000 units）。
func Lots(equity, riskPercent, stopLossPips decimal.Decimal, instrument string) (decimal.Decimal, error) {
	if stopLossPips.Sign() <= 0 {
		return decimal.Decimal{}, fmt.Errorf("sizing: stop loss pips must be positive, got %s", stopLossPips)
	}
	risk, err := RiskAmount(equity, riskPercent)
	if err != nil {
		return decimal.Decimal{}, err
	}
	pipValue, err := PipValue(instrument)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return risk.Div(stopLossPips.Mul(pipValue)).RoundDown(2), nil
}

// Units 同 Lots，但换算成经纪商实际接受的 units 整数。止损距离
// 以价格单位传入，方向由调用方自行取反。
func Units(equity, riskPercent, slDistance decimal.Decimal, instrument string) (int64, error) {
	pips, err := PriceToPips(slDistance, instrument)
	if err != nil {
		return 0, err
	}
	lots, err := Lots(equity, riskPercent, pips, instrument)
	if err != nil {
		return 0, err
	}
	return lots.Mul(decimal.NewFromInt(unitsPerLot)).IntPart(), nil
}
