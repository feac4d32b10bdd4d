package backtest

import (
	"fmt"
	"io"
	"time"

	"fxtide/internal/market"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

const (
	chartWidthPx  = 1180
	klineHeightPx = 520
	lineHeightPx  = 320

	colorBullish = "#2f9e66"
	colorBearish = "#d64550"
	colorEquity  = "#4d7cfe"
	colorEntry   = "#f2a33c"
	colorExit    = "#8a5cd6"
)

// RenderReport 把一次回测结果渲染成单页 HTML：K 线 + 买卖点 +
// 资金曲线。页面自包含，直接在浏览器打开。
func RenderReport(w io.Writer, result *Result, candles []market.Candle) error {
	if result == nil {
		return fmt.Errorf("backtest: result cannot be nil")
	}
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.PageTitle = fmt.Sprintf("%s %s %s", result.Run.Strategy, result.Run.Instrument, result.Run.Granularity)

	if len(candles) > 0 {
		page.AddCharts(buildKlineChart(result, candles))
	}
	page.AddCharts(buildEquityChart(result))
	return page.Render(w)
}

func buildKlineChart(result *Result, candles []market.Candle) *charts.Kline {
	xAxis := make([]string, len(candles))
	data := make([]opts.KlineData, len(candles))
	for i, c := range candles {
		xAxis[i] = c.Time.UTC().Format("01-02 15:04")
		data[i] = opts.KlineData{Value: [4]float64{c.Open, c.Close, c.Low, c.High}}
	}

	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:  types.ThemeWesteros,
			Width:  fmt.Sprintf("%dpx", chartWidthPx),
			Height: fmt.Sprintf("%dpx", klineHeightPx),
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%s %s %s", result.Run.Instrument, result.Run.Granularity, result.Run.Strategy),
			Subtitle: fmt.Sprintf("trades %d · win rate %.1f%% · return %.2f%%", result.Run.Positions, result.Run.WinRate, result.Run.ReturnPct),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
	)
	kline.SetXAxis(xAxis)
	kline.AddSeries("Price", data, charts.WithItemStyleOpts(opts.ItemStyle{
		Color:        colorBullish,
		Color0:       colorBearish,
		BorderColor:  colorBullish,
		BorderColor0: colorBearish,
	}))

	// 买卖点以散点叠加到 K 线上
	entries := charts.NewScatter()
	entries.SetXAxis(xAxis)
	entries.AddSeries("Entry", tradeMarkers(result.Orders, candles, true),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: colorEntry}))
	exits := charts.NewScatter()
	exits.SetXAxis(xAxis)
	exits.AddSeries("Exit", tradeMarkers(result.Orders, candles, false),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: colorExit}))
	kline.Overlap(entries, exits)
	return kline
}

// tradeMarkers 把订单映射到 K 线 x 轴索引；时间对不上整根的订单
// 落到第一根不早于它的 K 线。
func tradeMarkers(orders []Order, candles []market.Candle, entry bool) []opts.ScatterData {
	var out []opts.ScatterData
	j := 0
	for _, o := range orders {
		isOpen := o.Action == "open_long" || o.Action == "open_short"
		if isOpen != entry {
			continue
		}
		for j < len(candles) && candles[j].Time.Before(o.ExecutedAt) {
			j++
		}
		if j >= len(candles) {
			break
		}
		symbol := "triangle"
		rotate := 0
		if o.Side == "short" {
			rotate = 180
		}
		out = append(out, opts.ScatterData{
			Value:        []any{j, o.Price},
			Symbol:       symbol,
			SymbolSize:   12,
			SymbolRotate: rotate,
		})
	}
	return out
}

func buildEquityChart(result *Result) *charts.Line {
	xAxis := make([]string, len(result.Snapshots))
	equity := make([]opts.LineData, len(result.Snapshots))
	for i, s := range result.Snapshots {
		xAxis[i] = time.Unix(s.TS, 0).UTC().Format("01-02 15:04")
		equity[i] = opts.LineData{Value: s.Equity}
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:  types.ThemeWesteros,
			Width:  fmt.Sprintf("%dpx", chartWidthPx),
			Height: fmt.Sprintf("%dpx", lineHeightPx),
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Equity",
			Subtitle: fmt.Sprintf("final %.2f · max drawdown %.2f%% · sharpe %.2f", result.Run.FinalBalance, result.Run.MaxDrawdownPct, result.Run.Stats.Sharpe),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
	)
	line.SetXAxis(xAxis)
	line.AddSeries("Equity", equity,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}))
	return line
}
