package app

import (
	"context"
	"fmt"

	"fxtide/internal/gateway/oanda"
	"fxtide/internal/logger"
	"fxtide/internal/market"
	"fxtide/internal/pkg/sizing"
	"fxtide/internal/signal"

	"github.com/shopspring/decimal"
)

// pipSizeFor 查 pip 表，表外品种按非 JPY 对的 0.0001 兜底。
func pipSizeFor(instrument string) float64 {
	size, err := sizing.PipSize(instrument)
	if err != nil {
		return 0.0001
	}
	f, _ := size.Float64()
	return f
}

// DetectSignal 拉取最近的已收盘 K 线并做突破判定。
func (a *App) DetectSignal(ctx context.Context, instrument string, g market.Granularity) (*signal.Signal, error) {
	client, err := a.Client()
	if err != nil {
		return nil, err
	}
	lookback := a.cfg.Trade.Lookback
	if lookback <= 0 {
		lookback = 60
	}
	candles, err := client.GetCandles(ctx, instrument, oanda.CandleParams{
		Granularity: g,
		Count:       lookback,
	})
	if err != nil {
		return nil, err
	}
	// 最后一根可能尚未收盘，必须剔除
	complete := market.CompleteOnly(candles)
	return signal.Detect(complete, signal.DefaultParams())
}

// TradeResult 一次下单的摘要。
type TradeResult struct {
	Signal        *signal.Signal
	Units         int64
	StopLoss      float64
	TakeProfit    float64
	TransactionID string
}

// Trade 检测信号并按风险比例下单。无信号时返回 (nil, nil)。
func (a *App) Trade(ctx context.Context, instrument string, g market.Granularity, riskReward float64) (*TradeResult, error) {
	client, err := a.Client()
	if err != nil {
		return nil, err
	}
	sig, err := a.DetectSignal(ctx, instrument, g)
	if err != nil {
		return nil, err
	}
	if sig == nil {
		return nil, nil
	}
	logger.Infof("signal: %s %s entry~%.5f sl_dist=%.5f", instrument, sig.Side, sig.EntryPrice, sig.SLDistance)

	account, err := client.GetAccountInfo(ctx)
	if err != nil {
		return nil, err
	}
	riskPct := a.cfg.Trade.RiskPercent
	if riskPct <= 0 {
		riskPct = 1.0
	}
	units, err := sizing.Units(
		decimal.NewFromFloat(account.Balance),
		decimal.NewFromFloat(riskPct),
		decimal.NewFromFloat(sig.SLDistance),
		instrument,
	)
	if err != nil {
		return nil, err
	}
	if units <= 0 {
		return nil, fmt.Errorf("computed position size is zero, risk %.2f%% of %.2f is too small for sl distance %.5f",
			riskPct, account.Balance, sig.SLDistance)
	}

	if riskReward <= 0 {
		riskReward = 2.0
	}
	var sl, tp float64
	if sig.Side == signal.SideBuy {
		sl = sig.EntryPrice - sig.SLDistance
		tp = sig.EntryPrice + sig.SLDistance*riskReward
	} else {
		sl = sig.EntryPrice + sig.SLDistance
		tp = sig.EntryPrice - sig.SLDistance*riskReward
		units = -units
	}
	precision, err := sizing.PricePrecision(instrument)
	if err != nil {
		precision = 5
	}

	txID, err := client.PlaceMarketOrder(ctx, oanda.OrderRequest{
		Instrument: instrument,
		Units:      units,
		StopLoss:   sl,
		TakeProfit: tp,
		Precision:  precision,
	})
	if err != nil {
		return nil, err
	}
	logger.Infof("order filled: %s units=%d sl=%.5f tp=%.5f tx=%s", instrument, units, sl, tp, txID)
	return &TradeResult{
		Signal:        sig,
		Units:         units,
		StopLoss:      sl,
		TakeProfit:    tp,
		TransactionID: txID,
	}, nil
}

// CloseOpenPosition 平掉某品种的全部持仓（多空都平）。
func (a *App) CloseOpenPosition(ctx context.Context, instrument string) error {
	client, err := a.Client()
	if err != nil {
		return err
	}
	positions, err := client.GetOpenPositions(ctx)
	if err != nil {
		return err
	}
	for _, pos := range positions {
		if pos.Instrument != instrument {
			continue
		}
		if err := client.ClosePosition(ctx, instrument, pos.LongUnits != 0, pos.ShortUnits != 0); err != nil {
			return err
		}
		logger.Infof("closed position on %s (long=%d short=%d)", instrument, pos.LongUnits, pos.ShortUnits)
		return nil
	}
	return fmt.Errorf("no open position on %s", instrument)
}
