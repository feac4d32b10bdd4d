package retriever

import (
	"context"
	"errors"
	"testing"
	"time"

	"fxtide/internal/gateway/oanda"
	"fxtide/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCandleClient 按请求区间合成 K 线，模拟经纪商的分页行为。
type fakeCandleClient struct {
	calls   []oanda.CandleParams
	failOn  int // 第几次调用返回错误，0 表示不失败
	empty   bool
	perPage int // 单页最多返回根数，0 不限制
}

func (f *fakeCandleClient) GetCandles(ctx context.Context, instrument string, p oanda.CandleParams) ([]market.Candle, error) {
	f.calls = append(f.calls, p)
	if f.failOn > 0 && len(f.calls) == f.failOn {
		return nil, errors.New("broker unavailable")
	}
	if f.empty {
		return nil, nil
	}
	step := p.Granularity.Duration()
	var out []market.Candle
	for t := p.From; t.Before(p.To); t = t.Add(step) {
		if f.perPage > 0 && len(out) >= f.perPage {
			break
		}
		out = append(out, market.Candle{
			Time: t, Open: 1.1, High: 1.2, Low: 1.0, Close: 1.15, Volume: 10, Complete: true,
		})
	}
	return out, nil
}

func TestFetchSinglePage(t *testing.T) {
	fake := &fakeCandleClient{}
	r := New(fake, Options{PageLimit: 100})
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(10 * time.Hour)

	candles, err := r.Fetch(context.Background(), "EUR_USD", market.GranH1, from, to)
	require.NoError(t, err)
	assert.Len(t, candles, 10)
	assert.Len(t, fake.calls, 1)
	assert.Equal(t, from, candles[0].Time)
	assert.Equal(t, to.Add(-time.Hour), candles[len(candles)-1].Time)
}

func TestFetchPaginatesWithoutOverlap(t *testing.T) {
	fake := &fakeCandleClient{}
	r := New(fake, Options{PageLimit: 60})
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(150 * time.Minute)

	candles, err := r.Fetch(context.Background(), "EUR_USD", market.GranM1, from, to)
	require.NoError(t, err)
	require.Len(t, candles, 150)
	require.Len(t, fake.calls, 3)

	// 下一页从上一页最后一根之后一个周期开始。
	assert.Equal(t, from.Add(60*time.Minute), fake.calls[1].From)
	assert.Equal(t, from.Add(120*time.Minute), fake.calls[2].From)

	for i := 1; i < len(candles); i++ {
		assert.True(t, candles[i].Time.After(candles[i-1].Time),
			"candle %d not strictly after predecessor", i)
	}
}

func TestFetchShortFinalPageStops(t *testing.T) {
	// 周末等时段会被服务端过滤掉，最后一页不满且 chunkEnd 已覆盖 to 时直接收工。
	fake := &fakeCandleClient{perPage: 30}
	r := New(fake, Options{PageLimit: 100})
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(50 * time.Minute)

	candles, err := r.Fetch(context.Background(), "EUR_USD", market.GranM1, from, to)
	require.NoError(t, err)
	assert.Len(t, candles, 30)
	assert.Len(t, fake.calls, 1)
}

func TestFetchAllOrNothing(t *testing.T) {
	fake := &fakeCandleClient{failOn: 2}
	r := New(fake, Options{PageLimit: 60})
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(3 * time.Hour)

	candles, err := r.Fetch(context.Background(), "EUR_USD", market.GranM1, from, to)
	require.Error(t, err)
	assert.Nil(t, candles)
	assert.Contains(t, err.Error(), "page 2")
}

func TestFetchEmptyRange(t *testing.T) {
	fake := &fakeCandleClient{empty: true}
	r := New(fake, Options{})
	from := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

	_, err := r.Fetch(context.Background(), "EUR_USD", market.GranH1, from, from.Add(24*time.Hour))
	assert.ErrorIs(t, err, ErrEmptyRange)
}

func TestFetchRejectsInvertedRange(t *testing.T) {
	r := New(&fakeCandleClient{}, Options{})
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := r.Fetch(context.Background(), "EUR_USD", market.GranH1, at, at)
	assert.Error(t, err)

	_, err = r.Fetch(context.Background(), "", market.GranH1, at, at.Add(time.Hour))
	assert.Error(t, err)
}

func TestFetchMultipleSkipsFailures(t *testing.T) {
	fake := &fakeCandleClient{failOn: 1}
	r := New(fake, Options{PageLimit: 100, InstrumentPause: time.Millisecond})
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(5 * time.Hour)

	results, err := r.FetchMultiple(context.Background(), []string{"EUR_USD", "GBP_USD"}, market.GranH1, from, to)
	require.NoError(t, err)
	assert.NotContains(t, results, "EUR_USD")
	require.Contains(t, results, "GBP_USD")
	assert.Len(t, results["GBP_USD"], 5)
}

func TestDefaultOptions(t *testing.T) {
	r := New(&fakeCandleClient{}, Options{PageLimit: 99999})
	assert.Equal(t, serverPageCap, r.opts.PageLimit)
	assert.Equal(t, "M", r.opts.Price)
	assert.Equal(t, 500*time.Millisecond, r.opts.InstrumentPause)
}
