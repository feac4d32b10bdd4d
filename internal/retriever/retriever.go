package retriever

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fxtide/internal/gateway/oanda"
	"fxtide/internal/logger"
	"fxtide/internal/market"

	"golang.org/x/time/rate"
)

// ErrEmptyRange 表示整个区间没有任何 K 线。休市与错误输入在这里
// 不作区分，统一交给调用方处理。
var ErrEmptyRange = errors.New("retriever: no candles in requested range")

// serverPageCap 是经纪商单次请求的 K 线上限。
const serverPageCap = 5000

// CandleClient 是 Retriever 对网关的最小依赖，便于测试替换。
type CandleClient interface {
	GetCandles(ctx context.Context, instrument string, p oanda.CandleParams) ([]market.Candle, error)
}

// Options 控制分页节奏。
type Options struct {
	// PageLimit 单页根数，0 或超限时取服务端上限 5000。
	PageLimit int
	// RatePerSec 页与页之间的节流（requests/second），0 取 50。
	RatePerSec float64
	// InstrumentPause 是 FetchMultiple 中相邻 instrument 之间的停顿。
	InstrumentPause time.Duration
	// Price M/B/A，默认 M。
	Price string
}

// Retriever 将任意大小的日期区间拆成受上限约束的多次请求，
// 拼接为一条按时间升序、无重复的 K 线序列。
type Retriever struct {
	client  CandleClient
	limiter *rate.Limiter
	opts    Options
}

func New(client CandleClient, opts Options) *Retriever {
	if opts.PageLimit <= 0 || opts.PageLimit > serverPageCap {
		opts.PageLimit = serverPageCap
	}
	perSec := opts.RatePerSec
	if perSec <= 0 {
		perSec = 50
	}
	if opts.InstrumentPause <= 0 {
		opts.InstrumentPause = 500 * time.Millisecond
	}
	if opts.Price == "" {
		opts.Price = "M"
	}
	return &Retriever{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(perSec), 1),
		opts:    opts,
	}
}

// Fetch 拉取 [from, to) 区间的完整序列。要么全部成功，要么返回错误，
// 不返回截断的部分结果；单页失败不做自动重试。
func (r *Retriever) Fetch(ctx context.Context, instrument string, g market.Granularity, from, to time.Time) ([]market.Candle, error) {
	if instrument == "" {
		return nil, fmt.Errorf("retriever: instrument cannot be empty")
	}
	from, to = from.UTC(), to.UTC()
	if !from.Before(to) {
		return nil, fmt.Errorf("retriever: from %s must precede to %s", from, to)
	}
	step := g.Duration()
	expected := int64(to.Sub(from) / step)
	logger.Infof("fetching %s %s from %s to %s (~%d candles, cap %d/page)",
		instrument, g, from.Format(time.RFC3339), to.Format(time.RFC3339), expected, r.opts.PageLimit)

	var all []market.Candle
	cursor := from
	pages := 0
	for cursor.Before(to) {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		chunkEnd := cursor.Add(step * time.Duration(r.opts.PageLimit))
		if chunkEnd.After(to) {
			chunkEnd = to
		}
		page, err := r.client.GetCandles(ctx, instrument, oanda.CandleParams{
			Granularity: g,
			From:        cursor,
			To:          chunkEnd,
			Price:       r.opts.Price,
		})
		if err != nil {
			// 全有或全无：已取到的页一并丢弃。
			return nil, fmt.Errorf("page %d (%s %s from %s): %w", pages+1, instrument, g, cursor.Format(time.RFC3339), err)
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		pages++
		logger.Debugf("page %d: %d candles, total %d", pages, len(page), len(all))

		// 游标推进到最后一根之后一个周期，避免下一页重含边界 K 线。
		cursor = page[len(page)-1].Time.Add(step)
		if !cursor.Before(to) {
			break
		}
		if len(page) < r.opts.PageLimit && !chunkEnd.Before(to) {
			break
		}
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%w: %s %s [%s, %s)", ErrEmptyRange, instrument, g,
			from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	// 到达顺序已经是时间序，这里只做防御性去重（边界 K 线可能出现两次）。
	all = market.SortDedupe(all)
	first, last, _ := market.Span(all)
	logger.Infof("retrieved %d candles for %s (%s to %s) in %d pages",
		len(all), instrument, first.Format(time.RFC3339), last.Format(time.RFC3339), pages)
	return all, nil
}

// FetchMultiple 依次拉取多个 instrument。单个失败只记录并跳过，
// 不中断整批；失败的 instrument 不会出现在结果里。
func (r *Retriever) FetchMultiple(ctx context.Context, instruments []string, g market.Granularity, from, to time.Time) (map[string][]market.Candle, error) {
	results := make(map[string][]market.Candle, len(instruments))
	for i, instrument := range instruments {
		if i > 0 {
			if err := sleepWithContext(ctx, r.opts.InstrumentPause); err != nil {
				return results, err
			}
		}
		candles, err := r.Fetch(ctx, instrument, g, from, to)
		if err != nil {
			logger.Errorf("fetch %s failed: %v", instrument, err)
			continue
		}
		results[instrument] = candles
	}
	return results, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
