// Package app 负责应用级编排：配置→依赖装配→各子命令的执行入口。
package app

import (
	"context"
	"fmt"
	"time"

	"fxtide/internal/backtest"
	"fxtide/internal/config"
	"fxtide/internal/gateway/oanda"
	"fxtide/internal/logger"
	"fxtide/internal/market"
	"fxtide/internal/retriever"
	"fxtide/internal/store/csvstore"
	"fxtide/internal/strategy"
	httpapi "fxtide/internal/transport/http"

	"golang.org/x/sync/errgroup"
)

// App 持有按需构建的依赖。离线命令（datasets、backtest）不会触发
// 网络客户端的凭证校验。
type App struct {
	cfg *config.Config

	client    *oanda.Client
	fetcher   *retriever.Retriever
	datastore *csvstore.Store
	results   *backtest.ResultStore
}

func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return &App{cfg: cfg}, nil
}

func (a *App) Config() *config.Config { return a.cfg }

// Client 惰性构建 OANDA 客户端，占位凭证在这里被拒绝。
func (a *App) Client() (*oanda.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	client, err := oanda.NewClient(a.cfg.OANDA)
	if err != nil {
		return nil, err
	}
	a.client = client
	return client, nil
}

func (a *App) Fetcher() (*retriever.Retriever, error) {
	if a.fetcher != nil {
		return a.fetcher, nil
	}
	client, err := a.Client()
	if err != nil {
		return nil, err
	}
	a.fetcher = retriever.New(client, retriever.Options{
		PageLimit:       a.cfg.Fetch.PageLimit,
		RatePerSec:      a.cfg.Fetch.RateLimitPerSec,
		InstrumentPause: time.Duration(a.cfg.Fetch.InstrumentPauseMs) * time.Millisecond,
	})
	return a.fetcher, nil
}

func (a *App) Store() (*csvstore.Store, error) {
	if a.datastore != nil {
		return a.datastore, nil
	}
	store, err := csvstore.New(a.cfg.Storage.Root)
	if err != nil {
		return nil, err
	}
	a.datastore = store
	return store, nil
}

func (a *App) Results() (*backtest.ResultStore, error) {
	if a.results != nil {
		return a.results, nil
	}
	results, err := backtest.NewResultStore(a.cfg.Backtest.Root)
	if err != nil {
		return nil, err
	}
	a.results = results
	return results, nil
}

func (a *App) Close() {
	if a.results != nil {
		a.results.Close()
	}
}

// FetchAndSave 拉取一段历史并落盘，返回文件路径。
func (a *App) FetchAndSave(ctx context.Context, instrument string, g market.Granularity, from, to time.Time) (string, error) {
	fetcher, err := a.Fetcher()
	if err != nil {
		return "", err
	}
	store, err := a.Store()
	if err != nil {
		return "", err
	}
	candles, err := fetcher.Fetch(ctx, instrument, g, from, to)
	if err != nil {
		return "", err
	}
	return store.Save(candles, instrument, g, from, to)
}

// LoadSeries 从数据集目录找出覆盖 [from, to] 的文件并截取区间。
func (a *App) LoadSeries(instrument string, g market.Granularity, from, to time.Time) ([]market.Candle, error) {
	store, err := a.Store()
	if err != nil {
		return nil, err
	}
	datasets, err := store.List(instrument)
	if err != nil {
		return nil, err
	}
	// [from, to) 区间的最后一根落在 to 之前一个周期，覆盖判定要按
	// 这个边界放宽，否则 fetch 刚写完的文件会被自己拒掉。
	lastWanted := to.Add(-g.Duration())
	for _, ds := range datasets {
		if ds.Granularity != g {
			continue
		}
		candles, err := store.Load(ds.Path)
		if err != nil {
			logger.Warnf("skipping %s: %v", ds.Path, err)
			continue
		}
		min, max, ok := market.Span(candles)
		if !ok || min.After(from) || max.Before(lastWanted) {
			continue
		}
		out := make([]market.Candle, 0, len(candles))
		for _, c := range candles {
			if c.Time.Before(from) || c.Time.After(to) {
				continue
			}
			out = append(out, c)
		}
		return out, nil
	}
	return nil, fmt.Errorf("no local dataset covers %s %s %s..%s, run fetch first",
		instrument, g, from.Format("2006-01-02"), to.Format("2006-01-02"))
}

// RunBacktest 构建策略、补齐高周期序列并执行回测，结果入库。
func (a *App) RunBacktest(ctx context.Context, name, instrument string, g market.Granularity, from, to time.Time) (*backtest.Result, error) {
	profiles, err := strategy.LoadProfiles(a.cfg.Backtest.StrategiesPath)
	if err != nil {
		return nil, err
	}
	dec, err := profiles.Build(name)
	if err != nil {
		return nil, err
	}

	primary, err := a.LoadSeries(instrument, g, from, to)
	if err != nil {
		return nil, err
	}
	var higher []market.Candle
	if tf, ok := dec.HigherTimeframe(); ok {
		higher, err = a.LoadSeries(instrument, tf, from, to)
		if err != nil {
			return nil, fmt.Errorf("strategy %s needs a %s dataset: %w", name, tf, err)
		}
	}

	engine, err := backtest.NewEngine(backtest.EngineConfig{
		InitialBalance: a.cfg.Backtest.InitialBalance,
		CommissionPips: a.cfg.Backtest.CommissionPips,
		PipSize:        pipSizeFor(instrument),
	})
	if err != nil {
		return nil, err
	}
	result, err := engine.Run(dec, instrument, g, primary, higher)
	if err != nil {
		return nil, err
	}
	results, err := a.Results()
	if err != nil {
		return nil, err
	}
	if err := results.SaveResult(ctx, result); err != nil {
		return nil, fmt.Errorf("saving backtest result: %w", err)
	}
	return result, nil
}

// Serve 启动 HTTP API，阻塞到 ctx 取消。
func (a *App) Serve(ctx context.Context) error {
	store, err := a.Store()
	if err != nil {
		return err
	}
	results, err := a.Results()
	if err != nil {
		return err
	}
	server, err := httpapi.NewServer(httpapi.Config{
		Addr:    a.cfg.Server.Addr,
		Store:   store,
		Results: results,
	})
	if err != nil {
		return err
	}
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Infof("http api listening on %s", a.cfg.Server.Addr)
		return server.Start(ctx)
	})
	return group.Wait()
}
