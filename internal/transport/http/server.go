// Package httpapi 提供数据集与回测结果的只读 HTTP API。
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"fxtide/internal/backtest"
	"fxtide/internal/market"
	"fxtide/internal/store/csvstore"

	"github.com/gin-gonic/gin"
)

// Server 聚合 CSV 数据集目录和回测结果库。
type Server struct {
	addr    string
	store   *csvstore.Store
	results *backtest.ResultStore
	router  *gin.Engine
}

// Config 描述 HTTP Server 的依赖。
type Config struct {
	Addr    string
	Store   *csvstore.Store
	Results *backtest.ResultStore
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("httpapi: dataset store is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:    cfg.Addr,
		store:   cfg.Store,
		results: cfg.Results,
		router:  router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	api := s.router.Group("/api")
	api.GET("/datasets", s.handleDatasets)
	api.GET("/datasets/coverage", s.handleCoverage)
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
	api.GET("/runs/:id/orders", s.handleRunOrders)
	api.GET("/runs/:id/positions", s.handleRunPositions)
	api.GET("/runs/:id/snapshots", s.handleRunSnapshots)
	api.GET("/runs/:id/report", s.handleRunReport)
}

func (s *Server) handleDatasets(c *gin.Context) {
	instrument := c.Query("instrument")
	datasets, err := s.store.List(instrument)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"datasets": datasets})
}

func (s *Server) handleCoverage(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path query parameter is required"})
		return
	}
	from, to, err := s.store.Coverage(path)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, csvstore.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"from": from.Format(time.RFC3339),
		"to":   to.Format(time.RFC3339),
	})
}

func (s *Server) handleRunList(c *gin.Context) {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "result store not configured"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.results.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) getRun(c *gin.Context) (backtest.Run, bool) {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "result store not configured"})
		return backtest.Run{}, false
	}
	run, err := s.results.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return backtest.Run{}, false
	}
	return run, true
}

func (s *Server) handleRunDetail(c *gin.Context) {
	run, ok := s.getRun(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleRunOrders(c *gin.Context) {
	run, ok := s.getRun(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	orders, err := s.results.ListOrders(c.Request.Context(), run.ID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) handleRunPositions(c *gin.Context) {
	run, ok := s.getRun(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	positions, err := s.results.ListPositions(c.Request.Context(), run.ID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (s *Server) handleRunSnapshots(c *gin.Context) {
	run, ok := s.getRun(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "2000"))
	snapshots, err := s.results.ListSnapshots(c.Request.Context(), run.ID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snapshots})
}

// handleRunReport 现场拼装 echarts 单页报告。K 线来自本地数据集，
// 找不到匹配文件时只画资金曲线。
func (s *Server) handleRunReport(c *gin.Context) {
	run, ok := s.getRun(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	result := &backtest.Result{Run: run}
	var err error
	if result.Orders, err = s.results.ListOrders(ctx, run.ID, 500); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if result.Positions, err = s.results.ListPositions(ctx, run.ID, 500); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if result.Snapshots, err = s.results.ListSnapshots(ctx, run.ID, 5000); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	candles := s.loadRunCandles(run)
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := backtest.RenderReport(c.Writer, result, candles); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) loadRunCandles(run backtest.Run) []market.Candle {
	datasets, err := s.store.List(run.Instrument)
	if err != nil {
		return nil
	}
	start := time.Unix(run.StartTS, 0).UTC()
	end := time.Unix(run.EndTS, 0).UTC()
	for _, ds := range datasets {
		if ds.Granularity.String() != run.Granularity {
			continue
		}
		candles, err := s.store.Load(ds.Path)
		if err != nil {
			continue
		}
		// EndTS 可能记录的是区间右边界而非最后一根的时间，覆盖判定
		// 放宽一个周期。
		min, max, ok := market.Span(candles)
		if !ok || min.After(start) || max.Before(end.Add(-ds.Granularity.Duration())) {
			continue
		}
		out := make([]market.Candle, 0, len(candles))
		for _, cd := range candles {
			if cd.Time.Before(start) || cd.Time.After(end) {
				continue
			}
			out = append(out, cd)
		}
		return out
	}
	return nil
}

// Start 阻塞运行直到 ctx 取消，随后优雅关停。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Handler 暴露底层路由，测试时直接挂到 httptest。
func (s *Server) Handler() http.Handler {
	return s.router
}
