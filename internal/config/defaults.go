package config

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.OANDA.Environment == "" {
		c.OANDA.Environment = "practice"
	}
	if c.OANDA.BaseURLPractice == "" {
		c.OANDA.BaseURLPractice = "https://api-fxpractice.oanda.com"
	}
	if c.OANDA.BaseURLLive == "" {
		c.OANDA.BaseURLLive = "https://api-fxtrade.oanda.com"
	}
	if c.OANDA.TimeoutSeconds <= 0 {
		c.OANDA.TimeoutSeconds = 30
	}
	if c.Fetch.PageLimit <= 0 {
		c.Fetch.PageLimit = 5000
	}
	// OANDA 的限速上限是 100 req/s，这里留出余量。
	if c.Fetch.RateLimitPerSec <= 0 {
		c.Fetch.RateLimitPerSec = 50
	}
	if c.Fetch.InstrumentPauseMs <= 0 {
		c.Fetch.InstrumentPauseMs = 500
	}
	if c.Storage.Root == "" {
		c.Storage.Root = "data/historical"
	}
	if c.Backtest.Root == "" {
		c.Backtest.Root = "data/backtest"
	}
	if c.Backtest.InitialBalance <= 0 {
		c.Backtest.InitialBalance = 10000
	}
	if c.Backtest.CommissionPips < 0 {
		c.Backtest.CommissionPips = 0
	}
	if c.Backtest.StrategiesPath == "" {
		c.Backtest.StrategiesPath = "configs/strategies.yaml"
	}
	if c.Trade.RiskPercent <= 0 {
		c.Trade.RiskPercent = 1.0
	}
	if c.Trade.Lookback <= 0 {
		c.Trade.Lookback = 120
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":9991"
	}
}
