package config

// Config 是整个工具的配置根节点，从 YAML 文件加载。
type Config struct {
	App      AppConfig      `toml:"app"`
	OANDA    OANDAConfig    `toml:"oanda"`
	Fetch    FetchConfig    `toml:"fetch"`
	Storage  StorageConfig  `toml:"storage"`
	Backtest BacktestConfig `toml:"backtest"`
	Trade    TradeConfig    `toml:"trade"`
	Server   ServerConfig   `toml:"server"`
}

type AppConfig struct {
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
}

// Credentials 是单个环境（practice/live）的 API 凭证。
type Credentials struct {
	APIToken  string `toml:"api_token"`
	AccountID string `toml:"account_id"`
}

// OANDAConfig 描述经纪商连接：环境选择、各环境的 base URL 与凭证。
type OANDAConfig struct {
	Environment     string      `toml:"environment"`
	BaseURLPractice string      `toml:"base_url_practice"`
	BaseURLLive     string      `toml:"base_url_live"`
	Practice        Credentials `toml:"practice"`
	Live            Credentials `toml:"live"`
	TimeoutSeconds  int         `toml:"timeout_seconds"`
}

// FetchConfig 控制历史数据分页拉取的节奏。
type FetchConfig struct {
	PageLimit         int     `toml:"page_limit"`
	RateLimitPerSec   float64 `toml:"rate_limit_per_sec"`
	InstrumentPauseMs int     `toml:"instrument_pause_ms"`
}

type StorageConfig struct {
	Root string `toml:"root"`
}

type BacktestConfig struct {
	Root           string  `toml:"root"`
	InitialBalance float64 `toml:"initial_balance"`
	CommissionPips float64 `toml:"commission_pips"`
	StrategiesPath string  `toml:"strategies_path"`
}

// TradeConfig 是实盘信号/下单命令的默认参数。
type TradeConfig struct {
	RiskPercent float64 `toml:"risk_percent"`
	Lookback    int     `toml:"lookback"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

// ActiveCredentials 返回当前环境的凭证与 base URL。
func (c OANDAConfig) ActiveCredentials() (Credentials, string) {
	if c.Environment == "live" {
		return c.Live, c.BaseURLLive
	}
	return c.Practice, c.BaseURLPractice
}
