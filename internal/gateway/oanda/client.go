package oanda

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fxtide/internal/config"
	"fxtide/internal/logger"
	"fxtide/internal/market"

	"github.com/tidwall/gjson"
)

// OANDA v20 REST 的时间戳格式（RFC3339，纳秒精度）。
const datetimeLayout = "2006-01-02T15:04:05.000000000Z"

// Client wraps the OANDA v20 REST API. All calls share one persistent
// http.Client; the client itself holds no mutable state.
type Client struct {
	baseURL    *url.URL
	accountID  string
	token      string
	httpClient *http.Client
}

// NewClient 根据配置的环境（practice/live）构造客户端。
// 占位凭证在这里就地拒绝，不会发出任何网络请求。
func NewClient(cfg config.OANDAConfig) (*Client, error) {
	creds, base := cfg.ActiveCredentials()
	if config.IsPlaceholder(creds.APIToken) || config.IsPlaceholder(creds.AccountID) {
		return nil, fmt.Errorf("%w: credentials for %s environment look like placeholders, fill in api_token/account_id",
			ErrAuth, cfg.Environment)
	}
	parsed, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return nil, fmt.Errorf("parsing oanda base url failed: %w", err)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    parsed,
		accountID:  strings.TrimSpace(creds.AccountID),
		token:      strings.TrimSpace(creds.APIToken),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// SetBaseURL overrides the API base URL (httptest servers).
func (c *Client) SetBaseURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	c.baseURL = parsed
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, payload any) ([]byte, error) {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + endpoint
	if query != nil {
		u.RawQuery = query.Encode()
	}
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding request body failed: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Datetime-Format", "RFC3339")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrConnectivity, method, endpoint, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response of %s: %v", ErrConnectivity, endpoint, err)
	}
	if resp.StatusCode >= 300 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Endpoint:   endpoint,
			Message:    gjson.GetBytes(raw, "errorMessage").String(),
		}
	}
	return raw, nil
}

// AccountSummary 是 /v3/accounts/{id} 的精简视图。
type AccountSummary struct {
	ID            string
	Currency      string
	Balance       float64
	MarginRate    float64
	OpenPositions int
}

// ValidateConnection issues a lightweight account-info call. A successful
// round trip proves both credentials and connectivity.
func (c *Client) ValidateConnection(ctx context.Context) (AccountSummary, error) {
	summary, err := c.GetAccountInfo(ctx)
	if err != nil {
		return AccountSummary{}, err
	}
	logger.Infof("connection validated: account=%s currency=%s balance=%.2f",
		summary.ID, summary.Currency, summary.Balance)
	return summary, nil
}

// GetAccountInfo 拉取账户详情。
func (c *Client) GetAccountInfo(ctx context.Context) (AccountSummary, error) {
	raw, err := c.do(ctx, http.MethodGet, "/v3/accounts/"+c.accountID, nil, nil)
	if err != nil {
		return AccountSummary{}, err
	}
	acc := gjson.GetBytes(raw, "account")
	if !acc.Exists() {
		return AccountSummary{}, &APIError{StatusCode: http.StatusBadRequest, Endpoint: "/v3/accounts", Message: "response missing account"}
	}
	return AccountSummary{
		ID:            acc.Get("id").String(),
		Currency:      acc.Get("currency").String(),
		Balance:       acc.Get("balance").Float(),
		MarginRate:    acc.Get("marginRate").Float(),
		OpenPositions: int(acc.Get("openPositionCount").Int()),
	}, nil
}

// GetInstruments 返回账户可交易的 instrument 名称列表。
func (c *Client) GetInstruments(ctx context.Context) ([]string, error) {
	raw, err := c.do(ctx, http.MethodGet, "/v3/accounts/"+c.accountID+"/instruments", nil, nil)
	if err != nil {
		return nil, err
	}
	var names []string
	gjson.GetBytes(raw, "instruments").ForEach(func(_, item gjson.Result) bool {
		if name := item.Get("name").String(); name != "" {
			names = append(names, name)
		}
		return true
	})
	return names, nil
}

// InstrumentDetails 是单个 instrument 的交易属性。
type InstrumentDetails struct {
	Name             string
	DisplayName      string
	Type             string
	PipLocation      int
	DisplayPrecision int
	MarginRate       float64
}

// GetInstrumentDetails 查询单个 instrument；不存在时返回 ErrInvalidRequest。
func (c *Client) GetInstrumentDetails(ctx context.Context, instrument string) (InstrumentDetails, error) {
	raw, err := c.do(ctx, http.MethodGet, "/v3/accounts/"+c.accountID+"/instruments", nil, nil)
	if err != nil {
		return InstrumentDetails{}, err
	}
	var found *InstrumentDetails
	gjson.GetBytes(raw, "instruments").ForEach(func(_, item gjson.Result) bool {
		if item.Get("name").String() != instrument {
			return true
		}
		found = &InstrumentDetails{
			Name:             instrument,
			DisplayName:      item.Get("displayName").String(),
			Type:             item.Get("type").String(),
			PipLocation:      int(item.Get("pipLocation").Int()),
			DisplayPrecision: int(item.Get("displayPrecision").Int()),
			MarginRate:       item.Get("marginRate").Float(),
		}
		return false
	})
	if found == nil {
		return InstrumentDetails{}, fmt.Errorf("%w: instrument %s not available", ErrInvalidRequest, instrument)
	}
	return *found, nil
}

// CandleParams 描述一次 K 线请求。From/To 与 Count 互斥时以服务端规则为准。
type CandleParams struct {
	Granularity market.Granularity
	From        time.Time
	To          time.Time
	Count       int
	// Price: M(mid)/B(bid)/A(ask)，默认 M。
	Price string
}

// GetCandles 拉取单页 K 线（服务端上限 5000 根）。
func (c *Client) GetCandles(ctx context.Context, instrument string, p CandleParams) ([]market.Candle, error) {
	if instrument == "" {
		return nil, fmt.Errorf("%w: instrument cannot be empty", ErrInvalidRequest)
	}
	price := p.Price
	if price == "" {
		price = "M"
	}
	q := url.Values{}
	q.Set("granularity", p.Granularity.String())
	q.Set("price", price)
	if !p.From.IsZero() {
		q.Set("from", p.From.UTC().Format(datetimeLayout))
	}
	if !p.To.IsZero() {
		q.Set("to", p.To.UTC().Format(datetimeLayout))
	}
	if p.Count > 0 {
		q.Set("count", fmt.Sprintf("%d", p.Count))
	}
	raw, err := c.do(ctx, http.MethodGet, "/v3/instruments/"+instrument+"/candles", q, nil)
	if err != nil {
		return nil, err
	}
	return parseCandles(raw, price)
}

func parseCandles(raw []byte, price string) ([]market.Candle, error) {
	items := gjson.GetBytes(raw, "candles").Array()
	out := make([]market.Candle, 0, len(items))
	var parseErr error
	for _, item := range items {
		prices := item.Get(priceKey(price))
		if !prices.Exists() {
			// 服务端未按请求的价格类型返回时退回 mid。
			prices = item.Get("mid")
			if !prices.Exists() {
				continue
			}
		}
		ts, err := time.Parse(time.RFC3339Nano, item.Get("time").String())
		if err != nil {
			parseErr = fmt.Errorf("parsing candle time %q failed: %w", item.Get("time").String(), err)
			break
		}
		out = append(out, market.Candle{
			Time:     ts.UTC(),
			Open:     prices.Get("o").Float(),
			High:     prices.Get("h").Float(),
			Low:      prices.Get("l").Float(),
			Close:    prices.Get("c").Float(),
			Volume:   item.Get("volume").Int(),
			Complete: item.Get("complete").Bool(),
		})
	}
	if parseErr != nil {
		return nil, parseErr
	}
	return out, nil
}

func priceKey(price string) string {
	switch {
	case strings.Contains(price, "M"):
		return "mid"
	case strings.Contains(price, "B"):
		return "bid"
	case strings.Contains(price, "A"):
		return "ask"
	default:
		return "mid"
	}
}

// OpenPosition 是账户当前持仓的多空单位数。
type OpenPosition struct {
	Instrument string
	LongUnits  int64
	ShortUnits int64
}

// GetOpenPositions 返回账户全部未平仓头寸。
func (c *Client) GetOpenPositions(ctx context.Context) ([]OpenPosition, error) {
	raw, err := c.do(ctx, http.MethodGet, "/v3/accounts/"+c.accountID+"/openPositions", nil, nil)
	if err != nil {
		return nil, err
	}
	var out []OpenPosition
	gjson.GetBytes(raw, "positions").ForEach(func(_, item gjson.Result) bool {
		out = append(out, OpenPosition{
			Instrument: item.Get("instrument").String(),
			LongUnits:  item.Get("long.units").Int(),
			ShortUnits: item.Get("short.units").Int(),
		})
		return true
	})
	return out, nil
}

// OrderRequest 描述一笔带止损/止盈的市价单。Units 为正表示买入。
type OrderRequest struct {
	Instrument string
	Units      int64
	StopLoss   float64
	TakeProfit float64
	// Precision 是价格的小数位数，默认 5（JPY 对通常为 3）。
	Precision int
}

// PlaceMarketOrder 以 FOK 市价单开仓并附带 GTC 止损/止盈。
// 返回成交事务 ID。
func (c *Client) PlaceMarketOrder(ctx context.Context, req OrderRequest) (string, error) {
	if req.Units == 0 {
		return "", fmt.Errorf("%w: order units cannot be zero", ErrInvalidRequest)
	}
	precision := req.Precision
	if precision <= 0 {
		precision = 5
	}
	body := map[string]any{
		"order": map[string]any{
			"type":        "MARKET",
			"instrument":  req.Instrument,
			"units":       fmt.Sprintf("%d", req.Units),
			"timeInForce": "FOK",
			"stopLossOnFill": map[string]string{
				"price":       formatPrice(req.StopLoss, precision),
				"timeInForce": "GTC",
			},
			"takeProfitOnFill": map[string]string{
				"price":       formatPrice(req.TakeProfit, precision),
				"timeInForce": "GTC",
			},
		},
	}
	raw, err := c.do(ctx, http.MethodPost, "/v3/accounts/"+c.accountID+"/orders", nil, body)
	if err != nil {
		return "", err
	}
	id := gjson.GetBytes(raw, "orderFillTransaction.id").String()
	if id == "" {
		id = gjson.GetBytes(raw, "orderCreateTransaction.id").String()
	}
	logger.Infof("market order placed: %s %d units (txn=%s)", req.Instrument, req.Units, id)
	return id, nil
}

// ClosePosition 平掉指定 instrument 的全部多头和/或空头。
func (c *Client) ClosePosition(ctx context.Context, instrument string, closeLong, closeShort bool) error {
	body := map[string]any{}
	if closeLong {
		body["longUnits"] = "ALL"
	}
	if closeShort {
		body["shortUnits"] = "ALL"
	}
	if len(body) == 0 {
		return fmt.Errorf("%w: nothing to close for %s", ErrInvalidRequest, instrument)
	}
	endpoint := "/v3/accounts/" + c.accountID + "/positions/" + instrument + "/close"
	if _, err := c.do(ctx, http.MethodPut, endpoint, nil, body); err != nil {
		return err
	}
	logger.Infof("position closed: %s (long=%v short=%v)", instrument, closeLong, closeShort)
	return nil
}

func formatPrice(v float64, precision int) string {
	return fmt.Sprintf("%.*f", precision, v)
}
