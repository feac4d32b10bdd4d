package oanda

import (
	"errors"
	"fmt"
	"net/http"
)

// 错误分类：调用方用 errors.Is 判断，不解析文本。
var (
	// ErrAuth 凭证缺失/占位/被服务端拒绝，不可重试。
	ErrAuth = errors.New("oanda: authentication failed")
	// ErrConnectivity 网络或超时问题，由调用方决定是否重新发起。
	ErrConnectivity = errors.New("oanda: connectivity error")
	// ErrRateLimited 被服务端限流。
	ErrRateLimited = errors.New("oanda: rate limited")
	// ErrInvalidRequest 请求参数（instrument/granularity/区间）被服务端拒绝。
	ErrInvalidRequest = errors.New("oanda: invalid request")
)

// APIError 携带单次失败请求的上下文，Unwrap 到上面的分类哨兵。
type APIError struct {
	StatusCode int
	Endpoint   string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("oanda: %s returned %d: %s", e.Endpoint, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("oanda: %s returned %d", e.Endpoint, e.StatusCode)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuth
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusBadRequest, http.StatusNotFound, http.StatusMethodNotAllowed:
		return ErrInvalidRequest
	default:
		return ErrConnectivity
	}
}
