package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrDisallowed URL запрещён robots.txt; повторять запрос бессмысленно
var ErrDisallowed = errors.New("disallowed by robots.txt")

// Виды транспортных ошибок, используются как метки метрик
const (
	KindTimeout     = "timeout"
	KindConnection  = "connection"
	KindForbidden   = "forbidden"
	KindNotFound    = "not_found"
	KindRateLimited = "rate_limited"
	KindServer      = "server"
	KindStatus      = "status"
	KindDecode      = "decode"
	KindDisallowed  = "disallowed"
	KindOther       = "other"
)

// TransportError ошибка сети, таймаут или ответ не 2xx
type TransportError struct {
	Kind       string
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s: status %d", e.Kind, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// statusError классифицирует ответ по коду статуса
func statusError(urlStr string, status int) *TransportError {
	kind := KindStatus
	switch {
	case status == http.StatusForbidden:
		kind = KindForbidden
	case status == http.StatusNotFound:
		kind = KindNotFound
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status >= 500:
		kind = KindServer
	}
	return &TransportError{Kind: kind, URL: urlStr, StatusCode: status}
}

// requestError классифицирует ошибку http.Client.Do
func requestError(urlStr string, err error) *TransportError {
	kind := KindConnection
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = KindTimeout
	}
	return &TransportError{Kind: kind, URL: urlStr, Err: err}
}

// ErrorKind метка ошибки для логов и метрик
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrDisallowed) {
		return KindDisallowed
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindOther
}

// IsRetryable можно ли повторить запрос после этой ошибки
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrDisallowed) || errors.Is(err, context.Canceled) {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) && te.Kind == KindDecode {
		return false
	}
	return true
}
