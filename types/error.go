package types

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrorCode 统一错误码
type ErrorCode string

// 请求与鉴权
const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized   ErrorCode = "UNAUTHORIZED"
	ErrForbidden      ErrorCode = "FORBIDDEN"
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrRateLimit      ErrorCode = "RATE_LIMIT"
)

// 上游服务（embedding / vector index / rerank / LLM）
const (
	ErrUpstreamError      ErrorCode = "UPSTREAM_ERROR"
	ErrUpstreamTimeout    ErrorCode = "UPSTREAM_TIMEOUT"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// 内部
const (
	ErrInternalError ErrorCode = "INTERNAL_ERROR"
	ErrStorageError  ErrorCode = "STORAGE_ERROR"
)

// Error 跨包传递的结构化错误。
// 上游适配器用 FromResponse 构造，重试器读取 Retryable 与 RetryAfter，
// HTTP 层据 Code / HTTPStatus 选择响应状态码。
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Service    string    `json:"service,omitempty"`
	// RetryAfter 上游通过 Retry-After 要求的最短等待
	RetryAfter time.Duration `json:"-"`
	Cause      error         `json:"-"`
}

func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(e.Code))
	b.WriteString("] ")
	if e.Service != "" {
		b.WriteString(e.Service)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// 链式设置，均返回接收者本身

func (e *Error) WithCause(cause error) *Error          { e.Cause = cause; return e }
func (e *Error) WithHTTPStatus(status int) *Error      { e.HTTPStatus = status; return e }
func (e *Error) WithRetryable(retryable bool) *Error   { e.Retryable = retryable; return e }
func (e *Error) WithService(service string) *Error     { e.Service = service; return e }
func (e *Error) WithRetryAfter(d time.Duration) *Error { e.RetryAfter = d; return e }

// AsError 沿错误链查找 *Error
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

func IsRetryable(err error) bool {
	e, ok := AsError(err)
	return ok && e.Retryable
}

func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// RetryAfterOf 错误链上 *Error 携带的 RetryAfter，没有时为 0
func RetryAfterOf(err error) time.Duration {
	if e, ok := AsError(err); ok {
		return e.RetryAfter
	}
	return 0
}

func NewInvalidRequestError(message string) *Error {
	return NewError(ErrInvalidRequest, message).WithHTTPStatus(http.StatusBadRequest)
}

func NewInternalError(message string) *Error {
	return NewError(ErrInternalError, message).WithHTTPStatus(http.StatusInternalServerError)
}

// NewUpstreamError 上游返回了无法使用的结果（可重试）
func NewUpstreamError(service, message string) *Error {
	return NewError(ErrUpstreamError, message).
		WithHTTPStatus(http.StatusBadGateway).
		WithRetryable(true).
		WithService(service)
}

// FromHTTPStatus 上游状态码到错误码：429、408/504、503 与其余 5xx 可重试，4xx 不可重试
func FromHTTPStatus(service string, status int, message string) *Error {
	code, retryable := ErrInvalidRequest, false
	switch {
	case status == http.StatusUnauthorized:
		code = ErrUnauthorized
	case status == http.StatusForbidden:
		code = ErrForbidden
	case status == http.StatusNotFound:
		code = ErrNotFound
	case status == http.StatusTooManyRequests:
		code, retryable = ErrRateLimit, true
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		code, retryable = ErrUpstreamTimeout, true
	case status == http.StatusServiceUnavailable:
		code, retryable = ErrServiceUnavailable, true
	case status >= http.StatusInternalServerError:
		code, retryable = ErrUpstreamError, true
	}
	return &Error{Code: code, Message: message, HTTPStatus: status, Retryable: retryable, Service: service}
}

// FromResponse 同 FromHTTPStatus，并解析 Retry-After（秒数或 HTTP 日期）
func FromResponse(service string, resp *http.Response, message string) *Error {
	e := FromHTTPStatus(service, resp.StatusCode, message)
	if e.Retryable {
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	}
	return e
}

func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
