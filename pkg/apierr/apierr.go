// Package apierr provides the JSON error envelope returned by every JetVein
// API endpoint:
//
//	{"error": "<message>", "code": "<CODE>", "details": [...], "message": "<hint>"}
//
// details and message are omitted when empty.
package apierr

import (
	"strconv"

	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"
)

// Code constants.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeInvalidJSON        = "INVALID_JSON"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	CodeUserExists         = "USER_EXISTS"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeNotFound           = "NOT_FOUND"
	CodeConfig             = "CONFIG_ERROR"
	CodeStoreUnavailable   = "STORE_UNAVAILABLE"
	CodeUpstream           = "UPSTREAM_ERROR"
	CodeInternal           = "INTERNAL_ERROR"
)

// APIError is the structured error returned to clients.
type APIError struct {
	Error   string   `json:"error"`
	Code    string   `json:"code"`
	Details []string `json:"details,omitempty"`
	Message string   `json:"message,omitempty"`
}

// Write writes the error as JSON to the fasthttp response with the given HTTP status.
func Write(ctx *fasthttp.RequestCtx, status int, message, code string) {
	WriteError(ctx, status, APIError{Error: message, Code: code})
}

// WriteError writes a fully populated envelope.
func WriteError(ctx *fasthttp.RequestCtx, status int, e APIError) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(e)
	ctx.SetBody(body)
}

// WriteValidation writes a 400 with the first message as the error text and
// all messages as details.
func WriteValidation(ctx *fasthttp.RequestCtx, messages []string) {
	msg := "Invalid input"
	if len(messages) > 0 {
		msg = messages[0]
	}
	WriteError(ctx, fasthttp.StatusBadRequest, APIError{
		Error:   msg,
		Code:    CodeValidation,
		Details: messages,
	})
}

// WriteRateLimit writes a 429 with Retry-After set to retryAfter seconds.
func WriteRateLimit(ctx *fasthttp.RequestCtx, retryAfter int) {
	if retryAfter < 1 {
		retryAfter = 1
	}
	ctx.Response.Header.Set("Retry-After", strconv.Itoa(retryAfter))
	WriteError(ctx, fasthttp.StatusTooManyRequests, APIError{
		Error:   "Too many requests",
		Code:    CodeRateLimitExceeded,
		Message: "Please try again later",
	})
}

// WriteUnauthorized writes a 401.
func WriteUnauthorized(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusUnauthorized, "Unauthorized", CodeUnauthorized)
}

// WriteInternal writes a 500 without leaking the underlying cause.
func WriteInternal(ctx *fasthttp.RequestCtx) {
	WriteError(ctx, fasthttp.StatusInternalServerError, APIError{
		Error:   "Internal server error",
		Code:    CodeInternal,
		Message: "Please try again later",
	})
}
