package errno

import "errors"

// Errno is the externally visible error shape: a JSON-RPC code plus a fixed message.
// An optional cause is kept for logging and never leaves the process.
type Errno struct {
	Code    int
	Message string

	cause error
}

func (e *Errno) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

// Unwrap exposes the internal cause to errors.Is / errors.As
func (e *Errno) Unwrap() error {
	return e.cause
}

// Is matches on code and message so wrapped copies compare equal to the sentinel
func (e *Errno) Is(target error) bool {
	t, ok := target.(*Errno)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// WithCause returns a copy of e carrying cause for diagnostics
func (e *Errno) WithCause(cause error) *Errno {
	return &Errno{Code: e.Code, Message: e.Message, cause: cause}
}

// Decode converts any error to (code, message).
// Unknown errors collapse to InternalServerError so internal detail is never exposed.
func Decode(err error) (int, string) {
	if err == nil {
		return OK.Code, OK.Message
	}

	var typed *Errno
	if errors.As(err, &typed) {
		return typed.Code, typed.Message
	}
	return InternalServerError.Code, InternalServerError.Message
}

// JSON-RPC 2.0 标准错误码
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
	// CodeServer 为应用自定义错误, 仅通过 Message 区分
	CodeServer = -32000
)

// Common Errors
// InternalServerError 使用标准的 -32603, 不与 -32000 的网关错误共用错误码
var (
	OK                  = &Errno{Code: 0, Message: "Success"}
	InternalServerError = &Errno{Code: CodeInternal, Message: "Internal server error"}
	ErrParse            = &Errno{Code: CodeParseError, Message: "Parse error"}
	ErrMethodNotFound   = &Errno{Code: CodeMethodNotFound, Message: "Method not found"}
	ErrInvalidParams    = &Errno{Code: CodeInvalidParams, Message: "Invalid params"}
	ErrConfiguration    = &Errno{Code: CodeServer, Message: "Server error"}
)

// Gateway Errors (-32000, distinguished by message)
var (
	ErrAuthRequired           = &Errno{Code: CodeServer, Message: "API key and secret required"}
	ErrAuthInvalid            = &Errno{Code: CodeServer, Message: "Invalid API key and/or secret"}
	ErrRateLimited            = &Errno{Code: CodeServer, Message: "Rate limit exceeded"}
	ErrChainIDRequired        = &Errno{Code: CodeServer, Message: "Chain id required"}
	ErrChainUnsupported       = &Errno{Code: CodeServer, Message: "Chain id not supported"}
	ErrAddressNotWhitelisted  = &Errno{Code: CodeServer, Message: "Address not whitelisted"}
	ErrMaxFeePerGasTooHigh    = &Errno{Code: CodeServer, Message: "Max fee per gas too high"}
	ErrUpstream               = &Errno{Code: CodeServer, Message: "Upstream request failed"}
	ErrUnsupportedBroadcaster = &Errno{Code: CodeServer, Message: "Broadcast channel not supported"}
)
