// Package gatewayerr is the error taxonomy of spec §7: every error that can
// reach a client is a typed *GatewayError so dialect renderers can switch on
// Kind instead of string-matching, grounded on the teacher's
// relay/errors.go pattern-table approach generalized to three outbound
// shapes instead of one.
package gatewayerr

import (
	"fmt"
	"strings"
)

type Kind string

const (
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindUpstream   Kind = "upstream"
	KindRateLimit  Kind = "rate_limit"
	KindCancelled  Kind = "cancelled"
	KindInternal   Kind = "internal"
)

// GatewayError is the single error shape every component raises; Status is
// the HTTP status the client should see, UpstreamBody carries the raw
// upstream response body for Upstream-kind errors (§7's context-overflow
// message-includes-upstream-detail rule).
type GatewayError struct {
	Kind         Kind
	Status       int
	Message      string
	UpstreamBody string
}

func (e *GatewayError) Error() string {
	if e.UpstreamBody != "" {
		return fmt.Sprintf("%s: %s (upstream: %s)", e.Kind, e.Message, e.UpstreamBody)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func NewValidationError(message string) *GatewayError {
	return &GatewayError{Kind: KindValidation, Status: 400, Message: message}
}

func NewAuthError(message string) *GatewayError {
	return &GatewayError{Kind: KindAuth, Status: 401, Message: message}
}

func NewPermissionError(message string) *GatewayError {
	return &GatewayError{Kind: KindAuth, Status: 403, Message: message}
}

func NewUpstreamError(status int, message, upstreamBody string) *GatewayError {
	return &GatewayError{Kind: KindUpstream, Status: status, Message: message, UpstreamBody: upstreamBody}
}

func NewRateLimitError(message string) *GatewayError {
	return &GatewayError{Kind: KindRateLimit, Status: 429, Message: message}
}

func NewCancelledError() *GatewayError {
	return &GatewayError{Kind: KindCancelled, Status: 499, Message: "request cancelled"}
}

func NewInternalError(message string) *GatewayError {
	return &GatewayError{Kind: KindInternal, Status: 500, Message: message}
}

func NewNotFoundError(message string) *GatewayError {
	return &GatewayError{Kind: KindValidation, Status: 404, Message: message}
}

func NewPayloadTooLargeError(message string) *GatewayError {
	return &GatewayError{Kind: KindValidation, Status: 413, Message: message}
}

// contextOverflowSubstring is the upstream 403 body marker that bifurcates
// "user error, account untouched" from "disable the account", per §4.4/§7.
const contextOverflowSubstring = "exceeded model max context"

// IsContextOverflow reports whether a 403 body indicates the request (not
// the account) is at fault.
func IsContextOverflow(body string) bool {
	return strings.Contains(body, contextOverflowSubstring)
}

// quotaExhaustedSubstring is the upstream's reason marker for a 403 caused
// by a per-account quota running out, rather than an invalid credential.
const quotaExhaustedSubstring = "QUOTA_EXHAUSTED"

// IsQuotaExhausted reports whether a 403 body indicates the acquired
// account's quota, not its credential, is at fault; the Dispatcher routes
// this to Pool.MarkQuotaExhausted instead of Pool.Disable, per §4.1/§4.4.
func IsQuotaExhausted(body string) bool {
	return strings.Contains(body, quotaExhaustedSubstring)
}
