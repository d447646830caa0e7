package dnspod

import (
	"errors"
	"fmt"
	"strings"
)

// NetworkError is a transport failure, including a per-call timeout. It is
// expected to clear on a later cycle.
type NetworkError struct {
	Action string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("dnspod %s: network error: %v", e.Action, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPStatusError is a non-2xx response.
type HTTPStatusError struct {
	Action     string
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("dnspod %s: http status %d", e.Action, e.StatusCode)
	}
	return fmt.Sprintf("dnspod %s: http status %d: %s", e.Action, e.StatusCode, e.Body)
}

// ProviderError is a logical failure reported inside a 200 response.
type ProviderError struct {
	Action    string
	Code      string
	Message   string
	RequestID string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("dnspod %s: %s: %s (request %s)", e.Action, e.Code, e.Message, e.RequestID)
}

// SignatureError classifies provider rejections of the request signature.
type SignatureError struct {
	Err *ProviderError
}

func (e *SignatureError) Error() string {
	return "signature rejected: " + e.Err.Error()
}

func (e *SignatureError) Unwrap() error { return e.Err }

// DecodeError is a 2xx body that does not have the expected envelope shape.
type DecodeError struct {
	Action string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("dnspod %s: decode response: %v", e.Action, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DomainNotRegisteredError is returned before any mutating call when the root
// domain is not in the account's domain list.
type DomainNotRegisteredError struct {
	Domain string
}

func (e *DomainNotRegisteredError) Error() string {
	return fmt.Sprintf("domain %s is not registered with this account", e.Domain)
}

func NewDomainNotRegisteredError(domain string) *DomainNotRegisteredError {
	return &DomainNotRegisteredError{Domain: domain}
}

const (
	codeSignatureExpire  = "AuthFailure.SignatureExpire"
	codeSignatureFailure = "AuthFailure.SignatureFailure"
	codeNoDataOfRecord   = "ResourceNotFound.NoDataOfRecord"
	codeNoDataOfDomain   = "ResourceNotFound.NoDataOfDomain"
)

func classifyProviderError(pe *ProviderError) error {
	switch pe.Code {
	case codeSignatureExpire, codeSignatureFailure:
		return &SignatureError{Err: pe}
	}
	return pe
}

// IsRetryable reports whether err is expected to succeed on a later attempt
// without operator action.
func IsRetryable(err error) bool {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return true
	}
	var he *HTTPStatusError
	if errors.As(err, &he) {
		return he.StatusCode >= 500 || he.StatusCode == 429
	}
	if errors.As(err, new(*SignatureError)) {
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return strings.HasPrefix(pe.Code, "RequestLimitExceeded") || strings.HasPrefix(pe.Code, "InternalError")
	}
	return false
}

func hasProviderCode(err error, code string) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Code == code
}
