package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrorKind classifies a provider failure. Adapters assign the kind while
// parsing the vendor response; nothing downstream re-parses error text.
type ErrorKind int

const (
	// KindProvider is the unclassified root kind.
	KindProvider ErrorKind = iota
	// KindAuthentication marks an invalid or missing credential. Never
	// retried and never recovered by failover.
	KindAuthentication
	// KindRateLimit marks HTTP 429. Recoverable by trying another
	// provider, not by an immediate retry of the same one.
	KindRateLimit
	// KindUnavailable marks connectivity failures, timeouts and 502/503/504.
	KindUnavailable
	// KindGeneration marks content-safety blocks and malformed vendor
	// responses.
	KindGeneration
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindRateLimit:
		return "rate_limit"
	case KindUnavailable:
		return "unavailable"
	case KindGeneration:
		return "generation"
	default:
		return "provider"
	}
}

// ProviderError is the root error for every provider failure. Subordinate
// kinds (authentication, rate limit, unavailable, generation) are carried
// on the Kind field rather than as separate types, so a single errors.As
// reaches every variant.
type ProviderError struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	RetryAfter time.Duration
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(e.Provider)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError returns an unclassified provider failure.
func NewProviderError(provider, message string) *ProviderError {
	return &ProviderError{Provider: provider, Kind: KindProvider, Message: message}
}

// NewAuthenticationError reports an invalid or missing credential.
func NewAuthenticationError(provider, message string) *ProviderError {
	return &ProviderError{Provider: provider, Kind: KindAuthentication, Message: message}
}

// NewRateLimitError reports HTTP 429, carrying the vendor's retry-after
// hint when one was present.
func NewRateLimitError(provider string, retryAfter time.Duration) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Kind:       KindRateLimit,
		StatusCode: http.StatusTooManyRequests,
		RetryAfter: retryAfter,
		Message:    "rate limit exceeded",
	}
}

// NewUnavailableError reports a connectivity failure, timeout or gateway
// error.
func NewUnavailableError(provider, message string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: KindUnavailable, Message: message, Err: err}
}

// NewGenerationError reports a content-safety block or a malformed vendor
// response.
func NewGenerationError(provider, message string) *ProviderError {
	return &ProviderError{Provider: provider, Kind: KindGeneration, Message: message}
}

// Terminal routing errors. These carry no provider and are never
// recovered by further failover.
var (
	ErrNoProvidersConfigured = &ProviderError{Message: "No providers configured"}
	ErrNoProvidersAvailable  = &ProviderError{Message: "No providers available"}
	ErrNoEligibleProviders   = &ProviderError{Message: "No providers meet request requirements"}
)

// NewAllFailedError is the terminal coordinator error, wrapping the last
// provider failure seen.
func NewAllFailedError(lastErr error) *ProviderError {
	return &ProviderError{Message: "All providers failed", Err: lastErr}
}

// AsProviderError unwraps err to the root provider error, if any.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

func kindOf(err error) ErrorKind {
	if pe, ok := AsProviderError(err); ok {
		return pe.Kind
	}
	return KindProvider
}

// IsAuthenticationError reports whether err is a credential failure.
func IsAuthenticationError(err error) bool { return kindOf(err) == KindAuthentication }

// IsRateLimitError reports whether err is a rate-limit rejection.
func IsRateLimitError(err error) bool { return kindOf(err) == KindRateLimit }

// IsUnavailableError reports whether err is a connectivity or gateway
// failure.
func IsUnavailableError(err error) bool { return kindOf(err) == KindUnavailable }

// IsGenerationError reports whether err is a safety block or malformed
// response.
func IsGenerationError(err error) bool { return kindOf(err) == KindGeneration }

// ClassifyHTTPStatus maps a non-2xx vendor status onto an error kind.
func ClassifyHTTPStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuthentication
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusBadGateway,
		status == http.StatusServiceUnavailable,
		status == http.StatusGatewayTimeout:
		return KindUnavailable
	default:
		return KindProvider
	}
}

// NewHTTPStatusError builds the classified error for a non-2xx vendor
// response. retryAfter is consulted for 429 only.
func NewHTTPStatusError(provider string, status int, body string, retryAfter time.Duration) *ProviderError {
	kind := ClassifyHTTPStatus(status)
	msg := strings.TrimSpace(body)
	if len(msg) > 200 {
		msg = msg[:200]
	}
	switch kind {
	case KindAuthentication:
		return &ProviderError{Provider: provider, Kind: kind, StatusCode: status, Message: "authentication rejected"}
	case KindRateLimit:
		return NewRateLimitError(provider, retryAfter)
	case KindUnavailable:
		return &ProviderError{Provider: provider, Kind: kind, StatusCode: status, Message: "backend unavailable"}
	default:
		if msg == "" {
			msg = "unexpected response"
		}
		return &ProviderError{Provider: provider, Kind: kind, StatusCode: status, Message: msg}
	}
}

// ParseRetryAfter interprets a Retry-After header value, either delta
// seconds or an HTTP date. Zero means no usable hint.
func ParseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
