// Package domain provides the failure vocabulary shared by every path that
// surfaces an upstream error to a client.
package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
)

// ErrorType represents the category of an upstream failure.
type ErrorType string

const (
	// ErrorTypeAuthentication indicates the upstream rejected the credentials.
	ErrorTypeAuthentication ErrorType = "authentication"

	// ErrorTypeRateLimit indicates the upstream throttled the request.
	ErrorTypeRateLimit ErrorType = "rate_limit"

	// ErrorTypeInvalidRequest indicates the upstream rejected the parameters.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeTimeout indicates the upstream did not answer in time.
	ErrorTypeTimeout ErrorType = "timeout"

	// ErrorTypeUnavailable indicates a connection failure or 5xx from upstream.
	ErrorTypeUnavailable ErrorType = "unavailable"

	// ErrorTypeUnknown is everything else.
	ErrorTypeUnknown ErrorType = "unknown"
)

type canonicalFailure struct {
	status  int
	message string
}

// canonicalFailures holds the client-visible wording for each error type.
// Raw upstream text never reaches the client.
var canonicalFailures = map[ErrorType]canonicalFailure{
	ErrorTypeAuthentication: {http.StatusUnauthorized, "Invalid API key. Please check your API key configuration."},
	ErrorTypeRateLimit:      {http.StatusTooManyRequests, "Rate limit exceeded. Please wait and try again."},
	ErrorTypeInvalidRequest: {http.StatusBadRequest, "Invalid request. Please check your request parameters."},
	ErrorTypeTimeout:        {http.StatusGatewayTimeout, "The upstream provider timed out. Please try again."},
	ErrorTypeUnavailable:    {http.StatusServiceUnavailable, "The upstream provider is temporarily unavailable. Please try again later."},
	ErrorTypeUnknown:        {http.StatusInternalServerError, "An unexpected error occurred while contacting the upstream provider."},
}

// APIError is a classified upstream failure.
type APIError struct {
	// Type is the category of error
	Type ErrorType

	// Message is the canonical, client-visible message for Type
	Message string

	// StatusCode is the HTTP status returned to the client
	StatusCode int

	// Cause is the raw error, kept for logs only
	Cause error
}

// NewAPIError creates an APIError carrying the canonical status and message for errType.
func NewAPIError(errType ErrorType, cause error) *APIError {
	c, ok := canonicalFailures[errType]
	if !ok {
		errType = ErrorTypeUnknown
		c = canonicalFailures[ErrorTypeUnknown]
	}
	return &APIError{
		Type:       errType,
		Message:    c.message,
		StatusCode: c.status,
		Cause:      cause,
	}
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Type, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Cause
}

// HTTPStatusCode returns the HTTP status code for this error.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	return canonicalFailures[ErrorTypeUnknown].status
}

// Transient reports whether a fresh attempt may succeed.
func (e *APIError) Transient() bool {
	switch e.Type {
	case ErrorTypeTimeout, ErrorTypeUnavailable, ErrorTypeRateLimit:
		return true
	default:
		return false
	}
}

type failurePattern struct {
	errType ErrorType
	re      *regexp.Regexp
}

// failurePatterns is evaluated in order against lowercased error text.
var failurePatterns = []failurePattern{
	{ErrorTypeAuthentication, regexp.MustCompile(`\b(401|403)\b|invalid[ _-]?api[ _-]?key|incorrect api key|unauthori[sz]ed|authentication|permission denied`)},
	{ErrorTypeRateLimit, regexp.MustCompile(`\b429\b|rate[ _-]?limit|too many requests|quota`)},
	{ErrorTypeInvalidRequest, regexp.MustCompile(`\b(400|404|413|422)\b|invalid[ _-]request|bad request|context[ _-]length|model[ _-]not[ _-]found|does not exist`)},
	{ErrorTypeTimeout, regexp.MustCompile(`\b(408|504)\b|timeout|timed out|deadline exceeded`)},
	{ErrorTypeUnavailable, regexp.MustCompile(`\b(500|502|503)\b|service unavailable|bad gateway|overloaded|server error|connection (refused|reset)|no such host|\beof\b`)},
}

// ClassifyText maps raw upstream error text to an ErrorType.
func ClassifyText(raw string) ErrorType {
	lower := strings.ToLower(raw)
	for _, p := range failurePatterns {
		if p.re.MatchString(lower) {
			return p.errType
		}
	}
	return ErrorTypeUnknown
}

// ClassifyFailure maps raw upstream error text to the client status code and
// canonical message.
func ClassifyFailure(raw string) (int, string) {
	c := canonicalFailures[ClassifyText(raw)]
	return c.status, c.message
}

// statusCoder is implemented by upstream HTTP errors that know their status.
type statusCoder interface {
	HTTPStatus() int
}

// Classify converts any error into an APIError. Typed signals (HTTP status,
// deadlines, network timeouts) win over text matching.
func Classify(err error) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		if t := typeForStatus(sc.HTTPStatus()); t != "" {
			return NewAPIError(t, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewAPIError(ErrorTypeTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewAPIError(ErrorTypeTimeout, err)
	}

	return NewAPIError(ClassifyText(err.Error()), err)
}

func typeForStatus(status int) ErrorType {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ErrorTypeAuthentication
	case status == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return ErrorTypeTimeout
	case status >= 500:
		return ErrorTypeUnavailable
	case status >= 400:
		return ErrorTypeInvalidRequest
	default:
		return ""
	}
}
