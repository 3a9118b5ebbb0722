package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/RichardoC/Pad-i/internal/models"
)

var (
	// ErrNotConfigured is returned by a back end whose credentials or address are missing.
	ErrNotConfigured = errors.New("llm: backend not configured")
	// ErrBackendUnavailable wraps every failed attempt recorded by Service.Respond.
	ErrBackendUnavailable = errors.New("llm: backend unavailable")
	// ErrEmptyResponse is returned when a back end answers with no text.
	ErrEmptyResponse = errors.New("llm: empty response")
)

// GenerationParams are forwarded to every back end with each request.
type GenerationParams struct {
	MaxLength   int
	Temperature float64
	TopP        float64
}

func DefaultGenerationParams() GenerationParams {
	return GenerationParams{MaxLength: 512, Temperature: 0.7, TopP: 0.9}
}

// Backend is one inference provider in the fallback chain. Attempt makes a
// single request; the caller bounds it with ctx.
type Backend interface {
	Name() string
	Available() bool
	Attempt(ctx context.Context, window []models.ChatMessage, newMessage string, params GenerationParams) (string, error)
}

// HTTPStatusError captures non-2xx responses from HTTP back ends.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("llm: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

type FailureClass string

const (
	FailureTimeout       FailureClass = "timeout"
	FailureConnection    FailureClass = "connection"
	FailureStatus        FailureClass = "status"
	FailureEmptyResponse FailureClass = "empty_response"
	FailureOther         FailureClass = "error"
)

// classify maps an attempt error onto the class logged and counted for it.
func classify(err error) FailureClass {
	var statusErr *HTTPStatusError
	var providerErr *llms.Error
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case errors.Is(err, ErrEmptyResponse):
		return FailureEmptyResponse
	case errors.As(err, &statusErr):
		return FailureStatus
	case errors.As(err, &providerErr):
		return classifyProvider(providerErr)
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			return FailureTimeout
		}
		return FailureConnection
	default:
		return FailureOther
	}
}

func classifyProvider(e *llms.Error) FailureClass {
	if _, ok := e.Details[detailStatusCode]; ok {
		return FailureStatus
	}
	switch e.Code {
	case llms.ErrCodeTimeout:
		return FailureTimeout
	case llms.ErrCodeProviderUnavailable:
		return FailureConnection
	case llms.ErrCodeRateLimit, llms.ErrCodeAuthentication, llms.ErrCodeInvalidRequest,
		llms.ErrCodeQuotaExceeded, llms.ErrCodeResourceNotFound, llms.ErrCodeTokenLimit,
		llms.ErrCodeContentFilter:
		return FailureStatus
	default:
		return FailureOther
	}
}

const detailStatusCode = "status_code"

// langchaingo clients report HTTP failures as text, e.g.
// "API returned unexpected status code: 500: overloaded".
var statusCodePattern = regexp.MustCompile(`status code:? (\d{3})`)

// mapProviderError turns a langchaingo client error into an *llms.Error.
// Non-2xx replies carry the status code in Details.
func mapProviderError(provider string, err error) error {
	if err == nil {
		return nil
	}
	var providerErr *llms.Error
	if errors.As(err, &providerErr) {
		return err
	}
	if m := statusCodePattern.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		return llms.NewError(statusErrorCode(code), provider, err.Error()).
			WithDetail(detailStatusCode, code).
			WithCause(err)
	}
	return providerErrorMapper(provider).Map(err)
}

func statusErrorCode(status int) llms.ErrorCode {
	switch {
	case status == 401 || status == 403:
		return llms.ErrCodeAuthentication
	case status == 404:
		return llms.ErrCodeResourceNotFound
	case status == 429:
		return llms.ErrCodeRateLimit
	case status >= 500:
		return llms.ErrCodeProviderUnavailable
	case status >= 400:
		return llms.ErrCodeInvalidRequest
	default:
		return llms.ErrCodeUnknown
	}
}

// providerErrorMapper extends the default mapper with the messages the
// clients substitute for transport errors.
func providerErrorMapper(provider string) *llms.ErrorMapper {
	return llms.NewErrorMapper(provider).
		AddMatcher(llms.ErrorMatcher{
			Match: func(err error) bool {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return false
				}
				var netErr net.Error
				if errors.As(err, &netErr) {
					return !netErr.Timeout()
				}
				return containsAny(err.Error(), "network error", "connection refused", "connection reset", "no such host")
			},
			Code: llms.ErrCodeProviderUnavailable,
		}).
		AddMatcher(llms.ErrorMatcher{
			Match: func(err error) bool {
				return containsAny(err.Error(), "request timeout")
			},
			Code: llms.ErrCodeTimeout,
		})
}

func containsAny(s string, substrs ...string) bool {
	s = strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
