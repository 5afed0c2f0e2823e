package research

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
)

// IsRateLimitError reports whether err is a transient rate limit.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests && apiErr.Code != "insufficient_quota"
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "429") || strings.Contains(s, "rate limit") || strings.Contains(s, "too many requests")
}

// IsQuotaError reports whether err means the account ran out of quota.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == "insufficient_quota"
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "insufficient_quota") || strings.Contains(s, "billing")
}

// Cause gives a short human label for a failed model call.
func Cause(err error) string {
	switch {
	case IsQuotaError(err):
		return "quota exceeded"
	case IsRateLimitError(err):
		return "rate limited"
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out"
	default:
		return "request failed"
	}
}
