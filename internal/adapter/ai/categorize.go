package ai

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/fairyhunter13/ai-table-enricher/internal/domain"
)

// categorizeStatus maps an HTTP status plus response body to a call category.
// Body sniffing distinguishes quota exhaustion from ordinary rate limiting:
// providers report both as 429, with the difference buried in the error code.
func categorizeStatus(status int, body string) domain.CallCategory {
	lower := strings.ToLower(body)
	switch {
	case status == 401 || status == 403:
		return domain.CategoryAuth
	case status == 402:
		return domain.CategoryQuota
	case status == 429:
		if strings.Contains(lower, "insufficient_quota") ||
			strings.Contains(lower, "quota") ||
			strings.Contains(lower, "billing") ||
			strings.Contains(lower, "exceeded your current") {
			return domain.CategoryQuota
		}
		return domain.CategoryRateLimit
	case status >= 500:
		return domain.CategoryServer
	case status == 400 && (strings.Contains(lower, "safety") ||
		strings.Contains(lower, "content_filter") ||
		strings.Contains(lower, "content management policy")):
		return domain.CategoryContentFiltered
	default:
		return domain.CategoryUnknown
	}
}

// categorizeTransportErr maps a transport-level error to a category.
func categorizeTransportErr(err error) domain.CallCategory {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.CategoryTimeout
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		if nerr.Timeout() {
			return domain.CategoryTimeout
		}
		return domain.CategoryNetwork
	}
	if strings.Contains(err.Error(), "connection refused") || strings.Contains(err.Error(), "no such host") {
		return domain.CategoryNetwork
	}
	return domain.CategoryNetwork
}

// finishCategory inspects a provider finish/stop reason for content filtering.
func finishCategory(reason string) (domain.CallCategory, bool) {
	switch strings.ToLower(reason) {
	case "content_filter", "safety", "blocklist", "prohibited_content", "refusal":
		return domain.CategoryContentFiltered, true
	}
	return "", false
}
