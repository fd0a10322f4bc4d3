package domain

import "fmt"

// CallCategory classifies a failed provider invocation. The row loop branches
// on these only; provider-specific detail stays inside CallFailure metadata.
type CallCategory string

const (
	CategoryAuth            CallCategory = "AUTH_ERROR"
	CategoryQuota           CallCategory = "QUOTA_EXCEEDED"
	CategoryContentFiltered CallCategory = "CONTENT_FILTERED"
	CategoryRateLimit       CallCategory = "RATE_LIMIT"
	CategoryTimeout         CallCategory = "TIMEOUT"
	CategoryNetwork         CallCategory = "NETWORK_ERROR"
	CategoryServer          CallCategory = "SERVER_ERROR"
	CategoryMalformed       CallCategory = "MALFORMED_RESPONSE"
	CategoryUnknown         CallCategory = "UNKNOWN"
)

// Critical reports whether the category triggers an auto-pause of the job.
func (c CallCategory) Critical() bool {
	switch c {
	case CategoryAuth, CategoryQuota, CategoryContentFiltered:
		return true
	}
	return false
}

// Transient reports whether the provider client retries the category
// internally before surfacing the failure.
func (c CallCategory) Transient() bool {
	switch c {
	case CategoryTimeout, CategoryNetwork, CategoryRateLimit, CategoryServer:
		return true
	}
	return false
}

// CallFailure is the failure variant of a provider call result. It implements
// error so adapters return (content, error) in the usual shape; callers
// recover the category with AsCallFailure.
type CallFailure struct {
	Category         CallCategory
	UserMessage      string
	TechnicalMessage string
	Metadata         map[string]string
}

func (f *CallFailure) Error() string {
	return fmt.Sprintf("provider call failed: category=%s: %s", f.Category, f.TechnicalMessage)
}

// AsCallFailure unwraps err into a CallFailure. Errors that are not
// CallFailures map to CategoryUnknown so the loop always has a category to
// act on.
func AsCallFailure(err error) *CallFailure {
	if err == nil {
		return nil
	}
	if f, ok := err.(*CallFailure); ok { //nolint:errorlint
		return f
	}
	return &CallFailure{Category: CategoryUnknown, UserMessage: "unexpected provider error", TechnicalMessage: err.Error()}
}

// CallOptions are the recognized per-call knobs.
type CallOptions struct {
	TimeoutMs   int
	MaxTokens   int
	Temperature float64
	MaxRetries  int
}

// GenerateRequest is one provider invocation.
type GenerateRequest struct {
	Provider   string
	ModelID    string
	SystemText string
	UserText   string
	Options    CallOptions
}

// ProviderClient (port) executes a single model invocation. A nil error means
// success with content; a non-nil error is categorized via AsCallFailure.
type ProviderClient interface {
	Generate(ctx Context, req GenerateRequest) (string, error)
}
