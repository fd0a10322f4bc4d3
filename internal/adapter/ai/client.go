// Package ai implements the provider-call port against the real LLM provider
// HTTP APIs: OpenAI and Perplexity (OpenAI-compatible chat completions),
// Anthropic (messages), and Gemini (generateContent).
//
// Transient failure categories (timeout, network, rate limit, 5xx) are
// retried internally with exponential backoff; everything else surfaces
// immediately as a categorized CallFailure. Callers never retry beyond this
// client.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/ai-table-enricher/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/ai-table-enricher/internal/adapter/observability"
	"github.com/fairyhunter13/ai-table-enricher/internal/config"
	"github.com/fairyhunter13/ai-table-enricher/internal/domain"
)

const anthropicVersion = "2023-06-01"

// Client implements domain.ProviderClient bound to one user's API keys.
type Client struct {
	cfg     config.Config
	keys    map[string]string
	hc      *http.Client
	counter *tokencount.Counter
}

// New constructs a client for the given per-provider key mapping. The HTTP
// client carries no overall timeout; each call derives its own deadline from
// CallOptions.TimeoutMs.
func New(cfg config.Config, keys map[string]string) *Client {
	return &Client{
		cfg:     cfg,
		keys:    keys,
		hc:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		counter: tokencount.DefaultCounter,
	}
}

// Generate executes one model invocation per the ProviderClient contract.
func (c *Client) Generate(ctx domain.Context, req domain.GenerateRequest) (string, error) {
	key, ok := c.keys[req.Provider]
	if !ok || key == "" {
		return "", &domain.CallFailure{
			Category:         domain.CategoryAuth,
			UserMessage:      fmt.Sprintf("No API key configured for provider %q", req.Provider),
			TechnicalMessage: fmt.Sprintf("missing key for provider %s", req.Provider),
		}
	}

	promptTokens := c.counter.CountTokens(req.ModelID, req.SystemText) + c.counter.CountTokens(req.ModelID, req.UserText)
	if req.Options.MaxTokens > 0 {
		if room := tokencount.ContextWindow(req.ModelID) - promptTokens; room > 0 && room < req.Options.MaxTokens {
			slog.Debug("max_tokens capped to remaining context",
				slog.String("model", req.ModelID),
				slog.Int("prompt_tokens", promptTokens),
				slog.Int("max_tokens", room))
			req.Options.MaxTokens = room
		}
	}
	slog.Debug("provider call",
		slog.String("provider", req.Provider),
		slog.String("model", req.ModelID),
		slog.Int("prompt_tokens", promptTokens),
		slog.Int("timeout_ms", req.Options.TimeoutMs))

	timeout := time.Duration(req.Options.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	var content string
	op := func() error {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		out, err := c.invoke(callCtx, key, req)
		observability.ProviderRequestDuration.WithLabelValues(req.Provider).Observe(time.Since(start).Seconds())
		if err != nil {
			f := domain.AsCallFailure(err)
			observability.ProviderRequestsTotal.WithLabelValues(req.Provider, string(f.Category)).Inc()
			if f.Category.Transient() {
				return f
			}
			return backoff.Permanent(f)
		}
		observability.ProviderRequestsTotal.WithLabelValues(req.Provider, "success").Inc()
		content = out
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	maxElapsed, initial, maxIv, mult := c.cfg.GetAIBackoffConfig()
	expo.MaxElapsedTime = maxElapsed
	expo.InitialInterval = initial
	expo.MaxInterval = maxIv
	expo.Multiplier = mult

	maxRetries := req.Options.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(maxRetries)), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		f := domain.AsCallFailure(err)
		slog.Warn("provider call failed",
			slog.String("provider", req.Provider),
			slog.String("model", req.ModelID),
			slog.String("category", string(f.Category)),
			slog.String("detail", f.TechnicalMessage))
		return "", f
	}
	return content, nil
}

// invoke performs a single HTTP round trip without retries.
func (c *Client) invoke(ctx context.Context, key string, req domain.GenerateRequest) (string, error) {
	switch req.Provider {
	case domain.ProviderOpenAI:
		return c.chatCompletions(ctx, c.cfg.OpenAIBaseURL, key, req)
	case domain.ProviderPerplexity:
		return c.chatCompletions(ctx, c.cfg.PerplexityBaseURL, key, req)
	case domain.ProviderAnthropic:
		return c.anthropicMessages(ctx, key, req)
	case domain.ProviderGemini:
		return c.geminiGenerate(ctx, key, req)
	default:
		return "", &domain.CallFailure{
			Category:         domain.CategoryUnknown,
			UserMessage:      fmt.Sprintf("Unsupported provider %q", req.Provider),
			TechnicalMessage: fmt.Sprintf("unsupported provider %s", req.Provider),
		}
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatCompletions handles the OpenAI-compatible providers.
func (c *Client) chatCompletions(ctx context.Context, baseURL, key string, req domain.GenerateRequest) (string, error) {
	msgs := make([]chatMessage, 0, 2)
	if req.SystemText != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.SystemText})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: req.UserText})
	body := map[string]any{
		"model":       req.ModelID,
		"messages":    msgs,
		"temperature": req.Options.Temperature,
	}
	if req.Options.MaxTokens > 0 {
		body["max_tokens"] = req.Options.MaxTokens
	}
	var out struct {
		Choices []struct {
			Message      chatMessage `json:"message"`
			FinishReason string      `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := c.postJSON(ctx, baseURL+"/chat/completions", req.Provider, body, &out, func(h http.Header) {
		h.Set("Authorization", "Bearer "+key)
	}); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", &domain.CallFailure{
			Category:         domain.CategoryMalformed,
			UserMessage:      "Provider returned no content",
			TechnicalMessage: "empty choices",
		}
	}
	if cat, ok := finishCategory(out.Choices[0].FinishReason); ok {
		return "", &domain.CallFailure{
			Category:         cat,
			UserMessage:      "The provider refused this content",
			TechnicalMessage: "finish_reason=" + out.Choices[0].FinishReason,
		}
	}
	return out.Choices[0].Message.Content, nil
}

func (c *Client) anthropicMessages(ctx context.Context, key string, req domain.GenerateRequest) (string, error) {
	maxTokens := req.Options.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024 // anthropic requires max_tokens
	}
	body := map[string]any{
		"model":       req.ModelID,
		"max_tokens":  maxTokens,
		"temperature": req.Options.Temperature,
		"messages":    []chatMessage{{Role: "user", Content: req.UserText}},
	}
	if req.SystemText != "" {
		body["system"] = req.SystemText
	}
	var out struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
	}
	if err := c.postJSON(ctx, c.cfg.AnthropicBaseURL+"/messages", req.Provider, body, &out, func(h http.Header) {
		h.Set("x-api-key", key)
		h.Set("anthropic-version", anthropicVersion)
	}); err != nil {
		return "", err
	}
	if cat, ok := finishCategory(out.StopReason); ok {
		return "", &domain.CallFailure{
			Category:         cat,
			UserMessage:      "The provider refused this content",
			TechnicalMessage: "stop_reason=" + out.StopReason,
		}
	}
	for _, blk := range out.Content {
		if blk.Type == "text" {
			return blk.Text, nil
		}
	}
	return "", &domain.CallFailure{
		Category:         domain.CategoryMalformed,
		UserMessage:      "Provider returned no content",
		TechnicalMessage: "no text block in anthropic response",
	}
}

func (c *Client) geminiGenerate(ctx context.Context, key string, req domain.GenerateRequest) (string, error) {
	body := map[string]any{
		"contents": []map[string]any{
			{"role": "user", "parts": []map[string]string{{"text": req.UserText}}},
		},
		"generationConfig": map[string]any{"temperature": req.Options.Temperature},
	}
	if req.Options.MaxTokens > 0 {
		body["generationConfig"].(map[string]any)["maxOutputTokens"] = req.Options.MaxTokens
	}
	if req.SystemText != "" {
		body["systemInstruction"] = map[string]any{"parts": []map[string]string{{"text": req.SystemText}}}
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.cfg.GeminiBaseURL, req.ModelID, url.QueryEscape(key))
	var out struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
		PromptFeedback struct {
			BlockReason string `json:"blockReason"`
		} `json:"promptFeedback"`
	}
	if err := c.postJSON(ctx, endpoint, req.Provider, body, &out, func(http.Header) {}); err != nil {
		return "", err
	}
	if out.PromptFeedback.BlockReason != "" {
		return "", &domain.CallFailure{
			Category:         domain.CategoryContentFiltered,
			UserMessage:      "The provider blocked this content",
			TechnicalMessage: "blockReason=" + out.PromptFeedback.BlockReason,
		}
	}
	if len(out.Candidates) == 0 {
		return "", &domain.CallFailure{
			Category:         domain.CategoryMalformed,
			UserMessage:      "Provider returned no content",
			TechnicalMessage: "empty candidates",
		}
	}
	cand := out.Candidates[0]
	if cat, ok := finishCategory(cand.FinishReason); ok {
		return "", &domain.CallFailure{
			Category:         cat,
			UserMessage:      "The provider refused this content",
			TechnicalMessage: "finishReason=" + cand.FinishReason,
		}
	}
	var buf bytes.Buffer
	for _, p := range cand.Content.Parts {
		buf.WriteString(p.Text)
	}
	return buf.String(), nil
}

// postJSON posts a JSON body and decodes a JSON response, translating
// transport and status failures into categorized CallFailures.
func (c *Client) postJSON(ctx context.Context, endpoint, provider string, body any, out any, setHeaders func(http.Header)) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return &domain.CallFailure{Category: domain.CategoryUnknown, UserMessage: "internal encoding error", TechnicalMessage: err.Error()}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return &domain.CallFailure{Category: domain.CategoryUnknown, UserMessage: "internal request error", TechnicalMessage: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	setHeaders(httpReq.Header)

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return &domain.CallFailure{
				Category:         domain.CategoryTimeout,
				UserMessage:      "The provider did not respond in time",
				TechnicalMessage: err.Error(),
			}
		}
		return &domain.CallFailure{
			Category:         categorizeTransportErr(err),
			UserMessage:      "Could not reach the provider",
			TechnicalMessage: err.Error(),
		}
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &domain.CallFailure{Category: domain.CategoryNetwork, UserMessage: "Could not read provider response", TechnicalMessage: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(bodyBytes)
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		cat := categorizeStatus(resp.StatusCode, snippet)
		slog.Warn("provider non-2xx",
			slog.String("provider", provider),
			slog.Int("status", resp.StatusCode),
			slog.String("category", string(cat)),
			slog.String("body", snippet))
		return &domain.CallFailure{
			Category:         cat,
			UserMessage:      userMessageFor(cat),
			TechnicalMessage: fmt.Sprintf("status %d: %s", resp.StatusCode, snippet),
			Metadata:         map[string]string{"status": fmt.Sprintf("%d", resp.StatusCode)},
		}
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return &domain.CallFailure{
			Category:         domain.CategoryMalformed,
			UserMessage:      "Provider returned an unreadable response",
			TechnicalMessage: err.Error(),
		}
	}
	return nil
}

func userMessageFor(cat domain.CallCategory) string {
	switch cat {
	case domain.CategoryAuth:
		return "The provider rejected your API key"
	case domain.CategoryQuota:
		return "Your provider quota is exhausted"
	case domain.CategoryContentFiltered:
		return "The provider refused this content"
	case domain.CategoryRateLimit:
		return "The provider is rate limiting requests"
	case domain.CategoryServer:
		return "The provider is having trouble; retried without success"
	case domain.CategoryTimeout:
		return "The provider did not respond in time"
	default:
		return "The provider call failed"
	}
}
