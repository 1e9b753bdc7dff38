// Package portkey implements a real AI client backed by the Portkey gateway
// (OpenAI-compatible chat completions).
package portkey

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"log/slog"

	"github.com/kamusis/swissql-sub000/internal/adapter/observability"
	"github.com/kamusis/swissql-sub000/internal/config"
	"github.com/kamusis/swissql-sub000/internal/domain"
)

// Client implements domain.AIClient using Portkey's chat completions API.
// Calls pass a circuit breaker so a dead upstream fails fast instead of
// burning the full retry budget on every request.
type Client struct {
	cfg     config.Config
	hc      *http.Client
	breaker *gobreaker.CircuitBreaker
}

// New constructs a Portkey client with the configured request timeout.
func New(cfg config.Config) *Client {
	timeout := cfg.PortkeyTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg: cfg,
		hc: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "portkey-chat",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("ai circuit breaker state change",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			},
		}),
	}
}

// Enabled reports whether api key, virtual key, and model are all configured.
func (c *Client) Enabled() bool { return c.cfg.AIEnabled() }

// Model returns the configured chat model identifier.
func (c *Client) Model() string { return c.cfg.PortkeyModel }

// Ping probes the gateway with a models listing. It bypasses the chat
// breaker: a readiness probe must not consume the breaker's failure budget.
func (c *Client) Ping(ctx domain.Context) error {
	if !c.Enabled() {
		return fmt.Errorf("%w: portkey api key, virtual key, or model missing", domain.ErrAIDisabled)
	}
	r, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.PortkeyBaseURL+"/models", nil)
	if err != nil {
		return err
	}
	r.Header.Set("x-portkey-api-key", c.cfg.PortkeyAPIKey)
	r.Header.Set("x-portkey-virtual-key", c.cfg.PortkeyVirtualKey)
	resp, err := c.hc.Do(r)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("portkey status %d", resp.StatusCode)
	}
	return nil
}

// ChatJSON calls Portkey chat completions and returns the message content.
// Transient upstream failures are retried with exponential backoff; 4xx
// responses other than 429 abort immediately.
func (c *Client) ChatJSON(ctx domain.Context, systemPrompt, userPrompt string) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("%w: portkey api key, virtual key, or model missing", domain.ErrAIDisabled)
	}

	model := c.cfg.PortkeyModel
	endpoint := c.cfg.PortkeyBaseURL + "/chat/completions"
	body := map[string]any{
		"model":           model,
		"temperature":     0.2,
		"response_format": map[string]string{"type": "json_object"},
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
	}
	b, _ := json.Marshal(body)

	var out struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	op := func() error {
		start := time.Now()
		// Recreate request each attempt to avoid reusing consumed bodies
		r, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("x-portkey-api-key", c.cfg.PortkeyAPIKey)
		r.Header.Set("x-portkey-virtual-key", c.cfg.PortkeyVirtualKey)
		resp, err := c.hc.Do(r)
		if err != nil {
			observability.ObserveAIRequest("chat", "error", time.Since(start))
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		// Read response body once and reuse it
		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			observability.ObserveAIRequest("chat", "error", time.Since(start))
			slog.Error("failed to read response body", slog.String("provider", "portkey"), slog.Any("error", err))
			return err
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			// Retryable: let backoff handle retries
			observability.ObserveAIRequest("chat", "rate_limited", time.Since(start))
			slog.Warn("ai provider rate limited", slog.String("provider", "portkey"), slog.String("op", "chat"), slog.Int("status", resp.StatusCode), slog.String("trace_id", resp.Header.Get("X-Portkey-Trace-Id")))
			return fmt.Errorf("rate limited: 429")
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			// Client error: non-retryable
			observability.ObserveAIRequest("chat", "error", time.Since(start))
			slog.Warn("ai provider 4xx", slog.String("provider", "portkey"), slog.String("op", "chat"), slog.Int("status", resp.StatusCode), slog.String("model", model), slog.String("endpoint", endpoint), slog.String("trace_id", resp.Header.Get("X-Portkey-Trace-Id")), slog.String("body", snippet(bodyBytes, 512)))
			return backoff.Permanent(fmt.Errorf("chat status %d", resp.StatusCode))
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			// 5xx and others: retryable
			observability.ObserveAIRequest("chat", "error", time.Since(start))
			slog.Error("ai provider non-2xx", slog.String("provider", "portkey"), slog.String("op", "chat"), slog.Int("status", resp.StatusCode), slog.String("model", model), slog.String("endpoint", endpoint), slog.String("trace_id", resp.Header.Get("X-Portkey-Trace-Id")), slog.String("body", snippet(bodyBytes, 512)))
			return fmt.Errorf("chat status %d", resp.StatusCode)
		}
		if err := json.Unmarshal(bodyBytes, &out); err != nil {
			observability.ObserveAIRequest("chat", "error", time.Since(start))
			slog.Error("ai provider decode error", slog.String("provider", "portkey"), slog.String("op", "chat"), slog.String("model", model), slog.String("endpoint", endpoint), slog.Any("error", err))
			return err
		}
		observability.ObserveAIRequest("chat", "ok", time.Since(start))
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	maxElapsedTime, initialInterval, maxInterval, multiplier := c.cfg.GetAIBackoffConfig()
	expo.MaxElapsedTime = maxElapsedTime
	expo.InitialInterval = initialInterval
	expo.MaxInterval = maxInterval
	expo.Multiplier = multiplier
	bo := backoff.WithContext(expo, ctx)

	// One logical chat call is one breaker sample, retries included.
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, backoff.Retry(op, bo)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			slog.Warn("ai circuit open, rejecting chat call", slog.String("provider", "portkey"), slog.String("model", model))
			return "", fmt.Errorf("%w: ai gateway unavailable (circuit open)", domain.ErrUpstream)
		}
		slog.Error("portkey chat failed after retries", slog.String("provider", "portkey"), slog.String("model", model), slog.Any("error", err))
		return "", fmt.Errorf("%w: portkey chat failed: %v", domain.ErrUpstream, err)
	}

	if len(out.Choices) == 0 {
		slog.Error("portkey returned empty choices", slog.String("provider", "portkey"), slog.String("model", model))
		return "", fmt.Errorf("%w: empty choices from portkey", domain.ErrUpstream)
	}
	if out.Model != "" && out.Model != model {
		slog.Warn("model substitution detected",
			slog.String("requested_model", model),
			slog.String("actual_model", out.Model),
			slog.String("provider", "portkey"))
	}
	return out.Choices[0].Message.Content, nil
}

// snippet truncates a response body for log output.
func snippet(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
