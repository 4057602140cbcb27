// Package ai holds the clients for the external models used to assess
// open-ended answers: an OpenAI-compatible chat model that grades content and
// a text classifier that estimates emotion from transcripts.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"assessapp/internal/config"
	"assessapp/internal/observability"
	contextutils "assessapp/internal/utils"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ChatCompleter is the part of ChatClient the assessment service depends on
type ChatCompleter interface {
	Complete(ctx context.Context, prompt, schema string) (string, error)
}

// ChatRequest is the body of POST {url}/chat/completions
type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// Message represents a chat message in the API request
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat asks the model for JSON matching a schema
type ResponseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *JSONSchema `json:"json_schema,omitempty"`
}

// JSONSchema is the named schema carried by ResponseFormat
type JSONSchema struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
	Strict bool            `json:"strict"`
}

// ChatResponse is the subset of the completion response that is read
type ChatResponse struct {
	Choices []Choice  `json:"choices"`
	Error   *APIError `json:"error,omitempty"`
}

// Choice represents a choice in the API response
type Choice struct {
	Message Message `json:"message"`
}

// APIError represents an error response from the API
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// ConcurrencyStats reports the chat client's load
type ConcurrencyStats struct {
	ActiveRequests int   `json:"active_requests"`
	MaxConcurrent  int   `json:"max_concurrent"`
	TotalRequests  int64 `json:"total_requests"`
	Rejected       int64 `json:"rejected"`
}

// ChatClient calls an OpenAI-compatible chat completions endpoint
type ChatClient struct {
	httpClient *http.Client
	cfg        config.ChatModelConfig
	logger     *observability.Logger
	metrics    *observability.Metrics

	semaphore     chan struct{}
	maxConcurrent int

	statsMu        sync.Mutex
	activeRequests int
	totalRequests  int64
	rejected       int64

	shutdownMu sync.RWMutex
	shutdown   bool
}

var _ ChatCompleter = (*ChatClient)(nil)

// NewChatClient creates a chat client. A non-positive maxConcurrent falls back
// to the default limit.
func NewChatClient(cfg config.ChatModelConfig, maxConcurrent int, timeout time.Duration, logger *observability.Logger, metrics *observability.Metrics) *ChatClient {
	if maxConcurrent <= 0 {
		maxConcurrent = config.DefaultMaxAIConcurrent
	}
	if timeout <= 0 {
		timeout = config.AIRequestTimeout
	}
	return &ChatClient{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanOptions(trace.WithSpanKind(trace.SpanKindClient)),
			),
		},
		cfg:           cfg,
		logger:        logger,
		metrics:       metrics,
		semaphore:     make(chan struct{}, maxConcurrent),
		maxConcurrent: maxConcurrent,
	}
}

// Configured reports whether an endpoint and model are set
func (c *ChatClient) Configured() bool {
	return c.cfg.URL != "" && c.cfg.Model != ""
}

// Complete sends prompt as a single user message and returns the model's
// reply with any markdown code fence removed. When schema is non-empty the
// request asks for JSON output matching it.
func (c *ChatClient) Complete(ctx context.Context, prompt, schema string) (result0 string, err error) {
	ctx, span := observability.TraceAIFunction(ctx, "Complete",
		attribute.String("ai.model", c.cfg.Model),
		attribute.Int("prompt.length", len(prompt)),
		attribute.Bool("schema.enabled", schema != ""),
	)
	defer observability.FinishSpan(span, &err)

	if !c.Configured() {
		return "", contextutils.WrapError(contextutils.ErrAIConfigInvalid, "chat model url and model are required")
	}
	if strings.TrimSpace(prompt) == "" {
		return "", contextutils.WrapError(contextutils.ErrInvalidInput, "prompt cannot be empty")
	}

	err = c.withConcurrencyControl(ctx, func() error {
		var callErr error
		result0, callErr = c.call(ctx, prompt, schema)
		return callErr
	})
	if err != nil {
		c.metrics.RecordAIFailure(ctx, "chat")
		return "", err
	}
	span.SetAttributes(attribute.Int("response.length", len(result0)))
	return result0, nil
}

func (c *ChatClient) call(ctx context.Context, prompt, schema string) (string, error) {
	reqBody := ChatRequest{
		Model:       c.cfg.Model,
		Messages:    []Message{{Role: "user", Content: prompt}},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	if schema != "" {
		reqBody.ResponseFormat = &ResponseFormat{
			Type:       "json_schema",
			JSONSchema: &JSONSchema{Name: "response", Schema: json.RawMessage(schema), Strict: true},
		}
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", contextutils.WrapErrorf(err, "failed to marshal request body")
	}

	endpoint := strings.TrimRight(c.cfg.URL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return "", contextutils.WrapErrorf(err, "failed to create HTTP request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "assessapp/1.0")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return "", contextutils.WrapErrorf(contextutils.ErrTimeout, "chat request cancelled after %v: %v", duration, err)
		}
		return "", contextutils.WrapErrorf(contextutils.ErrAIRequestFailed, "HTTP request failed after %v: %v", duration, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn(ctx, "Failed to close response body", map[string]interface{}{"error": err.Error()})
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", contextutils.WrapErrorf(contextutils.ErrAIRequestFailed, "failed to read response body: %v", err)
	}

	c.logger.Debug(ctx, "Chat completion finished", map[string]interface{}{
		"duration":    duration.String(),
		"status_code": resp.StatusCode,
		"model":       c.cfg.Model,
	})

	if resp.StatusCode != http.StatusOK {
		return "", contextutils.WrapErrorf(contextutils.ErrAIRequestFailed, "API request failed with status %d: %s", resp.StatusCode, truncate(string(body), 512))
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", contextutils.WrapErrorf(contextutils.ErrAIResponseInvalid, "failed to parse AI response as JSON: %v", err)
	}
	if chatResp.Error != nil {
		return "", contextutils.WrapErrorf(contextutils.ErrAIRequestFailed, "API error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return "", contextutils.WrapError(contextutils.ErrAIResponseInvalid, "no choices in AI response")
	}

	content := StripCodeFence(chatResp.Choices[0].Message.Content)
	if content == "" {
		return "", contextutils.WrapError(contextutils.ErrAIResponseInvalid, "AI returned empty content")
	}
	return content, nil
}

// StripCodeFence removes a surrounding ```json ... ``` or ``` ... ``` block
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{[") {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return contextutils.TruncateBytes(s, n) + "..."
}

// Stats returns a snapshot of the client's concurrency counters
func (c *ChatClient) Stats() ConcurrencyStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return ConcurrencyStats{
		ActiveRequests: c.activeRequests,
		MaxConcurrent:  c.maxConcurrent,
		TotalRequests:  c.totalRequests,
		Rejected:       c.rejected,
	}
}

func (c *ChatClient) isShutdown() bool {
	c.shutdownMu.RLock()
	defer c.shutdownMu.RUnlock()
	return c.shutdown
}

// acquireSlot takes a semaphore slot without waiting
func (c *ChatClient) acquireSlot() error {
	select {
	case c.semaphore <- struct{}{}:
		c.statsMu.Lock()
		c.activeRequests++
		c.totalRequests++
		c.statsMu.Unlock()
		return nil
	default:
		c.statsMu.Lock()
		c.rejected++
		c.statsMu.Unlock()
		return contextutils.WrapErrorf(contextutils.ErrServiceUnavailable, "AI service at capacity (%d concurrent requests), please try again", c.maxConcurrent)
	}
}

func (c *ChatClient) releaseSlot() {
	<-c.semaphore
	c.statsMu.Lock()
	c.activeRequests--
	c.statsMu.Unlock()
}

func (c *ChatClient) withConcurrencyControl(ctx context.Context, operation func() error) error {
	if c.isShutdown() {
		return contextutils.WrapError(contextutils.ErrServiceUnavailable, "AI service is shutting down")
	}
	if err := ctx.Err(); err != nil {
		return contextutils.WrapErrorf(contextutils.ErrTimeout, "request cancelled: %v", err)
	}
	if err := c.acquireSlot(); err != nil {
		return err
	}
	defer c.releaseSlot()
	return operation()
}

// Shutdown stops accepting new requests and waits for in-flight ones until
// ctx expires or AIShutdownTimeout passes
func (c *ChatClient) Shutdown(ctx context.Context) error {
	c.shutdownMu.Lock()
	c.shutdown = true
	c.shutdownMu.Unlock()

	timeout := config.AIShutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	ticker := time.NewTicker(config.AIShutdownPollInterval)
	defer ticker.Stop()
	deadline := time.After(timeout)

	for c.Stats().ActiveRequests > 0 {
		select {
		case <-ticker.C:
		case <-deadline:
			c.logger.Warn(ctx, "AI shutdown timed out with requests in flight", map[string]interface{}{
				"active": c.Stats().ActiveRequests,
			})
			c.httpClient.CloseIdleConnections()
			return contextutils.WrapError(contextutils.ErrTimeout, "AI requests still in flight at shutdown")
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.httpClient.CloseIdleConnections()
	c.logger.Info(ctx, "AI chat client shutdown completed")
	return nil
}
