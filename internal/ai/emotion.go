package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"assessapp/internal/config"
	"assessapp/internal/observability"
	"assessapp/internal/scoring"
	contextutils "assessapp/internal/utils"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
)

// EmotionClassifier labels a transcript with emotion probabilities
type EmotionClassifier interface {
	Classify(ctx context.Context, text string) ([]scoring.EmotionLabel, error)
}

// EmotionClient calls a text-classification endpoint that accepts
// {"inputs": text} and answers with label/score pairs
type EmotionClient struct {
	client  *resty.Client
	cfg     config.EmotionConfig
	logger  *observability.Logger
	metrics *observability.Metrics
}

var _ EmotionClassifier = (*EmotionClient)(nil)

// maxClassifierInput bounds the transcript sent to the classifier
const maxClassifierInput = 4000

// NewEmotionClient creates an emotion classifier client
func NewEmotionClient(cfg config.EmotionConfig, timeout time.Duration, logger *observability.Logger, metrics *observability.Metrics) *EmotionClient {
	if timeout <= 0 {
		timeout = config.AIRequestTimeout
	}
	client := resty.New().
		SetTransport(otelhttp.NewTransport(http.DefaultTransport)).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "assessapp/1.0")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	return &EmotionClient{client: client, cfg: cfg, logger: logger, metrics: metrics}
}

// Configured reports whether a classifier URL is set
func (c *EmotionClient) Configured() bool {
	return c.cfg.URL != ""
}

// Classify returns the label distribution for text
func (c *EmotionClient) Classify(ctx context.Context, text string) (result0 []scoring.EmotionLabel, err error) {
	ctx, span := observability.TraceAIFunction(ctx, "Classify",
		attribute.String("ai.model", c.cfg.Model),
		attribute.Int("text.length", len(text)),
	)
	defer observability.FinishSpan(span, &err)
	defer func() {
		if err != nil {
			c.metrics.RecordAIFailure(ctx, "emotion")
		}
	}()

	if !c.Configured() {
		return nil, contextutils.WrapError(contextutils.ErrAIConfigInvalid, "emotion classifier url is required")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, contextutils.WrapError(contextutils.ErrInvalidInput, "text cannot be empty")
	}
	text = contextutils.TruncateBytes(text, maxClassifierInput)

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"inputs": text}).
		Post(c.cfg.URL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, contextutils.WrapErrorf(contextutils.ErrTimeout, "emotion request cancelled: %v", err)
		}
		return nil, contextutils.WrapErrorf(contextutils.ErrAIRequestFailed, "emotion request failed: %v", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, contextutils.WrapErrorf(contextutils.ErrAIRequestFailed, "emotion classifier returned status %d: %s", resp.StatusCode(), truncate(resp.String(), 256))
	}

	labels, err := ParseEmotionLabels(resp.Body())
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("labels.count", len(labels)))
	return labels, nil
}

// ParseEmotionLabels accepts both the nested [[{label,score}]] shape returned
// for a single input and the flat [{label,score}] shape
func ParseEmotionLabels(body []byte) ([]scoring.EmotionLabel, error) {
	var nested [][]scoring.EmotionLabel
	if err := json.Unmarshal(body, &nested); err == nil {
		if len(nested) == 0 {
			return nil, contextutils.WrapError(contextutils.ErrAIResponseInvalid, "emotion classifier returned no labels")
		}
		return nested[0], nil
	}

	var flat []scoring.EmotionLabel
	if err := json.Unmarshal(body, &flat); err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrAIResponseInvalid, "unexpected emotion response: %s", truncate(string(body), 256))
	}
	return flat, nil
}
