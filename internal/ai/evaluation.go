package ai

import (
	"context"
	"encoding/json"
	"math"
	"strings"

	"assessapp/internal/observability"
	"assessapp/internal/scoring"
	contextutils "assessapp/internal/utils"

	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
)

// ContentEvaluationSchema is the JSON schema the chat model's grading reply
// must satisfy. Score bounds are not enforced here; out-of-range scores are
// clamped after validation.
const ContentEvaluationSchema = `{
  "type": "object",
  "properties": {
    "score": {"type": "number"},
    "feedback": {"type": "string", "minLength": 1},
    "strengths": {"type": "array", "items": {"type": "string"}},
    "improvements": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["score", "feedback"],
  "additionalProperties": true
}`

var contentEvaluationSchemaLoader = gojsonschema.NewStringLoader(ContentEvaluationSchema)

// maxListItems caps strengths and improvements
const maxListItems = 5

// ContentEvaluation is the chat model's grade of an answer's content
type ContentEvaluation struct {
	Score        int      `json:"score"`
	Feedback     string   `json:"feedback"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
}

type rawEvaluation struct {
	Score        float64  `json:"score"`
	Feedback     string   `json:"feedback"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
}

// ParseContentEvaluation validates raw against ContentEvaluationSchema and
// normalizes it: the score is clamped to [0,100] and rounded half up, and
// empty list entries are dropped.
func ParseContentEvaluation(raw string) (*ContentEvaluation, error) {
	raw = StripCodeFence(raw)
	result, err := gojsonschema.Validate(contentEvaluationSchemaLoader, gojsonschema.NewStringLoader(raw))
	if err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrAIResponseInvalid, "evaluation is not valid JSON: %v", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, contextutils.WrapErrorf(contextutils.ErrAIResponseInvalid, "evaluation failed schema validation: %s", strings.Join(msgs, "; "))
	}

	var r rawEvaluation
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrAIResponseInvalid, "failed to decode evaluation: %v", err)
	}
	if math.IsNaN(r.Score) || math.IsInf(r.Score, 0) {
		r.Score = 0
	}

	return &ContentEvaluation{
		Score:        scoring.RoundHalfUp(r.Score),
		Feedback:     strings.TrimSpace(r.Feedback),
		Strengths:    cleanList(r.Strengths),
		Improvements: cleanList(r.Improvements),
	}, nil
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
		if len(out) == maxListItems {
			break
		}
	}
	return out
}

// EvaluationInput describes one answer to grade
type EvaluationInput struct {
	QuestionType   string
	Question       string
	ExpectedAnswer string
	Rubric         string
	Response       string
}

// ContentEvaluator grades answer content with a chat model
type ContentEvaluator struct {
	chat      ChatCompleter
	templates *TemplateManager
	logger    *observability.Logger
}

// NewContentEvaluator creates an evaluator over a chat model
func NewContentEvaluator(chat ChatCompleter, templates *TemplateManager, logger *observability.Logger) *ContentEvaluator {
	return &ContentEvaluator{chat: chat, templates: templates, logger: logger}
}

// Evaluate renders the grading prompt, calls the model and parses its reply
func (e *ContentEvaluator) Evaluate(ctx context.Context, in EvaluationInput) (result0 *ContentEvaluation, err error) {
	ctx, span := observability.TraceAIFunction(ctx, "Evaluate",
		observability.AttributeQuestionType(in.QuestionType),
		attribute.Int("response.length", len(in.Response)),
	)
	defer observability.FinishSpan(span, &err)

	prompt, err := e.templates.Render(ContentEvaluationTemplate, PromptData(in))
	if err != nil {
		return nil, err
	}
	reply, err := e.chat.Complete(ctx, prompt, ContentEvaluationSchema)
	if err != nil {
		return nil, err
	}
	eval, err := ParseContentEvaluation(reply)
	if err != nil {
		e.logger.Warn(ctx, "Discarding invalid evaluation reply", map[string]interface{}{
			"error": err.Error(),
			"reply": truncate(reply, 256),
		})
		return nil, err
	}
	span.SetAttributes(attribute.Int("evaluation.score", eval.Score))
	return eval, nil
}
