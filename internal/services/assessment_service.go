package services

import (
	"context"
	"strings"

	"assessapp/internal/ai"
	"assessapp/internal/models"
	"assessapp/internal/observability"
	"assessapp/internal/scoring"
	contextutils "assessapp/internal/utils"

	"go.opentelemetry.io/otel/attribute"
)

// ContentGrader grades the content of an answer; *ai.ContentEvaluator satisfies it
type ContentGrader interface {
	Evaluate(ctx context.Context, in ai.EvaluationInput) (*ai.ContentEvaluation, error)
}

// VideoSubmission is what the client sends for a video response besides the
// recording itself: a speech-to-text transcript, the recording length and
// the face tracker's averages
type VideoSubmission struct {
	Transcript      string
	DurationSeconds float64
	Facial          *scoring.FacialMetrics
}

// VideoAssessment holds the four sub-scores of a video response. Content is
// nil when the chat model could not grade the transcript; Overall is only
// meaningful when Content is set.
type VideoAssessment struct {
	Content         *ai.ContentEvaluation
	Emotion         int
	Speech          int
	Facial          int
	EmotionFallback bool
	Overall         int
}

// SubScores returns the four signals as aggregate inputs
func (v *VideoAssessment) SubScores() scoring.SubScores {
	s := scoring.SubScores{
		Emotion: float64(v.Emotion),
		Speech:  float64(v.Speech),
		Facial:  float64(v.Facial),
	}
	if v.Content != nil {
		s.Content = float64(v.Content.Score)
	}
	return s
}

// AssessmentServiceInterface grades open-ended answers
type AssessmentServiceInterface interface {
	EvaluateText(ctx context.Context, question *models.Question, response string) (*ai.ContentEvaluation, error)
	EvaluateVideo(ctx context.Context, question *models.Question, sub VideoSubmission) (*VideoAssessment, error)
}

// AssessmentService turns model calls and signal heuristics into scores
type AssessmentService struct {
	grader     ContentGrader
	classifier ai.EmotionClassifier
	logger     *observability.Logger
}

var _ AssessmentServiceInterface = (*AssessmentService)(nil)

// NewAssessmentServiceWithLogger creates an assessment service. classifier may
// be nil, in which case emotion always scores neutral.
func NewAssessmentServiceWithLogger(grader ContentGrader, classifier ai.EmotionClassifier, logger *observability.Logger) *AssessmentService {
	return &AssessmentService{grader: grader, classifier: classifier, logger: logger}
}

// EvaluateText grades a written answer's content
func (s *AssessmentService) EvaluateText(ctx context.Context, question *models.Question, response string) (result0 *ai.ContentEvaluation, err error) {
	ctx, span := observability.TraceAssessmentFunction(ctx, "EvaluateText",
		observability.AttributeQuestionID(question.ID),
		observability.AttributeQuestionType(string(question.Type)),
	)
	defer observability.FinishSpan(span, &err)

	response = strings.TrimSpace(response)
	if response == "" {
		return nil, contextutils.WrapError(contextutils.ErrMissingRequired, "response cannot be empty")
	}

	eval, err := s.grader.Evaluate(ctx, evaluationInput(question, response))
	if err != nil {
		return nil, contextutils.WrapError(err, "content evaluation failed")
	}
	span.SetAttributes(attribute.Int("score.content", eval.Score))
	return eval, nil
}

// EvaluateVideo scores a video response on all four signals and aggregates
// them. A classifier failure scores emotion as neutral. A content grading
// failure returns the measured signals together with the error.
func (s *AssessmentService) EvaluateVideo(ctx context.Context, question *models.Question, sub VideoSubmission) (result0 *VideoAssessment, err error) {
	ctx, span := observability.TraceAssessmentFunction(ctx, "EvaluateVideo",
		observability.AttributeQuestionID(question.ID),
		attribute.Int("transcript.length", len(sub.Transcript)),
		attribute.Bool("facial.present", sub.Facial != nil),
	)
	defer observability.FinishSpan(span, &err)

	transcript := strings.TrimSpace(sub.Transcript)
	result := &VideoAssessment{
		Speech: scoring.SpeechClarity(transcript, sub.DurationSeconds),
		Facial: scoring.FacialConfidence(sub.Facial),
	}
	result.Emotion, result.EmotionFallback = s.emotionScore(ctx, transcript)

	if transcript == "" {
		result.Content = &ai.ContentEvaluation{
			Score:        scoring.MinScore,
			Feedback:     "No speech was detected in the recording.",
			Improvements: []string{"Make sure your microphone is on and answer out loud."},
		}
	} else {
		eval, err := s.grader.Evaluate(ctx, evaluationInput(question, transcript))
		if err != nil {
			return result, contextutils.WrapError(err, "content evaluation failed")
		}
		result.Content = eval
	}

	result.Overall = result.SubScores().Overall()
	span.SetAttributes(
		attribute.Int("score.content", result.Content.Score),
		attribute.Int("score.emotion", result.Emotion),
		attribute.Int("score.speech", result.Speech),
		attribute.Int("score.facial", result.Facial),
		attribute.Int("score.overall", result.Overall),
	)
	return result, nil
}

func (s *AssessmentService) emotionScore(ctx context.Context, transcript string) (score int, fallback bool) {
	if s.classifier == nil || transcript == "" {
		return scoring.NeutralSubScore, true
	}
	labels, err := s.classifier.Classify(ctx, transcript)
	if err != nil {
		s.logger.Warn(ctx, "Emotion classifier failed, using neutral score", map[string]interface{}{
			"error": err.Error(),
		})
		return scoring.NeutralSubScore, true
	}
	return scoring.EmotionConfidence(labels), false
}

func evaluationInput(q *models.Question, response string) ai.EvaluationInput {
	return ai.EvaluationInput{
		QuestionType:   string(q.Type),
		Question:       q.Prompt,
		ExpectedAnswer: q.ExpectedAnswer,
		Rubric:         q.Rubric,
		Response:       response,
	}
}
