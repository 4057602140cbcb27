package services

import (
	"context"
	"errors"
	"testing"

	"assessapp/internal/models"
	"assessapp/internal/scoring"
	contextutils "assessapp/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var videoQuestion = &models.Question{ID: 7, Type: models.QuestionVideoResponse, Prompt: "Introduce yourself"}

const sampleTranscript = "Hello, my name is Sam and I build distributed systems in Go. " +
	"I enjoy designing services that stay simple under load and I like to mentor new engineers on the team."

func TestAssessmentService_EvaluateText(t *testing.T) {
	grader := &fakeGrader{score: 73}
	svc := NewAssessmentServiceWithLogger(grader, nil, testLogger())
	q := &models.Question{ID: 1, Type: models.QuestionShortAnswer, Prompt: "What is a channel?"}

	eval, err := svc.EvaluateText(context.Background(), q, "  a typed pipe  ")
	require.NoError(t, err)
	assert.Equal(t, 73, eval.Score)

	_, err = svc.EvaluateText(context.Background(), q, "   ")
	assert.True(t, errors.Is(err, contextutils.ErrMissingRequired))

	grader.set(0, contextutils.ErrServiceUnavailable)
	_, err = svc.EvaluateText(context.Background(), q, "answer")
	assert.True(t, errors.Is(err, contextutils.ErrServiceUnavailable))
}

func TestAssessmentService_EvaluateVideo(t *testing.T) {
	classifier := &fakeClassifier{labels: []scoring.EmotionLabel{{Label: "joy", Score: 0.9}, {Label: "fear", Score: 0.1}}}
	svc := NewAssessmentServiceWithLogger(&fakeGrader{score: 90}, classifier, testLogger())
	facial := &scoring.FacialMetrics{EyeContact: 0.8, Expression: 0.5, HeadStability: 0.9}

	res, err := svc.EvaluateVideo(context.Background(), videoQuestion, VideoSubmission{
		Transcript:      sampleTranscript,
		DurationSeconds: 12,
		Facial:          facial,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Content)
	assert.Equal(t, 90, res.Content.Score)
	assert.False(t, res.EmotionFallback)
	assert.Equal(t, scoring.EmotionConfidence(classifier.labels), res.Emotion)
	assert.Equal(t, scoring.SpeechClarity(sampleTranscript, 12), res.Speech)
	assert.Equal(t, scoring.FacialConfidence(facial), res.Facial)
	assert.Equal(t, scoring.Aggregate(90, float64(res.Emotion), float64(res.Speech), float64(res.Facial)), res.Overall)
}

func TestAssessmentService_EvaluateVideo_Fallbacks(t *testing.T) {
	t.Run("classifier failure scores emotion neutral", func(t *testing.T) {
		svc := NewAssessmentServiceWithLogger(&fakeGrader{score: 60}, &fakeClassifier{err: contextutils.ErrAIRequestFailed}, testLogger())
		res, err := svc.EvaluateVideo(context.Background(), videoQuestion, VideoSubmission{Transcript: sampleTranscript, DurationSeconds: 10})
		require.NoError(t, err)
		assert.True(t, res.EmotionFallback)
		assert.Equal(t, scoring.NeutralSubScore, res.Emotion)
		assert.Equal(t, scoring.NeutralSubScore, res.Facial, "missing facial metrics are neutral")
	})

	t.Run("empty transcript scores content zero", func(t *testing.T) {
		grader := &fakeGrader{score: 99}
		svc := NewAssessmentServiceWithLogger(grader, nil, testLogger())
		res, err := svc.EvaluateVideo(context.Background(), videoQuestion, VideoSubmission{Transcript: "  ", DurationSeconds: 5})
		require.NoError(t, err)
		assert.Equal(t, 0, res.Content.Score)
		assert.Equal(t, 0, grader.calls)
	})

	t.Run("grader failure returns partial result", func(t *testing.T) {
		svc := NewAssessmentServiceWithLogger(&fakeGrader{err: contextutils.ErrServiceUnavailable}, nil, testLogger())
		res, err := svc.EvaluateVideo(context.Background(), videoQuestion, VideoSubmission{Transcript: sampleTranscript, DurationSeconds: 10})
		require.Error(t, err)
		require.NotNil(t, res)
		assert.Nil(t, res.Content)
		assert.Equal(t, scoring.NeutralSubScore, res.Emotion)
		assert.Positive(t, res.Speech)
	})
}
