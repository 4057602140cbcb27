package scoring

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAggregate(t *testing.T) {
	tests := []struct {
		name                            string
		content, emotion, speech, faces float64
		expected                        int
	}{
		{"all perfect", 100, 100, 100, 100, 100},
		{"all zero", 0, 0, 0, 0, 0},
		{"half rounds up", 80, 70, 90, 60, 78},
		{"all neutral", 50, 50, 50, 50, 50},
		{"content only", 100, 0, 0, 0, 50},
		{"above range is clamped", 150, 100, 100, 100, 100},
		{"below range is clamped", -20, 0, 0, 0, 0},
		{"nan counts as zero", math.NaN(), 100, 100, 100, 50},
		{"infinity is clamped", math.Inf(1), 0, 0, 0, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Aggregate(tt.content, tt.emotion, tt.speech, tt.faces))
		})
	}
}

func TestAggregate_WeightsSumToOne(t *testing.T) {
	assert.InDelta(t, 1.0, ContentWeight+EmotionWeight+SpeechWeight+FacialWeight, 1e-12)
}

func TestAggregate_Monotone(t *testing.T) {
	base := []float64{40, 40, 40, 40}
	for i := range base {
		prev := -1
		for v := 0.0; v <= 100; v += 2.5 {
			in := append([]float64(nil), base...)
			in[i] = v
			got := Aggregate(in[0], in[1], in[2], in[3])
			assert.GreaterOrEqual(t, got, prev, "input %d at %v", i, v)
			assert.GreaterOrEqual(t, got, MinScore)
			assert.LessOrEqual(t, got, MaxScore)
			prev = got
		}
	}
}

func TestSubScores_Overall(t *testing.T) {
	s := SubScores{Content: 80, Emotion: 70, Speech: 90, Facial: 60}
	assert.Equal(t, 78, s.Overall())
}

func TestRoundHalfUp(t *testing.T) {
	assert.Equal(t, 78, RoundHalfUp(77.5))
	assert.Equal(t, 77, RoundHalfUp(77.49))
	assert.Equal(t, 1, RoundHalfUp(0.5))
	assert.Equal(t, 100, RoundHalfUp(100.4))
	assert.Equal(t, 0, RoundHalfUp(-3))
}

func words(n int, w string) string {
	return strings.TrimSpace(strings.Repeat(w+" ", n))
}

func TestSpeechClarity(t *testing.T) {
	tests := []struct {
		name       string
		transcript string
		duration   float64
		expected   int
	}{
		{"empty transcript", "", 60, 0},
		{"whitespace only", "   \n ", 60, 0},
		{"ideal pace", words(140, "word"), 60, 100},
		{"slow pace", words(55, "word"), 60, 50},
		{"fast pace", words(215, "word"), 60, 50},
		{"far too fast", words(300, "word"), 60, 0},
		{"unknown duration is neutral", words(10, "word"), 0, 50},
		{"fillers cost points", words(95, "word") + " " + words(5, "um"), 50, 90},
		{"filler penalty is capped", words(100, "um"), 50, 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SpeechClarity(tt.transcript, tt.duration))
		})
	}
}

func TestCountFillers(t *testing.T) {
	assert.Equal(t, 3, countFillers(tokenize("Um, you know, I think, uh, it works.")))
	assert.Equal(t, 0, countFillers(tokenize("Clear and direct answer.")))
}

func TestFacialConfidence(t *testing.T) {
	assert.Equal(t, NeutralSubScore, FacialConfidence(nil))
	assert.Equal(t, 100, FacialConfidence(&FacialMetrics{EyeContact: 1, Expression: 1, HeadStability: 1}))
	assert.Equal(t, 50, FacialConfidence(&FacialMetrics{EyeContact: 0.5, Expression: 0.5, HeadStability: 0.5}))
	assert.Equal(t, 40, FacialConfidence(&FacialMetrics{EyeContact: 1}))
	assert.Equal(t, 55, FacialConfidence(&FacialMetrics{EyeContact: 2, Expression: -1, HeadStability: 0.5}))
}

func TestEmotionConfidence(t *testing.T) {
	assert.Equal(t, NeutralSubScore, EmotionConfidence(nil))
	assert.Equal(t, 70, EmotionConfidence([]EmotionLabel{
		{Label: "joy", Score: 0.6},
		{Label: "anger", Score: 0.3},
		{Label: "neutral", Score: 0.1},
	}))
	assert.Equal(t, 0, EmotionConfidence([]EmotionLabel{{Label: "Anger", Score: 1}}))
	assert.Equal(t, 100, EmotionConfidence([]EmotionLabel{{Label: "JOY", Score: 0.9}, {Label: "surprise", Score: 0.3}}))
}

func intPtr(v int) *int { return &v }

func TestAttemptScore(t *testing.T) {
	assert.Equal(t, 0, AttemptScore(nil))
	assert.Equal(t, 63, AttemptScore([]WeightedScore{
		{Points: 1, Score: intPtr(100)},
		{Points: 3, Score: intPtr(50)},
	}))
	assert.Equal(t, 40, AttemptScore([]WeightedScore{
		{Points: 2, Score: intPtr(80)},
		{Points: 2, Score: nil},
	}))
	assert.Equal(t, 100, AttemptScore([]WeightedScore{{Points: 0, Score: intPtr(100)}}))
}
