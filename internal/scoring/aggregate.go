// Package scoring holds the pure functions that turn assessment signals into
// scores: the weighted aggregate of the four sub-scores, the individual signal
// heuristics, and attempt totals. Nothing here performs I/O.
package scoring

import "math"

// Fixed weights of the four sub-scores. They sum to 1.0.
const (
	ContentWeight = 0.50
	EmotionWeight = 0.15
	SpeechWeight  = 0.20
	FacialWeight  = 0.15
)

// Bounds of every score.
const (
	MinScore = 0
	MaxScore = 100
)

// NeutralSubScore is used for a signal that could not be measured.
const NeutralSubScore = 50

// SubScores are the four independently computed quality signals of a response.
type SubScores struct {
	Content float64 `json:"content"`
	Emotion float64 `json:"emotion"`
	Speech  float64 `json:"speech"`
	Facial  float64 `json:"facial"`
}

// Overall returns Aggregate over the receiver.
func (s SubScores) Overall() int {
	return Aggregate(s.Content, s.Emotion, s.Speech, s.Facial)
}

// Aggregate combines the four sub-scores into one integer in [0,100].
// Each input is clamped to [0,100] first (NaN counts as 0); the weighted sum is
// rounded half up.
func Aggregate(content, emotion, speech, facial float64) int {
	sum := Clamp(content)*ContentWeight +
		Clamp(emotion)*EmotionWeight +
		Clamp(speech)*SpeechWeight +
		Clamp(facial)*FacialWeight
	return RoundHalfUp(sum)
}

// Clamp limits v to [0,100]. NaN becomes 0.
func Clamp(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return MinScore
	case v < MinScore:
		return MinScore
	case v > MaxScore:
		return MaxScore
	}
	return v
}

// RoundHalfUp rounds a score to the nearest integer, halves going up, and clamps
// the result to [0,100]. A small epsilon absorbs float error such as
// 77.49999999999999 for a mathematically exact 77.5.
func RoundHalfUp(v float64) int {
	r := int(math.Floor(Clamp(v) + 0.5 + 1e-9))
	if r > MaxScore {
		return MaxScore
	}
	return r
}
