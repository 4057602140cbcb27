package scoring

import (
	"strings"
	"unicode"
)

// Speaking pace bands in words per minute.
const (
	IdealPaceMinWPM = 110.0
	IdealPaceMaxWPM = 170.0
	MaxPaceWPM      = 260.0

	fillerPenaltyPer100Words = 2.0
	maxFillerPenalty         = 40.0
)

var fillerWords = map[string]bool{
	"um": true, "umm": true, "uh": true, "uhm": true, "er": true,
	"erm": true, "ah": true, "hmm": true, "like": true, "basically": true,
}

var fillerPhrases = [][2]string{{"you", "know"}, {"i", "mean"}, {"sort", "of"}, {"kind", "of"}}

// SpeechClarity scores a spoken answer from its transcript and duration.
// Pace inside 110-170 wpm scores 100 and falls linearly to 0 at 0 and 260 wpm;
// filler words then cost 2 points per filler per 100 words, at most 40.
// An empty transcript scores 0. Without a usable duration the pace part is neutral.
func SpeechClarity(transcript string, durationSeconds float64) int {
	words := tokenize(transcript)
	if len(words) == 0 {
		return MinScore
	}

	pace := float64(NeutralSubScore)
	if durationSeconds > 0 {
		pace = paceScore(float64(len(words)) / (durationSeconds / 60))
	}

	fillers := countFillers(words)
	penalty := fillerPenaltyPer100Words * float64(fillers) * 100 / float64(len(words))
	if penalty > maxFillerPenalty {
		penalty = maxFillerPenalty
	}

	return RoundHalfUp(pace - penalty)
}

func paceScore(wpm float64) float64 {
	switch {
	case wpm <= 0:
		return 0
	case wpm < IdealPaceMinWPM:
		return MaxScore * wpm / IdealPaceMinWPM
	case wpm <= IdealPaceMaxWPM:
		return MaxScore
	case wpm >= MaxPaceWPM:
		return 0
	default:
		return MaxScore * (MaxPaceWPM - wpm) / (MaxPaceWPM - IdealPaceMaxWPM)
	}
}

func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	words := fields[:0]
	for _, f := range fields {
		w := strings.TrimFunc(f, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' })
		if w != "" {
			words = append(words, w)
		}
	}
	return words
}

func countFillers(words []string) int {
	n := 0
	for i, w := range words {
		if fillerWords[w] {
			n++
			continue
		}
		if i+1 < len(words) {
			for _, p := range fillerPhrases {
				if w == p[0] && words[i+1] == p[1] {
					n++
					break
				}
			}
		}
	}
	return n
}

// FacialMetrics are per-response averages reported by the client-side face
// tracker, each in [0,1].
type FacialMetrics struct {
	EyeContact    float64 `json:"eye_contact"`
	Expression    float64 `json:"expression"`
	HeadStability float64 `json:"head_stability"`
}

// Weights of the facial metrics.
const (
	EyeContactWeight    = 0.4
	ExpressionWeight    = 0.3
	HeadStabilityWeight = 0.3
)

// FacialConfidence maps facial metrics to a sub-score. Missing metrics score
// NeutralSubScore.
func FacialConfidence(m *FacialMetrics) int {
	if m == nil {
		return NeutralSubScore
	}
	v := unit(m.EyeContact)*EyeContactWeight +
		unit(m.Expression)*ExpressionWeight +
		unit(m.HeadStability)*HeadStabilityWeight
	return RoundHalfUp(v * MaxScore)
}

func unit(v float64) float64 {
	return Clamp(v*MaxScore) / MaxScore
}

// EmotionLabel is one class probability returned by the emotion classifier.
type EmotionLabel struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

var confidentLabels = map[string]bool{
	"joy": true, "neutral": true, "surprise": true, "confident": true, "positive": true,
}

// EmotionConfidence is 100 times the total probability of confident labels.
// An empty label set scores NeutralSubScore.
func EmotionConfidence(labels []EmotionLabel) int {
	if len(labels) == 0 {
		return NeutralSubScore
	}
	total := 0.0
	for _, l := range labels {
		if confidentLabels[strings.ToLower(strings.TrimSpace(l.Label))] && l.Score > 0 {
			total += l.Score
		}
	}
	return RoundHalfUp(total * MaxScore)
}

// WeightedScore is one answer's contribution to an attempt: the question's
// points and the answer's score, nil when unanswered or ungraded.
type WeightedScore struct {
	Points int
	Score  *int
}

// AttemptScore is the points-weighted average of answer scores, with
// unanswered questions counting as 0. Points below 1 count as 1.
func AttemptScore(items []WeightedScore) int {
	totalPoints := 0
	weighted := 0.0
	for _, it := range items {
		p := it.Points
		if p < 1 {
			p = 1
		}
		totalPoints += p
		if it.Score != nil {
			weighted += Clamp(float64(*it.Score)) * float64(p)
		}
	}
	if totalPoints == 0 {
		return MinScore
	}
	return RoundHalfUp(weighted / float64(totalPoints))
}
