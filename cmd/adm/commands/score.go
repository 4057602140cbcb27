package commands

import (
	"fmt"
	"io"

	"assessapp/internal/scoring"

	"github.com/spf13/cobra"
)

// ScoreCommand computes an overall score from component scores without
// touching the database
func ScoreCommand() *cobra.Command {
	var content, emotion, speech, facial float64

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Compute an aggregate score from component scores",
		Long: `Compute the weighted overall score the platform assigns to an answer.
Component scores are clamped to 0..100 before weighting.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			printScore(cmd.OutOrStdout(), content, emotion, speech, facial)
			return nil
		},
	}
	cmd.Flags().Float64Var(&content, "content", 0, "content score")
	cmd.Flags().Float64Var(&emotion, "emotion", 50, "emotion score")
	cmd.Flags().Float64Var(&speech, "speech", 50, "speech score")
	cmd.Flags().Float64Var(&facial, "facial", 50, "facial score")
	return cmd
}

func printScore(w io.Writer, content, emotion, speech, facial float64) {
	fmt.Fprintf(w, "content %.0f x %.2f\n", content, scoring.ContentWeight)
	fmt.Fprintf(w, "emotion %.0f x %.2f\n", emotion, scoring.EmotionWeight)
	fmt.Fprintf(w, "speech  %.0f x %.2f\n", speech, scoring.SpeechWeight)
	fmt.Fprintf(w, "facial  %.0f x %.2f\n", facial, scoring.FacialWeight)
	fmt.Fprintf(w, "overall %d\n", scoring.Aggregate(content, emotion, speech, facial))
}
