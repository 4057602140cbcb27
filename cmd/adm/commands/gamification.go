package commands

import (
	"fmt"

	contextutils "assessapp/internal/utils"

	"github.com/spf13/cobra"
)

// GamificationCommands returns the badge and leaderboard upkeep commands
func GamificationCommands(rt *Runtime) []*cobra.Command {
	seed := &cobra.Command{
		Use:   "seed-badges",
		Short: "Insert the built-in badge catalogue",
		Long:  `Insert any built-in badges that are missing. Existing badges are left untouched.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, err := rt.Gamification(ctx)
			if err != nil {
				return contextutils.WrapError(err, "failed to connect to database")
			}
			if err := svc.SeedBadges(ctx); err != nil {
				return contextutils.WrapError(err, "failed to seed badges")
			}
			badges, err := svc.ListBadges(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Badge catalogue has %d badges\n", len(badges))
			return nil
		},
	}

	leaderboard := &cobra.Command{
		Use:   "leaderboard",
		Short: "Leaderboard commands",
	}
	leaderboard.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Recompute leaderboard ranks now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, err := rt.Gamification(ctx)
			if err != nil {
				return contextutils.WrapError(err, "failed to connect to database")
			}
			n, err := svc.RefreshLeaderboard(ctx)
			if err != nil {
				return contextutils.WrapError(err, "failed to refresh leaderboard")
			}
			fmt.Printf("Ranked %d users\n", n)
			return nil
		},
	})

	return []*cobra.Command{seed, leaderboard}
}
