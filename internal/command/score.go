package command

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/eerdenee/nutgiin-delguur-sub001/internal/listing"
	"github.com/eerdenee/nutgiin-delguur-sub001/internal/ranking"
	"github.com/spf13/cobra"
)

// NewScoreCmd 計算熱度分數（調整權重時使用）
func NewScoreCmd() *cobra.Command {
	var (
		c       listing.Counters
		ageDays int
	)

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Compute the engagement score for a set of counters",
		Example: `  rankctl score --views 120 --saves 4 --calls 2 --age-days 30`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if ageDays < 0 {
				return fmt.Errorf("--age-days must be non-negative")
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			now := time.Now()
			createdAt := now.Add(-time.Duration(ageDays) * 24 * time.Hour)
			score := ranking.NewScorer(cfg.RankingConfig()).Score(c, createdAt, now)

			if jsonOutput(cmd) {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"counters": c,
					"age_days": ageDays,
					"score":    score,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), score)
			return nil
		},
	}

	cmd.Flags().Int64Var(&c.Views, "views", 0, "view count")
	cmd.Flags().Int64Var(&c.Saves, "saves", 0, "save (favorite) count")
	cmd.Flags().Int64Var(&c.CallClicks, "calls", 0, "call button clicks")
	cmd.Flags().Int64Var(&c.ChatClicks, "chats", 0, "chat button clicks")
	cmd.Flags().Int64Var(&c.Shares, "shares", 0, "share count")
	cmd.Flags().IntVar(&ageDays, "age-days", 0, "listing age in days")

	return cmd
}
