package command

import (
	"encoding/json"
	"fmt"

	"github.com/eerdenee/nutgiin-delguur-sub001/internal"
	"github.com/eerdenee/nutgiin-delguur-sub001/internal/notify"
	"github.com/eerdenee/nutgiin-delguur-sub001/internal/ranking"
	"github.com/eerdenee/nutgiin-delguur-sub001/internal/storage"
	"github.com/eerdenee/nutgiin-delguur-sub001/internal/tier"
	"github.com/eerdenee/nutgiin-delguur-sub001/pkg/logger"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

// NewTierCmd 等級評估
func NewTierCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tier",
		Short: "Tier classification commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run one classification pass against the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log, closer, err := logger.New(cfg.LogOptions())
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx := cmd.Context()
			pool, err := pgxpool.New(ctx, cfg.PostgresDSN())
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()

			var notifier notify.Notifier = notify.NewLogNotifier(log)
			if cfg.Tier.Notifier == internal.NotifierNATS {
				nn, err := notify.NewNATSNotifier(cfg.NATS, log)
				if err != nil {
					return err
				}
				defer nn.Close()
				notifier = nn
			}

			scheduler := tier.NewScheduler(storage.NewPostgres(pool),
				ranking.NewClassifier(cfg.RankingConfig()), notifier, cfg.TierConfig(), log)

			report, err := scheduler.RunOnce(ctx)
			if jsonOutput(cmd) {
				if encErr := json.NewEncoder(cmd.OutOrStdout()).Encode(report); encErr != nil {
					return encErr
				}
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "provinces=%d evaluated=%d promoted=%d conflicts=%d notify_failed=%d\n",
					report.Provinces, report.Evaluated, report.Promoted, report.Conflicts, report.NotifyFailed)
			}
			return err
		},
	})

	return cmd
}
