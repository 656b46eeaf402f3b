// Package command 實作 rankctl 維運命令列工具
package command

import (
	"fmt"
	"os"

	"github.com/eerdenee/nutgiin-delguur-sub001/internal"
	"github.com/spf13/cobra"
)

// AppName 命令名稱
const AppName = "rankctl"

// NewRootCmd 建立根命令
func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "Operator CLI for listing ranking and counter batching",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().String("config", "", "path to config file (defaults + environment when empty)")
	cmd.PersistentFlags().Bool("json", false, "output in JSON format")

	cmd.AddCommand(
		NewMigrateCmd(),
		NewTierCmd(),
		NewScoreCmd(),
		NewVisibleCmd(),
	)

	return cmd
}

// loadConfig 依 --config 載入配置
func loadConfig(cmd *cobra.Command) (*internal.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := internal.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}
