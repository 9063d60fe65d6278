package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crm-rules/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "crm-rules",
	Short: "CRM rule engine: scoring, assignment, duplicates, and workflows",
	Long:  "Scores and routes leads, detects and merges duplicate records, and runs trigger-based workflows against a SQLite or Postgres store.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
