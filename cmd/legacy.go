package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rb-x/pwnflow/api/schemas"
	"github.com/rb-x/pwnflow/internal/observability"
)

// newLegacyImportCmd creates the `legacy-import` command, which runs the
// progress-streaming legacy pipeline and reports each step as it happens.
func newLegacyImportCmd() *cobra.Command {
	var owner string

	legacyCmd := &cobra.Command{
		Use:   "legacy-import [json-file]",
		Short: "Imports a legacy export document, streaming progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read legacy document: %w", err)
			}

			components, err := initializeComponents(ctx, appCfg, logger, false)
			if err != nil {
				return err
			}
			defer components.Shutdown()

			var result *schemas.ImportResult
			for ev := range components.Orch.Run(ctx, raw, owner) {
				switch ev.Type {
				case schemas.EventProgress:
					logger.Info("Import progress",
						zap.String("step", string(ev.Progress.CurrentStep)),
						zap.Float64("percentage", ev.Progress.Percentage),
						zap.Int("nodes", ev.Progress.ProcessedNodes),
						zap.Int("relationships", ev.Progress.ProcessedEdges))
				case schemas.EventComplete:
					result = ev.Result
				case schemas.EventError:
					return fmt.Errorf("legacy import failed: %s", ev.Message)
				}
			}
			if result == nil {
				return fmt.Errorf("legacy import ended without a result")
			}

			for _, w := range result.Warnings {
				logger.Warn("Import warning", zap.String("detail", w))
			}
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	legacyCmd.Flags().StringVar(&owner, "owner", "local", "owner identity the import runs as")
	return legacyCmd
}
