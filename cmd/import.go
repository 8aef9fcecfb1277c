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

// newImportCmd creates and configures the `import` command.
func newImportCmd() *cobra.Command {
	var (
		owner    string
		password string
		mode     string
	)

	importCmd := &cobra.Command{
		Use:   "import [container-file]",
		Short: "Imports a container file as a new project or template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read container: %w", err)
			}

			components, err := initializeComponents(ctx, appCfg, logger, false)
			if err != nil {
				return err
			}
			defer components.Shutdown()

			result, err := components.Import.Import(ctx, data, password, schemas.ImportMode(mode), owner)
			if err != nil {
				return err
			}

			logger.Info("Import finished",
				zap.String("root_id", result.ProjectID),
				zap.Int("nodes", result.ImportedNodes),
				zap.Int("relationships", result.ImportedEdges),
				zap.Int("errors", len(result.Errors)),
				zap.Int("warnings", len(result.Warnings)))

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	importCmd.Flags().StringVar(&owner, "owner", "local", "owner identity the import runs as")
	importCmd.Flags().StringVar(&password, "password", "", "password for encrypted containers")
	importCmd.Flags().StringVar(&mode, "mode", "new", "import mode: new or merge")

	return importCmd
}

// newPreviewCmd creates the `preview` command, which inspects a container
// without a database. A password is only needed to surface the description
// of an encrypted container.
func newPreviewCmd() *cobra.Command {
	var previewPassword string
	previewCmd := &cobra.Command{
		Use:   "preview [container-file]",
		Short: "Shows container metadata, decrypting the payload when a password is given",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read container: %w", err)
			}

			// Previews never touch the store; the in-memory one avoids
			// requiring a database connection.
			components, err := initializeComponents(ctx, appCfg, logger, true)
			if err != nil {
				return err
			}
			defer components.Shutdown()

			preview, err := components.Import.Preview(data, previewPassword)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(preview, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	previewCmd.Flags().StringVar(&previewPassword, "password", "", "password for encrypted containers")
	return previewCmd
}
