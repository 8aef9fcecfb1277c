package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rb-x/pwnflow/api/schemas"
	"github.com/rb-x/pwnflow/internal/observability"
)

// newExportCmd creates and configures the `export` command.
func newExportCmd() *cobra.Command {
	var (
		owner       string
		kind        string
		encryption  string
		password    string
		output      string
		noVariables bool
		noScope     bool
	)

	exportCmd := &cobra.Command{
		Use:   "export [root-id]",
		Short: "Exports a project or template into a portable container file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			components, err := initializeComponents(ctx, appCfg, logger, false)
			if err != nil {
				return err
			}
			defer components.Shutdown()

			method := schemas.EncryptionMethod(encryption)
			opts := schemas.ExportOptions{
				IncludeVariables: !noVariables,
				IncludeScope:     !noScope,
			}

			var (
				data      []byte
				generated string
			)
			switch kind {
			case "project":
				data, generated, err = components.Export.ExportProject(ctx, owner, args[0], opts, method, password)
			case "template":
				data, generated, err = components.Export.ExportTemplate(ctx, owner, args[0], method, password)
			default:
				return fmt.Errorf("unknown kind %q, expected project or template", kind)
			}
			if err != nil {
				return err
			}

			if err := os.WriteFile(output, data, 0o600); err != nil {
				return fmt.Errorf("failed to write container: %w", err)
			}
			logger.Info("Export written",
				zap.String("root_id", args[0]),
				zap.String("output", output),
				zap.Int("bytes", len(data)))

			if generated != "" {
				// The generated password is shown exactly once and never logged.
				fmt.Fprintf(cmd.OutOrStdout(), "Generated password: %s\n", generated)
			}
			return nil
		},
	}

	exportCmd.Flags().StringVar(&owner, "owner", "local", "owner identity the export runs as")
	exportCmd.Flags().StringVar(&kind, "kind", "project", "root kind: project or template")
	exportCmd.Flags().StringVar(&encryption, "encryption", "none", "encryption method: none, password or generated")
	exportCmd.Flags().StringVar(&password, "password", "", "password for the password encryption method")
	exportCmd.Flags().StringVarP(&output, "output", "o", "export.pwnflow", "output file")
	exportCmd.Flags().BoolVar(&noVariables, "no-variables", false, "strip variable values from the export")
	exportCmd.Flags().BoolVar(&noScope, "no-scope", false, "exclude scope assets from the export")

	return exportCmd
}
