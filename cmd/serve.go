package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/rb-x/pwnflow/internal/httpapi"
	"github.com/rb-x/pwnflow/internal/observability"
)

// newServeCmd creates the `serve` command, exposing export and import over
// HTTP.
func newServeCmd() *cobra.Command {
	var useMemory bool

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP API",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlag("server.listen_addr", cmd.Flags().Lookup("listen"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			components, err := initializeComponents(ctx, appCfg, logger, useMemory)
			if err != nil {
				return err
			}
			defer components.Shutdown()

			server := httpapi.NewServer(components.Export, components.Import, components.Orch, logger)
			addr := viper.GetString("server.listen_addr")
			httpServer := &http.Server{
				Addr:              addr,
				Handler:           server.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("HTTP API listening", zap.String("addr", addr))
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("Shutting down HTTP API")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return err
			}
			return nil
		},
	}

	serveCmd.Flags().String("listen", ":8000", "listen address")
	serveCmd.Flags().BoolVar(&useMemory, "memory", false, "use the in-memory store instead of Postgres")
	return serveCmd
}
