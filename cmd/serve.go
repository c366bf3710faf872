package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/asaidimu/go-anansi-schema/api"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCommand(opts *globalOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := openRuntime(ctx, opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			if listen == "" {
				listen = rt.cfg.Server.Listen
			}
			if rt.cfg.Server.MasterKey == "" {
				rt.logger.Warn("no master key configured, schema routes are unreachable")
			}
			gin.SetMode(gin.ReleaseMode)
			server := api.NewServer(rt.persistence, rt.cfg.Server.MasterKey, rt.logger)
			rt.logger.Info("starting", zap.String("database", rt.cfg.Database.Path))
			return server.Run(ctx, listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "address to listen on, overrides server.listen")
	return cmd
}
