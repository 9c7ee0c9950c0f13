package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"loadphase/internal/dummy"
	"loadphase/internal/logging"
)

func newDummyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dummy",
		Short: "Run a sample target server (/fast, /slow, /spike, /error, /status/{code})",
		RunE: func(cmd *cobra.Command, args []string) error {
			port, _ := cmd.Flags().GetInt("port")
			level, _ := cmd.Flags().GetString("log-level")
			format, _ := cmd.Flags().GetString("log-format")
			file, _ := cmd.Flags().GetString("log-file")

			log, err := logging.New(level, format, file)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return dummy.Start(ctx, dummy.ServerConfig{Port: port}, log)
		},
	}
	cmd.Flags().IntP("port", "p", 8080, "Port to run dummy server on")
	return cmd
}
