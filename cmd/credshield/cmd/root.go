package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmcleod/credshield/config"
)

var (
	flags *config.Flags
	cfg   *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "credshield",
	Short: "credshield logs in to an auth server without sending your password in the clear",
	Long: `A client for password-based authentication. Login credentials are hashed for
verification and sealed with a password-derived key before they leave the machine.
Complete documentation is available at https://github.com/jmcleod/credshield`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := flags.Load()
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	flags = config.BindFlags(rootCmd.PersistentFlags())
}
