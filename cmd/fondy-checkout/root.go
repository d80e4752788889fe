package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRootCmd(v *viper.Viper) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fondy-checkout",
		Short: "Hosted card checkout in front of the Fondy gateway",
		Long: `fondy-checkout redirects buyers to the gateway's hosted checkout page and
acknowledges the gateway's asynchronous payment notifications.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(newServeCmd(v))
	rootCmd.AddCommand(newSignCmd(v))
	return rootCmd
}

// Execute runs the root command.
func Execute(version string) error {
	rootCmd := newRootCmd(viper.New())
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
