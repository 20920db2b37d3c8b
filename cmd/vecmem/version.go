package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/vecmem/internal/version"
)

func versionString(mode string) string {
	if mode == "prod" {
		return version.String()
	}
	return version.GetCurrentVersion(mode)
}

func newVersionCmd() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			if full {
				fmt.Fprintln(cmd.OutOrStdout(), version.StringFull())
				return
			}
			fmt.Fprintln(cmd.OutOrStdout(), versionString(viper.GetString("mode")))
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "include build metadata")
	return cmd
}
