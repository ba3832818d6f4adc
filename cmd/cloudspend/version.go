package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zgpcy/cloudspend/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "cloudspend", version.String())
			return err
		},
	}
}
