package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zgpcy/cloudspend/internal/factory"
	"github.com/zgpcy/cloudspend/internal/provider"
)

func newProvidersCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List supported providers and their connection fields",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			descs := factory.Default(provider.Deps{}).Providers()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(descs)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTYPE\tFIELDS")
			for _, d := range descs {
				fields := make([]string, 0, len(d.Params))
				for _, p := range d.Params {
					fields = append(fields, fmt.Sprintf("%s(%s)", p.Key, p.Type))
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", d.Name, d.Kind, strings.Join(fields, " "))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print descriptors as JSON")
	return cmd
}
