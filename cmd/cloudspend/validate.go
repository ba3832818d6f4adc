package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zgpcy/cloudspend/internal/factory"
	"github.com/zgpcy/cloudspend/internal/provider"
)

func newValidateCmd(opts *rootOptions) *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and the connection data of every configured account",
		Long: `validate loads the configuration and builds a provider client for every
configured account, which checks the connection fields. With --remote it also
asks each provider to accept the credentials.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load(cmd)
			if err != nil {
				return err
			}
			f := factory.Default(provider.Deps{
				HTTPClient: provider.NewHTTPClient(cfg.APITimeoutDuration()),
				Logger:     log,
			})

			var failed int
			for _, a := range cfg.Accounts {
				client, err := f.GetClient(a.Provider, a.Data)
				if err == nil && remote {
					err = client.ValidateAccount(cmd.Context())
				}
				if err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "FAIL  %s (%s): %v\n", a.Name, a.Provider, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "OK    %s (%s)\n", a.Name, a.Provider)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d accounts failed validation", failed, len(cfg.Accounts))
			}
			if len(cfg.Accounts) == 0 {
				return errors.New("configuration is valid but declares no accounts")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration valid, %d accounts\n", len(cfg.Accounts))
			return nil
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "also validate credentials against each provider")
	return cmd
}
