package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zgpcy/cloudspend/internal/tasks"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one task for one account and wait for it, retries included",
	}
	cmd.AddCommand(
		newRunTaskCmd(opts, tasks.TaskBilling, "Fetch and store the current billing of an account"),
		newRunTaskCmd(opts, tasks.TaskInstances, "Sample the instance count of an account"),
		newRunTaskCmd(opts, tasks.TaskValidate, "Check the credentials of an account"),
	)
	return cmd
}

func newRunTaskCmd(opts *rootOptions, task, short string) *cobra.Command {
	return &cobra.Command{
		Use:   task + " <account>",
		Short: short,
		Long:  short + ". <account> is the account name or its numeric ID.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := opts.wire(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			acct, err := a.FindAccount(ctx, args[0])
			if err != nil {
				return err
			}

			a.Queue.Start(ctx)
			defer a.Queue.Stop()

			var id string
			switch task {
			case tasks.TaskBilling:
				id, err = a.Tasks.GetBilling(ctx, acct.ID)
			case tasks.TaskInstances:
				id, err = a.Tasks.GetInstanceCount(ctx, acct.ID)
			default:
				id, err = a.Tasks.ValidateAccount(ctx, acct.ID)
			}
			if err != nil {
				return err
			}
			a.Queue.Wait()

			res, _ := a.Queue.Result(id)
			if res.Err != nil {
				return fmt.Errorf("%s failed after %d attempts: %w", task, res.Attempts, res.Err)
			}

			out := json.NewEncoder(cmd.OutOrStdout())
			out.SetIndent("", "  ")
			switch task {
			case tasks.TaskBilling:
				billings, err := a.Store.Billing().ListByAccount(ctx, acct.ID)
				if err != nil {
					return err
				}
				return out.Encode(billings[len(billings)-1])
			case tasks.TaskInstances:
				metrics, err := a.Store.Metrics().ListByAccount(ctx, acct.ID)
				if err != nil {
					return err
				}
				return out.Encode(metrics[len(metrics)-1])
			default:
				fresh, err := a.Accounts.Get(ctx, acct.ID)
				if err != nil {
					return err
				}
				return out.Encode(a.Accounts.Public(fresh))
			}
		},
	}
}
