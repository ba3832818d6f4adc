// Package collector implements a Prometheus collector for account spend.
//
// SpendCollector is fed by the task layer (it satisfies tasks.Recorder) and
// keeps the latest figure per account, so Prometheus scrapes never call a
// provider. It exposes:
//   - cloudspend_billing_total: latest invoiced amount per account and period
//   - cloudspend_billing_balance: balance reported with that period, when known
//   - cloudspend_instances: last instance-count sample per account
//   - cloudspend_task_runs_total: task attempts by task, provider and outcome
//   - cloudspend_task_last_duration_seconds and
//     cloudspend_task_last_run_timestamp_seconds: last attempt per task and provider
//   - cloudspend_build_info: build version labels
//
// Example usage:
//
//	spend := collector.NewSpendCollector(log)
//	prometheus.MustRegister(spend)
//	_ = spend.Seed(ctx, st)
//	runner := tasks.NewRunner(st, f, log, tasks.WithRecorder(spend))
package collector
