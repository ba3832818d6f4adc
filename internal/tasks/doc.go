// Package tasks drives billing and instance-count collection per account.
//
// Runner implements one run of each task: it loads the account, builds the
// provider client through the factory, fetches the figure and persists it.
// Billing rows are upserted by (account, period) so repeated runs in the
// same month update one row. Authorization failures mark the account
// unvalidated and end the run; rate limits and unknown provider responses
// are retried by the Queue after a fixed delay, up to a bounded number of
// attempts.
//
// Service is the entry point used by the scheduler and the CLI. It submits
// one task per account so a failing account never blocks another.
package tasks
