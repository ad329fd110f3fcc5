// Package poller tracks one remote task until it reaches a terminal status.
//
// A [Poller] looks the task up repeatedly, adapting the delay between
// lookups to what it sees:
//
//   - running: the delay tightens toward the initial interval
//   - pending: the delay is left alone
//   - lookup failed: the delay backs off, bounded by the maximum interval
//
// Polling ends when the task succeeds or fails, when the total time budget
// runs out, when too many consecutive lookups fail, or when [Poller.Reset]
// is called. Only the first two budgets produce an error in the snapshot;
// individual lookup failures are absorbed by the backoff.
//
// # Usage
//
//	p := poller.New(client, poller.DefaultOptions())
//	p.OnComplete(func(t task.Task) {
//	    fmt.Println("finished:", t.Status)
//	})
//	p.Start(ctx, trigger.TaskID)
//	snap, err := p.Wait(ctx)
//
// # Thread Safety
//
// All methods are safe for concurrent use. Callbacks run on the polling
// goroutine, outside the poller's lock, so they may call back into it.
package poller
