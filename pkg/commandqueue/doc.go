// Package commandqueue provides lane-based task execution with FIFO ordering per lane.
//
// Invariants:
// - Tasks in the same lane start in FIFO order, at most Concurrency at a time.
// - Tasks in different lanes may execute concurrently.
// - A caller whose context ends while its task is still queued gets ctx.Err()
//   and the task never runs.
//
// Usage:
//
//	queue := commandqueue.New(commandqueue.WithLane(commandqueue.StatelessLane, 4))
//	defer queue.Close()
//	result, err := queue.Enqueue(ctx, commandqueue.SessionLane("abc"), func(ctx context.Context) (interface{}, error) {
//		return "ok", nil
//	}, nil)
package commandqueue
