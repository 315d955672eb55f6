// Package queue persists grading sessions and line-rating jobs in SQLite.
//
// The sessions table is the aggregate grading record: each pipeline stage
// owns its slice (instant metrics, key moments, line ratings, deep grade)
// and the grading status column drives the orchestrator's state machine.
// The rating_jobs table is the durable work queue for the batched line
// rating worker pool; job identity is (session_id, batch_index) so
// re-enqueueing is idempotent.
//
// Rating merges are performed inside a single transaction (read, merge by
// utterance index, write) so concurrently completing batches never lose
// updates, and batch completion is derived from the count of distinct
// completed jobs rather than arrival order.
package queue
