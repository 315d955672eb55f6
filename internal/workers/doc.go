// Package workers runs the line-rating worker pool.
//
// Workers claim queued rating batches from the sessions database, rate each
// line cache-first through the rater, and merge results back into session
// state. Concurrency is bounded by configuration and a shared ticker
// enforces a global jobs-per-second limit so the pool respects the LLM
// provider's rate limits. Failed batches retry with exponential backoff up
// to the configured limit, and a background reclaimer returns jobs orphaned
// by dead workers to the queue.
package workers
