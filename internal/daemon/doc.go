// Package daemon hosts the long-running grading service.
//
// A single daemon instance (enforced with a file lock) owns the worker pool,
// the HTTP polling API, the phrase cache sweep schedule, and the reclaimer
// that rescues sessions orphaned by a crashed run. The HTTP surface accepts
// transcripts for grading and serves session state to pollers; it never
// blocks on LLM work beyond the synchronous stages.
package daemon
