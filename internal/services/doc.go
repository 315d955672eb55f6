// Package services defines the shared error taxonomy and context
// annotations used across grading stages.
//
// Stage code wraps failures with one of the sentinel markers (validation,
// configuration, timeout, transient, ...) via Wrap. The orchestrator uses
// the marker to decide whether a failure is retryable and what terminal
// status to persist, and Details recovers the structured pieces for
// logging.
package services
