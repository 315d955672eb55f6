// Package pipeline sequences the grading stages for a conversation.
//
// # Flow
//
// A run persists each stage's output as soon as the stage finishes:
// instant metrics, then key moments, then the durable line-rating batches,
// and finally the background deep grade. The session status advances
// not_started, instant_complete, moments_complete, processing, and settles
// at completed or failed. A poller reading mid-run always sees the stages
// that have already committed.
//
// # Failure isolation
//
// A stage failure marks the session failed with an error note but never
// removes results an earlier stage already wrote. Input errors (missing
// session id, empty transcript) fail before any state is written.
package pipeline
