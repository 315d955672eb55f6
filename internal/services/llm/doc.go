// Package llm provides a chat-completions client for LLM-based grading.
//
// This package is used by:
//   - Key-moment extraction: one annotation call per session
//   - Line rating workers: one call per rep-line batch
//   - Deep grade: final holistic scoring call
//
// # Contract
//
// Every call requests JSON mode and expects a single JSON value back.
// DecodeJSON tolerates markdown code fences and surrounding prose, since
// models occasionally wrap their output even in JSON mode.
//
// # Configuration
//
// Requires api_key and model, optionally base_url, referer, title, timeout.
//
// # Retry Behaviour
//
// The client retries HTTP 408/429/5xx, network errors, and empty completions
// with exponential backoff (base 1s, max 10s, 3 attempts by default).
// Other HTTP errors and context cancellation abort immediately.
package llm
