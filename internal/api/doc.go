// Package api defines the transport-facing DTOs for graded sessions and the
// read-only service the HTTP server and CLI share. Conversions keep stage
// payloads as raw JSON so callers decide how deeply to decode.
package api
