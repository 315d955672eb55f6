// Package phrasecache provides a local cache that maps normalized rep phrases
// to previously computed line ratings.
//
// Reps repeat the same openers, rebuttals, and closes across sessions. When a
// phrase is found in the cache the rating worker skips the LLM call entirely
// and serves the stored rating and alternatives, marking the result as cached.
//
// # Storage
//
// The cache is stored as a JSON file at a configurable path (default:
// <data_dir>/phrase_cache.json). Keys are SHA-256 digests of the normalized
// phrase text, so lookups are case and whitespace insensitive.
//
// # Staleness
//
// Entries older than the configured TTL are treated as misses. The daemon
// sweeps expired entries on a cron schedule; a zero TTL disables expiry.
package phrasecache
