// Package moments segments a transcript into category-tagged runs, ranks the
// segments by diagnostic importance, and promotes the top ones to key moments
// with best-effort LLM annotations.
package moments
