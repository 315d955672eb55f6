// Package logging builds slog loggers with console and JSON handlers and
// standardized field keys shared across the grading pipeline.
package logging
