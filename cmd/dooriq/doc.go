// Package main hosts the DoorIQ CLI entrypoint and command graph.
//
// The Cobra-based command tree covers one-shot grading, session inspection
// and maintenance, spreadsheet import, configuration scaffolding, and running
// the daemon in the foreground. Grading commands build the same pipeline and
// worker pool the daemon uses, so a transcript graded from the terminal goes
// through exactly the code path a live session does.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
