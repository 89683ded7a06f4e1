// Package errors provides structured, coded errors for berth.
//
// Every failure the manager can surface has a stable code (E1xx) so
// callers and tests can branch on taxonomy with IsCode instead of
// matching message strings. Errors carry the port, pid, and directory
// they relate to, plus an optional suggestion rendered by Format.
//
// # Usage
//
//	return errors.New(errors.CodePortInUse).
//	    WithPort(8000).
//	    WithSuggestion("Use --find-port to pick the next free port")
//
// Registry I/O failures (E110) are non-fatal: the affected record is
// treated as absent and the manager keeps going.
package errors
