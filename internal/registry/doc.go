// Package registry persists the port -> instance mapping as one JSON
// file per port.
//
// The registry is deliberately forgiving: unreadable or corrupt
// records are treated as absent (reported through a warning callback),
// writes are atomic via temp-file-and-rename, and Reconcile prunes
// records whose process has died. It never assumes it agrees with the
// OS; the lifecycle manager double-checks reality before acting.
package registry
