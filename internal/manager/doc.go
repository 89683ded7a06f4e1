// Package manager implements the server lifecycle: start, stop,
// restart, list, stats, logs, and cleanup of local file-server
// instances.
//
// Per port an instance moves UNBOUND -> STARTING -> RUNNING ->
// STOPPING -> UNBOUND; restart is a stop followed by a start on the
// same port carrying the directory forward. The registry is consulted
// first for every operation, but the manager never trusts it blindly:
// pids are re-checked against the process table, ports are re-probed
// immediately before spawning, and two concurrent manager invocations
// racing on a port fail loudly instead of silently overwriting each
// other.
//
// OS facilities are consumed through small injected capabilities
// (Launcher, ProcessTable, Signaler, BrowserOpener) so tests can run
// the full lifecycle against fakes. The real ProcessTable uses
// structured /proc queries on Linux and documented ps/lsof (or
// netstat) text parsing elsewhere.
package manager
