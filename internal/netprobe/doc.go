// Package netprobe answers one question: is a TCP port bound on the
// local host right now.
//
// The real prober bind-tests the port instead of parsing the OS
// connection table, which makes "free" mean "we could actually bind
// it". Probe failures are surfaced as errors, never as a free port.
package netprobe
