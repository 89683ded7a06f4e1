package manager

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
)

// ProcessInfo describes a live OS process that looks like a server
// instance. Port and Directory are best-effort: they come from the
// process argv and may be missing for partially-matching processes.
type ProcessInfo struct {
	PID       int
	Port      int
	Directory string
	Cmdline   []string
}

// ProcStats is a point-in-time resource snapshot of a process.
type ProcStats struct {
	RSSBytes   int64
	CPUSeconds float64
	NumThreads int
}

// Launcher spawns server processes. The real implementation execs;
// tests substitute a fake.
type Launcher interface {
	// SpawnDetached starts argv in dir, detached from the manager,
	// with stdout and stderr appended to logPath. It returns the pid
	// without waiting; the child outlives the manager.
	SpawnDetached(ctx context.Context, argv []string, dir, logPath string) (int, error)

	// RunForeground runs argv in dir attached to the manager's
	// stdio and blocks until the process exits or ctx is cancelled.
	RunForeground(ctx context.Context, argv []string, dir string) error
}

// ProcessTable answers questions about live OS processes. The Linux
// implementation reads /proc via procfs; elsewhere a documented
// lsof/ps text fallback sits behind the same interface.
type ProcessTable interface {
	// Alive reports whether a process with the pid exists.
	Alive(pid int) bool

	// ListServers returns processes whose argv matches a known server
	// command shape.
	ListServers() ([]ProcessInfo, error)

	// PIDsForPort returns the pids listening on a local TCP port.
	PIDsForPort(port int) ([]int, error)

	// Cwd returns the working directory of a process.
	Cwd(pid int) (string, error)

	// Stats returns a resource snapshot of a process.
	Stats(pid int) (ProcStats, error)
}

// Signaler terminates processes.
type Signaler interface {
	// Terminate asks the process to exit (SIGTERM).
	Terminate(pid int) error

	// Kill forcibly ends the process (SIGKILL).
	Kill(pid int) error
}

// BrowserOpener opens a URL in the user's default browser.
type BrowserOpener interface {
	OpenURL(url string) error
}

// MatchServeCmdline recognizes the argv shapes berth spawns and
// extracts port and directory from them. Two shapes are known: this
// binary's own `serve` subcommand and the python http.server form used
// by custom server commands. Instances started with other custom
// commands are tracked through the registry only.
func MatchServeCmdline(argv []string) (port int, dir string, ok bool) {
	if len(argv) < 2 {
		return 0, "", false
	}

	base := filepath.Base(argv[0])
	base = strings.TrimSuffix(base, ".exe")

	if base == "berth" && argv[1] == "serve" {
		port, dir = parseServeFlags(argv[2:])
		return port, dir, true
	}

	if strings.HasPrefix(base, "python") {
		for i, a := range argv {
			if a == "http.server" {
				return parsePythonServer(argv[i+1:]), pythonDirectory(argv), true
			}
		}
	}

	return 0, "", false
}

// parseServeFlags pulls --port and --dir out of a `berth serve` argv
// tail, accepting both "--port 8000" and "--port=8000".
func parseServeFlags(args []string) (port int, dir string) {
	value := func(i int, flag string) (string, bool) {
		a := args[i]
		if v, found := strings.CutPrefix(a, flag+"="); found {
			return v, true
		}
		if a == flag && i+1 < len(args) {
			return args[i+1], true
		}
		return "", false
	}

	for i := range args {
		if v, found := value(i, "--port"); found {
			port, _ = strconv.Atoi(v)
		}
		if v, found := value(i, "--dir"); found {
			dir = v
		}
	}
	return port, dir
}

// parsePythonServer finds the positional port in a python http.server
// argv tail.
func parsePythonServer(args []string) int {
	for _, a := range args {
		if p, err := strconv.Atoi(a); err == nil {
			return p
		}
	}
	return 0
}

// pythonDirectory finds the --directory flag in a python argv.
func pythonDirectory(argv []string) string {
	for i, a := range argv {
		if v, found := strings.CutPrefix(a, "--directory="); found {
			return v
		}
		if a == "--directory" && i+1 < len(argv) {
			return argv[i+1]
		}
	}
	return ""
}
