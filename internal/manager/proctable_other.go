//go:build !linux && !windows

package manager

import (
	stderrors "errors"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"syscall"
)

// ShellTable is the documented text-parsing fallback ProcessTable for
// Unix platforms without /proc: ps and lsof output behind the same
// interface as the Linux structured queries.
type ShellTable struct{}

// NewOSProcessTable returns the platform's real process table.
func NewOSProcessTable() ProcessTable {
	return ShellTable{}
}

// Alive probes the pid with the null signal.
func (ShellTable) Alive(pid int) bool {
	err := syscall.Kill(pid, syscall.Signal(0))
	// EPERM means the process exists but belongs to someone else.
	return err == nil || stderrors.Is(err, syscall.EPERM)
}

// ListServers parses `ps -axo pid=,args=` for matching argv shapes.
func (ShellTable) ListServers() ([]ProcessInfo, error) {
	out, err := exec.Command("ps", "-axo", "pid=,args=").Output()
	if err != nil {
		return nil, fmt.Errorf("ps: %w", err)
	}

	var servers []ProcessInfo
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		argv := fields[1:]
		port, dir, ok := MatchServeCmdline(argv)
		if !ok {
			continue
		}
		servers = append(servers, ProcessInfo{
			PID:       pid,
			Port:      port,
			Directory: dir,
			Cmdline:   argv,
		})
	}
	return servers, nil
}

// PIDsForPort parses `lsof -t -iTCP:<port> -sTCP:LISTEN`.
func (ShellTable) PIDsForPort(port int) ([]int, error) {
	out, err := exec.Command("lsof", "-t", fmt.Sprintf("-iTCP:%d", port), "-sTCP:LISTEN").Output()
	if err != nil {
		// lsof exits 1 when nothing matches.
		var ee *exec.ExitError
		if stderrors.As(err, &ee) && ee.ExitCode() == 1 && len(out) == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("lsof: %w", err)
	}

	pidSet := map[int]bool{}
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if pid, err := strconv.Atoi(strings.TrimSpace(line)); err == nil {
			pidSet[pid] = true
		}
	}
	pids := make([]int, 0, len(pidSet))
	for pid := range pidSet {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids, nil
}

// Cwd parses `lsof -a -p <pid> -d cwd -Fn`.
func (ShellTable) Cwd(pid int) (string, error) {
	out, err := exec.Command("lsof", "-a", "-p", strconv.Itoa(pid), "-d", "cwd", "-Fn").Output()
	if err != nil {
		return "", fmt.Errorf("lsof: %w", err)
	}
	for _, line := range strings.Split(string(out), "\n") {
		if rest, ok := strings.CutPrefix(line, "n"); ok {
			return rest, nil
		}
	}
	return "", fmt.Errorf("no cwd in lsof output for pid %d", pid)
}

// Stats parses `ps -o rss=,time= -p <pid>`. Thread count is not
// available this way and stays 0.
func (ShellTable) Stats(pid int) (ProcStats, error) {
	out, err := exec.Command("ps", "-o", "rss=,time=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return ProcStats{}, fmt.Errorf("ps: %w", err)
	}
	fields := strings.Fields(string(out))
	if len(fields) < 2 {
		return ProcStats{}, fmt.Errorf("unexpected ps output %q", string(out))
	}

	rssKB, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return ProcStats{}, err
	}
	return ProcStats{
		RSSBytes:   rssKB * 1024,
		CPUSeconds: parsePSTime(fields[1]),
	}, nil
}

// parsePSTime parses ps TIME values like "1:02.33" or "12:34:56".
func parsePSTime(s string) float64 {
	var total float64
	for _, part := range strings.Split(s, ":") {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return 0
		}
		total = total*60 + v
	}
	return total
}

var _ ProcessTable = ShellTable{}
