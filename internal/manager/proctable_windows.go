//go:build windows

package manager

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
)

// NetstatTable is the Windows ProcessTable. Argv inspection is not
// available through a portable facility here, so ListServers returns
// nothing and instances are tracked through the registry alone;
// port-to-pid lookups parse `netstat -ano`.
type NetstatTable struct{}

// NewOSProcessTable returns the platform's real process table.
func NewOSProcessTable() ProcessTable {
	return NetstatTable{}
}

// Alive reports whether the pid can be opened.
func (NetstatTable) Alive(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}

// ListServers has no argv source on Windows; the registry is the only
// view of instances.
func (NetstatTable) ListServers() ([]ProcessInfo, error) {
	return nil, nil
}

// PIDsForPort parses `netstat -ano` LISTENING rows.
func (NetstatTable) PIDsForPort(port int) ([]int, error) {
	out, err := exec.Command("netstat", "-ano", "-p", "TCP").Output()
	if err != nil {
		return nil, fmt.Errorf("netstat: %w", err)
	}

	suffix := ":" + strconv.Itoa(port)
	pidSet := map[int]bool{}
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 || fields[0] != "TCP" || fields[3] != "LISTENING" {
			continue
		}
		if !strings.HasSuffix(fields[1], suffix) {
			continue
		}
		if pid, err := strconv.Atoi(fields[4]); err == nil {
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

// Cwd is not recoverable on Windows without native API calls.
func (NetstatTable) Cwd(pid int) (string, error) {
	return "", fmt.Errorf("working directory of pid %d not available on windows", pid)
}

// Stats parses `tasklist` CSV output for the working set size.
func (NetstatTable) Stats(pid int) (ProcStats, error) {
	out, err := exec.Command("tasklist", "/FI", "PID eq "+strconv.Itoa(pid), "/FO", "CSV", "/NH").Output()
	if err != nil {
		return ProcStats{}, fmt.Errorf("tasklist: %w", err)
	}
	fields := strings.Split(strings.TrimSpace(string(out)), "\",\"")
	if len(fields) < 5 {
		return ProcStats{}, fmt.Errorf("unexpected tasklist output %q", string(out))
	}

	mem := strings.TrimSuffix(strings.Trim(fields[4], "\"\r\n "), " K")
	mem = strings.ReplaceAll(strings.ReplaceAll(mem, ",", ""), ".", "")
	kb, err := strconv.ParseInt(mem, 10, 64)
	if err != nil {
		return ProcStats{}, err
	}
	return ProcStats{RSSBytes: kb * 1024}, nil
}

var _ ProcessTable = NetstatTable{}
