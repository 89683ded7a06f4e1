//go:build linux

package manager

import (
	"fmt"
	"sort"

	"github.com/prometheus/procfs"
)

// tcpListenState is the LISTEN entry in /proc/net/tcp's St column.
const tcpListenState = 10

// ProcfsTable is the Linux ProcessTable: structured queries against
// /proc instead of scraping ps/lsof output.
type ProcfsTable struct{}

// NewOSProcessTable returns the platform's real process table.
func NewOSProcessTable() ProcessTable {
	return ProcfsTable{}
}

// Alive reports whether /proc has an entry for the pid.
func (ProcfsTable) Alive(pid int) bool {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return false
	}
	_, err = fs.Proc(pid)
	return err == nil
}

// ListServers scans all processes for argv shapes matching a server
// command.
func (ProcfsTable) ListServers() ([]ProcessInfo, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, err
	}
	procs, err := fs.AllProcs()
	if err != nil {
		return nil, err
	}

	var out []ProcessInfo
	for _, p := range procs {
		argv, err := p.CmdLine()
		if err != nil || len(argv) == 0 {
			// Process likely exited mid-scan; skip it.
			continue
		}
		port, dir, ok := MatchServeCmdline(argv)
		if !ok {
			continue
		}
		out = append(out, ProcessInfo{
			PID:       p.PID,
			Port:      port,
			Directory: dir,
			Cmdline:   argv,
		})
	}
	return out, nil
}

// PIDsForPort maps a listening TCP port to owning pids by joining
// /proc/net/tcp{,6} socket inodes against /proc/<pid>/fd targets.
func (ProcfsTable) PIDsForPort(port int) ([]int, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, err
	}

	inodes := map[uint64]bool{}
	if tcp, err := fs.NetTCP(); err == nil {
		for _, line := range tcp {
			if line.St == tcpListenState && int(line.LocalPort) == port {
				inodes[line.Inode] = true
			}
		}
	}
	if tcp6, err := fs.NetTCP6(); err == nil {
		for _, line := range tcp6 {
			if line.St == tcpListenState && int(line.LocalPort) == port {
				inodes[line.Inode] = true
			}
		}
	}
	if len(inodes) == 0 {
		return nil, nil
	}

	sockets := map[string]bool{}
	for inode := range inodes {
		sockets[fmt.Sprintf("socket:[%d]", inode)] = true
	}

	procs, err := fs.AllProcs()
	if err != nil {
		return nil, err
	}

	pidSet := map[int]bool{}
	for _, p := range procs {
		targets, err := p.FileDescriptorTargets()
		if err != nil {
			// Usually a permissions problem on someone else's
			// process; skip it.
			continue
		}
		for _, target := range targets {
			if sockets[target] {
				pidSet[p.PID] = true
				break
			}
		}
	}

	pids := make([]int, 0, len(pidSet))
	for pid := range pidSet {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids, nil
}

// Cwd returns the working directory of a process.
func (ProcfsTable) Cwd(pid int) (string, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return "", err
	}
	p, err := fs.Proc(pid)
	if err != nil {
		return "", err
	}
	return p.Cwd()
}

// Stats reads RSS, accumulated CPU time, and thread count from
// /proc/<pid>/stat.
func (ProcfsTable) Stats(pid int) (ProcStats, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return ProcStats{}, err
	}
	p, err := fs.Proc(pid)
	if err != nil {
		return ProcStats{}, err
	}
	stat, err := p.Stat()
	if err != nil {
		return ProcStats{}, err
	}
	return ProcStats{
		RSSBytes:   int64(stat.ResidentMemory()),
		CPUSeconds: stat.CPUTime(),
		NumThreads: stat.NumThreads,
	}, nil
}
