package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/berth-dev/berth/internal/config"
	"github.com/berth-dev/berth/internal/errors"
	"github.com/berth-dev/berth/internal/netprobe"
	"github.com/berth-dev/berth/internal/registry"
)

// Mode selects how Start runs the server process.
type Mode int

const (
	// Foreground blocks until the server exits. No registry record is
	// created since there is nothing to track asynchronously.
	Foreground Mode = iota

	// Background detaches the server, captures its output to a log
	// file, and records it in the registry.
	Background

	// BackgroundOpen is Background plus a best-effort browser open of
	// the instance URL once the server is up. The open never fails
	// the start.
	BackgroundOpen
)

const (
	// startupWait bounds how long Start watches a background child
	// for early death or a held port before declaring it running.
	startupWait = 2 * time.Second

	// stopWait bounds the graceful wait after SIGTERM before SIGKILL.
	stopWait = 3 * time.Second

	// portFreeRetries (x portFreeInterval) bounds restart's wait for
	// the port to come free after stopping the old instance.
	portFreeRetries  = 20
	portFreeInterval = 100 * time.Millisecond

	pollInterval = 50 * time.Millisecond
)

// Options wires a Manager. Zero-value capability fields get the real
// OS-backed implementations; tests inject fakes.
type Options struct {
	Config   *config.Config
	Registry *registry.Registry
	Prober   netprobe.Prober
	Launcher Launcher
	Table    ProcessTable
	Signaler Signaler
	Browser  BrowserOpener

	// Warnf receives non-fatal problems (registry drift, failed
	// browser opens). Nil discards them.
	Warnf func(format string, args ...any)
}

// Manager implements the server lifecycle: start, stop, restart, list,
// stats, logs, cleanup. Control flow is single-threaded and
// synchronous; spawned servers run independently and outlive the
// manager. Every mutating operation double-checks OS state right
// before acting and fails loudly on conflict.
type Manager struct {
	cfg      *config.Config
	reg      *registry.Registry
	prober   netprobe.Prober
	launcher Launcher
	table    ProcessTable
	signaler Signaler
	browser  BrowserOpener
	warnf    func(format string, args ...any)
}

// New creates a Manager from opts.
func New(opts Options) *Manager {
	warnf := opts.Warnf
	if warnf == nil {
		warnf = func(string, ...any) {}
	}

	cfg := opts.Config
	if cfg == nil {
		cfg = config.New()
	}

	reg := opts.Registry
	if reg == nil {
		reg = registry.New(cfg.RegistryDir(), func(err error) {
			warnf("registry: %v", err)
		})
	}

	m := &Manager{
		cfg:      cfg,
		reg:      reg,
		prober:   opts.Prober,
		launcher: opts.Launcher,
		table:    opts.Table,
		signaler: opts.Signaler,
		browser:  opts.Browser,
		warnf:    warnf,
	}
	if m.prober == nil {
		m.prober = netprobe.TCPProber{}
	}
	if m.launcher == nil {
		m.launcher = &ExecLauncher{}
	}
	if m.table == nil {
		m.table = NewOSProcessTable()
	}
	if m.signaler == nil {
		m.signaler = OSSignaler{}
	}
	if m.browser == nil {
		m.browser = SystemBrowser{}
	}
	return m
}

// Registry exposes the underlying registry, mainly for the CLI's
// cleanup and list paths.
func (m *Manager) Registry() *registry.Registry {
	return m.reg
}

// StartOptions configures a Start call.
type StartOptions struct {
	// Directory to serve. Must exist and be readable.
	Directory string

	// Port requests an explicit port. 0 means the configured default.
	Port int

	// FindPort scans upward from the requested (or default) port for
	// the first free one instead of failing on a bound port.
	FindPort bool

	// Host overrides the configured bind address.
	Host string

	// Mode selects foreground or background operation.
	Mode Mode
}

// Start launches a server instance. The port check happens immediately
// before spawning; the check-then-spawn window is inherently racy, so
// a lost race surfaces as PortBindError from the child rather than a
// corrupted registry — the record is written only after the child
// holds the port.
func (m *Manager) Start(ctx context.Context, opts StartOptions) (registry.Instance, error) {
	dir, err := validateDirectory(opts.Directory)
	if err != nil {
		return registry.Instance{}, err
	}

	host := opts.Host
	if host == "" {
		host = m.cfg.Host
	}

	port, err := m.resolvePort(host, opts)
	if err != nil {
		return registry.Instance{}, err
	}

	argv, err := m.serverArgv(dir, host, port)
	if err != nil {
		return registry.Instance{}, err
	}

	if opts.Mode == Foreground {
		inst := registry.Instance{
			ID:        uuid.NewString(),
			Port:      port,
			Host:      host,
			Directory: dir,
			StartedAt: time.Now(),
		}
		if err := m.launcher.RunForeground(ctx, argv, dir); err != nil {
			return registry.Instance{}, err
		}
		return inst, nil
	}

	if err := os.MkdirAll(m.cfg.LogDir(), 0755); err != nil {
		return registry.Instance{}, errors.New(errors.CodeRegistryIO).
			WithDirectory(m.cfg.LogDir()).
			Wrap(err)
	}
	logPath := filepath.Join(m.cfg.LogDir(),
		fmt.Sprintf("berth-%d-%s.log", port, time.Now().Format("20060102-150405")))

	pid, err := m.launcher.SpawnDetached(ctx, argv, dir, logPath)
	if err != nil {
		return registry.Instance{}, errors.New(errors.CodePortBindError).
			WithPort(port).
			WithDirectory(dir).
			Wrap(err)
	}

	if err := m.waitForStartup(ctx, pid, host, port, logPath); err != nil {
		return registry.Instance{}, err
	}

	inst := registry.Instance{
		ID:        uuid.NewString(),
		Port:      port,
		Host:      host,
		PID:       pid,
		Directory: dir,
		LogPath:   logPath,
		StartedAt: time.Now(),
	}
	if err := m.reg.Record(inst); err != nil {
		// The server is up; a failed record is drift, not a failed
		// start.
		m.warnf("start: %v", err)
	}

	if opts.Mode == BackgroundOpen {
		if err := m.browser.OpenURL(m.cfg.URL(port)); err != nil {
			m.warnf("open browser: %v", err)
		}
	}

	return inst, nil
}

// resolvePort turns the port preference into a concrete port, checking
// availability immediately before the spawn.
func (m *Manager) resolvePort(host string, opts StartOptions) (int, error) {
	base := opts.Port
	if base == 0 {
		base = m.cfg.Port
	}

	if opts.FindPort {
		return netprobe.FindAvailable(m.prober, host, base)
	}

	inUse, err := m.prober.InUse(host, base)
	if err != nil {
		return 0, err
	}
	if inUse {
		return 0, errors.New(errors.CodePortInUse).
			WithPort(base).
			WithSuggestion("Pass --find-port to scan for the next free port")
	}
	return base, nil
}

// waitForStartup watches a freshly spawned child until it either dies
// (startup failure, log tail attached) or holds its port. A child that
// is still alive at the deadline is assumed to be running slowly.
func (m *Manager) waitForStartup(ctx context.Context, pid int, host string, port int, logPath string) error {
	deadline := time.Now().Add(startupWait)
	for {
		if !m.table.Alive(pid) {
			return errors.New(errors.CodePortBindError).
				WithPort(port).
				WithPID(pid).
				WithDetail(startupFailureDetail(logPath))
		}

		if inUse, err := m.prober.InUse(host, port); err == nil && inUse {
			return nil
		}

		if time.Now().After(deadline) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// startupFailureDetail pulls the last lines of the child's log so the
// bind failure is explained without hunting for the file.
func startupFailureDetail(logPath string) string {
	lines, err := TailFile(logPath, 5)
	if err != nil || len(lines) == 0 {
		return "Server process exited during startup"
	}
	return "Server process exited during startup:\n" + strings.Join(lines, "\n")
}

// Selector picks an instance by port or pid. Exactly one field is set.
type Selector struct {
	Port int
	PID  int
}

func (s Selector) String() string {
	if s.PID != 0 {
		return "pid " + strconv.Itoa(s.PID)
	}
	return "port " + strconv.Itoa(s.Port)
}

// Stop terminates the selected instance and removes its registry
// record. Stopping by port prefers the recorded pid; an unrecorded
// port falls back to an OS port-to-pid lookup and refuses to guess
// when several candidates listen there.
func (m *Manager) Stop(ctx context.Context, sel Selector) error {
	pid, port, err := m.resolveStopTarget(sel)
	if err != nil {
		return err
	}

	if err := m.terminate(ctx, pid); err != nil {
		return err
	}

	if port != 0 {
		if err := m.reg.Remove(port); err != nil {
			m.warnf("stop: %v", err)
		}
	}
	return nil
}

// resolveStopTarget maps a selector to a live pid, plus the registry
// port to clean up (0 if none).
func (m *Manager) resolveStopTarget(sel Selector) (pid, port int, err error) {
	if sel.PID != 0 {
		if !m.table.Alive(sel.PID) {
			return 0, 0, errors.New(errors.CodeNotFound).WithPID(sel.PID)
		}
		// Clean up any record owning this pid.
		for _, inst := range m.reg.ListAll() {
			if inst.PID == sel.PID {
				return sel.PID, inst.Port, nil
			}
		}
		return sel.PID, 0, nil
	}

	if inst, ok := m.reg.Lookup(sel.Port); ok {
		if m.table.Alive(inst.PID) {
			return inst.PID, sel.Port, nil
		}
		// Stale record; fall through to the OS lookup but still
		// remove the record on success.
	}

	pids, err := m.table.PIDsForPort(sel.Port)
	if err != nil {
		return 0, 0, errors.New(errors.CodeProbeUnavailable).
			WithPort(sel.Port).
			Wrap(err)
	}
	switch len(pids) {
	case 0:
		// Nothing listening: drop a stale record if one exists.
		if _, ok := m.reg.Lookup(sel.Port); ok {
			if err := m.reg.Remove(sel.Port); err != nil {
				m.warnf("stop: %v", err)
			}
		}
		return 0, 0, errors.New(errors.CodeNotFound).WithPort(sel.Port)
	case 1:
		return pids[0], sel.Port, nil
	default:
		return 0, 0, errors.New(errors.CodeAmbiguousSelector).
			WithPort(sel.Port).
			WithDetail(fmt.Sprintf("Pids %v are all bound to the port; stop by --pid instead", pids))
	}
}

// terminate sends SIGTERM, waits briefly, and escalates to SIGKILL.
func (m *Manager) terminate(ctx context.Context, pid int) error {
	if err := m.signaler.Terminate(pid); err != nil {
		return errors.New(errors.CodeNotFound).WithPID(pid).Wrap(err)
	}

	deadline := time.Now().Add(stopWait)
	for time.Now().Before(deadline) {
		if !m.table.Alive(pid) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}

	if err := m.signaler.Kill(pid); err != nil && m.table.Alive(pid) {
		return errors.Newf(errors.CategoryProcess, "process %d survived SIGKILL: %v", pid, err)
	}
	return nil
}

// Restart stops the selected instance and starts a new one on the same
// port serving the same directory on the same bind address. Port,
// directory and host come from the registry or, if the record is gone,
// from OS process inspection.
func (m *Manager) Restart(ctx context.Context, sel Selector) (registry.Instance, error) {
	port, dir, host, err := m.restartInfo(sel)
	if err != nil {
		return registry.Instance{}, err
	}

	if err := m.Stop(ctx, sel); err != nil {
		return registry.Instance{}, err
	}

	if err := m.waitPortFree(ctx, host, port); err != nil {
		return registry.Instance{}, err
	}

	return m.Start(ctx, StartOptions{
		Directory: dir,
		Port:      port,
		Host:      host,
		Mode:      Background,
	})
}

// restartInfo recovers the port, directory, and bind host of the
// selected instance. Host may be empty when only the process table
// knows the instance; Start then falls back to the configured default.
func (m *Manager) restartInfo(sel Selector) (port int, dir, host string, err error) {
	if sel.Port != 0 {
		if inst, ok := m.reg.Lookup(sel.Port); ok {
			return inst.Port, inst.Directory, inst.Host, nil
		}
	}
	if sel.PID != 0 {
		for _, inst := range m.reg.ListAll() {
			if inst.PID == sel.PID {
				return inst.Port, inst.Directory, inst.Host, nil
			}
		}
	}

	// No record: inspect the process table.
	servers, listErr := m.table.ListServers()
	if listErr != nil {
		servers = nil
	}
	for _, proc := range servers {
		if (sel.PID != 0 && proc.PID == sel.PID) || (sel.Port != 0 && proc.Port == sel.Port) {
			dir := proc.Directory
			if dir == "" {
				if cwd, err := m.table.Cwd(proc.PID); err == nil {
					dir = cwd
				}
			}
			port := proc.Port
			if port == 0 {
				port = sel.Port
			}
			if dir == "" || port == 0 {
				break
			}
			return port, dir, "", nil
		}
	}

	return 0, "", "", errors.New(errors.CodeRestartInfoUnavailable).
		WithPort(sel.Port).
		WithPID(sel.PID).
		WithSuggestion("Stop the instance and start it again with an explicit directory")
}

// waitPortFree polls until the port is no longer bound on the given
// host, with bounded retries.
func (m *Manager) waitPortFree(ctx context.Context, host string, port int) error {
	if host == "" {
		host = m.cfg.Host
	}
	for i := 0; i < portFreeRetries; i++ {
		inUse, err := m.prober.InUse(host, port)
		if err == nil && !inUse {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(portFreeInterval):
		}
	}
	return errors.New(errors.CodePortInUse).
		WithPort(port).
		WithDetail("Port did not come free after stopping the previous instance")
}

// RestartResult is the outcome of one port's restart in RestartAll.
type RestartResult struct {
	Port     int
	Instance registry.Instance
	Err      error
}

// RestartAll restarts every registered instance whose process is
// alive, reporting per-port results. Dead records are skipped (cleanup
// prunes them).
func (m *Manager) RestartAll(ctx context.Context) []RestartResult {
	insts := m.reg.ListAll()
	sort.Slice(insts, func(i, j int) bool { return insts[i].Port < insts[j].Port })

	var results []RestartResult
	for _, inst := range insts {
		if !m.table.Alive(inst.PID) {
			continue
		}
		newInst, err := m.Restart(ctx, Selector{Port: inst.Port})
		results = append(results, RestartResult{Port: inst.Port, Instance: newInst, Err: err})
	}
	return results
}

// InstanceView is a unified row in List: a registry record, a live
// process, or both.
type InstanceView struct {
	registry.Instance

	// Running reports whether the pid is alive right now.
	Running bool

	// Recorded reports whether the registry knows this instance.
	// Unrecorded rows are orphans discovered in the process table,
	// with whatever metadata argv inspection could recover.
	Recorded bool
}

// List cross-references live server processes against registry
// records. Registry records with dead pids appear as not running;
// matching processes the registry does not know appear as orphans.
func (m *Manager) List(ctx context.Context) ([]InstanceView, error) {
	var views []InstanceView
	recordedPIDs := map[int]bool{}

	for _, inst := range m.reg.ListAll() {
		recordedPIDs[inst.PID] = true
		views = append(views, InstanceView{
			Instance: inst,
			Running:  m.table.Alive(inst.PID),
			Recorded: true,
		})
	}

	procs, err := m.table.ListServers()
	if err != nil {
		// The registry half of the view is still useful.
		m.warnf("list: %v", err)
		procs = nil
	}
	for _, proc := range procs {
		if recordedPIDs[proc.PID] {
			continue
		}
		dir := proc.Directory
		if dir == "" {
			if cwd, err := m.table.Cwd(proc.PID); err == nil {
				dir = cwd
			}
		}
		views = append(views, InstanceView{
			Instance: registry.Instance{
				Port:      proc.Port,
				PID:       proc.PID,
				Directory: dir,
			},
			Running:  true,
			Recorded: false,
		})
	}

	sort.Slice(views, func(i, j int) bool {
		if views[i].Port != views[j].Port {
			return views[i].Port < views[j].Port
		}
		return views[i].PID < views[j].PID
	})
	return views, nil
}

// CleanupResult summarizes a Cleanup run.
type CleanupResult struct {
	// PrunedRecords are registry records removed because their
	// process is dead.
	PrunedRecords []registry.Instance

	// PrunedLogs are orphaned log files removed for age.
	PrunedLogs []string
}

// Cleanup reconciles the registry (orphan reclamation) and prunes
// orphaned log files older than the configured retention.
func (m *Manager) Cleanup(ctx context.Context) CleanupResult {
	result := CleanupResult{
		PrunedRecords: m.reg.Reconcile(m.table.Alive),
	}

	keep := map[string]bool{}
	for _, inst := range m.reg.ListAll() {
		if inst.LogPath != "" {
			keep[inst.LogPath] = true
		}
	}

	cutoff := time.Now().AddDate(0, 0, -m.cfg.Logs.RetentionDays)
	entries, err := os.ReadDir(m.cfg.LogDir())
	if err != nil {
		return result
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		path := filepath.Join(m.cfg.LogDir(), entry.Name())
		if keep[path] {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			m.warnf("cleanup: %v", err)
			continue
		}
		result.PrunedLogs = append(result.PrunedLogs, path)
	}
	return result
}

// OpenBrowser opens the selected instance's URL in the default
// browser. The instance must be known and alive.
func (m *Manager) OpenBrowser(sel Selector) error {
	port := sel.Port
	if port == 0 {
		found := false
		for _, inst := range m.reg.ListAll() {
			if inst.PID == sel.PID {
				port, found = inst.Port, true
				break
			}
		}
		if !found {
			return errors.New(errors.CodeNotFound).WithPID(sel.PID)
		}
	}

	if inst, ok := m.reg.Lookup(port); ok && !m.table.Alive(inst.PID) {
		return errors.New(errors.CodeNotFound).WithPort(port).
			WithDetail("The recorded process is no longer alive")
	}

	return m.browser.OpenURL(m.cfg.URL(port))
}

// validateDirectory resolves and checks the directory to serve.
func validateDirectory(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", errors.New(errors.CodeInvalidTarget).WithDirectory(dir).Wrap(err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", errors.New(errors.CodeInvalidTarget).WithDirectory(abs)
	}
	if _, err := os.ReadDir(abs); err != nil {
		return "", errors.New(errors.CodeInvalidTarget).WithDirectory(abs).Wrap(err)
	}
	return abs, nil
}

// serverArgv builds the command line for a server instance: the
// configured custom command with placeholders substituted, or this
// binary's own serve subcommand.
func (m *Manager) serverArgv(dir, host string, port int) ([]string, error) {
	if cmdline := m.cfg.Server.Command; cmdline != "" {
		expanded := strings.NewReplacer(
			"{{dir}}", dir,
			"{{host}}", host,
			"{{port}}", strconv.Itoa(port),
		).Replace(cmdline)
		argv := strings.Fields(expanded)
		if len(argv) == 0 {
			return nil, errors.New(errors.CodeConfigInvalid).
				WithDetail("server.command expands to an empty command line")
		}
		return argv, nil
	}

	self, err := os.Executable()
	if err != nil {
		return nil, errors.Newf(errors.CategoryProcess, "cannot locate own executable: %v", err)
	}
	argv := []string{
		self, "serve",
		"--dir", dir,
		"--host", host,
		"--port", strconv.Itoa(port),
	}
	if !m.cfg.ListingEnabled() {
		argv = append(argv, "--no-listing")
	}
	if m.cfg.Serve.Tracing {
		argv = append(argv, "--tracing")
	}
	return argv, nil
}
