package manager

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/berth-dev/berth/internal/config"
	"github.com/berth-dev/berth/internal/errors"
	"github.com/berth-dev/berth/internal/registry"
)

// fakeWorld simulates the OS for manager tests: processes, bound
// ports, signals, and the browser. All capabilities share it.
type fakeWorld struct {
	nextPID int
	procs   map[int]*fakeProc

	// busyPorts are ports bound by unrelated processes.
	busyPorts map[int]bool

	// extraPIDsForPort overrides the port->pid lookup, for ambiguity
	// scenarios.
	extraPIDsForPort map[int][]int

	// dieOnSpawn makes spawned processes exit immediately, as a
	// server losing the bind race would.
	dieOnSpawn bool

	openedURLs []string
}

type fakeProc struct {
	argv  []string
	dir   string
	port  int
	alive bool
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{
		nextPID:          1000,
		procs:            map[int]*fakeProc{},
		busyPorts:        map[int]bool{},
		extraPIDsForPort: map[int][]int{},
	}
}

// addProc plants a live process directly, as if some other manager
// invocation (or a user) had started it.
func (w *fakeWorld) addProc(port int, dir string) int {
	w.nextPID++
	pid := w.nextPID
	w.procs[pid] = &fakeProc{
		argv:  []string{"berth", "serve", "--dir", dir, "--port", strconv.Itoa(port)},
		dir:   dir,
		port:  port,
		alive: true,
	}
	return pid
}

func (w *fakeWorld) portBound(port int) bool {
	if w.busyPorts[port] {
		return true
	}
	for _, p := range w.procs {
		if p.alive && p.port == port {
			return true
		}
	}
	return false
}

type fakeLauncher struct{ w *fakeWorld }

func (l fakeLauncher) SpawnDetached(ctx context.Context, argv []string, dir, logPath string) (int, error) {
	l.w.nextPID++
	pid := l.w.nextPID

	port, flagDir := parseServeFlags(argv)
	if flagDir == "" {
		flagDir = dir
	}

	proc := &fakeProc{argv: argv, dir: flagDir, port: port, alive: true}
	if l.w.dieOnSpawn || l.w.busyPorts[port] {
		proc.alive = false
		os.WriteFile(logPath, []byte("listen tcp: address already in use\n"), 0644)
	} else {
		os.WriteFile(logPath, []byte("serving\n"), 0644)
	}
	l.w.procs[pid] = proc
	return pid, nil
}

func (l fakeLauncher) RunForeground(ctx context.Context, argv []string, dir string) error {
	return nil
}

type fakeProber struct{ w *fakeWorld }

func (p fakeProber) InUse(host string, port int) (bool, error) {
	return p.w.portBound(port), nil
}

type fakeTable struct{ w *fakeWorld }

func (t fakeTable) Alive(pid int) bool {
	proc, ok := t.w.procs[pid]
	return ok && proc.alive
}

func (t fakeTable) ListServers() ([]ProcessInfo, error) {
	var out []ProcessInfo
	for pid, proc := range t.w.procs {
		if !proc.alive {
			continue
		}
		out = append(out, ProcessInfo{
			PID:       pid,
			Port:      proc.port,
			Directory: proc.dir,
			Cmdline:   proc.argv,
		})
	}
	return out, nil
}

func (t fakeTable) PIDsForPort(port int) ([]int, error) {
	if pids, ok := t.w.extraPIDsForPort[port]; ok {
		return pids, nil
	}
	var pids []int
	for pid, proc := range t.w.procs {
		if proc.alive && proc.port == port {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}

func (t fakeTable) Cwd(pid int) (string, error) {
	if proc, ok := t.w.procs[pid]; ok {
		return proc.dir, nil
	}
	return "", os.ErrProcessDone
}

func (t fakeTable) Stats(pid int) (ProcStats, error) {
	return ProcStats{RSSBytes: 4 << 20, CPUSeconds: 1.5, NumThreads: 7}, nil
}

type fakeSignaler struct{ w *fakeWorld }

func (s fakeSignaler) Terminate(pid int) error {
	if proc, ok := s.w.procs[pid]; ok {
		proc.alive = false
		return nil
	}
	return os.ErrProcessDone
}

func (s fakeSignaler) Kill(pid int) error {
	return s.Terminate(pid)
}

type fakeBrowser struct{ w *fakeWorld }

func (b fakeBrowser) OpenURL(url string) error {
	b.w.openedURLs = append(b.w.openedURLs, url)
	return nil
}

// newTestManager wires a Manager over a fresh fake world and temp
// state dir.
func newTestManager(t *testing.T) (*Manager, *fakeWorld) {
	t.Helper()
	w := newFakeWorld()

	cfg := config.New()
	cfg.StateDir = t.TempDir()
	cfg.Host = "127.0.0.1"
	cfg.Port = 8000

	m := New(Options{
		Config:   cfg,
		Prober:   fakeProber{w},
		Launcher: fakeLauncher{w},
		Table:    fakeTable{w},
		Signaler: fakeSignaler{w},
		Browser:  fakeBrowser{w},
	})
	return m, w
}

func siteDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>hi</h1>"), 0644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestStartBackground(t *testing.T) {
	m, w := newTestManager(t)
	dir := siteDir(t)

	inst, err := m.Start(context.Background(), StartOptions{
		Directory: dir,
		Port:      8000,
		Mode:      Background,
	})
	if err != nil {
		t.Fatal(err)
	}

	if inst.Port != 8000 {
		t.Errorf("Port = %d, want 8000", inst.Port)
	}
	if inst.Directory != dir {
		t.Errorf("Directory = %q, want %q", inst.Directory, dir)
	}
	if inst.ID == "" {
		t.Error("instance should get an ID")
	}

	rec, ok := m.Registry().Lookup(8000)
	if !ok {
		t.Fatal("no registry record after background start")
	}
	if rec.Directory != dir {
		t.Errorf("recorded Directory = %q, want %q", rec.Directory, dir)
	}
	if !w.procs[rec.PID].alive {
		t.Error("recorded pid should be alive")
	}
	if !w.portBound(8000) {
		t.Error("port 8000 should be bound after start")
	}
	if len(w.openedURLs) != 0 {
		t.Errorf("plain background start should not open a browser, got %v", w.openedURLs)
	}
}

func TestStartPortInUse(t *testing.T) {
	m, w := newTestManager(t)
	w.busyPorts[8000] = true

	_, err := m.Start(context.Background(), StartOptions{
		Directory: siteDir(t),
		Port:      8000,
		Mode:      Background,
	})
	if !errors.IsCode(err, errors.CodePortInUse) {
		t.Fatalf("err = %v, want E102", err)
	}
	if _, ok := m.Registry().Lookup(8000); ok {
		t.Error("no record should be created for a failed start")
	}
}

func TestStartFindPort(t *testing.T) {
	m, w := newTestManager(t)
	for _, p := range []int{8000, 8001, 8002} {
		w.busyPorts[p] = true
	}

	inst, err := m.Start(context.Background(), StartOptions{
		Directory: siteDir(t),
		Port:      8000,
		FindPort:  true,
		Mode:      Background,
	})
	if err != nil {
		t.Fatal(err)
	}
	if inst.Port != 8003 {
		t.Errorf("Port = %d, want 8003", inst.Port)
	}
}

func TestStartInvalidDirectory(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Start(context.Background(), StartOptions{
		Directory: "/definitely/not/a/dir",
		Mode:      Background,
	})
	if !errors.IsCode(err, errors.CodeInvalidTarget) {
		t.Fatalf("err = %v, want E101", err)
	}
}

func TestStartLostBindRace(t *testing.T) {
	m, w := newTestManager(t)
	w.dieOnSpawn = true

	_, err := m.Start(context.Background(), StartOptions{
		Directory: siteDir(t),
		Port:      8000,
		Mode:      Background,
	})
	if !errors.IsCode(err, errors.CodePortBindError) {
		t.Fatalf("err = %v, want E103", err)
	}
	if _, ok := m.Registry().Lookup(8000); ok {
		t.Error("lost race must not leave a registry record")
	}
}

func TestStartBackgroundOpen(t *testing.T) {
	m, w := newTestManager(t)

	_, err := m.Start(context.Background(), StartOptions{
		Directory: siteDir(t),
		Port:      8000,
		Mode:      BackgroundOpen,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(w.openedURLs) != 1 || w.openedURLs[0] != "http://127.0.0.1:8000/" {
		t.Errorf("openedURLs = %v", w.openedURLs)
	}
}

func TestStartDefaultPortFromConfig(t *testing.T) {
	m, _ := newTestManager(t)

	inst, err := m.Start(context.Background(), StartOptions{
		Directory: siteDir(t),
		Mode:      Background,
	})
	if err != nil {
		t.Fatal(err)
	}
	if inst.Port != 8000 {
		t.Errorf("Port = %d, want config default 8000", inst.Port)
	}
}

func TestStopByPort(t *testing.T) {
	m, w := newTestManager(t)

	inst, err := m.Start(context.Background(), StartOptions{
		Directory: siteDir(t),
		Port:      8000,
		Mode:      Background,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Stop(context.Background(), Selector{Port: 8000}); err != nil {
		t.Fatal(err)
	}

	if _, ok := m.Registry().Lookup(8000); ok {
		t.Error("record should be gone after stop")
	}
	if w.procs[inst.PID].alive {
		t.Error("process should be dead after stop")
	}
}

func TestStopByPID(t *testing.T) {
	m, w := newTestManager(t)

	inst, err := m.Start(context.Background(), StartOptions{
		Directory: siteDir(t),
		Port:      8000,
		Mode:      Background,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Stop(context.Background(), Selector{PID: inst.PID}); err != nil {
		t.Fatal(err)
	}
	if w.procs[inst.PID].alive {
		t.Error("process should be dead")
	}
	if _, ok := m.Registry().Lookup(8000); ok {
		t.Error("record owning the pid should be cleaned up")
	}
}

func TestStopNothingThere(t *testing.T) {
	m, _ := newTestManager(t)

	err := m.Stop(context.Background(), Selector{Port: 8000})
	if !errors.IsCode(err, errors.CodeNotFound) {
		t.Fatalf("err = %v, want E104", err)
	}
}

func TestStopUnrecordedViaOSLookup(t *testing.T) {
	m, w := newTestManager(t)

	// A server somebody started outside this manager.
	pid := w.addProc(8000, "/srv/other")

	if err := m.Stop(context.Background(), Selector{Port: 8000}); err != nil {
		t.Fatal(err)
	}
	if w.procs[pid].alive {
		t.Error("unrecorded process should be stopped via OS lookup")
	}
}

func TestStopAmbiguousPort(t *testing.T) {
	m, w := newTestManager(t)
	w.extraPIDsForPort[8000] = []int{111, 222}

	err := m.Stop(context.Background(), Selector{Port: 8000})
	if !errors.IsCode(err, errors.CodeAmbiguousSelector) {
		t.Fatalf("err = %v, want E106", err)
	}
}

func TestStopStaleRecordRemoved(t *testing.T) {
	m, _ := newTestManager(t)

	// A record whose process never existed in this world.
	stale := registry.Instance{ID: "x", Port: 8000, PID: 99999, Directory: "/gone", StartedAt: time.Now()}
	if err := m.Registry().Record(stale); err != nil {
		t.Fatal(err)
	}

	err := m.Stop(context.Background(), Selector{Port: 8000})
	if !errors.IsCode(err, errors.CodeNotFound) {
		t.Fatalf("err = %v, want E104", err)
	}
	if _, ok := m.Registry().Lookup(8000); ok {
		t.Error("stale record should be dropped by the failed stop")
	}
}

func TestRestartPreservesDirectoryAndPort(t *testing.T) {
	m, _ := newTestManager(t)
	dir := siteDir(t)

	first, err := m.Start(context.Background(), StartOptions{
		Directory: dir,
		Port:      8000,
		Mode:      Background,
	})
	if err != nil {
		t.Fatal(err)
	}

	second, err := m.Restart(context.Background(), Selector{Port: 8000})
	if err != nil {
		t.Fatal(err)
	}

	if second.Port != 8000 {
		t.Errorf("Port = %d, want 8000", second.Port)
	}
	if second.Directory != dir {
		t.Errorf("Directory = %q, want %q", second.Directory, dir)
	}
	if second.PID == first.PID {
		t.Error("restart should yield a new pid")
	}
	if second.ID == first.ID {
		t.Error("restart should issue a new instance ID")
	}

	rec, ok := m.Registry().Lookup(8000)
	if !ok {
		t.Fatal("record missing after restart")
	}
	if rec.PID != second.PID {
		t.Errorf("record PID = %d, want %d", rec.PID, second.PID)
	}
}

func TestRestartPreservesHost(t *testing.T) {
	m, _ := newTestManager(t)
	dir := siteDir(t)

	// Explicit bind address differing from the config default.
	first, err := m.Start(context.Background(), StartOptions{
		Directory: dir,
		Port:      8000,
		Host:      "0.0.0.0",
		Mode:      Background,
	})
	if err != nil {
		t.Fatal(err)
	}
	if first.Host != "0.0.0.0" {
		t.Fatalf("recorded Host = %q, want 0.0.0.0", first.Host)
	}

	second, err := m.Restart(context.Background(), Selector{Port: 8000})
	if err != nil {
		t.Fatal(err)
	}
	if second.Host != "0.0.0.0" {
		t.Errorf("restarted Host = %q, want the original bind address", second.Host)
	}

	rec, ok := m.Registry().Lookup(8000)
	if !ok {
		t.Fatal("record missing after restart")
	}
	if rec.Host != "0.0.0.0" {
		t.Errorf("record Host = %q after restart, want 0.0.0.0", rec.Host)
	}
}

func TestRestartInfoUnavailable(t *testing.T) {
	m, _ := newTestManager(t)

	for _, sel := range []Selector{{Port: 8000}, {PID: 4242}} {
		_, err := m.Restart(context.Background(), sel)
		if !errors.IsCode(err, errors.CodeRestartInfoUnavailable) {
			t.Fatalf("Restart(%s): err = %v, want E105", sel, err)
		}
	}
}

func TestRestartRecoversFromProcessTable(t *testing.T) {
	m, w := newTestManager(t)
	dir := siteDir(t)

	// Live server with no registry record.
	w.addProc(8000, dir)

	inst, err := m.Restart(context.Background(), Selector{Port: 8000})
	if err != nil {
		t.Fatal(err)
	}
	if inst.Directory != dir {
		t.Errorf("Directory = %q, want %q recovered from the process table", inst.Directory, dir)
	}
	if inst.Port != 8000 {
		t.Errorf("Port = %d, want 8000", inst.Port)
	}
}

func TestRestartAll(t *testing.T) {
	m, _ := newTestManager(t)
	dirA, dirB := siteDir(t), siteDir(t)

	if _, err := m.Start(context.Background(), StartOptions{Directory: dirA, Port: 8000, Mode: Background}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Start(context.Background(), StartOptions{Directory: dirB, Port: 8001, Mode: Background}); err != nil {
		t.Fatal(err)
	}
	// Plus a dead record that should be skipped.
	dead := registry.Instance{ID: "d", Port: 9000, PID: 99999, Directory: dirA, StartedAt: time.Now()}
	if err := m.Registry().Record(dead); err != nil {
		t.Fatal(err)
	}

	results := m.RestartAll(context.Background())
	if len(results) != 2 {
		t.Fatalf("restarted %d instances, want 2", len(results))
	}
	for _, res := range results {
		if res.Err != nil {
			t.Errorf("port %d: %v", res.Port, res.Err)
		}
	}
	if results[0].Port != 8000 || results[1].Port != 8001 {
		t.Errorf("ports = %d,%d, want 8000,8001", results[0].Port, results[1].Port)
	}
}

func TestList(t *testing.T) {
	m, w := newTestManager(t)
	dir := siteDir(t)

	// One healthy recorded instance.
	if _, err := m.Start(context.Background(), StartOptions{Directory: dir, Port: 8000, Mode: Background}); err != nil {
		t.Fatal(err)
	}
	// One stale record.
	stale := registry.Instance{ID: "s", Port: 8001, PID: 99999, Directory: dir, StartedAt: time.Now()}
	if err := m.Registry().Record(stale); err != nil {
		t.Fatal(err)
	}
	// One orphan process.
	orphanPID := w.addProc(8002, "/srv/orphan")

	views, err := m.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(views) != 3 {
		t.Fatalf("got %d views, want 3: %+v", len(views), views)
	}

	byPort := map[int]InstanceView{}
	for _, v := range views {
		byPort[v.Port] = v
	}

	if v := byPort[8000]; !v.Running || !v.Recorded {
		t.Errorf("8000 = %+v, want running and recorded", v)
	}
	if v := byPort[8001]; v.Running || !v.Recorded {
		t.Errorf("8001 = %+v, want stale record", v)
	}
	if v := byPort[8002]; !v.Running || v.Recorded || v.PID != orphanPID {
		t.Errorf("8002 = %+v, want orphan with pid %d", v, orphanPID)
	}
	if byPort[8002].Directory != "/srv/orphan" {
		t.Errorf("orphan directory = %q", byPort[8002].Directory)
	}
}

func TestCleanup(t *testing.T) {
	m, _ := newTestManager(t)
	dir := siteDir(t)

	if _, err := m.Start(context.Background(), StartOptions{Directory: dir, Port: 8000, Mode: Background}); err != nil {
		t.Fatal(err)
	}
	stale := registry.Instance{ID: "s", Port: 8001, PID: 99999, Directory: dir, StartedAt: time.Now()}
	if err := m.Registry().Record(stale); err != nil {
		t.Fatal(err)
	}

	// An orphaned, old log file and a fresh one.
	oldLog := filepath.Join(m.cfg.LogDir(), "berth-9000-20200101-000000.log")
	freshLog := filepath.Join(m.cfg.LogDir(), "berth-9001-20300101-000000.log")
	for _, p := range []string{oldLog, freshLog} {
		if err := os.WriteFile(p, []byte("old\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	ancient := time.Now().AddDate(0, 0, -30)
	if err := os.Chtimes(oldLog, ancient, ancient); err != nil {
		t.Fatal(err)
	}

	result := m.Cleanup(context.Background())

	if len(result.PrunedRecords) != 1 || result.PrunedRecords[0].Port != 8001 {
		t.Errorf("PrunedRecords = %+v, want just port 8001", result.PrunedRecords)
	}
	if _, ok := m.Registry().Lookup(8000); !ok {
		t.Error("live record should survive cleanup")
	}
	if len(result.PrunedLogs) != 1 || result.PrunedLogs[0] != oldLog {
		t.Errorf("PrunedLogs = %v, want just the old log", result.PrunedLogs)
	}
	if _, err := os.Stat(freshLog); err != nil {
		t.Error("fresh log should survive cleanup")
	}
	// The live instance's own log must survive regardless of age.
	rec, _ := m.Registry().Lookup(8000)
	if _, err := os.Stat(rec.LogPath); err != nil {
		t.Error("active instance log should survive cleanup")
	}
}

func TestOpenBrowser(t *testing.T) {
	m, w := newTestManager(t)

	if _, err := m.Start(context.Background(), StartOptions{Directory: siteDir(t), Port: 8000, Mode: Background}); err != nil {
		t.Fatal(err)
	}

	if err := m.OpenBrowser(Selector{Port: 8000}); err != nil {
		t.Fatal(err)
	}
	if len(w.openedURLs) != 1 {
		t.Fatalf("openedURLs = %v", w.openedURLs)
	}

	if err := m.OpenBrowser(Selector{PID: 424242}); !errors.IsCode(err, errors.CodeNotFound) {
		t.Errorf("err = %v, want E104", err)
	}
}

func TestStats(t *testing.T) {
	m, _ := newTestManager(t)

	if _, err := m.Start(context.Background(), StartOptions{Directory: siteDir(t), Port: 8000, Mode: Background}); err != nil {
		t.Fatal(err)
	}

	stats, err := m.Stats(Selector{Port: 8000})
	if err != nil {
		t.Fatal(err)
	}
	if !stats.Running {
		t.Error("instance should be running")
	}
	if stats.RSSBytes != 4<<20 {
		t.Errorf("RSSBytes = %d", stats.RSSBytes)
	}
	if stats.NumThreads != 7 {
		t.Errorf("NumThreads = %d", stats.NumThreads)
	}
	if stats.LogSizeBytes == 0 {
		t.Error("log size should be nonzero")
	}
	// No real HTTP server behind the fake: the scrape is best-effort
	// and reports unavailable.
	if stats.RequestsTotal != -1 {
		t.Errorf("RequestsTotal = %d, want -1", stats.RequestsTotal)
	}
}

func TestStatsNotFound(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Stats(Selector{Port: 8000})
	if !errors.IsCode(err, errors.CodeNotFound) {
		t.Fatalf("err = %v, want E104", err)
	}
}

func TestLogPath(t *testing.T) {
	m, _ := newTestManager(t)

	inst, err := m.Start(context.Background(), StartOptions{Directory: siteDir(t), Port: 8000, Mode: Background})
	if err != nil {
		t.Fatal(err)
	}

	path, err := m.LogPath(Selector{Port: 8000})
	if err != nil {
		t.Fatal(err)
	}
	if path != inst.LogPath {
		t.Errorf("LogPath = %q, want %q", path, inst.LogPath)
	}

	if _, err := m.LogPath(Selector{Port: 9999}); !errors.IsCode(err, errors.CodeNotFound) {
		t.Errorf("err = %v, want E104", err)
	}
}
