package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/berth-dev/berth/internal/errors"
)

func newTestRegistry(t *testing.T) (*Registry, *[]error) {
	t.Helper()
	var warnings []error
	r := New(filepath.Join(t.TempDir(), "registry"), func(err error) {
		warnings = append(warnings, err)
	})
	return r, &warnings
}

func testInstance(port, pid int) Instance {
	return Instance{
		ID:        "test-id",
		Port:      port,
		Host:      "127.0.0.1",
		PID:       pid,
		Directory: "/tmp/site",
		LogPath:   "/tmp/logs/berth-8000.log",
		StartedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestRecordLookup(t *testing.T) {
	r, _ := newTestRegistry(t)

	inst := testInstance(8000, 4242)
	if err := r.Record(inst); err != nil {
		t.Fatal(err)
	}

	got, ok := r.Lookup(8000)
	if !ok {
		t.Fatal("Lookup(8000) = absent after Record")
	}
	if got.Directory != inst.Directory {
		t.Errorf("Directory = %q, want %q", got.Directory, inst.Directory)
	}
	if got.PID != 4242 {
		t.Errorf("PID = %d, want 4242", got.PID)
	}
	if got.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want 127.0.0.1", got.Host)
	}
	if !got.StartedAt.Equal(inst.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, inst.StartedAt)
	}
}

func TestLookupAbsent(t *testing.T) {
	r, warnings := newTestRegistry(t)

	if _, ok := r.Lookup(8000); ok {
		t.Error("Lookup on an empty registry should be absent")
	}
	if len(*warnings) != 0 {
		t.Errorf("missing record should not warn, got %v", *warnings)
	}
}

func TestRecordOverwrite(t *testing.T) {
	r, _ := newTestRegistry(t)

	if err := r.Record(testInstance(8000, 100)); err != nil {
		t.Fatal(err)
	}

	// Restart path: same port, new pid/log/start
	replacement := testInstance(8000, 200)
	replacement.ID = "second-id"
	if err := r.Record(replacement); err != nil {
		t.Fatal(err)
	}

	got, ok := r.Lookup(8000)
	if !ok {
		t.Fatal("record vanished after overwrite")
	}
	if got.PID != 200 || got.ID != "second-id" {
		t.Errorf("overwrite not applied: %+v", got)
	}

	if all := r.ListAll(); len(all) != 1 {
		t.Errorf("ListAll after overwrite has %d records, want 1", len(all))
	}
}

func TestRemove(t *testing.T) {
	r, _ := newTestRegistry(t)

	if err := r.Record(testInstance(8000, 100)); err != nil {
		t.Fatal(err)
	}
	if err := r.Remove(8000); err != nil {
		t.Fatal(err)
	}
	if _, ok := r.Lookup(8000); ok {
		t.Error("record still present after Remove")
	}

	// Removing again is fine
	if err := r.Remove(8000); err != nil {
		t.Errorf("Remove of absent record: %v", err)
	}
}

func TestCorruptRecordTreatedAsAbsent(t *testing.T) {
	r, warnings := newTestRegistry(t)

	if err := os.MkdirAll(r.Dir(), 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(r.Dir(), "8000.json")
	if err := os.WriteFile(path, []byte("{truncated"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, ok := r.Lookup(8000); ok {
		t.Error("corrupt record should be absent")
	}
	if len(*warnings) == 0 {
		t.Fatal("corrupt record should warn")
	}
	if !errors.IsCode((*warnings)[0], errors.CodeRegistryIO) {
		t.Errorf("warning = %v, want E110", (*warnings)[0])
	}
}

func TestMismatchedPortTreatedAsAbsent(t *testing.T) {
	r, warnings := newTestRegistry(t)

	// A record for port 9000 sitting at 8000.json is drift, not truth.
	inst := testInstance(9000, 100)
	if err := r.Record(inst); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(r.Dir(), "9000.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(r.Dir(), "8000.json"), data, 0644); err != nil {
		t.Fatal(err)
	}

	if _, ok := r.Lookup(8000); ok {
		t.Error("mismatched record should be absent")
	}
	if len(*warnings) == 0 {
		t.Error("mismatched record should warn")
	}
}

func TestListAll(t *testing.T) {
	r, _ := newTestRegistry(t)

	if got := r.ListAll(); got != nil {
		t.Errorf("ListAll on missing dir = %v, want nil", got)
	}

	for _, port := range []int{8000, 8001, 9090} {
		if err := r.Record(testInstance(port, port+1000)); err != nil {
			t.Fatal(err)
		}
	}
	// Stray files are ignored
	if err := os.WriteFile(filepath.Join(r.Dir(), "README.txt"), []byte("hi"), 0644); err != nil {
		t.Fatal(err)
	}

	all := r.ListAll()
	if len(all) != 3 {
		t.Fatalf("ListAll = %d records, want 3", len(all))
	}
	seen := map[int]bool{}
	for _, inst := range all {
		seen[inst.Port] = true
	}
	for _, port := range []int{8000, 8001, 9090} {
		if !seen[port] {
			t.Errorf("ListAll missing port %d", port)
		}
	}
}

func TestReconcile(t *testing.T) {
	r, _ := newTestRegistry(t)

	if err := r.Record(testInstance(8000, 100)); err != nil {
		t.Fatal(err)
	}
	if err := r.Record(testInstance(8001, 200)); err != nil {
		t.Fatal(err)
	}
	if err := r.Record(testInstance(8002, 300)); err != nil {
		t.Fatal(err)
	}

	// Only pid 200 survived.
	pruned := r.Reconcile(func(pid int) bool { return pid == 200 })

	if len(pruned) != 2 {
		t.Fatalf("pruned %d records, want 2", len(pruned))
	}
	if _, ok := r.Lookup(8001); !ok {
		t.Error("live record was pruned")
	}
	if _, ok := r.Lookup(8000); ok {
		t.Error("dead record 8000 survived reconcile")
	}
	if _, ok := r.Lookup(8002); ok {
		t.Error("dead record 8002 survived reconcile")
	}
}

func TestPortFromName(t *testing.T) {
	tests := []struct {
		name string
		port int
		ok   bool
	}{
		{"8000.json", 8000, true},
		{"1.json", 1, true},
		{"notaport.json", 0, false},
		{"8000.txt", 0, false},
		{"-1.json", 0, false},
		{".8000-abc.tmp", 0, false},
	}
	for _, tt := range tests {
		port, ok := portFromName(tt.name)
		if port != tt.port || ok != tt.ok {
			t.Errorf("portFromName(%q) = (%d, %v), want (%d, %v)", tt.name, port, ok, tt.port, tt.ok)
		}
	}
}
