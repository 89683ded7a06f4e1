package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/berth-dev/berth/internal/errors"
)

// Instance is one tracked file-serving process. The registry keys
// instances by port; at most one live instance exists per port.
type Instance struct {
	// ID identifies this particular launch. Restarting a port issues
	// a new ID.
	ID string `json:"id"`

	// Port the server is bound to. Unique key while the process lives.
	Port int `json:"port"`

	// Host is the bind address the server was started with. Empty in
	// records written before the field existed; callers fall back to
	// the configured default.
	Host string `json:"host,omitempty"`

	// PID of the spawned server process.
	PID int `json:"pid"`

	// Directory being served.
	Directory string `json:"directory"`

	// LogPath is the captured stdout/stderr of the process. Empty for
	// foreground runs.
	LogPath string `json:"logPath,omitempty"`

	// StartedAt is when the process was spawned.
	StartedAt time.Time `json:"startedAt"`
}

// Registry persists one small JSON record per port in a directory.
// It is the source of truth for "known" instances but can drift from
// reality; callers reconcile rather than assume consistency.
type Registry struct {
	dir  string
	warn func(error)
}

// New creates a registry rooted at dir. The warn callback receives
// non-fatal I/O problems (corrupt or unreadable records); nil disables
// it. Records with problems are treated as absent, never as a crash.
func New(dir string, warn func(error)) *Registry {
	if warn == nil {
		warn = func(error) {}
	}
	return &Registry{dir: dir, warn: warn}
}

// Dir returns the directory records are stored in.
func (r *Registry) Dir() string {
	return r.dir
}

// Record persists an instance, overwriting any prior record for the
// same port. The write goes through a temp file and a rename so a
// concurrent reader never sees a partial record.
func (r *Registry) Record(inst Instance) error {
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return errors.New(errors.CodeRegistryIO).WithPort(inst.Port).Wrap(err)
	}

	data, err := json.MarshalIndent(inst, "", "  ")
	if err != nil {
		return errors.New(errors.CodeRegistryIO).WithPort(inst.Port).Wrap(err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(r.dir, fmt.Sprintf(".%d-*.tmp", inst.Port))
	if err != nil {
		return errors.New(errors.CodeRegistryIO).WithPort(inst.Port).Wrap(err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.New(errors.CodeRegistryIO).WithPort(inst.Port).Wrap(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.New(errors.CodeRegistryIO).WithPort(inst.Port).Wrap(err)
	}

	if err := os.Rename(tmpName, r.recordPath(inst.Port)); err != nil {
		os.Remove(tmpName)
		return errors.New(errors.CodeRegistryIO).WithPort(inst.Port).Wrap(err)
	}
	return nil
}

// Lookup returns the record for a port, or ok=false if absent. An
// unreadable or corrupt record counts as absent and is reported via
// the warn callback.
func (r *Registry) Lookup(port int) (Instance, bool) {
	data, err := os.ReadFile(r.recordPath(port))
	if err != nil {
		if !os.IsNotExist(err) {
			r.warn(errors.New(errors.CodeRegistryIO).WithPort(port).Wrap(err))
		}
		return Instance{}, false
	}

	var inst Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		r.warn(errors.New(errors.CodeRegistryIO).WithPort(port).
			WithDetail("Record is not valid JSON; treating it as absent").
			Wrap(err))
		return Instance{}, false
	}
	if inst.Port != port {
		r.warn(errors.New(errors.CodeRegistryIO).WithPort(port).
			WithDetail(fmt.Sprintf("Record claims port %d; treating it as absent", inst.Port)))
		return Instance{}, false
	}
	return inst, true
}

// Remove deletes the record for a port. Removing an absent record is
// not an error.
func (r *Registry) Remove(port int) error {
	err := os.Remove(r.recordPath(port))
	if err != nil && !os.IsNotExist(err) {
		return errors.New(errors.CodeRegistryIO).WithPort(port).Wrap(err)
	}
	return nil
}

// ListAll returns every readable record, in no particular order.
// Corrupt records are skipped with a warning.
func (r *Registry) ListAll() []Instance {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			r.warn(errors.New(errors.CodeRegistryIO).Wrap(err))
		}
		return nil
	}

	var out []Instance
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		port, ok := portFromName(entry.Name())
		if !ok {
			continue
		}
		if inst, ok := r.Lookup(port); ok {
			out = append(out, inst)
		}
	}
	return out
}

// Reconcile removes records whose process is dead, as judged by the
// alive predicate, and returns the pruned instances. It is best-effort
// cleanup: a record vanishing between listing and removal is fine,
// since external actors can invalidate records at any time.
func (r *Registry) Reconcile(alive func(pid int) bool) []Instance {
	var pruned []Instance
	for _, inst := range r.ListAll() {
		if alive(inst.PID) {
			continue
		}
		if err := r.Remove(inst.Port); err != nil {
			r.warn(err)
			continue
		}
		pruned = append(pruned, inst)
	}
	return pruned
}

func (r *Registry) recordPath(port int) string {
	return filepath.Join(r.dir, strconv.Itoa(port)+".json")
}

// portFromName extracts the port from a "<port>.json" record name.
func portFromName(name string) (int, bool) {
	base, ok := strings.CutSuffix(name, ".json")
	if !ok {
		return 0, false
	}
	port, err := strconv.Atoi(base)
	if err != nil || port < 1 {
		return 0, false
	}
	return port, true
}
