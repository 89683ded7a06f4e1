package manager

import (
	"bufio"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/berth-dev/berth/internal/errors"
	"github.com/berth-dev/berth/internal/registry"
)

// InstanceStats is a runtime snapshot of one instance.
type InstanceStats struct {
	Instance registry.Instance
	Running  bool
	Uptime   time.Duration

	// Process resources; zero when the process is gone or the
	// platform query failed.
	RSSBytes   int64
	CPUSeconds float64
	NumThreads int

	// LogSizeBytes is the size of the captured log file, 0 if none.
	LogSizeBytes int64

	// RequestsTotal is scraped from the instance's own /metrics
	// endpoint. -1 means unavailable (custom server command, scrape
	// failure, or metrics disabled).
	RequestsTotal int64
}

// metricsScrapeTimeout bounds the best-effort /metrics fetch.
const metricsScrapeTimeout = time.Second

// Stats gathers runtime stats for the selected instance: uptime from
// the record, process resources from the OS, and request totals from
// the instance's own metrics endpoint when reachable.
func (m *Manager) Stats(sel Selector) (InstanceStats, error) {
	inst, ok := m.lookupBySelector(sel)
	if !ok {
		return InstanceStats{}, errors.New(errors.CodeNotFound).
			WithPort(sel.Port).
			WithPID(sel.PID)
	}

	stats := InstanceStats{
		Instance:      inst,
		Running:       m.table.Alive(inst.PID),
		RequestsTotal: -1,
	}
	if !inst.StartedAt.IsZero() {
		stats.Uptime = time.Since(inst.StartedAt).Truncate(time.Second)
	}

	if stats.Running {
		if ps, err := m.table.Stats(inst.PID); err == nil {
			stats.RSSBytes = ps.RSSBytes
			stats.CPUSeconds = ps.CPUSeconds
			stats.NumThreads = ps.NumThreads
		}
		if total, err := scrapeRequestsTotal(m.cfg.URL(inst.Port) + "metrics"); err == nil {
			stats.RequestsTotal = total
		}
	}

	if inst.LogPath != "" {
		if info, err := os.Stat(inst.LogPath); err == nil {
			stats.LogSizeBytes = info.Size()
		}
	}

	return stats, nil
}

// lookupBySelector finds a registry record by port or pid.
func (m *Manager) lookupBySelector(sel Selector) (registry.Instance, bool) {
	if sel.Port != 0 {
		return m.reg.Lookup(sel.Port)
	}
	for _, inst := range m.reg.ListAll() {
		if inst.PID == sel.PID {
			return inst, true
		}
	}
	return registry.Instance{}, false
}

// scrapeRequestsTotal sums the berth_requests_total series exposed by
// an instance's /metrics endpoint.
func scrapeRequestsTotal(url string) (int64, error) {
	client := &http.Client{Timeout: metricsScrapeTimeout}
	resp, err := client.Get(url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, errors.Newf(errors.CategoryProcess, "metrics endpoint returned %d", resp.StatusCode)
	}

	var total float64
	found := false
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "berth_requests_total") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseFloat(fields[len(fields)-1], 64)
		if err != nil {
			continue
		}
		total += v
		found = true
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	if !found {
		return 0, errors.Newf(errors.CategoryProcess, "no berth_requests_total series in metrics output")
	}
	return int64(total), nil
}
