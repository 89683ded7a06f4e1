package manager

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/berth-dev/berth/internal/errors"
)

// followInterval is how often Follow polls the log file for growth.
const followInterval = 500 * time.Millisecond

// LogPath resolves the log file of the selected background instance.
func (m *Manager) LogPath(sel Selector) (string, error) {
	if sel.Port != 0 {
		inst, ok := m.reg.Lookup(sel.Port)
		if !ok {
			return "", errors.New(errors.CodeNotFound).WithPort(sel.Port)
		}
		if inst.LogPath == "" {
			return "", errors.New(errors.CodeNotFound).WithPort(sel.Port).
				WithDetail("Instance has no log file (foreground run?)")
		}
		return inst.LogPath, nil
	}

	for _, inst := range m.reg.ListAll() {
		if inst.PID == sel.PID && inst.LogPath != "" {
			return inst.LogPath, nil
		}
	}
	return "", errors.New(errors.CodeNotFound).WithPID(sel.PID)
}

// TailFile returns the last n lines of a file. A short file returns
// all of its lines.
func TailFile(path string, n int) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || n <= 0 {
		return nil, nil
	}

	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return nil, nil
	}
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// Follow streams a file's growth to w until ctx is cancelled,
// starting from the current end. Truncation (log rotation) resets to
// the new start.
func Follow(ctx context.Context, path string, w io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(followInterval):
		}

		info, err := f.Stat()
		if err != nil {
			return err
		}
		size := info.Size()
		if size < offset {
			offset = 0
		}
		if size == offset {
			continue
		}

		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return err
		}
		n, err := io.Copy(w, io.LimitReader(f, size-offset))
		offset += n
		if err != nil {
			return err
		}
	}
}
