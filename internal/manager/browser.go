package manager

import (
	"fmt"
	"os/exec"
	"runtime"
)

// SystemBrowser opens URLs with the platform's opener command.
type SystemBrowser struct{}

// OpenURL opens a URL in the default browser. Callers treat failures
// as best-effort; nothing retries.
func (SystemBrowser) OpenURL(url string) error {
	var cmd *exec.Cmd

	switch {
	case runtime.GOOS == "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	case commandExists("xdg-open"):
		cmd = exec.Command("xdg-open", url)
	case commandExists("open"):
		cmd = exec.Command("open", url)
	default:
		return fmt.Errorf("no browser opener found (tried xdg-open, open)")
	}

	return cmd.Start()
}

// commandExists checks if a command exists in PATH.
func commandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
