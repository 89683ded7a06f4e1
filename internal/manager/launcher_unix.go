//go:build !windows

package manager

import (
	"context"
	"os"
	"os/exec"
	"syscall"
)

// ExecLauncher spawns real OS processes.
type ExecLauncher struct{}

// SpawnDetached starts argv in its own session with output appended to
// logPath. The child is released immediately so it outlives the
// manager; no parent-child lifetime coupling is kept.
func (ExecLauncher) SpawnDetached(ctx context.Context, argv []string, dir, logPath string) (int, error) {
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return 0, err
	}
	defer logFile.Close()

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	if err := cmd.Start(); err != nil {
		return 0, err
	}

	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return pid, err
	}
	return pid, nil
}

// RunForeground runs argv attached to the manager's stdio, blocking
// until exit or ctx cancellation.
func (ExecLauncher) RunForeground(ctx context.Context, argv []string, dir string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// OSSignaler signals real processes.
type OSSignaler struct{}

// Terminate sends SIGTERM.
func (OSSignaler) Terminate(pid int) error {
	return syscall.Kill(pid, syscall.SIGTERM)
}

// Kill sends SIGKILL.
func (OSSignaler) Kill(pid int) error {
	return syscall.Kill(pid, syscall.SIGKILL)
}
