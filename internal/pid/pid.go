// Package pid guards against running two instances against the same PID file.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/motordash/internal/errors"
)

// Write records the current process ID at path. It fails with
// ErrAlreadyRunning if the file names a live process other than this one.
// A stale or unreadable file is replaced.
func Write(path string) error {
	errFactory := errors.New()
	pid := os.Getpid()

	if running, err := isRunning(path); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	} else if running != 0 && running != pid {
		return errFactory.WithData(errors.ErrAlreadyRunning, running)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove deletes the PID file at path if it exists.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrInternal, err)
	}

	return nil
}

// isRunning returns the PID recorded at path if that process is alive,
// or 0.
func isRunning(path string) (int, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, nil
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return 0, nil
	}
	if err := process.Signal(syscall.Signal(0)); err != nil {
		return 0, nil
	}

	return pid, nil
}
