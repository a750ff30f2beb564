package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// lockFilePermissions: owner rw only, like the journal next to it.
const lockFilePermissions = 0o600

const lockDirPermissions = 0o700

// errRunLocked means another copy holds the journal lock.
var errRunLocked = errors.New("another copy is already running")

// acquireRunLock takes an exclusive flock on path and writes the current PID
// into it, so two copies never write the same journal at once. The returned
// release function removes the file and drops the lock.
func acquireRunLock(path string) (release func(), err error) {
	if path == "" {
		return nil, fmt.Errorf("run lock path is empty: cannot determine data directory")
	}

	if mkdirErr := os.MkdirAll(filepath.Dir(path), lockDirPermissions); mkdirErr != nil {
		return nil, fmt.Errorf("creating run lock directory: %w", mkdirErr)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, lockFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening run lock: %w", err)
	}

	// Non-blocking: fail at once if another process holds it.
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		holder := ""
		if pid, readErr := readLockPID(path); readErr == nil {
			holder = fmt.Sprintf(" (PID %d)", pid)
		}

		return nil, fmt.Errorf("%w%s: could not lock %s", errRunLocked, holder, path)
	}

	if err := f.Truncate(0); err != nil {
		f.Close()

		return nil, fmt.Errorf("truncating run lock: %w", err)
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()

		return nil, fmt.Errorf("writing run lock: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()

		return nil, fmt.Errorf("syncing run lock: %w", err)
	}

	return func() {
		os.Remove(path)
		f.Close()
	}, nil
}

// readLockPID reads the PID written by the lock holder.
func readLockPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading run lock: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in %s: %w", path, err)
	}

	return pid, nil
}
