//go:build !windows

// Package index guards the on-disk index against concurrent writers and
// records a summary of the last workspace scan.
package index

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	rerrors "rscope/internal/errors"
)

const lockFile = "index.lock"

// Lock is an exclusive advisory lock on the index directory.
type Lock struct {
	path string
	file *os.File
}

// AcquireLock takes the lock in dir without blocking. It fails with an
// INDEX_LOCKED error when another process holds it.
func AcquireLock(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}
	path := filepath.Join(dir, lockFile)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = file.Close()
		lockErr := rerrors.NewRscopeError(rerrors.IndexLocked,
			"index is locked by another process; another rscope command may be running", err)
		if content, readErr := os.ReadFile(path); readErr == nil && len(content) > 0 {
			lockErr = lockErr.WithDetails(map[string]string{"pid": strings.TrimSpace(string(content))})
		}
		return nil, lockErr
	}

	unlock := func(step string, err error) (*Lock, error) {
		_ = syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		_ = file.Close()
		return nil, fmt.Errorf("%s lock file: %w", step, err)
	}
	if err := file.Truncate(0); err != nil {
		return unlock("truncating", err)
	}
	if _, err := file.Seek(0, 0); err != nil {
		return unlock("seeking", err)
	}
	if _, err := file.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		return unlock("writing PID to", err)
	}

	return &Lock{path: path, file: file}, nil
}

// Release drops the lock and removes the lock file. Safe on nil.
func (l *Lock) Release() {
	if l == nil || l.file == nil {
		return
	}
	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	_ = l.file.Close()
	_ = os.Remove(l.path)
	l.file = nil
}
