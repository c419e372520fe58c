package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

const lockName = ".recorder.lock"

// dirLock keeps two recorders from appending to the same day files.
type dirLock struct {
	path string
	file *os.File
}

type lockOwner struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// acquireDirLock creates the lock file in dir. A lock left behind by a process
// that is no longer running is taken over.
func acquireDirLock(dir string) (*dirLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, lockName)
	for attempt := 0; attempt < 3; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			owner := lockOwner{PID: os.Getpid(), StartedAt: time.Now().UTC()}
			if err := json.NewEncoder(f).Encode(owner); err != nil {
				_ = f.Close()
				_ = os.Remove(path)
				return nil, err
			}
			return &dirLock{path: path, file: f}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, err
		}
		owner, err := readLockOwner(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			continue
		case err != nil:
			return nil, fmt.Errorf("recorder lock exists: %s (%v)", path, err)
		case processAlive(owner.PID):
			return nil, fmt.Errorf("recorder lock exists: %s (pid %d running since %s)", path, owner.PID, owner.StartedAt.Format(time.RFC3339))
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("recorder lock exists: %s", path)
}

func readLockOwner(path string) (lockOwner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return lockOwner{}, err
	}
	var owner lockOwner
	if err := json.Unmarshal(data, &owner); err != nil {
		return lockOwner{}, fmt.Errorf("unreadable lock: %w", err)
	}
	return owner, nil
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

func (l *dirLock) release() error {
	if l == nil || l.path == "" {
		return nil
	}
	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}
	err := os.Remove(l.path)
	l.path = ""
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
