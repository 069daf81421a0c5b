package planner

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Memo persists planner state to a JSON file. An open Memo holds an
// exclusive lock on "<path>.lock" so two planners cannot share the file.
type Memo struct {
	Path string
	lock *os.File
}

// ErrMemoLocked is returned when another process holds the memo.
var ErrMemoLocked = errors.New("memo is in use by another planner")

// OpenMemo locks the memo file without blocking.
func OpenMemo(path string) (*Memo, error) {
	lockPath := path + ".lock"
	lock, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open memo lock %s: %w", lockPath, err)
	}
	if err := unix.Flock(int(lock.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lock.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%s: %w", path, ErrMemoLocked)
		}
		return nil, fmt.Errorf("lock memo %s: %w", path, err)
	}
	return &Memo{Path: path, lock: lock}, nil
}

// Load reads the persisted state; ok is false when the file does not exist.
func (m *Memo) Load() (state State, ok bool, err error) {
	data, err := os.ReadFile(m.Path)
	if errors.Is(err, os.ErrNotExist) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("read memo %s: %w", m.Path, err)
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, false, fmt.Errorf("decode memo %s: %w", m.Path, err)
	}
	state.normalize()
	return state, true, nil
}

// Save replaces the memo file atomically.
func (m *Memo) Save(state State) error {
	state.normalize()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode memo: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(m.Path), filepath.Base(m.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("write memo %s: %w", m.Path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write memo %s: %w", m.Path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("sync memo %s: %w", m.Path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write memo %s: %w", m.Path, err)
	}
	if err := os.Rename(tmp.Name(), m.Path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace memo %s: %w", m.Path, err)
	}
	return nil
}

// Close releases the lock. The lock file itself is left in place.
func (m *Memo) Close() error {
	if m.lock == nil {
		return nil
	}
	err := m.lock.Close()
	m.lock = nil
	return err
}
