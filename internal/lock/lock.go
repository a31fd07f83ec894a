// Package lock keeps a profile to one running agent. The lock file records who
// holds it, so the CLI can tell a starting agent from a crashed one.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// FileName is the lock file created inside a profile directory.
const FileName = "LOCK"

// Holder identifies the agent that wrote a lock file.
type Holder struct {
	PID   int
	Since time.Time
}

// Running reports whether the holder's process still exists.
func (h Holder) Running() bool {
	if h.PID <= 0 {
		return false
	}
	err := syscall.Kill(h.PID, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

func (h Holder) String() string {
	return fmt.Sprintf("%d %s\n", h.PID, h.Since.UTC().Format(time.RFC3339))
}

// HeldError is returned when another agent already runs for the profile.
type HeldError struct {
	Holder
	Path string
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("profile lock held by PID %d since %s (%s)",
		e.PID, e.Since.Format(time.RFC3339), e.Path)
}

// Lock is a profile's agent lock; it lasts until Release or process exit.
type Lock struct {
	file *os.File
	path string
}

// Acquire creates the profile directory if needed and takes dir/LOCK without
// blocking. A busy profile yields *HeldError naming the running agent.
func Acquire(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		h, _ := ReadHolder(dir)
		_ = f.Close()
		return nil, &HeldError{Holder: h, Path: path}
	}

	me := Holder{PID: os.Getpid(), Since: time.Now()}
	if err := f.Truncate(0); err == nil {
		_, err = f.WriteAt([]byte(me.String()), 0)
	}
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("record lock holder: %w", err)
	}
	return &Lock{file: f, path: path}, nil
}

// ReadHolder reads dir/LOCK. A missing file is returned as an error matching
// os.ErrNotExist; an unparsable one yields a zero Holder.
func ReadHolder(dir string) (Holder, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return Holder{}, err
	}
	return parseHolder(string(data)), nil
}

// Release drops the lock and removes the file. Nil and repeated calls are no-ops.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

func parseHolder(content string) Holder {
	pid, rest, _ := strings.Cut(strings.TrimSpace(content), " ")
	n, err := strconv.Atoi(pid)
	if err != nil {
		return Holder{}
	}
	since, _ := time.Parse(time.RFC3339, rest)
	return Holder{PID: n, Since: since}
}
