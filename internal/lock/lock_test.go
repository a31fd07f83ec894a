package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireRecordsPID(t *testing.T) {
	dir := t.TempDir()

	l, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer func() { _ = l.Release() }()

	h, err := ReadHolder(dir)
	if err != nil {
		t.Fatalf("ReadHolder() error = %v", err)
	}
	if h.PID != os.Getpid() || h.Since.IsZero() {
		t.Errorf("holder = %+v, want PID %d with a start time", h, os.Getpid())
	}
	if !h.Running() {
		t.Error("Running() = false for this process")
	}
}

func TestSecondAcquireReportsHolder(t *testing.T) {
	dir := t.TempDir()

	l1, err := Acquire(dir)
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	defer func() { _ = l1.Release() }()

	_, err = Acquire(dir)
	var held *HeldError
	if !errors.As(err, &held) {
		t.Fatalf("expected *HeldError, got %T: %v", err, err)
	}
	if held.PID != os.Getpid() {
		t.Errorf("HeldError.PID = %d, want %d", held.PID, os.Getpid())
	}
	if held.Path != filepath.Join(dir, FileName) {
		t.Errorf("HeldError.Path = %q", held.Path)
	}
}

func TestReleaseRemovesFileAndAllowsReacquire(t *testing.T) {
	dir := t.TempDir()

	l, err := Acquire(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := ReadHolder(dir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("ReadHolder() after release error = %v, want not exist", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}

	l2, err := Acquire(dir)
	if err != nil {
		t.Fatalf("re-Acquire() error = %v", err)
	}
	_ = l2.Release()
}

func TestReleaseNil(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Errorf("nil Release() error = %v", err)
	}
}

func TestParseHolder(t *testing.T) {
	since := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want Holder
	}{
		{Holder{PID: 42, Since: since}.String(), Holder{PID: 42, Since: since}},
		{"7\n", Holder{PID: 7}},
		{"garbage", Holder{}},
		{"", Holder{}},
	}
	for _, tt := range tests {
		got := parseHolder(tt.in)
		if got.PID != tt.want.PID || !got.Since.Equal(tt.want.Since) {
			t.Errorf("parseHolder(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestRunning(t *testing.T) {
	if (Holder{}).Running() {
		t.Error("zero holder reported running")
	}
	if !(Holder{PID: os.Getpid()}).Running() {
		t.Error("own PID reported not running")
	}
}
