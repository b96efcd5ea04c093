package store

import (
	"testing"
	"time"
)

func openTestStore(t *testing.T) {
	t.Helper()
	if err := Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = Close() })
}

func setTestWindow(t *testing.T, d time.Duration) {
	t.Helper()
	prev := EditWindow()
	SetEditWindow(d)
	t.Cleanup(func() { SetEditWindow(prev) })
}
