package service

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/pranav-buggana-cal/mba-290t/internal/config"
)

func newTestJanitor(t *testing.T, root, schedule string) *Janitor {
	t.Helper()
	cfg := &config.Config{
		Staging: config.StagingConfig{
			Dir:           root,
			SweepSchedule: schedule,
			MaxAgeMinutes: 60,
		},
	}
	return NewJanitor(cfg, discardLogger())
}

func TestJanitor_SweepRemovesOldDirs(t *testing.T) {
	root := t.TempDir()

	oldDir := filepath.Join(root, "11111111-old")
	freshDir := filepath.Join(root, "22222222-fresh")
	for _, d := range []string{oldDir, freshDir} {
		if err := os.Mkdir(d, 0o700); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(oldDir, "part-0-doc.pdf"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	// Backdate the old directory past the one-hour age limit.
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(oldDir, past, past); err != nil {
		t.Fatal(err)
	}

	j := newTestJanitor(t, root, "@every 15m")

	removed, err := j.sweepOnce(time.Now())
	if err != nil {
		t.Fatalf("sweepOnce() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	if _, err := os.Stat(oldDir); !os.IsNotExist(err) {
		t.Error("old staging dir survived the sweep")
	}
	if _, err := os.Stat(freshDir); err != nil {
		t.Errorf("fresh staging dir was removed: %v", err)
	}
}

func TestJanitor_SweepIgnoresFiles(t *testing.T) {
	root := t.TempDir()

	stray := filepath.Join(root, "stray.txt")
	if err := os.WriteFile(stray, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stray, past, past); err != nil {
		t.Fatal(err)
	}

	j := newTestJanitor(t, root, "@every 15m")

	removed, err := j.sweepOnce(time.Now())
	if err != nil {
		t.Fatalf("sweepOnce() error = %v", err)
	}
	if removed != 0 {
		t.Errorf("removed = %d, want 0", removed)
	}
	if _, err := os.Stat(stray); err != nil {
		t.Errorf("stray file was removed: %v", err)
	}
}

func TestJanitor_SweepMissingRoot(t *testing.T) {
	j := newTestJanitor(t, filepath.Join(t.TempDir(), "never-created"), "@every 15m")

	removed, err := j.sweepOnce(time.Now())
	if err != nil {
		t.Errorf("sweepOnce() error = %v, want nil for missing root", err)
	}
	if removed != 0 {
		t.Errorf("removed = %d, want 0", removed)
	}
}

func TestJanitor_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	j := newTestJanitor(t, t.TempDir(), "@every 1h")

	if err := j.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !j.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}

	j.Stop()
	if j.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}

	// A second Stop must be harmless.
	j.Stop()
}

func TestJanitor_DisabledWithoutSchedule(t *testing.T) {
	defer goleak.VerifyNone(t)

	j := newTestJanitor(t, t.TempDir(), "")

	if err := j.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if j.IsRunning() {
		t.Error("IsRunning() = true with empty schedule")
	}
	j.Stop()
}

func TestJanitor_InvalidSchedule(t *testing.T) {
	j := newTestJanitor(t, t.TempDir(), "every once in a while")

	if err := j.Start(); err == nil {
		t.Fatal("Start() with invalid schedule should fail")
	}
}
