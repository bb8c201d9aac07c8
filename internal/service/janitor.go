package service

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pranav-buggana-cal/mba-290t/internal/config"
)

// Janitor removes orphaned staging directories on a cron schedule. Uploads
// normally release their own directory; the janitor catches the ones that
// survive a crash or a kill during a long transfer.
type Janitor struct {
	root     string
	maxAge   time.Duration
	schedule string

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
	logger  *slog.Logger
}

// NewJanitor creates a Janitor for the staging area.
func NewJanitor(cfg *config.Config, logger *slog.Logger) *Janitor {
	return &Janitor{
		root:     cfg.Staging.Dir,
		maxAge:   cfg.Staging.MaxAge(),
		schedule: cfg.Staging.SweepSchedule,
		cron:     cron.New(),
		logger:   logger.With("component", "janitor"),
	}
}

// Start schedules the sweep. An empty schedule disables the janitor.
func (j *Janitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.schedule == "" {
		j.logger.Info("sweep schedule not configured, janitor disabled")
		return nil
	}

	if _, err := cron.ParseStandard(j.schedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", j.schedule, err)
	}

	if _, err := j.cron.AddFunc(j.schedule, j.sweep); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}

	j.cron.Start()
	j.running = true

	j.logger.Info("staging janitor started",
		"schedule", j.schedule,
		"max_age", j.maxAge,
		"root", j.root,
	)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.running {
		return
	}
	ctx := j.cron.Stop()
	<-ctx.Done()
	j.running = false
	j.logger.Info("staging janitor stopped")
}

// IsRunning reports whether the schedule is active.
func (j *Janitor) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *Janitor) sweep() {
	removed, err := j.sweepOnce(time.Now())
	if err != nil {
		j.logger.Error("staging sweep failed", "err", err)
		return
	}
	if removed > 0 {
		j.logger.Info("staging sweep completed", "removed", removed)
	} else {
		j.logger.Debug("staging sweep completed, nothing to remove")
	}
}

// sweepOnce removes staging subdirectories whose modification time is older
// than maxAge relative to now. A missing root means nothing was ever staged.
func (j *Janitor) sweepOnce(now time.Time) (int, error) {
	entries, err := os.ReadDir(j.root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read staging root: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue // raced with a concurrent release
		}
		if now.Sub(info.ModTime()) <= j.maxAge {
			continue
		}
		dir := filepath.Join(j.root, entry.Name())
		if err := os.RemoveAll(dir); err != nil {
			j.logger.Warn("remove orphaned staging dir", "dir", dir, "err", err)
			continue
		}
		removed++
	}
	return removed, nil
}
