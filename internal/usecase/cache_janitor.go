package usecase

import (
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"dogetionary/internal/domain/ports"
)

// CacheJanitor periodically purges videos older than MaxAgeDays. Size
// enforcement is not its job; the store does that after every write.
type CacheJanitor struct {
	Store      ports.VideoStore
	Logger     *slog.Logger
	MaxAgeDays int
	Interval   time.Duration
	// OnPurge runs after a pass that removed at least one file.
	OnPurge func(removed int)

	scheduler *gocron.Scheduler
}

// Start schedules the purge and runs it once immediately.
func (j *CacheJanitor) Start() error {
	interval := j.Interval
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	j.scheduler = gocron.NewScheduler(time.UTC)
	if _, err := j.scheduler.Every(interval).SingletonMode().Do(func() { j.RunOnce() }); err != nil {
		return err
	}
	j.scheduler.StartAsync()
	return nil
}

func (j *CacheJanitor) Stop() {
	if j.scheduler != nil {
		j.scheduler.Stop()
	}
}

// RunOnce purges expired entries and returns how many were removed.
func (j *CacheJanitor) RunOnce() int {
	days := j.MaxAgeDays
	if days <= 0 {
		days = 7
	}
	removed := j.Store.PurgeOlderThan(days)
	if removed > 0 && j.OnPurge != nil {
		j.OnPurge(removed)
	}
	if j.Logger != nil {
		j.Logger.Debug("video cache janitor run",
			slog.Int("removed", removed),
			slog.Int64("totalBytes", j.Store.TotalSize()),
		)
	}
	return removed
}
