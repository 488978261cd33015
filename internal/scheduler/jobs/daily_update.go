// Package jobs holds the scheduled collection jobs.
package jobs

import (
	"context"
	"fmt"

	"github.com/ycwei/twstock/internal/collector"
	"github.com/ycwei/twstock/pkg/logger"
)

// DailyUpdateJob refreshes stale series every trading day after the
// exchanges publish their daily files
// ⭐ SSOT: 每日更新排程只在這個 Job
type DailyUpdateJob struct {
	collector *collector.Collector
	logger    *logger.Logger
}

// NewDailyUpdateJob creates a new daily update job
func NewDailyUpdateJob(col *collector.Collector, log *logger.Logger) *DailyUpdateJob {
	return &DailyUpdateJob{
		collector: col,
		logger:    log,
	}
}

// Name returns the job name
func (j *DailyUpdateJob) Name() string {
	return "daily_update"
}

// Schedule returns the cron schedule. TWSE and TPEX daily files are
// complete well before 18:00 Taipei time; weekends have no session.
func (j *DailyUpdateJob) Schedule() string {
	return "0 0 18 * * MON-FRI" // 6 PM weekdays (with seconds)
}

// Run executes the incremental update over all active symbols.
func (j *DailyUpdateJob) Run(ctx context.Context) error {
	j.logger.Info("Starting scheduled daily update")

	summary := j.collector.UpdateStale(ctx)

	j.logger.WithFields(map[string]interface{}{
		"updated":    summary.Updated,
		"up_to_date": summary.UpToDate,
		"failed":     summary.Failed,
		"skipped":    summary.Skipped,
	}).Info("Scheduled daily update completed")

	if summary.Failed > 0 && summary.Updated == 0 && summary.UpToDate == 0 {
		return fmt.Errorf("daily update: all %d symbols failed", summary.Failed)
	}
	return nil
}
