package audit

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	internalsettings "github.com/router-for-me/AppGateway/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultCleanupSchedule = "@every 6h"
	defaultDeleteBatchSize = 5000
	maxDeleteBatchesPerRun = 2000
)

// RetentionCleaner deletes audit rows older than the configured retention on a cron schedule.
type RetentionCleaner struct {
	db          *gorm.DB
	schedule    string
	defaultDays int
	batchSize   int
	now         func() time.Time
}

// NewRetentionCleaner constructs a cleaner. The AUDIT_RETENTION_DAYS setting overrides defaultDays.
func NewRetentionCleaner(db *gorm.DB, schedule string, defaultDays int) *RetentionCleaner {
	if db == nil {
		return nil
	}
	if schedule == "" {
		schedule = defaultCleanupSchedule
	}
	return &RetentionCleaner{
		db:          db,
		schedule:    schedule,
		defaultDays: defaultDays,
		batchSize:   defaultDeleteBatchSize,
		now:         time.Now,
	}
}

// Start schedules the cleanup and stops the scheduler when ctx is done.
func (c *RetentionCleaner) Start(ctx context.Context) error {
	if c == nil {
		return nil
	}
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(c.schedule, func() { c.CleanupOnce(ctx) }); err != nil {
		return err
	}
	scheduler.Start()
	go func() {
		<-ctx.Done()
		<-scheduler.Stop().Done()
	}()
	log.Infof("audit retention cleaner started (schedule=%s)", c.schedule)
	return nil
}

// CleanupOnce deletes expired rows in bounded batches and returns the number removed.
func (c *RetentionCleaner) CleanupOnce(ctx context.Context) int64 {
	if c == nil || c.db == nil {
		return 0
	}
	retentionDays := internalsettings.Int(internalsettings.AuditRetentionDaysKey, c.defaultDays)
	if retentionDays <= 0 {
		return 0
	}
	cutoff := c.now().UTC().AddDate(0, 0, -retentionDays)

	deletedTotal := int64(0)
	for i := 0; i < maxDeleteBatchesPerRun; i++ {
		if ctx.Err() != nil {
			break
		}
		n, err := c.deleteBatch(ctx, cutoff)
		if err != nil {
			log.WithError(err).Warn("audit retention cleaner: delete batch failed")
			break
		}
		if n <= 0 {
			break
		}
		deletedTotal += n
	}
	if deletedTotal > 0 {
		log.Infof("audit retention cleaner: deleted %d rows (cutoff=%s retention_days=%d)", deletedTotal, cutoff.Format(time.RFC3339), retentionDays)
	}
	return deletedTotal
}

func (c *RetentionCleaner) deleteBatch(ctx context.Context, cutoff time.Time) (int64, error) {
	limit := c.batchSize
	if limit <= 0 {
		limit = defaultDeleteBatchSize
	}
	// Limited subquery keeps each statement short.
	res := c.db.WithContext(ctx).Exec(`
		DELETE FROM audit_logs
		WHERE id IN (
			SELECT id FROM audit_logs
			WHERE created_at < ?
			ORDER BY created_at ASC
			LIMIT ?
		)
	`, cutoff, limit)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
