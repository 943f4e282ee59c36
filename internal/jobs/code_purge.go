// Package jobs holds background maintenance run by the server.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// CodeStore is the part of the verification code repository the purge needs.
type CodeStore interface {
	DeleteDead(ctx context.Context, cutoff time.Time) (int64, error)
}

// CodePurgeJob deletes codes that expired or were consumed more than
// retention ago. Codes are never read after that point.
type CodePurgeJob struct {
	store     CodeStore
	retention time.Duration
	now       func() time.Time
	log       *zap.Logger
}

func NewCodePurgeJob(store CodeStore, retention time.Duration, log *zap.Logger) *CodePurgeJob {
	if log == nil {
		log = zap.NewNop()
	}
	return &CodePurgeJob{store: store, retention: retention, now: time.Now, log: log}
}

func (j *CodePurgeJob) RunOnce(ctx context.Context) (int64, error) {
	cutoff := j.now().Add(-j.retention)
	n, err := j.store.DeleteDead(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge codes: %w", err)
	}
	j.log.Info("[jobs][purge-codes] done", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
	return n, nil
}

// Schedule registers the job on c. The caller owns c.Start/c.Stop.
func (j *CodePurgeJob) Schedule(ctx context.Context, c *cron.Cron, spec string) (cron.EntryID, error) {
	id, err := c.AddFunc(spec, func() {
		runCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if _, err := j.RunOnce(runCtx); err != nil {
			j.log.Error("[jobs][purge-codes] failed", zap.Error(err))
		}
	})
	if err != nil {
		return 0, fmt.Errorf("schedule purge %q: %w", spec, err)
	}
	return id, nil
}
