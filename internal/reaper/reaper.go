// Package reaper finalizes deletions: relationships whose grace period ran
// out and uploads that were never attached to a post.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"duet/backend/internal/metrics"
	"duet/backend/internal/models"
	"duet/backend/internal/relationship"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ObjectDeleter removes stored attachment bytes.
type ObjectDeleter interface {
	Delete(ctx context.Context, key string) error
}

// SweepStats counts what a sweep changed. Errors holds one entry per
// relationship that could not be purged.
type SweepStats struct {
	Relationships int64
	Posts         int64
	Attachments   int64
	Errors        []string
}

// OrphanStats counts removed orphaned uploads.
type OrphanStats struct {
	Deleted int64
	Errors  []string
}

// Reaper runs the deletion jobs.
type Reaper struct {
	db           *gorm.DB
	store        ObjectDeleter
	logger       *zap.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
	orphanMinAge time.Duration
}

type Option func(*Reaper)

func WithClock(now func() time.Time) Option {
	return func(r *Reaper) { r.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reaper) { r.metrics = m }
}

// WithOrphanMinAge sets how old an unlinked upload must be before it is removed.
func WithOrphanMinAge(d time.Duration) Option {
	return func(r *Reaper) { r.orphanMinAge = d }
}

// New creates a Reaper.
func New(db *gorm.DB, store ObjectDeleter, logger *zap.Logger, opts ...Option) *Reaper {
	r := &Reaper{
		db:           db,
		store:        store,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		orphanMinAge: 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// Sweep permanently deletes every relationship whose grace period is over.
// Each relationship is purged in its own transaction; a failure is recorded
// and the sweep moves on.
func (r *Reaper) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	db := r.db.WithContext(ctx)
	now := r.now()

	var candidates []models.Relationship
	err := db.Where("status = ? AND ended_at IS NOT NULL", models.RelationshipPendingDeletion).
		Order("ended_at").
		Find(&candidates).Error
	if err != nil {
		return stats, fmt.Errorf("load ended relationships: %w", err)
	}

	for i := range candidates {
		rel := &candidates[i]
		if !rel.DueForPurge(now) {
			continue
		}

		posts, attachments, claimed, err := r.purge(db, rel, now)
		if err != nil {
			r.logger.Error("failed to purge relationship", zap.Uint("relationship_id", rel.ID), zap.Error(err))
			stats.Errors = append(stats.Errors, fmt.Sprintf("relationship %d: %v", rel.ID, err))
			continue
		}
		if !claimed {
			r.logger.Debug("relationship changed during sweep, skipping", zap.Uint("relationship_id", rel.ID))
			continue
		}

		stats.Relationships++
		stats.Posts += posts
		stats.Attachments += attachments
	}

	r.metrics.AddPurged(stats.Relationships, stats.Posts, stats.Attachments)
	r.logger.Info("grace period sweep finished",
		zap.Int64("relationships", stats.Relationships),
		zap.Int64("posts", stats.Posts),
		zap.Int64("attachments", stats.Attachments),
		zap.Int("errors", len(stats.Errors)))
	return stats, nil
}

func (r *Reaper) purge(db *gorm.DB, rel *models.Relationship, now time.Time) (posts, attachments int64, claimed bool, err error) {
	err = db.Transaction(func(tx *gorm.DB) error {
		var err error
		posts, attachments, err = relationship.Purge(tx, rel, now)
		// The claim fails when a resume or another sweep touched the row first.
		if errors.Is(err, relationship.ErrConcurrentModification) {
			posts, attachments = 0, 0
			return nil
		}
		if err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if err != nil {
		return 0, 0, false, err
	}
	return posts, attachments, claimed, nil
}

// CleanupOrphanedAttachments removes uploads that were never linked to a
// post and are older than the minimum age. The stored object goes first so a
// failed delete leaves the row in place for the next run.
func (r *Reaper) CleanupOrphanedAttachments(ctx context.Context) (OrphanStats, error) {
	var stats OrphanStats
	db := r.db.WithContext(ctx)
	cutoff := r.now().Add(-r.orphanMinAge)

	var orphans []models.Attachment
	if err := db.Where("post_id IS NULL AND created_at <= ?", cutoff).Find(&orphans).Error; err != nil {
		return stats, fmt.Errorf("load orphaned attachments: %w", err)
	}

	for _, orphan := range orphans {
		if err := r.store.Delete(ctx, orphan.Filename); err != nil {
			r.logger.Warn("failed to delete orphaned object", zap.String("filename", orphan.Filename), zap.Error(err))
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", orphan.Filename, err))
			continue
		}
		if err := db.Unscoped().Delete(&orphan).Error; err != nil {
			r.logger.Warn("failed to delete orphaned attachment", zap.Uint("attachment_id", orphan.ID), zap.Error(err))
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", orphan.Filename, err))
			continue
		}
		stats.Deleted++
	}

	r.metrics.AddOrphansDeleted(stats.Deleted)
	r.logger.Info("orphaned attachment cleanup finished",
		zap.Int64("deleted", stats.Deleted),
		zap.Int("errors", len(stats.Errors)))
	return stats, nil
}

// SweepJob adapts Sweep to the scheduler.
func (r *Reaper) SweepJob(ctx context.Context) error {
	stats, err := r.Sweep(ctx)
	if err != nil {
		return err
	}
	if len(stats.Errors) > 0 {
		return fmt.Errorf("%d relationships could not be purged", len(stats.Errors))
	}
	return nil
}

// OrphanJob adapts CleanupOrphanedAttachments to the scheduler.
func (r *Reaper) OrphanJob(ctx context.Context) error {
	stats, err := r.CleanupOrphanedAttachments(ctx)
	if err != nil {
		return err
	}
	if len(stats.Errors) > 0 {
		return fmt.Errorf("%d orphaned attachments could not be removed", len(stats.Errors))
	}
	return nil
}
