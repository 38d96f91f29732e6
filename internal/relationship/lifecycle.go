package relationship

import (
	"context"
	"errors"
	"fmt"
	"time"

	"duet/backend/internal/hub"
	"duet/backend/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ResumeStatus is the state reported back to a member clicking resume.
type ResumeStatus string

const (
	ResumePendingPartnerApproval ResumeStatus = "pending_partner_approval"
	ResumeActive                 ResumeStatus = "active"
)

// ResumeResult describes the outcome of a resume click.
type ResumeResult struct {
	Status      ResumeStatus
	RequestedBy *uint
	// Recorded is set when this click opened the resume request.
	Recorded bool
}

// EndRelationship starts the grace period of the user's relationship and
// returns when it will be deleted for good.
func (s *Service) EndRelationship(ctx context.Context, userID uint) (time.Time, error) {
	db := s.db.WithContext(ctx)

	rel, err := Current(db, userID)
	if err != nil {
		return time.Time{}, err
	}
	if rel == nil {
		return time.Time{}, ErrNoActiveRelationship
	}

	now := s.now()
	err = Transition(db, rel, models.EventEnd, map[string]interface{}{
		"ended_at":            now,
		"resume_requested_by": nil,
		"resume_requested_at": nil,
	}, now)
	if errors.Is(err, models.ErrInvalidTransition) {
		return time.Time{}, ErrNotActive
	}
	if err != nil {
		return time.Time{}, err
	}

	deletionAt := now.Add(models.GracePeriod)
	s.logger.Info("relationship ended",
		zap.Uint("relationship_id", rel.ID),
		zap.Uint("user_id", userID),
		zap.Time("permanent_deletion_at", deletionAt))
	s.publish(rel.ID, hub.EventRelationshipEnded, map[string]interface{}{
		"relationship_id":       rel.ID,
		"ended_by":              userID,
		"permanent_deletion_at": deletionAt,
	})
	return deletionAt, nil
}

// ResumeRelationship runs one step of the resume handshake. The first member
// to click opens a request; the other member's click reactivates the
// relationship.
func (s *Service) ResumeRelationship(ctx context.Context, userID uint) (*ResumeResult, error) {
	db := s.db.WithContext(ctx)

	rel, err := pendingRelationship(db, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if rel.GraceExpired(now) {
		return nil, ErrGracePeriodExpired
	}

	var members int64
	if err := db.Model(&models.User{}).Where("id IN ?", []uint{rel.User1ID, rel.User2ID}).Count(&members).Error; err != nil {
		return nil, fmt.Errorf("count members: %w", err)
	}
	if members != 2 {
		return nil, ErrNoPendingRelationship
	}

	switch rel.NextResumeStep(userID) {
	case models.ResumeRequest:
		err := update(db, rel, map[string]interface{}{
			"resume_requested_by": userID,
			"resume_requested_at": now,
		}, now)
		if err != nil {
			return nil, err
		}
		s.publish(rel.ID, hub.EventResumeRequested, map[string]interface{}{
			"relationship_id": rel.ID,
			"requested_by":    userID,
		})
		requestedBy := userID
		return &ResumeResult{Status: ResumePendingPartnerApproval, RequestedBy: &requestedBy, Recorded: true}, nil

	case models.ResumeRepeat:
		return &ResumeResult{Status: ResumePendingPartnerApproval, RequestedBy: rel.ResumeRequestedBy}, nil

	default:
		err := Transition(db, rel, models.EventResume, map[string]interface{}{
			"ended_at":            nil,
			"resume_requested_by": nil,
			"resume_requested_at": nil,
		}, now)
		if err != nil {
			return nil, err
		}
		s.logger.Info("relationship resumed", zap.Uint("relationship_id", rel.ID))
		s.publish(rel.ID, hub.EventRelationshipResumed, map[string]interface{}{
			"relationship_id": rel.ID,
		})
		return &ResumeResult{Status: ResumeActive}, nil
	}
}

// CancelResumeRequest withdraws the caller's own resume request.
func (s *Service) CancelResumeRequest(ctx context.Context, userID uint) error {
	db := s.db.WithContext(ctx)

	rel, err := pendingRelationship(db, userID)
	if errors.Is(err, ErrNoPendingRelationship) {
		return ErrNoPendingRequest
	}
	if err != nil {
		return err
	}
	if rel.ResumeRequestedBy == nil {
		return ErrNoPendingRequest
	}
	if *rel.ResumeRequestedBy != userID {
		return ErrNotRequester
	}

	err = update(db, rel, map[string]interface{}{
		"resume_requested_by": nil,
		"resume_requested_at": nil,
	}, s.now())
	if err != nil {
		return err
	}
	s.publish(rel.ID, hub.EventResumeCancelled, map[string]interface{}{
		"relationship_id": rel.ID,
		"cancelled_by":    userID,
	})
	return nil
}

// UpdateStartDate sets or clears when the couple got together.
func (s *Service) UpdateStartDate(ctx context.Context, userID uint, startDate *time.Time) (*models.Relationship, error) {
	db := s.db.WithContext(ctx)

	rel, err := Current(db, userID)
	if err != nil {
		return nil, err
	}
	if rel == nil {
		return nil, ErrNoActiveRelationship
	}
	if rel.Status != models.RelationshipActive {
		return nil, ErrNotActive
	}

	var value interface{}
	if startDate != nil {
		value = startDate.UTC()
	}
	if err := update(db, rel, map[string]interface{}{"start_date": value}, s.now()); err != nil {
		return nil, err
	}
	rel.StartDate = startDate
	return rel, nil
}

func pendingRelationship(db *gorm.DB, userID uint) (*models.Relationship, error) {
	var rel models.Relationship
	err := db.Where("(user1_id = ? OR user2_id = ?) AND status = ?", userID, userID, models.RelationshipPendingDeletion).
		Order("ended_at DESC").
		First(&rel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoPendingRelationship
	}
	if err != nil {
		return nil, fmt.Errorf("load relationship: %w", err)
	}
	return &rel, nil
}

// Purge permanently deletes a pending relationship inside tx: it claims the
// row, soft-deletes the posts and their attachments and releases both
// members. A row changed since it was read yields ErrConcurrentModification.
func Purge(tx *gorm.DB, rel *models.Relationship, now time.Time) (posts, attachments int64, err error) {
	if err := Transition(tx, rel, models.EventPurge, nil, now); err != nil {
		return 0, 0, err
	}

	postIDs := tx.Model(&models.Post{}).Select("id").Where("relationship_id = ?", rel.ID)
	result := tx.Where("post_id IN (?)", postIDs).Delete(&models.Attachment{})
	if result.Error != nil {
		return 0, 0, fmt.Errorf("delete attachments: %w", result.Error)
	}
	attachments = result.RowsAffected

	result = tx.Where("relationship_id = ?", rel.ID).Delete(&models.Post{})
	if result.Error != nil {
		return 0, 0, fmt.Errorf("delete posts: %w", result.Error)
	}
	posts = result.RowsAffected

	err = tx.Model(&models.User{}).
		Where("current_relationship_id = ?", rel.ID).
		Update("current_relationship_id", nil).Error
	if err != nil {
		return 0, 0, fmt.Errorf("release members: %w", err)
	}
	return posts, attachments, nil
}
