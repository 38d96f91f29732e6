package relationship

import (
	"context"
	"errors"
	"fmt"
	"time"

	"duet/backend/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Summary is a relationship seen from one of its members.
type Summary struct {
	Relationship models.Relationship
	Partner      models.User
}

// AcceptInvite pairs userID with the creator of the invitation behind code.
func (s *Service) AcceptInvite(ctx context.Context, userID uint, code string) (*Summary, error) {
	db := s.db.WithContext(ctx)

	current, err := Current(db, userID)
	if err != nil {
		return nil, err
	}
	if current != nil {
		return nil, ErrAlreadyPaired
	}

	invite, err := s.CheckInvite(ctx, code, userID)
	if err != nil {
		return nil, err
	}

	var rel *models.Relationship
	err = db.Transaction(func(tx *gorm.DB) error {
		var err error
		rel, err = Pair(tx, invite, userID, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("relationship created",
		zap.Uint("relationship_id", rel.ID),
		zap.Uint("inviter_id", invite.CreatedBy),
		zap.Uint("user_id", userID))
	return s.summarize(db, rel, userID)
}

// Pair creates the relationship between the inviter and userID and consumes
// the invitation. It must run inside a transaction: when the invitation was
// taken or either user paired in the meantime it fails and nothing may be
// committed.
func Pair(tx *gorm.DB, invite *models.Invitation, userID uint, now time.Time) (*models.Relationship, error) {
	rel := models.Relationship{
		User1ID: invite.CreatedBy,
		User2ID: userID,
		Status:  models.RelationshipActive,
		Version: 1,
	}
	if err := tx.Create(&rel).Error; err != nil {
		return nil, fmt.Errorf("create relationship: %w", err)
	}

	result := tx.Model(&models.Invitation{}).
		Where("id = ? AND status = ?", invite.ID, models.InvitationPending).
		Updates(map[string]interface{}{
			"status":          models.InvitationAccepted,
			"accepted_by":     userID,
			"relationship_id": rel.ID,
			"accepted_at":     now,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("accept invitation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrInvitationAlreadyUsed
	}

	live := tx.Model(&models.Relationship{}).Select("id").Where("status IN ?", models.LiveStatuses)
	result = tx.Model(&models.User{}).
		Where("id IN ?", []uint{invite.CreatedBy, userID}).
		Where("(current_relationship_id IS NULL OR current_relationship_id NOT IN (?))", live).
		Update("current_relationship_id", rel.ID)
	if result.Error != nil {
		return nil, fmt.Errorf("link users to relationship: %w", result.Error)
	}
	if result.RowsAffected != 2 {
		return nil, ErrConcurrentModification
	}
	return &rel, nil
}

// GetRelationship returns the user's live relationship, or nil when unpaired.
func (s *Service) GetRelationship(ctx context.Context, userID uint) (*Summary, error) {
	db := s.db.WithContext(ctx)

	rel, err := Current(db, userID)
	if err != nil || rel == nil {
		return nil, err
	}

	summary, err := s.summarize(db, rel, userID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, nil
	}
	return summary, err
}

func (s *Service) summarize(db *gorm.DB, rel *models.Relationship, userID uint) (*Summary, error) {
	var partner models.User
	if err := db.First(&partner, rel.PartnerID(userID)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load partner: %w", err)
	}
	return &Summary{Relationship: *rel, Partner: partner}, nil
}
