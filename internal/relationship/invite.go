package relationship

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"duet/backend/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxCodeAttempts is one initial draw plus ten retries on collision.
const maxCodeAttempts = 11

// Invite is a freshly issued or still pending invitation.
type Invite struct {
	Code      string
	URL       string
	ExpiresAt time.Time
}

// Validation is the public view of an invite code.
type Validation struct {
	Valid     bool
	Inviter   *models.User
	ExpiresAt *time.Time
}

// InviteURL builds the sign-up link shared with the partner.
func InviteURL(baseURL, code string) string {
	return strings.TrimRight(baseURL, "/") + "/sign-up?code=" + code
}

// CreateInvite issues a new invitation for userID, replacing any pending one.
func (s *Service) CreateInvite(ctx context.Context, userID uint, baseURL string) (*Invite, error) {
	now := s.now()
	var invite models.Invitation

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rel, err := Current(tx, userID)
		if err != nil {
			return err
		}
		if rel != nil {
			return ErrAlreadyPaired
		}

		err = tx.Model(&models.Invitation{}).
			Where("created_by = ? AND status = ?", userID, models.InvitationPending).
			Update("status", models.InvitationCancelled).Error
		if err != nil {
			return fmt.Errorf("cancel pending invitations: %w", err)
		}

		code, err := s.uniqueCode(tx)
		if err != nil {
			return err
		}

		invite = models.Invitation{
			Code:      code,
			CreatedBy: userID,
			Status:    models.InvitationPending,
			ExpiresAt: now.Add(models.InvitationTTL),
		}
		if err := tx.Create(&invite).Error; err != nil {
			return fmt.Errorf("create invitation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("invitation created", zap.Uint("user_id", userID), zap.Time("expires_at", invite.ExpiresAt))
	return &Invite{
		Code:      invite.Code,
		URL:       InviteURL(baseURL, invite.Code),
		ExpiresAt: invite.ExpiresAt,
	}, nil
}

func (s *Service) uniqueCode(tx *gorm.DB) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return "", fmt.Errorf("generate invite code: %w", err)
		}

		var count int64
		if err := tx.Model(&models.Invitation{}).Where("code = ?", code).Count(&count).Error; err != nil {
			return "", fmt.Errorf("check invite code: %w", err)
		}
		if count == 0 {
			return code, nil
		}
	}
	return "", ErrCodeGenerationExhausted
}

// ValidateInvite reports whether code can still be accepted. It never fails:
// lookup errors are logged and reported as an invalid code.
func (s *Service) ValidateInvite(ctx context.Context, code string) Validation {
	db := s.db.WithContext(ctx)
	now := s.now()

	var invite models.Invitation
	err := db.Where("code = ?", NormalizeCode(code)).First(&invite).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Error("failed to look up invitation", zap.Error(err))
		}
		return Validation{}
	}

	expiresAt := invite.ExpiresAt
	if invite.Status != models.InvitationPending {
		return Validation{ExpiresAt: &expiresAt}
	}
	if invite.Expired(now) {
		s.markExpired(db, &invite)
		return Validation{ExpiresAt: &expiresAt}
	}

	var inviter models.User
	if err := db.First(&inviter, invite.CreatedBy).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Error("failed to load inviter", zap.Uint("user_id", invite.CreatedBy), zap.Error(err))
		}
		return Validation{ExpiresAt: &expiresAt}
	}
	return Validation{Valid: true, Inviter: &inviter, ExpiresAt: &expiresAt}
}

// GetPendingInvite returns the user's most recent usable invitation, or nil.
func (s *Service) GetPendingInvite(ctx context.Context, userID uint, baseURL string) (*Invite, error) {
	db := s.db.WithContext(ctx)

	var invite models.Invitation
	err := db.Where("created_by = ? AND status = ?", userID, models.InvitationPending).
		Order("created_at DESC").Order("id DESC").
		First(&invite).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load pending invitation: %w", err)
	}

	if invite.Expired(s.now()) {
		s.markExpired(db, &invite)
		return nil, nil
	}
	return &Invite{
		Code:      invite.Code,
		URL:       InviteURL(baseURL, invite.Code),
		ExpiresAt: invite.ExpiresAt,
	}, nil
}

// CheckInvite loads the invitation behind code and checks that userID may
// accept it. A zero userID skips the self-invite check, for callers that have
// not created the accepting account yet.
func (s *Service) CheckInvite(ctx context.Context, code string, userID uint) (*models.Invitation, error) {
	db := s.db.WithContext(ctx)

	var invite models.Invitation
	err := db.Where("code = ?", NormalizeCode(code)).First(&invite).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvitationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load invitation: %w", err)
	}

	switch invite.Status {
	case models.InvitationPending:
	case models.InvitationExpired:
		return nil, ErrInvitationExpired
	default:
		return nil, ErrInvitationAlreadyUsed
	}
	if invite.Expired(s.now()) {
		s.markExpired(db, &invite)
		return nil, ErrInvitationExpired
	}
	if userID != 0 && invite.CreatedBy == userID {
		return nil, ErrSelfInvite
	}

	inviterRel, err := Current(db, invite.CreatedBy)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvitationNotFound
	}
	if err != nil {
		return nil, err
	}
	if inviterRel != nil {
		return nil, ErrInviterAlreadyPaired
	}
	return &invite, nil
}

func (s *Service) markExpired(db *gorm.DB, invite *models.Invitation) {
	err := db.Model(&models.Invitation{}).
		Where("id = ? AND status = ?", invite.ID, models.InvitationPending).
		Update("status", models.InvitationExpired).Error
	if err != nil {
		s.logger.Warn("failed to mark invitation expired", zap.Uint("invitation_id", invite.ID), zap.Error(err))
		return
	}
	invite.Status = models.InvitationExpired
}
