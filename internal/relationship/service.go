// Package relationship pairs users through invitation codes and drives the
// relationship lifecycle: ending, the grace period and the resume handshake.
package relationship

import (
	"errors"
	"fmt"
	"time"

	"duet/backend/internal/hub"
	"duet/backend/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Publisher receives lifecycle events for the members of a relationship.
type Publisher interface {
	Broadcast(relationshipID uint, event hub.Event)
}

// Service implements invitations, pairing and lifecycle operations.
type Service struct {
	db        *gorm.DB
	logger    *zap.Logger
	publisher Publisher
	now       func() time.Time
	newCode   func() (string, error)
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithCodeGenerator overrides how invite codes are generated.
func WithCodeGenerator(newCode func() (string, error)) Option {
	return func(s *Service) { s.newCode = newCode }
}

// WithPublisher sets where lifecycle events are published.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// NewService creates a relationship service.
func NewService(db *gorm.DB, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		db:      db,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		newCode: NewCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

func (s *Service) publish(relationshipID uint, eventType string, payload interface{}) {
	if s.publisher == nil {
		return
	}
	s.publisher.Broadcast(relationshipID, hub.Event{Type: eventType, Payload: payload})
}

// Current resolves the user's live relationship. The pointer stored on the user
// is only trusted when the relationship row agrees: it must be active or
// pending deletion and list the user as a member. Otherwise it returns nil.
func Current(db *gorm.DB, userID uint) (*models.Relationship, error) {
	var user models.User
	if err := db.Select("id", "current_relationship_id").First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user.CurrentRelationshipID == nil {
		return nil, nil
	}

	var rel models.Relationship
	err := db.Where("id = ? AND status IN ?", *user.CurrentRelationshipID, models.LiveStatuses).First(&rel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load relationship: %w", err)
	}
	if !rel.HasMember(userID) {
		return nil, nil
	}
	return &rel, nil
}

// Transition moves rel along the lifecycle state machine and writes fields in
// the same statement. The write only lands if nobody else changed the row
// since rel was read.
func Transition(db *gorm.DB, rel *models.Relationship, event models.LifecycleEvent, fields map[string]interface{}, now time.Time) error {
	next, err := rel.Status.Next(event)
	if err != nil {
		return err
	}
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["status"] = next
	if err := update(db, rel, fields, now); err != nil {
		return err
	}
	rel.Status = next
	return nil
}

func update(db *gorm.DB, rel *models.Relationship, fields map[string]interface{}, now time.Time) error {
	fields["version"] = gorm.Expr("version + 1")
	fields["updated_at"] = now

	result := db.Model(&models.Relationship{}).
		Where("id = ? AND version = ?", rel.ID, rel.Version).
		Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("update relationship: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrConcurrentModification
	}
	rel.Version++
	rel.UpdatedAt = now
	return nil
}
