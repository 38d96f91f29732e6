package models

import (
	"errors"
	"fmt"
	"time"
)

// RelationshipStatus defines the lifecycle state of a relationship.
type RelationshipStatus string

const (
	// RelationshipActive is a live pairing; both members can post.
	RelationshipActive RelationshipStatus = "active"

	// RelationshipPendingDeletion means one member ended the relationship. Data is
	// kept for the grace period and the pair can still resume.
	RelationshipPendingDeletion RelationshipStatus = "pending_deletion"

	// RelationshipDeleted is terminal. The row is kept, its posts are gone.
	RelationshipDeleted RelationshipStatus = "deleted"
)

// GracePeriod is how long an ended relationship can still be resumed.
const GracePeriod = 7 * 24 * time.Hour

// LifecycleEvent triggers a relationship status transition.
type LifecycleEvent string

const (
	EventEnd    LifecycleEvent = "end"
	EventResume LifecycleEvent = "resume"
	EventPurge  LifecycleEvent = "purge"
)

var ErrInvalidTransition = errors.New("invalid relationship transition")

// Next returns the status reached by applying event to s.
func (s RelationshipStatus) Next(event LifecycleEvent) (RelationshipStatus, error) {
	switch s {
	case RelationshipActive:
		if event == EventEnd {
			return RelationshipPendingDeletion, nil
		}
	case RelationshipPendingDeletion:
		switch event {
		case EventResume:
			return RelationshipActive, nil
		case EventPurge:
			return RelationshipDeleted, nil
		}
	case RelationshipDeleted:
	default:
		return "", fmt.Errorf("unknown relationship status %q", s)
	}
	return "", fmt.Errorf("%w: %s from %s", ErrInvalidTransition, event, s)
}

// Live reports whether the relationship still binds its members.
func (s RelationshipStatus) Live() bool {
	return s == RelationshipActive || s == RelationshipPendingDeletion
}

// LiveStatuses lists the statuses for which a relationship still binds its members.
var LiveStatuses = []RelationshipStatus{RelationshipActive, RelationshipPendingDeletion}

// Relationship is a symmetric pairing between two users. Member order carries
// no meaning: the partner is always resolved relative to the viewer. Version is
// bumped by every lifecycle write and guards against lost updates.
type Relationship struct {
	ID                uint               `gorm:"primaryKey"`
	User1ID           uint               `gorm:"not null;index"`
	User2ID           uint               `gorm:"not null;index"`
	Status            RelationshipStatus `gorm:"type:varchar(20);not null;default:'active';index"`
	StartDate         *time.Time
	EndedAt           *time.Time
	ResumeRequestedBy *uint
	ResumeRequestedAt *time.Time
	Version           int64 `gorm:"not null;default:1"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasMember reports whether userID is one of the two members.
func (r Relationship) HasMember(userID uint) bool {
	return r.User1ID == userID || r.User2ID == userID
}

// PartnerID returns the member that is not userID.
func (r Relationship) PartnerID(userID uint) uint {
	if r.User1ID == userID {
		return r.User2ID
	}
	return r.User1ID
}

// PermanentDeletionAt is the end of the grace period, or nil while the
// relationship has not been ended.
func (r Relationship) PermanentDeletionAt() *time.Time {
	if r.EndedAt == nil {
		return nil
	}
	deadline := r.EndedAt.Add(GracePeriod)
	return &deadline
}

// GraceExpired reports whether the grace period lapsed strictly before now.
func (r Relationship) GraceExpired(now time.Time) bool {
	deadline := r.PermanentDeletionAt()
	return deadline != nil && deadline.Before(now)
}

// DueForPurge reports whether the reaper may permanently delete the relationship.
func (r Relationship) DueForPurge(now time.Time) bool {
	if r.Status != RelationshipPendingDeletion {
		return false
	}
	deadline := r.PermanentDeletionAt()
	return deadline != nil && !deadline.After(now)
}

// ResumeStep is the outcome of a resume click in the two-party handshake.
type ResumeStep int

const (
	// ResumeRequest records the first click; the partner has to confirm.
	ResumeRequest ResumeStep = iota
	// ResumeRepeat is the requester clicking again; nothing changes.
	ResumeRepeat
	// ResumeComplete is the partner confirming; the relationship becomes active.
	ResumeComplete
)

// NextResumeStep decides what a resume click by userID does.
func (r Relationship) NextResumeStep(userID uint) ResumeStep {
	switch {
	case r.ResumeRequestedBy == nil:
		return ResumeRequest
	case *r.ResumeRequestedBy == userID:
		return ResumeRepeat
	default:
		return ResumeComplete
	}
}
