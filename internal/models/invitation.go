package models

import "time"

// InvitationStatus defines the state of a pairing invitation.
type InvitationStatus string

const (
	InvitationPending   InvitationStatus = "pending"
	InvitationAccepted  InvitationStatus = "accepted"
	InvitationExpired   InvitationStatus = "expired"
	InvitationCancelled InvitationStatus = "cancelled"
)

// InvitationTTL is how long an invitation code stays usable.
const InvitationTTL = 7 * 24 * time.Hour

// Invitation is a single-use pairing offer identified by a short code.
type Invitation struct {
	ID             uint             `gorm:"primaryKey"`
	Code           string           `gorm:"size:8;uniqueIndex;not null"`
	CreatedBy      uint             `gorm:"not null;index"`
	Status         InvitationStatus `gorm:"type:varchar(20);not null;default:'pending';index"`
	ExpiresAt      time.Time        `gorm:"not null"`
	AcceptedBy     *uint
	RelationshipID *uint
	AcceptedAt     *time.Time
	CreatedAt      time.Time

	Creator User `gorm:"foreignKey:CreatedBy"`
}

// Expired reports whether the invitation is past its expiry at now.
func (i Invitation) Expired(now time.Time) bool {
	return !i.ExpiresAt.After(now)
}
