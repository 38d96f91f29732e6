package models

import "gorm.io/gorm"

// User represents an account in the system.
type User struct {
	gorm.Model
	Username     string  `gorm:"size:255;unique;not null"`
	Email        string  `gorm:"size:255;unique;not null"`
	PasswordHash string  `gorm:"size:255;not null"`
	DisplayName  *string `gorm:"size:255"`
	Avatar       *string `gorm:"size:512"`

	// A user can only be in one relationship at a time. The pointer is a cache
	// of the Relationship table and is validated on every read.
	CurrentRelationshipID *uint `gorm:"index"`
}
