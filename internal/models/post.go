package models

import (
	"time"

	"gorm.io/gorm"
)

// Post is a journal entry shared inside a relationship.
type Post struct {
	ID             uint      `gorm:"primaryKey"`
	RelationshipID uint      `gorm:"not null;index"`
	AuthorID       uint      `gorm:"not null;index"`
	Text           string    `gorm:"type:text;not null"`
	CreatedAt      time.Time `gorm:"index"`
	UpdatedAt      time.Time
	DeletedAt      gorm.DeletedAt `gorm:"index"`

	Author      User         `gorm:"foreignKey:AuthorID"`
	Attachments []Attachment `gorm:"foreignKey:PostID"`
}

// Attachment is an uploaded file. PostID stays nil until the upload is linked
// to a post; attachments that never get linked are orphans.
type Attachment struct {
	ID          uint   `gorm:"primaryKey"`
	Filename    string `gorm:"size:255;uniqueIndex;not null"`
	ContentType string `gorm:"size:100"`
	Size        int64
	UploadedBy  uint  `gorm:"not null;index"`
	PostID      *uint `gorm:"index"`
	CreatedAt   time.Time
	DeletedAt   gorm.DeletedAt `gorm:"index"`
}
