// Package journal stores the posts and attachments a couple shares.
package journal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"duet/backend/internal/hub"
	"duet/backend/internal/models"
	"duet/backend/internal/relationship"
	"duet/backend/internal/storage"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

var (
	ErrNotPaired          = errors.New("you must pair with a partner before performing this action")
	ErrInvalidAttachments = errors.New("one or more attachments were not found")
	ErrPostNotFound       = errors.New("post not found or you don't have permission to access it")
	ErrWrongRelationship  = errors.New("post does not belong to your current relationship")
	ErrAttachmentNotFound = errors.New("attachment not found")
)

// Cursor marks the last post of a page. The next page starts strictly after it.
type Cursor struct {
	CreatedAt time.Time
	ID        uint
}

// Page is one slice of a relationship feed, newest first.
type Page struct {
	Posts      []models.Post
	NextCursor *Cursor
}

// Object is a readable attachment. The caller closes Body.
type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

type Service struct {
	db        *gorm.DB
	store     storage.ObjectStore
	logger    *zap.Logger
	publisher relationship.Publisher
	now       func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithPublisher(p relationship.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func NewService(db *gorm.DB, store storage.ObjectStore, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		db:     db,
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
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

// UploadAttachment stores an uploaded file. The attachment stays unlinked
// until a post claims it.
func (s *Service) UploadAttachment(ctx context.Context, userID uint, filename, contentType string, size int64, body io.Reader) (*models.Attachment, error) {
	key := storage.NewObjectKey(filename)
	if err := s.store.Put(ctx, key, body, size, contentType); err != nil {
		return nil, fmt.Errorf("store attachment: %w", err)
	}

	attachment := models.Attachment{
		Filename:    key,
		ContentType: contentType,
		Size:        size,
		UploadedBy:  userID,
		CreatedAt:   s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&attachment).Error; err != nil {
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			s.logger.Warn("failed to remove stored object", zap.String("filename", key), zap.Error(delErr))
		}
		return nil, fmt.Errorf("create attachment: %w", err)
	}
	return &attachment, nil
}

// CreatePost publishes a post in the author's active relationship and links
// the given uploads to it.
func (s *Service) CreatePost(ctx context.Context, userID uint, text string, attachmentIDs []uint) (*models.Post, error) {
	db := s.db.WithContext(ctx)

	rel, err := relationship.Current(db, userID)
	if err != nil {
		return nil, err
	}
	if rel == nil || rel.Status != models.RelationshipActive {
		return nil, ErrNotPaired
	}

	ids := uniqueIDs(attachmentIDs)
	now := s.now()
	post := models.Post{
		RelationshipID: rel.ID,
		AuthorID:       userID,
		Text:           text,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&post).Error; err != nil {
			return fmt.Errorf("create post: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		result := tx.Model(&models.Attachment{}).
			Where("id IN ? AND uploaded_by = ? AND post_id IS NULL", ids, userID).
			Update("post_id", post.ID)
		if result.Error != nil {
			return fmt.Errorf("link attachments: %w", result.Error)
		}
		if result.RowsAffected != int64(len(ids)) {
			return ErrInvalidAttachments
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := db.Preload("Author").Preload("Attachments").First(&post, post.ID).Error; err != nil {
		return nil, fmt.Errorf("load post: %w", err)
	}
	s.publish(rel.ID, hub.EventPostCreated, map[string]interface{}{
		"post_id":   post.ID,
		"author_id": userID,
	})
	return &post, nil
}

// ListPosts returns a page of the user's relationship feed. Members keep
// read access during the grace period; unpaired users get an empty page.
func (s *Service) ListPosts(ctx context.Context, userID uint, limit int, cursor *Cursor) (*Page, error) {
	db := s.db.WithContext(ctx)

	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	rel, err := relationship.Current(db, userID)
	if err != nil {
		return nil, err
	}
	if rel == nil {
		return &Page{Posts: []models.Post{}}, nil
	}

	query := db.Where("relationship_id = ?", rel.ID)
	if cursor != nil {
		createdAt := cursor.CreatedAt.UTC()
		query = query.Where("(created_at < ? OR (created_at = ? AND id < ?))", createdAt, createdAt, cursor.ID)
	}

	var posts []models.Post
	err = query.Preload("Author").Preload("Attachments").
		Order("created_at DESC").Order("id DESC").
		Limit(limit + 1).
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}

	page := &Page{Posts: posts}
	if len(posts) > limit {
		page.Posts = posts[:limit]
		last := page.Posts[limit-1]
		page.NextCursor = &Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return page, nil
}

// DeletePost removes one of the author's own posts with its attachments.
func (s *Service) DeletePost(ctx context.Context, userID, postID uint) error {
	db := s.db.WithContext(ctx)

	var post models.Post
	if err := db.First(&post, postID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPostNotFound
		}
		return fmt.Errorf("load post: %w", err)
	}
	if post.AuthorID != userID {
		return ErrPostNotFound
	}

	rel, err := relationship.Current(db, userID)
	if err != nil {
		return err
	}
	if rel == nil || rel.ID != post.RelationshipID {
		return ErrWrongRelationship
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("post_id = ?", post.ID).Delete(&models.Attachment{}).Error; err != nil {
			return fmt.Errorf("delete attachments: %w", err)
		}
		if err := tx.Delete(&post).Error; err != nil {
			return fmt.Errorf("delete post: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(rel.ID, hub.EventPostDeleted, map[string]interface{}{
		"post_id":   post.ID,
		"author_id": userID,
	})
	return nil
}

// GetAttachment opens an attachment for a member of the relationship it was
// posted in. Unlinked uploads are only visible to their uploader.
func (s *Service) GetAttachment(ctx context.Context, userID uint, filename string) (*Object, error) {
	db := s.db.WithContext(ctx)

	var attachment models.Attachment
	if err := db.Where("filename = ?", filename).First(&attachment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAttachmentNotFound
		}
		return nil, fmt.Errorf("load attachment: %w", err)
	}

	if err := s.authorize(db, userID, &attachment); err != nil {
		return nil, err
	}

	body, contentType, err := s.store.Get(ctx, attachment.Filename)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, ErrAttachmentNotFound
	}
	if err != nil {
		return nil, err
	}
	if attachment.ContentType != "" {
		contentType = attachment.ContentType
	}
	return &Object{Body: body, ContentType: contentType, Size: attachment.Size}, nil
}

func (s *Service) authorize(db *gorm.DB, userID uint, attachment *models.Attachment) error {
	if attachment.PostID == nil {
		if attachment.UploadedBy != userID {
			return ErrAttachmentNotFound
		}
		return nil
	}

	var post models.Post
	if err := db.First(&post, *attachment.PostID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAttachmentNotFound
		}
		return fmt.Errorf("load post: %w", err)
	}

	rel, err := relationship.Current(db, userID)
	if err != nil {
		return err
	}
	if rel == nil || rel.ID != post.RelationshipID {
		return ErrAttachmentNotFound
	}
	return nil
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	unique := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	return unique
}
