// Package account registers users, logs them in and removes their accounts.
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"duet/backend/internal/models"
	"duet/backend/internal/relationship"
	"duet/backend/pkg/jwt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrUserExists         = errors.New("username or email already taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrActiveRelationship = errors.New("end your relationship before deleting your account")
)

// RegisterInput holds the fields of a new account. InviteCode is optional;
// when set the new user is paired with the inviter in the same transaction.
type RegisterInput struct {
	Username    string
	Email       string
	Password    string
	DisplayName *string
	InviteCode  string
}

// Session is an authenticated user with a fresh access token.
type Session struct {
	Token string
	User  models.User
}

type Service struct {
	db            *gorm.DB
	relationships *relationship.Service
	logger        *zap.Logger
	jwtSecret     string
	bcryptCost    int
	now           func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithBcryptCost overrides the password hashing cost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.bcryptCost = cost }
}

func NewService(db *gorm.DB, relationships *relationship.Service, logger *zap.Logger, jwtSecret string, opts ...Option) *Service {
	s := &Service{
		db:            db,
		relationships: relationships,
		logger:        logger,
		jwtSecret:     jwtSecret,
		bcryptCost:    bcrypt.DefaultCost,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Register creates an account and signs it in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	db := s.db.WithContext(ctx)
	username := strings.TrimSpace(in.Username)
	email := normalizeEmail(in.Email)

	var taken int64
	err := db.Unscoped().Model(&models.User{}).
		Where("username = ? OR email = ?", username, email).
		Count(&taken).Error
	if err != nil {
		return nil, fmt.Errorf("check user: %w", err)
	}
	if taken > 0 {
		return nil, ErrUserExists
	}

	var invite *models.Invitation
	if code := strings.TrimSpace(in.InviteCode); code != "" {
		invite, err = s.relationships.CheckInvite(ctx, code, 0)
		if err != nil {
			return nil, err
		}
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := models.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hashedPassword),
		DisplayName:  in.DisplayName,
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		if invite == nil {
			return nil
		}
		rel, err := relationship.Pair(tx, invite, user.ID, s.now())
		if err != nil {
			return err
		}
		user.CurrentRelationshipID = &rel.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered", zap.Uint("user_id", user.ID), zap.Bool("with_invite", invite != nil))
	return s.session(user)
}

// Login signs a user in by username or email.
func (s *Service) Login(ctx context.Context, login, password string) (*Session, error) {
	login = strings.TrimSpace(login)

	var user models.User
	err := s.db.WithContext(ctx).
		Where("username = ? OR email = ?", login, normalizeEmail(login)).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.session(user)
}

// Me returns the user's own profile.
func (s *Service) Me(ctx context.Context, userID uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, relationship.ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &user, nil
}

// DeleteAccount removes the user with their posts. It is refused while the
// user is in an active relationship. An ended relationship is purged right
// away so the partner is free to pair again.
func (s *Service) DeleteAccount(ctx context.Context, userID uint) error {
	var purged *uint

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rel, err := relationship.Current(tx, userID)
		if err != nil {
			return err
		}
		if rel != nil {
			if rel.Status == models.RelationshipActive {
				return ErrActiveRelationship
			}
			if _, _, err := relationship.Purge(tx, rel, s.now()); err != nil {
				return fmt.Errorf("purge relationship: %w", err)
			}
			purged = &rel.ID
		}

		postIDs := tx.Model(&models.Post{}).Select("id").Where("author_id = ?", userID)
		if err := tx.Where("post_id IN (?)", postIDs).Delete(&models.Attachment{}).Error; err != nil {
			return fmt.Errorf("delete attachments: %w", err)
		}
		if err := tx.Where("author_id = ?", userID).Delete(&models.Post{}).Error; err != nil {
			return fmt.Errorf("delete posts: %w", err)
		}
		err = tx.Model(&models.Invitation{}).
			Where("created_by = ? AND status = ?", userID, models.InvitationPending).
			Update("status", models.InvitationCancelled).Error
		if err != nil {
			return fmt.Errorf("cancel invitations: %w", err)
		}
		if err := tx.Unscoped().Delete(&models.User{}, userID).Error; err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	fields := []zap.Field{zap.Uint("user_id", userID)}
	if purged != nil {
		fields = append(fields, zap.Uint("purged_relationship_id", *purged))
	}
	s.logger.Info("account deleted", fields...)
	return nil
}

func (s *Service) session(user models.User) (*Session, error) {
	token, err := jwt.GenerateToken(s.jwtSecret, user.ID)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	return &Session{Token: token, User: user}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
