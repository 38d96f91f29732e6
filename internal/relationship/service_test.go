package relationship

import (
	"context"
	"testing"
	"time"

	"duet/backend/internal/database/databasetest"
	"duet/backend/internal/hub"
	"duet/backend/internal/models"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type recordingPublisher struct {
	events []hub.Event
}

func (p *recordingPublisher) Broadcast(_ uint, event hub.Event) {
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []string {
	var types []string
	for _, event := range p.events {
		types = append(types, event.Type)
	}
	return types
}

type fixture struct {
	svc       *Service
	db        *gorm.DB
	clock     *fakeClock
	publisher *recordingPublisher
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		db:        databasetest.New(t),
		clock:     &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
		publisher: &recordingPublisher{},
	}
	opts = append([]Option{WithClock(f.clock.Now), WithPublisher(f.publisher)}, opts...)
	f.svc = NewService(f.db, zap.NewNop(), opts...)
	return f
}

func (f *fixture) createUser(t *testing.T, name string) models.User {
	t.Helper()
	user := models.User{Username: name, Email: name + "@example.com", PasswordHash: "hash"}
	require.NoError(t, f.db.Create(&user).Error)
	return user
}

func (f *fixture) pair(t *testing.T, inviter, invitee models.User) *Summary {
	t.Helper()
	ctx := context.Background()
	invite, err := f.svc.CreateInvite(ctx, inviter.ID, "http://localhost:3000")
	require.NoError(t, err)
	summary, err := f.svc.AcceptInvite(ctx, invitee.ID, invite.Code)
	require.NoError(t, err)
	return summary
}

func (f *fixture) reload(t *testing.T, id uint) models.Relationship {
	t.Helper()
	var rel models.Relationship
	require.NoError(t, f.db.First(&rel, id).Error)
	return rel
}

func (f *fixture) pointer(t *testing.T, userID uint) *uint {
	t.Helper()
	var user models.User
	require.NoError(t, f.db.First(&user, userID).Error)
	return user.CurrentRelationshipID
}
