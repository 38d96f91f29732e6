package journal

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"duet/backend/internal/database/databasetest"
	"duet/backend/internal/hub"
	"duet/backend/internal/models"
	"duet/backend/internal/relationship"
	"duet/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

type events struct{ types []string }

func (e *events) Broadcast(_ uint, event hub.Event) { e.types = append(e.types, event.Type) }

type env struct {
	db      *gorm.DB
	clock   *clock
	store   *storage.MemoryStore
	events  *events
	rels    *relationship.Service
	journal *Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		db:     databasetest.New(t),
		clock:  &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
		store:  storage.NewMemoryStore(),
		events: &events{},
	}
	e.rels = relationship.NewService(e.db, zap.NewNop(), relationship.WithClock(e.clock.Now))
	e.journal = NewService(e.db, e.store, zap.NewNop(), WithClock(e.clock.Now), WithPublisher(e.events))
	return e
}

func (e *env) user(t *testing.T, name string) models.User {
	t.Helper()
	u := models.User{Username: name, Email: name + "@example.com", PasswordHash: "hash"}
	require.NoError(t, e.db.Create(&u).Error)
	return u
}

func (e *env) pair(t *testing.T, a, b models.User) uint {
	t.Helper()
	ctx := context.Background()
	invite, err := e.rels.CreateInvite(ctx, a.ID, "")
	require.NoError(t, err)
	summary, err := e.rels.AcceptInvite(ctx, b.ID, invite.Code)
	require.NoError(t, err)
	return summary.Relationship.ID
}

func (e *env) upload(t *testing.T, userID uint, name string) *models.Attachment {
	t.Helper()
	a, err := e.journal.UploadAttachment(context.Background(), userID, name, "image/png", 4, strings.NewReader("data"))
	require.NoError(t, err)
	return a
}

func TestUploadAttachment(t *testing.T) {
	e := newEnv(t)
	alice := e.user(t, "alice")

	a := e.upload(t, alice.ID, "photo.PNG")
	assert.True(t, strings.HasSuffix(a.Filename, ".png"))
	assert.Nil(t, a.PostID)
	assert.Equal(t, int64(4), a.Size)
	assert.Equal(t, 1, e.store.Len())

	obj, err := e.journal.GetAttachment(context.Background(), alice.ID, a.Filename)
	require.NoError(t, err)
	defer obj.Body.Close()
	data, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
	assert.Equal(t, "image/png", obj.ContentType)
}

func TestCreatePost(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice, bob := e.user(t, "alice"), e.user(t, "bob")

	_, err := e.journal.CreatePost(ctx, alice.ID, "hello", nil)
	assert.ErrorIs(t, err, ErrNotPaired)

	relID := e.pair(t, alice, bob)
	first := e.upload(t, alice.ID, "a.png")
	second := e.upload(t, alice.ID, "b.png")

	post, err := e.journal.CreatePost(ctx, alice.ID, "first date", []uint{first.ID, second.ID, first.ID})
	require.NoError(t, err)
	assert.Equal(t, relID, post.RelationshipID)
	assert.Equal(t, "alice", post.Author.Username)
	assert.Len(t, post.Attachments, 2)
	assert.Equal(t, []string{hub.EventPostCreated}, e.events.types)

	// Bob can see the linked attachment, a stranger cannot.
	_, err = e.journal.GetAttachment(ctx, bob.ID, first.Filename)
	require.NoError(t, err)
	mallory := e.user(t, "mallory")
	_, err = e.journal.GetAttachment(ctx, mallory.ID, first.Filename)
	assert.ErrorIs(t, err, ErrAttachmentNotFound)
}

func TestCreatePostRejectsForeignOrLinkedAttachments(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice, bob := e.user(t, "alice"), e.user(t, "bob")
	e.pair(t, alice, bob)

	bobs := e.upload(t, bob.ID, "bob.png")
	_, err := e.journal.CreatePost(ctx, alice.ID, "stolen", []uint{bobs.ID})
	assert.ErrorIs(t, err, ErrInvalidAttachments)

	_, err = e.journal.CreatePost(ctx, alice.ID, "missing", []uint{999})
	assert.ErrorIs(t, err, ErrInvalidAttachments)

	mine := e.upload(t, alice.ID, "mine.png")
	_, err = e.journal.CreatePost(ctx, alice.ID, "ok", []uint{mine.ID})
	require.NoError(t, err)
	_, err = e.journal.CreatePost(ctx, alice.ID, "reuse", []uint{mine.ID})
	assert.ErrorIs(t, err, ErrInvalidAttachments)

	var posts int64
	require.NoError(t, e.db.Model(&models.Post{}).Count(&posts).Error)
	assert.Equal(t, int64(1), posts, "failed posts are rolled back")
}

func TestCreatePostDuringGracePeriod(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice, bob := e.user(t, "alice"), e.user(t, "bob")
	e.pair(t, alice, bob)

	_, err := e.journal.CreatePost(ctx, alice.ID, "before", nil)
	require.NoError(t, err)
	_, err = e.rels.EndRelationship(ctx, bob.ID)
	require.NoError(t, err)

	_, err = e.journal.CreatePost(ctx, alice.ID, "after", nil)
	assert.ErrorIs(t, err, ErrNotPaired)

	page, err := e.journal.ListPosts(ctx, alice.ID, 0, nil)
	require.NoError(t, err)
	assert.Len(t, page.Posts, 1, "the feed stays readable during the grace period")
}

func TestListPostsPaginates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice, bob := e.user(t, "alice"), e.user(t, "bob")
	e.pair(t, alice, bob)

	for i := 0; i < 5; i++ {
		_, err := e.journal.CreatePost(ctx, alice.ID, "post", nil)
		require.NoError(t, err)
		if i != 2 {
			e.clock.now = e.clock.now.Add(time.Minute)
		}
	}

	var seen []uint
	var cursor *Cursor
	for pages := 0; pages < 5; pages++ {
		page, err := e.journal.ListPosts(ctx, bob.ID, 2, cursor)
		require.NoError(t, err)
		for _, p := range page.Posts {
			seen = append(seen, p.ID)
		}
		if page.NextCursor == nil {
			break
		}
		cursor = page.NextCursor
	}

	require.Len(t, seen, 5)
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i-1], seen[i], "newest first without duplicates")
	}

	empty, err := e.journal.ListPosts(ctx, e.user(t, "carol").ID, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Posts)
	assert.Nil(t, empty.NextCursor)
}

func TestDeletePost(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice, bob := e.user(t, "alice"), e.user(t, "bob")
	e.pair(t, alice, bob)

	a := e.upload(t, alice.ID, "a.png")
	post, err := e.journal.CreatePost(ctx, alice.ID, "hello", []uint{a.ID})
	require.NoError(t, err)

	assert.ErrorIs(t, e.journal.DeletePost(ctx, bob.ID, post.ID), ErrPostNotFound)
	assert.ErrorIs(t, e.journal.DeletePost(ctx, alice.ID, 999), ErrPostNotFound)

	require.NoError(t, e.journal.DeletePost(ctx, alice.ID, post.ID))
	assert.ErrorIs(t, e.journal.DeletePost(ctx, alice.ID, post.ID), ErrPostNotFound)

	var attachments int64
	require.NoError(t, e.db.Model(&models.Attachment{}).Where("id = ?", a.ID).Count(&attachments).Error)
	assert.Zero(t, attachments)

	_, err = e.journal.GetAttachment(ctx, bob.ID, a.Filename)
	assert.ErrorIs(t, err, ErrAttachmentNotFound)
	assert.Contains(t, e.events.types, hub.EventPostDeleted)
}

func TestDeletePostFromPreviousRelationship(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice, bob, carol := e.user(t, "alice"), e.user(t, "bob"), e.user(t, "carol")
	oldRel := e.pair(t, alice, bob)

	post, err := e.journal.CreatePost(ctx, alice.ID, "old", nil)
	require.NoError(t, err)

	// Simulate the old relationship being gone while the post survived.
	require.NoError(t, e.db.Model(&models.Relationship{}).Where("id = ?", oldRel).
		Update("status", models.RelationshipDeleted).Error)
	require.NoError(t, e.db.Model(&models.User{}).Where("id IN ?", []uint{alice.ID, bob.ID}).
		Update("current_relationship_id", nil).Error)
	e.pair(t, alice, carol)

	assert.ErrorIs(t, e.journal.DeletePost(ctx, alice.ID, post.ID), ErrWrongRelationship)
}

func TestGetAttachmentOfUnlinkedUpload(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice, bob := e.user(t, "alice"), e.user(t, "bob")
	e.pair(t, alice, bob)

	a := e.upload(t, alice.ID, "draft.png")
	_, err := e.journal.GetAttachment(ctx, bob.ID, a.Filename)
	assert.ErrorIs(t, err, ErrAttachmentNotFound, "drafts are private to the uploader")

	_, err = e.journal.GetAttachment(ctx, alice.ID, "missing.png")
	assert.ErrorIs(t, err, ErrAttachmentNotFound)

	require.NoError(t, e.store.Delete(ctx, a.Filename))
	_, err = e.journal.GetAttachment(ctx, alice.ID, a.Filename)
	assert.ErrorIs(t, err, ErrAttachmentNotFound)
}
