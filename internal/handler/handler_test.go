package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"duet/backend/internal/account"
	"duet/backend/internal/database/databasetest"
	"duet/backend/internal/hub"
	"duet/backend/internal/journal"
	"duet/backend/internal/metrics"
	"duet/backend/internal/reaper"
	"duet/backend/internal/relationship"
	"duet/backend/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	testSecret     = "test-secret"
	testAdminToken = "admin-token"
)

type testServer struct {
	handler *Handler
	router  *gin.Engine
	store   *storage.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := databasetest.New(t)
	logger := zap.NewNop()
	store := storage.NewMemoryStore()
	eventHub := hub.NewHub(logger)
	registry := metrics.NewRegistry()
	m := metrics.New(registry)

	relationships := relationship.NewService(db, logger, relationship.WithPublisher(eventHub))
	h := New(Deps{
		Accounts:      account.NewService(db, relationships, logger, testSecret, account.WithBcryptCost(bcrypt.MinCost)),
		Relationships: relationships,
		Journal:       journal.NewService(db, store, logger, journal.WithPublisher(eventHub)),
		Reaper:        reaper.New(db, store, logger, reaper.WithMetrics(m)),
		Hub:           eventHub,
		Logger:        logger,
		Metrics:       m,
		Gatherer:      registry,
		JWTSecret:     testSecret,
		AdminToken:    testAdminToken,
		MaxUploadSize: 1024,
	})
	return &testServer{handler: h, router: h.Router(), store: store}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) register(t *testing.T, name, inviteCode string) TokenResponse {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/auth/register", "", RegisterInput{
		Username:   name,
		Email:      name + "@example.com",
		Password:   "password123",
		InviteCode: inviteCode,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[TokenResponse](t, w)
}

func (s *testServer) upload(t *testing.T, token, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", "image/png")
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/attachments", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func assertError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	assert.Equal(t, status, w.Code, w.Body.String())
	assert.Equal(t, code, decode[ErrorResponse](t, w).Code)
}

func TestPairingAndJournalFlow(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice", "")

	w := s.do(t, http.MethodPost, "/api/v1/relationship/invite", alice.Token, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	invite := decode[InviteResponse](t, w)
	assert.Len(t, invite.InviteCode, relationship.CodeLength)
	assert.Equal(t, "https://example.com/sign-up?code="+invite.InviteCode, invite.InviteURL)

	w = s.do(t, http.MethodGet, "/api/v1/relationship/invite/validate?code="+strings.ToLower(invite.InviteCode), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	validation := decode[ValidateInviteResponse](t, w)
	assert.True(t, validation.Valid)
	require.NotNil(t, validation.Inviter)
	assert.Equal(t, "alice", validation.Inviter.Username)

	bob := s.register(t, "bob", invite.InviteCode)
	require.NotNil(t, bob.User.CurrentRelationshipID)

	w = s.do(t, http.MethodGet, "/api/v1/relationship", bob.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	rel := decode[RelationshipEnvelope](t, w).Relationship
	require.NotNil(t, rel)
	assert.Equal(t, "alice", rel.Partner.Username)
	assert.Equal(t, "active", rel.Status)
	assert.Nil(t, rel.PermanentDeletionAt)

	w = s.upload(t, alice.Token, "lake.png", "png-bytes")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	attachment := decode[AttachmentResponse](t, w)
	assert.Equal(t, "/api/v1/attachments/"+attachment.Filename, attachment.URL)

	w = s.do(t, http.MethodPost, "/api/v1/posts", alice.Token, CreatePostInput{
		Text:          "Picnic at the lake",
		AttachmentIDs: []uint{attachment.ID},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	post := decode[PostResponse](t, w)
	assert.Equal(t, "alice", post.Author.Username)
	require.Len(t, post.Attachments, 1)

	w = s.do(t, http.MethodGet, "/api/v1/posts", bob.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[CursorPage[PostResponse]](t, w)
	require.Len(t, page.Data, 1)
	assert.Equal(t, post.ID, page.Data[0].ID)
	assert.Nil(t, page.Meta.NextCursor)

	w = s.do(t, http.MethodGet, attachment.URL, bob.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "png-bytes", w.Body.String())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	w = s.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/posts/%d", post.ID), bob.Token, nil)
	assertError(t, w, http.StatusNotFound, "POST_NOT_FOUND")
	w = s.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/posts/%d", post.ID), alice.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEndAndResumeHandshake(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice", "")
	w := s.do(t, http.MethodPost, "/api/v1/relationship/invite", alice.Token, nil)
	invite := decode[InviteResponse](t, w)
	bob := s.register(t, "bob", invite.InviteCode)

	w = s.do(t, http.MethodPost, "/api/v1/relationship/end", bob.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	ended := decode[EndRelationshipResponse](t, w)
	assert.False(t, ended.PermanentDeletionAt.IsZero())

	w = s.do(t, http.MethodPost, "/api/v1/relationship/end", alice.Token, nil)
	assertError(t, w, http.StatusConflict, "NOT_ACTIVE")

	w = s.do(t, http.MethodPost, "/api/v1/posts", alice.Token, CreatePostInput{Text: "still here?"})
	assertError(t, w, http.StatusForbidden, "NOT_PAIRED")

	w = s.do(t, http.MethodPost, "/api/v1/relationship/resume", alice.Token, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	resume := decode[ResumeResponse](t, w)
	assert.Equal(t, "pending_partner_approval", resume.Status)
	require.NotNil(t, resume.RequestedBy)
	assert.Equal(t, alice.User.ID, *resume.RequestedBy)

	w = s.do(t, http.MethodPost, "/api/v1/relationship/resume", alice.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pending_partner_approval", decode[ResumeResponse](t, w).Status)

	w = s.do(t, http.MethodPost, "/api/v1/relationship/resume/cancel", bob.Token, nil)
	assertError(t, w, http.StatusForbidden, "NOT_REQUESTER")

	w = s.do(t, http.MethodGet, "/api/v1/relationship", bob.Token, nil)
	rel := decode[RelationshipEnvelope](t, w).Relationship
	require.NotNil(t, rel)
	assert.Equal(t, "pending_deletion", rel.Status)
	require.NotNil(t, rel.ResumeRequest)
	assert.Equal(t, alice.User.ID, rel.ResumeRequest.RequestedBy)

	w = s.do(t, http.MethodPost, "/api/v1/relationship/resume", bob.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "active", decode[ResumeResponse](t, w).Status)

	w = s.do(t, http.MethodPost, "/api/v1/relationship/resume", bob.Token, nil)
	assertError(t, w, http.StatusNotFound, "NO_PENDING_RELATIONSHIP")
}

func TestStartDate(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice", "")

	date := time.Date(2021, 6, 12, 0, 0, 0, 0, time.UTC)
	w := s.do(t, http.MethodPut, "/api/v1/relationship/start-date", alice.Token, UpdateStartDateInput{StartDate: &date})
	assertError(t, w, http.StatusNotFound, "NO_ACTIVE_RELATIONSHIP")

	w = s.do(t, http.MethodPost, "/api/v1/relationship/invite", alice.Token, nil)
	bob := s.register(t, "bob", decode[InviteResponse](t, w).InviteCode)

	w = s.do(t, http.MethodPut, "/api/v1/relationship/start-date", bob.Token, UpdateStartDateInput{StartDate: &date})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rel := decode[RelationshipEnvelope](t, w).Relationship
	require.NotNil(t, rel.RelationshipStartDate)
	assert.True(t, rel.RelationshipStartDate.Equal(date))

	w = s.do(t, http.MethodPut, "/api/v1/relationship/start-date", alice.Token, map[string]interface{}{"startDate": nil})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode[RelationshipEnvelope](t, w).Relationship.RelationshipStartDate)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice", "")

	w := s.do(t, http.MethodGet, "/api/v1/users/me", "", nil)
	assertError(t, w, http.StatusUnauthorized, "UNAUTHORIZED")

	w = s.do(t, http.MethodPost, "/api/v1/relationship/accept", alice.Token, AcceptInviteInput{InviteCode: "ZZZZZZZZ"})
	assertError(t, w, http.StatusNotFound, "INVITATION_NOT_FOUND")

	w = s.do(t, http.MethodPost, "/api/v1/relationship/accept", alice.Token, map[string]string{})
	assertError(t, w, http.StatusBadRequest, "BAD_REQUEST")

	w = s.do(t, http.MethodPost, "/api/v1/relationship/invite", alice.Token, nil)
	code := decode[InviteResponse](t, w).InviteCode
	w = s.do(t, http.MethodPost, "/api/v1/relationship/accept", alice.Token, AcceptInviteInput{InviteCode: code})
	assertError(t, w, http.StatusForbidden, "SELF_INVITE")

	s.register(t, "bob", "")
	w = s.do(t, http.MethodPost, "/api/v1/auth/register", "", RegisterInput{
		Username: "bob", Email: "other@example.com", Password: "password123",
	})
	assertError(t, w, http.StatusConflict, "USER_EXISTS")

	w = s.do(t, http.MethodPost, "/api/v1/auth/login", "", LoginInput{Login: "alice", Password: "wrong-password"})
	assertError(t, w, http.StatusUnauthorized, "INVALID_CREDENTIALS")

	w = s.do(t, http.MethodGet, "/api/v1/posts?cursor=not-a-cursor", alice.Token, nil)
	assertError(t, w, http.StatusBadRequest, "BAD_REQUEST")
}

func TestValidateUnknownInvite(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/v1/relationship/invite/validate?code=NOPE", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	validation := decode[ValidateInviteResponse](t, w)
	assert.False(t, validation.Valid)
	assert.Nil(t, validation.Inviter)
	assert.Nil(t, validation.ExpiresAt)
}

func TestPendingInviteUsesConfiguredBaseURL(t *testing.T) {
	s := newTestServer(t)
	s.handler.AppBaseURL = "https://duet.example/"
	alice := s.register(t, "alice", "")

	w := s.do(t, http.MethodGet, "/api/v1/relationship/invite", alice.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode[PendingInviteResponse](t, w).Invitation)

	s.do(t, http.MethodPost, "/api/v1/relationship/invite", alice.Token, nil)
	w = s.do(t, http.MethodGet, "/api/v1/relationship/invite", alice.Token, nil)
	pending := decode[PendingInviteResponse](t, w).Invitation
	require.NotNil(t, pending)
	assert.Equal(t, "https://duet.example/sign-up?code="+pending.InviteCode, pending.InviteURL)
}

func TestUploadTooLarge(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice", "")

	w := s.upload(t, alice.Token, "big.png", strings.Repeat("x", 2048))
	assertError(t, w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE")
	assert.Zero(t, s.store.Len())
}

func TestAdminCleanup(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/admin/cleanup/relationships", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = s.do(t, http.MethodPost, "/api/v1/admin/cleanup/relationships", "wrong", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/admin/cleanup/relationships", testAdminToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"relationships":0,"posts":0,"attachments":0,"errors":[]}`, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/v1/admin/cleanup/attachments", testAdminToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"deleted":0,"errors":[]}`, w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodGet, "/ping", "", nil)

	w := s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `http_requests_total{method="GET",route="/ping",status="200"} 1`)
}

func TestStreamEvents(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice", "")
	w := s.do(t, http.MethodPost, "/api/v1/relationship/invite", alice.Token, nil)
	bob := s.register(t, "bob", decode[InviteResponse](t, w).InviteCode)
	relID := *bob.User.CurrentRelationshipID

	server := httptest.NewServer(s.router)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/v1/relationship/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+alice.Token)

	lines := make(chan string, 16)
	go func() {
		defer close(lines)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return
		}
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	require.Eventually(t, func() bool { return s.handler.Hub.Subscribers(relID) == 1 }, 3*time.Second, 10*time.Millisecond)

	w = s.do(t, http.MethodPost, "/api/v1/relationship/end", bob.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	timeout := time.After(3 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream closed before the event arrived")
			if strings.HasPrefix(line, "data:") && strings.Contains(line, hub.EventRelationshipEnded) {
				return
			}
		case <-timeout:
			t.Fatal("no relationship_ended event received")
		}
	}
}

func TestCursorRoundTrip(t *testing.T) {
	cursor := journal.Cursor{CreatedAt: time.Date(2025, 3, 1, 12, 0, 0, 500, time.UTC), ID: 42}

	decoded, err := decodeCursor(encodeCursor(cursor))
	require.NoError(t, err)
	assert.True(t, decoded.CreatedAt.Equal(cursor.CreatedAt))
	assert.Equal(t, cursor.ID, decoded.ID)

	empty, err := decodeCursor("")
	require.NoError(t, err)
	assert.Nil(t, empty)

	_, err = decodeCursor("e30")
	assert.ErrorIs(t, err, errInvalidCursor)
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"", journal.DefaultPageSize, false},
		{"5", 5, false},
		{"500", journal.MaxPageSize, false},
		{"0", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := parseLimit(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}
