package handler

import (
	"errors"
	"net/http"

	"duet/backend/internal/account"
	"duet/backend/internal/journal"
	"duet/backend/internal/relationship"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorResponse represents a generic error response.
type ErrorResponse struct {
	Error string `json:"error" example:"An error message"`
	Code  string `json:"code" example:"ALREADY_PAIRED"`
}

type errorMapping struct {
	err    error
	status int
	code   string
}

var errorTable = []errorMapping{
	{relationship.ErrUserNotFound, http.StatusUnauthorized, "UNAUTHORIZED"},
	{relationship.ErrAlreadyPaired, http.StatusForbidden, "ALREADY_PAIRED"},
	{relationship.ErrInvitationNotFound, http.StatusNotFound, "INVITATION_NOT_FOUND"},
	{relationship.ErrInvitationAlreadyUsed, http.StatusBadRequest, "INVITATION_ALREADY_USED"},
	{relationship.ErrInvitationExpired, http.StatusNotFound, "INVITATION_EXPIRED"},
	{relationship.ErrSelfInvite, http.StatusForbidden, "SELF_INVITE"},
	{relationship.ErrInviterAlreadyPaired, http.StatusBadRequest, "INVITER_ALREADY_PAIRED"},
	{relationship.ErrCodeGenerationExhausted, http.StatusInternalServerError, "CODE_GENERATION_EXHAUSTED"},
	{relationship.ErrNoPendingRelationship, http.StatusNotFound, "NO_PENDING_RELATIONSHIP"},
	{relationship.ErrGracePeriodExpired, http.StatusBadRequest, "GRACE_PERIOD_EXPIRED"},
	{relationship.ErrNoPendingRequest, http.StatusNotFound, "NO_PENDING_REQUEST"},
	{relationship.ErrNotRequester, http.StatusForbidden, "NOT_REQUESTER"},
	{relationship.ErrNotActive, http.StatusConflict, "NOT_ACTIVE"},
	{relationship.ErrNoActiveRelationship, http.StatusNotFound, "NO_ACTIVE_RELATIONSHIP"},
	{relationship.ErrConcurrentModification, http.StatusConflict, "CONCURRENT_MODIFICATION"},
	{account.ErrUserExists, http.StatusConflict, "USER_EXISTS"},
	{account.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
	{account.ErrActiveRelationship, http.StatusBadRequest, "ACTIVE_RELATIONSHIP"},
	{journal.ErrNotPaired, http.StatusForbidden, "NOT_PAIRED"},
	{journal.ErrInvalidAttachments, http.StatusNotFound, "INVALID_ATTACHMENTS"},
	{journal.ErrPostNotFound, http.StatusNotFound, "POST_NOT_FOUND"},
	{journal.ErrWrongRelationship, http.StatusForbidden, "WRONG_RELATIONSHIP"},
	{journal.ErrAttachmentNotFound, http.StatusNotFound, "ATTACHMENT_NOT_FOUND"},
}

// respondError writes the mapped error response. Anything unknown is logged
// and reported without details.
func (h *Handler) respondError(c *gin.Context, err error) {
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			c.JSON(m.status, ErrorResponse{Error: m.err.Error(), Code: m.code})
			return
		}
	}

	h.Logger.Error("request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal server error", Code: "INTERNAL"})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: message, Code: "BAD_REQUEST"})
}
