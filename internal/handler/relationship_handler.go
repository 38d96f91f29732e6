package handler

import (
	"io"
	"net/http"
	"strings"
	"time"

	"duet/backend/internal/relationship"

	"github.com/gin-gonic/gin"
)

// heartbeatInterval keeps idle event streams from being cut by proxies.
const heartbeatInterval = 30 * time.Second

// region --- DTOs ---

// InviteResponse describes a shareable invitation.
type InviteResponse struct {
	InviteCode string    `json:"inviteCode" example:"K7XQ2MPA"`
	InviteURL  string    `json:"inviteUrl" example:"https://duet.example/sign-up?code=K7XQ2MPA"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// PendingInviteResponse wraps the user's pending invitation, if any.
type PendingInviteResponse struct {
	Invitation *InviteResponse `json:"invitation"`
}

// ValidateInviteResponse is the public view of an invite code.
type ValidateInviteResponse struct {
	Valid     bool                `json:"valid"`
	Inviter   *PublicUserResponse `json:"inviter"`
	ExpiresAt *time.Time          `json:"expiresAt"`
}

// AcceptInviteInput carries the code to accept.
type AcceptInviteInput struct {
	InviteCode string `json:"inviteCode" binding:"required" example:"K7XQ2MPA"`
}

// ResumeRequestResponse describes an open resume request.
type ResumeRequestResponse struct {
	RequestedBy uint       `json:"requestedBy"`
	RequestedAt *time.Time `json:"requestedAt"`
}

// RelationshipResponse is a relationship seen by one of its members.
type RelationshipResponse struct {
	ID                    uint                   `json:"id"`
	Partner               PublicUserResponse     `json:"partner"`
	RelationshipStartDate *time.Time             `json:"relationshipStartDate"`
	Status                string                 `json:"status" example:"active"`
	CreatedAt             time.Time              `json:"createdAt"`
	PermanentDeletionAt   *time.Time             `json:"permanentDeletionAt"`
	ResumeRequest         *ResumeRequestResponse `json:"resumeRequest"`
}

// RelationshipEnvelope wraps the viewer's relationship, which may be null.
type RelationshipEnvelope struct {
	Relationship *RelationshipResponse `json:"relationship"`
}

// UpdateStartDateInput sets or, with null, clears the start date.
type UpdateStartDateInput struct {
	StartDate *time.Time `json:"startDate" example:"2021-06-12T00:00:00Z"`
}

// EndRelationshipResponse tells when the ended relationship is deleted for good.
type EndRelationshipResponse struct {
	Message             string    `json:"message"`
	PermanentDeletionAt time.Time `json:"permanentDeletionAt"`
}

// ResumeResponse reports the state of the resume handshake.
type ResumeResponse struct {
	Status      string `json:"status" example:"pending_partner_approval"`
	Message     string `json:"message"`
	RequestedBy *uint  `json:"requestedBy,omitempty"`
}

// endregion

func buildInviteResponse(invite *relationship.Invite) *InviteResponse {
	if invite == nil {
		return nil
	}
	return &InviteResponse{
		InviteCode: invite.Code,
		InviteURL:  invite.URL,
		ExpiresAt:  invite.ExpiresAt,
	}
}

func buildRelationshipResponse(summary *relationship.Summary) *RelationshipResponse {
	if summary == nil {
		return nil
	}
	rel := summary.Relationship
	response := &RelationshipResponse{
		ID:                    rel.ID,
		Partner:               buildPublicUserResponse(summary.Partner),
		RelationshipStartDate: rel.StartDate,
		Status:                string(rel.Status),
		CreatedAt:             rel.CreatedAt,
		PermanentDeletionAt:   rel.PermanentDeletionAt(),
	}
	if rel.ResumeRequestedBy != nil {
		response.ResumeRequest = &ResumeRequestResponse{
			RequestedBy: *rel.ResumeRequestedBy,
			RequestedAt: rel.ResumeRequestedAt,
		}
	}
	return response
}

// inviteBaseURL prefers the configured public URL and falls back to the host
// the request was sent to.
func (h *Handler) inviteBaseURL(c *gin.Context) string {
	if h.AppBaseURL != "" {
		return h.AppBaseURL
	}
	host := c.Request.Host
	if host == "" {
		host = "localhost:3000"
	}
	protocol := "https"
	if strings.Contains(host, "localhost") {
		protocol = "http"
	}
	return protocol + "://" + host
}

// region --- Invitation Handlers ---

// CreateInvite godoc
// @Summary      Create an invitation
// @Description  Issues a new invite code valid for 7 days. Any pending invitation of the user is cancelled.
// @Tags         relationship
// @Produce      json
// @Security     BearerAuth
// @Success      201  {object}  InviteResponse
// @Failure      401  {object}  ErrorResponse
// @Failure      403  {object}  ErrorResponse "Already in a relationship"
// @Failure      500  {object}  ErrorResponse
// @Router       /relationship/invite [post]
func (h *Handler) CreateInvite(c *gin.Context) {
	invite, err := h.Relationships.CreateInvite(c.Request.Context(), currentUserID(c), h.inviteBaseURL(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, buildInviteResponse(invite))
}

// GetPendingInvite godoc
// @Summary      Get the pending invitation
// @Description  Returns the user's most recent invitation that can still be accepted.
// @Tags         relationship
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  PendingInviteResponse
// @Failure      401  {object}  ErrorResponse
// @Router       /relationship/invite [get]
func (h *Handler) GetPendingInvite(c *gin.Context) {
	invite, err := h.Relationships.GetPendingInvite(c.Request.Context(), currentUserID(c), h.inviteBaseURL(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, PendingInviteResponse{Invitation: buildInviteResponse(invite)})
}

// ValidateInvite godoc
// @Summary      Validate an invite code
// @Description  Tells a signing-up user whether a code can be used and who sent it. Never fails.
// @Tags         relationship
// @Produce      json
// @Param        code  query     string  true  "Invite code"
// @Success      200   {object}  ValidateInviteResponse
// @Router       /relationship/invite/validate [get]
func (h *Handler) ValidateInvite(c *gin.Context) {
	result := h.Relationships.ValidateInvite(c.Request.Context(), c.Query("code"))

	response := ValidateInviteResponse{Valid: result.Valid, ExpiresAt: result.ExpiresAt}
	if result.Inviter != nil {
		inviter := buildPublicUserResponse(*result.Inviter)
		response.Inviter = &inviter
	}
	c.JSON(http.StatusOK, response)
}

// AcceptInvite godoc
// @Summary      Accept an invitation
// @Description  Pairs the current user with the inviter.
// @Tags         relationship
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        input body AcceptInviteInput true "Invite code"
// @Success      200  {object}  RelationshipEnvelope
// @Failure      400  {object}  ErrorResponse "Invitation used or inviter already paired"
// @Failure      401  {object}  ErrorResponse
// @Failure      403  {object}  ErrorResponse "Already paired or own invitation"
// @Failure      404  {object}  ErrorResponse "Invitation not found or expired"
// @Failure      409  {object}  ErrorResponse
// @Router       /relationship/accept [post]
func (h *Handler) AcceptInvite(c *gin.Context) {
	var input AcceptInviteInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err.Error())
		return
	}

	summary, err := h.Relationships.AcceptInvite(c.Request.Context(), currentUserID(c), input.InviteCode)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, RelationshipEnvelope{Relationship: buildRelationshipResponse(summary)})
}

// endregion

// region --- Relationship Handlers ---

// GetRelationship godoc
// @Summary      Get the current relationship
// @Description  Returns the user's active or ending relationship, or null.
// @Tags         relationship
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  RelationshipEnvelope
// @Failure      401  {object}  ErrorResponse
// @Router       /relationship [get]
func (h *Handler) GetRelationship(c *gin.Context) {
	summary, err := h.Relationships.GetRelationship(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, RelationshipEnvelope{Relationship: buildRelationshipResponse(summary)})
}

// UpdateStartDate godoc
// @Summary      Set the relationship start date
// @Tags         relationship
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        input body UpdateStartDateInput true "Start date, null clears it"
// @Success      200  {object}  RelationshipEnvelope
// @Failure      400  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse "No relationship"
// @Failure      409  {object}  ErrorResponse "Relationship is not active"
// @Router       /relationship/start-date [put]
func (h *Handler) UpdateStartDate(c *gin.Context) {
	var input UpdateStartDateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	userID := currentUserID(c)
	if _, err := h.Relationships.UpdateStartDate(ctx, userID, input.StartDate); err != nil {
		h.respondError(c, err)
		return
	}

	summary, err := h.Relationships.GetRelationship(ctx, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, RelationshipEnvelope{Relationship: buildRelationshipResponse(summary)})
}

// EndRelationship godoc
// @Summary      End the relationship
// @Description  Starts the 7 day grace period after which the relationship and its posts are deleted.
// @Tags         relationship
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  EndRelationshipResponse
// @Failure      401  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse "No relationship"
// @Failure      409  {object}  ErrorResponse "Already ended"
// @Router       /relationship/end [post]
func (h *Handler) EndRelationship(c *gin.Context) {
	deletionAt, err := h.Relationships.EndRelationship(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, EndRelationshipResponse{
		Message:             "Relationship ended. It will be permanently deleted after the grace period.",
		PermanentDeletionAt: deletionAt,
	})
}

// ResumeRelationship godoc
// @Summary      Resume an ended relationship
// @Description  The first member to call this opens a resume request (202); the partner's call reactivates the relationship.
// @Tags         relationship
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  ResumeResponse
// @Success      202  {object}  ResumeResponse
// @Failure      400  {object}  ErrorResponse "Grace period expired"
// @Failure      401  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse "No relationship pending deletion"
// @Failure      409  {object}  ErrorResponse
// @Router       /relationship/resume [post]
func (h *Handler) ResumeRelationship(c *gin.Context) {
	result, err := h.Relationships.ResumeRelationship(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	response := ResumeResponse{Status: string(result.Status), RequestedBy: result.RequestedBy}
	switch {
	case result.Status == relationship.ResumeActive:
		response.Message = "Relationship resumed."
		c.JSON(http.StatusOK, response)
	case result.Recorded:
		response.Message = "Resume request sent. Waiting for your partner to confirm."
		c.JSON(http.StatusAccepted, response)
	default:
		response.Message = "Resume request already sent. Waiting for your partner to confirm."
		c.JSON(http.StatusOK, response)
	}
}

// CancelResumeRequest godoc
// @Summary      Cancel a resume request
// @Description  Withdraws the caller's own resume request.
// @Tags         relationship
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  MessageResponse
// @Failure      401  {object}  ErrorResponse
// @Failure      403  {object}  ErrorResponse "Not the requester"
// @Failure      404  {object}  ErrorResponse "No pending request"
// @Router       /relationship/resume/cancel [post]
func (h *Handler) CancelResumeRequest(c *gin.Context) {
	if err := h.Relationships.CancelResumeRequest(c.Request.Context(), currentUserID(c)); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "Resume request cancelled successfully."})
}

// StreamEvents godoc
// @Summary      Stream relationship events
// @Description  Server-sent events for the caller's relationship: endings, resume requests and new or deleted posts.
// @Tags         relationship
// @Produce      text/event-stream
// @Security     BearerAuth
// @Success      200
// @Failure      401  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse "No relationship"
// @Router       /relationship/events [get]
func (h *Handler) StreamEvents(c *gin.Context) {
	summary, err := h.Relationships.GetRelationship(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if summary == nil {
		h.respondError(c, relationship.ErrNoActiveRelationship)
		return
	}

	relationshipID := summary.Relationship.ID
	client := h.Hub.Subscribe(relationshipID)
	defer h.Hub.Unsubscribe(relationshipID, client)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case msg, ok := <-client:
			if !ok {
				return false
			}
			c.SSEvent("message", string(msg))
			return true
		case <-heartbeat.C:
			c.SSEvent("ping", "")
			return true
		}
	})
}

// endregion
