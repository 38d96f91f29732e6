package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SweepResponse reports a relationship cleanup run.
type SweepResponse struct {
	Relationships int64    `json:"relationships" example:"2"`
	Posts         int64    `json:"posts" example:"31"`
	Attachments   int64    `json:"attachments" example:"12"`
	Errors        []string `json:"errors"`
}

// OrphanCleanupResponse reports an orphaned attachment cleanup run.
type OrphanCleanupResponse struct {
	Deleted int64    `json:"deleted" example:"4"`
	Errors  []string `json:"errors"`
}

func nonNil(errs []string) []string {
	if errs == nil {
		return []string{}
	}
	return errs
}

// CleanupRelationships godoc
// @Summary      Purge expired relationships
// @Description  Permanently deletes relationships whose grace period has ended, with their posts and attachments.
// @Tags         admin
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  SweepResponse
// @Failure      401  {object}  ErrorResponse
// @Failure      403  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /admin/cleanup/relationships [post]
func (h *Handler) CleanupRelationships(c *gin.Context) {
	stats, err := h.Reaper.Sweep(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, SweepResponse{
		Relationships: stats.Relationships,
		Posts:         stats.Posts,
		Attachments:   stats.Attachments,
		Errors:        nonNil(stats.Errors),
	})
}

// CleanupAttachments godoc
// @Summary      Remove orphaned attachments
// @Description  Deletes uploads that were never linked to a post.
// @Tags         admin
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  OrphanCleanupResponse
// @Failure      401  {object}  ErrorResponse
// @Failure      403  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /admin/cleanup/attachments [post]
func (h *Handler) CleanupAttachments(c *gin.Context) {
	stats, err := h.Reaper.CleanupOrphanedAttachments(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, OrphanCleanupResponse{Deleted: stats.Deleted, Errors: nonNil(stats.Errors)})
}
