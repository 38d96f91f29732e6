package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"duet/backend/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// region --- DTOs ---

// AttachmentResponse describes an uploaded file.
type AttachmentResponse struct {
	ID          uint      `json:"id" example:"7"`
	Filename    string    `json:"filename" example:"3f0c5a4e-5d7b-4c1e-9d55-2a1b0e8f9c11.jpg"`
	URL         string    `json:"url" example:"/api/v1/attachments/3f0c5a4e-5d7b-4c1e-9d55-2a1b0e8f9c11.jpg"`
	ContentType string    `json:"contentType" example:"image/jpeg"`
	Size        int64     `json:"size" example:"48213"`
	CreatedAt   time.Time `json:"createdAt"`
}

// CreatePostInput defines the structure for a new journal post.
type CreatePostInput struct {
	Text          string `json:"text" binding:"required,max=10000" example:"Picnic at the lake"`
	AttachmentIDs []uint `json:"attachmentIds" binding:"max=10"`
}

// PostResponse is a journal post as shown in the feed.
type PostResponse struct {
	ID             uint                 `json:"id" example:"42"`
	RelationshipID uint                 `json:"relationshipId" example:"3"`
	Author         PublicUserResponse   `json:"author"`
	Text           string               `json:"text" example:"Picnic at the lake"`
	Attachments    []AttachmentResponse `json:"attachments"`
	CreatedAt      time.Time            `json:"createdAt"`
	UpdatedAt      time.Time            `json:"updatedAt"`
}

// PostPage is the swagger view of a page of posts.
type PostPage CursorPage[PostResponse]

// endregion

func attachmentURL(filename string) string {
	return "/api/v1/attachments/" + filename
}

func buildAttachmentResponse(attachment models.Attachment) AttachmentResponse {
	return AttachmentResponse{
		ID:          attachment.ID,
		Filename:    attachment.Filename,
		URL:         attachmentURL(attachment.Filename),
		ContentType: attachment.ContentType,
		Size:        attachment.Size,
		CreatedAt:   attachment.CreatedAt,
	}
}

func buildPostResponse(post models.Post) PostResponse {
	attachments := make([]AttachmentResponse, 0, len(post.Attachments))
	for _, attachment := range post.Attachments {
		attachments = append(attachments, buildAttachmentResponse(attachment))
	}
	return PostResponse{
		ID:             post.ID,
		RelationshipID: post.RelationshipID,
		Author:         buildPublicUserResponse(post.Author),
		Text:           post.Text,
		Attachments:    attachments,
		CreatedAt:      post.CreatedAt,
		UpdatedAt:      post.UpdatedAt,
	}
}

// region --- Attachment Handlers ---

// UploadAttachment godoc
// @Summary      Upload an attachment
// @Description  Stores a file that can then be linked to a post. Unlinked uploads are removed after a day.
// @Tags         attachments
// @Accept       multipart/form-data
// @Produce      json
// @Security     BearerAuth
// @Param        file  formData  file  true  "File to upload"
// @Success      201  {object}  AttachmentResponse
// @Failure      400  {object}  ErrorResponse
// @Failure      401  {object}  ErrorResponse
// @Failure      413  {object}  ErrorResponse
// @Router       /attachments [post]
func (h *Handler) UploadAttachment(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadSize+(1<<20))

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "File is too large", Code: "FILE_TOO_LARGE"})
			return
		}
		badRequest(c, "A multipart file field named 'file' is required")
		return
	}
	if fileHeader.Size > h.MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "File is too large", Code: "FILE_TOO_LARGE"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer file.Close()

	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	attachment, err := h.Journal.UploadAttachment(c.Request.Context(), currentUserID(c),
		fileHeader.Filename, contentType, fileHeader.Size, file)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, buildAttachmentResponse(*attachment))
}

// GetAttachment godoc
// @Summary      Download an attachment
// @Description  Streams the file to a member of the relationship it was posted in.
// @Tags         attachments
// @Produce      octet-stream
// @Security     BearerAuth
// @Param        filename  path  string  true  "Attachment filename"
// @Success      200
// @Failure      401  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /attachments/{filename} [get]
func (h *Handler) GetAttachment(c *gin.Context) {
	object, err := h.Journal.GetAttachment(c.Request.Context(), currentUserID(c), c.Param("filename"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer object.Body.Close()

	c.Header("Cache-Control", "private, max-age=3600")
	c.DataFromReader(http.StatusOK, object.Size, object.ContentType, object.Body, nil)
}

// endregion

// region --- Post Handlers ---

// CreatePost godoc
// @Summary      Create a post
// @Description  Publishes a post in the caller's active relationship, linking previously uploaded attachments.
// @Tags         posts
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        input body CreatePostInput true "Post content"
// @Success      201  {object}  PostResponse
// @Failure      400  {object}  ErrorResponse
// @Failure      401  {object}  ErrorResponse
// @Failure      403  {object}  ErrorResponse "Not paired"
// @Failure      404  {object}  ErrorResponse "Invalid attachments"
// @Router       /posts [post]
func (h *Handler) CreatePost(c *gin.Context) {
	var input CreatePostInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err.Error())
		return
	}

	post, err := h.Journal.CreatePost(c.Request.Context(), currentUserID(c), input.Text, input.AttachmentIDs)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, buildPostResponse(*post))
}

// ListPosts godoc
// @Summary      List posts
// @Description  Returns the relationship feed newest first. Pass meta.nextCursor back as cursor for the next page.
// @Tags         posts
// @Produce      json
// @Security     BearerAuth
// @Param        limit   query  int     false  "Page size (max 100)"  default(20)
// @Param        cursor  query  string  false  "Opaque cursor from the previous page"
// @Success      200  {object}  PostPage
// @Failure      400  {object}  ErrorResponse
// @Failure      401  {object}  ErrorResponse
// @Router       /posts [get]
func (h *Handler) ListPosts(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	cursor, err := decodeCursor(c.Query("cursor"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	page, err := h.Journal.ListPosts(c.Request.Context(), currentUserID(c), limit, cursor)
	if err != nil {
		h.respondError(c, err)
		return
	}

	posts := make([]PostResponse, 0, len(page.Posts))
	for _, post := range page.Posts {
		posts = append(posts, buildPostResponse(post))
	}
	c.JSON(http.StatusOK, NewCursorPage(posts, page.NextCursor, limit))
}

// DeletePost godoc
// @Summary      Delete a post
// @Description  Deletes one of the caller's own posts together with its attachments.
// @Tags         posts
// @Produce      json
// @Security     BearerAuth
// @Param        id  path  int  true  "Post ID"
// @Success      200  {object}  MessageResponse
// @Failure      400  {object}  ErrorResponse
// @Failure      401  {object}  ErrorResponse
// @Failure      403  {object}  ErrorResponse "Post belongs to another relationship"
// @Failure      404  {object}  ErrorResponse
// @Router       /posts/{id} [delete]
func (h *Handler) DeletePost(c *gin.Context) {
	postID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || postID == 0 {
		badRequest(c, "Invalid post ID")
		return
	}

	userID := currentUserID(c)
	if err := h.Journal.DeletePost(c.Request.Context(), userID, uint(postID)); err != nil {
		h.respondError(c, err)
		return
	}

	h.Logger.Info("post deleted", zap.Uint("user_id", userID), zap.Uint64("post_id", postID))
	c.JSON(http.StatusOK, MessageResponse{Message: "Post deleted successfully."})
}

// endregion
