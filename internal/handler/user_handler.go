package handler

import (
	"net/http"
	"time"

	"duet/backend/internal/account"
	"duet/backend/internal/models"

	"github.com/gin-gonic/gin"
)

// region --- DTOs ---

// RegisterInput defines the structure for user registration.
type RegisterInput struct {
	Username    string  `json:"username" binding:"required,min=3,max=32" example:"alice"`
	Email       string  `json:"email" binding:"required,email" example:"alice@example.com"`
	Password    string  `json:"password" binding:"required,min=8" example:"password123"`
	DisplayName *string `json:"displayName" binding:"omitempty,max=64" example:"Alice"`
	InviteCode  string  `json:"inviteCode" example:"K7XQ2MPA"`
}

// LoginInput defines the structure for user login.
type LoginInput struct {
	Login    string `json:"login" binding:"required" example:"alice"`
	Password string `json:"password" binding:"required" example:"password123"`
}

// TokenResponse is returned after a successful sign-in.
type TokenResponse struct {
	Token string              `json:"token"`
	User  PrivateUserResponse `json:"user"`
}

// PublicUserResponse is what a partner or inviter sees of a user.
type PublicUserResponse struct {
	ID          uint    `json:"id" example:"1"`
	Username    string  `json:"username" example:"alice"`
	DisplayName *string `json:"displayName" example:"Alice"`
	Avatar      *string `json:"avatar"`
}

// PrivateUserResponse defines the structure for the authenticated user's own profile.
type PrivateUserResponse struct {
	ID                    uint      `json:"id" example:"1"`
	Username              string    `json:"username" example:"alice"`
	Email                 string    `json:"email" example:"alice@example.com"`
	DisplayName           *string   `json:"displayName" example:"Alice"`
	Avatar                *string   `json:"avatar"`
	CurrentRelationshipID *uint     `json:"currentRelationshipId"`
	CreatedAt             time.Time `json:"createdAt"`
}

// MessageResponse carries a human readable confirmation.
type MessageResponse struct {
	Message string `json:"message" example:"Done"`
}

// endregion

func buildPublicUserResponse(user models.User) PublicUserResponse {
	return PublicUserResponse{
		ID:          user.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		Avatar:      user.Avatar,
	}
}

func buildPrivateUserResponse(user models.User) PrivateUserResponse {
	return PrivateUserResponse{
		ID:                    user.ID,
		Username:              user.Username,
		Email:                 user.Email,
		DisplayName:           user.DisplayName,
		Avatar:                user.Avatar,
		CurrentRelationshipID: user.CurrentRelationshipID,
		CreatedAt:             user.CreatedAt,
	}
}

// region --- Auth Handlers ---

// RegisterUser godoc
// @Summary      Register a new user
// @Description  Creates a new user and returns an authentication token. With an invite code the new user is paired with the inviter right away.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        input body RegisterInput true "Registration Info"
// @Success      201  {object}  TokenResponse
// @Failure      400  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse "Invitation not found or expired"
// @Failure      409  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /auth/register [post]
func (h *Handler) RegisterUser(c *gin.Context) {
	var input RegisterInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err.Error())
		return
	}

	session, err := h.Accounts.Register(c.Request.Context(), account.RegisterInput{
		Username:    input.Username,
		Email:       input.Email,
		Password:    input.Password,
		DisplayName: input.DisplayName,
		InviteCode:  input.InviteCode,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, TokenResponse{Token: session.Token, User: buildPrivateUserResponse(session.User)})
}

// LoginUser godoc
// @Summary      Log in a user
// @Description  Authenticates a user by username or email and returns a token.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        input body LoginInput true "Login Credentials"
// @Success      200  {object}  TokenResponse
// @Failure      400  {object}  ErrorResponse
// @Failure      401  {object}  ErrorResponse "Invalid credentials"
// @Failure      500  {object}  ErrorResponse "Internal server error"
// @Router       /auth/login [post]
func (h *Handler) LoginUser(c *gin.Context) {
	var input LoginInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err.Error())
		return
	}

	session, err := h.Accounts.Login(c.Request.Context(), input.Login, input.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, TokenResponse{Token: session.Token, User: buildPrivateUserResponse(session.User)})
}

// endregion

// region --- User Handlers ---

// GetMe godoc
// @Summary      Get current user's profile
// @Description  Retrieves the profile of the currently authenticated user.
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  PrivateUserResponse
// @Failure      401  {object}  ErrorResponse
// @Router       /users/me [get]
func (h *Handler) GetMe(c *gin.Context) {
	user, err := h.Accounts.Me(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, buildPrivateUserResponse(*user))
}

// DeleteMe godoc
// @Summary      Delete current user's account
// @Description  Deletes the account with its posts. Not allowed while the user is in an active relationship.
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  MessageResponse
// @Failure      400  {object}  ErrorResponse "Relationship still active"
// @Failure      401  {object}  ErrorResponse
// @Router       /users/me [delete]
func (h *Handler) DeleteMe(c *gin.Context) {
	if err := h.Accounts.DeleteAccount(c.Request.Context(), currentUserID(c)); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "Account deleted successfully."})
}

// endregion
