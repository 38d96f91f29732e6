package handler

import (
	"net/http"
	"time"

	"duet/backend/internal/account"
	"duet/backend/internal/auth"
	"duet/backend/internal/hub"
	"duet/backend/internal/journal"
	"duet/backend/internal/metrics"
	"duet/backend/internal/reaper"
	"duet/backend/internal/relationship"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// DefaultMaxUploadSize caps attachment uploads when no limit is configured.
const DefaultMaxUploadSize = 10 << 20

// Deps are the services the HTTP layer is built on.
type Deps struct {
	Accounts      *account.Service
	Relationships *relationship.Service
	Journal       *journal.Service
	Reaper        *reaper.Reaper
	Hub           *hub.Hub
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
	Gatherer      prometheus.Gatherer

	JWTSecret     string
	AdminToken    string
	AppBaseURL    string
	MaxUploadSize int64
}

// Handler serves the JSON API.
type Handler struct {
	Deps
}

func New(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.MaxUploadSize <= 0 {
		deps.MaxUploadSize = DefaultMaxUploadSize
	}
	return &Handler{Deps: deps}
}

// Router builds the gin engine with every API route.
func (h *Handler) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), h.accessLog(), h.observe())

	// Health check endpoint
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})
	if h.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.Gatherer, promhttp.HandlerOpts{})))
	}

	apiV1 := router.Group("/api/v1")
	{
		authRoutes := apiV1.Group("/auth")
		{
			authRoutes.POST("/register", h.RegisterUser)
			authRoutes.POST("/login", h.LoginUser)
		}

		// Public invite lookup for the sign-up page.
		apiV1.GET("/relationship/invite/validate", h.ValidateInvite)

		protected := apiV1.Group("")
		protected.Use(auth.AuthMiddleware(h.JWTSecret))
		{
			userRoutes := protected.Group("/users")
			{
				userRoutes.GET("/me", h.GetMe)
				userRoutes.DELETE("/me", h.DeleteMe)
			}

			relationshipRoutes := protected.Group("/relationship")
			{
				relationshipRoutes.GET("", h.GetRelationship)
				relationshipRoutes.POST("/invite", h.CreateInvite)
				relationshipRoutes.GET("/invite", h.GetPendingInvite)
				relationshipRoutes.POST("/accept", h.AcceptInvite)
				relationshipRoutes.PUT("/start-date", h.UpdateStartDate)
				relationshipRoutes.POST("/end", h.EndRelationship)
				relationshipRoutes.POST("/resume", h.ResumeRelationship)
				relationshipRoutes.POST("/resume/cancel", h.CancelResumeRequest)
				relationshipRoutes.GET("/events", h.StreamEvents)
			}

			attachmentRoutes := protected.Group("/attachments")
			{
				attachmentRoutes.POST("", h.UploadAttachment)
				attachmentRoutes.GET("/:filename", h.GetAttachment)
			}

			postRoutes := protected.Group("/posts")
			{
				postRoutes.POST("", h.CreatePost)
				postRoutes.GET("", h.ListPosts)
				postRoutes.DELETE("/:id", h.DeletePost)
			}
		}

		adminRoutes := apiV1.Group("/admin")
		adminRoutes.Use(auth.AdminMiddleware(h.AdminToken))
		{
			adminRoutes.POST("/cleanup/relationships", h.CleanupRelationships)
			adminRoutes.POST("/cleanup/attachments", h.CleanupAttachments)
		}
	}

	return router
}

func (h *Handler) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if userID, ok := auth.UserID(c); ok {
			fields = append(fields, zap.Uint("user_id", userID))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			h.Logger.Warn("request", fields...)
			return
		}
		h.Logger.Debug("request", fields...)
	}
}

func (h *Handler) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		h.Metrics.ObserveRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

func currentUserID(c *gin.Context) uint {
	userID, _ := auth.UserID(c)
	return userID
}
