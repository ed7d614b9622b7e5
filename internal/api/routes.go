package api

import (
	"net/http"
	"time"

	"fotobank/media-api/internal/domain"
	"fotobank/media-api/internal/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func SetupRoutes(
	router *gin.Engine,
	jwtSecret string,
	allowedOrigins []string,
	authService service.AuthService,
	uploadService service.UploadService,
	mediaService service.MediaService,
) {
	authHandler := NewAuthHandler(authService)
	uploadHandler := NewUploadHandler(uploadService)
	mediaHandler := NewMediaHandler(mediaService)

	authMiddleware := AuthMiddleware(jwtSecret)

	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	apiV1 := router.Group("/api/v1")
	{
		authGroup := apiV1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
		}

		// Catalog browsing is public.
		apiV1.GET("/media", mediaHandler.ListMedia)
		apiV1.GET("/media/:mediaId", mediaHandler.GetMedia)
		apiV1.GET("/categories", mediaHandler.ListCategories)
	}

	protected := apiV1.Group("")
	protected.Use(authMiddleware)
	{
		protected.GET("/me", func(c *gin.Context) {
			userIDStr, err := getUserIDFromContext(c)
			if err != nil {
				abortWithError(c, http.StatusInternalServerError, "Failed to get user ID from token")
				return
			}
			role, _ := getUserRoleFromContext(c)
			c.JSON(http.StatusOK, gin.H{"userId": userIDStr, "role": role})
		})

		// --- Chunked upload pipeline ---
		uploadGroup := protected.Group("/uploads")
		{
			uploadGroup.POST("", uploadHandler.StartUpload)
			uploadGroup.PUT("/:uploadId/chunks/:index", uploadHandler.PutChunk)
			uploadGroup.POST("/:uploadId/complete", uploadHandler.FinishUpload)
			uploadGroup.GET("/:uploadId", uploadHandler.UploadStatus)
			uploadGroup.DELETE("/:uploadId", uploadHandler.CancelUpload)
		}

		// --- Catalog mutations ---
		protected.DELETE("/media/:mediaId", mediaHandler.DeleteMedia)

		// --- Admin routes ---
		adminGroup := protected.Group("/admin")
		adminGroup.Use(RoleMiddleware(domain.RoleAdmin))
		{
			adminGroup.POST("/categories", mediaHandler.CreateCategory)
			adminGroup.POST("/users/:userId/ban", authHandler.BanUser)
		}
	}
}
