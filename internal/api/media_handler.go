package api

import (
	"errors"
	"fmt"
	"net/http"

	"fotobank/media-api/internal/domain"
	"fotobank/media-api/internal/repository"
	"fotobank/media-api/internal/service"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MediaHandler serves the finalized catalog and category management.
type MediaHandler struct {
	mediaService service.MediaService
}

// NewMediaHandler creates a new MediaHandler.
func NewMediaHandler(mediaService service.MediaService) *MediaHandler {
	return &MediaHandler{mediaService: mediaService}
}

// --- Request/Response Structs ---

type CreateCategoryRequest struct {
	Name string `json:"name" binding:"required"`
}

type MediaDetailsResponse struct {
	MediaAssetResponse
	FileURL  string `json:"fileUrl"`
	ThumbURL string `json:"thumbUrl,omitempty"`
}

// --- Handler Methods ---

// ListMedia returns catalog assets, optionally filtered by owner or category.
// GET /api/v1/media?owner=<hex>&category=<hex>
func (h *MediaHandler) ListMedia(c *gin.Context) {
	var filter repository.MediaFilter

	if ownerHex := c.Query("owner"); ownerHex != "" {
		ownerID, err := primitive.ObjectIDFromHex(ownerHex)
		if err != nil {
			abortWithError(c, http.StatusBadRequest, "Invalid owner id")
			return
		}
		filter.OwnerID = &ownerID
	}
	if categoryHex := c.Query("category"); categoryHex != "" {
		categoryID, err := primitive.ObjectIDFromHex(categoryHex)
		if err != nil {
			abortWithError(c, http.StatusBadRequest, "Invalid category id")
			return
		}
		filter.CategoryID = &categoryID
	}

	assets, err := h.mediaService.List(c.Request.Context(), filter)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "Failed to list media")
		return
	}

	responses := make([]MediaAssetResponse, 0, len(assets))
	for i := range assets {
		responses = append(responses, mapAssetToResponse(&assets[i]))
	}
	c.JSON(http.StatusOK, responses)
}

// GetMedia returns one asset with presigned access URLs.
// GET /api/v1/media/:mediaId
func (h *MediaHandler) GetMedia(c *gin.Context) {
	id, err := primitive.ObjectIDFromHex(c.Param("mediaId"))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid media id")
		return
	}

	details, err := h.mediaService.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrMediaNotFound) {
			abortWithError(c, http.StatusNotFound, err.Error())
		} else {
			abortWithError(c, http.StatusInternalServerError, "Failed to load media")
		}
		return
	}

	c.JSON(http.StatusOK, MediaDetailsResponse{
		MediaAssetResponse: mapAssetToResponse(&details.MediaAsset),
		FileURL:            details.FileURL,
		ThumbURL:           details.ThumbURL,
	})
}

// DeleteMedia removes an asset (owner or admin) and releases its files.
// DELETE /api/v1/media/:mediaId
func (h *MediaHandler) DeleteMedia(c *gin.Context) {
	callerID, err := getUserObjectIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "Failed to identify caller")
		return
	}
	callerRole, err := getUserRoleFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "Failed to identify caller role")
		return
	}

	id, err := primitive.ObjectIDFromHex(c.Param("mediaId"))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid media id")
		return
	}

	if err := h.mediaService.Delete(c.Request.Context(), callerID, callerRole, id); err != nil {
		switch {
		case errors.Is(err, service.ErrMediaNotFound):
			abortWithError(c, http.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrNotAssetOwner):
			abortWithError(c, http.StatusForbidden, err.Error())
		default:
			abortWithError(c, http.StatusInternalServerError, "Failed to delete media")
		}
		return
	}

	c.Status(http.StatusNoContent)
}

// ListCategories returns every catalog category.
// GET /api/v1/categories
func (h *MediaHandler) ListCategories(c *gin.Context) {
	categories, err := h.mediaService.ListCategories(c.Request.Context())
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "Failed to list categories")
		return
	}
	c.JSON(http.StatusOK, categories)
}

// CreateCategory adds a new category. Admin only (route-guarded).
// POST /api/v1/admin/categories
func (h *MediaHandler) CreateCategory(c *gin.Context) {
	var req CreateCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Sprintf("Validation error: %v", err))
		return
	}

	category, err := h.mediaService.CreateCategory(c.Request.Context(), req.Name)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrCategoryExists):
			abortWithError(c, http.StatusConflict, err.Error())
		case errors.Is(err, service.ErrCategoryRequired):
			abortWithError(c, http.StatusBadRequest, err.Error())
		default:
			abortWithError(c, http.StatusInternalServerError, "Failed to create category")
		}
		return
	}

	c.JSON(http.StatusCreated, category)
}

// mapAssetToResponse converts a domain MediaAsset to its DTO, keeping the
// internal object keys out of the response.
func mapAssetToResponse(asset *domain.MediaAsset) MediaAssetResponse {
	categoryIDs := make([]string, 0, len(asset.CategoryIDs))
	for _, id := range asset.CategoryIDs {
		categoryIDs = append(categoryIDs, id.Hex())
	}
	return MediaAssetResponse{
		ID:          asset.ID.Hex(),
		Title:       asset.Title,
		Description: asset.Description,
		Price:       asset.Price,
		MediaType:   string(asset.MediaType),
		FileName:    asset.FileName,
		Size:        asset.Size,
		CategoryIDs: categoryIDs,
		HasThumb:    asset.ThumbKey != "",
	}
}
