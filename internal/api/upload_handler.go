package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"fotobank/media-api/internal/service"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// UploadHandler exposes the chunked upload pipeline over HTTP.
type UploadHandler struct {
	uploadService service.UploadService
}

// NewUploadHandler creates a new UploadHandler.
func NewUploadHandler(uploadService service.UploadService) *UploadHandler {
	return &UploadHandler{uploadService: uploadService}
}

// --- Request/Response Structs ---

type StartUploadRequest struct {
	TotalChunks int    `json:"totalChunks" binding:"required"`
	FileName    string `json:"fileName" binding:"required"`
}

type StartUploadResponse struct {
	UploadID    string `json:"uploadId"`
	TotalChunks int    `json:"totalChunks"`
}

type FinishUploadRequest struct {
	Title       string   `json:"title" binding:"required"`
	Description string   `json:"description"`
	Price       float64  `json:"price"`
	CategoryIDs []string `json:"categoryIds"`
}

type MediaAssetResponse struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Price       float64  `json:"price"`
	MediaType   string   `json:"mediaType"`
	FileName    string   `json:"fileName"`
	Size        int64    `json:"size"`
	CategoryIDs []string `json:"categoryIds,omitempty"`
	HasThumb    bool     `json:"hasThumbnail"`
}

// --- Handler Methods ---

// StartUpload opens a new upload session.
// POST /api/v1/uploads
func (h *UploadHandler) StartUpload(c *gin.Context) {
	callerID, err := getUserObjectIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "Failed to identify caller")
		return
	}

	var req StartUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Sprintf("Validation error: %v", err))
		return
	}

	session, err := h.uploadService.Start(c.Request.Context(), callerID, req.TotalChunks, req.FileName)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidChunkCount), errors.Is(err, service.ErrTooManyChunks):
			abortWithError(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrUnsupportedMediaType):
			abortWithError(c, http.StatusUnsupportedMediaType, err.Error())
		case errors.Is(err, service.ErrUploadForbidden):
			abortWithError(c, http.StatusForbidden, err.Error())
		default:
			abortWithError(c, http.StatusInternalServerError, "Failed to start upload")
		}
		return
	}

	c.JSON(http.StatusCreated, StartUploadResponse{
		UploadID:    session.Token,
		TotalChunks: session.TotalChunks,
	})
}

// PutChunk stores one chunk. The payload is either the raw request body or,
// for browser clients, a multipart form with a "file" field.
// PUT /api/v1/uploads/:uploadId/chunks/:index
func (h *UploadHandler) PutChunk(c *gin.Context) {
	callerID, err := getUserObjectIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "Failed to identify caller")
		return
	}

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Chunk index must be an integer")
		return
	}

	payload, cleanup, err := chunkPayload(c)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err.Error())
		return
	}
	defer cleanup()

	progress, err := h.uploadService.PutChunk(c.Request.Context(), callerID, c.Param("uploadId"), index, payload)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSessionNotFound):
			abortWithError(c, http.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrSessionNotOpen):
			abortWithError(c, http.StatusConflict, err.Error())
		case errors.Is(err, service.ErrChunkIndexOutOfRange):
			abortWithError(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrChunkTooLarge):
			abortWithError(c, http.StatusRequestEntityTooLarge, err.Error())
		default:
			abortWithError(c, http.StatusInternalServerError, "Failed to store chunk")
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "received",
		"received": progress.Received,
		"total":    progress.Total,
	})
}

// FinishUpload reassembles a complete session into a catalog asset.
// POST /api/v1/uploads/:uploadId/complete
func (h *UploadHandler) FinishUpload(c *gin.Context) {
	callerID, err := getUserObjectIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "Failed to identify caller")
		return
	}

	var req FinishUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Sprintf("Validation error: %v", err))
		return
	}

	categoryIDs, err := parseObjectIDs(req.CategoryIDs)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid category id")
		return
	}

	asset, err := h.uploadService.Finish(c.Request.Context(), callerID, c.Param("uploadId"), service.FinalizeMeta{
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
		CategoryIDs: categoryIDs,
	})
	if err != nil {
		var incomplete *service.IncompleteUploadError
		switch {
		case errors.As(err, &incomplete):
			// Return progress so the client can resume.
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":    incomplete.Error(),
				"received": incomplete.Received,
				"total":    incomplete.Total,
				"missing":  incomplete.Missing,
			})
		case errors.Is(err, service.ErrSessionNotFound):
			abortWithError(c, http.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrSessionNotOpen):
			abortWithError(c, http.StatusConflict, err.Error())
		case errors.Is(err, service.ErrUnsupportedMediaType):
			abortWithError(c, http.StatusUnsupportedMediaType, err.Error())
		case errors.Is(err, service.ErrTitleRequired),
			errors.Is(err, service.ErrInvalidPrice),
			errors.Is(err, service.ErrCategoryUnknown):
			abortWithError(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrFinalizeStorage):
			abortWithError(c, http.StatusBadGateway, "Storage failure, please retry")
		default:
			abortWithError(c, http.StatusInternalServerError, "Failed to finalize upload")
		}
		return
	}

	c.JSON(http.StatusCreated, mapAssetToResponse(asset))
}

// UploadStatus reports progress and missing indices for a session.
// GET /api/v1/uploads/:uploadId
func (h *UploadHandler) UploadStatus(c *gin.Context) {
	callerID, err := getUserObjectIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "Failed to identify caller")
		return
	}

	status, err := h.uploadService.Status(c.Request.Context(), callerID, c.Param("uploadId"))
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			abortWithError(c, http.StatusNotFound, err.Error())
		} else {
			abortWithError(c, http.StatusInternalServerError, "Failed to read upload status")
		}
		return
	}

	c.JSON(http.StatusOK, status)
}

// CancelUpload discards a session and its chunks immediately.
// DELETE /api/v1/uploads/:uploadId
func (h *UploadHandler) CancelUpload(c *gin.Context) {
	callerID, err := getUserObjectIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "Failed to identify caller")
		return
	}

	if err := h.uploadService.Cancel(c.Request.Context(), callerID, c.Param("uploadId")); err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			abortWithError(c, http.StatusNotFound, err.Error())
		} else {
			abortWithError(c, http.StatusInternalServerError, "Failed to cancel upload")
		}
		return
	}

	c.Status(http.StatusNoContent)
}

// chunkPayload picks the chunk bytes out of the request: the "file" field of
// a multipart form when present, the raw body otherwise.
func chunkPayload(c *gin.Context) (io.Reader, func(), error) {
	contentType := c.ContentType()
	if contentType == "multipart/form-data" {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			return nil, func() {}, errors.New("multipart request is missing the 'file' field")
		}
		f, err := fileHeader.Open()
		if err != nil {
			return nil, func() {}, errors.New("failed to read uploaded chunk")
		}
		return f, func() { f.Close() }, nil
	}
	return c.Request.Body, func() {}, nil
}

func parseObjectIDs(hexIDs []string) ([]primitive.ObjectID, error) {
	if len(hexIDs) == 0 {
		return nil, nil
	}
	ids := make([]primitive.ObjectID, 0, len(hexIDs))
	for _, hex := range hexIDs {
		id, err := primitive.ObjectIDFromHex(hex)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
