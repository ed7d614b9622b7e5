package service

import (
	"context"
	"errors"
	"log"

	"fotobank/media-api/internal/domain"
	"fotobank/media-api/internal/repository"
	"fotobank/media-api/internal/storage"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// --- Error Definitions ---
var (
	ErrMediaNotFound    = errors.New("media asset not found")
	ErrNotAssetOwner    = errors.New("caller may not modify this media asset")
	ErrCategoryExists   = errors.New("category with this name already exists")
	ErrCategoryRequired = errors.New("category name is required")
	ErrDownloadURL      = errors.New("failed to generate download URL")
)

// MediaDetails is a catalog asset enriched with temporary access URLs.
type MediaDetails struct {
	domain.MediaAsset
	FileURL  string `json:"fileUrl"`
	ThumbURL string `json:"thumbUrl,omitempty"`
}

// MediaService serves the finalized catalog: browsing, access URLs, and
// owner-or-admin deletion that also releases the stored objects.
type MediaService interface {
	List(ctx context.Context, filter repository.MediaFilter) ([]domain.MediaAsset, error)
	Get(ctx context.Context, id primitive.ObjectID) (*MediaDetails, error)
	Delete(ctx context.Context, callerID primitive.ObjectID, callerRole domain.Role, id primitive.ObjectID) error

	ListCategories(ctx context.Context) ([]domain.Category, error)
	CreateCategory(ctx context.Context, name string) (*domain.Category, error)
}

// CanModifyAsset is the authorization predicate every mutating asset
// operation funnels through: the owner or an admin, nobody else.
func CanModifyAsset(asset *domain.MediaAsset, callerID primitive.ObjectID, callerRole domain.Role) bool {
	return callerRole == domain.RoleAdmin || asset.OwnerID == callerID
}

// --- Service Implementation ---

type mediaService struct {
	mediaRepo    repository.MediaRepository
	categoryRepo repository.CategoryRepository
	fileStorage  storage.FileStorage
}

// NewMediaService creates a new instance of mediaService.
func NewMediaService(
	mediaRepo repository.MediaRepository,
	categoryRepo repository.CategoryRepository,
	fileStorage storage.FileStorage,
) MediaService {
	return &mediaService{
		mediaRepo:    mediaRepo,
		categoryRepo: categoryRepo,
		fileStorage:  fileStorage,
	}
}

// List returns catalog assets matching the filter.
func (s *mediaService) List(ctx context.Context, filter repository.MediaFilter) ([]domain.MediaAsset, error) {
	return s.mediaRepo.List(ctx, filter)
}

// Get returns one asset with presigned access URLs.
func (s *mediaService) Get(ctx context.Context, id primitive.ObjectID) (*MediaDetails, error) {
	asset, err := s.mediaRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrMediaNotFound
		}
		return nil, err
	}

	fileURL, err := s.fileStorage.GeneratePresignedDownloadURL(ctx, asset.ObjectKey, storage.DefaultPresignedURLExpiry)
	if err != nil {
		return nil, ErrDownloadURL
	}

	details := &MediaDetails{MediaAsset: *asset, FileURL: fileURL}
	if asset.ThumbKey != "" {
		thumbURL, err := s.fileStorage.GeneratePresignedDownloadURL(ctx, asset.ThumbKey, storage.DefaultPresignedURLExpiry)
		if err != nil {
			// Thumbnail access is a nicety; the asset itself still serves.
			log.Printf("INFO: Failed to presign thumbnail %s: %v", asset.ThumbKey, err)
		} else {
			details.ThumbURL = thumbURL
		}
	}
	return details, nil
}

// Delete removes an asset and releases its stored file and thumbnail.
// Owner-or-admin only.
func (s *mediaService) Delete(ctx context.Context, callerID primitive.ObjectID, callerRole domain.Role, id primitive.ObjectID) error {
	asset, err := s.mediaRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrMediaNotFound
		}
		return err
	}

	if !CanModifyAsset(asset, callerID, callerRole) {
		return ErrNotAssetOwner
	}

	// Record first, then objects: a failed object delete leaves garbage in
	// the bucket but never a catalog entry pointing at nothing.
	if err := s.mediaRepo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrMediaNotFound
		}
		return err
	}

	if err := s.fileStorage.DeleteObject(ctx, asset.ObjectKey); err != nil {
		log.Printf("ERROR: Failed to delete stored object %s for asset %s: %v", asset.ObjectKey, id.Hex(), err)
	}
	if asset.ThumbKey != "" {
		if err := s.fileStorage.DeleteObject(ctx, asset.ThumbKey); err != nil {
			log.Printf("ERROR: Failed to delete thumbnail %s for asset %s: %v", asset.ThumbKey, id.Hex(), err)
		}
	}
	return nil
}

// ListCategories returns every catalog category.
func (s *mediaService) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.categoryRepo.List(ctx)
}

// CreateCategory adds a new category; admin only, enforced at the route level.
func (s *mediaService) CreateCategory(ctx context.Context, name string) (*domain.Category, error) {
	if name == "" {
		return nil, ErrCategoryRequired
	}

	category := &domain.Category{Name: name}
	id, err := s.categoryRepo.Create(ctx, category)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrCategoryExists
		}
		return nil, err
	}
	category.ID = id
	return category, nil
}

// parseObjectID converts a hex identifier from a route or token into an ObjectID.
func parseObjectID(hex string) (primitive.ObjectID, error) {
	return primitive.ObjectIDFromHex(hex)
}
