package repository

import (
	"context"
	"time"

	"fotobank/media-api/internal/domain"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Error constants for the repository layer
var (
	ErrNotFound     = RepositoryError("not found")
	ErrConflict     = RepositoryError("conflict")
	ErrDeleteFailed = RepositoryError("delete failed")
)

// RepositoryError helps distinguish repository errors
type RepositoryError string

func (e RepositoryError) Error() string {
	return string(e)
}

// UserRepository defines the interface for interacting with user data.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) (primitive.ObjectID, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*domain.User, error)
	// SetBanFlags updates the moderation flags on a user account.
	SetBanFlags(ctx context.Context, id primitive.ObjectID, banned, fullBanned bool) error
}

// CategoryRepository defines the interface for interacting with catalog categories.
type CategoryRepository interface {
	Create(ctx context.Context, category *domain.Category) (primitive.ObjectID, error)
	List(ctx context.Context) ([]domain.Category, error)
	// CountByIDs returns how many of the given IDs exist. Used by the
	// finalizer to reject unknown category references in one round trip.
	CountByIDs(ctx context.Context, ids []primitive.ObjectID) (int64, error)
}

// MediaRepository defines the interface for interacting with finalized media assets.
type MediaRepository interface {
	Create(ctx context.Context, asset *domain.MediaAsset) (primitive.ObjectID, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*domain.MediaAsset, error)
	List(ctx context.Context, filter MediaFilter) ([]domain.MediaAsset, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
}

// MediaFilter narrows MediaRepository.List. Nil fields match everything.
type MediaFilter struct {
	OwnerID    *primitive.ObjectID
	CategoryID *primitive.ObjectID
}

// UploadSessionRepository is the persistent registry of in-flight chunked
// uploads. Sessions are keyed by their opaque token; every lookup is scoped
// to the owner recorded at creation so foreign tokens read as not found.
type UploadSessionRepository interface {
	Create(ctx context.Context, session *domain.UploadSession) (primitive.ObjectID, error)
	GetByToken(ctx context.Context, token string, ownerID primitive.ObjectID) (*domain.UploadSession, error)

	// UpdateProgress refreshes the cached received-chunk count and bumps
	// the activity timestamp. Idempotent.
	UpdateProgress(ctx context.Context, token string, received int) error

	// ClaimForFinalize atomically moves the session from open to
	// finalizing. Returns ErrConflict when the session is not open, which
	// is how a losing concurrent Finish call learns it lost.
	ClaimForFinalize(ctx context.Context, token string, ownerID primitive.ObjectID) error

	// Reopen reverts a failed finalize claim so the client can retry.
	Reopen(ctx context.Context, token string) error

	Delete(ctx context.Context, token string) error

	// ListIdleSince returns sessions with no activity since the cutoff,
	// regardless of status. Used by the periodic expiry sweep.
	ListIdleSince(ctx context.Context, cutoff time.Time) ([]domain.UploadSession, error)
}
