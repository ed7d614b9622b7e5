package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"fotobank/media-api/internal/chunkstore"
	"fotobank/media-api/internal/domain"
	"fotobank/media-api/internal/repository"
	"fotobank/media-api/internal/storage"
	"fotobank/media-api/internal/thumbnail"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// --- Error Definitions ---
var (
	ErrInvalidChunkCount    = errors.New("total chunk count must be a positive integer")
	ErrTooManyChunks        = errors.New("total chunk count exceeds the configured maximum")
	ErrChunkTooLarge        = errors.New("chunk payload exceeds the configured maximum size")
	ErrChunkIndexOutOfRange = errors.New("chunk index is outside the declared range")
	ErrSessionNotFound      = errors.New("upload session not found")
	ErrSessionNotOpen       = errors.New("upload session is already being finalized")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrUploadForbidden      = errors.New("user is not allowed to upload")
	ErrCategoryUnknown      = errors.New("one or more category ids do not exist")
	ErrTitleRequired        = errors.New("title is required")
	ErrInvalidPrice         = errors.New("price must not be negative")
	ErrFinalizeStorage      = errors.New("failed to persist media file, upload left intact for retry")
)

// IncompleteUploadError reports a Finish (or Status) call on a session that
// is still missing chunks, carrying enough progress for the client to resume.
type IncompleteUploadError struct {
	Received int
	Total    int
	Missing  []int
}

func (e *IncompleteUploadError) Error() string {
	return fmt.Sprintf("upload incomplete: %d of %d chunks received", e.Received, e.Total)
}

// allowedUploads maps the permitted filename extensions to their media kind
// and content type. Anything else is rejected at Finish.
var allowedUploads = map[string]struct {
	mediaType   domain.MediaType
	contentType string
}{
	".jpg":  {domain.MediaTypeImage, "image/jpeg"},
	".jpeg": {domain.MediaTypeImage, "image/jpeg"},
	".png":  {domain.MediaTypeImage, "image/png"},
	".mp4":  {domain.MediaTypeVideo, "video/mp4"},
	".mov":  {domain.MediaTypeVideo, "video/quicktime"},
}

// FinalizeMeta carries the catalog metadata the client submits with Finish.
type FinalizeMeta struct {
	Title       string
	Description string
	Price       float64
	CategoryIDs []primitive.ObjectID
}

// ChunkProgress is returned after each accepted chunk.
type ChunkProgress struct {
	Received int `json:"received"`
	Total    int `json:"total"`
}

// SessionStatus reports upload progress, including which indices are still
// missing so a resuming client knows exactly what to re-send.
type SessionStatus struct {
	UploadID string `json:"uploadId"`
	FileName string `json:"fileName"`
	Received int    `json:"received"`
	Total    int    `json:"total"`
	Missing  []int  `json:"missing,omitempty"`
	Complete bool   `json:"complete"`
}

// UploadConfig tunes the coordinator's limits and expiry policy.
type UploadConfig struct {
	MaxChunks     int
	MaxChunkBytes int64
	SessionTTL    time.Duration
}

// UploadService coordinates the chunked upload lifecycle: Start opens a
// session, PutChunk feeds it, Finish reassembles and registers the asset,
// Cancel and the expiry sweep reclaim abandoned sessions.
type UploadService interface {
	Start(ctx context.Context, ownerID primitive.ObjectID, totalChunks int, fileName string) (*domain.UploadSession, error)
	PutChunk(ctx context.Context, ownerID primitive.ObjectID, token string, index int, payload io.Reader) (*ChunkProgress, error)
	Finish(ctx context.Context, ownerID primitive.ObjectID, token string, meta FinalizeMeta) (*domain.MediaAsset, error)
	Status(ctx context.Context, ownerID primitive.ObjectID, token string) (*SessionStatus, error)
	Cancel(ctx context.Context, ownerID primitive.ObjectID, token string) error

	// SweepExpired reclaims sessions idle past the configured TTL and
	// returns how many were removed. Driven by the cron scheduler, not by
	// client requests.
	SweepExpired(ctx context.Context) (int, error)
}

// --- Service Implementation ---

type uploadService struct {
	sessionRepo  repository.UploadSessionRepository
	mediaRepo    repository.MediaRepository
	categoryRepo repository.CategoryRepository
	userRepo     repository.UserRepository
	chunks       *chunkstore.Store
	fileStorage  storage.FileStorage
	thumbnailer  thumbnail.Generator
	cfg          UploadConfig
}

// NewUploadService creates a new instance of uploadService.
func NewUploadService(
	sessionRepo repository.UploadSessionRepository,
	mediaRepo repository.MediaRepository,
	categoryRepo repository.CategoryRepository,
	userRepo repository.UserRepository,
	chunks *chunkstore.Store,
	fileStorage storage.FileStorage,
	thumbnailer thumbnail.Generator,
	cfg UploadConfig,
) UploadService {
	if cfg.MaxChunks <= 0 {
		cfg.MaxChunks = 10000
	}
	if cfg.MaxChunkBytes <= 0 {
		cfg.MaxChunkBytes = 8 * 1024 * 1024
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	return &uploadService{
		sessionRepo:  sessionRepo,
		mediaRepo:    mediaRepo,
		categoryRepo: categoryRepo,
		userRepo:     userRepo,
		chunks:       chunks,
		fileStorage:  fileStorage,
		thumbnailer:  thumbnailer,
		cfg:          cfg,
	}
}

// Start opens a new upload session and returns it, token included.
func (s *uploadService) Start(ctx context.Context, ownerID primitive.ObjectID, totalChunks int, fileName string) (*domain.UploadSession, error) {
	if totalChunks <= 0 {
		return nil, ErrInvalidChunkCount
	}
	if totalChunks > s.cfg.MaxChunks {
		return nil, ErrTooManyChunks
	}
	if _, ok := allowedUploads[normalizedExt(fileName)]; !ok {
		// Reject unsupported kinds up front; no point accepting chunks
		// that Finish will refuse anyway.
		return nil, ErrUnsupportedMediaType
	}

	owner, err := s.userRepo.GetByID(ctx, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUploadForbidden
		}
		return nil, err
	}
	if !owner.CanUpload() {
		return nil, ErrUploadForbidden
	}

	session := &domain.UploadSession{
		Token:       uuid.NewString(),
		OwnerID:     ownerID,
		FileName:    filepath.Base(fileName),
		TotalChunks: totalChunks,
	}
	if _, err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// PutChunk stores one chunk payload. Chunks may arrive in any order, and a
// retry of an index simply overwrites the previous payload.
func (s *uploadService) PutChunk(ctx context.Context, ownerID primitive.ObjectID, token string, index int, payload io.Reader) (*ChunkProgress, error) {
	session, err := s.getOpenSession(ctx, ownerID, token)
	if err != nil {
		return nil, err
	}
	if index < 1 || index > session.TotalChunks {
		return nil, ErrChunkIndexOutOfRange
	}

	// Cap the payload. The limit reader admits one extra byte so an
	// oversized chunk is detectable rather than silently truncated.
	limited := &io.LimitedReader{R: payload, N: s.cfg.MaxChunkBytes + 1}
	written, err := s.chunks.Put(session.Token, index, limited)
	if err != nil {
		return nil, err
	}
	if written > s.cfg.MaxChunkBytes {
		// Back the oversized payload out so completion checks don't count it.
		if rmErr := s.chunks.Remove(session.Token, index); rmErr != nil {
			log.Printf("ERROR: Failed to remove oversized chunk %d of session %s: %v", index, session.Token, rmErr)
		}
		return nil, ErrChunkTooLarge
	}

	// Progress is derived from what is actually on disk; the session
	// document only caches it.
	indices, err := s.chunks.ListIndices(session.Token)
	if err != nil {
		return nil, err
	}
	received := len(indices)
	if err := s.sessionRepo.UpdateProgress(ctx, session.Token, received); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	return &ChunkProgress{Received: received, Total: session.TotalChunks}, nil
}

// Finish re-checks completeness, claims the session, reassembles the chunks
// and registers the media asset. Exactly one concurrent Finish can win; the
// others get ErrSessionNotOpen.
func (s *uploadService) Finish(ctx context.Context, ownerID primitive.ObjectID, token string, meta FinalizeMeta) (*domain.MediaAsset, error) {
	session, err := s.sessionRepo.GetByToken(ctx, token, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	// Validate everything that can fail cheaply before taking the claim.
	kind, ok := allowedUploads[normalizedExt(session.FileName)]
	if !ok {
		return nil, ErrUnsupportedMediaType
	}
	if strings.TrimSpace(meta.Title) == "" {
		return nil, ErrTitleRequired
	}
	if meta.Price < 0 {
		return nil, ErrInvalidPrice
	}
	if len(meta.CategoryIDs) > 0 {
		count, err := s.categoryRepo.CountByIDs(ctx, meta.CategoryIDs)
		if err != nil {
			return nil, err
		}
		if count != int64(len(dedupeIDs(meta.CategoryIDs))) {
			return nil, ErrCategoryUnknown
		}
	}

	// Completeness gate: recount the store, never the cached counter.
	missing, err := s.chunks.MissingIndices(session.Token, session.TotalChunks)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, &IncompleteUploadError{
			Received: session.TotalChunks - len(missing),
			Total:    session.TotalChunks,
			Missing:  missing,
		}
	}

	// Single-winner claim: open -> finalizing.
	if err := s.sessionRepo.ClaimForFinalize(ctx, token, ownerID); err != nil {
		switch {
		case errors.Is(err, repository.ErrConflict):
			return nil, ErrSessionNotOpen
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrSessionNotFound
		default:
			return nil, err
		}
	}

	asset, err := s.finalize(ctx, session, meta, kind.mediaType, kind.contentType)
	if err != nil {
		// Give the client its chunks back for a retry.
		if reopenErr := s.sessionRepo.Reopen(ctx, token); reopenErr != nil {
			log.Printf("ERROR: Failed to reopen upload session %s after finalize failure: %v", token, reopenErr)
		}
		return nil, err
	}

	// Retire the session. The asset exists at this point, so failures here
	// are logged and left to the sweep rather than surfaced to the caller.
	if err := s.chunks.Release(session.Token); err != nil {
		log.Printf("ERROR: Failed to release chunks for session %s: %v", token, err)
	}
	if err := s.sessionRepo.Delete(ctx, token); err != nil && !errors.Is(err, repository.ErrNotFound) {
		log.Printf("ERROR: Failed to delete upload session %s: %v", token, err)
	}

	return asset, nil
}

// finalize persists the reassembled stream and creates the catalog record.
// On any failure it compensates by deleting whatever it already wrote, so the
// catalog and the object store never show a partial asset.
func (s *uploadService) finalize(ctx context.Context, session *domain.UploadSession, meta FinalizeMeta, mediaType domain.MediaType, contentType string) (*domain.MediaAsset, error) {
	// 1. Reassemble to a scratch file: ascending-index concatenation.
	assembled, size, err := s.assembleToTemp(session)
	if err != nil {
		return nil, err
	}
	defer os.Remove(assembled)

	// 2. Persist under a generated name; the client-supplied filename is
	// display metadata only.
	ext := normalizedExt(session.FileName)
	objectKey := path.Join("media", uuid.NewString()+ext)

	src, err := os.Open(assembled)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFinalizeStorage, err)
	}
	err = s.fileStorage.Upload(ctx, objectKey, src, contentType)
	src.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFinalizeStorage, err)
	}

	// 3. Thumbnail is best-effort: log and continue without one on failure.
	thumbKey := s.deriveThumb(ctx, assembled, mediaType)

	// 4. Catalog record plus category associations, one insert.
	asset := &domain.MediaAsset{
		Title:       strings.TrimSpace(meta.Title),
		Description: meta.Description,
		Price:       meta.Price,
		MediaType:   mediaType,
		ObjectKey:   objectKey,
		ThumbKey:    thumbKey,
		FileName:    session.FileName,
		Size:        size,
		OwnerID:     session.OwnerID,
		CategoryIDs: dedupeIDs(meta.CategoryIDs),
	}
	if _, err := s.mediaRepo.Create(ctx, asset); err != nil {
		// Compensating cleanup: the file writes must not outlive a failed
		// catalog insert.
		if delErr := s.fileStorage.DeleteObject(ctx, objectKey); delErr != nil {
			log.Printf("ERROR: Orphaned media object %s after failed insert: %v", objectKey, delErr)
		}
		if thumbKey != "" {
			if delErr := s.fileStorage.DeleteObject(ctx, thumbKey); delErr != nil {
				log.Printf("ERROR: Orphaned thumbnail object %s after failed insert: %v", thumbKey, delErr)
			}
		}
		return nil, fmt.Errorf("%w: %v", ErrFinalizeStorage, err)
	}

	return asset, nil
}

// assembleToTemp streams the ordered chunk concatenation into a scratch file
// and returns its path and size.
func (s *uploadService) assembleToTemp(session *domain.UploadSession) (string, int64, error) {
	reader, err := s.chunks.Reader(session.Token, session.TotalChunks)
	if err != nil {
		if errors.Is(err, chunkstore.ErrIncomplete) {
			// Lost a race with a concurrent release; report as not found.
			return "", 0, ErrSessionNotFound
		}
		return "", 0, err
	}
	defer reader.Close()

	tmp, err := os.CreateTemp("", "fotobank-assemble-*")
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrFinalizeStorage, err)
	}
	size, err := io.Copy(tmp, reader)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("%w: %v", ErrFinalizeStorage, err)
	}
	return tmp.Name(), size, nil
}

// deriveThumb generates and uploads a thumbnail, returning its object key or
// "" when anything goes wrong.
func (s *uploadService) deriveThumb(ctx context.Context, assembledPath string, mediaType domain.MediaType) string {
	thumbPath, err := s.thumbnailer.Generate(ctx, assembledPath, mediaType)
	if err != nil {
		log.Printf("INFO: Thumbnail derivation failed, continuing without: %v", err)
		return ""
	}
	defer os.Remove(thumbPath)

	f, err := os.Open(thumbPath)
	if err != nil {
		log.Printf("INFO: Thumbnail unreadable, continuing without: %v", err)
		return ""
	}
	defer f.Close()

	thumbKey := path.Join("thumbs", uuid.NewString()+".jpg")
	if err := s.fileStorage.Upload(ctx, thumbKey, f, "image/jpeg"); err != nil {
		log.Printf("INFO: Thumbnail upload failed, continuing without: %v", err)
		return ""
	}
	return thumbKey
}

// Status reports progress for a resuming client.
func (s *uploadService) Status(ctx context.Context, ownerID primitive.ObjectID, token string) (*SessionStatus, error) {
	session, err := s.sessionRepo.GetByToken(ctx, token, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	missing, err := s.chunks.MissingIndices(session.Token, session.TotalChunks)
	if err != nil {
		return nil, err
	}

	return &SessionStatus{
		UploadID: session.Token,
		FileName: session.FileName,
		Received: session.TotalChunks - len(missing),
		Total:    session.TotalChunks,
		Missing:  missing,
		Complete: len(missing) == 0,
	}, nil
}

// Cancel discards a session and its chunks immediately.
func (s *uploadService) Cancel(ctx context.Context, ownerID primitive.ObjectID, token string) error {
	session, err := s.sessionRepo.GetByToken(ctx, token, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSessionNotFound
		}
		return err
	}

	if err := s.chunks.Release(session.Token); err != nil {
		return err
	}
	if err := s.sessionRepo.Delete(ctx, session.Token); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	return nil
}

// SweepExpired reclaims sessions idle past the TTL. Chunk bytes are released
// before the session record goes away: if the process dies in between, the
// leftover record is picked up again on the next sweep, whereas the reverse
// order could strand chunk directories forever.
func (s *uploadService) SweepExpired(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.cfg.SessionTTL)
	stale, err := s.sessionRepo.ListIdleSince(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	removed := 0
	for i := range stale {
		session := &stale[i]
		if err := s.chunks.Release(session.Token); err != nil {
			log.Printf("ERROR: Sweep failed to release chunks for session %s: %v", session.Token, err)
			continue
		}
		if err := s.sessionRepo.Delete(ctx, session.Token); err != nil && !errors.Is(err, repository.ErrNotFound) {
			log.Printf("ERROR: Sweep failed to delete session %s: %v", session.Token, err)
			continue
		}
		removed++
	}
	return removed, nil
}

// getOpenSession is the shared ownership + state check for chunk writes.
func (s *uploadService) getOpenSession(ctx context.Context, ownerID primitive.ObjectID, token string) (*domain.UploadSession, error) {
	session, err := s.sessionRepo.GetByToken(ctx, token, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if session.Status != domain.UploadStatusOpen {
		return nil, ErrSessionNotOpen
	}
	return session, nil
}

func normalizedExt(fileName string) string {
	return strings.ToLower(filepath.Ext(fileName))
}

// dedupeIDs drops duplicate category references while keeping order.
func dedupeIDs(ids []primitive.ObjectID) []primitive.ObjectID {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[primitive.ObjectID]struct{}, len(ids))
	out := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
