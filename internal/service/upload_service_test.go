package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"fotobank/media-api/internal/chunkstore"
	"fotobank/media-api/internal/domain"
	"fotobank/media-api/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// --- In-memory fakes ---

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.UploadSession
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[string]*domain.UploadSession)}
}

func (r *fakeSessionRepo) Create(ctx context.Context, session *domain.UploadSession) (primitive.ObjectID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session.ID = primitive.NewObjectID()
	session.Status = domain.UploadStatusOpen
	now := time.Now().UTC()
	session.CreatedAt = now
	session.LastActivityAt = now
	copied := *session
	r.sessions[session.Token] = &copied
	return session.ID, nil
}

func (r *fakeSessionRepo) GetByToken(ctx context.Context, token string, ownerID primitive.ObjectID) (*domain.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[token]
	if !ok || session.OwnerID != ownerID {
		return nil, repository.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (r *fakeSessionRepo) UpdateProgress(ctx context.Context, token string, received int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[token]
	if !ok {
		return repository.ErrNotFound
	}
	session.ReceivedChunks = received
	session.LastActivityAt = time.Now().UTC()
	return nil
}

func (r *fakeSessionRepo) ClaimForFinalize(ctx context.Context, token string, ownerID primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[token]
	if !ok || session.OwnerID != ownerID {
		return repository.ErrNotFound
	}
	if session.Status != domain.UploadStatusOpen {
		return repository.ErrConflict
	}
	session.Status = domain.UploadStatusFinalizing
	return nil
}

func (r *fakeSessionRepo) Reopen(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[token]
	if !ok {
		return repository.ErrNotFound
	}
	session.Status = domain.UploadStatusOpen
	return nil
}

func (r *fakeSessionRepo) Delete(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[token]; !ok {
		return repository.ErrNotFound
	}
	delete(r.sessions, token)
	return nil
}

func (r *fakeSessionRepo) ListIdleSince(ctx context.Context, cutoff time.Time) ([]domain.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stale []domain.UploadSession
	for _, session := range r.sessions {
		if session.LastActivityAt.Before(cutoff) {
			stale = append(stale, *session)
		}
	}
	return stale, nil
}

type fakeMediaRepo struct {
	mu        sync.Mutex
	assets    []domain.MediaAsset
	createErr error
}

func (r *fakeMediaRepo) Create(ctx context.Context, asset *domain.MediaAsset) (primitive.ObjectID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return primitive.NilObjectID, r.createErr
	}
	asset.ID = primitive.NewObjectID()
	asset.CreatedAt = time.Now().UTC()
	r.assets = append(r.assets, *asset)
	return asset.ID, nil
}

func (r *fakeMediaRepo) GetByID(ctx context.Context, id primitive.ObjectID) (*domain.MediaAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.assets {
		if r.assets[i].ID == id {
			copied := r.assets[i]
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeMediaRepo) List(ctx context.Context, filter repository.MediaFilter) ([]domain.MediaAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.MediaAsset, len(r.assets))
	copy(out, r.assets)
	return out, nil
}

func (r *fakeMediaRepo) Delete(ctx context.Context, id primitive.ObjectID) error {
	return nil
}

func (r *fakeMediaRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.assets)
}

type fakeCategoryRepo struct {
	known map[primitive.ObjectID]struct{}
}

func newFakeCategoryRepo(ids ...primitive.ObjectID) *fakeCategoryRepo {
	known := make(map[primitive.ObjectID]struct{}, len(ids))
	for _, id := range ids {
		known[id] = struct{}{}
	}
	return &fakeCategoryRepo{known: known}
}

func (r *fakeCategoryRepo) Create(ctx context.Context, category *domain.Category) (primitive.ObjectID, error) {
	id := primitive.NewObjectID()
	r.known[id] = struct{}{}
	return id, nil
}

func (r *fakeCategoryRepo) List(ctx context.Context) ([]domain.Category, error) {
	return nil, nil
}

func (r *fakeCategoryRepo) CountByIDs(ctx context.Context, ids []primitive.ObjectID) (int64, error) {
	seen := make(map[primitive.ObjectID]struct{})
	for _, id := range ids {
		if _, ok := r.known[id]; ok {
			seen[id] = struct{}{}
		}
	}
	return int64(len(seen)), nil
}

type fakeUserRepo struct {
	users map[primitive.ObjectID]*domain.User
}

func newFakeUserRepo(users ...*domain.User) *fakeUserRepo {
	m := make(map[primitive.ObjectID]*domain.User, len(users))
	for _, u := range users {
		m[u.ID] = u
	}
	return &fakeUserRepo{users: m}
}

func (r *fakeUserRepo) Create(ctx context.Context, user *domain.User) (primitive.ObjectID, error) {
	user.ID = primitive.NewObjectID()
	r.users[user.ID] = user
	return user.ID, nil
}

func (r *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id primitive.ObjectID) (*domain.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u, nil
}

func (r *fakeUserRepo) SetBanFlags(ctx context.Context, id primitive.ObjectID, banned, fullBanned bool) error {
	u, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.Banned = banned
	u.FullBanned = fullBanned
	return nil
}

type fakeStorage struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploadErr error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string][]byte)}
}

func (s *fakeStorage) Upload(ctx context.Context, objectKey string, body io.Reader, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploadErr != nil {
		return s.uploadErr
	}
	s.objects[objectKey] = data
	return nil
}

func (s *fakeStorage) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[objectKey]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeStorage) GeneratePresignedDownloadURL(ctx context.Context, objectKey string, expires time.Duration) (string, error) {
	return "https://storage.test/" + objectKey, nil
}

func (s *fakeStorage) DeleteObject(ctx context.Context, objectKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, objectKey)
	return nil
}

func (s *fakeStorage) object(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	return data, ok
}

func (s *fakeStorage) objectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type fakeThumbnailer struct {
	fail bool
}

func (g *fakeThumbnailer) Generate(ctx context.Context, srcPath string, mediaType domain.MediaType) (string, error) {
	if g.fail {
		return "", errors.New("thumbnail tool unavailable")
	}
	tmp, err := os.CreateTemp("", "thumb-*.jpg")
	if err != nil {
		return "", err
	}
	if _, err := tmp.WriteString("thumb"); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	return tmp.Name(), nil
}

// --- Fixture ---

type uploadFixture struct {
	svc         UploadService
	sessions    *fakeSessionRepo
	media       *fakeMediaRepo
	categories  *fakeCategoryRepo
	users       *fakeUserRepo
	chunks      *chunkstore.Store
	storage     *fakeStorage
	thumbnailer *fakeThumbnailer
	owner       *domain.User
	categoryID  primitive.ObjectID
}

func newUploadFixture(t *testing.T) *uploadFixture {
	t.Helper()

	chunks, err := chunkstore.New(t.TempDir())
	require.NoError(t, err)

	owner := &domain.User{
		ID:    primitive.NewObjectID(),
		Email: "seller@example.com",
		Role:  domain.RoleUser,
	}
	categoryID := primitive.NewObjectID()

	f := &uploadFixture{
		sessions:    newFakeSessionRepo(),
		media:       &fakeMediaRepo{},
		categories:  newFakeCategoryRepo(categoryID),
		users:       newFakeUserRepo(owner),
		chunks:      chunks,
		storage:     newFakeStorage(),
		thumbnailer: &fakeThumbnailer{},
		owner:       owner,
		categoryID:  categoryID,
	}
	f.svc = NewUploadService(
		f.sessions, f.media, f.categories, f.users,
		f.chunks, f.storage, f.thumbnailer,
		UploadConfig{MaxChunks: 100, MaxChunkBytes: 1024, SessionTTL: time.Hour},
	)
	return f
}

func (f *uploadFixture) start(t *testing.T, totalChunks int, fileName string) *domain.UploadSession {
	t.Helper()
	session, err := f.svc.Start(context.Background(), f.owner.ID, totalChunks, fileName)
	require.NoError(t, err)
	require.NotEmpty(t, session.Token)
	return session
}

func (f *uploadFixture) put(t *testing.T, token string, index int, payload []byte) {
	t.Helper()
	_, err := f.svc.PutChunk(context.Background(), f.owner.ID, token, index, bytes.NewReader(payload))
	require.NoError(t, err)
}

func chunkPayload(b byte, n int) []byte {
	return bytes.Repeat([]byte{b}, n)
}

// --- Tests ---

func TestUploadLifecycle(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()

	session := f.start(t, 3, "sunset.jpg")

	// Chunks arrive out of order.
	f.put(t, session.Token, 2, chunkPayload('b', 100))
	f.put(t, session.Token, 1, chunkPayload('a', 100))

	status, err := f.svc.Status(ctx, f.owner.ID, session.Token)
	require.NoError(t, err)
	assert.Equal(t, 2, status.Received)
	assert.Equal(t, []int{3}, status.Missing)
	assert.False(t, status.Complete)

	f.put(t, session.Token, 3, chunkPayload('c', 100))

	asset, err := f.svc.Finish(ctx, f.owner.ID, session.Token, FinalizeMeta{
		Title:       "Sunset over the bay",
		Description: "Golden hour",
		Price:       9.99,
		CategoryIDs: []primitive.ObjectID{f.categoryID},
	})
	require.NoError(t, err)

	assert.Equal(t, "Sunset over the bay", asset.Title)
	assert.Equal(t, domain.MediaTypeImage, asset.MediaType)
	assert.Equal(t, "sunset.jpg", asset.FileName)
	assert.Equal(t, int64(300), asset.Size)
	assert.Equal(t, []primitive.ObjectID{f.categoryID}, asset.CategoryIDs)
	assert.NotEmpty(t, asset.ThumbKey)

	// The stored object is the ascending-index concatenation.
	data, ok := f.storage.object(asset.ObjectKey)
	require.True(t, ok)
	expected := append(append(chunkPayload('a', 100), chunkPayload('b', 100)...), chunkPayload('c', 100)...)
	assert.Equal(t, expected, data)

	// Session and scratch chunks are gone.
	_, err = f.svc.Status(ctx, f.owner.ID, session.Token)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	indices, err := f.chunks.ListIndices(session.Token)
	require.NoError(t, err)
	assert.Empty(t, indices)
}

func TestFinishRejectsIncompleteUpload(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()

	session := f.start(t, 3, "clip.mp4")
	f.put(t, session.Token, 2, chunkPayload('x', 10))

	_, err := f.svc.Finish(ctx, f.owner.ID, session.Token, FinalizeMeta{Title: "Clip"})

	var incomplete *IncompleteUploadError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, 1, incomplete.Received)
	assert.Equal(t, 3, incomplete.Total)
	assert.Equal(t, []int{1, 3}, incomplete.Missing)

	// The session stays open; the client can keep sending chunks.
	f.put(t, session.Token, 1, chunkPayload('x', 10))
	f.put(t, session.Token, 3, chunkPayload('x', 10))
	_, err = f.svc.Finish(ctx, f.owner.ID, session.Token, FinalizeMeta{Title: "Clip"})
	require.NoError(t, err)
}

func TestChunkRetryOverwrites(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()

	session := f.start(t, 2, "photo.png")
	f.put(t, session.Token, 1, chunkPayload('o', 50))
	f.put(t, session.Token, 2, chunkPayload('z', 50))
	// Retrying an index replaces the payload, it does not double-count.
	f.put(t, session.Token, 1, chunkPayload('n', 50))

	status, err := f.svc.Status(ctx, f.owner.ID, session.Token)
	require.NoError(t, err)
	assert.Equal(t, 2, status.Received)

	asset, err := f.svc.Finish(ctx, f.owner.ID, session.Token, FinalizeMeta{Title: "Photo"})
	require.NoError(t, err)

	data, ok := f.storage.object(asset.ObjectKey)
	require.True(t, ok)
	expected := append(chunkPayload('n', 50), chunkPayload('z', 50)...)
	assert.Equal(t, expected, data)
}

func TestConcurrentFinishSingleWinner(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()

	session := f.start(t, 2, "busy.jpg")
	f.put(t, session.Token, 1, chunkPayload('a', 10))
	f.put(t, session.Token, 2, chunkPayload('b', 10))

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Finish(ctx, f.owner.ID, session.Token, FinalizeMeta{Title: "Busy"})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one Finish call should succeed")
	assert.Equal(t, 1, f.media.count(), "exactly one asset should be created")
}

func TestFinishStorageFailureReopensSession(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()

	session := f.start(t, 1, "flaky.jpg")
	f.put(t, session.Token, 1, chunkPayload('a', 10))

	f.storage.uploadErr = errors.New("connection reset")
	_, err := f.svc.Finish(ctx, f.owner.ID, session.Token, FinalizeMeta{Title: "Flaky"})
	require.ErrorIs(t, err, ErrFinalizeStorage)

	assert.Equal(t, 0, f.media.count())

	// Session is open again with its chunks intact, so a retry succeeds.
	status, err := f.svc.Status(ctx, f.owner.ID, session.Token)
	require.NoError(t, err)
	assert.True(t, status.Complete)

	f.storage.uploadErr = nil
	_, err = f.svc.Finish(ctx, f.owner.ID, session.Token, FinalizeMeta{Title: "Flaky"})
	require.NoError(t, err)
}

func TestFinishCompensatesFailedCatalogInsert(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()

	session := f.start(t, 1, "doomed.jpg")
	f.put(t, session.Token, 1, chunkPayload('a', 10))

	f.media.createErr = errors.New("write concern error")
	_, err := f.svc.Finish(ctx, f.owner.ID, session.Token, FinalizeMeta{Title: "Doomed"})
	require.ErrorIs(t, err, ErrFinalizeStorage)

	// Neither the media object nor the thumbnail may outlive the failed insert.
	assert.Equal(t, 0, f.storage.objectCount())
}

func TestThumbnailFailureIsNonFatal(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()

	f.thumbnailer.fail = true

	session := f.start(t, 1, "raw.mov")
	f.put(t, session.Token, 1, chunkPayload('v', 10))

	asset, err := f.svc.Finish(ctx, f.owner.ID, session.Token, FinalizeMeta{Title: "Raw"})
	require.NoError(t, err)
	assert.Empty(t, asset.ThumbKey)
	assert.Equal(t, domain.MediaTypeVideo, asset.MediaType)
	assert.Equal(t, 1, f.storage.objectCount(), "only the media object should exist")
}

func TestSessionOwnershipScoped(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()

	stranger := &domain.User{ID: primitive.NewObjectID(), Email: "other@example.com", Role: domain.RoleUser}
	f.users.users[stranger.ID] = stranger

	session := f.start(t, 2, "private.jpg")
	f.put(t, session.Token, 1, chunkPayload('a', 10))

	// A foreign caller cannot see the session at all, let alone touch it.
	_, err := f.svc.PutChunk(ctx, stranger.ID, session.Token, 2, bytes.NewReader(chunkPayload('b', 10)))
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = f.svc.Finish(ctx, stranger.ID, session.Token, FinalizeMeta{Title: "Theft"})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	err = f.svc.Cancel(ctx, stranger.ID, session.Token)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// The owner is unaffected.
	status, err := f.svc.Status(ctx, f.owner.ID, session.Token)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Received)
}

func TestStartValidation(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()

	_, err := f.svc.Start(ctx, f.owner.ID, 0, "a.jpg")
	assert.ErrorIs(t, err, ErrInvalidChunkCount)

	_, err = f.svc.Start(ctx, f.owner.ID, 101, "a.jpg")
	assert.ErrorIs(t, err, ErrTooManyChunks)

	_, err = f.svc.Start(ctx, f.owner.ID, 1, "malware.exe")
	assert.ErrorIs(t, err, ErrUnsupportedMediaType)

	_, err = f.svc.Start(ctx, primitive.NewObjectID(), 1, "a.jpg")
	assert.ErrorIs(t, err, ErrUploadForbidden)
}

func TestStartRejectsBannedUploader(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()

	require.NoError(t, f.users.SetBanFlags(ctx, f.owner.ID, true, false))

	_, err := f.svc.Start(ctx, f.owner.ID, 1, "a.jpg")
	assert.ErrorIs(t, err, ErrUploadForbidden)
}

func TestPutChunkValidation(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()

	session := f.start(t, 3, "a.jpg")

	_, err := f.svc.PutChunk(ctx, f.owner.ID, session.Token, 0, bytes.NewReader(chunkPayload('a', 1)))
	assert.ErrorIs(t, err, ErrChunkIndexOutOfRange)

	_, err = f.svc.PutChunk(ctx, f.owner.ID, session.Token, 4, bytes.NewReader(chunkPayload('a', 1)))
	assert.ErrorIs(t, err, ErrChunkIndexOutOfRange)

	// MaxChunkBytes is 1024 in the fixture.
	_, err = f.svc.PutChunk(ctx, f.owner.ID, session.Token, 1, bytes.NewReader(chunkPayload('a', 1025)))
	assert.ErrorIs(t, err, ErrChunkTooLarge)

	// The rejected payload must not count toward completeness.
	status, err := f.svc.Status(ctx, f.owner.ID, session.Token)
	require.NoError(t, err)
	assert.Equal(t, 0, status.Received)
}

func TestFinishMetadataValidation(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()

	session := f.start(t, 1, "a.jpg")
	f.put(t, session.Token, 1, chunkPayload('a', 10))

	_, err := f.svc.Finish(ctx, f.owner.ID, session.Token, FinalizeMeta{Title: "   "})
	assert.ErrorIs(t, err, ErrTitleRequired)

	_, err = f.svc.Finish(ctx, f.owner.ID, session.Token, FinalizeMeta{Title: "T", Price: -1})
	assert.ErrorIs(t, err, ErrInvalidPrice)

	_, err = f.svc.Finish(ctx, f.owner.ID, session.Token, FinalizeMeta{
		Title:       "T",
		CategoryIDs: []primitive.ObjectID{primitive.NewObjectID()},
	})
	assert.ErrorIs(t, err, ErrCategoryUnknown)

	// Validation failures never consume the claim.
	status, err := f.svc.Status(ctx, f.owner.ID, session.Token)
	require.NoError(t, err)
	assert.True(t, status.Complete)
}

func TestCancelDiscardsSession(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()

	session := f.start(t, 2, "a.jpg")
	f.put(t, session.Token, 1, chunkPayload('a', 10))

	require.NoError(t, f.svc.Cancel(ctx, f.owner.ID, session.Token))

	_, err := f.svc.Status(ctx, f.owner.ID, session.Token)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	indices, err := f.chunks.ListIndices(session.Token)
	require.NoError(t, err)
	assert.Empty(t, indices)

	// Cancelling again reports not found rather than erroring oddly.
	err = f.svc.Cancel(ctx, f.owner.ID, session.Token)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSweepExpiredReclaimsStaleSessions(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()

	stale := f.start(t, 2, "old.jpg")
	f.put(t, stale.Token, 1, chunkPayload('a', 10))
	fresh := f.start(t, 2, "new.jpg")
	f.put(t, fresh.Token, 1, chunkPayload('b', 10))

	// Age the first session past the one hour TTL.
	f.sessions.mu.Lock()
	f.sessions.sessions[stale.Token].LastActivityAt = time.Now().UTC().Add(-2 * time.Hour)
	f.sessions.mu.Unlock()

	removed, err := f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = f.svc.Status(ctx, f.owner.ID, stale.Token)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	indices, err := f.chunks.ListIndices(stale.Token)
	require.NoError(t, err)
	assert.Empty(t, indices)

	// The active session survives untouched.
	status, err := f.svc.Status(ctx, f.owner.ID, fresh.Token)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Received)
}
