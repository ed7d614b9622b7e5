package mongo

import (
	"context"
	"errors"
	"log"
	"time"

	"fotobank/media-api/internal/domain"
	"fotobank/media-api/internal/repository"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const uploadSessionCollectionName = "upload_sessions"

// mongoUploadSessionRepository implements repository.UploadSessionRepository
type mongoUploadSessionRepository struct {
	collection *mongo.Collection
}

// NewMongoUploadSessionRepository creates a new upload session registry backed by MongoDB.
func NewMongoUploadSessionRepository(db *mongo.Database) repository.UploadSessionRepository {
	return &mongoUploadSessionRepository{
		collection: db.Collection(uploadSessionCollectionName),
	}
}

// Create inserts a new upload session record.
func (r *mongoUploadSessionRepository) Create(ctx context.Context, session *domain.UploadSession) (primitive.ObjectID, error) {
	if session.Token == "" || session.OwnerID == primitive.NilObjectID {
		return primitive.NilObjectID, errors.New("upload session requires token and ownerId")
	}
	if session.TotalChunks <= 0 {
		return primitive.NilObjectID, errors.New("upload session requires a positive totalChunks")
	}

	session.ID = primitive.NewObjectID()
	now := time.Now().UTC()
	session.CreatedAt = now
	session.LastActivityAt = now
	session.Status = domain.UploadStatusOpen

	result, err := r.collection.InsertOne(ctx, session)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// Token collision; tokens are uuids so this should not happen.
			return primitive.NilObjectID, repository.ErrConflict
		}
		return primitive.NilObjectID, err
	}

	insertedID, ok := result.InsertedID.(primitive.ObjectID)
	if !ok {
		return primitive.NilObjectID, errors.New("failed to convert inserted ID")
	}
	return insertedID, nil
}

// GetByToken retrieves a session by token, scoped to its owner. A token that
// exists but belongs to someone else reads as not found so that session
// existence never leaks across users.
func (r *mongoUploadSessionRepository) GetByToken(ctx context.Context, token string, ownerID primitive.ObjectID) (*domain.UploadSession, error) {
	var session domain.UploadSession
	filter := bson.M{"token": token, "ownerId": ownerID}

	err := r.collection.FindOne(ctx, filter).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &session, nil
}

// UpdateProgress refreshes the cached received-chunk count and bumps the
// activity timestamp.
func (r *mongoUploadSessionRepository) UpdateProgress(ctx context.Context, token string, received int) error {
	filter := bson.M{"token": token}
	update := bson.M{
		"$set": bson.M{
			"receivedChunks": received,
			"lastActivityAt": time.Now().UTC(),
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ClaimForFinalize is the single-winner gate for Finish. The conditional
// filter on status means exactly one concurrent caller sees a match; every
// other caller gets ErrConflict.
func (r *mongoUploadSessionRepository) ClaimForFinalize(ctx context.Context, token string, ownerID primitive.ObjectID) error {
	filter := bson.M{
		"token":   token,
		"ownerId": ownerID,
		"status":  domain.UploadStatusOpen,
	}
	update := bson.M{
		"$set": bson.M{
			"status":         domain.UploadStatusFinalizing,
			"lastActivityAt": time.Now().UTC(),
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		// Distinguish "no such session" from "session not open".
		count, countErr := r.collection.CountDocuments(ctx, bson.M{"token": token, "ownerId": ownerID})
		if countErr != nil {
			return countErr
		}
		if count == 0 {
			return repository.ErrNotFound
		}
		return repository.ErrConflict
	}
	return nil
}

// Reopen reverts a failed finalize claim so the client can retry.
func (r *mongoUploadSessionRepository) Reopen(ctx context.Context, token string) error {
	filter := bson.M{"token": token, "status": domain.UploadStatusFinalizing}
	update := bson.M{
		"$set": bson.M{
			"status":         domain.UploadStatusOpen,
			"lastActivityAt": time.Now().UTC(),
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Delete retires a session after finalize, cancel or expiry.
func (r *mongoUploadSessionRepository) Delete(ctx context.Context, token string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"token": token})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListIdleSince returns sessions with no activity since the cutoff.
func (r *mongoUploadSessionRepository) ListIdleSince(ctx context.Context, cutoff time.Time) ([]domain.UploadSession, error) {
	filter := bson.M{"lastActivityAt": bson.M{"$lt": cutoff}}

	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var sessions []domain.UploadSession
	if err = cursor.All(ctx, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// EnsureUploadSessionIndexes creates necessary indexes for the upload_sessions collection.
func EnsureUploadSessionIndexes(ctx context.Context, collection *mongo.Collection) {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "token", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "ownerId", Value: 1}},
			Options: options.Index(),
		},
		{
			// The expiry sweep scans on idle time.
			Keys:    bson.D{{Key: "lastActivityAt", Value: 1}},
			Options: options.Index(),
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		log.Printf("WARN: Could not create indexes for %s collection: %v", uploadSessionCollectionName, err)
	}
}
