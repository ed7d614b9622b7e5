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

const mediaCollectionName = "media"

// mongoMediaRepository implements repository.MediaRepository
type mongoMediaRepository struct {
	collection *mongo.Collection
}

// NewMongoMediaRepository creates a new MediaAsset repository backed by MongoDB.
func NewMongoMediaRepository(db *mongo.Database) repository.MediaRepository {
	return &mongoMediaRepository{
		collection: db.Collection(mediaCollectionName),
	}
}

// Create inserts a finalized media asset. The category associations travel
// on the document itself, so the asset and its tags land in one write.
func (r *mongoMediaRepository) Create(ctx context.Context, asset *domain.MediaAsset) (primitive.ObjectID, error) {
	if asset.OwnerID == primitive.NilObjectID || asset.ObjectKey == "" {
		return primitive.NilObjectID, errors.New("media asset requires ownerId and objectKey")
	}

	asset.ID = primitive.NewObjectID()
	asset.CreatedAt = time.Now().UTC()

	result, err := r.collection.InsertOne(ctx, asset)
	if err != nil {
		return primitive.NilObjectID, err
	}

	insertedID, ok := result.InsertedID.(primitive.ObjectID)
	if !ok {
		return primitive.NilObjectID, errors.New("failed to convert inserted ID")
	}
	return insertedID, nil
}

// GetByID retrieves a media asset by its ID.
func (r *mongoMediaRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*domain.MediaAsset, error) {
	var asset domain.MediaAsset
	filter := bson.M{"_id": id}

	err := r.collection.FindOne(ctx, filter).Decode(&asset)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &asset, nil
}

// List returns assets matching the filter, newest first.
func (r *mongoMediaRepository) List(ctx context.Context, filter repository.MediaFilter) ([]domain.MediaAsset, error) {
	query := bson.M{}
	if filter.OwnerID != nil {
		query["ownerId"] = *filter.OwnerID
	}
	if filter.CategoryID != nil {
		query["categoryIds"] = *filter.CategoryID
	}

	findOptions := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})

	cursor, err := r.collection.Find(ctx, query, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var assets []domain.MediaAsset
	if err = cursor.All(ctx, &assets); err != nil {
		return nil, err
	}
	return assets, nil
}

// Delete removes a media asset record.
func (r *mongoMediaRepository) Delete(ctx context.Context, id primitive.ObjectID) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// EnsureMediaIndexes creates necessary indexes for the media collection.
func EnsureMediaIndexes(ctx context.Context, collection *mongo.Collection) {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "ownerId", Value: 1}},
			Options: options.Index(),
		},
		{
			Keys:    bson.D{{Key: "categoryIds", Value: 1}},
			Options: options.Index(),
		},
		{
			Keys:    bson.D{{Key: "createdAt", Value: -1}},
			Options: options.Index(),
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		log.Printf("WARN: Could not create indexes for %s collection: %v", mediaCollectionName, err)
	}
}
