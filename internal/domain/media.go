package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MediaType distinguishes the two kinds of assets the catalog accepts.
type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
)

// MediaAsset is a finalized, purchasable catalog entry. The actual bytes
// live in object storage under ObjectKey; a MediaAsset only ever comes into
// existence from a fully reassembled upload, never from a partial one.
type MediaAsset struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Title       string             `bson:"title" json:"title"`
	Description string             `bson:"description,omitempty" json:"description,omitempty"`
	Price       float64            `bson:"price" json:"price"`
	MediaType   MediaType          `bson:"mediaType" json:"mediaType"`

	ObjectKey string `bson:"objectKey" json:"-"`                     // Generated storage key - internal use
	ThumbKey  string `bson:"thumbKey,omitempty" json:"-"`            // Optional thumbnail storage key
	FileName  string `bson:"fileName,omitempty" json:"fileName"`     // Original filename, display only
	Size      int64  `bson:"size" json:"size"`                       // File size in bytes

	OwnerID     primitive.ObjectID   `bson:"ownerId" json:"ownerId"`
	CategoryIDs []primitive.ObjectID `bson:"categoryIds,omitempty" json:"categoryIds,omitempty"`
	CreatedAt   time.Time            `bson:"createdAt" json:"createdAt"`
}
