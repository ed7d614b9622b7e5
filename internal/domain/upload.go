package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// UploadStatus tracks where a chunked upload session is in its lifecycle.
// Finalized and expired sessions are deleted rather than kept around, so
// only the in-flight states are persisted.
type UploadStatus string

const (
	UploadStatusOpen       UploadStatus = "open"       // accepting chunks
	UploadStatusFinalizing UploadStatus = "finalizing" // one Finish call holds the claim
)

// UploadSession tracks one client's in-progress chunked file transfer.
// Chunk payloads live in the chunk scratch store keyed by Token; this record
// only carries identity, ownership and declared shape.
type UploadSession struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Token       string             `bson:"token" json:"uploadId"` // Opaque handle the client uses for every chunk call
	OwnerID     primitive.ObjectID `bson:"ownerId" json:"-"`
	FileName    string             `bson:"fileName" json:"fileName"`
	TotalChunks int                `bson:"totalChunks" json:"totalChunks"` // Fixed at creation, 1-based index space

	// ReceivedChunks is a display cache refreshed from the chunk store's
	// index set on every put. Completion checks recount the store instead
	// of trusting this value.
	ReceivedChunks int `bson:"receivedChunks" json:"receivedChunks"`

	Status         UploadStatus `bson:"status" json:"status"`
	CreatedAt      time.Time    `bson:"createdAt" json:"createdAt"`
	LastActivityAt time.Time    `bson:"lastActivityAt" json:"lastActivityAt"`
}
