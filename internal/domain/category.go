package domain

import "go.mongodb.org/mongo-driver/bson/primitive"

// Category is a catalog tag media assets can be associated with.
type Category struct {
	ID   primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name string             `bson:"name" json:"name"` // Unique
}
