package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Role type to distinguish between user roles
type Role string

// Define constants for roles
const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User represents an account in the marketplace (regular user or admin).
type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Email        string             `bson:"email" json:"email"` // Should be unique
	Username     string             `bson:"username,omitempty" json:"username,omitempty"`
	PasswordHash string             `bson:"passwordHash" json:"-"` // Never expose this via JSON
	Role         Role               `bson:"role" json:"role"`

	// Moderation flags set by admins.
	// Banned blocks new uploads; FullBanned additionally blocks login.
	Banned     bool `bson:"banned" json:"banned"`
	FullBanned bool `bson:"fullBanned" json:"fullBanned"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// CanUpload reports whether the user is allowed to publish new media.
func (u *User) CanUpload() bool {
	return !u.Banned && !u.FullBanned
}
