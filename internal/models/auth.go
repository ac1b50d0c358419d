package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Permissions an API key can carry. Build covers the
// transaction-construction endpoints, which can trigger server-side
// submissions through the sidecar wallet; read covers everything else.
const (
	PermissionRead  = "read"
	PermissionBuild = "tx:build"
)

// APIKey represents an API key stored in MongoDB
type APIKey struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Key         string             `bson:"key" json:"key"`
	Name        string             `bson:"name" json:"name"`
	Active      bool               `bson:"active" json:"active"`
	Permissions []string           `bson:"permissions,omitempty" json:"permissions,omitempty"`
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`
	LastUsed    *time.Time         `bson:"last_used,omitempty" json:"last_used,omitempty"`
}

// Can reports whether the key grants a permission. Keys without an
// explicit permission list predate the permission model and keep full
// access.
func (k *APIKey) Can(permission string) bool {
	if len(k.Permissions) == 0 {
		return true
	}
	for _, p := range k.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}
