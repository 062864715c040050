package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// UserWallet is the custodial wallet created for a user on first
// interaction. The private key is stored AES-encrypted and is never
// logged or serialized to JSON.
type UserWallet struct {
	ID                  primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	Username            string             `bson:"username" json:"username"`
	Address             string             `bson:"address" json:"address"`
	EncryptedPrivateKey string             `bson:"encryptedPrivateKey" json:"-"`
	CreatedAt           time.Time          `bson:"createdAt" json:"createdAt"`
}
