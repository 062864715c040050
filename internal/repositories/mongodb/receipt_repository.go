package mongodb

import (
	"context"
	"time"

	"github.com/predolabs/predo-bot/internal/models"
	"github.com/predolabs/predo-bot/internal/repositories"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureReceiptIndexes creates the unique receipt key index; safe to call
// on every startup
func EnsureReceiptIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection("payout_receipts").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "betId", Value: 1},
			{Key: "username", Value: 1},
			{Key: "optionIndex", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	return err
}

// ReceiptRepository implements the repositories.ReceiptRepository interface
type ReceiptRepository struct {
	collection *mongo.Collection
}

// NewReceiptRepository creates a new ReceiptRepository
func NewReceiptRepository(db *mongo.Database) repositories.ReceiptRepository {
	return &ReceiptRepository{
		collection: db.Collection("payout_receipts"),
	}
}

// Create records a completed transfer
func (r *ReceiptRepository) Create(ctx context.Context, receipt *models.PayoutReceipt) error {
	receipt.PaidAt = time.Now()
	res, err := r.collection.InsertOne(ctx, receipt)
	if err != nil {
		return err
	}
	receipt.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

// Exists reports whether a transfer keyed (betId, username, optionIndex)
// was already made
func (r *ReceiptRepository) Exists(ctx context.Context, betID primitive.ObjectID, username string, optionIndex int) (bool, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{
		"betId":       betID,
		"username":    username,
		"optionIndex": optionIndex,
	})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
