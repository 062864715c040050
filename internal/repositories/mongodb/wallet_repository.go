package mongodb

import (
	"context"
	"time"

	"github.com/predolabs/predo-bot/internal/models"
	"github.com/predolabs/predo-bot/internal/repositories"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// WalletRepository implements the repositories.WalletRepository interface
type WalletRepository struct {
	collection *mongo.Collection
}

// NewWalletRepository creates a new WalletRepository
func NewWalletRepository(db *mongo.Database) repositories.WalletRepository {
	return &WalletRepository{
		collection: db.Collection("userwallets"),
	}
}

// Create creates a new user wallet
func (r *WalletRepository) Create(ctx context.Context, wallet *models.UserWallet) error {
	wallet.CreatedAt = time.Now()
	res, err := r.collection.InsertOne(ctx, wallet)
	if err != nil {
		return err
	}
	wallet.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

// FindByUsername finds a wallet by its owner's username
func (r *WalletRepository) FindByUsername(ctx context.Context, username string) (*models.UserWallet, error) {
	var wallet models.UserWallet
	err := r.collection.FindOne(ctx, bson.M{"username": username}).Decode(&wallet)
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}
