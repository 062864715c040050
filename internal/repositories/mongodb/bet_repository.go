package mongodb

import (
	"context"
	"errors"
	"time"

	"github.com/predolabs/predo-bot/internal/models"
	"github.com/predolabs/predo-bot/internal/repositories"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// BetRepository implements the repositories.BetRepository interface
type BetRepository struct {
	collection *mongo.Collection
}

// NewBetRepository creates a new BetRepository
func NewBetRepository(db *mongo.Database) repositories.BetRepository {
	return &BetRepository{
		collection: db.Collection("bets"),
	}
}

// Create creates a new bet
func (r *BetRepository) Create(ctx context.Context, bet *models.Bet) error {
	bet.CreatedAt = time.Now()
	bet.UpdatedAt = time.Now()
	if bet.Votes == nil {
		bet.Votes = models.VoteMap{}
	}
	res, err := r.collection.InsertOne(ctx, bet)
	if err != nil {
		return err
	}
	bet.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

// FindByID finds a bet by its Mongo ID
func (r *BetRepository) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Bet, error) {
	var bet models.Bet
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&bet)
	if err != nil {
		return nil, err
	}
	return &bet, nil
}

// FindByBetID finds a bet by its public short id
func (r *BetRepository) FindByBetID(ctx context.Context, betID string) (*models.Bet, error) {
	var bet models.Bet
	err := r.collection.FindOne(ctx, bson.M{"betId": betID}).Decode(&bet)
	if err != nil {
		return nil, err
	}
	return &bet, nil
}

// Update replaces the bet document
func (r *BetRepository) Update(ctx context.Context, bet *models.Bet) error {
	bet.UpdatedAt = time.Now()
	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": bet.ID}, bet)
	return err
}

// FindExpiredUnresolved finds unresolved bets past their end time that
// have at least one participant
func (r *BetRepository) FindExpiredUnresolved(ctx context.Context, now time.Time) ([]*models.Bet, error) {
	filter := bson.M{
		"endTime":      bson.M{"$lte": now},
		"resolved":     false,
		"participants": bson.M{"$exists": true, "$ne": bson.A{}},
	}
	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var bets []*models.Bet
	if err := cursor.All(ctx, &bets); err != nil {
		return nil, err
	}
	return bets, nil
}

// SettleConditional updates the bet only while it is still unresolved
func (r *BetRepository) SettleConditional(ctx context.Context, id primitive.ObjectID, patch map[string]interface{}) (bool, error) {
	set := bson.M{"updatedAt": time.Now()}
	for k, v := range patch {
		set[k] = v
	}
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "resolved": false},
		bson.M{"$set": set},
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

// IsNotFound reports whether err means the document does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}
