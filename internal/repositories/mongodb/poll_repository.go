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
	"go.mongodb.org/mongo-driver/mongo/options"
)

// PollRepository implements the repositories.PollRepository interface
type PollRepository struct {
	collection *mongo.Collection
}

// NewPollRepository creates a new PollRepository
func NewPollRepository(db *mongo.Database) repositories.PollRepository {
	return &PollRepository{
		collection: db.Collection("polls"),
	}
}

// Create creates a new poll
func (r *PollRepository) Create(ctx context.Context, poll *models.Poll) error {
	poll.CreatedAt = time.Now()
	poll.UpdatedAt = time.Now()
	if poll.Votes == nil {
		poll.Votes = models.VoteMap{}
	}
	res, err := r.collection.InsertOne(ctx, poll)
	if err != nil {
		return err
	}
	poll.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

// Update replaces the poll document
func (r *PollRepository) Update(ctx context.Context, poll *models.Poll) error {
	poll.UpdatedAt = time.Now()
	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": poll.ID}, poll)
	return err
}

// RecordVote sets one voter's entry on an unresolved poll. The filter
// guards on resolved so a vote landing after the tally cannot reopen the
// poll, and the single-field $set leaves the processing lock alone.
func (r *PollRepository) RecordVote(ctx context.Context, pollID primitive.ObjectID, userID string, value int) (bool, error) {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": pollID, "resolved": false},
		bson.M{"$set": bson.M{
			"votes." + userID: value,
			"updatedAt":       time.Now(),
		}},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

// FindUnresolvedByBet returns the bet's in-flight poll, or nil when none
func (r *PollRepository) FindUnresolvedByBet(ctx context.Context, betID primitive.ObjectID) (*models.Poll, error) {
	var poll models.Poll
	err := r.collection.FindOne(ctx, bson.M{"betId": betID, "resolved": false}).Decode(&poll)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &poll, nil
}

// FindLatestResolvedByBet returns the newest resolved poll for the bet,
// or nil when the bet never reached a tally
func (r *PollRepository) FindLatestResolvedByBet(ctx context.Context, betID primitive.ObjectID) (*models.Poll, error) {
	opts := options.FindOne().SetSort(bson.M{"createdAt": -1})
	var poll models.Poll
	err := r.collection.FindOne(ctx, bson.M{"betId": betID, "resolved": true}, opts).Decode(&poll)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &poll, nil
}

// DistinctBetIDsWithUnresolvedPolls lists bets that have a poll in flight
func (r *PollRepository) DistinctBetIDsWithUnresolvedPolls(ctx context.Context) ([]primitive.ObjectID, error) {
	return r.distinctBetIDs(ctx, bson.M{"resolved": false})
}

// DistinctBetIDsWithResolvedPolls lists bets with at least one tallied poll
func (r *PollRepository) DistinctBetIDsWithResolvedPolls(ctx context.Context) ([]primitive.ObjectID, error) {
	return r.distinctBetIDs(ctx, bson.M{"resolved": true})
}

func (r *PollRepository) distinctBetIDs(ctx context.Context, filter bson.M) ([]primitive.ObjectID, error) {
	raw, err := r.collection.Distinct(ctx, "betId", filter)
	if err != nil {
		return nil, err
	}
	ids := make([]primitive.ObjectID, 0, len(raw))
	for _, v := range raw {
		if id, ok := v.(primitive.ObjectID); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// AcquireLock atomically claims the poll's processing lease. The filter
// only matches when no fresh lock is present, so exactly one of any number
// of concurrent callers wins.
func (r *PollRepository) AcquireLock(ctx context.Context, pollID primitive.ObjectID, token string, timeout time.Duration) (bool, error) {
	staleBefore := time.Now().Add(-timeout)
	filter := bson.M{
		"_id":      pollID,
		"resolved": false,
		"$or": bson.A{
			bson.M{"processingLock": bson.M{"$exists": false}},
			bson.M{"processingLock": ""},
			bson.M{"processingStarted": bson.M{"$lt": staleBefore}},
		},
	}
	update := bson.M{"$set": bson.M{
		"processingLock":    token,
		"processingStarted": time.Now(),
	}}
	res, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

// ReleaseLock clears the lease if token still owns it
func (r *PollRepository) ReleaseLock(ctx context.Context, pollID primitive.ObjectID, token string) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": pollID, "processingLock": token},
		bson.M{"$unset": bson.M{"processingLock": "", "processingStarted": ""}},
	)
	return err
}
