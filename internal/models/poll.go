package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Poll tracks one resolution round of a bet: either a ratification poll on
// an AI-proposed outcome (IsManualPoll == false, AIOption set) or a manual
// poll where participants pick the winning option directly.
//
// A bet has at most one unresolved poll at a time. Polls are terminal:
// once Resolved flips to true the poll is never reopened.
type Poll struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	BetID         primitive.ObjectID `bson:"betId" json:"betId"`
	PollMessageID int                `bson:"pollMessageId" json:"pollMessageId"`
	GroupID       int64              `bson:"groupId" json:"groupId"`
	Votes         VoteMap            `bson:"votes" json:"votes"`
	AIOption      *int               `bson:"aiOption,omitempty" json:"aiOption,omitempty"`
	IsManualPoll  bool               `bson:"isManualPoll" json:"isManualPoll"`
	Resolved      bool               `bson:"resolved" json:"resolved"`

	// ProcessingLock is a lease token guarding the tally: only the worker
	// holding the token may process this poll. A lock whose
	// ProcessingStarted is older than the configured timeout is stale and
	// may be reclaimed.
	ProcessingLock    string    `bson:"processingLock,omitempty" json:"-"`
	ProcessingStarted time.Time `bson:"processingStarted,omitempty" json:"-"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}
