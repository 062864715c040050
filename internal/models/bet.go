package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Bet represents a group-chat prediction bet with custodial stakes.
// Participants are identified by their Telegram username, matching the
// UserWallet key. Votes maps a participant to the option index they backed.
type Bet struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	BetID           string             `bson:"betId" json:"betId"`
	Title           string             `bson:"title" json:"title"`
	Options         []string           `bson:"options" json:"options"`
	MinAmount       float64            `bson:"minAmount" json:"minAmount"`
	GroupID         int64              `bson:"groupId" json:"groupId"`
	CreatorID       int64              `bson:"creatorId" json:"creatorId"`
	EndTime         time.Time          `bson:"endTime" json:"endTime"`
	Participants    []string           `bson:"participants" json:"participants"`
	Votes           VoteMap            `bson:"votes" json:"votes"`
	Resolved        bool               `bson:"resolved" json:"resolved"`
	Winner          string             `bson:"winner,omitempty" json:"winner,omitempty"`
	TransactionHash string             `bson:"transactionHash,omitempty" json:"transactionHash,omitempty"`
	CreatedAt       time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// HasParticipant reports whether username joined this bet.
func (b *Bet) HasParticipant(username string) bool {
	for _, p := range b.Participants {
		if p == username {
			return true
		}
	}
	return false
}

// WinnersFor returns the participants whose recorded bet vote matches the
// winning option. Participants without a recorded vote are excluded.
func (b *Bet) WinnersFor(winningOption int) []string {
	var winners []string
	for _, p := range b.Participants {
		if vote, ok := b.Votes[p]; ok && vote == winningOption {
			winners = append(winners, p)
		}
	}
	return winners
}

// TotalPrizePool is the stake sum held for this bet.
func (b *Bet) TotalPrizePool() float64 {
	return b.MinAmount * float64(len(b.Participants))
}
