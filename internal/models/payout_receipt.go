package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PlatformReceiptUser is the receipt key used for the platform-fee
// transfer of a bet, so the fee is also paid at most once across retries.
const PlatformReceiptUser = "__platform__"

// PayoutReceipt is the persisted "already paid" marker for a single
// transfer, keyed (betId, username, optionIndex). A multi-payout job
// checks for a receipt before each transfer, which makes the job safe to
// re-run after a partial failure without paying anyone twice.
type PayoutReceipt struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	BetID       primitive.ObjectID `bson:"betId" json:"betId"`
	Username    string             `bson:"username" json:"username"`
	OptionIndex int                `bson:"optionIndex" json:"optionIndex"`
	Amount      float64            `bson:"amount" json:"amount"`
	Signature   string             `bson:"signature" json:"signature"`
	PaidAt      time.Time          `bson:"paidAt" json:"paidAt"`
}
