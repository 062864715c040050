package services

// Job names understood by the two queues. Refund and payout jobs run on
// the payout queue; the delayed tally wrappers run on the poll queue.
const (
	JobSingleRefund       = "single-refund"
	JobMultiPayout        = "multi-payout"
	JobFinalizeResolution = "finalize-resolution"
	JobProcessPollResults = "process-poll-results"
)

// SingleRefundPayload returns the sole participant's stake.
type SingleRefundPayload struct {
	BetID       string  `json:"betId"`
	GroupID     int64   `json:"groupId"`
	CreatorID   int64   `json:"creatorId"`
	Title       string  `json:"title"`
	Participant string  `json:"participant"`
	Amount      float64 `json:"amount"`
}

// MultiPayoutPayload distributes the net pool among the winners and the
// platform fee to the platform wallet. Amounts are computed once, at
// dispatch time, so a retried job pays exactly what the first attempt
// would have paid.
type MultiPayoutPayload struct {
	BetID           string   `json:"betId"`
	GroupID         int64    `json:"groupId"`
	Title           string   `json:"title"`
	Winners         []string `json:"winners"`
	WinningOption   int      `json:"winningOption"`
	PayoutPerWinner float64  `json:"payoutPerWinner"`
	PlatformFee     float64  `json:"platformFee"`
}

// PollJobPayload drives the delayed finalize/tally wrappers.
type PollJobPayload struct {
	BetID   string `json:"betId"`
	GroupID int64  `json:"groupId"`
	Title   string `json:"title"`
}
