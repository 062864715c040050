package models

// VoteMap is the single canonical container for votes everywhere in the
// system: bet votes (participant -> option index), ratification polls
// (voter -> 1 accept / 0 reject) and manual polls (voter -> option index).
// It serializes as a plain BSON document keyed by user id, so a value
// written by one component is always readable by every other one.
type VoteMap map[string]int

// Ratification poll vote values.
const (
	VoteReject = 0
	VoteAccept = 1
)

// Set records or overwrites a user's vote. Map semantics: a user voting
// twice keeps only the latest value.
func (v VoteMap) Set(userID string, value int) {
	v[userID] = value
}

// CountValue returns how many voters chose the given value.
func (v VoteMap) CountValue(value int) int {
	n := 0
	for _, vote := range v {
		if vote == value {
			n++
		}
	}
	return n
}

// AcceptRejectTally counts accept and reject votes of a ratification poll.
func (v VoteMap) AcceptRejectTally() (accepts, rejects int) {
	return v.CountValue(VoteAccept), v.CountValue(VoteReject)
}

// WinningOption returns the option index with the strictly highest vote
// count among option indexes [0, numOptions). Ties are broken by the
// lowest option index so the result is deterministic regardless of map
// iteration order. The second return value is the winning vote count;
// an empty map yields (0, 0).
func (v VoteMap) WinningOption(numOptions int) (option, count int) {
	for idx := 0; idx < numOptions; idx++ {
		if c := v.CountValue(idx); c > count {
			option = idx
			count = c
		}
	}
	return option, count
}
