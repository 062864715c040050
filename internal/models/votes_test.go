package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestVoteMapSetOverwrites(t *testing.T) {
	v := VoteMap{}
	v.Set("7", 0)
	v.Set("7", 2)

	assert.Len(t, v, 1)
	assert.Equal(t, 2, v["7"])
}

func TestVoteMapAcceptRejectTally(t *testing.T) {
	v := VoteMap{"a": VoteAccept, "b": VoteAccept, "c": VoteReject}
	accepts, rejects := v.AcceptRejectTally()
	assert.Equal(t, 2, accepts)
	assert.Equal(t, 1, rejects)
}

func TestWinningOption(t *testing.T) {
	tests := []struct {
		name       string
		votes      VoteMap
		numOptions int
		wantOption int
		wantCount  int
	}{
		{"clear winner", VoteMap{"a": 1, "b": 1, "c": 0}, 2, 1, 2},
		{"tie keeps lowest index", VoteMap{"a": 0, "b": 2}, 3, 0, 1},
		{"three way tie", VoteMap{"a": 0, "b": 1, "c": 2}, 3, 0, 1},
		{"empty map", VoteMap{}, 3, 0, 0},
		{"out of range votes ignored", VoteMap{"a": 9, "b": 1}, 2, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			option, count := tt.votes.WinningOption(tt.numOptions)
			assert.Equal(t, tt.wantOption, option)
			assert.Equal(t, tt.wantCount, count)
		})
	}
}

// Votes written through a Poll must read back identically: the tally and
// the reconciliation sweep both depend on the persisted document form.
func TestVoteMapBSONRoundTrip(t *testing.T) {
	in := Poll{
		Votes: VoteMap{"7": 0, "8": 2, "9": VoteAccept},
	}
	raw, err := bson.Marshal(in)
	require.NoError(t, err)

	var out Poll
	require.NoError(t, bson.Unmarshal(raw, &out))
	assert.Equal(t, in.Votes, out.Votes)
}
