package evm

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lecca.io/axelar-watchtower/internal/classifier"
	"lecca.io/axelar-watchtower/internal/lookup"
	"lecca.io/axelar-watchtower/internal/types"
)

func newTestTracker(size int) *Tracker {
	tr := NewTracker([]string{"ethereum", "polygon", "avalanche"}, size)
	tr.now = func() time.Time { return time.Date(2026, 2, 6, 10, 0, 0, 0, time.UTC) }
	return tr
}

func started(id, chain string) classifier.Match {
	return classifier.Match{Kind: classifier.EVMPollStarted, ID: id, Chain: chain}
}

func TestPollIDGapIsLoggedNotRejected(t *testing.T) {
	tr := newTestTracker(5)

	_, ok := tr.ApplyPollStarted(started("41", "ethereum"))
	require.True(t, ok)
	_, ok = tr.ApplyPollStarted(started("42", "polygon"))
	require.True(t, ok)
	_, ok = tr.ApplyPollStarted(started("44", "ethereum"))
	require.True(t, ok)

	assert.Equal(t, int64(44), tr.LastGlobalPollID())
	assert.Equal(t, 1, tr.Gaps())

	eth := tr.Records("ethereum").Polls
	assert.Equal(t, "44", eth[0].PollID)
	assert.Equal(t, "41", eth[1].PollID)
	assert.Equal(t, types.ResultUnsubmitted, eth[0].Result)
}

func TestRingCapacityAndPlaceholders(t *testing.T) {
	tr := newTestTracker(3)
	rec := tr.Records("avalanche")
	require.Len(t, rec.Polls, 3)
	for _, p := range rec.Polls {
		assert.True(t, p.IsPlaceholder())
	}

	for i := 1; i <= 5; i++ {
		tr.ApplyPollStarted(started(strconv.Itoa(i), "avalanche"))
	}
	rec = tr.Records("avalanche")
	require.Len(t, rec.Polls, 3)
	assert.Equal(t, []string{"5", "4", "3"}, []string{rec.Polls[0].PollID, rec.Polls[1].PollID, rec.Polls[2].PollID})
}

func TestDuplicateAndUnknownChain(t *testing.T) {
	tr := newTestTracker(3)
	_, ok := tr.ApplyPollStarted(started("7", "ethereum"))
	require.True(t, ok)
	_, ok = tr.ApplyPollStarted(started("7", "ethereum"))
	assert.False(t, ok)
	_, ok = tr.ApplyPollStarted(started("8", "fantom"))
	assert.False(t, ok)
}

func TestUpdatePollStatusFallsBackToAllChains(t *testing.T) {
	tr := newTestTracker(5)
	tr.ApplyPollStarted(started("100", "polygon"))

	rec, err := tr.UpdatePollStatus("100", types.ResultValidated, "ethereum")
	require.NoError(t, err)
	assert.Equal(t, "polygon", rec.Chain)
	assert.Equal(t, types.ResultValidated, rec.Polls[0].Result)

	_, err = tr.UpdatePollStatus("100", types.ResultInvalid, "polygon")
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	assert.Equal(t, types.ResultValidated, tr.Records("polygon").Polls[0].Result)

	_, err = tr.UpdatePollStatus("999", types.ResultValidated, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdatePollStatusNeverMatchesPlaceholders(t *testing.T) {
	tr := newTestTracker(2)
	_, err := tr.UpdatePollStatus(types.PlaceholderID, types.ResultValidated, "ethereum")
	assert.ErrorIs(t, err, ErrNotFound)
}

func voteMsg(t *testing.T, pollID string, chain string, eventChains ...string) lookup.Message {
	events := make([]map[string]string, 0, len(eventChains))
	for _, c := range eventChains {
		events = append(events, map[string]string{"chain": c})
	}
	body, err := json.Marshal(map[string]interface{}{
		"@type":   "/axelar.vote.v1beta1.VoteRequest",
		"poll_id": pollID,
		"vote":    map[string]interface{}{"chain": chain, "events": events},
	})
	require.NoError(t, err)
	return lookup.Message{Type: "/axelar.vote.v1beta1.VoteRequest", Body: body}
}

func TestResolveVote(t *testing.T) {
	detail := &lookup.TxDetail{Messages: []lookup.Message{
		voteMsg(t, "41", "Ethereum", "Ethereum"),
		voteMsg(t, "42", "Polygon"),
		voteMsg(t, "43", "Avalanche", "Ethereum"),
	}}

	status, chain, err := ResolveVote(detail, "41")
	require.NoError(t, err)
	assert.Equal(t, types.ResultValidated, status)
	assert.Equal(t, "Ethereum", chain)

	status, _, err = ResolveVote(detail, "42")
	require.NoError(t, err)
	assert.Equal(t, types.ResultInvalid, status)

	status, _, err = ResolveVote(detail, "43")
	require.NoError(t, err)
	assert.Equal(t, types.ResultInvalid, status)

	_, _, err = ResolveVote(detail, "44")
	assert.ErrorIs(t, err, ErrNoVote)
	_, _, err = ResolveVote(nil, "41")
	assert.ErrorIs(t, err, ErrNoVote)
}
