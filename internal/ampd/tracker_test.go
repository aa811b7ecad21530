package ampd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lecca.io/axelar-watchtower/internal/classifier"
	"lecca.io/axelar-watchtower/internal/lookup"
	"lecca.io/axelar-watchtower/internal/types"
)

const (
	verifier = "axelar1votingverifierflow"
	multisig = "axelar1multisig"
)

func newTestTracker(size int) *Tracker {
	tr := NewTracker([]string{"flow", "sui"}, size)
	tr.now = func() time.Time { return time.Date(2026, 2, 6, 10, 0, 0, 0, time.UTC) }
	return tr
}

func TestPollLifecycle(t *testing.T) {
	tr := newTestTracker(4)

	rec, err := tr.Apply(classifier.Match{Kind: classifier.AMPDPollStarted, ID: "12", Chain: "flow", Contract: verifier})
	require.NoError(t, err)
	assert.Equal(t, types.RecordAMPDPoll, rec.Kind)
	require.Len(t, rec.Ampd, 4)
	assert.Equal(t, types.AmpdRecord{ID: "12", ContractAddress: verifier, Result: types.ResultUnsubmit, CreatedAt: tr.now()}, rec.Ampd[0])

	_, err = tr.Apply(classifier.Match{Kind: classifier.AMPDPollStarted, ID: "12", Chain: "flow", Contract: verifier})
	assert.Error(t, err, "duplicate start")

	rec, err = tr.ApplyVoteResult("12", verifier, "", "succeeded_on_chain")
	require.NoError(t, err)
	assert.Equal(t, "flow", rec.Chain)
	assert.Equal(t, "succeeded_on_chain", rec.Ampd[0].Result)

	_, err = tr.ApplyVoteResult("12", verifier, "flow", "not_found")
	assert.ErrorIs(t, err, ErrAlreadyResolved)

	_, err = tr.ApplyVoteResult("12", "axelar1othercontract", "flow", "not_found")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSigningLifecycle(t *testing.T) {
	tr := newTestTracker(4)

	_, err := tr.Apply(classifier.Match{Kind: classifier.AMPDSigningStarted, ID: "900", Chain: "sui", Contract: multisig})
	require.NoError(t, err)

	// the multisig contract is shared, so the signature carries no chain
	rec, err := tr.Apply(classifier.Match{Kind: classifier.AMPDSignatureSubmitted, ID: "900", Contract: multisig})
	require.NoError(t, err)
	assert.Equal(t, "sui", rec.Chain)
	assert.Equal(t, types.RecordAMPDSigning, rec.Kind)
	assert.Equal(t, types.ResultSigned, rec.Ampd[0].Result)

	_, err = tr.Apply(classifier.Match{Kind: classifier.AMPDSignatureSubmitted, ID: "900", Contract: multisig})
	assert.ErrorIs(t, err, ErrAlreadyResolved)

	polls := tr.Records(types.RecordAMPDPoll, "sui").Ampd
	for _, p := range polls {
		assert.True(t, p.IsPlaceholder(), "signings do not touch polls")
	}
}

func TestUntrackedChainRejected(t *testing.T) {
	tr := newTestTracker(2)
	_, err := tr.Apply(classifier.Match{Kind: classifier.AMPDPollStarted, ID: "1", Chain: "stellar", Contract: verifier})
	assert.Error(t, err)
}

func TestRingEvictsOldest(t *testing.T) {
	tr := newTestTracker(2)
	for _, id := range []string{"1", "2", "3"} {
		_, err := tr.Apply(classifier.Match{Kind: classifier.AMPDPollStarted, ID: id, Chain: "flow", Contract: verifier})
		require.NoError(t, err)
	}
	rec := tr.Records(types.RecordAMPDPoll, "flow")
	require.Len(t, rec.Ampd, 2)
	assert.Equal(t, "3", rec.Ampd[0].ID)
	assert.Equal(t, "2", rec.Ampd[1].ID)
}

func execMsg(body string) lookup.Message {
	return lookup.Message{Type: "/cosmwasm.wasm.v1.MsgExecuteContract", Body: []byte(body)}
}

func TestResolveVote(t *testing.T) {
	detail := &lookup.TxDetail{Messages: []lookup.Message{
		execMsg(`{"contract":"axelar1other","msg":{"vote":{"poll_id":"12","votes":["not_found"]}}}`),
		execMsg(`{"contract":"` + verifier + `","msg":{"vote":{"poll_id":"12","votes":["succeeded_on_chain","succeeded_on_chain"]}}}`),
		execMsg(`{"contract":"` + verifier + `","msg":{"vote":{"poll_id":"13","votes":["succeeded_on_chain",{"failed_on_chain":{}}]}}}`),
		execMsg(`{"contract":"` + verifier + `","msg":{"end_poll":{"poll_id":"14"}}}`),
	}}

	got, err := ResolveVote(detail, "12", verifier)
	require.NoError(t, err)
	assert.Equal(t, "succeeded_on_chain", got)

	got, err = ResolveVote(detail, "13", verifier)
	require.NoError(t, err)
	assert.Equal(t, ResultMixed, got)

	_, err = ResolveVote(detail, "14", verifier)
	assert.ErrorIs(t, err, ErrNoVote)
}
