package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lecca.io/axelar-watchtower/internal/types"
)

func TestBlockHistoryLengthIsConstant(t *testing.T) {
	s := New(5, 3)
	for h := int64(1); h <= 12; h++ {
		s.ApplyBlock(types.BlockUpdate{Height: h, Status: types.BlockPrevote})
		s.ApplyBlock(types.BlockUpdate{Height: h, Status: types.BlockSigned, Final: true})
		assert.Len(t, s.Snapshot().Blocks, 5)
	}
	snap := s.Snapshot()
	assert.Equal(t, int64(12), snap.BlockHeights[0])
	assert.Nil(t, snap.Live)
}

func TestNonFinalUpdatesOnlyTouchLive(t *testing.T) {
	s := New(3, 3)
	s.ApplyBlock(types.BlockUpdate{Height: 7, Status: types.BlockPrecommit})

	snap := s.Snapshot()
	require.NotNil(t, snap.Live)
	assert.Equal(t, types.BlockPrecommit, snap.Live.Status)
	assert.Equal(t, []types.BlockStatus{types.BlockNone, types.BlockNone, types.BlockNone}, snap.Blocks)
}

func TestHeartbeatHistoryShiftsTogether(t *testing.T) {
	s := New(3, 2)
	s.ApplyHeartbeat(types.HeartbeatUpdate{Period: 2, Status: types.HeartbeatSigned, Final: true, FoundAt: 120})
	s.ApplyHeartbeat(types.HeartbeatUpdate{Period: 3, Status: types.HeartbeatMissed, Final: true})
	s.ApplyHeartbeat(types.HeartbeatUpdate{Period: 4, Status: types.HeartbeatSigned})

	snap := s.Snapshot()
	assert.Equal(t, []types.HeartbeatStatus{types.HeartbeatMissed, types.HeartbeatSigned}, snap.Heartbeats)
	assert.Equal(t, []int64{0, 120}, snap.HeartbeatFoundAt)
	assert.Equal(t, []int64{3, 2}, snap.HeartbeatPeriods)
}

func TestSetHeightOnlyMovesForward(t *testing.T) {
	s := New(3, 3)
	t0 := time.Date(2026, 2, 6, 10, 0, 0, 0, time.UTC)
	now := t0
	s.now = func() time.Time { return now }

	s.SetHeight(10, t0)
	now = t0.Add(time.Minute)
	s.SetHeight(10, t0)
	s.SetHeight(9, t0)

	h, at := s.Height()
	assert.Equal(t, int64(10), h)
	assert.Equal(t, t0, at)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s := New(3, 3)
	s.SetChainRecords(types.ChainRecords{Kind: types.RecordEVMPoll, Chain: "ethereum", Polls: []types.PollRecord{{PollID: "1", Result: types.ResultUnsubmitted}}})

	snap := s.Snapshot()
	snap.EVM[0].Polls[0].Result = types.ResultValidated

	rec, ok := s.ChainRecords(types.RecordEVMPoll, "ethereum")
	require.True(t, ok)
	assert.Equal(t, types.ResultUnsubmitted, rec.Polls[0].Result)
}

func TestSnapshotSplitsEVMAndAMPD(t *testing.T) {
	s := New(3, 3)
	s.SetChainRecords(types.ChainRecords{Kind: types.RecordAMPDSigning, Chain: "sui"})
	s.SetChainRecords(types.ChainRecords{Kind: types.RecordAMPDPoll, Chain: "sui"})
	s.SetChainRecords(types.ChainRecords{Kind: types.RecordAMPDPoll, Chain: "flow"})
	s.SetChainRecords(types.ChainRecords{Kind: types.RecordEVMPoll, Chain: "polygon"})

	snap := s.Snapshot()
	require.Len(t, snap.EVM, 1)
	require.Len(t, snap.AMPD, 3)
	assert.Equal(t, "flow", snap.AMPD[0].Chain)
	assert.Equal(t, types.RecordAMPDPoll, snap.AMPD[1].Kind)
	assert.Equal(t, types.RecordAMPDSigning, snap.AMPD[2].Kind)
}

func TestBlockStats(t *testing.T) {
	snap := Snapshot{Blocks: []types.BlockStatus{
		types.BlockMissed, types.BlockMissed, types.BlockMissed, types.BlockSigned, types.BlockProposed, types.BlockNone,
	}}
	st := snap.BlockStats()
	assert.Equal(t, 3, st.Consecutive)
	assert.Equal(t, 2, st.Signed)
	assert.Equal(t, 3, st.Missed)
	assert.InDelta(t, 40.0, st.Rate, 0.001)

	assert.Equal(t, 100.0, Snapshot{Blocks: []types.BlockStatus{types.BlockNone}}.BlockStats().Rate)
}

func TestHeartbeatStats(t *testing.T) {
	snap := Snapshot{Heartbeats: []types.HeartbeatStatus{types.HeartbeatMissed, types.HeartbeatSigned, types.HeartbeatUnknown}}
	st := snap.HeartbeatStats()
	assert.Equal(t, 1, st.Consecutive)
	assert.InDelta(t, 50.0, st.Rate, 0.001)
}

func TestComputeChainStatsMaturity(t *testing.T) {
	now := time.Date(2026, 2, 6, 10, 0, 0, 0, time.UTC)
	rec := types.ChainRecords{Kind: types.RecordEVMPoll, Chain: "ethereum", Polls: []types.PollRecord{
		{PollID: "5", Result: types.ResultUnsubmitted, CreatedAt: now.Add(-time.Minute)},
		{PollID: "4", Result: types.ResultUnsubmitted, CreatedAt: now.Add(-6 * time.Minute)},
		{PollID: "3", Result: types.ResultUnsubmitted, CreatedAt: now.Add(-7 * time.Minute)},
		{PollID: "2", Result: types.ResultValidated, CreatedAt: now.Add(-8 * time.Minute)},
		{PollID: "1", Result: types.ResultInvalid, CreatedAt: now.Add(-9 * time.Minute)},
		{PollID: types.PlaceholderID, Result: types.ResultUnknown},
	}}

	st := ComputeChainStats(rec, 5*time.Minute, now)
	assert.Equal(t, 5, st.Total)
	assert.Equal(t, 4, st.Mature)
	assert.Equal(t, 1, st.Valid)
	assert.Equal(t, 3, st.Outstanding)
	assert.Equal(t, 2, st.ConsecutiveMissed, "immature poll 5 is skipped")
	assert.InDelta(t, 25.0, st.Rate, 0.001)
	assert.False(t, st.LatestMatureValid)
	assert.Equal(t, now.Add(-8*time.Minute), st.LatestValidAt)
}

func TestComputeChainStatsEmpty(t *testing.T) {
	rec := types.ChainRecords{Kind: types.RecordAMPDPoll, Chain: "flow", Ampd: []types.AmpdRecord{{ID: types.PlaceholderID, Result: types.ResultUnknown}}}
	st := ComputeChainStats(rec, 2*time.Minute, time.Now())
	assert.Equal(t, 100.0, st.Rate)
	assert.Zero(t, st.Total)
	assert.True(t, st.LatestValidAt.IsZero())
}

func TestComputeChainStatsAMPDValidity(t *testing.T) {
	now := time.Date(2026, 2, 6, 10, 0, 0, 0, time.UTC)
	old := now.Add(-3 * time.Minute)
	rec := types.ChainRecords{Kind: types.RecordAMPDSigning, Chain: "sui", Ampd: []types.AmpdRecord{
		{ID: "3", Result: types.ResultSigned, CreatedAt: old},
		{ID: "2", Result: types.ResultUnsubmit, CreatedAt: old},
		{ID: "1", Result: "succeeded_on_chain", CreatedAt: old},
	}}
	st := ComputeChainStats(rec, 2*time.Minute, now)
	assert.Equal(t, 2, st.Valid)
	assert.Equal(t, 0, st.ConsecutiveMissed)
	assert.True(t, st.LatestMatureValid)
}
