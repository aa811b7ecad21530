package heartbeat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lecca.io/axelar-watchtower/internal/types"
)

func feedBlocks(t *Tracker, from, to int64) []types.HeartbeatUpdate {
	var out []types.HeartbeatUpdate
	for h := from; h <= to; h++ {
		if u, ok := t.ApplyBlock(h); ok {
			out = append(out, u)
		}
	}
	return out
}

func TestNoJudgementBeforeInitialization(t *testing.T) {
	tr := NewTracker(50, 10)

	// join mid-period 1, cross into period 2: initialization only
	updates := feedBlocks(tr, 70, 120)
	assert.Empty(t, updates)
	assert.True(t, tr.Initialized())
	assert.Equal(t, int64(70), tr.FirstBlockSeen())
	assert.Equal(t, int64(2), tr.CurrentPeriod())
}

func TestMissedPeriodJudgedOnNextPeriod(t *testing.T) {
	tr := NewTracker(50, 10)
	feedBlocks(tr, 70, 99)

	// heights 100-149 are period 2, no heartbeat seen
	assert.Empty(t, feedBlocks(tr, 100, 149))

	u, ok := tr.ApplyBlock(150)
	require.True(t, ok)
	assert.Equal(t, types.HeartbeatUpdate{Period: 2, Status: types.HeartbeatMissed, Final: true}, u)
}

func TestHeartbeatSignedImmediately(t *testing.T) {
	tr := NewTracker(50, 10)
	feedBlocks(tr, 70, 105)

	u, ok := tr.ApplyHeartbeat(106)
	require.True(t, ok)
	assert.Equal(t, types.HeartbeatUpdate{Period: 2, Status: types.HeartbeatSigned, Final: true, FoundAt: 106}, u)

	_, ok = tr.ApplyHeartbeat(110)
	assert.False(t, ok, "one heartbeat per period")

	assert.Empty(t, feedBlocks(tr, 106, 160), "signed period is not judged again")
}

func TestLateHeartbeatIgnored(t *testing.T) {
	tr := NewTracker(50, 10)
	feedBlocks(tr, 70, 150)

	_, ok := tr.ApplyHeartbeat(120)
	assert.False(t, ok, "period 2 was already judged missed")
}

func TestHeartbeatBeforeAnyBlockInitializes(t *testing.T) {
	tr := NewTracker(50, 10)

	u, ok := tr.ApplyHeartbeat(260)
	require.True(t, ok)
	assert.Equal(t, int64(5), u.Period)
	assert.Equal(t, int64(260), tr.FirstBlockSeen())
	assert.False(t, tr.Initialized())
}

func TestNoMissedBeforeFirstBoundary(t *testing.T) {
	tr := NewTracker(10, 3)
	var updates []types.HeartbeatUpdate
	for h := int64(5); h < 100; h++ {
		if u, ok := tr.ApplyBlock(h); ok {
			updates = append(updates, u)
		}
	}
	require.NotEmpty(t, updates)
	// first judged period is 1 (heights 10-19); period 0 was joined mid-way
	assert.Equal(t, int64(1), updates[0].Period)
	for _, u := range updates {
		assert.Equal(t, types.HeartbeatMissed, u.Status)
		assert.GreaterOrEqual(t, u.Period, int64(1))
	}
}

func TestWindowCheckWarnsOnce(t *testing.T) {
	tr := NewTracker(50, 10)
	feedBlocks(tr, 70, 100)
	feedBlocks(tr, 101, 130)
	assert.True(t, tr.warned[2])
	assert.Len(t, tr.warned, 1)
}
