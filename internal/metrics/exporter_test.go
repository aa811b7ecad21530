package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lecca.io/axelar-watchtower/internal/alerts"
	"lecca.io/axelar-watchtower/internal/state"
	"lecca.io/axelar-watchtower/internal/types"
)

type staticSource struct{ snap state.Snapshot }

func (s staticSource) Snapshot() state.Snapshot { return s.snap }

type staticAlerts struct{ active []alerts.ActiveAlert }

func (s *staticAlerts) Active() []alerts.ActiveAlert { return s.active }

var now = time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC)

func sampleSnapshot() state.Snapshot {
	return state.Snapshot{
		Height:        4200,
		LastBlockTime: now.Add(-3 * time.Second),
		Blocks: []types.BlockStatus{
			types.BlockMissed, types.BlockMissed, types.BlockSigned, types.BlockNone,
		},
		Heartbeats: []types.HeartbeatStatus{types.HeartbeatSigned, types.HeartbeatMissed},
		Stream:     types.ConnectionState{Connected: true},
		EVM: []types.ChainRecords{{
			Kind:  types.RecordEVMPoll,
			Chain: "Ethereum",
			Polls: []types.PollRecord{
				{PollID: "12", Result: types.ResultUnsubmitted, CreatedAt: now.Add(-10 * time.Minute)},
				{PollID: "11", Result: types.ResultValidated, CreatedAt: now.Add(-20 * time.Minute)},
				{PollID: types.PlaceholderID},
			},
		}},
	}
}

func newTestExporter(t *testing.T, snap state.Snapshot, active *staticAlerts) *Exporter {
	t.Helper()
	var src AlertSource
	if active != nil {
		src = active
	}
	e := NewExporter(prometheus.NewRegistry(), staticSource{snap}, src, Options{
		Validator:    "AXVALOPER",
		EVMMaturity:  5 * time.Minute,
		AMPDMaturity: 2 * time.Minute,
	})
	e.now = func() time.Time { return now }
	return e
}

func TestUpdateExportsSigningGauges(t *testing.T) {
	e := newTestExporter(t, sampleSnapshot(), nil)
	e.Update()

	assert.Equal(t, 4200.0, testutil.ToFloat64(e.height))
	assert.Equal(t, float64(now.Add(-3*time.Second).Unix()), testutil.ToFloat64(e.blockAt))
	assert.InDelta(t, 33.33, testutil.ToFloat64(e.signRate.WithLabelValues("AXVALOPER")), 0.01)
	assert.Equal(t, 2.0, testutil.ToFloat64(e.missedBlocks.WithLabelValues("AXVALOPER")))
	assert.Equal(t, 50.0, testutil.ToFloat64(e.heartbeatRate.WithLabelValues("AXVALOPER")))
	assert.Equal(t, 0.0, testutil.ToFloat64(e.missedHeartbeats.WithLabelValues("AXVALOPER")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.connectionUp.WithLabelValues("events")))
	assert.Equal(t, 0.0, testutil.ToFloat64(e.connectionUp.WithLabelValues("heartbeat")))
}

func TestUpdateExportsChainGauges(t *testing.T) {
	e := newTestExporter(t, sampleSnapshot(), nil)
	e.Update()

	kind := string(types.RecordEVMPoll)
	assert.Equal(t, 50.0, testutil.ToFloat64(e.chainRate.WithLabelValues(kind, "Ethereum")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.chainOutstanding.WithLabelValues(kind, "Ethereum")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.chainMissed.WithLabelValues(kind, "Ethereum")))
}

func TestUpdateReplacesActiveAlerts(t *testing.T) {
	active := &staticAlerts{active: []alerts.ActiveAlert{
		{RuleID: alerts.RuleEVMVoteMissed, Chain: "Ethereum", Severity: alerts.SeverityWarning, Magnitude: 3},
		{RuleID: alerts.RuleNoNewBlock, Severity: alerts.SeverityCritical},
	}}
	e := newTestExporter(t, sampleSnapshot(), active)
	e.Update()
	assert.Equal(t, 2, testutil.CollectAndCount(e.activeAlerts))

	active.active = active.active[:1]
	e.Update()
	assert.Equal(t, 1, testutil.CollectAndCount(e.activeAlerts))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.activeAlerts.WithLabelValues(
		string(alerts.RuleEVMVoteMissed), "Ethereum", string(alerts.SeverityWarning))))
}

func TestStartUpdatesImmediatelyAndStops(t *testing.T) {
	e := newTestExporter(t, sampleSnapshot(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Start(ctx, time.Hour)
		close(done)
	}()

	require.Eventually(t, func() bool { return testutil.ToFloat64(e.height) == 4200 }, time.Second, 5*time.Millisecond)
	cancel()
	require.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}
