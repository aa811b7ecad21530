package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"lecca.io/axelar-watchtower/internal/alerts"
	"lecca.io/axelar-watchtower/internal/state"
)

type SnapshotSource interface {
	Snapshot() state.Snapshot
}

type AlertSource interface {
	Active() []alerts.ActiveAlert
}

type Options struct {
	Prefix       string
	Validator    string
	EVMMaturity  time.Duration
	AMPDMaturity time.Duration
}

// Exporter mirrors the latest snapshot into Prometheus gauges.
type Exporter struct {
	source  SnapshotSource
	alerts  AlertSource
	opts    Options
	now     func() time.Time
	height  prometheus.Gauge
	blockAt prometheus.Gauge

	signRate         *prometheus.GaugeVec
	missedBlocks     *prometheus.GaugeVec
	heartbeatRate    *prometheus.GaugeVec
	missedHeartbeats *prometheus.GaugeVec
	connectionUp     *prometheus.GaugeVec
	chainRate        *prometheus.GaugeVec
	chainOutstanding *prometheus.GaugeVec
	chainMissed      *prometheus.GaugeVec
	activeAlerts     *prometheus.GaugeVec
}

func NewExporter(reg prometheus.Registerer, source SnapshotSource, alertSource AlertSource, opts Options) *Exporter {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "axelar"
	}
	validator := []string{"validator"}

	e := &Exporter{
		source: source,
		alerts: alertSource,
		opts:   opts,
		now:    time.Now,
		height: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_latest_height",
			Help: "Latest block height seen on the event stream",
		}),
		blockAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_latest_block_timestamp",
			Help: "Unix timestamp of the latest block",
		}),
		signRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_validator_sign_rate_percent",
			Help: "Signed blocks over decided blocks in the history window (0-100)",
		}, validator),
		missedBlocks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_validator_consecutive_missed_blocks",
			Help: "Missed blocks at the head of the history",
		}, validator),
		heartbeatRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_validator_heartbeat_rate_percent",
			Help: "Signed heartbeats over decided periods (0-100)",
		}, validator),
		missedHeartbeats: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_validator_consecutive_missed_heartbeats",
			Help: "Missed heartbeat periods at the head of the history",
		}, validator),
		connectionUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_connection_up",
			Help: "Node connectivity (1=up, 0=down)",
		}, []string{"stream"}),
		chainRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_chain_success_rate_percent",
			Help: "Valid mature records over mature records (0-100)",
		}, []string{"kind", "chain"}),
		chainOutstanding: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_chain_outstanding_records",
			Help: "Records still awaiting a vote or signature",
		}, []string{"kind", "chain"}),
		chainMissed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_chain_consecutive_missed",
			Help: "Mature missed records at the head of the list",
		}, []string{"kind", "chain"}),
		activeAlerts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_alert_active",
			Help: "Firing alerts (1=firing)",
		}, []string{"rule", "chain", "severity"}),
	}

	reg.MustRegister(
		e.height,
		e.blockAt,
		e.signRate,
		e.missedBlocks,
		e.heartbeatRate,
		e.missedHeartbeats,
		e.connectionUp,
		e.chainRate,
		e.chainOutstanding,
		e.chainMissed,
		e.activeAlerts,
	)
	return e
}

// Start refreshes the gauges every interval until ctx ends.
func (e *Exporter) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.Update()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Update()
		}
	}
}

func (e *Exporter) Update() {
	snap := e.source.Snapshot()
	labels := prometheus.Labels{"validator": e.opts.Validator}

	e.height.Set(float64(snap.Height))
	if !snap.LastBlockTime.IsZero() {
		e.blockAt.Set(float64(snap.LastBlockTime.Unix()))
	}

	blocks := snap.BlockStats()
	e.signRate.With(labels).Set(blocks.Rate)
	e.missedBlocks.With(labels).Set(float64(blocks.Consecutive))

	hb := snap.HeartbeatStats()
	e.heartbeatRate.With(labels).Set(hb.Rate)
	e.missedHeartbeats.With(labels).Set(float64(hb.Consecutive))

	e.connectionUp.WithLabelValues("events").Set(boolValue(snap.Stream.Connected))
	e.connectionUp.WithLabelValues("heartbeat").Set(boolValue(snap.HeartbeatStream.Connected))

	now := e.now()
	for _, rec := range snap.EVM {
		e.setChain(state.ComputeChainStats(rec, e.opts.EVMMaturity, now))
	}
	for _, rec := range snap.AMPD {
		e.setChain(state.ComputeChainStats(rec, e.opts.AMPDMaturity, now))
	}

	if e.alerts == nil {
		return
	}
	e.activeAlerts.Reset()
	for _, a := range e.alerts.Active() {
		e.activeAlerts.WithLabelValues(string(a.RuleID), a.Chain, string(a.Severity)).Set(1)
	}
}

func (e *Exporter) setChain(st state.ChainStats) {
	kind := string(st.Kind)
	e.chainRate.WithLabelValues(kind, st.Chain).Set(st.Rate)
	e.chainOutstanding.WithLabelValues(kind, st.Chain).Set(float64(st.Outstanding))
	e.chainMissed.WithLabelValues(kind, st.Chain).Set(float64(st.ConsecutiveMissed))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
