package alerts

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"lecca.io/axelar-watchtower/internal/config"
	"lecca.io/axelar-watchtower/internal/logger"
	"lecca.io/axelar-watchtower/internal/state"
	"lecca.io/axelar-watchtower/internal/types"
)

// SnapshotSource hands out copies of the current state.
type SnapshotSource interface {
	Snapshot() state.Snapshot
}

type thresholds struct {
	missedBlocks      int
	missedHeartbeats  int
	signRate          int
	heartbeatRate     int
	evmMissed         int
	evmRate           int
	ampdVoteMissed    int
	ampdVoteRate      int
	ampdSigningMissed int
	ampdSigningRate   int
}

// Engine polls the snapshot and turns threshold crossings into alert events.
type Engine struct {
	source   SnapshotSource
	notifier Notifier
	rules    thresholds

	interval     time.Duration
	cooldown     time.Duration
	noBlockDelay time.Duration
	evmMaturity  time.Duration
	ampdMaturity time.Duration

	mu              sync.Mutex
	states          map[string]*hysteresis
	subjects        map[string]subject
	connected       bool
	noBlockAtHeight int64

	now func() time.Time
}

func NewEngine(cfg config.AlertsConfig, source SnapshotSource, notifier Notifier) *Engine {
	r := cfg.Rules
	return &Engine{
		source:   source,
		notifier: notifier,
		rules: thresholds{
			missedBlocks:      r.ConsecutiveMissedBlocks,
			missedHeartbeats:  r.ConsecutiveMissedHeartbeats,
			signRate:          config.ParsePercent(r.SignRate),
			heartbeatRate:     config.ParsePercent(r.HeartbeatRate),
			evmMissed:         r.EVMVoteMissed,
			evmRate:           config.ParsePercent(r.EVMVoteRate),
			ampdVoteMissed:    r.AMPDVoteMissed,
			ampdVoteRate:      config.ParsePercent(r.AMPDVoteRate),
			ampdSigningMissed: r.AMPDSigningMissed,
			ampdSigningRate:   config.ParsePercent(r.AMPDSigningRate),
		},
		interval:     orDefault(config.ParseDuration(cfg.CheckInterval), 10*time.Second),
		cooldown:     orDefault(config.ParseDuration(cfg.Cooldown), 5*time.Minute),
		noBlockDelay: orDefault(config.ParseDuration(cfg.NoBlockDelay), 2*time.Minute),
		evmMaturity:  orDefault(config.ParseDuration(cfg.EVMMaturity), 5*time.Minute),
		ampdMaturity: orDefault(config.ParseDuration(cfg.AMPDMaturity), 2*time.Minute),
		states:       make(map[string]*hysteresis),
		subjects:     make(map[string]subject),
		now:          time.Now,
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Start runs a check every interval until ctx ends.
func (e *Engine) Start(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.check(ctx)
		}
	}
}

func (e *Engine) check(ctx context.Context) {
	snap := e.source.Snapshot()
	events := e.evaluate(snap, e.now())
	for i := range events {
		events[i].Snapshot = &snap
		if err := e.notifier.Notify(ctx, events[i]); err != nil {
			logger.Warn("ALERT", "Failed to deliver %s alert: %v", events[i].RuleID, err)
		}
	}
}

// evaluate runs one check cycle against snap. It is deterministic for a given
// snapshot, clock and prior state.
func (e *Engine) evaluate(snap state.Snapshot, now time.Time) []AlertEvent {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []AlertEvent
	out = e.checkConnectivity(out, snap, now)
	out = e.checkNoNewBlock(out, snap, now)

	blocks := snap.BlockStats()
	hb := snap.HeartbeatStats()
	out = e.observe(out, now, countRule(RuleConsecutiveMissedBlocks, "", blocks.Consecutive, e.rules.missedBlocks, true))
	out = e.observe(out, now, countRule(RuleConsecutiveMissedHeartbeats, "", hb.Consecutive, e.rules.missedHeartbeats, true))
	out = e.observe(out, now, rateRule(RuleLowSignRate, "", blocks.Rate, e.rules.signRate, true))
	out = e.observe(out, now, rateRule(RuleLowHeartbeatRate, "", hb.Rate, e.rules.heartbeatRate, true))

	for _, rec := range snap.EVM {
		st := state.ComputeChainStats(rec, e.evmMaturity, now)
		out = e.observe(out, now, countRule(RuleEVMVoteMissed, rec.Chain, st.ConsecutiveMissed, e.rules.evmMissed, st.LatestMatureValid).since(st.LatestValidAt))
		out = e.observe(out, now, rateRule(RuleEVMVoteRateLow, rec.Chain, st.Rate, e.rules.evmRate, st.Valid > 0).since(st.LatestValidAt))
	}
	for _, rec := range snap.AMPD {
		st := state.ComputeChainStats(rec, e.ampdMaturity, now)
		missedRule, rateRuleID := RuleAMPDVoteMissed, RuleAMPDVoteRateLow
		missedLimit, rateLimit := e.rules.ampdVoteMissed, e.rules.ampdVoteRate
		if rec.Kind == types.RecordAMPDSigning {
			missedRule, rateRuleID = RuleAMPDSigningMissed, RuleAMPDSigningRateLow
			missedLimit, rateLimit = e.rules.ampdSigningMissed, e.rules.ampdSigningRate
		}
		out = e.observe(out, now, countRule(missedRule, rec.Chain, st.ConsecutiveMissed, missedLimit, st.LatestMatureValid).since(st.LatestValidAt))
		out = e.observe(out, now, rateRule(rateRuleID, rec.Chain, st.Rate, rateLimit, st.Valid > 0).since(st.LatestValidAt))
	}
	return out
}

// measurement is one metric reading for a rule.
type measurement struct {
	rule          RuleID
	chain         string
	value         float64
	threshold     float64
	breached      bool
	higherIsWorse bool
	// canRecover gates the transition back to inactive
	canRecover bool
	percent    bool
	// latestValid is compared against the firing mark when marked is set
	latestValid time.Time
	marked      bool
}

func countRule(rule RuleID, chain string, value, threshold int, canRecover bool) measurement {
	return measurement{
		rule:          rule,
		chain:         chain,
		value:         float64(value),
		threshold:     float64(threshold),
		breached:      threshold > 0 && value >= threshold,
		higherIsWorse: true,
		canRecover:    canRecover,
	}
}

func rateRule(rule RuleID, chain string, rate float64, threshold int, canRecover bool) measurement {
	return measurement{
		rule:       rule,
		chain:      chain,
		value:      rate,
		threshold:  float64(threshold),
		breached:   threshold > 0 && rate < float64(threshold),
		canRecover: canRecover,
		percent:    true,
	}
}

// since requires a valid record newer than the one seen when the alert fired
// before the rule may recover.
func (m measurement) since(latestValid time.Time) measurement {
	m.latestValid = latestValid
	m.marked = true
	return m
}

func (m measurement) worseThan(last float64) bool {
	if m.higherIsWorse {
		return m.value > last
	}
	return m.value < last
}

func alertKey(rule RuleID, chain string) string {
	if chain == "" {
		return string(rule)
	}
	return string(rule) + ":" + chain
}

type subject struct {
	rule  RuleID
	chain string
}

func (e *Engine) state(rule RuleID, chain string) *hysteresis {
	key := alertKey(rule, chain)
	st, ok := e.states[key]
	if !ok {
		st = &hysteresis{}
		e.states[key] = st
		e.subjects[key] = subject{rule: rule, chain: chain}
	}
	return st
}

func (e *Engine) observe(out []AlertEvent, now time.Time, m measurement) []AlertEvent {
	st := e.state(m.rule, m.chain)

	switch {
	case m.breached && !st.Active:
		ev := e.newEvent(m, SeverityWarning, AlertFiring, now)
		if e.allowed(st, ev.Severity, now) {
			st.Active = true
			st.ValidMark = m.latestValid
			e.record(st, ev, now)
			out = append(out, ev)
		}

	case m.breached && m.worseThan(st.Magnitude):
		ev := e.newEvent(m, SeverityCritical, AlertFiring, now)
		ev.Details = append(ev.Details, AlertDetail{Label: "Previously", Value: m.format(st.Magnitude)})
		if e.allowed(st, ev.Severity, now) {
			e.record(st, ev, now)
			out = append(out, ev)
		}

	case !m.breached && st.Active:
		if !m.canRecover {
			logger.Debug("ALERT", "%s back in bounds without a valid mature record, keeping active", alertKey(m.rule, m.chain))
			break
		}
		if m.marked && !m.latestValid.After(st.ValidMark) {
			logger.Debug("ALERT", "%s back in bounds with no valid record since it fired, keeping active", alertKey(m.rule, m.chain))
			break
		}
		ev := e.newEvent(m, SeverityInfo, AlertResolved, now)
		st.Active = false
		e.record(st, ev, now)
		out = append(out, ev)
	}
	return out
}

// allowed applies the cooldown. Recoveries always pass; a severity change passes;
// critical repeats wait half the cooldown.
func (e *Engine) allowed(st *hysteresis, sev Severity, now time.Time) bool {
	if sev == SeverityInfo || st.LastSentAt.IsZero() || st.Severity != sev {
		return true
	}
	window := e.cooldown
	if sev == SeverityCritical {
		window /= 2
	}
	return now.Sub(st.LastSentAt) >= window
}

func (e *Engine) record(st *hysteresis, ev AlertEvent, now time.Time) {
	st.Severity = ev.Severity
	st.Magnitude = ev.Magnitude
	st.LastSentAt = now
}

func (e *Engine) checkConnectivity(out []AlertEvent, snap state.Snapshot, now time.Time) []AlertEvent {
	connected := snap.Stream.Connected
	if connected == e.connected {
		return out
	}
	e.connected = connected
	st := e.state(RuleWebsocketDisconnected, "")

	ev := AlertEvent{
		Key:       string(RuleWebsocketDisconnected),
		RuleID:    RuleWebsocketDisconnected,
		Timestamp: now,
	}
	if !connected {
		ev.Status, ev.Severity, ev.Magnitude = AlertFiring, SeverityCritical, 1
		ev.Title = "Websocket Disconnected"
		ev.Message = "Event stream disconnected from the node"
		if snap.Stream.LastError != "" {
			ev.Details = []AlertDetail{{Label: "Error", Value: snap.Stream.LastError}}
		}
		st.Active = true
	} else {
		if !st.Active {
			// first connection after start
			return out
		}
		ev.Status, ev.Severity = AlertResolved, SeverityInfo
		ev.Title = "Websocket Reconnected"
		ev.Message = "Event stream reconnected to the node"
		st.Active = false
	}
	e.record(st, ev, now)
	return append(out, ev)
}

func (e *Engine) checkNoNewBlock(out []AlertEvent, snap state.Snapshot, now time.Time) []AlertEvent {
	if snap.Height == 0 {
		return out
	}
	st := e.state(RuleNoNewBlock, "")

	if st.Active && snap.Height != e.noBlockAtHeight {
		st.Active = false
		ev := AlertEvent{
			Key:       string(RuleNoNewBlock),
			RuleID:    RuleNoNewBlock,
			Status:    AlertResolved,
			Severity:  SeverityInfo,
			Magnitude: float64(snap.Height),
			Title:     "Blocks Resumed",
			Message:   fmt.Sprintf("New block #%d after #%d", snap.Height, e.noBlockAtHeight),
			Timestamp: now,
		}
		e.record(st, ev, now)
		out = append(out, ev)
	}

	stalled := now.Sub(snap.HeightChangedAt)
	if st.Active || stalled < e.noBlockDelay {
		return out
	}
	st.Active = true
	e.noBlockAtHeight = snap.Height
	ev := AlertEvent{
		Key:       string(RuleNoNewBlock),
		RuleID:    RuleNoNewBlock,
		Status:    AlertFiring,
		Severity:  SeverityWarning,
		Magnitude: stalled.Seconds(),
		Title:     "No New Block",
		Message:   fmt.Sprintf("No new block for %v, last height #%d", stalled.Round(time.Second), snap.Height),
		Details:   []AlertDetail{{Label: "Delay", Value: e.noBlockDelay.String()}},
		Timestamp: now,
	}
	e.record(st, ev, now)
	return append(out, ev)
}

var ruleTitles = map[RuleID]string{
	RuleConsecutiveMissedBlocks:     "Consecutive Missed Blocks",
	RuleConsecutiveMissedHeartbeats: "Consecutive Missed Heartbeats",
	RuleLowSignRate:                 "Low Sign Rate",
	RuleLowHeartbeatRate:            "Low Heartbeat Rate",
	RuleEVMVoteMissed:               "EVM Votes Missed",
	RuleAMPDVoteMissed:              "AMPD Votes Missed",
	RuleAMPDSigningMissed:           "AMPD Signings Missed",
	RuleEVMVoteRateLow:              "Low EVM Vote Rate",
	RuleAMPDVoteRateLow:             "Low AMPD Vote Rate",
	RuleAMPDSigningRateLow:          "Low AMPD Signing Rate",
}

func (m measurement) format(v float64) string {
	if m.percent {
		return fmt.Sprintf("%.1f%%", v)
	}
	return fmt.Sprintf("%d", int64(v))
}

func (e *Engine) newEvent(m measurement, sev Severity, status AlertStatus, now time.Time) AlertEvent {
	title := ruleTitles[m.rule]
	subject := title
	if m.chain != "" {
		subject = fmt.Sprintf("%s [%s]", title, m.chain)
	}

	var msg string
	switch sev {
	case SeverityWarning:
		msg = fmt.Sprintf("%s: %s (threshold %s)", subject, m.format(m.value), m.format(m.threshold))
	case SeverityCritical:
		msg = fmt.Sprintf("%s worsened: %s (threshold %s)", subject, m.format(m.value), m.format(m.threshold))
	default:
		title += " Recovered"
		msg = fmt.Sprintf("%s recovered: %s", subject, m.format(m.value))
	}

	return AlertEvent{
		Key:       alertKey(m.rule, m.chain),
		RuleID:    m.rule,
		Chain:     m.chain,
		Status:    status,
		Severity:  sev,
		Magnitude: m.value,
		Title:     title,
		Message:   msg,
		Details: []AlertDetail{
			{Label: "Current", Value: m.format(m.value)},
			{Label: "Threshold", Value: m.format(m.threshold)},
		},
		Timestamp: now,
	}
}

// Active lists the alerts currently firing, ordered by key.
func (e *Engine) Active() []ActiveAlert {
	e.mu.Lock()
	defer e.mu.Unlock()

	keys := make([]string, 0, len(e.states))
	for k, st := range e.states {
		if st.Active {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([]ActiveAlert, 0, len(keys))
	for _, k := range keys {
		st, sub := e.states[k], e.subjects[k]
		out = append(out, ActiveAlert{RuleID: sub.rule, Chain: sub.chain, Severity: st.Severity, Magnitude: st.Magnitude})
	}
	return out
}
