package alerts

import (
	"time"

	"lecca.io/axelar-watchtower/internal/state"
)

type RuleID string

const (
	RuleWebsocketDisconnected       RuleID = "websocket_disconnected"
	RuleNoNewBlock                  RuleID = "no_new_block"
	RuleConsecutiveMissedBlocks     RuleID = "consecutive_missed_blocks"
	RuleConsecutiveMissedHeartbeats RuleID = "consecutive_missed_heartbeats"
	RuleLowSignRate                 RuleID = "low_sign_rate"
	RuleLowHeartbeatRate            RuleID = "low_heartbeat_rate"
	RuleEVMVoteMissed               RuleID = "evm_vote_missed"
	RuleAMPDVoteMissed              RuleID = "ampd_vote_missed"
	RuleAMPDSigningMissed           RuleID = "ampd_signing_missed"
	RuleEVMVoteRateLow              RuleID = "evm_vote_rate_low"
	RuleAMPDVoteRateLow             RuleID = "ampd_vote_rate_low"
	RuleAMPDSigningRateLow          RuleID = "ampd_signing_rate_low"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type AlertStatus string

const (
	AlertFiring   AlertStatus = "firing"
	AlertResolved AlertStatus = "resolved"
)

type AlertEvent struct {
	Key       string          `json:"key"`
	RuleID    RuleID          `json:"type"`
	Chain     string          `json:"chain,omitempty"`
	Status    AlertStatus     `json:"status"`
	Severity  Severity        `json:"severity"`
	Magnitude float64         `json:"magnitude"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Details   []AlertDetail   `json:"details,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Snapshot  *state.Snapshot `json:"snapshot,omitempty"`
}

type AlertDetail struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// hysteresis is the per key memory that keeps an alert from re-firing every cycle.
type hysteresis struct {
	Active     bool
	Magnitude  float64
	Severity   Severity
	LastSentAt time.Time
	// ValidMark is the newest mature valid record when a per-chain alert fired.
	// Recovery needs a valid record newer than it.
	ValidMark time.Time
}

// ActiveAlert is an alert currently in the firing state.
type ActiveAlert struct {
	RuleID    RuleID
	Chain     string
	Severity  Severity
	Magnitude float64
}
