// Package heartbeat judges, per fixed window of heights, whether the broadcaster
// submitted its heartbeat transaction.
package heartbeat

import (
	"lecca.io/axelar-watchtower/internal/logger"
	"lecca.io/axelar-watchtower/internal/types"
)

type phase int

const (
	uninitialized phase = iota
	initializing
	active
)

// keep per-period bookkeeping for this many periods behind the current one
const retainPeriods = 4

// Tracker follows heartbeat periods. It is driven only by the processor loop.
type Tracker struct {
	period int64
	tryCnt int64

	phase          phase
	firstBlockSeen int64
	currentPeriod  int64

	found  map[int64]int64 // period -> height the heartbeat was found at
	judged map[int64]bool
	warned map[int64]bool
}

// NewTracker creates a tracker for windows of period heights. tryCnt is the number of
// blocks into a period after which a still missing heartbeat is logged.
func NewTracker(period, tryCnt int) *Tracker {
	if period <= 0 {
		period = 50
	}
	return &Tracker{
		period: int64(period),
		tryCnt: int64(tryCnt),
		found:  make(map[int64]int64),
		judged: make(map[int64]bool),
		warned: make(map[int64]bool),
	}
}

// PeriodOf returns the period index of height.
func (t *Tracker) PeriodOf(height int64) int64 {
	return height / t.period
}

// Initialized reports whether a full period boundary has been crossed since start.
func (t *Tracker) Initialized() bool {
	return t.phase == active
}

// CurrentPeriod returns the period of the newest observed height.
func (t *Tracker) CurrentPeriod() int64 {
	return t.currentPeriod
}

// FirstBlockSeen returns the first height observed after start, or 0.
func (t *Tracker) FirstBlockSeen() int64 {
	return t.firstBlockSeen
}

func (t *Tracker) observe(height int64) bool {
	if t.phase != uninitialized {
		return false
	}
	t.phase = initializing
	t.firstBlockSeen = height
	t.currentPeriod = t.PeriodOf(height)
	logger.Info("HEARTBEAT", "First block seen at #%d (period %d), waiting for the next period boundary", height, t.currentPeriod)
	return true
}

// ApplyBlock advances the period clock. When a boundary is crossed after
// initialization, the period just left is judged missed unless a heartbeat was found.
func (t *Tracker) ApplyBlock(height int64) (types.HeartbeatUpdate, bool) {
	if t.observe(height) {
		return types.HeartbeatUpdate{}, false
	}

	p := t.PeriodOf(height)
	if p <= t.currentPeriod {
		t.windowCheck(height)
		return types.HeartbeatUpdate{}, false
	}

	prev := t.currentPeriod
	t.currentPeriod = p
	t.prune()

	if t.phase == initializing {
		t.phase = active
		logger.Info("HEARTBEAT", "Initialized at #%d, tracking from period %d", height, p)
		return types.HeartbeatUpdate{}, false
	}
	if p > prev+1 {
		logger.Warn("HEARTBEAT", "Jumped from period %d to %d; skipped periods are not judged", prev, p)
	}

	if _, ok := t.found[prev]; ok || t.judged[prev] {
		t.judged[prev] = true
		return types.HeartbeatUpdate{}, false
	}
	t.judged[prev] = true
	logger.Warn("HEARTBEAT", "Heartbeat missed for period %d (#%d-#%d)", prev, prev*t.period, (prev+1)*t.period-1)
	return types.HeartbeatUpdate{Period: prev, Status: types.HeartbeatMissed, Final: true}, true
}

// ApplyHeartbeat records a heartbeat transaction found at height and returns a
// signed update the first time its period is seen.
func (t *Tracker) ApplyHeartbeat(height int64) (types.HeartbeatUpdate, bool) {
	t.observe(height)

	p := t.PeriodOf(height)
	if _, ok := t.found[p]; ok {
		logger.Debug("HEARTBEAT", "Duplicate heartbeat for period %d at #%d", p, height)
		return types.HeartbeatUpdate{}, false
	}
	if t.judged[p] || p < t.currentPeriod-retainPeriods {
		logger.Warn("HEARTBEAT", "Late heartbeat at #%d for period %d already judged, ignoring", height, p)
		return types.HeartbeatUpdate{}, false
	}

	t.found[p] = height
	t.judged[p] = true
	logger.Info("HEARTBEAT", "Heartbeat found for period %d at #%d", p, height)
	return types.HeartbeatUpdate{Period: p, Status: types.HeartbeatSigned, Final: true, FoundAt: height}, true
}

func (t *Tracker) windowCheck(height int64) {
	if t.phase != active || t.tryCnt <= 0 {
		return
	}
	p := t.currentPeriod
	if _, ok := t.found[p]; ok || t.warned[p] {
		return
	}
	if height-p*t.period >= t.tryCnt {
		t.warned[p] = true
		logger.Warn("HEARTBEAT", "No heartbeat yet %d blocks into period %d", height-p*t.period, p)
	}
}

func (t *Tracker) prune() {
	floor := t.currentPeriod - retainPeriods
	for p := range t.found {
		if p < floor {
			delete(t.found, p)
		}
	}
	for p := range t.judged {
		if p < floor {
			delete(t.judged, p)
		}
	}
	for p := range t.warned {
		if p < floor {
			delete(t.warned, p)
		}
	}
}
