// Package state aggregates tracker output into the process-wide snapshot read by the
// alert engine, the exporter and the dashboard.
package state

import (
	"sort"
	"sync"
	"time"

	"lecca.io/axelar-watchtower/internal/history"
	"lecca.io/axelar-watchtower/internal/types"
)

type blockSlot struct {
	Height int64
	Status types.BlockStatus
}

type heartbeatSlot struct {
	Period  int64
	Status  types.HeartbeatStatus
	FoundAt int64
}

// Store is written by the processor loop and the supervisor; everything else reads
// copies through Snapshot.
type Store struct {
	mu sync.RWMutex

	blocks     *history.Ring[blockSlot]
	heartbeats *history.Ring[heartbeatSlot]
	live       *types.BlockUpdate

	height        int64
	heightAt      time.Time
	lastBlockTime time.Time

	chains map[chainKey]types.ChainRecords

	stream          types.ConnectionState
	heartbeatStream types.ConnectionState

	lastGlobalPollID int64
	updatedAt        time.Time

	now func() time.Time
}

type chainKey struct {
	kind  types.RecordKind
	chain string
}

func New(blocks, heartbeats int) *Store {
	return &Store{
		blocks:     history.NewRing(blocks, blockSlot{Status: types.BlockNone}),
		heartbeats: history.NewRing(heartbeats, heartbeatSlot{Status: types.HeartbeatUnknown}),
		chains:     make(map[chainKey]types.ChainRecords),
		now:        time.Now,
	}
}

// ApplyBlock stores final updates in history; non-final ones only replace the live status.
func (s *Store) ApplyBlock(u types.BlockUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updatedAt = s.now()
	if !u.Final || !u.Status.IsFinal() {
		live := u
		s.live = &live
		return
	}
	s.blocks.Push(blockSlot{Height: u.Height, Status: u.Status})
	if s.live != nil && s.live.Height <= u.Height {
		s.live = nil
	}
}

// SetHeight records the newest block. The wall-clock change time only moves when
// the height actually increases.
func (s *Store) SetHeight(height int64, blockTime time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if height > s.height {
		s.height = height
		s.heightAt = s.now()
		s.lastBlockTime = blockTime
	}
}

// Height returns the newest height and when it was first seen.
func (s *Store) Height() (int64, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height, s.heightAt
}

// ApplyHeartbeat prepends a final period judgement.
func (s *Store) ApplyHeartbeat(u types.HeartbeatUpdate) {
	if !u.Final {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updatedAt = s.now()
	s.heartbeats.Push(heartbeatSlot{Period: u.Period, Status: u.Status, FoundAt: u.FoundAt})
}

// SetChainRecords replaces a chain's record list.
func (s *Store) SetChainRecords(rec types.ChainRecords) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updatedAt = s.now()
	s.chains[chainKey{rec.Kind, rec.Chain}] = copyRecords(rec)
}

// ChainRecords returns a copy of one chain's records.
func (s *Store) ChainRecords(kind types.RecordKind, chain string) (types.ChainRecords, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.chains[chainKey{kind, chain}]
	if !ok {
		return types.ChainRecords{}, false
	}
	return copyRecords(rec), true
}

func (s *Store) SetLastGlobalPollID(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastGlobalPollID = id
}

// SetStreamState updates the block/vote stream view.
func (s *Store) SetStreamState(connected bool, lastError string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stream = types.ConnectionState{Connected: connected, LastError: lastError}
}

// SetHeartbeatState updates the heartbeat connectivity view.
func (s *Store) SetHeartbeatState(connected bool, lastError string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeatStream = types.ConnectionState{Connected: connected, LastError: lastError}
}

// Snapshot is a deep copy of the store.
type Snapshot struct {
	Height           int64                   `json:"height"`
	HeightChangedAt  time.Time               `json:"height_changed_at"`
	LastBlockTime    time.Time               `json:"last_block_time"`
	Live             *types.BlockUpdate      `json:"live,omitempty"`
	Blocks           []types.BlockStatus     `json:"blocks"`
	BlockHeights     []int64                 `json:"block_heights"`
	Heartbeats       []types.HeartbeatStatus `json:"heartbeats"`
	HeartbeatPeriods []int64                 `json:"heartbeat_periods"`
	HeartbeatFoundAt []int64                 `json:"heartbeat_found_at"`
	EVM              []types.ChainRecords    `json:"evm"`
	AMPD             []types.ChainRecords    `json:"ampd"`
	Stream           types.ConnectionState   `json:"stream"`
	HeartbeatStream  types.ConnectionState   `json:"heartbeat_stream"`
	LastGlobalPollID int64                   `json:"last_global_poll_id"`
	UpdatedAt        time.Time               `json:"updated_at"`
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Height:           s.height,
		HeightChangedAt:  s.heightAt,
		LastBlockTime:    s.lastBlockTime,
		Stream:           s.stream,
		HeartbeatStream:  s.heartbeatStream,
		LastGlobalPollID: s.lastGlobalPollID,
		UpdatedAt:        s.updatedAt,
	}
	if s.live != nil {
		live := *s.live
		snap.Live = &live
	}

	blocks := s.blocks.Items()
	snap.Blocks = make([]types.BlockStatus, len(blocks))
	snap.BlockHeights = make([]int64, len(blocks))
	for i, b := range blocks {
		snap.Blocks[i] = b.Status
		snap.BlockHeights[i] = b.Height
	}

	hbs := s.heartbeats.Items()
	snap.Heartbeats = make([]types.HeartbeatStatus, len(hbs))
	snap.HeartbeatPeriods = make([]int64, len(hbs))
	snap.HeartbeatFoundAt = make([]int64, len(hbs))
	for i, h := range hbs {
		snap.Heartbeats[i] = h.Status
		snap.HeartbeatPeriods[i] = h.Period
		snap.HeartbeatFoundAt[i] = h.FoundAt
	}

	for k, rec := range s.chains {
		if k.kind == types.RecordEVMPoll {
			snap.EVM = append(snap.EVM, copyRecords(rec))
		} else {
			snap.AMPD = append(snap.AMPD, copyRecords(rec))
		}
	}
	sortRecords(snap.EVM)
	sortRecords(snap.AMPD)
	return snap
}

func sortRecords(recs []types.ChainRecords) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Chain != recs[j].Chain {
			return recs[i].Chain < recs[j].Chain
		}
		return recs[i].Kind < recs[j].Kind
	})
}

func copyRecords(rec types.ChainRecords) types.ChainRecords {
	out := types.ChainRecords{Kind: rec.Kind, Chain: rec.Chain}
	if rec.Polls != nil {
		out.Polls = append([]types.PollRecord(nil), rec.Polls...)
	}
	if rec.Ampd != nil {
		out.Ampd = append([]types.AmpdRecord(nil), rec.Ampd...)
	}
	return out
}
