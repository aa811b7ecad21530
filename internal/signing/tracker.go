// Package signing derives the per-height signing status of one validator from
// consensus votes and committed blocks.
package signing

import (
	"lecca.io/axelar-watchtower/internal/logger"
	"lecca.io/axelar-watchtower/internal/types"
)

const (
	votePrevote   = 1
	votePrecommit = 2
)

// Tracker is driven only by the processor loop and holds no locks.
type Tracker struct {
	address string
	// last live status per height, cleared once the block is final
	live map[int64]types.BlockStatus
}

// NewTracker tracks the validator's hex consensus address.
func NewTracker(address string) *Tracker {
	return &Tracker{
		address: address,
		live:    make(map[int64]types.BlockStatus),
	}
}

// ApplyVote returns a non-final update for the validator's own prevotes and precommits.
func (t *Tracker) ApplyVote(v types.Vote) (types.BlockUpdate, bool) {
	if !types.SameAddress(v.ValidatorAddress, t.address) {
		return types.BlockUpdate{}, false
	}
	var status types.BlockStatus
	switch v.Type {
	case votePrevote:
		status = types.BlockPrevote
	case votePrecommit:
		status = types.BlockPrecommit
	default:
		return types.BlockUpdate{}, false
	}
	// a late prevote must not downgrade a precommit already shown
	if prev, ok := t.live[v.Height]; ok && prev > status {
		return types.BlockUpdate{}, false
	}
	t.live[v.Height] = status
	return types.BlockUpdate{Height: v.Height, Status: status}, true
}

// ApplyBlock returns the final status for the block's height.
func (t *Tracker) ApplyBlock(b types.NewBlock) types.BlockUpdate {
	status := types.BlockMissed
	switch {
	case types.SameAddress(b.Proposer, t.address):
		status = types.BlockProposed
	case b.HasSignature(t.address):
		status = types.BlockSigned
	}

	for h := range t.live {
		if h <= b.Height {
			delete(t.live, h)
		}
	}
	if status == types.BlockMissed {
		logger.Warn("SIGN", "Block #%d missed", b.Height)
	} else {
		logger.Debug("SIGN", "Block #%d %s", b.Height, status)
	}
	return types.BlockUpdate{Height: b.Height, Status: status, Final: true}
}
