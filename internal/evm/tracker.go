// Package evm keeps per-chain histories of the EVM polls the broadcaster takes part in.
package evm

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"lecca.io/axelar-watchtower/internal/classifier"
	"lecca.io/axelar-watchtower/internal/history"
	"lecca.io/axelar-watchtower/internal/logger"
	"lecca.io/axelar-watchtower/internal/lookup"
	"lecca.io/axelar-watchtower/internal/types"
)

var (
	ErrNotFound        = errors.New("poll not found")
	ErrAlreadyResolved = errors.New("poll already resolved")
	ErrNoVote          = errors.New("no vote for poll in transaction")
)

const voteRequestType = "/axelar.vote.v1beta1.VoteRequest"

var placeholder = types.PollRecord{PollID: types.PlaceholderID, Result: types.ResultUnknown}

// Tracker owns the poll rings. It is driven only by the processor loop.
type Tracker struct {
	rings map[string]*history.Ring[types.PollRecord]
	names []string

	lastGlobalPollID int64
	gaps             int

	now func() time.Time
}

func NewTracker(chains []string, size int) *Tracker {
	t := &Tracker{
		rings: make(map[string]*history.Ring[types.PollRecord], len(chains)),
		now:   time.Now,
	}
	for _, c := range chains {
		if _, ok := t.rings[c]; ok {
			continue
		}
		t.rings[c] = history.NewRing(size, placeholder)
		t.names = append(t.names, c)
	}
	sort.Strings(t.names)
	return t
}

// Chains returns the tracked chains in name order.
func (t *Tracker) Chains() []string {
	return append([]string(nil), t.names...)
}

// LastGlobalPollID returns the highest poll id seen across all chains.
func (t *Tracker) LastGlobalPollID() int64 {
	return t.lastGlobalPollID
}

// Gaps returns how many times a new poll id did not follow the previous one.
func (t *Tracker) Gaps() int {
	return t.gaps
}

// Records returns a copy of the chain's ring, newest first.
func (t *Tracker) Records(chain string) types.ChainRecords {
	out := types.ChainRecords{Kind: types.RecordEVMPoll, Chain: chain}
	if r, ok := t.rings[chain]; ok {
		out.Polls = r.Items()
	}
	return out
}

// All returns every chain's records.
func (t *Tracker) All() []types.ChainRecords {
	out := make([]types.ChainRecords, 0, len(t.names))
	for _, c := range t.names {
		out = append(out, t.Records(c))
	}
	return out
}

// ApplyPollStarted inserts a new unsubmitted poll at the head of its chain's ring.
func (t *Tracker) ApplyPollStarted(m classifier.Match) (types.ChainRecords, bool) {
	ring, ok := t.rings[m.Chain]
	if !ok {
		return types.ChainRecords{}, false
	}
	if _, dup := ring.Find(func(p types.PollRecord) bool { return p.PollID == m.ID }); dup {
		logger.Debug("EVM", "Poll %s on %s already tracked", m.ID, m.Chain)
		return types.ChainRecords{}, false
	}

	t.trackGlobalID(m.ID)
	ring.Push(types.PollRecord{
		PollID:    m.ID,
		Result:    types.ResultUnsubmitted,
		SourceTx:  m.SourceTx,
		CreatedAt: t.now(),
	})
	logger.Info("EVM", "[%s] Poll %s started", m.Chain, m.ID)
	return t.Records(m.Chain), true
}

func (t *Tracker) trackGlobalID(id string) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return
	}
	if t.lastGlobalPollID != 0 && n != t.lastGlobalPollID+1 {
		t.gaps++
		logger.Warn("EVM", "Poll id sequence gap: last %d, new %d", t.lastGlobalPollID, n)
	}
	if n > t.lastGlobalPollID {
		t.lastGlobalPollID = n
	}
}

// UpdatePollStatus resolves an unsubmitted poll. The given chain is searched first,
// then every chain. The returned records belong to the chain the poll was found on.
func (t *Tracker) UpdatePollStatus(pollID, status, chain string) (types.ChainRecords, error) {
	order := make([]string, 0, len(t.names)+1)
	if c := t.chainName(chain); c != "" {
		order = append(order, c)
	}
	order = append(order, t.names...)

	for _, c := range order {
		var err error
		found := t.rings[c].UpdateFirst(func(p *types.PollRecord) bool {
			if p.IsPlaceholder() || p.PollID != pollID {
				return false
			}
			if p.Result != types.ResultUnsubmitted {
				err = ErrAlreadyResolved
				return true
			}
			p.Result = status
			return true
		})
		if !found {
			continue
		}
		if err != nil {
			logger.Debug("EVM", "[%s] Poll %s already resolved, ignoring %s", c, pollID, status)
			return types.ChainRecords{}, fmt.Errorf("poll %s on %s: %w", pollID, c, err)
		}
		logger.Info("EVM", "[%s] Poll %s %s", c, pollID, status)
		return t.Records(c), nil
	}
	return types.ChainRecords{}, fmt.Errorf("poll %s: %w", pollID, ErrNotFound)
}

func (t *Tracker) chainName(chain string) string {
	for _, c := range t.names {
		if strings.EqualFold(c, chain) {
			return c
		}
	}
	return ""
}

type voteRequest struct {
	PollID json.RawMessage `json:"poll_id"`
	Vote   struct {
		Chain  string `json:"chain"`
		Events []struct {
			Chain string `json:"chain"`
		} `json:"events"`
	} `json:"vote"`
}

// ResolveVote finds the broadcaster's vote for pollID in a fetched transaction. The
// vote is validated when one of its events targets the vote's own chain.
func ResolveVote(detail *lookup.TxDetail, pollID string) (status, chain string, err error) {
	if detail == nil {
		return "", "", ErrNoVote
	}
	for _, msg := range detail.Messages {
		if msg.Type != voteRequestType {
			continue
		}
		var req voteRequest
		if err := json.Unmarshal(msg.Body, &req); err != nil {
			logger.Debug("EVM", "Undecodable vote in tx %s: %v", detail.Hash, err)
			continue
		}
		if classifier.ExtractPollID(string(req.PollID)) != pollID {
			continue
		}
		status = types.ResultInvalid
		for _, ev := range req.Vote.Events {
			if ev.Chain != "" && strings.EqualFold(ev.Chain, req.Vote.Chain) {
				status = types.ResultValidated
				break
			}
		}
		return status, req.Vote.Chain, nil
	}
	return "", "", ErrNoVote
}
