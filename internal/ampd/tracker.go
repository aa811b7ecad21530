// Package ampd keeps per-chain histories of amplifier polls and signing sessions the
// verifier takes part in.
package ampd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"lecca.io/axelar-watchtower/internal/classifier"
	"lecca.io/axelar-watchtower/internal/history"
	"lecca.io/axelar-watchtower/internal/logger"
	"lecca.io/axelar-watchtower/internal/lookup"
	"lecca.io/axelar-watchtower/internal/types"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrAlreadyResolved = errors.New("record already resolved")
	ErrNoVote          = errors.New("no vote for poll in transaction")
)

// ResultMixed is recorded when one vote message carries differing per-message outcomes.
const ResultMixed = "mixed"

const executeContractType = "/cosmwasm.wasm.v1.MsgExecuteContract"

var placeholder = types.AmpdRecord{ID: types.PlaceholderID, Result: types.ResultUnknown}

type rings map[string]*history.Ring[types.AmpdRecord]

// Tracker owns the poll and signing rings. It is driven only by the processor loop.
type Tracker struct {
	polls    rings
	signings rings
	names    []string

	now func() time.Time
}

func NewTracker(chains []string, size int) *Tracker {
	t := &Tracker{
		polls:    make(rings, len(chains)),
		signings: make(rings, len(chains)),
		now:      time.Now,
	}
	for _, c := range chains {
		if _, ok := t.polls[c]; ok {
			continue
		}
		t.polls[c] = history.NewRing(size, placeholder)
		t.signings[c] = history.NewRing(size, placeholder)
		t.names = append(t.names, c)
	}
	sort.Strings(t.names)
	return t
}

func (t *Tracker) Chains() []string {
	return append([]string(nil), t.names...)
}

func (t *Tracker) ringsOf(kind types.RecordKind) rings {
	if kind == types.RecordAMPDSigning {
		return t.signings
	}
	return t.polls
}

// Records returns a copy of one chain's polls or signings, newest first.
func (t *Tracker) Records(kind types.RecordKind, chain string) types.ChainRecords {
	out := types.ChainRecords{Kind: kind, Chain: chain}
	if r, ok := t.ringsOf(kind)[chain]; ok {
		out.Ampd = r.Items()
	}
	return out
}

// All returns polls and signings for every chain.
func (t *Tracker) All() []types.ChainRecords {
	out := make([]types.ChainRecords, 0, 2*len(t.names))
	for _, c := range t.names {
		out = append(out, t.Records(types.RecordAMPDPoll, c), t.Records(types.RecordAMPDSigning, c))
	}
	return out
}

// Apply folds a classifier match into the rings. Vote submissions are not handled
// here because their outcome needs a detail fetch; see ApplyVoteResult.
func (t *Tracker) Apply(m classifier.Match) (types.ChainRecords, error) {
	switch m.Kind {
	case classifier.AMPDPollStarted:
		return t.start(types.RecordAMPDPoll, m)
	case classifier.AMPDSigningStarted:
		return t.start(types.RecordAMPDSigning, m)
	case classifier.AMPDSignatureSubmitted:
		return t.resolve(types.RecordAMPDSigning, m.ID, m.Contract, m.Chain, types.ResultSigned)
	}
	return types.ChainRecords{}, fmt.Errorf("unexpected match %s", m.Kind)
}

func (t *Tracker) start(kind types.RecordKind, m classifier.Match) (types.ChainRecords, error) {
	ring, ok := t.ringsOf(kind)[m.Chain]
	if !ok {
		return types.ChainRecords{}, fmt.Errorf("%s %s: chain %q not tracked", kind, m.ID, m.Chain)
	}
	if _, dup := ring.Find(func(r types.AmpdRecord) bool { return r.ID == m.ID && r.ContractAddress == m.Contract }); dup {
		return types.ChainRecords{}, fmt.Errorf("%s %s on %s: already tracked", kind, m.ID, m.Chain)
	}
	ring.Push(types.AmpdRecord{
		ID:              m.ID,
		ContractAddress: m.Contract,
		Result:          types.ResultUnsubmit,
		CreatedAt:       t.now(),
	})
	logger.Info("AMPD", "[%s] %s %s started", m.Chain, label(kind), m.ID)
	return t.Records(kind, m.Chain), nil
}

// ApplyVoteResult records the verifier's vote outcome for a poll.
func (t *Tracker) ApplyVoteResult(pollID, contract, chain, result string) (types.ChainRecords, error) {
	return t.resolve(types.RecordAMPDPoll, pollID, contract, chain, result)
}

// resolve moves the record matching id and contract out of unsubmit. The hinted
// chain is searched first, then every chain.
func (t *Tracker) resolve(kind types.RecordKind, id, contract, chain, result string) (types.ChainRecords, error) {
	rs := t.ringsOf(kind)
	order := make([]string, 0, len(t.names)+1)
	if _, ok := rs[chain]; ok {
		order = append(order, chain)
	}
	order = append(order, t.names...)

	for _, c := range order {
		var err error
		found := rs[c].UpdateFirst(func(r *types.AmpdRecord) bool {
			if r.IsPlaceholder() || r.ID != id || r.ContractAddress != contract {
				return false
			}
			if r.Result != types.ResultUnsubmit {
				err = ErrAlreadyResolved
				return true
			}
			r.Result = result
			return true
		})
		if !found {
			continue
		}
		if err != nil {
			logger.Warn("AMPD", "[%s] %s %s already resolved, ignoring %s", c, label(kind), id, result)
			return types.ChainRecords{}, fmt.Errorf("%s %s: %w", kind, id, err)
		}
		logger.Info("AMPD", "[%s] %s %s -> %s", c, label(kind), id, result)
		return t.Records(kind, c), nil
	}
	return types.ChainRecords{}, fmt.Errorf("%s %s at %s: %w", kind, id, contract, ErrNotFound)
}

func label(kind types.RecordKind) string {
	if kind == types.RecordAMPDSigning {
		return "Signing"
	}
	return "Poll"
}

type executeContract struct {
	Contract string `json:"contract"`
	Msg      struct {
		Vote *struct {
			PollID json.RawMessage   `json:"poll_id"`
			Votes  []json.RawMessage `json:"votes"`
		} `json:"vote"`
	} `json:"msg"`
}

// ResolveVote reads the verifier's vote for pollID on contract from a fetched
// transaction. Identical per-message votes collapse to that value; differing ones
// are reported as ResultMixed.
func ResolveVote(detail *lookup.TxDetail, pollID, contract string) (string, error) {
	if detail == nil {
		return "", ErrNoVote
	}
	for _, msg := range detail.Messages {
		if msg.Type != executeContractType {
			continue
		}
		var exec executeContract
		if err := json.Unmarshal(msg.Body, &exec); err != nil || exec.Msg.Vote == nil {
			continue
		}
		if exec.Contract != contract || classifier.ExtractPollID(string(exec.Msg.Vote.PollID)) != pollID {
			continue
		}
		return summarize(exec.Msg.Vote.Votes), nil
	}
	return "", ErrNoVote
}

func summarize(votes []json.RawMessage) string {
	if len(votes) == 0 {
		return types.ResultUnknown
	}
	first := voteName(votes[0])
	for _, v := range votes[1:] {
		if voteName(v) != first {
			return ResultMixed
		}
	}
	return first
}

// voteName accepts a plain string vote or a single-key object such as {"succeeded_on_chain":{}}.
func voteName(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj map[string]json.RawMessage
	if json.Unmarshal(raw, &obj) == nil && len(obj) == 1 {
		for k := range obj {
			return k
		}
	}
	return string(bytes.TrimSpace(raw))
}
