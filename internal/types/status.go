package types

import "time"

// BlockStatus is the signing outcome for one height.
type BlockStatus int

const (
	BlockNone BlockStatus = iota
	BlockMissed
	BlockPrevote
	BlockPrecommit
	BlockSigned
	BlockProposed
)

func (s BlockStatus) String() string {
	switch s {
	case BlockMissed:
		return "missed"
	case BlockPrevote:
		return "prevote"
	case BlockPrecommit:
		return "precommit"
	case BlockSigned:
		return "signed"
	case BlockProposed:
		return "proposed"
	}
	return "none"
}

// IsFinal reports whether the status can be stored in history.
func (s BlockStatus) IsFinal() bool {
	return s == BlockMissed || s == BlockSigned || s == BlockProposed
}

func (s BlockStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// BlockUpdate is emitted by the signing tracker. Non-final updates are for live display only.
type BlockUpdate struct {
	Height int64       `json:"height"`
	Status BlockStatus `json:"status"`
	Final  bool        `json:"final"`
}

// HeartbeatStatus is the outcome of one heartbeat period.
type HeartbeatStatus int

const (
	HeartbeatUnknown HeartbeatStatus = iota
	HeartbeatMissed
	HeartbeatSigned
)

func (s HeartbeatStatus) String() string {
	switch s {
	case HeartbeatMissed:
		return "missed"
	case HeartbeatSigned:
		return "signed"
	}
	return "unknown"
}

func (s HeartbeatStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// HeartbeatUpdate is a final period judgement. FoundAt is zero unless Status is signed.
type HeartbeatUpdate struct {
	Period  int64           `json:"period"`
	Status  HeartbeatStatus `json:"status"`
	Final   bool            `json:"final"`
	FoundAt int64           `json:"found_at,omitempty"`
}

// PollResult values. EVM uses unknown/unsubmitted/validated/invalid; AMPD stores
// unsubmit, signed or the raw vote outcome reported by the contract.
const (
	ResultUnknown     = "unknown"
	ResultUnsubmitted = "unsubmitted"
	ResultValidated   = "validated"
	ResultInvalid     = "invalid"
	ResultUnsubmit    = "unsubmit"
	ResultSigned      = "signed"
)

// PlaceholderID marks ring slots that never held a real record.
const PlaceholderID = "unknown"

// PollRecord is an EVM poll the broadcaster participates in.
type PollRecord struct {
	PollID    string    `json:"poll_id"`
	Result    string    `json:"result"`
	SourceTx  string    `json:"source_tx,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// IsPlaceholder reports whether the slot holds no real poll.
func (p PollRecord) IsPlaceholder() bool {
	return p.PollID == PlaceholderID
}

// AmpdRecord is an AMPD poll or signing session the verifier participates in.
type AmpdRecord struct {
	ID              string    `json:"id"`
	ContractAddress string    `json:"contract_address"`
	Result          string    `json:"result"`
	CreatedAt       time.Time `json:"created_at"`
}

// IsPlaceholder reports whether the slot holds no real record.
func (r AmpdRecord) IsPlaceholder() bool {
	return r.ID == PlaceholderID
}

// RecordKind distinguishes the per-chain record lists.
type RecordKind string

const (
	RecordEVMPoll     RecordKind = "evm_poll"
	RecordAMPDPoll    RecordKind = "ampd_poll"
	RecordAMPDSigning RecordKind = "ampd_signing"
)

// ChainRecords carries a chain's full record list after a mutation.
// Exactly one of Polls or Ampd is set, depending on Kind.
type ChainRecords struct {
	Kind  RecordKind   `json:"kind"`
	Chain string       `json:"chain"`
	Polls []PollRecord `json:"polls,omitempty"`
	Ampd  []AmpdRecord `json:"ampd,omitempty"`
}

// ConnectionState describes one view of node connectivity.
type ConnectionState struct {
	Connected bool   `json:"connected"`
	LastError string `json:"last_error,omitempty"`
}
