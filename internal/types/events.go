// Package types holds the chain events and status records shared by the stream
// client, the trackers and the snapshot store.
package types

import (
	"strings"
	"time"
)

type EventKind string

const (
	KindNewBlock   EventKind = "NewBlock"
	KindVote       EventKind = "Vote"
	KindTx         EventKind = "Tx"
	KindResolution EventKind = "Resolution"
)

// Event is anything the processor loop can apply.
type Event interface {
	Kind() EventKind
}

// NewBlock is a committed block with the signatures of the previous height's commit.
type NewBlock struct {
	Height     int64
	Time       time.Time
	Proposer   string
	Signatures []string
}

func (NewBlock) Kind() EventKind { return KindNewBlock }

// HasSignature reports whether address appears among the last-commit signatures.
func (b NewBlock) HasSignature(address string) bool {
	for _, s := range b.Signatures {
		if SameAddress(s, address) {
			return true
		}
	}
	return false
}

// Vote is a single consensus vote. Type is 1 for prevote and 2 for precommit.
type Vote struct {
	Height           int64
	Round            int32
	Type             int
	ValidatorAddress string
}

func (Vote) Kind() EventKind { return KindVote }

// Attribute is one key/value pair of an ABCI event.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// TxEvent is an ABCI event emitted by a transaction.
type TxEvent struct {
	Type       string      `json:"type"`
	Attributes []Attribute `json:"attributes"`
}

// Attr returns the first value for key.
func (e TxEvent) Attr(key string) (string, bool) {
	for _, a := range e.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// Tx is a transaction result delivered by the event stream.
type Tx struct {
	Height   int64
	Hash     string
	Raw      []byte
	Log      string
	FeePayer string
	Events   []TxEvent
}

func (Tx) Kind() EventKind { return KindTx }

// EventsOfType returns the tx events whose type matches exactly.
func (t Tx) EventsOfType(eventType string) []TxEvent {
	var out []TxEvent
	for _, ev := range t.Events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// SameAddress compares hex consensus addresses and bech32 account addresses
// without regard to case or a 0x prefix.
func SameAddress(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(trim0x(a), trim0x(b))
}

func trim0x(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:]
	}
	return s
}
