// Package classifier turns raw transaction events into tagged matches. Every function
// here is pure: no I/O, no state, so trackers only ever see structured variants.
package classifier

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"lecca.io/axelar-watchtower/internal/types"
)

type Kind int

const (
	NoMatch Kind = iota
	Heartbeat
	EVMPollStarted
	EVMVoteCast
	AMPDPollStarted
	AMPDSigningStarted
	AMPDVoteSubmitted
	AMPDSignatureSubmitted
)

func (k Kind) String() string {
	switch k {
	case Heartbeat:
		return "heartbeat"
	case EVMPollStarted:
		return "evm_poll_started"
	case EVMVoteCast:
		return "evm_vote_cast"
	case AMPDPollStarted:
		return "ampd_poll_started"
	case AMPDSigningStarted:
		return "ampd_signing_started"
	case AMPDVoteSubmitted:
		return "ampd_vote_submitted"
	case AMPDSignatureSubmitted:
		return "ampd_signature_submitted"
	}
	return "no_match"
}

// Match is one recognized marker inside a transaction.
type Match struct {
	Kind     Kind
	ID       string // poll id or signing session id
	Chain    string
	Contract string
	SourceTx string // EVM source transaction hash, when the poll carries one
	TxHash   string
	Height   int64
}

// Params are the identities and chain lists the markers are matched against.
type Params struct {
	Broadcaster string
	AmpdAddress string
	AmpdPubKey  string
	EVMChains   []string
	// AmpdContracts maps contract address to chain name, for events that omit the chain.
	AmpdContracts map[string]string
	AmpdChains    []string
}

const (
	refundMsgType    = "RefundMsgRequest"
	heartbeatMsgType = "HeartBeatRequest"

	evmEventPrefix   = "axelar.evm.v1beta1."
	evmVotedEvent    = "axelar.vote.v1beta1.Voted"
	ampdMessagesPoll = "wasm-messages_poll_started"
	ampdVerifierPoll = "wasm-verifier_set_poll_started"
	ampdSigning      = "wasm-signing_started"
	ampdVoted        = "wasm-voted"
	ampdSigSubmitted = "wasm-signature_submitted"
	contractAttr     = "_contract_address"
)

var (
	pollIDPattern = regexp.MustCompile(`poll_id[^0-9]{0,20}([0-9]+)`)
	chainPattern  = regexp.MustCompile(`"chain"[^A-Za-z]{0,4}(?:value[^A-Za-z]{0,6})?([A-Za-z][A-Za-z0-9_-]*)`)
	digitsPattern = regexp.MustCompile(`\d+`)
)

// Classify returns every match in tx for the given identities.
func Classify(tx types.Tx, p Params) []Match {
	var out []Match
	if p.Broadcaster != "" {
		if IsHeartbeat(tx, p.Broadcaster) {
			out = append(out, Match{Kind: Heartbeat, TxHash: tx.Hash, Height: tx.Height})
		}
		if len(p.EVMChains) > 0 {
			out = append(out, EVMPollsStarted(tx, p.EVMChains)...)
			out = append(out, EVMVotes(tx, p.Broadcaster)...)
		}
	}
	if p.AmpdAddress != "" {
		out = append(out, AMPDPollsStarted(tx, p)...)
		out = append(out, AMPDSigningsStarted(tx, p)...)
		out = append(out, AMPDSubmissions(tx, p)...)
	}
	return out
}

// IsHeartbeat reports whether tx is a refund-wrapped heartbeat sent by broadcaster.
func IsHeartbeat(tx types.Tx, broadcaster string) bool {
	if broadcaster == "" {
		return false
	}
	if containsAll(tx.Raw, refundMsgType, heartbeatMsgType, broadcaster) {
		return true
	}
	return containsAll([]byte(tx.Log), refundMsgType, heartbeatMsgType, broadcaster)
}

func containsAll(b []byte, parts ...string) bool {
	if len(b) == 0 {
		return false
	}
	for _, p := range parts {
		if !bytes.Contains(b, []byte(p)) {
			return false
		}
	}
	return true
}

// EVMPollsStarted finds poll creation markers for supported chains.
func EVMPollsStarted(tx types.Tx, chains []string) []Match {
	var out []Match
	seen := make(map[string]bool)
	add := func(id, chain, sourceTx string) {
		chain = knownChain(chain, chains)
		if id == "" || chain == "" || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, Match{Kind: EVMPollStarted, ID: id, Chain: chain, SourceTx: sourceTx, TxHash: tx.Hash, Height: tx.Height})
	}

	scan := func(events []types.TxEvent) {
		for _, ev := range events {
			if !strings.HasPrefix(ev.Type, evmEventPrefix) {
				continue
			}
			chain, _ := ev.Attr("chain")
			chain = unquote(chain)
			if raw, ok := ev.Attr("poll_mappings"); ok {
				for _, m := range parsePollMappings(raw) {
					add(m.PollID, chain, normalizeTxID(m.TxID))
				}
				continue
			}
			if raw, ok := ev.Attr("poll_id"); ok {
				txID, _ := ev.Attr("tx_id")
				add(ExtractPollID(raw), chain, normalizeTxID(txID))
			}
		}
	}

	scan(tx.Events)
	if len(out) > 0 || tx.Log == "" || !strings.Contains(tx.Log, "poll_id") {
		return out
	}

	if events, ok := parseLogEvents(tx.Log); ok {
		scan(events)
		if len(out) > 0 {
			return out
		}
	}

	// Unstructured or unexpected log: fall back to pattern matching.
	m := pollIDPattern.FindStringSubmatch(tx.Log)
	c := chainPattern.FindStringSubmatch(tx.Log)
	if m != nil && c != nil {
		add(m[1], c[1], "")
	}
	return out
}

// EVMVotes finds vote-cast markers sent by broadcaster.
func EVMVotes(tx types.Tx, broadcaster string) []Match {
	var out []Match
	for _, ev := range tx.EventsOfType(evmVotedEvent) {
		voter, _ := ev.Attr("voter")
		if !types.SameAddress(unquote(voter), broadcaster) {
			continue
		}
		raw, ok := ev.Attr("poll")
		if !ok {
			raw, _ = ev.Attr("poll_id")
		}
		id := ExtractPollID(raw)
		if id == "" {
			continue
		}
		out = append(out, Match{Kind: EVMVoteCast, ID: id, TxHash: tx.Hash, Height: tx.Height})
	}
	return out
}

// AMPDPollsStarted finds amplifier polls that list the verifier as participant.
func AMPDPollsStarted(tx types.Tx, p Params) []Match {
	var out []Match
	for _, ev := range tx.Events {
		if ev.Type != ampdMessagesPoll && ev.Type != ampdVerifierPoll {
			continue
		}
		participants, _ := ev.Attr("participants")
		if !containsAddress(parseStringList(participants), p.AmpdAddress) {
			continue
		}
		rawID, _ := ev.Attr("poll_id")
		id := ExtractPollID(rawID)
		contract, _ := ev.Attr(contractAttr)
		chain := ampdPollChain(ev, contract, p)
		if id == "" || chain == "" {
			continue
		}
		out = append(out, Match{Kind: AMPDPollStarted, ID: id, Chain: chain, Contract: contract, TxHash: tx.Hash, Height: tx.Height})
	}
	return out
}

// AMPDSigningsStarted finds signing sessions that include the verifier's key.
func AMPDSigningsStarted(tx types.Tx, p Params) []Match {
	var out []Match
	for _, ev := range tx.EventsOfType(ampdSigning) {
		pubKeys, _ := ev.Attr("pub_keys")
		if !hasPubKey(pubKeys, p.AmpdAddress, p.AmpdPubKey) {
			continue
		}
		rawID, _ := ev.Attr("session_id")
		id := ExtractPollID(rawID)
		contract, _ := ev.Attr(contractAttr)
		chainName, _ := ev.Attr("chain_name")
		chain := knownChain(unquote(chainName), p.AmpdChains)
		if chain == "" {
			chain = p.AmpdContracts[contract]
		}
		if id == "" || chain == "" {
			continue
		}
		out = append(out, Match{Kind: AMPDSigningStarted, ID: id, Chain: chain, Contract: contract, TxHash: tx.Hash, Height: tx.Height})
	}
	return out
}

// AMPDSubmissions finds votes and signatures paid for by the verifier.
func AMPDSubmissions(tx types.Tx, p Params) []Match {
	var out []Match
	for _, ev := range tx.Events {
		var kind Kind
		var idKey, senderKey string
		switch ev.Type {
		case ampdVoted:
			kind, idKey, senderKey = AMPDVoteSubmitted, "poll_id", "voter"
		case ampdSigSubmitted:
			kind, idKey, senderKey = AMPDSignatureSubmitted, "session_id", "participant"
		default:
			continue
		}
		if !paidBy(tx, ev, senderKey, p.AmpdAddress) {
			continue
		}
		rawID, _ := ev.Attr(idKey)
		id := ExtractPollID(rawID)
		contract, _ := ev.Attr(contractAttr)
		if id == "" || contract == "" {
			continue
		}
		out = append(out, Match{Kind: kind, ID: id, Contract: contract, Chain: p.AmpdContracts[contract], TxHash: tx.Hash, Height: tx.Height})
	}
	return out
}

// paidBy gates on the fee payer; the sender attribute is consulted only when the
// stream did not carry a fee payer.
func paidBy(tx types.Tx, ev types.TxEvent, senderKey, address string) bool {
	if tx.FeePayer != "" {
		return types.SameAddress(tx.FeePayer, address)
	}
	sender, _ := ev.Attr(senderKey)
	return types.SameAddress(unquote(sender), address)
}

func ampdPollChain(ev types.TxEvent, contract string, p Params) string {
	if raw, ok := ev.Attr("source_chain"); ok {
		if c := knownChain(unquote(raw), p.AmpdChains); c != "" {
			return c
		}
	}
	if raw, ok := ev.Attr("messages"); ok {
		var msgs []struct {
			SourceChain string `json:"source_chain"`
		}
		if json.Unmarshal([]byte(raw), &msgs) == nil && len(msgs) > 0 {
			if c := knownChain(msgs[0].SourceChain, p.AmpdChains); c != "" {
				return c
			}
		}
	}
	return p.AmpdContracts[contract]
}

// ExtractPollID reads an id from an attribute value. Accepted forms: 12, "12",
// "\"12\"", {"id":"12"}, {"poll_id":12}; anything else falls back to the first digit run.
func ExtractPollID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		if id := idFromJSON(v); id != "" {
			return id
		}
	}
	return digitsPattern.FindString(raw)
}

func idFromJSON(v interface{}) string {
	switch t := v.(type) {
	case string:
		return ExtractPollID(t)
	case float64:
		return strconv.FormatInt(int64(t), 10)
	case map[string]interface{}:
		for _, k := range []string{"poll_id", "id", "session_id"} {
			if inner, ok := t[k]; ok {
				return idFromJSON(inner)
			}
		}
	}
	return ""
}

type pollMapping struct {
	PollID string `json:"poll_id"`
	TxID   string `json:"tx_id"`
}

func parsePollMappings(raw string) []pollMapping {
	var generic []map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return nil
	}
	out := make([]pollMapping, 0, len(generic))
	for _, g := range generic {
		m := pollMapping{PollID: idFromJSON(g["poll_id"])}
		if s, ok := g["tx_id"].(string); ok {
			m.TxID = s
		}
		out = append(out, m)
	}
	return out
}

type logEntry struct {
	Events []types.TxEvent `json:"events"`
}

func parseLogEvents(log string) ([]types.TxEvent, bool) {
	var entries []logEntry
	if err := json.Unmarshal([]byte(log), &entries); err != nil {
		return nil, false
	}
	var events []types.TxEvent
	for _, e := range entries {
		events = append(events, e.Events...)
	}
	return events, true
}

// normalizeTxID returns a 0x-prefixed lowercase hash or "" when raw is not a 32-byte hex value.
func normalizeTxID(raw string) string {
	raw = unquote(raw)
	if raw == "" {
		return ""
	}
	if !strings.HasPrefix(raw, "0x") {
		raw = "0x" + raw
	}
	b, err := hexutil.Decode(raw)
	if err != nil || len(b) != common.HashLength {
		return ""
	}
	return common.BytesToHash(b).Hex()
}

func parseStringList(raw string) []string {
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil
	}
	return list
}

func containsAddress(list []string, address string) bool {
	for _, a := range list {
		if types.SameAddress(a, address) {
			return true
		}
	}
	return false
}

// hasPubKey accepts pub_keys as a JSON object keyed by verifier address, or any
// payload that contains the configured public key.
func hasPubKey(raw, address, pubKey string) bool {
	if raw == "" {
		return false
	}
	var keyed map[string]json.RawMessage
	if json.Unmarshal([]byte(raw), &keyed) == nil {
		for k := range keyed {
			if types.SameAddress(k, address) {
				return true
			}
		}
	}
	return pubKey != "" && strings.Contains(strings.ToLower(raw), strings.ToLower(pubKey))
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	var out string
	if strings.HasPrefix(s, `"`) && json.Unmarshal([]byte(s), &out) == nil {
		return out
	}
	return strings.Trim(s, `"`)
}

// knownChain returns the configured spelling of chain, or "" if it is not configured.
// An empty list accepts any chain.
func knownChain(chain string, chains []string) string {
	if chain == "" {
		return ""
	}
	if len(chains) == 0 {
		return chain
	}
	for _, c := range chains {
		if strings.EqualFold(c, chain) {
			return c
		}
	}
	return ""
}
