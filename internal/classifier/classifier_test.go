package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lecca.io/axelar-watchtower/internal/types"
)

const (
	broadcaster = "axelar1broadcaster"
	verifier    = "axelar1verifier"
	contract    = "axelar1votingverifierflow"
)

func attrs(kv ...string) []types.Attribute {
	out := make([]types.Attribute, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, types.Attribute{Key: kv[i], Value: kv[i+1]})
	}
	return out
}

func TestIsHeartbeat(t *testing.T) {
	raw := []byte("...axelar.reward.v1beta1.RefundMsgRequest...axelar.tss.v1beta1.HeartBeatRequest..." + broadcaster)
	assert.True(t, IsHeartbeat(types.Tx{Raw: raw}, broadcaster))
	assert.False(t, IsHeartbeat(types.Tx{Raw: raw}, "axelar1other"))
	assert.False(t, IsHeartbeat(types.Tx{Raw: []byte("HeartBeatRequest " + broadcaster)}, broadcaster))

	log := `[{"events":[{"type":"message","attributes":[{"key":"action","value":"RefundMsgRequest"},{"key":"inner","value":"HeartBeatRequest"},{"key":"sender","value":"` + broadcaster + `"}]}]}]`
	assert.True(t, IsHeartbeat(types.Tx{Log: log}, broadcaster))
}

func TestEVMPollsStartedFromEvents(t *testing.T) {
	tx := types.Tx{
		Hash:   "ABC",
		Height: 10,
		Events: []types.TxEvent{{
			Type: "axelar.evm.v1beta1.ConfirmDepositStarted",
			Attributes: attrs(
				"chain", `"Ethereum"`,
				"poll_id", `"\"41\""`,
				"tx_id", `"0xAABBCCDDEEFF00112233445566778899AABBCCDDEEFF00112233445566778899"`,
			),
		}},
	}
	got := EVMPollsStarted(tx, []string{"ethereum", "polygon"})
	require.Len(t, got, 1)
	assert.Equal(t, EVMPollStarted, got[0].Kind)
	assert.Equal(t, "41", got[0].ID)
	assert.Equal(t, "ethereum", got[0].Chain)
	assert.Equal(t, "0xaabbccddeeff00112233445566778899aabbccddeeff00112233445566778899", got[0].SourceTx)
	assert.Equal(t, int64(10), got[0].Height)
}

func TestEVMPollsStartedUnsupportedChain(t *testing.T) {
	tx := types.Tx{Events: []types.TxEvent{{
		Type:       "axelar.evm.v1beta1.ConfirmDepositStarted",
		Attributes: attrs("chain", `"Avalanche"`, "poll_id", `"7"`),
	}}}
	assert.Empty(t, EVMPollsStarted(tx, []string{"ethereum"}))
}

func TestEVMPollsStartedPollMappings(t *testing.T) {
	tx := types.Tx{Events: []types.TxEvent{{
		Type: "axelar.evm.v1beta1.ConfirmGatewayTxsStarted",
		Attributes: attrs(
			"chain", `"Polygon"`,
			"poll_mappings", `[{"tx_id":"0x01","poll_id":"100"},{"tx_id":"0x02","poll_id":"101"}]`,
		),
	}}}
	got := EVMPollsStarted(tx, []string{"Polygon"})
	require.Len(t, got, 2)
	assert.Equal(t, "100", got[0].ID)
	assert.Equal(t, "101", got[1].ID)
	assert.Equal(t, "", got[0].SourceTx, "short ids are not source hashes")
}

func TestEVMPollsStartedFromJSONLog(t *testing.T) {
	log := `[{"msg_index":0,"events":[{"type":"axelar.evm.v1beta1.ConfirmKeyTransferStarted","attributes":[{"key":"chain","value":"\"Fantom\""},{"key":"poll_id","value":"\"55\""}]}]}]`
	got := EVMPollsStarted(types.Tx{Log: log}, []string{"fantom"})
	require.Len(t, got, 1)
	assert.Equal(t, "55", got[0].ID)
	assert.Equal(t, "fantom", got[0].Chain)
}

func TestEVMPollsStartedRegexFallback(t *testing.T) {
	log := `failed to parse: {"chain":"Moonbeam", "poll_id":"\"88\""`
	got := EVMPollsStarted(types.Tx{Log: log}, []string{"moonbeam"})
	require.Len(t, got, 1)
	assert.Equal(t, "88", got[0].ID)
	assert.Equal(t, "moonbeam", got[0].Chain)
}

func TestEVMVotes(t *testing.T) {
	tx := types.Tx{Events: []types.TxEvent{
		{Type: "axelar.vote.v1beta1.Voted", Attributes: attrs("voter", `"`+broadcaster+`"`, "poll", `{"id":"42"}`)},
		{Type: "axelar.vote.v1beta1.Voted", Attributes: attrs("voter", `"axelar1other"`, "poll", `"43"`)},
	}}
	got := EVMVotes(tx, broadcaster)
	require.Len(t, got, 1)
	assert.Equal(t, EVMVoteCast, got[0].Kind)
	assert.Equal(t, "42", got[0].ID)
}

func ampdParams() Params {
	return Params{
		AmpdAddress:   verifier,
		AmpdPubKey:    "02abcdef",
		AmpdChains:    []string{"flow", "sui"},
		AmpdContracts: map[string]string{contract: "flow", "axelar1multisigsui": "sui"},
	}
}

func TestAMPDPollsStarted(t *testing.T) {
	tx := types.Tx{Events: []types.TxEvent{
		{Type: "wasm-messages_poll_started", Attributes: attrs(
			"_contract_address", contract,
			"poll_id", `"12"`,
			"participants", `["axelar1a","`+verifier+`"]`,
			"messages", `[{"tx_id":"0x1","source_chain":"flow"}]`,
		)},
		{Type: "wasm-verifier_set_poll_started", Attributes: attrs(
			"_contract_address", contract,
			"poll_id", `"13"`,
			"participants", `["axelar1a"]`,
		)},
	}}
	got := AMPDPollsStarted(tx, ampdParams())
	require.Len(t, got, 1)
	assert.Equal(t, "12", got[0].ID)
	assert.Equal(t, "flow", got[0].Chain)
	assert.Equal(t, contract, got[0].Contract)
}

func TestAMPDPollsStartedContractFallback(t *testing.T) {
	tx := types.Tx{Events: []types.TxEvent{{Type: "wasm-verifier_set_poll_started", Attributes: attrs(
		"_contract_address", contract,
		"poll_id", `"14"`,
		"participants", `["`+verifier+`"]`,
	)}}}
	got := AMPDPollsStarted(tx, ampdParams())
	require.Len(t, got, 1)
	assert.Equal(t, "flow", got[0].Chain)
}

func TestAMPDSigningsStarted(t *testing.T) {
	tx := types.Tx{Events: []types.TxEvent{
		{Type: "wasm-signing_started", Attributes: attrs(
			"_contract_address", "axelar1multisig",
			"session_id", `"900"`,
			"chain_name", `"sui"`,
			"pub_keys", `{"`+verifier+`":{"ecdsa":"02abcdef"}}`,
		)},
		{Type: "wasm-signing_started", Attributes: attrs(
			"_contract_address", "axelar1multisig",
			"session_id", `"901"`,
			"chain_name", `"sui"`,
			"pub_keys", `{"axelar1other":{"ecdsa":"03ffff"}}`,
		)},
	}}
	got := AMPDSigningsStarted(tx, ampdParams())
	require.Len(t, got, 1)
	assert.Equal(t, "900", got[0].ID)
	assert.Equal(t, "sui", got[0].Chain)
}

func TestAMPDSubmissionsFeePayerGate(t *testing.T) {
	events := []types.TxEvent{
		{Type: "wasm-voted", Attributes: attrs("_contract_address", contract, "poll_id", `"12"`, "voter", verifier)},
		{Type: "wasm-signature_submitted", Attributes: attrs("_contract_address", "axelar1multisigsui", "session_id", `"900"`, "participant", verifier)},
	}

	got := AMPDSubmissions(types.Tx{FeePayer: verifier, Events: events}, ampdParams())
	require.Len(t, got, 2)
	assert.Equal(t, AMPDVoteSubmitted, got[0].Kind)
	assert.Equal(t, "12", got[0].ID)
	assert.Equal(t, "flow", got[0].Chain)
	assert.Equal(t, AMPDSignatureSubmitted, got[1].Kind)
	assert.Equal(t, "900", got[1].ID)

	assert.Empty(t, AMPDSubmissions(types.Tx{FeePayer: "axelar1relayer", Events: events}, ampdParams()))
}

func TestClassifyCombines(t *testing.T) {
	tx := types.Tx{
		Raw: []byte("RefundMsgRequest HeartBeatRequest " + broadcaster),
		Events: []types.TxEvent{
			{Type: "axelar.vote.v1beta1.Voted", Attributes: attrs("voter", broadcaster, "poll", `"5"`)},
		},
	}
	got := Classify(tx, Params{Broadcaster: broadcaster, EVMChains: []string{"ethereum"}})
	require.Len(t, got, 2)
	assert.Equal(t, Heartbeat, got[0].Kind)
	assert.Equal(t, EVMVoteCast, got[1].Kind)

	assert.Empty(t, Classify(tx, Params{}))
}

func TestExtractPollID(t *testing.T) {
	cases := map[string]string{
		`12`:              "12",
		`"12"`:            "12",
		`"\"12\""`:        "12",
		`{"id":"33"}`:     "33",
		`{"poll_id":34}`:  "34",
		`poll 77 started`: "77",
		``:                "",
		`"none"`:          "",
	}
	for in, want := range cases {
		assert.Equal(t, want, ExtractPollID(in), in)
	}
}
