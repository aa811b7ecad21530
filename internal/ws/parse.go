package ws

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"lecca.io/axelar-watchtower/internal/types"
)

const (
	eventNewBlock = "tendermint/event/NewBlock"
	eventVote     = "tendermint/event/Vote"
	eventTx       = "tendermint/event/Tx"
)

type rpcMessage struct {
	Result *struct {
		Query string `json:"query"`
		Data  struct {
			Type  string          `json:"type"`
			Value json.RawMessage `json:"value"`
		} `json:"data"`
		Events map[string][]string `json:"events"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    string `json:"data"`
	} `json:"error"`
}

type blockValue struct {
	Block struct {
		Header struct {
			Height          string    `json:"height"`
			Time            time.Time `json:"time"`
			ProposerAddress string    `json:"proposer_address"`
		} `json:"header"`
		LastCommit *struct {
			Signatures []struct {
				ValidatorAddress string `json:"validator_address"`
			} `json:"signatures"`
		} `json:"last_commit"`
	} `json:"block"`
}

type voteValue struct {
	Vote struct {
		Type             int    `json:"type"`
		Height           string `json:"height"`
		Round            int32  `json:"round"`
		ValidatorAddress string `json:"validator_address"`
	} `json:"Vote"`
}

type txValue struct {
	TxResult struct {
		Height string `json:"height"`
		Tx     string `json:"tx"`
		Result struct {
			Log    string          `json:"log"`
			Events []types.TxEvent `json:"events"`
		} `json:"result"`
	} `json:"TxResult"`
}

// ParseMessage decodes one websocket frame. Frames that carry no event, such as
// subscription acknowledgements, return a nil event and no error.
func ParseMessage(data []byte) (types.Event, error) {
	var msg rpcMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if msg.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s %s", msg.Error.Code, msg.Error.Message, msg.Error.Data)
	}
	if msg.Result == nil {
		return nil, nil
	}

	value := msg.Result.Data.Value
	switch msg.Result.Data.Type {
	case eventNewBlock:
		return parseBlock(value)
	case eventVote:
		return parseVote(value)
	case eventTx:
		return parseTx(value, msg.Result.Events)
	}
	return nil, nil
}

func parseBlock(raw json.RawMessage) (types.Event, error) {
	var v blockValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}
	height, err := strconv.ParseInt(v.Block.Header.Height, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("block height %q: %w", v.Block.Header.Height, err)
	}
	b := types.NewBlock{
		Height:   height,
		Time:     v.Block.Header.Time,
		Proposer: v.Block.Header.ProposerAddress,
	}
	if v.Block.LastCommit != nil {
		for _, s := range v.Block.LastCommit.Signatures {
			// absent votes carry an empty address
			if s.ValidatorAddress != "" {
				b.Signatures = append(b.Signatures, s.ValidatorAddress)
			}
		}
	}
	return b, nil
}

func parseVote(raw json.RawMessage) (types.Event, error) {
	var v voteValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode vote: %w", err)
	}
	height, err := strconv.ParseInt(v.Vote.Height, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("vote height %q: %w", v.Vote.Height, err)
	}
	return types.Vote{
		Height:           height,
		Round:            v.Vote.Round,
		Type:             v.Vote.Type,
		ValidatorAddress: v.Vote.ValidatorAddress,
	}, nil
}

func parseTx(raw json.RawMessage, events map[string][]string) (types.Event, error) {
	var v txValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode tx: %w", err)
	}
	height, err := strconv.ParseInt(v.TxResult.Height, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("tx height %q: %w", v.TxResult.Height, err)
	}
	tx := types.Tx{
		Height:   height,
		Hash:     first(events["tx.hash"]),
		FeePayer: first(events["tx.fee_payer"]),
		Log:      v.TxResult.Result.Log,
		Events:   v.TxResult.Result.Events,
	}
	if v.TxResult.Tx != "" {
		// keep the encoded form when it is not valid base64; markers are plain text either way
		if decoded, err := base64.StdEncoding.DecodeString(v.TxResult.Tx); err == nil {
			tx.Raw = decoded
		} else {
			tx.Raw = []byte(v.TxResult.Tx)
		}
	}
	return tx, nil
}

func first(v []string) string {
	if len(v) == 0 {
		return ""
	}
	return v[0]
}
