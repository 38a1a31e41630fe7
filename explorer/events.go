package explorer

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind identifies one of the three position event signatures.
type EventKind string

const (
	EventIncreaseLiquidity EventKind = "INCREASE_LIQUIDITY"
	EventDecreaseLiquidity EventKind = "DECREASE_LIQUIDITY"
	EventCollect           EventKind = "COLLECT"
)

// Position-manager event topics (keccak256 of the event signatures).
var (
	TopicIncreaseLiquidity = common.HexToHash("0x3067048beee31b25b2f1681f88dac838c8bba36af25bfb2b7cf7473a5847e35f")
	TopicDecreaseLiquidity = common.HexToHash("0x26f6a048ee9138f2c0ce266f322cb99228e8d619ae2bff30c67f8dcf9d2377b4")
	TopicCollect           = common.HexToHash("0x40d0efd1a53d60ecbf40971b9daf7dc90178c3aadc7aab1765632738fa8b8f01")
)

// AllEventKinds lists the kinds fetched by default.
var AllEventKinds = []EventKind{EventIncreaseLiquidity, EventDecreaseLiquidity, EventCollect}

// Topic returns the topic0 value for the kind.
func (k EventKind) Topic() common.Hash {
	switch k {
	case EventIncreaseLiquidity:
		return TopicIncreaseLiquidity
	case EventDecreaseLiquidity:
		return TopicDecreaseLiquidity
	case EventCollect:
		return TopicCollect
	}
	return common.Hash{}
}

// RawLog is one row of the explorer's log response.
type RawLog struct {
	Address          string   `json:"address"`
	Topics           []string `json:"topics"`
	Data             string   `json:"data"`
	BlockNumber      string   `json:"blockNumber"`
	BlockHash        string   `json:"blockHash"`
	TimeStamp        string   `json:"timeStamp"`
	GasPrice         string   `json:"gasPrice"`
	GasUsed          string   `json:"gasUsed"`
	LogIndex         string   `json:"logIndex"`
	TransactionHash  string   `json:"transactionHash"`
	TransactionIndex string   `json:"transactionIndex"`
}

// PositionEvent is one decoded position-manager event.
type PositionEvent struct {
	Kind    EventKind
	TokenID *big.Int

	// Liquidity is set for increase/decrease events.
	Liquidity *big.Int
	Amount0   *big.Int
	Amount1   *big.Int
	// Recipient is set for collect events.
	Recipient common.Address

	BlockNumber uint64
	TxIndex     uint32
	LogIndex    uint32
	TxHash      common.Hash
	Timestamp   time.Time
}

// dedupeKey identifies one on-chain log occurrence.
func (e *PositionEvent) dedupeKey() string {
	return fmt.Sprintf("%s-%d", strings.ToLower(e.TxHash.Hex()), e.LogIndex)
}

// ParsePositionLog decodes one raw log row into a PositionEvent.
//
// The data payload is split into 32-byte big-endian chunks. Increase and
// decrease events carry (liquidity, amount0, amount1); collect events carry
// (recipient, amount0, amount1) with the recipient in the low 20 bytes of
// the first chunk. The NFT token id always comes from topics[1].
func ParsePositionLog(log RawLog) (*PositionEvent, error) {
	if len(log.Topics) < 2 || log.Topics[1] == "" {
		return nil, &DecodeError{Reason: "missing topics[1] token id", TxHash: log.TransactionHash}
	}

	chunks, err := splitDataChunks(log.Data)
	if err != nil {
		return nil, &DecodeError{Reason: err.Error(), TxHash: log.TransactionHash}
	}
	if len(chunks) < 3 {
		return nil, &DecodeError{
			Reason: fmt.Sprintf("data has %d chunks, need 3", len(chunks)),
			TxHash: log.TransactionHash,
		}
	}

	var kind EventKind
	switch common.HexToHash(log.Topics[0]) {
	case TopicIncreaseLiquidity:
		kind = EventIncreaseLiquidity
	case TopicDecreaseLiquidity:
		kind = EventDecreaseLiquidity
	case TopicCollect:
		kind = EventCollect
	default:
		return nil, &DecodeError{Reason: "unknown event topic " + log.Topics[0], TxHash: log.TransactionHash}
	}

	blockNumber, err := parseQuantity(log.BlockNumber)
	if err != nil {
		return nil, &DecodeError{Reason: "bad blockNumber: " + err.Error(), TxHash: log.TransactionHash}
	}
	txIndex, err := parseQuantity(log.TransactionIndex)
	if err != nil {
		return nil, &DecodeError{Reason: "bad transactionIndex: " + err.Error(), TxHash: log.TransactionHash}
	}
	logIndex, err := parseQuantity(log.LogIndex)
	if err != nil {
		return nil, &DecodeError{Reason: "bad logIndex: " + err.Error(), TxHash: log.TransactionHash}
	}
	ts, err := parseQuantity(log.TimeStamp)
	if err != nil {
		return nil, &DecodeError{Reason: "bad timeStamp: " + err.Error(), TxHash: log.TransactionHash}
	}

	ev := &PositionEvent{
		Kind:        kind,
		TokenID:     new(big.Int).SetBytes(common.HexToHash(log.Topics[1]).Bytes()),
		BlockNumber: blockNumber.Uint64(),
		TxIndex:     uint32(txIndex.Uint64()),
		LogIndex:    uint32(logIndex.Uint64()),
		TxHash:      common.HexToHash(log.TransactionHash),
		Timestamp:   time.Unix(int64(ts.Uint64()), 0).UTC(),
	}

	switch kind {
	case EventIncreaseLiquidity, EventDecreaseLiquidity:
		ev.Liquidity = chunks[0]
		ev.Amount0 = chunks[1]
		ev.Amount1 = chunks[2]
	case EventCollect:
		var recipient common.Hash
		chunks[0].FillBytes(recipient[:])
		ev.Recipient = common.BytesToAddress(recipient[12:])
		ev.Amount0 = chunks[1]
		ev.Amount1 = chunks[2]
	}
	return ev, nil
}

// DedupeAndSortEvents removes duplicate (txHash, logIndex) occurrences,
// first occurrence winning, and sorts ascending by on-chain order
// (blockNumber, txIndex, logIndex).
func DedupeAndSortEvents(events []*PositionEvent) []*PositionEvent {
	seen := make(map[string]struct{}, len(events))
	out := make([]*PositionEvent, 0, len(events))
	for _, ev := range events {
		key := ev.dedupeKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		if a.TxIndex != b.TxIndex {
			return a.TxIndex < b.TxIndex
		}
		return a.LogIndex < b.LogIndex
	})
	return out
}

// splitDataChunks strips the 0x prefix and cuts the payload into 32-byte
// big-endian integers.
func splitDataChunks(data string) ([]*big.Int, error) {
	hexData := strings.TrimPrefix(data, "0x")
	if len(hexData)%64 != 0 {
		return nil, fmt.Errorf("data length %d is not a multiple of 64 hex chars", len(hexData))
	}
	chunks := make([]*big.Int, 0, len(hexData)/64)
	for i := 0; i+64 <= len(hexData); i += 64 {
		n, ok := new(big.Int).SetString(hexData[i:i+64], 16)
		if !ok {
			return nil, fmt.Errorf("invalid hex chunk at offset %d", i)
		}
		chunks = append(chunks, n)
	}
	return chunks, nil
}

// parseQuantity accepts both 0x-prefixed hex and decimal strings; the
// explorer mixes the two across endpoints.
func parseQuantity(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int), nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		n, ok := new(big.Int).SetString(s[2:], 16)
		if !ok {
			return nil, fmt.Errorf("invalid hex quantity %q", s)
		}
		return n, nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal quantity %q", s)
	}
	return n, nil
}

// PaddedTokenID encodes an NFT token id as a left-padded 32-byte hex topic
// value.
func PaddedTokenID(tokenID *big.Int) string {
	return common.BigToHash(tokenID).Hex()
}
