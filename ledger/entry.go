// Package ledger maintains the canonical financial history of a position:
// one immutable entry per on-chain event, linked into a chain by
// previousId, carrying cost basis, realized PnL, and the fee/principal
// split of every collect.
package ledger

import (
	"time"

	"github.com/0xNedAlbo/midcurve-services/model"
)

// EventType classifies a ledger entry.
type EventType string

const (
	EventTypeIncrease EventType = "INCREASE_POSITION"
	EventTypeDecrease EventType = "DECREASE_POSITION"
	EventTypeCollect  EventType = "COLLECT"
)

// Reward is one fee accrual credited by a collect entry.
type Reward struct {
	TokenID     string        `json:"tokenId"`
	TokenAmount *model.BigInt `json:"tokenAmount"`
	TokenValue  *model.BigInt `json:"tokenValue"`
}

// EntryConfig is the protocol-specific config sub-document persisted with
// every entry.
type EntryConfig struct {
	ChainID     uint64        `json:"chainId"`
	NFTID       *model.BigInt `json:"nftId"`
	BlockNumber uint64        `json:"blockNumber"`
	TxIndex     uint32        `json:"txIndex"`
	LogIndex    uint32        `json:"logIndex"`
	TxHash      string        `json:"txHash"`

	// DeltaL is signed: non-negative for increases, non-positive for
	// decreases, zero for collects.
	DeltaL         *model.BigInt `json:"deltaL"`
	LiquidityAfter *model.BigInt `json:"liquidityAfter"`

	FeesCollected0             *model.BigInt `json:"feesCollected0"`
	FeesCollected1             *model.BigInt `json:"feesCollected1"`
	UncollectedPrincipal0After *model.BigInt `json:"uncollectedPrincipal0After"`
	UncollectedPrincipal1After *model.BigInt `json:"uncollectedPrincipal1After"`

	SqrtPriceX96 *model.BigInt `json:"sqrtPriceX96"`
}

// EntryState is the decoded on-chain event behind the entry, a
// discriminated union over the three event signatures.
type EntryState struct {
	Kind    string        `json:"kind"` // increaseLiquidity | decreaseLiquidity | collect
	TokenID *model.BigInt `json:"tokenId"`

	// Liquidity is present for increase/decrease, always positive.
	Liquidity *model.BigInt `json:"liquidity,omitempty"`
	Amount0   *model.BigInt `json:"amount0"`
	Amount1   *model.BigInt `json:"amount1"`
	// Recipient is present for collect.
	Recipient string `json:"recipient,omitempty"`
}

// Entry is one persisted ledger record.
type Entry struct {
	ID         string
	PositionID string
	Protocol   string
	// PreviousID is nil exactly for the first entry of a chain.
	PreviousID *string
	Timestamp  time.Time
	EventType  EventType
	// InputHash is the system-wide deduplication key.
	InputHash string

	PoolPrice    *model.BigInt
	Token0Amount *model.BigInt
	Token1Amount *model.BigInt
	TokenValue   *model.BigInt
	Rewards      []Reward

	DeltaCostBasis *model.BigInt
	CostBasisAfter *model.BigInt
	DeltaPnl       *model.BigInt
	PnlAfter       *model.BigInt

	Config EntryConfig
	State  EntryState

	CreatedAt time.Time
	UpdatedAt time.Time
}
