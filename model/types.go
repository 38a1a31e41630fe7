package model

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ProtocolUniswapV3 tags ledger data belonging to the concentrated-liquidity
// NFT-position protocol family. It is the only protocol currently wired.
const ProtocolUniswapV3 = "uniswapv3"

// Chain describes one supported network. The set of chains is closed
// configuration; see config.DefaultChains.
type Chain struct {
	ChainID         uint64
	Name            string
	PositionManager common.Address
	PoolFactory     common.Address
	// ExplorerProvider is the provider id the unified explorer endpoint
	// expects in its chainid query parameter.
	ExplorerProvider uint64
}

// Token is an ERC-20 token row. Created on first demand from on-chain
// metadata and optionally enriched with catalogue data; immutable otherwise.
type Token struct {
	ID        string
	ChainID   uint64
	Address   common.Address
	Name      string
	Symbol    string
	Decimals  uint8
	LogoURL   string
	MarketCap *BigInt
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Pool is one concentrated-liquidity pool. The token ordering invariant
// token0.address < token1.address (bytewise) is enforced at creation.
type Pool struct {
	ID          string
	Protocol    string
	ChainID     uint64
	Address     common.Address
	Token0      *Token
	Token1      *Token
	FeeBps      int32
	TickSpacing int32

	// Refreshable state.
	SqrtPriceX96     *BigInt
	CurrentTick      int32
	Liquidity        *BigInt
	FeeGrowthGlobal0 *BigInt
	FeeGrowthGlobal1 *BigInt

	CreatedAt time.Time
	UpdatedAt time.Time
}

// QuoteToken returns the token selected as the unit of account.
func (p *Pool) QuoteToken(isToken0Quote bool) *Token {
	if isToken0Quote {
		return p.Token0
	}
	return p.Token1
}

// BaseToken returns the non-quote token.
func (p *Pool) BaseToken(isToken0Quote bool) *Token {
	if isToken0Quote {
		return p.Token1
	}
	return p.Token0
}

// Position is one NFT-indexed position. Config fields are immutable after
// discovery; state fields mirror the on-chain position and are refreshable.
type Position struct {
	ID       string
	OwnerID  string
	PoolID   string
	Protocol string

	ChainID     uint64
	NFTID       *big.Int
	PoolAddress common.Address
	TickLower   int32
	TickUpper   int32

	// IsToken0Quote selects which pool token is the unit of account for
	// PnL. It is set at discovery and is the canonical source for the
	// ledger's quote selection.
	IsToken0Quote bool

	OwnerAddress             common.Address
	Liquidity                *BigInt
	FeeGrowthInside0LastX128 *BigInt
	FeeGrowthInside1LastX128 *BigInt
	TokensOwed0              *BigInt
	TokensOwed1              *BigInt

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PoolPriceSample is a point observation of a pool's sqrtPriceX96 at a
// specific block. Unique per (PoolID, BlockNumber); immutable.
type PoolPriceSample struct {
	ID           string
	PoolID       string
	BlockNumber  uint64
	SqrtPriceX96 *BigInt
	Timestamp    time.Time
	CreatedAt    time.Time
}
