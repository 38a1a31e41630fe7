// Package prices resolves historic pool prices: one immutable
// PoolPriceSample per (pool, block), read from the store when present and
// from an archive RPC otherwise.
package prices

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0xNedAlbo/midcurve-services/model"
)

// SampleStore persists price samples with a race-safe unique key.
type SampleStore interface {
	GetSample(ctx context.Context, poolID string, blockNumber uint64) (*model.PoolPriceSample, error)
	InsertSample(ctx context.Context, sample *model.PoolPriceSample) (*model.PoolPriceSample, error)
}

// ChainReader reads pool state and block metadata over RPC.
type ChainReader interface {
	Slot0At(ctx context.Context, chainID uint64, pool common.Address, blockNumber uint64) (*big.Int, error)
	BlockTimestamp(ctx context.Context, chainID uint64, blockNumber uint64) (time.Time, error)
}

// Service is the historic price resolver.
type Service struct {
	store  SampleStore
	chain  ChainReader
	logger *zap.Logger
}

// NewService wires the resolver.
func NewService(store SampleStore, chain ChainReader, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, chain: chain, logger: logger}
}

// HistoricPrice returns the pool's sqrt-price at the given block,
// idempotently: persisted samples are reused, fresh reads are persisted,
// and a conflicting concurrent write resolves by reading back the stored
// row.
func (s *Service) HistoricPrice(ctx context.Context, pool *model.Pool, blockNumber uint64) (*model.PoolPriceSample, error) {
	sample, err := s.store.GetSample(ctx, pool.ID, blockNumber)
	if err == nil {
		return sample, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	sqrtPrice, err := s.chain.Slot0At(ctx, pool.ChainID, pool.Address, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to read slot0 of pool %s at block %d: %w",
			pool.Address.Hex(), blockNumber, err)
	}
	ts, err := s.chain.BlockTimestamp(ctx, pool.ChainID, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to read timestamp of block %d: %w", blockNumber, err)
	}

	stored, err := s.store.InsertSample(ctx, &model.PoolPriceSample{
		PoolID:       pool.ID,
		BlockNumber:  blockNumber,
		SqrtPriceX96: model.BigIntFrom(sqrtPrice),
		Timestamp:    ts,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("sampled historic pool price",
		zap.String("pool_id", pool.ID),
		zap.Uint64("block", blockNumber),
		zap.String("sqrt_price_x96", sqrtPrice.String()))
	return stored, nil
}
