package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/0xNedAlbo/midcurve-services/model"
)

// GetSample reads the price sample for (poolID, blockNumber).
func (s *Store) GetSample(ctx context.Context, poolID string, blockNumber uint64) (*model.PoolPriceSample, error) {
	var sample model.PoolPriceSample
	var sqrtPrice string
	err := s.pool.QueryRow(ctx,
		`SELECT id, pool_id, block_number, sqrt_price_x96::text, block_timestamp, created_at
		 FROM pool_price_samples WHERE pool_id = $1 AND block_number = $2`,
		poolID, blockNumber).
		Scan(&sample.ID, &sample.PoolID, &sample.BlockNumber, &sqrtPrice,
			&sample.Timestamp, &sample.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read price sample: %w", err)
	}
	if sample.SqrtPriceX96, err = mustBigFromText(sqrtPrice); err != nil {
		return nil, err
	}
	return &sample, nil
}

// InsertSample persists a price sample. Samples race across processes on
// the (pool_id, block_number) unique key; on conflict the stored row is
// read back and returned.
func (s *Store) InsertSample(ctx context.Context, sample *model.PoolPriceSample) (*model.PoolPriceSample, error) {
	if sample.ID == "" {
		sample.ID = uuid.NewString()
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO pool_price_samples (id, pool_id, block_number, sqrt_price_x96, block_timestamp)
		 VALUES ($1, $2, $3, $4::numeric, $5)
		 ON CONFLICT (pool_id, block_number) DO NOTHING`,
		sample.ID, sample.PoolID, sample.BlockNumber,
		textFromBigOrZero(sample.SqrtPriceX96), sample.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to insert price sample: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.GetSample(ctx, sample.PoolID, sample.BlockNumber)
	}
	return sample, nil
}
