package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/0xNedAlbo/midcurve-services/model"
)

const poolColumns = `id, protocol, chain_id, address, token0_id, token1_id,
	fee_bps, tick_spacing, sqrt_price_x96::text, current_tick, liquidity::text,
	fee_growth_global0::text, fee_growth_global1::text, created_at, updated_at`

func (s *Store) scanPool(ctx context.Context, row pgx.Row) (*model.Pool, error) {
	var p model.Pool
	var address, token0ID, token1ID string
	var sqrtPrice, liquidity, feeGrowth0, feeGrowth1 *string
	err := row.Scan(&p.ID, &p.Protocol, &p.ChainID, &address, &token0ID, &token1ID,
		&p.FeeBps, &p.TickSpacing, &sqrtPrice, &p.CurrentTick, &liquidity,
		&feeGrowth0, &feeGrowth1, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan pool: %w", err)
	}
	p.Address = common.HexToAddress(address)
	if p.SqrtPriceX96, err = bigFromText(sqrtPrice); err != nil {
		return nil, err
	}
	if p.Liquidity, err = bigFromText(liquidity); err != nil {
		return nil, err
	}
	if p.FeeGrowthGlobal0, err = bigFromText(feeGrowth0); err != nil {
		return nil, err
	}
	if p.FeeGrowthGlobal1, err = bigFromText(feeGrowth1); err != nil {
		return nil, err
	}

	if p.Token0, err = s.GetToken(ctx, token0ID); err != nil {
		return nil, fmt.Errorf("pool %s token0: %w", p.ID, err)
	}
	if p.Token1, err = s.GetToken(ctx, token1ID); err != nil {
		return nil, fmt.Errorf("pool %s token1: %w", p.ID, err)
	}
	return &p, nil
}

// GetPool reads one pool with its token rows.
func (s *Store) GetPool(ctx context.Context, id string) (*model.Pool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+poolColumns+` FROM pools WHERE id = $1`, id)
	return s.scanPool(ctx, row)
}

// GetPoolByAddress reads a pool by (chain, address), case-insensitively.
func (s *Store) GetPoolByAddress(ctx context.Context, chainID uint64, address common.Address) (*model.Pool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+poolColumns+` FROM pools WHERE chain_id = $1 AND lower(address) = lower($2)`,
		chainID, address.Hex())
	return s.scanPool(ctx, row)
}

// InsertPool persists a discovered pool. Token ordering must satisfy
// token0.address < token1.address bytewise.
func (s *Store) InsertPool(ctx context.Context, p *model.Pool) (*model.Pool, error) {
	if p.Token0 == nil || p.Token1 == nil {
		return nil, fmt.Errorf("pool %s is missing token references", p.Address.Hex())
	}
	if bytes.Compare(p.Token0.Address.Bytes(), p.Token1.Address.Bytes()) >= 0 {
		return nil, fmt.Errorf("pool %s token ordering violated: %s >= %s",
			p.Address.Hex(), p.Token0.Address.Hex(), p.Token1.Address.Hex())
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO pools (id, protocol, chain_id, address, token0_id, token1_id,
		   fee_bps, tick_spacing, sqrt_price_x96, current_tick, liquidity,
		   fee_growth_global0, fee_growth_global1)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10, $11::numeric, $12::numeric, $13::numeric)
		 ON CONFLICT (chain_id, address) DO NOTHING`,
		p.ID, p.Protocol, p.ChainID, p.Address.Hex(), p.Token0.ID, p.Token1.ID,
		p.FeeBps, p.TickSpacing, textFromBig(p.SqrtPriceX96), p.CurrentTick,
		textFromBig(p.Liquidity), textFromBig(p.FeeGrowthGlobal0), textFromBig(p.FeeGrowthGlobal1))
	if err != nil {
		return nil, fmt.Errorf("failed to insert pool %s: %w", p.Address.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return s.GetPoolByAddress(ctx, p.ChainID, p.Address)
	}
	return s.GetPool(ctx, p.ID)
}

// UpdatePoolState refreshes the pool's observable state.
func (s *Store) UpdatePoolState(ctx context.Context, p *model.Pool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pools SET sqrt_price_x96 = $2::numeric, current_tick = $3,
		   liquidity = $4::numeric, fee_growth_global0 = $5::numeric,
		   fee_growth_global1 = $6::numeric, updated_at = now()
		 WHERE id = $1`,
		p.ID, textFromBig(p.SqrtPriceX96), p.CurrentTick, textFromBig(p.Liquidity),
		textFromBig(p.FeeGrowthGlobal0), textFromBig(p.FeeGrowthGlobal1))
	if err != nil {
		return fmt.Errorf("failed to update pool %s state: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}
