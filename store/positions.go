package store

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/0xNedAlbo/midcurve-services/model"
)

const positionColumns = `id, owner_id, pool_id, protocol, chain_id, nft_id::text,
	pool_address, tick_lower, tick_upper, is_token0_quote, owner_address,
	liquidity::text, fee_growth_inside0_last_x128::text, fee_growth_inside1_last_x128::text,
	tokens_owed0::text, tokens_owed1::text, created_at, updated_at`

func scanPosition(row pgx.Row) (*model.Position, error) {
	var p model.Position
	var nftID, poolAddress, ownerAddress string
	var liquidity, feeGrowth0, feeGrowth1, owed0, owed1 *string
	err := row.Scan(&p.ID, &p.OwnerID, &p.PoolID, &p.Protocol, &p.ChainID, &nftID,
		&poolAddress, &p.TickLower, &p.TickUpper, &p.IsToken0Quote, &ownerAddress,
		&liquidity, &feeGrowth0, &feeGrowth1, &owed0, &owed1,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan position: %w", err)
	}

	id, ok := new(big.Int).SetString(nftID, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt nft_id %q", nftID)
	}
	p.NFTID = id
	p.PoolAddress = common.HexToAddress(poolAddress)
	p.OwnerAddress = common.HexToAddress(ownerAddress)
	if p.Liquidity, err = bigFromText(liquidity); err != nil {
		return nil, err
	}
	if p.FeeGrowthInside0LastX128, err = bigFromText(feeGrowth0); err != nil {
		return nil, err
	}
	if p.FeeGrowthInside1LastX128, err = bigFromText(feeGrowth1); err != nil {
		return nil, err
	}
	if p.TokensOwed0, err = bigFromText(owed0); err != nil {
		return nil, err
	}
	if p.TokensOwed1, err = bigFromText(owed1); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPosition reads one position by id.
func (s *Store) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE id = $1`, id)
	return scanPosition(row)
}

// GetPositionByNFT reads a position by its (chain, nft id) identity.
func (s *Store) GetPositionByNFT(ctx context.Context, chainID uint64, nftID *big.Int) (*model.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE chain_id = $1 AND nft_id = $2::numeric`,
		chainID, bigIntText(nftID))
	return scanPosition(row)
}

// InsertPosition persists a discovered position; the existing row wins on a
// concurrent discovery of the same (chain, nft id).
func (s *Store) InsertPosition(ctx context.Context, p *model.Position) (*model.Position, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO positions (id, owner_id, pool_id, protocol, chain_id, nft_id,
		   pool_address, tick_lower, tick_upper, is_token0_quote, owner_address,
		   liquidity, fee_growth_inside0_last_x128, fee_growth_inside1_last_x128,
		   tokens_owed0, tokens_owed1)
		 VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11,
		   $12::numeric, $13::numeric, $14::numeric, $15::numeric, $16::numeric)
		 ON CONFLICT (chain_id, nft_id) DO NOTHING`,
		p.ID, p.OwnerID, p.PoolID, p.Protocol, p.ChainID, bigIntText(p.NFTID),
		p.PoolAddress.Hex(), p.TickLower, p.TickUpper, p.IsToken0Quote, p.OwnerAddress.Hex(),
		textFromBig(p.Liquidity), textFromBig(p.FeeGrowthInside0LastX128),
		textFromBig(p.FeeGrowthInside1LastX128), textFromBig(p.TokensOwed0), textFromBig(p.TokensOwed1))
	if err != nil {
		return nil, fmt.Errorf("failed to insert position nft %s: %w", bigIntText(p.NFTID), err)
	}
	if tag.RowsAffected() == 0 {
		return s.GetPositionByNFT(ctx, p.ChainID, p.NFTID)
	}
	return s.GetPosition(ctx, p.ID)
}

// UpdatePositionState refreshes the mutable on-chain mirror of a position.
func (s *Store) UpdatePositionState(ctx context.Context, p *model.Position) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET owner_address = $2, liquidity = $3::numeric,
		   fee_growth_inside0_last_x128 = $4::numeric, fee_growth_inside1_last_x128 = $5::numeric,
		   tokens_owed0 = $6::numeric, tokens_owed1 = $7::numeric, updated_at = now()
		 WHERE id = $1`,
		p.ID, p.OwnerAddress.Hex(), textFromBig(p.Liquidity),
		textFromBig(p.FeeGrowthInside0LastX128), textFromBig(p.FeeGrowthInside1LastX128),
		textFromBig(p.TokensOwed0), textFromBig(p.TokensOwed1))
	if err != nil {
		return fmt.Errorf("failed to update position %s state: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}
