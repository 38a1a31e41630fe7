package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/0xNedAlbo/midcurve-services/model"
)

const tokenColumns = `id, chain_id, address, name, symbol, decimals, logo_url,
	market_cap::text, created_at, updated_at`

func scanToken(row pgx.Row) (*model.Token, error) {
	var t model.Token
	var address string
	var marketCap *string
	err := row.Scan(&t.ID, &t.ChainID, &address, &t.Name, &t.Symbol,
		&t.Decimals, &t.LogoURL, &marketCap, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan token: %w", err)
	}
	t.Address = common.HexToAddress(address)
	if t.MarketCap, err = bigFromText(marketCap); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetToken reads one token by id.
func (s *Store) GetToken(ctx context.Context, id string) (*model.Token, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE id = $1`, id)
	return scanToken(row)
}

// GetTokenByAddress reads a token by (chain, address). Address comparison
// is case-insensitive; the persisted form is the checksummed address.
func (s *Store) GetTokenByAddress(ctx context.Context, chainID uint64, address common.Address) (*model.Token, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE chain_id = $1 AND lower(address) = lower($2)`,
		chainID, address.Hex())
	return scanToken(row)
}

// InsertToken persists a new token row, assigning an id when absent. On a
// concurrent insert of the same (chain, address) the existing row wins and
// is returned.
func (s *Store) InsertToken(ctx context.Context, t *model.Token) (*model.Token, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO tokens (id, chain_id, address, name, symbol, decimals, logo_url, market_cap)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric)
		 ON CONFLICT (chain_id, address) DO NOTHING`,
		t.ID, t.ChainID, t.Address.Hex(), t.Name, t.Symbol, t.Decimals, t.LogoURL,
		textFromBig(t.MarketCap))
	if err != nil {
		return nil, fmt.Errorf("failed to insert token %s: %w", t.Address.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return s.GetTokenByAddress(ctx, t.ChainID, t.Address)
	}
	return s.GetToken(ctx, t.ID)
}

// UpdateTokenEnrichment attaches catalogue data to an existing token.
func (s *Store) UpdateTokenEnrichment(ctx context.Context, id, logoURL string, marketCap *model.BigInt) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tokens SET logo_url = $2, market_cap = $3::numeric, updated_at = now() WHERE id = $1`,
		id, logoURL, textFromBig(marketCap))
	if err != nil {
		return fmt.Errorf("failed to enrich token %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}
