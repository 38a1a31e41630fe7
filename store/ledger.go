package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/0xNedAlbo/midcurve-services/ledger"
	"github.com/0xNedAlbo/midcurve-services/model"
)

const entryColumns = `id, position_id, protocol, previous_id, entry_timestamp,
	event_type, input_hash, pool_price::text, token0_amount::text, token1_amount::text,
	token_value::text, delta_cost_basis::text, cost_basis_after::text,
	delta_pnl::text, pnl_after::text, rewards, config, state, created_at, updated_at`

func scanEntry(row pgx.Row) (*ledger.Entry, error) {
	var e ledger.Entry
	var eventType string
	var poolPrice, token0, token1, tokenValue, deltaBasis, basisAfter, deltaPnl, pnlAfter string
	var rewardsRaw, configRaw, stateRaw []byte
	err := row.Scan(&e.ID, &e.PositionID, &e.Protocol, &e.PreviousID, &e.Timestamp,
		&eventType, &e.InputHash, &poolPrice, &token0, &token1, &tokenValue,
		&deltaBasis, &basisAfter, &deltaPnl, &pnlAfter,
		&rewardsRaw, &configRaw, &stateRaw, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
	}
	e.EventType = ledger.EventType(eventType)

	for _, col := range []struct {
		dst **model.BigInt
		src string
	}{
		{&e.PoolPrice, poolPrice},
		{&e.Token0Amount, token0},
		{&e.Token1Amount, token1},
		{&e.TokenValue, tokenValue},
		{&e.DeltaCostBasis, deltaBasis},
		{&e.CostBasisAfter, basisAfter},
		{&e.DeltaPnl, deltaPnl},
		{&e.PnlAfter, pnlAfter},
	} {
		if *col.dst, err = mustBigFromText(col.src); err != nil {
			return nil, err
		}
	}

	if err := json.Unmarshal(rewardsRaw, &e.Rewards); err != nil {
		return nil, fmt.Errorf("corrupt rewards document for entry %s: %w", e.ID, err)
	}
	if err := json.Unmarshal(configRaw, &e.Config); err != nil {
		return nil, fmt.Errorf("corrupt config document for entry %s: %w", e.ID, err)
	}
	if err := json.Unmarshal(stateRaw, &e.State); err != nil {
		return nil, fmt.Errorf("corrupt state document for entry %s: %w", e.ID, err)
	}
	return &e, nil
}

// InsertEntry appends one ledger entry. The unique input_hash index makes
// concurrent duplicate writes fail loudly rather than fork the chain.
func (s *Store) InsertEntry(ctx context.Context, e *ledger.Entry) error {
	rewards := e.Rewards
	if rewards == nil {
		rewards = []ledger.Reward{}
	}
	rewardsRaw, err := json.Marshal(rewards)
	if err != nil {
		return fmt.Errorf("failed to marshal rewards: %w", err)
	}
	configRaw, err := json.Marshal(e.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	stateRaw, err := json.Marshal(e.State)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO ledger_entries (id, position_id, protocol, previous_id,
		   entry_timestamp, event_type, input_hash, pool_price, token0_amount,
		   token1_amount, token_value, delta_cost_basis, cost_basis_after,
		   delta_pnl, pnl_after, rewards, config, state)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9::numeric, $10::numeric,
		   $11::numeric, $12::numeric, $13::numeric, $14::numeric, $15::numeric,
		   $16, $17, $18)`,
		e.ID, e.PositionID, e.Protocol, e.PreviousID, e.Timestamp,
		string(e.EventType), e.InputHash,
		textFromBigOrZero(e.PoolPrice), textFromBigOrZero(e.Token0Amount),
		textFromBigOrZero(e.Token1Amount), textFromBigOrZero(e.TokenValue),
		textFromBigOrZero(e.DeltaCostBasis), textFromBigOrZero(e.CostBasisAfter),
		textFromBigOrZero(e.DeltaPnl), textFromBigOrZero(e.PnlAfter),
		rewardsRaw, configRaw, stateRaw)
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry %s: %w", e.InputHash, err)
	}
	return nil
}

// DeleteEntriesByPosition removes a position's whole chain ahead of an
// authoritative rebuild. Children are unlinked before deletion so the
// self-reference never dangles.
func (s *Store) DeleteEntriesByPosition(ctx context.Context, positionID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin delete transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE ledger_entries SET previous_id = NULL WHERE position_id = $1`, positionID); err != nil {
		return fmt.Errorf("failed to unlink ledger entries: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM ledger_entries WHERE position_id = $1`, positionID); err != nil {
		return fmt.Errorf("failed to delete ledger entries: %w", err)
	}
	return tx.Commit(ctx)
}

// ListEntriesByPositionDesc returns a position's chain newest-first, the
// read convention.
func (s *Store) ListEntriesByPositionDesc(ctx context.Context, positionID string) ([]*ledger.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries
		 WHERE position_id = $1
		 ORDER BY entry_timestamp DESC, (config->>'blockNumber')::numeric DESC,
		   (config->>'txIndex')::numeric DESC, (config->>'logIndex')::numeric DESC`,
		positionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ledger entries: %w", err)
	}
	return entries, nil
}

// LastEntry returns the newest entry of a position's chain.
func (s *Store) LastEntry(ctx context.Context, positionID string) (*ledger.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries
		 WHERE position_id = $1
		 ORDER BY entry_timestamp DESC, (config->>'blockNumber')::numeric DESC,
		   (config->>'txIndex')::numeric DESC, (config->>'logIndex')::numeric DESC
		 LIMIT 1`,
		positionID)
	return scanEntry(row)
}
