// Package tokens creates token rows on first demand from on-chain ERC-20
// metadata and enriches them with catalogue data.
package tokens

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0xNedAlbo/midcurve-services/catalog"
	"github.com/0xNedAlbo/midcurve-services/model"
)

// TokenStore is the persistence surface the service needs.
type TokenStore interface {
	GetTokenByAddress(ctx context.Context, chainID uint64, address common.Address) (*model.Token, error)
	InsertToken(ctx context.Context, t *model.Token) (*model.Token, error)
	UpdateTokenEnrichment(ctx context.Context, id, logoURL string, marketCap *model.BigInt) error
}

// MetadataReader reads ERC-20 metadata from the chain.
type MetadataReader interface {
	TokenMetadata(ctx context.Context, chainID uint64, token common.Address) (name, symbol string, decimals uint8, err error)
}

// Service resolves tokens on demand.
type Service struct {
	store   TokenStore
	chain   MetadataReader
	catalog *catalog.Client
	logger  *zap.Logger
}

// NewService wires the token service. The catalogue client may be nil, in
// which case enrichment is skipped.
func NewService(store TokenStore, chain MetadataReader, cat *catalog.Client, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, chain: chain, catalog: cat, logger: logger}
}

// EnsureToken returns the token row for (chain, address), creating it from
// on-chain metadata when it does not exist yet. Rows are immutable after
// creation except for enrichment.
func (s *Service) EnsureToken(ctx context.Context, chainID uint64, address common.Address) (*model.Token, error) {
	token, err := s.store.GetTokenByAddress(ctx, chainID, address)
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	name, symbol, decimals, err := s.chain.TokenMetadata(ctx, chainID, address)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata of token %s: %w", address.Hex(), err)
	}

	token, err = s.store.InsertToken(ctx, &model.Token{
		ChainID:  chainID,
		Address:  address,
		Name:     name,
		Symbol:   symbol,
		Decimals: decimals,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("created token on first demand",
		zap.Uint64("chain_id", chainID),
		zap.String("address", address.Hex()),
		zap.String("symbol", symbol))
	return token, nil
}

// Enrich attaches catalogue data to a token. Missing catalogue listings are
// not an error; the token simply stays unenriched.
func (s *Service) Enrich(ctx context.Context, token *model.Token) error {
	if s.catalog == nil {
		return nil
	}
	err := s.catalog.EnrichToken(ctx, token, s.store)
	if errors.Is(err, model.ErrNotFound) {
		s.logger.Debug("token has no catalogue listing",
			zap.String("address", token.Address.Hex()))
		return nil
	}
	return err
}
