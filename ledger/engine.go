package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/0xNedAlbo/midcurve-services/explorer"
	"github.com/0xNedAlbo/midcurve-services/metrics"
	"github.com/0xNedAlbo/midcurve-services/model"
)

// EventSource discovers the raw on-chain events of a position.
type EventSource interface {
	FetchPositionEvents(ctx context.Context, chainID uint64, nftID *big.Int, opts explorer.FetchEventsOptions) ([]*explorer.PositionEvent, error)
}

// PriceSource resolves the historic pool price at a block.
type PriceSource interface {
	HistoricPrice(ctx context.Context, pool *model.Pool, blockNumber uint64) (*model.PoolPriceSample, error)
}

// Storage is the durable store the engine reads positions from and writes
// ledger entries to.
type Storage interface {
	GetPosition(ctx context.Context, positionID string) (*model.Position, error)
	GetPool(ctx context.Context, poolID string) (*model.Pool, error)

	DeleteEntriesByPosition(ctx context.Context, positionID string) error
	InsertEntry(ctx context.Context, entry *Entry) error
	ListEntriesByPositionDesc(ctx context.Context, positionID string) ([]*Entry, error)
	LastEntry(ctx context.Context, positionID string) (*Entry, error)
}

// Engine builds and maintains position ledgers.
type Engine struct {
	store  Storage
	events EventSource
	prices PriceSource
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine wires the ledger engine.
func NewEngine(store Storage, events EventSource, prices PriceSource, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:  store,
		events: events,
		prices: prices,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// positionLock serializes ledger writes per position within this process.
func (e *Engine) positionLock(positionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[positionID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[positionID] = l
	}
	return l
}

// loadPosition reads the position and its pool and checks the protocol tag.
func (e *Engine) loadPosition(ctx context.Context, positionID string) (*model.Position, *model.Pool, error) {
	pos, err := e.store.GetPosition(ctx, positionID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, nil, fmt.Errorf("position %s: %w", positionID, model.ErrNotFound)
		}
		return nil, nil, err
	}
	if pos.Protocol != model.ProtocolUniswapV3 {
		return nil, nil, invariantf("position %s has unsupported protocol %q", positionID, pos.Protocol)
	}
	pool, err := e.store.GetPool(ctx, pos.PoolID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, nil, fmt.Errorf("pool %s: %w", pos.PoolID, model.ErrNotFound)
		}
		return nil, nil, err
	}
	if pool.Token0 == nil || pool.Token1 == nil {
		return nil, nil, fmt.Errorf("pool %s is missing token rows: %w", pos.PoolID, model.ErrNotFound)
	}
	return pos, pool, nil
}

// DiscoverAllEvents authoritatively rebuilds the position's ledger: all
// existing entries are deleted, the full event chain is refetched, and the
// state machine is folded from empty state. The same chain history yields
// the same ledger. Entries are returned newest-first.
func (e *Engine) DiscoverAllEvents(ctx context.Context, positionID string) ([]*Entry, error) {
	lock := e.positionLock(positionID)
	lock.Lock()
	defer lock.Unlock()

	started := time.Now()
	pos, pool, err := e.loadPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}

	if err := e.store.DeleteEntriesByPosition(ctx, positionID); err != nil {
		return nil, fmt.Errorf("failed to clear ledger for position %s: %w", positionID, err)
	}

	events, err := e.events.FetchPositionEvents(ctx, pos.ChainID, pos.NFTID, explorer.FetchEventsOptions{})
	if err != nil {
		metrics.LedgerRebuilds.WithLabelValues("error").Inc()
		return nil, err
	}
	if len(events) == 0 {
		metrics.LedgerRebuilds.WithLabelValues("empty").Inc()
		return []*Entry{}, nil
	}
	// The client already orders events; enforce it anyway.
	events = explorer.DedupeAndSortEvents(events)

	running := zeroTally()
	var prevID *string
	count := 0
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			metrics.LedgerRebuilds.WithLabelValues("cancelled").Inc()
			return nil, err
		}

		sample, err := e.prices.HistoricPrice(ctx, pool, ev.BlockNumber)
		if err != nil {
			metrics.LedgerRebuilds.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("failed to resolve pool price at block %d: %w", ev.BlockNumber, err)
		}

		entry, next, err := buildEntry(running, ev, pos, pool, sample)
		if err != nil {
			metrics.LedgerRebuilds.WithLabelValues("error").Inc()
			return nil, err
		}
		entry.ID = uuid.NewString()
		entry.PreviousID = prevID

		if err := e.store.InsertEntry(ctx, entry); err != nil {
			metrics.LedgerRebuilds.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("failed to persist ledger entry %s: %w", entry.InputHash, err)
		}
		metrics.LedgerEntriesWritten.Inc()

		running = next
		prevID = &entry.ID
		count++
	}

	metrics.LedgerRebuilds.WithLabelValues("ok").Inc()
	metrics.RebuildDuration.Observe(time.Since(started).Seconds())
	e.logger.Info("rebuilt position ledger",
		zap.String("position_id", positionID),
		zap.Int("entries", count),
		zap.Duration("took", time.Since(started)))

	return e.store.ListEntriesByPositionDesc(ctx, positionID)
}

// DiscoverEvent appends a single validated event to the chain and returns
// the full ledger newest-first.
func (e *Engine) DiscoverEvent(ctx context.Context, positionID string, input *explorer.PositionEvent) ([]*Entry, error) {
	lock := e.positionLock(positionID)
	lock.Lock()
	defer lock.Unlock()

	pos, pool, err := e.loadPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}

	if input.TokenID == nil || pos.NFTID == nil || input.TokenID.Cmp(pos.NFTID) != 0 {
		return nil, invariantf("event token id %s does not match position nft id %s", input.TokenID, pos.NFTID)
	}

	last, err := e.store.LastEntry(ctx, positionID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	running := zeroTally()
	var prevID *string
	if last != nil {
		if !input.Timestamp.After(last.Timestamp) {
			return nil, invariantf("event timestamp %s is not after last entry timestamp %s",
				input.Timestamp.UTC().Format(time.RFC3339), last.Timestamp.UTC().Format(time.RFC3339))
		}
		running = tallyFromEntry(last)
		prevID = &last.ID
	}

	sample, err := e.prices.HistoricPrice(ctx, pool, input.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve pool price at block %d: %w", input.BlockNumber, err)
	}

	entry, _, err := buildEntry(running, input, pos, pool, sample)
	if err != nil {
		return nil, err
	}
	entry.ID = uuid.NewString()
	entry.PreviousID = prevID

	if err := e.store.InsertEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to persist ledger entry %s: %w", entry.InputHash, err)
	}
	metrics.LedgerEntriesWritten.Inc()

	return e.store.ListEntriesByPositionDesc(ctx, positionID)
}

// SortEntriesDesc orders entries newest-first, the read convention.
func SortEntriesDesc(entries []*Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		if a.Config.BlockNumber != b.Config.BlockNumber {
			return a.Config.BlockNumber > b.Config.BlockNumber
		}
		if a.Config.TxIndex != b.Config.TxIndex {
			return a.Config.TxIndex > b.Config.TxIndex
		}
		return a.Config.LogIndex > b.Config.LogIndex
	})
}
