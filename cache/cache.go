// Package cache is the process-external key-value store shared by all
// instances of the service. Entries carry a wall-clock TTL. Single-flight
// coalescing is the caller's responsibility: read before calling out, write
// after; the per-provider scheduler throttles any dogpile to a safe rate.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// TTLs for the well-known key families.
const (
	TTLContractCreation = 365 * 24 * time.Hour
	TTLTokenCatalog     = time.Hour
	TTLCoinDetail       = time.Hour
	TTLMarketsBatch     = time.Hour
)

// Cache is the store contract seen by the core.
type Cache interface {
	// Get returns the raw value and whether the key was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Clear removes every key with the given prefix.
	Clear(ctx context.Context, prefix string) error
}

// ContractCreationKey keys a contract's deployment block, which is
// effectively immutable.
func ContractCreationKey(chainID uint64, address string) string {
	return fmt.Sprintf("explorer:contract-creation:%d:%s", chainID, strings.ToLower(address))
}

// TokenCatalogKey keys the full token catalogue.
func TokenCatalogKey() string {
	return "catalog:tokens:all"
}

// CoinKey keys one detailed catalogue coin.
func CoinKey(coinID string) string {
	return "catalog:coin:" + coinID
}

// MarketsKey keys a batch market lookup; ids are sorted so equal sets map
// to equal keys.
func MarketsKey(coinIDs []string) string {
	ids := make([]string, len(coinIDs))
	copy(ids, coinIDs)
	sort.Strings(ids)
	return "catalog:markets:" + strings.Join(ids, ",")
}

// GetJSON reads key and unmarshals it into out; ok is false on miss.
func GetJSON(ctx context.Context, c Cache, key string, out any) (bool, error) {
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("corrupt cache entry %s: %w", key, err)
	}
	return true, nil
}

// SetJSON marshals value and stores it under key.
func SetJSON(ctx context.Context, c Cache, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache entry %s: %w", key, err)
	}
	return c.Set(ctx, key, raw, ttl)
}
