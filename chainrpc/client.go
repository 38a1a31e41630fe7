// Package chainrpc reads on-chain state over JSON-RPC: historical pool
// slot0 values, block timestamps, and ERC-20 metadata. Calls are serialized
// through the RPC scheduler and retried on transient failures.
package chainrpc

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/0xNedAlbo/midcurve-services/metrics"
	"github.com/0xNedAlbo/midcurve-services/scheduler"
)

// Function selectors used by the read paths.
const (
	selectorSlot0    = "0x3850c7bd"
	selectorName     = "0x06fdde03"
	selectorSymbol   = "0x95d89b41"
	selectorDecimals = "0x313ce567"
)

const rpcRetries = 4

// Client multiplexes JSON-RPC connections per chain.
type Client struct {
	endpoints map[uint64]string
	sched     *scheduler.Scheduler
	logger    *zap.Logger

	mu    sync.Mutex
	conns map[uint64]*rpc.Client
}

// New builds a Client over the configured archive endpoints.
func New(endpoints map[uint64]string, sched *scheduler.Scheduler, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sched == nil {
		sched = scheduler.New("rpc", 0, logger)
	}
	return &Client{
		endpoints: endpoints,
		sched:     sched,
		logger:    logger,
		conns:     make(map[uint64]*rpc.Client),
	}
}

// Close releases all RPC connections.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, conn := range c.conns {
		conn.Close()
	}
	c.conns = make(map[uint64]*rpc.Client)
}

func (c *Client) conn(ctx context.Context, chainID uint64) (*rpc.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[chainID]; ok {
		return conn, nil
	}
	endpoint, ok := c.endpoints[chainID]
	if !ok {
		return nil, fmt.Errorf("no rpc endpoint configured for chain %d", chainID)
	}
	conn, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc for chain %d: %w", chainID, err)
	}
	c.conns[chainID] = conn
	return conn, nil
}

// call performs one scheduled, retried RPC invocation.
func (c *Client) call(ctx context.Context, chainID uint64, result any, method string, args ...any) error {
	conn, err := c.conn(ctx, chainID)
	if err != nil {
		return err
	}

	_, err = scheduler.Schedule(ctx, c.sched, func(ctx context.Context) (struct{}, error) {
		var lastErr error
		for attempt := 0; attempt <= rpcRetries; attempt++ {
			lastErr = conn.CallContext(ctx, result, method, args...)
			if lastErr == nil {
				metrics.RPCRequests.WithLabelValues(method, "ok").Inc()
				return struct{}{}, nil
			}
			if ctx.Err() != nil {
				return struct{}{}, ctx.Err()
			}
			if attempt < rpcRetries {
				metrics.RPCRequests.WithLabelValues(method, "retry").Inc()
				c.logger.Warn("rpc call failed, retrying",
					zap.Uint64("chain_id", chainID),
					zap.String("method", method),
					zap.Int("attempt", attempt+1),
					zap.Error(lastErr))
				select {
				case <-time.After(time.Duration(200*(attempt+1)) * time.Millisecond):
				case <-ctx.Done():
					return struct{}{}, ctx.Err()
				}
			}
		}
		metrics.RPCRequests.WithLabelValues(method, "error").Inc()
		return struct{}{}, lastErr
	})
	return err
}

type callArgs struct {
	To   common.Address `json:"to"`
	Data hexutil.Bytes  `json:"data"`
}

// ethCall performs eth_call against an explicit block tag.
func (c *Client) ethCall(ctx context.Context, chainID uint64, to common.Address, selector string, blockTag string) ([]byte, error) {
	data, err := hexutil.Decode(selector)
	if err != nil {
		return nil, fmt.Errorf("bad selector %q: %w", selector, err)
	}
	var result hexutil.Bytes
	if err := c.call(ctx, chainID, &result, "eth_call", callArgs{To: to, Data: data}, blockTag); err != nil {
		return nil, fmt.Errorf("eth_call %s on chain %d failed: %w", selector, chainID, err)
	}
	return result, nil
}

// Slot0At reads the pool's sqrtPriceX96 at a historical block. The slot0
// return struct leads with the sqrtPriceX96 word.
func (c *Client) Slot0At(ctx context.Context, chainID uint64, pool common.Address, blockNumber uint64) (*big.Int, error) {
	out, err := c.ethCall(ctx, chainID, pool, selectorSlot0, hexutil.EncodeUint64(blockNumber))
	if err != nil {
		return nil, err
	}
	if len(out) < 32 {
		return nil, fmt.Errorf("slot0 returned %d bytes, want at least 32", len(out))
	}
	return new(big.Int).SetBytes(out[:32]), nil
}

type blockHeader struct {
	Timestamp hexutil.Uint64 `json:"timestamp"`
}

// BlockTimestamp reads a block's timestamp.
func (c *Client) BlockTimestamp(ctx context.Context, chainID uint64, blockNumber uint64) (time.Time, error) {
	var header *blockHeader
	if err := c.call(ctx, chainID, &header, "eth_getBlockByNumber", hexutil.EncodeUint64(blockNumber), false); err != nil {
		return time.Time{}, fmt.Errorf("eth_getBlockByNumber %d on chain %d failed: %w", blockNumber, chainID, err)
	}
	if header == nil {
		return time.Time{}, fmt.Errorf("block %d not found on chain %d", blockNumber, chainID)
	}
	return time.Unix(int64(header.Timestamp), 0).UTC(), nil
}

// TokenMetadata reads an ERC-20's name, symbol, and decimals.
func (c *Client) TokenMetadata(ctx context.Context, chainID uint64, token common.Address) (name, symbol string, decimals uint8, err error) {
	nameBytes, err := c.ethCall(ctx, chainID, token, selectorName, "latest")
	if err != nil {
		return "", "", 0, err
	}
	symbolBytes, err := c.ethCall(ctx, chainID, token, selectorSymbol, "latest")
	if err != nil {
		return "", "", 0, err
	}
	decBytes, err := c.ethCall(ctx, chainID, token, selectorDecimals, "latest")
	if err != nil {
		return "", "", 0, err
	}
	if len(decBytes) < 32 {
		return "", "", 0, fmt.Errorf("decimals() returned %d bytes", len(decBytes))
	}
	dec := new(big.Int).SetBytes(decBytes[:32])
	if !dec.IsUint64() || dec.Uint64() > 255 {
		return "", "", 0, fmt.Errorf("decimals() out of range: %s", dec)
	}
	return decodeABIString(nameBytes), decodeABIString(symbolBytes), uint8(dec.Uint64()), nil
}

// decodeABIString decodes a dynamic ABI string return value, falling back
// to treating the payload as fixed bytes32 for non-conforming tokens.
func decodeABIString(out []byte) string {
	if len(out) == 32 {
		return strings.TrimRight(string(out), "\x00")
	}
	if len(out) < 64 {
		return ""
	}
	offset := new(big.Int).SetBytes(out[:32])
	if !offset.IsUint64() || offset.Uint64()+32 > uint64(len(out)) {
		return ""
	}
	o := offset.Uint64()
	length := new(big.Int).SetBytes(out[o : o+32])
	if !length.IsUint64() || o+32+length.Uint64() > uint64(len(out)) {
		return ""
	}
	return string(out[o+32 : o+32+length.Uint64()])
}
