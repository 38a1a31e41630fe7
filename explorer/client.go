// Package explorer talks to the unified cross-chain block-explorer
// endpoint: contract event logs, contract creation blocks, and
// block-by-timestamp lookups, composed into position event discovery for
// NFT-indexed concentrated-liquidity positions.
package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/0xNedAlbo/midcurve-services/cache"
	"github.com/0xNedAlbo/midcurve-services/metrics"
	"github.com/0xNedAlbo/midcurve-services/model"
	"github.com/0xNedAlbo/midcurve-services/resilience"
	"github.com/0xNedAlbo/midcurve-services/scheduler"
)

const maxResponseLen = 32 << 20

// Options configures a Client.
type Options struct {
	BaseURL   string
	APIKey    string
	UserAgent string

	HTTPClient *http.Client
	Scheduler  *scheduler.Scheduler
	Cache      cache.Cache
	Logger     *zap.Logger
	Policy     resilience.Policy

	// Chains is the closed set of supported chains.
	Chains map[uint64]model.Chain
}

// Client is the block-explorer client. All outbound calls are serialized
// through the explorer scheduler and wrapped in the retry policy.
type Client struct {
	baseURL   string
	apiKey    string
	userAgent string

	httpc  *http.Client
	sched  *scheduler.Scheduler
	cache  cache.Cache
	logger *zap.Logger
	policy resilience.Policy
	chains map[uint64]model.Chain
}

// New builds a Client. Fails with ErrAPIKeyMissing when no credential is
// supplied.
func New(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, ErrAPIKeyMissing
	}
	c := &Client{
		baseURL:   opts.BaseURL,
		apiKey:    opts.APIKey,
		userAgent: opts.UserAgent,
		httpc:     opts.HTTPClient,
		sched:     opts.Scheduler,
		cache:     opts.Cache,
		logger:    opts.Logger,
		policy:    opts.Policy,
		chains:    opts.Chains,
	}
	if c.baseURL == "" {
		c.baseURL = "https://api.etherscan.io/v2/api"
	}
	if c.userAgent == "" {
		c.userAgent = "midcurve-services/1.0"
	}
	if c.httpc == nil {
		c.httpc = &http.Client{Timeout: 30 * time.Second}
	}
	if c.sched == nil {
		c.sched = scheduler.New("explorer", 220*time.Millisecond, opts.Logger)
	}
	if c.cache == nil {
		c.cache = cache.NewMemory()
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.policy.Retries == 0 {
		c.policy = resilience.DefaultPolicy()
	}
	if c.chains == nil {
		c.chains = map[uint64]model.Chain{}
	}
	return c, nil
}

// Chain resolves the configuration for a chain id.
func (c *Client) Chain(chainID uint64) (model.Chain, error) {
	ch, ok := c.chains[chainID]
	if !ok {
		return model.Chain{}, &ChainNotSupportedError{ChainID: chainID}
	}
	return ch, nil
}

// envelope is the explorer's uniform response shape.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// noRecords reports the "empty result" success case.
func (e *envelope) noRecords() bool {
	return e.Status != "1" && e.Message == "No records found"
}

// apiGet performs one explorer query through the scheduler and retry
// wrapper, classifying the final response.
func (c *Client) apiGet(ctx context.Context, chainID uint64, action string, params url.Values) (*envelope, error) {
	chain, err := c.Chain(chainID)
	if err != nil {
		return nil, err
	}

	params.Set("chainid", strconv.FormatUint(chain.ExplorerProvider, 10))
	params.Set("apikey", c.apiKey)
	reqURL := c.baseURL + "?" + params.Encode()

	resp, err := scheduler.Schedule(ctx, c.sched, func(ctx context.Context) (*http.Response, error) {
		return resilience.Do(ctx, c.logger, "explorer", c.policy, func(ctx context.Context) (*http.Response, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("User-Agent", c.userAgent)
			req.Header.Set("Accept", "application/json")
			return c.httpc.Do(req)
		})
	})
	if err != nil {
		metrics.ExplorerRequests.WithLabelValues(action, "error").Inc()
		return nil, fmt.Errorf("explorer request %s failed: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		// The retry budget is already spent on a response like this.
		metrics.ExplorerRequests.WithLabelValues(action, "rate_limited").Inc()
		return nil, &TransientError{Message: resp.Status}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.ExplorerRequests.WithLabelValues(action, "http_error").Inc()
		return nil, &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseLen))
	if err != nil {
		metrics.ExplorerRequests.WithLabelValues(action, "error").Inc()
		return nil, fmt.Errorf("explorer response read failed: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		metrics.ExplorerRequests.WithLabelValues(action, "error").Inc()
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "unparseable response body"}
	}

	if env.Status != "1" && !env.noRecords() {
		var resultText string
		_ = json.Unmarshal(env.Result, &resultText)
		// A NOTOK that survived the retry budget is a transient failure.
		if env.Message == "NOTOK" && strings.Contains(strings.ToLower(resultText), "max calls per sec") {
			metrics.ExplorerRequests.WithLabelValues(action, "rate_limited").Inc()
			return nil, &TransientError{Message: resultText}
		}
		metrics.ExplorerRequests.WithLabelValues(action, "api_error").Inc()
		msg := env.Message
		if resultText != "" {
			msg = msg + ": " + resultText
		}
		return nil, &APIError{Message: msg}
	}

	metrics.ExplorerRequests.WithLabelValues(action, "ok").Inc()
	return &env, nil
}

// LogFilter narrows a FetchLogs query. A zero FromBlock sends no lower
// bound; a zero ToBlock queries up to the chain head ("latest").
type LogFilter struct {
	FromBlock uint64
	ToBlock   uint64
	Topic0    string
	Topic1    string
	Topic2    string
	Topic3    string
}

// FetchLogs fetches contract event logs matching the filter. "No records
// found" is a success with zero rows.
func (c *Client) FetchLogs(ctx context.Context, chainID uint64, contractAddress string, filter LogFilter) ([]RawLog, error) {
	params := url.Values{}
	params.Set("module", "logs")
	params.Set("action", "getLogs")
	params.Set("address", contractAddress)
	if filter.FromBlock > 0 {
		params.Set("fromBlock", strconv.FormatUint(filter.FromBlock, 10))
	}
	if filter.ToBlock > 0 {
		params.Set("toBlock", strconv.FormatUint(filter.ToBlock, 10))
	} else {
		params.Set("toBlock", "latest")
	}
	topics := []struct{ name, value string }{
		{"topic0", filter.Topic0},
		{"topic1", filter.Topic1},
		{"topic2", filter.Topic2},
		{"topic3", filter.Topic3},
	}
	var present []string
	for _, tp := range topics {
		if tp.value != "" {
			params.Set(tp.name, tp.value)
			present = append(present, tp.name)
		}
	}
	// Adjacent topic filters combine with AND.
	for i := 1; i < len(present); i++ {
		params.Set(fmt.Sprintf("topic%s_%s_opr", present[i-1][5:], present[i][5:]), "and")
	}

	env, err := c.apiGet(ctx, chainID, "getLogs", params)
	if err != nil {
		return nil, err
	}
	if env.noRecords() {
		return nil, nil
	}

	var logs []RawLog
	if err := json.Unmarshal(env.Result, &logs); err != nil {
		return nil, &APIError{Message: "unexpected getLogs result shape"}
	}
	return logs, nil
}

// creationRow is one row of the getcontractcreation result.
type creationRow struct {
	ContractAddress string `json:"contractAddress"`
	ContractCreator string `json:"contractCreator"`
	TxHash          string `json:"txHash"`
	BlockNumber     string `json:"blockNumber"`
}

// ContractCreationBlock returns the block a contract was deployed in. The
// value is effectively immutable and cached for a year.
func (c *Client) ContractCreationBlock(ctx context.Context, chainID uint64, contractAddress string) (uint64, error) {
	key := cache.ContractCreationKey(chainID, contractAddress)
	var cached uint64
	if ok, err := cache.GetJSON(ctx, c.cache, key, &cached); err == nil && ok {
		return cached, nil
	}

	params := url.Values{}
	params.Set("module", "contract")
	params.Set("action", "getcontractcreation")
	params.Set("contractaddresses", contractAddress)

	env, err := c.apiGet(ctx, chainID, "getcontractcreation", params)
	if err != nil {
		return 0, err
	}

	var rows []creationRow
	if err := json.Unmarshal(env.Result, &rows); err != nil || len(rows) == 0 {
		return 0, &APIError{Message: "no contract creation info for " + contractAddress}
	}
	block, err := parseQuantity(rows[0].BlockNumber)
	if err != nil {
		return 0, &APIError{Message: "bad creation block number: " + err.Error()}
	}

	if err := cache.SetJSON(ctx, c.cache, key, block.Uint64(), cache.TTLContractCreation); err != nil {
		c.logger.Warn("failed to cache contract creation block", zap.String("key", key), zap.Error(err))
	}
	return block.Uint64(), nil
}

// BlockNumberByTimestamp resolves the block number closest to a Unix
// timestamp; closest is "before" or "after".
func (c *Client) BlockNumberByTimestamp(ctx context.Context, chainID uint64, timestamp int64, closest string) (uint64, error) {
	if closest != "before" && closest != "after" {
		return 0, fmt.Errorf("closest must be \"before\" or \"after\", got %q", closest)
	}

	params := url.Values{}
	params.Set("module", "block")
	params.Set("action", "getblocknobytime")
	params.Set("timestamp", strconv.FormatInt(timestamp, 10))
	params.Set("closest", closest)

	env, err := c.apiGet(ctx, chainID, "getblocknobytime", params)
	if err != nil {
		return 0, err
	}

	var blockStr string
	if err := json.Unmarshal(env.Result, &blockStr); err != nil {
		return 0, &APIError{Message: "unexpected getblocknobytime result shape"}
	}
	block, err := parseQuantity(blockStr)
	if err != nil {
		return 0, &APIError{Message: "bad block number: " + err.Error()}
	}
	return block.Uint64(), nil
}

// FetchEventsOptions narrows FetchPositionEvents.
type FetchEventsOptions struct {
	FromBlock uint64
	ToBlock   uint64
	Kinds     []EventKind
}

// FetchPositionEvents fetches, decodes, deduplicates, and orders all
// position-manager events for one NFT position. FromBlock defaults to the
// position manager's deployment block; ToBlock to the chain head.
func (c *Client) FetchPositionEvents(ctx context.Context, chainID uint64, nftID *big.Int, opts FetchEventsOptions) ([]*PositionEvent, error) {
	chain, err := c.Chain(chainID)
	if err != nil {
		return nil, err
	}
	manager := chain.PositionManager.Hex()

	fromBlock := opts.FromBlock
	if fromBlock == 0 {
		fromBlock, err = c.ContractCreationBlock(ctx, chainID, manager)
		if err != nil {
			return nil, err
		}
	}

	kinds := opts.Kinds
	if len(kinds) == 0 {
		kinds = AllEventKinds
	}
	topic1 := PaddedTokenID(nftID)

	var events []*PositionEvent
	for _, kind := range kinds {
		logs, err := c.FetchLogs(ctx, chainID, manager, LogFilter{
			FromBlock: fromBlock,
			ToBlock:   opts.ToBlock,
			Topic0:    kind.Topic().Hex(),
			Topic1:    topic1,
		})
		if err != nil {
			return nil, err
		}
		for _, log := range logs {
			ev, err := ParsePositionLog(log)
			if err != nil {
				return nil, err
			}
			events = append(events, ev)
		}
	}

	events = DedupeAndSortEvents(events)
	c.logger.Debug("fetched position events",
		zap.Uint64("chain_id", chainID),
		zap.String("nft_id", nftID.String()),
		zap.Int("events", len(events)))
	return events, nil
}
