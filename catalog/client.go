// Package catalog is the thin cached client for the third-party token
// catalogue used to enrich token rows with logos and market caps. The
// provider's rate budget is far tighter than the explorer's, so its
// scheduler spacing is an order of magnitude wider.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/0xNedAlbo/midcurve-services/cache"
	"github.com/0xNedAlbo/midcurve-services/model"
	"github.com/0xNedAlbo/midcurve-services/resilience"
	"github.com/0xNedAlbo/midcurve-services/scheduler"
)

// platformByChain maps chain ids to the catalogue's platform slugs.
var platformByChain = map[uint64]string{
	1:     "ethereum",
	42161: "arbitrum-one",
	8453:  "base",
	10:    "optimistic-ethereum",
	137:   "polygon-pos",
}

// Token is one catalogue listing with its per-platform contract addresses.
type Token struct {
	ID        string            `json:"id"`
	Symbol    string            `json:"symbol"`
	Name      string            `json:"name"`
	Platforms map[string]string `json:"platforms"`
}

// CoinDetail is the detailed listing of one coin.
type CoinDetail struct {
	ID    string `json:"id"`
	Image struct {
		Large string `json:"large"`
	} `json:"image"`
	MarketData struct {
		MarketCap map[string]json.Number `json:"market_cap"`
	} `json:"market_data"`
}

// CoinMarket is one row of a batched market lookup.
type CoinMarket struct {
	ID        string      `json:"id"`
	MarketCap json.Number `json:"market_cap"`
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Scheduler  *scheduler.Scheduler
	Cache      cache.Cache
	Logger     *zap.Logger
	Policy     resilience.Policy
}

// Client fetches catalogue data through the slow scheduler and the shared
// retry wrapper, memoizing every read in the distributed cache.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	sched   *scheduler.Scheduler
	cache   cache.Cache
	logger  *zap.Logger
	policy  resilience.Policy
}

// New builds a catalogue client.
func New(opts Options) *Client {
	c := &Client{
		baseURL: opts.BaseURL,
		apiKey:  opts.APIKey,
		httpc:   opts.HTTPClient,
		sched:   opts.Scheduler,
		cache:   opts.Cache,
		logger:  opts.Logger,
		policy:  opts.Policy,
	}
	if c.baseURL == "" {
		c.baseURL = "https://api.coingecko.com/api/v3"
	}
	if c.httpc == nil {
		c.httpc = &http.Client{Timeout: 30 * time.Second}
	}
	if c.sched == nil {
		c.sched = scheduler.New("catalog", 2200*time.Millisecond, opts.Logger)
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
	return c
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	if c.apiKey != "" {
		params.Set("x_cg_demo_api_key", c.apiKey)
	}
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	resp, err := scheduler.Schedule(ctx, c.sched, func(ctx context.Context) (*http.Response, error) {
		return resilience.Do(ctx, c.logger, "catalog", c.policy, func(ctx context.Context) (*http.Response, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Accept", "application/json")
			return c.httpc.Do(req)
		})
	})
	if err != nil {
		return fmt.Errorf("catalog request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("catalog request %s returned status %d", path, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("catalog response read failed: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("catalog response for %s unparseable: %w", path, err)
	}
	return nil
}

// AllTokens returns the full catalogue, cached for an hour.
func (c *Client) AllTokens(ctx context.Context) ([]Token, error) {
	key := cache.TokenCatalogKey()
	var tokens []Token
	if ok, err := cache.GetJSON(ctx, c.cache, key, &tokens); err == nil && ok {
		return tokens, nil
	}

	params := url.Values{}
	params.Set("include_platform", "true")
	if err := c.get(ctx, "/coins/list", params, &tokens); err != nil {
		return nil, err
	}

	if err := cache.SetJSON(ctx, c.cache, key, tokens, cache.TTLTokenCatalog); err != nil {
		c.logger.Warn("failed to cache token catalogue", zap.Error(err))
	}
	return tokens, nil
}

// Coin returns one detailed listing, cached for an hour.
func (c *Client) Coin(ctx context.Context, coinID string) (*CoinDetail, error) {
	key := cache.CoinKey(coinID)
	var detail CoinDetail
	if ok, err := cache.GetJSON(ctx, c.cache, key, &detail); err == nil && ok {
		return &detail, nil
	}

	params := url.Values{}
	params.Set("localization", "false")
	params.Set("tickers", "false")
	if err := c.get(ctx, "/coins/"+url.PathEscape(coinID), params, &detail); err != nil {
		return nil, err
	}

	if err := cache.SetJSON(ctx, c.cache, key, detail, cache.TTLCoinDetail); err != nil {
		c.logger.Warn("failed to cache coin detail", zap.String("coin", coinID), zap.Error(err))
	}
	return &detail, nil
}

// MarketsBatch returns market rows for a set of coins, cached per sorted
// id set.
func (c *Client) MarketsBatch(ctx context.Context, coinIDs []string) ([]CoinMarket, error) {
	if len(coinIDs) == 0 {
		return nil, nil
	}
	key := cache.MarketsKey(coinIDs)
	var markets []CoinMarket
	if ok, err := cache.GetJSON(ctx, c.cache, key, &markets); err == nil && ok {
		return markets, nil
	}

	params := url.Values{}
	params.Set("vs_currency", "usd")
	params.Set("ids", strings.Join(coinIDs, ","))
	if err := c.get(ctx, "/coins/markets", params, &markets); err != nil {
		return nil, err
	}

	if err := cache.SetJSON(ctx, c.cache, key, markets, cache.TTLMarketsBatch); err != nil {
		c.logger.Warn("failed to cache market batch", zap.Error(err))
	}
	return markets, nil
}

// FindByAddress looks a token up in the catalogue by its contract address
// on a chain. Returns ErrNotFound when the catalogue has no listing.
func (c *Client) FindByAddress(ctx context.Context, chainID uint64, address string) (*Token, error) {
	platform, ok := platformByChain[chainID]
	if !ok {
		return nil, fmt.Errorf("chain %d has no catalogue platform: %w", chainID, model.ErrNotFound)
	}
	tokens, err := c.AllTokens(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(address)
	for i := range tokens {
		if strings.ToLower(tokens[i].Platforms[platform]) == needle {
			return &tokens[i], nil
		}
	}
	return nil, model.ErrNotFound
}

// marketCapToBigInt truncates a catalogue market cap to an integer.
func marketCapToBigInt(n json.Number) (*model.BigInt, error) {
	s := n.String()
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	if s == "" || s == "-" {
		s = "0"
	}
	return model.BigIntFromString(s)
}

// TokenEnricher persists enrichment results.
type TokenEnricher interface {
	UpdateTokenEnrichment(ctx context.Context, id, logoURL string, marketCap *model.BigInt) error
}

// EnrichToken resolves a token's catalogue listing and stores its logo and
// market cap. Tokens without a listing are left untouched.
func (c *Client) EnrichToken(ctx context.Context, token *model.Token, enricher TokenEnricher) error {
	listing, err := c.FindByAddress(ctx, token.ChainID, token.Address.Hex())
	if err != nil {
		return err
	}
	detail, err := c.Coin(ctx, listing.ID)
	if err != nil {
		return err
	}

	var marketCap *model.BigInt
	if usd, ok := detail.MarketData.MarketCap["usd"]; ok {
		if marketCap, err = marketCapToBigInt(usd); err != nil {
			return fmt.Errorf("catalogue market cap for %s unparseable: %w", listing.ID, err)
		}
	}
	return enricher.UpdateTokenEnrichment(ctx, token.ID, detail.Image.Large, marketCap)
}
