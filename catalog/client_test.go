package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xNedAlbo/midcurve-services/cache"
	"github.com/0xNedAlbo/midcurve-services/model"
	"github.com/0xNedAlbo/midcurve-services/resilience"
	"github.com/0xNedAlbo/midcurve-services/scheduler"
)

func testCatalog(t *testing.T, handler http.Handler) (*Client, cache.Cache) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	sched := scheduler.New("catalog-test", 0, nil)
	t.Cleanup(sched.Close)

	mem := cache.NewMemory()
	return New(Options{
		BaseURL:   srv.URL,
		Scheduler: sched,
		Cache:     mem,
		Policy:    resilience.Policy{Retries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}), mem
}

const listBody = `[
	{"id":"ethereum","symbol":"eth","name":"Ethereum","platforms":{}},
	{"id":"usd-coin","symbol":"usdc","name":"USDC","platforms":{"ethereum":"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48","base":"0x833589fcd6edb6e08f4c7c32d4f71b54bda02913"}}
]`

func TestAllTokensCached(t *testing.T) {
	var calls int32
	c, _ := testCatalog(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path != "/coins/list" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(listBody))
	}))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		tokens, err := c.AllTokens(ctx)
		if err != nil {
			t.Fatalf("AllTokens failed: %v", err)
		}
		if len(tokens) != 2 {
			t.Fatalf("got %d tokens, want 2", len(tokens))
		}
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("provider calls = %d, want 1 (catalogue cached)", n)
	}
}

func TestFindByAddressMatchesCaseInsensitively(t *testing.T) {
	c, _ := testCatalog(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(listBody))
	}))

	token, err := c.FindByAddress(context.Background(), 1, "0xA0b86991C6218b36c1d19D4a2e9Eb0cE3606eB48")
	if err != nil {
		t.Fatalf("FindByAddress failed: %v", err)
	}
	if token.ID != "usd-coin" {
		t.Errorf("id = %s, want usd-coin", token.ID)
	}

	if _, err := c.FindByAddress(context.Background(), 1, "0x0000000000000000000000000000000000000001"); err == nil {
		t.Error("unknown address matched a listing")
	}
}

type fakeEnricher struct {
	id        string
	logoURL   string
	marketCap *model.BigInt
}

func (f *fakeEnricher) UpdateTokenEnrichment(_ context.Context, id, logoURL string, marketCap *model.BigInt) error {
	f.id, f.logoURL, f.marketCap = id, logoURL, marketCap
	return nil
}

func TestEnrichToken(t *testing.T) {
	c, _ := testCatalog(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/coins/list":
			w.Write([]byte(listBody))
		case "/coins/usd-coin":
			w.Write([]byte(`{"id":"usd-coin","image":{"large":"https://img/usdc.png"},"market_data":{"market_cap":{"usd":25123456789.55}}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	token := &model.Token{
		ID:      "token-usdc",
		ChainID: 1,
		Address: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9eb0cE3606eB48"),
	}
	enricher := &fakeEnricher{}
	if err := c.EnrichToken(context.Background(), token, enricher); err != nil {
		t.Fatalf("EnrichToken failed: %v", err)
	}
	if enricher.id != "token-usdc" {
		t.Errorf("enriched id = %s", enricher.id)
	}
	if enricher.logoURL != "https://img/usdc.png" {
		t.Errorf("logo = %s", enricher.logoURL)
	}
	if enricher.marketCap == nil || enricher.marketCap.String() != "25123456789" {
		t.Errorf("market cap = %v, want 25123456789", enricher.marketCap)
	}
}

func TestMarketsBatchUsesSortedCacheKey(t *testing.T) {
	var calls int32
	c, mem := testCatalog(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`[{"id":"ethereum","market_cap":400000000000}]`))
	}))
	ctx := context.Background()

	if _, err := c.MarketsBatch(ctx, []string{"usd-coin", "ethereum"}); err != nil {
		t.Fatalf("MarketsBatch failed: %v", err)
	}
	// The same set in a different order must hit the cache.
	if _, err := c.MarketsBatch(ctx, []string{"ethereum", "usd-coin"}); err != nil {
		t.Fatalf("second MarketsBatch failed: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("provider calls = %d, want 1", n)
	}

	if _, ok, _ := mem.Get(ctx, "catalog:markets:ethereum,usd-coin"); !ok {
		t.Error("sorted markets key absent from cache")
	}
}
