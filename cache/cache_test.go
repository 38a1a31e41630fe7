package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	val, ok, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok || string(val) != "v" {
		t.Errorf("got (%q, %v), want (v, true)", val, ok)
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("key survived Delete")
	}
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	c.Set(ctx, "k", []byte("v"), 10*time.Millisecond)
	time.Sleep(25 * time.Millisecond)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("entry survived its TTL")
	}
}

func TestMemoryClearPrefix(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	c.Set(ctx, "catalog:coin:eth", []byte("1"), 0)
	c.Set(ctx, "catalog:coin:btc", []byte("2"), 0)
	c.Set(ctx, "explorer:contract-creation:1:0xabc", []byte("3"), 0)

	if err := c.Clear(ctx, "catalog:"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "catalog:coin:eth"); ok {
		t.Error("catalog key survived Clear")
	}
	if _, ok, _ := c.Get(ctx, "explorer:contract-creation:1:0xabc"); !ok {
		t.Error("unrelated key removed by Clear")
	}
}

func TestKeyLayout(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"contract creation lowercases", ContractCreationKey(42161, "0xC36442b4a4522E871399CD717aBDD847Ab11FE88"), "explorer:contract-creation:42161:0xc36442b4a4522e871399cd717abdd847ab11fe88"},
		{"token catalog", TokenCatalogKey(), "catalog:tokens:all"},
		{"coin", CoinKey("ethereum"), "catalog:coin:ethereum"},
		{"markets sorts ids", MarketsKey([]string{"usd-coin", "ethereum"}), "catalog:markets:ethereum,usd-coin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestGetSetJSON(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	type sample struct {
		Block uint64 `json:"block"`
	}
	if err := SetJSON(ctx, c, "k", sample{Block: 18000000}, time.Minute); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}

	var out sample
	ok, err := GetJSON(ctx, c, "k", &out)
	if err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if !ok || out.Block != 18000000 {
		t.Errorf("got (%+v, %v), want block 18000000", out, ok)
	}

	if ok, _ := GetJSON(ctx, c, "absent", &out); ok {
		t.Error("GetJSON reported hit for absent key")
	}
}
