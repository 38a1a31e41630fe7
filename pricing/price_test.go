package pricing

import (
	"math/big"
	"testing"
)

func bigInt(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad test integer " + s)
	}
	return n
}

var q96 = new(big.Int).Lsh(big.NewInt(1), 96)

// sqrtPriceFor returns the largest sqrtPriceX96 whose squared ratio does not
// exceed priceQuote (quote base-units per whole base token) under the
// token1-quote formula.
func sqrtPriceFor(priceQuote *big.Int, dec0 uint8) *big.Int {
	// sqrtP = isqrt(price * 2^192 / 10^dec0)
	n := new(big.Int).Lsh(priceQuote, 192)
	n.Quo(n, Pow10(dec0))
	return n.Sqrt(n)
}

func TestQuotePriceExactPowersOfTwo(t *testing.T) {
	tests := []struct {
		name          string
		sqrtPriceX96  *big.Int
		dec0, dec1    uint8
		isToken0Quote bool
		want          *big.Int
	}{
		{"parity pool at one", q96, 18, 18, false, bigInt("1000000000000000000")},
		{"parity pool at four", new(big.Int).Lsh(q96, 1), 18, 18, false, bigInt("4000000000000000000")},
		{"token0 quote inverts", new(big.Int).Lsh(q96, 1), 18, 18, true, bigInt("250000000000000000")},
		{"zero sqrt price", big.NewInt(0), 18, 6, false, big.NewInt(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := QuotePrice(tt.sqrtPriceX96, tt.dec0, tt.dec1, tt.isToken0Quote)
			if got.Cmp(tt.want) != 0 {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

// WETH/USDC at 2000: the derived integer must land within one base-unit of
// 2000e6 given a floor-rounded sqrt input, and must never exceed it.
func TestQuotePriceWethUsdc(t *testing.T) {
	want := bigInt("2000000000") // 2000 USDC in base units
	sqrtP := sqrtPriceFor(want, 18)

	got := QuotePrice(sqrtP, 18, 6, false)
	diff := new(big.Int).Sub(want, got)
	if diff.Sign() < 0 || diff.Cmp(big.NewInt(1)) > 0 {
		t.Errorf("got %s, want %s within one unit below", got, want)
	}
}

func TestQuotePriceMonotone(t *testing.T) {
	base := sqrtPriceFor(bigInt("2000000000"), 18)

	prev := QuotePrice(base, 18, 6, false)
	for i := 1; i <= 5; i++ {
		bumped := new(big.Int).Add(base, big.NewInt(int64(i*1_000_000_000)))
		cur := QuotePrice(bumped, 18, 6, false)
		if cur.Cmp(prev) < 0 {
			t.Fatalf("price not monotone: %s after %s", cur, prev)
		}
		prev = cur
	}
}

func TestValueInQuote(t *testing.T) {
	tests := []struct {
		name             string
		amount0, amount1 *big.Int
		price            *big.Int
		dec0, dec1       uint8
		isToken0Quote    bool
		want             *big.Int
	}{
		{
			// Scenario A event 1: 0.5 WETH + 1000 USDC at 2000 USDC/WETH.
			name:    "token1 quote",
			amount0: bigInt("500000000000000000"),
			amount1: bigInt("1000000000"),
			price:   bigInt("2000000000"),
			dec0:    18, dec1: 6,
			isToken0Quote: false,
			want:          bigInt("2000000000"),
		},
		{
			// Scenario A event 2 at 2200.
			name:    "token1 quote after price move",
			amount0: bigInt("250000000000000000"),
			amount1: bigInt("550000000"),
			price:   bigInt("2200000000"),
			dec0:    18, dec1: 6,
			isToken0Quote: false,
			want:          bigInt("1100000000"),
		},
		{
			name:    "token0 quote",
			amount0: bigInt("1000000"),
			amount1: bigInt("2000000000000000000"),
			price:   bigInt("500000"), // 0.5 token0 per whole token1
			dec0:    6, dec1: 18,
			isToken0Quote: true,
			want:          bigInt("2000000"),
		},
		{
			name:    "nil amounts treated as zero",
			amount0: nil,
			amount1: nil,
			price:   bigInt("2000000000"),
			dec0:    18, dec1: 6,
			isToken0Quote: false,
			want:          big.NewInt(0),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValueInQuote(tt.amount0, tt.amount1, tt.price, tt.dec0, tt.dec1, tt.isToken0Quote)
			if got.Cmp(tt.want) != 0 {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestTokenValueInQuote(t *testing.T) {
	price := bigInt("2200000000")

	// 0.01 WETH of fees at 2200 USDC/WETH = 22 USDC.
	got := TokenValueInQuote(bigInt("10000000000000000"), false, price, 18)
	if got.Cmp(bigInt("22000000")) != 0 {
		t.Errorf("base-token fee value = %s, want 22000000", got)
	}

	// Quote-token fees pass through.
	got = TokenValueInQuote(bigInt("20000000"), true, price, 18)
	if got.Cmp(bigInt("20000000")) != 0 {
		t.Errorf("quote-token fee value = %s, want 20000000", got)
	}
}
