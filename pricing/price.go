// Package pricing derives quote-denominated integer prices from a pool's
// sqrtPriceX96. All arithmetic is unbounded big.Int; floating point never
// touches the price path.
package pricing

import (
	"math/big"
)

// q192 = 2^192, the square of the Q64.96 fixed-point one.
var q192 = new(big.Int).Lsh(big.NewInt(1), 192)

// Pow10 returns 10^n as a big.Int.
func Pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// QuotePrice converts sqrtPriceX96 into an integer price expressed in quote
// base-units per one whole base token. The raw pool ratio is
// sqrtPriceX96^2 / 2^192 token1-units per token0-unit; numerators are
// multiplied out before the single division so no precision is lost. For a
// fixed (dec0, dec1, isToken0Quote) the result is deterministic and
// monotone in sqrtPriceX96.
func QuotePrice(sqrtPriceX96 *big.Int, dec0, dec1 uint8, isToken0Quote bool) *big.Int {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return new(big.Int)
	}
	sq := new(big.Int).Mul(sqrtPriceX96, sqrtPriceX96)

	if isToken0Quote {
		// token0 is quote: price = 2^192 * 10^dec1 / sqrtP^2.
		num := new(big.Int).Mul(q192, Pow10(dec1))
		return num.Quo(num, sq)
	}
	// token1 is quote: price = sqrtP^2 * 10^dec0 / 2^192.
	num := sq.Mul(sq, Pow10(dec0))
	return num.Quo(num, q192)
}

// ValueInQuote values an (amount0, amount1) pair in quote base-units at
// price (quote base-units per one whole base token).
func ValueInQuote(amount0, amount1, price *big.Int, dec0, dec1 uint8, isToken0Quote bool) *big.Int {
	if amount0 == nil {
		amount0 = new(big.Int)
	}
	if amount1 == nil {
		amount1 = new(big.Int)
	}
	if price == nil {
		price = new(big.Int)
	}

	if isToken0Quote {
		// value = amount0 + amount1 * price / 10^dec1
		v := new(big.Int).Mul(amount1, price)
		v.Quo(v, Pow10(dec1))
		return v.Add(v, amount0)
	}
	// value = amount1 + amount0 * price / 10^dec0
	v := new(big.Int).Mul(amount0, price)
	v.Quo(v, Pow10(dec0))
	return v.Add(v, amount1)
}

// TokenValueInQuote values a single-token amount in quote base-units.
// Quote-token amounts pass through unchanged; base-token amounts are
// converted at price.
func TokenValueInQuote(amount *big.Int, isQuoteToken bool, price *big.Int, baseDecimals uint8) *big.Int {
	if amount == nil {
		return new(big.Int)
	}
	if isQuoteToken {
		return new(big.Int).Set(amount)
	}
	v := new(big.Int).Mul(amount, price)
	return v.Quo(v, Pow10(baseDecimals))
}
