package ledger

import (
	"math/big"
	"strings"

	"github.com/0xNedAlbo/midcurve-services/explorer"
	"github.com/0xNedAlbo/midcurve-services/model"
	"github.com/0xNedAlbo/midcurve-services/pricing"
)

// tally is the running financial state folded across a position's events.
// All values are unbounded integers in the smallest unit of their token;
// costBasis and pnl are quote-denominated.
type tally struct {
	liquidity             *big.Int
	costBasis             *big.Int
	pnl                   *big.Int
	uncollectedPrincipal0 *big.Int
	uncollectedPrincipal1 *big.Int
}

func zeroTally() tally {
	return tally{
		liquidity:             new(big.Int),
		costBasis:             new(big.Int),
		pnl:                   new(big.Int),
		uncollectedPrincipal0: new(big.Int),
		uncollectedPrincipal1: new(big.Int),
	}
}

// tallyFromEntry rebuilds the running state from the last persisted entry.
func tallyFromEntry(e *Entry) tally {
	return tally{
		liquidity:             e.Config.LiquidityAfter.Unwrap(),
		costBasis:             e.CostBasisAfter.Unwrap(),
		pnl:                   e.PnlAfter.Unwrap(),
		uncollectedPrincipal0: e.Config.UncollectedPrincipal0After.Unwrap(),
		uncollectedPrincipal1: e.Config.UncollectedPrincipal1After.Unwrap(),
	}
}

// buildEntry folds one decoded event into the chain, producing the ledger
// entry and the state the next event folds onto. The pool price is the
// historic sqrt-price at the event's block, never the live price.
func buildEntry(prev tally, ev *explorer.PositionEvent, pos *model.Position, pool *model.Pool, sample *model.PoolPriceSample) (*Entry, tally, error) {
	dec0 := pool.Token0.Decimals
	dec1 := pool.Token1.Decimals
	price := pricing.QuotePrice(sample.SqrtPriceX96.Unwrap(), dec0, dec1, pos.IsToken0Quote)

	entry := &Entry{
		PositionID: pos.ID,
		Protocol:   pos.Protocol,
		Timestamp:  ev.Timestamp,
		InputHash:  InputHash(ev.BlockNumber, ev.TxIndex, ev.LogIndex),

		PoolPrice:    model.BigIntFrom(price),
		Token0Amount: model.BigIntFrom(ev.Amount0),
		Token1Amount: model.BigIntFrom(ev.Amount1),

		Config: EntryConfig{
			ChainID:      pos.ChainID,
			NFTID:        model.BigIntFrom(ev.TokenID),
			BlockNumber:  ev.BlockNumber,
			TxIndex:      ev.TxIndex,
			LogIndex:     ev.LogIndex,
			TxHash:       strings.ToLower(ev.TxHash.Hex()),
			SqrtPriceX96: model.BigIntFrom(sample.SqrtPriceX96.Unwrap()),
		},
		State: EntryState{
			TokenID: model.BigIntFrom(ev.TokenID),
			Amount0: model.BigIntFrom(ev.Amount0),
			Amount1: model.BigIntFrom(ev.Amount1),
		},
	}

	next := tally{
		liquidity:             new(big.Int).Set(prev.liquidity),
		costBasis:             new(big.Int).Set(prev.costBasis),
		pnl:                   new(big.Int).Set(prev.pnl),
		uncollectedPrincipal0: new(big.Int).Set(prev.uncollectedPrincipal0),
		uncollectedPrincipal1: new(big.Int).Set(prev.uncollectedPrincipal1),
	}

	switch ev.Kind {
	case explorer.EventIncreaseLiquidity:
		entry.EventType = EventTypeIncrease
		entry.State.Kind = "increaseLiquidity"
		entry.State.Liquidity = model.BigIntFrom(ev.Liquidity)

		next.liquidity.Add(next.liquidity, ev.Liquidity)

		value := pricing.ValueInQuote(ev.Amount0, ev.Amount1, price, dec0, dec1, pos.IsToken0Quote)
		next.costBasis.Add(next.costBasis, value)

		entry.TokenValue = model.BigIntFrom(value)
		entry.DeltaCostBasis = model.BigIntFrom(value)
		entry.DeltaPnl = model.NewBigInt(0)
		entry.Config.DeltaL = model.BigIntFrom(ev.Liquidity)

	case explorer.EventDecreaseLiquidity:
		entry.EventType = EventTypeDecrease
		entry.State.Kind = "decreaseLiquidity"
		entry.State.Liquidity = model.BigIntFrom(ev.Liquidity)

		if prev.liquidity.Sign() <= 0 {
			return nil, tally{}, invariantf("decrease at block %d before any increase", ev.BlockNumber)
		}
		if ev.Liquidity.Cmp(prev.liquidity) > 0 {
			return nil, tally{}, invariantf("decrease of %s exceeds position liquidity %s at block %d",
				ev.Liquidity, prev.liquidity, ev.BlockNumber)
		}
		next.liquidity.Sub(next.liquidity, ev.Liquidity)

		// Remove basis proportionally to the liquidity withdrawn.
		proportionalCost := new(big.Int).Mul(prev.costBasis, ev.Liquidity)
		proportionalCost.Quo(proportionalCost, prev.liquidity)
		next.costBasis.Sub(next.costBasis, proportionalCost)

		value := pricing.ValueInQuote(ev.Amount0, ev.Amount1, price, dec0, dec1, pos.IsToken0Quote)
		deltaPnl := new(big.Int).Sub(value, proportionalCost)
		next.pnl.Add(next.pnl, deltaPnl)

		next.uncollectedPrincipal0.Add(next.uncollectedPrincipal0, ev.Amount0)
		next.uncollectedPrincipal1.Add(next.uncollectedPrincipal1, ev.Amount1)

		entry.TokenValue = model.BigIntFrom(value)
		entry.DeltaCostBasis = model.BigIntFrom(new(big.Int).Neg(proportionalCost))
		entry.DeltaPnl = model.BigIntFrom(deltaPnl)
		entry.Config.DeltaL = model.BigIntFrom(new(big.Int).Neg(ev.Liquidity))

	case explorer.EventCollect:
		entry.EventType = EventTypeCollect
		entry.State.Kind = "collect"
		entry.State.Recipient = strings.ToLower(ev.Recipient.Hex())

		// Collects draw from uncollected principal first; the remainder
		// is fees.
		principal0 := minBig(ev.Amount0, prev.uncollectedPrincipal0)
		principal1 := minBig(ev.Amount1, prev.uncollectedPrincipal1)
		fee0 := new(big.Int).Sub(ev.Amount0, principal0)
		fee1 := new(big.Int).Sub(ev.Amount1, principal1)

		next.uncollectedPrincipal0.Sub(next.uncollectedPrincipal0, principal0)
		next.uncollectedPrincipal1.Sub(next.uncollectedPrincipal1, principal1)

		if fee0.Sign() > 0 {
			entry.Rewards = append(entry.Rewards, Reward{
				TokenID:     pool.Token0.ID,
				TokenAmount: model.BigIntFrom(fee0),
				TokenValue:  model.BigIntFrom(pricing.TokenValueInQuote(fee0, pos.IsToken0Quote, price, dec0)),
			})
		}
		if fee1.Sign() > 0 {
			entry.Rewards = append(entry.Rewards, Reward{
				TokenID:     pool.Token1.ID,
				TokenAmount: model.BigIntFrom(fee1),
				TokenValue:  model.BigIntFrom(pricing.TokenValueInQuote(fee1, !pos.IsToken0Quote, price, dec1)),
			})
		}

		entry.TokenValue = model.BigIntFrom(pricing.ValueInQuote(ev.Amount0, ev.Amount1, price, dec0, dec1, pos.IsToken0Quote))
		entry.DeltaCostBasis = model.NewBigInt(0)
		entry.DeltaPnl = model.NewBigInt(0)
		entry.Config.DeltaL = model.NewBigInt(0)
		entry.Config.FeesCollected0 = model.BigIntFrom(fee0)
		entry.Config.FeesCollected1 = model.BigIntFrom(fee1)

	default:
		return nil, tally{}, invariantf("unknown event kind %q", ev.Kind)
	}

	if entry.Config.FeesCollected0 == nil {
		entry.Config.FeesCollected0 = model.NewBigInt(0)
		entry.Config.FeesCollected1 = model.NewBigInt(0)
	}
	entry.Config.LiquidityAfter = model.BigIntFrom(next.liquidity)
	entry.Config.UncollectedPrincipal0After = model.BigIntFrom(next.uncollectedPrincipal0)
	entry.Config.UncollectedPrincipal1After = model.BigIntFrom(next.uncollectedPrincipal1)
	entry.CostBasisAfter = model.BigIntFrom(next.costBasis)
	entry.PnlAfter = model.BigIntFrom(next.pnl)

	return entry, next, nil
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
