package prices

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xNedAlbo/midcurve-services/model"
)

type fakeSampleStore struct {
	samples map[string]*model.PoolPriceSample
	inserts int
}

func key(poolID string, block uint64) string {
	return fmt.Sprintf("%s@%d", poolID, block)
}

func (f *fakeSampleStore) GetSample(_ context.Context, poolID string, block uint64) (*model.PoolPriceSample, error) {
	s, ok := f.samples[key(poolID, block)]
	if !ok {
		return nil, model.ErrNotFound
	}
	return s, nil
}

func (f *fakeSampleStore) InsertSample(_ context.Context, s *model.PoolPriceSample) (*model.PoolPriceSample, error) {
	f.inserts++
	k := key(s.PoolID, s.BlockNumber)
	if existing, ok := f.samples[k]; ok {
		// Unique-key conflict resolves by returning the stored row.
		return existing, nil
	}
	f.samples[k] = s
	return s, nil
}

type fakeChain struct {
	slot0Calls int
	sqrtPrice  *big.Int
	err        error
}

func (f *fakeChain) Slot0At(_ context.Context, _ uint64, _ common.Address, _ uint64) (*big.Int, error) {
	f.slot0Calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.sqrtPrice, nil
}

func (f *fakeChain) BlockTimestamp(_ context.Context, _ uint64, block uint64) (time.Time, error) {
	return time.Unix(1_693_000_000+int64(block), 0).UTC(), nil
}

func testPool() *model.Pool {
	return &model.Pool{
		ID:      "pool-1",
		ChainID: 1,
		Address: common.HexToAddress("0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640"),
	}
}

func TestHistoricPriceReadsChainOnceThenStore(t *testing.T) {
	store := &fakeSampleStore{samples: map[string]*model.PoolPriceSample{}}
	chain := &fakeChain{sqrtPrice: big.NewInt(42)}
	svc := NewService(store, chain, nil)
	ctx := context.Background()

	first, err := svc.HistoricPrice(ctx, testPool(), 18_000_000)
	if err != nil {
		t.Fatalf("HistoricPrice failed: %v", err)
	}
	if first.SqrtPriceX96.String() != "42" {
		t.Errorf("sqrtPrice = %s, want 42", first.SqrtPriceX96)
	}
	if first.Timestamp.Unix() != 1_693_000_000+18_000_000 {
		t.Errorf("timestamp = %d", first.Timestamp.Unix())
	}

	second, err := svc.HistoricPrice(ctx, testPool(), 18_000_000)
	if err != nil {
		t.Fatalf("second HistoricPrice failed: %v", err)
	}
	if chain.slot0Calls != 1 {
		t.Errorf("slot0 calls = %d, want 1 (second read served from store)", chain.slot0Calls)
	}
	if second.SqrtPriceX96.String() != first.SqrtPriceX96.String() {
		t.Error("stored sample differs from fresh sample")
	}
}

func TestHistoricPricePropagatesRPCError(t *testing.T) {
	store := &fakeSampleStore{samples: map[string]*model.PoolPriceSample{}}
	wantErr := errors.New("archive node unavailable")
	svc := NewService(store, &fakeChain{err: wantErr}, nil)

	_, err := svc.HistoricPrice(context.Background(), testPool(), 1)
	if !errors.Is(err, wantErr) {
		t.Errorf("got %v, want %v", err, wantErr)
	}
	if store.inserts != 0 {
		t.Error("sample persisted despite RPC failure")
	}
}
