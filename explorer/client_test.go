package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
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

var testChains = map[uint64]model.Chain{
	1: {
		ChainID:          1,
		Name:             "ethereum",
		PositionManager:  common.HexToAddress("0xC36442b4a4522E871399CD717aBDD847Ab11FE88"),
		ExplorerProvider: 1,
	},
}

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	sched := scheduler.New("explorer-test", 0, nil)
	t.Cleanup(sched.Close)

	c, err := New(Options{
		BaseURL:   srv.URL,
		APIKey:    "test-key",
		Scheduler: sched,
		Cache:     cache.NewMemory(),
		Chains:    testChains,
		Policy:    resilience.Policy{Retries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c, srv
}

func writeEnvelope(w http.ResponseWriter, status, message string, result any) {
	raw, _ := json.Marshal(result)
	json.NewEncoder(w).Encode(map[string]json.RawMessage{
		"status":  json.RawMessage(`"` + status + `"`),
		"message": json.RawMessage(`"` + message + `"`),
		"result":  raw,
	})
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(Options{})
	if !errors.Is(err, ErrAPIKeyMissing) {
		t.Errorf("got %v, want ErrAPIKeyMissing", err)
	}
}

func TestFetchLogsUnsupportedChain(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	_, err := c.FetchLogs(context.Background(), 999, "0xabc", LogFilter{})
	var chainErr *ChainNotSupportedError
	if !errors.As(err, &chainErr) {
		t.Fatalf("got %v, want ChainNotSupportedError", err)
	}
	if chainErr.ChainID != 999 {
		t.Errorf("chainID = %d, want 999", chainErr.ChainID)
	}
}

func TestFetchLogsNoRecordsIsEmptySuccess(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, "0", "No records found", []RawLog{})
	}))

	logs, err := c.FetchLogs(context.Background(), 1, "0xabc", LogFilter{Topic0: TopicCollect.Hex()})
	if err != nil {
		t.Fatalf("FetchLogs failed: %v", err)
	}
	if len(logs) != 0 {
		t.Errorf("got %d logs, want 0", len(logs))
	}
}

func TestFetchLogsQueryParameters(t *testing.T) {
	var gotQuery map[string]string
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{}
		for k, v := range r.URL.Query() {
			gotQuery[k] = v[0]
		}
		writeEnvelope(w, "1", "OK", []RawLog{})
	}))

	_, err := c.FetchLogs(context.Background(), 1, "0xmanager", LogFilter{
		FromBlock: 17000000,
		Topic0:    TopicIncreaseLiquidity.Hex(),
		Topic1:    PaddedTokenID(big.NewInt(123456)),
	})
	if err != nil {
		t.Fatalf("FetchLogs failed: %v", err)
	}

	want := map[string]string{
		"chainid":      "1",
		"module":       "logs",
		"action":       "getLogs",
		"address":      "0xmanager",
		"fromBlock":    "17000000",
		"toBlock":      "latest",
		"topic0":       TopicIncreaseLiquidity.Hex(),
		"topic1":       "0x000000000000000000000000000000000000000000000000000000000001e240",
		"topic0_1_opr": "and",
		"apikey":       "test-key",
	}
	for k, v := range want {
		if gotQuery[k] != v {
			t.Errorf("query %s = %q, want %q", k, gotQuery[k], v)
		}
	}
}

// Scenario D: two rate-limited 200s, then success with two logs.
func TestFetchLogsRetriesRateLimitedOK(t *testing.T) {
	var calls int32
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			writeEnvelope(w, "0", "NOTOK", "Max calls per sec rate limit reached")
			return
		}
		writeEnvelope(w, "1", "OK", []RawLog{increaseLog(100, 1, 0), increaseLog(100, 1, 1)})
	}))

	logs, err := c.FetchLogs(context.Background(), 1, "0xabc", LogFilter{})
	if err != nil {
		t.Fatalf("FetchLogs failed: %v", err)
	}
	if len(logs) != 2 {
		t.Errorf("got %d logs, want 2", len(logs))
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestFetchLogsPersistentRateLimitIsTransientError(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, "0", "NOTOK", "Max calls per sec rate limit reached")
	}))

	_, err := c.FetchLogs(context.Background(), 1, "0xabc", LogFilter{})
	var transient *TransientError
	if !errors.As(err, &transient) {
		t.Errorf("got %v, want TransientError", err)
	}
}

func TestFetchLogsHTTPErrorIsAPIError(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := c.FetchLogs(context.Background(), 1, "0xabc", LogFilter{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("got %v, want APIError", err)
	}
	if apiErr.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", apiErr.StatusCode)
	}
}

func TestContractCreationBlockCached(t *testing.T) {
	var calls int32
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeEnvelope(w, "1", "OK", []creationRow{{
			ContractAddress: "0xabc",
			TxHash:          "0xdead",
			BlockNumber:     "12369651",
		}})
	}))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		block, err := c.ContractCreationBlock(ctx, 1, "0xAbC")
		if err != nil {
			t.Fatalf("ContractCreationBlock failed: %v", err)
		}
		if block != 12369651 {
			t.Errorf("block = %d, want 12369651", block)
		}
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("explorer calls = %d, want 1 (cached afterwards)", n)
	}
}

func TestBlockNumberByTimestamp(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("closest"); got != "before" {
			t.Errorf("closest = %q, want before", got)
		}
		writeEnvelope(w, "1", "OK", "18000123")
	}))

	block, err := c.BlockNumberByTimestamp(context.Background(), 1, 1693000000, "before")
	if err != nil {
		t.Fatalf("BlockNumberByTimestamp failed: %v", err)
	}
	if block != 18000123 {
		t.Errorf("block = %d, want 18000123", block)
	}

	if _, err := c.BlockNumberByTimestamp(context.Background(), 1, 1693000000, "nearest"); err == nil {
		t.Error("invalid closest value accepted")
	}
}

func TestFetchPositionEventsComposes(t *testing.T) {
	nftID := big.NewInt(123456)
	topic1 := PaddedTokenID(nftID)

	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch q.Get("action") {
		case "getcontractcreation":
			writeEnvelope(w, "1", "OK", []creationRow{{BlockNumber: "12369651"}})
		case "getLogs":
			if q.Get("topic1") != topic1 {
				t.Errorf("topic1 = %q, want %q", q.Get("topic1"), topic1)
			}
			if q.Get("fromBlock") != "12369651" {
				t.Errorf("fromBlock = %q, want creation block", q.Get("fromBlock"))
			}
			switch q.Get("topic0") {
			case TopicIncreaseLiquidity.Hex():
				// Duplicate row exercises dedupe (Scenario B).
				writeEnvelope(w, "1", "OK", []RawLog{increaseLog(200, 1, 3), increaseLog(200, 1, 3)})
			case TopicDecreaseLiquidity.Hex():
				writeEnvelope(w, "0", "No records found", []RawLog{})
			case TopicCollect.Hex():
				log := increaseLog(150, 0, 1)
				log.Topics[0] = TopicCollect.Hex()
				writeEnvelope(w, "1", "OK", []RawLog{log})
			default:
				t.Errorf("unexpected topic0 %q", q.Get("topic0"))
			}
		default:
			t.Errorf("unexpected action %q", q.Get("action"))
		}
	}))

	events, err := c.FetchPositionEvents(context.Background(), 1, nftID, FetchEventsOptions{})
	if err != nil {
		t.Fatalf("FetchPositionEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (deduped, ordered)", len(events))
	}
	if events[0].BlockNumber != 150 || events[1].BlockNumber != 200 {
		t.Errorf("events out of order: blocks (%d, %d)", events[0].BlockNumber, events[1].BlockNumber)
	}
	if events[0].Kind != EventCollect || events[1].Kind != EventIncreaseLiquidity {
		t.Errorf("kinds = (%s, %s)", events[0].Kind, events[1].Kind)
	}
}

func TestFetchPositionEventsDecodeErrorAborts(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("action") {
		case "getcontractcreation":
			writeEnvelope(w, "1", "OK", []creationRow{{BlockNumber: "1"}})
		default:
			bad := increaseLog(100, 0, 0)
			bad.Data = "0x" + fmt.Sprintf("%064x", 1) // one chunk only
			writeEnvelope(w, "1", "OK", []RawLog{bad})
		}
	}))

	_, err := c.FetchPositionEvents(context.Background(), 1, big.NewInt(1), FetchEventsOptions{})
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Errorf("got %v, want DecodeError", err)
	}
}
