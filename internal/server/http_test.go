package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dyadledger/internal/engine"
	"dyadledger/internal/ledger"
	"dyadledger/internal/observability"
	"dyadledger/internal/oracle"
	"dyadledger/internal/registry"

	"github.com/ethereum/go-ethereum/common"
)

var (
	poolAddr  = common.HexToAddress("0x0000000000000000000000000000000000000d1d")
	aliceAddr = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bobAddr   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func usd(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e8))
}

// ==========================================================================
// Fixture
// ==========================================================================

type fixture struct {
	srv    *httptest.Server
	eng    *engine.Engine
	stable *ledger.InMemoryLedger
	feed   *oracle.StaticFeed
	blocks *engine.ManualBlocks
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := engine.Config{
		DepositMinimum:        eth(1),
		MaxPositions:          100,
		SyncCooldownBlocks:    10,
		MinCollateralRatioBps: 15_000,
		MaxMintedRatioBps:     50_000,
		PriceScale:            big.NewInt(1e8),
		PoolAddress:           poolAddr,
	}
	reg := registry.New(cfg.MaxPositions)
	stable := ledger.NewInMemoryLedger()
	vault := ledger.NewInMemoryVault()
	feed := oracle.NewStaticFeed(usd(2_000))
	blocks := engine.NewManualBlocks(1)

	eng := engine.New(cfg, reg, stable, vault, feed, blocks, 0, nil, nil, nil)
	health := observability.NewHealthChecker()
	health.SetReady(true)

	s := New(":0", eng, nil, health, nil)
	srv := httptest.NewServer(s.httpServer.Handler)
	t.Cleanup(srv.Close)

	return &fixture{srv: srv, eng: eng, stable: stable, feed: feed, blocks: blocks}
}

func (f *fixture) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(f.srv.URL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func (f *fixture) mint(t *testing.T, owner common.Address, collateral *big.Int) uint64 {
	t.Helper()
	resp := f.post(t, "/v1/positions", mintRequest{
		Caller:     owner.Hex(),
		Owner:      owner.Hex(),
		Collateral: collateral.String(),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("mint status = %d, want 201", resp.StatusCode)
	}
	return decode[map[string]uint64](t, resp)["id"]
}

// ==========================================================================
// Lifecycle round-trips
// ==========================================================================

func TestMintAndGetPosition(t *testing.T) {
	f := newFixture(t)

	id := f.mint(t, aliceAddr, eth(1))

	resp := f.get(t, fmt.Sprintf("/v1/positions/%d", id))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get position status = %d", resp.StatusCode)
	}
	pos := decode[positionResponse](t, resp)
	if pos.ID != id {
		t.Errorf("id = %d, want %d", pos.ID, id)
	}
	if pos.Owner != aliceAddr.Hex() {
		t.Errorf("owner = %s, want %s", pos.Owner, aliceAddr.Hex())
	}
	// 1 ETH at 2000 USD.
	if pos.Deposit != eth(2_000).String() {
		t.Errorf("deposit = %s, want %s", pos.Deposit, eth(2_000))
	}
	if pos.IsLiquidatable {
		t.Error("fresh position marked liquidatable")
	}
}

func TestWithdrawDepositRedeemOverHTTP(t *testing.T) {
	f := newFixture(t)
	id := f.mint(t, aliceAddr, eth(1))

	resp := f.post(t, fmt.Sprintf("/v1/positions/%d/withdraw", id), amountRequest{
		Caller: aliceAddr.Hex(),
		Amount: eth(500).String(),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("withdraw status = %d", resp.StatusCode)
	}
	pos := decode[positionResponse](t, resp)
	if pos.Withdrawn != eth(500).String() {
		t.Errorf("withdrawn = %s, want %s", pos.Withdrawn, eth(500))
	}

	f.blocks.Advance(1)
	resp = f.post(t, fmt.Sprintf("/v1/positions/%d/deposit", id), amountRequest{
		Caller: aliceAddr.Hex(),
		Amount: eth(100).String(),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deposit status = %d", resp.StatusCode)
	}
	pos = decode[positionResponse](t, resp)
	if pos.Withdrawn != eth(400).String() {
		t.Errorf("withdrawn after deposit = %s, want %s", pos.Withdrawn, eth(400))
	}

	resp = f.post(t, fmt.Sprintf("/v1/positions/%d/redeem", id), amountRequest{
		Caller: aliceAddr.Hex(),
		Amount: eth(400).String(),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("redeem status = %d", resp.StatusCode)
	}
	pos = decode[positionResponse](t, resp)
	if pos.Withdrawn != "0" {
		t.Errorf("withdrawn after redeem = %s, want 0", pos.Withdrawn)
	}
}

func TestMoveDepositOverHTTP(t *testing.T) {
	f := newFixture(t)
	from := f.mint(t, aliceAddr, eth(2))
	to := f.mint(t, aliceAddr, eth(1))

	resp := f.post(t, fmt.Sprintf("/v1/positions/%d/move", from), moveRequest{
		Caller: aliceAddr.Hex(),
		ToID:   to,
		Amount: eth(1_000).String(),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("move status = %d", resp.StatusCode)
	}
	pos := decode[positionResponse](t, resp)
	if pos.Deposit != eth(3_000).String() {
		t.Errorf("source deposit = %s, want %s", pos.Deposit, eth(3_000))
	}
}

func TestSyncOverHTTP(t *testing.T) {
	f := newFixture(t)
	id := f.mint(t, aliceAddr, eth(1))
	f.mint(t, bobAddr, eth(1))

	f.feed.Set(usd(2_200))
	resp := f.post(t, "/v1/sync", syncRequest{CallerID: id})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sync status = %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["mode"] != "expansion" {
		t.Errorf("mode = %v, want expansion", body["mode"])
	}
	if body["delta_bps"].(float64) != 1_000 {
		t.Errorf("delta_bps = %v, want 1000", body["delta_bps"])
	}

	// Cooldown not yet elapsed.
	resp = f.post(t, "/v1/sync", syncRequest{CallerID: id})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("resync status = %d, want 429", resp.StatusCode)
	}
	resp.Body.Close()
}

// ==========================================================================
// Error mapping
// ==========================================================================

func TestErrorStatusMapping(t *testing.T) {
	f := newFixture(t)
	id := f.mint(t, aliceAddr, eth(1))

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{
			name: "unknown position", method: "GET",
			path: "/v1/positions/999",
			want: http.StatusNotFound,
		},
		{
			name: "malformed id", method: "GET",
			path: "/v1/positions/not-a-number",
			want: http.StatusBadRequest,
		},
		{
			name: "bad address", method: "POST",
			path: fmt.Sprintf("/v1/positions/%d/withdraw", id),
			body: amountRequest{Caller: "nonsense", Amount: "10"},
			want: http.StatusBadRequest,
		},
		{
			name: "bad amount", method: "POST",
			path: fmt.Sprintf("/v1/positions/%d/withdraw", id),
			body: amountRequest{Caller: aliceAddr.Hex(), Amount: "12.5"},
			want: http.StatusBadRequest,
		},
		{
			name: "not owner", method: "POST",
			path: fmt.Sprintf("/v1/positions/%d/withdraw", id),
			body: amountRequest{Caller: bobAddr.Hex(), Amount: eth(1).String()},
			want: http.StatusForbidden,
		},
		{
			name: "mint below minimum", method: "POST",
			path: "/v1/positions",
			body: mintRequest{Caller: aliceAddr.Hex(), Owner: aliceAddr.Hex(), Collateral: "1"},
			want: http.StatusBadRequest,
		},
		{
			name: "withdraw over deposit", method: "POST",
			path: fmt.Sprintf("/v1/positions/%d/withdraw", id),
			body: amountRequest{Caller: aliceAddr.Hex(), Amount: eth(9_999).String()},
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "liquidate solvent position", method: "POST",
			path: fmt.Sprintf("/v1/positions/%d/liquidate", id),
			body: liquidateRequest{Caller: bobAddr.Hex(), To: bobAddr.Hex()},
			want: http.StatusConflict,
		},
		{
			name: "sync with unknown caller", method: "POST",
			path: "/v1/sync",
			body: syncRequest{CallerID: 999},
			want: http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp *http.Response
			if tt.method == "GET" {
				resp = f.get(t, tt.path)
			} else {
				resp = f.post(t, tt.path, tt.body)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			var e errorResponse
			if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
				t.Fatalf("error body not JSON: %v", err)
			}
			if e.Error == "" {
				t.Error("empty error message")
			}
		})
	}
}

// ==========================================================================
// Read surfaces
// ==========================================================================

func TestStateEndpoint(t *testing.T) {
	f := newFixture(t)
	f.mint(t, aliceAddr, eth(1))
	f.mint(t, bobAddr, eth(2))

	resp := f.get(t, "/v1/state")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("state status = %d", resp.StatusCode)
	}
	st := decode[stateResponse](t, resp)
	if st.LiveCount != 2 {
		t.Errorf("live_count = %d, want 2", st.LiveCount)
	}
	if st.TotalSupply != eth(6_000).String() {
		t.Errorf("total_supply = %s, want %s", st.TotalSupply, eth(6_000))
	}
	if st.LastPrice != usd(2_000).String() {
		t.Errorf("last_price = %s, want %s", st.LastPrice, usd(2_000))
	}
}

func TestEventEndpointsWithoutEventLog(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/v1/events", "/v1/positions/1/history", "/v1/syncs"} {
		resp := f.get(t, path)
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("GET %s status = %d, want 503", path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestRunReturnsOnlyAfterShutdown(t *testing.T) {
	f := newFixture(t)
	s := New("127.0.0.1:0", f.eng, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Let the listener come up, then cancel. Run must block until the
	// graceful shutdown has drained and then return cleanly; callers rely
	// on that ordering before closing the engine's output channels.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = f.get(t, "/readyz")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("readyz status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}
