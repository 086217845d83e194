package coordinator

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"

	"github.com/sideswap-go/pegworker/internal/assets"
	"github.com/sideswap-go/pegworker/internal/gateway"
	"github.com/sideswap-go/pegworker/internal/marketws"
	"github.com/sideswap-go/pegworker/internal/model"
	"github.com/sideswap-go/pegworker/internal/storage"
	"github.com/sideswap-go/pegworker/internal/walletport"
	"github.com/sideswap-go/pegworker/pkg/logging"
)

const (
	testTickerLBTC = "LBTC"
	testTickerUSDT = "USDT"
)

var (
	testAssetLBTC = assets.AssetId{0x01}
	testAssetUSDT = assets.AssetId{0x02}
)

func testRegistry(t *testing.T) *assets.Registry {
	t.Helper()
	r, err := assets.NewRegistry(map[assets.Ticker]assets.TickerEntry{
		testTickerLBTC: {AssetId: testAssetLBTC, Precision: 8},
		testTickerUSDT: {AssetId: testAssetUSDT, Precision: 8},
	}, testTickerLBTC)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func testStorage(t *testing.T) *storage.Storage {
	t.Helper()
	dir, err := os.MkdirTemp("", "pegworker-coordinator-")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	s, err := storage.New(&storage.Config{DataDir: dir})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	return s
}

// fakeMarket is a scriptable stand-in for a MarketClient: tests push
// events onto a channel and inspect what was Sent.
type fakeMarket struct {
	events chan marketws.Event
	sent   chan sentRequest
	nextID int
	closed chan struct{}
}

type sentRequest struct {
	id     string
	method string
	params interface{}
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{
		events: make(chan marketws.Event, 64),
		sent:   make(chan sentRequest, 64),
		closed: make(chan struct{}),
	}
}

func (m *fakeMarket) Send(method string, params interface{}) (string, error) {
	m.nextID++
	id := "req" + string(rune('0'+m.nextID))
	m.sent <- sentRequest{id: id, method: method, params: params}
	return id, nil
}

func (m *fakeMarket) Recv(ctx context.Context) (marketws.Event, error) {
	select {
	case ev := <-m.events:
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.closed:
		return nil, context.Canceled
	}
}

func (m *fakeMarket) Close() {
	close(m.closed)
}

func (m *fakeMarket) respond(id string, result interface{}) {
	raw, _ := json.Marshal(result)
	m.events <- marketws.ResponseEvent{ID: id, Result: raw}
}

func (m *fakeMarket) push(kind string, data interface{}) {
	raw, _ := json.Marshal(data)
	m.events <- marketws.NotificationEvent{Kind: kind, Data: raw}
}

func newTestCoordinator(t *testing.T, market MarketClient, wallet walletport.Wallet) *Coordinator {
	t.Helper()
	c, err := New(Config{
		Store:          testStorage(t),
		Wallet:         wallet,
		Market:         market,
		Registry:       testRegistry(t),
		GapLimit:       20,
		QuoteDeadline:  150 * time.Millisecond,
		RequestTimeout: 200 * time.Millisecond,
		Log:            logging.Default(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func newTestWallet(t *testing.T) *walletport.Stub {
	t.Helper()
	w, err := walletport.NewStub("abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about", testAssetLBTC)
	if err != nil {
		t.Fatalf("NewStub: %v", err)
	}
	t.Cleanup(w.Close)
	return w
}

func dispatch(t *testing.T, c *Coordinator, id uint64, req gateway.Req) (gateway.Resp, *gateway.Error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.Dispatch(ctx, model.ClientId(id), req)
}

// TestNewAddressGapLimit covers scenario S1. Under normal issuance the
// wallet's own first-unused index and the persisted high-water mark
// advance in lockstep, so the gap is always zero; the limit only bites
// once the wallet falls behind what is already persisted (e.g. after a
// restore), which SetFirstUnused simulates here.
func TestNewAddressGapLimit(t *testing.T) {
	wallet := newTestWallet(t)
	market := newFakeMarket()
	c := newTestCoordinator(t, market, wallet)

	for i := 0; i < 20; i++ {
		_, gerr := dispatch(t, c, 1, gateway.Req{NewAddress: &gateway.NewAddressReq{}})
		if gerr != nil {
			t.Fatalf("address %d: unexpected error: %+v", i, gerr)
		}
	}

	wallet.SetFirstUnused(0, 0)

	_, gerr := dispatch(t, c, 1, gateway.Req{NewAddress: &gateway.NewAddressReq{}})
	if gerr == nil {
		t.Fatalf("expected gap-limit error once the wallet falls 20 addresses behind the persisted high-water mark")
	}
	if gerr.Code != string(CodeGapLimit) {
		t.Fatalf("expected GapLimit error, got %q: %s", gerr.Code, gerr.Text)
	}
}

// TestGetQuoteSuccess covers scenario S3: a quote subscription that
// resolves with a Success notification produces a signed, recorded
// quote and a GetQuoteResp.
func TestGetQuoteSuccess(t *testing.T) {
	wallet := newTestWallet(t)
	wallet.SetUtxos([]walletport.Utxo{
		{Outpoint: wire.OutPoint{Index: 0}, Asset: testAssetLBTC, Value: 1_000_000_00},
	})
	market := newFakeMarket()
	c := newTestCoordinator(t, market, wallet)

	market.push("market_added", marketAddedNotif{Market: MarketInfo{Base: testTickerLBTC, Quote: testTickerUSDT, FeeAsset: feeAssetBase}})
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	var resp gateway.Resp
	var gerr *gateway.Error
	go func() {
		resp, gerr = dispatch(t, c, 1, gateway.Req{GetQuote: &gateway.GetQuoteReq{
			SendAsset:      testTickerLBTC,
			RecvAsset:      testTickerUSDT,
			SendAmount:     1.0,
			ReceiveAddress: "ex1qreceive",
		}})
		close(done)
	}()

	start := <-market.sent
	if start.method != "start_quotes" {
		t.Fatalf("expected start_quotes, got %s", start.method)
	}
	market.respond(start.id, startQuotesResult{QuoteSubId: "sub1"})

	market.push("quote", quoteNotification{
		QuoteSubId: "sub1",
		Success: &quoteSuccess{
			QuoteId:     "quote1",
			BaseAmount:  100_000_000,
			QuoteAmount: 200_000_000,
			ServerFee:   0,
			FixedFee:    0,
			Ttl:         30,
		},
	})

	pset := <-market.sent
	if pset.method != "get_quote" {
		t.Fatalf("expected get_quote, got %s", pset.method)
	}
	market.respond(pset.id, getQuotePsetResult{Pset: "0011"})

	<-done

	if gerr != nil {
		t.Fatalf("GetQuote failed: %+v", gerr)
	}
	if resp.GetQuote == nil || resp.GetQuote.QuoteId != "quote1" {
		t.Fatalf("unexpected GetQuote response: %+v", resp.GetQuote)
	}
	if _, ok := c.state.quotes["quote1"]; !ok {
		t.Fatalf("expected quote1 to be recorded in state")
	}
}

// TestGetQuoteTimeout covers scenario S4: no matching quote notification
// arrives within the quote deadline, so GetQuote fails with a
// server-rejection/timeout style error instead of hanging.
func TestGetQuoteTimeout(t *testing.T) {
	wallet := newTestWallet(t)
	wallet.SetUtxos([]walletport.Utxo{
		{Outpoint: wire.OutPoint{Index: 0}, Asset: testAssetLBTC, Value: 1_000_000_00},
	})
	market := newFakeMarket()
	c := newTestCoordinator(t, market, wallet)

	market.push("market_added", marketAddedNotif{Market: MarketInfo{Base: testTickerLBTC, Quote: testTickerUSDT, FeeAsset: feeAssetBase}})
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	var gerr *gateway.Error
	go func() {
		_, gerr = dispatch(t, c, 1, gateway.Req{GetQuote: &gateway.GetQuoteReq{
			SendAsset:      testTickerLBTC,
			RecvAsset:      testTickerUSDT,
			SendAmount:     1.0,
			ReceiveAddress: "ex1qreceive",
		}})
		close(done)
	}()

	start := <-market.sent
	market.respond(start.id, startQuotesResult{QuoteSubId: "sub1"})

	<-done
	if gerr == nil {
		t.Fatalf("expected a timeout error when no quote notification arrives")
	}
}

// TestSendTxBroadcastSplit covers scenario S5: wallet and server
// broadcast outcomes are reported independently even when one fails.
func TestSendTxBroadcastSplit(t *testing.T) {
	wallet := newTestWallet(t)
	wallet.SetUtxos([]walletport.Utxo{
		{Outpoint: wire.OutPoint{Index: 0}, Asset: testAssetLBTC, Value: 1_000_000_00},
	})
	market := newFakeMarket()
	c := newTestCoordinator(t, market, wallet)

	wallet.SetBroadcastError(nil)

	createResp, gerr := dispatch(t, c, 1, gateway.Req{CreateTx: &gateway.CreateTxReq{
		Recipients: []gateway.RecipientReq{{Address: "ex1qdest", Asset: testTickerLBTC, Amount: 0.5}},
	}})
	if gerr != nil {
		t.Fatalf("CreateTx failed: %+v", gerr)
	}
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	var sendResp gateway.Resp
	var sendErr *gateway.Error
	go func() {
		sendResp, sendErr = dispatch(t, c, 1, gateway.Req{SendTx: &gateway.SendTxReq{Txid: createResp.CreateTx.Txid}})
		close(done)
	}()

	check := <-market.sent
	if check.method != "check_outpoints" {
		t.Fatalf("expected check_outpoints, got %s", check.method)
	}
	market.respond(check.id, struct{}{})

	broadcast := <-market.sent
	if broadcast.method != "broadcast_tx" {
		t.Fatalf("expected broadcast_tx, got %s", broadcast.method)
	}
	market.events <- marketws.ResponseEvent{ID: broadcast.id, Err: &marketws.WireError{Message: "server rejected tx"}}

	<-done
	if sendErr != nil {
		t.Fatalf("SendTx itself should not fail on a server broadcast rejection: %+v", sendErr)
	}
	if sendResp.SendTx.ResWallet.Success == nil {
		t.Fatalf("expected wallet broadcast to succeed")
	}
	if sendResp.SendTx.ResServer.Error == nil {
		t.Fatalf("expected server broadcast to report failure")
	}
}

// TestClientReplayOnConnect covers the balances half of scenario S6: a
// newly connected client is first sent the last known balances, before
// any live update reaches it.
func TestClientReplayOnConnect(t *testing.T) {
	wallet := newTestWallet(t)
	market := newFakeMarket()
	c := newTestCoordinator(t, market, wallet)

	wallet.SetUtxos([]walletport.Utxo{
		{Outpoint: wire.OutPoint{Index: 1}, Asset: testAssetLBTC, Value: 50_000_000},
	})
	time.Sleep(50 * time.Millisecond)

	notifCh := c.Connect(model.ClientId(42))
	defer c.Disconnect(model.ClientId(42))

	select {
	case n := <-notifCh:
		if n.Balances == nil {
			t.Fatalf("expected a replayed Balances notification, got %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for replayed balances notification")
	}
}
