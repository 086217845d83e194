// Package coordinator is the worker's single event-loop core (C5-C8):
// the in-memory state store, the command dispatcher, the quote
// acquisition state machine, and the select loop that multiplexes
// wallet events, market server events, client commands, and shutdown.
// State is owned exclusively by the loop goroutine; every other
// component talks to it only through the channels wired up in New.
package coordinator

import (
	"context"
	"time"

	"github.com/sideswap-go/pegworker/internal/amount"
	"github.com/sideswap-go/pegworker/internal/assets"
	"github.com/sideswap-go/pegworker/internal/gateway"
	"github.com/sideswap-go/pegworker/internal/marketws"
	"github.com/sideswap-go/pegworker/internal/model"
	"github.com/sideswap-go/pegworker/internal/storage"
	"github.com/sideswap-go/pegworker/internal/walletport"
	"github.com/sideswap-go/pegworker/pkg/logging"
)

// defaultRequestTimeout bounds every market-server request/reply
// exchange other than GetQuote's own 15s quote wait.
const defaultRequestTimeout = 10 * time.Second

// defaultQuoteDeadline is GetQuote's own wait, used when Config leaves
// QuoteDeadline unset.
const defaultQuoteDeadline = 15 * time.Second

// Config bundles everything New needs to assemble a Coordinator.
type Config struct {
	Store          *storage.Storage
	Wallet         walletport.Wallet
	Market         MarketClient
	Registry       *assets.Registry
	GapLimit       uint32
	QuoteDeadline  time.Duration
	RequestTimeout time.Duration
	Log            *logging.Logger
}

type commandEnvelope struct {
	clientID model.ClientId
	req      gateway.Req
	reply    chan commandReply
}

type commandReply struct {
	resp gateway.Resp
	err  *Error
}

type connectMsg struct {
	clientID model.ClientId
	sink     *notifSink
}

// Coordinator is the worker's core. It implements gateway.Dispatcher so
// a gateway.Server can be wired directly to it.
type Coordinator struct {
	store    *storage.Storage
	wallet   walletport.Wallet
	market   MarketClient
	registry *assets.Registry
	log      *logging.Logger

	gapLimit       uint32
	quoteDeadline  time.Duration
	requestTimeout time.Duration

	marketEvents chan marketws.Event

	commands    chan commandEnvelope
	connects    chan connectMsg
	disconnects chan model.ClientId
	term        chan struct{}
	stopped     chan struct{}

	state *state
}

// New builds a Coordinator, loads persisted state, and starts its event
// loop and market-event pump goroutines. Call Close to shut it down.
func New(cfg Config) (*Coordinator, error) {
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	quoteDeadline := cfg.QuoteDeadline
	if quoteDeadline <= 0 {
		quoteDeadline = defaultQuoteDeadline
	}

	c := &Coordinator{
		store:          cfg.Store,
		wallet:         cfg.Wallet,
		market:         cfg.Market,
		registry:       cfg.Registry,
		log:            cfg.Log,
		gapLimit:       cfg.GapLimit,
		quoteDeadline:  quoteDeadline,
		requestTimeout: requestTimeout,
		marketEvents:   make(chan marketws.Event, 256),
		commands:       make(chan commandEnvelope),
		connects:       make(chan connectMsg),
		disconnects:    make(chan model.ClientId),
		term:           make(chan struct{}),
		stopped:        make(chan struct{}),
		state:          newState(),
	}

	if err := c.loadPersistedState(); err != nil {
		return nil, err
	}

	go c.pumpMarketEvents()
	go c.run()

	return c, nil
}

func (c *Coordinator) loadPersistedState() error {
	pegs, err := c.store.LoadPegs()
	if err != nil {
		return err
	}
	for _, p := range pegs {
		c.state.pegs[p.OrderID] = struct{}{}
	}

	txs, err := c.store.LoadMonitoredTxs()
	if err != nil {
		return err
	}
	for _, tx := range txs {
		c.state.monitoredTxs[tx.Txid] = tx
	}

	addrs, err := c.store.LoadAddresses()
	if err != nil {
		return err
	}
	for _, a := range addrs {
		c.state.addresses[a.Index] = a
	}

	return nil
}

// pumpMarketEvents is the sole reader of c.market.Recv; it forwards
// every event onto marketEvents so the single loop goroutine (and any
// in-flight marketRequest/waitForQuote call it makes while servicing a
// command) stays the only consumer and interpreter of market events.
func (c *Coordinator) pumpMarketEvents() {
	for {
		ev, err := c.market.Recv(context.Background())
		if err != nil {
			select {
			case c.marketEvents <- marketws.DisconnectedEvent{}:
			case <-c.term:
			}
			return
		}
		select {
		case c.marketEvents <- ev:
		case <-c.term:
			return
		}
	}
}

// Connect implements gateway.Dispatcher. Registration happens inside
// the event loop so replay and bookkeeping observe a consistent state.
func (c *Coordinator) Connect(id model.ClientId) <-chan gateway.Notif {
	sink := newNotifSink()
	select {
	case c.connects <- connectMsg{clientID: id, sink: sink}:
	case <-c.stopped:
		sink.close()
	}
	return sink.notifications()
}

// Disconnect implements gateway.Dispatcher.
func (c *Coordinator) Disconnect(id model.ClientId) {
	select {
	case c.disconnects <- id:
	case <-c.stopped:
	}
}

// Dispatch implements gateway.Dispatcher: it hands req to the event
// loop and blocks for its reply, or ctx's cancellation.
func (c *Coordinator) Dispatch(ctx context.Context, id model.ClientId, req gateway.Req) (gateway.Resp, *gateway.Error) {
	reply := make(chan commandReply, 1)
	env := commandEnvelope{clientID: id, req: req, reply: reply}

	select {
	case c.commands <- env:
	case <-ctx.Done():
		return gateway.Resp{}, &gateway.Error{Code: string(CodeCodec), Text: ctx.Err().Error()}
	case <-c.stopped:
		return gateway.Resp{}, &gateway.Error{Code: string(CodeWsError), Text: "coordinator is shutting down"}
	}

	select {
	case r := <-reply:
		if r.err != nil {
			return r.resp, &gateway.Error{Code: string(r.err.Code()), Text: r.err.Error(), Details: r.err.Details()}
		}
		return r.resp, nil
	case <-ctx.Done():
		return gateway.Resp{}, &gateway.Error{Code: string(CodeCodec), Text: ctx.Err().Error()}
	case <-c.stopped:
		return gateway.Resp{}, &gateway.Error{Code: string(CodeWsError), Text: "coordinator is shutting down"}
	}
}

// Close signals the event loop to exit and waits for it to finish.
func (c *Coordinator) Close() {
	select {
	case <-c.stopped:
		return
	default:
	}
	close(c.term)
	<-c.stopped
}

// run is the event coordinator (C8): one goroutine, exactly one source
// serviced per cycle, a quote-TTL sweep after every cycle.
func (c *Coordinator) run() {
	defer close(c.stopped)
	defer c.store.Close()

	for {
		select {
		case we := <-c.wallet.Events():
			c.handleWalletEvent(we)

		case cm := <-c.connects:
			c.handleConnect(cm)

		case id := <-c.disconnects:
			c.handleDisconnect(id)

		case env := <-c.commands:
			resp, cerr := c.dispatch(env.req)
			env.reply <- commandReply{resp: resp, err: cerr}

		case ev := <-c.marketEvents:
			c.handleMarketEvent(ev)

		case <-c.term:
			return
		}

		if c.state.pendingBootstrap {
			c.state.pendingBootstrap = false
			c.bootstrapAfterConnect()
		}
		c.sweepExpiredQuotes()
	}
}

func (c *Coordinator) handleConnect(cm connectMsg) {
	c.state.clients[cm.clientID] = cm.sink

	if c.state.haveBalances {
		cm.sink.push(gateway.Notif{Balances: &gateway.BalancesNotif{Balances: copyBalances(c.state.lastBalances)}})
	}
	for orderID, push := range c.state.pegStatuses {
		cm.sink.push(gateway.Notif{PegStatus: &gateway.PegStatusNotif{OrderId: string(orderID), Status: push.Status}})
	}
}

func (c *Coordinator) handleDisconnect(id model.ClientId) {
	if sink, ok := c.state.clients[id]; ok {
		sink.close()
		delete(c.state.clients, id)
	}
}

// handleWalletEvent implements the Utxos-event half of §4.6.9: replace
// the UTXO snapshot, recompute balances, and fan out only on change.
func (c *Coordinator) handleWalletEvent(ev walletport.Event) {
	utxosEv, ok := ev.(walletport.UtxosEvent)
	if !ok {
		return
	}
	c.state.utxos = utxosEv.Utxos

	totals := make(map[assets.AssetId]uint64)
	for _, u := range utxosEv.Utxos.Utxos() {
		totals[u.Asset] += u.Value
	}

	balances := make(map[string]float64)
	for assetID, total := range totals {
		ticker, ok := c.registry.Ticker(assetID)
		if !ok {
			continue
		}
		balances[string(ticker)] = amount.ToFloat(total, uint8(c.registry.Precision(ticker)))
	}

	if balancesEqual(c.state.lastBalances, balances) {
		return
	}
	c.state.lastBalances = balances
	c.state.haveBalances = true
	c.state.fanOut(gateway.Notif{Balances: &gateway.BalancesNotif{Balances: copyBalances(balances)}})
}

func (c *Coordinator) policyPrecision() assets.Precision {
	policyAsset := c.registry.PolicyAsset()
	ticker, ok := c.registry.Ticker(policyAsset)
	if !ok {
		return 8
	}
	return c.registry.Precision(ticker)
}

func copyBalances(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func balancesEqual(a, b map[string]float64) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
