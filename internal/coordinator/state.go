package coordinator

import (
	"time"

	"github.com/sideswap-go/pegworker/internal/gateway"
	"github.com/sideswap-go/pegworker/internal/model"
	"github.com/sideswap-go/pegworker/internal/walletport"
)

// quote is the in-memory record of a successfully acquired swap quote,
// keyed by QuoteId. It is evicted by the TTL sweep once expired;
// AcceptQuote reads it but leaves it in place.
type quote struct {
	Txid       model.Txid
	SignedPset []byte
	ExpiresAt  time.Time
	Note       string
	RecvAmount float64
	Ttl        uint64
}

func (q *quote) valid(now time.Time) bool {
	return now.Before(q.ExpiresAt)
}

// createdTx is the in-memory record of a drafted-but-unsent transaction,
// keyed by Txid. The entire table is cleared once a SendTx reaches the
// broadcast step, whatever either broadcast's outcome; a SendTx that
// fails before broadcasting leaves it intact.
type createdTx struct {
	Tx   walletport.Transaction
	Note string
}

// state is the coordinator's exclusively-owned mutable record: every
// table named in spec's data model, touched only from the single event
// loop goroutine.
type state struct {
	markets []MarketInfo

	pegs        map[model.OrderId]struct{}
	pegStatuses map[model.OrderId]pegStatusPush

	monitoredTxs map[model.Txid]model.MonitoredTx
	addresses    map[uint32]model.Address

	quotes     map[model.QuoteId]*quote
	createdTxs map[model.Txid]*createdTx

	utxos        walletport.UtxoSnapshot
	lastBalances map[string]float64
	haveBalances bool

	clients map[model.ClientId]*notifSink

	marketConnected  bool
	pendingBootstrap bool
}

func newState() *state {
	return &state{
		pegs:         make(map[model.OrderId]struct{}),
		pegStatuses:  make(map[model.OrderId]pegStatusPush),
		monitoredTxs: make(map[model.Txid]model.MonitoredTx),
		addresses:    make(map[uint32]model.Address),
		quotes:       make(map[model.QuoteId]*quote),
		createdTxs:   make(map[model.Txid]*createdTx),
		clients:      make(map[model.ClientId]*notifSink),
	}
}

func (s *state) maxAddressIndex() (uint32, bool) {
	var max uint32
	found := false
	for idx := range s.addresses {
		if !found || idx > max {
			max = idx
			found = true
		}
	}
	return max, found
}

func (s *state) findMarket(base, quote string) (MarketInfo, bool) {
	for _, m := range s.markets {
		if m.Base == base && m.Quote == quote {
			return m, true
		}
		if m.Base == quote && m.Quote == base {
			return m, true
		}
	}
	return MarketInfo{}, false
}

// fanOut pushes notif to every connected client, in registration-
// independent, call-order-preserving fashion (each client's own sink is
// itself an ordered, unbounded queue).
func (s *state) fanOut(notif gateway.Notif) {
	for _, sink := range s.clients {
		sink.push(notif)
	}
}
