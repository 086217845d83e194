// Package model holds the small set of entity types shared between
// persistence, the wallet port, the market-server port, and the
// coordinator: pegs, monitored transactions, and issued addresses.
package model

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Txid is an opaque 32-byte transaction id.
type Txid = chainhash.Hash

// OrderId identifies a peg order on the market server. Order ids
// originate from the market server's response to a NewPeg request, not
// from this worker.
type OrderId string

// QuoteId identifies an in-flight or accepted swap quote.
type QuoteId string

// ClientId identifies one connected client gateway connection. It is a
// monotonically increasing, process-local counter.
type ClientId uint64

// Peg is the persisted record of a peg-in/peg-out order: just the
// order id the market server tracks.
type Peg struct {
	OrderID OrderId
}

// MonitoredTx is a transaction whose on-chain status the client wants
// tracked after submission.
type MonitoredTx struct {
	Txid        Txid
	Description string
	UserNote    string
}

// Address is an issued wallet address at a given derivation index.
type Address struct {
	Index    uint32
	Address  string
	UserNote string
}
