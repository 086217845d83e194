// Package walletport is the wallet port (C2): the command/reply and
// event-push contract the coordinator uses to talk to the embedded
// Liquid wallet. The wallet subsystem itself (UTXO tracking, Liquid
// signing) is out of scope; only this interface and a deterministic
// stub implementation for tests/demo live here.
package walletport

import (
	"github.com/btcsuite/btcd/wire"

	"github.com/sideswap-go/pegworker/internal/assets"
	"github.com/sideswap-go/pegworker/internal/model"
)

// Recipient is one output of a CreateTx request, already resolved to an
// asset id and an integer amount.
type Recipient struct {
	Address string
	AssetId assets.AssetId
	Amount  uint64
}

// NewAddressResult is the wallet's reply to a NewAddress command.
type NewAddressResult struct {
	Index   uint32
	Address string
}

// Transaction is the minimal view of a constructed Liquid transaction
// the coordinator needs: its id, the outpoints it spends (for the
// UTXO-ownership check in SendTx), and the network fee paid in the
// policy asset.
type Transaction struct {
	Txid       model.Txid
	Inputs     []wire.OutPoint
	Hex        string
	NetworkFee uint64
}

// CreateTxResult is the wallet's reply to a CreateTx command.
type CreateTxResult struct {
	Tx Transaction
}

// TxInfo is one entry of a GetTxs reply: a transaction's confirmation
// state, if the wallet knows about it at all.
type TxInfo struct {
	Txid   model.Txid
	Height *uint32 // nil means seen but unconfirmed (mempool)
}

// Utxo is a single spendable output the wallet currently owns.
type Utxo struct {
	Outpoint wire.OutPoint
	Asset    assets.AssetId
	Value    uint64
}

// UtxoSnapshot is an immutable view of the wallet's UTXO set at a point
// in time, as delivered by an Event.
type UtxoSnapshot struct {
	utxos []Utxo
}

// NewUtxoSnapshot builds a snapshot from a UTXO list.
func NewUtxoSnapshot(utxos []Utxo) UtxoSnapshot {
	cp := make([]Utxo, len(utxos))
	copy(cp, utxos)
	return UtxoSnapshot{utxos: cp}
}

// Utxos returns the UTXOs in the snapshot.
func (s UtxoSnapshot) Utxos() []Utxo {
	return s.utxos
}

// Event is a value pushed asynchronously from the wallet to the
// coordinator, independent of any in-flight command.
type Event interface {
	isWalletEvent()
}

// UtxosEvent reports the wallet's full UTXO set whenever it changes.
type UtxosEvent struct {
	Utxos UtxoSnapshot
}

func (UtxosEvent) isWalletEvent() {}
