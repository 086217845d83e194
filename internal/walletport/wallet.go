package walletport

import (
	"context"

	"github.com/sideswap-go/pegworker/internal/model"
)

// Wallet is the command/reply plus event-push contract the coordinator
// depends on. Implementations must never block a caller past their own
// internal timeout; the coordinator relies on this to keep its single
// event loop responsive.
type Wallet interface {
	// NewAddress asks the wallet for the address at index, or for its
	// current first-unused index when index is nil.
	NewAddress(ctx context.Context, change bool, index *uint32) (NewAddressResult, error)

	// CreateTx builds an unsigned-but-ready transaction paying the given
	// recipients from the wallet's own UTXOs.
	CreateTx(ctx context.Context, recipients []Recipient) (CreateTxResult, error)

	// BroadcastTx submits a raw transaction hex to the network via the
	// wallet's own broadcast path (independent of the market server's).
	BroadcastTx(ctx context.Context, txHex string) error

	// GetTxs reports the confirmation state of the given transaction
	// ids, to the extent the wallet has seen them.
	GetTxs(ctx context.Context, txids []model.Txid) ([]TxInfo, error)

	// SignPset signs a partially-signed transaction with the wallet's
	// own keys and returns the updated PSET bytes.
	SignPset(ctx context.Context, pset []byte) ([]byte, error)

	// Events streams UtxosEvent values whenever the wallet's UTXO set
	// changes. The channel is closed when the wallet shuts down.
	Events() <-chan Event

	// Close releases wallet resources.
	Close()
}
