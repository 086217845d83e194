package walletport

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/blake2b"

	"github.com/sideswap-go/pegworker/internal/assets"
	"github.com/sideswap-go/pegworker/internal/model"
)

// Stub is a deterministic, in-memory wallet used for tests and the
// demo binary. It derives addresses and signatures from a BIP-39
// mnemonic the way a real embedded wallet would derive keys, but has no
// actual chain connectivity: UTXOs, broadcast outcomes, and seen
// transactions are all driven by the test/caller through the exported
// Set*/Mark* helpers below rather than observed on-chain.
type Stub struct {
	mu sync.Mutex

	seed        []byte
	policyAsset assets.AssetId

	firstUnusedExternal uint32
	firstUnusedChange   uint32

	utxos []Utxo

	seenTxs map[model.Txid]*uint32

	broadcastErr error

	txCounter uint64

	events chan Event
	closed bool
}

// NewStub derives a wallet stub from mnemonic. policyAsset is the
// network's native asset, used to denominate CreateTx's reported
// network fee.
func NewStub(mnemonic string, policyAsset assets.AssetId) (*Stub, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("walletport: invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, "")

	s := &Stub{
		seed:        seed,
		policyAsset: policyAsset,
		seenTxs:     make(map[model.Txid]*uint32),
		events:      make(chan Event, 16),
	}
	s.events <- UtxosEvent{Utxos: NewUtxoSnapshot(nil)}
	return s, nil
}

// NewAddress implements Wallet.
func (s *Stub) NewAddress(_ context.Context, change bool, index *uint32) (NewAddressResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var idx uint32
	if index == nil {
		if change {
			idx = s.firstUnusedChange
		} else {
			idx = s.firstUnusedExternal
		}
	} else {
		idx = *index
		if change {
			if idx >= s.firstUnusedChange {
				s.firstUnusedChange = idx + 1
			}
		} else if idx >= s.firstUnusedExternal {
			s.firstUnusedExternal = idx + 1
		}
	}

	return NewAddressResult{Index: idx, Address: s.deriveAddress(idx, change)}, nil
}

// CreateTx implements Wallet. It greedily selects owned UTXOs of each
// requested asset until the recipients' amounts are covered; it does
// not attempt change outputs or fee estimation beyond a flat stub fee.
func (s *Stub) CreateTx(_ context.Context, recipients []Recipient) (CreateTxResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	needed := make(map[assets.AssetId]uint64)
	for _, r := range recipients {
		needed[r.AssetId] += r.Amount
	}

	var inputs []wire.OutPoint
	covered := make(map[assets.AssetId]uint64)
	for _, u := range s.utxos {
		want, ok := needed[u.Asset]
		if !ok || covered[u.Asset] >= want {
			continue
		}
		inputs = append(inputs, u.Outpoint)
		covered[u.Asset] += u.Value
	}
	for asset, want := range needed {
		if covered[asset] < want {
			return CreateTxResult{}, fmt.Errorf("walletport: insufficient funds for asset %s", asset)
		}
	}

	const stubNetworkFee = 300

	s.txCounter++
	txid := s.deriveTxid(s.txCounter)

	hex := fmt.Sprintf("stubtx:%d:%x", s.txCounter, txid[:8])

	return CreateTxResult{Tx: Transaction{
		Txid:       txid,
		Inputs:     inputs,
		Hex:        hex,
		NetworkFee: stubNetworkFee,
	}}, nil
}

// BroadcastTx implements Wallet.
func (s *Stub) BroadcastTx(_ context.Context, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.broadcastErr
}

// GetTxs implements Wallet. Transactions never marked seen via
// MarkSeen are simply absent from the result, matching the source's
// "not found in wallet's own view" case.
func (s *Stub) GetTxs(_ context.Context, txids []model.Txid) ([]TxInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []TxInfo
	for _, txid := range txids {
		if height, ok := s.seenTxs[txid]; ok {
			out = append(out, TxInfo{Txid: txid, Height: height})
		}
	}
	return out, nil
}

// SignPset implements Wallet with a deterministic stand-in signature:
// it appends a blake2b digest of the PSET bytes, keyed with the
// wallet's index-0 external private key, rather than performing real
// Elements PSET signing.
func (s *Stub) SignPset(_ context.Context, pset []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	priv := s.derivePrivateKey(0, false)
	sigTag, err := blake2b.New256(priv.Serialize())
	if err != nil {
		return nil, fmt.Errorf("walletport: sign pset: %w", err)
	}
	sigTag.Write(pset)
	digest := sigTag.Sum(nil)

	signed := make([]byte, 0, len(pset)+len(digest))
	signed = append(signed, pset...)
	signed = append(signed, digest...)
	return signed, nil
}

// Events implements Wallet.
func (s *Stub) Events() <-chan Event {
	return s.events
}

// Close implements Wallet.
func (s *Stub) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		close(s.events)
		s.closed = true
	}
}

// SetUtxos replaces the wallet's owned UTXO set and pushes a UtxosEvent,
// simulating an on-chain balance change for tests.
func (s *Stub) SetUtxos(utxos []Utxo) {
	s.mu.Lock()
	s.utxos = utxos
	snapshot := NewUtxoSnapshot(utxos)
	s.mu.Unlock()

	s.events <- UtxosEvent{Utxos: snapshot}
}

// MarkSeen records that the wallet has observed txid, optionally
// confirmed at height (nil means seen in the mempool only).
func (s *Stub) MarkSeen(txid model.Txid, height *uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seenTxs[txid] = height
}

// SetBroadcastError makes the next and subsequent BroadcastTx calls
// fail with err, or succeed if err is nil.
func (s *Stub) SetBroadcastError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcastErr = err
}

// SetFirstUnused lets tests configure the wallet-reported first-unused
// indices directly, including values below or above what the in-memory
// DB has seen -- exercising the coordinator's gap-limit handling.
func (s *Stub) SetFirstUnused(external, change uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.firstUnusedExternal = external
	s.firstUnusedChange = change
}

func (s *Stub) derivePrivateKey(index uint32, change bool) *secp256k1.PrivateKey {
	var changeByte byte
	if change {
		changeByte = 1
	}
	var indexBytes [4]byte
	binary.BigEndian.PutUint32(indexBytes[:], index)

	material := make([]byte, 0, len(s.seed)+5)
	material = append(material, s.seed...)
	material = append(material, changeByte)
	material = append(material, indexBytes[:]...)

	digest := blake2b.Sum256(material)
	priv := secp256k1.PrivKeyFromBytes(digest[:])
	return priv
}

func (s *Stub) deriveAddress(index uint32, change bool) string {
	priv := s.derivePrivateKey(index, change)
	pub := priv.PubKey().SerializeCompressed()
	digest := blake2b.Sum256(pub)
	return fmt.Sprintf("ex1q%x", digest[:20])
}

func (s *Stub) deriveTxid(counter uint64) model.Txid {
	var counterBytes [8]byte
	binary.BigEndian.PutUint64(counterBytes[:], counter)

	material := make([]byte, 0, len(s.seed)+8)
	material = append(material, s.seed...)
	material = append(material, counterBytes[:]...)

	digest := blake2b.Sum256(material)
	var txid chainhash.Hash
	copy(txid[:], digest[:])
	return txid
}
