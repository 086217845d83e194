package storage

import (
	"os"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/sideswap-go/pegworker/internal/model"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	dir, err := os.MkdirTemp("", "pegworker-storage-")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	s, err := New(&Config{DataDir: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s
}

func TestNewCreatesSchema(t *testing.T) {
	s := newTestStorage(t)

	tables := []string{"pegs", "monitored_txs", "addresses"}
	for _, table := range tables {
		var name string
		err := s.DB().QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %q missing: %v", table, err)
		}
	}
}

func TestPegCRUD(t *testing.T) {
	s := newTestStorage(t)

	peg := model.Peg{OrderID: "order-1"}
	if err := s.AddPeg(peg); err != nil {
		t.Fatalf("AddPeg: %v", err)
	}

	pegs, err := s.LoadPegs()
	if err != nil {
		t.Fatalf("LoadPegs: %v", err)
	}
	if len(pegs) != 1 || pegs[0].OrderID != "order-1" {
		t.Fatalf("LoadPegs = %+v, want one peg order-1", pegs)
	}

	if err := s.DeletePeg("order-1"); err != nil {
		t.Fatalf("DeletePeg: %v", err)
	}

	pegs, err = s.LoadPegs()
	if err != nil {
		t.Fatalf("LoadPegs after delete: %v", err)
	}
	if len(pegs) != 0 {
		t.Fatalf("LoadPegs after delete = %+v, want empty", pegs)
	}
}

func TestMonitoredTxRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	txid := chainhash.Hash{}
	copy(txid[:], []byte("deadbeefdeadbeefdeadbeefdeadbeef"))

	mtx := model.MonitoredTx{Txid: txid, Description: "swap 1 LBTC for 2 USDT", UserNote: "note"}
	if err := s.AddMonitoredTx(mtx); err != nil {
		t.Fatalf("AddMonitoredTx: %v", err)
	}

	loaded, err := s.LoadMonitoredTxs()
	if err != nil {
		t.Fatalf("LoadMonitoredTxs: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("LoadMonitoredTxs = %+v, want one entry", loaded)
	}
	if loaded[0].Txid != txid {
		t.Errorf("Txid = %v, want %v", loaded[0].Txid, txid)
	}
	if loaded[0].Description != mtx.Description {
		t.Errorf("Description = %q, want %q", loaded[0].Description, mtx.Description)
	}
}

func TestAddressRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	addr := model.Address{Index: 7, Address: "VJL...", UserNote: "deposit"}
	if err := s.AddAddress(addr); err != nil {
		t.Fatalf("AddAddress: %v", err)
	}

	addrs, err := s.LoadAddresses()
	if err != nil {
		t.Fatalf("LoadAddresses: %v", err)
	}
	if len(addrs) != 1 || addrs[0] != addr {
		t.Fatalf("LoadAddresses = %+v, want [%+v]", addrs, addr)
	}
}
