package walletport

import (
	"context"
	"testing"

	"github.com/tyler-smith/go-bip39"

	"github.com/sideswap-go/pegworker/internal/assets"
)

func testMnemonic(t *testing.T) string {
	t.Helper()
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		t.Fatalf("NewEntropy: %v", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		t.Fatalf("NewMnemonic: %v", err)
	}
	return mnemonic
}

func TestStubNewAddressIsDeterministic(t *testing.T) {
	mnemonic := testMnemonic(t)
	policy := assets.AssetId{}

	s1, err := NewStub(mnemonic, policy)
	if err != nil {
		t.Fatalf("NewStub: %v", err)
	}
	s2, err := NewStub(mnemonic, policy)
	if err != nil {
		t.Fatalf("NewStub: %v", err)
	}

	idx := uint32(5)
	r1, err := s1.NewAddress(context.Background(), false, &idx)
	if err != nil {
		t.Fatalf("NewAddress (s1): %v", err)
	}
	r2, err := s2.NewAddress(context.Background(), false, &idx)
	if err != nil {
		t.Fatalf("NewAddress (s2): %v", err)
	}
	if r1.Address != r2.Address {
		t.Errorf("addresses diverged: %q != %q", r1.Address, r2.Address)
	}
}

func TestStubNewAddressTracksFirstUnused(t *testing.T) {
	s, err := NewStub(testMnemonic(t), assets.AssetId{})
	if err != nil {
		t.Fatalf("NewStub: %v", err)
	}

	first, err := s.NewAddress(context.Background(), false, nil)
	if err != nil {
		t.Fatalf("NewAddress: %v", err)
	}
	if first.Index != 0 {
		t.Errorf("first-unused index = %d, want 0", first.Index)
	}

	idx := uint32(3)
	if _, err := s.NewAddress(context.Background(), false, &idx); err != nil {
		t.Fatalf("NewAddress(3): %v", err)
	}

	next, err := s.NewAddress(context.Background(), false, nil)
	if err != nil {
		t.Fatalf("NewAddress: %v", err)
	}
	if next.Index != 4 {
		t.Errorf("first-unused index after issuing 3 = %d, want 4", next.Index)
	}
}

func TestStubCreateTxInsufficientFunds(t *testing.T) {
	s, err := NewStub(testMnemonic(t), assets.AssetId{})
	if err != nil {
		t.Fatalf("NewStub: %v", err)
	}

	_, err = s.CreateTx(context.Background(), []Recipient{{Address: "addr", AssetId: assets.AssetId{1}, Amount: 100}})
	if err == nil {
		t.Fatal("expected insufficient-funds error with no UTXOs")
	}
}

func TestStubBroadcastError(t *testing.T) {
	s, err := NewStub(testMnemonic(t), assets.AssetId{})
	if err != nil {
		t.Fatalf("NewStub: %v", err)
	}

	if err := s.BroadcastTx(context.Background(), "hex"); err != nil {
		t.Fatalf("BroadcastTx (default): %v", err)
	}

	s.SetBroadcastError(errBoom)
	if err := s.BroadcastTx(context.Background(), "hex"); err != errBoom {
		t.Fatalf("BroadcastTx (forced error) = %v, want %v", err, errBoom)
	}
}

var errBoom = &stubError{"boom"}

type stubError struct{ msg string }

func (e *stubError) Error() string { return e.msg }
