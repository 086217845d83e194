// Package assets provides the ticker/asset-id registry the coordinator
// resolves client-supplied tickers against. The real registry refresh
// against the network is out of scope; this is the stable interface it
// would sit behind.
package assets

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// AssetId is an opaque 32-byte Liquid asset identifier.
type AssetId [32]byte

// String hex-encodes the asset id for logging and JSON.
func (a AssetId) String() string {
	return hexutil.Encode(a[:])
}

// MarshalJSON renders the asset id as a 0x-prefixed hex string.
func (a AssetId) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON parses a 0x-prefixed hex string into an asset id.
func (a *AssetId) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("assets: asset id must be a JSON string")
	}
	return a.unmarshalHex(string(data[1 : len(data)-1]))
}

func (a *AssetId) unmarshalHex(s string) error {
	raw, err := hexutil.Decode(s)
	if err != nil {
		return fmt.Errorf("assets: decode asset id %q: %w", s, err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("assets: asset id %q has %d bytes, want 32", s, len(raw))
	}
	copy(a[:], raw)
	return nil
}

// ParseAssetId decodes a 0x-prefixed hex string into an AssetId.
func ParseAssetId(s string) (AssetId, error) {
	var a AssetId
	err := a.unmarshalHex(s)
	return a, err
}

// Ticker is a short human-readable asset symbol, e.g. "LBTC" or "USDT".
type Ticker string

// Precision is the number of fractional digits an asset's amounts carry,
// in the range 0..=8.
type Precision uint8

// entry describes one ticker's registered identity.
type entry struct {
	assetID   AssetId
	precision Precision
}

// Registry maps tickers to asset ids and precisions, and back.
type Registry struct {
	byTicker map[Ticker]entry
	byAsset  map[AssetId]Ticker

	policyAsset AssetId
}

// TickerEntry is one row of the static ticker table passed to NewRegistry.
type TickerEntry struct {
	AssetId   AssetId
	Precision Precision
}

// NewRegistry builds a registry from a static ticker table. It is the
// caller's job to load that table (the daemon passes the built-in
// DefaultTable); this package does no network I/O.
// policyTicker names the network's native asset, used for fee accounting;
// it must be present in tickers.
func NewRegistry(tickers map[Ticker]TickerEntry, policyTicker Ticker) (*Registry, error) {
	r := &Registry{
		byTicker: make(map[Ticker]entry, len(tickers)),
		byAsset:  make(map[AssetId]Ticker, len(tickers)),
	}
	for ticker, e := range tickers {
		if e.Precision > 8 {
			return nil, fmt.Errorf("assets: ticker %q has precision %d, want 0..=8", ticker, e.Precision)
		}
		r.byTicker[ticker] = entry{assetID: e.AssetId, precision: e.Precision}
		r.byAsset[e.AssetId] = ticker
	}

	policy, ok := r.byTicker[policyTicker]
	if !ok {
		return nil, fmt.Errorf("assets: policy ticker %q not present in registry", policyTicker)
	}
	r.policyAsset = policy.assetID

	return r, nil
}

// PolicyAsset returns the network's native asset id, used for network
// fee accounting in CreateTx.
func (r *Registry) PolicyAsset() AssetId {
	return r.policyAsset
}

// HasTicker reports whether ticker is registered.
func (r *Registry) HasTicker(ticker Ticker) bool {
	_, ok := r.byTicker[ticker]
	return ok
}

// AssetID returns the asset id registered for ticker. Panics if the
// ticker is not registered; callers must check HasTicker first, matching
// the source's own precondition discipline.
func (r *Registry) AssetID(ticker Ticker) AssetId {
	e, ok := r.byTicker[ticker]
	if !ok {
		panic(fmt.Sprintf("assets: unregistered ticker %q", ticker))
	}
	return e.assetID
}

// Precision returns the precision registered for ticker.
func (r *Registry) Precision(ticker Ticker) Precision {
	e, ok := r.byTicker[ticker]
	if !ok {
		panic(fmt.Sprintf("assets: unregistered ticker %q", ticker))
	}
	return e.precision
}

// Ticker returns the ticker registered for an asset id, if any.
func (r *Registry) Ticker(assetID AssetId) (Ticker, bool) {
	t, ok := r.byAsset[assetID]
	return t, ok
}

