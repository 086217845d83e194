package coordinator

import "encoding/json"

// The types below are the slice of the market server's request,
// response, and notification families this worker actually consumes,
// per spec's "only the responses and notifications enumerated here
// affect state; all others are ignored" scoping. Field sets mirror the
// upstream externally tagged JSON conventions exactly.

// MarketInfo is one entry of the markets table.
type MarketInfo struct {
	Base     string `json:"base"`
	Quote    string `json:"quote"`
	FeeAsset string `json:"fee_asset"` // "Base" or "Quote"
}

func pairKey(base, quote string) string {
	return base + "/" + quote
}

type marketAddedNotif struct {
	Market MarketInfo `json:"market"`
}

type marketRemovedNotif struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// quoteUtxo is one spendable input offered to the market server when
// starting a quote.
type quoteUtxo struct {
	Txid  string `json:"txid"`
	Vout  uint32 `json:"vout"`
	Value uint64 `json:"value"`
}

type startQuotesParams struct {
	Pair           string      `json:"pair"`
	AssetType      string      `json:"asset_type"` // "Base" or "Quote"
	Amount         uint64      `json:"amount"`
	TradeDir       string      `json:"trade_dir"` // "Sell" or "Buy"
	Utxos          []quoteUtxo `json:"utxos"`
	ReceiveAddress string      `json:"receive_address"`
	ChangeAddress  string      `json:"change_address"`
	OrderId        *string     `json:"order_id"`
	PrivateId      *string     `json:"private_id"`
}

type startQuotesResult struct {
	QuoteSubId string `json:"quote_sub_id"`
}

type stopQuotesParams struct {
	QuoteSubId string `json:"quote_sub_id"`
}

// quoteNotification is the asynchronous push carrying a quote's
// outcome, correlated by QuoteSubId rather than by request id.
type quoteNotification struct {
	QuoteSubId string           `json:"quote_sub_id"`
	Success    *quoteSuccess    `json:"Success,omitempty"`
	LowBalance *quoteLowBalance `json:"LowBalance,omitempty"`
	Error      *quoteErrorMsg   `json:"Error,omitempty"`
}

type quoteSuccess struct {
	QuoteId     string `json:"quote_id"`
	BaseAmount  uint64 `json:"base_amount"`
	QuoteAmount uint64 `json:"quote_amount"`
	ServerFee   uint64 `json:"server_fee"`
	FixedFee    uint64 `json:"fixed_fee"`
	Ttl         uint64 `json:"ttl"`
}

type quoteLowBalance struct {
	Available uint64 `json:"available"`
}

type quoteErrorMsg struct {
	ErrorMsg string `json:"error_msg"`
}

type getQuotePsetParams struct {
	QuoteId string `json:"quote_id"`
}

type getQuotePsetResult struct {
	Pset string `json:"pset"` // hex-encoded
}

type takerSignParams struct {
	QuoteId string `json:"quote_id"`
	Pset    string `json:"pset"`
}

type takerSignResult struct {
	Txid string `json:"txid"`
}

type checkOutpointParam struct {
	Txid string `json:"txid"`
	Vout uint32 `json:"vout"`
}

type checkOutpointsParams struct {
	Outpoints []checkOutpointParam `json:"outpoints"`
}

type serverBroadcastParams struct {
	TxHex string `json:"tx_hex"`
}

type pegParams struct {
	RecvAddr string `json:"recv_addr"`
	PegIn    bool   `json:"peg_in"`
	Blocks   uint32 `json:"blocks"`
}

type pegResult struct {
	OrderId string `json:"order_id"`
	PegAddr string `json:"peg_addr"`
}

type pegStatusParams struct {
	OrderId string `json:"order_id"`
}

// pegStatusPush is the shape common to both a PegStatus response and a
// PegStatus notification; the status payload itself is an opaque,
// server-defined blob the worker reflects through unexamined.
type pegStatusPush struct {
	OrderId string          `json:"order_id"`
	Status  json.RawMessage `json:"status"`
}
