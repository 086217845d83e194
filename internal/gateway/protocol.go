// Package gateway is the client-facing WS JSON protocol server (C4): it
// accepts client WebSocket connections, decodes the request envelope,
// dispatches each request to a Dispatcher, and fans out notifications
// pushed back for its client. The wire types here are the externally
// tagged unions of the client protocol: a single-key JSON object whose
// key names the variant.
package gateway

import "encoding/json"

// ToEnvelope is the client→server frame.
type ToEnvelope struct {
	Req *ReqFrame `json:"Req,omitempty"`
}

// ReqFrame carries the client-supplied correlation id alongside the
// request payload. Id is kept as raw JSON since the client may use any
// JSON value (string, number, null) as its correlation id.
type ReqFrame struct {
	Id  json.RawMessage `json:"id"`
	Req Req             `json:"req"`
}

// FromEnvelope is the server→client frame: exactly one of Resp, Error,
// or Notif is populated.
type FromEnvelope struct {
	Resp  *RespFrame  `json:"Resp,omitempty"`
	Error *ErrorFrame `json:"Error,omitempty"`
	Notif *NotifFrame `json:"Notif,omitempty"`
}

type RespFrame struct {
	Id   json.RawMessage `json:"id"`
	Resp Resp            `json:"resp"`
}

type ErrorFrame struct {
	Id  json.RawMessage `json:"id"`
	Err WireError       `json:"err"`
}

// WireError is the client-visible rendering of a command failure.
type WireError struct {
	Code    string      `json:"code"`
	Text    string      `json:"text"`
	Details interface{} `json:"details,omitempty"`
}

type NotifFrame struct {
	Notif Notif `json:"notif"`
}

// Req is the externally tagged union of every client request. Exactly
// one field is populated; Variant reports which, or false if zero or
// more than one is set.
type Req struct {
	NewAddress      *NewAddressReq      `json:"NewAddress,omitempty"`
	CreateTx        *CreateTxReq        `json:"CreateTx,omitempty"`
	SendTx          *SendTxReq          `json:"SendTx,omitempty"`
	GetQuote        *GetQuoteReq        `json:"GetQuote,omitempty"`
	AcceptQuote     *AcceptQuoteReq     `json:"AcceptQuote,omitempty"`
	NewPeg          *NewPegReq          `json:"NewPeg,omitempty"`
	DelPeg          *DelPegReq          `json:"DelPeg,omitempty"`
	GetMonitoredTxs *GetMonitoredTxsReq `json:"GetMonitoredTxs,omitempty"`
}

// Variant returns the name of the single populated request field.
func (r Req) Variant() (string, bool) {
	set := 0
	name := ""
	check := func(n string, v bool) {
		if v {
			set++
			name = n
		}
	}
	check("NewAddress", r.NewAddress != nil)
	check("CreateTx", r.CreateTx != nil)
	check("SendTx", r.SendTx != nil)
	check("GetQuote", r.GetQuote != nil)
	check("AcceptQuote", r.AcceptQuote != nil)
	check("NewPeg", r.NewPeg != nil)
	check("DelPeg", r.DelPeg != nil)
	check("GetMonitoredTxs", r.GetMonitoredTxs != nil)
	return name, set == 1
}

type NewAddressReq struct {
	UserNote string `json:"user_note,omitempty"`
}

type RecipientReq struct {
	Address string  `json:"address"`
	Asset   string  `json:"asset"`
	Amount  float64 `json:"amount"`
}

type CreateTxReq struct {
	Recipients []RecipientReq `json:"recipients"`
}

type SendTxReq struct {
	Txid     string `json:"txid"`
	UserNote string `json:"user_note,omitempty"`
}

type GetQuoteReq struct {
	SendAsset      string  `json:"send_asset"`
	RecvAsset      string  `json:"recv_asset"`
	SendAmount     float64 `json:"send_amount"`
	ReceiveAddress string  `json:"receive_address"`
}

type AcceptQuoteReq struct {
	QuoteId  string `json:"quote_id"`
	UserNote string `json:"user_note,omitempty"`
}

type NewPegReq struct {
	RecvAddr string `json:"recv_addr"`
	PegIn    bool   `json:"peg_in"`
	Blocks   uint32 `json:"blocks"`
}

type DelPegReq struct {
	OrderId string `json:"order_id"`
}

type GetMonitoredTxsReq struct{}

// Resp is the externally tagged union of every successful reply.
type Resp struct {
	NewAddress      *NewAddressResp      `json:"NewAddress,omitempty"`
	CreateTx        *CreateTxResp        `json:"CreateTx,omitempty"`
	SendTx          *SendTxResp          `json:"SendTx,omitempty"`
	GetQuote        *GetQuoteResp        `json:"GetQuote,omitempty"`
	AcceptQuote     *AcceptQuoteResp     `json:"AcceptQuote,omitempty"`
	NewPeg          *NewPegResp          `json:"NewPeg,omitempty"`
	DelPeg          *DelPegResp          `json:"DelPeg,omitempty"`
	GetMonitoredTxs *GetMonitoredTxsResp `json:"GetMonitoredTxs,omitempty"`
}

type NewAddressResp struct {
	Index   uint32 `json:"index"`
	Address string `json:"address"`
}

type CreateTxResp struct {
	Txid       string  `json:"txid"`
	NetworkFee float64 `json:"network_fee"`
}

// BroadcastStatus is the tagged Success/Error result of one side of a
// SendTx broadcast attempt.
type BroadcastStatus struct {
	Success *struct{}    `json:"Success,omitempty"`
	Error   *BroadcastErr `json:"Error,omitempty"`
}

type BroadcastErr struct {
	ErrorMsg string `json:"error_msg"`
}

// BroadcastSuccess builds the Success variant of BroadcastStatus.
func BroadcastSuccess() BroadcastStatus {
	return BroadcastStatus{Success: &struct{}{}}
}

// BroadcastFailure builds the Error variant of BroadcastStatus.
func BroadcastFailure(msg string) BroadcastStatus {
	return BroadcastStatus{Error: &BroadcastErr{ErrorMsg: msg}}
}

type SendTxResp struct {
	ResWallet BroadcastStatus `json:"res_wallet"`
	ResServer BroadcastStatus `json:"res_server"`
}

type GetQuoteResp struct {
	QuoteId    string  `json:"quote_id"`
	RecvAmount float64 `json:"recv_amount"`
	Ttl        uint64  `json:"ttl"`
	Txid       string  `json:"txid"`
}

type AcceptQuoteResp struct {
	Txid string `json:"txid"`
}

type NewPegResp struct {
	OrderId string `json:"order_id"`
	PegAddr string `json:"peg_addr"`
}

type DelPegResp struct{}

type MonitoredTxStatus string

const (
	StatusConfirmed MonitoredTxStatus = "Confirmed"
	StatusMempool   MonitoredTxStatus = "Mempool"
	StatusNotFound  MonitoredTxStatus = "NotFound"
)

type MonitoredTxEntry struct {
	Txid        string            `json:"txid"`
	Status      MonitoredTxStatus `json:"status"`
	Description string            `json:"description,omitempty"`
	UserNote    string            `json:"user_note,omitempty"`
}

type GetMonitoredTxsResp struct {
	Txs []MonitoredTxEntry `json:"txs"`
}

// Notif is the externally tagged union of everything pushed to a
// client outside of a request/reply cycle.
type Notif struct {
	Balances  *BalancesNotif  `json:"Balances,omitempty"`
	PegStatus *PegStatusNotif `json:"PegStatus,omitempty"`
}

type BalancesNotif struct {
	Balances map[string]float64 `json:"balances"`
}

// PegStatusNotif carries the order id plus the market server's status
// payload verbatim; its internal shape is an I/O adapter concern this
// package does not interpret.
type PegStatusNotif struct {
	OrderId string          `json:"order_id"`
	Status  json.RawMessage `json:"status"`
}

// idProbe tolerantly extracts just the correlation id from a raw client
// frame, for use when full parsing has already failed.
type idProbe struct {
	Req struct {
		Id json.RawMessage `json:"id"`
	} `json:"Req"`
}

var nullID = json.RawMessage("null")

func extractID(raw []byte) json.RawMessage {
	var p idProbe
	if err := json.Unmarshal(raw, &p); err == nil && len(p.Req.Id) > 0 {
		return p.Req.Id
	}
	return nullID
}
