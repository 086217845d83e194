package coordinator

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/sideswap-go/pegworker/internal/amount"
	"github.com/sideswap-go/pegworker/internal/assets"
	"github.com/sideswap-go/pegworker/internal/gateway"
	"github.com/sideswap-go/pegworker/internal/model"
	"github.com/sideswap-go/pegworker/internal/walletport"
)

// dispatch executes req against the state store, invoking whichever
// ports the command needs. It runs entirely on the coordinator's single
// event-loop goroutine.
func (c *Coordinator) dispatch(req gateway.Req) (gateway.Resp, *Error) {
	switch {
	case req.NewAddress != nil:
		resp, err := c.newAddress(*req.NewAddress)
		return gateway.Resp{NewAddress: &resp}, err
	case req.CreateTx != nil:
		resp, err := c.createTx(*req.CreateTx)
		return gateway.Resp{CreateTx: &resp}, err
	case req.SendTx != nil:
		resp, err := c.sendTx(*req.SendTx)
		return gateway.Resp{SendTx: &resp}, err
	case req.GetQuote != nil:
		resp, err := c.getQuote(*req.GetQuote)
		return gateway.Resp{GetQuote: &resp}, err
	case req.AcceptQuote != nil:
		resp, err := c.acceptQuote(*req.AcceptQuote)
		return gateway.Resp{AcceptQuote: &resp}, err
	case req.NewPeg != nil:
		resp, err := c.newPeg(*req.NewPeg)
		return gateway.Resp{NewPeg: &resp}, err
	case req.DelPeg != nil:
		resp, err := c.delPeg(*req.DelPeg)
		return gateway.Resp{DelPeg: &resp}, err
	case req.GetMonitoredTxs != nil:
		resp, err := c.getMonitoredTxs()
		return gateway.Resp{GetMonitoredTxs: &resp}, err
	default:
		return gateway.Resp{}, newError(CodeInvalidRequest, "request named no known variant", nil)
	}
}

// newAddress implements §4.6.1: dense gap-limited address issuance.
func (c *Coordinator) newAddress(req gateway.NewAddressReq) (gateway.NewAddressResp, *Error) {
	ctx := context.Background()

	walletFirst, err := c.wallet.NewAddress(ctx, false, nil)
	if err != nil {
		return gateway.NewAddressResp{}, errWallet(err)
	}
	w := walletFirst.Index

	d := uint32(0)
	if maxIdx, ok := c.state.maxAddressIndex(); ok {
		d = maxIdx + 1
	}

	i := w
	if d > i {
		i = d
	}

	if i < w {
		// Precondition guard per spec.md §9 open question 3: the derived
		// index fell below the wallet's first-unused index. i = max(w, d)
		// above rules this out; the guard keeps i-w below from wrapping
		// around.
		return gateway.NewAddressResp{}, errInternal("derived index precedes wallet first-unused index: wallet/db diverged")
	}
	if i-w >= c.gapLimit {
		return gateway.NewAddressResp{}, errGapLimit()
	}

	idx := i
	result, err := c.wallet.NewAddress(ctx, false, &idx)
	if err != nil {
		return gateway.NewAddressResp{}, errWallet(err)
	}

	addr := model.Address{Index: idx, Address: result.Address, UserNote: req.UserNote}
	if err := c.store.AddAddress(addr); err != nil {
		return gateway.NewAddressResp{}, errPersistence(err)
	}
	c.state.addresses[idx] = addr

	return gateway.NewAddressResp{Index: idx, Address: result.Address}, nil
}

// createTx implements §4.6.2.
func (c *Coordinator) createTx(req gateway.CreateTxReq) (gateway.CreateTxResp, *Error) {
	recipients := make([]walletport.Recipient, 0, len(req.Recipients))
	notes := make([]string, 0, len(req.Recipients))

	for _, r := range req.Recipients {
		ticker := assets.Ticker(r.Asset)
		if !c.registry.HasTicker(ticker) {
			return gateway.CreateTxResp{}, errUnknownTicker(r.Asset)
		}
		precision := c.registry.Precision(ticker)
		intAmount, ok := amount.CheckRoundTrip(r.Amount, uint8(precision))
		if !ok {
			return gateway.CreateTxResp{}, errInvalidAssetAmount(r.Amount, uint8(precision))
		}
		recipients = append(recipients, walletport.Recipient{
			Address: r.Address,
			AssetId: c.registry.AssetID(ticker),
			Amount:  intAmount,
		})
		notes = append(notes, fmt.Sprintf("send %v %s to %s", r.Amount, r.Asset, r.Address))
	}

	result, err := c.wallet.CreateTx(context.Background(), recipients)
	if err != nil {
		return gateway.CreateTxResp{}, errWallet(err)
	}

	note := strings.Join(notes, ", ")
	c.state.createdTxs[result.Tx.Txid] = &createdTx{Tx: result.Tx, Note: note}

	networkFee := amount.ToFloat(result.Tx.NetworkFee, uint8(c.policyPrecision()))

	return gateway.CreateTxResp{Txid: result.Tx.Txid.String(), NetworkFee: networkFee}, nil
}

// sendTx implements §4.6.3, including the persist-before-broadcast
// ordering invariant (step 4 runs before step 5).
func (c *Coordinator) sendTx(req gateway.SendTxReq) (gateway.SendTxResp, *Error) {
	txid, err := chainhash.NewHashFromStr(req.Txid)
	if err != nil {
		return gateway.SendTxResp{}, errCodec("parse txid: " + err.Error())
	}

	created, ok := c.state.createdTxs[*txid]
	if !ok {
		return gateway.SendTxResp{}, errNoCreatedTx()
	}

	owned := make(map[wire.OutPoint]struct{}, len(c.state.utxos.Utxos()))
	for _, u := range c.state.utxos.Utxos() {
		owned[u.Outpoint] = struct{}{}
	}
	var missing []wire.OutPoint
	for _, op := range created.Tx.Inputs {
		if _, ok := owned[op]; !ok {
			missing = append(missing, op)
		}
	}
	if len(missing) > 0 {
		return gateway.SendTxResp{}, errUtxoCheckFailed("transaction spends an outpoint no longer in our UTXO set")
	}

	checkParams := checkOutpointsParams{Outpoints: make([]checkOutpointParam, len(created.Tx.Inputs))}
	for i, op := range created.Tx.Inputs {
		checkParams.Outpoints[i] = checkOutpointParam{Txid: op.Hash.String(), Vout: op.Index}
	}
	if cerr := c.marketRequest("check_outpoints", checkParams, time.Now().Add(c.requestTimeout), nil); cerr != nil {
		return gateway.SendTxResp{}, errUtxoCheckFailed(cerr.Error())
	}

	monitored := model.MonitoredTx{Txid: *txid, Description: created.Note, UserNote: req.UserNote}
	if err := c.store.AddMonitoredTx(monitored); err != nil {
		return gateway.SendTxResp{}, errPersistence(err)
	}
	c.state.monitoredTxs[*txid] = monitored

	resWallet := c.broadcastWallet(created.Tx.Hex)
	resServer := c.broadcastServer(created.Tx.Hex)

	c.state.createdTxs = make(map[model.Txid]*createdTx)

	return gateway.SendTxResp{ResWallet: resWallet, ResServer: resServer}, nil
}

func (c *Coordinator) broadcastWallet(txHex string) gateway.BroadcastStatus {
	if err := c.wallet.BroadcastTx(context.Background(), txHex); err != nil {
		return gateway.BroadcastFailure(err.Error())
	}
	return gateway.BroadcastSuccess()
}

func (c *Coordinator) broadcastServer(txHex string) gateway.BroadcastStatus {
	if cerr := c.marketRequest("broadcast_tx", serverBroadcastParams{TxHex: txHex}, time.Now().Add(c.requestTimeout), nil); cerr != nil {
		return gateway.BroadcastFailure(cerr.Error())
	}
	return gateway.BroadcastSuccess()
}

// acceptQuote implements §4.6.5.
func (c *Coordinator) acceptQuote(req gateway.AcceptQuoteReq) (gateway.AcceptQuoteResp, *Error) {
	q, ok := c.state.quotes[model.QuoteId(req.QuoteId)]
	if !ok {
		return gateway.AcceptQuoteResp{}, errNoQuote()
	}
	if !q.valid(time.Now()) {
		return gateway.AcceptQuoteResp{}, errQuoteExpired()
	}

	monitored := model.MonitoredTx{Txid: q.Txid, Description: q.Note, UserNote: req.UserNote}
	if err := c.store.AddMonitoredTx(monitored); err != nil {
		return gateway.AcceptQuoteResp{}, errPersistence(err)
	}
	c.state.monitoredTxs[q.Txid] = monitored

	var signResult takerSignResult
	signParams := takerSignParams{QuoteId: req.QuoteId, Pset: hex.EncodeToString(q.SignedPset)}
	if cerr := c.marketRequest("taker_sign", signParams, time.Now().Add(c.requestTimeout), &signResult); cerr != nil {
		return gateway.AcceptQuoteResp{}, cerr
	}

	if signResult.Txid != q.Txid.String() {
		return gateway.AcceptQuoteResp{}, errQuoteError("server-returned txid does not match the quoted transaction")
	}

	return gateway.AcceptQuoteResp{Txid: signResult.Txid}, nil
}

// newPeg implements §4.6.6.
func (c *Coordinator) newPeg(req gateway.NewPegReq) (gateway.NewPegResp, *Error) {
	var result pegResult
	params := pegParams{RecvAddr: req.RecvAddr, PegIn: req.PegIn, Blocks: req.Blocks}
	if cerr := c.marketRequest("peg", params, time.Now().Add(c.requestTimeout), &result); cerr != nil {
		return gateway.NewPegResp{}, cerr
	}

	var statusPush pegStatusPush
	if cerr := c.marketRequest("peg_status", pegStatusParams{OrderId: result.OrderId}, time.Now().Add(c.requestTimeout), &statusPush); cerr != nil {
		c.log.Warn("new peg status lookup failed", "order_id", result.OrderId, "error", cerr)
	}

	orderID := model.OrderId(result.OrderId)
	if err := c.store.AddPeg(model.Peg{OrderID: orderID}); err != nil {
		return gateway.NewPegResp{}, errPersistence(err)
	}
	c.state.pegs[orderID] = struct{}{}

	if statusPush.OrderId != "" {
		c.handlePegStatus(statusPush)
	}

	return gateway.NewPegResp{OrderId: result.OrderId, PegAddr: result.PegAddr}, nil
}

// delPeg implements §4.6.7. Per spec.md §9 open question 1, deletion is
// persistence-only: the in-memory pegs set and peg_statuses map are
// deliberately left untouched, preserving the source's observed
// behavior rather than silently "fixing" it.
func (c *Coordinator) delPeg(req gateway.DelPegReq) (gateway.DelPegResp, *Error) {
	if err := c.store.DeletePeg(model.OrderId(req.OrderId)); err != nil {
		return gateway.DelPegResp{}, errPersistence(err)
	}
	return gateway.DelPegResp{}, nil
}

// getMonitoredTxs implements §4.6.8.
func (c *Coordinator) getMonitoredTxs() (gateway.GetMonitoredTxsResp, *Error) {
	txids := make([]model.Txid, 0, len(c.state.monitoredTxs))
	for txid := range c.state.monitoredTxs {
		txids = append(txids, txid)
	}

	infos, err := c.wallet.GetTxs(context.Background(), txids)
	if err != nil {
		return gateway.GetMonitoredTxsResp{}, errWallet(err)
	}

	statusByTxid := make(map[model.Txid]walletport.TxInfo, len(infos))
	for _, info := range infos {
		statusByTxid[info.Txid] = info
	}

	out := make([]gateway.MonitoredTxEntry, 0, len(c.state.monitoredTxs))
	for txid, mon := range c.state.monitoredTxs {
		status := gateway.StatusNotFound
		if info, ok := statusByTxid[txid]; ok {
			if info.Height != nil {
				status = gateway.StatusConfirmed
			} else {
				status = gateway.StatusMempool
			}
		}
		out = append(out, gateway.MonitoredTxEntry{
			Txid:        txid.String(),
			Status:      status,
			Description: mon.Description,
			UserNote:    mon.UserNote,
		})
	}

	return gateway.GetMonitoredTxsResp{Txs: out}, nil
}
