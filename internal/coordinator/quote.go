package coordinator

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/sideswap-go/pegworker/internal/amount"
	"github.com/sideswap-go/pegworker/internal/assets"
	"github.com/sideswap-go/pegworker/internal/gateway"
	"github.com/sideswap-go/pegworker/internal/marketws"
	"github.com/sideswap-go/pegworker/internal/model"
)

const (
	tradeDirSell = "Sell"
	tradeDirBuy  = "Buy"

	feeAssetBase  = "Base"
	feeAssetQuote = "Quote"
)

// getQuote implements the quote state machine (C7): starting a
// subscription with the market server, then waiting up to
// c.quoteDeadline for the matching asynchronous quote notification,
// while every other drained event still runs through the normal event
// handling path.
func (c *Coordinator) getQuote(req gateway.GetQuoteReq) (_ gateway.GetQuoteResp, qerr *Error) {
	if !c.registry.HasTicker(assets.Ticker(req.SendAsset)) {
		return gateway.GetQuoteResp{}, errUnknownTicker(req.SendAsset)
	}
	if !c.registry.HasTicker(assets.Ticker(req.RecvAsset)) {
		return gateway.GetQuoteResp{}, errUnknownTicker(req.RecvAsset)
	}

	market, ok := c.state.findMarket(req.SendAsset, req.RecvAsset)
	if !ok {
		return gateway.GetQuoteResp{}, errNoMarket()
	}

	sendIsBase := market.Base == req.SendAsset
	var assetType, baseTradeDir string
	if sendIsBase {
		assetType = feeAssetBase
		baseTradeDir = tradeDirSell
	} else {
		assetType = feeAssetQuote
		baseTradeDir = tradeDirBuy
	}

	sendPrecision := c.registry.Precision(assets.Ticker(req.SendAsset))
	sendAmountInt, ok := amount.CheckRoundTrip(req.SendAmount, uint8(sendPrecision))
	if !ok {
		return gateway.GetQuoteResp{}, errInvalidAssetAmount(req.SendAmount, uint8(sendPrecision))
	}

	changeResult, err := c.wallet.NewAddress(context.Background(), true, nil)
	if err != nil {
		return gateway.GetQuoteResp{}, errWallet(err)
	}

	sendAssetID := c.registry.AssetID(assets.Ticker(req.SendAsset))
	var total uint64
	var utxos []quoteUtxo
	for _, u := range c.state.utxos.Utxos() {
		if u.Asset != sendAssetID {
			continue
		}
		total = amount.SatAdd(total, u.Value)
		utxos = append(utxos, quoteUtxo{Txid: u.Outpoint.Hash.String(), Vout: u.Outpoint.Index, Value: u.Value})
	}
	if total < sendAmountInt {
		return gateway.GetQuoteResp{}, errNotEnoughAmount(sendAssetID.String(), sendAmountInt, total)
	}

	startDeadline := time.Now().Add(c.requestTimeout)
	var startResult startQuotesResult
	startParams := startQuotesParams{
		Pair:           pairKey(market.Base, market.Quote),
		AssetType:      assetType,
		Amount:         sendAmountInt,
		TradeDir:       tradeDirSell,
		Utxos:          utxos,
		ReceiveAddress: req.ReceiveAddress,
		ChangeAddress:  changeResult.Address,
	}
	if cerr := c.marketRequest("start_quotes", startParams, startDeadline, &startResult); cerr != nil {
		return gateway.GetQuoteResp{}, cerr
	}
	defer func() {
		if qerr != nil {
			// Best effort: a failed send is ignored.
			_, _ = c.market.Send("stop_quotes", stopQuotesParams{QuoteSubId: startResult.QuoteSubId})
		}
	}()

	waitDeadline := time.Now().Add(c.quoteDeadline)
	notif, cerr := c.waitForQuote(startResult.QuoteSubId, waitDeadline)
	if cerr != nil {
		return gateway.GetQuoteResp{}, cerr
	}

	switch {
	case notif.Success != nil:
		return c.acceptQuoteNotification(req, market, baseTradeDir, notif.Success)
	case notif.LowBalance != nil:
		return gateway.GetQuoteResp{}, errNotEnoughAmount(sendAssetID.String(), sendAmountInt, notif.LowBalance.Available)
	case notif.Error != nil:
		return gateway.GetQuoteResp{}, errQuoteError(notif.Error.ErrorMsg)
	default:
		return gateway.GetQuoteResp{}, errQuoteError("quote notification carried no outcome")
	}
}

// waitForQuote blocks until a "quote" notification correlated to subID
// arrives, the deadline elapses, or the connection drops. Every other
// event drained meanwhile is still dispatched through handleMarketEvent.
// Like marketRequest, it reads c.marketEvents rather than calling
// c.market.Recv directly, since pumpMarketEvents is the one goroutine
// that owns the underlying Recv call.
func (c *Coordinator) waitForQuote(subID string, deadline time.Time) (*quoteNotification, *Error) {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, errWsTimeout()
		}

		timer := time.NewTimer(remaining)
		select {
		case ev := <-c.marketEvents:
			timer.Stop()

			if notifEv, ok := ev.(marketws.NotificationEvent); ok && notifEv.Kind == "quote" {
				var qn quoteNotification
				if jsonErr := json.Unmarshal(notifEv.Data, &qn); jsonErr == nil && qn.QuoteSubId == subID {
					return &qn, nil
				}
			}

			if de, ok := ev.(marketws.DisconnectedEvent); ok {
				c.handleMarketEvent(de)
				return nil, errWsDisconnected()
			}

			c.handleMarketEvent(ev)

		case <-timer.C:
			return nil, errWsTimeout()
		}
	}
}

func (c *Coordinator) acceptQuoteNotification(req gateway.GetQuoteReq, market MarketInfo, baseTradeDir string, success *quoteSuccess) (gateway.GetQuoteResp, *Error) {
	totalFee := amount.SatAdd(success.ServerFee, success.FixedFee)

	var expectedSend, recv uint64
	switch {
	case baseTradeDir == tradeDirSell && market.FeeAsset == feeAssetBase:
		expectedSend = amount.SatAdd(success.BaseAmount, totalFee)
		recv = success.QuoteAmount
	case baseTradeDir == tradeDirSell && market.FeeAsset == feeAssetQuote:
		expectedSend = success.BaseAmount
		recv = amount.SatSub(success.QuoteAmount, totalFee)
	case baseTradeDir == tradeDirBuy && market.FeeAsset == feeAssetBase:
		expectedSend = success.QuoteAmount
		recv = amount.SatSub(success.BaseAmount, totalFee)
	default: // Buy / Quote
		expectedSend = amount.SatAdd(success.QuoteAmount, totalFee)
		recv = success.BaseAmount
	}

	sendPrecision := c.registry.Precision(assets.Ticker(req.SendAsset))
	sendAmountInt, _ := amount.CheckRoundTrip(req.SendAmount, uint8(sendPrecision))
	if expectedSend != sendAmountInt {
		sendAssetID := c.registry.AssetID(assets.Ticker(req.SendAsset))
		return gateway.GetQuoteResp{}, errNotEnoughAmount(sendAssetID.String(), sendAmountInt, expectedSend)
	}

	psetDeadline := time.Now().Add(c.requestTimeout)
	var psetResult getQuotePsetResult
	if cerr := c.marketRequest("get_quote", getQuotePsetParams{QuoteId: success.QuoteId}, psetDeadline, &psetResult); cerr != nil {
		return gateway.GetQuoteResp{}, cerr
	}

	psetBytes, err := hex.DecodeString(psetResult.Pset)
	if err != nil {
		return gateway.GetQuoteResp{}, errCodec("decode quote pset: " + err.Error())
	}

	txid, err := extractPsetTxid(psetBytes)
	if err != nil {
		return gateway.GetQuoteResp{}, errCodec(err.Error())
	}

	signedPset, err := c.wallet.SignPset(context.Background(), psetBytes)
	if err != nil {
		return gateway.GetQuoteResp{}, errWallet(err)
	}

	recvPrecision := c.registry.Precision(assets.Ticker(req.RecvAsset))
	recvAmount := amount.ToFloat(recv, uint8(recvPrecision))

	now := time.Now()
	q := &quote{
		Txid:       txid,
		SignedPset: signedPset,
		ExpiresAt:  now.Add(time.Duration(success.Ttl) * time.Second),
		Note:       fmt.Sprintf("swap %v %s for %v %s to %s", req.SendAmount, req.SendAsset, recvAmount, req.RecvAsset, req.ReceiveAddress),
		RecvAmount: recvAmount,
		Ttl:        success.Ttl,
	}
	c.state.quotes[model.QuoteId(success.QuoteId)] = q

	return gateway.GetQuoteResp{
		QuoteId:    success.QuoteId,
		RecvAmount: recvAmount,
		Ttl:        success.Ttl,
		Txid:       txid.String(),
	}, nil
}

// sweepExpiredQuotes removes every quote whose TTL has elapsed, run
// once per event-loop cycle per spec's C8 "quote TTL sweep".
func (c *Coordinator) sweepExpiredQuotes() {
	now := time.Now()
	for id, q := range c.state.quotes {
		if !q.valid(now) {
			delete(c.state.quotes, id)
		}
	}
}

// extractPsetTxid is a minimal stand-in for parsing an Elements PSET's
// contained transaction id: this worker treats the PSET as an opaque
// blob (real PSET parsing lives in the wallet subsystem, out of scope
// per spec.md §1), so the txid is taken as the double-SHA256
// (chainhash.HashH) of the PSET bytes.
func extractPsetTxid(pset []byte) (model.Txid, error) {
	digest := chainhash.HashH(pset)
	return digest, nil
}

