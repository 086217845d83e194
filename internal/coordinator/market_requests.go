package coordinator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sideswap-go/pegworker/internal/gateway"
	"github.com/sideswap-go/pegworker/internal/marketws"
	"github.com/sideswap-go/pegworker/internal/model"
)

// MarketClient is the coordinator's abstraction over the server WS port
// (C3), satisfied by *marketws.Client. Defining it here (rather than
// depending on the concrete type) lets tests substitute a fake duplex.
type MarketClient interface {
	Send(method string, params interface{}) (string, error)
	Recv(ctx context.Context) (marketws.Event, error)
	Close()
}

// marketRequest sends one request and waits up to deadline for its
// correlated reply, decoding the result into out if non-nil. Every
// other event drained while waiting — responses to since-abandoned
// requests, and all notifications — is still run through
// handleMarketEvent, exactly as the main event loop would, so that
// markets/peg statuses/balances never drift while a request is
// in-flight. If the connection drops mid-wait, aborts immediately with
// Disconnected rather than waiting out the rest of deadline. This is
// the same drain-and-dispatch shape GetQuote's own wait (quote.go) uses
// for its additional quote_sub_id match.
//
// A single dedicated goroutine (pumpMarketEvents) owns c.market.Recv;
// this and every other in-loop consumer reads from the shared
// c.marketEvents channel instead, so the coordinator's one goroutine
// stays the only place marketplace events are interpreted.
func (c *Coordinator) marketRequest(method string, params interface{}, deadline time.Time, out interface{}) *Error {
	id, err := c.market.Send(method, params)
	if err != nil {
		return errWsDisconnected()
	}

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return errWsTimeout()
		}

		timer := time.NewTimer(remaining)
		select {
		case ev := <-c.marketEvents:
			timer.Stop()
			if resp, ok := ev.(marketws.ResponseEvent); ok && resp.ID == id {
				if resp.Err != nil {
					return errWsRejected(resp.Err.Error())
				}
				if out != nil && len(resp.Result) > 0 {
					if err := json.Unmarshal(resp.Result, out); err != nil {
						return errCodec(err.Error())
					}
				}
				return nil
			}
			if _, ok := ev.(marketws.DisconnectedEvent); ok {
				c.handleMarketEvent(ev)
				return errWsDisconnected()
			}
			c.handleMarketEvent(ev)

		case <-timer.C:
			return errWsTimeout()
		}
	}
}

// handleMarketEvent applies the state effects of one event from the
// market server's stream that was not consumed as a correlated reply.
func (c *Coordinator) handleMarketEvent(ev marketws.Event) {
	switch e := ev.(type) {
	case marketws.ConnectedEvent:
		c.log.Info("market server connected")
		c.state.marketConnected = true
		c.state.pendingBootstrap = true

	case marketws.DisconnectedEvent:
		c.log.Warn("market server disconnected")
		c.state.marketConnected = false

	case marketws.ResponseEvent:
		c.log.Warn("market server sent an unmatched response", "id", e.ID)

	case marketws.NotificationEvent:
		c.handleMarketNotification(e)
	}
}

func (c *Coordinator) handleMarketNotification(e marketws.NotificationEvent) {
	switch e.Kind {
	case "market_added":
		var n marketAddedNotif
		if err := json.Unmarshal(e.Data, &n); err != nil {
			c.log.Warn("malformed market_added notification", "error", err)
			return
		}
		c.state.markets = append(c.state.markets, n.Market)

	case "market_removed":
		var n marketRemovedNotif
		if err := json.Unmarshal(e.Data, &n); err != nil {
			c.log.Warn("malformed market_removed notification", "error", err)
			return
		}
		filtered := c.state.markets[:0]
		for _, m := range c.state.markets {
			if m.Base == n.Base && m.Quote == n.Quote {
				continue
			}
			filtered = append(filtered, m)
		}
		c.state.markets = filtered

	case "peg_status":
		var push pegStatusPush
		if err := json.Unmarshal(e.Data, &push); err != nil {
			c.log.Warn("malformed peg_status notification", "error", err)
			return
		}
		c.handlePegStatus(push)

	case "quote":
		// Only meaningful inside GetQuote's own wait (quote.go), which
		// intercepts matching notifications itself before they reach
		// here; an unmatched one arrives here as a harmless no-op.

	default:
		c.log.Debug("ignoring unrecognized market notification", "kind", e.Kind)
	}
}

// handlePegStatus implements the fan-out-before-store pipeline: a
// connected client must observe the update at or before the instant
// peg_statuses reflects it, the opposite ordering of SendTx's
// persist-before-broadcast rule.
func (c *Coordinator) handlePegStatus(push pegStatusPush) {
	orderID := model.OrderId(push.OrderId)
	if _, known := c.state.pegs[orderID]; !known {
		return
	}
	c.state.fanOut(gateway.Notif{PegStatus: &gateway.PegStatusNotif{OrderId: push.OrderId, Status: push.Status}})
	c.state.pegStatuses[orderID] = push
}

// bootstrapAfterConnect runs once per (re)connection, at the top level
// of the event loop rather than nested inside another request's wait:
// it refreshes the market list and re-queries every known peg's status.
func (c *Coordinator) bootstrapAfterConnect() {
	deadline := time.Now().Add(c.requestTimeout)

	var markets []MarketInfo
	if cerr := c.marketRequest("list_markets", struct{}{}, deadline, &markets); cerr != nil {
		c.log.Warn("bootstrap list_markets failed", "error", cerr)
	} else {
		c.state.markets = markets
	}

	for orderID := range c.state.pegs {
		var push pegStatusPush
		deadline := time.Now().Add(c.requestTimeout)
		if cerr := c.marketRequest("peg_status", pegStatusParams{OrderId: string(orderID)}, deadline, &push); cerr != nil {
			c.log.Warn("bootstrap peg_status failed", "order_id", orderID, "error", cerr)
			continue
		}
		c.handlePegStatus(push)
	}
}
