// Package marketws is the server WS port (C3): a self-reconnecting
// typed duplex to the upstream market server. Outbound requests are
// correlated to their replies by id; inbound traffic (responses and
// notifications alike) is surfaced as a single ordered event stream so
// callers can drive the same "process every event" loop the coordinator
// needs both in its main loop and inside the quote wait (spec's "quote
// stream draining" requirement).
package marketws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sideswap-go/pegworker/pkg/logging"
)

// ErrClosed is returned once the client has been closed.
var ErrClosed = errors.New("marketws: client closed")

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second

	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2.0
)

// Client is a self-reconnecting duplex to one market server endpoint.
type Client struct {
	url string
	log *logging.Logger

	events   chan Event
	outbound chan outboundEnvelope
	closeCh  chan struct{}
}

// Dial starts connecting to url in the background and returns
// immediately; Connected/Disconnected pseudo-events report progress.
func Dial(url string, log *logging.Logger) *Client {
	c := &Client{
		url:      url,
		log:      log,
		events:   make(chan Event, 256),
		outbound: make(chan outboundEnvelope, 256),
		closeCh:  make(chan struct{}),
	}
	go c.run()
	return c
}

// Send enqueues a request and returns its correlation id. The reply
// arrives later as a ResponseEvent with a matching ID on the event
// stream returned by Recv; Send does not itself wait for a reply.
func (c *Client) Send(method string, params interface{}) (string, error) {
	id := uuid.NewString()
	env := outboundEnvelope{Request: requestEnvelope{Id: id, Method: method, Params: params}}

	select {
	case c.outbound <- env:
		return id, nil
	case <-c.closeCh:
		return "", ErrClosed
	}
}

// Recv blocks for the next event, or returns ctx's error if it is
// cancelled first.
func (c *Client) Recv(ctx context.Context) (Event, error) {
	select {
	case e, ok := <-c.events:
		if !ok {
			return nil, ErrClosed
		}
		return e, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the client and its reconnect loop.
func (c *Client) Close() {
	select {
	case <-c.closeCh:
	default:
		close(c.closeCh)
	}
}

func (c *Client) run() {
	backoff := initialBackoff
	for {
		select {
		case <-c.closeCh:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
		if err != nil {
			c.log.Warn("market server dial failed", "url", c.url, "error", err, "retry_in", backoff)
			if !c.sleep(backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = initialBackoff
		c.log.Info("market server connected", "url", c.url)
		c.publish(ConnectedEvent{})

		c.pump(conn)

		c.log.Warn("market server disconnected", "url", c.url)
		c.publish(DisconnectedEvent{})
	}
}

func (c *Client) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.closeCh:
		return false
	}
}

func nextBackoff(d time.Duration) time.Duration {
	next := time.Duration(float64(d) * backoffFactor)
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

// pump owns one live connection: a writer goroutine drains outbound
// requests and ping frames, while this goroutine reads inbound frames
// until the connection breaks.
func (c *Client) pump(conn *websocket.Conn) {
	stop := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-c.closeCh:
				return
			case req := <-c.outbound:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(req); err != nil {
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		c.handleInbound(data)
	}

	close(stop)
	conn.Close()
	<-writerDone
}

func (c *Client) handleInbound(data []byte) {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Warn("market server sent malformed message", "error", err)
		return
	}

	switch {
	case env.Response != nil:
		c.publish(ResponseEvent{ID: env.Response.Id, Result: env.Response.Result, Err: env.Response.Error})
	case env.Notification != nil:
		c.publish(NotificationEvent{Kind: env.Notification.Kind, Data: env.Notification.Data})
	default:
		c.log.Warn("market server sent an envelope with no recognized tag")
	}
}

func (c *Client) publish(e Event) {
	select {
	case c.events <- e:
	case <-c.closeCh:
	}
}
