package gateway

import (
	"context"

	"github.com/sideswap-go/pegworker/internal/model"
)

// Error is the gateway's view of a command failure: enough structure to
// render the wire Error frame directly. The coordinator's own error type
// converts to this one at the boundary, keeping this package free of any
// dependency on the coordinator.
type Error struct {
	Code    string
	Text    string
	Details interface{}
}

func (e *Error) toWire() WireError {
	return WireError{Code: e.Code, Text: e.Text, Details: e.Details}
}

// Dispatcher is the coordinator-side contract a Server drives. Connect
// registers a new client and returns the channel its notifications will
// arrive on; the channel is closed by the coordinator on Disconnect.
// Dispatch executes one request to completion and returns its reply.
type Dispatcher interface {
	Connect(id model.ClientId) <-chan Notif
	Disconnect(id model.ClientId)
	Dispatch(ctx context.Context, id model.ClientId, req Req) (Resp, *Error)
}
