package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sideswap-go/pegworker/internal/model"
	"github.com/sideswap-go/pegworker/pkg/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Server is the client-facing WS protocol endpoint. One goroutine per
// connection handles both inbound requests and outbound notifications,
// so that commands from a given client are dispatched strictly in the
// order they were received.
type Server struct {
	addr       string
	dispatcher Dispatcher
	log        *logging.Logger
	upgrader   websocket.Upgrader

	nextClientID atomic.Uint64
	httpServer   *http.Server
}

// NewServer builds a gateway bound to addr, dispatching decoded
// requests to dispatcher.
func NewServer(addr string, dispatcher Dispatcher, log *logging.Logger) *Server {
	return &Server{
		addr:       addr,
		dispatcher: dispatcher,
		log:        log,
		upgrader:   websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// ListenAndServe blocks serving client connections until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpServer = &http.Server{Addr: s.addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("gateway listening", "addr", s.addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler returns the gateway's upgrade endpoint as a plain
// http.Handler, for embedding in a larger mux or an httptest server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	return mux
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("gateway websocket upgrade failed", "error", err)
		return
	}
	id := model.ClientId(s.nextClientID.Add(1))
	s.log.Info("client connected", "client_id", id)
	s.handleConnection(conn, id)
}

// handleConnection owns one client's lifetime: it registers with the
// dispatcher, relays inbound frames to Dispatch, relays outbound
// notifications to the socket, and unregisters on exit.
func (s *Server) handleConnection(conn *websocket.Conn, id model.ClientId) {
	defer conn.Close()

	notifCh := s.dispatcher.Connect(id)
	defer s.dispatcher.Disconnect(id)
	defer s.log.Info("client disconnected", "client_id", id)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	frames := make(chan []byte, 16)
	readDone := make(chan struct{})
	go func() {
		defer close(frames)
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt != websocket.TextMessage {
				continue
			}
			select {
			case frames <- data:
			case <-readDone:
				return
			}
		}
	}()
	defer close(readDone)

	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	for {
		select {
		case data, ok := <-frames:
			if !ok {
				return
			}
			s.handleFrame(conn, id, data)

		case notif, ok := <-notifCh:
			if !ok {
				continue
			}
			s.writeFrame(conn, FromEnvelope{Notif: &NotifFrame{Notif: notif}})

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleFrame parses one client text frame. A parse failure never
// reaches the dispatcher: the gateway answers InvalidRequest itself,
// using a best-effort extraction of the client's correlation id.
func (s *Server) handleFrame(conn *websocket.Conn, id model.ClientId, data []byte) {
	var env ToEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Req == nil {
		s.writeFrame(conn, FromEnvelope{Error: &ErrorFrame{
			Id:  extractID(data),
			Err: WireError{Code: CodeInvalidRequest, Text: "malformed request envelope"},
		}})
		return
	}

	if _, ok := env.Req.Req.Variant(); !ok {
		s.writeFrame(conn, FromEnvelope{Error: &ErrorFrame{
			Id:  env.Req.Id,
			Err: WireError{Code: CodeInvalidRequest, Text: "request must name exactly one variant"},
		}})
		return
	}

	ctx := context.Background()
	resp, cerr := s.dispatcher.Dispatch(ctx, id, env.Req.Req)
	if cerr != nil {
		s.writeFrame(conn, FromEnvelope{Error: &ErrorFrame{Id: env.Req.Id, Err: cerr.toWire()}})
		return
	}
	s.writeFrame(conn, FromEnvelope{Resp: &RespFrame{Id: env.Req.Id, Resp: resp}})
}

func (s *Server) writeFrame(conn *websocket.Conn, env FromEnvelope) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(env); err != nil {
		s.log.Warn("gateway write failed", "error", err)
	}
}

// CodeInvalidRequest names the error code used for frames that never
// reach the coordinator at all, matching the coordinator's own
// ErrorCode namespace without importing it.
const CodeInvalidRequest = "InvalidRequest"
