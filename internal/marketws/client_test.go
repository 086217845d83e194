package marketws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sideswap-go/pegworker/pkg/logging"
)

// startEchoServer replies to every request with a Response envelope
// carrying the same id and a canned result, and separately emits one
// notification right after the handshake.
func startEchoServer(t *testing.T) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.WriteJSON(inboundEnvelope{
			Notification: &notificationEnvelope{Kind: "market_added", Data: json.RawMessage(`{"pair":"LBTC/USDT"}`)},
		})

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env outboundEnvelope
			if err := json.Unmarshal(data, &env); err != nil {
				continue
			}
			_ = conn.WriteJSON(inboundEnvelope{
				Response: &responseEnvelope{Id: env.Request.Id, Result: json.RawMessage(`{"ok":true}`)},
			})
		}
	}))
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClientRequestResponseRoundTrip(t *testing.T) {
	srv := startEchoServer(t)
	defer srv.Close()

	client := Dial(wsURL(srv), logging.GetDefault().Component("test"))
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// First event should be Connected.
	ev, err := client.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv (connected): %v", err)
	}
	if _, ok := ev.(ConnectedEvent); !ok {
		t.Fatalf("first event = %T, want ConnectedEvent", ev)
	}

	// Then the notification sent right after handshake.
	ev, err = client.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv (notification): %v", err)
	}
	notif, ok := ev.(NotificationEvent)
	if !ok || notif.Kind != "market_added" {
		t.Fatalf("second event = %+v, want NotificationEvent{Kind: market_added}", ev)
	}

	id, err := client.Send("list_markets", map[string]any{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	ev, err = client.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv (response): %v", err)
	}
	resp, ok := ev.(ResponseEvent)
	if !ok {
		t.Fatalf("third event = %T, want ResponseEvent", ev)
	}
	if resp.ID != id {
		t.Errorf("ResponseEvent.ID = %q, want %q", resp.ID, id)
	}
}

func TestClientReportsDisconnectAfterServerCloses(t *testing.T) {
	srv := startEchoServer(t)

	client := Dial(wsURL(srv), logging.GetDefault().Component("test"))
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Recv(ctx); err != nil {
		t.Fatalf("Recv (connected): %v", err)
	}
	if _, err := client.Recv(ctx); err != nil {
		t.Fatalf("Recv (notification): %v", err)
	}

	srv.Close()

	// Expect a Disconnected event once the server goes away.
	sawDisconnected := false
	for i := 0; i < 5 && !sawDisconnected; i++ {
		ev, err := client.Recv(ctx)
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if _, ok := ev.(DisconnectedEvent); ok {
			sawDisconnected = true
		}
	}
	if !sawDisconnected {
		t.Fatal("expected a DisconnectedEvent after the server closed")
	}
}
