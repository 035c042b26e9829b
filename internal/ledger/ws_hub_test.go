package ledger

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.clientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", want, hub.clientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_BroadcastReachesClients(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dialHub(t, srv)
	defer conn.Close()
	waitForClients(t, hub, 1)

	hub.BroadcastQuote("AAPL", price("175.50"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if msg.Type != "quote_updated" || msg.Symbol != "AAPL" || msg.Price != "175.50" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

// A dead client must be pruned by broadcasts while other goroutines read
// the client set, the way the ping loop does. Run with -race.
func TestHub_BroadcastPrunesDeadClientUnderConcurrentReads(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	alive := dialHub(t, srv)
	defer alive.Close()
	dead := dialHub(t, srv)
	waitForClients(t, hub, 2)

	dead.Close()

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				hub.clientCount()
			}
		}
	}()
	defer close(stop)

	// Writes to the closed conn eventually error; every failure must be
	// removed without disturbing the surviving client.
	deadline := time.Now().Add(5 * time.Second)
	for hub.clientCount() > 1 {
		if time.Now().After(deadline) {
			t.Fatalf("dead client never pruned, have %d clients", hub.clientCount())
		}
		hub.BroadcastQuote("AAPL", price("1"))
		time.Sleep(10 * time.Millisecond)
	}

	hub.BroadcastQuote("TSLA", price("250"))
	alive.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg Message
		if err := alive.ReadJSON(&msg); err != nil {
			t.Fatalf("surviving client lost its connection: %v", err)
		}
		if msg.Symbol == "TSLA" {
			break
		}
	}
}
