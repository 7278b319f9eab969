package solana

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsServer upgrades the connection and hands every request to respond.
// respond returns the frames to write back.
func wsServer(t *testing.T, respond func(req wsRequest) []any) (*httptest.Server, string) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req wsRequest
			if err := json.Unmarshal(msg, &req); err != nil {
				t.Errorf("unmarshal request: %v", err)
				return
			}
			if respond == nil {
				continue
			}
			for _, frame := range respond(req) {
				if err := conn.WriteJSON(frame); err != nil {
					return
				}
			}
		}
	}))
	return server, "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWSClient_SignatureSubscribe(t *testing.T) {
	server, wsURL := wsServer(t, func(req wsRequest) []any {
		if req.Method != "signatureSubscribe" {
			t.Errorf("expected signatureSubscribe, got %s", req.Method)
		}
		if req.Params[0] != "sig123" {
			t.Errorf("unexpected signature param %v", req.Params[0])
		}

		// Reply and notify back to back, as a node does for an already-confirmed signature.
		return []any{
			map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": 0},
			map[string]any{
				"jsonrpc": "2.0",
				"method":  "signatureNotification",
				"params": map[string]any{
					"subscription": 0,
					"result": map[string]any{
						"context": map[string]any{"slot": 5207624},
						"value":   map[string]any{"err": nil},
					},
				},
			},
		}
	})
	defer server.Close()

	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL, WSConfig{})
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	ch, err := client.SignatureSubscribe(ctx, "sig123", CommitmentConfirmed)
	if err != nil {
		t.Fatalf("SignatureSubscribe: %v", err)
	}

	select {
	case notif, ok := <-ch:
		if !ok {
			t.Fatal("channel closed without notification")
		}
		if notif.Signature != "sig123" {
			t.Errorf("expected sig123, got %s", notif.Signature)
		}
		if notif.Slot != 5207624 {
			t.Errorf("expected slot 5207624, got %d", notif.Slot)
		}
		if notif.Err != nil {
			t.Errorf("expected no error, got %v", notif.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for notification")
	}

	// Single notification, then closed.
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel to be closed after the notification")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}

func TestWSClient_SignatureSubscribe_OnChainError(t *testing.T) {
	server, wsURL := wsServer(t, func(req wsRequest) []any {
		return []any{
			map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": 7},
			map[string]any{
				"jsonrpc": "2.0",
				"method":  "signatureNotification",
				"params": map[string]any{
					"subscription": 7,
					"result": map[string]any{
						"value": map[string]any{"err": map[string]any{"InstructionError": []any{2, map[string]any{"Custom": 6001}}}},
					},
				},
			},
		}
	})
	defer server.Close()

	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL, WSConfig{})
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	ch, err := client.SignatureSubscribe(ctx, "sigfail", "")
	if err != nil {
		t.Fatalf("SignatureSubscribe: %v", err)
	}

	select {
	case notif := <-ch:
		if notif.Err == nil {
			t.Error("expected on-chain error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for notification")
	}
}

func TestWSClient_SubscribeErrorResponse(t *testing.T) {
	server, wsURL := wsServer(t, func(req wsRequest) []any {
		return []any{
			map[string]any{
				"jsonrpc": "2.0",
				"id":      req.ID,
				"error":   map[string]any{"code": -32602, "message": "Invalid params"},
			},
		}
	})
	defer server.Close()

	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL, WSConfig{})
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	if _, err := client.SignatureSubscribe(ctx, "bad", ""); err == nil {
		t.Fatal("expected subscription error")
	}
}

func TestWSClient_CloseEndsPendingSubscription(t *testing.T) {
	server, wsURL := wsServer(t, func(req wsRequest) []any {
		return []any{map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": 42}}
	})
	defer server.Close()

	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL, WSConfig{})
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}

	ch, err := client.SignatureSubscribe(ctx, "never", "")
	if err != nil {
		t.Fatalf("SignatureSubscribe: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription channel not closed on Close")
	}

	// Double close should be safe
	if err := client.Close(); err != nil {
		t.Errorf("double Close: %v", err)
	}
}

func TestWSClient_SubscribeAfterClose(t *testing.T) {
	server, wsURL := wsServer(t, nil)
	defer server.Close()

	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL, WSConfig{})
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}

	client.Close()

	if _, err := client.SignatureSubscribe(ctx, "sig", ""); err == nil {
		t.Error("expected error subscribing after close")
	}
}

func TestWSConfig_Defaults(t *testing.T) {
	cfg := WSConfig{PongWait: 10 * time.Second, PingInterval: time.Minute}.withDefaults()

	if cfg.PingInterval != 9*time.Second {
		t.Errorf("ping interval above pong wait should be clamped, got %v", cfg.PingInterval)
	}
	if cfg.SubscribeTimeout != DefaultWSConfig().SubscribeTimeout {
		t.Errorf("expected default SubscribeTimeout, got %v", cfg.SubscribeTimeout)
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		t.Errorf("reconnect bounds inverted: %v > %v", cfg.ReconnectMin, cfg.ReconnectMax)
	}
	if cfg.Logger == nil {
		t.Error("expected a no-op logger")
	}
}

func TestWSClient_ResubscribesAfterReconnect(t *testing.T) {
	var connections atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := connections.Add(1)

		for {
			var req wsRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			subID := int64(n * 100)
			conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": subID})
			if n == 1 {
				// Drop the first connection right after accepting the subscription.
				return
			}
			conn.WriteJSON(map[string]any{
				"jsonrpc": "2.0",
				"method":  "signatureNotification",
				"params": map[string]any{
					"subscription": subID,
					"result": map[string]any{
						"context": map[string]any{"slot": 77},
						"value":   map[string]any{"err": nil},
					},
				},
			})
		}
	}))
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL, WSConfig{ReconnectMin: 10 * time.Millisecond, ReconnectMax: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	ch, err := client.SignatureSubscribe(ctx, "sig-reconnect", "")
	if err != nil {
		t.Fatalf("SignatureSubscribe: %v", err)
	}

	select {
	case notif, ok := <-ch:
		if !ok {
			t.Fatal("channel closed without notification")
		}
		if notif.Signature != "sig-reconnect" || notif.Slot != 77 {
			t.Errorf("unexpected notification %+v", notif)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no notification after reconnect")
	}

	if got := connections.Load(); got < 2 {
		t.Errorf("expected a second connection, got %d", got)
	}
}
