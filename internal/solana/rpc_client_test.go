package solana

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// rpcServer answers every request with handler(method, params).
func rpcServer(t *testing.T, handler func(method string, params []json.RawMessage) map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64            `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}

		resp := handler(req.Method, req.Params)
		resp["jsonrpc"] = "2.0"
		resp["id"] = req.ID

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestHTTPClient_GetLatestBlockhash(t *testing.T) {
	server := rpcServer(t, func(method string, params []json.RawMessage) map[string]any {
		if method != "getLatestBlockhash" {
			t.Errorf("expected getLatestBlockhash, got %s", method)
		}
		return map[string]any{
			"result": map[string]any{
				"context": map[string]any{"slot": 100},
				"value": map[string]any{
					"blockhash":            "EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N",
					"lastValidBlockHeight": 3090,
				},
			},
		}
	})
	defer server.Close()

	bh, err := NewHTTPClient(server.URL, HTTPOptions{}).GetLatestBlockhash(context.Background(), "")
	if err != nil {
		t.Fatalf("GetLatestBlockhash: %v", err)
	}

	if bh.Blockhash != "EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N" {
		t.Errorf("unexpected blockhash %s", bh.Blockhash)
	}
	if bh.LastValidBlockHeight != 3090 {
		t.Errorf("expected lastValidBlockHeight 3090, got %d", bh.LastValidBlockHeight)
	}
}

func TestHTTPClient_SendTransaction(t *testing.T) {
	raw := []byte{1, 2, 3, 4, 5}

	server := rpcServer(t, func(method string, params []json.RawMessage) map[string]any {
		if method != "sendTransaction" {
			t.Errorf("expected sendTransaction, got %s", method)
		}

		var encoded string
		json.Unmarshal(params[0], &encoded)
		if encoded != base64.StdEncoding.EncodeToString(raw) {
			t.Errorf("unexpected payload %s", encoded)
		}

		var cfg map[string]any
		json.Unmarshal(params[1], &cfg)
		if cfg["encoding"] != "base64" {
			t.Errorf("expected base64 encoding, got %v", cfg["encoding"])
		}
		if cfg["maxRetries"] != float64(0) {
			t.Errorf("expected maxRetries 0, got %v", cfg["maxRetries"])
		}

		return map[string]any{"result": "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"}
	})
	defer server.Close()

	sig, err := NewHTTPClient(server.URL, HTTPOptions{}).SendTransaction(context.Background(), raw, SendOptions{SkipPreflight: true})
	if err != nil {
		t.Fatalf("SendTransaction: %v", err)
	}
	if sig == "" {
		t.Error("expected signature")
	}
}

func TestHTTPClient_GetSignatureStatuses(t *testing.T) {
	server := rpcServer(t, func(method string, params []json.RawMessage) map[string]any {
		return map[string]any{
			"result": map[string]any{
				"context": map[string]any{"slot": 82},
				"value": []any{
					map[string]any{
						"slot":               72,
						"confirmations":      10,
						"err":                nil,
						"confirmationStatus": "confirmed",
					},
					nil,
					map[string]any{
						"slot":               48,
						"confirmations":      nil,
						"err":                map[string]any{"InstructionError": []any{0, "Custom"}},
						"confirmationStatus": "finalized",
					},
				},
			},
		}
	})
	defer server.Close()

	statuses, err := NewHTTPClient(server.URL, HTTPOptions{}).GetSignatureStatuses(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("GetSignatureStatuses: %v", err)
	}
	if len(statuses) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(statuses))
	}

	if statuses[0] == nil || statuses[0].ConfirmationStatus != CommitmentConfirmed || statuses[0].Failed() {
		t.Errorf("unexpected first status %+v", statuses[0])
	}
	if statuses[1] != nil {
		t.Errorf("expected nil for unknown signature, got %+v", statuses[1])
	}
	if !statuses[2].Failed() {
		t.Error("expected third status to carry an on-chain error")
	}
	if statuses[2].Confirmations != nil {
		t.Error("finalized status should have nil confirmations")
	}
}

func TestHTTPClient_GetTokenAccountBalance(t *testing.T) {
	server := rpcServer(t, func(method string, params []json.RawMessage) map[string]any {
		return map[string]any{
			"result": map[string]any{
				"context": map[string]any{"slot": 1},
				"value": map[string]any{
					"amount":         "1250000000",
					"decimals":       8,
					"uiAmountString": "12.5",
				},
			},
		}
	})
	defer server.Close()

	bal, err := NewHTTPClient(server.URL, HTTPOptions{}).GetTokenAccountBalance(context.Background(), "ata")
	if err != nil {
		t.Fatalf("GetTokenAccountBalance: %v", err)
	}

	ui, err := bal.UIAmount()
	if err != nil {
		t.Fatalf("UIAmount: %v", err)
	}
	if ui.String() != "12.5" {
		t.Errorf("expected 12.5, got %s", ui)
	}
}

func TestHTTPClient_GetTokenAccountBalance_NotFound(t *testing.T) {
	server := rpcServer(t, func(method string, params []json.RawMessage) map[string]any {
		return map[string]any{
			"error": map[string]any{
				"code":    -32602,
				"message": "Invalid param: could not find account",
			},
		}
	})
	defer server.Close()

	_, err := NewHTTPClient(server.URL, HTTPOptions{}).GetTokenAccountBalance(context.Background(), "missing")
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestHTTPClient_RetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  "sig-after-retry",
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, HTTPOptions{RetryDelay: 5 * time.Millisecond, MaxRetries: 5})

	sig, err := client.SendTransaction(context.Background(), []byte{1}, SendOptions{})
	if err != nil {
		t.Fatalf("SendTransaction: %v", err)
	}
	if sig != "sig-after-retry" {
		t.Errorf("expected sig-after-retry, got %s", sig)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestHTTPClient_MaxRetriesIsTransient(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, HTTPOptions{RetryDelay: time.Millisecond, MaxRetries: 1})

	_, err := client.GetLatestBlockhash(context.Background(), CommitmentFinalized)
	if !errors.Is(err, ErrMaxRetries) {
		t.Fatalf("expected ErrMaxRetries, got %v", err)
	}
	if !IsTransient(err) {
		t.Error("exhausted HTTP retries should be transient")
	}
	if attempts.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts.Load())
	}
}

func TestHTTPClient_ClientErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, HTTPOptions{RetryDelay: time.Millisecond, MaxRetries: 3})

	_, err := client.GetSignatureStatuses(context.Background(), []string{"a"})
	if err == nil {
		t.Fatal("expected error for 401")
	}
	if errors.Is(err, ErrMaxRetries) {
		t.Errorf("4xx must not be retried, got %v", err)
	}
	if attempts.Load() != 1 {
		t.Errorf("expected a single attempt, got %d", attempts.Load())
	}
}

func TestHTTPClient_RateLimited(t *testing.T) {
	server := rpcServer(t, func(method string, params []json.RawMessage) map[string]any {
		return map[string]any{"result": "sig"}
	})
	defer server.Close()

	client := NewHTTPClient(server.URL, HTTPOptions{RequestsPerSec: 20})

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := client.SendTransaction(context.Background(), []byte{1}, SendOptions{}); err != nil {
			t.Fatalf("SendTransaction: %v", err)
		}
	}
	// Burst of one: the second and third calls each wait roughly 50ms.
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("expected calls to be paced, took %s", elapsed)
	}
}

func TestHTTPClient_RPCError(t *testing.T) {
	server := rpcServer(t, func(method string, params []json.RawMessage) map[string]any {
		return map[string]any{
			"error": map[string]any{
				"code":    -32002,
				"message": "Transaction simulation failed: Blockhash not found",
			},
		}
	})
	defer server.Close()

	_, err := NewHTTPClient(server.URL, HTTPOptions{}).SendTransaction(context.Background(), []byte{1}, SendOptions{})
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected *RPCError, got %T", err)
	}
	if rpcErr.Code != -32002 {
		t.Errorf("expected code -32002, got %d", rpcErr.Code)
	}
	if !IsTransient(err) {
		t.Error("blockhash not found should be transient")
	}
}

func TestHTTPClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, HTTPOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.GetLatestBlockhash(ctx, "")
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if IsTransient(err) {
		t.Error("cancellation must not be transient")
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("Blockhash not found"), true},
		{errors.New("block height exceeded"), true},
		{&RPCError{Code: -32005, Message: "Node is behind by 42 slots"}, true},
		{&RPCError{Code: -32602, Message: "invalid transaction"}, false},
		{errors.New("insufficient funds"), false},
		{context.Canceled, false},
	}

	for _, tt := range tests {
		if got := IsTransient(tt.err); got != tt.want {
			t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
