package solana

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"solana-position-engine/internal/retry"
)

func testPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.BaseDelay = time.Millisecond
	p.MaxDelay = 5 * time.Millisecond
	return p
}

// rpcServer answers every request with result, recording the last request.
func rpcServer(t *testing.T, result string, last *rpcRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if last != nil {
			if err := json.Unmarshal(body, last); err != nil {
				t.Errorf("unmarshal request: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":` + result + `}`))
	}))
}

func TestHTTPClient_SendTransaction(t *testing.T) {
	var req rpcRequest
	server := rpcServer(t, `"5sig"`, &req)
	defer server.Close()

	client := NewHTTPClient(server.URL, WithRetryPolicy(testPolicy()))
	sig, err := client.SendTransaction(context.Background(), "AQID")
	if err != nil {
		t.Fatalf("SendTransaction: %v", err)
	}
	if sig != "5sig" {
		t.Errorf("signature = %s, want 5sig", sig)
	}
	if req.Method != "sendTransaction" {
		t.Errorf("method = %s", req.Method)
	}
	opts, _ := req.Params[1].(map[string]interface{})
	if opts["encoding"] != "base64" || opts["skipPreflight"] != true {
		t.Errorf("unexpected options: %v", opts)
	}
}

func TestHTTPClient_GetSignatureStatuses(t *testing.T) {
	server := rpcServer(t, `{"context":{"slot":10},"value":[
		{"slot":9,"confirmations":null,"err":null,"confirmationStatus":"finalized"},
		null,
		{"slot":8,"confirmations":2,"err":{"InstructionError":[0,"Custom"]},"confirmationStatus":"confirmed"}
	]}`, nil)
	defer server.Close()

	client := NewHTTPClient(server.URL, WithRetryPolicy(testPolicy()))
	statuses, err := client.GetSignatureStatuses(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("GetSignatureStatuses: %v", err)
	}
	if len(statuses) != 3 {
		t.Fatalf("len = %d, want 3", len(statuses))
	}
	if statuses[0].ConfirmationStatus != CommitmentFinalized || statuses[0].Failed() {
		t.Errorf("unexpected first status: %+v", statuses[0])
	}
	if statuses[1] != nil {
		t.Errorf("expected unknown signature to be nil, got %+v", statuses[1])
	}
	if !statuses[2].Failed() || *statuses[2].Confirmations != 2 {
		t.Errorf("unexpected third status: %+v", statuses[2])
	}
}

func TestHTTPClient_GetTransaction(t *testing.T) {
	var req rpcRequest
	server := rpcServer(t, `{
		"slot": 12345,
		"blockTime": 1700000000,
		"meta": {
			"err": null,
			"fee": 5000,
			"preBalances": [2000000000, 1],
			"postBalances": [1499995000, 1],
			"preTokenBalances": [],
			"postTokenBalances": [
				{"accountIndex": 2, "mint": "MintA", "owner": "Wallet1",
				 "uiTokenAmount": {"amount": "2500000", "decimals": 6}}
			],
			"logMessages": ["Program log: swap"]
		},
		"transaction": {"message": {"accountKeys": ["Wallet1", "Program1", "Ata1"]}}
	}`, &req)
	defer server.Close()

	client := NewHTTPClient(server.URL, WithRetryPolicy(testPolicy()))
	tx, err := client.GetTransaction(context.Background(), "sig1", CommitmentConfirmed)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if tx.Slot != 12345 || tx.BlockTime != 1700000000 || tx.Meta.Fee != 5000 {
		t.Errorf("unexpected tx: %+v", tx)
	}
	opts, _ := req.Params[1].(map[string]interface{})
	if opts["commitment"] != "confirmed" {
		t.Errorf("commitment = %v", opts["commitment"])
	}

	tokens, err := tx.TokenDelta("Wallet1", "MintA")
	if err != nil {
		t.Fatalf("TokenDelta: %v", err)
	}
	if tokens.String() != "2.5" {
		t.Errorf("token delta = %s, want 2.5", tokens)
	}

	sol, err := tx.SOLDelta("Wallet1")
	if err != nil {
		t.Fatalf("SOLDelta: %v", err)
	}
	if sol.String() != "-0.500005" {
		t.Errorf("sol delta = %s, want -0.500005", sol)
	}

	if _, err := tx.LamportDelta("Nobody"); err == nil {
		t.Error("expected error for unknown account")
	}
}

func TestHTTPClient_GetTransaction_NotFound(t *testing.T) {
	server := rpcServer(t, `null`, nil)
	defer server.Close()

	client := NewHTTPClient(server.URL, WithRetryPolicy(testPolicy()))
	tx, err := client.GetTransaction(context.Background(), "missing", CommitmentFinalized)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if tx != nil {
		t.Errorf("expected nil transaction, got %+v", tx)
	}
}

func TestHTTPClient_Retry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"sig"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithRetryPolicy(testPolicy()))
	sig, err := client.SendTransaction(context.Background(), "AQID")
	if err != nil {
		t.Fatalf("SendTransaction: %v", err)
	}
	if sig != "sig" || calls.Load() != 3 {
		t.Errorf("sig=%s calls=%d", sig, calls.Load())
	}
}

func TestHTTPClient_RPCErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32002,"message":"Blockhash not found"}}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithRetryPolicy(testPolicy()))
	_, err := client.SendTransaction(context.Background(), "AQID")

	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32002 {
		t.Fatalf("expected RPCError -32002, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestHTTPClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	client := NewHTTPClient(server.URL, WithRetryPolicy(testPolicy()))
	if _, err := client.GetSignatureStatuses(ctx, []string{"a"}); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}

func TestCommitment_AtLeast(t *testing.T) {
	if !CommitmentFinalized.AtLeast(CommitmentConfirmed) {
		t.Error("finalized should satisfy confirmed")
	}
	if CommitmentConfirmed.AtLeast(CommitmentFinalized) {
		t.Error("confirmed should not satisfy finalized")
	}
	if Commitment("").AtLeast(CommitmentProcessed) {
		t.Error("empty commitment satisfies nothing")
	}
}
