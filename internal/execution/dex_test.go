package execution

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-position-engine/internal/retry"
)

func fastPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.BaseDelay = time.Millisecond
	p.MaxDelay = 2 * time.Millisecond
	p.AttemptTimeout = time.Second
	return p
}

func TestJupiterClient_Quote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "inMint", q.Get("inputMint"))
		assert.Equal(t, "outMint", q.Get("outputMint"))
		assert.Equal(t, "50000000", q.Get("amount"))
		assert.Equal(t, "300", q.Get("slippageBps"))
		w.Write([]byte(`{"inputMint":"inMint","outputMint":"outMint","inAmount":"50000000","outAmount":"4000000","priceImpactPct":"0.01","routePlan":[]}`))
	}))
	defer server.Close()

	c := NewJupiterClient(server.URL, time.Second, fastPolicy())
	q, err := c.Quote(context.Background(), QuoteRequest{
		InputMint: "inMint", OutputMint: "outMint", Amount: "50000000", SlippageBps: 300,
	})
	require.NoError(t, err)
	assert.Equal(t, "4000000", q.OutAmount)
	assert.Contains(t, string(q.raw), "routePlan")
}

func TestJupiterClient_QuoteRouteUnavailable(t *testing.T) {
	tests := []struct {
		name string
		code int
		body string
	}{
		{"error field", http.StatusBadRequest, `{"error":"COULD_NOT_FIND_ANY_ROUTE"}`},
		{"zero output", http.StatusOK, `{"inAmount":"1","outAmount":"0"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.code)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := NewJupiterClient(server.URL, time.Second, fastPolicy())
			_, err := c.Quote(context.Background(), QuoteRequest{InputMint: "a", OutputMint: "b", Amount: "1"})
			assert.True(t, errors.Is(err, ErrRouteUnavailable), "got %v", err)
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "route errors are not retried")
		})
	}
}

func TestJupiterClient_QuoteRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"inAmount":"1","outAmount":"2"}`))
	}))
	defer server.Close()

	c := NewJupiterClient(server.URL, time.Second, fastPolicy())
	q, err := c.Quote(context.Background(), QuoteRequest{InputMint: "a", OutputMint: "b", Amount: "1"})
	require.NoError(t, err)
	assert.Equal(t, "2", q.OutAmount)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestJupiterClient_BuildSwap(t *testing.T) {
	var got swapRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/quote":
			w.Write([]byte(`{"inAmount":"1","outAmount":"2","contextSlot":5}`))
		case "/swap":
			assert.Equal(t, http.MethodPost, r.Method)
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.Write([]byte(`{"swapTransaction":"AQID","lastValidBlockHeight":10}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	c := NewJupiterClient(server.URL, time.Second, fastPolicy())
	q, err := c.Quote(context.Background(), QuoteRequest{InputMint: "a", OutputMint: "b", Amount: "1"})
	require.NoError(t, err)

	tx, err := c.BuildSwap(context.Background(), q, "owner")
	require.NoError(t, err)
	assert.Equal(t, "AQID", tx)
	assert.Equal(t, "owner", got.UserPublicKey)
	assert.True(t, got.WrapAndUnwrapSol)
	assert.JSONEq(t, `{"inAmount":"1","outAmount":"2","contextSlot":5}`, string(got.QuoteResponse))
}

func TestJupiterClient_BuildSwapRequiresOwnQuote(t *testing.T) {
	c := NewJupiterClient("http://127.0.0.1:1", time.Second, fastPolicy())
	_, err := c.BuildSwap(context.Background(), &Quote{OutAmount: "1"}, "owner")
	assert.Error(t, err)
}
