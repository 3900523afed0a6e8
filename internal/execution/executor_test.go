package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-position-engine/internal/domain"
	"solana-position-engine/internal/keystore"
	"solana-position-engine/internal/observability"
	"solana-position-engine/internal/solana"
	"solana-position-engine/internal/solana/stub"
	"solana-position-engine/internal/storage/memory"
)

type fixedSOL float64

func (p fixedSOL) SOLUSD() float64 { return float64(p) }

func seedKeypair(t *testing.T, b byte) *solana.Keypair {
	t.Helper()
	seed := make([]byte, 32)
	seed[0] = b
	kp, err := solana.KeypairFromSeed(seed)
	require.NoError(t, err)
	return kp
}

type harness struct {
	exec    *Executor
	rpc     *stub.RPCClient
	watcher *stub.Watcher
	journal *memory.SettlementStore
	wallet  *domain.Wallet
	mint    string

	quotes      int32
	quoteAmount atomic.Value // raw amount of the last quote
	routeDown   atomic.Bool
}

func newHarness(t *testing.T, solUSD float64) *harness {
	t.Helper()

	owner := seedKeypair(t, 1)
	keys, err := keystore.Open(keystore.OpenOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { keys.Close() })
	require.NoError(t, keys.Put("wallet-1", owner.Base58()))

	h := &harness{
		rpc:     stub.NewRPCClient(),
		watcher: stub.NewWatcher(),
		journal: memory.NewSettlementStore(),
		wallet: &domain.Wallet{
			WalletID:       1,
			Address:        owner.Address(),
			KeyRef:         "wallet-1",
			EntryAmountUSD: 5,
		},
		mint: seedKeypair(t, 2).Address(),
	}

	var swaps int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/quote":
			atomic.AddInt32(&h.quotes, 1)
			h.quoteAmount.Store(r.URL.Query().Get("amount"))
			if h.routeDown.Load() {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"error":"COULD_NOT_FIND_ANY_ROUTE"}`))
				return
			}
			w.Write([]byte(`{"inAmount":"50000000","outAmount":"4000000"}`))
		case "/swap":
			var req swapRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			tx, err := stub.SwapTransaction(req.UserPublicKey, fmt.Sprint(atomic.AddInt32(&swaps, 1)))
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			json.NewEncoder(w).Encode(swapResponse{SwapTransaction: tx})
		}
	}))
	t.Cleanup(server.Close)

	h.exec = New(Options{
		DEX:     NewJupiterClient(server.URL, time.Second, fastPolicy()),
		RPC:     h.rpc,
		Watcher: h.watcher,
		Keys:    keys,
		Journal: h.journal,
		Prices:  fixedSOL(solUSD),
		Config: Config{
			ConfirmTimeout: 200 * time.Millisecond,
			PollInterval:   10 * time.Millisecond,
			UnknownGrace:   time.Minute,
		},
		Policy:  fastPolicy(),
		Metrics: observability.NewMetrics("test", prometheus.NewRegistry()),
	})
	return h
}

// land makes every submitted transaction finalize with the given balance
// changes for the wallet.
func (h *harness) land(lamports int64, preTokens, postTokens string) {
	h.rpc.OnSend = func(sig, _ string) {
		h.rpc.SetStatus(sig, &solana.SignatureStatus{Slot: 99, ConfirmationStatus: solana.CommitmentFinalized})
		h.rpc.AddTransaction(h.chainTx(sig, lamports, preTokens, postTokens, nil))
		h.watcher.Notify(sig, 99, nil)
	}
}

func (h *harness) chainTx(sig string, lamports int64, preTokens, postTokens string, txErr interface{}) *solana.Transaction {
	const start = 1_000_000_000
	tx := &solana.Transaction{
		Slot:      99,
		Signature: sig,
		Message:   &solana.TransactionMessage{AccountKeys: []string{h.wallet.Address}},
		Meta: &solana.TransactionMeta{
			Err:          txErr,
			PreBalances:  []uint64{start},
			PostBalances: []uint64{uint64(start + lamports)},
		},
	}
	if preTokens != "" {
		tx.Meta.PreTokenBalances = []solana.TokenBalance{{AccountIndex: 1, Mint: h.mint, Owner: h.wallet.Address, Amount: preTokens, Decimals: 6}}
	}
	if postTokens != "" {
		tx.Meta.PostTokenBalances = []solana.TokenBalance{{AccountIndex: 1, Mint: h.mint, Owner: h.wallet.Address, Amount: postTokens, Decimals: 6}}
	}
	return tx
}

func (h *harness) buy(prior string) *domain.TradeResult {
	return h.exec.Buy(context.Background(), BuyRequest{
		Wallet:         h.wallet,
		TokenID:        "tok-1",
		TokenMint:      h.mint,
		AmountUSD:      5,
		TokenDecimals:  6,
		PriorSignature: prior,
	})
}

func (h *harness) journalStatus(t *testing.T, sig string) domain.SettlementStatus {
	t.Helper()
	s, err := h.journal.GetBySignature(context.Background(), sig)
	require.NoError(t, err)
	return s.Status
}

func TestBuy_SettlesFromChain(t *testing.T) {
	h := newHarness(t, 100)
	h.land(-50_000_000, "", "4000000")

	res := h.buy("")

	require.True(t, res.Success, res.ErrorMessage)
	assert.NotEmpty(t, res.Signature)
	assert.Equal(t, "4", res.AmountTokens.String())
	assert.InDelta(t, 0.05, res.AmountSOL, 1e-9)
	assert.InDelta(t, 5.0, res.AmountUSD, 1e-9)
	assert.InDelta(t, 1.25, res.PriceUSD, 1e-9)
	assert.Equal(t, 1, h.rpc.SentCount())
	assert.Equal(t, domain.SettlementConfirmed, h.journalStatus(t, res.Signature))
}

func TestSell_SettlesFromChain(t *testing.T) {
	h := newHarness(t, 100)
	h.land(60_000_000, "4000000", "0")

	res := h.exec.Sell(context.Background(), SellRequest{
		Wallet:        h.wallet,
		TokenID:       "tok-1",
		TokenMint:     h.mint,
		TokenAmount:   decimal.NewFromInt(4),
		TokenDecimals: 6,
		Reason:        domain.ExitReasonTargetReturn,
	})

	require.True(t, res.Success, res.ErrorMessage)
	assert.Equal(t, "4000000", h.quoteAmount.Load())
	assert.Equal(t, "4", res.AmountTokens.String())
	assert.InDelta(t, 6.0, res.AmountUSD, 1e-9)
	assert.InDelta(t, 1.5, res.PriceUSD, 1e-9)

	s, err := h.journal.GetBySignature(context.Background(), res.Signature)
	require.NoError(t, err)
	assert.Equal(t, domain.SideSell, s.Side)
	assert.Equal(t, domain.SettlementConfirmed, s.Status)
	assert.Equal(t, domain.ExitReasonTargetReturn, s.Reason)
}

func TestSell_SellsExactlyWhatWasBought(t *testing.T) {
	const held = "123456789123456789"

	h := newHarness(t, 100)
	h.land(-50_000_000, "", held)
	bought := h.buy("")
	require.True(t, bought.Success, bought.ErrorMessage)
	assert.Equal(t, "123456789123.456789", bought.AmountTokens.String())

	h.land(60_000_000, held, "0")
	res := h.exec.Sell(context.Background(), SellRequest{
		Wallet:        h.wallet,
		TokenID:       "tok-1",
		TokenMint:     h.mint,
		TokenAmount:   bought.AmountTokens,
		TokenDecimals: 6,
	})

	require.True(t, res.Success, res.ErrorMessage)
	assert.Equal(t, held, h.quoteAmount.Load())
	assert.True(t, bought.AmountTokens.Equal(res.AmountTokens))
}

func TestBuy_Validation(t *testing.T) {
	h := newHarness(t, 100)

	res := h.exec.Buy(context.Background(), BuyRequest{Wallet: h.wallet, TokenID: "tok-1", TokenMint: "not-a-mint", AmountUSD: 5})
	assert.False(t, res.Success)
	assert.Equal(t, StageValidate, res.Stage)

	res = h.exec.Buy(context.Background(), BuyRequest{Wallet: h.wallet, TokenID: "tok-1", TokenMint: h.mint})
	assert.Equal(t, StageValidate, res.Stage)

	res = h.exec.Buy(context.Background(), BuyRequest{TokenID: "tok-1", TokenMint: h.mint, AmountUSD: 5})
	assert.Equal(t, StageValidate, res.Stage)

	assert.Zero(t, atomic.LoadInt32(&h.quotes))
}

func TestBuy_NoSOLPriceTouchesNothing(t *testing.T) {
	h := newHarness(t, 0)

	res := h.buy("")

	assert.False(t, res.Success)
	assert.Equal(t, StagePrice, res.Stage)
	assert.Contains(t, res.ErrorMessage, ErrPriceUnavailable.Error())
	assert.Zero(t, atomic.LoadInt32(&h.quotes))
	assert.Zero(t, h.rpc.SentCount())
}

func TestBuy_RouteUnavailable(t *testing.T) {
	h := newHarness(t, 100)
	h.routeDown.Store(true)

	res := h.buy("")

	assert.False(t, res.Success)
	assert.Equal(t, StageQuote, res.Stage)
	assert.Empty(t, res.Signature)
	assert.Contains(t, res.ErrorMessage, ErrRouteUnavailable.Error())
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.quotes))
	assert.Zero(t, h.rpc.SentCount())
}

func TestBuy_WrongKeyRefused(t *testing.T) {
	h := newHarness(t, 100)
	h.wallet.Address = seedKeypair(t, 9).Address()

	res := h.buy("")

	assert.False(t, res.Success)
	assert.Equal(t, StageSign, res.Stage)
	assert.Zero(t, h.rpc.SentCount())
}

func TestBuy_SubmitFailureResolvesJournal(t *testing.T) {
	h := newHarness(t, 100)
	h.rpc.SendErr = errors.New("node unhealthy")

	res := h.buy("")

	assert.False(t, res.Success)
	assert.Equal(t, StageSubmit, res.Stage)
	assert.Empty(t, res.Signature)

	unrecorded, err := h.journal.ListUnrecorded(context.Background())
	require.NoError(t, err)
	assert.Empty(t, unrecorded)
}

func TestBuy_ConfirmTimeoutKeepsJournalEntry(t *testing.T) {
	h := newHarness(t, 100)
	h.watcher.Silent = true

	res := h.buy("")

	assert.False(t, res.Success)
	assert.Equal(t, StageConfirm, res.Stage)
	assert.NotEmpty(t, res.Signature)
	assert.Contains(t, res.ErrorMessage, ErrConfirmTimeout.Error())

	unrecorded, err := h.journal.ListUnrecorded(context.Background())
	require.NoError(t, err)
	require.Len(t, unrecorded, 1)
	assert.Equal(t, res.Signature, unrecorded[0].Signature)
	assert.Equal(t, domain.SettlementSubmitted, unrecorded[0].Status)
}

func TestBuy_OnChainError(t *testing.T) {
	h := newHarness(t, 100)
	h.rpc.OnSend = func(sig, _ string) {
		h.rpc.SetStatus(sig, &solana.SignatureStatus{
			Slot:               99,
			Err:                map[string]interface{}{"InstructionError": []interface{}{2, "SlippageToleranceExceeded"}},
			ConfirmationStatus: solana.CommitmentConfirmed,
		})
	}

	res := h.buy("")

	assert.False(t, res.Success)
	assert.Equal(t, StageConfirm, res.Stage)
	assert.Contains(t, res.ErrorMessage, ErrTransactionFailed.Error())
	assert.Equal(t, domain.SettlementFailed, h.journalStatus(t, res.Signature))
}

func journalPrior(t *testing.T, h *harness, sig string, createdAt time.Time) {
	t.Helper()
	require.NoError(t, h.journal.Insert(context.Background(), &domain.Settlement{
		Signature: sig,
		IntentID:  "intent-1",
		WalletID:  1,
		TokenID:   "tok-1",
		Side:      domain.SideBuy,
		Status:    domain.SettlementSubmitted,
		CreatedAt: createdAt,
	}))
}

func TestBuy_ResumesLandedPrior(t *testing.T) {
	h := newHarness(t, 100)
	prior := stub.Signature("prior")
	journalPrior(t, h, prior, time.Now().Add(-time.Hour))
	h.rpc.SetStatus(prior, &solana.SignatureStatus{Slot: 90, ConfirmationStatus: solana.CommitmentFinalized})
	h.rpc.AddTransaction(h.chainTx(prior, -50_000_000, "", "4000000", nil))

	res := h.buy(prior)

	require.True(t, res.Success, res.ErrorMessage)
	assert.Equal(t, prior, res.Signature)
	assert.InDelta(t, 1.25, res.PriceUSD, 1e-9)
	assert.Zero(t, h.rpc.SentCount())
	assert.Zero(t, atomic.LoadInt32(&h.quotes))
	assert.Equal(t, domain.SettlementConfirmed, h.journalStatus(t, prior))
}

func TestBuy_FailedPriorStartsFresh(t *testing.T) {
	h := newHarness(t, 100)
	h.land(-50_000_000, "", "4000000")
	prior := stub.Signature("prior")
	journalPrior(t, h, prior, time.Now().Add(-time.Hour))
	h.rpc.SetStatus(prior, &solana.SignatureStatus{Slot: 90, Err: "BlockhashNotFound"})

	res := h.buy(prior)

	require.True(t, res.Success, res.ErrorMessage)
	assert.NotEqual(t, prior, res.Signature)
	assert.Equal(t, 1, h.rpc.SentCount())
	assert.Equal(t, domain.SettlementFailed, h.journalStatus(t, prior))

	fresh, err := h.journal.GetBySignature(context.Background(), res.Signature)
	require.NoError(t, err)
	assert.Equal(t, "intent-1", fresh.IntentID)
}

func TestBuy_UnknownPrior(t *testing.T) {
	t.Run("within grace is not resubmitted", func(t *testing.T) {
		h := newHarness(t, 100)
		h.land(-50_000_000, "", "4000000")
		prior := stub.Signature("prior")
		journalPrior(t, h, prior, time.Now())

		res := h.buy(prior)

		assert.False(t, res.Success)
		assert.Equal(t, StageResume, res.Stage)
		assert.Equal(t, prior, res.Signature)
		assert.Zero(t, h.rpc.SentCount())
		assert.Equal(t, domain.SettlementSubmitted, h.journalStatus(t, prior))
	})

	t.Run("after grace starts fresh", func(t *testing.T) {
		h := newHarness(t, 100)
		h.land(-50_000_000, "", "4000000")
		prior := stub.Signature("prior")
		journalPrior(t, h, prior, time.Now().Add(-10*time.Minute))

		res := h.buy(prior)

		require.True(t, res.Success, res.ErrorMessage)
		assert.Equal(t, 1, h.rpc.SentCount())
		assert.Equal(t, domain.SettlementFailed, h.journalStatus(t, prior))
	})
}

func (h *harness) resume(sig string) *domain.TradeResult {
	return h.exec.Resume(context.Background(), ResumeRequest{
		Side:      domain.SideBuy,
		Wallet:    h.wallet,
		TokenID:   "tok-1",
		TokenMint: h.mint,
		Signature: sig,
	})
}

func TestResume_SettlesLandedSignature(t *testing.T) {
	h := newHarness(t, 100)
	prior := stub.Signature("prior")
	journalPrior(t, h, prior, time.Now().Add(-time.Hour))
	h.rpc.SetStatus(prior, &solana.SignatureStatus{Slot: 90, ConfirmationStatus: solana.CommitmentFinalized})
	h.rpc.AddTransaction(h.chainTx(prior, -50_000_000, "", "4000000", nil))

	res := h.resume(prior)

	require.True(t, res.Success, res.ErrorMessage)
	assert.Equal(t, prior, res.Signature)
	assert.Equal(t, "4", res.AmountTokens.String())
	assert.Equal(t, domain.SettlementConfirmed, h.journalStatus(t, prior))
}

func TestResume_NeverStartsFresh(t *testing.T) {
	t.Run("failed on chain", func(t *testing.T) {
		h := newHarness(t, 100)
		h.land(-50_000_000, "", "4000000")
		prior := stub.Signature("prior")
		journalPrior(t, h, prior, time.Now().Add(-time.Hour))
		h.rpc.SetStatus(prior, &solana.SignatureStatus{Slot: 90, Err: "BlockhashNotFound"})

		res := h.resume(prior)

		assert.False(t, res.Success)
		assert.Equal(t, StageResume, res.Stage)
		assert.Contains(t, res.ErrorMessage, ErrNotLanded.Error())
		assert.Zero(t, h.rpc.SentCount())
		assert.Zero(t, atomic.LoadInt32(&h.quotes))
		assert.Equal(t, domain.SettlementFailed, h.journalStatus(t, prior))
	})

	t.Run("unknown within grace", func(t *testing.T) {
		h := newHarness(t, 100)
		prior := stub.Signature("prior")
		journalPrior(t, h, prior, time.Now())

		res := h.resume(prior)

		assert.False(t, res.Success)
		assert.NotContains(t, res.ErrorMessage, ErrNotLanded.Error())
		assert.Zero(t, h.rpc.SentCount())
		assert.Equal(t, domain.SettlementSubmitted, h.journalStatus(t, prior))
	})
}
