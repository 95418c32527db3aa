package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/opinionmarket/internal/chain"
	"github.com/alanyoungcy/opinionmarket/internal/crypto"
	"github.com/alanyoungcy/opinionmarket/internal/domain"
	"github.com/alanyoungcy/opinionmarket/internal/engine"
	"github.com/alanyoungcy/opinionmarket/internal/fees"
	"github.com/alanyoungcy/opinionmarket/internal/pricing"
	"github.com/alanyoungcy/opinionmarket/internal/server"
	"github.com/alanyoungcy/opinionmarket/internal/testutil"
)

type harness struct {
	srv    http.Handler
	token  *chain.MemoryToken
	blocks *chain.ManualBlocks
}

func newHarness(t *testing.T, cfg server.Config) *harness {
	t.Helper()
	h := &harness{
		token:  chain.NewMemoryToken(testutil.TokenA, testutil.Escrow),
		blocks: chain.NewManualBlocks(1),
	}
	for _, a := range []domain.Address{testutil.Alice, testutil.Bob, testutil.Carol} {
		h.fund(a)
	}
	eng, err := engine.New(engine.Deps{
		Token:   h.token,
		Blocks:  h.blocks,
		Clock:   testutil.NewClock(time.Unix(1_700_000_000, 0)),
		Pricing: pricing.NewPercentStep(pricing.DefaultBounds.Min),
		Fees:    fees.DefaultStandard(),
		Logger:  testutil.Logger(),
	})
	require.NoError(t, err)
	require.NoError(t, eng.Bootstrap(context.Background(), []domain.RoleGrant{
		{Role: domain.RoleAdmin, Account: testutil.Admin},
	}))

	logger := testutil.Logger()
	h.srv = server.NewServer(cfg, server.NewHandlers(eng, nil, logger), nil, nil, logger).Handler()
	return h
}

func (h *harness) fund(a domain.Address) {
	h.token.Mint(a, 1_000*domain.USDC)
	h.token.Approve(a, 1_000*domain.USDC)
}

func (h *harness) do(t *testing.T, method, path string, caller *domain.Address, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if caller != nil {
		req.Header.Set(crypto.HeaderSigner, caller.Hex())
	}
	rec := httptest.NewRecorder()
	h.srv.ServeHTTP(rec, req)

	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

var trusted = server.Config{TrustCallerHeader: true, SignatureWindow: time.Minute}

var newOpinion = map[string]any{
	"question":      "Which chain wins 2027?",
	"answer":        "Ethereum",
	"initial_price": 100 * domain.USDC,
	"categories":    []string{"Crypto"},
}

func TestHealth(t *testing.T) {
	h := newHarness(t, trusted)
	rec, body := h.do(t, http.MethodGet, "/api/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["paused"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestOpinionLifecycle(t *testing.T) {
	h := newHarness(t, trusted)
	alice, bob := testutil.Alice, testutil.Bob

	rec, _ := h.do(t, http.MethodPost, "/api/opinions", nil, newOpinion)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body := h.do(t, http.MethodPost, "/api/opinions", &alice, newOpinion)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, float64(1), body["id"])
	assert.Equal(t, "130.000000", body["next_price_display"])
	assert.Equal(t, alice.Hex(), body["question_owner"])
	h.blocks.Advance()

	rec, body = h.do(t, http.MethodPost, "/api/opinions/1/answers", &bob, map[string]any{"answer": "Solana"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(130*domain.USDC), body["price"].(map[string]any)["amount"])
	assert.Equal(t, "3.900000", body["creator_fee"].(map[string]any)["amount_display"])
	assert.Equal(t, "123.500000", body["owner_amount"].(map[string]any)["amount_display"])
	assert.Equal(t, "2.600000", body["platform_fee"].(map[string]any)["amount_display"])

	rec, _ = h.do(t, http.MethodGet, "/api/opinions/1/history", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var hist []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	require.Len(t, hist, 2)
	assert.Equal(t, "Solana", hist[1]["answer"])

	rec, body = h.do(t, http.MethodGet, "/api/opinions/1/next-price", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "169.000000", body["next_price_display"])

	rec, body = h.do(t, http.MethodGet, "/api/fees/"+alice.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(127_400_000), body["amount"])

	rec, _ = h.do(t, http.MethodGet, "/api/events?opinion_id=1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var events []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 2)
	assert.Equal(t, "answer_submitted", events[1]["kind"])
}

func TestQuestionResale(t *testing.T) {
	h := newHarness(t, trusted)
	alice, carol := testutil.Alice, testutil.Carol

	rec, _ := h.do(t, http.MethodPost, "/api/opinions", &alice, newOpinion)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, body := h.do(t, http.MethodPost, "/api/opinions/1/listing", &carol, map[string]any{"price": 50 * domain.USDC})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "not_the_owner", body["error"])

	rec, _ = h.do(t, http.MethodPost, "/api/opinions/1/listing", &alice, map[string]any{"price": 50 * domain.USDC})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body = h.do(t, http.MethodPost, "/api/opinions/1/purchase", &carol, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "45.000000", body["seller_amount"].(map[string]any)["amount_display"])
	assert.Equal(t, "5.000000", body["platform_fee"].(map[string]any)["amount_display"])
	assert.Equal(t, carol.Hex(), body["opinion"].(map[string]any)["question_owner"])

	rec, body = h.do(t, http.MethodDelete, "/api/opinions/1/listing", &carol, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "not_for_sale", body["error"])
}

func TestErrorMapping(t *testing.T) {
	h := newHarness(t, trusted)
	alice, bob, admin := testutil.Alice, testutil.Bob, testutil.Admin

	rec, body := h.do(t, http.MethodGet, "/api/opinions/42", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "opinion_not_found", body["error"])
	assert.Equal(t, float64(42), body["params"].(map[string]any)["opinion_id"])

	rec, _ = h.do(t, http.MethodGet, "/api/opinions/zero", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	bad := map[string]any{"question": "", "answer": "x", "initial_price": domain.USDC, "categories": []string{"Crypto"}}
	rec, body = h.do(t, http.MethodPost, "/api/opinions", &alice, bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "question_empty", body["error"])

	rec, _ = h.do(t, http.MethodPost, "/api/opinions", &alice, map[string]any{"nope": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = h.do(t, http.MethodPost, "/api/opinions", &alice, newOpinion)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, body = h.do(t, http.MethodPost, "/api/opinions/1/deactivate", &bob, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "unauthorized", body["error"])

	rec, _ = h.do(t, http.MethodPost, "/api/admin/pause", &bob, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body = h.do(t, http.MethodPost, "/api/admin/pause", &admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["paused"])

	h.blocks.Advance()
	rec, body = h.do(t, http.MethodPost, "/api/opinions/1/answers", &bob, map[string]any{"answer": "Solana"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "paused", body["error"])

	rec, _ = h.do(t, http.MethodGet, "/api/opinions/1", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRoles(t *testing.T) {
	h := newHarness(t, trusted)
	admin, carol := testutil.Admin, testutil.Carol
	grant := map[string]any{"role": "moderator", "account": carol.Hex()}

	rec, body := h.do(t, http.MethodPost, "/api/admin/roles", &admin, map[string]any{"role": "king", "account": carol.Hex()})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unknown_role", body["error"])

	rec, _ = h.do(t, http.MethodPost, "/api/admin/roles", &admin, grant)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = h.do(t, http.MethodDelete, "/api/admin/roles", &admin, grant)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSignedCaller(t *testing.T) {
	h := newHarness(t, server.Config{SignatureWindow: time.Minute})
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	signer := ethcrypto.PubkeyToAddress(key.PublicKey)
	h.fund(signer)

	body, err := json.Marshal(newOpinion)
	require.NoError(t, err)
	ts := time.Now().Unix()
	sig, err := crypto.SignRequest(key, ts, http.MethodPost, "/api/opinions", body)
	require.NoError(t, err)

	send := func(sig string, payload []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/opinions", bytes.NewReader(payload))
		req.Header.Set(crypto.HeaderSigner, signer.Hex())
		req.Header.Set(crypto.HeaderTimestamp, strconv.FormatInt(ts, 10))
		req.Header.Set(crypto.HeaderSignature, sig)
		rec := httptest.NewRecorder()
		h.srv.ServeHTTP(rec, req)
		return rec
	}

	tampered := bytes.Replace(body, []byte("Ethereum"), []byte("Dogecoin"), 1)
	assert.Equal(t, http.StatusUnauthorized, send(sig, tampered).Code)

	rec := send(sig, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, signer.Hex(), out["creator"])

	// Unsigned header is rejected outside trust mode.
	alice := testutil.Alice
	rec, _ = h.do(t, http.MethodPost, "/api/fees/claim", &alice, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSignedCaller_RejectsReplay(t *testing.T) {
	h := newHarness(t, server.Config{SignatureWindow: 5 * time.Minute})
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	signer := ethcrypto.PubkeyToAddress(key.PublicKey)
	h.fund(signer)

	body, err := json.Marshal(newOpinion)
	require.NoError(t, err)
	ts := time.Now().Unix()
	sig, err := crypto.SignRequest(key, ts, http.MethodPost, "/api/opinions", body)
	require.NoError(t, err)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/opinions", bytes.NewReader(body))
		req.Header.Set(crypto.HeaderSigner, signer.Hex())
		req.Header.Set(crypto.HeaderTimestamp, strconv.FormatInt(ts, 10))
		req.Header.Set(crypto.HeaderSignature, sig)
		rec := httptest.NewRecorder()
		h.srv.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	for range 2 {
		rec := send()
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "replayed signature")
	}

	rec, _ := h.do(t, http.MethodGet, "/api/opinions", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ops []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ops))
	assert.Len(t, ops, 1, "replays create nothing")

	// A fresh signature over a new timestamp is accepted.
	ts++
	sig, err = crypto.SignRequest(key, ts, http.MethodPost, "/api/opinions", body)
	require.NoError(t, err)
	h.blocks.Advance()
	rec = send()
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestAPIKey(t *testing.T) {
	h := newHarness(t, server.Config{APIKey: "secret", TrustCallerHeader: true})

	rec, _ := h.do(t, http.MethodGet, "/api/opinions", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = h.do(t, http.MethodGet, "/api/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/opinions", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	h.srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())
}
