package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/libpayplan-go/engine"
	"github.com/bitfsorg/libpayplan-go/ledger"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type reply struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newServer(t *testing.T) *Server {
	t.Helper()
	eng, err := engine.New(engine.Config{
		Store:   ledger.NewMemStore(),
		Clock:   clockwork.NewFakeClockAt(t0),
		Workers: 2,
	})
	require.NoError(t, err)
	return New(eng, nil)
}

func do(t *testing.T, s *Server, method, path, body string) (int, reply) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var r reply
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r), rec.Body.String())
	}
	return rec.Code, r
}

func seed(t *testing.T, s *Server) {
	t.Helper()
	for _, body := range []string{
		`{"username":"root"}`,
		`{"username":"alice","sponsor":"root","side":"L"}`,
	} {
		code, r := do(t, s, http.MethodPost, "/v1/members", body)
		require.Equal(t, http.StatusCreated, code, r.Message)
	}
	code, r := do(t, s, http.MethodPost, "/v1/upgrades", `{"username":"root","amount":"1000"}`)
	require.Equal(t, http.StatusOK, code, r.Message)
	code, r = do(t, s, http.MethodPost, "/v1/upgrades", `{"username":"alice","amount":"500"}`)
	require.Equal(t, http.StatusOK, code, r.Message)
}

// ---------------------------------------------------------------------------
// Basics
// ---------------------------------------------------------------------------

func TestHealth(t *testing.T) {
	s := newServer(t)
	code, r := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", r.Message)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

// ---------------------------------------------------------------------------
// Members
// ---------------------------------------------------------------------------

func TestRegisterAndFetch(t *testing.T) {
	s := newServer(t)
	seed(t, s)

	code, r := do(t, s, http.MethodGet, "/v1/members/alice", "")
	require.Equal(t, http.StatusOK, code)
	var a ledger.Account
	require.NoError(t, json.Unmarshal(r.Data, &a))
	assert.Equal(t, "alice", a.Username)
	assert.Equal(t, ledger.Premium, a.Membership)
	assert.Equal(t, "root", a.PlacementParent)

	code, r = do(t, s, http.MethodGet, "/v1/members/root/history", "")
	require.Equal(t, http.StatusOK, code)
	var h []ledger.HistoryEntry
	require.NoError(t, json.Unmarshal(r.Data, &h))
	require.Len(t, h, 1)
	assert.Equal(t, "25", h[0].Amount.String())

	code, r = do(t, s, http.MethodGet, "/v1/members/root/summary", "")
	require.Equal(t, http.StatusOK, code)
	var sum engine.IncomeSummary
	require.NoError(t, json.Unmarshal(r.Data, &sum))
	assert.Equal(t, "25", sum.TotalEarning.String())
}

func TestRegister_Errors(t *testing.T) {
	s := newServer(t)
	seed(t, s)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing username", `{"sponsor":"root"}`, http.StatusBadRequest},
		{"bad side", `{"username":"bob","side":"X"}`, http.StatusBadRequest},
		{"bad json", `{"username":`, http.StatusBadRequest},
		{"unknown sponsor", `{"username":"bob","sponsor":"ghost"}`, http.StatusBadRequest},
		{"duplicate", `{"username":"Alice"}`, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, r := do(t, s, http.MethodPost, "/v1/members", tt.body)
			assert.Equal(t, tt.want, code)
			assert.Equal(t, tt.want, r.Status)
			assert.NotEmpty(t, r.Message)
		})
	}
}

func TestGetAccount_NotFound(t *testing.T) {
	s := newServer(t)
	code, _ := do(t, s, http.MethodGet, "/v1/members/ghost", "")
	assert.Equal(t, http.StatusNotFound, code)
}

// ---------------------------------------------------------------------------
// Money movements
// ---------------------------------------------------------------------------

func TestDeposit_Errors(t *testing.T) {
	s := newServer(t)
	seed(t, s)
	code, _ := do(t, s, http.MethodPost, "/v1/members", `{"username":"fred","sponsor":"root"}`)
	require.Equal(t, http.StatusCreated, code)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"zero amount", "/v1/deposits", `{"username":"alice","amount":"0"}`, http.StatusBadRequest},
		{"negative amount", "/v1/deposits", `{"username":"alice","amount":-5}`, http.StatusBadRequest},
		{"free account top-up", "/v1/deposits", `{"username":"fred","amount":"10"}`, http.StatusUnprocessableEntity},
		{"unknown member", "/v1/deposits", `{"username":"ghost","amount":"10"}`, http.StatusNotFound},
		{"empty wallet", "/v1/wallet/upgrade", `{"username":"fred","amount":"10"}`, http.StatusUnprocessableEntity},
		{"overdraw", "/v1/withdrawals", `{"username":"alice","amount":"10"}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, r := do(t, s, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.want, code, r.Message)
		})
	}
}

func TestWalletFlow(t *testing.T) {
	s := newServer(t)
	seed(t, s)
	code, _ := do(t, s, http.MethodPost, "/v1/members", `{"username":"fred","sponsor":"root"}`)
	require.Equal(t, http.StatusCreated, code)

	code, r := do(t, s, http.MethodPost, "/v1/wallet/fund", `{"username":"fred","amount":"200"}`)
	require.Equal(t, http.StatusOK, code, r.Message)

	code, r = do(t, s, http.MethodPost, "/v1/wallet/upgrade", `{"username":"fred","amount":"150"}`)
	require.Equal(t, http.StatusOK, code, r.Message)
	var res engine.DepositResult
	require.NoError(t, json.Unmarshal(r.Data, &res))
	assert.True(t, res.Upgraded)
	assert.Equal(t, "50", res.Account.AddBalance.String())

	code, r = do(t, s, http.MethodPost, "/v1/withdrawals", `{"username":"root","amount":"10"}`)
	require.Equal(t, http.StatusOK, code, r.Message)
	var a ledger.Account
	require.NoError(t, json.Unmarshal(r.Data, &a))
	assert.Equal(t, "10", a.WithdrawTotal.String())
}

func TestManualCredit(t *testing.T) {
	s := newServer(t)
	seed(t, s)

	code, r := do(t, s, http.MethodPost, "/v1/credits", `{"username":"alice","amount":"7","type":"rank"}`)
	require.Equal(t, http.StatusOK, code, r.Message)
	assert.Equal(t, "credited", r.Message)

	code, _ = do(t, s, http.MethodPost, "/v1/credits", `{"username":"alice","amount":"7","type":"bogus"}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

// ---------------------------------------------------------------------------
// Batches and plan
// ---------------------------------------------------------------------------

func TestBatchROI(t *testing.T) {
	s := newServer(t)
	seed(t, s)

	code, r := do(t, s, http.MethodPost, "/v1/batches/roi", `{"day":"2026-05-01"}`)
	require.Equal(t, http.StatusOK, code, r.Message)
	var sum struct {
		Done    int `json:"done"`
		Skipped int `json:"skipped"`
	}
	require.NoError(t, json.Unmarshal(r.Data, &sum))
	assert.Equal(t, 2, sum.Done)

	code, r = do(t, s, http.MethodPost, "/v1/batches/roi", `{"day":"2026-05-01"}`)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(r.Data, &sum))
	assert.Equal(t, 0, sum.Done)
	assert.Equal(t, 2, sum.Skipped)

	code, _ = do(t, s, http.MethodPost, "/v1/batches/roi", `{"day":"01/05/2026"}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestBatchOthers(t *testing.T) {
	s := newServer(t)
	seed(t, s)

	for _, path := range []string{
		"/v1/batches/rank",
		"/v1/batches/binary",
		"/v1/batches/global",
		"/v1/batches/team",
	} {
		t.Run(path, func(t *testing.T) {
			code, r := do(t, s, http.MethodPost, path, "")
			assert.Equal(t, http.StatusOK, code, r.Message)
		})
	}

	code, _ := do(t, s, http.MethodPost, "/v1/batches/binary", `{"percent":-1}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestPreviewGlobal(t *testing.T) {
	s := newServer(t)
	seed(t, s)

	code, r := do(t, s, http.MethodGet, "/v1/global/preview?override=1000", "")
	require.Equal(t, http.StatusOK, code, r.Message)
	var pv struct {
		Effective string `json:"effective"`
	}
	require.NoError(t, json.Unmarshal(r.Data, &pv))
	assert.Equal(t, "1000", pv.Effective)

	code, _ = do(t, s, http.MethodGet, "/v1/global/preview?override=abc", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestPlanRoundTrip(t *testing.T) {
	s := newServer(t)

	code, r := do(t, s, http.MethodGet, "/v1/plan", "")
	require.Equal(t, http.StatusOK, code)
	var p map[string]interface{}
	require.NoError(t, json.Unmarshal(r.Data, &p))
	assert.Equal(t, "3", p["capMultiplier"])

	code, r = do(t, s, http.MethodPut, "/v1/plan", `{"capMultiplier":"4","sponsorPercent":"6"}`)
	require.Equal(t, http.StatusOK, code, r.Message)

	code, r = do(t, s, http.MethodGet, "/v1/plan", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(r.Data, &p))
	assert.Equal(t, "4", p["capMultiplier"])
	assert.Equal(t, "6", p["sponsorPercent"])

	code, _ = do(t, s, http.MethodPut, "/v1/plan", `{"capMultiplier":"0"}`)
	assert.Equal(t, http.StatusBadRequest, code)
}
