package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fundquorum/treasury/internal/config"
	"github.com/fundquorum/treasury/internal/handler"
	"github.com/fundquorum/treasury/internal/health"
	"github.com/fundquorum/treasury/internal/ledger"
	"github.com/fundquorum/treasury/internal/metrics"
	"github.com/fundquorum/treasury/internal/model"
	"github.com/fundquorum/treasury/internal/service"
	"github.com/fundquorum/treasury/internal/store"
	"github.com/fundquorum/treasury/internal/validation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	logger := zap.NewNop()
	m := metrics.NewMetricsWithRegistry(prometheus.NewRegistry())

	gateway := ledger.NewMemoryGateway()
	mirror := store.NewMemoryMirrorStore(logger)
	feed := store.NewMemoryChangeFeed(256)
	repair := service.NewMirrorRepairService(feed, service.RepairConfig{Interval: time.Hour}, m, logger)
	coord := service.NewCoordinator(gateway, mirror, feed, store.NewMemoryIntentJournal(), repair,
		service.NewMemoryPayoutPublisher(), validation.NewValidator(),
		service.CoordinatorConfig{ConfirmTimeout: time.Second, MirrorTimeout: time.Second}, m, logger)
	t.Cleanup(coord.Stop)

	cfg := config.DefaultConfig()
	cfg.RateLimiter.Enabled = false
	checker := health.NewHealthChecker(map[string]health.Pinger{
		"mirror_store": mirror,
		"change_feed":  feed,
		"ledger":       gateway,
	}, logger)

	srv := NewServer(cfg, coord, checker, m, logger)
	srv.SetupRoutes()
	return srv.GetHandler()
}

func call(t *testing.T, h http.Handler, method, path, account, body string, out interface{}) int {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if account != "" {
		req.Header.Set("X-Account-Address", account)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(out))
	}
	return rec.Code
}

func TestServer_WithdrawalApprovedThroughAPI(t *testing.T) {
	h := newTestServer(t)
	members := []string{"0xm0", "0xm1", "0xm2", "0xm3"}

	var created handler.SnapshotResponse
	code := call(t, h, http.MethodPost, "/v1/funds", members[0],
		`{"name":"Roof repair","transparency":"public","threshold_percent":75}`, &created)
	require.Equal(t, http.StatusCreated, code)
	fundID := created.Snapshot.Fund.ID

	for _, m := range members {
		code = call(t, h, http.MethodPost, "/v1/funds/"+fundID+"/contributions", m, `{"amount":"25"}`, nil)
		require.Equal(t, http.StatusCreated, code)
	}

	var submitted handler.SnapshotResponse
	code = call(t, h, http.MethodPost, "/v1/funds/"+fundID+"/withdrawals", members[1],
		`{"amount":"40","reason":"contractor"}`, &submitted)
	require.Equal(t, http.StatusCreated, code)
	requestID := submitted.Snapshot.Request.ID
	assert.Equal(t, 3, submitted.Snapshot.Request.RequiredApprovals)

	var last handler.SnapshotResponse
	for _, m := range members[:3] {
		code = call(t, h, http.MethodPost, "/v1/withdrawals/"+requestID+"/votes", m, `{"vote":"approve"}`, &last)
		require.Equal(t, http.StatusOK, code)
	}
	assert.Equal(t, model.RequestStatusApproved, last.Snapshot.Request.Status)

	var fund handler.FundResponse
	code = call(t, h, http.MethodGet, "/v1/funds/"+fundID, "", "", &fund)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, fund.Fund.TotalContributed.Equal(decimal.NewFromInt(60)), fund.Fund.TotalContributed.String())

	var errResp handler.ErrorResponse
	code = call(t, h, http.MethodPost, "/v1/withdrawals/"+requestID+"/votes", members[3], `{"vote":"reject"}`, &errResp)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_INPUT", errResp.ErrorCode)
}

func TestServer_WithdrawalAboveBalanceRejected(t *testing.T) {
	h := newTestServer(t)

	var created handler.SnapshotResponse
	require.Equal(t, http.StatusCreated,
		call(t, h, http.MethodPost, "/v1/funds", "0xa", `{"name":"Trip","threshold_percent":51}`, &created))
	fundID := created.Snapshot.Fund.ID
	require.Equal(t, http.StatusCreated,
		call(t, h, http.MethodPost, "/v1/funds/"+fundID+"/contributions", "0xa", `{"amount":"100"}`, nil))

	var errResp handler.ErrorResponse
	code := call(t, h, http.MethodPost, "/v1/funds/"+fundID+"/withdrawals", "0xa", `{"amount":"150","reason":"x"}`, &errResp)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_INPUT", errResp.ErrorCode)

	var list handler.RequestListResponse
	require.Equal(t, http.StatusOK, call(t, h, http.MethodGet, "/v1/funds/"+fundID+"/withdrawals", "", "", &list))
	assert.Empty(t, list.Requests)
}

func TestServer_UnknownRoutes(t *testing.T) {
	h := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"unknown path", http.MethodGet, "/v1/nothing", http.StatusNotFound},
		{"unknown fund", http.MethodGet, "/v1/funds/missing", http.StatusNotFound},
		{"wrong method", http.MethodDelete, "/v1/funds", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp handler.ErrorResponse
			code := call(t, h, tt.method, tt.path, "", "", &resp)
			assert.Equal(t, tt.want, code)
			assert.Equal(t, "error", resp.Status)
		})
	}
}

func TestServer_Health(t *testing.T) {
	h := newTestServer(t)

	for _, path := range []string{"/health/live", "/health/ready"} {
		t.Run(path, func(t *testing.T) {
			var status health.HealthStatus
			code := call(t, h, http.MethodGet, path, "", "", &status)
			assert.Equal(t, http.StatusOK, code, fmt.Sprintf("%+v", status))
		})
	}
}

func TestServer_RunBackgroundStopsWithContext(t *testing.T) {
	logger := zap.NewNop()
	cfg := config.DefaultConfig()
	feed := store.NewMemoryChangeFeed(16)
	m := metrics.NewMetricsWithRegistry(prometheus.NewRegistry())
	coord := service.NewCoordinator(ledger.NewMemoryGateway(), store.NewMemoryMirrorStore(logger), feed,
		store.NewMemoryIntentJournal(), service.NewMirrorRepairService(feed, service.RepairConfig{}, m, logger),
		service.NewMemoryPayoutPublisher(), validation.NewValidator(), service.CoordinatorConfig{}, m, logger)
	t.Cleanup(coord.Stop)
	srv := NewServer(cfg, coord, nil, m, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.RunBackground(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunBackground did not return after cancel")
	}
}
