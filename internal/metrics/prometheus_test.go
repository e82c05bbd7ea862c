package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordIntent("cast_vote", "success", 0.2)
	m.RecordIntent("cast_vote", "success", 0.1)
	m.RecordLedgerCall("approveRequest", "LEDGER_REJECTED", 1.5)
	m.RecordLedgerCall("approveRequest", "", 1.0)
	m.UpdateRepairQueueSize(3)
	m.RecordStaleQuorum()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.IntentsTotal.WithLabelValues("cast_vote", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerErrors.WithLabelValues("approveRequest", "LEDGER_REJECTED")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RepairQueueSize))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StaleQuorums))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordIntent("contribute", "failed", 1)
		m.RecordRepair("success")
		m.RecordPayout("published")
	})
}

func TestMiddleware_LabelsByRouteTemplate(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	router := mux.NewRouter()
	router.Use(Middleware(m))
	router.HandleFunc("/v1/funds/{fund_id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/funds/"+id, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/v1/funds/{fund_id}", "404")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.HTTPRequestsInFlight))
}
