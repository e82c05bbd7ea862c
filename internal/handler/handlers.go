// Package handler provides the HTTP API of the treasury service.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fundquorum/treasury/internal/model"
	"github.com/fundquorum/treasury/internal/service"
	"github.com/fundquorum/treasury/internal/validation"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	service      service.TreasuryServiceInterface
	converter    *requestConverter
	sessions     *Sessions
	errorHandler *ErrorHandler
	logger       *zap.Logger
	timeout      time.Duration
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(
	svc service.TreasuryServiceInterface,
	validator *validation.Validator,
	sessions *Sessions,
	errorHandler *ErrorHandler,
	logger *zap.Logger,
	timeout time.Duration,
) *Handlers {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Handlers{
		service:      svc,
		converter:    newRequestConverter(validator),
		sessions:     sessions,
		errorHandler: errorHandler,
		logger:       logger,
		timeout:      timeout,
	}
}

// RegisterRoutes mounts every endpoint on router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	v1 := router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/funds", h.CreateFund).Methods(http.MethodPost)
	v1.HandleFunc("/funds", h.ListFunds).Methods(http.MethodGet)
	v1.HandleFunc("/funds/{fund_id}", h.GetFund).Methods(http.MethodGet)
	v1.HandleFunc("/funds/{fund_id}/contributions", h.Contribute).Methods(http.MethodPost)
	v1.HandleFunc("/funds/{fund_id}/contributions", h.ListContributions).Methods(http.MethodGet)
	v1.HandleFunc("/funds/{fund_id}/withdrawals", h.SubmitWithdrawal).Methods(http.MethodPost)
	v1.HandleFunc("/funds/{fund_id}/withdrawals", h.ListWithdrawals).Methods(http.MethodGet)
	v1.HandleFunc("/withdrawals/{request_id}", h.GetWithdrawal).Methods(http.MethodGet)
	v1.HandleFunc("/withdrawals/{request_id}/votes", h.CastVote).Methods(http.MethodPost)
	v1.HandleFunc("/session/funds/{fund_id}", h.SessionFund).Methods(http.MethodGet)
	v1.HandleFunc("/session/withdrawals/{request_id}", h.SessionWithdrawal).Methods(http.MethodGet)
}

// CreateFund handles POST /v1/funds
func (h *Handlers) CreateFund(w http.ResponseWriter, r *http.Request) {
	intent, err := h.converter.CreateFundIntent(r)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.apply(w, r, intent, http.StatusCreated)
}

// Contribute handles POST /v1/funds/{fund_id}/contributions
func (h *Handlers) Contribute(w http.ResponseWriter, r *http.Request) {
	intent, err := h.converter.ContributeIntent(r)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.apply(w, r, intent, http.StatusCreated)
}

// SubmitWithdrawal handles POST /v1/funds/{fund_id}/withdrawals
func (h *Handlers) SubmitWithdrawal(w http.ResponseWriter, r *http.Request) {
	intent, err := h.converter.SubmitWithdrawalIntent(r)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.apply(w, r, intent, http.StatusCreated)
}

// CastVote handles POST /v1/withdrawals/{request_id}/votes
func (h *Handlers) CastVote(w http.ResponseWriter, r *http.Request) {
	intent, err := h.converter.CastVoteIntent(r)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.apply(w, r, intent, http.StatusOK)
}

// apply runs an intent through the coordinator while the caller's session
// shows its provisional effect
func (h *Handlers) apply(w http.ResponseWriter, r *http.Request, intent model.Intent, okStatus int) {
	cache := h.sessions.Get(actor(intent))
	cache.ApplyOptimistic(intent)

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	snapshot, err := h.service.Apply(ctx, intent)
	if err != nil {
		cache.Discard(intent.Meta().ID())
		h.errorHandler.HandleError(w, r, err)
		return
	}
	cache.Adopt(snapshot)

	h.writeJSONResponse(w, okStatus, SnapshotResponse{Status: "success", Snapshot: snapshot})
}

// GetFund handles GET /v1/funds/{fund_id}
func (h *Handlers) GetFund(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	fund, err := h.service.GetFund(ctx, mux.Vars(r)["fund_id"])
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, FundResponse{Status: "success", Fund: fund})
}

// ListFunds handles GET /v1/funds
func (h *Handlers) ListFunds(w http.ResponseWriter, r *http.Request) {
	filter, err := h.converter.FundFilter(r)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	funds, err := h.service.ListFunds(ctx, filter)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if funds == nil {
		funds = []*model.Fund{}
	}
	h.writeJSONResponse(w, http.StatusOK, FundListResponse{Status: "success", Funds: funds, Count: len(funds)})
}

// ListContributions handles GET /v1/funds/{fund_id}/contributions
func (h *Handlers) ListContributions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	contributions, err := h.service.ListContributions(ctx, mux.Vars(r)["fund_id"])
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if contributions == nil {
		contributions = []*model.Contribution{}
	}
	h.writeJSONResponse(w, http.StatusOK, ContributionListResponse{
		Status:        "success",
		Contributions: contributions,
		Count:         len(contributions),
	})
}

// ListWithdrawals handles GET /v1/funds/{fund_id}/withdrawals
func (h *Handlers) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	filter, err := h.converter.RequestFilter(r)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	// Unknown funds are a 404, not an empty list
	if _, err := h.service.GetFund(ctx, filter.FundID); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	requests, err := h.service.ListRequests(ctx, filter)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if requests == nil {
		requests = []*model.WithdrawalRequest{}
	}
	h.writeJSONResponse(w, http.StatusOK, RequestListResponse{Status: "success", Requests: requests, Count: len(requests)})
}

// GetWithdrawal handles GET /v1/withdrawals/{request_id}
func (h *Handlers) GetWithdrawal(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	view, err := h.service.GetRequest(ctx, mux.Vars(r)["request_id"])
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, RequestResponse{Status: "success", RequestView: view})
}

// SessionFund handles GET /v1/session/funds/{fund_id}: the caller's view,
// including the provisional effect of their in-flight intents
func (h *Handlers) SessionFund(w http.ResponseWriter, r *http.Request) {
	account, err := h.converter.account(r)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	id := mux.Vars(r)["fund_id"]
	cache := h.sessions.Get(account)

	fund, ok := cache.Fund(id)
	if !ok {
		// Seed the session from the mirror on first sight
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()
		loaded, err := h.service.GetFund(ctx, id)
		if err != nil {
			h.errorHandler.HandleError(w, r, err)
			return
		}
		cache.Adopt(&model.Snapshot{Fund: loaded, DerivedAt: time.Now()})
		fund = *loaded
	}
	h.writeJSONResponse(w, http.StatusOK, SessionFundResponse{
		Status:      "success",
		Fund:        fund,
		Provisional: cache.Optimistic(id),
	})
}

// SessionWithdrawal handles GET /v1/session/withdrawals/{request_id}
func (h *Handlers) SessionWithdrawal(w http.ResponseWriter, r *http.Request) {
	account, err := h.converter.account(r)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	id := mux.Vars(r)["request_id"]
	cache := h.sessions.Get(account)

	req, ok := cache.Request(id)
	if !ok {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()
		view, err := h.service.GetRequest(ctx, id)
		if err != nil {
			h.errorHandler.HandleError(w, r, err)
			return
		}
		cache.Adopt(&model.Snapshot{Request: view.Request, DerivedAt: time.Now()})
		for _, v := range view.Votes {
			if v.Voter == account {
				cache.Adopt(&model.Snapshot{Vote: v, DerivedAt: time.Now()})
			}
		}
		req = *view.Request
	}
	h.writeJSONResponse(w, http.StatusOK, SessionRequestResponse{
		Status:      "success",
		Request:     req,
		Provisional: cache.Optimistic(id),
	})
}

// RunSessionSync adopts every broadcast snapshot into the live sessions and
// evicts idle ones until ctx is done
func (h *Handlers) RunSessionSync(ctx context.Context, idle time.Duration) {
	snapshots := h.service.Subscribe(ctx)
	ticker := time.NewTicker(idle)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case snapshot, ok := <-snapshots:
			if !ok {
				return
			}
			h.sessions.Adopt(snapshot)
		case <-ticker.C:
			if n := h.sessions.Evict(idle); n > 0 {
				h.logger.Debug("Evicted idle sessions", zap.Int("count", n))
			}
		}
	}
}

func actor(intent model.Intent) string {
	switch i := intent.(type) {
	case *model.CreateFundIntent:
		return i.Creator
	case *model.ContributeIntent:
		return i.Contributor
	case *model.SubmitWithdrawalIntent:
		return i.Requester
	case *model.CastVoteIntent:
		return i.Voter
	}
	return ""
}

// writeJSONResponse writes a JSON response.
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}
