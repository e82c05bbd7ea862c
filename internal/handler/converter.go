package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/fundquorum/treasury/internal/errors"
	"github.com/fundquorum/treasury/internal/middleware"
	"github.com/fundquorum/treasury/internal/model"
	"github.com/fundquorum/treasury/internal/service"
	"github.com/fundquorum/treasury/internal/store"
	"github.com/fundquorum/treasury/internal/validation"
	"github.com/gorilla/mux"
)

const maxListLimit = 500

// CreateFundRequest is the body of POST /v1/funds
type CreateFundRequest struct {
	Name             string `json:"name"`
	Description      string `json:"description"`
	Transparency     string `json:"transparency"`
	ThresholdPercent int    `json:"threshold_percent"`
}

// ContributeRequest is the body of POST /v1/funds/{fund_id}/contributions.
// Amount is a decimal string so no precision is lost in transit.
type ContributeRequest struct {
	Amount string `json:"amount"`
}

// WithdrawalBody is the body of POST /v1/funds/{fund_id}/withdrawals
type WithdrawalBody struct {
	Amount string `json:"amount"`
	Reason string `json:"reason"`
}

// VoteRequest is the body of POST /v1/withdrawals/{request_id}/votes
type VoteRequest struct {
	Vote string `json:"vote"`
}

// SnapshotResponse answers every mutating call
type SnapshotResponse struct {
	Status   string          `json:"status"`
	Snapshot *model.Snapshot `json:"snapshot"`
}

// FundResponse wraps a single fund
type FundResponse struct {
	Status string      `json:"status"`
	Fund   *model.Fund `json:"fund"`
}

// FundListResponse wraps a fund listing
type FundListResponse struct {
	Status string        `json:"status"`
	Funds  []*model.Fund `json:"funds"`
	Count  int           `json:"count"`
}

// ContributionListResponse wraps the contributions of a fund
type ContributionListResponse struct {
	Status        string                `json:"status"`
	Contributions []*model.Contribution `json:"contributions"`
	Count         int                   `json:"count"`
}

// RequestResponse wraps a withdrawal request with its votes
type RequestResponse struct {
	Status string `json:"status"`
	*service.RequestView
}

// RequestListResponse wraps a withdrawal request listing
type RequestListResponse struct {
	Status   string                     `json:"status"`
	Requests []*model.WithdrawalRequest `json:"requests"`
	Count    int                        `json:"count"`
}

// SessionFundResponse is the session's view of a fund
type SessionFundResponse struct {
	Status      string     `json:"status"`
	Fund        model.Fund `json:"fund"`
	Provisional bool       `json:"provisional"`
}

// SessionRequestResponse is the session's view of a withdrawal request
type SessionRequestResponse struct {
	Status      string                  `json:"status"`
	Request     model.WithdrawalRequest `json:"request"`
	Provisional bool                    `json:"provisional"`
}

// requestConverter turns HTTP requests into intents and store filters
type requestConverter struct {
	validator *validation.Validator
}

func newRequestConverter(v *validation.Validator) *requestConverter {
	return &requestConverter{validator: v}
}

func (c *requestConverter) account(r *http.Request) (string, error) {
	account := middleware.AccountFrom(r.Context())
	if account == "" {
		account = r.Header.Get(middleware.AccountHeader)
	}
	if err := c.validator.ValidateAddress("account", account); err != nil {
		return "", err
	}
	return account, nil
}

func decodeBody(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return errors.InvalidInput("body", "request body is required")
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.InvalidInput("body", "invalid JSON: "+err.Error())
	}
	return nil
}

func (c *requestConverter) CreateFundIntent(r *http.Request) (*model.CreateFundIntent, error) {
	account, err := c.account(r)
	if err != nil {
		return nil, err
	}
	var body CreateFundRequest
	if err := decodeBody(r, &body); err != nil {
		return nil, err
	}
	transparency := model.Transparency(body.Transparency)
	if transparency == "" {
		transparency = model.TransparencyPublic
	}
	return model.NewCreateFundIntent(account, body.Name, body.Description, transparency, body.ThresholdPercent), nil
}

func (c *requestConverter) ContributeIntent(r *http.Request) (*model.ContributeIntent, error) {
	account, err := c.account(r)
	if err != nil {
		return nil, err
	}
	var body ContributeRequest
	if err := decodeBody(r, &body); err != nil {
		return nil, err
	}
	amount, err := c.validator.ParseAmount(body.Amount)
	if err != nil {
		return nil, err
	}
	return model.NewContributeIntent(mux.Vars(r)["fund_id"], account, amount), nil
}

func (c *requestConverter) SubmitWithdrawalIntent(r *http.Request) (*model.SubmitWithdrawalIntent, error) {
	account, err := c.account(r)
	if err != nil {
		return nil, err
	}
	var body WithdrawalBody
	if err := decodeBody(r, &body); err != nil {
		return nil, err
	}
	amount, err := c.validator.ParseAmount(body.Amount)
	if err != nil {
		return nil, err
	}
	return model.NewSubmitWithdrawalIntent(mux.Vars(r)["fund_id"], account, amount, body.Reason), nil
}

func (c *requestConverter) CastVoteIntent(r *http.Request) (*model.CastVoteIntent, error) {
	account, err := c.account(r)
	if err != nil {
		return nil, err
	}
	var body VoteRequest
	if err := decodeBody(r, &body); err != nil {
		return nil, err
	}
	return model.NewCastVoteIntent(mux.Vars(r)["request_id"], account, model.VoteKind(body.Vote)), nil
}

func (c *requestConverter) FundFilter(r *http.Request) (store.FundFilter, error) {
	q := r.URL.Query()
	filter := store.FundFilter{
		Query:        q.Get("q"),
		Transparency: model.Transparency(q.Get("transparency")),
		Creator:      q.Get("creator"),
	}
	if filter.Transparency != "" && !filter.Transparency.Valid() {
		return filter, errors.InvalidInput("transparency", "unknown transparency "+string(filter.Transparency))
	}
	// "all" as a filter lists every mode, not only funds whose mode is all
	if filter.Transparency == model.TransparencyAll {
		filter.Transparency = ""
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit"), "limit"); err != nil {
		return filter, err
	}
	filter.Limit = min(filter.Limit, maxListLimit)
	if filter.Offset, err = intParam(q.Get("offset"), "offset"); err != nil {
		return filter, err
	}
	return filter, nil
}

func (c *requestConverter) RequestFilter(r *http.Request) (store.RequestFilter, error) {
	q := r.URL.Query()
	filter := store.RequestFilter{
		FundID: mux.Vars(r)["fund_id"],
		Status: model.RequestStatus(q.Get("status")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return filter, errors.InvalidInput("status", "unknown status "+string(filter.Status))
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit"), "limit"); err != nil {
		return filter, err
	}
	filter.Limit = min(filter.Limit, maxListLimit)
	return filter, nil
}

func intParam(raw, field string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.InvalidInput(field, "must be a non-negative integer")
	}
	return n, nil
}
