package service

import (
	"time"

	"github.com/fundquorum/treasury/internal/model"
)

// CoordinatorConfig holds coordinator timing
type CoordinatorConfig struct {
	// ConfirmTimeout bounds a ledger call from submission to receipt
	ConfirmTimeout time.Duration
	MirrorTimeout  time.Duration
	// SubscriberBuffer sizes each snapshot subscription channel
	SubscriberBuffer int
	// ReconcileWorkers and ReconcileQueue size the change-event worker pool
	ReconcileWorkers int
	ReconcileQueue   int
}

// RequestView is a withdrawal request together with its current votes
type RequestView struct {
	Request  *model.WithdrawalRequest `json:"request"`
	Votes    []*model.Vote            `json:"votes"`
	Progress float64                  `json:"progress"`
}

func lockKeyFund(fundID string) string {
	return "fund:" + fundID
}

func lockKeyRequest(requestID string) string {
	return "request:" + requestID
}
