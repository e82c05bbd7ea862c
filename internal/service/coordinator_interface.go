package service

import (
	"context"

	"github.com/fundquorum/treasury/internal/model"
	"github.com/fundquorum/treasury/internal/store"
)

// TreasuryServiceInterface defines the operations exposed to the API layer
type TreasuryServiceInterface interface {
	Apply(ctx context.Context, intent model.Intent) (*model.Snapshot, error)

	GetFund(ctx context.Context, fundID string) (*model.Fund, error)
	ListFunds(ctx context.Context, filter store.FundFilter) ([]*model.Fund, error)
	ListContributions(ctx context.Context, fundID string) ([]*model.Contribution, error)

	GetRequest(ctx context.Context, requestID string) (*RequestView, error)
	ListRequests(ctx context.Context, filter store.RequestFilter) ([]*model.WithdrawalRequest, error)

	Subscribe(ctx context.Context) <-chan *model.Snapshot
}

// Ensure the coordinator satisfies the interface
var _ TreasuryServiceInterface = (*Coordinator)(nil)
