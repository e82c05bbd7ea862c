package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/fundquorum/treasury/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const mirrorSchema = `
CREATE TABLE IF NOT EXISTS funds (
	id                  TEXT PRIMARY KEY,
	ledger_ref          TEXT NOT NULL DEFAULT '',
	name                TEXT NOT NULL,
	description         TEXT NOT NULL DEFAULT '',
	transparency        TEXT NOT NULL,
	threshold_percent   INTEGER NOT NULL CHECK (threshold_percent BETWEEN 1 AND 100),
	total_contributed   NUMERIC(78, 18) NOT NULL DEFAULT 0 CHECK (total_contributed >= 0),
	pending_withdrawals NUMERIC(78, 18) NOT NULL DEFAULT 0,
	contributor_count   INTEGER NOT NULL DEFAULT 0,
	creator_address     TEXT NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS contributions (
	id             TEXT PRIMARY KEY,
	fund_id        TEXT NOT NULL REFERENCES funds(id),
	contributor    TEXT NOT NULL,
	amount         NUMERIC(78, 18) NOT NULL CHECK (amount > 0),
	settlement_ref TEXT NOT NULL UNIQUE,
	created_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS withdrawal_requests (
	id                 TEXT PRIMARY KEY,
	fund_id            TEXT NOT NULL REFERENCES funds(id),
	ledger_ref         TEXT NOT NULL DEFAULT '',
	requester          TEXT NOT NULL,
	amount             NUMERIC(78, 18) NOT NULL CHECK (amount > 0),
	reason             TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL,
	required_approvals INTEGER NOT NULL,
	approve_count      INTEGER NOT NULL DEFAULT 0,
	reject_count       INTEGER NOT NULL DEFAULT 0,
	settlement_ref     TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS votes (
	id             TEXT PRIMARY KEY,
	request_id     TEXT NOT NULL REFERENCES withdrawal_requests(id),
	voter          TEXT NOT NULL,
	kind           TEXT NOT NULL,
	settlement_ref TEXT NOT NULL DEFAULT '',
	cast_at        TIMESTAMPTZ NOT NULL,
	UNIQUE (request_id, voter)
);

CREATE INDEX IF NOT EXISTS idx_contributions_fund ON contributions(fund_id);
CREATE INDEX IF NOT EXISTS idx_requests_fund_status ON withdrawal_requests(fund_id, status);
`

// PostgresMirrorStore implements MirrorStore for PostgreSQL
type PostgresMirrorStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresMirrorStore connects to PostgreSQL and returns a mirror store
func NewPostgresMirrorStore(
	host string,
	port int,
	database, user, password string,
	maxConns, minConns int,
	logger *zap.Logger,
) (*PostgresMirrorStore, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		host, port, database, user, password, maxConns, minConns,
	)

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresMirrorStore{
		pool:   pool,
		logger: logger,
	}, nil
}

// EnsureSchema creates the mirror tables if they do not exist
func (s *PostgresMirrorStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, mirrorSchema); err != nil {
		return fmt.Errorf("failed to create mirror schema: %w", err)
	}
	return nil
}

// UpsertFund inserts or replaces a fund row
func (s *PostgresMirrorStore) UpsertFund(ctx context.Context, fund *model.Fund) error {
	query := `
		INSERT INTO funds (
			id, ledger_ref, name, description, transparency, threshold_percent,
			total_contributed, pending_withdrawals, contributor_count,
			creator_address, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			ledger_ref = EXCLUDED.ledger_ref,
			total_contributed = EXCLUDED.total_contributed,
			pending_withdrawals = EXCLUDED.pending_withdrawals,
			contributor_count = EXCLUDED.contributor_count,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.pool.Exec(ctx, query,
		fund.ID,
		fund.LedgerRef,
		fund.Name,
		fund.Description,
		string(fund.Transparency),
		fund.ThresholdPercent,
		fund.TotalContributed.String(),
		fund.PendingWithdrawals.String(),
		fund.ContributorCount,
		fund.CreatorAddress,
		fund.CreatedAt,
		fund.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert fund: %w", err)
	}
	return nil
}

const fundColumns = `
	id, ledger_ref, name, description, transparency, threshold_percent,
	total_contributed, pending_withdrawals, contributor_count,
	creator_address, created_at, updated_at`

func scanFund(row pgx.Row) (*model.Fund, error) {
	var f model.Fund
	var transparency string
	if err := row.Scan(
		&f.ID,
		&f.LedgerRef,
		&f.Name,
		&f.Description,
		&transparency,
		&f.ThresholdPercent,
		&f.TotalContributed,
		&f.PendingWithdrawals,
		&f.ContributorCount,
		&f.CreatorAddress,
		&f.CreatedAt,
		&f.UpdatedAt,
	); err != nil {
		return nil, err
	}
	f.Transparency = model.Transparency(transparency)
	return &f, nil
}

// GetFund returns a fund by id
func (s *PostgresMirrorStore) GetFund(ctx context.Context, fundID string) (*model.Fund, error) {
	query := `SELECT` + fundColumns + ` FROM funds WHERE id = $1`

	fund, err := scanFund(s.pool.QueryRow(ctx, query, fundID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fund: %w", err)
	}
	return fund, nil
}

// ListFunds returns funds matching filter, newest first
func (s *PostgresMirrorStore) ListFunds(ctx context.Context, filter FundFilter) ([]*model.Fund, error) {
	query := `SELECT` + fundColumns + ` FROM funds WHERE 1=1`
	args := make([]interface{}, 0)
	argPos := 1

	if filter.Query != "" {
		query += fmt.Sprintf(" AND (name ILIKE '%%' || $%d || '%%' OR description ILIKE '%%' || $%d || '%%')", argPos, argPos)
		args = append(args, filter.Query)
		argPos++
	}

	if filter.Transparency != "" {
		query += fmt.Sprintf(" AND transparency = $%d", argPos)
		args = append(args, string(filter.Transparency))
		argPos++
	}

	if filter.Creator != "" {
		query += fmt.Sprintf(" AND lower(creator_address) = lower($%d)", argPos)
		args = append(args, filter.Creator)
		argPos++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argPos)
		args = append(args, filter.Limit)
		argPos++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argPos)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list funds: %w", err)
	}
	defer rows.Close()

	funds := make([]*model.Fund, 0)
	for rows.Next() {
		fund, err := scanFund(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fund: %w", err)
		}
		funds = append(funds, fund)
	}

	return funds, rows.Err()
}

// InsertContribution stores a contribution once per settlement ref
func (s *PostgresMirrorStore) InsertContribution(ctx context.Context, c *model.Contribution) (bool, error) {
	query := `
		INSERT INTO contributions (id, fund_id, contributor, amount, settlement_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (settlement_ref) DO NOTHING
	`

	result, err := s.pool.Exec(ctx, query,
		c.ID,
		c.FundID,
		c.Contributor,
		c.Amount.String(),
		c.SettlementRef,
		c.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert contribution: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// ListContributions returns a fund's contributions in creation order
func (s *PostgresMirrorStore) ListContributions(ctx context.Context, fundID string) ([]*model.Contribution, error) {
	query := `
		SELECT id, fund_id, contributor, amount, settlement_ref, created_at
		FROM contributions
		WHERE fund_id = $1
		ORDER BY created_at ASC
	`

	rows, err := s.pool.Query(ctx, query, fundID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contributions: %w", err)
	}
	defer rows.Close()

	contributions := make([]*model.Contribution, 0)
	for rows.Next() {
		var c model.Contribution
		if err := rows.Scan(
			&c.ID,
			&c.FundID,
			&c.Contributor,
			&c.Amount,
			&c.SettlementRef,
			&c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan contribution: %w", err)
		}
		contributions = append(contributions, &c)
	}

	return contributions, rows.Err()
}

// UpsertWithdrawalRequest inserts or updates a request. The update only
// applies while the stored row is pending.
func (s *PostgresMirrorStore) UpsertWithdrawalRequest(ctx context.Context, req *model.WithdrawalRequest) (bool, error) {
	query := `
		INSERT INTO withdrawal_requests (
			id, fund_id, ledger_ref, requester, amount, reason, status,
			required_approvals, approve_count, reject_count, settlement_ref,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			approve_count = EXCLUDED.approve_count,
			reject_count = EXCLUDED.reject_count,
			ledger_ref = EXCLUDED.ledger_ref,
			updated_at = EXCLUDED.updated_at
		WHERE withdrawal_requests.status = 'pending'
	`

	tag, err := s.pool.Exec(ctx, query,
		req.ID,
		req.FundID,
		req.LedgerRef,
		req.Requester,
		req.Amount.String(),
		req.Reason,
		string(req.Status),
		req.RequiredApprovals,
		req.ApproveCount,
		req.RejectCount,
		req.SettlementRef,
		req.CreatedAt,
		req.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert withdrawal request: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

const requestColumns = `
	id, fund_id, ledger_ref, requester, amount, reason, status,
	required_approvals, approve_count, reject_count, settlement_ref,
	created_at, updated_at`

func scanRequest(row pgx.Row) (*model.WithdrawalRequest, error) {
	var r model.WithdrawalRequest
	var status string
	if err := row.Scan(
		&r.ID,
		&r.FundID,
		&r.LedgerRef,
		&r.Requester,
		&r.Amount,
		&r.Reason,
		&status,
		&r.RequiredApprovals,
		&r.ApproveCount,
		&r.RejectCount,
		&r.SettlementRef,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	r.Status = model.RequestStatus(status)
	return &r, nil
}

// GetWithdrawalRequest returns a request by id
func (s *PostgresMirrorStore) GetWithdrawalRequest(ctx context.Context, requestID string) (*model.WithdrawalRequest, error) {
	query := `SELECT` + requestColumns + ` FROM withdrawal_requests WHERE id = $1`

	req, err := scanRequest(s.pool.QueryRow(ctx, query, requestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get withdrawal request: %w", err)
	}
	return req, nil
}

// ListWithdrawalRequests returns requests matching filter, newest first
func (s *PostgresMirrorStore) ListWithdrawalRequests(ctx context.Context, filter RequestFilter) ([]*model.WithdrawalRequest, error) {
	query := `SELECT` + requestColumns + ` FROM withdrawal_requests WHERE 1=1`
	args := make([]interface{}, 0)
	argPos := 1

	if filter.FundID != "" {
		query += fmt.Sprintf(" AND fund_id = $%d", argPos)
		args = append(args, filter.FundID)
		argPos++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, string(filter.Status))
		argPos++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argPos)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawal requests: %w", err)
	}
	defer rows.Close()

	requests := make([]*model.WithdrawalRequest, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan withdrawal request: %w", err)
		}
		requests = append(requests, req)
	}

	return requests, rows.Err()
}

// UpsertVote stores the voter's latest vote on a request
func (s *PostgresMirrorStore) UpsertVote(ctx context.Context, vote *model.Vote) error {
	query := `
		INSERT INTO votes (id, request_id, voter, kind, settlement_ref, cast_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (request_id, voter) DO UPDATE SET
			kind = EXCLUDED.kind,
			settlement_ref = EXCLUDED.settlement_ref,
			cast_at = EXCLUDED.cast_at
		WHERE votes.cast_at <= EXCLUDED.cast_at
	`

	_, err := s.pool.Exec(ctx, query,
		vote.ID,
		vote.RequestID,
		vote.Voter,
		string(vote.Kind),
		vote.SettlementRef,
		vote.CastAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert vote: %w", err)
	}
	return nil
}

// ListVotes returns the current vote of every voter on a request
func (s *PostgresMirrorStore) ListVotes(ctx context.Context, requestID string) ([]*model.Vote, error) {
	query := `
		SELECT id, request_id, voter, kind, settlement_ref, cast_at
		FROM votes
		WHERE request_id = $1
		ORDER BY cast_at ASC
	`

	rows, err := s.pool.Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	defer rows.Close()

	votes := make([]*model.Vote, 0)
	for rows.Next() {
		var v model.Vote
		var kind string
		if err := rows.Scan(
			&v.ID,
			&v.RequestID,
			&v.Voter,
			&kind,
			&v.SettlementRef,
			&v.CastAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan vote: %w", err)
		}
		v.Kind = model.VoteKind(kind)
		votes = append(votes, &v)
	}

	return votes, rows.Err()
}

// Ping checks the database connection
func (s *PostgresMirrorStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool
func (s *PostgresMirrorStore) Close() {
	s.pool.Close()
}
