package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fundquorum/treasury/internal/model"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PayoutEventType is the event emitted when a withdrawal becomes payable
const PayoutEventType = "payout.authorized"

// PayoutAuthorization tells an external executor that a request was approved
type PayoutAuthorization struct {
	EventID           string          `json:"event_id"`
	EventType         string          `json:"event_type"`
	RequestID         string          `json:"request_id"`
	FundID            string          `json:"fund_id"`
	FundLedgerRef     string          `json:"fund_ledger_ref"`
	RequestLedgerRef  string          `json:"request_ledger_ref"`
	Recipient         string          `json:"recipient"`
	Amount            decimal.Decimal `json:"amount"`
	ApproveCount      int             `json:"approve_count"`
	RequiredApprovals int             `json:"required_approvals"`
	AuthorizedAt      time.Time       `json:"authorized_at"`
}

// PayoutPublisher emits payout authorizations
type PayoutPublisher interface {
	PublishPayout(ctx context.Context, payout *PayoutAuthorization) error
	Close() error
}

// NewPayoutAuthorization builds the event for an approved request
func NewPayoutAuthorization(fund *model.Fund, req *model.WithdrawalRequest, at time.Time) *PayoutAuthorization {
	return &PayoutAuthorization{
		EventID:           newRowID(at),
		EventType:         PayoutEventType,
		RequestID:         req.ID,
		FundID:            req.FundID,
		FundLedgerRef:     fund.LedgerRef,
		RequestLedgerRef:  req.LedgerRef,
		Recipient:         req.Requester,
		Amount:            req.Amount,
		ApproveCount:      req.ApproveCount,
		RequiredApprovals: req.RequiredApprovals,
		AuthorizedAt:      at,
	}
}

// KafkaPayoutPublisher writes payout authorizations to a Kafka topic keyed
// by request id, so consumers can deduplicate
type KafkaPayoutPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaPayoutPublisher creates a synchronous Kafka publisher
func NewKafkaPayoutPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPayoutPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  5,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Warn(fmt.Sprintf(msg, args...))
		}),
	}

	logger.Info("Kafka payout publisher initialized",
		zap.Strings("brokers", brokers),
		zap.String("topic", topic))

	return &KafkaPayoutPublisher{writer: writer, logger: logger}
}

// PublishPayout writes one authorization and waits for acknowledgement
func (p *KafkaPayoutPublisher) PublishPayout(ctx context.Context, payout *PayoutAuthorization) error {
	data, err := json.Marshal(payout)
	if err != nil {
		return fmt.Errorf("failed to marshal payout: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(payout.RequestID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(payout.EventType)},
			{Key: "event_id", Value: []byte(payout.EventID)},
		},
		Time: payout.AuthorizedAt,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish payout: %w", err)
	}

	p.logger.Info("Payout authorization published",
		zap.String("request_id", payout.RequestID),
		zap.String("fund_id", payout.FundID),
		zap.String("amount", payout.Amount.String()))
	return nil
}

// Close flushes and closes the writer
func (p *KafkaPayoutPublisher) Close() error {
	return p.writer.Close()
}

// MemoryPayoutPublisher keeps authorizations in memory
type MemoryPayoutPublisher struct {
	mu      sync.Mutex
	payouts []*PayoutAuthorization
}

// NewMemoryPayoutPublisher creates an in-memory publisher
func NewMemoryPayoutPublisher() *MemoryPayoutPublisher {
	return &MemoryPayoutPublisher{}
}

// PublishPayout records the authorization
func (p *MemoryPayoutPublisher) PublishPayout(ctx context.Context, payout *PayoutAuthorization) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payouts = append(p.payouts, payout)
	return nil
}

// Payouts returns every recorded authorization
func (p *MemoryPayoutPublisher) Payouts() []*PayoutAuthorization {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*PayoutAuthorization, len(p.payouts))
	copy(out, p.payouts)
	return out
}

// Close is a no-op
func (p *MemoryPayoutPublisher) Close() error {
	return nil
}
