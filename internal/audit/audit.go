// Package audit содержит приёмники журнала аудита изменений состояния.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SystemActor обозначает исполнителя фоновых процессов.
const SystemActor = "system"

const (
	ActionBidPlaced        = "bid_placed"
	ActionAuctionExtended  = "auction_extended"
	ActionAuctionActivated = "auction_activated"
	ActionAuctionClosed    = "auction_closed"
	ActionFraudFlagged     = "fraud_flagged"
	ActionVendorSuspended  = "vendor_suspended"
	ActionBidCancelled     = "bid_cancelled"
	ActionPaymentInitiated = "payment_initiated"
	ActionPaymentVerified  = "payment_verified"
	ActionPaymentOverdue   = "payment_overdue"
)

const (
	EntityAuction = "auction"
	EntityBid     = "bid"
	EntityVendor  = "vendor"
	EntityPayment = "payment"
)

// Entry описывает одну запись журнала аудита.
type Entry struct {
	ActorID    string    `json:"actor_id"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Before     any       `json:"before,omitempty"`
	After      any       `json:"after,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Sink принимает записи аудита.
type Sink interface {
	LogAction(ctx context.Context, e Entry) error
}

// Publisher публикует сообщения во внешнюю шину.
type Publisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

// PublisherSink отправляет записи аудита в брокер сообщений с ключом audit.<action>.
type PublisherSink struct {
	pub Publisher
}

// NewPublisherSink создаёт приёмник поверх брокера.
func NewPublisherSink(pub Publisher) *PublisherSink {
	return &PublisherSink{pub: pub}
}

// LogAction публикует запись.
func (s *PublisherSink) LogAction(ctx context.Context, e Entry) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	return s.pub.PublishJSON(ctx, "audit."+e.Action, e)
}

// LogSink пишет записи аудита в структурированный лог.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink создаёт приёмник, пишущий в logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("audit")}
}

// LogAction пишет запись в лог.
func (s *LogSink) LogAction(_ context.Context, e Entry) error {
	s.logger.Info(e.Action,
		zap.String("actor", e.ActorID),
		zap.String("entityType", e.EntityType),
		zap.String("entityID", e.EntityID),
		zap.Any("before", e.Before),
		zap.Any("after", e.After),
	)
	return nil
}

// Recorder оборачивает Sink: ошибки аудита логируются и не прерывают операцию.
type Recorder struct {
	sink   Sink
	logger *zap.Logger
}

// NewRecorder создаёт Recorder. Если sink равен nil, записи пишутся в logger.
func NewRecorder(sink Sink, logger *zap.Logger) *Recorder {
	if sink == nil {
		sink = NewLogSink(logger)
	}
	return &Recorder{sink: sink, logger: logger}
}

// Record передаёт запись в приёмник.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	if r == nil {
		return
	}
	if e.ActorID == "" {
		e.ActorID = SystemActor
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if err := r.sink.LogAction(ctx, e); err != nil {
		r.logger.Warn("audit sink error",
			zap.Error(err),
			zap.String("action", e.Action),
			zap.String("entityID", e.EntityID),
		)
	}
}
