// Package notify отправляет SMS и email через внешнюю службу уведомлений.
package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

const (
	routingSMS   = "notification.sms"
	routingEmail = "notification.email"
)

// Dispatcher отправляет уведомления. Для движка это fire-and-forget.
type Dispatcher interface {
	SendSMS(ctx context.Context, to, message string) error
	SendEmail(ctx context.Context, to, subject, body string) error
}

// Publisher публикует сообщения во внешнюю шину.
type Publisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

type smsMessage struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type emailMessage struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// BrokerDispatcher ставит уведомления в очередь службы доставки.
type BrokerDispatcher struct {
	pub Publisher
}

// NewBrokerDispatcher создаёт диспетчер поверх брокера сообщений.
func NewBrokerDispatcher(pub Publisher) *BrokerDispatcher {
	return &BrokerDispatcher{pub: pub}
}

// SendSMS ставит SMS в очередь.
func (d *BrokerDispatcher) SendSMS(ctx context.Context, to, message string) error {
	if to == "" {
		return errors.New("sms: empty recipient")
	}
	return d.pub.PublishJSON(ctx, routingSMS, smsMessage{To: to, Message: message})
}

// SendEmail ставит письмо в очередь.
func (d *BrokerDispatcher) SendEmail(ctx context.Context, to, subject, body string) error {
	if to == "" {
		return errors.New("email: empty recipient")
	}
	return d.pub.PublishJSON(ctx, routingEmail, emailMessage{To: to, Subject: subject, Body: body})
}

// LogDispatcher пишет уведомления в лог вместо отправки.
type LogDispatcher struct {
	logger *zap.Logger
}

// NewLogDispatcher создаёт диспетчер для окружений без брокера.
func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger.Named("notify")}
}

// SendSMS пишет SMS в лог.
func (d *LogDispatcher) SendSMS(_ context.Context, to, message string) error {
	d.logger.Info("sms", zap.String("to", to), zap.String("message", message))
	return nil
}

// SendEmail пишет письмо в лог.
func (d *LogDispatcher) SendEmail(_ context.Context, to, subject, body string) error {
	d.logger.Info("email", zap.String("to", to), zap.String("subject", subject), zap.Int("bodyLen", len(body)))
	return nil
}

// Contact описывает получателя уведомления.
type Contact struct {
	Phone string
	Email string
}

// Send отправляет SMS и письмо получателю. Ошибки только логируются.
func Send(ctx context.Context, d Dispatcher, logger *zap.Logger, to Contact, subject, body string) {
	if d == nil {
		return
	}
	if to.Phone != "" {
		if err := d.SendSMS(ctx, to.Phone, body); err != nil {
			logger.Warn("send sms error", zap.Error(err), zap.String("subject", subject))
		}
	}
	if to.Email != "" {
		if err := d.SendEmail(ctx, to.Email, subject, body); err != nil {
			logger.Warn("send email error", zap.Error(err), zap.String("subject", subject))
		}
	}
}
