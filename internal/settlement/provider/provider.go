// Package provider содержит адаптеры платёжных провайдеров.
// Каждый адаптер сам проверяет подпись и приводит суммы к основной денежной единице.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Имена провайдеров совпадают со значениями Payment.PaymentMethod.
const (
	NamePaystack    = "paystack"
	NameFlutterwave = "flutterwave"
)

// ErrUnknownProvider возвращается, если провайдер не зарегистрирован.
var ErrUnknownProvider = errors.New("unknown payment provider")

// WebhookEvent описывает нормализованное уведомление провайдера.
type WebhookEvent struct {
	Event      string
	Completed  bool
	Reference  string
	Amount     decimal.Decimal
	Currency   string
	Status     string
	Successful bool
}

// Transaction описывает состояние транзакции по данным провайдера.
type Transaction struct {
	Reference  string
	Amount     decimal.Decimal
	Currency   string
	Status     string
	Successful bool
}

// Customer описывает плательщика.
type Customer struct {
	Email string
	Name  string
	Phone string
}

// CheckoutRequest описывает запрос страницы оплаты.
type CheckoutRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Reference   string
	CallbackURL string
	Customer    Customer
}

// Provider описывает единый интерфейс платёжного провайдера.
type Provider interface {
	Name() string
	// SignatureHeader возвращает имена заголовков с подписью вебхука в порядке предпочтения.
	SignatureHeader() []string
	VerifySignature(payload []byte, signature string) bool
	ParseWebhook(payload []byte) (*WebhookEvent, error)
	CreateCheckout(ctx context.Context, req CheckoutRequest) (string, error)
	VerifyTransaction(ctx context.Context, reference string) (*Transaction, error)
}

// Registry хранит провайдеров по имени.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry создаёт реестр из переданных провайдеров.
func NewRegistry(ps ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(ps))}
	for _, p := range ps {
		r.providers[p.Name()] = p
	}
	return r
}

// Get возвращает провайдера по имени.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names возвращает имена зарегистрированных провайдеров.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
