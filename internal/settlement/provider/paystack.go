package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// PaystackSignatureHeader содержит имя заголовка подписи вебхука Paystack.
	PaystackSignatureHeader = "x-paystack-signature"
	// PaystackDefaultBaseURL указывает адрес API Paystack.
	PaystackDefaultBaseURL = "https://api.paystack.co"

	paystackEventCharge   = "charge.success"
	paystackStatusSuccess = "success"
	paystackMinorUnitExp  = -2 // кобо
)

// Paystack реализует адаптер Paystack: подпись HMAC-SHA512 в hex, суммы в кобо.
type Paystack struct {
	secret string
	api    *apiClient
}

// NewPaystack создаёт адаптер Paystack. Секретный ключ используется и для API, и для подписи вебхуков.
func NewPaystack(secretKey, baseURL string, timeout time.Duration) *Paystack {
	if baseURL == "" {
		baseURL = PaystackDefaultBaseURL
	}
	return &Paystack{secret: secretKey, api: newAPIClient(baseURL, secretKey, timeout)}
}

// Name возвращает имя провайдера.
func (p *Paystack) Name() string { return NamePaystack }

// SignatureHeader возвращает заголовок подписи.
func (p *Paystack) SignatureHeader() []string { return []string{PaystackSignatureHeader} }

// VerifySignature сверяет подпись с HMAC-SHA512 от сырого тела запроса.
func (p *Paystack) VerifySignature(payload []byte, signature string) bool {
	if p.secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(p.secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

type paystackData struct {
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Status    string          `json:"status"`
}

type paystackWebhook struct {
	Event string       `json:"event"`
	Data  paystackData `json:"data"`
}

// ParseWebhook разбирает уведомление и переводит сумму из кобо в найры.
func (p *Paystack) ParseWebhook(payload []byte) (*WebhookEvent, error) {
	var w paystackWebhook
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("decode paystack webhook: %w", err)
	}
	return &WebhookEvent{
		Event:      w.Event,
		Completed:  w.Event == paystackEventCharge,
		Reference:  w.Data.Reference,
		Amount:     w.Data.Amount.Shift(paystackMinorUnitExp),
		Currency:   strings.ToUpper(w.Data.Currency),
		Status:     w.Data.Status,
		Successful: w.Data.Status == paystackStatusSuccess,
	}, nil
}

type paystackInitRequest struct {
	Email       string `json:"email"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Reference   string `json:"reference"`
	CallbackURL string `json:"callback_url,omitempty"`
}

type paystackInitResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

// CreateCheckout инициализирует транзакцию и возвращает ссылку на страницу оплаты.
func (p *Paystack) CreateCheckout(ctx context.Context, req CheckoutRequest) (string, error) {
	body := paystackInitRequest{
		Email:       req.Customer.Email,
		Amount:      req.Amount.Shift(-paystackMinorUnitExp).Round(0).String(),
		Currency:    req.Currency,
		Reference:   req.Reference,
		CallbackURL: req.CallbackURL,
	}

	var resp paystackInitResponse
	if err := p.api.do(ctx, http.MethodPost, "/transaction/initialize", body, &resp); err != nil {
		return "", fmt.Errorf("paystack initialize: %w", err)
	}
	if !resp.Status || resp.Data.AuthorizationURL == "" {
		return "", fmt.Errorf("paystack initialize: %s", resp.Message)
	}
	return resp.Data.AuthorizationURL, nil
}

type paystackVerifyResponse struct {
	Status  bool         `json:"status"`
	Message string       `json:"message"`
	Data    paystackData `json:"data"`
}

// VerifyTransaction запрашивает состояние транзакции по ссылке.
func (p *Paystack) VerifyTransaction(ctx context.Context, reference string) (*Transaction, error) {
	var resp paystackVerifyResponse
	if err := p.api.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &resp); err != nil {
		return nil, fmt.Errorf("paystack verify: %w", err)
	}
	if !resp.Status {
		return nil, fmt.Errorf("paystack verify: %s", resp.Message)
	}
	return &Transaction{
		Reference:  resp.Data.Reference,
		Amount:     resp.Data.Amount.Shift(paystackMinorUnitExp),
		Currency:   strings.ToUpper(resp.Data.Currency),
		Status:     resp.Data.Status,
		Successful: resp.Data.Status == paystackStatusSuccess,
	}, nil
}
