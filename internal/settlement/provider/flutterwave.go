package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// FlutterwaveSignatureHeader содержит имя заголовка подписи вебхука Flutterwave.
	FlutterwaveSignatureHeader = "flutterwave-signature"
	// FlutterwaveLegacyHeader содержит имя устаревшего заголовка подписи.
	FlutterwaveLegacyHeader = "verif-hash"
	// FlutterwaveDefaultBaseURL указывает адрес API Flutterwave.
	FlutterwaveDefaultBaseURL = "https://api.flutterwave.com"

	flutterwaveEventCharge   = "charge.completed"
	flutterwaveStatusSuccess = "successful"
)

// Flutterwave реализует адаптер Flutterwave: подпись HMAC-SHA256 в base64, суммы в найрах.
type Flutterwave struct {
	webhookSecret string
	api           *apiClient
}

// NewFlutterwave создаёт адаптер Flutterwave.
func NewFlutterwave(secretKey, webhookSecret, baseURL string, timeout time.Duration) *Flutterwave {
	if baseURL == "" {
		baseURL = FlutterwaveDefaultBaseURL
	}
	return &Flutterwave{webhookSecret: webhookSecret, api: newAPIClient(baseURL, secretKey, timeout)}
}

// Name возвращает имя провайдера.
func (f *Flutterwave) Name() string { return NameFlutterwave }

// SignatureHeader возвращает заголовки подписи.
func (f *Flutterwave) SignatureHeader() []string {
	return []string{FlutterwaveSignatureHeader, FlutterwaveLegacyHeader}
}

// VerifySignature сверяет подпись с HMAC-SHA256 от сырого тела запроса.
func (f *Flutterwave) VerifySignature(payload []byte, signature string) bool {
	if f.webhookSecret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(f.webhookSecret))
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature)))
}

type flutterwaveData struct {
	TxRef    string          `json:"tx_ref"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Status   string          `json:"status"`
}

type flutterwaveWebhook struct {
	Event string          `json:"event"`
	Data  flutterwaveData `json:"data"`
}

// ParseWebhook разбирает уведомление. Суммы уже в найрах.
func (f *Flutterwave) ParseWebhook(payload []byte) (*WebhookEvent, error) {
	var w flutterwaveWebhook
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("decode flutterwave webhook: %w", err)
	}
	return &WebhookEvent{
		Event:      w.Event,
		Completed:  w.Event == flutterwaveEventCharge,
		Reference:  w.Data.TxRef,
		Amount:     w.Data.Amount,
		Currency:   strings.ToUpper(w.Data.Currency),
		Status:     w.Data.Status,
		Successful: w.Data.Status == flutterwaveStatusSuccess,
	}, nil
}

type flutterwaveCustomer struct {
	Email       string `json:"email"`
	Name        string `json:"name,omitempty"`
	PhoneNumber string `json:"phonenumber,omitempty"`
}

type flutterwavePaymentRequest struct {
	TxRef       string              `json:"tx_ref"`
	Amount      string              `json:"amount"`
	Currency    string              `json:"currency"`
	RedirectURL string              `json:"redirect_url,omitempty"`
	Customer    flutterwaveCustomer `json:"customer"`
}

type flutterwavePaymentResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Link string `json:"link"`
	} `json:"data"`
}

// CreateCheckout создаёт платёжную ссылку.
func (f *Flutterwave) CreateCheckout(ctx context.Context, req CheckoutRequest) (string, error) {
	body := flutterwavePaymentRequest{
		TxRef:       req.Reference,
		Amount:      req.Amount.StringFixed(2),
		Currency:    req.Currency,
		RedirectURL: req.CallbackURL,
		Customer: flutterwaveCustomer{
			Email:       req.Customer.Email,
			Name:        req.Customer.Name,
			PhoneNumber: req.Customer.Phone,
		},
	}

	var resp flutterwavePaymentResponse
	if err := f.api.do(ctx, http.MethodPost, "/v3/payments", body, &resp); err != nil {
		return "", fmt.Errorf("flutterwave payment: %w", err)
	}
	if resp.Status != "success" || resp.Data.Link == "" {
		return "", fmt.Errorf("flutterwave payment: %s", resp.Message)
	}
	return resp.Data.Link, nil
}

type flutterwaveVerifyResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    flutterwaveData `json:"data"`
}

// VerifyTransaction запрашивает состояние транзакции по tx_ref.
func (f *Flutterwave) VerifyTransaction(ctx context.Context, reference string) (*Transaction, error) {
	path := "/v3/transactions/verify_by_reference?tx_ref=" + url.QueryEscape(reference)

	var resp flutterwaveVerifyResponse
	if err := f.api.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("flutterwave verify: %w", err)
	}
	if resp.Status != "success" {
		return nil, fmt.Errorf("flutterwave verify: %s", resp.Message)
	}
	return &Transaction{
		Reference:  resp.Data.TxRef,
		Amount:     resp.Data.Amount,
		Currency:   strings.ToUpper(resp.Data.Currency),
		Status:     resp.Data.Status,
		Successful: resp.Data.Status == flutterwaveStatusSuccess,
	}, nil
}
