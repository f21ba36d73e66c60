package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	// DefaultTimeout ограничивает один запрос к провайдеру.
	DefaultTimeout = 10 * time.Second

	defaultRetryMax = 2
	maxErrorBody    = 512
)

// apiClient инкапсулирует HTTP-взаимодействие с API платёжного провайдера.
// Повторяются только GET-запросы: POST создаёт транзакцию с фиксированной ссылкой.
type apiClient struct {
	baseURL string
	secret  string
	http    *retryablehttp.Client
	once    *retryablehttp.Client
}

func newRetryClient(timeout time.Duration, retryMax int) *retryablehttp.Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Timeout: timeout}
	rc.RetryMax = retryMax
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil
	return rc
}

func newAPIClient(baseURL, secret string, timeout time.Duration) *apiClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}

	return &apiClient{
		baseURL: base,
		secret:  secret,
		http:    newRetryClient(timeout, defaultRetryMax),
		once:    newRetryClient(timeout, 0),
	}
}

func (c *apiClient) clientFor(method string) *retryablehttp.Client {
	if method == http.MethodGet || method == http.MethodHead {
		return c.http
	}
	return c.once
}

// do выполняет запрос и декодирует JSON-ответ в out.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	if c == nil || c.baseURL == "" {
		return errors.New("provider client not configured")
	}

	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	var reader io.Reader
	if raw != nil {
		reader = bytes.NewReader(raw)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	req.Header.Set("Accept", "application/json")
	if raw != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.clientFor(method).Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
