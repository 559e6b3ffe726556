// Package mono is the client for the Mono account-aggregation API.
package mono

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"trackify/internal/domain"
)

const secretKeyHeader = "mono-sec-key"

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("mono: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client talks to the Mono REST API.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Mono client authenticated with the given secret key.
func NewClient(secretKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(secretKey) == "" {
		return nil, errors.New("mono: secret key must not be empty")
	}
	c := &Client{
		baseURL:    "https://api.withmono.com",
		secretKey:  secretKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// authResponse is the shape returned by the code-exchange endpoint.
type authResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// accountResponse is the minimal account-details shape.
type accountResponse struct {
	Data struct {
		Account struct {
			ID            string         `json:"id"`
			Name          string         `json:"name"`
			Type          string         `json:"type"`
			AccountNumber string         `json:"account_number"`
			Currency      string         `json:"currency"`
			Balance       int64          `json:"balance"`
			Institution   map[string]any `json:"institution"`
		} `json:"account"`
	} `json:"data"`
}

// transactionsResponse is the minimal transactions-list shape.
type transactionsResponse struct {
	Data []struct {
		ID        string    `json:"id"`
		Amount    int64     `json:"amount"`
		Currency  string    `json:"currency"`
		Type      string    `json:"type"`
		Narration string    `json:"narration"`
		Date      time.Time `json:"date"`
	} `json:"data"`
}

// ExchangeToken exchanges the widget authorization code for the provider's
// account id.
func (c *Client) ExchangeToken(ctx context.Context, code string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", errors.New("mono: authorization code must not be empty")
	}

	form := url.Values{"code": {code}}
	endpoint := c.baseURL + "/accounts/auth"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("mono: create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(secretKeyHeader, c.secretKey)

	raw, err := c.doJSONRequest(req, endpoint)
	if err != nil {
		return "", fmt.Errorf("mono: auth request failed: %w", err)
	}

	var payload authResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("mono: decode auth response: %w", err)
	}
	if payload.Data.ID == "" {
		return "", errors.New("mono: auth response missing account id")
	}
	return payload.Data.ID, nil
}

// FetchAccount pulls account details, balance and institution metadata.
func (c *Client) FetchAccount(ctx context.Context, providerAccountID string) (domain.ProviderAccount, error) {
	endpoint := c.baseURL + "/accounts/" + url.PathEscape(providerAccountID)
	raw, err := c.get(ctx, endpoint)
	if err != nil {
		return domain.ProviderAccount{}, fmt.Errorf("mono: account request failed: %w", err)
	}

	var payload accountResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.ProviderAccount{}, fmt.Errorf("mono: decode account response: %w", err)
	}
	account := payload.Data.Account
	if account.ID == "" {
		account.ID = providerAccountID
	}
	return domain.ProviderAccount{
		ID:            account.ID,
		Name:          account.Name,
		Type:          account.Type,
		AccountNumber: account.AccountNumber,
		Currency:      account.Currency,
		Balance:       account.Balance,
		Institution:   account.Institution,
	}, nil
}

// FetchTransactions pulls the account's transaction feed.
func (c *Client) FetchTransactions(ctx context.Context, providerAccountID string) ([]domain.ProviderTransaction, error) {
	endpoint := c.baseURL + "/accounts/" + url.PathEscape(providerAccountID) + "/transactions"
	raw, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("mono: transactions request failed: %w", err)
	}

	var payload transactionsResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("mono: decode transactions response: %w", err)
	}
	transactions := make([]domain.ProviderTransaction, 0, len(payload.Data))
	for _, tx := range payload.Data {
		transactions = append(transactions, domain.ProviderTransaction{
			ID:        tx.ID,
			Amount:    tx.Amount,
			Currency:  tx.Currency,
			Type:      tx.Type,
			Narration: tx.Narration,
			Date:      tx.Date,
		})
	}
	return transactions, nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(secretKeyHeader, c.secretKey)
	return c.doJSONRequest(req, endpoint)
}

func (c *Client) doJSONRequest(req *http.Request, endpoint string) ([]byte, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        endpoint,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
