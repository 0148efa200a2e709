package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Backend call timeouts. The finance service is latency-critical; the user
// and retrieval services tolerate more.
const (
	FinanceTimeout   = 5 * time.Second
	UserTimeout      = 10 * time.Second
	RetrievalTimeout = 10 * time.Second
)

// BackendError is a non-2xx response from a backend service.
type BackendError struct {
	Service string
	Status  int
	Body    string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend returned status %d: %s", e.Service, e.Status, e.Body)
}

// Account is one account row from the finance service.
type Account struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency,omitempty"`
}

// Transaction is one transaction row from the finance service.
type Transaction struct {
	ID          string  `json:"id"`
	AccountID   string  `json:"accountId"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description,omitempty"`
	Date        string  `json:"date,omitempty"`
}

// TransferRequest is the payload for the transfer endpoint.
type TransferRequest struct {
	FromAccountID string  `json:"fromAccountId"`
	ToAccountID   string  `json:"toAccountId"`
	Amount        float64 `json:"amount"`
	Description   string  `json:"description,omitempty"`
}

// User is one user row from the user service, accounts embedded.
type User struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Accounts []Account `json:"accounts,omitempty"`
}

// FinanceClient talks to the core banking service.
type FinanceClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewFinanceClient creates a finance client with the standard timeout.
func NewFinanceClient(baseURL string) *FinanceClient {
	return &FinanceClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: FinanceTimeout},
	}
}

// Accounts lists the accounts owned by a user.
func (c *FinanceClient) Accounts(ctx context.Context, userID string) ([]Account, error) {
	var accounts []Account
	err := getJSON(ctx, c.httpClient, "finance",
		c.baseURL+"/accounts?userId="+url.QueryEscape(userID), &accounts)
	return accounts, err
}

// AllAccounts lists every customer account. Admin surface only.
func (c *FinanceClient) AllAccounts(ctx context.Context) (json.RawMessage, error) {
	return getRaw(ctx, c.httpClient, "finance", c.baseURL+"/accounts/all")
}

// Transactions lists recent transactions for a user.
func (c *FinanceClient) Transactions(ctx context.Context, userID string, days, limit int) ([]Transaction, error) {
	q := url.Values{}
	q.Set("userId", userID)
	q.Set("days", strconv.Itoa(days))
	q.Set("limit", strconv.Itoa(limit))
	var txns []Transaction
	err := getJSON(ctx, c.httpClient, "finance",
		c.baseURL+"/transactions?"+q.Encode(), &txns)
	return txns, err
}

// Transfer submits a value transfer and returns the backend confirmation.
func (c *FinanceClient) Transfer(ctx context.Context, req TransferRequest) (json.RawMessage, error) {
	return postJSON(ctx, c.httpClient, "finance", c.baseURL+"/transfers", req)
}

// Portfolio returns the investment portfolio summary for a user.
func (c *FinanceClient) Portfolio(ctx context.Context, userID string) (json.RawMessage, error) {
	return getRaw(ctx, c.httpClient, "finance",
		c.baseURL+"/portfolio?userId="+url.QueryEscape(userID))
}

// PlaceTrade submits a securities order.
func (c *FinanceClient) PlaceTrade(ctx context.Context, order map[string]any) (json.RawMessage, error) {
	return postJSON(ctx, c.httpClient, "finance", c.baseURL+"/trades", order)
}

// CreditScore returns the current credit score record for a user.
func (c *FinanceClient) CreditScore(ctx context.Context, userID string) (json.RawMessage, error) {
	return getRaw(ctx, c.httpClient, "finance",
		c.baseURL+"/credit-score?userId="+url.QueryEscape(userID))
}

// ApplyForLoan submits a loan application.
func (c *FinanceClient) ApplyForLoan(ctx context.Context, application map[string]any) (json.RawMessage, error) {
	return postJSON(ctx, c.httpClient, "finance", c.baseURL+"/loans", application)
}

// UserClient talks to the user directory service.
type UserClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewUserClient creates a user directory client with the standard timeout.
func NewUserClient(baseURL string) *UserClient {
	return &UserClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: UserTimeout},
	}
}

// Search finds users whose name matches the given partial name.
func (c *UserClient) Search(ctx context.Context, name string) ([]User, error) {
	var payload struct {
		Users []User `json:"users"`
	}
	err := getJSON(ctx, c.httpClient, "user",
		c.baseURL+"/users?name="+url.QueryEscape(name), &payload)
	return payload.Users, err
}

// Profile returns the profile record for a user.
func (c *UserClient) Profile(ctx context.Context, userID string) (json.RawMessage, error) {
	return getRaw(ctx, c.httpClient, "user",
		c.baseURL+"/users/"+url.PathEscape(userID))
}

// RetrievalResult is the retrieval service response.
type RetrievalResult struct {
	Context      string `json:"context"`
	ResultsCount int    `json:"results_count"`
}

// RetrievalClient talks to the document retrieval service.
type RetrievalClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRetrievalClient creates a retrieval client with the standard timeout.
func NewRetrievalClient(baseURL string) *RetrievalClient {
	return &RetrievalClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: RetrievalTimeout},
	}
}

// Query runs a retrieval query and returns the assembled context.
func (c *RetrievalClient) Query(ctx context.Context, query string, k int) (*RetrievalResult, error) {
	body := map[string]any{"query": query}
	if k > 0 {
		body["k"] = k
	}
	raw, err := postJSON(ctx, c.httpClient, "retrieval", c.baseURL+"/query", body)
	if err != nil {
		return nil, err
	}
	var result RetrievalResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode retrieval response: %w", err)
	}
	return &result, nil
}

func getJSON(ctx context.Context, client *http.Client, service, rawURL string, out any) error {
	raw, err := getRaw(ctx, client, service, rawURL)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", service, err)
	}
	return nil
}

func getRaw(ctx context.Context, client *http.Client, service, rawURL string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", service, err)
	}
	req.Header.Set("Accept", "application/json")
	return doRequest(client, service, req)
}

func postJSON(ctx context.Context, client *http.Client, service, rawURL string, body any) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", service, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", service, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return doRequest(client, service, req)
}

func doRequest(client *http.Client, service string, req *http.Request) (json.RawMessage, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s backend request failed: %w", service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, &BackendError{Service: service, Status: resp.StatusCode, Body: string(excerpt)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", service, err)
	}
	if len(raw) == 0 {
		raw = []byte(`{}`)
	}
	return json.RawMessage(raw), nil
}
