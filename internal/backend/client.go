// Package backend is the REST client for the authoritative POS backend.
// Every error it returns is classified into the apperr taxonomy.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kiwari-pos/engine/internal/apperr"
	"github.com/kiwari-pos/engine/internal/model"
	"github.com/shopspring/decimal"
)

// ErrUnauthorized is returned for 401/403. It is outside the taxonomy on
// purpose: a refreshed token can make the same request succeed.
var ErrUnauthorized = errors.New("backend rejected credentials")

// APIError is a non-2xx response from the backend.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Message string
	class   error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, e.Message)
}

func (e *APIError) Unwrap() error { return e.class }

// StatusUpdate is the body of PUT /orders/:id/status.
type StatusUpdate struct {
	Status model.OrderStatus `json:"status"`
	Reason string            `json:"reason,omitempty"`
}

// NewOrder is the body of POST /orders.
type NewOrder struct {
	TableID   *string           `json:"table_id"`
	OrderType string            `json:"order_type,omitempty"`
	Station   string            `json:"station,omitempty"`
	Items     []model.OrderItem `json:"items"`
}

// Payment is the body of POST /bills/:id/pay.
type Payment struct {
	PaymentMode string          `json:"payment_mode"`
	Amount      decimal.Decimal `json:"amount"`
}

// Client talks to the backend over HTTP/JSON.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a Client. token is sent as a bearer token when non-empty.
func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// ListOrders handles GET /orders[?status=].
func (c *Client) ListOrders(ctx context.Context, status model.OrderStatus) ([]model.Order, error) {
	path := "/orders"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var orders []model.Order
	if err := c.getList(ctx, path, "orders", &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// GetOrder handles GET /orders/:id.
func (c *Client) GetOrder(ctx context.Context, id string) (model.Order, error) {
	var o model.Order
	err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(id), nil, "", &o)
	return o, err
}

// UpdateOrderStatus handles PUT /orders/:id/status.
func (c *Client) UpdateOrderStatus(ctx context.Context, id string, req StatusUpdate, idempotencyKey string) (model.Order, error) {
	var o model.Order
	err := c.do(ctx, http.MethodPut, "/orders/"+url.PathEscape(id)+"/status", req, idempotencyKey, &o)
	return o, err
}

// CreateOrder handles POST /orders.
func (c *Client) CreateOrder(ctx context.Context, req NewOrder, idempotencyKey string) (model.Order, error) {
	var o model.Order
	err := c.do(ctx, http.MethodPost, "/orders", req, idempotencyKey, &o)
	return o, err
}

// ListBills handles GET /bills.
func (c *Client) ListBills(ctx context.Context) ([]model.Bill, error) {
	var bills []model.Bill
	if err := c.getList(ctx, "/bills", "bills", &bills); err != nil {
		return nil, err
	}
	return bills, nil
}

// GetBill handles GET /bills/:id.
func (c *Client) GetBill(ctx context.Context, id string) (model.Bill, error) {
	var b model.Bill
	err := c.do(ctx, http.MethodGet, "/bills/"+url.PathEscape(id), nil, "", &b)
	return b, err
}

// PayBill handles POST /bills/:id/pay.
func (c *Client) PayBill(ctx context.Context, id string, req Payment, idempotencyKey string) (model.Bill, error) {
	var b model.Bill
	err := c.do(ctx, http.MethodPost, "/bills/"+url.PathEscape(id)+"/pay", req, idempotencyKey, &b)
	return b, err
}

// ListTables handles GET /tables.
func (c *Client) ListTables(ctx context.Context) ([]model.Table, error) {
	var tables []model.Table
	if err := c.getList(ctx, "/tables", "tables", &tables); err != nil {
		return nil, err
	}
	return tables, nil
}

// getList accepts either a bare JSON array or an object wrapping the array
// under key, e.g. {"orders": [...], "limit": 20, "offset": 0}.
func (c *Client) getList(ctx context.Context, path, key string, out any) error {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, "", &raw); err != nil {
		return err
	}

	body := bytes.TrimSpace(raw)
	if len(body) > 0 && body[0] == '{' {
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(body, &envelope); err != nil {
			return fmt.Errorf("GET %s: decode envelope: %w", path, err)
		}
		body = envelope[key]
	}
	if len(body) == 0 || string(body) == "null" {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("GET %s: decode %s: %w", path, key, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, idempotencyKey string, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s %s: encode body: %v: %w", method, path, err, apperr.ErrValidation)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s %s: build request: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %w", method, path, apperr.ErrNetwork, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w: %w", method, path, apperr.ErrNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classify(method, path, resp.StatusCode, data)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

// classify maps an HTTP failure onto the error taxonomy.
func classify(method, path string, status int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &payload)
	msg := payload.Error
	if msg == "" {
		msg = http.StatusText(status)
	}

	e := &APIError{Method: method, Path: path, Status: status, Message: msg}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.class = ErrUnauthorized
	case status == http.StatusConflict:
		// The backend answers 409 both for a rejected transition
		// ("cannot transition from X to Y") and for a lost race.
		if strings.Contains(strings.ToLower(msg), "transition") {
			e.class = apperr.ErrInvalidTransition
		} else {
			e.class = apperr.ErrConflict
		}
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		e.class = apperr.ErrNetwork
	default:
		e.class = apperr.ErrValidation
	}
	return e
}
