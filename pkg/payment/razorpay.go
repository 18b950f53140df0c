// Package payment creates Razorpay orders and verifies checkout signatures.
package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.razorpay.com/v1"

// ErrInvalidSignature is returned when a checkout signature does not match.
var ErrInvalidSignature = errors.New("invalid payment signature")

// Order mirrors the fields of a Razorpay order used here.
type Order struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Status   string            `json:"status"`
	Notes    map[string]string `json:"-"`
}

// OrderRequest is the body of a create-order call. Amount is in paise.
type OrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

// Gateway is the payment provider used by the API.
type Gateway interface {
	KeyID() string
	CreateOrder(ctx context.Context, req OrderRequest) (Order, error)
	FetchOrder(ctx context.Context, orderID string) (Order, error)
	VerifySignature(orderID, paymentID, signature string) error
}

// APIError is a non-2xx response from Razorpay.
type APIError struct {
	Status      int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("razorpay: %d %s: %s", e.Status, e.Code, e.Description)
}

// RazorpayClient talks to the Razorpay REST API with basic auth.
type RazorpayClient struct {
	keyID     string
	keySecret string
	baseURL   string
	http      *http.Client
}

// Option customizes a RazorpayClient.
type Option func(*RazorpayClient)

func WithBaseURL(u string) Option {
	return func(c *RazorpayClient) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *RazorpayClient) {
		if h != nil {
			c.http = h
		}
	}
}

func NewRazorpayClient(keyID, keySecret string, opts ...Option) (*RazorpayClient, error) {
	if strings.TrimSpace(keyID) == "" || strings.TrimSpace(keySecret) == "" {
		return nil, errors.New("razorpay key id and secret are required")
	}
	c := &RazorpayClient{
		keyID:     keyID,
		keySecret: keySecret,
		baseURL:   defaultBaseURL,
		http:      &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// KeyID is the public key the browser checkout needs.
func (c *RazorpayClient) KeyID() string { return c.keyID }

func (c *RazorpayClient) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Order{}, fmt.Errorf("marshal order: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/orders", body)
}

func (c *RazorpayClient) FetchOrder(ctx context.Context, orderID string) (Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return Order{}, errors.New("order id is required")
	}
	return c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil)
}

// VerifySignature checks HMAC-SHA256(orderID|paymentID) against the
// hex signature returned by checkout.
func (c *RazorpayClient) VerifySignature(orderID, paymentID, signature string) error {
	return VerifySignature(c.keySecret, orderID, paymentID, signature)
}

// VerifySignature is the keyed check used by RazorpayClient.
func VerifySignature(secret, orderID, paymentID, signature string) error {
	if orderID == "" || paymentID == "" || signature == "" {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return ErrInvalidSignature
	}
	if !hmac.Equal(got, Sign(secret, orderID, paymentID)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the raw MAC for orderID|paymentID.
func Sign(secret, orderID, paymentID string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return mac.Sum(nil)
}

type orderWire struct {
	Order
	RawNotes json.RawMessage `json:"notes"`
}

type errorWire struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (c *RazorpayClient) do(ctx context.Context, method, path string, body []byte) (Order, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return Order{}, err
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Order{}, fmt.Errorf("razorpay request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Order{}, fmt.Errorf("read razorpay response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e errorWire
		_ = json.Unmarshal(raw, &e)
		return Order{}, &APIError{Status: resp.StatusCode, Code: e.Error.Code, Description: e.Error.Description}
	}
	var wire orderWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Order{}, fmt.Errorf("decode razorpay order: %w", err)
	}
	order := wire.Order
	// Razorpay encodes empty notes as [] rather than {}.
	order.Notes = map[string]string{}
	if len(wire.RawNotes) > 0 && wire.RawNotes[0] == '{' {
		if err := json.Unmarshal(wire.RawNotes, &order.Notes); err != nil {
			return Order{}, fmt.Errorf("decode order notes: %w", err)
		}
	}
	return order, nil
}
