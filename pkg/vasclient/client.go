/**
 * @description
 * This package provides a client for the value-added-services reseller API:
 * airtime, data bundles, cable TV and electricity. Authentication is a static
 * API key. The reseller bills our float only when a purchase succeeds, which
 * the ChargedOnSuccess flag signals to callers.
 *
 * @dependencies
 * - net/http, encoding/json: wire transport.
 */
package vasclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/DesignerDev23/MiiMii-sub002/internal/provider"
)

// Client talks to the VAS reseller API and implements provider.VAS.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new VAS reseller client.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

var _ provider.VAS = (*Client)(nil)

// ErrorResponse represents an error payload from the reseller API.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type purchaseRequest struct {
	Phone     string `json:"phone,omitempty"`
	Network   string `json:"network,omitempty"`
	PlanID    string `json:"plan_id,omitempty"`
	Biller    string `json:"biller,omitempty"`
	Meter     string `json:"meter,omitempty"`
	Smartcard string `json:"smartcard,omitempty"`
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

type purchaseResponse struct {
	Data struct {
		Reference string `json:"reference"`
		Message   string `json:"message"`
		Status    string `json:"status"`
	} `json:"data"`
}

type balanceResponse struct {
	Data struct {
		Balance int64 `json:"balance"`
	} `json:"data"`
}

// ChargedOnSuccess reports that the reseller bills only successful purchases.
func (c *Client) ChargedOnSuccess() bool { return true }

// Balance returns the reseller float balance in minor units.
func (c *Client) Balance(ctx context.Context) (int64, error) {
	status, body, err := c.do(ctx, "GET", "/api/v1/balance", nil)
	if err != nil {
		return 0, provider.NewUnavailable(0, "balance request failed", err)
	}
	if status < 200 || status >= 300 {
		log.Printf("level=warn component=vas_client op=balance status=%d", status)
		return 0, parseError(status, body)
	}

	var out balanceResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("failed to decode balance response: %w", err)
	}
	return out.Data.Balance, nil
}

// PurchaseAirtime buys airtime for a phone number.
func (c *Client) PurchaseAirtime(ctx context.Context, req provider.VASRequest) (*provider.VASResult, error) {
	return c.purchase(ctx, "airtime", "/api/v1/airtime", purchaseRequest{
		Phone:     req.Phone,
		Network:   req.Network,
		Amount:    req.Amount,
		Reference: req.Reference,
	})
}

// PurchaseData buys a data bundle for a phone number.
func (c *Client) PurchaseData(ctx context.Context, req provider.VASRequest) (*provider.VASResult, error) {
	return c.purchase(ctx, "data", "/api/v1/data", purchaseRequest{
		Phone:     req.Phone,
		Network:   req.Network,
		PlanID:    req.PlanID,
		Amount:    req.Amount,
		Reference: req.Reference,
	})
}

// PurchaseCable pays a cable TV subscription against a smartcard.
func (c *Client) PurchaseCable(ctx context.Context, req provider.VASRequest) (*provider.VASResult, error) {
	return c.purchase(ctx, "cable", "/api/v1/cable", purchaseRequest{
		Biller:    req.Network,
		PlanID:    req.PlanID,
		Smartcard: req.Meter,
		Amount:    req.Amount,
		Reference: req.Reference,
	})
}

// PurchaseElectricity pays an electricity bill against a meter number.
func (c *Client) PurchaseElectricity(ctx context.Context, req provider.VASRequest) (*provider.VASResult, error) {
	return c.purchase(ctx, "electricity", "/api/v1/electricity", purchaseRequest{
		Biller:    req.Network,
		Meter:     req.Meter,
		Phone:     req.Phone,
		Amount:    req.Amount,
		Reference: req.Reference,
	})
}

func (c *Client) purchase(ctx context.Context, op, path string, payload purchaseRequest) (*provider.VASResult, error) {
	status, body, err := c.do(ctx, "POST", path, payload)
	if err != nil {
		log.Printf("level=error component=vas_client op=%s reference=%s msg=\"transport failure after submit\" error=%q", op, payload.Reference, err.Error())
		return nil, provider.NewUndetermined(op+" outcome unknown", err)
	}
	if status >= 500 {
		log.Printf("level=error component=vas_client op=%s reference=%s status=%d msg=\"5xx after submit\"", op, payload.Reference, status)
		return nil, provider.NewUndetermined(fmt.Sprintf("%s returned status %d", op, status), nil)
	}
	if status < 200 || status >= 300 {
		log.Printf("level=warn component=vas_client op=%s reference=%s status=%d", op, payload.Reference, status)
		return nil, parseError(status, body)
	}

	var out purchaseResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	if strings.EqualFold(out.Data.Status, "failed") {
		return nil, provider.NewRejected(status, out.Data.Message)
	}
	return &provider.VASResult{
		ProviderReference: out.Data.Reference,
		ProviderMessage:   out.Data.Message,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.APIKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, bodyBytes, nil
}

func parseError(status int, body []byte) *provider.Error {
	var errResp ErrorResponse
	msg := ""
	if err := json.Unmarshal(body, &errResp); err == nil {
		msg = errResp.Message
	}
	if status >= 400 && status < 500 {
		return provider.NewRejected(status, msg)
	}
	return provider.NewUnavailable(status, msg, nil)
}
