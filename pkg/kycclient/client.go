/**
 * @description
 * This package provides a client for the identity-verification provider used
 * to verify BVNs during onboarding. Verification compares the submitted name,
 * date of birth and phone against the registry record and returns the
 * registry's authoritative attributes alongside the verdict.
 *
 * @dependencies
 * - net/http, encoding/json: wire transport.
 */
package kycclient

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

// Client talks to the KYC provider API and implements provider.KYC.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new KYC provider client.
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

var _ provider.KYC = (*Client)(nil)

type verifyRequest struct {
	BVN         string `json:"bvn"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DateOfBirth string `json:"date_of_birth"`
	Phone       string `json:"phone"`
}

type verifyResponse struct {
	Data struct {
		Verified    bool   `json:"verified"`
		FirstName   string `json:"first_name"`
		LastName    string `json:"last_name"`
		DateOfBirth string `json:"date_of_birth"`
		Phone       string `json:"phone"`
		Gender      string `json:"gender"`
	} `json:"data"`
}

// ErrorResponse represents an error payload from the KYC API.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// VerifyBVN checks the submitted attributes against the national registry.
// Verification is read-only, so every transport failure is retryable.
func (c *Client) VerifyBVN(ctx context.Context, req provider.BVNRequest) (*provider.BVNResult, error) {
	raw, err := json.Marshal(verifyRequest{
		BVN:         req.BVN,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		DateOfBirth: req.DateOfBirth.Format("2006-01-02"),
		Phone:       req.Phone,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bvn request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/v1/bvn/verify", bytes.NewBuffer(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to create bvn request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("x-api-key", c.APIKey)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, provider.NewUnavailable(0, "bvn verification request failed", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, provider.NewUnavailable(resp.StatusCode, "failed to read bvn response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		msg := ""
		if err := json.Unmarshal(bodyBytes, &errResp); err == nil {
			msg = errResp.Message
		}
		log.Printf("level=warn component=kyc_client op=verify_bvn status=%d msg=%q", resp.StatusCode, msg)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, provider.NewRejected(resp.StatusCode, msg)
		}
		return nil, provider.NewUnavailable(resp.StatusCode, msg, nil)
	}

	var out verifyResponse
	if err := json.Unmarshal(bodyBytes, &out); err != nil {
		return nil, fmt.Errorf("failed to decode bvn response: %w", err)
	}
	return &provider.BVNResult{
		Verified:    out.Data.Verified,
		FirstName:   out.Data.FirstName,
		LastName:    out.Data.LastName,
		DateOfBirth: out.Data.DateOfBirth,
		Phone:       out.Data.Phone,
		Gender:      out.Data.Gender,
	}, nil
}
