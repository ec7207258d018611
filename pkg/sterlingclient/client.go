/**
 * @description
 * This package provides a client for the Sterling sponsor-bank API. It owns
 * OAuth token lifecycle (serialized refresh across goroutines), NIP name
 * enquiry and transfers, virtual account issuance, balance queries, and
 * webhook signature verification.
 *
 * Every failure is classified before it leaves this package: 4xx responses
 * become rejections, transport failures and 5xx on idempotent reads become
 * unavailable, and transfer submissions whose outcome cannot be observed
 * become undetermined so callers never double-submit.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha512: webhook signature verification.
 * - net/http, encoding/json: wire transport.
 */
package sterlingclient

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/DesignerDev23/MiiMii-sub002/internal/provider"
)

const tokenExpirySkew = 60 * time.Second

// Client talks to the Sterling sponsor-bank API and implements provider.Bank.
type Client struct {
	BaseURL       string
	ClientID      string
	ClientSecret  string
	WebhookSecret string
	HTTPClient    *http.Client

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time

	banksMu     sync.Mutex
	bankCodes   map[string]string // 3-digit CBN code -> 6-digit institution code
	banksExpiry time.Time
}

// NewClient creates a new Sterling API client.
func NewClient(baseURL, clientID, clientSecret, webhookSecret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		BaseURL:       strings.TrimRight(baseURL, "/"),
		ClientID:      clientID,
		ClientSecret:  clientSecret,
		WebhookSecret: webhookSecret,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

var _ provider.Bank = (*Client)(nil)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// ErrorResponse represents an error payload from the Sterling API.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e *ErrorResponse) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("sterling api error: %s (%s)", e.Message, e.Code)
	}
	return "unknown sterling api error"
}

// token returns a valid bearer token, refreshing it when expired. Refresh is
// serialized so concurrent callers trigger at most one token request.
func (c *Client) token(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", provider.NewUnavailable(0, "token request failed", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", provider.NewUnavailable(resp.StatusCode, "failed to read token response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("level=warn component=sterling_client op=token status=%d msg=\"token refresh rejected\"", resp.StatusCode)
		if resp.StatusCode >= 500 {
			return "", provider.NewUnavailable(resp.StatusCode, "token endpoint unavailable", nil)
		}
		return "", provider.NewRejected(resp.StatusCode, "invalid client credentials")
	}

	var tok tokenResponse
	if err := json.Unmarshal(bodyBytes, &tok); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", provider.NewUnavailable(resp.StatusCode, "empty access token in response", nil)
	}

	c.accessToken = tok.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - tokenExpirySkew)
	log.Printf("level=info component=sterling_client op=token msg=\"access token refreshed\" expires_in=%d", tok.ExpiresIn)
	return c.accessToken, nil
}

// doJSON executes an authenticated request and returns status plus raw body.
// Transport-level failures come back as provider errors; the caller decides
// how to treat them based on whether the call was idempotent.
func (c *Client) doJSON(ctx context.Context, method, path string, payload interface{}) (int, []byte, error) {
	tok, err := c.token(ctx)
	if err != nil {
		return 0, nil, err
	}

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
	req.Header.Set("Authorization", "Bearer "+tok)
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

type nameEnquiryRequest struct {
	AccountNumber   string `json:"account_number"`
	InstitutionCode string `json:"institution_code"`
}

type nameEnquiryResponse struct {
	Data struct {
		AccountName   string `json:"account_name"`
		AccountNumber string `json:"account_number"`
		SessionID     string `json:"session_id"`
	} `json:"data"`
}

// NameEnquiry resolves the legal account holder name on the NIP network.
func (c *Client) NameEnquiry(ctx context.Context, accountNumber, bankCode string) (string, error) {
	code, err := c.resolveBankCode(ctx, bankCode)
	if err != nil {
		return "", err
	}

	status, body, err := c.doJSON(ctx, "POST", "/api/v1/transfers/name-enquiry", nameEnquiryRequest{
		AccountNumber:   accountNumber,
		InstitutionCode: code,
	})
	if err != nil {
		// Name enquiry has no side effect; a transport failure is retryable.
		return "", provider.NewUnavailable(0, "name enquiry request failed", err)
	}
	if status < 200 || status >= 300 {
		log.Printf("level=warn component=sterling_client op=name_enquiry status=%d account=%s bank=%s", status, accountNumber, bankCode)
		return "", parseError(status, body)
	}

	var out nameEnquiryResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("failed to decode name enquiry response: %w", err)
	}
	if out.Data.AccountName == "" {
		return "", provider.NewRejected(status, "account could not be resolved")
	}
	return out.Data.AccountName, nil
}

type transferRequest struct {
	Amount          int64  `json:"amount"`
	AccountNumber   string `json:"account_number"`
	InstitutionCode string `json:"institution_code"`
	Narration       string `json:"narration"`
	Reference       string `json:"reference"`
	Currency        string `json:"currency"`
}

type transferResponse struct {
	Data struct {
		TransferReference string `json:"transfer_reference"`
		Status            string `json:"status"`
	} `json:"data"`
}

// Transfer submits a NIP transfer. A timeout or 5xx after the body has been
// sent is reported as undetermined: the sponsor may have executed it, so the
// caller must not resubmit.
func (c *Client) Transfer(ctx context.Context, req provider.TransferRequest) (string, error) {
	code, err := c.resolveBankCode(ctx, req.BankCode)
	if err != nil {
		return "", err
	}

	status, body, err := c.doJSON(ctx, "POST", "/api/v1/transfers/nip", transferRequest{
		Amount:          req.Amount,
		AccountNumber:   req.AccountNumber,
		InstitutionCode: code,
		Narration:       req.Narration,
		Reference:       req.Reference,
		Currency:        "NGN",
	})
	if err != nil {
		var pe *provider.Error
		if errors.As(err, &pe) {
			// Token refresh failed before anything was sent.
			return "", err
		}
		log.Printf("level=error component=sterling_client op=transfer reference=%s msg=\"transport failure after submit\" error=%q", req.Reference, err.Error())
		return "", provider.NewUndetermined("transfer outcome unknown", err)
	}
	if status >= 500 {
		log.Printf("level=error component=sterling_client op=transfer reference=%s status=%d msg=\"5xx after submit\"", req.Reference, status)
		return "", provider.NewUndetermined(fmt.Sprintf("transfer returned status %d", status), nil)
	}
	if status < 200 || status >= 300 {
		log.Printf("level=warn component=sterling_client op=transfer reference=%s status=%d", req.Reference, status)
		return "", parseError(status, body)
	}

	var out transferResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("failed to decode transfer response: %w", err)
	}
	return out.Data.TransferReference, nil
}

type balanceResponse struct {
	Data struct {
		AvailableBalance int64 `json:"available_balance"`
		LedgerBalance    int64 `json:"ledger_balance"`
	} `json:"data"`
}

// Balance returns the settlement account balance in minor units.
func (c *Client) Balance(ctx context.Context) (int64, error) {
	status, body, err := c.doJSON(ctx, "GET", "/api/v1/accounts/balance", nil)
	if err != nil {
		return 0, provider.NewUnavailable(0, "balance request failed", err)
	}
	if status < 200 || status >= 300 {
		log.Printf("level=warn component=sterling_client op=balance status=%d", status)
		return 0, parseError(status, body)
	}

	var out balanceResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("failed to decode balance response: %w", err)
	}
	return out.Data.AvailableBalance, nil
}

// VirtualAccountBalance returns the sponsor-reported balance for one
// customer's virtual account.
func (c *Client) VirtualAccountBalance(ctx context.Context, accountNumber string) (int64, error) {
	status, body, err := c.doJSON(ctx, "GET", "/api/v1/virtual-accounts/"+accountNumber+"/balance", nil)
	if err != nil {
		return 0, provider.NewUnavailable(0, "virtual account balance request failed", err)
	}
	if status < 200 || status >= 300 {
		log.Printf("level=warn component=sterling_client op=va_balance account=%s status=%d", accountNumber, status)
		return 0, parseError(status, body)
	}

	var out balanceResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("failed to decode virtual account balance response: %w", err)
	}
	return out.Data.AvailableBalance, nil
}

type virtualAccountRequest struct {
	ExternalReference string `json:"external_reference"`
	FirstName         string `json:"first_name"`
	LastName          string `json:"last_name"`
	Phone             string `json:"phone"`
	Email             string `json:"email,omitempty"`
	BVN               string `json:"bvn"`
	DateOfBirth       string `json:"date_of_birth"`
}

type virtualAccountResponse struct {
	Data struct {
		CustomerID    string `json:"customer_id"`
		AccountNumber string `json:"account_number"`
		AccountName   string `json:"account_name"`
		BankName      string `json:"bank_name"`
	} `json:"data"`
}

// CreateVirtualAccount asks the sponsor to issue a dedicated virtual account.
// The user id is passed as external reference so a duplicate request for the
// same user returns the already-issued account.
func (c *Client) CreateVirtualAccount(ctx context.Context, req provider.VirtualAccountRequest) (*provider.VirtualAccount, error) {
	status, body, err := c.doJSON(ctx, "POST", "/api/v1/virtual-accounts", virtualAccountRequest{
		ExternalReference: req.UserID,
		FirstName:         req.FirstName,
		LastName:          req.LastName,
		Phone:             req.Phone,
		Email:             req.Email,
		BVN:               req.BVN,
		DateOfBirth:       req.DateOfBirth.Format("2006-01-02"),
	})
	if err != nil {
		return nil, provider.NewUnavailable(0, "virtual account request failed", err)
	}
	if status < 200 || status >= 300 {
		log.Printf("level=warn component=sterling_client op=create_virtual_account user_id=%s status=%d", req.UserID, status)
		return nil, parseError(status, body)
	}

	var out virtualAccountResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode virtual account response: %w", err)
	}
	if out.Data.AccountNumber == "" {
		return nil, provider.NewUnavailable(status, "virtual account response missing account number", nil)
	}
	return &provider.VirtualAccount{
		AccountNumber: out.Data.AccountNumber,
		BankName:      out.Data.BankName,
		AccountName:   out.Data.AccountName,
		CustomerID:    out.Data.CustomerID,
	}, nil
}

// VerifyWebhook checks the HMAC-SHA512 signature over the raw body against
// the x-sterling-signature header.
func (c *Client) VerifyWebhook(rawBody []byte, headers http.Header) error {
	signature := headers.Get("x-sterling-signature")
	if signature == "" {
		return errors.New("missing webhook signature header")
	}

	mac := hmac.New(sha512.New, []byte(c.WebhookSecret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return errors.New("webhook signature mismatch")
	}
	return nil
}

type bankListResponse struct {
	Data []struct {
		Name            string `json:"name"`
		CBNCode         string `json:"cbn_code"`
		InstitutionCode string `json:"institution_code"`
	} `json:"data"`
}

// staticBankCodes seeds the CBN -> NIP mapping with the major banks so name
// enquiry keeps working before the first bank-list fetch and while the list
// endpoint is down. The fetched list augments and overrides these entries.
var staticBankCodes = map[string]string{
	"044": "000014", // Access Bank
	"050": "000010", // Ecobank
	"070": "000007", // Fidelity Bank
	"011": "000016", // First Bank
	"214": "000003", // FCMB
	"058": "000013", // GTBank
	"076": "000008", // Polaris Bank
	"221": "000012", // Stanbic IBTC
	"232": "000001", // Sterling Bank
	"033": "000004", // UBA
	"032": "000018", // Union Bank
	"035": "000017", // Wema Bank
	"057": "000015", // Zenith Bank
}

// resolveBankCode maps a 3-digit CBN bank code to the 6-digit NIP institution
// code the sponsor expects. Six-digit codes pass through unchanged. The
// static seed answers immediately; the full list is fetched lazily, cached
// for a day, and served stale when a refresh fails.
func (c *Client) resolveBankCode(ctx context.Context, bankCode string) (string, error) {
	if len(bankCode) == 6 {
		return bankCode, nil
	}

	c.banksMu.Lock()
	defer c.banksMu.Unlock()

	if c.bankCodes == nil {
		c.bankCodes = make(map[string]string, len(staticBankCodes))
		for cbn, nip := range staticBankCodes {
			c.bankCodes[cbn] = nip
		}
	}

	if time.Now().After(c.banksExpiry) {
		if err := c.refreshBankList(ctx); err != nil {
			log.Printf("level=warn component=sterling_client op=bank_list msg=\"bank list refresh failed, serving cached codes\" err=%v", err)
			// back off so a dead list endpoint is not hit on every transfer
			c.banksExpiry = time.Now().Add(time.Minute)
		}
	}

	code, ok := c.bankCodes[bankCode]
	if !ok {
		return "", provider.NewRejected(http.StatusUnprocessableEntity, "unknown bank code "+bankCode)
	}
	return code, nil
}

// refreshBankList merges the sponsor's bank list into the cached mapping.
// Callers hold banksMu.
func (c *Client) refreshBankList(ctx context.Context) error {
	status, body, err := c.doJSON(ctx, "GET", "/api/v1/banks", nil)
	if err != nil {
		return provider.NewUnavailable(0, "bank list request failed", err)
	}
	if status < 200 || status >= 300 {
		return parseError(status, body)
	}

	var out bankListResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("failed to decode bank list response: %w", err)
	}
	for _, b := range out.Data {
		if b.CBNCode != "" && b.InstitutionCode != "" {
			c.bankCodes[b.CBNCode] = b.InstitutionCode
		}
	}
	c.banksExpiry = time.Now().Add(24 * time.Hour)
	log.Printf("level=info component=sterling_client op=bank_list msg=\"bank list refreshed\" count=%d", len(out.Data))
	return nil
}
