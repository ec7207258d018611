package sterlingclient

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DesignerDev23/MiiMii-sub002/internal/provider"
)

func jsonDecode(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	var tokenCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"test-token","expires_in":3600,"token_type":"Bearer"}`))
	})
	mux.HandleFunc("/", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	client := NewClient(srv.URL, "client-id", "client-secret", "whsec", 5*time.Second)
	return srv, client
}

func TestTokenIsCachedAcrossCalls(t *testing.T) {
	var tokenCalls, apiCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
	})
	mux.HandleFunc("/api/v1/accounts/balance", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&apiCalls, 1)
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected authorization header %q", got)
		}
		w.Write([]byte(`{"data":{"available_balance":150000,"ledger_balance":150000}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(srv.URL, "id", "secret", "whsec", 5*time.Second)
	for i := 0; i < 3; i++ {
		bal, err := client.Balance(context.Background())
		if err != nil {
			t.Fatalf("balance call %d failed: %v", i, err)
		}
		if bal != 150000 {
			t.Fatalf("expected balance 150000, got %d", bal)
		}
	}

	if n := atomic.LoadInt32(&tokenCalls); n != 1 {
		t.Fatalf("expected a single token refresh, got %d", n)
	}
	if n := atomic.LoadInt32(&apiCalls); n != 3 {
		t.Fatalf("expected 3 balance calls, got %d", n)
	}
}

func TestTransferReturnsProviderReference(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/transfers/nip" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"data":{"transfer_reference":"STL-REF-1","status":"processing"}}`))
	})

	ref, err := client.Transfer(context.Background(), provider.TransferRequest{
		Amount:        500000,
		AccountNumber: "0123456789",
		BankCode:      "000001",
		Reference:     "TXN-abc",
	})
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if ref != "STL-REF-1" {
		t.Fatalf("expected provider reference STL-REF-1, got %q", ref)
	}
}

func TestTransferRejectedOn4xx(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"status":"error","message":"invalid account","code":"NIP_07"}`))
	})

	_, err := client.Transfer(context.Background(), provider.TransferRequest{
		Amount:        100,
		AccountNumber: "0000000000",
		BankCode:      "000001",
		Reference:     "TXN-bad",
	})
	if !provider.IsRejected(err) {
		t.Fatalf("expected rejected provider error, got %v", err)
	}
	if provider.Retryable(err) {
		t.Fatal("4xx rejection must never be retryable")
	}
}

func TestTransferUndeterminedOn5xx(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.Transfer(context.Background(), provider.TransferRequest{
		Amount:        100,
		AccountNumber: "0123456789",
		BankCode:      "000001",
		Reference:     "TXN-timeout",
	})
	if !provider.IsUndetermined(err) {
		t.Fatalf("expected undetermined provider error on 5xx after submit, got %v", err)
	}
	if provider.Retryable(err) {
		t.Fatal("undetermined transfer outcome must never be retryable")
	}
}

func TestBalance5xxIsRetryable(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.Balance(context.Background())
	if err == nil {
		t.Fatal("expected error on 5xx")
	}
	if !provider.Retryable(err) {
		t.Fatalf("expected retryable error on idempotent read failure, got %v", err)
	}
}

func TestNameEnquiryResolvesThreeDigitBankCode(t *testing.T) {
	var gotInstitution string
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/banks":
			w.Write([]byte(`{"data":[{"name":"GTBank","cbn_code":"058","institution_code":"000013"}]}`))
		case "/api/v1/transfers/name-enquiry":
			var req nameEnquiryRequest
			if err := jsonDecode(r, &req); err != nil {
				t.Fatalf("decode enquiry request: %v", err)
			}
			gotInstitution = req.InstitutionCode
			w.Write([]byte(`{"data":{"account_name":"ADA OBI","account_number":"0123456789","session_id":"s1"}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	name, err := client.NameEnquiry(context.Background(), "0123456789", "058")
	if err != nil {
		t.Fatalf("name enquiry failed: %v", err)
	}
	if name != "ADA OBI" {
		t.Fatalf("expected account name ADA OBI, got %q", name)
	}
	if gotInstitution != "000013" {
		t.Fatalf("expected CBN code 058 mapped to 000013, got %q", gotInstitution)
	}
}

func TestNameEnquiryUnknownBankCodeRejected(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	})

	_, err := client.NameEnquiry(context.Background(), "0123456789", "999")
	if !provider.IsRejected(err) {
		t.Fatalf("expected rejection for unknown bank code, got %v", err)
	}
}

func TestNameEnquiryUsesSeededCodesWhenBankListDown(t *testing.T) {
	var gotInstitution string
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/banks":
			http.Error(w, "upstream unavailable", http.StatusInternalServerError)
		case "/api/v1/transfers/name-enquiry":
			var req nameEnquiryRequest
			if err := jsonDecode(r, &req); err != nil {
				t.Fatalf("decode enquiry request: %v", err)
			}
			gotInstitution = req.InstitutionCode
			w.Write([]byte(`{"data":{"account_name":"ADA OBI","account_number":"0123456789","session_id":"s1"}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	name, err := client.NameEnquiry(context.Background(), "0123456789", "058")
	if err != nil {
		t.Fatalf("name enquiry failed: %v", err)
	}
	if name != "ADA OBI" {
		t.Fatalf("expected account name ADA OBI, got %q", name)
	}
	if gotInstitution != "000013" {
		t.Fatalf("expected seeded mapping for 058, got %q", gotInstitution)
	}
}

func TestVerifyWebhook(t *testing.T) {
	client := NewClient("http://unused", "id", "secret", "whsec", time.Second)
	body := []byte(`{"event":"payment.received"}`)

	mac := hmac.New(sha512.New, []byte("whsec"))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	headers := http.Header{}
	headers.Set("x-sterling-signature", sig)
	if err := client.VerifyWebhook(body, headers); err != nil {
		t.Fatalf("expected valid signature to verify: %v", err)
	}

	headers.Set("x-sterling-signature", "deadbeef")
	if err := client.VerifyWebhook(body, headers); err == nil {
		t.Fatal("expected signature mismatch to fail")
	}

	if err := client.VerifyWebhook(body, http.Header{}); err == nil {
		t.Fatal("expected missing signature header to fail")
	}
}

func TestCreateVirtualAccount(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/virtual-accounts" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"data":{"customer_id":"cus_1","account_number":"9900112233","account_name":"ADA OBI","bank_name":"Sterling Bank"}}`))
	})

	va, err := client.CreateVirtualAccount(context.Background(), provider.VirtualAccountRequest{
		UserID:      "user-1",
		FirstName:   "Ada",
		LastName:    "Obi",
		Phone:       "08012345678",
		BVN:         "12345678901",
		DateOfBirth: time.Date(1995, 4, 12, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create virtual account failed: %v", err)
	}
	if va.AccountNumber != "9900112233" || va.CustomerID != "cus_1" {
		t.Fatalf("unexpected virtual account %+v", va)
	}
}
