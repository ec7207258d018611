package vasclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DesignerDev23/MiiMii-sub002/internal/provider"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-key", 5*time.Second)
}

func TestPurchaseAirtimeSuccess(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/airtime" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("unexpected api key header %q", got)
		}
		var req purchaseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Amount != 50000 || req.Network != "MTN" {
			t.Errorf("unexpected request %+v", req)
		}
		w.Write([]byte(`{"data":{"reference":"VAS-1","message":"airtime delivered","status":"success"}}`))
	})

	res, err := client.PurchaseAirtime(context.Background(), provider.VASRequest{
		Phone:     "08012345678",
		Network:   "MTN",
		Amount:    50000,
		Reference: "TXN-air",
	})
	if err != nil {
		t.Fatalf("purchase failed: %v", err)
	}
	if res.ProviderReference != "VAS-1" {
		t.Fatalf("expected provider reference VAS-1, got %q", res.ProviderReference)
	}
}

func TestPurchaseRejectedOn4xx(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":"error","message":"invalid plan"}`))
	})

	_, err := client.PurchaseData(context.Background(), provider.VASRequest{
		Phone:     "08012345678",
		Network:   "GLO",
		PlanID:    "nonexistent",
		Amount:    100000,
		Reference: "TXN-data",
	})
	if !provider.IsRejected(err) {
		t.Fatalf("expected rejected provider error, got %v", err)
	}
}

func TestPurchaseUndeterminedOn5xx(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.PurchaseCable(context.Background(), provider.VASRequest{
		Network:   "DSTV",
		PlanID:    "compact",
		Meter:     "7012345678",
		Amount:    1250000,
		Reference: "TXN-cable",
	})
	if !provider.IsUndetermined(err) {
		t.Fatalf("expected undetermined provider error, got %v", err)
	}
	if provider.Retryable(err) {
		t.Fatal("undetermined purchase outcome must never be retryable")
	}
}

func TestPurchaseDeclaredFailedInBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"reference":"VAS-2","message":"meter not found","status":"failed"}}`))
	})

	_, err := client.PurchaseElectricity(context.Background(), provider.VASRequest{
		Network:   "IKEDC",
		Meter:     "0000",
		Amount:    500000,
		Reference: "TXN-elec",
	})
	if !provider.IsRejected(err) {
		t.Fatalf("expected rejection when body declares failure, got %v", err)
	}
}

func TestBalance(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/balance" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"data":{"balance":9800000}}`))
	})

	bal, err := client.Balance(context.Background())
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if bal != 9800000 {
		t.Fatalf("expected balance 9800000, got %d", bal)
	}
}

func TestChargedOnSuccess(t *testing.T) {
	client := NewClient("http://unused", "k", time.Second)
	if !client.ChargedOnSuccess() {
		t.Fatal("reseller bills on success only")
	}
}
