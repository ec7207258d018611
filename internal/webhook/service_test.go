package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/DesignerDev23/MiiMii-sub002/internal/domain"
	"github.com/DesignerDev23/MiiMii-sub002/internal/onboarding"
	"github.com/DesignerDev23/MiiMii-sub002/internal/orchestrator"
	"github.com/DesignerDev23/MiiMii-sub002/internal/pricing"
	"github.com/DesignerDev23/MiiMii-sub002/internal/provider"
	"github.com/DesignerDev23/MiiMii-sub002/internal/store"
	"github.com/DesignerDev23/MiiMii-sub002/internal/wallet"
)

type bankStub struct {
	transferErr error
	verifyErr   error
}

func (b *bankStub) NameEnquiry(ctx context.Context, accountNumber, bankCode string) (string, error) {
	return "ADA OBI", nil
}

func (b *bankStub) Transfer(ctx context.Context, req provider.TransferRequest) (string, error) {
	if b.transferErr != nil {
		return "", b.transferErr
	}
	return "STL-1", nil
}

func (b *bankStub) Balance(ctx context.Context) (int64, error) { return 0, nil }

func (b *bankStub) VirtualAccountBalance(ctx context.Context, accountNumber string) (int64, error) {
	return 0, nil
}

func (b *bankStub) CreateVirtualAccount(ctx context.Context, req provider.VirtualAccountRequest) (*provider.VirtualAccount, error) {
	return nil, errors.New("not implemented")
}

func (b *bankStub) VerifyWebhook(rawBody []byte, headers http.Header) error { return b.verifyErr }

type vasStub struct{}

func (vasStub) Balance(ctx context.Context) (int64, error) { return 0, nil }
func (vasStub) PurchaseAirtime(ctx context.Context, req provider.VASRequest) (*provider.VASResult, error) {
	return nil, errors.New("not implemented")
}
func (vasStub) PurchaseData(ctx context.Context, req provider.VASRequest) (*provider.VASResult, error) {
	return nil, errors.New("not implemented")
}
func (vasStub) PurchaseCable(ctx context.Context, req provider.VASRequest) (*provider.VASResult, error) {
	return nil, errors.New("not implemented")
}
func (vasStub) PurchaseElectricity(ctx context.Context, req provider.VASRequest) (*provider.VASResult, error) {
	return nil, errors.New("not implemented")
}
func (vasStub) ChargedOnSuccess() bool { return true }

type publisherStub struct {
	credited   []domain.WalletCreditedEvent
	reconciles []domain.ReconcileWalletEvent
	txnEvents  []domain.TransactionEvent
}

func (p *publisherStub) PublishWalletCredited(ctx context.Context, event domain.WalletCreditedEvent) error {
	p.credited = append(p.credited, event)
	return nil
}

func (p *publisherStub) PublishReconcile(ctx context.Context, event domain.ReconcileWalletEvent) error {
	p.reconciles = append(p.reconciles, event)
	return nil
}

func (p *publisherStub) PublishTransactionEvent(ctx context.Context, event domain.TransactionEvent) error {
	p.txnEvents = append(p.txnEvents, event)
	return nil
}

const testPIN = "4321"

type testEnv struct {
	svc    *Service
	repo   *store.MemoryRepository
	bank   *bankStub
	events *publisherStub
	orch   *orchestrator.Service
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	repo := store.NewMemoryRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bank := &bankStub{}
	events := &publisherStub{}
	wallets := wallet.NewService(repo, bank, logger)
	prices := pricing.NewService(repo, nil, logger)
	orch := orchestrator.NewService(repo, wallets, bank, vasStub{}, prices, events, logger, orchestrator.Config{
		BankTransferFee:   25,
		MinTransferAmount: 100,
	})
	svc := NewService(repo, wallets, orch, events, logger, cfg)
	return &testEnv{svc: svc, repo: repo, bank: bank, events: events, orch: orch}
}

func (e *testEnv) seedUser(t *testing.T, balance int64) (uuid.UUID, string) {
	t.Helper()
	hash, err := onboarding.HashPIN(testPIN)
	if err != nil {
		t.Fatalf("hash pin: %v", err)
	}
	userID := uuid.New()
	user := &domain.User{
		ID:        userID,
		Phone:     "0801234" + userID.String()[:4],
		FirstName: "Ada",
		LastName:  "Obi",
		KYCStatus: domain.KYCVerified,
		PINHash:   hash,
		IsActive:  true,
	}
	w := &domain.Wallet{
		ID:               uuid.New(),
		UserID:           userID,
		Balance:          balance,
		AvailableBalance: balance,
		LedgerBalance:    balance,
		TotalCredits:     balance,
		IsActive:         true,
		LastResetDate:    time.Now().UTC(),
	}
	if err := e.repo.CreateUserWithWallet(context.Background(), user, w); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	acct := "99" + userID.String()[:8]
	if err := e.repo.AssignVirtualAccount(context.Background(), userID, acct, "Sterling Bank", "ADA OBI", "cus_"+userID.String()[:8]); err != nil {
		t.Fatalf("assign va: %v", err)
	}
	return userID, acct
}

func TestInboundCreditFundsWallet(t *testing.T) {
	env := newTestEnv(t, Config{})
	userID, acct := env.seedUser(t, 0)

	err := env.svc.HandleInboundCredit(context.Background(), &domain.InboundCredit{
		Source:            "sterling",
		ProviderReference: "REF-X",
		AccountNumber:     acct,
		GrossAmount:       50000,
		SenderName:        "CHIDI EZE",
		SenderBank:        "GTBank",
	})
	if err != nil {
		t.Fatalf("handle credit: %v", err)
	}

	w, _ := env.repo.GetWallet(context.Background(), userID)
	if w.Balance != 50000 {
		t.Fatalf("expected balance 50000, got %d", w.Balance)
	}
	if len(env.events.credited) != 1 || env.events.credited[0].NewBalance != 50000 {
		t.Fatalf("expected one credited event with balance 50000, got %+v", env.events.credited)
	}
	if len(env.events.reconciles) != 1 {
		t.Fatalf("expected a reconcile event, got %d", len(env.events.reconciles))
	}
}

func TestDuplicateCreditLandsOnce(t *testing.T) {
	env := newTestEnv(t, Config{})
	userID, acct := env.seedUser(t, 0)

	credit := &domain.InboundCredit{
		Source:            "sterling",
		ProviderReference: "REF-X",
		AccountNumber:     acct,
		GrossAmount:       50000,
	}
	for i := 0; i < 3; i++ {
		if err := env.svc.HandleInboundCredit(context.Background(), credit); err != nil {
			t.Fatalf("delivery %d: %v", i+1, err)
		}
	}

	w, _ := env.repo.GetWallet(context.Background(), userID)
	if w.Balance != 50000 {
		t.Fatalf("duplicate deliveries must credit once, got %d", w.Balance)
	}
	txns, _ := env.repo.ListTransactions(context.Background(), userID, 10, 0)
	if len(txns) != 1 {
		t.Fatalf("expected a single funding row, got %d", len(txns))
	}
	if len(env.events.credited) != 1 {
		t.Fatalf("expected a single credited event, got %d", len(env.events.credited))
	}
}

func TestInboundFeeDeductedFromGross(t *testing.T) {
	env := newTestEnv(t, Config{InboundFee: 5000})
	userID, acct := env.seedUser(t, 0)

	err := env.svc.HandleInboundCredit(context.Background(), &domain.InboundCredit{
		Source:            "sterling",
		ProviderReference: "REF-FEE",
		AccountNumber:     acct,
		GrossAmount:       50000,
	})
	if err != nil {
		t.Fatalf("handle credit: %v", err)
	}

	w, _ := env.repo.GetWallet(context.Background(), userID)
	if w.Balance != 45000 {
		t.Fatalf("expected net 45000 after fee, got %d", w.Balance)
	}
}

func TestCreditForUnknownAccountAcknowledged(t *testing.T) {
	env := newTestEnv(t, Config{})

	err := env.svc.HandleInboundCredit(context.Background(), &domain.InboundCredit{
		Source:            "sterling",
		ProviderReference: "REF-ORPHAN",
		AccountNumber:     "0000000000",
		GrossAmount:       50000,
	})
	if err != nil {
		t.Fatalf("unknown account must acknowledge, got %v", err)
	}
	if len(env.events.credited) != 0 {
		t.Fatal("no credited event may fire for an unmapped account")
	}
}

func TestTransferStatusSuccessCompletesProcessingTransfer(t *testing.T) {
	env := newTestEnv(t, Config{})
	userID, _ := env.seedUser(t, 10000)
	env.bank.transferErr = provider.NewUndetermined("timeout after send", errors.New("deadline"))

	txn, err := env.orch.BankTransfer(context.Background(), orchestrator.BankTransferInput{
		UserID:        userID,
		PIN:           testPIN,
		Amount:        3000,
		AccountNumber: "0123456789",
		BankCode:      "058",
	})
	if domain.ErrKind(err) != domain.KindProviderUndetermined {
		t.Fatalf("expected undetermined setup, got %v", err)
	}

	err = env.svc.HandleTransferStatus(context.Background(), &domain.TransferStatus{
		Source:            "sterling",
		ProviderReference: "STL-LATE",
		PlatformReference: txn.Reference,
		Successful:        true,
	})
	if err != nil {
		t.Fatalf("handle status: %v", err)
	}

	got, _ := env.repo.GetTransaction(context.Background(), txn.ID)
	if got.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.ProviderReference == nil || *got.ProviderReference != "STL-LATE" {
		t.Fatal("late provider reference must be recorded")
	}

	w, _ := env.repo.GetWallet(context.Background(), userID)
	if w.Balance != 6975 {
		t.Fatalf("completion must not refund, balance %d", w.Balance)
	}
}

func TestTransferStatusFailureRefunds(t *testing.T) {
	env := newTestEnv(t, Config{})
	userID, _ := env.seedUser(t, 10000)
	env.bank.transferErr = provider.NewUndetermined("timeout after send", errors.New("deadline"))

	txn, _ := env.orch.BankTransfer(context.Background(), orchestrator.BankTransferInput{
		UserID:        userID,
		PIN:           testPIN,
		Amount:        3000,
		AccountNumber: "0123456789",
		BankCode:      "058",
	})

	err := env.svc.HandleTransferStatus(context.Background(), &domain.TransferStatus{
		Source:            "sterling",
		PlatformReference: txn.Reference,
		Successful:        false,
		Reason:            "beneficiary bank unavailable",
	})
	if err != nil {
		t.Fatalf("handle status: %v", err)
	}

	got, _ := env.repo.GetTransaction(context.Background(), txn.ID)
	if got.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}

	w, _ := env.repo.GetWallet(context.Background(), userID)
	if w.Balance != 10000 {
		t.Fatalf("expected full refund to 10000, got %d", w.Balance)
	}
}

func TestTransferStatusNeverReopensTerminal(t *testing.T) {
	env := newTestEnv(t, Config{})
	userID, _ := env.seedUser(t, 10000)

	txn, err := env.orch.BankTransfer(context.Background(), orchestrator.BankTransferInput{
		UserID:        userID,
		PIN:           testPIN,
		Amount:        3000,
		AccountNumber: "0123456789",
		BankCode:      "058",
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	// a late contradictory failure report must not refund a completed transfer
	err = env.svc.HandleTransferStatus(context.Background(), &domain.TransferStatus{
		Source:            "sterling",
		PlatformReference: txn.Reference,
		Successful:        false,
		Reason:            "late contradiction",
	})
	if err != nil {
		t.Fatalf("handle status: %v", err)
	}

	got, _ := env.repo.GetTransaction(context.Background(), txn.ID)
	if got.Status != domain.StatusCompleted {
		t.Fatalf("terminal status must stand, got %s", got.Status)
	}
	w, _ := env.repo.GetWallet(context.Background(), userID)
	if w.Balance != 6975 {
		t.Fatalf("no refund may land, balance %d", w.Balance)
	}
}

func TestHandlerRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.bank.verifyErr = errors.New("signature mismatch")
	handler := NewHandler(env.svc, env.bank, "sterling")

	body, _ := json.Marshal(map[string]interface{}{
		"event": "account.credited",
		"data":  map[string]interface{}{"reference": "REF-X", "amount": 50000},
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/sterling", bytes.NewReader(body)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandlerRoutesCreditEvent(t *testing.T) {
	env := newTestEnv(t, Config{})
	userID, acct := env.seedUser(t, 0)
	handler := NewHandler(env.svc, env.bank, "sterling")

	body, _ := json.Marshal(map[string]interface{}{
		"event": "account.credited",
		"data": map[string]interface{}{
			"reference":      "REF-HTTP",
			"account_number": acct,
			"amount":         25000,
			"sender_name":    "CHIDI EZE",
		},
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/sterling", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	w, _ := env.repo.GetWallet(context.Background(), userID)
	if w.Balance != 25000 {
		t.Fatalf("expected balance 25000, got %d", w.Balance)
	}
}

func TestHandlerAcknowledgesUnknownEvent(t *testing.T) {
	env := newTestEnv(t, Config{})
	handler := NewHandler(env.svc, env.bank, "sterling")

	body, _ := json.Marshal(map[string]interface{}{"event": "customer.updated", "data": map[string]interface{}{}})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/sterling", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("unknown events must be acknowledged, got %d", rec.Code)
	}
}
