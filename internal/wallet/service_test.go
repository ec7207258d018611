package wallet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/DesignerDev23/MiiMii-sub002/internal/domain"
	"github.com/DesignerDev23/MiiMii-sub002/internal/provider"
	"github.com/DesignerDev23/MiiMii-sub002/internal/store"
)

type bankStub struct {
	vaBalance    int64
	vaBalanceErr error
}

func (b *bankStub) NameEnquiry(ctx context.Context, accountNumber, bankCode string) (string, error) {
	return "", errors.New("not implemented")
}

func (b *bankStub) Transfer(ctx context.Context, req provider.TransferRequest) (string, error) {
	return "", errors.New("not implemented")
}

func (b *bankStub) Balance(ctx context.Context) (int64, error) { return 0, nil }

func (b *bankStub) VirtualAccountBalance(ctx context.Context, accountNumber string) (int64, error) {
	if b.vaBalanceErr != nil {
		return 0, b.vaBalanceErr
	}
	return b.vaBalance, nil
}

func (b *bankStub) CreateVirtualAccount(ctx context.Context, req provider.VirtualAccountRequest) (*provider.VirtualAccount, error) {
	return nil, errors.New("not implemented")
}

func (b *bankStub) VerifyWebhook(rawBody []byte, headers http.Header) error { return nil }

func newTestService(t *testing.T, bank provider.Bank) (*Service, *store.MemoryRepository) {
	t.Helper()
	repo := store.NewMemoryRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if bank == nil {
		bank = &bankStub{}
	}
	return NewService(repo, bank, logger), repo
}

var seedPhoneCounter atomic.Uint64

func seedUserWallet(t *testing.T, repo *store.MemoryRepository, balance int64) uuid.UUID {
	t.Helper()
	userID := uuid.New()
	user := &domain.User{
		ID:       userID,
		Phone:    fmt.Sprintf("080%08d", seedPhoneCounter.Add(1)),
		IsActive: true,
	}
	wallet := &domain.Wallet{
		ID:               uuid.New(),
		UserID:           userID,
		Balance:          balance,
		AvailableBalance: balance,
		LedgerBalance:    balance,
		TotalCredits:     balance,
		IsActive:         true,
		LastResetDate:    time.Now().UTC(),
	}
	if err := repo.CreateUserWithWallet(context.Background(), user, wallet); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return userID
}

func TestCreditIncreasesBalanceAndRecordsTransaction(t *testing.T) {
	svc, repo := newTestService(t, nil)
	userID := seedUserWallet(t, repo, 100000)

	txn, err := svc.Credit(context.Background(), CreditParams{
		UserID:      userID,
		Amount:      50000,
		Category:    domain.CategoryWalletFunding,
		Description: "Inbound transfer",
	})
	if err != nil {
		t.Fatalf("credit failed: %v", err)
	}
	if txn.Status != domain.StatusCompleted {
		t.Fatalf("expected completed credit, got %s", txn.Status)
	}
	if txn.Metadata.BalanceBefore != 100000 || txn.Metadata.BalanceAfter != 150000 {
		t.Fatalf("unexpected balance metadata %+v", txn.Metadata)
	}

	w, err := repo.GetWallet(context.Background(), userID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if w.Balance != 150000 {
		t.Fatalf("expected balance 150000, got %d", w.Balance)
	}
	if w.TotalCredits != 150000 {
		t.Fatalf("expected total credits 150000, got %d", w.TotalCredits)
	}
}

func TestDebitInsufficientFunds(t *testing.T) {
	svc, repo := newTestService(t, nil)
	userID := seedUserWallet(t, repo, 10000)

	_, err := svc.Debit(context.Background(), DebitParams{
		UserID:   userID,
		Amount:   9500,
		Fee:      1000,
		Category: domain.CategoryBankTransfer,
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds (amount+fee exceeds balance), got %v", err)
	}

	w, _ := repo.GetWallet(context.Background(), userID)
	if w.Balance != 10000 {
		t.Fatalf("failed debit must not move the balance, got %d", w.Balance)
	}
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	svc, repo := newTestService(t, nil)
	userID := seedUserWallet(t, repo, 100000)

	const workers = 20
	const debit = 10000 // exactly 10 can succeed

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Debit(context.Background(), DebitParams{
				UserID:   userID,
				Amount:   debit,
				Category: domain.CategoryBankTransfer,
				Status:   domain.StatusCompleted,
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, store.ErrInsufficientFunds) {
				t.Errorf("unexpected debit error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 {
		t.Fatalf("expected exactly 10 debits to succeed, got %d", succeeded)
	}
	w, _ := repo.GetWallet(context.Background(), userID)
	if w.Balance != 0 {
		t.Fatalf("expected balance 0, got %d", w.Balance)
	}
}

func TestDebitEnforcesDailyLimit(t *testing.T) {
	svc, repo := newTestService(t, nil)
	userID := seedUserWallet(t, repo, 1000000)

	_, _, err := repo.WithWallet(context.Background(), userID, func(w *domain.Wallet) (*domain.Transaction, error) {
		w.DailyLimit = 50000
		return nil, nil
	})
	if err != nil {
		t.Fatalf("set limit: %v", err)
	}

	if _, err := svc.Debit(context.Background(), DebitParams{
		UserID:   userID,
		Amount:   40000,
		Category: domain.CategoryAirtimePurchase,
		Status:   domain.StatusCompleted,
	}); err != nil {
		t.Fatalf("first debit within limit failed: %v", err)
	}

	_, err = svc.Debit(context.Background(), DebitParams{
		UserID:   userID,
		Amount:   20000,
		Category: domain.CategoryAirtimePurchase,
	})
	if !errors.Is(err, store.ErrLimitExceeded) {
		t.Fatalf("expected limit exceeded, got %v", err)
	}
}

func TestDailyLimitResetsOnNewDay(t *testing.T) {
	svc, repo := newTestService(t, nil)
	userID := seedUserWallet(t, repo, 1000000)

	yesterday := time.Now().UTC().Add(-24 * time.Hour)
	_, _, err := repo.WithWallet(context.Background(), userID, func(w *domain.Wallet) (*domain.Transaction, error) {
		w.DailyLimit = 50000
		w.DailySpent = 50000
		w.LastResetDate = yesterday
		return nil, nil
	})
	if err != nil {
		t.Fatalf("seed limit state: %v", err)
	}

	if _, err := svc.Debit(context.Background(), DebitParams{
		UserID:   userID,
		Amount:   30000,
		Category: domain.CategoryDataPurchase,
		Status:   domain.StatusCompleted,
	}); err != nil {
		t.Fatalf("expected stale daily spend to reset, got %v", err)
	}
}

func TestFrozenAndFlaggedWalletsBlockDebits(t *testing.T) {
	svc, repo := newTestService(t, nil)
	userID := seedUserWallet(t, repo, 100000)

	if err := svc.Freeze(context.Background(), userID, "fraud review"); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	_, err := svc.Debit(context.Background(), DebitParams{
		UserID: userID, Amount: 1000, Category: domain.CategoryBankTransfer,
	})
	if !errors.Is(err, store.ErrWalletFrozen) {
		t.Fatalf("expected frozen wallet error, got %v", err)
	}

	// Inbound credits still land on a frozen wallet.
	if _, err := svc.Credit(context.Background(), CreditParams{
		UserID: userID, Amount: 5000, Category: domain.CategoryWalletFunding,
	}); err != nil {
		t.Fatalf("credit on frozen wallet should succeed: %v", err)
	}

	if err := svc.Unfreeze(context.Background(), userID); err != nil {
		t.Fatalf("unfreeze: %v", err)
	}
	if _, err := svc.Debit(context.Background(), DebitParams{
		UserID: userID, Amount: 1000, Category: domain.CategoryBankTransfer, Status: domain.StatusCompleted,
	}); err != nil {
		t.Fatalf("debit after unfreeze failed: %v", err)
	}

	reason := "ledger invariant violation"
	_, _, err = repo.WithWallet(context.Background(), userID, func(w *domain.Wallet) (*domain.Transaction, error) {
		w.FlaggedForReview = true
		w.ReviewReason = &reason
		return nil, nil
	})
	if err != nil {
		t.Fatalf("flag wallet: %v", err)
	}
	_, err = svc.Debit(context.Background(), DebitParams{
		UserID: userID, Amount: 1000, Category: domain.CategoryBankTransfer,
	})
	if !errors.Is(err, store.ErrWalletFrozen) {
		t.Fatalf("review-flagged wallet must block outbound debits, got %v", err)
	}
}

func TestTransferBetweenWallets(t *testing.T) {
	svc, repo := newTestService(t, nil)
	sender := seedUserWallet(t, repo, 100000)
	receiver := seedUserWallet(t, repo, 0)

	debitTxn, err := svc.TransferBetweenWallets(context.Background(), sender, receiver, 40000, 0, "lunch", "idem-1")
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if debitTxn.Metadata.TransferReference == "" {
		t.Fatal("expected link reference on debit leg")
	}

	sw, _ := repo.GetWallet(context.Background(), sender)
	rw, _ := repo.GetWallet(context.Background(), receiver)
	if sw.Balance != 60000 {
		t.Fatalf("expected sender balance 60000, got %d", sw.Balance)
	}
	if rw.Balance != 40000 {
		t.Fatalf("expected receiver balance 40000, got %d", rw.Balance)
	}
}

func TestTransferInsufficientFundsLeavesBothWalletsUntouched(t *testing.T) {
	svc, repo := newTestService(t, nil)
	sender := seedUserWallet(t, repo, 10000)
	receiver := seedUserWallet(t, repo, 5000)

	_, err := svc.TransferBetweenWallets(context.Background(), sender, receiver, 20000, 0, "", "idem-2")
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	sw, _ := repo.GetWallet(context.Background(), sender)
	rw, _ := repo.GetWallet(context.Background(), receiver)
	if sw.Balance != 10000 || rw.Balance != 5000 {
		t.Fatalf("failed transfer must not move balances, got %d and %d", sw.Balance, rw.Balance)
	}
}

func TestOpposingTransfersDoNotDeadlock(t *testing.T) {
	svc, repo := newTestService(t, nil)
	a := seedUserWallet(t, repo, 100000)
	b := seedUserWallet(t, repo, 100000)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			svc.TransferBetweenWallets(context.Background(), a, b, 1000, 0, "", "")
		}()
		go func() {
			defer wg.Done()
			svc.TransferBetweenWallets(context.Background(), b, a, 1000, 0, "", "")
		}()
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("opposing transfers deadlocked")
	}

	aw, _ := repo.GetWallet(context.Background(), a)
	bw, _ := repo.GetWallet(context.Background(), b)
	if aw.Balance+bw.Balance != 200000 {
		t.Fatalf("transfers must conserve total balance, got %d", aw.Balance+bw.Balance)
	}
}

func TestMaintenanceFeeMayDriveBalanceNegative(t *testing.T) {
	svc, repo := newTestService(t, nil)
	userID := seedUserWallet(t, repo, 3000)

	txn, err := svc.ApplyMaintenanceFee(context.Background(), userID, 5000, 2)
	if err != nil {
		t.Fatalf("maintenance fee failed: %v", err)
	}
	if txn.Amount != 10000 {
		t.Fatalf("expected fee amount 10000 for two months, got %d", txn.Amount)
	}
	if txn.Category != domain.CategoryMaintenanceFee {
		t.Fatalf("unexpected category %s", txn.Category)
	}

	w, _ := repo.GetWallet(context.Background(), userID)
	if w.Balance != -7000 {
		t.Fatalf("expected negative balance -7000, got %d", w.Balance)
	}
	if w.LastMaintenanceFee == nil {
		t.Fatal("expected last maintenance fee timestamp to be set")
	}
}

func TestRefundIsIdempotentPerOriginalTransaction(t *testing.T) {
	svc, repo := newTestService(t, nil)
	userID := seedUserWallet(t, repo, 100000)

	debit, err := svc.Debit(context.Background(), DebitParams{
		UserID:   userID,
		Amount:   30000,
		Fee:      500,
		Category: domain.CategoryBankTransfer,
	})
	if err != nil {
		t.Fatalf("debit: %v", err)
	}

	first, err := svc.Refund(context.Background(), debit, "provider rejected")
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if first.Amount != 30500 {
		t.Fatalf("refund must cover amount plus fee, got %d", first.Amount)
	}
	if first.ParentTransactionID == nil || *first.ParentTransactionID != debit.ID {
		t.Fatal("refund must reference the original debit")
	}

	second, err := svc.Refund(context.Background(), debit, "provider rejected")
	if err != nil {
		t.Fatalf("second refund: %v", err)
	}
	if second.ID != first.ID {
		t.Fatal("second refund call must return the existing refund")
	}

	w, _ := repo.GetWallet(context.Background(), userID)
	if w.Balance != 100000 {
		t.Fatalf("expected balance restored to 100000, got %d", w.Balance)
	}
}

func TestReconcileCorrectsDriftInPlace(t *testing.T) {
	bank := &bankStub{vaBalance: 75000}
	svc, repo := newTestService(t, bank)
	userID := seedUserWallet(t, repo, 50000)

	if err := repo.AssignVirtualAccount(context.Background(), userID, "9900112233", "Sterling Bank", "ADA OBI", "cus_1"); err != nil {
		t.Fatalf("assign virtual account: %v", err)
	}

	if err := svc.Reconcile(context.Background(), userID, "hourly sync"); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	w, _ := repo.GetWallet(context.Background(), userID)
	if w.Balance != 75000 {
		t.Fatalf("expected balance corrected to 75000, got %d", w.Balance)
	}
	if w.LastReconcileDelta != 25000 {
		t.Fatalf("expected recorded delta 25000, got %d", w.LastReconcileDelta)
	}
	if w.LastReconciledAt == nil {
		t.Fatal("expected reconciliation timestamp to be set")
	}

	txns, _ := repo.ListTransactions(context.Background(), userID, 50, 0)
	if len(txns) != 0 {
		t.Fatalf("a reconciliation correction must not create ledger rows, got %d", len(txns))
	}
}

func TestGetBalanceSyncsWithProvider(t *testing.T) {
	bank := &bankStub{vaBalance: 42000}
	svc, repo := newTestService(t, bank)
	userID := seedUserWallet(t, repo, 50000)

	if err := repo.AssignVirtualAccount(context.Background(), userID, "9900112255", "Sterling Bank", "ADA OBI", "cus_3"); err != nil {
		t.Fatalf("assign virtual account: %v", err)
	}

	w, err := svc.GetBalance(context.Background(), userID, true)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if w.Balance != 42000 {
		t.Fatalf("expected synced balance 42000, got %d", w.Balance)
	}

	// provider outage falls back to the local balance
	bank.vaBalanceErr = errors.New("gateway timeout")
	w, err = svc.GetBalance(context.Background(), userID, true)
	if err != nil {
		t.Fatalf("get balance during outage: %v", err)
	}
	if w.Balance != 42000 {
		t.Fatalf("expected local balance served, got %d", w.Balance)
	}
}

func TestReconcileWithinThresholdIsQuiet(t *testing.T) {
	bank := &bankStub{vaBalance: 50001} // 1 minor unit of drift is tolerated
	svc, repo := newTestService(t, bank)
	userID := seedUserWallet(t, repo, 50000)

	if err := repo.AssignVirtualAccount(context.Background(), userID, "9900112244", "Sterling Bank", "ADA OBI", "cus_2"); err != nil {
		t.Fatalf("assign virtual account: %v", err)
	}

	if err := svc.Reconcile(context.Background(), userID, "hourly sync"); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	w, _ := repo.GetWallet(context.Background(), userID)
	if w.Balance != 50000 {
		t.Fatalf("drift within threshold must not change the balance, got %d", w.Balance)
	}
	if w.LastReconciledAt != nil {
		t.Fatal("drift within threshold must not record a correction")
	}
}

// refundRaceRepo forces two racing refund callers past the idempotency
// pre-check before either credits, so the store-level uniqueness under the
// wallet lock is the only thing standing between them and a double credit.
type refundRaceRepo struct {
	store.Repository
	mu      sync.Mutex
	arrived int
	release chan struct{}
}

func (r *refundRaceRepo) FindByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*domain.Transaction, error) {
	if strings.HasPrefix(key, "refund:") {
		r.mu.Lock()
		r.arrived++
		if r.arrived == 2 {
			close(r.release)
		}
		r.mu.Unlock()
		<-r.release
	}
	return r.Repository.FindByIdempotencyKey(ctx, userID, key)
}

func TestConcurrentRefundsCreditOnlyOnce(t *testing.T) {
	base := store.NewMemoryRepository()
	gate := &refundRaceRepo{Repository: base, release: make(chan struct{})}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(gate, &bankStub{}, logger)
	userID := seedUserWallet(t, base, 100000)

	debit, err := svc.Debit(context.Background(), DebitParams{
		UserID:   userID,
		Amount:   30000,
		Fee:      500,
		Category: domain.CategoryBankTransfer,
		Status:   domain.StatusProcessing,
	})
	if err != nil {
		t.Fatalf("debit: %v", err)
	}

	refunds := make([]*domain.Transaction, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			refunds[i], errs[i] = svc.Refund(context.Background(), debit, "no settlement report")
		}(i)
	}
	wg.Wait()

	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			t.Fatalf("refund %d: %v", i, errs[i])
		}
		if refunds[i] == nil {
			t.Fatalf("refund %d returned nil", i)
		}
	}
	if refunds[0].ID != refunds[1].ID {
		t.Fatal("racing refunds must settle on a single credit transaction")
	}

	w, _ := base.GetWallet(context.Background(), userID)
	if w.Balance != 100000 {
		t.Fatalf("expected balance restored to 100000, got %d", w.Balance)
	}
	txns, _ := base.ListTransactions(context.Background(), userID, 50, 0)
	refundRows := 0
	for _, txn := range txns {
		if txn.Category == domain.CategoryRefund {
			refundRows++
		}
	}
	if refundRows != 1 {
		t.Fatalf("expected exactly one refund row, got %d", refundRows)
	}
}

type flakyBankStub struct {
	bankStub
	mu       sync.Mutex
	failures int
	calls    int
}

func (b *flakyBankStub) VirtualAccountBalance(ctx context.Context, accountNumber string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.calls <= b.failures {
		return 0, provider.NewUnavailable(503, "balance temporarily unavailable", nil)
	}
	return b.vaBalance, nil
}

func TestReconcileRetriesTransientBalanceFailure(t *testing.T) {
	bank := &flakyBankStub{bankStub: bankStub{vaBalance: 75000}, failures: 1}
	svc, repo := newTestService(t, bank)
	userID := seedUserWallet(t, repo, 50000)

	if err := repo.AssignVirtualAccount(context.Background(), userID, "9900112255", "Sterling Bank", "ADA OBI", "cus_3"); err != nil {
		t.Fatalf("assign virtual account: %v", err)
	}

	if err := svc.Reconcile(context.Background(), userID, "hourly sync"); err != nil {
		t.Fatalf("reconcile should retry past one transient failure: %v", err)
	}
	if bank.calls != 2 {
		t.Fatalf("expected 2 balance calls, got %d", bank.calls)
	}
	w, _ := repo.GetWallet(context.Background(), userID)
	if w.Balance != 75000 {
		t.Fatalf("expected balance corrected to 75000, got %d", w.Balance)
	}
}
