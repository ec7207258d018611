/**
 * @description
 * Wallet service: every balance movement in the system funnels through here.
 * Credits, debits, internal transfers, refunds, maintenance fees and
 * provider reconciliation all run inside the store's per-wallet lock so no
 * two movements on the same wallet ever interleave.
 *
 * The mutation functions passed to the store are pure: they inspect and
 * mutate the locked wallet snapshot and return the ledger row to persist in
 * the same commit. No remote call ever happens under a wallet lock.
 *
 * @dependencies
 * - internal/store: locked wallet access and ledger persistence.
 * - internal/provider: sponsor-bank balance reads for reconciliation.
 */
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/DesignerDev23/MiiMii-sub002/internal/domain"
	"github.com/DesignerDev23/MiiMii-sub002/internal/provider"
	"github.com/DesignerDev23/MiiMii-sub002/internal/store"
)

// DefaultReconcileThreshold is the largest tolerated absolute difference, in
// minor units, between the sponsor-reported balance and the local balance.
const DefaultReconcileThreshold = 1

// Service owns all wallet balance movements.
type Service struct {
	repo               store.Repository
	bank               provider.Bank
	logger             *slog.Logger
	retry              provider.RetryPolicy
	reconcileThreshold int64
}

// NewService creates a wallet service.
func NewService(repo store.Repository, bank provider.Bank, logger *slog.Logger) *Service {
	return &Service{
		repo:               repo,
		bank:               bank,
		logger:             logger,
		retry:              provider.DefaultRetryPolicy,
		reconcileThreshold: DefaultReconcileThreshold,
	}
}

// CreditParams describes an inbound balance movement.
type CreditParams struct {
	UserID              uuid.UUID
	Amount              int64
	Category            domain.TransactionCategory
	Description         string
	Reference           string // generated when empty
	Metadata            domain.Metadata
	ParentTransactionID *uuid.UUID
}

// Credit adds funds to a wallet and records a completed credit transaction
// in the same commit.
func (s *Service) Credit(ctx context.Context, p CreditParams) (*domain.Transaction, error) {
	if p.Amount <= 0 {
		return nil, domain.NewError(domain.KindValidation, "invalid_amount", "credit amount must be positive")
	}
	reference := p.Reference
	if reference == "" {
		reference = domain.NewReference()
	}

	_, txn, err := s.repo.WithWallet(ctx, p.UserID, func(w *domain.Wallet) (*domain.Transaction, error) {
		if !w.IsActive {
			return nil, store.ErrWalletInactive
		}
		now := time.Now().UTC()
		meta := p.Metadata
		meta.BalanceBefore = w.Balance

		w.PreviousBalance = w.Balance
		w.Balance += p.Amount
		w.AvailableBalance = w.Balance
		w.LedgerBalance = w.Balance
		w.TotalCredits += p.Amount

		meta.BalanceAfter = w.Balance
		return &domain.Transaction{
			ID:                  uuid.New(),
			Reference:           reference,
			UserID:              p.UserID,
			Type:                domain.TypeCredit,
			Category:            p.Category,
			Status:              domain.StatusCompleted,
			Amount:              p.Amount,
			TotalAmount:         p.Amount,
			Description:         p.Description,
			ParentTransactionID: p.ParentTransactionID,
			Metadata:            meta,
			CreatedAt:           now,
			CompletedAt:         &now,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("wallet credited",
		"user_id", p.UserID,
		"reference", txn.Reference,
		"category", txn.Category,
		"amount", p.Amount,
	)
	return txn, nil
}

// DebitParams describes an outbound balance movement. When ID is set the row
// replaces an earlier pending transaction with the same id; otherwise a new
// row is created.
type DebitParams struct {
	UserID      uuid.UUID
	Amount      int64
	Fee         int64
	Category    domain.TransactionCategory
	Description string
	Status      domain.TransactionStatus // defaults to processing
	ID          uuid.UUID
	Reference   string
	Metadata    domain.Metadata

	ProviderReference *string
	ProviderResponse  json.RawMessage
}

// Debit removes funds from a wallet after enforcing the wallet state, funds
// and spending-limit gates, all under the wallet lock.
func (s *Service) Debit(ctx context.Context, p DebitParams) (*domain.Transaction, error) {
	if p.Amount <= 0 {
		return nil, domain.NewError(domain.KindValidation, "invalid_amount", "debit amount must be positive")
	}
	if p.Status == "" {
		p.Status = domain.StatusProcessing
	}
	if p.Reference == "" {
		p.Reference = domain.NewReference()
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	total := p.Amount + p.Fee

	_, txn, err := s.repo.WithWallet(ctx, p.UserID, func(w *domain.Wallet) (*domain.Transaction, error) {
		if !w.IsActive {
			return nil, store.ErrWalletInactive
		}
		if w.IsFrozen || w.FlaggedForReview {
			return nil, store.ErrWalletFrozen
		}
		if w.Balance < total {
			return nil, store.ErrInsufficientFunds
		}
		w.ResetLimitsIfStale(time.Now().UTC())
		if w.DailyLimit > 0 && w.DailySpent+total > w.DailyLimit {
			return nil, store.ErrLimitExceeded
		}
		if w.MonthlyLimit > 0 && w.MonthlySpent+total > w.MonthlyLimit {
			return nil, store.ErrLimitExceeded
		}
		w.DailySpent += total
		w.MonthlySpent += total

		now := time.Now().UTC()
		meta := p.Metadata
		meta.BalanceBefore = w.Balance

		w.PreviousBalance = w.Balance
		w.Balance -= total
		w.AvailableBalance = w.Balance
		w.LedgerBalance = w.Balance
		w.TotalDebits += total

		meta.BalanceAfter = w.Balance
		txn := &domain.Transaction{
			ID:                p.ID,
			Reference:         p.Reference,
			UserID:            p.UserID,
			Type:              domain.TypeDebit,
			Category:          p.Category,
			Status:            p.Status,
			Amount:            p.Amount,
			Fee:               p.Fee,
			TotalAmount:       total,
			Description:       p.Description,
			ProviderReference: p.ProviderReference,
			ProviderResponse:  p.ProviderResponse,
			Metadata:          meta,
			CreatedAt:         now,
		}
		if txn.Status.Terminal() {
			txn.CompletedAt = &now
		}
		return txn, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("wallet debited",
		"user_id", p.UserID,
		"reference", txn.Reference,
		"category", txn.Category,
		"amount", p.Amount,
		"fee", p.Fee,
		"status", txn.Status,
	)
	return txn, nil
}

// TransferBetweenWallets moves funds between two platform wallets
// atomically: the sender debit and receiver credit land in one commit or not
// at all. Locks are taken in a canonical order so concurrent opposing
// transfers cannot deadlock.
func (s *Service) TransferBetweenWallets(ctx context.Context, fromUserID, toUserID uuid.UUID, amount, fee int64, description, idempotencyKey string) (*domain.Transaction, error) {
	if fromUserID == toUserID {
		return nil, domain.NewError(domain.KindValidation, "self_transfer", "cannot transfer to your own wallet")
	}
	if amount <= 0 {
		return nil, domain.NewError(domain.KindValidation, "invalid_amount", "transfer amount must be positive")
	}

	total := amount + fee
	linkRef := domain.NewReference()
	var debitTxn *domain.Transaction

	err := s.repo.WithWallets(ctx, fromUserID, toUserID, func(from, to *domain.Wallet) ([]*domain.Transaction, error) {
		if !from.IsActive {
			return nil, store.ErrWalletInactive
		}
		if from.IsFrozen || from.FlaggedForReview {
			return nil, store.ErrWalletFrozen
		}
		if !to.IsActive {
			return nil, store.ErrWalletInactive
		}
		if from.Balance < total {
			return nil, store.ErrInsufficientFunds
		}
		now := time.Now().UTC()
		from.ResetLimitsIfStale(now)
		if from.DailyLimit > 0 && from.DailySpent+total > from.DailyLimit {
			return nil, store.ErrLimitExceeded
		}
		if from.MonthlyLimit > 0 && from.MonthlySpent+total > from.MonthlyLimit {
			return nil, store.ErrLimitExceeded
		}
		from.DailySpent += total
		from.MonthlySpent += total

		debitMeta := domain.Metadata{
			IdempotencyKey:    idempotencyKey,
			TransferReference: linkRef,
			BalanceBefore:     from.Balance,
		}
		from.PreviousBalance = from.Balance
		from.Balance -= total
		from.AvailableBalance = from.Balance
		from.LedgerBalance = from.Balance
		from.TotalDebits += total
		debitMeta.BalanceAfter = from.Balance

		creditMeta := domain.Metadata{
			TransferReference: linkRef,
			BalanceBefore:     to.Balance,
		}
		to.PreviousBalance = to.Balance
		to.Balance += amount
		to.AvailableBalance = to.Balance
		to.LedgerBalance = to.Balance
		to.TotalCredits += amount
		creditMeta.BalanceAfter = to.Balance

		debitTxn = &domain.Transaction{
			ID:          uuid.New(),
			Reference:   domain.NewReference(),
			UserID:      fromUserID,
			Type:        domain.TypeDebit,
			Category:    domain.CategoryWalletTransfer,
			Status:      domain.StatusCompleted,
			Amount:      amount,
			Fee:         fee,
			TotalAmount: total,
			Description: description,
			Metadata:    debitMeta,
			CreatedAt:   now,
			CompletedAt: &now,
		}
		creditTxn := &domain.Transaction{
			ID:          uuid.New(),
			Reference:   domain.NewReference(),
			UserID:      toUserID,
			Type:        domain.TypeCredit,
			Category:    domain.CategoryWalletTransfer,
			Status:      domain.StatusCompleted,
			Amount:      amount,
			TotalAmount: amount,
			Description: description,
			Metadata:    creditMeta,
			CreatedAt:   now,
			CompletedAt: &now,
		}
		return []*domain.Transaction{debitTxn, creditTxn}, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("wallet transfer completed",
		"from_user_id", fromUserID,
		"to_user_id", toUserID,
		"amount", amount,
		"link_reference", linkRef,
	)
	return debitTxn, nil
}

// Refund credits back the full debited amount of a failed outbound
// transaction. Refunds are idempotent per original transaction: a second
// call for the same debit returns the existing refund. Concurrent calls are
// resolved by the store, which enforces idempotency-key uniqueness under
// the wallet lock, so the loser of the race receives the winner's credit.
func (s *Service) Refund(ctx context.Context, original *domain.Transaction, reason string) (*domain.Transaction, error) {
	if original.Type != domain.TypeDebit {
		return nil, domain.NewError(domain.KindStateConflict, "not_a_debit", "only debit transactions can be refunded")
	}

	refundKey := "refund:" + original.Reference
	if existing, err := s.repo.FindByIdempotencyKey(ctx, original.UserID, refundKey); err == nil {
		return existing, nil
	}

	parentID := original.ID
	txn, err := s.Credit(ctx, CreditParams{
		UserID:      original.UserID,
		Amount:      original.TotalAmount,
		Category:    domain.CategoryRefund,
		Description: fmt.Sprintf("Refund for %s", original.Reference),
		Metadata: domain.Metadata{
			IdempotencyKey: refundKey,
			FailureReason:  reason,
		},
		ParentTransactionID: &parentID,
	})
	if errors.Is(err, store.ErrDuplicateReference) {
		// A concurrent refund for the same debit won the wallet lock first.
		return s.repo.FindByIdempotencyKey(ctx, original.UserID, refundKey)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("transaction refunded",
		"user_id", original.UserID,
		"original_reference", original.Reference,
		"refund_reference", txn.Reference,
		"amount", original.TotalAmount,
		"reason", reason,
	)
	return txn, nil
}

// ApplyMaintenanceFee debits the periodic account fee. The debit bypasses
// funds and limit checks and may drive the balance negative; the fee is per
// month and multiplied by the number of elapsed months.
func (s *Service) ApplyMaintenanceFee(ctx context.Context, userID uuid.UUID, feePerMonth int64, months int) (*domain.Transaction, error) {
	if feePerMonth <= 0 || months <= 0 {
		return nil, nil
	}
	total := feePerMonth * int64(months)

	_, txn, err := s.repo.WithWallet(ctx, userID, func(w *domain.Wallet) (*domain.Transaction, error) {
		if !w.IsActive {
			return nil, store.ErrWalletInactive
		}
		now := time.Now().UTC()
		meta := domain.Metadata{
			FeeType:       "maintenance",
			BalanceBefore: w.Balance,
		}
		w.PreviousBalance = w.Balance
		w.Balance -= total
		w.AvailableBalance = w.Balance
		w.LedgerBalance = w.Balance
		w.TotalDebits += total
		w.LastMaintenanceFee = &now
		meta.BalanceAfter = w.Balance

		return &domain.Transaction{
			ID:          uuid.New(),
			Reference:   domain.NewReference(),
			UserID:      userID,
			Type:        domain.TypeDebit,
			Category:    domain.CategoryMaintenanceFee,
			Status:      domain.StatusCompleted,
			Amount:      total,
			TotalAmount: total,
			Description: fmt.Sprintf("Account maintenance fee (%d month(s))", months),
			Metadata:    meta,
			CreatedAt:   now,
			CompletedAt: &now,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("maintenance fee applied",
		"user_id", userID,
		"reference", txn.Reference,
		"amount", total,
		"months", months,
	)
	return txn, nil
}

// GetWallet returns the current wallet snapshot.
func (s *Service) GetWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	return s.repo.GetWallet(ctx, userID)
}

// GetBalance returns the wallet, optionally reconciling against the sponsor
// first so the caller sees the authoritative balance.
func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID, syncWithProvider bool) (*domain.Wallet, error) {
	if syncWithProvider {
		if err := s.Reconcile(ctx, userID, "balance read"); err != nil {
			s.logger.Warn("balance sync failed, serving local balance",
				"user_id", userID,
				"error", err,
			)
		}
	}
	return s.repo.GetWallet(ctx, userID)
}

// Freeze blocks all outbound activity on the wallet.
func (s *Service) Freeze(ctx context.Context, userID uuid.UUID, reason string) error {
	_, _, err := s.repo.WithWallet(ctx, userID, func(w *domain.Wallet) (*domain.Transaction, error) {
		w.IsFrozen = true
		w.FreezeReason = &reason
		return nil, nil
	})
	if err != nil {
		return err
	}
	s.logger.Warn("wallet frozen", "user_id", userID, "reason", reason)
	return nil
}

// Unfreeze lifts a freeze.
func (s *Service) Unfreeze(ctx context.Context, userID uuid.UUID) error {
	_, _, err := s.repo.WithWallet(ctx, userID, func(w *domain.Wallet) (*domain.Transaction, error) {
		w.IsFrozen = false
		w.FreezeReason = nil
		return nil, nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("wallet unfrozen", "user_id", userID)
	return nil
}

// ClearReviewFlag removes an operator review hold.
func (s *Service) ClearReviewFlag(ctx context.Context, userID uuid.UUID) error {
	_, _, err := s.repo.WithWallet(ctx, userID, func(w *domain.Wallet) (*domain.Transaction, error) {
		w.FlaggedForReview = false
		w.ReviewReason = nil
		return nil, nil
	})
	return err
}

// Reconcile diffs the local balance against the sponsor-reported virtual
// account balance and corrects the wallet in place when they differ by more
// than the tolerated threshold. The correction is wallet metadata, not a
// ledger row: the ledger records our movements, reconciliation reflects the
// sponsor's reality. The provider call happens before the wallet lock is
// taken; the drift is re-checked under the lock.
func (s *Service) Reconcile(ctx context.Context, userID uuid.UUID, reason string) error {
	snapshot, err := s.repo.GetWallet(ctx, userID)
	if err != nil {
		return err
	}
	if !snapshot.HasVirtualAccount() {
		return nil
	}

	var providerBalance int64
	err = s.retry.Do(ctx, userID.String(), "virtual_account_balance", func(ctx context.Context) error {
		var berr error
		providerBalance, berr = s.bank.VirtualAccountBalance(ctx, *snapshot.VirtualAccountNumber)
		return berr
	})
	if err != nil {
		s.logger.Warn("reconcile skipped, provider balance unavailable",
			"user_id", userID,
			"error", err,
		)
		return err
	}

	var delta int64
	_, _, err = s.repo.WithWallet(ctx, userID, func(w *domain.Wallet) (*domain.Transaction, error) {
		delta = providerBalance - w.Balance
		if abs(delta) <= s.reconcileThreshold {
			delta = 0
			return nil, nil
		}
		now := time.Now().UTC()
		w.PreviousBalance = w.Balance
		w.Balance = providerBalance
		w.AvailableBalance = providerBalance
		w.LedgerBalance = providerBalance
		w.LastReconciledAt = &now
		w.LastReconcileDelta = delta
		return nil, nil
	})
	if err != nil {
		return err
	}

	if delta != 0 {
		s.logger.Warn("wallet balance corrected from sponsor",
			"user_id", userID,
			"provider_balance", providerBalance,
			"delta", delta,
			"reason", reason,
		)
	}
	return nil
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
