/**
 * @description
 * Transaction orchestrator: owns the end-to-end flow of every outbound
 * operation (bank transfer, airtime, data, utility, cable, wallet-to-wallet
 * transfer). Each category is a small state machine over a shared skeleton:
 * validate -> pin check -> transact gate -> provider pre-checks -> debit ->
 * provider call -> finalize. The ordering of debit versus provider call is
 * category specific because provider failure semantics differ: the sponsor
 * bank charges on initiation, VAS resellers charge on success.
 *
 * Once a local debit has committed, the flow continues on a context detached
 * from the caller so a disconnect can never strand a debited transaction.
 *
 * @dependencies
 * - internal/wallet: balance movements under the per-wallet lock.
 * - internal/provider: adapter contracts, error classification, retry policy.
 * - internal/pricing: VAS selling-price resolution.
 */
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/DesignerDev23/MiiMii-sub002/internal/domain"
	"github.com/DesignerDev23/MiiMii-sub002/internal/onboarding"
	"github.com/DesignerDev23/MiiMii-sub002/internal/pricing"
	"github.com/DesignerDev23/MiiMii-sub002/internal/provider"
	"github.com/DesignerDev23/MiiMii-sub002/internal/store"
	"github.com/DesignerDev23/MiiMii-sub002/internal/wallet"
)

// Publisher is the subset of the event producer the orchestrator needs.
type Publisher interface {
	PublishTransactionEvent(ctx context.Context, event domain.TransactionEvent) error
}

// Config carries the orchestrator tunables.
type Config struct {
	PINMaxAttempts    int
	PINLockout        time.Duration
	BankTransferFee   int64
	MinTransferAmount int64
	NarrationLimit    int
	// ProviderMaxRetries caps attempts per remote call; zero keeps the
	// platform default of provider.DefaultRetryPolicy.
	ProviderMaxRetries int
}

// Service coordinates outbound transactions across the wallet service and
// the provider adapters.
type Service struct {
	repo      store.Repository
	wallets   *wallet.Service
	bank      provider.Bank
	vas       provider.VAS
	pricing   *pricing.Service
	publisher Publisher
	logger    *slog.Logger
	retry     provider.RetryPolicy
	cfg       Config
}

// NewService creates the orchestrator. publisher may be nil in tests.
func NewService(
	repo store.Repository,
	wallets *wallet.Service,
	bank provider.Bank,
	vas provider.VAS,
	pricingSvc *pricing.Service,
	publisher Publisher,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if cfg.PINMaxAttempts <= 0 {
		cfg.PINMaxAttempts = 3
	}
	if cfg.PINLockout <= 0 {
		cfg.PINLockout = 15 * time.Minute
	}
	if cfg.NarrationLimit <= 0 {
		cfg.NarrationLimit = 80
	}
	retry := provider.DefaultRetryPolicy
	if cfg.ProviderMaxRetries > 0 {
		retry.MaxAttempts = cfg.ProviderMaxRetries
	}
	return &Service{
		repo:      repo,
		wallets:   wallets,
		bank:      bank,
		vas:       vas,
		pricing:   pricingSvc,
		publisher: publisher,
		logger:    logger,
		retry:     retry,
		cfg:       cfg,
	}
}

// gate loads the user and wallet, rejects anyone who cannot transact, and
// verifies the transaction PIN with lockout bookkeeping.
func (s *Service) gate(ctx context.Context, userID uuid.UUID, pin string) (*domain.User, *domain.Wallet, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	w, err := s.repo.GetWallet(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if err := onboarding.CanTransact(user, w); err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	if user.PINLockedUntil != nil && user.PINLockedUntil.After(now) {
		return nil, nil, domain.NewError(domain.KindAuth, "pin_locked", "too many failed PIN attempts, try again later")
	}

	if !onboarding.CheckPIN(user.PINHash, pin) {
		updated, rerr := s.repo.RecordFailedPINAttempt(ctx, userID, s.cfg.PINMaxAttempts, s.cfg.PINLockout)
		if rerr != nil {
			return nil, nil, rerr
		}
		if updated.PINLockedUntil != nil && updated.PINLockedUntil.After(now) {
			s.logger.Warn("pin locked after repeated failures", "user_id", userID)
			return nil, nil, domain.NewError(domain.KindAuth, "pin_locked", "too many failed PIN attempts, try again later")
		}
		return nil, nil, domain.NewError(domain.KindAuth, "pin_invalid", "incorrect transaction PIN")
	}

	if user.PINFailedAttempts > 0 {
		if err := s.repo.ResetPINFailures(ctx, userID); err != nil {
			s.logger.Warn("failed to reset pin failure counter", "user_id", userID, "error", err)
		}
	}
	return user, w, nil
}

// findExisting implements caller-side idempotency: a client reference that
// matches a previous transaction with the same amount and category returns
// that transaction verbatim.
func (s *Service) findExisting(ctx context.Context, userID uuid.UUID, clientRef string, amount int64, category domain.TransactionCategory) (*domain.Transaction, error) {
	if clientRef == "" {
		return nil, nil
	}
	existing, err := s.repo.FindByIdempotencyKey(ctx, userID, clientRef)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if existing.Amount != amount || existing.Category != category {
		return nil, domain.NewError(domain.KindDuplicateIdempotent, "reference_reused", "client reference was already used with different parameters")
	}
	return existing, nil
}

// GetTransaction returns a transaction by platform reference.
func (s *Service) GetTransaction(ctx context.Context, reference string) (*domain.Transaction, error) {
	return s.repo.GetTransactionByReference(ctx, reference)
}

// ListTransactions returns a user's transaction history, newest first.
func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Transaction, error) {
	return s.repo.ListTransactions(ctx, userID, limit, offset)
}

func (s *Service) publishOutcome(ctx context.Context, txn *domain.Transaction) {
	if s.publisher == nil {
		return
	}
	event := domain.TransactionEvent{
		UserID:      txn.UserID,
		Reference:   txn.Reference,
		Category:    txn.Category,
		Status:      txn.Status,
		Amount:      txn.Amount,
		Fee:         txn.Fee,
		TotalAmount: txn.TotalAmount,
		Recipient:   txn.Metadata.Recipient,
		Timestamp:   time.Now().UTC(),
	}
	if err := s.publisher.PublishTransactionEvent(ctx, event); err != nil {
		s.logger.Warn("transaction event publish failed",
			"reference", txn.Reference,
			"error", err,
		)
	}
}

// markFailed moves an in-flight transaction to failed with a reason. Used
// when no refund is owed: before any money moved, or for charge-on-success
// purchases the wallet was never debited for.
func (s *Service) markFailed(ctx context.Context, txn *domain.Transaction, reason string) {
	now := time.Now().UTC()
	txn.Status = domain.StatusFailed
	txn.CompletedAt = &now
	txn.Metadata.FailureReason = reason
	if err := s.repo.FinalizeTransaction(ctx, txn); err != nil && !errors.Is(err, store.ErrAlreadyFinal) {
		s.logger.Error("failed to mark transaction failed",
			"reference", txn.Reference,
			"reason", reason,
			"error", err,
		)
	}
}

// flagWalletForReview blocks outbound activity after a suspected ledger
// inconsistency until an operator clears it.
func (s *Service) flagWalletForReview(ctx context.Context, userID uuid.UUID, reason string) {
	_, _, err := s.repo.WithWallet(ctx, userID, func(w *domain.Wallet) (*domain.Transaction, error) {
		w.FlaggedForReview = true
		w.ReviewReason = &reason
		return nil, nil
	})
	if err != nil {
		s.logger.Error("failed to flag wallet for review", "user_id", userID, "error", err)
		return
	}
	s.logger.Error("wallet flagged for manual review", "user_id", userID, "reason", reason)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
