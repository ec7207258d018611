/**
 * @description
 * This file defines the Repository interface for the wallet engine's data
 * access layer, along with the sentinel errors shared by every
 * implementation. Two implementations exist: PostgresRepository (production)
 * and MemoryRepository (tests and local development).
 *
 * The per-wallet locking discipline lives here: WithWallet and WithWallets
 * run the supplied function while the affected wallet rows are exclusively
 * locked, and persist the wallet mutation together with the returned
 * transaction row atomically. The function must not block or perform remote
 * calls.
 */
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/DesignerDev23/MiiMii-sub002/internal/domain"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrBeneficiaryNotFound = errors.New("beneficiary not found")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrWalletInactive      = errors.New("wallet inactive")
	ErrWalletFrozen        = errors.New("wallet frozen")
	ErrLimitExceeded       = errors.New("spending limit exceeded")
	ErrDuplicateReference  = errors.New("duplicate reference")
	ErrPINNotSet           = errors.New("transaction pin not set")
	ErrAlreadyFinal        = errors.New("transaction already in a terminal status")
)

// WalletApplyFunc mutates a locked wallet and returns the transaction row to
// persist in the same storage transaction, or nil for a wallet-only change.
// The returned transaction is upserted by ID so a pending row created earlier
// can be moved forward in the same commit.
type WalletApplyFunc func(w *domain.Wallet) (*domain.Transaction, error)

// Repository is the durable store for users, wallets, transactions,
// beneficiaries, idempotency records and the kv table.
type Repository interface {
	// Users. CreateUserWithWallet persists both rows atomically.
	CreateUserWithWallet(ctx context.Context, user *domain.User, wallet *domain.Wallet) error
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetUserByPhone(ctx context.Context, phone string) (*domain.User, error)
	FindUserByVirtualAccount(ctx context.Context, accountNumber string) (*domain.User, error)
	FindUserBySponsorCustomerID(ctx context.Context, customerID string) (*domain.User, error)
	UpdateUser(ctx context.Context, user *domain.User) error
	ListActiveUserIDs(ctx context.Context) ([]uuid.UUID, error)

	// Onboarding. AdvanceOnboardingStep is a guarded, monotonic update: it
	// returns false without modifying anything when the stored step is
	// already at or past the requested one.
	AdvanceOnboardingStep(ctx context.Context, userID uuid.UUID, step domain.OnboardingStep) (bool, error)

	// PIN security. RecordFailedPINAttempt atomically increments the failure
	// counter and applies the lockout once maxAttempts is reached.
	SetPIN(ctx context.Context, userID uuid.UUID, pinHash string) error
	RecordFailedPINAttempt(ctx context.Context, userID uuid.UUID, maxAttempts int, lockout time.Duration) (*domain.User, error)
	ResetPINFailures(ctx context.Context, userID uuid.UUID) error

	// Wallets. A transaction returned from the apply function that carries a
	// metadata idempotency key is unique per user: persisting a second row
	// with the same key fails the whole commit with ErrDuplicateReference.
	// The check runs under the wallet lock, so concurrent writers cannot
	// both pass it.
	GetWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
	WithWallet(ctx context.Context, userID uuid.UUID, fn WalletApplyFunc) (*domain.Wallet, *domain.Transaction, error)
	// WithWallets locks both wallets in canonical order (lexicographic by
	// user id) and persists every returned transaction atomically.
	WithWallets(ctx context.Context, fromUserID, toUserID uuid.UUID, fn func(from, to *domain.Wallet) ([]*domain.Transaction, error)) error
	AssignVirtualAccount(ctx context.Context, userID uuid.UUID, accountNumber, bankName, accountName, customerID string) error
	ListWalletsMissingVirtualAccount(ctx context.Context) ([]*domain.Wallet, error)
	ListWalletsWithVirtualAccount(ctx context.Context) ([]*domain.Wallet, error)

	// Transactions. FinalizeTransaction persists the terminal form of a row
	// only while the stored row is still in flight; it returns
	// ErrAlreadyFinal when another actor settled it first, so a late
	// settlement report or an overlapping sweep can never rewrite a
	// terminal status.
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	UpdateTransaction(ctx context.Context, tx *domain.Transaction) error
	FinalizeTransaction(ctx context.Context, tx *domain.Transaction) error
	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	GetTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error)
	FindByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*domain.Transaction, error)
	FindByProviderReference(ctx context.Context, providerReference string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Transaction, error)
	// FindStaleOutbound returns non-terminal debits of the given category
	// created before the cutoff, for the pending-transaction sweep.
	FindStaleOutbound(ctx context.Context, category domain.TransactionCategory, olderThan time.Time) ([]domain.Transaction, error)

	// Beneficiaries. UpsertBeneficiary merges on the per-user uniqueness key
	// ((account number, bank code) or phone) and accumulates usage counters.
	UpsertBeneficiary(ctx context.Context, b *domain.Beneficiary) (*domain.Beneficiary, error)
	ListBeneficiaries(ctx context.Context, userID uuid.UUID) ([]domain.Beneficiary, error)
	GetBeneficiary(ctx context.Context, id, userID uuid.UUID) (*domain.Beneficiary, error)
	UpdateBeneficiary(ctx context.Context, b *domain.Beneficiary) error
	DeleteBeneficiary(ctx context.Context, id, userID uuid.UUID) error

	// Idempotency records for inbound webhooks, keyed by (source, provider
	// reference). Returns false when the pair was already recorded.
	InsertIdempotencyRecord(ctx context.Context, source, providerReference, outcome string) (bool, error)

	// kv_store: pricing overrides and job cursors.
	GetKV(ctx context.Context, key string) (string, bool, error)
	SetKV(ctx context.Context, key, value string) error
}
