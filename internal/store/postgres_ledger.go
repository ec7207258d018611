/**
 * @description
 * PostgreSQL implementation of the ledger half of the Repository: wallets,
 * the row-locked wallet mutation primitives, and transactions.
 *
 * Every balance movement runs inside a single database transaction that
 * locks the wallet row with SELECT ... FOR UPDATE, applies the pure mutation
 * function, writes the wallet row and the transaction row, and commits. The
 * mutation function never suspends, so the lock is held only for the
 * round-trips of one transaction.
 */
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/DesignerDev23/MiiMii-sub002/internal/domain"
)

const walletColumns = `
	id, user_id, balance, available_balance, ledger_balance, previous_balance,
	total_credits, total_debits, virtual_account_number, virtual_account_bank,
	virtual_account_name, sponsor_customer_id, daily_limit, monthly_limit,
	daily_spent, monthly_spent, last_reset_date, is_active, is_frozen,
	freeze_reason, flagged_for_review, review_reason, last_maintenance_fee,
	last_reconciled_at, last_reconcile_delta, created_at, updated_at`

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	var w domain.Wallet
	err := row.Scan(
		&w.ID, &w.UserID, &w.Balance, &w.AvailableBalance, &w.LedgerBalance, &w.PreviousBalance,
		&w.TotalCredits, &w.TotalDebits, &w.VirtualAccountNumber, &w.VirtualAccountBank,
		&w.VirtualAccountName, &w.SponsorCustomerID, &w.DailyLimit, &w.MonthlyLimit,
		&w.DailySpent, &w.MonthlySpent, &w.LastResetDate, &w.IsActive, &w.IsFrozen,
		&w.FreezeReason, &w.FlaggedForReview, &w.ReviewReason, &w.LastMaintenanceFee,
		&w.LastReconciledAt, &w.LastReconcileDelta, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

func (r *PostgresRepository) GetWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	return scanWallet(r.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID))
}

func lockWallet(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*domain.Wallet, error) {
	return scanWallet(tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 FOR UPDATE`, userID))
}

func writeWallet(ctx context.Context, tx pgx.Tx, w *domain.Wallet) error {
	tag, err := tx.Exec(ctx, `
		UPDATE wallets SET
			balance = $2, available_balance = $3, ledger_balance = $4, previous_balance = $5,
			total_credits = $6, total_debits = $7, daily_limit = $8, monthly_limit = $9,
			daily_spent = $10, monthly_spent = $11, last_reset_date = $12, is_active = $13,
			is_frozen = $14, freeze_reason = $15, flagged_for_review = $16, review_reason = $17,
			last_maintenance_fee = $18, last_reconciled_at = $19,
			last_reconcile_delta = $20, updated_at = NOW()
		WHERE user_id = $1
	`,
		w.UserID, w.Balance, w.AvailableBalance, w.LedgerBalance, w.PreviousBalance,
		w.TotalCredits, w.TotalDebits, w.DailyLimit, w.MonthlyLimit,
		w.DailySpent, w.MonthlySpent, w.LastResetDate, w.IsActive,
		w.IsFrozen, w.FreezeReason, w.FlaggedForReview, w.ReviewReason,
		w.LastMaintenanceFee, w.LastReconciledAt, w.LastReconcileDelta,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

func upsertTransaction(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	metadata, err := json.Marshal(t.Metadata)
	if err != nil {
		return err
	}
	// Idempotency keys are unique per user. The wallet row is already locked
	// here, so concurrent writers for the same wallet serialize on this
	// check and only one commit can carry a given key.
	if t.Metadata.IdempotencyKey != "" {
		var existingID uuid.UUID
		err := tx.QueryRow(ctx, `
			SELECT id FROM transactions
			WHERE user_id = $1 AND metadata->>'idempotency_key' = $2 AND id <> $3
			LIMIT 1
		`, t.UserID, t.Metadata.IdempotencyKey, t.ID).Scan(&existingID)
		if err == nil {
			return ErrDuplicateReference
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO transactions (
			id, reference, user_id, type, category, status, amount, fee, total_amount,
			description, provider_reference, provider_response, parent_transaction_id,
			metadata, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			provider_reference = COALESCE(EXCLUDED.provider_reference, transactions.provider_reference),
			provider_response = COALESCE(EXCLUDED.provider_response, transactions.provider_response),
			metadata = EXCLUDED.metadata,
			completed_at = COALESCE(EXCLUDED.completed_at, transactions.completed_at),
			updated_at = NOW()
	`,
		t.ID, t.Reference, t.UserID, t.Type, t.Category, t.Status, t.Amount, t.Fee, t.TotalAmount,
		t.Description, t.ProviderReference, t.ProviderResponse, t.ParentTransactionID,
		metadata, t.CompletedAt,
	)
	return translateUnique(err)
}

// WithWallet locks one wallet row, applies fn, and persists the wallet plus
// the returned transaction atomically.
func (r *PostgresRepository) WithWallet(ctx context.Context, userID uuid.UUID, fn WalletApplyFunc) (*domain.Wallet, *domain.Transaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	w, err := lockWallet(ctx, tx, userID)
	if err != nil {
		return nil, nil, err
	}

	txn, err := fn(w)
	if err != nil {
		return nil, nil, err
	}

	if err := writeWallet(ctx, tx, w); err != nil {
		return nil, nil, err
	}
	if txn != nil {
		if err := upsertTransaction(ctx, tx, txn); err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return w, txn, nil
}

// WithWallets locks both wallet rows in lexicographic user-id order to keep
// concurrent cross-wallet transfers deadlock free.
func (r *PostgresRepository) WithWallets(ctx context.Context, fromUserID, toUserID uuid.UUID, fn func(from, to *domain.Wallet) ([]*domain.Transaction, error)) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	first, second := fromUserID, toUserID
	if second.String() < first.String() {
		first, second = second, first
	}

	w1, err := lockWallet(ctx, tx, first)
	if err != nil {
		return err
	}
	w2, err := lockWallet(ctx, tx, second)
	if err != nil {
		return err
	}

	from, to := w1, w2
	if from.UserID != fromUserID {
		from, to = w2, w1
	}

	txns, err := fn(from, to)
	if err != nil {
		return err
	}

	if err := writeWallet(ctx, tx, from); err != nil {
		return err
	}
	if err := writeWallet(ctx, tx, to); err != nil {
		return err
	}
	for _, t := range txns {
		if err := upsertTransaction(ctx, tx, t); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *PostgresRepository) AssignVirtualAccount(ctx context.Context, userID uuid.UUID, accountNumber, bankName, accountName, customerID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE wallets
		SET virtual_account_number = $2, virtual_account_bank = $3,
		    virtual_account_name = $4, sponsor_customer_id = $5, updated_at = NOW()
		WHERE user_id = $1 AND virtual_account_number IS NULL
	`, userID, accountNumber, bankName, accountName, customerID)
	if err != nil {
		return translateUnique(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

func (r *PostgresRepository) listWallets(ctx context.Context, query string) ([]*domain.Wallet, error) {
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) ListWalletsMissingVirtualAccount(ctx context.Context) ([]*domain.Wallet, error) {
	return r.listWallets(ctx, `SELECT `+walletColumns+` FROM wallets WHERE virtual_account_number IS NULL AND is_active = true`)
}

func (r *PostgresRepository) ListWalletsWithVirtualAccount(ctx context.Context) ([]*domain.Wallet, error) {
	return r.listWallets(ctx, `SELECT `+walletColumns+` FROM wallets WHERE virtual_account_number IS NOT NULL AND is_active = true`)
}

const transactionColumns = `
	id, reference, user_id, type, category, status, amount, fee, total_amount,
	COALESCE(description, ''), provider_reference, provider_response,
	parent_transaction_id, metadata, created_at, updated_at, completed_at`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	var metadata []byte
	err := row.Scan(
		&t.ID, &t.Reference, &t.UserID, &t.Type, &t.Category, &t.Status, &t.Amount, &t.Fee,
		&t.TotalAmount, &t.Description, &t.ProviderReference, &t.ProviderResponse,
		&t.ParentTransactionID, &metadata, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

func (r *PostgresRepository) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	metadata, err := json.Marshal(t.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO transactions (
			id, reference, user_id, type, category, status, amount, fee, total_amount,
			description, provider_reference, provider_response, parent_transaction_id,
			metadata, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		t.ID, t.Reference, t.UserID, t.Type, t.Category, t.Status, t.Amount, t.Fee, t.TotalAmount,
		t.Description, t.ProviderReference, t.ProviderResponse, t.ParentTransactionID,
		metadata, t.CompletedAt,
	)
	return translateUnique(err)
}

// UpdateTransaction rewrites the mutable columns of a non-terminal row.
// Terminal rows only ever receive metadata appends.
func (r *PostgresRepository) UpdateTransaction(ctx context.Context, t *domain.Transaction) error {
	metadata, err := json.Marshal(t.Metadata)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE transactions SET
			status = $2,
			provider_reference = COALESCE($3, provider_reference),
			provider_response = COALESCE($4, provider_response),
			metadata = $5,
			completed_at = COALESCE($6, completed_at),
			updated_at = NOW()
		WHERE id = $1
	`, t.ID, t.Status, t.ProviderReference, t.ProviderResponse, metadata, t.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// FinalizeTransaction writes the terminal form of t only while the stored
// row is still pending or processing. A zero row count with the row present
// means another actor settled it first.
func (r *PostgresRepository) FinalizeTransaction(ctx context.Context, t *domain.Transaction) error {
	metadata, err := json.Marshal(t.Metadata)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE transactions SET
			status = $2,
			provider_reference = COALESCE($3, provider_reference),
			provider_response = COALESCE($4, provider_response),
			metadata = $5,
			completed_at = COALESCE($6, completed_at),
			updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')
	`, t.ID, t.Status, t.ProviderReference, t.ProviderResponse, metadata, t.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, gerr := r.GetTransaction(ctx, t.ID); gerr != nil {
			return gerr
		}
		return ErrAlreadyFinal
	}
	return nil
}

func (r *PostgresRepository) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return scanTransaction(r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
}

func (r *PostgresRepository) GetTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	return scanTransaction(r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE reference = $1`, reference))
}

func (r *PostgresRepository) FindByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*domain.Transaction, error) {
	return scanTransaction(r.db.QueryRow(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE user_id = $1 AND metadata->>'idempotency_key' = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, key))
}

func (r *PostgresRepository) FindByProviderReference(ctx context.Context, providerReference string) (*domain.Transaction, error) {
	return scanTransaction(r.db.QueryRow(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE provider_reference = $1 OR reference = $1
		LIMIT 1
	`, providerReference))
}

func (r *PostgresRepository) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) FindStaleOutbound(ctx context.Context, category domain.TransactionCategory, olderThan time.Time) ([]domain.Transaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE type = 'debit'
		  AND category = $1
		  AND status IN ('pending', 'processing')
		  AND created_at < $2
		ORDER BY created_at ASC
	`, category, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
