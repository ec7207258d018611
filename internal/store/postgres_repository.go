/**
 * @description
 * PostgreSQL implementation of the Repository interface: users, onboarding,
 * PIN security, beneficiaries, idempotency records and the kv table. The
 * ledger half (wallets + transactions) lives in postgres_ledger.go.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 */
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DesignerDev23/MiiMii-sub002/internal/domain"
)

// PostgresRepository is the production Repository backed by a pgx pool.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `
	id, phone, email, first_name, COALESCE(middle_name, ''), last_name,
	date_of_birth, COALESCE(gender, ''), COALESCE(address, ''),
	bvn, bvn_verified, kyc_status, onboarding_step,
	COALESCE(pin_hash, ''), pin_failed_attempts, pin_locked_until,
	is_active, is_banned, created_at, updated_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID, &u.Phone, &u.Email, &u.FirstName, &u.MiddleName, &u.LastName,
		&u.DateOfBirth, &u.Gender, &u.Address,
		&u.BVN, &u.BVNVerified, &u.KYCStatus, &u.OnboardingStep,
		&u.PINHash, &u.PINFailedAttempts, &u.PINLockedUntil,
		&u.IsActive, &u.IsBanned, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// CreateUserWithWallet inserts the user and their wallet in one transaction.
func (r *PostgresRepository) CreateUserWithWallet(ctx context.Context, user *domain.User, wallet *domain.Wallet) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO users (
			id, phone, email, first_name, middle_name, last_name,
			date_of_birth, gender, address, bvn, bvn_verified, kyc_status,
			onboarding_step, pin_hash, pin_failed_attempts, pin_locked_until,
			is_active, is_banned
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`,
		user.ID, user.Phone, user.Email, user.FirstName, user.MiddleName, user.LastName,
		user.DateOfBirth, user.Gender, user.Address, user.BVN, user.BVNVerified, user.KYCStatus,
		user.OnboardingStep, user.PINHash, user.PINFailedAttempts, user.PINLockedUntil,
		user.IsActive, user.IsBanned,
	)
	if err != nil {
		return translateUnique(err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO wallets (
			id, user_id, balance, available_balance, ledger_balance, previous_balance,
			total_credits, total_debits, daily_limit, monthly_limit, daily_spent,
			monthly_spent, last_reset_date, is_active, is_frozen, flagged_for_review
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		wallet.ID, wallet.UserID, wallet.Balance, wallet.AvailableBalance, wallet.LedgerBalance,
		wallet.PreviousBalance, wallet.TotalCredits, wallet.TotalDebits, wallet.DailyLimit,
		wallet.MonthlyLimit, wallet.DailySpent, wallet.MonthlySpent, wallet.LastResetDate,
		wallet.IsActive, wallet.IsFrozen, wallet.FlaggedForReview,
	)
	if err != nil {
		return translateUnique(err)
	}

	return tx.Commit(ctx)
}

func (r *PostgresRepository) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *PostgresRepository) GetUserByPhone(ctx context.Context, phone string) (*domain.User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE phone = $1`, phone))
}

func (r *PostgresRepository) FindUserByVirtualAccount(ctx context.Context, accountNumber string) (*domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = (SELECT user_id FROM wallets WHERE virtual_account_number = $1)
	`
	return scanUser(r.db.QueryRow(ctx, query, accountNumber))
}

func (r *PostgresRepository) FindUserBySponsorCustomerID(ctx context.Context, customerID string) (*domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = (SELECT user_id FROM wallets WHERE sponsor_customer_id = $1)
	`
	return scanUser(r.db.QueryRow(ctx, query, customerID))
}

func (r *PostgresRepository) UpdateUser(ctx context.Context, user *domain.User) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE users SET
			phone = $2, email = $3, first_name = $4, middle_name = $5, last_name = $6,
			date_of_birth = $7, gender = $8, address = $9, bvn = $10, bvn_verified = $11,
			kyc_status = $12, is_active = $13, is_banned = $14, updated_at = NOW()
		WHERE id = $1
	`,
		user.ID, user.Phone, user.Email, user.FirstName, user.MiddleName, user.LastName,
		user.DateOfBirth, user.Gender, user.Address, user.BVN, user.BVNVerified,
		user.KYCStatus, user.IsActive, user.IsBanned,
	)
	if err != nil {
		return translateUnique(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *PostgresRepository) ListActiveUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM users WHERE is_active = true AND is_banned = false`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AdvanceOnboardingStep moves a user's step forward, never backward. The
// WHERE clause carries the monotonic guard so concurrent callers cannot
// regress a user.
func (r *PostgresRepository) AdvanceOnboardingStep(ctx context.Context, userID uuid.UUID, step domain.OnboardingStep) (bool, error) {
	idx := step.Index()
	if idx < 0 {
		return false, errors.New("unknown onboarding step")
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE users
		SET onboarding_step = $2, updated_at = NOW()
		WHERE id = $1
		  AND CASE onboarding_step
			WHEN 'initial' THEN 0
			WHEN 'profile_setup' THEN 1
			WHEN 'kyc_submission' THEN 2
			WHEN 'virtual_account_creation' THEN 3
			WHEN 'pin_setup' THEN 4
			WHEN 'completed' THEN 5
		  END < $3
	`, userID, step, idx)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) SetPIN(ctx context.Context, userID uuid.UUID, pinHash string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE users
		SET pin_hash = $2, pin_failed_attempts = 0, pin_locked_until = NULL, updated_at = NOW()
		WHERE id = $1
	`, userID, pinHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// RecordFailedPINAttempt atomically increments the failure counter and locks
// the PIN once maxAttempts is reached. An expired lock resets the counter.
func (r *PostgresRepository) RecordFailedPINAttempt(ctx context.Context, userID uuid.UUID, maxAttempts int, lockout time.Duration) (*domain.User, error) {
	query := `
		UPDATE users
		SET
			pin_failed_attempts = CASE
				WHEN pin_locked_until IS NOT NULL AND pin_locked_until <= NOW() THEN 1
				ELSE pin_failed_attempts + 1
			END,
			pin_locked_until = CASE
				WHEN (CASE
					WHEN pin_locked_until IS NOT NULL AND pin_locked_until <= NOW() THEN 1
					ELSE pin_failed_attempts + 1
				END) >= $2 THEN NOW() + ($3 * INTERVAL '1 second')
				ELSE NULL
			END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns + `
	`
	return scanUser(r.db.QueryRow(ctx, query, userID, maxAttempts, int(lockout.Seconds())))
}

func (r *PostgresRepository) ResetPINFailures(ctx context.Context, userID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE users
		SET pin_failed_attempts = 0, pin_locked_until = NULL, updated_at = NOW()
		WHERE id = $1
	`, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

const beneficiaryColumns = `
	id, user_id, type, COALESCE(account_number, ''), COALESCE(bank_code, ''),
	COALESCE(bank_name, ''), COALESCE(account_name, ''), COALESCE(phone, ''),
	COALESCE(nickname, ''), COALESCE(category, ''), total_transactions,
	total_amount, last_used_at, is_active, created_at, updated_at`

func scanBeneficiary(row pgx.Row) (*domain.Beneficiary, error) {
	var b domain.Beneficiary
	err := row.Scan(
		&b.ID, &b.UserID, &b.Type, &b.AccountNumber, &b.BankCode,
		&b.BankName, &b.AccountName, &b.Phone,
		&b.Nickname, &b.Category, &b.TotalTransactions,
		&b.TotalAmount, &b.LastUsedAt, &b.IsActive, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBeneficiaryNotFound
		}
		return nil, err
	}
	return &b, nil
}

// UpsertBeneficiary merges on the per-user uniqueness key and accumulates the
// usage counters carried on the incoming record.
func (r *PostgresRepository) UpsertBeneficiary(ctx context.Context, b *domain.Beneficiary) (*domain.Beneficiary, error) {
	query := `
		INSERT INTO beneficiaries (
			id, user_id, type, account_number, bank_code, bank_name, account_name,
			phone, nickname, category, total_transactions, total_amount, last_used_at, is_active
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, true)
		ON CONFLICT (user_id, type, account_number, bank_code, phone) WHERE is_active
		DO UPDATE SET
			account_name = EXCLUDED.account_name,
			bank_name = EXCLUDED.bank_name,
			total_transactions = beneficiaries.total_transactions + EXCLUDED.total_transactions,
			total_amount = beneficiaries.total_amount + EXCLUDED.total_amount,
			last_used_at = COALESCE(EXCLUDED.last_used_at, beneficiaries.last_used_at),
			updated_at = NOW()
		RETURNING ` + beneficiaryColumns + `
	`
	return scanBeneficiary(r.db.QueryRow(ctx, query,
		b.ID, b.UserID, b.Type, b.AccountNumber, b.BankCode, b.BankName, b.AccountName,
		b.Phone, b.Nickname, b.Category, b.TotalTransactions, b.TotalAmount, b.LastUsedAt,
	))
}

func (r *PostgresRepository) ListBeneficiaries(ctx context.Context, userID uuid.UUID) ([]domain.Beneficiary, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+beneficiaryColumns+`
		FROM beneficiaries
		WHERE user_id = $1 AND is_active = true
		ORDER BY last_used_at DESC NULLS LAST, created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Beneficiary
	for rows.Next() {
		b, err := scanBeneficiary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) GetBeneficiary(ctx context.Context, id, userID uuid.UUID) (*domain.Beneficiary, error) {
	return scanBeneficiary(r.db.QueryRow(ctx, `
		SELECT `+beneficiaryColumns+`
		FROM beneficiaries
		WHERE id = $1 AND user_id = $2 AND is_active = true
	`, id, userID))
}

func (r *PostgresRepository) UpdateBeneficiary(ctx context.Context, b *domain.Beneficiary) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE beneficiaries
		SET nickname = $3, category = $4, updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND is_active = true
	`, b.ID, b.UserID, b.Nickname, b.Category)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBeneficiaryNotFound
	}
	return nil
}

func (r *PostgresRepository) DeleteBeneficiary(ctx context.Context, id, userID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE beneficiaries
		SET is_active = false, updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND is_active = true
	`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBeneficiaryNotFound
	}
	return nil
}

// InsertIdempotencyRecord records a webhook delivery. A conflict on
// (source, provider_reference) means the delivery is a duplicate.
func (r *PostgresRepository) InsertIdempotencyRecord(ctx context.Context, source, providerReference, outcome string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO idempotency_records (source, provider_reference, outcome, first_seen_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (source, provider_reference) DO NOTHING
	`, source, providerReference, outcome)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) GetKV(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRow(ctx, `SELECT value FROM kv_store WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (r *PostgresRepository) SetKV(ctx context.Context, key, value string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO kv_store (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, key, value)
	return err
}

// translateUnique maps Postgres unique violations onto the shared sentinel.
func translateUnique(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateReference
	}
	return err
}
