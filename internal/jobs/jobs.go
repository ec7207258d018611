/**
 * @description
 * Scheduled job implementations: the pending-transfer sweep, monthly account
 * maintenance fees, virtual account issuance retries, and the hourly balance
 * sync against the sponsor bank.
 *
 * Each job is a plain method with its own context so a wedged provider call
 * cannot stall the cron goroutine forever.
 */
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/DesignerDev23/MiiMii-sub002/internal/domain"
	"github.com/DesignerDev23/MiiMii-sub002/internal/store"
)

// TransferSettler settles stale outbound transfers. Implemented by the
// orchestrator.
type TransferSettler interface {
	FailAndRefundTransfer(ctx context.Context, txn *domain.Transaction, reason string) error
}

// WalletMaintainer is the wallet surface the jobs touch.
type WalletMaintainer interface {
	ApplyMaintenanceFee(ctx context.Context, userID uuid.UUID, feePerMonth int64, months int) (*domain.Transaction, error)
	Reconcile(ctx context.Context, userID uuid.UUID, reason string) error
}

// AccountIssuer retries virtual account creation. Implemented by the
// onboarding service.
type AccountIssuer interface {
	EnsureVirtualAccount(ctx context.Context, userID uuid.UUID) error
}

// Config carries the job tunables.
type Config struct {
	// PendingSweepAge is how long a bank transfer may sit non-terminal
	// before the sweep refunds it.
	PendingSweepAge time.Duration
	// MaintenanceFee is the monthly account fee in minor units. Zero
	// disables the fee job's debits.
	MaintenanceFee int64
	// JobTimeout bounds a single job run.
	JobTimeout time.Duration
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo    store.Repository
	wallets WalletMaintainer
	settler TransferSettler
	issuer  AccountIssuer
	logger  *slog.Logger
	config  Config
}

// NewJobs creates a new Jobs runner.
func NewJobs(repo store.Repository, wallets WalletMaintainer, settler TransferSettler, issuer AccountIssuer, logger *slog.Logger, cfg Config) *Jobs {
	if cfg.PendingSweepAge <= 0 {
		cfg.PendingSweepAge = 30 * time.Minute
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	return &Jobs{
		repo:    repo,
		wallets: wallets,
		settler: settler,
		issuer:  issuer,
		logger:  logger,
		config:  cfg,
	}
}

func (j *Jobs) jobContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), j.config.JobTimeout)
}

// recordRun stores the job's last successful run in the kv store so an
// operator can see at a glance whether the cron loop is alive.
func (j *Jobs) recordRun(ctx context.Context, name string) {
	if err := j.repo.SetKV(ctx, "job:"+name+":last_run", time.Now().UTC().Format(time.RFC3339)); err != nil {
		j.logger.Warn("failed to record job cursor", "job", name, "error", err)
	}
}

// SweepPendingTransfers refunds bank transfers stuck in a non-terminal
// status past the sweep age. A transfer the sponsor settled in the meantime
// is protected by the refund idempotency key and the terminal-status guard
// in the settlement path.
func (j *Jobs) SweepPendingTransfers() {
	j.logger.Info("starting pending transfer sweep")
	ctx, cancel := j.jobContext()
	defer cancel()

	cutoff := time.Now().UTC().Add(-j.config.PendingSweepAge)
	stale, err := j.repo.FindStaleOutbound(ctx, domain.CategoryBankTransfer, cutoff)
	if err != nil {
		j.logger.Error("failed to list stale transfers", "error", err)
		return
	}
	if len(stale) == 0 {
		j.logger.Info("no stale transfers to sweep")
		return
	}

	j.logger.Info("found stale transfers", "count", len(stale))
	for i := range stale {
		txn := &stale[i]
		if err := j.settler.FailAndRefundTransfer(ctx, txn, "no settlement report within the sweep window"); err != nil {
			j.logger.Error("failed to sweep transfer",
				"reference", txn.Reference,
				"user_id", txn.UserID,
				"error", err,
			)
			continue
		}
		j.logger.Info("swept stale transfer", "reference", txn.Reference, "amount", txn.TotalAmount)
	}
	j.recordRun(ctx, "pending_sweep")
	j.logger.Info("pending transfer sweep finished")
}

// ApplyMaintenanceFees charges each active wallet the monthly account fee
// for every whole month elapsed since the last charge. A wallet that was
// never charged starts counting from its creation.
func (j *Jobs) ApplyMaintenanceFees() {
	if j.config.MaintenanceFee <= 0 {
		return
	}
	j.logger.Info("starting maintenance fee job")
	ctx, cancel := j.jobContext()
	defer cancel()

	ids, err := j.repo.ListActiveUserIDs(ctx)
	if err != nil {
		j.logger.Error("failed to list active users", "error", err)
		return
	}

	now := time.Now().UTC()
	charged := 0
	for _, userID := range ids {
		w, err := j.repo.GetWallet(ctx, userID)
		if err != nil {
			j.logger.Error("failed to load wallet", "user_id", userID, "error", err)
			continue
		}
		since := w.CreatedAt
		if w.LastMaintenanceFee != nil && w.LastMaintenanceFee.After(since) {
			since = *w.LastMaintenanceFee
		}
		months := monthsBetween(since, now)
		if months <= 0 {
			continue
		}
		if _, err := j.wallets.ApplyMaintenanceFee(ctx, userID, j.config.MaintenanceFee, months); err != nil {
			j.logger.Error("failed to apply maintenance fee",
				"user_id", userID,
				"months", months,
				"error", err,
			)
			continue
		}
		charged++
	}
	j.recordRun(ctx, "maintenance_fee")
	j.logger.Info("maintenance fee job finished", "wallets_charged", charged)
}

// RetryVirtualAccounts asks the sponsor again for every wallet still missing
// a virtual account. Issuance failures during onboarding park the user at
// this step; the retry unblocks them without any user action.
func (j *Jobs) RetryVirtualAccounts() {
	j.logger.Info("starting virtual account retry job")
	ctx, cancel := j.jobContext()
	defer cancel()

	wallets, err := j.repo.ListWalletsMissingVirtualAccount(ctx)
	if err != nil {
		j.logger.Error("failed to list wallets missing accounts", "error", err)
		return
	}
	if len(wallets) == 0 {
		return
	}

	j.logger.Info("retrying virtual account issuance", "count", len(wallets))
	for _, w := range wallets {
		if err := j.issuer.EnsureVirtualAccount(ctx, w.UserID); err != nil {
			j.logger.Warn("virtual account issuance still failing", "user_id", w.UserID, "error", err)
			continue
		}
		j.logger.Info("virtual account issued on retry", "user_id", w.UserID)
	}
	j.recordRun(ctx, "va_retry")
	j.logger.Info("virtual account retry job finished")
}

// SyncBalances reconciles every wallet that has a virtual account against
// the sponsor-reported balance.
func (j *Jobs) SyncBalances() {
	j.logger.Info("starting balance sync job")
	ctx, cancel := j.jobContext()
	defer cancel()

	wallets, err := j.repo.ListWalletsWithVirtualAccount(ctx)
	if err != nil {
		j.logger.Error("failed to list wallets for sync", "error", err)
		return
	}

	synced := 0
	for _, w := range wallets {
		if err := j.wallets.Reconcile(ctx, w.UserID, "scheduled_sync"); err != nil {
			j.logger.Warn("balance sync failed for wallet", "user_id", w.UserID, "error", err)
			continue
		}
		synced++
	}
	j.recordRun(ctx, "balance_sync")
	j.logger.Info("balance sync job finished", "wallets_synced", synced, "total", len(wallets))
}

// monthsBetween counts whole calendar months from a to b.
func monthsBetween(a, b time.Time) int {
	if !b.After(a) {
		return 0
	}
	months := (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
	if b.Day() < a.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}
