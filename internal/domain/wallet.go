/**
 * @description
 * Domain model for wallets. Monetary amounts are int64 kobo (two fractional
 * digits, single currency per deployment). The wallet balance is the running
 * sum of completed credits minus completed debits; only maintenance-fee
 * debits may drive it negative.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Wallet holds a user's ledger balance and virtual account details.
type Wallet struct {
	ID     uuid.UUID `json:"id"`
	UserID uuid.UUID `json:"user_id"`

	Balance          int64 `json:"balance"`
	AvailableBalance int64 `json:"available_balance"`
	LedgerBalance    int64 `json:"ledger_balance"`
	PreviousBalance  int64 `json:"previous_balance"`
	TotalCredits     int64 `json:"total_credits"`
	TotalDebits      int64 `json:"total_debits"`

	VirtualAccountNumber *string `json:"virtual_account_number,omitempty"`
	VirtualAccountBank   *string `json:"virtual_account_bank,omitempty"`
	VirtualAccountName   *string `json:"virtual_account_name,omitempty"`
	SponsorCustomerID    *string `json:"-"`

	DailyLimit    int64     `json:"daily_limit"`
	MonthlyLimit  int64     `json:"monthly_limit"`
	DailySpent    int64     `json:"daily_spent"`
	MonthlySpent  int64     `json:"monthly_spent"`
	LastResetDate time.Time `json:"last_reset_date"`

	IsActive     bool    `json:"is_active"`
	IsFrozen     bool    `json:"is_frozen"`
	FreezeReason *string `json:"freeze_reason,omitempty"`

	// FlaggedForReview blocks outbound activity after a suspected ledger
	// invariant violation until an operator clears it.
	FlaggedForReview bool    `json:"flagged_for_review"`
	ReviewReason     *string `json:"review_reason,omitempty"`

	LastMaintenanceFee *time.Time `json:"last_maintenance_fee,omitempty"`

	// Reconciliation adjustments are wallet metadata, not ledger rows: the
	// ledger records our movements, a correction reflects the sponsor's.
	LastReconciledAt   *time.Time `json:"last_reconciled_at,omitempty"`
	LastReconcileDelta int64      `json:"last_reconcile_delta,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasVirtualAccount reports whether the sponsor bank has issued an account.
func (w *Wallet) HasVirtualAccount() bool {
	return w.VirtualAccountNumber != nil && *w.VirtualAccountNumber != ""
}

// ResetLimitsIfStale lazily rolls the spent counters when the calendar day or
// month has moved past LastResetDate. Must be called inside the wallet lock.
func (w *Wallet) ResetLimitsIfStale(now time.Time) {
	last := w.LastResetDate
	if last.Year() != now.Year() || last.Month() != now.Month() {
		w.MonthlySpent = 0
		w.DailySpent = 0
		w.LastResetDate = now
		return
	}
	if last.YearDay() != now.YearDay() {
		w.DailySpent = 0
		w.LastResetDate = now
	}
}
