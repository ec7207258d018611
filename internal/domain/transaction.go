/**
 * @description
 * Domain model for transactions, the sole source of ledger truth. A row is
 * immutable once it reaches a terminal status; only metadata may be appended.
 * A refund is a separate credit transaction whose ParentTransactionID points
 * at the failed debit.
 */
package domain

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TransactionType is the ledger direction of a transaction.
type TransactionType string

const (
	TypeCredit TransactionType = "credit"
	TypeDebit  TransactionType = "debit"
)

// TransactionCategory names the business operation behind a transaction.
type TransactionCategory string

const (
	CategoryWalletFunding   TransactionCategory = "wallet_funding"
	CategoryWalletTransfer  TransactionCategory = "wallet_transfer"
	CategoryBankTransfer    TransactionCategory = "bank_transfer"
	CategoryAirtimePurchase TransactionCategory = "airtime_purchase"
	CategoryDataPurchase    TransactionCategory = "data_purchase"
	CategoryUtilityPayment  TransactionCategory = "utility_payment"
	CategoryCablePayment    TransactionCategory = "cable_payment"
	CategoryMaintenanceFee  TransactionCategory = "maintenance_fee"
	CategoryRefund          TransactionCategory = "refund"
)

// TransactionStatus follows pending -> processing -> {completed, failed}.
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusProcessing TransactionStatus = "processing"
	StatusCompleted  TransactionStatus = "completed"
	StatusFailed     TransactionStatus = "failed"
)

// Terminal reports whether the status is final.
func (s TransactionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Recipient captures the destination of an outbound operation.
type Recipient struct {
	AccountNumber string `json:"account_number,omitempty"`
	BankCode      string `json:"bank_code,omitempty"`
	BankName      string `json:"bank_name,omitempty"`
	AccountName   string `json:"account_name,omitempty"`
	Phone         string `json:"phone,omitempty"`
}

// Metadata is the fixed record attached to a transaction. Callers may pass a
// partially filled value; unrecognised input is dropped at the boundary and
// nothing in here affects ledger arithmetic.
type Metadata struct {
	IdempotencyKey    string     `json:"idempotency_key,omitempty"`
	Recipient         *Recipient `json:"recipient,omitempty"`
	FeeType           string     `json:"fee_type,omitempty"`
	BalanceBefore     int64      `json:"balance_before"`
	BalanceAfter      int64      `json:"balance_after"`
	TransferReference string     `json:"transfer_reference,omitempty"`
	SenderName        string     `json:"sender_name,omitempty"`
	SenderBank        string     `json:"sender_bank,omitempty"`
	Network           string     `json:"network,omitempty"`
	PlanID            string     `json:"plan_id,omitempty"`
	RetailPrice       int64      `json:"retail_price,omitempty"`
	ProviderBalance   *int64     `json:"provider_balance,omitempty"`
	FailureReason     string     `json:"failure_reason,omitempty"`
}

// Transaction is one ledger movement for a single user.
type Transaction struct {
	ID        uuid.UUID           `json:"id"`
	Reference string              `json:"reference"`
	UserID    uuid.UUID           `json:"user_id"`
	Type      TransactionType     `json:"type"`
	Category  TransactionCategory `json:"category"`
	Status    TransactionStatus   `json:"status"`

	Amount      int64 `json:"amount"`
	Fee         int64 `json:"fee"`
	TotalAmount int64 `json:"total_amount"`

	Description string `json:"description,omitempty"`

	ProviderReference *string         `json:"provider_reference,omitempty"`
	ProviderResponse  json.RawMessage `json:"provider_response,omitempty"`

	ParentTransactionID *uuid.UUID `json:"parent_transaction_id,omitempty"`

	Metadata Metadata `json:"metadata"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewReference generates a globally unique platform transaction reference.
func NewReference() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; fall back to uuid.
		return "TXN-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:16])
	}
	return "TXN-" + strings.ToUpper(hex.EncodeToString(buf))
}
