package domain

import (
	"time"

	"github.com/google/uuid"
)

// BeneficiaryType discriminates how a saved recipient is addressed.
type BeneficiaryType string

const (
	BeneficiaryBankAccount  BeneficiaryType = "bank_account"
	BeneficiaryPhoneNumber  BeneficiaryType = "phone_number"
	BeneficiaryPlatformUser BeneficiaryType = "platform_user"
)

// Beneficiary is a denormalised recipient record scoped to a single user.
// Per user there is at most one active entry for the same (account number,
// bank code) pair or phone number.
type Beneficiary struct {
	ID     uuid.UUID       `json:"id"`
	UserID uuid.UUID       `json:"user_id"`
	Type   BeneficiaryType `json:"type"`

	AccountNumber string `json:"account_number,omitempty"`
	BankCode      string `json:"bank_code,omitempty"`
	BankName      string `json:"bank_name,omitempty"`
	AccountName   string `json:"account_name,omitempty"`
	Phone         string `json:"phone,omitempty"`

	Nickname string `json:"nickname,omitempty"`
	Category string `json:"category,omitempty"`

	TotalTransactions int        `json:"total_transactions"`
	TotalAmount       int64      `json:"total_amount"`
	LastUsedAt        *time.Time `json:"last_used_at,omitempty"`

	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
