/**
 * @description
 * Domain model for platform users. A user is one end-customer reachable over
 * WhatsApp or the mobile app. Every user owns exactly one wallet, created
 * together with the user row.
 */
package domain

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// KYCStatus tracks the verification state of a user's identity.
type KYCStatus string

const (
	KYCNotRequired KYCStatus = "not_required"
	KYCPending     KYCStatus = "pending"
	KYCVerified    KYCStatus = "verified"
	KYCRejected    KYCStatus = "rejected"
	KYCIncomplete  KYCStatus = "incomplete"
)

// Gender as accepted by the BVN registry.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// User is one end-customer of the platform.
type User struct {
	ID          uuid.UUID  `json:"id"`
	Phone       string     `json:"phone"`
	Email       *string    `json:"email,omitempty"`
	FirstName   string     `json:"first_name"`
	MiddleName  string     `json:"middle_name,omitempty"`
	LastName    string     `json:"last_name"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
	Gender      Gender     `json:"gender,omitempty"`
	Address     string     `json:"address,omitempty"`

	BVN         *string   `json:"-"`
	BVNVerified bool      `json:"bvn_verified"`
	KYCStatus   KYCStatus `json:"kyc_status"`

	OnboardingStep OnboardingStep `json:"onboarding_step"`

	PINHash           string     `json:"-"`
	PINFailedAttempts int        `json:"-"`
	PINLockedUntil    *time.Time `json:"-"`

	IsActive bool `json:"is_active"`
	IsBanned bool `json:"is_banned"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasPIN reports whether the user has set a transaction PIN.
func (u *User) HasPIN() bool {
	return u.PINHash != ""
}

// FullName joins the user's names for display and provider calls.
func (u *User) FullName() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{u.FirstName, u.MiddleName, u.LastName} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, strings.TrimSpace(p))
		}
	}
	return strings.Join(parts, " ")
}

var nonDigits = regexp.MustCompile(`\D`)

// NormalizePhone coerces a phone number to the canonical 11-digit national
// form (0XXXXXXXXXX). Inputs with a 234 country prefix are rewritten; anything
// else is returned stripped of non-digits.
func NormalizePhone(raw string) string {
	digits := nonDigits.ReplaceAllString(raw, "")
	switch {
	case strings.HasPrefix(digits, "234") && len(digits) == 13:
		return "0" + digits[3:]
	case len(digits) == 10:
		return "0" + digits
	default:
		return digits
	}
}

// ValidPhone reports whether a phone number is in canonical national form.
func ValidPhone(phone string) bool {
	return len(phone) == 11 && strings.HasPrefix(phone, "0") && nonDigits.FindString(phone) == ""
}

// ValidBVN checks the syntactic shape of a BVN.
func ValidBVN(bvn string) bool {
	return len(bvn) == 11 && nonDigits.FindString(bvn) == ""
}
