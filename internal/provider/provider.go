/**
 * @description
 * Uniform capability contracts for external providers. The orchestrator and
 * wallet service depend only on these interfaces; each concrete adapter under
 * pkg/ owns its own wire format and authentication.
 */
package provider

import (
	"context"
	"net/http"
	"time"
)

// TransferRequest is the canonical outbound bank transfer shape.
type TransferRequest struct {
	Amount        int64
	AccountNumber string
	BankCode      string
	Narration     string
	Reference     string // platform reference, doubles as correlation id
}

// VirtualAccountRequest carries the customer data the sponsor needs to issue
// a virtual account.
type VirtualAccountRequest struct {
	UserID      string
	FirstName   string
	LastName    string
	Phone       string
	Email       string
	BVN         string
	DateOfBirth time.Time
}

// VirtualAccount is the issued account triple.
type VirtualAccount struct {
	AccountNumber string
	BankName      string
	AccountName   string
	CustomerID    string
}

// Bank is the sponsor-bank capability set.
type Bank interface {
	// NameEnquiry resolves the legal account holder name. A failure here is
	// terminal for the transfer; no balance is touched afterwards.
	NameEnquiry(ctx context.Context, accountNumber, bankCode string) (string, error)
	// Transfer issues an outbound transfer. The returned provider reference
	// is persisted opaquely.
	Transfer(ctx context.Context, req TransferRequest) (string, error)
	// Balance returns the sponsor-side balance for our settlement account.
	Balance(ctx context.Context) (int64, error)
	// VirtualAccountBalance returns the sponsor-reported balance for one
	// customer's virtual account, used for reconciliation.
	VirtualAccountBalance(ctx context.Context, accountNumber string) (int64, error)
	// CreateVirtualAccount asks the sponsor to issue a virtual account.
	CreateVirtualAccount(ctx context.Context, req VirtualAccountRequest) (*VirtualAccount, error)
	// VerifyWebhook checks the signature over the raw body before parsing.
	VerifyWebhook(rawBody []byte, headers http.Header) error
}

// VASRequest is the canonical value-added-service purchase shape.
type VASRequest struct {
	Phone     string
	Network   string // airtime/data: mobile network; cable/electricity: biller
	PlanID    string // empty for airtime
	Meter     string // electricity meter or cable smartcard number
	Amount    int64  // retail price paid to the provider
	Reference string
}

// VASResult is the provider's outcome for a purchase.
type VASResult struct {
	ProviderReference string
	ProviderMessage   string
}

// VAS is the reseller capability set for airtime, data, cable, electricity.
type VAS interface {
	Balance(ctx context.Context) (int64, error)
	PurchaseAirtime(ctx context.Context, req VASRequest) (*VASResult, error)
	PurchaseData(ctx context.Context, req VASRequest) (*VASResult, error)
	PurchaseCable(ctx context.Context, req VASRequest) (*VASResult, error)
	PurchaseElectricity(ctx context.Context, req VASRequest) (*VASResult, error)
	// ChargedOnSuccess reports whether the provider bills us only when a
	// purchase succeeds. VAS resellers do; the sponsor bank charges on
	// initiation.
	ChargedOnSuccess() bool
}

// BVNRequest carries the attributes matched against the national registry.
type BVNRequest struct {
	BVN         string
	FirstName   string
	LastName    string
	DateOfBirth time.Time
	Phone       string
}

// BVNResult is the registry's verdict plus its authoritative attributes.
type BVNResult struct {
	Verified    bool
	FirstName   string
	LastName    string
	DateOfBirth string
	Phone       string
	Gender      string
}

// KYC is the identity-verification capability set.
type KYC interface {
	VerifyBVN(ctx context.Context, req BVNRequest) (*BVNResult, error)
}
