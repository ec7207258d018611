/**
 * @description
 * VAS purchase state machines: airtime, data, cable, electricity. The
 * reseller charges our float only on success, so the order inverts the bank
 * transfer flow: gate -> local balance check -> provider balance check ->
 * provider call -> debit only after the provider confirms. A provider
 * failure therefore never needs a refund because the user was never debited.
 *
 * The wallet is debited for the selling price; the provider is paid its
 * retail price from the pooled float. Admin markups come from the pricing
 * service.
 */
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/DesignerDev23/MiiMii-sub002/internal/domain"
	"github.com/DesignerDev23/MiiMii-sub002/internal/provider"
	"github.com/DesignerDev23/MiiMii-sub002/internal/wallet"
)

// AirtimeInput is the request for an airtime top-up.
type AirtimeInput struct {
	UserID          uuid.UUID
	PIN             string
	Phone           string
	Network         string
	Amount          int64
	ClientReference string
}

// Airtime purchases airtime. The selling price equals the retail price.
func (s *Service) Airtime(ctx context.Context, in AirtimeInput) (*domain.Transaction, error) {
	phone := domain.NormalizePhone(in.Phone)
	if !domain.ValidPhone(phone) {
		return nil, domain.NewError(domain.KindValidation, "invalid_phone", "recipient phone must be 11 digits")
	}
	if in.Amount <= 0 {
		return nil, domain.NewError(domain.KindValidation, "invalid_amount", "amount must be positive")
	}
	return s.purchase(ctx, vasPurchase{
		userID:          in.UserID,
		pin:             in.PIN,
		clientReference: in.ClientReference,
		category:        domain.CategoryAirtimePurchase,
		description:     fmt.Sprintf("%s airtime for %s", in.Network, phone),
		network:         in.Network,
		retail:          in.Amount,
		selling:         in.Amount,
		request: provider.VASRequest{
			Phone:   phone,
			Network: in.Network,
			Amount:  in.Amount,
		},
		call: s.vas.PurchaseAirtime,
	})
}

// DataInput is the request for a data bundle purchase.
type DataInput struct {
	UserID          uuid.UUID
	PIN             string
	Phone           string
	Network         string
	PlanID          string
	RetailPrice     int64
	ClientReference string
}

// Data purchases a data bundle. The wallet is debited the admin-set selling
// price; absence of an override means provider retail.
func (s *Service) Data(ctx context.Context, in DataInput) (*domain.Transaction, error) {
	phone := domain.NormalizePhone(in.Phone)
	if !domain.ValidPhone(phone) {
		return nil, domain.NewError(domain.KindValidation, "invalid_phone", "recipient phone must be 11 digits")
	}
	if in.PlanID == "" || in.RetailPrice <= 0 {
		return nil, domain.NewError(domain.KindValidation, "invalid_plan", "a data plan with its retail price is required")
	}

	selling, err := s.pricing.SellingPrice(ctx, in.Network, in.PlanID, in.RetailPrice)
	if err != nil {
		return nil, err
	}
	return s.purchase(ctx, vasPurchase{
		userID:          in.UserID,
		pin:             in.PIN,
		clientReference: in.ClientReference,
		category:        domain.CategoryDataPurchase,
		description:     fmt.Sprintf("%s data plan %s for %s", in.Network, in.PlanID, phone),
		network:         in.Network,
		planID:          in.PlanID,
		retail:          in.RetailPrice,
		selling:         selling,
		request: provider.VASRequest{
			Phone:   phone,
			Network: in.Network,
			PlanID:  in.PlanID,
			Amount:  in.RetailPrice,
		},
		call: s.vas.PurchaseData,
	})
}

// UtilityInput is the request for an electricity meter top-up.
type UtilityInput struct {
	UserID          uuid.UUID
	PIN             string
	Biller          string
	Meter           string
	Phone           string
	Amount          int64
	ClientReference string
}

// Utility pays an electricity bill.
func (s *Service) Utility(ctx context.Context, in UtilityInput) (*domain.Transaction, error) {
	if in.Meter == "" {
		return nil, domain.NewError(domain.KindValidation, "invalid_meter", "meter number is required")
	}
	if in.Amount <= 0 {
		return nil, domain.NewError(domain.KindValidation, "invalid_amount", "amount must be positive")
	}

	selling, err := s.pricing.SellingPrice(ctx, in.Biller, "", in.Amount)
	if err != nil {
		return nil, err
	}
	return s.purchase(ctx, vasPurchase{
		userID:          in.UserID,
		pin:             in.PIN,
		clientReference: in.ClientReference,
		category:        domain.CategoryUtilityPayment,
		description:     fmt.Sprintf("%s electricity for meter %s", in.Biller, in.Meter),
		network:         in.Biller,
		retail:          in.Amount,
		selling:         selling,
		request: provider.VASRequest{
			Network: in.Biller,
			Meter:   in.Meter,
			Phone:   domain.NormalizePhone(in.Phone),
			Amount:  in.Amount,
		},
		call: s.vas.PurchaseElectricity,
	})
}

// CableInput is the request for a cable TV subscription payment.
type CableInput struct {
	UserID          uuid.UUID
	PIN             string
	Biller          string
	PlanID          string
	Smartcard       string
	RetailPrice     int64
	ClientReference string
}

// Cable pays a cable TV subscription.
func (s *Service) Cable(ctx context.Context, in CableInput) (*domain.Transaction, error) {
	if in.Smartcard == "" {
		return nil, domain.NewError(domain.KindValidation, "invalid_smartcard", "smartcard number is required")
	}
	if in.PlanID == "" || in.RetailPrice <= 0 {
		return nil, domain.NewError(domain.KindValidation, "invalid_plan", "a cable plan with its retail price is required")
	}

	selling, err := s.pricing.SellingPrice(ctx, in.Biller, in.PlanID, in.RetailPrice)
	if err != nil {
		return nil, err
	}
	return s.purchase(ctx, vasPurchase{
		userID:          in.UserID,
		pin:             in.PIN,
		clientReference: in.ClientReference,
		category:        domain.CategoryCablePayment,
		description:     fmt.Sprintf("%s subscription %s for card %s", in.Biller, in.PlanID, in.Smartcard),
		network:         in.Biller,
		planID:          in.PlanID,
		retail:          in.RetailPrice,
		selling:         selling,
		request: provider.VASRequest{
			Network: in.Biller,
			PlanID:  in.PlanID,
			Meter:   in.Smartcard,
			Amount:  in.RetailPrice,
		},
		call: s.vas.PurchaseCable,
	})
}

// vasPurchase is the shared charge-on-success flow.
type vasPurchase struct {
	userID          uuid.UUID
	pin             string
	clientReference string
	category        domain.TransactionCategory
	description     string
	network         string
	planID          string
	retail          int64
	selling         int64
	request         provider.VASRequest
	call            func(ctx context.Context, req provider.VASRequest) (*provider.VASResult, error)
}

func (s *Service) purchase(ctx context.Context, p vasPurchase) (*domain.Transaction, error) {
	if existing, err := s.findExisting(ctx, p.userID, p.clientReference, p.selling, p.category); existing != nil || err != nil {
		return existing, err
	}

	_, w, err := s.gate(ctx, p.userID, p.pin)
	if err != nil {
		return nil, err
	}

	// Cheap local guard before touching the provider.
	if w.Balance < p.selling {
		return nil, domain.NewError(domain.KindInsufficientFunds, "insufficient_funds", "wallet balance is too low for this purchase")
	}

	// The reseller extends short-term credit from our float; refuse early if
	// the float cannot cover the retail price.
	reference := domain.NewReference()
	var floatBalance int64
	err = s.retry.Do(ctx, reference, "vas_balance", func(ctx context.Context) error {
		var berr error
		floatBalance, berr = s.vas.Balance(ctx)
		return berr
	})
	if err != nil {
		return nil, domain.WrapError(domain.KindProviderUnavailable, "provider_unavailable", "the service is temporarily unavailable", err)
	}
	if floatBalance < p.retail {
		s.logger.Error("vas float exhausted",
			"float_balance", floatBalance,
			"retail", p.retail,
			"category", p.category,
		)
		return nil, domain.NewError(domain.KindProviderUnavailable, "provider_balance_low", "the service is temporarily unavailable")
	}

	pending := &domain.Transaction{
		ID:          uuid.New(),
		Reference:   reference,
		UserID:      p.userID,
		Type:        domain.TypeDebit,
		Category:    p.category,
		Status:      domain.StatusPending,
		Amount:      p.selling,
		TotalAmount: p.selling,
		Description: p.description,
		Metadata: domain.Metadata{
			IdempotencyKey:  p.clientReference,
			Network:         p.network,
			PlanID:          p.planID,
			RetailPrice:     p.retail,
			ProviderBalance: &floatBalance,
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateTransaction(ctx, pending); err != nil {
		return nil, err
	}

	// The provider call is the commit point for charge-on-success flows; a
	// caller disconnect past this point must not strand a delivered purchase.
	ctx = context.WithoutCancel(ctx)

	p.request.Reference = pending.Reference
	result, err := p.call(ctx, p.request)
	if err != nil {
		reason := err.Error()
		s.markFailed(ctx, pending, reason)
		s.publishOutcome(ctx, pending)
		switch {
		case provider.IsRejected(err):
			return pending, domain.WrapError(domain.KindProviderRejected, "purchase_rejected", "the provider rejected this purchase", err)
		case provider.IsUndetermined(err):
			s.logger.Error("vas purchase outcome undetermined, wallet not debited",
				"reference", pending.Reference,
				"category", p.category,
			)
			return pending, domain.WrapError(domain.KindProviderUndetermined, "purchase_undetermined", "purchase status could not be confirmed", err)
		default:
			return pending, domain.WrapError(domain.KindProviderUnavailable, "purchase_failed", "the service is temporarily unavailable", err)
		}
	}

	raw, _ := json.Marshal(result)
	meta := pending.Metadata
	providerRef := result.ProviderReference
	debited, err := s.wallets.Debit(ctx, wallet.DebitParams{
		UserID:            p.userID,
		Amount:            p.selling,
		Category:          p.category,
		Description:       p.description,
		Status:            domain.StatusCompleted,
		ID:                pending.ID,
		Reference:         pending.Reference,
		Metadata:          meta,
		ProviderReference: &providerRef,
		ProviderResponse:  raw,
	})
	if err != nil {
		// The provider delivered but the debit failed: the ledger no longer
		// matches reality, stop the wallet until an operator reconciles.
		s.flagWalletForReview(ctx, p.userID, fmt.Sprintf("debit failed after provider success for %s: %v", pending.Reference, err))
		s.markFailed(ctx, pending, fmt.Sprintf("debit failed after provider success: %v", err))
		return pending, domain.WrapError(domain.KindInternal, "settlement_failed", "purchase delivered but could not be settled", err)
	}

	s.logger.Info("vas purchase completed",
		"reference", debited.Reference,
		"user_id", p.userID,
		"category", p.category,
		"selling", p.selling,
		"retail", p.retail,
	)
	s.publishOutcome(ctx, debited)
	return debited, nil
}
