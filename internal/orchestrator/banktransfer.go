/**
 * @description
 * Bank transfer state machine. The sponsor bank charges on initiation, so
 * the wallet is debited before the provider call and refunded when the call
 * definitively fails. A call whose outcome is unknown (timeout or 5xx after
 * the body was sent) leaves the transaction in processing: either a sponsor
 * webhook settles it, or the pending sweep fails and refunds it after the
 * configured age.
 */
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/DesignerDev23/MiiMii-sub002/internal/domain"
	"github.com/DesignerDev23/MiiMii-sub002/internal/provider"
	"github.com/DesignerDev23/MiiMii-sub002/internal/store"
	"github.com/DesignerDev23/MiiMii-sub002/internal/wallet"
)

// BankTransferInput is the request for an outbound bank transfer.
type BankTransferInput struct {
	UserID          uuid.UUID
	PIN             string
	Amount          int64
	AccountNumber   string
	BankCode        string
	Narration       string
	ClientReference string
}

func (in BankTransferInput) validate(minAmount int64) error {
	if len(in.AccountNumber) != 10 {
		return domain.NewError(domain.KindValidation, "invalid_account", "account number must be 10 digits")
	}
	if in.BankCode == "" {
		return domain.NewError(domain.KindValidation, "invalid_bank", "bank code is required")
	}
	if in.Amount < minAmount {
		return domain.NewError(domain.KindValidation, "amount_too_small", fmt.Sprintf("minimum transfer amount is %d", minAmount))
	}
	return nil
}

// BankTransfer runs the outbound bank transfer flow end to end.
func (s *Service) BankTransfer(ctx context.Context, in BankTransferInput) (*domain.Transaction, error) {
	if err := in.validate(s.cfg.MinTransferAmount); err != nil {
		return nil, err
	}
	if existing, err := s.findExisting(ctx, in.UserID, in.ClientReference, in.Amount, domain.CategoryBankTransfer); existing != nil || err != nil {
		return existing, err
	}

	user, _, err := s.gate(ctx, in.UserID, in.PIN)
	if err != nil {
		return nil, err
	}

	// Name enquiry fails the request before any balance is touched.
	reference := domain.NewReference()
	var accountName string
	err = s.retry.Do(ctx, reference, "name_enquiry", func(ctx context.Context) error {
		var nerr error
		accountName, nerr = s.bank.NameEnquiry(ctx, in.AccountNumber, in.BankCode)
		return nerr
	})
	if err != nil {
		if provider.IsRejected(err) {
			return nil, domain.WrapError(domain.KindProviderRejected, "account_not_found", "destination account could not be resolved", err)
		}
		return nil, domain.WrapError(domain.KindProviderUnavailable, "name_enquiry_failed", "bank lookup is temporarily unavailable", err)
	}

	fee := s.cfg.BankTransferFee
	recipient := &domain.Recipient{
		AccountNumber: in.AccountNumber,
		BankCode:      in.BankCode,
		AccountName:   accountName,
	}
	pending := &domain.Transaction{
		ID:          uuid.New(),
		Reference:   reference,
		UserID:      in.UserID,
		Type:        domain.TypeDebit,
		Category:    domain.CategoryBankTransfer,
		Status:      domain.StatusPending,
		Amount:      in.Amount,
		Fee:         fee,
		TotalAmount: in.Amount + fee,
		Description: fmt.Sprintf("Transfer to %s", accountName),
		Metadata: domain.Metadata{
			IdempotencyKey: in.ClientReference,
			Recipient:      recipient,
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateTransaction(ctx, pending); err != nil {
		return nil, err
	}

	debited, err := s.wallets.Debit(ctx, wallet.DebitParams{
		UserID:      in.UserID,
		Amount:      in.Amount,
		Fee:         fee,
		Category:    domain.CategoryBankTransfer,
		Description: pending.Description,
		Status:      domain.StatusProcessing,
		ID:          pending.ID,
		Reference:   pending.Reference,
		Metadata:    pending.Metadata,
	})
	if err != nil {
		s.markFailed(ctx, pending, err.Error())
		return nil, err
	}

	// The debit is committed; the flow must reach a terminal state even if
	// the caller goes away.
	ctx = context.WithoutCancel(ctx)

	providerRef, err := s.bank.Transfer(ctx, provider.TransferRequest{
		Amount:        in.Amount,
		AccountNumber: in.AccountNumber,
		BankCode:      in.BankCode,
		Narration:     truncate(in.Narration, s.cfg.NarrationLimit),
		Reference:     debited.Reference,
	})
	switch {
	case err == nil:
		debited.ProviderReference = &providerRef
		if cerr := s.CompleteTransfer(ctx, debited); cerr != nil {
			s.logger.Error("transfer completed at provider but finalization failed",
				"reference", debited.Reference,
				"error", cerr,
			)
		}
		s.saveBeneficiary(ctx, user.ID, recipient, debited.Amount)
		return debited, nil

	case provider.IsUndetermined(err):
		s.logger.Warn("transfer outcome undetermined, awaiting webhook reconciliation",
			"reference", debited.Reference,
			"user_id", in.UserID,
		)
		return debited, domain.WrapError(domain.KindProviderUndetermined, "transfer_pending", "transfer is being processed", err)

	default:
		// Rejected or unavailable after retries: the sponsor did not take the
		// money, refund the debit.
		if rerr := s.FailAndRefundTransfer(ctx, debited, err.Error()); rerr != nil {
			return debited, rerr
		}
		if provider.IsRejected(err) {
			return debited, domain.WrapError(domain.KindProviderRejected, "transfer_rejected", "the bank rejected this transfer", err)
		}
		return debited, domain.WrapError(domain.KindProviderUnavailable, "transfer_failed", "transfer could not be completed, your wallet has been refunded", err)
	}
}

// CompleteTransfer moves a processing bank transfer to completed and emits
// the receipt event. Used by the happy path and by webhook settlement. The
// transition is guarded by the store: a transfer another actor already
// settled stays as it is.
func (s *Service) CompleteTransfer(ctx context.Context, txn *domain.Transaction) error {
	now := time.Now().UTC()
	txn.Status = domain.StatusCompleted
	txn.CompletedAt = &now
	if err := s.repo.FinalizeTransaction(ctx, txn); err != nil {
		if errors.Is(err, store.ErrAlreadyFinal) {
			s.logger.Warn("settlement for an already settled transfer ignored",
				"reference", txn.Reference,
				"user_id", txn.UserID,
			)
			return nil
		}
		return err
	}
	s.logger.Info("bank transfer completed",
		"reference", txn.Reference,
		"user_id", txn.UserID,
		"amount", txn.Amount,
	)
	s.publishOutcome(ctx, txn)
	return nil
}

// FailAndRefundTransfer marks a debited transfer failed and refunds it. The
// failed status is claimed first with a guarded transition, so a caller
// holding a stale snapshot (the pending sweep reading before a settlement
// webhook landed) cannot refund a transfer that has since completed. The
// refund itself is idempotent per debit, enforced by the store under the
// wallet lock.
func (s *Service) FailAndRefundTransfer(ctx context.Context, txn *domain.Transaction, reason string) error {
	now := time.Now().UTC()
	txn.Status = domain.StatusFailed
	txn.CompletedAt = &now
	txn.Metadata.FailureReason = reason

	claimed := true
	if err := s.repo.FinalizeTransaction(ctx, txn); err != nil {
		if !errors.Is(err, store.ErrAlreadyFinal) {
			return err
		}
		stored, gerr := s.repo.GetTransaction(ctx, txn.ID)
		if gerr != nil {
			return gerr
		}
		if stored.Status != domain.StatusFailed {
			s.logger.Warn("skipping refund, transfer settled successfully in the meantime",
				"reference", txn.Reference,
				"user_id", txn.UserID,
			)
			return nil
		}
		// Failed by a concurrent actor. Fall through so the refund below is
		// guaranteed to exist even if that actor crashed before issuing it.
		claimed = false
		txn = stored
	}

	if _, err := s.wallets.Refund(ctx, txn, reason); err != nil {
		s.flagWalletForReview(ctx, txn.UserID, fmt.Sprintf("refund failed for %s: %v", txn.Reference, err))
		return domain.WrapError(domain.KindInternal, "refund_failed", "transfer failed and the refund could not be issued", err)
	}
	if claimed {
		s.publishOutcome(ctx, txn)
	}
	return nil
}

// saveBeneficiary records the recipient of a completed transfer, merging
// usage counters on repeat transfers. Best effort.
func (s *Service) saveBeneficiary(ctx context.Context, userID uuid.UUID, r *domain.Recipient, amount int64) {
	now := time.Now().UTC()
	_, err := s.repo.UpsertBeneficiary(ctx, &domain.Beneficiary{
		ID:                uuid.New(),
		UserID:            userID,
		Type:              domain.BeneficiaryBankAccount,
		AccountNumber:     r.AccountNumber,
		BankCode:          r.BankCode,
		BankName:          r.BankName,
		AccountName:       r.AccountName,
		TotalTransactions: 1,
		TotalAmount:       amount,
		LastUsedAt:        &now,
		IsActive:          true,
	})
	if err != nil {
		s.logger.Warn("beneficiary auto-save failed", "user_id", userID, "error", err)
	}
}

// WalletTransferInput is the request for a wallet-to-wallet transfer.
type WalletTransferInput struct {
	UserID          uuid.UUID
	PIN             string
	RecipientPhone  string
	Amount          int64
	Description     string
	ClientReference string
}

// WalletTransfer moves funds between two platform wallets. Both legs commit
// atomically; there is no provider involved.
func (s *Service) WalletTransfer(ctx context.Context, in WalletTransferInput) (*domain.Transaction, error) {
	if in.Amount <= 0 {
		return nil, domain.NewError(domain.KindValidation, "invalid_amount", "transfer amount must be positive")
	}
	if existing, err := s.findExisting(ctx, in.UserID, in.ClientReference, in.Amount, domain.CategoryWalletTransfer); existing != nil || err != nil {
		return existing, err
	}

	if _, _, err := s.gate(ctx, in.UserID, in.PIN); err != nil {
		return nil, err
	}

	phone := domain.NormalizePhone(in.RecipientPhone)
	recipient, err := s.repo.GetUserByPhone(ctx, phone)
	if err != nil {
		return nil, domain.NewError(domain.KindValidation, "recipient_not_found", "no user with that phone number")
	}

	txn, err := s.wallets.TransferBetweenWallets(ctx, in.UserID, recipient.ID, in.Amount, 0, in.Description, in.ClientReference)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if _, berr := s.repo.UpsertBeneficiary(ctx, &domain.Beneficiary{
		ID:                uuid.New(),
		UserID:            in.UserID,
		Type:              domain.BeneficiaryPhoneNumber,
		Phone:             phone,
		AccountName:       recipient.FullName(),
		TotalTransactions: 1,
		TotalAmount:       in.Amount,
		LastUsedAt:        &now,
		IsActive:          true,
	}); berr != nil {
		s.logger.Warn("beneficiary auto-save failed", "user_id", in.UserID, "error", berr)
	}

	s.publishOutcome(ctx, txn)
	return txn, nil
}
