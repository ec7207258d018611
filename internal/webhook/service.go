/**
 * @description
 * Inbound webhook pipeline for sponsor-bank events. Two event families come
 * through the same signed endpoint: credits landing on a user's virtual
 * account, and settlement reports for outbound transfers we initiated.
 *
 * Every event is deduplicated on (source, provider reference) before any
 * ledger work. A replayed event acknowledges immediately without touching a
 * wallet, so the sponsor may redeliver as aggressively as it likes.
 *
 * @dependencies
 * - internal/store: idempotency records and user resolution
 * - internal/wallet: the credit leg of inbound funding
 * - internal/orchestrator: settlement of processing bank transfers
 * - pkg/rabbitmq: downstream notification and reconcile events
 */
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DesignerDev23/MiiMii-sub002/internal/domain"
	"github.com/DesignerDev23/MiiMii-sub002/internal/orchestrator"
	"github.com/DesignerDev23/MiiMii-sub002/internal/store"
	"github.com/DesignerDev23/MiiMii-sub002/internal/wallet"
)

// Publisher is the event surface the pipeline needs.
type Publisher interface {
	PublishWalletCredited(ctx context.Context, event domain.WalletCreditedEvent) error
	PublishReconcile(ctx context.Context, event domain.ReconcileWalletEvent) error
}

// Config carries pipeline tunables.
type Config struct {
	// InboundFee is a flat platform fee in minor units deducted from each
	// inbound credit before the wallet is funded. Zero means the user
	// receives the full gross amount.
	InboundFee int64
}

// Service processes verified, parsed webhook events.
type Service struct {
	repo      store.Repository
	wallets   *wallet.Service
	transfers *orchestrator.Service
	publisher Publisher
	logger    *slog.Logger
	cfg       Config
}

func NewService(repo store.Repository, wallets *wallet.Service, transfers *orchestrator.Service, publisher Publisher, logger *slog.Logger, cfg Config) *Service {
	return &Service{
		repo:      repo,
		wallets:   wallets,
		transfers: transfers,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
	}
}

// HandleInboundCredit funds a user's wallet from a sponsor credit event.
// Duplicate deliveries and credits for unknown accounts are acknowledged
// without a ledger write.
func (s *Service) HandleInboundCredit(ctx context.Context, credit *domain.InboundCredit) error {
	if credit.ProviderReference == "" {
		return domain.NewError(domain.KindValidation, "missing_reference", "credit event has no provider reference")
	}
	if credit.GrossAmount <= 0 {
		return domain.NewError(domain.KindValidation, "invalid_amount", "credit amount must be positive")
	}

	fresh, err := s.repo.InsertIdempotencyRecord(ctx, credit.Source, credit.ProviderReference, "credit")
	if err != nil {
		return err
	}
	if !fresh {
		s.logger.Info("duplicate credit event ignored",
			"source", credit.Source,
			"provider_reference", credit.ProviderReference,
		)
		return nil
	}

	user, err := s.resolveUser(ctx, credit)
	if err != nil {
		// Money arrived for an account we cannot map. Acknowledge so the
		// sponsor stops redelivering; the hourly balance sync surfaces the
		// orphaned funds.
		s.logger.Error("inbound credit for unknown account",
			"source", credit.Source,
			"provider_reference", credit.ProviderReference,
			"account_number", credit.AccountNumber,
			"customer_id", credit.CustomerID,
		)
		return nil
	}

	net := credit.GrossAmount - s.cfg.InboundFee
	if net <= 0 {
		s.logger.Warn("inbound credit consumed entirely by the platform fee",
			"provider_reference", credit.ProviderReference,
			"gross", credit.GrossAmount,
			"fee", s.cfg.InboundFee,
		)
		return nil
	}

	txn, err := s.wallets.Credit(ctx, wallet.CreditParams{
		UserID:      user.ID,
		Amount:      net,
		Category:    domain.CategoryWalletFunding,
		Description: fmt.Sprintf("Transfer from %s", senderLabel(credit)),
		Metadata: domain.Metadata{
			IdempotencyKey: credit.Source + ":" + credit.ProviderReference,
			SenderName:     credit.SenderName,
			SenderBank:     credit.SenderBank,
		},
	})
	if err != nil {
		s.logger.Error("inbound credit failed to land",
			"user_id", user.ID,
			"provider_reference", credit.ProviderReference,
			"error", err,
		)
		return err
	}

	s.logger.Info("wallet funded from inbound credit",
		"user_id", user.ID,
		"reference", txn.Reference,
		"amount", net,
	)

	now := time.Now().UTC()
	if err := s.publisher.PublishWalletCredited(ctx, domain.WalletCreditedEvent{
		UserID:     user.ID,
		Reference:  txn.Reference,
		Amount:     net,
		SenderName: credit.SenderName,
		SenderBank: credit.SenderBank,
		NewBalance: txn.Metadata.BalanceAfter,
		Timestamp:  now,
	}); err != nil {
		s.logger.Warn("wallet credited event not published", "reference", txn.Reference, "error", err)
	}
	if err := s.publisher.PublishReconcile(ctx, domain.ReconcileWalletEvent{
		UserID:    user.ID,
		Reason:    "inbound_credit",
		Timestamp: now,
	}); err != nil {
		s.logger.Warn("reconcile event not published", "user_id", user.ID, "error", err)
	}
	return nil
}

// HandleTransferStatus settles a processing bank transfer from a sponsor
// settlement report. Terminal transactions are never reopened.
func (s *Service) HandleTransferStatus(ctx context.Context, status *domain.TransferStatus) error {
	ref := status.ProviderReference
	if ref == "" {
		ref = status.PlatformReference
	}
	if ref == "" {
		return domain.NewError(domain.KindValidation, "missing_reference", "transfer status event has no reference")
	}

	fresh, err := s.repo.InsertIdempotencyRecord(ctx, status.Source, "transfer:"+ref, "transfer_status")
	if err != nil {
		return err
	}
	if !fresh {
		s.logger.Info("duplicate transfer status ignored", "source", status.Source, "reference", ref)
		return nil
	}

	txn, err := s.findTransfer(ctx, status)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			s.logger.Error("settlement report for unknown transfer", "reference", ref)
			return nil
		}
		return err
	}
	if txn.Status.Terminal() {
		// The pending sweep or an earlier delivery already settled it. The
		// refund's idempotency key makes this a no-op either way.
		s.logger.Info("transfer already settled", "reference", txn.Reference, "status", txn.Status)
		return nil
	}

	if status.Successful {
		if status.ProviderReference != "" && txn.ProviderReference == nil {
			txn.ProviderReference = &status.ProviderReference
		}
		return s.transfers.CompleteTransfer(ctx, txn)
	}
	reason := status.Reason
	if reason == "" {
		reason = "rejected by sponsor bank"
	}
	return s.transfers.FailAndRefundTransfer(ctx, txn, reason)
}

func (s *Service) resolveUser(ctx context.Context, credit *domain.InboundCredit) (*domain.User, error) {
	if credit.CustomerID != "" {
		if user, err := s.repo.FindUserBySponsorCustomerID(ctx, credit.CustomerID); err == nil {
			return user, nil
		}
	}
	return s.repo.FindUserByVirtualAccount(ctx, credit.AccountNumber)
}

func (s *Service) findTransfer(ctx context.Context, status *domain.TransferStatus) (*domain.Transaction, error) {
	if status.PlatformReference != "" {
		if txn, err := s.repo.GetTransactionByReference(ctx, status.PlatformReference); err == nil {
			return txn, nil
		}
	}
	return s.repo.FindByProviderReference(ctx, status.ProviderReference)
}

func senderLabel(credit *domain.InboundCredit) string {
	switch {
	case credit.SenderName != "" && credit.SenderBank != "":
		return credit.SenderName + " (" + credit.SenderBank + ")"
	case credit.SenderName != "":
		return credit.SenderName
	default:
		return "bank transfer"
	}
}
