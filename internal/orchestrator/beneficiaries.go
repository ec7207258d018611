package orchestrator

import (
	"context"

	"github.com/google/uuid"

	"github.com/DesignerDev23/MiiMii-sub002/internal/domain"
)

// SaveBeneficiaryInput is the request for an explicit beneficiary save.
type SaveBeneficiaryInput struct {
	UserID        uuid.UUID
	Type          domain.BeneficiaryType
	AccountNumber string
	BankCode      string
	BankName      string
	AccountName   string
	Phone         string
	Nickname      string
	Category      string
}

// SaveBeneficiary stores a recipient explicitly (as opposed to the auto-save
// on a first completed transfer).
func (s *Service) SaveBeneficiary(ctx context.Context, in SaveBeneficiaryInput) (*domain.Beneficiary, error) {
	switch in.Type {
	case domain.BeneficiaryBankAccount:
		if len(in.AccountNumber) != 10 || in.BankCode == "" {
			return nil, domain.NewError(domain.KindValidation, "invalid_beneficiary", "bank beneficiaries need a 10-digit account number and bank code")
		}
	case domain.BeneficiaryPhoneNumber, domain.BeneficiaryPlatformUser:
		in.Phone = domain.NormalizePhone(in.Phone)
		if !domain.ValidPhone(in.Phone) {
			return nil, domain.NewError(domain.KindValidation, "invalid_beneficiary", "phone beneficiaries need an 11-digit phone number")
		}
	default:
		return nil, domain.NewError(domain.KindValidation, "invalid_beneficiary", "unknown beneficiary type")
	}

	return s.repo.UpsertBeneficiary(ctx, &domain.Beneficiary{
		ID:            uuid.New(),
		UserID:        in.UserID,
		Type:          in.Type,
		AccountNumber: in.AccountNumber,
		BankCode:      in.BankCode,
		BankName:      in.BankName,
		AccountName:   in.AccountName,
		Phone:         in.Phone,
		Nickname:      in.Nickname,
		Category:      in.Category,
		IsActive:      true,
	})
}

// ListBeneficiaries returns a user's active beneficiaries, newest first.
func (s *Service) ListBeneficiaries(ctx context.Context, userID uuid.UUID) ([]domain.Beneficiary, error) {
	return s.repo.ListBeneficiaries(ctx, userID)
}

// UpdateBeneficiary changes the user-editable fields (nickname, category).
func (s *Service) UpdateBeneficiary(ctx context.Context, userID, id uuid.UUID, nickname, category string) (*domain.Beneficiary, error) {
	b, err := s.repo.GetBeneficiary(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	b.Nickname = nickname
	b.Category = category
	if err := s.repo.UpdateBeneficiary(ctx, b); err != nil {
		return nil, err
	}
	return s.repo.GetBeneficiary(ctx, id, userID)
}

// DeleteBeneficiary soft-deletes a beneficiary.
func (s *Service) DeleteBeneficiary(ctx context.Context, userID, id uuid.UUID) error {
	return s.repo.DeleteBeneficiary(ctx, id, userID)
}
