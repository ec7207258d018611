/**
 * @description
 * Onboarding state machine. A user advances through a fixed sequence of
 * gates: initial -> profile_setup -> kyc_submission ->
 * virtual_account_creation -> pin_setup -> completed. The step only ever
 * moves forward; concurrent callers cannot regress a user because the store
 * applies the advance with a monotonic guard.
 *
 * BVN verification and virtual account issuance are invoked at their
 * transitions; a failed issuance leaves the user parked at
 * virtual_account_creation for the retry job to pick up.
 *
 * @dependencies
 * - golang.org/x/crypto/bcrypt: PIN hashing.
 * - internal/provider: BVN verification and virtual account issuance.
 */
package onboarding

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/DesignerDev23/MiiMii-sub002/internal/domain"
	"github.com/DesignerDev23/MiiMii-sub002/internal/provider"
	"github.com/DesignerDev23/MiiMii-sub002/internal/store"
)

// Limits carries the default wallet limits applied at registration.
type Limits struct {
	Daily   int64
	Monthly int64
}

// Service drives users through the onboarding sequence.
type Service struct {
	repo   store.Repository
	kyc    provider.KYC
	bank   provider.Bank
	logger *slog.Logger
	retry  provider.RetryPolicy
	limits Limits
}

// NewService creates an onboarding service.
func NewService(repo store.Repository, kyc provider.KYC, bank provider.Bank, logger *slog.Logger, limits Limits) *Service {
	return &Service{repo: repo, kyc: kyc, bank: bank, logger: logger, retry: provider.DefaultRetryPolicy, limits: limits}
}

// Register creates a user and their wallet atomically. The phone number is
// normalised to the canonical 11-digit national form.
func (s *Service) Register(ctx context.Context, phone string, email *string) (*domain.User, error) {
	phone = domain.NormalizePhone(phone)
	if !domain.ValidPhone(phone) {
		return nil, domain.NewError(domain.KindValidation, "invalid_phone", "phone number must be 11 digits in national form")
	}

	user := &domain.User{
		ID:             uuid.New(),
		Phone:          phone,
		Email:          email,
		KYCStatus:      domain.KYCPending,
		OnboardingStep: domain.StepInitial,
		IsActive:       true,
	}
	wallet := &domain.Wallet{
		ID:            uuid.New(),
		UserID:        user.ID,
		DailyLimit:    s.limits.Daily,
		MonthlyLimit:  s.limits.Monthly,
		LastResetDate: time.Now().UTC(),
		IsActive:      true,
	}
	if err := s.repo.CreateUserWithWallet(ctx, user, wallet); err != nil {
		if errors.Is(err, store.ErrDuplicateReference) {
			return nil, domain.NewError(domain.KindStateConflict, "user_exists", "a user with this phone or email already exists")
		}
		return nil, err
	}

	if _, err := s.repo.AdvanceOnboardingStep(ctx, user.ID, domain.StepProfileSetup); err != nil {
		return nil, err
	}
	user.OnboardingStep = domain.StepProfileSetup

	s.logger.Info("user registered", "user_id", user.ID, "phone", phone)
	return user, nil
}

// ProfileInput is the payload for the profile_setup gate.
type ProfileInput struct {
	FirstName  string
	MiddleName string
	LastName   string
	Address    string
	Email      *string
}

// SubmitProfile records the user's profile and advances past profile_setup
// when first name, last name and address are all present.
func (s *Service) SubmitProfile(ctx context.Context, userID uuid.UUID, in ProfileInput) (*domain.User, error) {
	if in.FirstName == "" || in.LastName == "" || in.Address == "" {
		return nil, domain.NewError(domain.KindValidation, "incomplete_profile", "first name, last name and address are required")
	}

	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.FirstName = in.FirstName
	user.MiddleName = in.MiddleName
	user.LastName = in.LastName
	user.Address = in.Address
	if in.Email != nil {
		user.Email = in.Email
	}
	if err := s.repo.UpdateUser(ctx, user); err != nil {
		return nil, err
	}

	if _, err := s.repo.AdvanceOnboardingStep(ctx, userID, domain.StepKYCSubmission); err != nil {
		return nil, err
	}
	return s.repo.GetUser(ctx, userID)
}

// KYCInput is the payload for the kyc_submission gate.
type KYCInput struct {
	BVN         string
	DateOfBirth time.Time
	Gender      domain.Gender
}

// SubmitKYC verifies the BVN against the registry and, on success, advances
// to virtual_account_creation and immediately attempts issuance.
func (s *Service) SubmitKYC(ctx context.Context, userID uuid.UUID, in KYCInput) (*domain.User, error) {
	if !domain.ValidBVN(in.BVN) {
		return nil, domain.NewError(domain.KindValidation, "invalid_bvn", "BVN must be 11 digits")
	}
	if in.Gender != domain.GenderMale && in.Gender != domain.GenderFemale {
		return nil, domain.NewError(domain.KindValidation, "invalid_gender", "gender must be male or female")
	}
	if in.DateOfBirth.IsZero() {
		return nil, domain.NewError(domain.KindValidation, "invalid_dob", "date of birth is required")
	}

	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.FirstName == "" || user.LastName == "" {
		return nil, domain.NewError(domain.KindStateConflict, "profile_incomplete", "complete your profile before KYC")
	}

	var result *provider.BVNResult
	err = s.retry.Do(ctx, userID.String(), "bvn_verify", func(ctx context.Context) error {
		var verr error
		result, verr = s.kyc.VerifyBVN(ctx, provider.BVNRequest{
			BVN:         in.BVN,
			FirstName:   user.FirstName,
			LastName:    user.LastName,
			DateOfBirth: in.DateOfBirth,
			Phone:       user.Phone,
		})
		return verr
	})
	if err != nil {
		if provider.IsRejected(err) {
			user.KYCStatus = domain.KYCRejected
			if uerr := s.repo.UpdateUser(ctx, user); uerr != nil {
				s.logger.Error("failed to record kyc rejection", "user_id", userID, "error", uerr)
			}
			return nil, domain.WrapError(domain.KindProviderRejected, "bvn_rejected", "BVN verification was rejected", err)
		}
		return nil, domain.WrapError(domain.KindProviderUnavailable, "kyc_unavailable", "BVN verification is temporarily unavailable", err)
	}
	if !result.Verified {
		user.KYCStatus = domain.KYCRejected
		if uerr := s.repo.UpdateUser(ctx, user); uerr != nil {
			s.logger.Error("failed to record kyc rejection", "user_id", userID, "error", uerr)
		}
		return nil, domain.NewError(domain.KindAuth, "bvn_mismatch", "submitted details do not match the BVN record")
	}

	bvn := in.BVN
	dob := in.DateOfBirth
	user.BVN = &bvn
	user.BVNVerified = true
	user.KYCStatus = domain.KYCVerified
	user.DateOfBirth = &dob
	user.Gender = in.Gender
	if err := s.repo.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	if _, err := s.repo.AdvanceOnboardingStep(ctx, userID, domain.StepVirtualAccountCreation); err != nil {
		return nil, err
	}

	s.logger.Info("bvn verified", "user_id", userID)

	// Issuance is best effort here; the retry job covers failures.
	if err := s.EnsureVirtualAccount(ctx, userID); err != nil {
		s.logger.Warn("virtual account issuance deferred", "user_id", userID, "error", err)
	}
	return s.repo.GetUser(ctx, userID)
}

// EnsureVirtualAccount asks the sponsor for a virtual account when the user
// has the prerequisite fields and none has been issued yet. Used at the KYC
// transition and by the periodic retry job.
func (s *Service) EnsureVirtualAccount(ctx context.Context, userID uuid.UUID) error {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	wallet, err := s.repo.GetWallet(ctx, userID)
	if err != nil {
		return err
	}
	if wallet.HasVirtualAccount() {
		// Issued already; just make sure the step moved on.
		_, err := s.repo.AdvanceOnboardingStep(ctx, userID, domain.StepPINSetup)
		return err
	}
	if !user.BVNVerified || user.BVN == nil || user.DateOfBirth == nil || user.FirstName == "" || user.LastName == "" {
		return domain.NewError(domain.KindStateConflict, "prerequisites_missing", "BVN verification must complete before account issuance")
	}

	email := ""
	if user.Email != nil {
		email = *user.Email
	}
	va, err := s.bank.CreateVirtualAccount(ctx, provider.VirtualAccountRequest{
		UserID:      user.ID.String(),
		FirstName:   user.FirstName,
		LastName:    user.LastName,
		Phone:       user.Phone,
		Email:       email,
		BVN:         *user.BVN,
		DateOfBirth: *user.DateOfBirth,
	})
	if err != nil {
		return err
	}

	if err := s.repo.AssignVirtualAccount(ctx, userID, va.AccountNumber, va.BankName, va.AccountName, va.CustomerID); err != nil {
		return err
	}
	if _, err := s.repo.AdvanceOnboardingStep(ctx, userID, domain.StepPINSetup); err != nil {
		return err
	}

	s.logger.Info("virtual account issued",
		"user_id", userID,
		"account_number", va.AccountNumber,
		"bank", va.BankName,
	)
	return nil
}

// SetPIN hashes and stores the 4-digit transaction PIN and completes
// onboarding when every prior gate is satisfied.
func (s *Service) SetPIN(ctx context.Context, userID uuid.UUID, pin string) error {
	if !validPIN(pin) {
		return domain.NewError(domain.KindValidation, "invalid_pin", "PIN must be exactly 4 digits")
	}

	hash, err := HashPIN(pin)
	if err != nil {
		return err
	}
	if err := s.repo.SetPIN(ctx, userID, hash); err != nil {
		return err
	}

	wallet, err := s.repo.GetWallet(ctx, userID)
	if err != nil {
		return err
	}
	if wallet.HasVirtualAccount() {
		if _, err := s.repo.AdvanceOnboardingStep(ctx, userID, domain.StepCompleted); err != nil {
			return err
		}
	}

	s.logger.Info("transaction pin set", "user_id", userID)
	return nil
}

// Status is the onboarding snapshot returned to callers.
type Status struct {
	Step        domain.OnboardingStep `json:"step"`
	NextStep    domain.OnboardingStep `json:"next_step"`
	CanTransact bool                  `json:"can_transact"`
}

// GetStatus reports the user's current and next onboarding step.
func (s *Service) GetStatus(ctx context.Context, userID uuid.UUID) (*Status, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	wallet, err := s.repo.GetWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Status{
		Step:        user.OnboardingStep,
		NextStep:    NextStep(user, wallet),
		CanTransact: CanTransact(user, wallet) == nil,
	}, nil
}

// NextStep computes the first unsatisfied gate from the actual user and
// wallet state, independent of the recorded step.
func NextStep(user *domain.User, wallet *domain.Wallet) domain.OnboardingStep {
	switch {
	case user.FirstName == "" || user.LastName == "" || user.Address == "":
		return domain.StepProfileSetup
	case !user.BVNVerified || user.DateOfBirth == nil || user.Gender == "":
		return domain.StepKYCSubmission
	case !wallet.HasVirtualAccount():
		return domain.StepVirtualAccountCreation
	case !user.HasPIN():
		return domain.StepPINSetup
	default:
		return domain.StepCompleted
	}
}

// CanTransact is the single predicate gating every outbound operation. It
// returns nil when the user may transact, or a typed error naming the first
// missing gate.
func CanTransact(user *domain.User, wallet *domain.Wallet) error {
	switch {
	case !user.IsActive:
		return domain.NewError(domain.KindAuth, "account_inactive", "account is inactive")
	case user.IsBanned:
		return domain.NewError(domain.KindAuth, "account_banned", "account is banned")
	case user.KYCStatus != domain.KYCVerified && user.KYCStatus != domain.KYCNotRequired:
		return domain.NewError(domain.KindAuth, "kyc_incomplete", "identity verification is not complete")
	case !user.HasPIN():
		return domain.NewError(domain.KindAuth, "pin_not_set", "transaction PIN has not been set")
	case !wallet.HasVirtualAccount():
		return domain.NewError(domain.KindAuth, "no_virtual_account", "virtual account has not been issued")
	default:
		return nil
	}
}

func validPIN(pin string) bool {
	if len(pin) != 4 {
		return false
	}
	for _, c := range pin {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// HashPIN hashes a transaction PIN with bcrypt.
func HashPIN(pin string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPIN reports whether pin matches the stored hash.
func CheckPIN(hash, pin string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)) == nil
}
