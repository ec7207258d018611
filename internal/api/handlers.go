/**
 * @description
 * HTTP handlers for the wallet engine's API. Handlers parse and validate the
 * incoming request, call the matching core operation, and translate typed
 * domain errors into HTTP status codes. No business logic lives here.
 *
 * @dependencies
 * - encoding/json, net/http: Standard Go libraries.
 * - github.com/go-playground/validator/v10: Request DTO validation.
 * - The service's internal packages for core operations and domain models.
 */
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/DesignerDev23/MiiMii-sub002/internal/domain"
	"github.com/DesignerDev23/MiiMii-sub002/internal/onboarding"
	"github.com/DesignerDev23/MiiMii-sub002/internal/orchestrator"
	"github.com/DesignerDev23/MiiMii-sub002/internal/pricing"
	"github.com/DesignerDev23/MiiMii-sub002/internal/store"
	"github.com/DesignerDev23/MiiMii-sub002/internal/wallet"
)

// Handlers holds the core services the API fronts.
type Handlers struct {
	onboarding *onboarding.Service
	wallets    *wallet.Service
	txns       *orchestrator.Service
	prices     *pricing.Service
	logger     *slog.Logger
	jwtSecret  string
	tokenTTL   time.Duration
	validate   *validator.Validate
}

// NewHandlers creates the handler set.
func NewHandlers(ob *onboarding.Service, wallets *wallet.Service, txns *orchestrator.Service, prices *pricing.Service, logger *slog.Logger, jwtSecret string) *Handlers {
	return &Handlers{
		onboarding: ob,
		wallets:    wallets,
		txns:       txns,
		prices:     prices,
		logger:     logger,
		jwtSecret:  jwtSecret,
		tokenTTL:   24 * time.Hour,
		validate:   validator.New(),
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps typed domain errors and store sentinels to HTTP statuses.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	var de *domain.Error
	if errors.As(err, &de) {
		status := http.StatusInternalServerError
		switch de.Kind {
		case domain.KindValidation:
			status = http.StatusBadRequest
		case domain.KindAuth:
			status = http.StatusForbidden
		case domain.KindInsufficientFunds:
			status = http.StatusUnprocessableEntity
		case domain.KindProviderRejected:
			status = http.StatusUnprocessableEntity
		case domain.KindProviderUnavailable:
			status = http.StatusServiceUnavailable
		case domain.KindProviderUndetermined:
			// the transaction is still processing; the caller polls
			status = http.StatusAccepted
		case domain.KindDuplicateIdempotent, domain.KindStateConflict:
			status = http.StatusConflict
		}
		if status == http.StatusInternalServerError {
			h.logger.Error("internal error surfaced to caller", "code", de.Code, "error", err)
		}
		writeJSON(w, status, errorResponse{Error: string(de.Kind), Code: de.Code, Message: de.Message})
		return
	}

	switch {
	case errors.Is(err, store.ErrUserNotFound),
		errors.Is(err, store.ErrWalletNotFound),
		errors.Is(err, store.ErrTransactionNotFound),
		errors.Is(err, store.ErrBeneficiaryNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not_found", Message: err.Error()})
	case errors.Is(err, store.ErrInsufficientFunds),
		errors.Is(err, store.ErrLimitExceeded):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "insufficient_funds", Message: err.Error()})
	case errors.Is(err, store.ErrWalletFrozen),
		errors.Is(err, store.ErrWalletInactive):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "wallet_blocked", Message: err.Error()})
	case errors.Is(err, store.ErrDuplicateReference):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "duplicate", Message: err.Error()})
	default:
		h.logger.Error("unhandled error surfaced to caller", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal", Message: "an unexpected error occurred"})
	}
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation", Message: "invalid JSON body"})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation", Message: err.Error()})
		return false
	}
	return true
}

func (h *Handlers) callerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "auth", Message: "missing authentication"})
	}
	return id, ok
}

// --- onboarding ---

type registerRequest struct {
	Phone string  `json:"phone" validate:"required"`
	Email *string `json:"email,omitempty" validate:"omitempty,email"`
}

type registerResponse struct {
	User  *domain.User `json:"user"`
	Token string       `json:"token"`
}

func (h *Handlers) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, err := h.onboarding.Register(r.Context(), req.Phone, req.Email)
	if err != nil {
		h.writeError(w, err)
		return
	}
	token, err := IssueToken(h.jwtSecret, user.ID, h.tokenTTL)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{User: user, Token: token})
}

type profileRequest struct {
	FirstName  string  `json:"first_name" validate:"required"`
	MiddleName string  `json:"middle_name,omitempty"`
	LastName   string  `json:"last_name" validate:"required"`
	Address    string  `json:"address" validate:"required"`
	Email      *string `json:"email,omitempty" validate:"omitempty,email"`
}

func (h *Handlers) handleSubmitProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	var req profileRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, err := h.onboarding.SubmitProfile(r.Context(), userID, onboarding.ProfileInput{
		FirstName:  req.FirstName,
		MiddleName: req.MiddleName,
		LastName:   req.LastName,
		Address:    req.Address,
		Email:      req.Email,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type kycRequest struct {
	BVN         string `json:"bvn" validate:"required,len=11,numeric"`
	DateOfBirth string `json:"date_of_birth" validate:"required"`
	Gender      string `json:"gender" validate:"required,oneof=male female"`
}

func (h *Handlers) handleSubmitKYC(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	var req kycRequest
	if !h.decode(w, r, &req) {
		return
	}
	dob, err := time.Parse("2006-01-02", req.DateOfBirth)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation", Message: "date_of_birth must be YYYY-MM-DD"})
		return
	}
	user, err := h.onboarding.SubmitKYC(r.Context(), userID, onboarding.KYCInput{
		BVN:         req.BVN,
		DateOfBirth: dob,
		Gender:      domain.Gender(req.Gender),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type setPINRequest struct {
	PIN string `json:"pin" validate:"required,len=4,numeric"`
}

func (h *Handlers) handleSetPIN(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	var req setPINRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.onboarding.SetPIN(r.Context(), userID, req.PIN); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) handleOnboardingStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	status, err := h.onboarding.GetStatus(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handlers) handleRetryVirtualAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	if err := h.onboarding.EnsureVirtualAccount(r.Context(), userID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- wallet ---

func (h *Handlers) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	sync := r.URL.Query().Get("sync") == "true"
	wlt, err := h.wallets.GetBalance(r.Context(), userID, sync)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wlt)
}

func (h *Handlers) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	txns, err := h.txns.ListTransactions(r.Context(), userID, limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txns)
}

func (h *Handlers) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	txn, err := h.txns.GetTransaction(r.Context(), pathParam(r, "reference"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if txn.UserID != userID {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not_found", Message: "transaction not found"})
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

// --- transfers ---

type bankTransferRequest struct {
	PIN             string `json:"pin" validate:"required,len=4,numeric"`
	Amount          int64  `json:"amount" validate:"required,gt=0"`
	AccountNumber   string `json:"account_number" validate:"required,len=10,numeric"`
	BankCode        string `json:"bank_code" validate:"required"`
	Narration       string `json:"narration,omitempty" validate:"max=80"`
	ClientReference string `json:"client_reference,omitempty"`
}

func (h *Handlers) handleBankTransfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	var req bankTransferRequest
	if !h.decode(w, r, &req) {
		return
	}
	txn, err := h.txns.BankTransfer(r.Context(), orchestrator.BankTransferInput{
		UserID:          userID,
		PIN:             req.PIN,
		Amount:          req.Amount,
		AccountNumber:   req.AccountNumber,
		BankCode:        req.BankCode,
		Narration:       req.Narration,
		ClientReference: req.ClientReference,
	})
	h.writeTransactionOutcome(w, txn, err)
}

type walletTransferRequest struct {
	PIN             string `json:"pin" validate:"required,len=4,numeric"`
	Amount          int64  `json:"amount" validate:"required,gt=0"`
	RecipientPhone  string `json:"recipient_phone" validate:"required"`
	Description     string `json:"description,omitempty" validate:"max=80"`
	ClientReference string `json:"client_reference,omitempty"`
}

func (h *Handlers) handleWalletTransfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	var req walletTransferRequest
	if !h.decode(w, r, &req) {
		return
	}
	txn, err := h.txns.WalletTransfer(r.Context(), orchestrator.WalletTransferInput{
		UserID:          userID,
		PIN:             req.PIN,
		RecipientPhone:  req.RecipientPhone,
		Amount:          req.Amount,
		Description:     req.Description,
		ClientReference: req.ClientReference,
	})
	h.writeTransactionOutcome(w, txn, err)
}

// writeTransactionOutcome renders the usual (txn, err) pair. An undetermined
// provider outcome returns 202 with the processing transaction so the caller
// can poll it.
func (h *Handlers) writeTransactionOutcome(w http.ResponseWriter, txn *domain.Transaction, err error) {
	if err != nil {
		if txn != nil && domain.ErrKind(err) == domain.KindProviderUndetermined {
			writeJSON(w, http.StatusAccepted, txn)
			return
		}
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

// --- VAS ---

type airtimeRequest struct {
	PIN             string `json:"pin" validate:"required,len=4,numeric"`
	Phone           string `json:"phone" validate:"required"`
	Network         string `json:"network" validate:"required"`
	Amount          int64  `json:"amount" validate:"required,gt=0"`
	ClientReference string `json:"client_reference,omitempty"`
}

func (h *Handlers) handleAirtime(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	var req airtimeRequest
	if !h.decode(w, r, &req) {
		return
	}
	txn, err := h.txns.Airtime(r.Context(), orchestrator.AirtimeInput{
		UserID:          userID,
		PIN:             req.PIN,
		Phone:           req.Phone,
		Network:         req.Network,
		Amount:          req.Amount,
		ClientReference: req.ClientReference,
	})
	h.writeTransactionOutcome(w, txn, err)
}

type dataRequest struct {
	PIN             string `json:"pin" validate:"required,len=4,numeric"`
	Phone           string `json:"phone" validate:"required"`
	Network         string `json:"network" validate:"required"`
	PlanID          string `json:"plan_id" validate:"required"`
	RetailPrice     int64  `json:"retail_price" validate:"required,gt=0"`
	ClientReference string `json:"client_reference,omitempty"`
}

func (h *Handlers) handleData(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	var req dataRequest
	if !h.decode(w, r, &req) {
		return
	}
	txn, err := h.txns.Data(r.Context(), orchestrator.DataInput{
		UserID:          userID,
		PIN:             req.PIN,
		Phone:           req.Phone,
		Network:         req.Network,
		PlanID:          req.PlanID,
		RetailPrice:     req.RetailPrice,
		ClientReference: req.ClientReference,
	})
	h.writeTransactionOutcome(w, txn, err)
}

type utilityRequest struct {
	PIN             string `json:"pin" validate:"required,len=4,numeric"`
	Biller          string `json:"biller" validate:"required"`
	Meter           string `json:"meter" validate:"required"`
	Phone           string `json:"phone,omitempty"`
	Amount          int64  `json:"amount" validate:"required,gt=0"`
	ClientReference string `json:"client_reference,omitempty"`
}

func (h *Handlers) handleUtility(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	var req utilityRequest
	if !h.decode(w, r, &req) {
		return
	}
	txn, err := h.txns.Utility(r.Context(), orchestrator.UtilityInput{
		UserID:          userID,
		PIN:             req.PIN,
		Biller:          req.Biller,
		Meter:           req.Meter,
		Phone:           req.Phone,
		Amount:          req.Amount,
		ClientReference: req.ClientReference,
	})
	h.writeTransactionOutcome(w, txn, err)
}

type cableRequest struct {
	PIN             string `json:"pin" validate:"required,len=4,numeric"`
	Biller          string `json:"biller" validate:"required"`
	Smartcard       string `json:"smartcard" validate:"required"`
	PlanID          string `json:"plan_id" validate:"required"`
	RetailPrice     int64  `json:"retail_price" validate:"required,gt=0"`
	ClientReference string `json:"client_reference,omitempty"`
}

func (h *Handlers) handleCable(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	var req cableRequest
	if !h.decode(w, r, &req) {
		return
	}
	txn, err := h.txns.Cable(r.Context(), orchestrator.CableInput{
		UserID:          userID,
		PIN:             req.PIN,
		Biller:          req.Biller,
		Smartcard:       req.Smartcard,
		PlanID:          req.PlanID,
		RetailPrice:     req.RetailPrice,
		ClientReference: req.ClientReference,
	})
	h.writeTransactionOutcome(w, txn, err)
}

// --- beneficiaries ---

type saveBeneficiaryRequest struct {
	Type          string `json:"type" validate:"required,oneof=bank_account phone_number platform_user"`
	AccountNumber string `json:"account_number,omitempty"`
	BankCode      string `json:"bank_code,omitempty"`
	BankName      string `json:"bank_name,omitempty"`
	AccountName   string `json:"account_name,omitempty"`
	Phone         string `json:"phone,omitempty"`
	Nickname      string `json:"nickname,omitempty" validate:"max=50"`
	Category      string `json:"category,omitempty" validate:"max=30"`
}

func (h *Handlers) handleSaveBeneficiary(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	var req saveBeneficiaryRequest
	if !h.decode(w, r, &req) {
		return
	}
	b, err := h.txns.SaveBeneficiary(r.Context(), orchestrator.SaveBeneficiaryInput{
		UserID:        userID,
		Type:          domain.BeneficiaryType(req.Type),
		AccountNumber: req.AccountNumber,
		BankCode:      req.BankCode,
		BankName:      req.BankName,
		AccountName:   req.AccountName,
		Phone:         req.Phone,
		Nickname:      req.Nickname,
		Category:      req.Category,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *Handlers) handleListBeneficiaries(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	list, err := h.txns.ListBeneficiaries(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type updateBeneficiaryRequest struct {
	Nickname string `json:"nickname,omitempty" validate:"max=50"`
	Category string `json:"category,omitempty" validate:"max=30"`
}

func (h *Handlers) handleUpdateBeneficiary(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(pathParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation", Message: "invalid beneficiary id"})
		return
	}
	var req updateBeneficiaryRequest
	if !h.decode(w, r, &req) {
		return
	}
	b, err := h.txns.UpdateBeneficiary(r.Context(), userID, id, req.Nickname, req.Category)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handlers) handleDeleteBeneficiary(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(pathParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation", Message: "invalid beneficiary id"})
		return
	}
	if err := h.txns.DeleteBeneficiary(r.Context(), userID, id); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// --- admin ---

type priceOverrideRequest struct {
	Network string `json:"network" validate:"required"`
	PlanID  string `json:"plan_id" validate:"required"`
	Selling int64  `json:"selling_price" validate:"required,gt=0"`
}

func (h *Handlers) handleSetPriceOverride(w http.ResponseWriter, r *http.Request) {
	var req priceOverrideRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.prices.SetOverride(r.Context(), req.Network, req.PlanID, req.Selling); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type freezeRequest struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
	Reason string    `json:"reason" validate:"required"`
}

func (h *Handlers) handleFreezeWallet(w http.ResponseWriter, r *http.Request) {
	var req freezeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.wallets.Freeze(r.Context(), req.UserID, req.Reason); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "frozen"})
}

type unfreezeRequest struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
}

func (h *Handlers) handleUnfreezeWallet(w http.ResponseWriter, r *http.Request) {
	var req unfreezeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.wallets.Unfreeze(r.Context(), req.UserID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

func (h *Handlers) handleClearReviewFlag(w http.ResponseWriter, r *http.Request) {
	var req unfreezeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.wallets.ClearReviewFlag(r.Context(), req.UserID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
