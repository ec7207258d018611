/**
 * @description
 * In-memory implementation of the Repository interface. It backs the test
 * suite and local development without Postgres while honouring the same
 * semantics: per-wallet exclusive locking, canonical lock ordering for
 * cross-wallet transfers, uniqueness constraints, and idempotency records.
 */
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DesignerDev23/MiiMii-sub002/internal/domain"
)

// MemoryRepository is a fully concurrent-safe, map-backed Repository.
type MemoryRepository struct {
	mu sync.RWMutex

	users        map[uuid.UUID]*domain.User
	wallets      map[uuid.UUID]*domain.Wallet // keyed by user id
	transactions map[uuid.UUID]*domain.Transaction
	byReference  map[string]uuid.UUID
	beneficiarys map[uuid.UUID]*domain.Beneficiary
	idempotency  map[string]string
	kv           map[string]string

	walletLocks map[uuid.UUID]*sync.Mutex
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:        make(map[uuid.UUID]*domain.User),
		wallets:      make(map[uuid.UUID]*domain.Wallet),
		transactions: make(map[uuid.UUID]*domain.Transaction),
		byReference:  make(map[string]uuid.UUID),
		beneficiarys: make(map[uuid.UUID]*domain.Beneficiary),
		idempotency:  make(map[string]string),
		kv:           make(map[string]string),
		walletLocks:  make(map[uuid.UUID]*sync.Mutex),
	}
}

func (r *MemoryRepository) walletLock(userID uuid.UUID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.walletLocks[userID]; ok {
		return l
	}
	l := &sync.Mutex{}
	r.walletLocks[userID] = l
	return l
}

func copyUser(u *domain.User) *domain.User {
	c := *u
	return &c
}

func copyWallet(w *domain.Wallet) *domain.Wallet {
	c := *w
	return &c
}

func copyTransaction(t *domain.Transaction) *domain.Transaction {
	c := *t
	return &c
}

func (r *MemoryRepository) CreateUserWithWallet(ctx context.Context, user *domain.User, wallet *domain.Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.users {
		if existing.Phone == user.Phone {
			return ErrDuplicateReference
		}
		if user.Email != nil && existing.Email != nil && *existing.Email == *user.Email {
			return ErrDuplicateReference
		}
		if user.BVN != nil && existing.BVN != nil && *existing.BVN == *user.BVN {
			return ErrDuplicateReference
		}
	}

	now := time.Now().UTC()
	u := copyUser(user)
	u.CreatedAt, u.UpdatedAt = now, now
	w := copyWallet(wallet)
	w.CreatedAt, w.UpdatedAt = now, now

	r.users[u.ID] = u
	r.wallets[w.UserID] = w
	return nil
}

func (r *MemoryRepository) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return copyUser(u), nil
}

func (r *MemoryRepository) GetUserByPhone(ctx context.Context, phone string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.Phone == phone {
			return copyUser(u), nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *MemoryRepository) FindUserByVirtualAccount(ctx context.Context, accountNumber string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for userID, w := range r.wallets {
		if w.VirtualAccountNumber != nil && *w.VirtualAccountNumber == accountNumber {
			if u, ok := r.users[userID]; ok {
				return copyUser(u), nil
			}
		}
	}
	return nil, ErrUserNotFound
}

func (r *MemoryRepository) FindUserBySponsorCustomerID(ctx context.Context, customerID string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for userID, w := range r.wallets {
		if w.SponsorCustomerID != nil && *w.SponsorCustomerID == customerID {
			if u, ok := r.users[userID]; ok {
				return copyUser(u), nil
			}
		}
	}
	return nil, ErrUserNotFound
}

func (r *MemoryRepository) UpdateUser(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.users[user.ID]
	if !ok {
		return ErrUserNotFound
	}
	u := copyUser(user)
	u.PINHash = existing.PINHash
	u.PINFailedAttempts = existing.PINFailedAttempts
	u.PINLockedUntil = existing.PINLockedUntil
	u.OnboardingStep = existing.OnboardingStep
	u.CreatedAt = existing.CreatedAt
	u.UpdatedAt = time.Now().UTC()
	r.users[user.ID] = u
	return nil
}

func (r *MemoryRepository) ListActiveUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []uuid.UUID
	for _, u := range r.users {
		if u.IsActive && !u.IsBanned {
			ids = append(ids, u.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

func (r *MemoryRepository) AdvanceOnboardingStep(ctx context.Context, userID uuid.UUID, step domain.OnboardingStep) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return false, ErrUserNotFound
	}
	if !step.After(u.OnboardingStep) {
		return false, nil
	}
	u.OnboardingStep = step
	u.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *MemoryRepository) SetPIN(ctx context.Context, userID uuid.UUID, pinHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.PINHash = pinHash
	u.PINFailedAttempts = 0
	u.PINLockedUntil = nil
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) RecordFailedPINAttempt(ctx context.Context, userID uuid.UUID, maxAttempts int, lockout time.Duration) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	now := time.Now().UTC()
	if u.PINLockedUntil != nil && !u.PINLockedUntil.After(now) {
		u.PINFailedAttempts = 1
		u.PINLockedUntil = nil
	} else {
		u.PINFailedAttempts++
	}
	if u.PINFailedAttempts >= maxAttempts {
		until := now.Add(lockout)
		u.PINLockedUntil = &until
	}
	u.UpdatedAt = now
	return copyUser(u), nil
}

func (r *MemoryRepository) ResetPINFailures(ctx context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.PINFailedAttempts = 0
	u.PINLockedUntil = nil
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) GetWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.wallets[userID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	return copyWallet(w), nil
}

func (r *MemoryRepository) storeResult(w *domain.Wallet, txns ...*domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range txns {
		if t == nil {
			continue
		}
		if existingID, ok := r.byReference[t.Reference]; ok && existingID != t.ID {
			return ErrDuplicateReference
		}
		if t.Metadata.IdempotencyKey != "" {
			for _, other := range r.transactions {
				if other.ID != t.ID && other.UserID == t.UserID && other.Metadata.IdempotencyKey == t.Metadata.IdempotencyKey {
					return ErrDuplicateReference
				}
			}
		}
	}
	w.UpdatedAt = time.Now().UTC()
	r.wallets[w.UserID] = copyWallet(w)
	for _, t := range txns {
		if t == nil {
			continue
		}
		c := copyTransaction(t)
		if existing, ok := r.transactions[t.ID]; ok {
			c.CreatedAt = existing.CreatedAt
		} else if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now().UTC()
		}
		c.UpdatedAt = time.Now().UTC()
		r.transactions[c.ID] = c
		r.byReference[c.Reference] = c.ID
	}
	return nil
}

func (r *MemoryRepository) WithWallet(ctx context.Context, userID uuid.UUID, fn WalletApplyFunc) (*domain.Wallet, *domain.Transaction, error) {
	lock := r.walletLock(userID)
	lock.Lock()
	defer lock.Unlock()

	w, err := r.GetWallet(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	txn, err := fn(w)
	if err != nil {
		return nil, nil, err
	}

	if err := r.storeResult(w, txn); err != nil {
		return nil, nil, err
	}
	return w, txn, nil
}

func (r *MemoryRepository) WithWallets(ctx context.Context, fromUserID, toUserID uuid.UUID, fn func(from, to *domain.Wallet) ([]*domain.Transaction, error)) error {
	first, second := fromUserID, toUserID
	if strings.Compare(second.String(), first.String()) < 0 {
		first, second = second, first
	}
	l1, l2 := r.walletLock(first), r.walletLock(second)
	l1.Lock()
	defer l1.Unlock()
	if l2 != l1 {
		l2.Lock()
		defer l2.Unlock()
	}

	from, err := r.GetWallet(ctx, fromUserID)
	if err != nil {
		return err
	}
	to, err := r.GetWallet(ctx, toUserID)
	if err != nil {
		return err
	}

	txns, err := fn(from, to)
	if err != nil {
		return err
	}

	if err := r.storeResult(from, txns...); err != nil {
		return err
	}
	return r.storeResult(to)
}

func (r *MemoryRepository) AssignVirtualAccount(ctx context.Context, userID uuid.UUID, accountNumber, bankName, accountName, customerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.wallets {
		if w.VirtualAccountNumber != nil && *w.VirtualAccountNumber == accountNumber {
			return ErrDuplicateReference
		}
	}
	w, ok := r.wallets[userID]
	if !ok || w.VirtualAccountNumber != nil {
		return ErrWalletNotFound
	}
	w.VirtualAccountNumber = &accountNumber
	w.VirtualAccountBank = &bankName
	w.VirtualAccountName = &accountName
	w.SponsorCustomerID = &customerID
	w.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) ListWalletsMissingVirtualAccount(ctx context.Context) ([]*domain.Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Wallet
	for _, w := range r.wallets {
		if w.IsActive && w.VirtualAccountNumber == nil {
			out = append(out, copyWallet(w))
		}
	}
	return out, nil
}

func (r *MemoryRepository) ListWalletsWithVirtualAccount(ctx context.Context) ([]*domain.Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Wallet
	for _, w := range r.wallets {
		if w.IsActive && w.VirtualAccountNumber != nil {
			out = append(out, copyWallet(w))
		}
	}
	return out, nil
}

func (r *MemoryRepository) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byReference[t.Reference]; ok {
		return ErrDuplicateReference
	}
	c := copyTransaction(t)
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	r.transactions[c.ID] = c
	r.byReference[c.Reference] = c.ID
	return nil
}

func (r *MemoryRepository) UpdateTransaction(ctx context.Context, t *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.transactions[t.ID]
	if !ok {
		return ErrTransactionNotFound
	}
	c := copyTransaction(t)
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = time.Now().UTC()
	r.transactions[c.ID] = c
	return nil
}

func (r *MemoryRepository) FinalizeTransaction(ctx context.Context, t *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.transactions[t.ID]
	if !ok {
		return ErrTransactionNotFound
	}
	if existing.Status.Terminal() {
		return ErrAlreadyFinal
	}
	c := copyTransaction(t)
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = time.Now().UTC()
	r.transactions[c.ID] = c
	return nil
}

func (r *MemoryRepository) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transactions[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return copyTransaction(t), nil
}

func (r *MemoryRepository) GetTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byReference[reference]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return copyTransaction(r.transactions[id]), nil
}

func (r *MemoryRepository) FindByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var newest *domain.Transaction
	for _, t := range r.transactions {
		if t.UserID == userID && t.Metadata.IdempotencyKey == key {
			if newest == nil || t.CreatedAt.After(newest.CreatedAt) {
				newest = t
			}
		}
	}
	if newest == nil {
		return nil, ErrTransactionNotFound
	}
	return copyTransaction(newest), nil
}

func (r *MemoryRepository) FindByProviderReference(ctx context.Context, providerReference string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.transactions {
		if t.ProviderReference != nil && *t.ProviderReference == providerReference {
			return copyTransaction(t), nil
		}
	}
	if id, ok := r.byReference[providerReference]; ok {
		return copyTransaction(r.transactions[id]), nil
	}
	return nil, ErrTransactionNotFound
}

func (r *MemoryRepository) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	var all []domain.Transaction
	for _, t := range r.transactions {
		if t.UserID == userID {
			all = append(all, *copyTransaction(t))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *MemoryRepository) FindStaleOutbound(ctx context.Context, category domain.TransactionCategory, olderThan time.Time) ([]domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Transaction
	for _, t := range r.transactions {
		if t.Type == domain.TypeDebit && t.Category == category && !t.Status.Terminal() && t.CreatedAt.Before(olderThan) {
			out = append(out, *copyTransaction(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func beneficiaryKey(b *domain.Beneficiary) string {
	if b.Type == domain.BeneficiaryPhoneNumber {
		return b.UserID.String() + "|phone|" + b.Phone
	}
	return b.UserID.String() + "|" + b.AccountNumber + "|" + b.BankCode
}

func (r *MemoryRepository) UpsertBeneficiary(ctx context.Context, b *domain.Beneficiary) (*domain.Beneficiary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := beneficiaryKey(b)
	now := time.Now().UTC()
	for _, existing := range r.beneficiarys {
		if existing.IsActive && beneficiaryKey(existing) == key {
			existing.AccountName = b.AccountName
			existing.BankName = b.BankName
			existing.TotalTransactions += b.TotalTransactions
			existing.TotalAmount += b.TotalAmount
			if b.LastUsedAt != nil {
				existing.LastUsedAt = b.LastUsedAt
			}
			existing.UpdatedAt = now
			c := *existing
			return &c, nil
		}
	}
	c := *b
	c.IsActive = true
	c.CreatedAt, c.UpdatedAt = now, now
	r.beneficiarys[c.ID] = &c
	out := c
	return &out, nil
}

func (r *MemoryRepository) ListBeneficiaries(ctx context.Context, userID uuid.UUID) ([]domain.Beneficiary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Beneficiary
	for _, b := range r.beneficiarys {
		if b.UserID == userID && b.IsActive {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) GetBeneficiary(ctx context.Context, id, userID uuid.UUID) (*domain.Beneficiary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.beneficiarys[id]
	if !ok || b.UserID != userID || !b.IsActive {
		return nil, ErrBeneficiaryNotFound
	}
	c := *b
	return &c, nil
}

func (r *MemoryRepository) UpdateBeneficiary(ctx context.Context, b *domain.Beneficiary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.beneficiarys[b.ID]
	if !ok || existing.UserID != b.UserID || !existing.IsActive {
		return ErrBeneficiaryNotFound
	}
	existing.Nickname = b.Nickname
	existing.Category = b.Category
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) DeleteBeneficiary(ctx context.Context, id, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.beneficiarys[id]
	if !ok || existing.UserID != userID || !existing.IsActive {
		return ErrBeneficiaryNotFound
	}
	existing.IsActive = false
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) InsertIdempotencyRecord(ctx context.Context, source, providerReference, outcome string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := source + "|" + providerReference
	if _, ok := r.idempotency[key]; ok {
		return false, nil
	}
	r.idempotency[key] = outcome
	return true, nil
}

func (r *MemoryRepository) GetKV(ctx context.Context, key string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.kv[key]
	return v, ok, nil
}

func (r *MemoryRepository) SetKV(ctx context.Context, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kv[key] = value
	return nil
}
