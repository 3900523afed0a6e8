package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"solana-position-engine/internal/domain"
	"solana-position-engine/internal/storage"
)

// Book holds wallets and positions under one lock so that WithinTx can
// change both atomically. WalletStore, PositionStore and UnitOfWork are
// views over a shared Book.
//
// The lock is held for the whole of a WithinTx callback; the callback must
// only use the Tx it is given.
type Book struct {
	mu        sync.Mutex
	wallets   map[int64]*domain.Wallet   // keyed by wallet_id
	positions map[int64]*domain.Position // keyed by position_id
	nextID    int64
}

// NewBook creates an empty in-memory wallet and position book.
func NewBook() *Book {
	return &Book{
		wallets:   make(map[int64]*domain.Wallet),
		positions: make(map[int64]*domain.Position),
	}
}

func copyWallet(w *domain.Wallet) *domain.Wallet {
	c := *w
	if w.ActiveTokenID != nil {
		id := *w.ActiveTokenID
		c.ActiveTokenID = &id
	}
	return &c
}

func copyPosition(p *domain.Position) *domain.Position {
	c := *p
	if p.ExitIteration != nil {
		v := *p.ExitIteration
		c.ExitIteration = &v
	}
	if p.ExitPriceUSD != nil {
		v := *p.ExitPriceUSD
		c.ExitPriceUSD = &v
	}
	if p.ExitSignature != nil {
		v := *p.ExitSignature
		c.ExitSignature = &v
	}
	if p.ExitReason != nil {
		v := *p.ExitReason
		c.ExitReason = &v
	}
	if p.ClosedAt != nil {
		v := *p.ClosedAt
		c.ClosedAt = &v
	}
	return &c
}

// openByWallet and openByToken must be called with mu held.
func (b *Book) openByWallet(walletID int64) *domain.Position {
	for _, p := range b.positions {
		if p.WalletID == walletID && p.IsOpen() {
			return p
		}
	}
	return nil
}

func (b *Book) openByToken(tokenID string) *domain.Position {
	for _, p := range b.positions {
		if p.TokenID == tokenID && p.IsOpen() {
			return p
		}
	}
	return nil
}

func (b *Book) signatureUsed(sig string) bool {
	for _, p := range b.positions {
		if p.EntrySignature == sig || (p.ExitSignature != nil && *p.ExitSignature == sig) {
			return true
		}
	}
	return false
}

func sortPositions(ps []*domain.Position) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].PositionID < ps[j].PositionID })
}

// WalletStore is an in-memory implementation of storage.WalletStore.
type WalletStore struct {
	b *Book
}

// NewWalletStore creates a wallet view over b.
func NewWalletStore(b *Book) *WalletStore {
	return &WalletStore{b: b}
}

// Insert adds a new wallet. Returns ErrDuplicateKey if wallet_id or address exists.
func (s *WalletStore) Insert(_ context.Context, w *domain.Wallet) error {
	if w == nil || w.Address == "" || w.EntryAmountUSD < 0 {
		return storage.ErrInvalidInput
	}

	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	if _, exists := s.b.wallets[w.WalletID]; exists {
		return storage.ErrDuplicateKey
	}
	for _, existing := range s.b.wallets {
		if existing.Address == w.Address {
			return storage.ErrDuplicateKey
		}
	}

	c := copyWallet(w)
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.b.wallets[w.WalletID] = c
	return nil
}

// GetByID retrieves a wallet by its ID. Returns ErrNotFound if not exists.
func (s *WalletStore) GetByID(_ context.Context, walletID int64) (*domain.Wallet, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	w, exists := s.b.wallets[walletID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copyWallet(w), nil
}

// List retrieves all wallets ordered by wallet_id ASC.
func (s *WalletStore) List(_ context.Context) ([]*domain.Wallet, error) {
	return s.list(func(*domain.Wallet) bool { return true }), nil
}

// ListFree retrieves wallets with entry_amount_usd > 0 and no open position.
func (s *WalletStore) ListFree(_ context.Context) ([]*domain.Wallet, error) {
	return s.list(func(w *domain.Wallet) bool {
		return w.Enabled() && s.b.openByWallet(w.WalletID) == nil
	}), nil
}

func (s *WalletStore) list(keep func(*domain.Wallet) bool) []*domain.Wallet {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	var result []*domain.Wallet
	for _, w := range s.b.wallets {
		if keep(w) {
			result = append(result, copyWallet(w))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].WalletID < result[j].WalletID })
	return result
}

// SetEntryAmount updates entry_amount_usd. Returns ErrNotFound if not exists.
func (s *WalletStore) SetEntryAmount(_ context.Context, walletID int64, amountUSD float64) error {
	if amountUSD < 0 {
		return storage.ErrInvalidInput
	}
	return s.update(walletID, func(w *domain.Wallet) { w.EntryAmountUSD = amountUSD })
}

// SetCash updates cash_usd. Returns ErrNotFound if not exists.
func (s *WalletStore) SetCash(_ context.Context, walletID int64, cashUSD float64) error {
	return s.update(walletID, func(w *domain.Wallet) { w.CashUSD = cashUSD })
}

// ClearActiveToken unbinds the wallet. Returns ErrNotBound if it was not bound.
func (s *WalletStore) ClearActiveToken(_ context.Context, walletID int64) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	w, exists := s.b.wallets[walletID]
	if !exists {
		return storage.ErrNotFound
	}
	if w.ActiveTokenID == nil {
		return storage.ErrNotBound
	}
	w.ActiveTokenID = nil
	w.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *WalletStore) update(walletID int64, fn func(*domain.Wallet)) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	w, exists := s.b.wallets[walletID]
	if !exists {
		return storage.ErrNotFound
	}
	fn(w)
	w.UpdatedAt = time.Now().UTC()
	return nil
}

// PositionStore is an in-memory implementation of storage.PositionStore.
type PositionStore struct {
	b *Book
}

// NewPositionStore creates a position view over b.
func NewPositionStore(b *Book) *PositionStore {
	return &PositionStore{b: b}
}

// GetByID retrieves a position by its ID. Returns ErrNotFound if not exists.
func (s *PositionStore) GetByID(_ context.Context, positionID int64) (*domain.Position, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	p, exists := s.b.positions[positionID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copyPosition(p), nil
}

// ListOpen retrieves all open positions ordered by position_id ASC.
func (s *PositionStore) ListOpen(_ context.Context) ([]*domain.Position, error) {
	return s.list(func(p *domain.Position) bool { return p.IsOpen() }), nil
}

// GetOpenByWallet retrieves the open position of a wallet. Returns ErrNotFound if none.
func (s *PositionStore) GetOpenByWallet(_ context.Context, walletID int64) (*domain.Position, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	if p := s.b.openByWallet(walletID); p != nil {
		return copyPosition(p), nil
	}
	return nil, storage.ErrNotFound
}

// GetOpenByToken retrieves the open position of a token. Returns ErrNotFound if none.
func (s *PositionStore) GetOpenByToken(_ context.Context, tokenID string) (*domain.Position, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	if p := s.b.openByToken(tokenID); p != nil {
		return copyPosition(p), nil
	}
	return nil, storage.ErrNotFound
}

// ListByWallet retrieves the full history of a wallet ordered by position_id ASC.
func (s *PositionStore) ListByWallet(_ context.Context, walletID int64) ([]*domain.Position, error) {
	return s.list(func(p *domain.Position) bool { return p.WalletID == walletID }), nil
}

func (s *PositionStore) list(keep func(*domain.Position) bool) []*domain.Position {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	var result []*domain.Position
	for _, p := range s.b.positions {
		if keep(p) {
			result = append(result, copyPosition(p))
		}
	}
	sortPositions(result)
	return result
}

// Close marks a position closed. Returns ErrNotFound or ErrAlreadyClosed.
func (s *PositionStore) Close(_ context.Context, positionID int64, c storage.PositionClose) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	p, exists := s.b.positions[positionID]
	if !exists {
		return storage.ErrNotFound
	}
	if !p.IsOpen() {
		return storage.ErrAlreadyClosed
	}
	if c.Signature != "" && s.b.signatureUsed(c.Signature) {
		return storage.ErrDuplicateKey
	}

	iteration, price, sig, reason, at := c.Iteration, c.PriceUSD, c.Signature, c.Reason, c.ClosedAt
	p.ExitIteration = &iteration
	p.ExitPriceUSD = &price
	p.ExitSignature = &sig
	p.ExitReason = &reason
	p.ClosedAt = &at
	return nil
}

// MaxIteration returns the highest entry or exit iteration recorded, 0 if none.
func (s *PositionStore) MaxIteration(_ context.Context) (int64, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	var maxIter int64
	for _, p := range s.b.positions {
		if p.EntryIteration > maxIter {
			maxIter = p.EntryIteration
		}
		if p.ExitIteration != nil && *p.ExitIteration > maxIter {
			maxIter = *p.ExitIteration
		}
	}
	return maxIter, nil
}

// UnitOfWork is an in-memory implementation of storage.UnitOfWork.
type UnitOfWork struct {
	b *Book
}

// NewUnitOfWork creates a transactional view over b.
func NewUnitOfWork(b *Book) *UnitOfWork {
	return &UnitOfWork{b: b}
}

// WithinTx runs fn with the book locked. Changes are discarded if fn fails.
func (u *UnitOfWork) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	u.b.mu.Lock()
	defer u.b.mu.Unlock()

	snapWallets := make(map[int64]*domain.Wallet, len(u.b.wallets))
	for id, w := range u.b.wallets {
		snapWallets[id] = copyWallet(w)
	}
	snapPositions := make(map[int64]*domain.Position, len(u.b.positions))
	for id, p := range u.b.positions {
		snapPositions[id] = copyPosition(p)
	}
	snapNext := u.b.nextID

	if err := fn(ctx, &bookTx{b: u.b}); err != nil {
		u.b.wallets = snapWallets
		u.b.positions = snapPositions
		u.b.nextID = snapNext
		return err
	}
	return nil
}

// bookTx implements storage.Tx with the book lock already held.
type bookTx struct {
	b *Book
}

func (t *bookTx) LockWallet(_ context.Context, walletID int64) (*domain.Wallet, error) {
	w, exists := t.b.wallets[walletID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copyWallet(w), nil
}

func (t *bookTx) SetActiveToken(_ context.Context, walletID int64, tokenID *string) error {
	w, exists := t.b.wallets[walletID]
	if !exists {
		return storage.ErrNotFound
	}
	if tokenID == nil {
		w.ActiveTokenID = nil
	} else {
		id := *tokenID
		w.ActiveTokenID = &id
	}
	w.UpdatedAt = time.Now().UTC()
	return nil
}

func (t *bookTx) GetOpenByWallet(_ context.Context, walletID int64) (*domain.Position, error) {
	if p := t.b.openByWallet(walletID); p != nil {
		return copyPosition(p), nil
	}
	return nil, storage.ErrNotFound
}

func (t *bookTx) GetOpenByToken(_ context.Context, tokenID string) (*domain.Position, error) {
	if p := t.b.openByToken(tokenID); p != nil {
		return copyPosition(p), nil
	}
	return nil, storage.ErrNotFound
}

func (t *bookTx) InsertPosition(_ context.Context, p *domain.Position) error {
	if p == nil || p.TokenID == "" || p.EntrySignature == "" || !p.IsOpen() {
		return storage.ErrInvalidInput
	}
	if t.b.openByWallet(p.WalletID) != nil {
		return storage.ErrWalletAlreadyOpen
	}
	if t.b.openByToken(p.TokenID) != nil {
		return storage.ErrTokenAlreadyOpen
	}
	if t.b.signatureUsed(p.EntrySignature) {
		return storage.ErrDuplicateKey
	}

	t.b.nextID++
	p.PositionID = t.b.nextID
	t.b.positions[p.PositionID] = copyPosition(p)
	return nil
}

// Verify interface compliance at compile time.
var (
	_ storage.WalletStore   = (*WalletStore)(nil)
	_ storage.PositionStore = (*PositionStore)(nil)
	_ storage.UnitOfWork    = (*UnitOfWork)(nil)
	_ storage.Tx            = (*bookTx)(nil)
)
