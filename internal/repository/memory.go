package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/Dan9191/bank-cards/internal/sentinel"
	"github.com/google/uuid"
)

// MemoryStore keeps everything in process memory. A single mutex
// serializes writers, and RunInTx holds it for the whole unit, so a
// transfer is applied completely or not at all.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[uuid.UUID]*models.User
	cards     map[uuid.UUID]*models.Card
	transfers []models.Transfer
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[uuid.UUID]*models.User),
		cards: make(map[uuid.UUID]*models.Card),
	}
}

// RunInTx stages writes made through tx and applies them only if fn succeeds
func (s *MemoryStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, staged: make(map[uuid.UUID]*models.Card)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	for id, card := range tx.staged {
		s.cards[id] = card
	}
	s.transfers = append(s.transfers, tx.transfers...)
	return nil
}

// Users

func (s *MemoryStore) CreateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usernameTaken(user.Username, user.ID) {
		return fmt.Errorf("username %q already taken: %w", user.Username, sentinel.ErrConflict)
	}
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; !ok {
		return fmt.Errorf("user %s: %w", user.ID, sentinel.ErrNotFound)
	}
	if s.usernameTaken(user.Username, user.ID) {
		return fmt.Errorf("username %q already taken: %w", user.Username, sentinel.ErrConflict)
	}
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

func (s *MemoryStore) FindUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if user, ok := s.users[id]; ok {
		cp := *user
		return &cp, nil
	}
	return nil, fmt.Errorf("user %s: %w", id, sentinel.ErrNotFound)
}

func (s *MemoryStore) FindUserByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.users {
		if user.Username == username {
			cp := *user
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("user %q: %w", username, sentinel.ErrNotFound)
}

func (s *MemoryStore) ListUsers(_ context.Context, query string, page models.PageRequest) (*models.Page[models.User], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query = strings.ToLower(query)
	matched := make([]models.User, 0, len(s.users))
	for _, user := range s.users {
		if query == "" || strings.Contains(strings.ToLower(user.Username), query) {
			matched = append(matched, *user)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Username < matched[j].Username })
	return paginate(matched, page), nil
}

// DeleteUser removes the user and cascades to its cards
func (s *MemoryStore) DeleteUser(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return fmt.Errorf("user %s: %w", id, sentinel.ErrNotFound)
	}
	delete(s.users, id)
	for cardID, card := range s.cards {
		if card.OwnerID == id {
			delete(s.cards, cardID)
		}
	}
	return nil
}

// Cards

func (s *MemoryStore) FindCardByID(_ context.Context, id uuid.UUID) (*models.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	card, ok := s.cards[id]
	if !ok {
		return nil, fmt.Errorf("card %s: %w", id, sentinel.ErrNotFound)
	}
	return s.withOwner(card), nil
}

func (s *MemoryStore) SaveCard(_ context.Context, card *models.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkCard(card, nil); err != nil {
		return err
	}
	s.cards[card.ID] = cloneCard(card)
	return nil
}

func (s *MemoryStore) DeleteCard(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cards[id]; !ok {
		return fmt.Errorf("card %s: %w", id, sentinel.ErrNotFound)
	}
	delete(s.cards, id)
	return nil
}

func (s *MemoryStore) FindCards(_ context.Context, filter models.CardFilter, page models.PageRequest) (*models.Page[models.Card], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]models.Card, 0, len(s.cards))
	for _, card := range s.cards {
		if filter.Status != nil && card.Status != *filter.Status {
			continue
		}
		if filter.OwnerID != nil && card.OwnerID != *filter.OwnerID {
			continue
		}
		matched = append(matched, *s.withOwner(card))
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})
	return paginate(matched, page), nil
}

func (s *MemoryStore) ExpireCards(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := models.Date(before)
	var n int64
	for _, card := range s.cards {
		if card.Status != models.CardStatusExpired && models.Date(card.Expiration).Before(cutoff) {
			card.Status = models.CardStatusExpired
			card.UpdatedAt = before
			n++
		}
	}
	return n, nil
}

// Transfers

func (s *MemoryStore) ListTransfersByCard(_ context.Context, cardID uuid.UUID) ([]models.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	transfers := []models.Transfer{}
	for i := len(s.transfers) - 1; i >= 0; i-- {
		t := s.transfers[i]
		if t.FromCardID == cardID || t.ToCardID == cardID {
			transfers = append(transfers, t)
		}
	}
	return transfers, nil
}

// Transfers returns a copy of the whole ledger
func (s *MemoryStore) Transfers() []models.Transfer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Transfer(nil), s.transfers...)
}

// memTx runs with the store mutex already held
type memTx struct {
	store     *MemoryStore
	staged    map[uuid.UUID]*models.Card
	transfers []models.Transfer
}

func (t *memTx) current(id uuid.UUID) (*models.Card, bool) {
	if card, ok := t.staged[id]; ok {
		return card, true
	}
	card, ok := t.store.cards[id]
	return card, ok
}

func (t *memTx) LockCards(_ context.Context, ids ...uuid.UUID) (map[uuid.UUID]*models.Card, error) {
	cards := make(map[uuid.UUID]*models.Card, len(ids))
	for _, id := range ids {
		if card, ok := t.current(id); ok {
			cards[id] = t.store.withOwner(card)
		}
	}
	return cards, nil
}

func (t *memTx) SaveCard(_ context.Context, card *models.Card) error {
	if err := t.store.checkCard(card, t.staged); err != nil {
		return err
	}
	t.staged[card.ID] = cloneCard(card)
	return nil
}

func (t *memTx) UpdateBalance(_ context.Context, cardID uuid.UUID, balance int64) error {
	card, ok := t.current(cardID)
	if !ok {
		return fmt.Errorf("card %s: %w", cardID, sentinel.ErrNotFound)
	}
	cp := cloneCard(card)
	cp.Balance = balance
	t.staged[cardID] = cp
	return nil
}

func (t *memTx) UpdateStatus(_ context.Context, cardID uuid.UUID, status models.CardStatus) error {
	card, ok := t.current(cardID)
	if !ok {
		return fmt.Errorf("card %s: %w", cardID, sentinel.ErrNotFound)
	}
	cp := cloneCard(card)
	cp.Status = status
	t.staged[cardID] = cp
	return nil
}

func (t *memTx) AppendTransfer(_ context.Context, transfer *models.Transfer) error {
	t.transfers = append(t.transfers, *transfer)
	return nil
}

// helpers; callers hold s.mu

func (s *MemoryStore) usernameTaken(username string, self uuid.UUID) bool {
	for id, user := range s.users {
		if id != self && user.Username == username {
			return true
		}
	}
	return false
}

// checkCard mirrors the table constraints of the SQL schema
func (s *MemoryStore) checkCard(card *models.Card, staged map[uuid.UUID]*models.Card) error {
	if _, ok := s.users[card.OwnerID]; !ok {
		return fmt.Errorf("owner %s: %w", card.OwnerID, sentinel.ErrNotFound)
	}
	if card.Balance < 0 {
		return fmt.Errorf("negative balance on card %s: %w", card.ID, sentinel.ErrInvalidState)
	}
	for id, other := range s.cards {
		if staged != nil {
			if st, ok := staged[id]; ok {
				other = st
			}
		}
		if id != card.ID && other.Fingerprint == card.Fingerprint {
			return fmt.Errorf("card number already registered: %w", sentinel.ErrConflict)
		}
	}
	// cards created earlier in the same transaction
	for id, other := range staged {
		if _, committed := s.cards[id]; committed || id == card.ID {
			continue
		}
		if other.Fingerprint == card.Fingerprint {
			return fmt.Errorf("card number already registered: %w", sentinel.ErrConflict)
		}
	}
	return nil
}

func (s *MemoryStore) withOwner(card *models.Card) *models.Card {
	cp := cloneCard(card)
	if owner, ok := s.users[card.OwnerID]; ok {
		cp.OwnerName = owner.Username
	}
	return cp
}

func cloneCard(card *models.Card) *models.Card {
	cp := *card
	cp.OwnerName = ""
	return &cp
}

func paginate[T any](items []T, page models.PageRequest) *models.Page[T] {
	page = page.Normalize()
	result := &models.Page[T]{Items: []T{}, Total: int64(len(items)), Page: page.Page, Size: page.Size}
	start := page.Offset()
	if start >= len(items) {
		return result
	}
	end := start + page.Size
	if end > len(items) {
		end = len(items)
	}
	result.Items = append(result.Items, items[start:end]...)
	return result
}
