package repository

import (
	"context"
	"time"

	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/google/uuid"
)

// Error contract shared by every implementation:
// - lookups of missing rows return sentinel.ErrNotFound (wrapped)
// - unique violations return sentinel.ErrConflict (wrapped)
// - infrastructure failures are wrapped with "failed to ...: %w"

// UserStore is the user directory
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	UpdateUser(ctx context.Context, user *models.User) error
	FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
	ListUsers(ctx context.Context, query string, page models.PageRequest) (*models.Page[models.User], error)
	// DeleteUser removes the user and every card it owns
	DeleteUser(ctx context.Context, id uuid.UUID) error
}

// CardStore holds card records
type CardStore interface {
	FindCardByID(ctx context.Context, id uuid.UUID) (*models.Card, error)
	// SaveCard inserts or updates a card
	SaveCard(ctx context.Context, card *models.Card) error
	DeleteCard(ctx context.Context, id uuid.UUID) error
	FindCards(ctx context.Context, filter models.CardFilter, page models.PageRequest) (*models.Page[models.Card], error)
	// ExpireCards marks cards expiring before the given date as EXPIRED
	ExpireCards(ctx context.Context, before time.Time) (int64, error)
}

// TransferStore reads the append-only transfer ledger
type TransferStore interface {
	ListTransfersByCard(ctx context.Context, cardID uuid.UUID) ([]models.Transfer, error)
}

// Tx is an atomic unit over card rows and the ledger. Nothing written
// through it is visible to others until the enclosing RunInTx commits.
type Tx interface {
	// LockCards loads and locks the given cards; missing ids are absent from the map
	LockCards(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]*models.Card, error)
	SaveCard(ctx context.Context, card *models.Card) error
	UpdateBalance(ctx context.Context, cardID uuid.UUID, balance int64) error
	UpdateStatus(ctx context.Context, cardID uuid.UUID, status models.CardStatus) error
	AppendTransfer(ctx context.Context, transfer *models.Transfer) error
}

// Store is the full persistence surface used by the service
type Store interface {
	UserStore
	CardStore
	TransferStore
	// RunInTx commits when fn returns nil and rolls back otherwise
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}
