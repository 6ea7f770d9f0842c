package models

import (
	"time"

	"github.com/google/uuid"
)

// Transfer is an immutable ledger entry for one completed balance movement.
// Card ids are kept as plain values so history outlives deleted cards.
type Transfer struct {
	ID         uuid.UUID `json:"id"`
	FromCardID uuid.UUID `json:"from_card_id"`
	ToCardID   uuid.UUID `json:"to_card_id"`
	Amount     int64     `json:"amount"`
	CreatedAt  time.Time `json:"created_at"`
}
