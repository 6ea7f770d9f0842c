package models

import (
	"fmt"
	"time"

	"github.com/Dan9191/bank-cards/internal/sentinel"
	"github.com/google/uuid"
)

// CardStatus is the lifecycle state of a card
type CardStatus int

const (
	CardStatusActive CardStatus = iota + 1
	CardStatusBlocked
	CardStatusExpired
)

var cardStatusNames = map[CardStatus]string{
	CardStatusActive:  "ACTIVE",
	CardStatusBlocked: "BLOCKED",
	CardStatusExpired: "EXPIRED",
}

// CardStatuses lists every known status in display order
func CardStatuses() []CardStatus {
	return []CardStatus{CardStatusActive, CardStatusBlocked, CardStatusExpired}
}

func (s CardStatus) String() string {
	if name, ok := cardStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("CardStatus(%d)", int(s))
}

// Valid reports whether s is one of the known statuses
func (s CardStatus) Valid() bool {
	_, ok := cardStatusNames[s]
	return ok
}

// ParseCardStatus looks up a status by its display name
func ParseCardStatus(name string) (CardStatus, error) {
	for status, n := range cardStatusNames {
		if n == name {
			return status, nil
		}
	}
	return 0, fmt.Errorf("card status %q: %w", name, sentinel.ErrNotFound)
}

// Card represents a bank card with its balance
type Card struct {
	ID          uuid.UUID
	Number      string // AES-GCM ciphertext, never plaintext
	Fingerprint string // HMAC of the plaintext number
	OwnerID     uuid.UUID
	OwnerName   string // filled on reads
	Expiration  time.Time
	Status      CardStatus
	Balance     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ExpiredAt reports whether the card's expiration date lies strictly before
// the calendar date of now.
func (c *Card) ExpiredAt(now time.Time) bool {
	return Date(c.Expiration).Before(Date(now))
}

// Date truncates t to midnight UTC of its calendar day
func Date(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CardView is the masked projection returned to callers
type CardView struct {
	ID         uuid.UUID `json:"id"`
	CardNumber string    `json:"card_number"` // Masked
	Owner      string    `json:"owner"`
	ExpiryDate string    `json:"expiry_date"` // Format: YYYY-MM-DD
	Status     string    `json:"status"`
	Balance    int64     `json:"balance"`
}

// CardInput carries admin-supplied fields for create and update.
// Zero values and a nil Balance mean "not supplied".
type CardInput struct {
	Number     string    `json:"number"`
	OwnerID    uuid.UUID `json:"owner_id"`
	Expiration time.Time `json:"expiration"`
	Balance    *int64    `json:"balance,omitempty"`
}
