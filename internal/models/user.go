package models

import (
	"fmt"
	"time"

	"github.com/Dan9191/bank-cards/internal/sentinel"
	"github.com/google/uuid"
)

// Role is a user's authorization role
type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleUser  Role = "USER"
)

// ParseRole validates a role name
func ParseRole(name string) (Role, error) {
	switch Role(name) {
	case RoleAdmin, RoleUser:
		return Role(name), nil
	}
	return "", fmt.Errorf("unknown role %q: %w", name, sentinel.ErrInvalidInput)
}

// User represents a user in the system
type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"` // Not serialized
	CreatedAt    time.Time `json:"created_at"`
}

// UserUpdate carries optional fields for a partial user update
type UserUpdate struct {
	Username *string `json:"username,omitempty"`
	Password *string `json:"password,omitempty"`
	Email    *string `json:"email,omitempty"`
	Role     *Role   `json:"role,omitempty"`
}
