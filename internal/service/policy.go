package service

import (
	"fmt"

	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/Dan9191/bank-cards/internal/sentinel"
	"github.com/google/uuid"
)

// accessPolicy is the per-role rule set. Every ADMIN/USER branch of the
// service goes through this table.
type accessPolicy struct {
	// listScope narrows a listing request to what the actor may see
	listScope func(actor *models.User, status *models.CardStatus, ownerID *uuid.UUID) models.CardFilter
	// canView reports whether the actor may read the card
	canView func(actor *models.User, card *models.Card) bool
	// canAdminister allows card mutations and user administration
	canAdminister bool
}

var policies = map[models.Role]accessPolicy{
	models.RoleAdmin: {
		listScope: func(_ *models.User, status *models.CardStatus, ownerID *uuid.UUID) models.CardFilter {
			return models.CardFilter{Status: status, OwnerID: ownerID}
		},
		canView:       func(*models.User, *models.Card) bool { return true },
		canAdminister: true,
	},
	models.RoleUser: {
		// the owner filter is ignored: a user only ever sees their own cards
		listScope: func(actor *models.User, status *models.CardStatus, _ *uuid.UUID) models.CardFilter {
			self := actor.ID
			return models.CardFilter{Status: status, OwnerID: &self}
		},
		canView: func(actor *models.User, card *models.Card) bool {
			return card.OwnerID == actor.ID
		},
		canAdminister: false,
	},
}

func policyFor(actor *models.User) (accessPolicy, error) {
	p, ok := policies[actor.Role]
	if !ok {
		return accessPolicy{}, fmt.Errorf("unknown role %q: %w", actor.Role, sentinel.ErrForbidden)
	}
	return p, nil
}

func requireAdmin(actor *models.User) error {
	p, err := policyFor(actor)
	if err != nil {
		return err
	}
	if !p.canAdminister {
		return fmt.Errorf("user %q is not an admin: %w", actor.Username, sentinel.ErrForbidden)
	}
	return nil
}

func requireView(actor *models.User, card *models.Card) error {
	p, err := policyFor(actor)
	if err != nil {
		return err
	}
	if !p.canView(actor, card) {
		return fmt.Errorf("card %s does not belong to user %q: %w", card.ID, actor.Username, sentinel.ErrForbidden)
	}
	return nil
}

func requireOwner(actor *models.User, cards ...*models.Card) error {
	for _, card := range cards {
		if card.OwnerID != actor.ID {
			return fmt.Errorf("card %s does not belong to user %q: %w", card.ID, actor.Username, sentinel.ErrForbidden)
		}
	}
	return nil
}
