package service

import (
	"context"
	"fmt"

	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/Dan9191/bank-cards/internal/repository"
	"github.com/Dan9191/bank-cards/internal/sentinel"
	"github.com/Dan9191/bank-cards/internal/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const generatedCardPrefix = "400000"

// CreateCard issues a new card. A missing number is generated and a missing
// expiration defaults to three years from now. The initial status is EXPIRED
// when the expiration date is already past, ACTIVE otherwise.
func (s *Service) CreateCard(ctx context.Context, actingUsername string, input models.CardInput) (*models.CardView, error) {
	actor, err := s.resolveActor(ctx, actingUsername)
	if err != nil {
		return nil, err
	}
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := checkBalance(input.Balance); err != nil {
		return nil, err
	}

	number := input.Number
	if number == "" {
		number, err = utils.GenerateCardNumber(generatedCardPrefix, 16)
		if err != nil {
			return nil, fmt.Errorf("failed to generate card number: %w", err)
		}
	}
	if err := utils.ValidateCardNumber(number); err != nil {
		return nil, err
	}

	owner, err := s.store.FindUserByID(ctx, input.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("card owner: %w", err)
	}

	now := s.now()
	encrypted, err := s.cipher.Encrypt(number)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt card number: %w", err)
	}

	card := &models.Card{
		ID:          uuid.New(),
		Number:      encrypted,
		Fingerprint: s.cipher.Fingerprint(number),
		OwnerID:     owner.ID,
		OwnerName:   owner.Username,
		Expiration:  models.Date(input.Expiration),
		Status:      models.CardStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if input.Balance != nil {
		card.Balance = *input.Balance
	}
	if input.Expiration.IsZero() {
		card.Expiration = utils.DefaultExpiration(now)
	}
	if card.ExpiredAt(now) {
		card.Status = models.CardStatusExpired
	}

	if err := s.store.SaveCard(ctx, card); err != nil {
		return nil, err
	}

	s.metrics.CardsCreated.Inc()
	s.log.WithFields(logrus.Fields{
		"card_id": card.ID,
		"owner":   owner.Username,
		"status":  card.Status.String(),
	}).Info("Card created")
	return s.toView(card)
}

// GetCard returns one masked card if the actor may see it
func (s *Service) GetCard(ctx context.Context, actingUsername string, id uuid.UUID) (*models.CardView, error) {
	actor, err := s.resolveActor(ctx, actingUsername)
	if err != nil {
		return nil, err
	}
	card, err := s.store.FindCardByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireView(actor, card); err != nil {
		s.log.WithFields(logrus.Fields{"card_id": id, "user": actingUsername}).Warn("Access denied to card")
		return nil, err
	}
	return s.toView(card)
}

// ListCards pages through the cards visible to the actor. Admins may filter
// by status and owner; users always get their own cards, optionally by status.
func (s *Service) ListCards(ctx context.Context, actingUsername, statusName, ownerName string, page models.PageRequest) (*models.Page[models.CardView], error) {
	actor, err := s.resolveActor(ctx, actingUsername)
	if err != nil {
		return nil, err
	}
	policy, err := policyFor(actor)
	if err != nil {
		return nil, err
	}

	var status *models.CardStatus
	if statusName != "" {
		st, err := models.ParseCardStatus(statusName)
		if err != nil {
			return nil, err
		}
		status = &st
	}

	var ownerID *uuid.UUID
	if ownerName != "" && policy.canAdminister {
		owner, err := s.store.FindUserByUsername(ctx, ownerName)
		if err != nil {
			return nil, fmt.Errorf("owner filter: %w", err)
		}
		ownerID = &owner.ID
	}

	cards, err := s.store.FindCards(ctx, policy.listScope(actor, status, ownerID), page)
	if err != nil {
		return nil, err
	}

	views := &models.Page[models.CardView]{
		Items: make([]models.CardView, 0, len(cards.Items)),
		Total: cards.Total,
		Page:  cards.Page,
		Size:  cards.Size,
	}
	for i := range cards.Items {
		view, err := s.toView(&cards.Items[i])
		if err != nil {
			return nil, err
		}
		views.Items = append(views.Items, *view)
	}

	s.log.WithFields(logrus.Fields{"user": actingUsername, "total": cards.Total}).Debug("Cards listed")
	return views, nil
}

// UpdateCard applies an admin edit. An empty number, zero owner, zero
// expiration or nil balance keeps the stored value. A past expiration forces EXPIRED;
// otherwise the status is left alone, so an EXPIRED card is never revived.
func (s *Service) UpdateCard(ctx context.Context, actingUsername string, id uuid.UUID, input models.CardInput) (*models.CardView, error) {
	actor, err := s.resolveActor(ctx, actingUsername)
	if err != nil {
		return nil, err
	}
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := checkBalance(input.Balance); err != nil {
		return nil, err
	}

	var encrypted, fingerprint string
	if input.Number != "" {
		if err := utils.ValidateCardNumber(input.Number); err != nil {
			return nil, err
		}
		if encrypted, err = s.cipher.Encrypt(input.Number); err != nil {
			return nil, fmt.Errorf("failed to encrypt card number: %w", err)
		}
		fingerprint = s.cipher.Fingerprint(input.Number)
	}
	if input.OwnerID != uuid.Nil {
		if _, err := s.store.FindUserByID(ctx, input.OwnerID); err != nil {
			return nil, fmt.Errorf("card owner: %w", err)
		}
	}

	now := s.now()
	err = s.store.RunInTx(ctx, func(tx repository.Tx) error {
		card, err := lockCard(ctx, tx, id)
		if err != nil {
			return err
		}
		if encrypted != "" {
			card.Number = encrypted
			card.Fingerprint = fingerprint
		}
		if input.OwnerID != uuid.Nil {
			card.OwnerID = input.OwnerID
		}
		if !input.Expiration.IsZero() {
			card.Expiration = models.Date(input.Expiration)
		}
		if input.Balance != nil {
			card.Balance = *input.Balance
		}
		if card.ExpiredAt(now) {
			card.Status = models.CardStatusExpired
		}
		card.UpdatedAt = now
		return tx.SaveCard(ctx, card)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithField("card_id", id).Info("Card updated")
	card, err := s.store.FindCardByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.toView(card)
}

// DeleteCard removes a card. Transfers that reference it stay in the ledger.
func (s *Service) DeleteCard(ctx context.Context, actingUsername string, id uuid.UUID) error {
	actor, err := s.resolveActor(ctx, actingUsername)
	if err != nil {
		return err
	}
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if err := s.store.DeleteCard(ctx, id); err != nil {
		return err
	}
	s.log.WithField("card_id", id).Info("Card deleted")
	return nil
}

// RequestBlock lets an owner block their own ACTIVE card
func (s *Service) RequestBlock(ctx context.Context, actingUsername string, id uuid.UUID) error {
	actor, err := s.resolveActor(ctx, actingUsername)
	if err != nil {
		return err
	}

	var blocked *models.Card
	err = s.store.RunInTx(ctx, func(tx repository.Tx) error {
		card, err := lockCard(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := requireOwner(actor, card); err != nil {
			return err
		}
		if card.Status != models.CardStatusActive {
			return fmt.Errorf("card %s is %s: %w", id, card.Status, sentinel.ErrInvalidState)
		}
		blocked = card
		return tx.UpdateStatus(ctx, id, models.CardStatusBlocked)
	})
	if err != nil {
		s.log.WithFields(logrus.Fields{"card_id": id, "user": actingUsername}).Warnf("Block request rejected: %v", err)
		return err
	}

	s.metrics.StatusChanges.WithLabelValues(models.CardStatusBlocked.String()).Inc()
	s.log.WithFields(logrus.Fields{"card_id": id, "user": actingUsername}).Info("Card blocked by owner")
	s.notifyBlocked(actor, blocked)
	return nil
}

// BlockCard moves any card to BLOCKED
func (s *Service) BlockCard(ctx context.Context, actingUsername string, id uuid.UUID) error {
	return s.forceStatus(ctx, actingUsername, id, models.CardStatusBlocked)
}

// ActivateCard moves any card to ACTIVE
func (s *Service) ActivateCard(ctx context.Context, actingUsername string, id uuid.UUID) error {
	return s.forceStatus(ctx, actingUsername, id, models.CardStatusActive)
}

func (s *Service) forceStatus(ctx context.Context, actingUsername string, id uuid.UUID, status models.CardStatus) error {
	actor, err := s.resolveActor(ctx, actingUsername)
	if err != nil {
		return err
	}
	if err := requireAdmin(actor); err != nil {
		return err
	}

	err = s.store.RunInTx(ctx, func(tx repository.Tx) error {
		if _, err := lockCard(ctx, tx, id); err != nil {
			return err
		}
		return tx.UpdateStatus(ctx, id, status)
	})
	if err != nil {
		return err
	}

	s.metrics.StatusChanges.WithLabelValues(status.String()).Inc()
	s.log.WithFields(logrus.Fields{"card_id": id, "status": status.String()}).Info("Card status set by admin")
	return nil
}

// ExpireOverdueCards applies the expiration rule to every stored card
func (s *Service) ExpireOverdueCards(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireCards(ctx, s.now())
	if err != nil {
		return 0, err
	}
	s.metrics.CardsExpired.Add(float64(n))
	if n > 0 {
		s.log.WithField("count", n).Info("Overdue cards expired")
	}
	return n, nil
}

func checkBalance(balance *int64) error {
	if balance != nil && *balance < 0 {
		return fmt.Errorf("balance must not be negative: %w", sentinel.ErrInvalidInput)
	}
	return nil
}

func lockCard(ctx context.Context, tx repository.Tx, id uuid.UUID) (*models.Card, error) {
	cards, err := tx.LockCards(ctx, id)
	if err != nil {
		return nil, err
	}
	card, ok := cards[id]
	if !ok {
		return nil, fmt.Errorf("card %s: %w", id, sentinel.ErrNotFound)
	}
	return card, nil
}

func (s *Service) notifyBlocked(owner *models.User, card *models.Card) {
	if s.notifier == nil || owner.Email == "" {
		return
	}
	masked, err := s.cipher.Mask(card.Number)
	if err != nil {
		s.log.WithField("card_id", card.ID).Errorf("Skipping block notification: %v", err)
		return
	}
	if err := s.notifier.SendCardBlockedNotification(owner.Email, owner.Username, masked, s.now()); err != nil {
		s.log.WithField("card_id", card.ID).Warnf("Block notification failed: %v", err)
	}
}
