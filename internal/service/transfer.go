package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Dan9191/bank-cards/internal/metrics"
	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/Dan9191/bank-cards/internal/repository"
	"github.com/Dan9191/bank-cards/internal/sentinel"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Transfer moves amount between two cards of the acting user.
//
// Checks run inside the store transaction in a fixed order and stop at the
// first failure: both cards exist, both belong to the actor, both are
// ACTIVE, the source covers the amount. Both balance writes and the ledger
// entry commit together or not at all.
func (s *Service) Transfer(ctx context.Context, fromID, toID uuid.UUID, amount int64, actingUsername string) (err error) {
	start := time.Now()
	defer func() {
		s.metrics.Transfers.WithLabelValues(transferResult(err)).Inc()
		s.metrics.TransferLatency.Observe(time.Since(start).Seconds())
	}()

	fields := logrus.Fields{"from_card": fromID, "to_card": toID, "amount": amount, "user": actingUsername}
	s.log.WithFields(fields).Info("Initiating transfer")

	if amount <= 0 {
		return fmt.Errorf("amount must be positive, got %d: %w", amount, sentinel.ErrInvalidInput)
	}
	if fromID == toID {
		return fmt.Errorf("source and destination card are the same: %w", sentinel.ErrInvalidInput)
	}

	actor, err := s.resolveActor(ctx, actingUsername)
	if err != nil {
		return err
	}

	var (
		record   *models.Transfer
		from, to *models.Card
	)
	err = s.store.RunInTx(ctx, func(tx repository.Tx) error {
		cards, err := tx.LockCards(ctx, fromID, toID)
		if err != nil {
			return err
		}

		var ok bool
		if from, ok = cards[fromID]; !ok {
			return fmt.Errorf("source card %s: %w", fromID, sentinel.ErrNotFound)
		}
		if to, ok = cards[toID]; !ok {
			return fmt.Errorf("destination card %s: %w", toID, sentinel.ErrNotFound)
		}
		if err := requireOwner(actor, from, to); err != nil {
			return err
		}
		if from.Status != models.CardStatusActive || to.Status != models.CardStatusActive {
			return fmt.Errorf("both cards must be active (source %s, destination %s): %w",
				from.Status, to.Status, sentinel.ErrInvalidState)
		}
		if from.Balance < amount {
			return fmt.Errorf("source card %s holds %d, need %d: %w", fromID, from.Balance, amount, sentinel.ErrInsufficientFunds)
		}
		if to.Balance > math.MaxInt64-amount {
			return fmt.Errorf("destination balance would overflow: %w", sentinel.ErrInvalidInput)
		}

		if err := tx.UpdateBalance(ctx, fromID, from.Balance-amount); err != nil {
			return err
		}
		if err := tx.UpdateBalance(ctx, toID, to.Balance+amount); err != nil {
			return err
		}

		record = &models.Transfer{
			ID:         uuid.New(),
			FromCardID: fromID,
			ToCardID:   toID,
			Amount:     amount,
			CreatedAt:  s.now(),
		}
		return tx.AppendTransfer(ctx, record)
	})
	if err != nil {
		s.log.WithFields(fields).Warnf("Transfer failed: %v", err)
		return err
	}

	s.metrics.TransferredAmount.Add(float64(amount))
	s.log.WithFields(fields).WithField("transfer_id", record.ID).Info("Transfer completed")
	s.notifyTransfer(actor, from, to, record)
	return nil
}

// ListCardTransfers returns the ledger entries touching a card the actor may view
func (s *Service) ListCardTransfers(ctx context.Context, actingUsername string, cardID uuid.UUID) ([]models.Transfer, error) {
	actor, err := s.resolveActor(ctx, actingUsername)
	if err != nil {
		return nil, err
	}
	card, err := s.store.FindCardByID(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if err := requireView(actor, card); err != nil {
		return nil, err
	}
	return s.store.ListTransfersByCard(ctx, cardID)
}

func (s *Service) notifyTransfer(owner *models.User, from, to *models.Card, record *models.Transfer) {
	if s.notifier == nil || owner.Email == "" {
		return
	}
	fromMasked, err := s.cipher.Mask(from.Number)
	if err != nil {
		s.log.WithField("transfer_id", record.ID).Errorf("Skipping transfer notification: %v", err)
		return
	}
	toMasked, err := s.cipher.Mask(to.Number)
	if err != nil {
		s.log.WithField("transfer_id", record.ID).Errorf("Skipping transfer notification: %v", err)
		return
	}
	err = s.notifier.SendTransferNotification(owner.Email, owner.Username, fromMasked, toMasked, record.Amount, record.CreatedAt)
	if err != nil {
		s.log.WithField("transfer_id", record.ID).Warnf("Transfer notification failed: %v", err)
	}
}

func transferResult(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, sentinel.ErrNotFound):
		return metrics.ResultNotFound
	case errors.Is(err, sentinel.ErrForbidden):
		return metrics.ResultForbidden
	case errors.Is(err, sentinel.ErrInvalidState):
		return metrics.ResultInvalidState
	case errors.Is(err, sentinel.ErrInsufficientFunds):
		return metrics.ResultInsufficientFunds
	case errors.Is(err, sentinel.ErrInvalidInput):
		return metrics.ResultInvalidInput
	default:
		return metrics.ResultError
	}
}
