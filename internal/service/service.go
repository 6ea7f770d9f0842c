package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Dan9191/bank-cards/internal/config"
	"github.com/Dan9191/bank-cards/internal/metrics"
	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/Dan9191/bank-cards/internal/repository"
	"github.com/Dan9191/bank-cards/internal/sentinel"
	"github.com/Dan9191/bank-cards/internal/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// Notifier delivers best-effort messages to card owners
type Notifier interface {
	SendTransferNotification(to, username, fromMasked, toMasked string, amount int64, at time.Time) error
	SendCardBlockedNotification(to, username, masked string, at time.Time) error
}

// Service handles business logic
type Service struct {
	store    repository.Store
	cipher   *utils.CardCipher
	log      *logrus.Logger
	config   *config.Config
	metrics  *metrics.Metrics
	notifier Notifier

	now        func() time.Time
	bcryptCost int
}

// NewService initializes a new service
func NewService(store repository.Store, cipher *utils.CardCipher, log *logrus.Logger, cfg *config.Config, m *metrics.Metrics) *Service {
	return &Service{
		store:      store,
		cipher:     cipher,
		log:        log,
		config:     cfg,
		metrics:    m,
		now:        time.Now,
		bcryptCost: bcrypt.DefaultCost,
	}
}

// SetNotifier enables owner notifications
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// resolveActor loads the acting user by username
func (s *Service) resolveActor(ctx context.Context, username string) (*models.User, error) {
	user, err := s.store.FindUserByUsername(ctx, username)
	if err != nil {
		s.log.WithField("user", username).Warn("Acting user not found")
		return nil, fmt.Errorf("acting user: %w", err)
	}
	return user, nil
}

// toView masks the card number for display
func (s *Service) toView(card *models.Card) (*models.CardView, error) {
	masked, err := s.cipher.Mask(card.Number)
	if err != nil {
		s.log.WithField("card_id", card.ID).Errorf("Failed to mask card number: %v", err)
		// a stored number that cannot be masked is corrupt data, not bad input
		return nil, fmt.Errorf("failed to mask card %s: %v: %w", card.ID, err, sentinel.ErrEncryption)
	}
	return &models.CardView{
		ID:         card.ID,
		CardNumber: masked,
		Owner:      card.OwnerName,
		ExpiryDate: card.Expiration.Format("2006-01-02"),
		Status:     card.Status.String(),
		Balance:    card.Balance,
	}, nil
}
