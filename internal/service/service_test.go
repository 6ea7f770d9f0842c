package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Dan9191/bank-cards/internal/config"
	"github.com/Dan9191/bank-cards/internal/metrics"
	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/Dan9191/bank-cards/internal/repository"
	"github.com/Dan9191/bank-cards/internal/utils"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var testNow = time.Date(2026, time.June, 15, 10, 0, 0, 0, time.UTC)

type fixture struct {
	t        *testing.T
	ctx      context.Context
	svc      *Service
	store    *repository.MemoryStore
	cipher   *utils.CardCipher
	notifier *recordingNotifier
	admin    *models.User
	alice    *models.User
	bob      *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cipher, err := utils.NewCardCipher("0123456789abcdef", "fingerprint-secret")
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store := repository.NewMemoryStore()
	cfg := &config.Config{JWTSecret: "test-secret"}
	svc := NewService(store, cipher, logger, cfg, metrics.New(prometheus.NewRegistry()))
	svc.now = func() time.Time { return testNow }
	svc.bcryptCost = bcrypt.MinCost

	notifier := &recordingNotifier{}
	svc.SetNotifier(notifier)

	f := &fixture{t: t, ctx: context.Background(), svc: svc, store: store, cipher: cipher, notifier: notifier}
	f.admin = f.user("admin", models.RoleAdmin)
	f.alice = f.user("alice", models.RoleUser)
	f.bob = f.user("bob", models.RoleUser)
	return f
}

func (f *fixture) user(name string, role models.Role) *models.User {
	f.t.Helper()
	u := &models.User{
		ID:        uuid.New(),
		Username:  name,
		Email:     name + "@example.com",
		Role:      role,
		CreatedAt: testNow,
	}
	require.NoError(f.t, f.store.CreateUser(f.ctx, u))
	return u
}

// card creates an ACTIVE card through the service and then forces status
func (f *fixture) card(owner *models.User, balance int64, status models.CardStatus) uuid.UUID {
	f.t.Helper()
	view, err := f.svc.CreateCard(f.ctx, "admin", models.CardInput{
		OwnerID:    owner.ID,
		Expiration: testNow.AddDate(2, 0, 0),
		Balance:    &balance,
	})
	require.NoError(f.t, err)
	if status != models.CardStatusActive {
		require.NoError(f.t, f.store.RunInTx(f.ctx, func(tx repository.Tx) error {
			return tx.UpdateStatus(f.ctx, view.ID, status)
		}))
	}
	return view.ID
}

func (f *fixture) stored(id uuid.UUID) *models.Card {
	f.t.Helper()
	card, err := f.store.FindCardByID(f.ctx, id)
	require.NoError(f.t, err)
	return card
}

func (f *fixture) balance(id uuid.UUID) int64 {
	return f.stored(id).Balance
}

func int64Ptr(v int64) *int64 { return &v }

type transferNote struct {
	to, fromMasked, toMasked string
	amount                   int64
}

type recordingNotifier struct {
	mu        sync.Mutex
	transfers []transferNote
	blocked   []string
}

func (n *recordingNotifier) SendTransferNotification(to, _, fromMasked, toMasked string, amount int64, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.transfers = append(n.transfers, transferNote{to: to, fromMasked: fromMasked, toMasked: toMasked, amount: amount})
	return nil
}

func (n *recordingNotifier) SendCardBlockedNotification(to, _, masked string, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blocked = append(n.blocked, to+" "+masked)
	return nil
}
