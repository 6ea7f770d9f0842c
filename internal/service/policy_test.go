package service

import (
	"testing"

	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/Dan9191/bank-cards/internal/sentinel"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestPolicyTable(t *testing.T) {
	admin := &models.User{ID: uuid.New(), Username: "admin", Role: models.RoleAdmin}
	user := &models.User{ID: uuid.New(), Username: "alice", Role: models.RoleUser}
	own := &models.Card{ID: uuid.New(), OwnerID: user.ID}
	foreign := &models.Card{ID: uuid.New(), OwnerID: uuid.New()}

	assert.NoError(t, requireAdmin(admin))
	assert.ErrorIs(t, requireAdmin(user), sentinel.ErrForbidden)

	assert.NoError(t, requireView(admin, foreign))
	assert.NoError(t, requireView(user, own))
	assert.ErrorIs(t, requireView(user, foreign), sentinel.ErrForbidden)

	assert.NoError(t, requireOwner(user, own, own))
	assert.ErrorIs(t, requireOwner(user, own, foreign), sentinel.ErrForbidden)
	assert.ErrorIs(t, requireOwner(admin, own), sentinel.ErrForbidden, "admins do not own other users' cards")
}

func TestPolicyListScope(t *testing.T) {
	admin := &models.User{ID: uuid.New(), Role: models.RoleAdmin}
	user := &models.User{ID: uuid.New(), Role: models.RoleUser}
	blocked := models.CardStatusBlocked
	someone := uuid.New()

	scope := policies[models.RoleAdmin].listScope(admin, &blocked, &someone)
	assert.Equal(t, &blocked, scope.Status)
	assert.Equal(t, someone, *scope.OwnerID)

	scope = policies[models.RoleAdmin].listScope(admin, nil, nil)
	assert.Nil(t, scope.Status)
	assert.Nil(t, scope.OwnerID)

	scope = policies[models.RoleUser].listScope(user, &blocked, &someone)
	assert.Equal(t, &blocked, scope.Status)
	assert.Equal(t, user.ID, *scope.OwnerID)
}

func TestUnknownRoleIsForbidden(t *testing.T) {
	ghost := &models.User{ID: uuid.New(), Role: models.Role("AUDITOR")}
	card := &models.Card{ID: uuid.New(), OwnerID: ghost.ID}

	assert.ErrorIs(t, requireAdmin(ghost), sentinel.ErrForbidden)
	assert.ErrorIs(t, requireView(ghost, card), sentinel.ErrForbidden)
}
