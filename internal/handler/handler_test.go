package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Dan9191/bank-cards/internal/config"
	"github.com/Dan9191/bank-cards/internal/metrics"
	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/Dan9191/bank-cards/internal/repository"
	"github.com/Dan9191/bank-cards/internal/sentinel"
	"github.com/Dan9191/bank-cards/internal/service"
	"github.com/Dan9191/bank-cards/internal/utils"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"
)

type HandlerSuite struct {
	suite.Suite
	store  *repository.MemoryStore
	cipher *utils.CardCipher
	router *mux.Router

	adminToken, aliceToken, bobToken string
	aliceID                          uuid.UUID
}

func (s *HandlerSuite) SetupTest() {
	log := logrus.New()
	log.SetOutput(io.Discard)

	cipher, err := utils.NewCardCipher("0123456789abcdef", "fingerprint-secret")
	s.Require().NoError(err)
	s.cipher = cipher

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	s.store = repository.NewMemoryStore()
	svc := service.NewService(s.store, cipher, log, &config.Config{JWTSecret: "test-secret"}, m)
	s.router = NewRouter(NewHandler(svc, log), svc, log, m, reg)

	hash, err := bcrypt.GenerateFromPassword([]byte("adminpass"), bcrypt.MinCost)
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreateUser(context.Background(), &models.User{
		ID:           uuid.New(),
		Username:     "admin",
		Role:         models.RoleAdmin,
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
	}))

	rec := s.do(http.MethodPost, "/register", "", map[string]string{"username": "alice", "password": "alicepass", "email": "alice@example.com"})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var registered struct {
		User         models.User `json:"user"`
		AccessToken  string      `json:"access_token"`
		RefreshToken string      `json:"refresh_token"`
	}
	s.decode(rec, &registered)
	s.aliceID = registered.User.ID
	s.Equal("alice", registered.User.Username)
	s.NotEmpty(registered.AccessToken)
	s.NotEmpty(registered.RefreshToken)
	s.NotContains(rec.Body.String(), "password")

	rec = s.do(http.MethodPost, "/register", "", map[string]string{"username": "bob", "password": "bobspass"})
	s.Require().Equal(http.StatusCreated, rec.Code)

	s.adminToken = s.login("admin", "adminpass")
	s.aliceToken = s.login("alice", "alicepass")
	s.bobToken = s.login("bob", "bobspass")
}

func (s *HandlerSuite) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			s.Require().NoError(json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) decode(rec *httptest.ResponseRecorder, v any) {
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func (s *HandlerSuite) login(username, password string) string {
	return s.tokens(username, password).AccessToken
}

func (s *HandlerSuite) tokens(username, password string) service.TokenPair {
	rec := s.do(http.MethodPost, "/login", "", map[string]string{"username": username, "password": password})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var pair service.TokenPair
	s.decode(rec, &pair)
	s.Require().NotEmpty(pair.AccessToken)
	s.Require().NotEmpty(pair.RefreshToken)
	return pair
}

func (s *HandlerSuite) createCard(number string, balance int64) models.CardView {
	rec := s.do(http.MethodPost, "/cards", s.adminToken, map[string]any{
		"card_number": number,
		"owner_id":    s.aliceID,
		"expiry_date": time.Now().AddDate(2, 0, 0).Format("2006-01-02"),
		"balance":     balance,
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var card models.CardView
	s.decode(rec, &card)
	return card
}

func (s *HandlerSuite) TestLoginWrongPassword() {
	rec := s.do(http.MethodPost, "/login", "", map[string]string{"username": "alice", "password": "nope-nope"})
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *HandlerSuite) TestRegisterDuplicate() {
	rec := s.do(http.MethodPost, "/register", "", map[string]string{"username": "alice", "password": "whatever"})
	s.Equal(http.StatusConflict, rec.Code)
}

func (s *HandlerSuite) TestRefresh() {
	pair := s.tokens("alice", "alicepass")

	rec := s.do(http.MethodPost, "/refresh", "", map[string]string{"refresh_token": pair.RefreshToken})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var refreshed service.TokenPair
	s.decode(rec, &refreshed)
	s.Equal(http.StatusOK, s.do(http.MethodGet, "/cards", refreshed.AccessToken, nil).Code)

	// the token types are not interchangeable
	s.Equal(http.StatusUnauthorized, s.do(http.MethodGet, "/cards", pair.RefreshToken, nil).Code)
	rec = s.do(http.MethodPost, "/refresh", "", map[string]string{"refresh_token": pair.AccessToken})
	s.Equal(http.StatusUnauthorized, rec.Code)

	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/refresh", "", map[string]string{}).Code)
	s.Equal(http.StatusUnauthorized, s.do(http.MethodPost, "/refresh", "", map[string]string{"refresh_token": "garbage"}).Code)
}

func (s *HandlerSuite) TestAuthRequired() {
	s.Equal(http.StatusUnauthorized, s.do(http.MethodGet, "/cards", "", nil).Code)
	s.Equal(http.StatusUnauthorized, s.do(http.MethodGet, "/cards", "garbage", nil).Code)
}

func (s *HandlerSuite) TestAdminRoutesRejectUsers() {
	rec := s.do(http.MethodPost, "/cards", s.aliceToken, map[string]any{"owner_id": s.aliceID})
	s.Equal(http.StatusForbidden, rec.Code)
	s.Equal(http.StatusForbidden, s.do(http.MethodGet, "/admin/users", s.aliceToken, nil).Code)
}

func (s *HandlerSuite) TestCardLifecycle() {
	card := s.createCard("4111111111111111", 1000)
	s.Equal("**** **** **** 1111", card.CardNumber)
	s.Equal("ACTIVE", card.Status)
	s.Equal("alice", card.Owner)

	rec := s.do(http.MethodGet, "/cards/"+card.ID.String(), s.aliceToken, nil)
	s.Equal(http.StatusOK, rec.Code)
	s.NotContains(rec.Body.String(), "4111111111111111")

	s.Equal(http.StatusForbidden, s.do(http.MethodGet, "/cards/"+card.ID.String(), s.bobToken, nil).Code)
	s.Equal(http.StatusNotFound, s.do(http.MethodGet, "/cards/"+uuid.NewString(), s.aliceToken, nil).Code)
	s.Equal(http.StatusBadRequest, s.do(http.MethodGet, "/cards/not-a-uuid", s.aliceToken, nil).Code)

	rec = s.do(http.MethodPost, "/cards/"+card.ID.String()+"/block", s.aliceToken, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var blocked models.CardView
	s.decode(rec, &blocked)
	s.Equal("BLOCKED", blocked.Status)

	s.Equal(http.StatusConflict, s.do(http.MethodPost, "/cards/"+card.ID.String()+"/block", s.aliceToken, nil).Code)

	rec = s.do(http.MethodPost, "/cards/"+card.ID.String()+"/activate", s.adminToken, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var active models.CardView
	s.decode(rec, &active)
	s.Equal("ACTIVE", active.Status)

	rec = s.do(http.MethodPatch, "/cards/"+card.ID.String(), s.adminToken, map[string]any{"expiry_date": "2001-01-01", "balance": 5})
	s.Require().Equal(http.StatusOK, rec.Code)
	var updated models.CardView
	s.decode(rec, &updated)
	s.Equal("EXPIRED", updated.Status)
	s.EqualValues(5, updated.Balance)

	rec = s.do(http.MethodPatch, "/cards/"+card.ID.String(), s.adminToken, map[string]any{"expiry_date": "01/2030"})
	s.Equal(http.StatusBadRequest, rec.Code)

	s.Equal(http.StatusNoContent, s.do(http.MethodDelete, "/cards/"+card.ID.String(), s.adminToken, nil).Code)
	s.Equal(http.StatusNotFound, s.do(http.MethodDelete, "/cards/"+card.ID.String(), s.adminToken, nil).Code)
}

func (s *HandlerSuite) TestPatchWithoutBalanceKeepsFunds() {
	card := s.createCard("4111111111111111", 1000)

	rec := s.do(http.MethodPatch, "/cards/"+card.ID.String(), s.adminToken, map[string]any{"expiry_date": "2031-06-15"})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var updated models.CardView
	s.decode(rec, &updated)
	s.EqualValues(1000, updated.Balance)
	s.Equal("2031-06-15", updated.ExpiryDate)

	stored, err := s.store.FindCardByID(context.Background(), card.ID)
	s.Require().NoError(err)
	s.EqualValues(1000, stored.Balance)
}

func (s *HandlerSuite) TestCorruptCardNumberIsOpaque() {
	number, err := s.cipher.Encrypt("12")
	s.Require().NoError(err)
	card := &models.Card{
		ID:          uuid.New(),
		Number:      number,
		Fingerprint: s.cipher.Fingerprint("12"),
		OwnerID:     s.aliceID,
		Expiration:  time.Now().AddDate(1, 0, 0),
		Status:      models.CardStatusActive,
		CreatedAt:   time.Now(),
	}
	s.Require().NoError(s.store.SaveCard(context.Background(), card))

	rec := s.do(http.MethodGet, "/cards/"+card.ID.String(), s.aliceToken, nil)
	s.Equal(http.StatusInternalServerError, rec.Code)
	s.JSONEq(`{"error":"internal error"}`, rec.Body.String())
}

func (s *HandlerSuite) TestListCards() {
	s.createCard("4111111111111111", 1)
	s.createCard("5500000000000004", 2)

	rec := s.do(http.MethodGet, "/cards?page=0&size=1", s.aliceToken, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var page models.Page[models.CardView]
	s.decode(rec, &page)
	s.EqualValues(2, page.Total)
	s.Len(page.Items, 1)
	s.Equal(1, page.Size)

	rec = s.do(http.MethodGet, "/cards", s.bobToken, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.decode(rec, &page)
	s.Zero(page.Total)

	rec = s.do(http.MethodGet, "/cards?owner=alice&status=ACTIVE", s.adminToken, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.decode(rec, &page)
	s.EqualValues(2, page.Total)

	s.Equal(http.StatusNotFound, s.do(http.MethodGet, "/cards?status=FROZEN", s.aliceToken, nil).Code)
	s.Equal(http.StatusBadRequest, s.do(http.MethodGet, "/cards?page=abc", s.aliceToken, nil).Code)
}

func (s *HandlerSuite) TestTransfer() {
	from := s.createCard("4111111111111111", 1000)
	to := s.createCard("5500000000000004", 100)

	body := map[string]any{"from_card_id": from.ID, "to_card_id": to.ID, "amount": 300}
	s.Require().Equal(http.StatusOK, s.do(http.MethodPost, "/cards/transfer", s.aliceToken, body).Code)

	var card models.CardView
	s.decode(s.do(http.MethodGet, "/cards/"+from.ID.String(), s.aliceToken, nil), &card)
	s.EqualValues(700, card.Balance)
	s.decode(s.do(http.MethodGet, "/cards/"+to.ID.String(), s.aliceToken, nil), &card)
	s.EqualValues(400, card.Balance)

	body["amount"] = 5000
	s.Equal(http.StatusUnprocessableEntity, s.do(http.MethodPost, "/cards/transfer", s.aliceToken, body).Code)
	body["amount"] = 10
	s.Equal(http.StatusForbidden, s.do(http.MethodPost, "/cards/transfer", s.bobToken, body).Code)
	body["to_card_id"] = from.ID
	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/cards/transfer", s.aliceToken, body).Code)
	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/cards/transfer", s.aliceToken, "{not json").Code)

	rec := s.do(http.MethodGet, "/cards/"+to.ID.String()+"/transfers", s.aliceToken, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var history []models.Transfer
	s.decode(rec, &history)
	s.Require().Len(history, 1)
	s.EqualValues(300, history[0].Amount)
}

func (s *HandlerSuite) TestUserAdministration() {
	rec := s.do(http.MethodPost, "/admin/users", s.adminToken, map[string]string{
		"username": "carol", "password": "carolpass", "role": "ADMIN",
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var carol models.User
	s.decode(rec, &carol)
	s.Equal(models.RoleAdmin, carol.Role)

	rec = s.do(http.MethodGet, "/admin/users?q=CAR", s.adminToken, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var users models.Page[models.User]
	s.decode(rec, &users)
	s.EqualValues(1, users.Total)

	rec = s.do(http.MethodPatch, "/admin/users/"+carol.ID.String(), s.adminToken, map[string]string{"email": "carol@example.com"})
	s.Require().Equal(http.StatusOK, rec.Code)
	s.decode(rec, &carol)
	s.Equal("carol@example.com", carol.Email)

	s.createCard("4111111111111111", 10)
	s.Equal(http.StatusNoContent, s.do(http.MethodDelete, "/admin/users/"+s.aliceID.String(), s.adminToken, nil).Code)

	rec = s.do(http.MethodGet, "/cards", s.adminToken, nil)
	var page models.Page[models.CardView]
	s.decode(rec, &page)
	s.Zero(page.Total)
}

func (s *HandlerSuite) TestHealthAndMetrics() {
	s.Equal(http.StatusOK, s.do(http.MethodGet, "/health", "", nil).Code)

	rec := s.do(http.MethodGet, "/metrics", "", nil)
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "bankcards_http_requests_total")
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func TestStatusFor(t *testing.T) {
	for target, want := range map[error]int{
		sentinel.ErrNotFound:          http.StatusNotFound,
		sentinel.ErrInvalidInput:      http.StatusBadRequest,
		sentinel.ErrInvalidState:      http.StatusConflict,
		sentinel.ErrConflict:          http.StatusConflict,
		sentinel.ErrInsufficientFunds: http.StatusUnprocessableEntity,
		sentinel.ErrForbidden:         http.StatusForbidden,
		sentinel.ErrUnauthorized:      http.StatusUnauthorized,
		sentinel.ErrEncryption:        http.StatusInternalServerError,
		errors.New("boom"):            http.StatusInternalServerError,
	} {
		assert.Equal(t, want, statusFor(fmt.Errorf("wrapped: %w", target)), target.Error())
	}
}

func TestInternalErrorsAreOpaque(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	h := &Handler{log: log}

	rec := httptest.NewRecorder()
	h.writeError(rec, httptest.NewRequest(http.MethodGet, "/cards", nil), fmt.Errorf("failed to open: %w", sentinel.ErrEncryption))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
}
