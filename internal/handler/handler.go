package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Dan9191/bank-cards/internal/middleware"
	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/Dan9191/bank-cards/internal/sentinel"
	"github.com/Dan9191/bank-cards/internal/service"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const dateLayout = "2006-01-02"

type Handler struct {
	svc *service.Service
	log *logrus.Logger
}

func NewHandler(svc *service.Service, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type registerResponse struct {
	User *models.User `json:"user"`
	*service.TokenPair
}

type cardRequest struct {
	CardNumber string    `json:"card_number"`
	OwnerID    uuid.UUID `json:"owner_id"`
	ExpiryDate string    `json:"expiry_date"`
	Balance    *int64    `json:"balance"`
}

type transferRequest struct {
	FromCardID uuid.UUID `json:"from_card_id"`
	ToCardID   uuid.UUID `json:"to_card_id"`
	Amount     int64     `json:"amount"`
}

type userRequest struct {
	Username string      `json:"username"`
	Password string      `json:"password"`
	Email    string      `json:"email"`
	Role     models.Role `json:"role"`
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, tokens, err := h.svc.Register(r.Context(), req.Username, req.Password, req.Email)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{User: user, TokenPair: tokens})
}

// Login handles user authentication
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !h.decode(w, r, &req) {
		return
	}
	tokens, err := h.svc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

// Refresh exchanges a refresh token for a new token pair
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		h.writeError(w, r, fmt.Errorf("refresh_token is required: %w", sentinel.ErrInvalidInput))
		return
	}
	tokens, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

// ListCards returns a page of cards visible to the caller
func (h *Handler) ListCards(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	cards, err := h.svc.ListCards(r.Context(), middleware.UsernameFromContext(r.Context()), q.Get("status"), q.Get("owner"), page)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cards)
}

// GetCard returns one masked card
func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	id, ok := h.cardID(w, r)
	if !ok {
		return
	}
	card, err := h.svc.GetCard(r.Context(), middleware.UsernameFromContext(r.Context()), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

// CardTransfers returns the ledger entries touching a card
func (h *Handler) CardTransfers(w http.ResponseWriter, r *http.Request) {
	id, ok := h.cardID(w, r)
	if !ok {
		return
	}
	transfers, err := h.svc.ListCardTransfers(r.Context(), middleware.UsernameFromContext(r.Context()), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transfers)
}

// Transfer moves funds between two of the caller's cards
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := h.svc.Transfer(r.Context(), req.FromCardID, req.ToCardID, req.Amount, middleware.UsernameFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "transfer completed"})
}

// RequestBlock lets an owner block their own card
func (h *Handler) RequestBlock(w http.ResponseWriter, r *http.Request) {
	id, ok := h.cardID(w, r)
	if !ok {
		return
	}
	username := middleware.UsernameFromContext(r.Context())
	if err := h.svc.RequestBlock(r.Context(), username, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respondCard(w, r, id)
}

// CreateCard handles card issuance by an admin
func (h *Handler) CreateCard(w http.ResponseWriter, r *http.Request) {
	input, ok := h.cardInput(w, r)
	if !ok {
		return
	}
	card, err := h.svc.CreateCard(r.Context(), middleware.UsernameFromContext(r.Context()), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, card)
}

// UpdateCard handles an admin edit of a card
func (h *Handler) UpdateCard(w http.ResponseWriter, r *http.Request) {
	id, ok := h.cardID(w, r)
	if !ok {
		return
	}
	input, ok := h.cardInput(w, r)
	if !ok {
		return
	}
	card, err := h.svc.UpdateCard(r.Context(), middleware.UsernameFromContext(r.Context()), id, input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

// DeleteCard removes a card
func (h *Handler) DeleteCard(w http.ResponseWriter, r *http.Request) {
	id, ok := h.cardID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteCard(r.Context(), middleware.UsernameFromContext(r.Context()), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BlockCard forces a card to BLOCKED
func (h *Handler) BlockCard(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, h.svc.BlockCard)
}

// ActivateCard forces a card to ACTIVE
func (h *Handler) ActivateCard(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, h.svc.ActivateCard)
}

// ListUsers returns a page of users, optionally filtered by ?q=
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	users, err := h.svc.ListUsers(r.Context(), middleware.UsernameFromContext(r.Context()), r.URL.Query().Get("q"), page)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// CreateUser lets an admin create a user with a role
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Role == "" {
		req.Role = models.RoleUser
	}
	user, err := h.svc.CreateUser(r.Context(), middleware.UsernameFromContext(r.Context()), req.Username, req.Password, req.Email, req.Role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// UpdateUser applies a partial user update
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "user")
	if !ok {
		return
	}
	var req models.UserUpdate
	if !h.decode(w, r, &req) {
		return
	}
	user, err := h.svc.UpdateUser(r.Context(), middleware.UsernameFromContext(r.Context()), id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// DeleteUser removes a user and their cards
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "user")
	if !ok {
		return
	}
	if err := h.svc.DeleteUser(r.Context(), middleware.UsernameFromContext(r.Context()), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, username string, id uuid.UUID) error) {
	id, ok := h.cardID(w, r)
	if !ok {
		return
	}
	if err := apply(r.Context(), middleware.UsernameFromContext(r.Context()), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respondCard(w, r, id)
}

func (h *Handler) respondCard(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	card, err := h.svc.GetCard(r.Context(), middleware.UsernameFromContext(r.Context()), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (h *Handler) cardInput(w http.ResponseWriter, r *http.Request) (models.CardInput, bool) {
	var req cardRequest
	if !h.decode(w, r, &req) {
		return models.CardInput{}, false
	}
	input := models.CardInput{
		Number:  req.CardNumber,
		OwnerID: req.OwnerID,
		Balance: req.Balance,
	}
	if req.ExpiryDate != "" {
		expiration, err := time.Parse(dateLayout, req.ExpiryDate)
		if err != nil {
			h.writeError(w, r, fmt.Errorf("expiry_date must be YYYY-MM-DD: %w", sentinel.ErrInvalidInput))
			return models.CardInput{}, false
		}
		input.Expiration = expiration
	}
	return input, true
}

func (h *Handler) cardID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	return h.pathID(w, r, "card")
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, fmt.Errorf("invalid %s id: %w", what, sentinel.ErrInvalidInput))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, r, fmt.Errorf("malformed request body: %w", sentinel.ErrInvalidInput))
		return false
	}
	return true
}

func pageFromQuery(r *http.Request) (models.PageRequest, error) {
	var page models.PageRequest
	q := r.URL.Query()
	for key, dst := range map[string]*int{"page": &page.Page, "size": &page.Size} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return page, fmt.Errorf("%s must be a non-negative integer: %w", key, sentinel.ErrInvalidInput)
		}
		*dst = n
	}
	return page.Normalize(), nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, sentinel.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, sentinel.ErrInvalidState), errors.Is(err, sentinel.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, sentinel.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, sentinel.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, sentinel.ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	message := err.Error()
	if code == http.StatusInternalServerError {
		h.log.WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path}).Errorf("Request failed: %v", err)
		message = "internal error"
	}
	writeJSON(w, code, map[string]string{"error": message})
}
