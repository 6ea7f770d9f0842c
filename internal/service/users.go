package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/Dan9191/bank-cards/internal/sentinel"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	accessTokenTTL  = 24 * time.Hour
	refreshTokenTTL = 7 * 24 * time.Hour

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// Claims are the JWT claims of access and refresh tokens
type Claims struct {
	Role models.Role `json:"role"`
	Type string      `json:"typ"`
	jwt.RegisteredClaims
}

// TokenPair is returned by register, login and refresh
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Register creates a new USER with a hashed password and signs it in
func (s *Service) Register(ctx context.Context, username, password, email string) (*models.User, *TokenPair, error) {
	user, err := s.createUser(ctx, username, password, email, models.RoleUser)
	if err != nil {
		return nil, nil, err
	}
	tokens, err := s.issueTokens(user)
	if err != nil {
		return nil, nil, err
	}
	return user, tokens, nil
}

// Login authenticates a user and returns an access and a refresh token
func (s *Service) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	user, err := s.store.FindUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, fmt.Errorf("invalid credentials: %w", sentinel.ErrUnauthorized)
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("invalid credentials: %w", sentinel.ErrUnauthorized)
	}

	tokens, err := s.issueTokens(user)
	if err != nil {
		return nil, err
	}
	s.log.Infof("User logged in: %s", user.Username)
	return tokens, nil
}

// Refresh exchanges a valid refresh token for a new token pair. The role is
// reloaded from the store, so a changed role shows up in the new tokens.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.parseToken(refreshToken, tokenTypeRefresh)
	if err != nil {
		return nil, err
	}
	user, err := s.store.FindUserByUsername(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, fmt.Errorf("refresh token for unknown user: %w", sentinel.ErrUnauthorized)
		}
		return nil, err
	}

	tokens, err := s.issueTokens(user)
	if err != nil {
		return nil, err
	}
	s.log.WithField("user", user.Username).Info("Tokens refreshed")
	return tokens, nil
}

// ParseToken validates an access token issued by Login, Register or Refresh.
// Refresh tokens are rejected.
func (s *Service) ParseToken(tokenString string) (*Claims, error) {
	return s.parseToken(tokenString, tokenTypeAccess)
}

func (s *Service) parseToken(tokenString, wantType string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return []byte(s.config.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired(), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %v: %w", err, sentinel.ErrUnauthorized)
	}
	if claims.Type != wantType {
		return nil, fmt.Errorf("expected %s token, got %q: %w", wantType, claims.Type, sentinel.ErrUnauthorized)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject: %w", sentinel.ErrUnauthorized)
	}
	return claims, nil
}

func (s *Service) issueTokens(user *models.User) (*TokenPair, error) {
	access, err := s.signToken(user, tokenTypeAccess, accessTokenTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := s.signToken(user, tokenTypeRefresh, refreshTokenTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *Service) signToken(user *models.User, tokenType string, ttl time.Duration) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: user.Role,
		Type: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := token.SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to generate %s token: %w", tokenType, err)
	}
	return signed, nil
}

// ListUsers pages through users whose username contains query
func (s *Service) ListUsers(ctx context.Context, actingUsername, query string, page models.PageRequest) (*models.Page[models.User], error) {
	if _, err := s.requireAdminActor(ctx, actingUsername); err != nil {
		return nil, err
	}
	return s.store.ListUsers(ctx, query, page)
}

// CreateUser lets an admin create a user with any role
func (s *Service) CreateUser(ctx context.Context, actingUsername, username, password, email string, role models.Role) (*models.User, error) {
	if _, err := s.requireAdminActor(ctx, actingUsername); err != nil {
		return nil, err
	}
	if _, err := models.ParseRole(string(role)); err != nil {
		return nil, err
	}
	return s.createUser(ctx, username, password, email, role)
}

// UpdateUser applies the non-nil fields of update
func (s *Service) UpdateUser(ctx context.Context, actingUsername string, id uuid.UUID, update models.UserUpdate) (*models.User, error) {
	if _, err := s.requireAdminActor(ctx, actingUsername); err != nil {
		return nil, err
	}

	user, err := s.store.FindUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if update.Username != nil && *update.Username != "" {
		if err := validateUsername(*update.Username); err != nil {
			return nil, err
		}
		user.Username = *update.Username
	}
	if update.Password != nil && *update.Password != "" {
		hash, err := s.hashPassword(*update.Password)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = hash
	}
	if update.Email != nil {
		user.Email = *update.Email
	}
	if update.Role != nil {
		role, err := models.ParseRole(string(*update.Role))
		if err != nil {
			return nil, err
		}
		user.Role = role
	}

	if err := s.store.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	s.log.WithField("user_id", id).Info("User updated")
	return user, nil
}

// DeleteUser removes a user together with every card it owns
func (s *Service) DeleteUser(ctx context.Context, actingUsername string, id uuid.UUID) error {
	if _, err := s.requireAdminActor(ctx, actingUsername); err != nil {
		return err
	}
	if err := s.store.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.log.WithField("user_id", id).Info("User and owned cards deleted")
	return nil
}

func (s *Service) requireAdminActor(ctx context.Context, actingUsername string) (*models.User, error) {
	actor, err := s.resolveActor(ctx, actingUsername)
	if err != nil {
		return nil, err
	}
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return actor, nil
}

func (s *Service) createUser(ctx context.Context, username, password, email string, role models.Role) (*models.User, error) {
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	hash, err := s.hashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		ID:           uuid.New(),
		Username:     username,
		Email:        email,
		Role:         role,
		PasswordHash: hash,
		CreatedAt:    s.now(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.log.WithField("role", role).Infof("User registered: %s", user.Username)
	return user, nil
}

func (s *Service) hashPassword(password string) (string, error) {
	if len(password) < 6 || len(password) > 72 {
		return "", fmt.Errorf("password must be 6-72 characters: %w", sentinel.ErrInvalidInput)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

func validateUsername(username string) error {
	if len(username) < 3 || len(username) > 50 {
		return fmt.Errorf("username must be 3-50 characters: %w", sentinel.ErrInvalidInput)
	}
	return nil
}
