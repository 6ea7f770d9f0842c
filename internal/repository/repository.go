package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/Dan9191/bank-cards/internal/sentinel"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schema string

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Repository provides PostgreSQL-backed storage
type Repository struct {
	db *sql.DB
}

var _ Store = (*Repository)(nil)

// NewRepository initializes a new repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates the schema if it does not exist
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// RunInTx runs fn inside a database transaction
func (r *Repository) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() // no-op after commit
	}()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Users

// CreateUser creates a new user in the database
func (r *Repository) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, username, email, role, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.Username, user.Email, string(user.Role), user.PasswordHash, user.CreatedAt)
	if err != nil {
		if pqCode(err) == pqUniqueViolation {
			return fmt.Errorf("username %q already taken: %w", user.Username, sentinel.ErrConflict)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// UpdateUser overwrites a user's mutable fields
func (r *Repository) UpdateUser(ctx context.Context, user *models.User) error {
	query := `
		UPDATE users
		SET username = $2, email = $3, role = $4, password_hash = $5
		WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query,
		user.ID, user.Username, user.Email, string(user.Role), user.PasswordHash)
	if err != nil {
		if pqCode(err) == pqUniqueViolation {
			return fmt.Errorf("username %q already taken: %w", user.Username, sentinel.ErrConflict)
		}
		return fmt.Errorf("failed to update user: %w", err)
	}
	return expectOneRow(res, "user", user.ID)
}

// FindUserByID retrieves a user by id
func (r *Repository) FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, selectUser+` WHERE id = $1`, id)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// FindUserByUsername retrieves a user by username
func (r *Repository) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, selectUser+` WHERE username = $1`, username)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", username, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// ListUsers pages through users whose name contains query, ignoring case
func (r *Repository) ListUsers(ctx context.Context, query string, page models.PageRequest) (*models.Page[models.User], error) {
	page = page.Normalize()
	where := ` WHERE ($1::text = '' OR username ILIKE '%' || $1::text || '%')`

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`+where, query).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		selectUser+where+` ORDER BY username LIMIT $2 OFFSET $3`, query, page.Size, page.Offset())
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	result := &models.Page[models.User]{Items: []models.User{}, Total: total, Page: page.Page, Size: page.Size}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		result.Items = append(result.Items, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return result, nil
}

// DeleteUser removes a user; owned cards go with it via ON DELETE CASCADE
func (r *Repository) DeleteUser(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return expectOneRow(res, "user", id)
}

// Cards

// FindCardByID retrieves a card with its owner name
func (r *Repository) FindCardByID(ctx context.Context, id uuid.UUID) (*models.Card, error) {
	return findCard(ctx, r.db, id)
}

// SaveCard inserts or updates a card
func (r *Repository) SaveCard(ctx context.Context, card *models.Card) error {
	return saveCard(ctx, r.db, card)
}

// DeleteCard removes a card. Ledger rows keep referencing its id.
func (r *Repository) DeleteCard(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM cards WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete card: %w", err)
	}
	return expectOneRow(res, "card", id)
}

// FindCards pages through cards matching filter
func (r *Repository) FindCards(ctx context.Context, filter models.CardFilter, page models.PageRequest) (*models.Page[models.Card], error) {
	page = page.Normalize()

	var (
		conds []string
		args  []any
	)
	if filter.Status != nil {
		args = append(args, filter.Status.String())
		conds = append(conds, fmt.Sprintf("c.status = $%d", len(args)))
	}
	if filter.OwnerID != nil {
		args = append(args, *filter.OwnerID)
		conds = append(conds, fmt.Sprintf("c.owner_id = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cards c`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count cards: %w", err)
	}

	query := selectCard + where +
		fmt.Sprintf(" ORDER BY c.created_at, c.id LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, query, append(args, page.Size, page.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	defer rows.Close()

	result := &models.Page[models.Card]{Items: []models.Card{}, Total: total, Page: page.Page, Size: page.Size}
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		result.Items = append(result.Items, *card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	return result, nil
}

// ExpireCards marks every card expiring before the given date as EXPIRED
func (r *Repository) ExpireCards(ctx context.Context, before time.Time) (int64, error) {
	query := `
		UPDATE cards
		SET status = $1, updated_at = CURRENT_TIMESTAMP
		WHERE expiration < $2 AND status <> $1`
	res, err := r.db.ExecContext(ctx, query, models.CardStatusExpired.String(), models.Date(before))
	if err != nil {
		return 0, fmt.Errorf("failed to expire cards: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to expire cards: %w", err)
	}
	return n, nil
}

// Transfers

// ListTransfersByCard returns ledger rows touching a card, newest first
func (r *Repository) ListTransfersByCard(ctx context.Context, cardID uuid.UUID) ([]models.Transfer, error) {
	query := `
		SELECT id, from_card_id, to_card_id, amount, created_at
		FROM transfers
		WHERE from_card_id = $1 OR to_card_id = $1
		ORDER BY created_at DESC, id`
	rows, err := r.db.QueryContext(ctx, query, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	defer rows.Close()

	transfers := []models.Transfer{}
	for rows.Next() {
		var t models.Transfer
		if err := rows.Scan(&t.ID, &t.FromCardID, &t.ToCardID, &t.Amount, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	return transfers, nil
}

// pgTx implements Tx over *sql.Tx using row locks
type pgTx struct {
	tx *sql.Tx
}

// LockCards selects the cards FOR UPDATE in id order so that concurrent
// transfers over the same pair cannot deadlock.
func (t *pgTx) LockCards(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]*models.Card, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}

	rows, err := t.tx.QueryContext(ctx,
		selectCard+` WHERE c.id = ANY($1::uuid[]) ORDER BY c.id FOR UPDATE OF c`, pq.Array(keys))
	if err != nil {
		return nil, fmt.Errorf("failed to lock cards: %w", err)
	}
	defer rows.Close()

	cards := make(map[uuid.UUID]*models.Card, len(ids))
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		cards[card.ID] = card
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to lock cards: %w", err)
	}
	return cards, nil
}

func (t *pgTx) SaveCard(ctx context.Context, card *models.Card) error {
	return saveCard(ctx, t.tx, card)
}

func (t *pgTx) UpdateBalance(ctx context.Context, cardID uuid.UUID, balance int64) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE cards SET balance = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $1`, cardID, balance)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	return expectOneRow(res, "card", cardID)
}

func (t *pgTx) UpdateStatus(ctx context.Context, cardID uuid.UUID, status models.CardStatus) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE cards SET status = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $1`, cardID, status.String())
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return expectOneRow(res, "card", cardID)
}

func (t *pgTx) AppendTransfer(ctx context.Context, transfer *models.Transfer) error {
	query := `
		INSERT INTO transfers (id, from_card_id, to_card_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := t.tx.ExecContext(ctx, query,
		transfer.ID, transfer.FromCardID, transfer.ToCardID, transfer.Amount, transfer.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append transfer: %w", err)
	}
	return nil
}

// helpers

const selectUser = `
		SELECT id, username, email, role, password_hash, created_at
		FROM users`

const selectCard = `
		SELECT c.id, c.number, c.number_fingerprint, c.owner_id, u.username,
		       c.expiration, c.status, c.balance, c.created_at, c.updated_at
		FROM cards c
		JOIN users u ON u.id = c.owner_id`

func scanUser(row rowScanner) (*models.User, error) {
	var (
		user models.User
		role string
	)
	if err := row.Scan(&user.ID, &user.Username, &user.Email, &role, &user.PasswordHash, &user.CreatedAt); err != nil {
		return nil, err
	}
	user.Role = models.Role(role)
	return &user, nil
}

func scanCard(row rowScanner) (*models.Card, error) {
	var (
		card   models.Card
		status string
	)
	err := row.Scan(&card.ID, &card.Number, &card.Fingerprint, &card.OwnerID, &card.OwnerName,
		&card.Expiration, &status, &card.Balance, &card.CreatedAt, &card.UpdatedAt)
	if err != nil {
		return nil, err
	}
	card.Status, err = models.ParseCardStatus(status)
	if err != nil {
		return nil, fmt.Errorf("failed to scan card %s: %w", card.ID, err)
	}
	card.Expiration = models.Date(card.Expiration)
	return &card, nil
}

func findCard(ctx context.Context, q querier, id uuid.UUID) (*models.Card, error) {
	card, err := scanCard(q.QueryRowContext(ctx, selectCard+` WHERE c.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("card %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find card: %w", err)
	}
	return card, nil
}

func saveCard(ctx context.Context, q querier, card *models.Card) error {
	query := `
		INSERT INTO cards (id, number, number_fingerprint, owner_id, expiration, status, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			number = EXCLUDED.number,
			number_fingerprint = EXCLUDED.number_fingerprint,
			owner_id = EXCLUDED.owner_id,
			expiration = EXCLUDED.expiration,
			status = EXCLUDED.status,
			balance = EXCLUDED.balance,
			updated_at = EXCLUDED.updated_at`
	_, err := q.ExecContext(ctx, query,
		card.ID, card.Number, card.Fingerprint, card.OwnerID, models.Date(card.Expiration),
		card.Status.String(), card.Balance, card.CreatedAt, card.UpdatedAt)
	switch pqCode(err) {
	case "":
	case pqUniqueViolation:
		return fmt.Errorf("card number already registered: %w", sentinel.ErrConflict)
	case pqForeignKeyViolation:
		return fmt.Errorf("owner %s: %w", card.OwnerID, sentinel.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to save card: %w", err)
	}
	return nil
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func expectOneRow(res sql.Result, entity string, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", entity, id, sentinel.ErrNotFound)
	}
	return nil
}
