package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avwx-rest/account-backend/internal/account/domain"
	sharedPersistence "github.com/avwx-rest/account-backend/internal/shared/infrastructure/persistence"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// PostgresUserRepository stores user aggregates as JSONB documents. Token
// values and the email live in separate unique-indexed columns so the
// database, not application code, is the last line of defense against
// duplicates.
type PostgresUserRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresUserRepository creates a new PostgresUserRepository.
func NewPostgresUserRepository(pool *pgxpool.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

// FindByID retrieves a user document by id.
func (r *PostgresUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	query := `SELECT doc, version FROM users WHERE id = $1`
	return r.queryOne(ctx, query, id)
}

// FindByEmail retrieves a user document by email address.
func (r *PostgresUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT doc, version FROM users WHERE email = $1`
	return r.queryOne(ctx, query, strings.ToLower(email))
}

// FindByCustomerID retrieves a user document by billing customer id.
func (r *PostgresUserRepository) FindByCustomerID(ctx context.Context, customerID string) (*domain.User, error) {
	query := `SELECT doc, version FROM users WHERE customer_id = $1`
	return r.queryOne(ctx, query, customerID)
}

// FindByTokenValue resolves a bearer token value to its owner through the
// token index.
func (r *PostgresUserRepository) FindByTokenValue(ctx context.Context, value string) (*domain.User, error) {
	query := `
		SELECT u.doc, u.version
		FROM users u
		JOIN user_tokens t ON t.user_id = u.id
		WHERE t.value = $1
	`
	return r.queryOne(ctx, query, value)
}

func (r *PostgresUserRepository) queryOne(ctx context.Context, query string, arg any) (*domain.User, error) {
	execer := sharedPersistence.Executor(ctx, r.pool)

	var (
		doc     []byte
		version int
	)
	if err := execer.QueryRow(ctx, query, arg).Scan(&doc, &version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("querying user: %w", err)
	}

	var user domain.User
	if err := json.Unmarshal(doc, &user); err != nil {
		return nil, fmt.Errorf("decoding user document: %w", err)
	}
	user.Version = version
	return &user, nil
}

// Save upserts the whole document and rebuilds the token index rows inside
// one transaction. A version mismatch on update surfaces ErrVersionConflict.
func (r *PostgresUserRepository) Save(ctx context.Context, user *domain.User) error {
	if info, ok := sharedPersistence.TxInfoFromContext(ctx); ok {
		return r.saveWithTx(ctx, info.Tx, user)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := r.saveWithTx(ctx, tx, user); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresUserRepository) saveWithTx(ctx context.Context, tx pgx.Tx, user *domain.User) error {
	doc, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encoding user document: %w", err)
	}

	var customerID *string
	if user.Billing != nil && user.Billing.CustomerID != "" {
		customerID = &user.Billing.CustomerID
	}

	if user.Version == 0 {
		query := `
			INSERT INTO users (id, email, customer_id, doc, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 1, $5, $6)
		`
		_, err = tx.Exec(ctx, query,
			user.ID,
			strings.ToLower(user.Email),
			customerID,
			doc,
			user.CreatedAt,
			user.UpdatedAt,
		)
		if err != nil {
			return translateSaveError(err)
		}
		user.Version = 1
	} else {
		query := `
			UPDATE users
			SET email = $2, customer_id = $3, doc = $4, version = version + 1, updated_at = $5
			WHERE id = $1 AND version = $6
		`
		tag, err := tx.Exec(ctx, query,
			user.ID,
			strings.ToLower(user.Email),
			customerID,
			doc,
			user.UpdatedAt,
			user.Version,
		)
		if err != nil {
			return translateSaveError(err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrVersionConflict
		}
		user.Version++
	}

	return r.syncTokenIndex(ctx, tx, user)
}

// syncTokenIndex rebuilds the flat token rows backing uniqueness checks and
// value lookups. Runs in the same transaction as the document write.
func (r *PostgresUserRepository) syncTokenIndex(ctx context.Context, tx pgx.Tx, user *domain.User) error {
	if _, err := tx.Exec(ctx, `DELETE FROM user_tokens WHERE user_id = $1`, user.ID); err != nil {
		return fmt.Errorf("clearing token index: %w", err)
	}

	query := `
		INSERT INTO user_tokens (value, token_id, user_id, created_at)
		VALUES ($1, $2, $3, $4)
	`
	now := time.Now().UTC()
	for _, token := range user.Tokens {
		if _, err := tx.Exec(ctx, query, token.Value, token.ID, user.ID, now); err != nil {
			return translateSaveError(err)
		}
	}
	return nil
}

// Delete removes the user document. Token index rows go with it through the
// foreign key.
func (r *PostgresUserRepository) Delete(ctx context.Context, user *domain.User) error {
	execer := sharedPersistence.Executor(ctx, r.pool)
	tag, err := execer.Exec(ctx, `DELETE FROM users WHERE id = $1`, user.ID)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// TokenValueExists reports whether any user already holds the token value.
func (r *PostgresUserRepository) TokenValueExists(ctx context.Context, value string) (bool, error) {
	execer := sharedPersistence.Executor(ctx, r.pool)

	var exists bool
	err := execer.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM user_tokens WHERE value = $1)`, value).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking token value: %w", err)
	}
	return exists, nil
}

// translateSaveError maps unique-constraint violations onto the domain
// sentinels the application layer retries or reports on.
func translateSaveError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		switch {
		case strings.Contains(pgErr.ConstraintName, "user_tokens"):
			return domain.ErrTokenValueConflict
		case strings.Contains(pgErr.ConstraintName, "email"):
			return domain.ErrEmailTaken
		}
	}
	return fmt.Errorf("saving user: %w", err)
}
