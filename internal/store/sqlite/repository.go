package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"saldo/internal/core"
	"saldo/internal/store"

	_ "modernc.org/sqlite"
)

var _ store.Repository = (*Repository)(nil)

// Repository stores each user aggregate as one JSON document row. The
// version column carries the optimistic lock.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{db: db, now: time.Now}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database answers. Used by the readiness probe.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) Load(ctx context.Context, userID string) (*core.User, error) {
	var (
		version int64
		doc     string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT version, document FROM users WHERE user_id = ?`, userID,
	).Scan(&version, &doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", core.ErrNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}

	var u core.User
	if err := json.Unmarshal([]byte(doc), &u); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", userID, err)
	}
	// The column is authoritative; the document copy may lag one write.
	u.Version = version
	return store.Normalize(&u), nil
}

func (r *Repository) GetOrCreate(ctx context.Context, userID string) (*core.User, error) {
	return store.GetOrCreate(ctx, r, userID)
}

// Save inserts a version-0 user or updates a row whose version matches.
// Zero affected rows means another writer got there first.
func (r *Repository) Save(ctx context.Context, u *core.User) error {
	now := r.now().UTC()
	next := *u
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	next.UpdatedAt = now
	next.Version = u.Version + 1

	doc, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("encode user %s: %w", u.UserID, err)
	}

	var res sql.Result
	if u.Version == 0 {
		res, err = r.db.ExecContext(ctx,
			`INSERT INTO users (user_id, version, balance, document, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(user_id) DO NOTHING`,
			next.UserID, next.Version, next.Balance.String(), string(doc), next.CreatedAt, next.UpdatedAt)
	} else {
		res, err = r.db.ExecContext(ctx,
			`UPDATE users SET version = ?, balance = ?, document = ?, updated_at = ?
			 WHERE user_id = ? AND version = ?`,
			next.Version, next.Balance.String(), string(doc), next.UpdatedAt, next.UserID, u.Version)
	}
	if err != nil {
		return fmt.Errorf("save user %s: %w", u.UserID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save user %s: %w", u.UserID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: user %s version %d", store.ErrVersionConflict, u.UserID, u.Version)
	}

	u.Version = next.Version
	u.CreatedAt = next.CreatedAt
	u.UpdatedAt = next.UpdatedAt

	slog.DebugContext(ctx, "User document saved",
		"user_id", u.UserID,
		"version", u.Version,
		"balance", u.Balance.String())
	return nil
}

func (r *Repository) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT user_id FROM users ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
