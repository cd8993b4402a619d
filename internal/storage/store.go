package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fyers_desk/internal/domain"

	_ "github.com/glebarez/go-sqlite"
)

// Metadata keys.
const (
	KeyLastUser = "last_user"
)

// Store persists users, encrypted broker credentials, watchlists and
// metadata in SQLite. Credential columns only ever hold vault ciphertext.
type Store struct {
	db *sql.DB
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS broker_credentials (
		user_id INTEGER PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
		api_key TEXT NOT NULL,
		api_secret TEXT NOT NULL,
		access_token TEXT,
		token_issued_at INTEGER,
		token_expires_at INTEGER,
		updated_at INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS watchlist (
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		symbol TEXT NOT NULL,
		exchange TEXT NOT NULL,
		added_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, exchange, symbol)
	);`,
}

// Open opens (or creates) the database at dbPath with WAL mode enabled.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// pragmas are per connection
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateUser inserts u and returns it with its assigned id.
// A taken username yields domain.ErrAlreadyExists.
func (s *Store) CreateUser(ctx context.Context, u domain.User) (domain.User, error) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, email, password_hash, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(username) DO NOTHING`,
		u.Username, u.Email, u.PasswordHash, u.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to insert user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.User{}, fmt.Errorf("user %q: %w", u.Username, domain.ErrAlreadyExists)
	}
	u.ID, err = res.LastInsertId()
	if err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// UserByUsername returns domain.ErrNotFound for unknown names.
func (s *Store) UserByUsername(ctx context.Context, username string) (domain.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT id, username, email, password_hash, created_at FROM users WHERE username = ?", username))
}

func (s *Store) UserByID(ctx context.Context, id int64) (domain.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT id, username, email, password_hash, created_at FROM users WHERE id = ?", id))
}

func (s *Store) scanUser(row *sql.Row) (domain.User, error) {
	var u domain.User
	var created int64
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to scan user: %w", err)
	}
	u.CreatedAt = time.UnixMilli(created)
	return u, nil
}

// SaveCredentials writes the whole record in one statement, replacing any
// previous record of the user.
func (s *Store) SaveCredentials(ctx context.Context, rec domain.CredentialRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO broker_credentials
			(user_id, api_key, api_secret, access_token, token_issued_at, token_expires_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			api_key=excluded.api_key,
			api_secret=excluded.api_secret,
			access_token=excluded.access_token,
			token_issued_at=excluded.token_issued_at,
			token_expires_at=excluded.token_expires_at,
			updated_at=excluded.updated_at`,
		rec.UserID, rec.APIKey, rec.APISecret,
		nullString(rec.AccessToken), nullTime(rec.TokenIssuedAt), nullTime(rec.TokenExpiresAt),
		rec.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

// Credentials returns domain.ErrNotFound when the user has none.
func (s *Store) Credentials(ctx context.Context, userID int64) (domain.CredentialRecord, error) {
	var rec domain.CredentialRecord
	var token sql.NullString
	var issued, expires sql.NullInt64
	var updated int64

	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, api_key, api_secret, access_token, token_issued_at, token_expires_at, updated_at
		 FROM broker_credentials WHERE user_id = ?`, userID,
	).Scan(&rec.UserID, &rec.APIKey, &rec.APISecret, &token, &issued, &expires, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CredentialRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.CredentialRecord{}, fmt.Errorf("failed to load credentials: %w", err)
	}

	rec.AccessToken = token.String
	if issued.Valid {
		rec.TokenIssuedAt = time.UnixMilli(issued.Int64)
	}
	if expires.Valid {
		rec.TokenExpiresAt = time.UnixMilli(expires.Int64)
	}
	rec.UpdatedAt = time.UnixMilli(updated)
	return rec, nil
}

// SaveToken stores an encrypted access token on an existing record.
func (s *Store) SaveToken(ctx context.Context, userID int64, cipherToken string, issued, expires time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE broker_credentials
		 SET access_token = ?, token_issued_at = ?, token_expires_at = ?, updated_at = ?
		 WHERE user_id = ?`,
		nullString(cipherToken), nullTime(issued), nullTime(expires), time.Now().UnixMilli(), userID,
	)
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ClearToken forgets the stored access token but keeps the api key pair.
func (s *Store) ClearToken(ctx context.Context, userID int64) error {
	return s.SaveToken(ctx, userID, "", time.Time{}, time.Time{})
}

func (s *Store) DeleteCredentials(ctx context.Context, userID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM broker_credentials WHERE user_id = ?", userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete credentials: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// AddWatch adds an instrument to the user's watchlist; duplicates are ignored.
func (s *Store) AddWatch(ctx context.Context, item domain.WatchItem) error {
	if item.AddedAt.IsZero() {
		item.AddedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO watchlist (user_id, symbol, exchange, added_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		item.UserID, item.Symbol, item.Exchange, item.AddedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to add watch: %w", err)
	}
	return nil
}

// RemoveWatch reports whether the instrument was on the list.
func (s *Store) RemoveWatch(ctx context.Context, userID int64, symbol, exchange string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM watchlist WHERE user_id = ? AND symbol = ? AND exchange = ?", userID, symbol, exchange)
	if err != nil {
		return false, fmt.Errorf("failed to remove watch: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Watchlist returns the user's instruments in insertion order.
func (s *Store) Watchlist(ctx context.Context, userID int64) ([]domain.WatchItem, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT symbol, exchange, added_at FROM watchlist WHERE user_id = ? ORDER BY added_at, rowid", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query watchlist: %w", err)
	}
	defer rows.Close()

	var items []domain.WatchItem
	for rows.Next() {
		item := domain.WatchItem{UserID: userID}
		var added int64
		if err := rows.Scan(&item.Symbol, &item.Exchange, &added); err != nil {
			return nil, fmt.Errorf("failed to scan watch: %w", err)
		}
		item.AddedAt = time.UnixMilli(added)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return items, nil
}

// UpsertMetadata saves a key-value pair to the metadata table.
func (s *Store) UpsertMetadata(ctx context.Context, kv domain.AppConfig) error {
	if kv.UpdatedAtUnixM == 0 {
		kv.UpdatedAtUnixM = time.Now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at",
		kv.Key, kv.Value, kv.UpdatedAtUnixM,
	)
	return err
}

// Metadata returns domain.ErrNotFound for a missing key.
func (s *Store) Metadata(ctx context.Context, key string) (domain.AppConfig, error) {
	kv := domain.AppConfig{Key: key}
	err := s.db.QueryRowContext(ctx, "SELECT value, updated_at FROM metadata WHERE key = ?", key).
		Scan(&kv.Value, &kv.UpdatedAtUnixM)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AppConfig{}, domain.ErrNotFound
	}
	return kv, err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullInt64 {
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: !t.IsZero()}
}
