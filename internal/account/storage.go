package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"speechkit-bot/internal/account/migrations"
)

// Storage handles account persistence. Every mutation is a single statement
// on a single row.
type Storage struct {
	db *sql.DB
}

// NewStorage opens (creating if needed) the sqlite ledger and migrates it.
func NewStorage(ctx context.Context, dbPath string) (*Storage, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("account: open db: %w", err)
	}
	// sqlite allows one writer; a single connection keeps writes ordered.
	db.SetMaxOpenConns(1)

	s := &Storage{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("account: migrate: %w", err)
	}

	return s, nil
}

// gooseLogger sends goose output to the default slog logger.
type gooseLogger struct {
	log *slog.Logger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.log.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
	os.Exit(1)
}

// migrate applies the embedded goose migrations
func (s *Storage) migrate(ctx context.Context) error {
	goose.SetLogger(gooseLogger{log: slog.Default().With("component", "migrations")})
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, s.db, ".")
}

const selectAccount = `
	SELECT id, user_id, tts_limit, stt_limit, gpt_limit, gpt_chat,
	       ban, voice, emotion, speed, debt
	FROM users`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var a Account
	var chat string

	err := row.Scan(
		&a.ID, &a.UserID, &a.TTSRemaining, &a.STTRemaining, &a.GPTRemaining, &chat,
		&a.Banned, &a.Voice, &a.Emotion, &a.Speed, &a.Debt,
	)
	if err != nil {
		return nil, err
	}

	a.ChatHistory, err = DecodeHistory(chat)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Get returns the account of a chat user
func (s *Storage) Get(ctx context.Context, userID int64) (*Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx, selectAccount+` WHERE user_id = ?`, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("account: get %d: %w", userID, err)
	}
	return a, nil
}

// List returns all accounts
func (s *Storage) List(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx, selectAccount+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("account: list: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("account: list: %w", err)
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// UserIDs returns the ids of every registered user in signup order
func (s *Storage) UserIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("account: user ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("account: user ids: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Count returns the number of registered users
func (s *Storage) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("account: count: %w", err)
	}
	return n, nil
}

// Create inserts a new row. It reports false when the user already exists,
// leaving the existing row untouched.
func (s *Storage) Create(ctx context.Context, a Account) (bool, error) {
	chat, err := a.ChatHistory.Encode()
	if err != nil {
		return false, fmt.Errorf("account: create %d: %w", a.UserID, err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO users (user_id, tts_limit, stt_limit, gpt_limit, gpt_chat, ban, voice, emotion, speed, debt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING
	`, a.UserID, a.TTSRemaining, a.STTRemaining, a.GPTRemaining, chat, a.Banned, a.Voice, a.Emotion, a.Speed, a.Debt)
	if err != nil {
		return false, fmt.Errorf("account: create %d: %w", a.UserID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("account: create %d: %w", a.UserID, err)
	}
	return n == 1, nil
}

// SetField updates a single column of a single row
func (s *Storage) SetField(ctx context.Context, userID int64, field Field, value any) error {
	if !fields[field] {
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}

	if h, ok := value.(History); ok {
		chat, err := h.Encode()
		if err != nil {
			return fmt.Errorf("account: set %s: %w", field, err)
		}
		value = chat
	}

	// field is checked against the column whitelist above
	result, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE users SET %s = ? WHERE user_id = ?`, field),
		value, userID,
	)
	if err != nil {
		return fmt.Errorf("account: set %s for %d: %w", field, userID, err)
	}
	return expectOneRow(result)
}

// Spend atomically decrements a quota pool. The row is only updated when the
// balance covers the amount; otherwise ErrQuotaExceeded is returned and
// nothing changes.
func (s *Storage) Spend(ctx context.Context, userID int64, kind Kind, amount int64) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("account: negative spend %d", amount)
	}
	field, err := FieldFor(kind)
	if err != nil {
		return 0, err
	}

	result, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE users SET %[1]s = %[1]s - ? WHERE user_id = ? AND %[1]s >= ?`, field),
		amount, userID, amount,
	)
	if err != nil {
		return 0, fmt.Errorf("account: spend %s for %d: %w", kind, userID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("account: spend %s for %d: %w", kind, userID, err)
	}

	a, err := s.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return a.Remaining(kind), ErrQuotaExceeded
	}
	return a.Remaining(kind), nil
}

// Delete deletes an account
func (s *Storage) Delete(ctx context.Context, userID int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("account: delete %d: %w", userID, err)
	}
	return expectOneRow(result)
}

// RequestLog is one metered operation attempt.
type RequestLog struct {
	UserID     int64
	Kind       Kind
	Units      int64
	Latency    time.Duration
	StatusCode int
	RequestID  string
}

// LogRequest logs a request
func (s *Storage) LogRequest(ctx context.Context, l RequestLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO request_logs (user_id, kind, units, latency_ms, status_code, request_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`, l.UserID, l.Kind, l.Units, l.Latency.Milliseconds(), l.StatusCode, l.RequestID)
	if err != nil {
		return fmt.Errorf("account: log request: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection
func (s *Storage) DB() *sql.DB {
	return s.db
}

func expectOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
