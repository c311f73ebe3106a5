package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/goalplan/internal/domain"
	"github.com/ashureev/goalplan/internal/shared"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	writeMaxRetries = 3
	writeBaseDelay  = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository and applies migrations.
func NewSQLite(dbPath string) (Repository, error) {
	return newSQLite(dbPath)
}

func newSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL for concurrent readers; immediate transactions so writers queue on
	// busy_timeout instead of failing on lock upgrade.
	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := migrate(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		slog.Debug("Applied migration", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func (s *SQLiteStore) write(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return shared.RetryOnConflict(ctx, writeMaxRetries, writeBaseDelay, op, fn)
}

// GetUser retrieves a user by key.
func (s *SQLiteStore) GetUser(ctx context.Context, userKey string) (*domain.User, error) {
	query := `
		SELECT user_key, name, picture, token_json, created_at, updated_at
		FROM users WHERE user_key = ?`

	var user domain.User
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, userKey).Scan(
		&user.Key, &user.Name, &user.Picture, &user.TokenJSON, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	user.CreatedAt = time.Unix(0, createdAt)
	user.UpdatedAt = time.Unix(0, updatedAt)
	return &user, nil
}

// UpsertUser creates or updates a user record. An empty token keeps the stored one.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_key, name, picture, token_json, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_key) DO UPDATE SET
		name = excluded.name,
		picture = excluded.picture,
		token_json = CASE WHEN excluded.token_json = '' THEN users.token_json ELSE excluded.token_json END,
		updated_at = excluded.updated_at`

	return s.write(ctx, "upsert_user", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query,
			user.Key, user.Name, user.Picture, user.TokenJSON,
			user.CreatedAt.UnixNano(), user.UpdatedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
		return nil
	})
}

// UpdateUserToken replaces the stored OAuth token of a user.
func (s *SQLiteStore) UpdateUserToken(ctx context.Context, userKey, tokenJSON string) error {
	return s.write(ctx, "update_user_token", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE users SET token_json = ?, updated_at = ? WHERE user_key = ?`,
			tokenJSON, time.Now().UnixNano(), userKey)
		if err != nil {
			return fmt.Errorf("update user token: %w", err)
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			slog.Warn("UpdateUserToken affected 0 rows", "user_key", userKey)
		}
		return nil
	})
}

// AppendTurns persists turns atomically in the given order.
func (s *SQLiteStore) AppendTurns(ctx context.Context, userKey string, turns ...*domain.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	rows := make([]string, len(turns))
	for i, t := range turns {
		if !t.Role.Valid() {
			return fmt.Errorf("append turn: invalid role %q", t.Role)
		}
		parts := t.Parts
		if parts == nil {
			parts = []string{}
		}
		data, err := json.Marshal(parts)
		if err != nil {
			return fmt.Errorf("encode turn content: %w", err)
		}
		rows[i] = string(data)
	}

	return s.write(ctx, "append_turns", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin append: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		ids := make([]int64, len(turns))
		for i, t := range turns {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO chat_messages (user_key, role, content_json, timestamp) VALUES (?, ?, ?, ?)`,
				userKey, string(t.Role), rows[i], t.Timestamp.UnixNano())
			if err != nil {
				return fmt.Errorf("insert turn: %w", err)
			}
			if ids[i], err = res.LastInsertId(); err != nil {
				return fmt.Errorf("turn id: %w", err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit append: %w", err)
		}
		for i, t := range turns {
			t.ID = ids[i]
		}
		return nil
	})
}

// ListTurns returns turns in sequence order, optionally only those after since.
func (s *SQLiteStore) ListTurns(ctx context.Context, userKey string, since *time.Time) ([]domain.Turn, error) {
	query := `SELECT id, role, content_json, timestamp FROM chat_messages WHERE user_key = ?`
	args := []any{userKey}
	if since != nil {
		query += ` AND timestamp > ?`
		args = append(args, since.UnixNano())
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close turn rows", "error", closeErr)
		}
	}()

	var turns []domain.Turn
	for rows.Next() {
		var t domain.Turn
		var role, content string
		var ts int64
		if err := rows.Scan(&t.ID, &role, &content, &ts); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		if err := json.Unmarshal([]byte(content), &t.Parts); err != nil {
			return nil, fmt.Errorf("decode turn %d content: %w", t.ID, err)
		}
		t.Role = domain.Role(role)
		t.Timestamp = time.Unix(0, ts)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return turns, nil
}

// CountUserTurnsSince counts user-role turns with timestamp >= since.
func (s *SQLiteStore) CountUserTurnsSince(ctx context.Context, userKey string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_messages WHERE user_key = ? AND role = 'user' AND timestamp >= ?`,
		userKey, since.UnixNano()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count user turns: %w", err)
	}
	return n, nil
}

// DeleteTurns removes every turn of a user.
func (s *SQLiteStore) DeleteTurns(ctx context.Context, userKey string) error {
	return s.write(ctx, "delete_turns", func(ctx context.Context) error {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE user_key = ?`, userKey); err != nil {
			return fmt.Errorf("delete turns: %w", err)
		}
		return nil
	})
}

// GetLatestSummary returns the user's summary or nil.
func (s *SQLiteStore) GetLatestSummary(ctx context.Context, userKey string) (*domain.Summary, error) {
	var sum domain.Summary
	var ts int64
	err := s.db.QueryRowContext(ctx,
		`SELECT summary_text, timestamp FROM summaries WHERE user_key = ?`, userKey).Scan(&sum.Text, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan summary: %w", err)
	}
	sum.Timestamp = time.Unix(0, ts)
	return &sum, nil
}

// PutSummary upserts the user's single summary row.
func (s *SQLiteStore) PutSummary(ctx context.Context, userKey string, summary domain.Summary) error {
	query := `
	INSERT INTO summaries (user_key, summary_text, timestamp) VALUES (?, ?, ?)
	ON CONFLICT(user_key) DO UPDATE SET
		summary_text = excluded.summary_text,
		timestamp = excluded.timestamp`

	return s.write(ctx, "put_summary", func(ctx context.Context) error {
		if _, err := s.db.ExecContext(ctx, query, userKey, summary.Text, summary.Timestamp.UnixNano()); err != nil {
			return fmt.Errorf("upsert summary: %w", err)
		}
		return nil
	})
}

// DeleteSummary removes the user's summary.
func (s *SQLiteStore) DeleteSummary(ctx context.Context, userKey string) error {
	return s.write(ctx, "delete_summary", func(ctx context.Context) error {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM summaries WHERE user_key = ?`, userKey); err != nil {
			return fmt.Errorf("delete summary: %w", err)
		}
		return nil
	})
}

// DeleteConversation removes turns and summary in one transaction.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, userKey string) error {
	return s.write(ctx, "delete_conversation", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin delete: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE user_key = ?`, userKey); err != nil {
			return fmt.Errorf("delete turns: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM summaries WHERE user_key = ?`, userKey); err != nil {
			return fmt.Errorf("delete summary: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit delete: %w", err)
		}
		return nil
	})
}

// GetPlan returns the user's plan record or nil.
func (s *SQLiteStore) GetPlan(ctx context.Context, userKey string) (*domain.PlanRecord, error) {
	var planJSON, syncJSON string
	var updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT plan_json, external_sync_ids_json, updated_at FROM plans WHERE user_key = ?`,
		userKey).Scan(&planJSON, &syncJSON, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan plan: %w", err)
	}

	rec := &domain.PlanRecord{UserKey: userKey, UpdatedAt: time.Unix(0, updatedAt)}
	if err := json.Unmarshal([]byte(planJSON), &rec.Plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if err := json.Unmarshal([]byte(syncJSON), &rec.Sync); err != nil {
		return nil, fmt.Errorf("decode sync ids: %w", err)
	}
	return rec, nil
}

// PutPlan replaces the user's plan, keeping only the task list id.
func (s *SQLiteStore) PutPlan(ctx context.Context, userKey string, plan domain.Plan) error {
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}

	return s.write(ctx, "put_plan", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin put plan: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var prev domain.SyncIDs
		var prevJSON string
		err = tx.QueryRowContext(ctx, `SELECT external_sync_ids_json FROM plans WHERE user_key = ?`, userKey).Scan(&prevJSON)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("read sync ids: %w", err)
		default:
			if err := json.Unmarshal([]byte(prevJSON), &prev); err != nil {
				slog.Warn("Discarding unreadable sync ids", "user_key", userKey, "error", err)
			}
		}

		syncJSON, err := json.Marshal(domain.SyncIDs{TaskListID: prev.TaskListID})
		if err != nil {
			return fmt.Errorf("encode sync ids: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO plans (user_key, plan_json, external_sync_ids_json, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(user_key) DO UPDATE SET
				plan_json = excluded.plan_json,
				external_sync_ids_json = excluded.external_sync_ids_json,
				updated_at = excluded.updated_at`,
			userKey, string(planJSON), string(syncJSON), time.Now().UnixNano())
		if err != nil {
			return fmt.Errorf("upsert plan: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit put plan: %w", err)
		}
		return nil
	})
}

// PutSyncIDs stores the external identifiers of the current plan.
func (s *SQLiteStore) PutSyncIDs(ctx context.Context, userKey string, ids domain.SyncIDs) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode sync ids: %w", err)
	}
	return s.write(ctx, "put_sync_ids", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE plans SET external_sync_ids_json = ?, updated_at = ? WHERE user_key = ?`,
			string(data), time.Now().UnixNano(), userKey)
		if err != nil {
			return fmt.Errorf("update sync ids: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return domain.ErrNoPlan
		}
		return nil
	})
}
