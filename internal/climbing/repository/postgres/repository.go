// Package postgres implements the climbing persistence interface on Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"cragcoach/internal/climbing"
	"cragcoach/internal/logging"
	jsonx "cragcoach/internal/shared/json"
)

// pool abstracts the subset of pgxpool.Pool used by the repository for easier testing.
type pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Repository reads climbing data from Postgres.
type Repository struct {
	pool   pool
	logger logging.Logger
}

var _ climbing.Store = (*Repository)(nil)

// New builds a Repository backed by the provided connection pool.
func New(pool pool) (*Repository, error) {
	if pool == nil {
		return nil, errors.New("postgres repository requires pool")
	}
	return &Repository{pool: pool, logger: logging.NewComponentLogger("postgres-repository")}, nil
}

// Open connects a pgx pool to dsn and verifies it with a ping.
func Open(ctx context.Context, dsn string) (*Repository, error) {
	p, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(p)
}

// Close releases the pool.
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

// EnsureSchema creates the climbing tables if needed.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS climber_profiles (
    user_id TEXT PRIMARY KEY,
    years_climbing DOUBLE PRECISION NOT NULL DEFAULT 0,
    highest_boulder_grade TEXT NOT NULL DEFAULT '',
    highest_sport_grade TEXT NOT NULL DEFAULT '',
    current_grade TEXT NOT NULL DEFAULT '',
    preferred_styles TEXT[] NOT NULL DEFAULT '{}',
    strengths TEXT[] NOT NULL DEFAULT '{}',
    weaknesses TEXT[] NOT NULL DEFAULT '{}',
    goal_grade TEXT NOT NULL DEFAULT '',
    goal_timeframe TEXT NOT NULL DEFAULT '',
    injury_status TEXT NOT NULL DEFAULT '',
    recovery_protocol TEXT NOT NULL DEFAULT '',
    energy_level TEXT NOT NULL DEFAULT '',
    sleep_quality TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
		`CREATE TABLE IF NOT EXISTS ticks (
    id BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    tick_date DATE NOT NULL,
    route_name TEXT NOT NULL,
    grade TEXT NOT NULL,
    send_status TEXT,
    style TEXT,
    notes TEXT
);`,
		`CREATE INDEX IF NOT EXISTS idx_ticks_user_date ON ticks (user_id, tick_date DESC);`,
		`CREATE TABLE IF NOT EXISTS performance_pyramids (
    user_id TEXT NOT NULL,
    discipline TEXT NOT NULL DEFAULT 'boulder',
    pyramid JSONB NOT NULL DEFAULT '{}',
    total_sends INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (user_id, discipline)
);`,
		`CREATE TABLE IF NOT EXISTS chat_history (
    id BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    conversation_id TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_history_user ON chat_history (user_id, conversation_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS pending_uploads (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    filename TEXT NOT NULL,
    payload JSONB NOT NULL,
    processed BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	}
	for _, stmt := range statements {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) fetchOne(ctx context.Context, query string, userID climbing.UserID) (map[string]any, error) {
	rows, err := r.pool.Query(ctx, query, userID.String())
	if err != nil {
		return nil, err
	}
	row, err := pgx.CollectOneRow(rows, pgx.RowToMap)
	if errors.Is(err, pgx.ErrNoRows) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (r *Repository) FetchProfile(ctx context.Context, userID climbing.UserID) (map[string]any, error) {
	row, err := r.fetchOne(ctx, `SELECT * FROM climber_profiles WHERE user_id = $1 LIMIT 1`, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	return row, nil
}

func (r *Repository) FetchPerformance(ctx context.Context, userID climbing.UserID) (map[string]any, error) {
	row, err := r.fetchOne(ctx, `SELECT * FROM performance_pyramids WHERE user_id = $1 ORDER BY updated_at DESC LIMIT 1`, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch performance: %w", err)
	}
	return row, nil
}

func (r *Repository) FetchTicksSince(ctx context.Context, userID climbing.UserID, since time.Time) ([]climbing.Tick, error) {
	rows, err := r.pool.Query(ctx, `
SELECT tick_date, route_name, grade,
       COALESCE(send_status, ''), COALESCE(style, ''), COALESCE(notes, '')
FROM ticks
WHERE user_id = $1 AND tick_date >= $2
ORDER BY tick_date DESC, id DESC`, userID.String(), since)
	if err != nil {
		return nil, fmt.Errorf("fetch ticks: %w", err)
	}
	ticks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (climbing.Tick, error) {
		var (
			date time.Time
			t    climbing.Tick
		)
		if err := row.Scan(&date, &t.RouteName, &t.Grade, &t.Status, &t.Style, &t.Notes); err != nil {
			return t, err
		}
		t.Date = date.Format(climbing.DateLayout)
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan ticks: %w", err)
	}
	return ticks, nil
}

func (r *Repository) FetchChatHistory(ctx context.Context, userID climbing.UserID, conversationID string, limit int) ([]climbing.ChatTurn, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if conversationID != "" {
		rows, err = r.pool.Query(ctx, `
SELECT conversation_id, role, content, created_at
FROM chat_history
WHERE user_id = $1 AND conversation_id = $2
ORDER BY created_at DESC
LIMIT $3`, userID.String(), conversationID, limit)
	} else {
		rows, err = r.pool.Query(ctx, `
SELECT conversation_id, role, content, created_at
FROM chat_history
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2`, userID.String(), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch chat history: %w", err)
	}
	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (climbing.ChatTurn, error) {
		var turn climbing.ChatTurn
		err := row.Scan(&turn.ConversationID, &turn.Role, &turn.Content, &turn.CreatedAt)
		return turn, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan chat history: %w", err)
	}
	return turns, nil
}

func (r *Repository) FetchPendingUploads(ctx context.Context, userID climbing.UserID) ([]climbing.Upload, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, filename, payload, created_at
FROM pending_uploads
WHERE user_id = $1 AND processed = FALSE
ORDER BY created_at`, userID.String())
	if err != nil {
		return nil, fmt.Errorf("fetch pending uploads: %w", err)
	}
	uploads, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (climbing.Upload, error) {
		var (
			upload  climbing.Upload
			payload []byte
		)
		if err := row.Scan(&upload.ID, &upload.Filename, &payload, &upload.CreatedAt); err != nil {
			return upload, err
		}
		if err := jsonx.Unmarshal(payload, &upload.Ticks); err != nil {
			return upload, fmt.Errorf("decode upload %s: %w", upload.ID, err)
		}
		return upload, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan pending uploads: %w", err)
	}
	return uploads, nil
}

func (r *Repository) ListActiveUsers(ctx context.Context, since time.Time) ([]climbing.UserID, error) {
	rows, err := r.pool.Query(ctx, `
SELECT user_id FROM ticks WHERE tick_date >= $1
UNION
SELECT user_id FROM chat_history WHERE created_at >= $1
ORDER BY 1`, since)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	raw, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan active users: %w", err)
	}
	users := make([]climbing.UserID, 0, len(raw))
	for _, value := range raw {
		id, err := climbing.NormalizeUserID(value)
		if err != nil {
			r.logger.Warn("Skipping malformed user id %q: %v", value, err)
			continue
		}
		users = append(users, id)
	}
	return users, nil
}

func (r *Repository) SavePendingUpload(ctx context.Context, userID climbing.UserID, upload climbing.Upload) error {
	payload, err := jsonx.Marshal(upload.Ticks)
	if err != nil {
		return fmt.Errorf("encode upload %s: %w", upload.ID, err)
	}
	_, err = r.pool.Exec(ctx, `
INSERT INTO pending_uploads (id, user_id, filename, payload, created_at)
VALUES ($1, $2, $3, $4, $5)`, upload.ID, userID.String(), upload.Filename, payload, upload.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert pending upload: %w", err)
	}
	return nil
}

func (r *Repository) AppendChatTurn(ctx context.Context, userID climbing.UserID, turn climbing.ChatTurn) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO chat_history (user_id, conversation_id, role, content, created_at)
VALUES ($1, $2, $3, $4, $5)`, userID.String(), turn.ConversationID, turn.Role, turn.Content, turn.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert chat turn: %w", err)
	}
	return nil
}
