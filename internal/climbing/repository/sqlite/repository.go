// Package sqlite implements the climbing persistence interface on an
// embedded SQLite database for local development and single-node installs.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"cragcoach/internal/climbing"
	"cragcoach/internal/logging"
	jsonx "cragcoach/internal/shared/json"
	"cragcoach/internal/shared/values"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Repository reads climbing data from SQLite.
type Repository struct {
	db     *sql.DB
	logger logging.Logger
}

var _ climbing.Store = (*Repository)(nil)

// Open opens or creates the database at path and applies the schema.
// ":memory:" opens a private in-memory database.
func Open(path string) (*Repository, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}
	r := &Repository{db: db, logger: logging.NewComponentLogger("sqlite-repository")}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return r, nil
}

// Close closes the database.
func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS climber_profiles (
		user_id               TEXT PRIMARY KEY,
		years_climbing        REAL NOT NULL DEFAULT 0,
		highest_boulder_grade TEXT NOT NULL DEFAULT '',
		highest_sport_grade   TEXT NOT NULL DEFAULT '',
		current_grade         TEXT NOT NULL DEFAULT '',
		preferred_styles      TEXT NOT NULL DEFAULT '[]',
		strengths             TEXT NOT NULL DEFAULT '[]',
		weaknesses            TEXT NOT NULL DEFAULT '[]',
		goal_grade            TEXT NOT NULL DEFAULT '',
		goal_timeframe        TEXT NOT NULL DEFAULT '',
		injury_status         TEXT NOT NULL DEFAULT '',
		recovery_protocol     TEXT NOT NULL DEFAULT '',
		energy_level          TEXT NOT NULL DEFAULT '',
		sleep_quality         TEXT NOT NULL DEFAULT '',
		updated_at            TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS ticks (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id     TEXT NOT NULL,
		tick_date   TEXT NOT NULL,
		route_name  TEXT NOT NULL,
		grade       TEXT NOT NULL,
		send_status TEXT NOT NULL DEFAULT '',
		style       TEXT NOT NULL DEFAULT '',
		notes       TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_ticks_user_date ON ticks(user_id, tick_date DESC);

	CREATE TABLE IF NOT EXISTS performance_pyramids (
		user_id     TEXT NOT NULL,
		discipline  TEXT NOT NULL DEFAULT 'boulder',
		pyramid     TEXT NOT NULL DEFAULT '{}',
		total_sends INTEGER NOT NULL DEFAULT 0,
		updated_at  TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (user_id, discipline)
	);

	CREATE TABLE IF NOT EXISTS chat_history (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id         TEXT NOT NULL,
		conversation_id TEXT NOT NULL DEFAULT '',
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		created_at      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_history_user ON chat_history(user_id, conversation_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS pending_uploads (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		filename   TEXT NOT NULL,
		payload    TEXT NOT NULL,
		processed  INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);
	`
	_, err := r.db.Exec(schema)
	return err
}

// jsonColumns hold JSON text that is decoded when a row is read.
var jsonColumns = map[string]bool{
	"preferred_styles": true,
	"strengths":        true,
	"weaknesses":       true,
	"pyramid":          true,
}

func (r *Repository) fetchOne(ctx context.Context, query string, args ...any) (map[string]any, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	if !rows.Next() {
		return map[string]any{}, rows.Err()
	}
	raw := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(columns))
	for i, column := range columns {
		value := raw[i]
		if b, ok := value.([]byte); ok {
			value = string(b)
		}
		if jsonColumns[column] {
			if s, ok := value.(string); ok && s != "" {
				var decoded any
				if err := jsonx.Unmarshal([]byte(s), &decoded); err == nil {
					value = decoded
				}
			}
		}
		out[column] = value
	}
	return out, rows.Err()
}

func (r *Repository) FetchProfile(ctx context.Context, userID climbing.UserID) (map[string]any, error) {
	row, err := r.fetchOne(ctx, `SELECT * FROM climber_profiles WHERE user_id = ? LIMIT 1`, userID.String())
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	return row, nil
}

func (r *Repository) FetchPerformance(ctx context.Context, userID climbing.UserID) (map[string]any, error) {
	row, err := r.fetchOne(ctx, `SELECT * FROM performance_pyramids WHERE user_id = ? ORDER BY updated_at DESC LIMIT 1`, userID.String())
	if err != nil {
		return nil, fmt.Errorf("fetch performance: %w", err)
	}
	return row, nil
}

func (r *Repository) FetchTicksSince(ctx context.Context, userID climbing.UserID, since time.Time) ([]climbing.Tick, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT tick_date, route_name, grade, send_status, style, notes
		FROM ticks
		WHERE user_id = ? AND tick_date >= ?
		ORDER BY tick_date DESC, id DESC`, userID.String(), since.Format(climbing.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("fetch ticks: %w", err)
	}
	defer rows.Close()

	var ticks []climbing.Tick
	for rows.Next() {
		var t climbing.Tick
		if err := rows.Scan(&t.Date, &t.RouteName, &t.Grade, &t.Status, &t.Style, &t.Notes); err != nil {
			return nil, fmt.Errorf("scan ticks: %w", err)
		}
		t.Date = climbing.NormalizeDate(t.Date)
		ticks = append(ticks, t)
	}
	return ticks, rows.Err()
}

func (r *Repository) FetchChatHistory(ctx context.Context, userID climbing.UserID, conversationID string, limit int) ([]climbing.ChatTurn, error) {
	query := `SELECT conversation_id, role, content, created_at FROM chat_history WHERE user_id = ?`
	args := []any{userID.String()}
	if conversationID != "" {
		query += ` AND conversation_id = ?`
		args = append(args, conversationID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch chat history: %w", err)
	}
	defer rows.Close()

	var turns []climbing.ChatTurn
	for rows.Next() {
		var (
			turn      climbing.ChatTurn
			createdAt string
		)
		if err := rows.Scan(&turn.ConversationID, &turn.Role, &turn.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan chat history: %w", err)
		}
		turn.CreatedAt = parseTime(createdAt)
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

func (r *Repository) FetchPendingUploads(ctx context.Context, userID climbing.UserID) ([]climbing.Upload, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, filename, payload, created_at
		FROM pending_uploads
		WHERE user_id = ? AND processed = 0
		ORDER BY created_at`, userID.String())
	if err != nil {
		return nil, fmt.Errorf("fetch pending uploads: %w", err)
	}
	defer rows.Close()

	var uploads []climbing.Upload
	for rows.Next() {
		var (
			upload    climbing.Upload
			payload   string
			createdAt string
		)
		if err := rows.Scan(&upload.ID, &upload.Filename, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan pending uploads: %w", err)
		}
		if err := jsonx.Unmarshal([]byte(payload), &upload.Ticks); err != nil {
			return nil, fmt.Errorf("decode upload %s: %w", upload.ID, err)
		}
		upload.CreatedAt = parseTime(createdAt)
		uploads = append(uploads, upload)
	}
	return uploads, rows.Err()
}

func (r *Repository) ListActiveUsers(ctx context.Context, since time.Time) ([]climbing.UserID, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id FROM ticks WHERE tick_date >= ?
		UNION
		SELECT user_id FROM chat_history WHERE created_at >= ?
		ORDER BY 1`, since.Format(climbing.DateLayout), since.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	defer rows.Close()

	var users []climbing.UserID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan active users: %w", err)
		}
		id, err := climbing.NormalizeUserID(raw)
		if err != nil {
			r.logger.Warn("Skipping malformed user id %q: %v", raw, err)
			continue
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

func (r *Repository) SavePendingUpload(ctx context.Context, userID climbing.UserID, upload climbing.Upload) error {
	payload, err := jsonx.Marshal(upload.Ticks)
	if err != nil {
		return fmt.Errorf("encode upload %s: %w", upload.ID, err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO pending_uploads (id, user_id, filename, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		upload.ID, userID.String(), upload.Filename, string(payload), upload.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert pending upload: %w", err)
	}
	return nil
}

func (r *Repository) AppendChatTurn(ctx context.Context, userID climbing.UserID, turn climbing.ChatTurn) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO chat_history (user_id, conversation_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		userID.String(), turn.ConversationID, turn.Role, turn.Content, turn.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert chat turn: %w", err)
	}
	return nil
}

// UpsertProfile writes a climber profile. List fields are stored as JSON text.
func (r *Repository) UpsertProfile(ctx context.Context, userID climbing.UserID, profile map[string]any) error {
	columns := []string{"user_id", "updated_at"}
	args := []any{userID.String(), time.Now().UTC().Format(timeLayout)}
	for _, column := range profileColumns {
		value, ok := profile[column]
		if !ok {
			continue
		}
		if jsonColumns[column] {
			encoded, err := jsonx.Marshal(values.Strings(value))
			if err != nil {
				return fmt.Errorf("encode %s: %w", column, err)
			}
			value = string(encoded)
		}
		columns = append(columns, column)
		args = append(args, value)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	updates := make([]string, 0, len(columns)-1)
	for _, column := range columns[1:] {
		updates = append(updates, column+" = excluded."+column)
	}
	query := fmt.Sprintf(`INSERT INTO climber_profiles (%s) VALUES (%s) ON CONFLICT(user_id) DO UPDATE SET %s`,
		strings.Join(columns, ", "), placeholders, strings.Join(updates, ", "))
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

var profileColumns = []string{
	"years_climbing", "highest_boulder_grade", "highest_sport_grade", "current_grade",
	"preferred_styles", "strengths", "weaknesses", "goal_grade", "goal_timeframe",
	"injury_status", "recovery_protocol", "energy_level", "sleep_quality",
}

// RecordTick appends a tick.
func (r *Repository) RecordTick(ctx context.Context, userID climbing.UserID, t climbing.Tick) error {
	if _, ok := climbing.ParseDate(t.Date); !ok {
		return errors.New("record tick: unparseable date " + t.Date)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ticks (user_id, tick_date, route_name, grade, send_status, style, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		userID.String(), climbing.NormalizeDate(t.Date), t.RouteName, t.Grade, t.Status, t.Style, t.Notes)
	if err != nil {
		return fmt.Errorf("insert tick: %w", err)
	}
	return nil
}

// UpsertPerformance writes the performance pyramid of a discipline.
func (r *Repository) UpsertPerformance(ctx context.Context, userID climbing.UserID, discipline string, pyramid map[string]any, totalSends int) error {
	encoded, err := jsonx.Marshal(pyramid)
	if err != nil {
		return fmt.Errorf("encode pyramid: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO performance_pyramids (user_id, discipline, pyramid, total_sends, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, discipline) DO UPDATE SET
			pyramid = excluded.pyramid, total_sends = excluded.total_sends, updated_at = excluded.updated_at`,
		userID.String(), discipline, string(encoded), totalSends, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("upsert performance: %w", err)
	}
	return nil
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t
	}
	t, _ := climbing.ParseDate(s)
	return t
}
