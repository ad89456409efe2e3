package db

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"researchbuddy/internal/models"
)

var ErrSessionNotFound = errors.New("session not found")

// Timestamps are stored as UTC text in this layout so sqlite's date() works
// and lexical order matches time order.
const timeLayout = "2006-01-02 15:04:05.000000"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

func Open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer; the async recorder and the UI share the handle
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			start_time TEXT NOT NULL,
			client_agent TEXT NOT NULL DEFAULT '',
			client_addr TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS interactions (
			interaction_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			model_name TEXT NOT NULL,
			model_id TEXT NOT NULL,
			temperature REAL NOT NULL,
			max_tokens INTEGER NOT NULL,
			user_query TEXT NOT NULL,
			model_response TEXT NOT NULL,
			has_file INTEGER NOT NULL DEFAULT 0,
			file_name TEXT,
			has_image INTEGER NOT NULL DEFAULT 0,
			execution_time_ms INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY(session_id) REFERENCES sessions(session_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_start ON sessions(start_time DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_session ON interactions(session_id, timestamp);`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_timestamp ON interactions(timestamp);`,
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return db, nil
}

// LogSession registers a session; repeated calls are ignored.
func LogSession(ctx context.Context, db *sql.DB, s models.SessionInfo) error {
	if s.StartTime.IsZero() {
		s.StartTime = time.Now()
	}
	_, err := db.ExecContext(ctx,
		"INSERT OR IGNORE INTO sessions(session_id, start_time, client_agent, client_addr) VALUES(?, ?, ?, ?)",
		s.SessionID,
		formatTime(s.StartTime),
		s.ClientAgent,
		s.ClientAddr,
	)
	return err
}

// LogInteraction stores one turn and returns its generated id. The session row
// is created on demand.
func LogInteraction(ctx context.Context, db *sql.DB, rec models.InteractionRecord) (string, error) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if err := LogSession(ctx, db, models.SessionInfo{SessionID: rec.SessionID, StartTime: rec.Timestamp}); err != nil {
		return "", err
	}

	id := uuid.NewString()
	var fileName any
	if rec.FileName != "" {
		fileName = rec.FileName
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO interactions(
			interaction_id, session_id, timestamp, model_name, model_id, temperature, max_tokens,
			user_query, model_response, has_file, file_name, has_image, execution_time_ms
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		rec.SessionID,
		formatTime(rec.Timestamp),
		rec.ModelName,
		rec.ModelID,
		rec.Temperature,
		rec.MaxTokens,
		rec.UserQuery,
		rec.ModelResponse,
		rec.HasFile,
		fileName,
		rec.HasImage,
		rec.ElapsedMs,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// Sink adapts a handle to the conversation recorder.
type Sink struct {
	DB *sql.DB
}

func (s Sink) LogInteraction(ctx context.Context, rec models.InteractionRecord) error {
	_, err := LogInteraction(ctx, s.DB, rec)
	return err
}

func GetSession(ctx context.Context, db *sql.DB, sessionID string) (models.SessionInfo, error) {
	var info models.SessionInfo
	var start string
	err := db.QueryRowContext(ctx,
		"SELECT session_id, start_time, client_agent, client_addr FROM sessions WHERE session_id = ?",
		sessionID,
	).Scan(&info.SessionID, &start, &info.ClientAgent, &info.ClientAddr)
	if errors.Is(err, sql.ErrNoRows) {
		return info, ErrSessionNotFound
	}
	if err != nil {
		return info, err
	}
	info.StartTime = parseTime(start)
	return info, nil
}

func SessionInteractions(ctx context.Context, db *sql.DB, sessionID string) ([]models.Interaction, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT interaction_id, session_id, timestamp, model_name, model_id, temperature, max_tokens,
			user_query, model_response, has_file, file_name, has_image, execution_time_ms
		FROM interactions WHERE session_id = ? ORDER BY timestamp ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Interaction{}
	for rows.Next() {
		var it models.Interaction
		var ts string
		var fileName sql.NullString
		if err := rows.Scan(
			&it.InteractionID, &it.SessionID, &ts, &it.ModelName, &it.ModelID, &it.Temperature, &it.MaxTokens,
			&it.UserQuery, &it.ModelResponse, &it.HasFile, &fileName, &it.HasImage, &it.ElapsedMs,
		); err != nil {
			return nil, err
		}
		it.Timestamp = parseTime(ts)
		it.FileName = fileName.String
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// RecentSessions pages through sessions newest first. Sessions with fewer than
// minMessages interactions are skipped. The count covers the filtered set.
func RecentSessions(ctx context.Context, db *sql.DB, limit, offset, minMessages int) (int, []models.SessionListItem, error) {
	const filtered = `
		SELECT s.session_id, s.start_time,
			COUNT(i.interaction_id) AS message_count,
			COALESCE(MAX(i.timestamp), s.start_time) AS last_activity,
			COALESCE((SELECT user_query FROM interactions li
				WHERE li.session_id = s.session_id ORDER BY li.timestamp DESC LIMIT 1), '') AS last_query
		FROM sessions s
		LEFT JOIN interactions i ON i.session_id = s.session_id
		GROUP BY s.session_id
		HAVING COUNT(i.interaction_id) >= ?`

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ("+filtered+")", minMessages).Scan(&count); err != nil {
		return 0, nil, err
	}

	rows, err := db.QueryContext(ctx,
		filtered+" ORDER BY s.start_time DESC LIMIT ? OFFSET ?",
		minMessages, limit, offset,
	)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	items := make([]models.SessionListItem, 0, limit)
	for rows.Next() {
		var it models.SessionListItem
		var start, last string
		if err := rows.Scan(&it.SessionID, &start, &it.MessageCount, &last, &it.LastQuery); err != nil {
			return 0, nil, err
		}
		it.StartTime = parseTime(start)
		it.LastActivity = parseTime(last)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, err
	}

	return count, items, nil
}
