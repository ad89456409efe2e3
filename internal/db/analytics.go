package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"researchbuddy/internal/models"
)

var ErrNotReadOnly = errors.New("only SELECT, WITH and EXPLAIN statements are allowed")

func Stats(ctx context.Context, db *sql.DB) (models.Stats, error) {
	var st models.Stats
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&st.TotalSessions); err != nil {
		return st, err
	}
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM interactions").Scan(&st.TotalInteractions); err != nil {
		return st, err
	}

	err := db.QueryRowContext(ctx,
		"SELECT model_name, COUNT(*) AS c FROM interactions GROUP BY model_name ORDER BY c DESC, model_name ASC LIMIT 1",
	).Scan(&st.PopularModel, &st.PopularModelCount)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return st, err
	}
	return st, nil
}

func ModelUsage(ctx context.Context, db *sql.DB) ([]models.ModelUsage, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT model_name, COUNT(*) AS c FROM interactions GROUP BY model_name ORDER BY c DESC, model_name ASC",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.ModelUsage{}
	for rows.Next() {
		var u models.ModelUsage
		if err := rows.Scan(&u.ModelName, &u.Count); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func DailyUsage(ctx context.Context, db *sql.DB) ([]models.DailyUsage, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT date(timestamp) AS day, COUNT(*) FROM interactions GROUP BY day ORDER BY day ASC",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.DailyUsage{}
	for rows.Next() {
		var d models.DailyUsage
		if err := rows.Scan(&d.Date, &d.Count); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func ResponseTimes(ctx context.Context, db *sql.DB) ([]models.ResponseTime, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT model_name, AVG(execution_time_ms) AS avg_ms FROM interactions GROUP BY model_name ORDER BY avg_ms ASC",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.ResponseTime{}
	for rows.Next() {
		var r models.ResponseTime
		if err := rows.Scan(&r.ModelName, &r.AvgMs); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Cleanup deletes interactions older than before, then sessions left without
// any interaction that also started before the cutoff.
func Cleanup(ctx context.Context, db *sql.DB, before time.Time) (interactions int64, sessions int64, err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	cutoff := formatTime(before)
	res, err := tx.ExecContext(ctx, "DELETE FROM interactions WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, 0, err
	}
	if interactions, err = res.RowsAffected(); err != nil {
		return 0, 0, err
	}

	res, err = tx.ExecContext(ctx,
		`DELETE FROM sessions WHERE start_time < ?
			AND session_id NOT IN (SELECT DISTINCT session_id FROM interactions)`,
		cutoff,
	)
	if err != nil {
		return 0, 0, err
	}
	if sessions, err = res.RowsAffected(); err != nil {
		return 0, 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, 0, err
	}
	return interactions, sessions, nil
}

// QueryResult is a generic table for ad-hoc queries.
type QueryResult struct {
	Columns []string
	Rows    [][]string
}

// Query runs a read-only statement on a connection with query_only set.
func Query(ctx context.Context, db *sql.DB, query string) (QueryResult, error) {
	var out QueryResult

	head := strings.ToUpper(strings.TrimSpace(query))
	if !(strings.HasPrefix(head, "SELECT") || strings.HasPrefix(head, "WITH") || strings.HasPrefix(head, "EXPLAIN")) {
		return out, ErrNotReadOnly
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return out, err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON;"); err != nil {
		return out, err
	}
	defer conn.ExecContext(context.Background(), "PRAGMA query_only = OFF;")

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return out, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return out, err
	}
	out.Columns = cols

	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return out, err
		}
		row := make([]string, len(cols))
		for i, v := range vals {
			row[i] = cellString(v)
		}
		out.Rows = append(out.Rows, row)
	}
	return out, rows.Err()
}

func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(x)
	case time.Time:
		return formatTime(x)
	default:
		return fmt.Sprint(x)
	}
}
