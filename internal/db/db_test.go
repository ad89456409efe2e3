package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"researchbuddy/internal/models"
)

func openTest(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := Open(filepath.Join(t.TempDir(), "logs", "chat_logs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func record(session, model string, at time.Time, ms int64) models.InteractionRecord {
	return models.InteractionRecord{
		SessionID:     session,
		Timestamp:     at,
		ModelName:     model,
		ModelID:       model + "-id",
		Temperature:   0.7,
		MaxTokens:     1000,
		UserQuery:     "question at " + at.Format(time.Kitchen),
		ModelResponse: "answer",
		ElapsedMs:     ms,
	}
}

func TestLogInteractionCreatesSessionAndRoundTrips(t *testing.T) {
	ctx := context.Background()
	conn := openTest(t)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	rec := record("s1", "Qwen QwQ 32B", at, 1234)
	rec.HasFile = true
	rec.FileName = "report.csv"
	id, err := LogInteraction(ctx, conn, rec)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	info, err := GetSession(ctx, conn, "s1")
	require.NoError(t, err)
	assert.True(t, info.StartTime.Equal(at))

	items, err := SessionInteractions(ctx, conn, "s1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	got := items[0]
	assert.Equal(t, id, got.InteractionID)
	assert.Equal(t, "Qwen QwQ 32B", got.ModelName)
	assert.Equal(t, 0.7, got.Temperature)
	assert.True(t, got.HasFile)
	assert.Equal(t, "report.csv", got.FileName)
	assert.False(t, got.HasImage)
	assert.EqualValues(t, 1234, got.ElapsedMs)
	assert.True(t, got.Timestamp.Equal(at))
}

func TestLogSessionIgnoresDuplicates(t *testing.T) {
	ctx := context.Background()
	conn := openTest(t)
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, LogSession(ctx, conn, models.SessionInfo{SessionID: "s", StartTime: first, ClientAgent: "tui"}))
	require.NoError(t, LogSession(ctx, conn, models.SessionInfo{SessionID: "s", StartTime: first.Add(time.Hour), ClientAgent: "http"}))

	info, err := GetSession(ctx, conn, "s")
	require.NoError(t, err)
	assert.Equal(t, "tui", info.ClientAgent)
	assert.True(t, info.StartTime.Equal(first))

	_, err = GetSession(ctx, conn, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionInteractionsOrdered(t *testing.T) {
	ctx := context.Background()
	conn := openTest(t)
	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	for _, off := range []time.Duration{2 * time.Minute, 0, time.Minute} {
		_, err := LogInteraction(ctx, conn, record("s", "m", base.Add(off), 1))
		require.NoError(t, err)
	}
	items, err := SessionInteractions(ctx, conn, "s")
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.True(t, items[0].Timestamp.Before(items[1].Timestamp))
	assert.True(t, items[1].Timestamp.Before(items[2].Timestamp))
}

func TestRecentSessionsPagingAndFilter(t *testing.T) {
	ctx := context.Background()
	conn := openTest(t)
	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

	// s0 has 1 message, s1 has 2, s2 has 3; s2 is newest
	for i, sid := range []string{"s0", "s1", "s2"} {
		start := base.Add(time.Duration(i) * time.Hour)
		for j := 0; j <= i; j++ {
			_, err := LogInteraction(ctx, conn, record(sid, "m", start.Add(time.Duration(j)*time.Minute), 1))
			require.NoError(t, err)
		}
	}
	require.NoError(t, LogSession(ctx, conn, models.SessionInfo{SessionID: "empty", StartTime: base.Add(-time.Hour)}))

	count, items, err := RecentSessions(ctx, conn, 2, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
	require.Len(t, items, 2)
	assert.Equal(t, "s2", items[0].SessionID)
	assert.Equal(t, 3, items[0].MessageCount)
	assert.Contains(t, items[0].LastQuery, "question")

	_, page2, err := RecentSessions(ctx, conn, 2, 2, 0)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, "empty", page2[1].SessionID)
	assert.Equal(t, 0, page2[1].MessageCount)

	count, items, err = RecentSessions(ctx, conn, 10, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	require.Len(t, items, 2)
	assert.Equal(t, "s2", items[0].SessionID)
	assert.Equal(t, "s1", items[1].SessionID)
}

func TestStatsAndUsage(t *testing.T) {
	ctx := context.Background()
	conn := openTest(t)

	st, err := Stats(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, models.Stats{}, st)

	day1 := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)
	for _, r := range []models.InteractionRecord{
		record("a", "Alpha", day1, 100),
		record("a", "Alpha", day1.Add(time.Minute), 300),
		record("b", "Beta", day2, 50),
	} {
		_, err := LogInteraction(ctx, conn, r)
		require.NoError(t, err)
	}

	st, err = Stats(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, 2, st.TotalSessions)
	assert.Equal(t, 3, st.TotalInteractions)
	assert.Equal(t, "Alpha", st.PopularModel)
	assert.Equal(t, 2, st.PopularModelCount)

	usage, err := ModelUsage(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, []models.ModelUsage{{ModelName: "Alpha", Count: 2}, {ModelName: "Beta", Count: 1}}, usage)

	daily, err := DailyUsage(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, []models.DailyUsage{{Date: "2026-05-01", Count: 2}, {Date: "2026-05-02", Count: 1}}, daily)

	times, err := ResponseTimes(ctx, conn)
	require.NoError(t, err)
	require.Len(t, times, 2)
	assert.Equal(t, "Beta", times[0].ModelName)
	assert.InDelta(t, 200, times[1].AvgMs, 0.001)
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	conn := openTest(t)
	old := time.Now().Add(-60 * 24 * time.Hour)
	recent := time.Now().Add(-time.Hour)

	_, err := LogInteraction(ctx, conn, record("old", "m", old, 1))
	require.NoError(t, err)
	_, err = LogInteraction(ctx, conn, record("mixed", "m", old, 1))
	require.NoError(t, err)
	_, err = LogInteraction(ctx, conn, record("mixed", "m", recent, 1))
	require.NoError(t, err)
	_, err = LogInteraction(ctx, conn, record("new", "m", recent, 1))
	require.NoError(t, err)

	ni, ns, err := Cleanup(ctx, conn, time.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, ni)
	assert.EqualValues(t, 1, ns)

	_, err = GetSession(ctx, conn, "old")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	items, err := SessionInteractions(ctx, conn, "mixed")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestQueryReadOnly(t *testing.T) {
	ctx := context.Background()
	conn := openTest(t)
	_, err := LogInteraction(ctx, conn, record("s", "Alpha", time.Now(), 10))
	require.NoError(t, err)

	res, err := Query(ctx, conn, "SELECT model_name, execution_time_ms, file_name FROM interactions")
	require.NoError(t, err)
	assert.Equal(t, []string{"model_name", "execution_time_ms", "file_name"}, res.Columns)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, []string{"Alpha", "10", "NULL"}, res.Rows[0])

	_, err = Query(ctx, conn, "DELETE FROM interactions")
	assert.ErrorIs(t, err, ErrNotReadOnly)

	// writes hidden inside a CTE are still rejected by query_only
	_, err = Query(ctx, conn, "WITH x AS (SELECT 1) DELETE FROM interactions")
	assert.Error(t, err)

	// the connection is usable for writes again afterwards
	_, err = LogInteraction(ctx, conn, record("s", "Alpha", time.Now(), 10))
	require.NoError(t, err)
}

func TestSinkSatisfiesRecorder(t *testing.T) {
	conn := openTest(t)
	require.NoError(t, Sink{DB: conn}.LogInteraction(context.Background(), record("x", "m", time.Now(), 1)))

	st, err := Stats(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalInteractions)
}
