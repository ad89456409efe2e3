package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"researchbuddy/internal/catalog"
	"researchbuddy/internal/config"
	"researchbuddy/internal/conversation"
	"researchbuddy/internal/credentials"
	"researchbuddy/internal/db"
	"researchbuddy/internal/gateway"
	"researchbuddy/internal/models"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\nfake")

type stubGateway struct {
	mu       sync.Mutex
	calls    int
	lastMsgs []models.Message
}

func (g *stubGateway) Complete(_ context.Context, creds credentials.Provider, msgs []models.Message, modelID string, _ float64, _ int) (string, error) {
	if _, _, err := creds.Resolve(); err != nil {
		return "", &gateway.Error{Kind: models.ErrMissingCredential, Detail: err.Error()}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.lastMsgs = msgs
	return "answer from " + modelID, nil
}

func (g *stubGateway) GenerateImage(_ context.Context, creds credentials.Provider, _, _ string) ([]byte, error) {
	if _, _, err := creds.Resolve(); err != nil {
		return nil, &gateway.Error{Kind: models.ErrMissingCredential, Detail: err.Error()}
	}
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	return pngBytes, nil
}

type syncRecorder struct{ conn *sql.DB }

func (r syncRecorder) Record(rec models.InteractionRecord) {
	_, _ = db.LogInteraction(context.Background(), r.conn, rec)
}

type adminSecret string

func (a adminSecret) AdminPassword() (string, bool) { return string(a), a != "" }

type fixture struct {
	srv     *Server
	handler http.Handler
	gw      *stubGateway
	conn    *sql.DB
}

func newFixture(t *testing.T, creds credentials.Resolver, cfg config.ServerConfig) *fixture {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "chat_logs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	gw := &stubGateway{}
	orch := conversation.New(catalog.Default(), gw, creds, conversation.WithRecorder(syncRecorder{conn}))
	srv := New(orch,
		conversation.Settings{ModelName: "OpenAI GPT 4.1 Nano", Temperature: 0.7, MaxTokens: 1000},
		cfg,
		WithDB(conn),
		WithAdminSecret(adminSecret("hunter2")),
		WithRegistry(prometheus.NewRegistry()),
	)
	return &fixture{srv: srv, handler: srv.Handler(), gw: gw, conn: conn}
}

func keyed() credentials.Resolver {
	ov := &credentials.Override{}
	ov.Set("sk-test")
	return credentials.NewResolver(ov)
}

func (f *fixture) do(t *testing.T, method, path string, body any, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (f *fixture) newSession(t *testing.T) sessionView {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[sessionView](t, rec)
}

func TestHealthAndCatalog(t *testing.T) {
	f := newFixture(t, keyed(), config.ServerConfig{})

	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/models", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]models.AIModel](t, rec)
	require.Len(t, list, 10)
	assert.Equal(t, "OpenAI GPT 4.1 Nano", list[0].Name)

	rec = f.do(t, http.MethodGet, "/api/routes", nil)
	routes := decode[map[string]string](t, rec)
	assert.Equal(t, "gpt-4.1-mini", routes["code_analysis"])
}

func TestSessionLifecycleAndTurn(t *testing.T) {
	f := newFixture(t, keyed(), config.ServerConfig{})
	sess := f.newSession(t)
	assert.Empty(t, sess.Warning)
	assert.Equal(t, "OpenAI GPT 4.1 Nano", sess.Settings.Model)

	info, err := db.GetSession(context.Background(), f.conn, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, info.SessionID)

	rec := f.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/turns", map[string]string{"text": "hello"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	turn := decode[turnResponse](t, rec)
	assert.Nil(t, turn.Error)
	assert.Equal(t, "answer from gpt-4.1-nano", turn.Text)
	require.Len(t, turn.Messages, 2)
	assert.Equal(t, models.RoleUser, turn.Messages[0].Role)

	items, err := db.SessionInteractions(context.Background(), f.conn, sess.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "hello", items[0].UserQuery)

	rec = f.do(t, http.MethodGet, "/metrics", nil)
	assert.Contains(t, rec.Body.String(), `researchbuddy_turns_total{model="gpt-4.1-nano",outcome="ok"} 1`)

	rec = f.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[sessionView](t, rec).Messages)

	rec = f.do(t, http.MethodDelete, "/api/sessions/"+sess.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/sessions/"+sess.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTurnValidation(t *testing.T) {
	f := newFixture(t, keyed(), config.ServerConfig{})
	sess := f.newSession(t)

	rec := f.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/turns", map[string]string{"text": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/sessions/missing/turns", map[string]string{"text": "hi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 0, f.gw.calls)
}

func TestSettings(t *testing.T) {
	f := newFixture(t, keyed(), config.ServerConfig{})
	sess := f.newSession(t)
	path := "/api/sessions/" + sess.ID + "/settings"

	rec := f.do(t, http.MethodPut, path, map[string]any{"temperature": 1.5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPut, path, map[string]any{"model": "Nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, path, map[string]any{"model": "Qwen QwQ 32B", "temperature": 0.2, "max_tokens": 500})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[sessionView](t, rec).Settings
	assert.Equal(t, settingsView{Model: "Qwen QwQ 32B", Temperature: 0.2, MaxTokens: 500}, got)

	rec = f.do(t, http.MethodPost, "/api/sessions", map[string]any{"max_tokens": 99999})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCredentialOverride(t *testing.T) {
	f := newFixture(t, credentials.NewResolver(), config.ServerConfig{})

	rec := f.do(t, http.MethodGet, "/api/credential", nil)
	status := decode[map[string]any](t, rec)
	assert.Equal(t, false, status["available"])

	sess := f.newSession(t)
	assert.Equal(t, credentials.ErrMissing.Error(), sess.Warning)

	rec = f.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/turns", map[string]string{"text": "hi"})
	raw := decode[map[string]any](t, rec)
	assert.NotContains(t, raw, "text")
	errBody, ok := raw["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, string(models.ErrMissingCredential), errBody["kind"])
	assert.NotEmpty(t, errBody["message"])
	assert.Equal(t, 0, f.gw.calls)

	rec = f.do(t, http.MethodPut, "/api/sessions/"+sess.ID+"/credential", map[string]string{"api_key": "sk-live"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[sessionView](t, rec).Warning)

	rec = f.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/turns", map[string]string{"text": "hi"})
	assert.Nil(t, decode[turnResponse](t, rec).Error)
	assert.Equal(t, 1, f.gw.calls)
}

func TestAttachAndDetach(t *testing.T) {
	f := newFixture(t, keyed(), config.ServerConfig{})
	sess := f.newSession(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, _ = part.Write([]byte("the moon is made of cheese"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+sess.ID+"/attachments", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "notes.txt", decode[sessionView](t, rec).File)

	f.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/turns", map[string]string{"text": "summarize"})
	require.NotEmpty(t, f.gw.lastMsgs)
	assert.Equal(t, models.RoleSystem, f.gw.lastMsgs[0].Role)
	assert.Contains(t, f.gw.lastMsgs[0].Content, "the moon is made of cheese")

	rec = f.do(t, http.MethodDelete, "/api/sessions/"+sess.ID+"/attachments", nil)
	assert.Empty(t, decode[sessionView](t, rec).File)
}

func TestImageGeneration(t *testing.T) {
	f := newFixture(t, keyed(), config.ServerConfig{})
	sess := f.newSession(t)

	rec := f.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/images", map[string]string{"prompt": "a red fox"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "gemini-2.5-pro-exp-03-25", rec.Header().Get("X-Model-Id"))
	assert.Equal(t, pngBytes, rec.Body.Bytes())

	items, err := db.SessionInteractions(context.Background(), f.conn, sess.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, conversation.ImageQueryPrefix+"a red fox", items[0].UserQuery)
}

func TestExportConversation(t *testing.T) {
	f := newFixture(t, keyed(), config.ServerConfig{})
	sess := f.newSession(t)
	f.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/turns", map[string]string{"text": "hello"})

	rec := f.do(t, http.MethodGet, "/api/sessions/"+sess.ID+"/export?format=md", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".md")
	assert.Contains(t, rec.Body.String(), "## You\n\nhello")

	rec = f.do(t, http.MethodGet, "/api/sessions/"+sess.ID+"/export?format=xlsx", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminAuth(t *testing.T) {
	f := newFixture(t, keyed(), config.ServerConfig{AdminRate: 0.001, AdminBurst: 3})
	sess := f.newSession(t)
	f.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/turns", map[string]string{"text": "hello"})

	rec := f.do(t, http.MethodGet, "/api/admin/stats", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/admin/stats", nil, AdminHeader, "hunter2")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rep := decode[statsReport](t, rec)
	assert.Equal(t, 1, rep.Stats.TotalInteractions)
	assert.Equal(t, "OpenAI GPT 4.1 Nano", rep.Stats.PopularModel)

	rec = f.do(t, http.MethodGet, "/api/admin/sessions/"+sess.ID+"/export?format=csv", nil, AdminHeader, "hunter2")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, strings.HasPrefix(rec.Body.String(), "interaction_id,session_id"))

	rec = f.do(t, http.MethodGet, "/api/admin/stats", nil, AdminHeader, "hunter2")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestAdminSessions(t *testing.T) {
	f := newFixture(t, keyed(), config.ServerConfig{})
	sess := f.newSession(t)
	f.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/turns", map[string]string{"text": "hello"})

	rec := f.do(t, http.MethodGet, "/api/admin/sessions?limit=5", nil, AdminHeader, "hunter2")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[struct {
		Total    int                      `json:"total"`
		Sessions []models.SessionListItem `json:"sessions"`
	}](t, rec)
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Sessions, 1)
	assert.Equal(t, 1, page.Sessions[0].MessageCount)

	rec = f.do(t, http.MethodGet, "/api/admin/sessions/nope", nil, AdminHeader, "hunter2")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeShutsDownCleanly(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	gw := &stubGateway{}
	orch := conversation.New(catalog.Default(), gw, keyed())
	srv := New(orch, conversation.Settings{ModelName: "OpenAI GPT 4.1 Nano", Temperature: 0.7, MaxTokens: 1000},
		config.ServerConfig{}, WithRegistry(prometheus.NewRegistry()))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
