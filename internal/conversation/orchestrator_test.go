package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"researchbuddy/internal/catalog"
	"researchbuddy/internal/credentials"
	"researchbuddy/internal/gateway"
	"researchbuddy/internal/models"
)

// stubGateway counts calls and only answers when a key resolves, like the real client.
type stubGateway struct {
	mu       sync.Mutex
	calls    int
	lastID   string
	lastMsgs []models.Message
	reply    string
	image    []byte
	err      error
}

func (s *stubGateway) Complete(_ context.Context, creds credentials.Provider, msgs []models.Message, modelID string, _ float64, _ int) (string, error) {
	if _, _, err := creds.Resolve(); err != nil {
		return "", &gateway.Error{Kind: models.ErrMissingCredential, Detail: err.Error()}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastID = modelID
	s.lastMsgs = msgs
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func (s *stubGateway) GenerateImage(_ context.Context, creds credentials.Provider, _ string, modelID string) ([]byte, error) {
	if _, _, err := creds.Resolve(); err != nil {
		return nil, &gateway.Error{Kind: models.ErrMissingCredential, Detail: err.Error()}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastID = modelID
	if s.err != nil {
		return nil, s.err
	}
	return s.image, nil
}

type memRecorder struct {
	mu   sync.Mutex
	recs []models.InteractionRecord
}

func (m *memRecorder) Record(rec models.InteractionRecord) {
	m.mu.Lock()
	m.recs = append(m.recs, rec)
	m.mu.Unlock()
}

type panicRecorder struct{}

func (panicRecorder) Record(models.InteractionRecord) { panic("disk on fire") }

func withKey() credentials.Resolver {
	ov := &credentials.Override{}
	ov.Set("sk-test")
	return credentials.NewResolver(ov)
}

func request(model string) models.TurnRequest {
	return models.TurnRequest{UserText: "hi", ModelName: model, Temperature: 0.7, MaxTokens: 1000}
}

func noCodeCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	list := append([]models.AIModel{}, catalog.DefaultModels...)
	list = append(list, models.AIModel{Name: "Plain", ID: "plain-1", Capabilities: models.Capabilities{models.CapText: true}})
	c, err := catalog.New(list, catalog.DefaultRoutes)
	require.NoError(t, err)
	return c
}

func TestRoutingImageWithoutAnalysisCapability(t *testing.T) {
	gw := &stubGateway{reply: "A red bicycle."}
	o := New(catalog.Default(), gw, withKey())

	req := request("OpenAI GPT 4.1 Nano")
	req.Image = &models.ImageAttachment{PNG: []byte{1, 2, 3}}
	res := o.RunTurn(context.Background(), req, withKey())

	require.True(t, res.OK())
	route, err := catalog.Default().RouteFor(models.TaskImageAnalysis)
	require.NoError(t, err)
	assert.Equal(t, route, res.ModelID)
	assert.Equal(t, "A red bicycle.", res.Text)
	assert.True(t, res.Routed)
}

func TestRoutingImageBeatsCode(t *testing.T) {
	cat := noCodeCatalog(t)
	gw := &stubGateway{reply: "ok"}
	o := New(cat, gw, withKey())

	req := request("Plain")
	req.Image = &models.ImageAttachment{PNG: []byte{1}}
	req.File = &models.Attachment{Name: "x.py", Content: "some CODE here"}
	res := o.RunTurn(context.Background(), req, withKey())

	assert.Equal(t, "gemini-2.5-pro-exp-03-25", res.ModelID)
}

func TestRoutingCodeFile(t *testing.T) {
	cat := noCodeCatalog(t)
	gw := &stubGateway{reply: "ok"}
	o := New(cat, gw, withKey())

	req := request("Plain")
	req.File = &models.Attachment{Name: "x.txt", Content: "Source Code listing"}
	res := o.RunTurn(context.Background(), req, withKey())
	assert.Equal(t, "gpt-4.1-mini", res.ModelID)

	req.File = &models.Attachment{Name: "x.txt", Content: "shopping list"}
	res = o.RunTurn(context.Background(), req, withKey())
	assert.Equal(t, "plain-1", res.ModelID)
	assert.False(t, res.Routed)

	req.File = &models.Attachment{Name: "code.txt"}
	res = o.RunTurn(context.Background(), req, withKey())
	assert.Equal(t, "plain-1", res.ModelID)
	assert.Equal(t, models.RoleUser, gw.lastMsgs[0].Role)
}

func TestRoutingCapableModelKeepsOwnID(t *testing.T) {
	gw := &stubGateway{reply: "ok"}
	o := New(catalog.Default(), gw, withKey())

	req := request("Google Gemini 2.5 Pro Exp")
	req.Image = &models.ImageAttachment{PNG: []byte{1}}
	req.File = &models.Attachment{Content: "code"}
	res := o.RunTurn(context.Background(), req, withKey())
	assert.Equal(t, "gemini-2.5-pro-exp-03-25", res.ModelID)
	assert.False(t, res.Routed)
}

func TestRunTurnIsIdempotent(t *testing.T) {
	gw := &stubGateway{reply: "same"}
	o := New(catalog.Default(), gw, withKey())

	req := request("Meta Llama 3.3 70b")
	a := o.RunTurn(context.Background(), req, withKey())
	b := o.RunTurn(context.Background(), req, withKey())
	a.Elapsed, b.Elapsed = 0, 0
	assert.Equal(t, a, b)
}

func TestGatewayHTTPErrorBecomesErrorResult(t *testing.T) {
	gw := &stubGateway{err: &gateway.Error{Kind: models.ErrHTTP, Detail: "API request failed with status code 500: boom"}}
	o := New(catalog.Default(), gw, withKey())

	res := o.RunTurn(context.Background(), request("OpenAI GPT 4.1 Nano"), withKey())
	require.False(t, res.OK())
	assert.Empty(t, res.Text)
	assert.Equal(t, models.ErrHTTP, res.Err.Kind)
	assert.Equal(t, "Error: API request failed with status code 500: boom", res.Err.Message)
}

func TestEmptyResponseMessage(t *testing.T) {
	gw := &stubGateway{err: &gateway.Error{Kind: models.ErrEmptyResponse, Detail: "empty"}}
	o := New(catalog.Default(), gw, withKey())

	res := o.RunTurn(context.Background(), request("OpenAI GPT 4.1 Nano"), withKey())
	require.False(t, res.OK())
	assert.Equal(t, EmptyResponseMessage, res.Display())
}

func TestUnknownErrorIsTransport(t *testing.T) {
	gw := &stubGateway{err: errors.New("socket closed")}
	o := New(catalog.Default(), gw, withKey())

	res := o.RunTurn(context.Background(), request("OpenAI GPT 4.1 Nano"), withKey())
	assert.Equal(t, models.ErrTransport, res.Err.Kind)
	assert.Equal(t, "Error: socket closed", res.Err.Message)
}

func TestMissingCredentialMakesNoCalls(t *testing.T) {
	gw := &stubGateway{reply: "never"}
	o := New(catalog.Default(), gw, credentials.NewResolver())
	sess := NewSession(Settings{ModelName: "OpenAI GPT 4.1 Nano", Temperature: 0.7, MaxTokens: 1000})

	assert.NotEmpty(t, o.CredentialWarning(sess))
	res := o.Turn(context.Background(), sess, "hello")
	require.False(t, res.OK())
	assert.Equal(t, models.ErrMissingCredential, res.Err.Kind)
	assert.Equal(t, 0, gw.calls)

	sess.Credential.Set("typed-key")
	assert.Empty(t, o.CredentialWarning(sess))
	res = o.Turn(context.Background(), sess, "hello again")
	assert.True(t, res.OK())
	assert.Equal(t, 1, gw.calls)
}

func TestInvalidRequestsShortCircuit(t *testing.T) {
	gw := &stubGateway{reply: "x"}
	o := New(catalog.Default(), gw, withKey(), WithMaxTokensLimit(3000))

	cases := []models.TurnRequest{
		request("No Such Model"),
		{UserText: "x", ModelName: "OpenAI GPT 4.1 Nano", Temperature: 1.5, MaxTokens: 10},
		{UserText: "x", ModelName: "OpenAI GPT 4.1 Nano", Temperature: 0.5, MaxTokens: 0},
		{UserText: "x", ModelName: "OpenAI GPT 4.1 Nano", Temperature: 0.5, MaxTokens: 5000},
	}
	for _, req := range cases {
		res := o.RunTurn(context.Background(), req, withKey())
		require.False(t, res.OK())
		assert.Equal(t, models.ErrInvalid, res.Err.Kind)
	}
	assert.Equal(t, 0, gw.calls)
}

func TestTurnAppendsHistoryAfterCompletionAndRecords(t *testing.T) {
	gw := &stubGateway{reply: "pong"}
	rec := &memRecorder{}
	o := New(catalog.Default(), gw, credentials.NewResolver(), WithRecorder(rec))
	sess := NewSession(Settings{ModelName: "OpenAI GPT 4.1 Mini", Temperature: 0.3, MaxTokens: 500})
	sess.Credential.Set("k")
	sess.AttachFile(models.Attachment{Name: "notes.txt", Content: "notes"})

	res := o.Turn(context.Background(), sess, "ping")
	require.True(t, res.OK())

	// the request sent to the gateway held no prior history
	require.Len(t, gw.lastMsgs, 2)
	assert.Equal(t, models.RoleSystem, gw.lastMsgs[0].Role)
	assert.Equal(t, "ping", gw.lastMsgs[1].Content)

	h := sess.History()
	require.Len(t, h, 2)
	assert.Equal(t, models.Message{Role: models.RoleUser, Content: "ping"}, h[0])
	assert.Equal(t, models.Message{Role: models.RoleAssistant, Content: "pong"}, h[1])

	require.Len(t, rec.recs, 1)
	r := rec.recs[0]
	assert.Equal(t, sess.ID, r.SessionID)
	assert.Equal(t, "OpenAI GPT 4.1 Mini", r.ModelName)
	assert.Equal(t, "gpt-4.1-mini", r.ModelID)
	assert.Equal(t, "ping", r.UserQuery)
	assert.Equal(t, "pong", r.ModelResponse)
	assert.True(t, r.HasFile)
	assert.Equal(t, "notes.txt", r.FileName)
	assert.False(t, r.HasImage)
	assert.Equal(t, 0.3, r.Temperature)
	assert.Equal(t, 500, r.MaxTokens)

	sess.Reset()
	assert.Empty(t, sess.History())
}

func TestRecorderPanicDoesNotLoseResult(t *testing.T) {
	gw := &stubGateway{reply: "fine"}
	o := New(catalog.Default(), gw, withKey(), WithRecorder(panicRecorder{}))
	sess := NewSession(Settings{ModelName: "OpenAI GPT 4.1 Nano", Temperature: 0.7, MaxTokens: 100})

	res := o.Turn(context.Background(), sess, "hi")
	assert.True(t, res.OK())
	assert.Equal(t, "fine", res.Text)
}

func TestImageGenerationRouting(t *testing.T) {
	gw := &stubGateway{image: []byte("png")}
	rec := &memRecorder{}
	o := New(catalog.Default(), gw, withKey(), WithRecorder(rec))
	sess := NewSession(Settings{ModelName: "OpenAI GPT 4.1 Nano", Temperature: 0.7, MaxTokens: 100})

	res := o.GenerateImage(context.Background(), sess, "a cat")
	require.True(t, res.OK())
	assert.Equal(t, "gemini-2.5-pro-exp-03-25", res.ModelID)
	assert.Equal(t, []byte("png"), res.PNG)

	require.Len(t, rec.recs, 1)
	assert.Equal(t, "[IMAGE GENERATION] a cat", rec.recs[0].UserQuery)
	assert.Equal(t, ImageSuccessMessage, rec.recs[0].ModelResponse)
	assert.Empty(t, sess.History())
}

func TestImageGenerationError(t *testing.T) {
	gw := &stubGateway{err: &gateway.Error{Kind: models.ErrTransport, Detail: "dial tcp: refused"}}
	rec := &memRecorder{}
	o := New(catalog.Default(), gw, withKey(), WithRecorder(rec))
	sess := NewSession(Settings{ModelName: "Google Gemini 2.5 Pro Exp", Temperature: 0.7, MaxTokens: 100})

	res := o.GenerateImage(context.Background(), sess, "a dog")
	require.False(t, res.OK())
	assert.Equal(t, "gemini-2.5-pro-exp-03-25", res.ModelID)
	assert.Equal(t, "Error: dial tcp: refused", res.Err.Message)
	assert.Equal(t, "dial tcp: refused", rec.recs[0].ModelResponse)

	gw.err = &gateway.Error{Kind: models.ErrEmptyResponse, Detail: "No image data in response"}
	res = o.GenerateImage(context.Background(), sess, "a dog")
	require.False(t, res.OK())
	assert.Equal(t, EmptyResponseMessage, res.Err.Message)
	require.Len(t, rec.recs, 2)
	assert.Equal(t, "No image data in response", rec.recs[1].ModelResponse)
}

func TestCheckSettings(t *testing.T) {
	o := New(catalog.Default(), &stubGateway{}, withKey(), WithMaxTokensLimit(2000))

	assert.NoError(t, o.CheckSettings(Settings{ModelName: "Qwen QwQ 32B", Temperature: 0, MaxTokens: 2000}))
	assert.ErrorIs(t, o.CheckSettings(Settings{ModelName: "Qwen QwQ 32B", Temperature: 0.2, MaxTokens: 2001}), ErrInvalidSettings)
	assert.ErrorIs(t, o.CheckSettings(Settings{ModelName: "nope", Temperature: 0.2, MaxTokens: 10}), ErrInvalidSettings)
	assert.Equal(t, 2000, o.MaxTokensLimit())
}
