package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"researchbuddy/internal/catalog"
	"researchbuddy/internal/credentials"
	"researchbuddy/internal/gateway"
	"researchbuddy/internal/models"
)

const (
	EmptyResponseMessage = "Sorry, I couldn't generate a response. Please try again."
	ImageSuccessMessage  = "Image generated successfully"
	ImageQueryPrefix     = "[IMAGE GENERATION] "
)

var ErrInvalidSettings = errors.New("invalid settings")

// Gateway is the remote completion service as seen by the orchestrator.
type Gateway interface {
	Complete(ctx context.Context, creds credentials.Provider, messages []models.Message, modelID string, temperature float64, maxTokens int) (string, error)
	GenerateImage(ctx context.Context, creds credentials.Provider, prompt, modelID string) ([]byte, error)
}

// Recorder receives one record per finished turn. It must not block.
type Recorder interface {
	Record(rec models.InteractionRecord)
}

type Orchestrator struct {
	catalog        *catalog.Catalog
	gateway        Gateway
	assembler      Assembler
	creds          credentials.Resolver
	recorder       Recorder
	logger         zerolog.Logger
	maxTokensLimit int
}

type Option func(*Orchestrator)

func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithHistoryWindow(n int) Option {
	return func(o *Orchestrator) { o.assembler.Window = n }
}

func WithMaxTokensLimit(n int) Option {
	return func(o *Orchestrator) { o.maxTokensLimit = n }
}

// New wires an orchestrator. creds is the store part of the credential chain;
// each session appends its own interactive override.
func New(cat *catalog.Catalog, gw Gateway, creds credentials.Resolver, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		catalog:        cat,
		gateway:        gw,
		creds:          creds,
		logger:         zerolog.Nop(),
		maxTokensLimit: 3000,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Catalog() *catalog.Catalog {
	return o.catalog
}

// CredentialsFor is the full lookup chain for a session.
func (o *Orchestrator) CredentialsFor(s *Session) credentials.Resolver {
	if s == nil {
		return o.creds
	}
	return o.creds.With(s.Credential)
}

// CredentialWarning is non-empty when no API key is reachable for the session.
func (o *Orchestrator) CredentialWarning(s *Session) string {
	if o.CredentialsFor(s).Available() {
		return ""
	}
	return credentials.ErrMissing.Error()
}

// CheckSettings reports why st cannot drive a turn.
func (o *Orchestrator) CheckSettings(st Settings) error {
	_, terr := o.validate(models.TurnRequest{
		ModelName:   st.ModelName,
		Temperature: st.Temperature,
		MaxTokens:   st.MaxTokens,
	})
	if terr != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSettings, strings.TrimPrefix(terr.Message, "Error: "))
	}
	return nil
}

func (o *Orchestrator) MaxTokensLimit() int {
	return o.maxTokensLimit
}

func (o *Orchestrator) validate(req models.TurnRequest) (models.AIModel, *models.TurnError) {
	selected, err := o.catalog.Model(req.ModelName)
	if err != nil {
		return models.AIModel{}, &models.TurnError{Kind: models.ErrInvalid, Message: "Error: " + err.Error()}
	}
	if req.Temperature < 0 || req.Temperature > 1 {
		return selected, &models.TurnError{Kind: models.ErrInvalid, Message: fmt.Sprintf("Error: temperature %.2f outside [0, 1]", req.Temperature)}
	}
	if req.MaxTokens < 1 || (o.maxTokensLimit > 0 && req.MaxTokens > o.maxTokensLimit) {
		return selected, &models.TurnError{Kind: models.ErrInvalid, Message: fmt.Sprintf("Error: max tokens %d outside [1, %d]", req.MaxTokens, o.maxTokensLimit)}
	}
	return selected, nil
}

// RunTurn routes, assembles, calls the gateway once and normalizes the outcome.
// Failures are returned on the result, never as a Go error.
func (o *Orchestrator) RunTurn(ctx context.Context, req models.TurnRequest, creds credentials.Provider) models.TurnResult {
	selected, verr := o.validate(req)
	if verr != nil {
		return models.TurnResult{Err: verr, ModelID: selected.ID, ModelName: req.ModelName}
	}

	decision, err := routeTurn(o.catalog, req, selected)
	if err != nil {
		o.logger.Warn().Err(err).Str("task", string(decision.Task)).Msg("specialized route missing, using selected model")
	}

	messages := o.assembler.Build(req)

	start := time.Now()
	text, err := o.gateway.Complete(ctx, creds, messages, decision.ModelID, req.Temperature, req.MaxTokens)
	elapsed := time.Since(start)

	res := models.TurnResult{
		Elapsed:   elapsed,
		ModelID:   decision.ModelID,
		ModelName: req.ModelName,
		Routed:    decision.Routed,
	}
	if err != nil {
		res.Err = toTurnError(err)
		o.logger.Warn().
			Str("model_id", decision.ModelID).
			Str("kind", string(res.Err.Kind)).
			Int64("elapsed_ms", elapsed.Milliseconds()).
			Msg("turn failed")
		return res
	}
	res.Text = text

	o.logger.Info().
		Str("model_id", decision.ModelID).
		Bool("routed", decision.Routed).
		Int64("elapsed_ms", elapsed.Milliseconds()).
		Msg("turn complete")
	return res
}

// RunImageGeneration routes to an image-capable model when needed and
// returns the PNG bytes or an error on the result.
func (o *Orchestrator) RunImageGeneration(ctx context.Context, prompt, modelName string, creds credentials.Provider) models.ImageResult {
	selected, err := o.catalog.Model(modelName)
	if err != nil {
		return models.ImageResult{
			Err:       &models.TurnError{Kind: models.ErrInvalid, Message: "Error: " + err.Error()},
			ModelName: modelName,
		}
	}

	decision, err := routeImage(o.catalog, selected)
	if err != nil {
		o.logger.Warn().Err(err).Msg("image route missing, using selected model")
	}

	start := time.Now()
	img, err := o.gateway.GenerateImage(ctx, creds, prompt, decision.ModelID)
	elapsed := time.Since(start)

	res := models.ImageResult{
		Elapsed:   elapsed,
		ModelID:   decision.ModelID,
		ModelName: modelName,
	}
	if err != nil {
		res.Err = toTurnError(err)
		return res
	}
	res.PNG = img
	return res
}

// Turn runs one turn for a session and appends the exchange to its history.
// Concurrent calls on the same session are serialized.
func (o *Orchestrator) Turn(ctx context.Context, s *Session, text string) models.TurnResult {
	s.turn.Lock()
	defer s.turn.Unlock()

	req := s.Request(text)
	res := o.RunTurn(ctx, req, o.CredentialsFor(s))

	s.append(
		models.Message{Role: models.RoleUser, Content: text},
		models.Message{Role: models.RoleAssistant, Content: res.Display()},
	)

	o.record(models.InteractionRecord{
		SessionID:     s.ID,
		Timestamp:     time.Now(),
		ModelName:     req.ModelName,
		ModelID:       res.ModelID,
		Temperature:   req.Temperature,
		MaxTokens:     req.MaxTokens,
		UserQuery:     text,
		ModelResponse: res.Display(),
		HasFile:       req.File != nil,
		FileName:      fileName(req.File),
		HasImage:      req.Image != nil,
		ElapsedMs:     res.ElapsedMs(),
	})
	return res
}

// GenerateImage runs the image path for a session and records it.
func (o *Orchestrator) GenerateImage(ctx context.Context, s *Session, prompt string) models.ImageResult {
	s.turn.Lock()
	defer s.turn.Unlock()

	settings := s.Settings()
	res := o.RunImageGeneration(ctx, prompt, settings.ModelName, o.CredentialsFor(s))

	response := ImageSuccessMessage
	if res.Err != nil {
		response = res.Err.Cause()
	}
	o.record(models.InteractionRecord{
		SessionID:     s.ID,
		Timestamp:     time.Now(),
		ModelName:     settings.ModelName,
		ModelID:       res.ModelID,
		Temperature:   settings.Temperature,
		MaxTokens:     settings.MaxTokens,
		UserQuery:     ImageQueryPrefix + prompt,
		ModelResponse: response,
		ElapsedMs:     res.Elapsed.Milliseconds(),
	})
	return res
}

func (o *Orchestrator) record(rec models.InteractionRecord) {
	if o.recorder == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().Interface("panic", r).Msg("interaction recorder panicked")
		}
	}()
	o.recorder.Record(rec)
}

func toTurnError(err error) *models.TurnError {
	var gerr *gateway.Error
	if errors.As(err, &gerr) {
		if gerr.Kind == models.ErrEmptyResponse {
			return &models.TurnError{Kind: gerr.Kind, Message: EmptyResponseMessage, Detail: gerr.Detail}
		}
		return &models.TurnError{Kind: gerr.Kind, Message: "Error: " + gerr.Detail, Detail: gerr.Detail}
	}
	return &models.TurnError{Kind: models.ErrTransport, Message: "Error: " + err.Error()}
}

func fileName(a *models.Attachment) string {
	if a == nil {
		return ""
	}
	return a.Name
}
