package conversation

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"researchbuddy/internal/credentials"
	"researchbuddy/internal/models"
)

// Settings are the per-session sampling defaults.
type Settings struct {
	ModelName   string
	Temperature float64
	MaxTokens   int
}

// Session is one conversation. Turns on a session run one at a time; history
// grows only after a turn completes and is cleared by Reset.
type Session struct {
	ID        string
	StartedAt time.Time

	// Credential is the interactively supplied API key fallback.
	Credential *credentials.Override

	turn sync.Mutex

	mu       sync.RWMutex
	history  []models.Message
	settings Settings
	file     *models.Attachment
	image    *models.ImageAttachment
}

func NewSession(s Settings) *Session {
	return &Session{
		ID:         uuid.NewString(),
		StartedAt:  time.Now(),
		Credential: &credentials.Override{},
		settings:   s,
	}
}

// ResumeSession rebuilds a logged session so new turns continue under its id.
func ResumeSession(id string, startedAt time.Time, st Settings, history []models.Message) *Session {
	hist := make([]models.Message, len(history))
	copy(hist, history)
	return &Session{
		ID:         id,
		StartedAt:  startedAt,
		Credential: &credentials.Override{},
		settings:   st,
		history:    hist,
	}
}

// HistoryFromInteractions replays logged turns as a transcript. Image
// generation records never entered the history, so they are skipped.
func HistoryFromInteractions(items []models.Interaction) []models.Message {
	out := make([]models.Message, 0, 2*len(items))
	for _, it := range items {
		if strings.HasPrefix(it.UserQuery, ImageQueryPrefix) {
			continue
		}
		out = append(out,
			models.Message{Role: models.RoleUser, Content: it.UserQuery},
			models.Message{Role: models.RoleAssistant, Content: it.ModelResponse},
		)
	}
	return out
}

func (s *Session) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

func (s *Session) SetModel(name string) {
	s.mu.Lock()
	s.settings.ModelName = name
	s.mu.Unlock()
}

func (s *Session) SetTemperature(t float64) {
	s.mu.Lock()
	s.settings.Temperature = t
	s.mu.Unlock()
}

func (s *Session) SetMaxTokens(n int) {
	s.mu.Lock()
	s.settings.MaxTokens = n
	s.mu.Unlock()
}

// History returns a copy of the transcript.
func (s *Session) History() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Session) append(msgs ...models.Message) {
	s.mu.Lock()
	s.history = append(s.history, msgs...)
	s.mu.Unlock()
}

// Reset clears the transcript. Attachments and settings survive.
func (s *Session) Reset() {
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()
}

func (s *Session) AttachFile(a models.Attachment) {
	s.mu.Lock()
	s.file = &a
	s.mu.Unlock()
}

func (s *Session) AttachImage(img models.ImageAttachment) {
	s.mu.Lock()
	s.image = &img
	s.mu.Unlock()
}

// Detach drops both attachments.
func (s *Session) Detach() {
	s.mu.Lock()
	s.file = nil
	s.image = nil
	s.mu.Unlock()
}

func (s *Session) Attachments() (*models.Attachment, *models.ImageAttachment) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.file, s.image
}

// Request snapshots the session into an immutable TurnRequest.
func (s *Session) Request(text string) models.TurnRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hist := make([]models.Message, len(s.history))
	copy(hist, s.history)

	req := models.TurnRequest{
		UserText:    text,
		History:     hist,
		ModelName:   s.settings.ModelName,
		Temperature: s.settings.Temperature,
		MaxTokens:   s.settings.MaxTokens,
	}
	if s.file != nil {
		f := *s.file
		req.File = &f
	}
	if s.image != nil {
		img := *s.image
		req.Image = &img
	}
	return req
}
