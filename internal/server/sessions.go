package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"researchbuddy/internal/attach"
	"researchbuddy/internal/conversation"
	"researchbuddy/internal/db"
	"researchbuddy/internal/export"
	"researchbuddy/internal/models"
)

var errSessionNotFound = errors.New("session not found")

type settingsView struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

type sessionView struct {
	ID        string           `json:"id"`
	StartedAt time.Time        `json:"started_at"`
	Settings  settingsView     `json:"settings"`
	Messages  []models.Message `json:"messages"`
	File      string           `json:"file,omitempty"`
	Image     string           `json:"image,omitempty"`
	Warning   string           `json:"warning,omitempty"`
}

func (s *Server) view(sess *conversation.Session) sessionView {
	st := sess.Settings()
	file, img := sess.Attachments()
	v := sessionView{
		ID:        sess.ID,
		StartedAt: sess.StartedAt,
		Settings:  settingsView{Model: st.ModelName, Temperature: st.Temperature, MaxTokens: st.MaxTokens},
		Messages:  sess.History(),
		Warning:   s.orch.CredentialWarning(sess),
	}
	if file != nil {
		v.File = file.Name
	}
	if img != nil {
		v.Image = img.Name
	}
	return v
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*conversation.Session, bool) {
	id := chi.URLParam(r, "sessionID")
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		respondError(w, http.StatusNotFound, errSessionNotFound)
		return nil, false
	}
	return sess, true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	n := len(s.sessions)
	s.mu.RUnlock()
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": n})
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.orch.Catalog().ListModels())
}

func (s *Server) handleRoutes(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.orch.Catalog().Routes())
}

func (s *Server) handleCredentialStatus(w http.ResponseWriter, _ *http.Request) {
	warning := s.orch.CredentialWarning(nil)
	respondJSON(w, http.StatusOK, map[string]any{"available": warning == "", "warning": warning})
}

type settingsRequest struct {
	Model       *string  `json:"model"`
	Temperature *float64 `json:"temperature"`
	MaxTokens   *int     `json:"max_tokens"`
}

func (req settingsRequest) apply(st conversation.Settings) conversation.Settings {
	if req.Model != nil {
		st.ModelName = strings.TrimSpace(*req.Model)
	}
	if req.Temperature != nil {
		st.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		st.MaxTokens = *req.MaxTokens
	}
	return st
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	st := req.apply(s.defaults)
	if err := s.orch.CheckSettings(st); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	sess := conversation.NewSession(st)
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	n := len(s.sessions)
	s.mu.Unlock()
	s.metrics.sessions.Set(float64(n))

	if s.db != nil {
		info := models.SessionInfo{
			SessionID:   sess.ID,
			StartTime:   sess.StartedAt,
			ClientAgent: r.UserAgent(),
			ClientAddr:  r.RemoteAddr,
		}
		if err := db.LogSession(r.Context(), s.db, info); err != nil {
			s.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("failed to log session")
		}
	}

	s.logger.Info().Str("session_id", sess.ID).Str("model", st.ModelName).Msg("session created")
	respondJSON(w, http.StatusCreated, s.view(sess))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, s.view(sess))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	delete(s.sessions, sess.ID)
	n := len(s.sessions)
	s.mu.Unlock()
	s.metrics.sessions.Set(float64(n))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	sess.Reset()
	respondJSON(w, http.StatusOK, s.view(sess))
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req settingsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	st := req.apply(sess.Settings())
	if err := s.orch.CheckSettings(st); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	sess.SetModel(st.ModelName)
	sess.SetTemperature(st.Temperature)
	sess.SetMaxTokens(st.MaxTokens)
	respondJSON(w, http.StatusOK, s.view(sess))
}

func (s *Server) handleSetCredential(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		APIKey string `json:"api_key"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	sess.Credential.Set(req.APIKey)
	respondJSON(w, http.StatusOK, s.view(sess))
}

func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, attach.MaxFileSize+maxJSONBody)
	f, hdr, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("multipart field \"file\": %w", err))
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, attach.MaxFileSize+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if len(data) > attach.MaxFileSize {
		respondError(w, http.StatusRequestEntityTooLarge, attach.ErrTooLarge)
		return
	}

	if attach.IsImage(hdr.Filename) {
		img, err := attach.DecodeImage(hdr.Filename, data)
		if err != nil {
			respondError(w, http.StatusBadRequest, err)
			return
		}
		sess.AttachImage(img)
	} else {
		sess.AttachFile(models.Attachment{Name: hdr.Filename, Content: attach.Extract(hdr.Filename, data)})
	}
	respondJSON(w, http.StatusOK, s.view(sess))
}

func (s *Server) handleDetach(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	sess.Detach()
	respondJSON(w, http.StatusOK, s.view(sess))
}

type turnResponse struct {
	Text      string            `json:"text,omitempty"`
	Error     *models.TurnError `json:"error,omitempty"`
	ElapsedMs int64             `json:"elapsed_ms"`
	ModelID   string            `json:"model_id"`
	ModelName string            `json:"model_name"`
	Routed    bool              `json:"routed"`
	Messages  []models.Message  `json:"messages"`
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, errors.New("text is required"))
		return
	}

	res := s.orch.Turn(r.Context(), sess, req.Text)
	s.metrics.observeTurn(res)

	respondJSON(w, http.StatusOK, turnResponse{
		Text:      res.Text,
		Error:     res.Err,
		ElapsedMs: res.ElapsedMs(),
		ModelID:   res.ModelID,
		ModelName: res.ModelName,
		Routed:    res.Routed,
		Messages:  sess.History(),
	})
}

func statusFor(kind models.ErrorKind) int {
	switch kind {
	case models.ErrInvalid, models.ErrMissingCredential:
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		respondError(w, http.StatusBadRequest, errors.New("prompt is required"))
		return
	}

	res := s.orch.GenerateImage(r.Context(), sess, req.Prompt)
	s.metrics.observeImage(res)
	if !res.OK() {
		respondJSON(w, statusFor(res.Err.Kind), res)
		return
	}
	w.Header().Set("X-Model-Id", res.ModelID)
	respondFile(w, "image/png", "", res.PNG)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	format := export.Markdown
	if raw := r.URL.Query().Get("format"); raw != "" {
		f, err := export.ParseFormat(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, err)
			return
		}
		format = f
	}

	now := time.Now()
	body, err := export.Conversation(export.Transcript{
		SessionID:  sess.ID,
		ExportedAt: now,
		Messages:   sess.History(),
	}, format)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	name := "researchbuddy_chat_" + now.Format("20060102_150405") + format.Ext()
	respondFile(w, format.ContentType(), name, body)
}
