package ui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"researchbuddy/internal/attach"
	"researchbuddy/internal/conversation"
	"researchbuddy/internal/db"
	"researchbuddy/internal/export"
	"researchbuddy/internal/models"
)

const exportStamp = "20060102_150405"

var errNoHistoryDB = errors.New("history database not initialized")

// ParseCommand splits "/name rest of line" into its parts.
func ParseCommand(input string) (name, arg string, ok bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") || len(input) == 1 {
		return "", "", false
	}
	name, arg, _ = strings.Cut(input[1:], " ")
	return strings.ToLower(name), strings.TrimSpace(arg), true
}

// RunCommand applies a slash command. A non-nil tea.Cmd means the command
// continues in the background.
func (m *Model) RunCommand(name, arg string) tea.Cmd {
	switch name {
	case "clear":
		m.Session.Reset()
		m.Messages = nil
		m.UpdateViewport()

	case "reset", "new":
		m.NewSession()

	case "key":
		if arg == "" {
			m.appendError("Usage: /key <api key>")
			break
		}
		m.Session.Credential.Set(arg)
		m.Warning = m.Orch.CredentialWarning(m.Session)
		m.appendNotice("API key set for this session.")

	case "image", "draw":
		if arg == "" {
			m.appendError("Usage: /image <prompt>")
			break
		}
		m.Messages = append(m.Messages, FormatUserMessage("🎨 "+arg, m.Viewport.Width, len(m.Messages) == 0))
		m.Loading = true
		m.LoadingLabel = "Drawing..."
		m.UpdateViewport()
		return tea.Batch(m.generateImage(arg), m.Spinner.Tick)

	case "export":
		if arg == "" {
			arg = string(export.Markdown)
		}
		path, err := m.exportConversation(arg, time.Now())
		if err != nil {
			m.appendError(fmt.Sprintf("Export failed: %v", err))
			break
		}
		m.appendNotice("Conversation exported to " + path)

	case "temp", "temperature":
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			m.appendError("Usage: /temp <0.0-1.0>")
			break
		}
		st := m.Session.Settings()
		st.Temperature = v
		if err := m.Orch.CheckSettings(st); err != nil {
			m.appendError(err.Error())
			break
		}
		m.Session.SetTemperature(v)
		m.appendNotice(fmt.Sprintf("Temperature set to %.1f", v))

	case "tokens":
		n, err := strconv.Atoi(arg)
		if err != nil {
			m.appendError(fmt.Sprintf("Usage: /tokens <1-%d>", m.Orch.MaxTokensLimit()))
			break
		}
		st := m.Session.Settings()
		st.MaxTokens = n
		if err := m.Orch.CheckSettings(st); err != nil {
			m.appendError(err.Error())
			break
		}
		m.Session.SetMaxTokens(n)
		m.appendNotice(fmt.Sprintf("Max tokens set to %d", n))

	case "detach":
		m.Session.Detach()
		m.appendNotice("Attachments cleared.")

	case "help":
		m.ShortcutsOpen = true
		m.ModelSelectorOpen = false
		m.HistoryOpen = false

	default:
		m.appendError(fmt.Sprintf("Unknown command: /%s (try /help)", name))
	}
	return nil
}

func (m *Model) appendNotice(text string) {
	m.Messages = append(m.Messages, FormatNotice(text))
	m.UpdateViewport()
}

func (m *Model) appendError(text string) {
	m.Messages = append(m.Messages, FormatError(text))
	m.UpdateViewport()
}

// NewSession drops the current conversation and starts a fresh one with the
// configured defaults.
func (m *Model) NewSession() {
	m.startSession(conversation.NewSession(m.Defaults))
	m.Messages = nil
	m.LastElapsed = 0
	m.LastModelID = ""
	m.LastRouted = false
	m.HistoryOpen = false
	m.HistoryErr = nil
	m.Viewport.SetContent(GetWelcomeScreen(m.Viewport.Width, m.Viewport.Height))
	m.Viewport.GotoTop()
	m.TextInput.Reset()
	m.updateInputLayout()
}

// attachMentions loads each mentioned file into the session. The last file
// and the last image win their slots.
func (m *Model) attachMentions(files []string) []string {
	var names []string
	for _, path := range files {
		file, img, err := attach.Load(path)
		if err != nil {
			m.appendError(fmt.Sprintf("Could not attach %s: %v", filepath.Base(path), err))
			continue
		}
		if file != nil {
			m.Session.AttachFile(*file)
			names = append(names, "📄 "+file.Name)
		}
		if img != nil {
			m.Session.AttachImage(*img)
			names = append(names, "🖼 "+img.Name)
		}
	}
	return names
}

func (m *Model) sendTurn(text string) tea.Cmd {
	orch, sess := m.Orch, m.Session
	return func() tea.Msg {
		return TurnDoneMsg{Session: sess, Result: orch.Turn(context.Background(), sess, text)}
	}
}

func (m *Model) generateImage(prompt string) tea.Cmd {
	orch, sess, dir := m.Orch, m.Session, m.ExportDir
	return func() tea.Msg {
		res := orch.GenerateImage(context.Background(), sess, prompt)
		msg := ImageDoneMsg{Session: sess, Prompt: prompt, Result: res}
		if res.OK() {
			msg.Path, msg.Err = SaveImage(dir, res.PNG, time.Now())
		}
		return msg
	}
}

// SaveImage writes png under dir with a timestamped name.
func SaveImage(dir string, png []byte, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create exports dir: %w", err)
	}
	path := filepath.Join(dir, "researchbuddy_image_"+now.Format(exportStamp)+".png")
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return path, nil
}

func (m *Model) exportConversation(rawFormat string, now time.Time) (string, error) {
	f, err := export.ParseFormat(rawFormat)
	if err != nil {
		return "", err
	}
	history := m.Session.History()
	if len(history) == 0 {
		return "", errors.New("nothing to export yet")
	}
	body, err := export.Conversation(export.Transcript{
		SessionID:  m.Session.ID,
		ExportedAt: now,
		Messages:   history,
	}, f)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(m.ExportDir, 0o755); err != nil {
		return "", fmt.Errorf("create exports dir: %w", err)
	}
	path := filepath.Join(m.ExportDir, "researchbuddy_chat_"+now.Format(exportStamp)+f.Ext())
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	return path, nil
}

func (m *Model) RefreshHistoryFromDB() {
	m.HistoryErr = nil
	m.HistorySessions = nil
	m.HistorySelectedIdx = 0

	if m.DBErr != nil {
		m.HistoryErr = m.DBErr
		return
	}
	if m.DB == nil {
		m.HistoryErr = errNoHistoryDB
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	count, items, err := db.RecentSessions(ctx, m.DB, HistoryPageSize, m.HistoryPage*HistoryPageSize, 1)
	if err != nil {
		m.HistoryErr = err
		return
	}
	m.HistoryCount = count
	m.HistorySessions = items
}

// ResumeFromDB replaces the current session with a logged one so new turns
// continue its history.
func (m *Model) ResumeFromDB(sessionID string) error {
	if m.DBErr != nil {
		return m.DBErr
	}
	if m.DB == nil {
		return errNoHistoryDB
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	info, err := db.GetSession(ctx, m.DB, sessionID)
	if err != nil {
		return err
	}
	items, err := db.SessionInteractions(ctx, m.DB, sessionID)
	if err != nil {
		return err
	}

	st := m.Defaults
	if n := len(items); n > 0 {
		last := items[n-1]
		if _, err := m.Orch.Catalog().Model(last.ModelName); err == nil {
			st.ModelName = last.ModelName
		}
		st.Temperature = last.Temperature
		st.MaxTokens = last.MaxTokens
		if m.Orch.CheckSettings(st) != nil {
			st.Temperature, st.MaxTokens = m.Defaults.Temperature, m.Defaults.MaxTokens
		}
	}

	history := conversation.HistoryFromInteractions(items)
	m.startSession(conversation.ResumeSession(info.SessionID, info.StartTime, st, history))

	m.Messages = nil
	for _, msg := range history {
		if msg.Role == models.RoleUser {
			m.Messages = append(m.Messages, FormatUserMessage(msg.Content, m.Viewport.Width, len(m.Messages) == 0))
			continue
		}
		m.Messages = append(m.Messages, FormatAIMessage(m.render(msg.Content), ""))
	}
	m.UpdateViewport()
	return nil
}

func (m *Model) render(content string) string {
	if m.Renderer == nil {
		return content
	}
	rendered, err := m.Renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimSpace(rendered)
}
