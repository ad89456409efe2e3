package ui

import (
	"context"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"researchbuddy/internal/conversation"
	"researchbuddy/internal/db"
	"researchbuddy/internal/models"
	"researchbuddy/internal/styles"
)

func InitialModel(deps Deps) Model {
	ti := textarea.New()
	ti.Placeholder = "Ask anything, @mention a file, or type /help"
	ti.Prompt = "❯ "
	ti.ShowLineNumbers = false
	ti.CharLimit = 0
	ti.MaxHeight = 6
	ti.SetHeight(2)
	ti.SetWidth(80)
	ti.FocusedStyle.Prompt = lipgloss.NewStyle().Foreground(lipgloss.Color("#80CBC4")).Bold(true)
	ti.BlurredStyle.Prompt = lipgloss.NewStyle().Foreground(lipgloss.Color("#80CBC4")).Bold(true)
	ti.FocusedStyle.Placeholder = lipgloss.NewStyle().Foreground(lipgloss.Color("#545454"))
	ti.BlurredStyle.Placeholder = lipgloss.NewStyle().Foreground(lipgloss.Color("#545454"))
	ti.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ti.BlurredStyle.CursorLine = lipgloss.NewStyle()
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#80CBC4"))

	cwd, _ := os.Getwd()

	m := Model{
		TextInput:     ti,
		Viewport:      viewport.New(60, 15),
		ModelViewport: viewport.New(MaxModalWidth-6, 15),
		Spinner:       sp,
		Orch:          deps.Orchestrator,
		Defaults:      deps.Defaults,
		DB:            deps.DB,
		DBErr:         deps.DBErr,
		ExportDir:     deps.ExportDir,
		Logger:        deps.Logger,
		Models:        deps.Orchestrator.Catalog().ListModels(),
		ModalWidth:    MaxModalWidth,
		WorkingDir:    cwd,
	}
	m.startSession(conversation.NewSession(deps.Defaults))
	return m
}

// startSession swaps in s, registers it in the log and refreshes the banner.
func (m *Model) startSession(s *conversation.Session) {
	if m.Session != nil {
		// carry an interactively entered key over to the new session
		if key, ok := m.Session.Credential.APIKey(); ok {
			s.Credential.Set(key)
		}
	}
	m.Session = s
	m.Loading = false
	m.LoadingLabel = ""
	m.syncSelectedModel()
	m.Warning = m.Orch.CredentialWarning(s)

	if m.DB == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	info := models.SessionInfo{SessionID: s.ID, StartTime: s.StartedAt, ClientAgent: ClientAgent}
	if err := db.LogSession(ctx, m.DB, info); err != nil {
		m.Logger.Warn().Err(err).Str("session_id", s.ID).Msg("failed to log session")
	}
}

func (m *Model) syncSelectedModel() {
	name := m.Session.Settings().ModelName
	for i, mdl := range m.Models {
		if mdl.Name == name {
			m.SelectedModelIndex = i
			return
		}
	}
}

func (m *Model) CurrentModel() models.AIModel {
	mdl, err := m.Orch.Catalog().Model(m.Session.Settings().ModelName)
	if err != nil {
		return models.AIModel{Name: m.Session.Settings().ModelName}
	}
	return mdl
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.TextInput.Cursor.BlinkCmd(),
		m.Spinner.Tick,
	)
}

func NewProgram(deps Deps) *tea.Program {
	styles.InitTheme()
	m := InitialModel(deps)
	return tea.NewProgram(&m, tea.WithAltScreen())
}
