package ui

import (
	"database/sql"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/glamour"
	"github.com/rs/zerolog"

	"researchbuddy/internal/conversation"
	"researchbuddy/internal/models"
)

const (
	MaxModalWidth = 64
	MinModalWidth = 30

	HistoryPageSize = 10

	ClientAgent = "researchbuddy-tui"
)

type ErrMsg error

// TurnDoneMsg and ImageDoneMsg carry the session they ran on; results for a
// session that is no longer current are dropped.
type TurnDoneMsg struct {
	Session *conversation.Session
	Result  models.TurnResult
}

type ImageDoneMsg struct {
	Session *conversation.Session
	Prompt  string
	Result  models.ImageResult
	Path    string
	Err     error
}

// Deps carries everything the terminal client needs from main.
type Deps struct {
	Orchestrator *conversation.Orchestrator
	Defaults     conversation.Settings
	DB           *sql.DB
	DBErr        error
	ExportDir    string
	Logger       zerolog.Logger
}

type Model struct {
	Viewport      viewport.Model
	ModelViewport viewport.Model
	Messages      []string
	TextInput     textarea.Model
	Spinner       spinner.Model
	Renderer      *glamour.TermRenderer

	Orch      *conversation.Orchestrator
	Session   *conversation.Session
	Defaults  conversation.Settings
	DB        *sql.DB
	DBErr     error
	ExportDir string
	Logger    zerolog.Logger

	Loading      bool
	LoadingLabel string
	Warning      string
	LastElapsed  time.Duration
	LastModelID  string
	LastRouted   bool

	WindowWidth  int
	WindowHeight int
	ModalWidth   int

	HistoryOpen        bool
	HistorySelectedIdx int
	HistoryCount       int
	HistorySessions    []models.SessionListItem
	HistoryErr         error
	HistoryPage        int

	ModelSelectorOpen  bool
	ShortcutsOpen      bool
	Models             []models.AIModel
	SelectedModelIndex int

	// File mention autocomplete
	FileSuggestOpen   bool
	FileSuggestions   []string
	FileSuggestIdx    int
	FileSuggestPrefix string
	PendingFiles      []string

	WorkingDir string
}
