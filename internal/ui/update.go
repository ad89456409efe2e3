package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"researchbuddy/internal/models"
	"researchbuddy/internal/styles"
)

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		spCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case spinner.TickMsg:
		m.Spinner, spCmd = m.Spinner.Update(msg)
		if m.Loading {
			m.UpdateViewport()
		}
		return m, spCmd

	case tea.KeyMsg:
		if m.HistoryOpen {
			return m, m.updateHistoryModal(msg)
		}
		if m.ModelSelectorOpen {
			return m, m.updateModelSelector(msg)
		}
		if m.ShortcutsOpen {
			switch msg.String() {
			case "ctrl+c":
				return m, tea.Quit
			case "esc", "enter", "?", "ctrl+s":
				m.ShortcutsOpen = false
			}
			return m, nil
		}

		if isNewlineShortcut(msg) {
			m.TextInput.InsertString("\n")
			m.FileSuggestOpen = false
			m.updateInputLayout()
			return m, nil
		}

		if m.FileSuggestOpen {
			switch msg.String() {
			case "esc":
				m.FileSuggestOpen = false
				return m, nil
			case "up", "ctrl+p":
				if len(m.FileSuggestions) > 0 {
					m.FileSuggestIdx = (m.FileSuggestIdx - 1 + len(m.FileSuggestions)) % len(m.FileSuggestions)
				}
				return m, nil
			case "down", "ctrl+n":
				if len(m.FileSuggestions) > 0 {
					m.FileSuggestIdx = (m.FileSuggestIdx + 1) % len(m.FileSuggestions)
				}
				return m, nil
			case "tab", "enter":
				m.insertFileSuggestion()
				return m, nil
			}
		}

		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit

		case tea.KeyCtrlN:
			m.NewSession()
			return m, nil

		case tea.KeyCtrlB:
			m.ModelSelectorOpen = true
			m.HistoryOpen = false
			m.ShortcutsOpen = false
			m.syncSelectedModel()
			m.UpdateModelSelectorContent()
			m.SyncModelViewportScroll()
			return m, nil

		case tea.KeyCtrlS:
			m.ShortcutsOpen = true
			m.ModelSelectorOpen = false
			m.HistoryOpen = false
			return m, nil

		case tea.KeyCtrlH:
			m.ModelSelectorOpen = false
			m.HistoryOpen = true
			m.ShortcutsOpen = false
			m.HistoryPage = 0
			m.RefreshHistoryFromDB()
			return m, nil

		case tea.KeyEnter:
			if m.Loading {
				return m, nil
			}
			input := strings.TrimSpace(m.TextInput.Value())
			if input == "" {
				return m, nil
			}
			m.TextInput.Reset()
			m.updateInputLayout()
			m.FileSuggestOpen = false
			m.PendingFiles = nil
			return m, m.Submit(input)
		}

	case TurnDoneMsg:
		if msg.Session != m.Session {
			m.Logger.Debug().Msg("dropping turn result for previous session")
			return m, nil
		}
		m.Loading = false
		m.LoadingLabel = ""
		res := msg.Result
		m.LastElapsed = res.Elapsed
		m.LastModelID = res.ModelID
		m.LastRouted = res.Routed
		if res.OK() {
			m.Messages = append(m.Messages, FormatAIMessage(m.render(res.Text), res.ModelName))
		} else {
			m.Messages = append(m.Messages, FormatError(res.Display()))
			if res.Err.Kind == models.ErrMissingCredential {
				m.Warning = m.Orch.CredentialWarning(m.Session)
			}
		}
		m.UpdateViewport()
		return m, nil

	case ImageDoneMsg:
		if msg.Session != m.Session {
			m.Logger.Debug().Str("path", msg.Path).Msg("dropping image result for previous session")
			return m, nil
		}
		m.Loading = false
		m.LoadingLabel = ""
		m.LastElapsed = msg.Result.Elapsed
		m.LastModelID = msg.Result.ModelID
		m.LastRouted = msg.Result.ModelID != m.CurrentModel().ID
		switch {
		case !msg.Result.OK():
			m.Messages = append(m.Messages, FormatError(msg.Result.Err.Message))
		case msg.Err != nil:
			m.Messages = append(m.Messages, FormatError(fmt.Sprintf("Image generated but not saved: %v", msg.Err)))
		default:
			m.Messages = append(m.Messages, FormatAIMessage(fmt.Sprintf("Image saved to %s", msg.Path), msg.Result.ModelName))
		}
		m.UpdateViewport()
		return m, nil

	case ErrMsg:
		m.Loading = false
		m.Messages = append(m.Messages, FormatError(fmt.Sprintf("Error: %v", msg)))
		m.UpdateViewport()
		return m, nil

	case tea.WindowSizeMsg:
		m.WindowWidth = msg.Width
		m.WindowHeight = msg.Height

		m.ModalWidth = max(MinModalWidth, min(msg.Width-10, MaxModalWidth))
		styles.ContentWidth = m.ModalWidth - 6

		m.ModelViewport.Width = styles.ContentWidth
		m.ModelViewport.Height = max(5, min(msg.Height-18, 20))

		chatWidth := msg.Width - 2
		m.Viewport.Width = chatWidth - 2

		m.updateInputLayout()
		glamourStyle := "dark"
		if !lipgloss.HasDarkBackground() {
			glamourStyle = "light"
		}
		m.Renderer, _ = glamour.NewTermRenderer(
			glamour.WithStylePath(glamourStyle),
			glamour.WithWordWrap(max(chatWidth-6, 20)),
		)
		m.UpdateViewport()
		return m, nil
	}

	m.TextInput, tiCmd = m.TextInput.Update(msg)
	m.updateInputLayout()

	// Filter out terminal background color queries and cursor reference codes that leak into the input
	val := m.TextInput.Value()
	if strings.Contains(val, "]11;rgb:") || strings.Contains(val, "1;rgb:") || strings.Contains(val, "[1;1R") {
		m.TextInput.Reset()
	}

	val = m.TextInput.Value()
	cursorPos := TextareaCursorIndex(m.TextInput)
	m.FileSuggestOpen = false
	if prefix, _, found := GetAtPosition(val, cursorPos); found {
		if suggestions := GetFileSuggestions(m.WorkingDir, prefix); len(suggestions) > 0 {
			m.FileSuggestions = suggestions
			m.FileSuggestOpen = true
			m.FileSuggestIdx = 0
			m.FileSuggestPrefix = prefix
		}
	}

	_, m.PendingFiles = ExtractFileMentions(m.WorkingDir, val)

	m.Viewport, vpCmd = m.Viewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd)
}

// Submit handles one line of input: a slash command, or a question with
// optional @file mentions.
func (m *Model) Submit(input string) tea.Cmd {
	if name, arg, ok := ParseCommand(input); ok {
		return m.RunCommand(name, arg)
	}

	clean, files := ExtractFileMentions(m.WorkingDir, input)
	attached := m.attachMentions(files)
	if clean == "" {
		if len(attached) > 0 {
			m.appendNotice("Attached " + strings.Join(attached, ", ") + ". Ask a question about it.")
		}
		return nil
	}

	display := clean
	if len(attached) > 0 {
		display = fmt.Sprintf("%s\n📎 %s", clean, strings.Join(attached, ", "))
	}
	m.Messages = append(m.Messages, FormatUserMessage(display, m.Viewport.Width, len(m.Messages) == 0))
	m.Loading = true
	m.LoadingLabel = "Generating..."
	m.UpdateViewport()
	return tea.Batch(m.sendTurn(clean), m.Spinner.Tick)
}

func (m *Model) insertFileSuggestion() {
	if len(m.FileSuggestions) == 0 || m.FileSuggestIdx >= len(m.FileSuggestions) {
		m.FileSuggestOpen = false
		return
	}
	selected := m.FileSuggestions[m.FileSuggestIdx]
	val := m.TextInput.Value()
	cursorPos := TextareaCursorIndex(m.TextInput)
	if prefix, startPos, found := GetAtPosition(val, cursorPos); found {
		if strings.ContainsAny(selected, " \t") {
			selected = `"` + selected + `"`
		}
		newVal := val[:startPos] + "@" + selected + " " + val[startPos+1+len(prefix):]
		m.TextInput.SetValue(newVal)
		row, col := TextareaCursorFromIndex(newVal, startPos+len(selected)+2)
		SetTextareaCursor(&m.TextInput, row, col)
	}
	m.FileSuggestOpen = false
}

func (m *Model) updateHistoryModal(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "ctrl+c":
		return tea.Quit
	case "esc", "ctrl+h":
		m.HistoryOpen = false
		m.HistoryErr = nil
	case "up", "k":
		if n := len(m.HistorySessions); n > 0 {
			m.HistorySelectedIdx = (m.HistorySelectedIdx - 1 + n) % n
		}
	case "down", "j":
		if n := len(m.HistorySessions); n > 0 {
			m.HistorySelectedIdx = (m.HistorySelectedIdx + 1) % n
		}
	case "enter":
		if len(m.HistorySessions) == 0 {
			return nil
		}
		item := m.HistorySessions[m.HistorySelectedIdx]
		if err := m.ResumeFromDB(item.SessionID); err != nil {
			m.HistoryErr = err
			return nil
		}
		m.HistoryOpen = false
		m.HistoryErr = nil
	case "left", "h":
		if m.HistoryPage > 0 {
			m.HistoryPage--
			m.RefreshHistoryFromDB()
		}
	case "right", "l":
		if m.HistoryPage < m.historyPages()-1 {
			m.HistoryPage++
			m.RefreshHistoryFromDB()
		}
	}
	return nil
}

func (m *Model) historyPages() int {
	return max(1, (m.HistoryCount+HistoryPageSize-1)/HistoryPageSize)
}

func (m *Model) updateModelSelector(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "ctrl+c":
		return tea.Quit
	case "esc", "ctrl+b":
		m.ModelSelectorOpen = false
	case "up", "k":
		if n := len(m.Models); n > 0 {
			m.SelectedModelIndex = (m.SelectedModelIndex - 1 + n) % n
			m.SyncModelViewportScroll()
			m.UpdateModelSelectorContent()
		}
	case "down", "j":
		if n := len(m.Models); n > 0 {
			m.SelectedModelIndex = (m.SelectedModelIndex + 1) % n
			m.SyncModelViewportScroll()
			m.UpdateModelSelectorContent()
		}
	case "enter":
		if m.SelectedModelIndex < len(m.Models) {
			chosen := m.Models[m.SelectedModelIndex]
			if chosen.Name != m.Session.Settings().ModelName {
				m.Session.SetModel(chosen.Name)
				m.appendNotice("Switched to " + chosen.Name)
			}
		}
		m.ModelSelectorOpen = false
	}
	return nil
}

func isNewlineShortcut(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "shift+enter", "shift+return", "ctrl+j", "ctrl+enter", "alt+enter":
		return true
	default:
		return false
	}
}

func (m *Model) updateInputLayout() {
	if m.WindowWidth == 0 || m.WindowHeight == 0 {
		return
	}

	inputWidth := max(m.WindowWidth-6, 20)
	contentWidth := max(inputWidth-2, 1)

	maxInputHeight := 6
	lineCount := max(1, min(WrappedLineCount(m.TextInput.Value(), contentWidth), maxInputHeight))

	m.TextInput.MaxHeight = maxInputHeight
	m.TextInput.SetWidth(inputWidth)
	m.TextInput.SetHeight(lineCount)

	reserved := m.TextInput.Height() + 2 + 5
	if m.Warning != "" {
		reserved++
	}
	m.Viewport.Height = max(m.WindowHeight-reserved, 5)
}

// elapsedLabel formats the last turn for the status bar.
func elapsedLabel(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
