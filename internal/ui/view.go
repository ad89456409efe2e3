package ui

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"researchbuddy/internal/styles"
)

func (m *Model) UpdateModelSelectorContent() {
	var items []string
	var lastProvider string
	current := m.Session.Settings().ModelName
	for i, mdl := range m.Models {
		if mdl.Provider != lastProvider {
			if lastProvider != "" {
				items = append(items, "")
			}
			header := styles.ModalHeaderStyle.
				Foreground(styles.GetProviderColor(mdl.Provider)).
				Render(mdl.Provider)
			items = append(items, header)
			lastProvider = mdl.Provider
		}

		isCurrent := mdl.Name == current
		displayName := "  " + mdl.Name
		if isCurrent {
			displayName = "● " + mdl.Name
		}

		var styledItem string
		if i == m.SelectedModelIndex {
			styledItem = styles.ModalSelectedStyle.Width(styles.ContentWidth).Render(displayName)
		} else {
			style := styles.ModalItemStyle.Width(styles.ContentWidth)
			if isCurrent {
				style = style.Foreground(styles.CurrentTheme.Secondary)
			} else {
				style = style.Foreground(lipgloss.AdaptiveColor{Light: "#1a1a2e", Dark: "#FFFFFF"})
			}
			styledItem = style.Render(displayName)
		}
		items = append(items, styledItem, "    "+CapabilityBadges(mdl))
	}

	m.ModelViewport.SetContent(lipgloss.JoinVertical(lipgloss.Left, items...))
}

func (m *Model) RenderModelSelector() string {
	title := styles.ModalTitleStyle.Render("Select AI Model")
	content := lipgloss.JoinVertical(lipgloss.Left, title, m.ModelViewport.View())

	var desc string
	if m.SelectedModelIndex < len(m.Models) {
		desc = styles.DescStyle.
			Width(styles.ContentWidth).
			PaddingTop(1).
			Render(m.Models[m.SelectedModelIndex].Description)
	}

	hint := lipgloss.NewStyle().
		Foreground(styles.HintColor).
		Width(styles.ContentWidth).
		PaddingTop(1).
		Render("↑/↓: navigate • Enter: select • Esc: close")

	return lipgloss.JoinVertical(lipgloss.Left, content, desc, hint)
}

func (m *Model) RenderHistorySelector() string {
	title := styles.ModalTitleStyle.Render(fmt.Sprintf("Recent Sessions (%d) - Page %d/%d", m.HistoryCount, m.HistoryPage+1, m.historyPages()))

	var body string
	switch {
	case m.HistoryErr != nil:
		body = lipgloss.NewStyle().Width(styles.ContentWidth).Render(styles.ErrorStyle.Render(fmt.Sprintf("Error: %v", m.HistoryErr)))
	case len(m.HistorySessions) == 0:
		body = styles.ModalItemStyle.Render(lipgloss.NewStyle().Foreground(styles.HintColor).Render("No sessions yet"))
	default:
		items := make([]string, 0, len(m.HistorySessions))
		for i, s := range m.HistorySessions {
			isSelected := i == m.HistorySelectedIdx
			cursor := "  "
			if isSelected {
				cursor = "> "
			}
			meta := fmt.Sprintf("%d msg · %s", s.MessageCount, RelativeTime(s.LastActivity))
			prompt := PromptPreview(s.LastQuery)
			if prompt == "" {
				prompt = "(no prompt)"
			}
			prompt = TruncateRunes(prompt, styles.ContentWidth-2-len(cursor)-1-lipgloss.Width(meta))

			itemContent := fmt.Sprintf("%s%s %s", cursor, prompt, lipgloss.NewStyle().Foreground(styles.HintColor).Render(meta))
			if isSelected {
				items = append(items, styles.ModalSelectedStyle.Render(itemContent))
			} else {
				items = append(items, styles.ModalItemStyle.Render(itemContent))
			}
		}
		body = lipgloss.JoinVertical(lipgloss.Left, items...)
	}

	content := lipgloss.JoinVertical(lipgloss.Left, title, body)
	hint := lipgloss.NewStyle().
		Foreground(styles.HintColor).
		Width(styles.ContentWidth).
		PaddingTop(1).
		Render("↑/↓: navigate • ←/→: page • Enter: resume • Esc: close")

	return lipgloss.JoinVertical(lipgloss.Left, content, hint)
}

var shortcuts = []struct {
	key  string
	desc string
}{
	{"Ctrl+C", "Quit"},
	{"Ctrl+N", "New session"},
	{"Ctrl+B", "Select AI model"},
	{"Ctrl+H", "Resume a past session"},
	{"Ctrl+S", "Shortcuts (this menu)"},
	{"@file", "Attach a file or image"},
	{"/clear", "Clear the conversation"},
	{"/reset", "Start a new session"},
	{"/key <k>", "Use an API key for this session"},
	{"/image <p>", "Generate an image"},
	{"/export <f>", "Export: md, html, json, txt"},
	{"/temp <v>", "Set temperature (0-1)"},
	{"/tokens <n>", "Set max tokens"},
	{"/detach", "Drop attachments"},
}

func (m *Model) RenderShortcutsModal() string {
	title := styles.ModalTitleStyle.Render("Keyboard Shortcuts")

	keyStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFCC80")).
		Bold(true).
		Width(13)

	descStyle := lipgloss.NewStyle().
		Foreground(lipgloss.AdaptiveColor{Light: "#333333", Dark: "#E0E0E0"})

	items := make([]string, 0, len(shortcuts))
	for _, s := range shortcuts {
		line := fmt.Sprintf("%s %s", keyStyle.Render(s.key), descStyle.Render(s.desc))
		items = append(items, styles.ModalItemStyle.Render(line))
	}

	content := lipgloss.JoinVertical(lipgloss.Left, title, lipgloss.JoinVertical(lipgloss.Left, items...))

	hint := lipgloss.NewStyle().
		Foreground(styles.HintColor).
		Width(styles.ContentWidth).
		PaddingTop(1).
		Render("Esc/Enter: close")

	return lipgloss.JoinVertical(lipgloss.Left, content, hint)
}

func (m *Model) RenderBottomBar() string {
	mdl := m.CurrentModel()
	model := lipgloss.NewStyle().
		Bold(true).
		Foreground(styles.GetProviderColor(mdl.Provider)).
		Render(TruncateRunes(mdl.Name, 25))

	st := m.Session.Settings()
	settings := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		Render(fmt.Sprintf("T:%.1f  Max:%d", st.Temperature, st.MaxTokens))

	leftParts := []string{model, " ", CapabilityBadges(mdl), "  ", settings}

	chip := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#7C4DFF")).
		Padding(0, 1)
	file, img := m.Session.Attachments()
	if file != nil {
		leftParts = append(leftParts, "  ", chip.Render("📄 "+TruncateRunes(file.Name, 20)))
	}
	if img != nil {
		leftParts = append(leftParts, "  ", chip.Render("🖼 "+TruncateRunes(img.Name, 20)))
	}

	var rightParts []string
	if m.LastModelID != "" {
		last := m.LastModelID + " " + elapsedLabel(m.LastElapsed)
		if m.LastRouted {
			last += " (routed)"
		}
		rightParts = append(rightParts, lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")).Render(last), "  ")
	}
	rightParts = append(rightParts, lipgloss.NewStyle().Foreground(lipgloss.Color("#555555")).Render("Help: ^S"))

	leftSide := lipgloss.JoinHorizontal(lipgloss.Center, leftParts...)
	rightSide := lipgloss.JoinHorizontal(lipgloss.Center, rightParts...)

	availableWidth := max(m.WindowWidth-lipgloss.Width(leftSide)-lipgloss.Width(rightSide)-2, 0)
	bar := lipgloss.JoinHorizontal(lipgloss.Center, leftSide, strings.Repeat(" ", availableWidth), rightSide)

	return lipgloss.NewStyle().
		Width(m.WindowWidth).
		BorderTop(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(styles.CurrentTheme.Border).
		Padding(0, 1).
		Render(bar)
}

func (m *Model) RenderPendingFiles() string {
	if len(m.PendingFiles) == 0 {
		return ""
	}

	chipStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#7C4DFF")).
		Padding(0, 1).
		MarginRight(1)

	chips := make([]string, 0, len(m.PendingFiles))
	for _, file := range m.PendingFiles {
		chips = append(chips, chipStyle.Render("📎 "+filepath.Base(file)))
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Render("Attaching: ") + strings.Join(chips, " ")
}

func (m *Model) RenderFileSuggestions() string {
	if !m.FileSuggestOpen || len(m.FileSuggestions) == 0 {
		return ""
	}

	suggestionStyle := lipgloss.NewStyle().
		Foreground(lipgloss.AdaptiveColor{Light: "#333333", Dark: "#E0E0E0"}).
		Padding(0, 1)

	selectedStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#7C4DFF")).
		Padding(0, 1)

	lines := []string{lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		Italic(true).
		Render("  Files (↑↓ to select, Tab/Enter to insert)")}

	for i, suggestion := range m.FileSuggestions {
		display := suggestion
		if info, err := os.Stat(filepath.Join(m.WorkingDir, suggestion)); err == nil && info.IsDir() {
			display += "/"
		}
		if i == m.FileSuggestIdx {
			lines = append(lines, selectedStyle.Render("▸ "+display))
		} else {
			lines = append(lines, suggestionStyle.Render("  "+display))
		}
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#7C4DFF")).
		Padding(0, 1).
		Render(strings.Join(lines, "\n"))
}

const welcomeArt = `
 ___                              _    ___          _    _
| _ \ ___  ___ ___  __ _  _ _  __| |_ | _ ) _  _  __| | __| | _  _
|   // -_)(_-</ -_)/ _` + "`" + ` || '_|/ _|| ' \| _ \| || |/ _` + "`" + ` |/ _` + "`" + ` || || |
|_|_\\___|/__/\___|\__,_||_|  \__||_||_|___/ \_,_|\__,_|\__,_| \_, |
                                                              |__/`

func GetWelcomeScreen(width, height int) string {
	art := styles.WelcomeArtStyle.Render(welcomeArt)
	subtitle := styles.WelcomeSubtitleStyle.Render("Ten models behind one prompt. Attach a file with @, draw with /image.")
	content := lipgloss.JoinVertical(lipgloss.Center, art, "", subtitle)
	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, content)
}

func (m *Model) UpdateViewport() {
	if len(m.Messages) == 0 && !m.Loading {
		m.Viewport.SetContent(GetWelcomeScreen(m.Viewport.Width, m.Viewport.Height))
		return
	}

	content := strings.Join(m.Messages, "\n\n")
	if m.Loading {
		label := m.LoadingLabel
		if label == "" {
			label = "Generating..."
		}
		loadingMsg := styles.AiLabelStyle.Render("RESEARCHBUDDY") + "\n" + m.Spinner.View() + " " + label
		if len(m.Messages) > 0 {
			content += "\n\n" + loadingMsg
		} else {
			content = loadingMsg
		}
	}
	m.Viewport.SetContent(content)
	m.Viewport.GotoBottom()
}

func (m *Model) renderModal(body string) string {
	modal := styles.ModalStyle.Width(m.ModalWidth).Render(body)
	return lipgloss.Place(m.WindowWidth, m.WindowHeight, lipgloss.Center, lipgloss.Center, modal)
}

func (m *Model) View() string {
	switch {
	case m.HistoryOpen:
		return m.renderModal(m.RenderHistorySelector())
	case m.ModelSelectorOpen:
		return m.renderModal(m.RenderModelSelector())
	case m.ShortcutsOpen:
		return m.renderModal(m.RenderShortcutsModal())
	}

	var inputParts []string
	if m.Warning != "" {
		inputParts = append(inputParts, styles.WarningBannerStyle.Render("⚠ "+m.Warning+" Use /key <value>."))
	}
	if pending := m.RenderPendingFiles(); pending != "" {
		inputParts = append(inputParts, pending)
	}
	if popup := m.RenderFileSuggestions(); popup != "" {
		inputParts = append(inputParts, popup)
	}
	inputParts = append(inputParts, styles.InputBoxStyle.Width(m.WindowWidth-4).Render(m.TextInput.View()))

	chatContent := lipgloss.JoinVertical(lipgloss.Center,
		styles.TitleStyle.Render("RESEARCHBUDDY"),
		"",
		m.Viewport.View(),
		"",
		lipgloss.JoinVertical(lipgloss.Left, inputParts...),
	)
	chatArea := lipgloss.PlaceHorizontal(m.WindowWidth, lipgloss.Center, chatContent)

	return lipgloss.JoinVertical(lipgloss.Left, chatArea, m.RenderBottomBar())
}
