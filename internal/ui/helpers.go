package ui

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"researchbuddy/internal/models"
	"researchbuddy/internal/styles"
)

var (
	mentionRE    = regexp.MustCompile(`@("([^"]+)"|([^\s]+))`)
	whitespaceRE = regexp.MustCompile(`\s+`)
)

// GetFileSuggestions returns files/dirs under cwd matching a prefix, supporting subdirectory paths and recursive search
func GetFileSuggestions(cwd, prefix string) []string {
	if cwd == "" {
		return nil
	}
	if strings.Contains(prefix, "/") {
		return getDirectorySuggestions(cwd, prefix)
	}
	return getRecursiveSuggestions(cwd, prefix)
}

// getDirectorySuggestions handles paths like "docs/reports/"
func getDirectorySuggestions(cwd, prefix string) []string {
	dir := ""
	filePrefix := prefix

	if idx := strings.LastIndex(prefix, "/"); idx != -1 {
		dir = prefix[:idx+1]
		filePrefix = prefix[idx+1:]
	}

	searchDir := cwd
	if dir != "" {
		searchDir = filepath.Join(cwd, dir)
	}

	entries, err := os.ReadDir(searchDir)
	if err != nil {
		return nil
	}

	var suggestions []string
	lowerFilePrefix := strings.ToLower(filePrefix)

	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") && !strings.HasPrefix(filePrefix, ".") {
			continue
		}
		if strings.HasPrefix(strings.ToLower(name), lowerFilePrefix) {
			suggestions = append(suggestions, dir+name)
		}
	}

	return sortAndLimitSuggestions(cwd, suggestions)
}

// getRecursiveSuggestions searches all files recursively for matches
func getRecursiveSuggestions(cwd, prefix string) []string {
	var suggestions []string
	lowerPrefix := strings.ToLower(prefix)

	filepath.Walk(cwd, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}

		name := info.Name()
		if info.IsDir() {
			if path != cwd && (strings.HasPrefix(name, ".") || name == "node_modules" || name == "vendor" || name == "__pycache__") {
				return filepath.SkipDir
			}
			return nil
		}

		if strings.HasPrefix(name, ".") && !strings.HasPrefix(prefix, ".") {
			return nil
		}

		if strings.Contains(strings.ToLower(name), lowerPrefix) {
			relPath, _ := filepath.Rel(cwd, path)
			suggestions = append(suggestions, filepath.ToSlash(relPath))
		}

		if len(suggestions) >= 20 {
			return filepath.SkipAll
		}
		return nil
	})

	return sortAndLimitSuggestions(cwd, suggestions)
}

// sortAndLimitSuggestions sorts by directories first, then shallow paths, then alphabetically
func sortAndLimitSuggestions(cwd string, suggestions []string) []string {
	sort.Slice(suggestions, func(i, j int) bool {
		iInfo, _ := os.Stat(filepath.Join(cwd, suggestions[i]))
		jInfo, _ := os.Stat(filepath.Join(cwd, suggestions[j]))
		iDir := iInfo != nil && iInfo.IsDir()
		jDir := jInfo != nil && jInfo.IsDir()
		if iDir != jDir {
			return iDir
		}
		iDepth := strings.Count(suggestions[i], "/")
		jDepth := strings.Count(suggestions[j], "/")
		if iDepth != jDepth {
			return iDepth < jDepth
		}
		return strings.ToLower(suggestions[i]) < strings.ToLower(suggestions[j])
	})

	if len(suggestions) > 10 {
		suggestions = suggestions[:10]
	}
	return suggestions
}

// ExtractFileMentions strips @file mentions from input. Only mentions that
// resolve to an existing regular file under cwd are returned.
func ExtractFileMentions(cwd, input string) (cleanInput string, files []string) {
	seen := make(map[string]bool)
	for _, match := range mentionRE.FindAllStringSubmatch(input, -1) {
		filename := match[3]
		if match[2] != "" {
			filename = match[2]
		}
		if filename == "" || seen[filename] {
			continue
		}
		path := filename
		if !filepath.IsAbs(path) {
			path = filepath.Join(cwd, path)
		}
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			files = append(files, path)
			seen[filename] = true
		}
	}

	cleanInput = mentionRE.ReplaceAllString(input, "")
	cleanInput = strings.TrimSpace(cleanInput)
	cleanInput = whitespaceRE.ReplaceAllString(cleanInput, " ")
	return cleanInput, files
}

// GetAtPosition finds the @ mention being typed at cursor position
func GetAtPosition(input string, cursorPos int) (prefix string, startPos int, found bool) {
	if cursorPos > len(input) {
		cursorPos = len(input)
	}

	for i := cursorPos - 1; i >= 0; i-- {
		ch := input[i]
		if ch == '@' {
			return input[i+1 : cursorPos], i, true
		}
		if ch == ' ' || ch == '\n' || ch == '\t' {
			return "", 0, false
		}
	}
	return "", 0, false
}

func TextareaCursorIndex(t textarea.Model) int {
	value := t.Value()
	row := t.Line()
	li := t.LineInfo()
	col := li.StartColumn + li.ColumnOffset
	return cursorIndexFromRowCol(value, row, col)
}

func TextareaCursorFromIndex(value string, index int) (row int, col int) {
	if index < 0 {
		index = 0
	}
	if index > len(value) {
		index = len(value)
	}

	lines := strings.Split(value, "\n")
	pos := 0
	for i, line := range lines {
		lineLen := len(line)
		if index <= pos+lineLen {
			return i, runeIndexForByteIndex(line, index-pos)
		}
		pos += lineLen + 1
	}

	row = len(lines) - 1
	return row, utf8.RuneCountInString(lines[row])
}

func SetTextareaCursor(t *textarea.Model, row int, col int) {
	lineCount := t.LineCount()
	if lineCount == 0 {
		t.SetCursor(0)
		return
	}
	row = max(0, min(row, lineCount-1))

	for i := 0; i < 10000 && t.Line() > 0; i++ {
		t.CursorUp()
	}
	for i := 0; i < 10000 && t.Line() < row; i++ {
		t.CursorDown()
	}
	t.SetCursor(col)
}

func cursorIndexFromRowCol(value string, row int, col int) int {
	lines := strings.Split(value, "\n")
	row = max(0, min(row, len(lines)-1))

	index := 0
	for i := 0; i < row; i++ {
		index += len(lines[i]) + 1
	}
	return index + byteIndexForRuneColumn(lines[row], col)
}

func byteIndexForRuneColumn(s string, col int) int {
	if col <= 0 {
		return 0
	}
	count := 0
	for i := range s {
		if count >= col {
			return i
		}
		count++
	}
	return len(s)
}

func runeIndexForByteIndex(s string, idx int) int {
	if idx <= 0 {
		return 0
	}
	count := 0
	for i := range s {
		if i >= idx {
			return count
		}
		count++
	}
	return count
}

func WrappedLineCount(value string, width int) int {
	if width <= 0 {
		return 1
	}
	count := 0
	for _, line := range strings.Split(value, "\n") {
		w := runewidth.StringWidth(line)
		if w == 0 {
			count++
			continue
		}
		count += (w-1)/width + 1
	}
	return count
}

func PromptPreview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	const maxRunes = 500
	r := []rune(s)
	if len(r) > maxRunes {
		return string(r[:maxRunes])
	}
	return s
}

func TruncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 1 {
		return "…"
	}
	return string(r[:max-1]) + "…"
}

func RelativeTime(t time.Time) string {
	d := time.Since(t)
	if d < 0 {
		d = -d
	}
	if d < time.Minute {
		return "just now"
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		if mins == 1 {
			return "1 min ago"
		}
		return fmt.Sprintf("%d mins ago", mins)
	}
	if d < 24*time.Hour {
		hrs := int(d.Hours())
		if hrs == 1 {
			return "1 hr ago"
		}
		return fmt.Sprintf("%d hrs ago", hrs)
	}
	days := int(d.Hours() / 24)
	if days < 14 {
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
	weeks := days / 7
	if weeks == 1 {
		return "1 week ago"
	}
	return fmt.Sprintf("%d weeks ago", weeks)
}

type capBadge struct {
	label string
	color func() lipgloss.Color
}

var capBadges = map[models.Capability]capBadge{
	models.CapText:            {"TXT", func() lipgloss.Color { return styles.CurrentTheme.CapText }},
	models.CapFileAnalysis:    {"FILE", func() lipgloss.Color { return styles.CurrentTheme.CapFile }},
	models.CapImageGeneration: {"DRAW", func() lipgloss.Color { return styles.CurrentTheme.CapDraw }},
	models.CapImageAnalysis:   {"VISION", func() lipgloss.Color { return styles.CurrentTheme.CapVision }},
	models.CapCodeGeneration:  {"CODE", func() lipgloss.Color { return styles.CurrentTheme.CapCode }},
	models.CapRealTimeSearch:  {"WEB", func() lipgloss.Color { return styles.CurrentTheme.CapSearch }},
}

// CapabilityLabels lists the short badge labels for mdl in display order.
func CapabilityLabels(mdl models.AIModel) []string {
	var out []string
	for _, c := range models.AllCapabilities {
		if mdl.Has(c) {
			out = append(out, capBadges[c].label)
		}
	}
	return out
}

func CapabilityBadges(mdl models.AIModel) string {
	var out []string
	for _, c := range models.AllCapabilities {
		if !mdl.Has(c) {
			continue
		}
		b := capBadges[c]
		out = append(out, styles.Badge(b.label, b.color()))
	}
	return strings.Join(out, " ")
}

// modelRowOffset returns the first and last viewport line of model i in the
// grouped selector list.
func modelRowOffset(list []models.AIModel, i int) (start, end int) {
	y := 0
	last := ""
	for j, mdl := range list {
		if mdl.Provider != last {
			if last != "" {
				y++
			}
			start = y
			y++
			last = mdl.Provider
		} else {
			start = y
		}
		// name line plus description line
		if j == i {
			return start, y + 2
		}
		y += 2
	}
	return 0, 0
}

func (m *Model) SyncModelViewportScroll() {
	start, end := modelRowOffset(m.Models, m.SelectedModelIndex)
	if end > m.ModelViewport.YOffset+m.ModelViewport.Height {
		m.ModelViewport.SetYOffset(end - m.ModelViewport.Height)
	}
	if start < m.ModelViewport.YOffset {
		m.ModelViewport.SetYOffset(start)
	}
}

func FormatUserMessage(content string, width int, isFirst bool) string {
	label := styles.UserLabelStyle.Render("YOU")
	msg := styles.UserMsgStyle.Width(max(width-4, 10)).Render(content)
	if isFirst {
		return fmt.Sprintf("\n%s\n%s", label, msg)
	}
	return fmt.Sprintf("%s\n%s", label, msg)
}

func FormatAIMessage(content, modelName string) string {
	label := styles.AiLabelStyle.Render("RESEARCHBUDDY")
	if modelName != "" {
		label += styles.MetaStyle.Render(modelName)
	}
	msg := styles.AiMsgStyle.Render(content)
	return fmt.Sprintf("%s\n%s", label, msg)
}

func FormatNotice(text string) string {
	return styles.NoticeStyle.Render(styles.NoticeIconStyle.Render("•") + " " + text)
}

func FormatError(text string) string {
	return styles.ErrorStyle.Render(text)
}
