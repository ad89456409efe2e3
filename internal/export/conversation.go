// Package export renders conversations and logged interactions into files.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"researchbuddy/internal/models"
)

const Title = "ResearchBuddy AI Chat History"

type Format string

const (
	Markdown Format = "markdown"
	HTML     Format = "html"
	JSON     Format = "json"
	Text     Format = "text"
	CSV      Format = "csv"
	XLSX     Format = "xlsx"
)

// ParseFormat accepts the usual aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "md", "markdown":
		return Markdown, nil
	case "html", "htm":
		return HTML, nil
	case "json":
		return JSON, nil
	case "txt", "text":
		return Text, nil
	case "csv":
		return CSV, nil
	case "xlsx", "excel":
		return XLSX, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

func (f Format) Ext() string {
	switch f {
	case Markdown:
		return ".md"
	case Text:
		return ".txt"
	}
	return "." + string(f)
}

func (f Format) ContentType() string {
	switch f {
	case Markdown:
		return "text/markdown; charset=utf-8"
	case HTML:
		return "text/html; charset=utf-8"
	case JSON:
		return "application/json"
	case CSV:
		return "text/csv; charset=utf-8"
	case XLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/plain; charset=utf-8"
}

// Transcript is a finished conversation ready for export.
type Transcript struct {
	SessionID  string           `json:"session_id"`
	ExportedAt time.Time        `json:"exported_at"`
	Messages   []models.Message `json:"messages"`
}

var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Conversation renders t in one of markdown, html, json or text.
func Conversation(t Transcript, f Format) ([]byte, error) {
	switch f {
	case Markdown:
		return []byte(toMarkdown(t)), nil
	case HTML:
		return toHTML(t)
	case JSON:
		return json.MarshalIndent(struct {
			Title string `json:"title"`
			Transcript
		}{Title, t}, "", "  ")
	case Text:
		return []byte(toText(t)), nil
	}
	return nil, fmt.Errorf("format %s is not available for conversations", f)
}

func roleLabel(role string) string {
	switch role {
	case models.RoleUser:
		return "You"
	case models.RoleAssistant:
		return "Assistant"
	}
	return strings.ToUpper(role[:1]) + role[1:]
}

func toMarkdown(t Transcript) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", Title)
	fmt.Fprintf(&sb, "_Exported %s_\n\n", t.ExportedAt.Format(time.RFC1123))
	for _, m := range t.Messages {
		if m.Role == models.RoleSystem {
			continue
		}
		fmt.Fprintf(&sb, "## %s\n\n%s\n\n", roleLabel(m.Role), m.Content)
	}
	return sb.String()
}

func toHTML(t Transcript) ([]byte, error) {
	var body bytes.Buffer
	if err := md.Convert([]byte(toMarkdown(t)), &body); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	out.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&out, "<title>%s</title>\n", html.EscapeString(Title))
	out.WriteString("<style>body{font-family:sans-serif;max-width:48em;margin:2em auto;line-height:1.5}pre{background:#f4f4f4;padding:1em;overflow:auto}</style>\n")
	out.WriteString("</head>\n<body>\n")
	out.Write(body.Bytes())
	out.WriteString("</body>\n</html>\n")
	return out.Bytes(), nil
}

func toText(t Transcript) string {
	var sb strings.Builder
	sb.WriteString(Title)
	sb.WriteString("\n\n")
	for _, m := range t.Messages {
		if m.Role == models.RoleSystem {
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n\n", strings.ToUpper(m.Role), m.Content)
	}
	return sb.String()
}
