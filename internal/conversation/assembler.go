package conversation

import (
	"encoding/base64"

	"researchbuddy/internal/models"
)

const (
	DefaultHistoryWindow = 10

	ImagePreamble = "Here is an image the user uploaded"
	filePreamble  = "The user has uploaded a file with the following content. Please help analyze or respond to queries about it:\n\n"
)

// Assembler turns a TurnRequest into the provider message list.
type Assembler struct {
	Window int
}

func (a Assembler) window() int {
	if a.Window <= 0 {
		return DefaultHistoryWindow
	}
	return a.Window
}

// Build orders messages as: file system message, image message, the trailing
// history window, then the current user text unless history already ends on a
// user turn. The routed model does not change the content.
func (a Assembler) Build(req models.TurnRequest) []models.Message {
	history := req.History
	if n := a.window(); len(history) > n {
		history = history[len(history)-n:]
	}

	msgs := make([]models.Message, 0, len(history)+3)

	if content := fileContent(req); content != "" {
		msgs = append(msgs, models.Message{
			Role:    models.RoleSystem,
			Content: filePreamble + content,
		})
	}

	if req.Image != nil {
		msgs = append(msgs, models.Message{
			Role: models.RoleUser,
			Parts: []models.ContentPart{
				{Type: models.PartText, Text: ImagePreamble},
				{Type: models.PartImage, ImageURL: DataURI(req.Image.PNG)},
			},
		})
	}

	for _, h := range history {
		msgs = append(msgs, models.Message{Role: h.Role, Content: h.Content})
	}

	if len(history) == 0 || history[len(history)-1].Role != models.RoleUser {
		msgs = append(msgs, models.Message{Role: models.RoleUser, Content: req.UserText})
	}

	return msgs
}

func DataURI(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}

// fileContent is the extracted text of the attached file, or "" when there is
// none. An empty extraction counts as no file.
func fileContent(req models.TurnRequest) string {
	if req.File == nil {
		return ""
	}
	return req.File.Content
}
