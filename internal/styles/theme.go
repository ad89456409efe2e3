package styles

import "github.com/charmbracelet/lipgloss"

// Theme defines a complete color scheme for the application
type Theme struct {
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Accent    lipgloss.Color

	TextPrimary   lipgloss.Color
	TextSecondary lipgloss.Color
	TextMuted     lipgloss.Color

	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Info    lipgloss.Color

	Border lipgloss.Color

	// Capability badges
	CapText   lipgloss.Color
	CapFile   lipgloss.Color
	CapDraw   lipgloss.Color
	CapVision lipgloss.Color
	CapCode   lipgloss.Color
	CapSearch lipgloss.Color
}

var DarkTheme = Theme{
	Primary:   lipgloss.Color("#80CBC4"),
	Secondary: lipgloss.Color("#90CAF9"),
	Accent:    lipgloss.Color("#F48FB1"),

	TextPrimary:   lipgloss.Color("#F1F5F9"),
	TextSecondary: lipgloss.Color("#94A3B8"),
	TextMuted:     lipgloss.Color("#64748B"),

	Success: lipgloss.Color("#34D399"),
	Warning: lipgloss.Color("#FBBF24"),
	Error:   lipgloss.Color("#FB7185"),
	Info:    lipgloss.Color("#60A5FA"),

	Border: lipgloss.Color("#333333"),

	CapText:   lipgloss.Color("#546E7A"),
	CapFile:   lipgloss.Color("#5C6BC0"),
	CapDraw:   lipgloss.Color("#AB47BC"),
	CapVision: lipgloss.Color("#EC407A"),
	CapCode:   lipgloss.Color("#26A69A"),
	CapSearch: lipgloss.Color("#FFA726"),
}

var LightTheme = Theme{
	Primary:   lipgloss.Color("#00796B"),
	Secondary: lipgloss.Color("#1976D2"),
	Accent:    lipgloss.Color("#C2185B"),

	TextPrimary:   lipgloss.Color("#18181B"),
	TextSecondary: lipgloss.Color("#52525B"),
	TextMuted:     lipgloss.Color("#A1A1AA"),

	Success: lipgloss.Color("#10B981"),
	Warning: lipgloss.Color("#F59E0B"),
	Error:   lipgloss.Color("#EF4444"),
	Info:    lipgloss.Color("#3B82F6"),

	Border: lipgloss.Color("#E4E4E7"),

	CapText:   lipgloss.Color("#455A64"),
	CapFile:   lipgloss.Color("#3949AB"),
	CapDraw:   lipgloss.Color("#8E24AA"),
	CapVision: lipgloss.Color("#D81B60"),
	CapCode:   lipgloss.Color("#00897B"),
	CapSearch: lipgloss.Color("#FB8C00"),
}

// CurrentTheme holds the active theme (set at runtime based on terminal)
var CurrentTheme = DarkTheme

var ProviderColorMap = map[string]lipgloss.Color{
	"OpenAI":   lipgloss.Color("#10B981"),
	"Google":   lipgloss.Color("#60A5FA"),
	"Meta":     lipgloss.Color("#A78BFA"),
	"DeepSeek": lipgloss.Color("#22D3EE"),
	"Qwen":     lipgloss.Color("#F472B6"),
	"Mistral":  lipgloss.Color("#FBBF24"),
}

func GetProviderColor(provider string) lipgloss.Color {
	if c, ok := ProviderColorMap[provider]; ok {
		return c
	}
	return CurrentTheme.Primary
}

// InitTheme sets the current theme based on terminal background
func InitTheme() {
	if lipgloss.HasDarkBackground() {
		CurrentTheme = DarkTheme
	} else {
		CurrentTheme = LightTheme
	}
}
