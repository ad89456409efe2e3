package models

import "time"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Capability is a feature flag a model may or may not support.
type Capability string

const (
	CapText            Capability = "text_generation"
	CapFileAnalysis    Capability = "file_analysis"
	CapImageGeneration Capability = "image_generation"
	CapImageAnalysis   Capability = "image_analysis"
	CapCodeGeneration  Capability = "code_generation"
	CapRealTimeSearch  Capability = "real_time_search"
)

// AllCapabilities lists capabilities in display order.
var AllCapabilities = []Capability{
	CapText,
	CapFileAnalysis,
	CapImageGeneration,
	CapImageAnalysis,
	CapCodeGeneration,
	CapRealTimeSearch,
}

// Task tags a specialized route.
type Task string

const (
	TaskImageGeneration  Task = "image_generation"
	TaskImageAnalysis    Task = "image_analysis"
	TaskCodeAnalysis     Task = "code_analysis"
	TaskDocumentAnalysis Task = "document_analysis"
	TaskRealTimeSearch   Task = "real_time_search"
)

type Capabilities map[Capability]bool

func (c Capabilities) Has(cap Capability) bool {
	return c[cap]
}

type AIModel struct {
	Name         string       `json:"name"`
	ID           string       `json:"id"`
	Provider     string       `json:"provider"`
	Description  string       `json:"description"`
	Capabilities Capabilities `json:"capabilities"`
}

func (m AIModel) Has(cap Capability) bool {
	return m.Capabilities.Has(cap)
}

// ContentPart is one element of a multimodal user message.
type ContentPart struct {
	Type     string `json:"type"` // "text" or "image_url"
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

const (
	PartText  = "text"
	PartImage = "image_url"
)

type Message struct {
	Role    string        `json:"role"`
	Content string        `json:"content"`
	Parts   []ContentPart `json:"parts,omitempty"`
}

func (m Message) IsMultimodal() bool {
	return len(m.Parts) > 0
}

// Attachment is an already extracted file handed to a turn.
type Attachment struct {
	Name    string
	Content string
}

// ImageAttachment holds PNG-encoded image bytes.
type ImageAttachment struct {
	Name string
	PNG  []byte
}

type TurnRequest struct {
	UserText    string
	History     []Message
	ModelName   string
	File        *Attachment
	Image       *ImageAttachment
	Temperature float64
	MaxTokens   int
}

type ErrorKind string

const (
	ErrTransport         ErrorKind = "transport"
	ErrHTTP              ErrorKind = "http"
	ErrMissingCredential ErrorKind = "missing_credential"
	ErrEmptyResponse     ErrorKind = "empty_response"
	ErrInvalid           ErrorKind = "invalid"
)

type TurnError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	// Detail is the underlying cause when Message is a generic user-facing text.
	Detail string `json:"detail,omitempty"`
}

// Cause is Detail when known, otherwise Message.
func (e *TurnError) Cause() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Message
}

// TurnResult is exactly one of Text or Err.
type TurnResult struct {
	Text      string        `json:"text,omitempty"`
	Err       *TurnError    `json:"error,omitempty"`
	Elapsed   time.Duration `json:"-"`
	ModelID   string        `json:"model_id"`
	ModelName string        `json:"model_name"`
	Routed    bool          `json:"routed"`
}

func (r TurnResult) OK() bool {
	return r.Err == nil
}

// Display returns the text a front-end should render for the turn.
func (r TurnResult) Display() string {
	if r.Err != nil {
		return r.Err.Message
	}
	return r.Text
}

func (r TurnResult) ElapsedMs() int64 {
	return r.Elapsed.Milliseconds()
}

type ImageResult struct {
	PNG       []byte        `json:"-"`
	Err       *TurnError    `json:"error,omitempty"`
	Elapsed   time.Duration `json:"-"`
	ModelID   string        `json:"model_id"`
	ModelName string        `json:"model_name"`
}

func (r ImageResult) OK() bool {
	return r.Err == nil
}

// InteractionRecord is what the log collaborator receives per turn.
type InteractionRecord struct {
	SessionID     string
	Timestamp     time.Time
	ModelName     string
	ModelID       string
	Temperature   float64
	MaxTokens     int
	UserQuery     string
	ModelResponse string
	HasFile       bool
	FileName      string
	HasImage      bool
	ElapsedMs     int64
}

type SessionInfo struct {
	SessionID   string    `json:"session_id"`
	StartTime   time.Time `json:"start_time"`
	ClientAgent string    `json:"client_agent,omitempty"`
	ClientAddr  string    `json:"client_addr,omitempty"`
}

type SessionListItem struct {
	SessionID    string    `json:"session_id"`
	StartTime    time.Time `json:"start_time"`
	MessageCount int       `json:"message_count"`
	LastActivity time.Time `json:"last_activity"`
	LastQuery    string    `json:"last_query"`
}

type Interaction struct {
	InteractionID string    `json:"interaction_id"`
	SessionID     string    `json:"session_id"`
	Timestamp     time.Time `json:"timestamp"`
	ModelName     string    `json:"model_name"`
	ModelID       string    `json:"model_id"`
	Temperature   float64   `json:"temperature"`
	MaxTokens     int       `json:"max_tokens"`
	UserQuery     string    `json:"user_query"`
	ModelResponse string    `json:"model_response"`
	HasFile       bool      `json:"has_file"`
	FileName      string    `json:"file_name,omitempty"`
	HasImage      bool      `json:"has_image"`
	ElapsedMs     int64     `json:"execution_time_ms"`
}

type Stats struct {
	TotalSessions     int    `json:"total_sessions"`
	TotalInteractions int    `json:"total_interactions"`
	PopularModel      string `json:"most_popular_model"`
	PopularModelCount int    `json:"most_popular_model_count"`
}

type ModelUsage struct {
	ModelName string `json:"model_name"`
	Count     int    `json:"count"`
}

type DailyUsage struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type ResponseTime struct {
	ModelName string  `json:"model_name"`
	AvgMs     float64 `json:"avg_execution_time_ms"`
}
