package sitegen

import "time"

// Message is one turn of a chat transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage represents token usage reported by a provider.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Bundle is a generated site: one HTML page with its stylesheet and script.
type Bundle struct {
	HTML string `json:"html"`
	CSS  string `json:"css"`
	JS   string `json:"js"`
}

// Project groups the frames a subject generates.
type Project struct {
	ID        string    `json:"projectId"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Frame is one generated bundle inside a project.
type Frame struct {
	ID        string    `json:"frameId"`
	ProjectID string    `json:"projectId"`
	Design    Bundle    `json:"designCode"`
	CreatedAt time.Time `json:"createdAt"`
}

// Chat is the transcript attached to a frame.
type Chat struct {
	FrameID   string    `json:"frameId"`
	OwnerID   string    `json:"userId"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
}

// RoutingInfo describes which provider served a generation.
type RoutingInfo struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Attempts int    `json:"attempts"`
}

// Float64Ptr returns a pointer to the given float64.
func Float64Ptr(v float64) *float64 { return &v }

// IntPtr returns a pointer to the given int.
func IntPtr(v int) *int { return &v }
