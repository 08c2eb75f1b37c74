// Package llm is the chat-completion gateway used by every AI-backed feature.
// It owns model fallback ordering, per-call timeouts and response framing for
// both blocking and streamed completions against an OpenAI-compatible endpoint.
package llm

import (
	"encoding/json"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentPart is one element of a multimodal message body.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries an http(s) or data URL for vision requests.
type ImageURL struct {
	URL string `json:"url"`
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: "text", Text: text}
}

// ImagePart builds an image_url content part.
func ImagePart(url string) ContentPart {
	return ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: url}}
}

// ChatMessage is a single conversation turn. When Parts is set the message is
// sent as a multimodal content array and Content is ignored.
type ChatMessage struct {
	Role    Role
	Content string
	Parts   []ContentPart
}

// MarshalJSON encodes content either as a string or as a parts array.
func (m ChatMessage) MarshalJSON() ([]byte, error) {
	if len(m.Parts) > 0 {
		return json.Marshal(struct {
			Role    Role          `json:"role"`
			Content []ContentPart `json:"content"`
		}{Role: m.Role, Content: m.Parts})
	}
	return json.Marshal(struct {
		Role    Role   `json:"role"`
		Content string `json:"content"`
	}{Role: m.Role, Content: m.Content})
}

// CompletionRequest describes one chat completion. Model is an optional
// override tried before the configured fallback chain. Temperature is passed
// through as-is; callers are expected to stay within [0,2].
type CompletionRequest struct {
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
	Model       string
}

// chatRequest is the wire body for POST /chat/completions.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}
