package models

import "time"

// Message is a single entry of a conversation transcript. Apart from the generating flag of the
// placeholder, a message never changes once it is appended to a transcript.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// ImageURL references the preview of the reference image attached by the user, if any.
	ImageURL string `json:"imageUrl,omitempty"`
	// IsGenerating marks the transient placeholder shown while the video service is working.
	IsGenerating bool `json:"isGenerating,omitempty"`
	// VideoURL references a generated video. Current response handling never sets it.
	VideoURL string `json:"videoUrl,omitempty"`
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a message written by the person using the chat.
	RoleUser Role = "user"
	// RoleAssistant represents a message produced on behalf of the video generation service.
	RoleAssistant Role = "assistant"
)

// Attachment is an image file staged by the user, kept together with what is needed to forward it
// to the video generation service unchanged.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Data        []byte `json:"data"`
}

// GenerateRequest is the payload of a single call to the video generation service.
type GenerateRequest struct {
	Prompt string
	Image  *Attachment
}
