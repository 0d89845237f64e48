// Package assistant implements the conversation orchestration engine:
// the remote assistant API client, the transcription coordinator, the
// message batch formatter, the thread registry, and the orchestrator
// state machine that ties them together.
package assistant

import "time"

// Role identifies which side of the marketplace conversation the
// assistant is answering for.
type Role string

const (
	RoleSeller Role = "seller"
	RoleBuyer  Role = "buyer"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	return r == RoleSeller || r == RoleBuyer
}

// Message is one chat turn as supplied by the conversation source.
type Message struct {
	// ID is the source's stable identifier for this turn.
	ID string `json:"id"`

	// SentBySelf is true for turns authored by our side of the chat.
	SentBySelf bool `json:"sent_by_self"`

	// Timestamp is the source-reported send time.
	Timestamp time.Time `json:"timestamp"`

	// Text is the raw message text (may be empty for pure media turns).
	Text string `json:"text"`

	// HasAudio marks a voice message. AudioLocator is non-empty when set.
	HasAudio bool `json:"has_audio"`

	// AudioLocator identifies the audio payload at the source.
	AudioLocator string `json:"audio_locator,omitempty"`

	// Transcript is the resolved audio transcription. Empty until the
	// transcription coordinator resolves it.
	Transcript string `json:"transcript,omitempty"`

	// Images holds image URLs attached to this turn.
	Images []string `json:"images,omitempty"`
}

// ProductInfo is the optional listing metadata prepended to new threads.
type ProductInfo struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Price       string   `json:"price,omitempty"`
	Images      []string `json:"images,omitempty"`
}

// Batch is one role-tagged remote message: an ordered list of content
// entries sent to the assistant thread in a single append call.
type Batch struct {
	// Role is the remote API role: "user" for counterpart turns,
	// "assistant" for our own past turns.
	Role string `json:"role"`

	// Content holds the ordered text/image entries.
	Content []ContentPart `json:"content"`
}

// ContentPart is a single entry inside a batch.
type ContentPart struct {
	// Type is "text" or "image_url".
	Type string `json:"type"`

	// Text is set when Type is "text".
	Text string `json:"text,omitempty"`

	// ImageURL is set when Type is "image_url".
	ImageURL string `json:"image_url,omitempty"`
}

// TextPart builds a text content entry.
func TextPart(text string) ContentPart {
	return ContentPart{Type: "text", Text: text}
}

// ImagePart builds an image content entry.
func ImagePart(url string) ContentPart {
	return ContentPart{Type: "image_url", ImageURL: url}
}
