// File: api/schemas/conversation.go
package schemas

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Image is an encoded screenshot carried inline in a message.
type Image struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// Message is a single turn in the model conversation. Content is plain text,
// or an image accompanied by a text caption.
type Message struct {
	Role  Role   `json:"role"`
	Text  string `json:"text"`
	Image *Image `json:"image,omitempty"`
}

// HasImage reports whether the message carries a multimodal payload.
func (m Message) HasImage() bool {
	return m.Image != nil && len(m.Image.Data) > 0
}

// NewTextMessage builds a plain text message.
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Text: text}
}

// NewImageMessage builds a multimodal message with an image and its caption.
func NewImageMessage(role Role, img Image, caption string) Message {
	return Message{Role: role, Text: caption, Image: &img}
}
