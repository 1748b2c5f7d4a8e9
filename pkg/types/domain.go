package types

import "encoding/json"

// Model describes the served model in the OpenAI /v1/models listing shape.
type Model struct {
	// Stable identifier for the model.
	// example: ShizhenGPT-32B-VL
	ID string `json:"id" example:"ShizhenGPT-32B-VL"`
	// Object type, always "model".
	// example: model
	Object string `json:"object" example:"model"`
	// Organization that published the weights.
	// example: FreedomIntelligence
	OwnedBy string `json:"owned_by" example:"FreedomIntelligence"`
	// Permission entries. Always empty; present for client compatibility.
	Permission []string `json:"permission"`
}

// ModelsResponse wraps the list of models returned by GET /v1/models.
type ModelsResponse struct {
	// Empty while the model is loading, otherwise exactly one entry.
	Data []Model `json:"data"`
}

// ChatMessage is one role/content record. Content is passed to the model
// runtime verbatim: either a JSON string or an array of content parts.
type ChatMessage struct {
	// example: user
	Role string `json:"role" example:"user"`
	// example: 手脚冰凉，经常怕冷，是什么原因？
	Content RawContent `json:"content" swaggertype:"string" example:"手脚冰凉，经常怕冷，是什么原因？"`
	// Extra holds any other fields of the message object (e.g. "name").
	Extra map[string]json.RawMessage `json:"-" swaggerignore:"true"`
}

type chatMessageFields struct {
	Role    string     `json:"role"`
	Content RawContent `json:"content"`
}

// UnmarshalJSON decodes role and content and keeps every other field in Extra.
func (m *ChatMessage) UnmarshalJSON(b []byte) error {
	var f chatMessageFields
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	delete(all, "role")
	delete(all, "content")
	m.Role, m.Content, m.Extra = f.Role, f.Content, nil
	if len(all) > 0 {
		m.Extra = all
	}
	return nil
}

// MarshalJSON writes Extra alongside role and content.
func (m ChatMessage) MarshalJSON() ([]byte, error) {
	if len(m.Extra) == 0 {
		return json.Marshal(chatMessageFields{Role: m.Role, Content: m.Content})
	}
	out := make(map[string]any, len(m.Extra)+2)
	for k, v := range m.Extra {
		out[k] = v
	}
	out["role"] = m.Role
	out["content"] = m.Content
	return json.Marshal(out)
}

// RawContent keeps message content as raw JSON so it survives a round trip
// unchanged.
type RawContent []byte

// MarshalJSON returns the raw bytes, or null when empty.
func (c RawContent) MarshalJSON() ([]byte, error) {
	if len(c) == 0 {
		return []byte("null"), nil
	}
	return c, nil
}

// UnmarshalJSON stores a copy of the raw bytes.
func (c *RawContent) UnmarshalJSON(b []byte) error {
	*c = append((*c)[:0], b...)
	return nil
}

// Text returns the content when it is a plain JSON string, otherwise the raw JSON.
func (c RawContent) Text() string {
	if len(c) == 0 {
		return ""
	}
	var s string
	if c[0] == '"' && json.Unmarshal(c, &s) == nil {
		return s
	}
	return string(c)
}

// TextContent builds RawContent from a plain string.
func TextContent(s string) RawContent {
	b, _ := json.Marshal(s)
	return RawContent(b)
}
