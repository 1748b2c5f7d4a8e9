package capability

import (
	"context"
	"encoding/json"
	"image"
	"regexp"
	"strings"

	"shizhend/pkg/types"
)

// Capability is a loaded model plus its processor.
type Capability interface {
	// Load acquires the model. It is called exactly once, before any Generate.
	Load(ctx context.Context) error
	// Generate renders msgs with the model's chat template and runs generation.
	// The returned sequence may echo the prompt; see Sequence.PromptLen.
	Generate(ctx context.Context, msgs []Message, opts Options) (Sequence, error)
	// Decode turns tokens back into text.
	Decode(tokens []Token, skipSpecial bool) (string, error)
	// Memory reads accelerator memory at call time.
	Memory(ctx context.Context) (MemoryStats, error)
	// Device names where the weights live, e.g. "cuda:0".
	Device() string
	// Close releases the runtime.
	Close() error
}

// PartType discriminates multimodal content parts.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// Part is one element of a multimodal message.
type Part struct {
	Type  PartType
	Text  string
	Image image.Image
}

// Message is one chat turn. Plain chat turns carry Content verbatim from the
// client; multimodal turns carry Parts instead.
type Message struct {
	Role    string
	Content types.RawContent
	Parts   []Part
	// Extra carries any other client fields (e.g. "name") to the runtime.
	Extra map[string]json.RawMessage
}

// Text returns a flattened textual view of the message.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content.Text()
	}
	var b strings.Builder
	for i, p := range m.Parts {
		if i > 0 {
			b.WriteByte('\n')
		}
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// HasImage reports whether any part is an image.
func (m Message) HasImage() bool {
	for _, p := range m.Parts {
		if p.Type == PartImage {
			return true
		}
	}
	return false
}

// Options are the generation parameters the shell controls.
type Options struct {
	MaxTokens   int
	Temperature float64
	// Sample enables stochastic sampling. When false decoding is greedy.
	Sample bool
}

// Token is one generated unit.
type Token struct {
	ID      int
	Piece   string
	Special bool
}

// Sequence is the raw generation output.
type Sequence struct {
	// PromptLen is the number of leading tokens that echo the prompt.
	PromptLen int
	Tokens    []Token
}

// Completion returns the tokens after the echoed prompt.
func (s Sequence) Completion() []Token {
	if s.PromptLen <= 0 {
		return s.Tokens
	}
	if s.PromptLen >= len(s.Tokens) {
		return nil
	}
	return s.Tokens[s.PromptLen:]
}

// MemoryStats is accelerator memory in bytes.
type MemoryStats struct {
	AllocatedBytes uint64
	ReservedBytes  uint64
	TotalBytes     uint64
}

// specialRe matches chat-template control tokens such as <|im_end|>.
var specialRe = regexp.MustCompile(`<\|[^|<>]*\|>`)

// isSpecial reports whether piece consists of exactly one control token.
func isSpecial(piece string) bool {
	loc := specialRe.FindStringIndex(piece)
	return loc != nil && loc[0] == 0 && loc[1] == len(piece)
}

// decodePieces concatenates token pieces, optionally dropping control tokens.
func decodePieces(tokens []Token, skipSpecial bool) string {
	var b strings.Builder
	for _, t := range tokens {
		if skipSpecial && t.Special {
			continue
		}
		b.WriteString(t.Piece)
	}
	if !skipSpecial {
		return b.String()
	}
	return specialRe.ReplaceAllString(b.String(), "")
}
