package capability

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// stubVocab is the reply vocabulary of the stub model.
var stubVocab = []string{
	"舌", "淡", "红", "苔", "薄", "白", "黄", "腻", "脾", "虚",
	"湿", "气", "血", "阳", "阴", "寒", "热", "宜", "温", "补",
}

const (
	stubVocabBase = 1000
	stubEOS       = "<|im_end|>"
)

// StubCall records one Generate invocation.
type StubCall struct {
	Messages []Message
	Options  Options
}

// Stub is a deterministic in-memory model. Greedy output is a pure function of
// the rendered prompt; sampled output additionally mixes in a per-call seed.
// The returned sequence echoes the prompt tokens like a causal LM does.
type Stub struct {
	// Failure injection and fixtures. Set before Load.
	LoadErr     error
	LoadDelay   time.Duration
	GenerateErr error
	DecodeErr   error
	Mem         MemoryStats
	MemErr      error
	Dev         string
	// Hook runs inside Generate, e.g. to block or count concurrency.
	Hook func(ctx context.Context)

	loaded atomic.Bool
	seed   atomic.Uint64
	mu     sync.Mutex
	calls  []StubCall
}

// NewStub returns a stub reporting device "cpu".
func NewStub() *Stub { return &Stub{Dev: "cpu"} }

// Load honors LoadDelay and returns LoadErr.
func (s *Stub) Load(ctx context.Context) error {
	if s.LoadDelay > 0 {
		select {
		case <-time.After(s.LoadDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.LoadErr != nil {
		return s.LoadErr
	}
	s.loaded.Store(true)
	return nil
}

// Loaded reports whether Load succeeded.
func (s *Stub) Loaded() bool { return s.loaded.Load() }

// Calls returns a copy of the recorded Generate invocations.
func (s *Stub) Calls() []StubCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StubCall, len(s.calls))
	copy(out, s.calls)
	return out
}

// Render applies a ChatML-style template, the format Qwen-family models use.
func (s *Stub) Render(msgs []Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString("<|im_start|> ")
		b.WriteString(m.Role)
		b.WriteByte(' ')
		if len(m.Parts) == 0 {
			b.WriteString(m.Content.Text())
		}
		for _, p := range m.Parts {
			if p.Type == PartImage && p.Image != nil {
				r := p.Image.Bounds()
				fmt.Fprintf(&b, "<|vision_start|> %dx%d <|vision_end|> ", r.Dx(), r.Dy())
				continue
			}
			b.WriteString(p.Text)
			b.WriteByte(' ')
		}
		b.WriteString(" <|im_end|> ")
	}
	b.WriteString("<|im_start|> assistant")
	return b.String()
}

func (s *Stub) tokenize(text string) []Token {
	fields := strings.Fields(text)
	out := make([]Token, 0, len(fields))
	for _, f := range fields {
		h := fnv.New32a()
		_, _ = h.Write([]byte(f))
		out = append(out, Token{ID: int(h.Sum32() % 150000), Piece: f, Special: isSpecial(f)})
	}
	return out
}

// Generate echoes the prompt tokens followed by the reply and an end token.
func (s *Stub) Generate(ctx context.Context, msgs []Message, opts Options) (Sequence, error) {
	s.mu.Lock()
	s.calls = append(s.calls, StubCall{Messages: msgs, Options: opts})
	s.mu.Unlock()
	if s.Hook != nil {
		s.Hook(ctx)
	}
	if err := ctx.Err(); err != nil {
		return Sequence{}, err
	}
	if s.GenerateErr != nil {
		return Sequence{}, s.GenerateErr
	}
	if !s.loaded.Load() {
		return Sequence{}, fmt.Errorf("stub model not loaded")
	}
	prompt := s.tokenize(s.Render(msgs))
	h := fnv.New64a()
	for _, t := range prompt {
		_, _ = h.Write([]byte(t.Piece))
	}
	seed := h.Sum64()
	if opts.Sample && opts.Temperature > 0 {
		seed ^= s.seed.Add(0x9e3779b97f4a7c15)
	}
	rng := rand.New(rand.NewPCG(seed, seed>>1|1))
	n := 8 + int(seed%8)
	if opts.MaxTokens > 0 && n > opts.MaxTokens {
		n = opts.MaxTokens
	}
	tokens := append(make([]Token, 0, len(prompt)+n+1), prompt...)
	for i := 0; i < n; i++ {
		k := rng.IntN(len(stubVocab))
		tokens = append(tokens, Token{ID: stubVocabBase + k, Piece: stubVocab[k]})
	}
	if opts.MaxTokens <= 0 || n < opts.MaxTokens {
		tokens = append(tokens, Token{ID: 151645, Piece: stubEOS, Special: true})
	}
	return Sequence{PromptLen: len(prompt), Tokens: tokens}, nil
}

// Decode concatenates pieces.
func (s *Stub) Decode(tokens []Token, skipSpecial bool) (string, error) {
	if s.DecodeErr != nil {
		return "", s.DecodeErr
	}
	return decodePieces(tokens, skipSpecial), nil
}

// Memory returns the Mem fixture.
func (s *Stub) Memory(ctx context.Context) (MemoryStats, error) {
	if s.MemErr != nil {
		return MemoryStats{}, s.MemErr
	}
	return s.Mem, nil
}

// Device returns Dev.
func (s *Stub) Device() string { return s.Dev }

// Close is a no-op.
func (s *Stub) Close() error { return nil }
