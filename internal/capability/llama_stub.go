//go:build !llama

package capability

import (
	"context"

	"github.com/rs/zerolog"

	"shizhend/internal/gpu"
)

// LlamaBuilt reports whether this binary carries the in-process runtime.
const LlamaBuilt = false

const llamaMissing = "llama support not built (missing 'llama' build tag)"

// LlamaConfig parameterizes the in-process runtime.
type LlamaConfig struct {
	ModelPath string
	Context   int
	Threads   int
	Device    int
	Prober    gpu.Prober
	Logger    zerolog.Logger
}

// Llama fails every call in builds without the llama tag.
type Llama struct{ cfg LlamaConfig }

func NewLlama(cfg LlamaConfig) *Llama { return &Llama{cfg: cfg} }

func (l *Llama) Load(ctx context.Context) error {
	return ErrDependencyUnavailable(llamaMissing)
}

func (l *Llama) Generate(ctx context.Context, msgs []Message, opts Options) (Sequence, error) {
	if err := ctx.Err(); err != nil {
		return Sequence{}, err
	}
	return Sequence{}, ErrDependencyUnavailable(llamaMissing)
}

func (l *Llama) Decode(tokens []Token, skipSpecial bool) (string, error) {
	return decodePieces(tokens, skipSpecial), nil
}

func (l *Llama) Memory(ctx context.Context) (MemoryStats, error) {
	return MemoryStats{}, ErrDependencyUnavailable(llamaMissing)
}

func (l *Llama) Device() string { return "cpu" }

func (l *Llama) Close() error { return nil }
