//go:build llama

package capability

// The rpath lets the loader find libllama.so next to the built binary.
/*
#cgo LDFLAGS: -Wl,-rpath,'$ORIGIN' -L${SRCDIR}/../../bin -lllama
*/
import "C"

import (
	"context"
	"errors"
	"strings"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"
	"github.com/rs/zerolog"

	"shizhend/internal/gpu"
	"shizhend/internal/weights"
)

// LlamaBuilt reports whether this binary carries the in-process runtime.
const LlamaBuilt = true

// LlamaConfig parameterizes the in-process runtime.
type LlamaConfig struct {
	ModelPath string
	Context   int
	Threads   int
	Device    int
	Prober    gpu.Prober
	Logger    zerolog.Logger
}

// Llama runs a GGUF model in-process. It handles text only.
type Llama struct {
	cfg LlamaConfig

	mu    sync.Mutex
	model *llama.LLama
}

// NewLlama constructs an in-process capability.
func NewLlama(cfg LlamaConfig) *Llama {
	if cfg.Threads <= 0 {
		cfg.Threads = 4
	}
	return &Llama{cfg: cfg}
}

// Load reads the model weights.
func (l *Llama) Load(ctx context.Context) error {
	path, err := weights.Resolve(l.cfg.ModelPath)
	if err != nil {
		return err
	}
	opts := []llama.ModelOption{}
	if l.cfg.Context > 0 {
		opts = append(opts, llama.SetContext(l.cfg.Context))
	}
	m, err := llama.New(path, opts...)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.model = m
	l.mu.Unlock()
	l.cfg.Logger.Info().Str("path", path).Int("ctx", l.cfg.Context).Msg("llama model loaded")
	return nil
}

// Generate renders a ChatML prompt and collects streamed pieces as tokens.
func (l *Llama) Generate(ctx context.Context, msgs []Message, opts Options) (Sequence, error) {
	for _, m := range msgs {
		if m.HasImage() {
			return Sequence{}, ErrDependencyUnavailable("image input is not supported by the llama backend")
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.model == nil {
		return Sequence{}, errors.New("llama model not initialized")
	}
	var seq Sequence
	l.model.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		seq.Tokens = append(seq.Tokens, Token{ID: -1, Piece: tok, Special: isSpecial(tok)})
		return true
	})
	po := []llama.PredictOption{
		llama.SetTokens(max(1, opts.MaxTokens)),
		llama.SetThreads(l.cfg.Threads),
		llama.SetStopWords("<|im_end|>"),
	}
	if opts.Sample {
		po = append(po, llama.SetTemperature(float32(opts.Temperature)))
	} else {
		po = append(po, llama.SetTemperature(0), llama.SetTopK(1))
	}
	if _, err := l.model.Predict(chatML(msgs), po...); err != nil {
		if ctx.Err() != nil {
			return Sequence{}, ctx.Err()
		}
		return Sequence{}, err
	}
	if err := ctx.Err(); err != nil {
		return Sequence{}, err
	}
	return seq, nil
}

func chatML(msgs []Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString("<|im_start|>")
		b.WriteString(m.Role)
		b.WriteByte('\n')
		b.WriteString(m.Text())
		b.WriteString("<|im_end|>\n")
	}
	b.WriteString("<|im_start|>assistant\n")
	return b.String()
}

// Decode concatenates streamed pieces.
func (l *Llama) Decode(tokens []Token, skipSpecial bool) (string, error) {
	return decodePieces(tokens, skipSpecial), nil
}

// Memory reads device memory through the configured prober.
func (l *Llama) Memory(ctx context.Context) (MemoryStats, error) {
	return probeMemory(ctx, l.cfg.Prober, l.cfg.Device)
}

// Device reports "cpu" unless a GPU prober is configured.
func (l *Llama) Device() string {
	if l.cfg.Prober == nil {
		return "cpu"
	}
	return gpuDevice(l.cfg.Device)
}

// Close frees the model.
func (l *Llama) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.model != nil {
		l.model.Free()
		l.model = nil
	}
	return nil
}
