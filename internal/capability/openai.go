package capability

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"shizhend/internal/gpu"
	"shizhend/internal/vision"
)

// OpenAIConfig parameterizes an OpenAI-compatible runtime backend.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	// ServedModel is the model name the runtime expects. When empty the first
	// entry of the runtime's /v1/models listing is used.
	ServedModel    string
	Device         int
	ReadyTimeout   time.Duration
	ConnectTimeout time.Duration
	PollInterval   time.Duration
	Prober         gpu.Prober
	Logger         zerolog.Logger
}

// OpenAI implements Capability against a runtime exposing /v1/models and
// /v1/chat/completions.
type OpenAI struct {
	cfg        OpenAIConfig
	httpClient *http.Client
	log        zerolog.Logger

	mu    sync.RWMutex
	model string
}

// NewOpenAI constructs a server-backed capability.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// Timeout=0: generation may legitimately run for minutes; callers bound
	// work through their contexts.
	cli := &http.Client{Transport: tr, Timeout: 0}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &OpenAI{cfg: cfg, httpClient: cli, log: cfg.Logger, model: cfg.ServedModel}
}

type modelsListResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Load waits until the runtime answers GET /v1/models.
func (a *OpenAI) Load(ctx context.Context) error {
	return a.waitReady(ctx, nil)
}

// waitReady polls /v1/models until it succeeds, ctx ends, the ready timeout
// elapses or abort delivers (spawn mode early exit).
func (a *OpenAI) waitReady(ctx context.Context, abort <-chan error) error {
	if a.cfg.ReadyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.ReadyTimeout)
		defer cancel()
	}
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()
	attempts := 0
	for {
		attempts++
		id, err := a.probeModels(ctx)
		if err == nil {
			a.mu.Lock()
			if a.model == "" {
				a.model = id
			}
			served := a.model
			a.mu.Unlock()
			a.log.Info().Str("url", a.cfg.BaseURL).Str("served_model", served).Int("attempts", attempts).Msg("runtime ready")
			return nil
		}
		a.log.Debug().Err(err).Int("attempt", attempts).Msg("runtime not ready")
		select {
		case <-ctx.Done():
			return fmt.Errorf("runtime not ready at %s: %w (last error: %v)", a.cfg.BaseURL, ctx.Err(), err)
		case aerr := <-abort:
			return aerr
		case <-ticker.C:
		}
	}
}

func (a *OpenAI) probeModels(ctx context.Context) (string, error) {
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(pctx, http.MethodGet, a.cfg.BaseURL+"/v1/models", nil)
	if err != nil {
		return "", err
	}
	a.authorize(req)
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("models: %s", resp.Status)
	}
	var list modelsListResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&list); err != nil {
		return "", fmt.Errorf("models: decode: %w", err)
	}
	if len(list.Data) == 0 {
		return "", errors.New("models: runtime lists no models")
	}
	return list.Data[0].ID, nil
}

func (a *OpenAI) authorize(req *http.Request) {
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}
}

// ServedModel returns the model name sent to the runtime.
func (a *OpenAI) ServedModel() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.model
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
	// Keep control tokens in the stream so Decode decides what to drop.
	SkipSpecialTokens bool `json:"skip_special_tokens"`
}

type chatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	// Extra holds client fields such as "name", forwarded untouched.
	Extra map[string]json.RawMessage `json:"-"`
}

// MarshalJSON writes role and content over any extra fields.
func (m chatMessage) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(m.Extra)+2)
	for k, v := range m.Extra {
		out[k] = v
	}
	role, err := json.Marshal(m.Role)
	if err != nil {
		return nil, err
	}
	out["role"] = role
	out["content"] = m.Content
	return json.Marshal(out)
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatStreamChunk struct {
	// vLLM reports mid-stream failures as {"object":"error","message":...};
	// llama-server and others use {"error":{"message":...}}.
	Object  string          `json:"object"`
	Message string          `json:"message"`
	Error   json.RawMessage `json:"error"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// streamError returns the failure carried by an error chunk, or "".
func (c chatStreamChunk) streamError() string {
	if len(c.Error) > 0 && string(c.Error) != "null" {
		var e struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(c.Error, &e) == nil && e.Message != "" {
			return e.Message
		}
		var msg string
		if json.Unmarshal(c.Error, &msg) == nil && msg != "" {
			return msg
		}
		return string(c.Error)
	}
	if c.Object == "error" {
		if c.Message != "" {
			return c.Message
		}
		return "unknown error"
	}
	return ""
}

// toWire converts messages into the OpenAI chat payload. Plain turns keep the
// client's content bytes; multimodal turns become content-part arrays.
func toWire(msgs []Message) ([]chatMessage, error) {
	out := make([]chatMessage, 0, len(msgs))
	for _, m := range msgs {
		if len(m.Parts) == 0 {
			content := json.RawMessage(m.Content)
			if len(content) == 0 {
				content = json.RawMessage(`""`)
			}
			out = append(out, chatMessage{Role: m.Role, Content: content, Extra: m.Extra})
			continue
		}
		parts := make([]contentPart, 0, len(m.Parts))
		for _, p := range m.Parts {
			switch p.Type {
			case PartImage:
				uri, err := vision.DataURI(p.Image)
				if err != nil {
					return nil, err
				}
				parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: uri}})
			default:
				parts = append(parts, contentPart{Type: "text", Text: p.Text})
			}
		}
		b, err := json.Marshal(parts)
		if err != nil {
			return nil, err
		}
		out = append(out, chatMessage{Role: m.Role, Content: b, Extra: m.Extra})
	}
	return out, nil
}

// Generate streams a chat completion and returns its fragments as tokens. The
// runtime does not echo the prompt, so PromptLen is always 0.
func (a *OpenAI) Generate(ctx context.Context, msgs []Message, opts Options) (Sequence, error) {
	wire, err := toWire(msgs)
	if err != nil {
		return Sequence{}, err
	}
	temp := opts.Temperature
	if !opts.Sample {
		temp = 0
	}
	payload := chatRequest{
		Model:       a.ServedModel(),
		Messages:    wire,
		MaxTokens:   opts.MaxTokens,
		Temperature: temp,
		Stream:      true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Sequence{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Sequence{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	a.authorize(req)
	resp, err := a.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Sequence{}, ctx.Err()
		}
		return Sequence{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Sequence{}, fmt.Errorf("runtime http error: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	return a.readStream(ctx, resp.Body)
}

// readStream parses Server-Sent Events lines of the form "data: {...}".
func (a *OpenAI) readStream(ctx context.Context, body io.Reader) (Sequence, error) {
	r := bufio.NewReader(body)
	var seq Sequence
	for {
		line, err := r.ReadString('\n')
		if l := strings.TrimSpace(line); l != "" && strings.HasPrefix(strings.ToLower(l), "data:") {
			data := strings.TrimSpace(l[len("data:"):])
			if data == "[DONE]" {
				break
			}
			var chunk chatStreamChunk
			if e := json.Unmarshal([]byte(data), &chunk); e != nil {
				a.log.Warn().Str("line", l).Msg("unparseable stream line")
			} else if msg := chunk.streamError(); msg != "" {
				return Sequence{}, fmt.Errorf("runtime stream error: %s", msg)
			} else if len(chunk.Choices) > 0 {
				if frag := chunk.Choices[0].Delta.Content; frag != "" {
					seq.Tokens = append(seq.Tokens, Token{ID: -1, Piece: frag, Special: isSpecial(frag)})
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				return seq, ctx.Err()
			}
			return seq, err
		}
	}
	return seq, nil
}

// Decode concatenates streamed fragments.
func (a *OpenAI) Decode(tokens []Token, skipSpecial bool) (string, error) {
	return decodePieces(tokens, skipSpecial), nil
}

// Memory reads device memory through the configured prober.
func (a *OpenAI) Memory(ctx context.Context) (MemoryStats, error) {
	return probeMemory(ctx, a.cfg.Prober, a.cfg.Device)
}

// Device names the accelerator the runtime is pinned to.
func (a *OpenAI) Device() string { return gpuDevice(a.cfg.Device) }

func gpuDevice(i int) string { return fmt.Sprintf("cuda:%d", i) }

// Close is a no-op; the runtime is owned elsewhere.
func (a *OpenAI) Close() error { return nil }

// probeMemory maps a driver-level reading onto MemoryStats. The driver does
// not distinguish allocator reservations, so reserved equals used.
func probeMemory(ctx context.Context, p gpu.Prober, device int) (MemoryStats, error) {
	if p == nil {
		return MemoryStats{}, ErrDependencyUnavailable("no gpu prober configured")
	}
	m, err := p.Probe(ctx, device)
	if err != nil {
		return MemoryStats{}, err
	}
	return MemoryStats{AllocatedBytes: m.UsedBytes, ReservedBytes: m.UsedBytes, TotalBytes: m.TotalBytes}, nil
}
