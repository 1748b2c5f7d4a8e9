package capability

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"text/template"
	"time"

	"github.com/rs/zerolog"
)

// SpawnConfig describes how to start the model runtime as a child process.
type SpawnConfig struct {
	Command string
	// Args are text/template strings rendered with SpawnArgs.
	Args []string
	Host string
	// Port 0 picks a free port.
	Port int
	// Env is appended to the inherited environment.
	Env         []string
	Model       string
	CacheDir    string
	MaxMemoryGB float64
	StopGrace   time.Duration
	OpenAI      OpenAIConfig
}

// SpawnArgs is the data available to argument templates.
type SpawnArgs struct {
	Host        string
	Port        int
	Model       string
	CacheDir    string
	MaxMemoryGB float64
	// MemoryFraction is MaxMemoryGB over device total, formatted for
	// --gpu-memory-utilization style flags.
	MemoryFraction string
}

// Spawn starts the runtime process on Load and proxies to it over HTTP.
type Spawn struct {
	*OpenAI
	cfg SpawnConfig
	log zerolog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stderr  *tailBuffer
	done    chan struct{}
	exitErr error
}

// NewSpawn constructs a subprocess-backed capability.
func NewSpawn(cfg SpawnConfig) *Spawn {
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 10 * time.Second
	}
	return &Spawn{cfg: cfg, log: cfg.OpenAI.Logger}
}

// Load starts the process and waits until it serves /v1/models. An early exit
// fails the load with the tail of the process's stderr.
func (s *Spawn) Load(ctx context.Context) error {
	port := s.cfg.Port
	if port == 0 {
		p, err := pickFreePort(s.cfg.Host)
		if err != nil {
			return err
		}
		port = p
	}
	data := SpawnArgs{
		Host:           s.cfg.Host,
		Port:           port,
		Model:          s.cfg.Model,
		CacheDir:       s.cfg.CacheDir,
		MaxMemoryGB:    s.cfg.MaxMemoryGB,
		MemoryFraction: s.memoryFraction(ctx),
	}
	args, err := renderArgs(s.cfg.Args, data)
	if err != nil {
		return err
	}
	oc := s.cfg.OpenAI
	oc.BaseURL = fmt.Sprintf("http://%s:%d", s.cfg.Host, port)
	s.OpenAI = NewOpenAI(oc)

	cmd := exec.Command(s.cfg.Command, args...)
	cmd.Env = append(os.Environ(), s.cfg.Env...)
	tail := &tailBuffer{max: 4096}
	cmd.Stderr = tail
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start runtime: %w", err)
	}
	done := make(chan struct{})
	s.mu.Lock()
	s.cmd, s.stderr, s.done = cmd, tail, done
	s.mu.Unlock()
	s.log.Info().Str("command", s.cfg.Command).Strs("args", args).Int("pid", cmd.Process.Pid).Int("port", port).Msg("runtime started")

	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		s.exitErr = err
		s.mu.Unlock()
		close(done)
		s.log.Info().Int("pid", cmd.Process.Pid).AnErr("exit", err).Msg("runtime exited")
	}()

	abort := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-done:
			s.mu.Lock()
			werr := s.exitErr
			s.mu.Unlock()
			if werr == nil {
				abort <- fmt.Errorf("runtime exited before ready; stderr tail: %s", tail.String())
				return
			}
			abort <- fmt.Errorf("runtime exited early: %v; stderr tail: %s", werr, tail.String())
		case <-stop:
		}
	}()

	if err := s.OpenAI.waitReady(ctx, abort); err != nil {
		_ = s.Close()
		return err
	}
	return nil
}

func (s *Spawn) memoryFraction(ctx context.Context) string {
	const fallback = "0.90"
	if s.cfg.MaxMemoryGB <= 0 || s.cfg.OpenAI.Prober == nil {
		return fallback
	}
	m, err := s.cfg.OpenAI.Prober.Probe(ctx, s.cfg.OpenAI.Device)
	if err != nil || m.TotalBytes == 0 {
		s.log.Warn().Err(err).Msg("cannot read device total; using default memory fraction")
		return fallback
	}
	f := s.cfg.MaxMemoryGB * 1e9 / float64(m.TotalBytes)
	if f > 1 {
		f = 1
	}
	return strconv.FormatFloat(f, 'f', 2, 64)
}

// Memory delegates to the embedded client once the process is up.
func (s *Spawn) Memory(ctx context.Context) (MemoryStats, error) {
	return probeMemory(ctx, s.cfg.OpenAI.Prober, s.cfg.OpenAI.Device)
}

// Device names the accelerator the runtime is pinned to.
func (s *Spawn) Device() string { return gpuDevice(s.cfg.OpenAI.Device) }

// Generate fails until Load has started the process.
func (s *Spawn) Generate(ctx context.Context, msgs []Message, opts Options) (Sequence, error) {
	if s.OpenAI == nil {
		return Sequence{}, ErrDependencyUnavailable("runtime process not started")
	}
	return s.OpenAI.Generate(ctx, msgs, opts)
}

// PID returns the child process id, or 0 when not running.
func (s *Spawn) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Close terminates the process: SIGTERM first, SIGKILL after StopGrace.
func (s *Spawn) Close() error {
	s.mu.Lock()
	cmd, done := s.cmd, s.done
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	default:
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-done:
	case <-time.After(s.cfg.StopGrace):
		_ = cmd.Process.Kill()
		<-done
	}
	return nil
}

func renderArgs(tmpls []string, data SpawnArgs) ([]string, error) {
	out := make([]string, 0, len(tmpls))
	for i, raw := range tmpls {
		t, err := template.New(fmt.Sprintf("arg%d", i)).Option("missingkey=error").Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("runtime arg %d: %w", i, err)
		}
		var b bytes.Buffer
		if err := t.Execute(&b, data); err != nil {
			return nil, fmt.Errorf("runtime arg %d: %w", i, err)
		}
		out = append(out, b.String())
	}
	return out, nil
}

func pickFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	_, p, err := net.SplitHostPort(l.Addr().String())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(p)
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
