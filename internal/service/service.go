package service

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"shizhend/internal/capability"
	"shizhend/pkg/types"
)

// Generation defaults applied when a request leaves them unset.
const (
	DefaultMaxTokens   = 2048
	DefaultTemperature = 0.7
)

// Config carries the static model description and collaborators.
type Config struct {
	ModelName   string
	OwnedBy     string
	ServiceName string
	// CacheDir is prepared and exported to the environment before Load.
	CacheDir    string
	VisionQuery string
	Publisher   EventPublisher
	Logger      zerolog.Logger
	// Now is used for completion timestamps and timings.
	Now func() time.Time
}

// Service is the process-wide model handle. The capability is fixed at
// construction; readiness flips once, after a successful Load.
type Service struct {
	cfg Config
	cap capability.Capability
	log zerolog.Logger
	pub EventPublisher

	ready    atomic.Bool
	loadOnce sync.Once
	loadErr  error

	// One generation at a time on the single accelerator.
	slot *semaphore.Weighted
}

// New constructs a Service around c. Nothing is loaded until Load.
func New(c capability.Capability, cfg Config) *Service {
	if cfg.Publisher == nil {
		cfg.Publisher = noopPublisher{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = cfg.ModelName + " API"
	}
	return &Service{
		cfg:  cfg,
		cap:  c,
		log:  cfg.Logger,
		pub:  cfg.Publisher,
		slot: semaphore.NewWeighted(1),
	}
}

// Ready reports whether the model finished loading successfully.
func (s *Service) Ready() bool { return s.ready.Load() }

// ModelName is the public identifier of the served model.
func (s *Service) ModelName() string { return s.cfg.ModelName }

// Root never fails, regardless of readiness.
func (s *Service) Root() types.RootResponse {
	return types.RootResponse{
		Service:     s.cfg.ServiceName,
		Status:      "running",
		ModelLoaded: s.Ready(),
	}
}

// ListModels returns no entries until ready, then exactly one.
func (s *Service) ListModels() types.ModelsResponse {
	if !s.Ready() {
		return types.ModelsResponse{Data: []types.Model{}}
	}
	return types.ModelsResponse{Data: []types.Model{{
		ID:         s.cfg.ModelName,
		Object:     "model",
		OwnedBy:    s.cfg.OwnedBy,
		Permission: []string{},
	}}}
}

// Health reads accelerator memory live from the capability.
func (s *Service) Health(ctx context.Context) (types.HealthResponse, error) {
	if !s.Ready() {
		return types.HealthResponse{}, ErrNotReady
	}
	m, err := s.cap.Memory(ctx)
	if err != nil {
		return types.HealthResponse{}, ErrInternal("Health check error", err)
	}
	vramBytes.WithLabelValues("allocated").Set(float64(m.AllocatedBytes))
	vramBytes.WithLabelValues("reserved").Set(float64(m.ReservedBytes))
	vramBytes.WithLabelValues("total").Set(float64(m.TotalBytes))
	return types.HealthResponse{
		Status:      "healthy",
		ModelLoaded: true,
		ModelName:   s.cfg.ModelName,
		Device:      s.cap.Device(),
		VRAM:        VRAMFromBytes(m),
	}, nil
}

// VRAMFromBytes converts byte counts to decimal gigabytes rounded to two
// places. Utilization uses the unrounded values and is 0 when total is 0.
func VRAMFromBytes(m capability.MemoryStats) types.VRAMStats {
	v := types.VRAMStats{
		AllocatedGB: round2(float64(m.AllocatedBytes) / 1e9),
		ReservedGB:  round2(float64(m.ReservedBytes) / 1e9),
		TotalGB:     round2(float64(m.TotalBytes) / 1e9),
	}
	if m.TotalBytes > 0 {
		v.UtilizationPercent = round2(float64(m.AllocatedBytes) / float64(m.TotalBytes) * 100)
	}
	return v
}

func round2(f float64) float64 { return math.Round(f*100) / 100 }

// Close releases the capability.
func (s *Service) Close() error {
	s.ready.Store(false)
	modelLoaded.Set(0)
	return s.cap.Close()
}
