package capability

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"shizhend/internal/common/fsutil"
	"shizhend/internal/config"
	"shizhend/internal/gpu"
	"shizhend/internal/modelcache"
	"shizhend/internal/weights"
)

// FromConfig builds the backend selected by cfg.Runtime.Backend. Nothing is
// started or contacted until Load.
func FromConfig(cfg config.Config, log zerolog.Logger) (Capability, error) {
	rt := cfg.Runtime
	oc := OpenAIConfig{
		BaseURL:      rt.BaseURL,
		APIKey:       rt.APIKey,
		ServedModel:  rt.ServedModel,
		Device:       cfg.Model.Device,
		ReadyTimeout: rt.ReadyTimeout(),
		Prober:       gpu.NewSMI(""),
		Logger:       log.With().Str("backend", rt.Backend).Logger(),
	}
	switch rt.Backend {
	case config.BackendOpenAI:
		return NewOpenAI(oc), nil
	case config.BackendSpawn:
		cache, err := fsutil.ExpandHome(cfg.Model.CacheDir)
		if err != nil {
			return nil, err
		}
		if abs, err := filepath.Abs(cache); err == nil {
			cache = abs
		}
		model := cfg.Model.Repo
		if rt.LlamaModelPath != "" {
			if model, err = weights.Resolve(rt.LlamaModelPath); err != nil {
				return nil, err
			}
		}
		return NewSpawn(SpawnConfig{
			Command:     rt.Command,
			Args:        rt.Args,
			Host:        rt.Host,
			Port:        rt.Port,
			Env:         modelcache.Environ(cache),
			Model:       model,
			CacheDir:    cache,
			MaxMemoryGB: cfg.Model.MaxMemoryGB,
			OpenAI:      oc,
		}), nil
	case config.BackendLlama:
		return NewLlama(LlamaConfig{
			ModelPath: rt.LlamaModelPath,
			Context:   rt.LlamaContext,
			Threads:   rt.LlamaThreads,
			Device:    cfg.Model.Device,
			Prober:    oc.Prober,
			Logger:    oc.Logger,
		}), nil
	case config.BackendStub:
		return NewStub(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", rt.Backend)
	}
}
