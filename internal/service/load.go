package service

import (
	"context"
	"time"

	"shizhend/internal/modelcache"
)

// Load prepares the model cache and loads the capability. Only the first call
// does any work; later calls return its result.
func (s *Service) Load(ctx context.Context) error {
	s.loadOnce.Do(func() {
		s.loadErr = s.load(ctx)
	})
	return s.loadErr
}

// LoadErr returns the error of the completed Load, if any.
func (s *Service) LoadErr() error { return s.loadErr }

func (s *Service) load(ctx context.Context) error {
	start := s.cfg.Now()
	s.pub.Publish(Event{Name: EventLoadStart, ModelID: s.cfg.ModelName})
	s.log.Info().Str("model", s.cfg.ModelName).Str("cache_dir", s.cfg.CacheDir).Msg("loading model")

	fail := func(err error) error {
		s.pub.Publish(Event{Name: EventLoadFailed, ModelID: s.cfg.ModelName, Fields: map[string]any{"error": err.Error()}})
		s.log.Error().Err(err).Str("model", s.cfg.ModelName).Msg("model load failed")
		return err
	}
	if s.cfg.CacheDir != "" {
		dir, err := modelcache.Prepare(s.cfg.CacheDir)
		if err != nil {
			return fail(err)
		}
		s.log.Debug().Str("dir", dir).Strs("env", modelcache.EnvVars).Msg("model cache prepared")
	}
	if err := s.cap.Load(ctx); err != nil {
		return fail(err)
	}
	s.ready.Store(true)
	modelLoaded.Set(1)
	dur := s.cfg.Now().Sub(start)
	s.pub.Publish(Event{Name: EventLoadReady, ModelID: s.cfg.ModelName, Fields: map[string]any{"duration": dur}})
	s.log.Info().Str("model", s.cfg.ModelName).Str("device", s.cap.Device()).Dur("dur", dur).Msg("model loaded")
	return nil
}

// elapsed is never negative even if the clock steps backwards.
func elapsed(start, end time.Time) time.Duration {
	if d := end.Sub(start); d > 0 {
		return d
	}
	return 0
}
