package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"shizhend/internal/capability"
	"shizhend/internal/vision"
	"shizhend/pkg/types"
)

// VisionRequest is one image analysis call.
type VisionRequest struct {
	Image    []byte
	Filename string
	// Query defaults to the configured tongue-diagnosis prompt when empty.
	Query string
	// MaxTokens is accepted for client compatibility and never applied;
	// vision generation always uses DefaultMaxTokens.
	MaxTokens *int
}

// visionOptions are the fixed generation parameters of AnalyzeImage.
var visionOptions = capability.Options{
	MaxTokens:   DefaultMaxTokens,
	Temperature: DefaultTemperature,
	Sample:      true,
}

// chatOptions applies defaults. Sampling is enabled iff temperature > 0.
func chatOptions(req types.ChatCompletionRequest) capability.Options {
	o := capability.Options{MaxTokens: DefaultMaxTokens, Temperature: DefaultTemperature}
	if req.MaxTokens != nil {
		o.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		o.Temperature = *req.Temperature
	}
	o.Sample = o.Temperature > 0
	return o
}

// ChatCompletion runs the messages through the model and returns a single
// choice. Any pipeline failure is an Internal error.
func (s *Service) ChatCompletion(ctx context.Context, req types.ChatCompletionRequest) (types.ChatCompletionResponse, error) {
	if !s.Ready() {
		return types.ChatCompletionResponse{}, ErrNotReady
	}
	msgs := make([]capability.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = capability.Message{Role: m.Role, Content: m.Content, Extra: m.Extra}
	}
	text, _, err := s.generate(ctx, endpointChat, msgs, chatOptions(req))
	if err != nil {
		return types.ChatCompletionResponse{}, ErrInternal("Inference error", err)
	}
	return types.ChatCompletionResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: s.cfg.Now().Unix(),
		Model:   s.cfg.ModelName,
		Choices: []types.ChatCompletionChoice{{
			Index:        0,
			Message:      types.ChatCompletionMessage{Role: "assistant", Content: text},
			FinishReason: "stop",
		}},
	}, nil
}

// AnalyzeImage interprets an image with the vision query. A missing image is
// rejected before readiness is checked.
func (s *Service) AnalyzeImage(ctx context.Context, req VisionRequest) (types.VisionAnalysisResponse, error) {
	if len(req.Image) == 0 {
		return types.VisionAnalysisResponse{}, ErrBadInput(MsgNoImage)
	}
	if !s.Ready() {
		return types.VisionAnalysisResponse{}, ErrNotReady
	}
	if req.MaxTokens != nil {
		s.log.Debug().Int("requested", *req.MaxTokens).Int("applied", visionOptions.MaxTokens).Msg("vision max_tokens ignored")
	}
	img, err := vision.Decode(req.Image)
	if err != nil {
		inferenceErrors.WithLabelValues(endpointVision).Inc()
		return types.VisionAnalysisResponse{}, ErrInternal("Vision analysis error", err)
	}
	query := req.Query
	if query == "" {
		query = s.cfg.VisionQuery
	}
	msg := capability.Message{Role: "user", Parts: []capability.Part{
		{Type: capability.PartImage, Image: img.Image},
		{Type: capability.PartText, Text: query},
	}}
	s.log.Debug().Str("file", req.Filename).Str("format", img.Format).Int("w", img.Width()).Int("h", img.Height()).Msg("vision input")

	text, dur, err := s.generate(ctx, endpointVision, []capability.Message{msg}, visionOptions)
	if err != nil {
		return types.VisionAnalysisResponse{}, ErrInternal("Vision analysis error", err)
	}
	return types.VisionAnalysisResponse{
		Diagnosis:             text,
		Success:               true,
		Model:                 s.cfg.ModelName,
		ProcessingTimeSeconds: round2(dur.Seconds()),
	}, nil
}

// generate holds the inference slot for one Generate+Decode round and returns
// the decoded completion with the time spent inside the capability.
func (s *Service) generate(ctx context.Context, endpoint string, msgs []capability.Message, opts capability.Options) (string, time.Duration, error) {
	if err := s.slot.Acquire(ctx, 1); err != nil {
		inferenceErrors.WithLabelValues(endpoint).Inc()
		return "", 0, err
	}
	defer s.slot.Release(1)

	s.pub.Publish(Event{Name: EventInferStart, ModelID: s.cfg.ModelName, Fields: map[string]any{"endpoint": endpoint}})
	start := s.cfg.Now()
	text, err := s.generateLocked(ctx, msgs, opts)
	dur := elapsed(start, s.cfg.Now())
	inferenceDuration.WithLabelValues(endpoint).Observe(dur.Seconds())
	if err != nil {
		inferenceErrors.WithLabelValues(endpoint).Inc()
		s.pub.Publish(Event{Name: EventInferError, ModelID: s.cfg.ModelName, Fields: map[string]any{"endpoint": endpoint, "error": err.Error()}})
		s.log.Error().Err(err).Str("endpoint", endpoint).Dur("dur", dur).Msg("inference failed")
		return "", dur, err
	}
	s.pub.Publish(Event{Name: EventInferDone, ModelID: s.cfg.ModelName, Fields: map[string]any{"endpoint": endpoint, "duration": dur}})
	s.log.Info().Str("endpoint", endpoint).Int("max_tokens", opts.MaxTokens).Float64("temperature", opts.Temperature).Dur("dur", dur).Msg("inference done")
	return text, dur, nil
}

func (s *Service) generateLocked(ctx context.Context, msgs []capability.Message, opts capability.Options) (string, error) {
	seq, err := s.cap.Generate(ctx, msgs, opts)
	if err != nil {
		return "", err
	}
	return s.cap.Decode(seq.Completion(), true)
}
