package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"shizhend/internal/service"
	"shizhend/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Ready() bool
	Root() types.RootResponse
	Health(ctx context.Context) (types.HealthResponse, error)
	ListModels() types.ModelsResponse
	ChatCompletion(ctx context.Context, req types.ChatCompletionRequest) (types.ChatCompletionResponse, error)
	AnalyzeImage(ctx context.Context, req service.VisionRequest) (types.VisionAnalysisResponse, error)
}

// multipartMemory is how much of a multipart form is buffered in memory
// before spilling to temporary files.
const multipartMemory = 8 << 20

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(corsOptions()))
	}

	h := &handlers{svc: svc}
	r.Get("/", h.root)
	r.Get("/health", h.health)
	r.Get("/v1/models", h.models)
	r.Post("/v1/chat/completions", h.chatCompletions)
	r.Post("/v1/vision/analyze", h.visionAnalyze)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

func corsOptions() cors.Options {
	methods := corsAllowedMethods
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	}
	headers := corsAllowedHeaders
	if len(headers) == 0 {
		headers = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   methods,
		AllowedHeaders:   headers,
		AllowCredentials: false,
		MaxAge:           300,
	}
}

type handlers struct {
	svc Service
}

// root godoc
// @Summary      Service banner
// @Tags         health
// @Produce      json
// @Success      200  {object}  types.RootResponse
// @Router       / [get]
func (h *handlers) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Root())
}

// health godoc
// @Summary      Model health and accelerator memory
// @Tags         health
// @Produce      json
// @Success      200  {object}  types.HealthResponse
// @Failure      503  {object}  types.ErrorResponse
// @Failure      500  {object}  types.ErrorResponse
// @Router       /health [get]
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.Health(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// models godoc
// @Summary      List the served model
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.ModelsResponse
// @Router       /v1/models [get]
func (h *handlers) models(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.ListModels())
}

// chatCompletions godoc
// @Summary      OpenAI-style chat completion
// @Tags         inference
// @Accept       json
// @Produce      json
// @Param        request  body      types.ChatCompletionRequest  true  "Chat request"
// @Success      200      {object}  types.ChatCompletionResponse
// @Failure      400      {object}  types.ErrorResponse
// @Failure      415      {object}  types.ErrorResponse
// @Failure      500      {object}  types.ErrorResponse
// @Failure      503      {object}  types.ErrorResponse
// @Router       /v1/chat/completions [post]
func (h *handlers) chatCompletions(w http.ResponseWriter, r *http.Request) {
	// Content-Type check
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}
	// Limit body size (configurable, default 1MiB)
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req types.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// If exceeded size, MaxBytesReader may cause an error; still return 400 to avoid size leak details
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Messages == nil {
		writeJSONError(w, http.StatusBadRequest, "messages is required")
		return
	}

	start := time.Now()
	lvl := requestLogLevel(r)
	ctx, cancel := inferenceContext(r)
	defer cancel()
	resp, err := h.svc.ChatCompletion(ctx, req)
	if err != nil {
		if clientGone(r) {
			return
		}
		status := writeServiceError(w, err)
		logInference(r, lvl, status, start, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	logInference(r, lvl, http.StatusOK, start, nil, func(z *zerolog.Event) *zerolog.Event {
		return z.Int("messages", len(req.Messages)).Str("completion", resp.Choices[0].Message.Content)
	})
}

// visionAnalyze godoc
// @Summary      Traditional Chinese Medicine reading of an image
// @Tags         inference
// @Accept       multipart/form-data
// @Produce      json
// @Param        image       formData  file    true   "Image (jpeg, png, gif, webp, bmp, tiff)"
// @Param        query       formData  string  false  "Question about the image"
// @Param        max_tokens  formData  int     false  "Accepted for compatibility; generation always uses 2048"
// @Success      200  {object}  types.VisionAnalysisResponse
// @Failure      400  {object}  types.ErrorResponse
// @Failure      413  {object}  types.ErrorResponse
// @Failure      500  {object}  types.ErrorResponse
// @Failure      503  {object}  types.ErrorResponse
// @Router       /v1/vision/analyze [post]
func (h *handlers) visionAnalyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	req, err := readVisionForm(r)
	if err != nil {
		if isTooLarge(err) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "upload exceeds "+strconv.FormatInt(maxUploadBytes, 10)+" bytes")
			return
		}
		writeServiceError(w, err)
		return
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	start := time.Now()
	lvl := requestLogLevel(r)
	ctx, cancel := inferenceContext(r)
	defer cancel()
	resp, err := h.svc.AnalyzeImage(ctx, req)
	if err != nil {
		if clientGone(r) {
			return
		}
		status := writeServiceError(w, err)
		logInference(r, lvl, status, start, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	logInference(r, lvl, http.StatusOK, start, nil, func(z *zerolog.Event) *zerolog.Event {
		return z.Str("file", req.Filename).Int("bytes", len(req.Image)).Float64("processing_time_seconds", resp.ProcessingTimeSeconds)
	})
}

// readVisionForm extracts the vision fields. A request that is not multipart
// or lacks the image part yields an empty Image so the service reports it.
func readVisionForm(r *http.Request) (service.VisionRequest, error) {
	var req service.VisionRequest
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt != "multipart/form-data" {
		return req, nil
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if isTooLarge(err) {
			return req, err
		}
		return req, service.ErrBadInput("invalid multipart body: " + err.Error())
	}
	req.Query = r.FormValue("query")
	if v := strings.TrimSpace(r.FormValue("max_tokens")); v != "" {
		// Vision generation never applies max_tokens, so a malformed value is dropped.
		if n, err := strconv.Atoi(v); err != nil {
			reqLog().Debug().Str("max_tokens", v).Msg("ignoring non-integer max_tokens")
		} else {
			req.MaxTokens = &n
		}
	}
	f, fh, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return req, nil
	}
	if err != nil {
		return req, service.ErrBadInput("invalid image part: " + err.Error())
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return req, err
	}
	req.Image = data
	req.Filename = fh.Filename
	return req, nil
}

func isTooLarge(err error) bool {
	var tooLarge *http.MaxBytesError
	return errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large")
}

// clientGone reports whether the caller or the server went away, in which
// case nothing is written.
func clientGone(r *http.Request) bool {
	return r.Context().Err() != nil || serverBaseCtx.Err() != nil
}
