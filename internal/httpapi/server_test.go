package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"shizhend/internal/service"
	"shizhend/pkg/types"
)

type mockService struct {
	ready    bool
	health   types.HealthResponse
	err      error
	panicMsg string

	gotChat   types.ChatCompletionRequest
	gotVision service.VisionRequest
}

func (m *mockService) Ready() bool { return m.ready }
func (m *mockService) Root() types.RootResponse {
	return types.RootResponse{Service: "ShizhenGPT-32B-VL API", Status: "running", ModelLoaded: m.ready}
}
func (m *mockService) Health(ctx context.Context) (types.HealthResponse, error) {
	return m.health, m.err
}
func (m *mockService) ListModels() types.ModelsResponse {
	if !m.ready {
		return types.ModelsResponse{Data: []types.Model{}}
	}
	return types.ModelsResponse{Data: []types.Model{{ID: "ShizhenGPT-32B-VL", Object: "model", OwnedBy: "FreedomIntelligence", Permission: []string{}}}}
}
func (m *mockService) ChatCompletion(ctx context.Context, req types.ChatCompletionRequest) (types.ChatCompletionResponse, error) {
	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	m.gotChat = req
	if m.err != nil {
		return types.ChatCompletionResponse{}, m.err
	}
	return types.ChatCompletionResponse{
		ID: "chatcmpl-1", Object: "chat.completion", Model: "ShizhenGPT-32B-VL",
		Choices: []types.ChatCompletionChoice{{Message: types.ChatCompletionMessage{Role: "assistant", Content: "宜温补脾阳"}, FinishReason: "stop"}},
	}, nil
}
func (m *mockService) AnalyzeImage(ctx context.Context, req service.VisionRequest) (types.VisionAnalysisResponse, error) {
	m.gotVision = req
	if len(req.Image) == 0 {
		return types.VisionAnalysisResponse{}, service.ErrBadInput(service.MsgNoImage)
	}
	if m.err != nil {
		return types.VisionAnalysisResponse{}, m.err
	}
	return types.VisionAnalysisResponse{Diagnosis: "舌淡苔白", Success: true, Model: "ShizhenGPT-32B-VL", ProcessingTimeSeconds: 1.5}, nil
}

func postJSON(h http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func multipartBody(t *testing.T, fields map[string]string, image []byte) (*bytes.Buffer, string) {
	t.Helper()
	var b bytes.Buffer
	mw := multipart.NewWriter(&b)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if image != nil {
		fw, err := mw.CreateFormFile("image", "tongue.png")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		_, _ = fw.Write(image)
	}
	_ = mw.Close()
	return &b, mw.FormDataContentType()
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var b bytes.Buffer
	if err := png.Encode(&b, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("png: %v", err)
	}
	return b.Bytes()
}

func postVision(h http.Handler, body *bytes.Buffer, ct string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/vision/analyze", body)
	if ct != "" {
		req.Header.Set("Content-Type", ct)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) types.ErrorResponse {
	t.Helper()
	var e types.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("error body: %v (%s)", err, w.Body.String())
	}
	return e
}

func TestRootAlways200(t *testing.T) {
	for _, ready := range []bool{false, true} {
		w := httptest.NewRecorder()
		NewMux(&mockService{ready: ready}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("ready=%v status=%d", ready, w.Code)
		}
		var body types.RootResponse
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("json: %v", err)
		}
		if body.Status != "running" || body.ModelLoaded != ready {
			t.Fatalf("unexpected body: %+v", body)
		}
	}
}

func TestHealth(t *testing.T) {
	svc := &mockService{ready: true, health: types.HealthResponse{Status: "healthy", ModelLoaded: true, Device: "cuda:0", VRAM: types.VRAMStats{UtilizationPercent: 77.7}}}
	w := httptest.NewRecorder()
	NewMux(svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"utilization_percent":77.7`) {
		t.Fatalf("body=%s", w.Body.String())
	}

	svc.err = service.ErrNotReady
	w = httptest.NewRecorder()
	NewMux(svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable || decodeError(t, w).Detail != "Model not loaded" {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}

	svc.err = service.ErrInternal("Health check error", errors.New("nvidia-smi: not found"))
	w = httptest.NewRecorder()
	NewMux(svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestModels(t *testing.T) {
	for _, c := range []struct {
		ready bool
		n     int
	}{{false, 0}, {true, 1}} {
		w := httptest.NewRecorder()
		NewMux(&mockService{ready: c.ready}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
		var body struct {
			Data []map[string]any `json:"data"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("json: %v", err)
		}
		if body.Data == nil || len(body.Data) != c.n {
			t.Fatalf("ready=%v: body=%s", c.ready, w.Body.String())
		}
	}
}

func TestChatCompletions_OK(t *testing.T) {
	svc := &mockService{ready: true}
	w := postJSON(NewMux(svc), "/v1/chat/completions",
		`{"messages":[{"role":"system","content":"你是中医"},{"role":"user","content":[{"type":"text","text":"怕冷"}]}],"max_tokens":128,"temperature":0}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp types.ChatCompletionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Choices[0].Message.Content != "宜温补脾阳" {
		t.Fatalf("unexpected resp: %+v", resp)
	}
	got := svc.gotChat
	if len(got.Messages) != 2 || string(got.Messages[1].Content) != `[{"type":"text","text":"怕冷"}]` {
		t.Fatalf("messages not passed through: %+v", got.Messages)
	}
	if got.MaxTokens == nil || *got.MaxTokens != 128 || got.Temperature == nil || *got.Temperature != 0 {
		t.Fatalf("explicit zero temperature must survive decoding: %+v", got)
	}
}

func TestChatCompletions_RequestErrors(t *testing.T) {
	h := NewMux(&mockService{ready: true})
	cases := []struct {
		name string
		ct   string
		body string
		code int
	}{
		{"bad json", "application/json", "not-json", http.StatusBadRequest},
		{"no messages", "application/json", `{"max_tokens":1}`, http.StatusBadRequest},
		{"wrong content type", "text/plain", `{"messages":[]}`, http.StatusUnsupportedMediaType},
		{"missing content type", "", `{"messages":[]}`, http.StatusUnsupportedMediaType},
		{"mixed case content type", "Application/JSON; charset=utf-8", `{"messages":[]}`, http.StatusOK},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(c.body))
		if c.ct != "" {
			req.Header.Set("Content-Type", c.ct)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != c.code {
			t.Fatalf("%s: expected %d, got %d (%s)", c.name, c.code, w.Code, w.Body.String())
		}
	}
}

func TestChatCompletions_BodyTooLarge(t *testing.T) {
	big := `{"messages":[{"role":"user","content":"` + strings.Repeat("a", (1<<20)+10) + `"}]}`
	w := postJSON(NewMux(&mockService{ready: true}), "/v1/chat/completions", big)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too-large body, got %d", w.Code)
	}
}

func TestChatCompletions_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		code   int
		detail string
	}{
		{service.ErrNotReady, http.StatusServiceUnavailable, "Model not loaded"},
		{service.ErrInternal("Inference error", errors.New("boom")), http.StatusInternalServerError, "Inference error: boom"},
		{errors.New("raw"), http.StatusInternalServerError, "raw"},
		{context.DeadlineExceeded, http.StatusInternalServerError, "context deadline exceeded"},
	}
	for _, c := range cases {
		w := postJSON(NewMux(&mockService{ready: true, err: c.err}), "/v1/chat/completions", `{"messages":[]}`)
		if w.Code != c.code {
			t.Fatalf("%v: expected %d, got %d", c.err, c.code, w.Code)
		}
		if e := decodeError(t, w); e.Detail != c.detail || e.Code != c.code {
			t.Fatalf("unexpected error body: %+v", e)
		}
	}
}

func TestChatCompletions_PanicRecovered(t *testing.T) {
	w := postJSON(NewMux(&mockService{ready: true, panicMsg: "kaboom"}), "/v1/chat/completions", `{"messages":[]}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 from recoverer, got %d", w.Code)
	}
}

func TestChatCompletions_ClientGoneWritesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(`{"messages":[]}`)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	NewMux(&mockService{ready: true, err: context.Canceled}).ServeHTTP(w, req)
	if w.Body.Len() != 0 {
		t.Fatalf("expected empty body, got %s", w.Body.String())
	}
}

func TestVisionAnalyze_OK(t *testing.T) {
	svc := &mockService{ready: true}
	body, ct := multipartBody(t, map[string]string{"query": "舌边齿痕", "max_tokens": "64"}, pngBytes(t))
	w := postVision(NewMux(svc), body, ct)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp types.VisionAnalysisResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !resp.Success || resp.Diagnosis != "舌淡苔白" {
		t.Fatalf("unexpected resp: %+v", resp)
	}
	got := svc.gotVision
	if got.Query != "舌边齿痕" || got.Filename != "tongue.png" || got.MaxTokens == nil || *got.MaxTokens != 64 || len(got.Image) == 0 {
		t.Fatalf("unexpected forwarded request: %+v", got)
	}
}

func TestVisionAnalyze_NoImage400(t *testing.T) {
	for _, ready := range []bool{false, true} {
		h := NewMux(&mockService{ready: ready, err: service.ErrNotReady})
		body, ct := multipartBody(t, map[string]string{"query": "x"}, nil)
		if w := postVision(h, body, ct); w.Code != http.StatusBadRequest || decodeError(t, w).Detail != "No image provided" {
			t.Fatalf("ready=%v multipart: status=%d body=%s", ready, w.Code, w.Body.String())
		}
		if w := postVision(h, bytes.NewBufferString("{}"), "application/json"); w.Code != http.StatusBadRequest {
			t.Fatalf("ready=%v non-multipart: status=%d", ready, w.Code)
		}
		if w := postVision(h, &bytes.Buffer{}, ""); w.Code != http.StatusBadRequest {
			t.Fatalf("ready=%v empty: status=%d", ready, w.Code)
		}
	}
}

func TestVisionAnalyze_NotReady503(t *testing.T) {
	body, ct := multipartBody(t, nil, pngBytes(t))
	w := postVision(NewMux(&mockService{err: service.ErrNotReady}), body, ct)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestVisionAnalyze_NonIntegerMaxTokensIgnored(t *testing.T) {
	svc := &mockService{ready: true}
	body, ct := multipartBody(t, map[string]string{"max_tokens": "many"}, pngBytes(t))
	w := postVision(NewMux(svc), body, ct)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if svc.gotVision.MaxTokens != nil || len(svc.gotVision.Image) == 0 {
		t.Fatalf("unexpected forwarded request: %+v", svc.gotVision)
	}
}

func TestVisionAnalyze_UploadTooLarge(t *testing.T) {
	SetMaxUploadBytes(1024)
	defer SetMaxUploadBytes(0)
	body, ct := multipartBody(t, nil, bytes.Repeat([]byte{0xff}, 4096))
	w := postVision(NewMux(&mockService{ready: true}), body, ct)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d (%s)", w.Code, w.Body.String())
	}
}

func TestVisionAnalyze_MethodNotAllowed(t *testing.T) {
	w := httptest.NewRecorder()
	NewMux(&mockService{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/vision/analyze", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestReadyzHealthz(t *testing.T) {
	for _, c := range []struct {
		ready bool
		code  int
		body  string
	}{{true, 200, "ready"}, {false, 503, "loading"}} {
		w := httptest.NewRecorder()
		NewMux(&mockService{ready: c.ready}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		if w.Code != c.code || w.Body.String() != c.body {
			t.Fatalf("readyz ready=%v: %d %q", c.ready, w.Code, w.Body.String())
		}
	}
	w := httptest.NewRecorder()
	NewMux(&mockService{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("healthz: %d", w.Code)
	}
}

func TestCORSAndSecurityHeaders(t *testing.T) {
	SetCORSOptions(true, []string{"*"}, nil, nil)
	defer SetCORSOptions(false, nil, nil, nil)

	h := NewMux(&mockService{ready: true})
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options=nosniff, got %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got == "" {
		t.Fatalf("expected CORS header Access-Control-Allow-Origin to be set, got empty")
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Fatalf("wildcard origins must not allow credentials, got %q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewMux(&mockService{})
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "shizhend_http_requests_total") {
		t.Fatalf("metrics: %d", w.Code)
	}
}
