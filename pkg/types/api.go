package types

// RootResponse is returned by GET /.
type RootResponse struct {
	// example: ShizhenGPT-32B-VL API
	Service string `json:"service" example:"ShizhenGPT-32B-VL API"`
	// example: running
	Status string `json:"status" example:"running"`
	// example: true
	ModelLoaded bool `json:"model_loaded" example:"true"`
}

// VRAMStats is a point-in-time accelerator memory reading in gigabytes.
type VRAMStats struct {
	// example: 66.12
	AllocatedGB float64 `json:"allocated_gb" example:"66.12"`
	// example: 68.5
	ReservedGB float64 `json:"reserved_gb" example:"68.5"`
	// example: 85.1
	TotalGB float64 `json:"total_gb" example:"85.1"`
	// example: 77.7
	UtilizationPercent float64 `json:"utilization_percent" example:"77.7"`
}

// HealthResponse is returned by GET /health once the model is loaded.
type HealthResponse struct {
	// example: healthy
	Status string `json:"status" example:"healthy"`
	// example: true
	ModelLoaded bool `json:"model_loaded" example:"true"`
	// example: ShizhenGPT-32B-VL
	ModelName string `json:"model_name" example:"ShizhenGPT-32B-VL"`
	// Device the weights live on.
	// example: cuda:0
	Device string    `json:"device" example:"cuda:0"`
	VRAM   VRAMStats `json:"vram"`
}

// ChatCompletionRequest is the body of POST /v1/chat/completions.
type ChatCompletionRequest struct {
	// Ordered conversation. Passed through to the model without schema checks.
	Messages []ChatMessage `json:"messages"`
	// Maximum number of new tokens. Defaults to 2048.
	// example: 2048
	MaxTokens *int `json:"max_tokens,omitempty" example:"2048"`
	// Sampling temperature. 0 selects greedy decoding. Defaults to 0.7.
	// example: 0.7
	Temperature *float64 `json:"temperature,omitempty" example:"0.7"`
	// Accepted for client compatibility; responses are never streamed.
	Stream bool `json:"stream,omitempty"`
}

// ChatCompletionMessage is the assistant message of a completion choice.
type ChatCompletionMessage struct {
	// example: assistant
	Role    string `json:"role" example:"assistant"`
	Content string `json:"content"`
}

// ChatCompletionChoice is one completion alternative.
type ChatCompletionChoice struct {
	Index   int                   `json:"index"`
	Message ChatCompletionMessage `json:"message"`
	// Always "stop".
	// example: stop
	FinishReason string `json:"finish_reason" example:"stop"`
}

// ChatCompletionResponse mirrors the OpenAI chat.completion object.
type ChatCompletionResponse struct {
	// example: chatcmpl-6f1c2a6e-2b7d-4a43-9d1e-1b5f4d3c2a10
	ID string `json:"id"`
	// example: chat.completion
	Object string `json:"object" example:"chat.completion"`
	// Unix seconds.
	Created int64 `json:"created"`
	// example: ShizhenGPT-32B-VL
	Model   string                 `json:"model" example:"ShizhenGPT-32B-VL"`
	Choices []ChatCompletionChoice `json:"choices"`
}

// VisionAnalysisResponse is returned by POST /v1/vision/analyze.
type VisionAnalysisResponse struct {
	// Free-text analysis produced by the model.
	Diagnosis string `json:"diagnosis"`
	// example: true
	Success bool `json:"success" example:"true"`
	// example: ShizhenGPT-32B-VL
	Model string `json:"model" example:"ShizhenGPT-32B-VL"`
	// Wall-clock seconds spent in inference, rounded to 2 decimals.
	// example: 12.34
	ProcessingTimeSeconds float64 `json:"processing_time_seconds" example:"12.34"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: Model not loaded
	Detail string `json:"detail" example:"Model not loaded"`
	// HTTP status code.
	// example: 503
	Code int `json:"code" example:"503"`
}
