package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Backend kinds accepted in runtime.backend.
const (
	BackendOpenAI = "openai"
	BackendSpawn  = "spawn"
	BackendLlama  = "llama"
	BackendStub   = "stub"
)

// DefaultVisionPrompt asks for a TCM reading of a tongue photograph.
const DefaultVisionPrompt = "请从中医角度解读这张舌苔。分析舌色、苔色、舌形、润燥等特征，并给出对应的中医证型和调理建议。"

// Config holds runtime parameters for the service.
type Config struct {
	Server  ServerConfig  `json:"server" yaml:"server" toml:"server" envPrefix:"SERVER_"`
	Model   ModelConfig   `json:"model" yaml:"model" toml:"model" envPrefix:"MODEL_"`
	Runtime RuntimeConfig `json:"runtime" yaml:"runtime" toml:"runtime" envPrefix:"RUNTIME_"`
	Log     LogConfig     `json:"log" yaml:"log" toml:"log" envPrefix:"LOG_"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string   `json:"addr" yaml:"addr" toml:"addr" env:"ADDR"`
	MaxBodyBytes    int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes" env:"MAX_BODY_BYTES"`
	MaxUploadBytes  int64    `json:"max_upload_bytes" yaml:"max_upload_bytes" toml:"max_upload_bytes" env:"MAX_UPLOAD_BYTES"`
	ShutdownSeconds int      `json:"shutdown_seconds" yaml:"shutdown_seconds" toml:"shutdown_seconds" env:"SHUTDOWN_SECONDS"`
	CORSEnabled     bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled" env:"CORS_ENABLED"`
	CORSOrigins     []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins" env:"CORS_ORIGINS"`
}

// ModelConfig describes the single served model and where its weights live.
type ModelConfig struct {
	// Hugging Face repository the runtime loads.
	Repo string `json:"repo" yaml:"repo" toml:"repo" env:"REPO"`
	// Public identifier echoed in responses.
	Name        string `json:"name" yaml:"name" toml:"name" env:"NAME"`
	OwnedBy     string `json:"owned_by" yaml:"owned_by" toml:"owned_by" env:"OWNED_BY"`
	ServiceName string `json:"service_name" yaml:"service_name" toml:"service_name" env:"SERVICE_NAME"`
	// GPU index used for memory accounting.
	Device      int     `json:"device" yaml:"device" toml:"device" env:"DEVICE"`
	MaxMemoryGB float64 `json:"max_memory_gb" yaml:"max_memory_gb" toml:"max_memory_gb" env:"MAX_MEMORY_GB"`
	CacheDir    string  `json:"cache_dir" yaml:"cache_dir" toml:"cache_dir" env:"CACHE_DIR"`
	VisionQuery string  `json:"vision_query" yaml:"vision_query" toml:"vision_query" env:"VISION_QUERY"`
}

// RuntimeConfig selects and parameterizes the inference backend.
type RuntimeConfig struct {
	Backend     string `json:"backend" yaml:"backend" toml:"backend" env:"BACKEND"`
	BaseURL     string `json:"base_url" yaml:"base_url" toml:"base_url" env:"BASE_URL"`
	APIKey      string `json:"api_key" yaml:"api_key" toml:"api_key" env:"API_KEY"`
	ServedModel string `json:"served_model" yaml:"served_model" toml:"served_model" env:"SERVED_MODEL"`
	// Spawn mode: command and templated arguments.
	Command string   `json:"command" yaml:"command" toml:"command" env:"COMMAND"`
	Args    []string `json:"args" yaml:"args" toml:"args" env:"ARGS"`
	Host    string   `json:"host" yaml:"host" toml:"host" env:"HOST"`
	Port    int      `json:"port" yaml:"port" toml:"port" env:"PORT"`
	// Seconds to wait for the runtime to report ready.
	ReadySeconds int `json:"ready_seconds" yaml:"ready_seconds" toml:"ready_seconds" env:"READY_SECONDS"`
	// In-process llama.cpp settings (build tag llama).
	LlamaModelPath string `json:"llama_model_path" yaml:"llama_model_path" toml:"llama_model_path" env:"LLAMA_MODEL_PATH"`
	LlamaContext   int    `json:"llama_context" yaml:"llama_context" toml:"llama_context" env:"LLAMA_CONTEXT"`
	LlamaThreads   int    `json:"llama_threads" yaml:"llama_threads" toml:"llama_threads" env:"LLAMA_THREADS"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level" env:"LEVEL"`
	Format string `json:"format" yaml:"format" toml:"format" env:"FORMAT"`
}

// Defaults returns the configuration used when nothing else is specified.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8000",
			MaxBodyBytes:    1 << 20,
			MaxUploadBytes:  32 << 20,
			ShutdownSeconds: 5,
			CORSEnabled:     true,
			CORSOrigins:     []string{"*"},
		},
		Model: ModelConfig{
			Repo:        "FreedomIntelligence/ShizhenGPT-32B-VL",
			Name:        "ShizhenGPT-32B-VL",
			OwnedBy:     "FreedomIntelligence",
			ServiceName: "ShizhenGPT-32B-VL API",
			Device:      0,
			MaxMemoryGB: 75,
			CacheDir:    "/workspace/models",
			VisionQuery: DefaultVisionPrompt,
		},
		Runtime: RuntimeConfig{
			Backend:      BackendOpenAI,
			BaseURL:      "http://127.0.0.1:8001",
			Host:         "127.0.0.1",
			ReadySeconds: 1800,
			LlamaContext: 4096,
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// ReadyTimeout returns the runtime readiness deadline as a duration.
func (r RuntimeConfig) ReadyTimeout() time.Duration {
	return time.Duration(r.ReadySeconds) * time.Second
}

// Validate reports the first inconsistency found in cfg.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("server.addr is required")
	}
	if strings.TrimSpace(c.Model.Name) == "" {
		return errors.New("model.name is required")
	}
	if strings.TrimSpace(c.Model.CacheDir) == "" {
		return errors.New("model.cache_dir is required")
	}
	if c.Model.MaxMemoryGB < 0 {
		return fmt.Errorf("model.max_memory_gb must be >= 0, got %v", c.Model.MaxMemoryGB)
	}
	switch c.Runtime.Backend {
	case BackendOpenAI:
		if strings.TrimSpace(c.Runtime.BaseURL) == "" {
			return errors.New("runtime.base_url is required for the openai backend")
		}
	case BackendSpawn:
		if strings.TrimSpace(c.Runtime.Command) == "" {
			return errors.New("runtime.command is required for the spawn backend")
		}
	case BackendLlama:
		if strings.TrimSpace(c.Runtime.LlamaModelPath) == "" {
			return errors.New("runtime.llama_model_path is required for the llama backend")
		}
	case BackendStub:
	default:
		return fmt.Errorf("unknown runtime.backend %q", c.Runtime.Backend)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		return fmt.Errorf("unknown log.format %q", c.Log.Format)
	}
	return nil
}
