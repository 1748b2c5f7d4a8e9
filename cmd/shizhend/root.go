package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"shizhend/internal/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "shizhend",
		Short:         "Serve ShizhenGPT-32B-VL over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.PersistentFlags().String("config", "", "Config file (.yaml, .json or .toml)")
	root.PersistentFlags().String("log-level", "", "Log level: debug|info|warn|error (overrides log.level)")
	root.PersistentFlags().String("log-format", "", "Log format: console|json (overrides log.format)")
	addServeFlags(root)

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server (default)",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	addServeFlags(serve)

	root.AddCommand(serve, newChatCmd(), newAnalyzeCmd(), &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "shizhend", version)
		},
	})
	return root
}

func addServeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("addr", "", "HTTP listen address, e.g. :8000")
	f.String("backend", "", "Runtime backend: openai|spawn|llama|stub")
	f.String("base-url", "", "OpenAI-compatible runtime URL (openai backend)")
	f.String("runtime-command", "", "Runtime executable (spawn backend)")
	f.StringSlice("runtime-arg", nil, "Templated runtime argument, repeatable (spawn backend)")
	f.String("cache-dir", "", "Model weights cache directory")
	f.String("llama-model", "", "GGUF model path (llama backend)")
	f.Int("device", -1, "GPU index for memory accounting")
	f.Float64("max-memory-gb", -1, "Accelerator memory the runtime may use")
	f.Bool("cors", true, "Enable CORS")
	f.StringSlice("cors-origins", nil, "Allowed CORS origins")
}

// resolveConfig layers defaults, the config file, SHIZHEND_* env and then any
// flags the user set explicitly.
func resolveConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Resolve(path)
	if err != nil {
		return cfg, err
	}
	applyFlags(cmd, &cfg)
	return cfg, cfg.Validate()
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	str := func(name string, dst *string) {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	str("log-level", &cfg.Log.Level)
	str("log-format", &cfg.Log.Format)
	if f.Lookup("addr") == nil {
		return
	}
	str("addr", &cfg.Server.Addr)
	str("backend", &cfg.Runtime.Backend)
	str("base-url", &cfg.Runtime.BaseURL)
	str("runtime-command", &cfg.Runtime.Command)
	str("cache-dir", &cfg.Model.CacheDir)
	str("llama-model", &cfg.Runtime.LlamaModelPath)
	if f.Changed("runtime-arg") {
		cfg.Runtime.Args, _ = f.GetStringSlice("runtime-arg")
	}
	if f.Changed("device") {
		cfg.Model.Device, _ = f.GetInt("device")
	}
	if f.Changed("max-memory-gb") {
		cfg.Model.MaxMemoryGB, _ = f.GetFloat64("max-memory-gb")
	}
	if f.Changed("cors") {
		cfg.Server.CORSEnabled, _ = f.GetBool("cors")
	}
	if f.Changed("cors-origins") {
		cfg.Server.CORSOrigins, _ = f.GetStringSlice("cors-origins")
	}
}

// newLogger builds the process logger from the log section.
func newLogger(lc config.LogConfig, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(lc.Level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if w == nil {
		w = os.Stderr
	}
	if strings.EqualFold(lc.Format, "json") {
		return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}).Level(lvl).With().Timestamp().Logger()
}
