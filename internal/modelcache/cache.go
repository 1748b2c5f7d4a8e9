// Package modelcache pins the Hugging Face cache to a durable directory before
// any model runtime starts.
package modelcache

import (
	"fmt"
	"os"

	"shizhend/internal/common/fsutil"
)

// EnvVars are the variables the Hugging Face tooling consults for its cache.
var EnvVars = []string{
	"HF_HOME",
	"TRANSFORMERS_CACHE",
	"HF_HUB_CACHE",
	"HUGGINGFACE_HUB_CACHE",
}

// Prepare creates dir and points every cache variable at it in the process
// environment, so runtimes spawned afterwards inherit it. It returns the
// absolute directory.
func Prepare(dir string) (string, error) {
	abs, err := fsutil.EnsureDir(dir)
	if err != nil {
		return "", fmt.Errorf("model cache: %w", err)
	}
	for _, k := range EnvVars {
		if err := os.Setenv(k, abs); err != nil {
			return "", fmt.Errorf("model cache: set %s: %w", k, err)
		}
	}
	return abs, nil
}

// Environ returns KEY=dir pairs for every cache variable.
func Environ(dir string) []string {
	out := make([]string, 0, len(EnvVars))
	for _, k := range EnvVars {
		out = append(out, k+"="+dir)
	}
	return out
}
