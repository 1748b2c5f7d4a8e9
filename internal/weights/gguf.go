// Package weights locates local GGUF weight files for the llama.cpp backends.
package weights

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"shizhend/internal/common/fsutil"
)

// File is one weight file found on disk.
type File struct {
	// Name is the file name including extension, e.g. "ShizhenGPT-32B-VL-Q4_K_M.gguf".
	Name string
	Path string
	Size int64
}

func isGGUF(name string) bool { return strings.HasSuffix(strings.ToLower(name), ".gguf") }

// Scan lists *.gguf files (case-insensitive) directly under dir, sorted by
// name. Projector files (mmproj-*) are skipped.
func Scan(dir string) ([]File, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var files []File
	for _, e := range entries {
		if e.IsDir() || !isGGUF(e.Name()) || strings.HasPrefix(strings.ToLower(e.Name()), "mmproj") {
			continue
		}
		var size int64
		if fi, err := e.Info(); err == nil {
			size = fi.Size()
		}
		files = append(files, File{Name: e.Name(), Path: filepath.Join(abs, e.Name()), Size: size})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Resolve turns path into a single weight file. A file is returned as its
// absolute path; a directory must contain exactly one GGUF model.
func Resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("weights: empty path")
	}
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("abs path: %w", err)
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("weights: %w", err)
	}
	if !fi.IsDir() {
		return abs, nil
	}
	files, err := Scan(abs)
	if err != nil {
		return "", err
	}
	switch len(files) {
	case 0:
		return "", fmt.Errorf("weights: no .gguf file in %s", abs)
	case 1:
		return files[0].Path, nil
	default:
		names := make([]string, len(files))
		for i, f := range files {
			names[i] = f.Name
		}
		return "", fmt.Errorf("weights: %d .gguf files in %s, pick one: %s", len(files), abs, strings.Join(names, ", "))
	}
}
