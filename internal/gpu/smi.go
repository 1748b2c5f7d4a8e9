// Package gpu reads live accelerator memory usage.
package gpu

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ErrUnavailable is returned when no probe tool is installed.
var ErrUnavailable = errors.New("gpu probe unavailable")

const mib = 1024 * 1024

// Memory is a point-in-time reading for one device.
type Memory struct {
	Name       string
	UsedBytes  uint64
	TotalBytes uint64
}

// Prober reads memory for the device at index.
type Prober interface {
	Probe(ctx context.Context, index int) (Memory, error)
}

// SMI probes NVIDIA devices through nvidia-smi.
type SMI struct {
	bin string
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewSMI returns a prober that runs bin (default "nvidia-smi").
func NewSMI(bin string) *SMI {
	if strings.TrimSpace(bin) == "" {
		bin = "nvidia-smi"
	}
	return &SMI{bin: bin, run: runCmd}
}

func runCmd(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s not found", ErrUnavailable, name)
		}
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// Probe queries used and total memory for one device. Readings are taken on
// every call.
func (s *SMI) Probe(ctx context.Context, index int) (Memory, error) {
	out, err := s.run(ctx, s.bin,
		"--query-gpu=memory.used,memory.total,name",
		"--format=csv,noheader,nounits",
		"-i", strconv.Itoa(index),
	)
	if err != nil {
		return Memory{}, err
	}
	return parseSMI(out)
}

// parseSMI parses one line of "used, total, name" with MiB units.
func parseSMI(out []byte) (Memory, error) {
	line := strings.TrimSpace(string(out))
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	fields := strings.SplitN(line, ",", 3)
	if len(fields) < 2 {
		return Memory{}, fmt.Errorf("unexpected nvidia-smi output: %q", line)
	}
	used, err := strconv.ParseUint(strings.TrimSpace(fields[0]), 10, 64)
	if err != nil {
		return Memory{}, fmt.Errorf("parse memory.used: %w", err)
	}
	total, err := strconv.ParseUint(strings.TrimSpace(fields[1]), 10, 64)
	if err != nil {
		return Memory{}, fmt.Errorf("parse memory.total: %w", err)
	}
	m := Memory{UsedBytes: used * mib, TotalBytes: total * mib}
	if len(fields) == 3 {
		m.Name = strings.TrimSpace(fields[2])
	}
	return m, nil
}
