package blackbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// findFreePort picks an available TCP port on localhost.
func findFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func projectRootFromThisFile(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	// this file: <root>/tests/blackbox/blackbox_test.go
	return filepath.Dir(filepath.Dir(filepath.Dir(thisFile)))
}

func buildBinary(t *testing.T) string {
	t.Helper()
	binPath := filepath.Join(t.TempDir(), "shizhend")
	cmd := exec.Command("go", "build", "-o", binPath, "./cmd/shizhend")
	cmd.Dir = projectRootFromThisFile(t)
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("go build failed: %v\n%s", err, string(out))
	}
	return binPath
}

// cleanEnv drops SHIZHEND_* and HF cache variables inherited from the caller.
func cleanEnv(extra ...string) []string {
	var env []string
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "SHIZHEND_") || strings.HasPrefix(kv, "HF_") {
			continue
		}
		env = append(env, kv)
	}
	return append(env, extra...)
}

type serverProc struct {
	cmd  *exec.Cmd
	base string
}

func startServer(t *testing.T, bin string, args ...string) *serverProc {
	t.Helper()
	port := findFreePort(t)
	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	args = append([]string{"serve", "--addr", fmt.Sprintf("127.0.0.1:%d", port), "--cache-dir", filepath.Join(t.TempDir(), "models")}, args...)
	cmd := exec.Command(bin, args...)
	cmd.Env = cleanEnv()
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() { _ = cmd.Process.Kill(); _ = cmd.Wait() })
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(base + "/healthz")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not become healthy in time")
		}
		time.Sleep(50 * time.Millisecond)
	}
	return &serverProc{cmd: cmd, base: base}
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

func postJSON(t *testing.T, url string, payload string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewBufferString(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

func waitReady(t *testing.T, base string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, _ := get(t, base+"/readyz")
		if resp.StatusCode == http.StatusOK {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("/readyz did not become ready in time; last=%d", resp.StatusCode)
		}
		time.Sleep(25 * time.Millisecond)
	}
}

func TestBlackbox_StubFlow(t *testing.T) {
	bin := buildBinary(t)
	sp := startServer(t, bin, "--backend", "stub")

	resp, body := get(t, sp.base+"/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/ %d %s", resp.StatusCode, body)
	}
	waitReady(t, sp.base)

	resp, body = get(t, sp.base+"/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/health %d %s", resp.StatusCode, body)
	}
	var health struct {
		Status      string `json:"status"`
		ModelLoaded bool   `json:"model_loaded"`
		Device      string `json:"device"`
	}
	if err := json.Unmarshal(body, &health); err != nil {
		t.Fatalf("/health json: %v body=%s", err, body)
	}
	if !health.ModelLoaded || health.Status != "healthy" || health.Device != "cpu" {
		t.Fatalf("unexpected health %+v", health)
	}

	resp, body = get(t, sp.base+"/v1/models")
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("/v1/models content-type=%s", ct)
	}
	var models struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &models); err != nil || len(models.Data) != 1 {
		t.Fatalf("/v1/models %s", body)
	}

	payload := `{"messages":[{"role":"user","content":"舌苔白腻"}],"temperature":0}`
	_, a := postJSON(t, sp.base+"/v1/chat/completions", payload)
	resp, b := postJSON(t, sp.base+"/v1/chat/completions", payload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat %d %s", resp.StatusCode, b)
	}
	content := func(body []byte) string {
		var cr struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}
		_ = json.Unmarshal(body, &cr)
		if len(cr.Choices) == 0 {
			return ""
		}
		return cr.Choices[0].Message.Content
	}
	if content(a) == "" || content(a) != content(b) {
		t.Fatalf("expected identical greedy replies: %s vs %s", a, b)
	}

	resp, _ = get(t, sp.base+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/metrics %d", resp.StatusCode)
	}
}

func TestBlackbox_LoadFailureExits(t *testing.T) {
	bin := buildBinary(t)
	cmd := exec.Command(bin, "serve",
		"--addr", fmt.Sprintf("127.0.0.1:%d", findFreePort(t)),
		"--cache-dir", filepath.Join(t.TempDir(), "models"),
		"--backend", "openai", "--base-url", "http://127.0.0.1:1")
	cmd.Env = cleanEnv("SHIZHEND_RUNTIME_READY_SECONDS=1")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		var exit *exec.ExitError
		if !errors.As(err, &exit) || exit.ExitCode() == 0 {
			t.Fatalf("expected non-zero exit, got %v", err)
		}
		if !strings.Contains(stderr.String(), "model load failed") {
			t.Fatalf("stderr missing load failure: %s", stderr.String())
		}
	case <-time.After(15 * time.Second):
		_ = cmd.Process.Kill()
		t.Fatal("server kept running after load failure")
	}
}

func TestBlackbox_Version(t *testing.T) {
	bin := buildBinary(t)
	out, err := exec.Command(bin, "version").Output()
	if err != nil || !strings.HasPrefix(string(out), "shizhend ") {
		t.Fatalf("version: %q %v", out, err)
	}
}
