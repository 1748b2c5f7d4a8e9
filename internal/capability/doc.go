// Package capability is the boundary to the opaque model runtime. The service
// shell only ever sees the Capability interface:
//
//   - openai.go: OpenAI-compatible HTTP runtime (vLLM, llama-server) already running.
//   - spawn.go: starts the runtime as a subprocess, then talks to it like openai.go.
//   - llama.go: in-process llama.cpp via go-llama.cpp (build tag `llama`; text only).
//   - stub.go: deterministic tokenizer/generator for tests and local development.
//
// Chat templating, tokenization, sampling and vision preprocessing all happen
// behind Generate. The shell strips the echoed prompt from the returned
// Sequence and calls Decode on the remainder.
package capability
