// Package service is the application context shared by every HTTP handler. It
// owns the single model capability and its readiness flag:
//
//   - service.go: Service, Config and the introspection calls (Root, Health, ListModels).
//   - load.go: one-shot Load, preparing the model cache before the runtime starts.
//   - infer.go: ChatCompletion and AnalyzeImage, serialized on one inference slot.
//   - errors.go: NotReady/BadInput/Internal errors carrying their HTTP status.
//   - events.go, eventpub_memory.go: lifecycle event publishing.
//   - metrics.go: inference and model gauges.
package service
