package service

// Event names published by Service.
const (
	EventLoadStart  = "load_start"
	EventLoadReady  = "load_ready"
	EventLoadFailed = "load_failed"
	EventInferStart = "infer_start"
	EventInferDone  = "infer_done"
	EventInferError = "infer_error"
)

// Event represents a service lifecycle event.
type Event struct {
	Name    string
	ModelID string
	Fields  map[string]any
}

// EventPublisher receives events from the service. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
