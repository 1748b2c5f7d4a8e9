package httpapi

import (
	"context"
	"net/http"
)

// serverBaseCtx is cancelled when the process stops serving. Defaults to
// Background if not set.
var serverBaseCtx = context.Background()

// SetBaseContext sets the process-level context that bounds inference.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		serverBaseCtx = context.Background()
		return
	}
	serverBaseCtx = ctx
}

// inferenceContext derives from the request context and is also cancelled
// when serverBaseCtx ends. The cancel func must be called when the handler
// returns.
func inferenceContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(r.Context())
	stop := context.AfterFunc(serverBaseCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
