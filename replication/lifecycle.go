package replication

import (
	"context"
	"os"
	"os/signal"
)

// WithInterrupt returns a context derived from parent that is cancelled
// on SIGINT, moving a streaming Session into its draining phase. Callers
// pass the returned context to Session.Run and call stop once the session
// has terminated to release the signal handler.
func WithInterrupt(parent context.Context) (ctx context.Context, stop context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt)
}
