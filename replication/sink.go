package replication

import (
	"context"
	"errors"
)

// ErrNotImplemented is returned by BaseSink's stub methods.
var ErrNotImplemented = errors.New("replication: sink method not implemented")

// Sink is the set of operations a caller must provide. OnChange is
// invoked once per change event and may be called concurrently from
// multiple dispatcher workers: implementations must be reentrant.
// OnShutdown is invoked exactly once, after the pool has drained, when the
// session terminates.
type Sink interface {
	OnChange(ctx context.Context, tableName string, payload []byte) error
	OnShutdown(ctx context.Context) error
}

// BaseSink is an embeddable default: both methods fail with
// ErrNotImplemented until overridden.
type BaseSink struct{}

func (BaseSink) OnChange(ctx context.Context, tableName string, payload []byte) error {
	return ErrNotImplemented
}

func (BaseSink) OnShutdown(ctx context.Context) error {
	return ErrNotImplemented
}
