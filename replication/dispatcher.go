package replication

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/Shwetabhk/pg-streamline/pgoutput"
	"github.com/Shwetabhk/pg-streamline/schema"
)

// MetadataPool is the subset of *pool.Pool the dispatcher and session
// need: a connection borrowed for the duration of a metadata lookup. The
// replication connection itself never comes from this pool. Accepting the
// interface (rather than *pool.Pool) lets tests supply a fake pool
// without a live database.
type MetadataPool interface {
	Acquire(ctx context.Context, fn func(conn *pgxpool.Conn) error) error
}

// RelationResolver is the subset of *schema.Resolver / *schema.CachedResolver
// the dispatcher needs.
type RelationResolver interface {
	Resolve(ctx context.Context, q schema.Querier, relationID int32) (schema.Relation, error)
}

// Dispatcher routes one WAL message at a time: it branches on the
// configured plugin, resolves the schema-qualified table name for
// pgoutput Insert/Update/Delete payloads, and invokes the sink. Begin,
// Commit, Relation, and Type messages are not errors; they are simply not
// forwarded to the sink.
type Dispatcher struct {
	plugin   Plugin
	pool     MetadataPool
	resolver RelationResolver
	sink     Sink
	logger   zerolog.Logger
}

// NewDispatcher constructs a Dispatcher for the given plugin.
func NewDispatcher(plugin Plugin, pool MetadataPool, resolver RelationResolver, sink Sink, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		plugin:   plugin,
		pool:     pool,
		resolver: resolver,
		sink:     sink,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// isChangeMessage reports whether a leading payload byte is one the
// dispatcher resolves and forwards; every other byte (Begin 'B', Commit
// 'C', Relation 'R', Type 'Y', Origin 'O', Truncate 'T', ...) is skipped.
func isChangeMessage(b byte) bool {
	switch pgoutput.MessageType(b) {
	case pgoutput.MessageTypeInsert, pgoutput.MessageTypeUpdate, pgoutput.MessageTypeDelete:
		return true
	default:
		return false
	}
}

// Dispatch processes one WAL message payload. For wal2json, the payload
// is forwarded to the sink untouched under the fixed table name
// "wal2json". For pgoutput, only Insert/Update/Delete payloads reach the
// sink, each under its resolved schema-qualified name; every other
// message byte is a no-op. Callers (the session's stream loop) log any
// returned error and decide whether feedback still advances; Dispatch
// itself never panics or blocks past ctx cancellation.
func (d *Dispatcher) Dispatch(ctx context.Context, payload []byte) error {
	if d.plugin == PluginWal2JSON {
		if err := d.sink.OnChange(ctx, "wal2json", payload); err != nil {
			return fmt.Errorf("sink on_change: %w", err)
		}
		return nil
	}

	if len(payload) == 0 {
		return nil
	}
	if !isChangeMessage(payload[0]) {
		return nil
	}
	if len(payload) < 5 {
		return fmt.Errorf("%w: got %d bytes", pgoutput.ErrTruncatedMessage, len(payload))
	}

	relationID := int32(binary.BigEndian.Uint32(payload[1:5]))

	rel, err := d.resolveRelation(ctx, relationID)
	if err != nil {
		return fmt.Errorf("resolve relation %d: %w", relationID, err)
	}

	if err := d.sink.OnChange(ctx, rel.QualifiedName(), payload); err != nil {
		return fmt.Errorf("sink on_change(%s): %w", rel.QualifiedName(), err)
	}
	return nil
}

func (d *Dispatcher) resolveRelation(ctx context.Context, relationID int32) (schema.Relation, error) {
	var rel schema.Relation
	err := d.pool.Acquire(ctx, func(conn *pgxpool.Conn) error {
		var err error
		rel, err = d.resolver.Resolve(ctx, conn, relationID)
		return err
	})
	return rel, err
}
