// Package consumer implements the reverse path of the replication
// producer: it accepts already-serialized (table name, raw payload bytes)
// deliveries, for example from a topic-exchange broker subscription, and
// replays the same pgoutput decode pipeline the producer uses, so a
// downstream service can consume change events without holding the
// replication slot itself.
package consumer

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/Shwetabhk/pg-streamline/pgoutput"
	"github.com/Shwetabhk/pg-streamline/schema"
)

// MetadataPool is the subset of *pool.Pool the consumer needs for schema
// lookups; see replication.MetadataPool for the producer-side twin.
type MetadataPool interface {
	Acquire(ctx context.Context, fn func(conn *pgxpool.Conn) error) error
}

// RelationResolver is the subset of *schema.Resolver / *schema.CachedResolver
// the consumer needs.
type RelationResolver interface {
	Resolve(ctx context.Context, q schema.Querier, relationID int32) (schema.Relation, error)
}

// Handler receives a decoded ChangeEvent. Implementations are the
// consumer-side analogue of replication.Sink; OnParsed may be called
// concurrently if the caller delivers from multiple broker consumers, so
// implementations must be reentrant.
type Handler interface {
	OnParsed(ctx context.Context, messageType pgoutput.MessageType, event *pgoutput.ChangeEvent) error
}

// Consumer decodes pgoutput Insert/Update/Delete payloads delivered out
// of band from the replication stream.
type Consumer struct {
	pool     MetadataPool
	resolver RelationResolver
	handler  Handler
	logger   zerolog.Logger
}

// New constructs a Consumer.
func New(pool MetadataPool, resolver RelationResolver, handler Handler, logger zerolog.Logger) *Consumer {
	return &Consumer{
		pool:     pool,
		resolver: resolver,
		handler:  handler,
		logger:   logger.With().Str("component", "consumer").Logger(),
	}
}

// Consume decodes one delivery. tableName typically came from the
// broker's routing key and is logged, not trusted for schema resolution;
// the relation id embedded in payload[1:5] is, matching the producer's
// dispatcher so both paths resolve identically. A non-nil return means
// the caller should reject the delivery with requeue; nil means ack.
func (c *Consumer) Consume(ctx context.Context, tableName string, payload []byte) error {
	if len(payload) < 5 {
		return fmt.Errorf("%w: got %d bytes", pgoutput.ErrTruncatedMessage, len(payload))
	}

	switch pgoutput.MessageType(payload[0]) {
	case pgoutput.MessageTypeInsert, pgoutput.MessageTypeUpdate, pgoutput.MessageTypeDelete:
	default:
		return fmt.Errorf("%w: %q", pgoutput.ErrUnsupportedMessage, payload[0])
	}

	relationID := int32(binary.BigEndian.Uint32(payload[1:5]))

	var rel schema.Relation
	err := c.pool.Acquire(ctx, func(conn *pgxpool.Conn) error {
		var err error
		rel, err = c.resolver.Resolve(ctx, conn, relationID)
		return err
	})
	if err != nil {
		c.logger.Error().Err(err).Str("table", tableName).Int32("relation_id", relationID).Msg("resolve relation")
		return fmt.Errorf("resolve relation %d: %w", relationID, err)
	}

	event, err := pgoutput.Decode(payload, rel.Columns)
	if err != nil {
		c.logger.Error().Err(err).Str("table", tableName).Msg("decode change")
		return fmt.Errorf("decode payload for %s: %w", rel.QualifiedName(), err)
	}

	if err := c.handler.OnParsed(ctx, event.MessageType, event); err != nil {
		c.logger.Error().Err(err).Str("table", tableName).Msg("handle parsed event")
		return fmt.Errorf("on_parsed(%s): %w", rel.QualifiedName(), err)
	}
	return nil
}
