// Package schema resolves pgoutput relation ids to schema-qualified table
// names and catalog-ordered column lists.
package schema

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/Shwetabhk/pg-streamline/pgoutput"
)

// ErrUnknownRelation is returned when relid has no matching entry in
// pg_stat_user_tables.
var ErrUnknownRelation = errors.New("schema: unknown relation")

// Querier is the subset of *pgxpool.Pool (or a single *pgx.Conn/Tx) a
// Resolver needs. Accepting the interface rather than a concrete pool type
// lets callers pass a borrowed pooled connection, and lets tests supply a
// fake without a live database.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Relation is a resolved table descriptor: its schema-qualified name and
// its attribute-ordered column list.
type Relation struct {
	SchemaName string
	TableName  string
	Columns    []pgoutput.Column
}

// QualifiedName returns "schema.table".
func (r Relation) QualifiedName() string {
	return r.SchemaName + "." + r.TableName
}

// Resolver looks up Relation descriptors by relation id using a borrowed
// connection: one query for the schema-qualified name, one for the
// attribute-ordered column list.
type Resolver struct {
	logger zerolog.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(logger zerolog.Logger) *Resolver {
	return &Resolver{logger: logger.With().Str("component", "schema").Logger()}
}

// Resolve looks up the schema-qualified name and ordered columns for
// relationID using q. Both queries are parameter-bound; no string
// concatenation ever builds the query text.
func (r *Resolver) Resolve(ctx context.Context, q Querier, relationID int32) (Relation, error) {
	schemaName, tableName, err := r.resolveName(ctx, q, relationID)
	if err != nil {
		return Relation{}, err
	}

	cols, err := r.resolveColumns(ctx, q, relationID)
	if err != nil {
		return Relation{}, fmt.Errorf("resolve columns for relation %d: %w", relationID, err)
	}

	return Relation{SchemaName: schemaName, TableName: tableName, Columns: cols}, nil
}

func (r *Resolver) resolveName(ctx context.Context, q Querier, relationID int32) (string, string, error) {
	rows, err := q.Query(ctx, `SELECT schemaname, relname FROM pg_stat_user_tables WHERE relid = $1`, relationID)
	if err != nil {
		return "", "", fmt.Errorf("query pg_stat_user_tables: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return "", "", err
		}
		return "", "", fmt.Errorf("%w: relation %d", ErrUnknownRelation, relationID)
	}

	var schemaName, tableName string
	if err := rows.Scan(&schemaName, &tableName); err != nil {
		return "", "", err
	}
	return schemaName, tableName, rows.Err()
}

func (r *Resolver) resolveColumns(ctx context.Context, q Querier, relationID int32) ([]pgoutput.Column, error) {
	rows, err := q.Query(ctx, `
		SELECT attname, format_type(atttypid, atttypmod)
		FROM pg_attribute
		WHERE attrelid = $1 AND attnum > 0 AND NOT attisdropped
		ORDER BY attnum`, relationID)
	if err != nil {
		return nil, fmt.Errorf("query pg_attribute: %w", err)
	}
	defer rows.Close()

	var cols []pgoutput.Column
	for rows.Next() {
		var c pgoutput.Column
		if err := rows.Scan(&c.Name, &c.Type); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}
