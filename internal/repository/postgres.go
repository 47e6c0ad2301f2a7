package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"mindgrate/backend/internal/apperr"
)

// Postgres error codes the store translates.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgInvalidText         = "22P02"
)

// PostgresStore is a PostgreSQL implementation of the Repository interface.
type PostgresStore struct {
	db *pgxpool.Pool
}

var _ Repository = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// NewPool opens a connection pool. Connections register the pgvector types
// once the extension exists, so the pool can also run the initial migration.
func NewPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = maxConns
	}
	poolConfig.AfterConnect = registerVectorTypes

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

func registerVectorTypes(ctx context.Context, conn *pgx.Conn) error {
	var present bool
	if err := conn.QueryRow(ctx, "SELECT to_regtype('vector') IS NOT NULL").Scan(&present); err != nil {
		return err
	}
	if !present {
		return nil
	}
	return pgxvec.RegisterTypes(ctx, conn)
}

// translate maps driver errors onto application errors.
func translate(err error, resource string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(resource)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return apperr.Conflict("%s already exists", resource)
		case pgForeignKeyViolation:
			return apperr.Validation("%s references a missing record", resource)
		case pgCheckViolation:
			return apperr.Validation("%s violates constraint %s", resource, pgErr.ConstraintName)
		case pgInvalidText:
			return apperr.Validation("malformed identifier for %s", resource)
		}
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return apperr.Unavailable(err, "database unavailable")
	}
	return fmt.Errorf("%s: %w", resource, err)
}

// queryRows runs a query and scans every row with scan.
func queryRows[T any](ctx context.Context, db *pgxpool.Pool, resource string, scan func(pgx.Row) (T, error), sql string, args ...any) ([]T, error) {
	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, translate(err, resource)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, translate(err, resource)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err, resource)
	}
	return out, nil
}

func clampLimit(limit, def, upper int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, upper)
}
