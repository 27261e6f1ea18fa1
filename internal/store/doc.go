// Package store implements the log store and snapshot store on top of
// Postgres via pgx: one small Go interface naming the operations a
// caller needs per entity, backed by a concrete type that owns the
// connection pool.
package store
