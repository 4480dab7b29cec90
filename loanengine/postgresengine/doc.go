// Package postgresengine provides the PostgreSQL implementation of the loan
// lifecycle and copy allocation engine.
//
// The Engine owns every loan status transition, allocates and releases
// physical copies, and runs the overdue sweep. Each operation executes
// inside exactly one database transaction; copy reservation is a conditional
// UPDATE whose rows-affected count decides between success and
// loanengine.ErrCopyUnavailable, so two concurrent approvals of the same
// copy can never both succeed.
//
// Supported database libraries: pgxpool.Pool, sql.DB, and sqlx.DB, selected
// through the constructor used (NewEngineFromPGXPool, NewEngineFromSQLDB,
// NewEngineFromSQLX). Behavior is identical across adapters.
package postgresengine
