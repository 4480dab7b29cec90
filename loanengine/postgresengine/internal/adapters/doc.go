// Package adapters provides database adapter implementations for the PostgreSQL loan engine.
//
// This package implements the adapter pattern to support multiple PostgreSQL database
// libraries: pgxpool.Pool, sql.DB, and sqlx.DB. All adapters provide equivalent
// functionality through a common DBAdapter interface, allowing the loan engine to work
// seamlessly with any supported database connection type.
//
// Because every loan operation mutates multiple rows (a loan and its copy), the
// adapters also expose transactions through the DBTx interface; the engine runs each
// operation inside exactly one transaction.
package adapters
