// Package config provides database connection configuration for tests,
// covering all supported adapter flavors (pgx pool, database/sql, sqlx).
package config
