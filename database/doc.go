// Package database provides connection management for YugabyteDB (YSQL),
// PostgreSQL, MySQL and SQLite on top of Bun: configuration, dialects,
// health checks, query logging, schema creation and driver error
// classification.
package database
