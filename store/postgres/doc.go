// Package postgres is a store.Backend over PostgreSQL using pgx/v5.
//
// Active records and revoked tokens live in two tables. Revoke deletes the
// matched rows, inserts their registry entries and the successor inside one
// transaction, so no reader observes a token both active and revoked.
// Expired rows are not read and are removed by Sweep.
//
// Schema changes ship as embedded golang-migrate migrations; call Migrate
// before first use.
package postgres
