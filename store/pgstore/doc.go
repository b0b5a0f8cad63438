// Package pgstore keeps identities, tenants and the audit log in PostgreSQL
// through database/sql and the pgx driver.
//
// Security-state transitions are single conditional UPDATE statements, so
// the row lock serializes concurrent failures and backup-code consumption
// without explicit transactions. The schema ships embedded in Migrations and
// is applied with golang-migrate (see Migrate and cmd/sentinel-migrate).
package pgstore
