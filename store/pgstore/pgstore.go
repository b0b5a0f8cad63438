package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	goSentinel "github.com/MrEthical07/goSentinel"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Store implements goSentinel.CredentialStore, goSentinel.TenantDirectory
// and goSentinel.AuditStore on PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects through the pgx database/sql driver and checks the
// connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, unavailable(err)
	}
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", goSentinel.ErrStoreUnavailable, err)
}

// affected maps a zero-row update to notFound.
func affected(res sql.Result, err error, notFound error) error {
	if err != nil {
		return unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timeOf(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
