package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// PostgresStore implements Store for PostgreSQL
type PostgresStore struct {
	db *sql.DB
	tx *sql.Tx
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	if s.tx != nil {
		return nil
	}
	return s.db.Close()
}

// InTransaction runs fn under serializable isolation, retrying on
// serialization failures. Nested calls run in the enclosing
// transaction.
func (s *PostgresStore) InTransaction(ctx context.Context, fn func(Store) error) error {
	if s.tx != nil {
		return fn(s)
	}

	const maxAttempts = 5

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if !isSerializationFailure(err) {
			return err
		}
	}
	return err
}

func (s *PostgresStore) runTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&PostgresStore{db: s.db, tx: tx}); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001"
	}
	return false
}

// getDB returns tx if in transaction, otherwise db
func (s *PostgresStore) getDB() interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
} {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

func isDuplicateKey(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate key")
}

// jsonText is a nullable jsonb column holder for struct fields.
type jsonText struct {
	v interface{}
}

// Value implements driver.Valuer
func (j jsonText) Value() (driver.Value, error) {
	if j.v == nil {
		return nil, nil
	}
	return json.Marshal(j.v)
}

// jsonScan unmarshals a jsonb column into dst, leaving dst untouched
// for NULL.
func jsonScan(src []byte, dst interface{}) error {
	if len(src) == 0 {
		return nil
	}
	return json.Unmarshal(src, dst)
}
