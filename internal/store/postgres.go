package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/dreamware/polystore/internal/model"
)

// uniqueViolation is the Postgres SQLSTATE for a unique-constraint hit.
const uniqueViolation = "23505"

// PostgresStore implements RelationalStore against PostgreSQL. All
// statements are parameterized; nothing caller-supplied is spliced into
// SQL text.
type PostgresStore struct {
	db *sql.DB
}

// DialPostgres opens a connection pool for the given DSN and verifies it
// with a ping before returning.
func DialPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func mapPqError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return ErrDuplicateKey
	}
	return err
}

// InsertUserRecord inserts one USERS row.
func (s *PostgresStore) InsertUserRecord(ctx context.Context, r model.UserRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, first_name, last_name) VALUES ($1, $2, $3)`,
		r.Username, r.FirstName, r.LastName)
	if err != nil {
		return mapPqError(err)
	}
	return nil
}

// InsertProductRecord inserts one PRODUCTS row.
func (s *PostgresStore) InsertProductRecord(ctx context.Context, r model.ProductRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO products (product_id, price, name) VALUES ($1, $2, $3)`,
		r.ProductID, r.Price, r.Name)
	if err != nil {
		return mapPqError(err)
	}
	return nil
}

// InsertTransactionRecord inserts one TRANSACTIONS row.
func (s *PostgresStore) InsertTransactionRecord(ctx context.Context, r model.TransactionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions
			(transaction_id, username, product_id, card_num, address, city, state, zip)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.TransactionID, r.Username, r.ProductID, r.CardNum, r.Address, r.City, r.State, r.Zip)
	if err != nil {
		return mapPqError(err)
	}
	return nil
}

// FindTransaction fetches a transaction row by id.
func (s *PostgresStore) FindTransaction(ctx context.Context, transactionID int) (*model.TransactionRecord, error) {
	var r model.TransactionRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT transaction_id, username, product_id, card_num, address, city, state, zip
			FROM transactions WHERE transaction_id = $1`,
		transactionID).
		Scan(&r.TransactionID, &r.Username, &r.ProductID, &r.CardNum,
			&r.Address, &r.City, &r.State, &r.Zip)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoDocument
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
