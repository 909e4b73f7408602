package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/videostore/rental-service/internal/config"
	"github.com/videostore/rental-service/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS rentals (
	id            UUID PRIMARY KEY,
	customer_name TEXT NOT NULL,
	movies        JSONB NOT NULL,
	rental_date   DATE NOT NULL,
	due_date      DATE NOT NULL,
	amount        NUMERIC NOT NULL CHECK (amount >= 0),
	extended_from UUID REFERENCES rentals (id),
	returned_at   TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rentals_pending ON rentals (due_date) WHERE returned_at IS NULL;`

// FieldCipher encrypts sensitive columns before they are written
type FieldCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(encrypted string) (string, error)
}

// pgxPool is the subset of *pgxpool.Pool the repository uses
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

type PostgresRepository struct {
	pool   pgxPool
	cipher FieldCipher
}

// NewPostgresRepository connects to Postgres. cipher may be nil, in which case
// customer names are stored as plain text.
func NewPostgresRepository(ctx context.Context, cfg config.DatabaseConfig, cipher FieldCipher) (*PostgresRepository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = cfg.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return newPostgresRepository(pool, cipher), nil
}

func newPostgresRepository(pool pgxPool, cipher FieldCipher) *PostgresRepository {
	return &PostgresRepository{pool: pool, cipher: cipher}
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

// EnsureSchema creates the rentals table if it does not exist
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Save stores a new rental
func (r *PostgresRepository) Save(ctx context.Context, rental *domain.Rental) error {
	row, err := r.toRow(rental)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO rentals (
			id, customer_name, movies, rental_date, due_date, amount,
			extended_from, returned_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.pool.Exec(ctx, query,
		row.ID, row.CustomerName, row.Movies, row.RentalDate, row.DueDate, row.Amount,
		row.ExtendedFrom, row.ReturnedAt, row.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save rental: %w", err)
	}

	return nil
}

// FindPendingRentals returns rentals that have not been returned
func (r *PostgresRepository) FindPendingRentals(ctx context.Context) ([]*domain.Rental, error) {
	query := `
		SELECT id, customer_name, movies, rental_date, due_date, amount,
		       extended_from, returned_at, created_at
		FROM rentals
		WHERE returned_at IS NULL`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending rentals: %w", err)
	}
	defer rows.Close()

	var rentals []*domain.Rental
	for rows.Next() {
		var row rentalRow
		if err := scanRow(rows, &row); err != nil {
			return nil, fmt.Errorf("failed to scan rental: %w", err)
		}
		rental, err := r.fromRow(row)
		if err != nil {
			return nil, err
		}
		rentals = append(rentals, rental)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rentals: %w", err)
	}

	return rentals, nil
}

// GetRental retrieves a rental by ID
func (r *PostgresRepository) GetRental(ctx context.Context, id uuid.UUID) (*domain.Rental, error) {
	query := `
		SELECT id, customer_name, movies, rental_date, due_date, amount,
		       extended_from, returned_at, created_at
		FROM rentals
		WHERE id = $1`

	var row rentalRow
	if err := scanRow(r.pool.QueryRow(ctx, query, id), &row); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRentalNotFound
		}
		return nil, fmt.Errorf("failed to get rental: %w", err)
	}

	return r.fromRow(row)
}

// MarkReturned closes a rental so it is no longer pending
func (r *PostgresRepository) MarkReturned(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE rentals SET returned_at = $1 WHERE id = $2 AND returned_at IS NULL`

	tag, err := r.pool.Exec(ctx, query, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark rental returned: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRentalNotFound
	}

	return nil
}

// rentalRow is the column representation of a rental
type rentalRow struct {
	ID           uuid.UUID
	CustomerName string
	Movies       []byte
	RentalDate   time.Time
	DueDate      time.Time
	Amount       decimal.Decimal
	ExtendedFrom *uuid.UUID
	ReturnedAt   *time.Time
	CreatedAt    time.Time
}

func scanRow(row pgx.Row, dst *rentalRow) error {
	return row.Scan(
		&dst.ID, &dst.CustomerName, &dst.Movies, &dst.RentalDate, &dst.DueDate, &dst.Amount,
		&dst.ExtendedFrom, &dst.ReturnedAt, &dst.CreatedAt,
	)
}

func (r *PostgresRepository) toRow(rental *domain.Rental) (rentalRow, error) {
	if rental.Customer == nil {
		return rentalRow{}, fmt.Errorf("rental %s has no customer", rental.ID)
	}

	name := rental.Customer.Name
	if r.cipher != nil {
		enc, err := r.cipher.Encrypt(name)
		if err != nil {
			return rentalRow{}, fmt.Errorf("failed to encrypt customer name: %w", err)
		}
		name = enc
	}

	movies, err := json.Marshal(rental.Movies)
	if err != nil {
		return rentalRow{}, fmt.Errorf("failed to encode movies: %w", err)
	}

	return rentalRow{
		ID:           rental.ID,
		CustomerName: name,
		Movies:       movies,
		RentalDate:   rental.RentalDate,
		DueDate:      rental.DueDate,
		Amount:       rental.Amount,
		ExtendedFrom: rental.ExtendedFrom,
		ReturnedAt:   rental.ReturnedAt,
		CreatedAt:    rental.CreatedAt,
	}, nil
}

func (r *PostgresRepository) fromRow(row rentalRow) (*domain.Rental, error) {
	name := row.CustomerName
	if r.cipher != nil {
		dec, err := r.cipher.Decrypt(name)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt customer name for rental %s: %w", row.ID, err)
		}
		name = dec
	}

	var movies []domain.Movie
	if err := json.Unmarshal(row.Movies, &movies); err != nil {
		return nil, fmt.Errorf("failed to decode movies for rental %s: %w", row.ID, err)
	}

	return &domain.Rental{
		ID:           row.ID,
		Customer:     &domain.Customer{Name: name},
		Movies:       movies,
		RentalDate:   row.RentalDate,
		DueDate:      row.DueDate,
		Amount:       row.Amount,
		ExtendedFrom: row.ExtendedFrom,
		ReturnedAt:   row.ReturnedAt,
		CreatedAt:    row.CreatedAt,
	}, nil
}
