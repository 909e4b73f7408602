package repository

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videostore/rental-service/internal/config"
	"github.com/videostore/rental-service/internal/domain"
	"github.com/videostore/rental-service/internal/security"
)

func sampleRental() *domain.Rental {
	r := domain.NewRental(
		&domain.Customer{Name: "Joao"},
		[]domain.Movie{{Title: "Alien", StockCount: 3, RentalPrice: decimal.RequireFromString("4.50")}},
		time.Date(2017, time.April, 28, 0, 0, 0, 0, time.UTC),
		time.Date(2017, time.April, 29, 0, 0, 0, 0, time.UTC),
		decimal.RequireFromString("4.50"),
	)
	from := uuid.New()
	r.ExtendedFrom = &from
	return r
}

func TestRentalRow_RoundTripEncrypted(t *testing.T) {
	enc, err := security.NewFieldEncryptor(config.EncryptionConfig{
		EncryptionKeysBase64: "1:" + base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32))),
		CurrentKeyVersion:    1,
	})
	require.NoError(t, err)
	repo := &PostgresRepository{cipher: enc}
	rental := sampleRental()

	row, err := repo.toRow(rental)
	require.NoError(t, err)
	assert.NotEqual(t, "Joao", row.CustomerName)
	assert.JSONEq(t, `[{"title":"Alien","stock_count":3,"rental_price":"4.5"}]`, string(row.Movies))

	got, err := repo.fromRow(row)
	require.NoError(t, err)
	assert.Equal(t, "Joao", got.Customer.Name)
	assert.Equal(t, rental.ID, got.ID)
	assert.Equal(t, rental.ExtendedFrom, got.ExtendedFrom)
	require.Len(t, got.Movies, 1)
	assert.True(t, got.Movies[0].RentalPrice.Equal(decimal.RequireFromString("4.5")))
}

func TestRentalRow_PlainText(t *testing.T) {
	repo := &PostgresRepository{}

	row, err := repo.toRow(sampleRental())
	require.NoError(t, err)
	assert.Equal(t, "Joao", row.CustomerName)
}

func TestRentalRow_MissingCustomer(t *testing.T) {
	repo := &PostgresRepository{}
	rental := sampleRental()
	rental.Customer = nil

	_, err := repo.toRow(rental)
	assert.Error(t, err)
}

func TestRentalRow_CorruptMovies(t *testing.T) {
	repo := &PostgresRepository{}

	_, err := repo.fromRow(rentalRow{ID: uuid.New(), CustomerName: "x", Movies: []byte("{")})
	assert.Error(t, err)
}

var rentalColumns = []string{
	"id", "customer_name", "movies", "rental_date", "due_date", "amount",
	"extended_from", "returned_at", "created_at",
}

func newMockRepo(t *testing.T) (*PostgresRepository, pgxmock.PgxPoolIface) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return newPostgresRepository(mock, nil), mock
}

func rowValues(r *domain.Rental) []any {
	return []any{
		r.ID, r.Customer.Name, []byte(`[{"title":"Alien","stock_count":3,"rental_price":"0.99"}]`),
		r.RentalDate, r.DueDate, r.Amount, r.ExtendedFrom, r.ReturnedAt, r.CreatedAt,
	}
}

func TestSave_KeepsFullPrecision(t *testing.T) {
	repo, mock := newMockRepo(t)
	rental := sampleRental()
	rental.Amount = decimal.RequireFromString("2.7225")

	mock.ExpectExec("INSERT INTO rentals").
		WithArgs(rental.ID, "Joao", pgxmock.AnyArg(), rental.RentalDate, rental.DueDate,
			decimal.RequireFromString("2.7225"), rental.ExtendedFrom, rental.ReturnedAt, rental.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Save(context.Background(), rental))
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Contains(t, schema, "amount        NUMERIC NOT NULL")
}

func TestSave_Error(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("INSERT INTO rentals").WillReturnError(errors.New("connection reset"))

	err := repo.Save(context.Background(), sampleRental())
	assert.ErrorContains(t, err, "failed to save rental")
}

func TestFindPendingRentals(t *testing.T) {
	repo, mock := newMockRepo(t)
	rental := sampleRental()
	rental.Amount = decimal.RequireFromString("2.7225")

	mock.ExpectQuery(`FROM rentals\s+WHERE returned_at IS NULL`).
		WillReturnRows(pgxmock.NewRows(rentalColumns).AddRow(rowValues(rental)...))

	got, err := repo.FindPendingRentals(context.Background())

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rental.ID, got[0].ID)
	assert.Equal(t, "Joao", got[0].Customer.Name)
	assert.True(t, got[0].Amount.Equal(decimal.RequireFromString("2.7225")))
	assert.Equal(t, rental.DueDate, got[0].DueDate)
	assert.True(t, got[0].IsPending())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindPendingRentals_QueryError(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("FROM rentals").WillReturnError(errors.New("db down"))

	_, err := repo.FindPendingRentals(context.Background())
	assert.Error(t, err)
}

func TestGetRental(t *testing.T) {
	t.Run("Found", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		rental := sampleRental()
		mock.ExpectQuery(`WHERE id = \$1`).
			WithArgs(rental.ID).
			WillReturnRows(pgxmock.NewRows(rentalColumns).AddRow(rowValues(rental)...))

		got, err := repo.GetRental(context.Background(), rental.ID)

		require.NoError(t, err)
		assert.Equal(t, rental.ID, got.ID)
		assert.Equal(t, rental.ExtendedFrom, got.ExtendedFrom)
	})

	t.Run("Not found", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		id := uuid.New()
		mock.ExpectQuery(`WHERE id = \$1`).WithArgs(id).WillReturnError(pgx.ErrNoRows)

		_, err := repo.GetRental(context.Background(), id)

		assert.ErrorIs(t, err, domain.ErrRentalNotFound)
	})
}

func TestMarkReturned(t *testing.T) {
	at := time.Date(2017, time.April, 30, 17, 0, 0, 0, time.UTC)

	t.Run("Closes pending rental", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		id := uuid.New()
		mock.ExpectExec(`UPDATE rentals SET returned_at = \$1 WHERE id = \$2 AND returned_at IS NULL`).
			WithArgs(at, id).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, repo.MarkReturned(context.Background(), id, at))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("No pending rental", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		id := uuid.New()
		mock.ExpectExec("UPDATE rentals").
			WithArgs(at, id).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := repo.MarkReturned(context.Background(), id, at)
		assert.ErrorIs(t, err, domain.ErrRentalNotFound)
	})
}
