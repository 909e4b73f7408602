// Package domain contains the core business entities and value objects for the rental service.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Movie is a snapshot of a catalogue title at selection time
type Movie struct {
	Title       string          `json:"title"`
	StockCount  int             `json:"stock_count"`
	RentalPrice decimal.Decimal `json:"rental_price"`
}

// InStock returns true if at least one copy is available
func (m Movie) InStock() bool {
	return m.StockCount != 0
}

// Valid returns false for negative stock or a negative price
func (m Movie) Valid() bool {
	return m.StockCount >= 0 && !m.RentalPrice.IsNegative()
}

// Customer identifies who is renting
type Customer struct {
	Name string `json:"name"`
}

// Rental represents one or more movies rented by a customer
type Rental struct {
	ID       uuid.UUID `json:"id"`
	Customer *Customer `json:"customer"`
	Movies   []Movie   `json:"movies"`

	RentalDate time.Time       `json:"rental_date"`
	DueDate    time.Time       `json:"due_date"`
	Amount     decimal.Decimal `json:"amount"`

	// Set when this rental renews an earlier one
	ExtendedFrom *uuid.UUID `json:"extended_from,omitempty"`

	ReturnedAt *time.Time `json:"returned_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// NewRental creates a rental for the given customer and movies
func NewRental(customer *Customer, movies []Movie, rentalDate, dueDate time.Time, amount decimal.Decimal) *Rental {
	return &Rental{
		ID:         uuid.New(),
		Customer:   customer,
		Movies:     movies,
		RentalDate: rentalDate,
		DueDate:    dueDate,
		Amount:     amount,
		CreatedAt:  time.Now().UTC(),
	}
}

// Extend creates a renewed rental due days after today. The receiver is not modified.
func (r *Rental) Extend(today time.Time, days int) *Rental {
	ext := NewRental(r.Customer, r.Movies, r.RentalDate, AddDays(DateOf(today), days), r.Amount.Mul(decimal.NewFromInt(int64(days))))
	id := r.ID
	ext.ExtendedFrom = &id
	return ext
}

// IsPending returns true if the movies have not been returned yet
func (r *Rental) IsPending() bool {
	return r.ReturnedAt == nil
}

// IsOverdue returns true if the due date is strictly before today.
// Only calendar dates are compared, whatever location DueDate carries.
func (r *Rental) IsOverdue(today time.Time) bool {
	return DateIn(r.DueDate, today.Location()).Before(DateOf(today))
}

// FilterInStock returns the movies with available stock, keeping their order
func FilterInStock(movies []Movie) []Movie {
	available := make([]Movie, 0, len(movies))
	for _, m := range movies {
		if m.InStock() {
			available = append(available, m)
		}
	}
	return available
}

// DateOf truncates t to midnight of its calendar day in t's location
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DateIn returns t's calendar date as midnight in loc
func DateIn(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// AddDays moves a date by whole calendar days
func AddDays(date time.Time, days int) time.Time {
	return date.AddDate(0, 0, days)
}

// DueDate returns the day after rentalDate, pushed one more day when it lands on restDay.
// Only a single adjustment is applied.
func DueDate(rentalDate time.Time, restDay time.Weekday) time.Time {
	due := AddDays(DateOf(rentalDate), 1)
	if due.Weekday() == restDay {
		due = AddDays(due, 1)
	}
	return due
}
