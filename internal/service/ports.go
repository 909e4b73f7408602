package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/videostore/rental-service/internal/domain"
)

// RentalRepository persists rentals
type RentalRepository interface {
	Save(ctx context.Context, rental *domain.Rental) error
	FindPendingRentals(ctx context.Context) ([]*domain.Rental, error)
	GetRental(ctx context.Context, id uuid.UUID) (*domain.Rental, error)
}

// CreditChecker reports whether a customer may not rent
type CreditChecker interface {
	IsDenylisted(ctx context.Context, customer *domain.Customer) (bool, error)
}

// Notifier sends overdue notices
type Notifier interface {
	NotifyOverdue(ctx context.Context, customer *domain.Customer) error
}

// PricingPolicy computes the amount due for the movies of a rental
type PricingPolicy interface {
	Price(movies []domain.Movie) decimal.Decimal
}

// Clock is the only source of "now" for the service
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in a fixed location
type SystemClock struct {
	Location *time.Location
}

// NewSystemClock creates a clock; a nil location means UTC
func NewSystemClock(loc *time.Location) SystemClock {
	if loc == nil {
		loc = time.UTC
	}
	return SystemClock{Location: loc}
}

func (c SystemClock) Now() time.Time {
	return time.Now().In(c.Location)
}
