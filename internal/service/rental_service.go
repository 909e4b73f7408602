package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/videostore/rental-service/internal/domain"
)

var tracer = otel.Tracer("github.com/videostore/rental-service/internal/service")

type RentalService struct {
	repo     RentalRepository
	credit   CreditChecker
	notifier Notifier
	pricing  PricingPolicy
	clock    Clock
	restDay  time.Weekday
	logger   *zap.Logger
}

// Option customizes a RentalService
type Option func(*RentalService)

// WithPricing replaces the default tiered pricing
func WithPricing(p PricingPolicy) Option {
	return func(s *RentalService) { s.pricing = p }
}

// WithClock replaces the system clock
func WithClock(c Clock) Option {
	return func(s *RentalService) { s.clock = c }
}

// WithRestDay sets the weekday on which nothing is ever due
func WithRestDay(d time.Weekday) Option {
	return func(s *RentalService) { s.restDay = d }
}

func NewRentalService(
	repo RentalRepository,
	credit CreditChecker,
	notifier Notifier,
	logger *zap.Logger,
	opts ...Option,
) *RentalService {
	s := &RentalService{
		repo:     repo,
		credit:   credit,
		notifier: notifier,
		pricing:  domain.NewTieredPricing(nil),
		clock:    NewSystemClock(time.UTC),
		restDay:  time.Sunday,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RentMovies rents every in-stock movie of the list to the customer
func (s *RentalService) RentMovies(ctx context.Context, customer *domain.Customer, movies []domain.Movie) (*domain.Rental, error) {
	ctx, span := tracer.Start(ctx, "RentalService.RentMovies")
	defer span.End()

	// 1. Validate input
	if customer == nil {
		return nil, domain.NewValidationError(domain.MsgCustomerRequired)
	}
	if len(movies) == 0 {
		return nil, domain.NewValidationError(domain.MsgMovieListRequired)
	}
	for _, m := range movies {
		if !m.Valid() {
			return nil, domain.NewValidationError(domain.MsgInvalidMovie).WithDetails("title", m.Title)
		}
	}

	// 2. Keep what can be rented
	available := domain.FilterInStock(movies)
	if len(available) == 0 {
		return nil, domain.NewOutOfStockError().WithDetails("requested", len(movies))
	}

	// 3. Price and schedule
	rentalDate := domain.DateOf(s.clock.Now())
	rental := domain.NewRental(
		customer,
		available,
		rentalDate,
		domain.DueDate(rentalDate, s.restDay),
		s.pricing.Price(available),
	)
	span.SetAttributes(
		attribute.String("rental.id", rental.ID.String()),
		attribute.Int("rental.movies", len(available)),
		attribute.String("rental.amount", rental.Amount.String()),
	)

	// 4. Credit check
	denied, err := s.credit.IsDenylisted(ctx, customer)
	if err != nil {
		s.logger.Warn("Credit check failed", zap.String("customer", customer.Name), zap.Error(err))
		span.SetStatus(codes.Error, "credit check failed")
		return nil, domain.NewCreditCheckUnavailableError()
	}
	if denied {
		s.logger.Info("Rental denied", zap.String("customer", customer.Name))
		return nil, domain.NewDeniedCustomerError()
	}

	// 5. Persist
	if err := s.repo.Save(ctx, rental); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to save rental: %w", err)
	}

	s.logger.Info("Rental created",
		zap.String("rental_id", rental.ID.String()),
		zap.String("customer", customer.Name),
		zap.Int("movies", len(available)),
		zap.String("amount", rental.Amount.String()),
		zap.Time("due_date", rental.DueDate),
	)

	return rental, nil
}

// NotifyOverdue sends one notice per pending rental that is past its due date.
// The first notifier error stops the run.
func (s *RentalService) NotifyOverdue(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "RentalService.NotifyOverdue")
	defer span.End()

	rentals, err := s.repo.FindPendingRentals(ctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to load pending rentals: %w", err)
	}

	today := domain.DateOf(s.clock.Now())
	sent := 0
	for _, r := range rentals {
		if !r.IsOverdue(today) {
			continue
		}
		if err := s.notifier.NotifyOverdue(ctx, r.Customer); err != nil {
			span.RecordError(err)
			return err
		}
		sent++
	}

	span.SetAttributes(attribute.Int("overdue.notified", sent))
	s.logger.Info("Overdue notices sent", zap.Int("pending", len(rentals)), zap.Int("notified", sent))
	return nil
}

// ExtendRental saves a renewed copy of rental due days from today
func (s *RentalService) ExtendRental(ctx context.Context, rental *domain.Rental, days int) (*domain.Rental, error) {
	ctx, span := tracer.Start(ctx, "RentalService.ExtendRental")
	defer span.End()

	if rental == nil {
		return nil, domain.NewValidationError(domain.MsgRentalRequired)
	}
	if days <= 0 {
		return nil, domain.NewValidationError(domain.MsgExtensionDaysPositive).WithDetails("days", days)
	}

	ext := rental.Extend(s.clock.Now(), days)
	if err := s.repo.Save(ctx, ext); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to save extended rental: %w", err)
	}

	s.logger.Info("Rental extended",
		zap.String("rental_id", ext.ID.String()),
		zap.String("extended_from", rental.ID.String()),
		zap.Int("days", days),
		zap.String("amount", ext.Amount.String()),
	)

	return ext, nil
}

// GetRental retrieves a rental
func (s *RentalService) GetRental(ctx context.Context, id uuid.UUID) (*domain.Rental, error) {
	return s.repo.GetRental(ctx, id)
}
