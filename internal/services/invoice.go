package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"invoicing-backend/internal/models"
	"invoicing-backend/internal/repository"
)

// InvoicePaymentWindow is how long after its date an invoice stays payable.
const InvoicePaymentWindow = 5 * 24 * time.Hour

const maxInvoiceAmount = 99999999.99

var errInvoiceNotFound = &NotFoundError{Message: "Invoice not found"}

type invoiceRepository interface {
	Create(ctx context.Context, inv *models.Invoice) error
	List(ctx context.Context, limit, offset int) ([]*models.Invoice, int, error)
	GetByID(ctx context.Context, id int64) (*models.Invoice, error)
	Update(ctx context.Context, inv *models.Invoice) error
	ToggleDone(ctx context.Context, id int64) (bool, error)
	Delete(ctx context.Context, id int64) error
}

type InvoiceService struct {
	repo  invoiceRepository
	clock Clock
	loc   *time.Location
}

func NewInvoiceService(repo invoiceRepository, clock Clock, loc *time.Location) *InvoiceService {
	if clock == nil {
		clock = SystemClock{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &InvoiceService{repo: repo, clock: clock, loc: loc}
}

func (s *InvoiceService) Create(ctx context.Context, userID uuid.UUID, req models.InvoiceRequest) (*models.InvoiceView, error) {
	inv, err := invoiceFromRequest(req)
	if err != nil {
		return nil, err
	}
	inv.CreatedBy = userID

	if err := s.repo.Create(ctx, inv); err != nil {
		return nil, err
	}
	return s.Get(ctx, inv.ID)
}

func (s *InvoiceService) List(ctx context.Context, limit, offset int) ([]*models.InvoiceView, int, error) {
	invoices, total, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	views := make([]*models.InvoiceView, 0, len(invoices))
	for _, inv := range invoices {
		views = append(views, s.View(inv))
	}
	return views, total, nil
}

func (s *InvoiceService) Get(ctx context.Context, id int64) (*models.InvoiceView, error) {
	inv, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, errInvoiceNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.View(inv), nil
}

func (s *InvoiceService) Update(ctx context.Context, id int64, req models.InvoiceRequest) (*models.InvoiceView, error) {
	inv, err := invoiceFromRequest(req)
	if err != nil {
		return nil, err
	}
	inv.ID = id

	if err := s.repo.Update(ctx, inv); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errInvoiceNotFound
		}
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *InvoiceService) ToggleDone(ctx context.Context, id int64) (bool, error) {
	done, err := s.repo.ToggleDone(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return false, errInvoiceNotFound
	}
	return done, err
}

func (s *InvoiceService) Delete(ctx context.Context, id int64) error {
	err := s.repo.Delete(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return errInvoiceNotFound
	}
	return err
}

// View attaches the expiration date, color and status as of today in the service zone.
func (s *InvoiceService) View(inv *models.Invoice) *models.InvoiceView {
	today := s.clock.Now().In(s.loc)
	days := DaysUntilExpiration(inv.Date, today)
	return &models.InvoiceView{
		Invoice:          inv,
		ExpirationDate:   ExpirationDate(inv.Date).Format("2006-01-02"),
		ExpirationColor:  ExpirationColor(days),
		ExpirationStatus: ExpirationStatus(days),
	}
}

func ExpirationDate(invoiceDate time.Time) time.Time {
	return civilDate(invoiceDate).Add(InvoicePaymentWindow)
}

// DaysUntilExpiration is negative once the invoice has expired.
func DaysUntilExpiration(invoiceDate, today time.Time) int {
	return int(ExpirationDate(invoiceDate).Sub(civilDate(today)).Hours() / 24)
}

func ExpirationColor(daysRemaining int) string {
	switch {
	case daysRemaining >= 3:
		return "green"
	case daysRemaining >= 1:
		return "orange"
	default:
		return "red"
	}
}

func ExpirationStatus(daysRemaining int) string {
	switch {
	case daysRemaining >= 3:
		return fmt.Sprintf("%d days remaining", daysRemaining)
	case daysRemaining >= 1:
		return fmt.Sprintf("%d day(s) remaining - Expiring soon", daysRemaining)
	case daysRemaining == 0:
		return "Expires today"
	default:
		return fmt.Sprintf("Expired %d day(s) ago", -daysRemaining)
	}
}

// civilDate drops the clock and zone so date arithmetic is whole days.
func civilDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func invoiceFromRequest(req models.InvoiceRequest) (*models.Invoice, error) {
	fieldErrors := make(map[string]string)

	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		fieldErrors["date"] = "Date must be YYYY-MM-DD"
	}
	amount, err := strconv.ParseFloat(req.Amount, 64)
	if err != nil || math.IsNaN(amount) || amount < 0 || amount > maxInvoiceAmount {
		fieldErrors["amount"] = "Amount must be between 0 and 99999999.99"
	}
	if len(fieldErrors) > 0 {
		return nil, &ValidationError{Fields: fieldErrors}
	}

	return &models.Invoice{
		InvoiceNo:   req.InvoiceNo,
		ClientName:  req.ClientName,
		Amount:      req.Amount,
		Date:        date,
		Status:      req.Status,
		Description: req.Description,
		IsDone:      req.IsDone,
	}, nil
}
