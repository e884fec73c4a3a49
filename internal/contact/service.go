// Package contact implements per-user contact management over a shared,
// email-deduplicated contact table.
package contact

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkostenko/carnet/internal/apperr"
	"github.com/dkostenko/carnet/internal/contact/entity"
)

// DefaultBirthdayWindowDays is the upcoming-birthdays lookahead.
const DefaultBirthdayWindowDays = 7

// Repository is the persistence boundary for contacts and ownership rows.
type Repository interface {
	Create(ctx context.Context, c *entity.Contact, ownerID int64) (*entity.Contact, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]*entity.Contact, error)
	GetForOwner(ctx context.Context, contactID, ownerID int64) (*entity.Contact, error)
	Update(ctx context.Context, c *entity.Contact) error
	Delete(ctx context.Context, contactID, ownerID int64) error
	BirthdaysBetween(ctx context.Context, ownerID int64, startMMDD, endMMDD string) ([]*entity.Contact, error)
}

// Input carries the mutable contact fields for create and update.
type Input struct {
	FirstName      string
	LastName       string
	Email          string
	Phone          string
	Birthday       *entity.Date
	AdditionalInfo *string
}

func (in Input) validate() error {
	if strings.TrimSpace(in.FirstName) == "" ||
		strings.TrimSpace(in.LastName) == "" ||
		strings.TrimSpace(in.Phone) == "" {
		return apperr.New(apperr.KindValidation, "first_name, last_name and phone are required")
	}
	email := strings.TrimSpace(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return apperr.New(apperr.KindValidation, "a valid email is required")
	}
	return nil
}

// Service holds business logic for the contact operations.
type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Create attaches a contact to the owner. Calling twice with the same email
// and owner yields one contact row and one ownership row.
func (s *Service) Create(ctx context.Context, in Input, ownerID int64) (*entity.Contact, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	c := &entity.Contact{
		FirstName:      strings.TrimSpace(in.FirstName),
		LastName:       strings.TrimSpace(in.LastName),
		Email:          strings.ToLower(strings.TrimSpace(in.Email)),
		Phone:          strings.TrimSpace(in.Phone),
		Birthday:       in.Birthday,
		AdditionalInfo: in.AdditionalInfo,
	}
	return s.repo.Create(ctx, c, ownerID)
}

// List returns the owner's contacts, order unspecified.
func (s *Service) List(ctx context.Context, ownerID int64) ([]*entity.Contact, error) {
	return s.repo.ListByOwner(ctx, ownerID)
}

// Get returns the contact only within the owner's scope.
func (s *Service) Get(ctx context.Context, contactID, ownerID int64) (*entity.Contact, error) {
	c, err := s.repo.GetForOwner(ctx, contactID, ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.KindNotFound, "contact not found")
		}
		return nil, err
	}
	return c, nil
}

// Update replaces all mutable fields of a contact in the owner's scope.
func (s *Service) Update(ctx context.Context, contactID int64, in Input, ownerID int64) (*entity.Contact, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	c, err := s.Get(ctx, contactID, ownerID)
	if err != nil {
		return nil, err
	}
	c.FirstName = strings.TrimSpace(in.FirstName)
	c.LastName = strings.TrimSpace(in.LastName)
	c.Email = strings.ToLower(strings.TrimSpace(in.Email))
	c.Phone = strings.TrimSpace(in.Phone)
	c.Birthday = in.Birthday
	c.AdditionalInfo = in.AdditionalInfo
	if err := s.repo.Update(ctx, c); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.KindNotFound, "contact not found")
		}
		return nil, err
	}
	return c, nil
}

// Delete removes the contact from the owner's view. The shared contact row
// survives while other owners still reference it.
func (s *Service) Delete(ctx context.Context, contactID, ownerID int64) error {
	if _, err := s.Get(ctx, contactID, ownerID); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, contactID, ownerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.New(apperr.KindNotFound, "contact not found")
		}
		return err
	}
	return nil
}

// UpcomingBirthdays returns the owner's contacts whose birthday (month and
// day, year ignored) falls within [today, today+windowDays] inclusive. A
// window crossing Dec 31 is split into two month-day ranges so the
// wraparound is handled.
func (s *Service) UpcomingBirthdays(ctx context.Context, ownerID int64, windowDays int) ([]*entity.Contact, error) {
	if windowDays <= 0 {
		windowDays = DefaultBirthdayWindowDays
	}
	if windowDays >= 365 {
		return nil, apperr.New(apperr.KindValidation, "window must be shorter than a year")
	}
	today := s.now()
	end := today.AddDate(0, 0, windowDays)

	start := monthDay(today)
	stop := monthDay(end)
	if start <= stop {
		return s.repo.BirthdaysBetween(ctx, ownerID, start, stop)
	}

	// window wraps past Dec 31
	head, err := s.repo.BirthdaysBetween(ctx, ownerID, start, "1231")
	if err != nil {
		return nil, err
	}
	tail, err := s.repo.BirthdaysBetween(ctx, ownerID, "0101", stop)
	if err != nil {
		return nil, err
	}
	return append(head, tail...), nil
}

func monthDay(t time.Time) string {
	return fmt.Sprintf("%02d%02d", int(t.Month()), t.Day())
}
