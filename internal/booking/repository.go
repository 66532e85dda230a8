package booking

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/careloop/clinic-scheduling/internal/availability"
)

// Repository contains all DB interactions needed by the booking engine.
// Every method scopes its query by the tenant ID carried in ctx.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// CountActiveAtSlot counts non-cancelled appointments at an exact slot
	// start. Only meaningful inside a transaction holding the slot lock.
	CountActiveAtSlot(ctx context.Context, doctorID uuid.UUID, date time.Time, start availability.TimeOfDay) (int, error)

	// ListActiveForDoctorDate returns the doctor's non-cancelled appointments
	// on a date, for the cross-slot overlap check.
	ListActiveForDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error)

	// ListActiveInRange returns non-cancelled appointments over [from, to],
	// optionally filtered to one doctor. Used by stats.
	ListActiveInRange(ctx context.Context, doctorID *uuid.UUID, from, to time.Time) ([]Appointment, error)

	// Insert creates the appointment row plus its initial status history
	// entry ("" -> scheduled).
	Insert(ctx context.Context, appt *Appointment) (*Appointment, error)

	// UpdateStatus is a compare-and-swap: the row changes only if its current
	// status equals from; a stale from on an existing row fails with
	// InvalidTransitionError, not a not-found. A history row is written
	// alongside.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, reason string) (*Appointment, error)

	ListStatusHistory(ctx context.Context, id uuid.UUID) ([]StatusChange, error)

	// InTransaction runs fn against a repository bound to a single
	// transaction; fn's writes commit together or not at all.
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error

	// LockSlot serializes bookings per (doctor, slot start) for the duration
	// of the surrounding transaction. Must be called inside InTransaction.
	LockSlot(ctx context.Context, doctorID uuid.UUID, date time.Time, start availability.TimeOfDay) error
}
