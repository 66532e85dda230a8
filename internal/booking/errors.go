package booking

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/careloop/clinic-scheduling/internal/availability"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrSlotBeingBooked     = errors.New("slot is currently being booked, please retry")
)

// SlotFullError means the slot exists but every seat is taken. The caller
// should re-fetch available slots rather than retry blindly.
type SlotFullError struct {
	DoctorID  uuid.UUID
	Date      time.Time
	StartTime availability.TimeOfDay
	Capacity  int
}

func (e *SlotFullError) Error() string {
	return fmt.Sprintf("slot %s %s for doctor %s is full (capacity %d)",
		e.Date.Format("2006-01-02"), e.StartTime, e.DoctorID, e.Capacity)
}

// SlotUnavailableError means no bookable slot exists at the requested time:
// no rule produces it, a leave rule covers the date, or the buffered interval
// would overlap another appointment (in which case its ID is included).
type SlotUnavailableError struct {
	DoctorID                 uuid.UUID
	Date                     time.Time
	StartTime                availability.TimeOfDay
	Reason                   string
	ConflictingAppointmentID *uuid.UUID
}

func (e *SlotUnavailableError) Error() string {
	msg := fmt.Sprintf("no bookable slot at %s %s for doctor %s: %s",
		e.Date.Format("2006-01-02"), e.StartTime, e.DoctorID, e.Reason)
	if e.ConflictingAppointmentID != nil {
		msg += fmt.Sprintf(" (conflicts with appointment %s)", e.ConflictingAppointmentID)
	}
	return msg
}

// InvalidTransitionError reports an illegal status change; the stored record
// is left untouched.
type InvalidTransitionError struct {
	AppointmentID uuid.UUID
	From          Status
	To            Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s for appointment %s", e.From, e.To, e.AppointmentID)
}

// StorageError wraps a transient storage failure that survived the bounded
// retry loop. It is distinct from the validation errors above so callers can
// tell "your request was invalid" from "try again later".
type StorageError struct {
	Attempts int
	Err      error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure after %d attempts: %v", e.Attempts, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
