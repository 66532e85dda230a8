package booking

import (
	"time"

	"github.com/google/uuid"

	"github.com/careloop/clinic-scheduling/internal/availability"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

// allowedTransitions is the full appointment state machine. Anything not
// listed is rejected; terminal states have no outgoing edges.
var allowedTransitions = map[Status][]Status{
	StatusScheduled: {StatusConfirmed, StatusCancelled, StatusNoShow},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusNoShow},
}

// CanTransition reports whether from → to is a legal status change.
func CanTransition(from, to Status) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status admits no further transitions.
func (s Status) IsTerminal() bool {
	return len(allowedTransitions[s]) == 0
}

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

type Appointment struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	PatientID      uuid.UUID
	DoctorID       uuid.UUID
	Date           time.Time
	StartTime      availability.TimeOfDay
	DurationMin    int
	Status         Status
	Type           string
	Source         string
	Priority       string
	ChiefComplaint string
	Notes          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// StatusChange is one row of an appointment's status history, written in the
// same transaction as the status update itself.
type StatusChange struct {
	ID            int64
	AppointmentID uuid.UUID
	FromStatus    Status
	ToStatus      Status
	Reason        string
	ChangedAt     time.Time
}

// CreateRequest carries everything needed to book one appointment.
type CreateRequest struct {
	PatientID      uuid.UUID `validate:"required"`
	DoctorID       uuid.UUID `validate:"required"`
	Date           time.Time `validate:"required"`
	StartTime      availability.TimeOfDay
	DurationMin    int    `validate:"gt=0"`
	Type           string `validate:"required"`
	Source         string
	Priority       string
	ChiefComplaint string
	Notes          string
}
