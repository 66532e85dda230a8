package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careloop/clinic-scheduling/internal/availability"
	"github.com/careloop/clinic-scheduling/internal/config"
	redisclient "github.com/careloop/clinic-scheduling/internal/redis"
	"github.com/careloop/clinic-scheduling/internal/tenant"
)

// Service is the booking engine: it books, cancels and transitions
// appointments against slots derived from availability rules, holding the
// capacity and overlap invariants under concurrent load.
type Service struct {
	appts    Repository
	avail    *availability.Service
	gen      availability.Generator
	locker   redisclient.Locker
	validate *validator.Validate
	cfg      config.Config
	log      zerolog.Logger
}

func NewService(appts Repository, avail *availability.Service, locker redisclient.Locker, cfg config.Config, log zerolog.Logger) *Service {
	return &Service{
		appts:    appts,
		avail:    avail,
		locker:   locker,
		validate: validator.New(),
		cfg:      cfg,
		log:      log,
	}
}

// CreateAppointment books one appointment. The requested (date, time) must be
// a slot start produced by the generator for that doctor. The capacity check
// and the insert run inside one transaction holding the per-slot lock, so two
// concurrent requests can never both observe a free seat and both insert.
func (s *Service) CreateAppointment(ctx context.Context, req CreateRequest) (*Appointment, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, availability.ValidationErrors{{Field: "request", Message: err.Error()}}
	}

	slot, _, err := s.resolveSlot(ctx, req.DoctorID, req.Date, req.StartTime)
	if err != nil {
		return nil, err
	}

	var created *Appointment
	lockKey := redisclient.SlotKey(req.DoctorID, req.Date, int(req.StartTime))

	err = s.locker.WithSlotLock(ctx, lockKey, func(lockCtx context.Context) error {
		return s.withRetry(lockCtx, func(ctx context.Context) error {
			return s.appts.InTransaction(ctx, func(ctx context.Context, tx Repository) error {
				appt, err := s.bookInTx(ctx, tx, req, slot)
				if err != nil {
					return err
				}
				created = appt
				return nil
			})
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", created.ID.String()).
		Str("doctor_id", req.DoctorID.String()).
		Str("patient_id", req.PatientID.String()).
		Str("slot", fmt.Sprintf("%s %s", req.Date.Format("2006-01-02"), req.StartTime)).
		Msg("appointment booked")
	return created, nil
}

// bookInTx performs the capacity and overlap checks and the insert under the
// transaction's slot lock.
func (s *Service) bookInTx(ctx context.Context, tx Repository, req CreateRequest, slot *availability.TimeSlot) (*Appointment, error) {
	if err := tx.LockSlot(ctx, req.DoctorID, req.Date, req.StartTime); err != nil {
		return nil, err
	}

	count, err := tx.CountActiveAtSlot(ctx, req.DoctorID, req.Date, req.StartTime)
	if err != nil {
		return nil, err
	}
	if count >= slot.Capacity {
		return nil, &SlotFullError{
			DoctorID:  req.DoctorID,
			Date:      req.Date,
			StartTime: req.StartTime,
			Capacity:  slot.Capacity,
		}
	}

	// Appointments at other slot starts must stay clear of the requested
	// interval once the rule's buffer is added on both sides. This catches
	// boundary drift from manually overridden durations.
	others, err := tx.ListActiveForDoctorDate(ctx, req.DoctorID, req.Date)
	if err != nil {
		return nil, err
	}
	reqStart := int(req.StartTime) - slot.BufferMin
	reqEnd := int(req.StartTime) + req.DurationMin + slot.BufferMin
	for i := range others {
		o := &others[i]
		if o.StartTime == req.StartTime {
			continue
		}
		oStart, oEnd := int(o.StartTime), int(o.StartTime)+o.DurationMin
		if reqStart < oEnd && oStart < reqEnd {
			conflictID := o.ID
			return nil, &SlotUnavailableError{
				DoctorID:                 req.DoctorID,
				Date:                     req.Date,
				StartTime:                req.StartTime,
				Reason:                   "requested interval overlaps another appointment",
				ConflictingAppointmentID: &conflictID,
			}
		}
	}

	return tx.Insert(ctx, &Appointment{
		PatientID:      req.PatientID,
		DoctorID:       req.DoctorID,
		Date:           req.Date,
		StartTime:      req.StartTime,
		DurationMin:    req.DurationMin,
		Status:         StatusScheduled,
		Type:           req.Type,
		Source:         req.Source,
		Priority:       req.Priority,
		ChiefComplaint: req.ChiefComplaint,
		Notes:          req.Notes,
	})
}

// CancelAppointment transitions an appointment to cancelled. Cancelling an
// already-cancelled appointment is a no-op success.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	var result *Appointment
	err := s.withRetry(ctx, func(ctx context.Context) error {
		return s.appts.InTransaction(ctx, func(ctx context.Context, tx Repository) error {
			appt, err := tx.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if appt.Status == StatusCancelled {
				result = appt
				return nil
			}
			if !CanTransition(appt.Status, StatusCancelled) {
				return &InvalidTransitionError{AppointmentID: id, From: appt.Status, To: StatusCancelled}
			}
			updated, err := tx.UpdateStatus(ctx, id, appt.Status, StatusCancelled, reason)
			if err != nil {
				return err
			}
			result = updated
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("appointment_id", id.String()).Msg("appointment cancelled")
	return result, nil
}

// UpdateStatus applies the state machine; an illegal transition fails with
// InvalidTransitionError and leaves the record unchanged.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, to Status, reason string) (*Appointment, error) {
	if !to.Valid() {
		return nil, &InvalidTransitionError{AppointmentID: id, To: to}
	}

	var result *Appointment
	err := s.withRetry(ctx, func(ctx context.Context) error {
		return s.appts.InTransaction(ctx, func(ctx context.Context, tx Repository) error {
			appt, err := tx.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if !CanTransition(appt.Status, to) {
				return &InvalidTransitionError{AppointmentID: id, From: appt.Status, To: to}
			}
			updated, err := tx.UpdateStatus(ctx, id, appt.Status, to, reason)
			if err != nil {
				return err
			}
			result = updated
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", id.String()).
		Str("to", string(to)).
		Msg("appointment status updated")
	return result, nil
}

// RescheduleAppointment cancels the appointment and books a new one in a
// single transaction. If the new slot is unavailable the transaction rolls
// back and the original appointment is untouched.
func (s *Service) RescheduleAppointment(ctx context.Context, id uuid.UUID, newDate time.Time, newStart availability.TimeOfDay) (*Appointment, error) {
	existing, err := s.appts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(existing.Status, StatusCancelled) {
		return nil, &InvalidTransitionError{AppointmentID: id, From: existing.Status, To: StatusCancelled}
	}

	slot, _, err := s.resolveSlot(ctx, existing.DoctorID, newDate, newStart)
	if err != nil {
		return nil, err
	}

	req := CreateRequest{
		PatientID:      existing.PatientID,
		DoctorID:       existing.DoctorID,
		Date:           newDate,
		StartTime:      newStart,
		DurationMin:    existing.DurationMin,
		Type:           existing.Type,
		Source:         existing.Source,
		Priority:       existing.Priority,
		ChiefComplaint: existing.ChiefComplaint,
		Notes:          existing.Notes,
	}

	var created *Appointment
	lockKey := redisclient.SlotKey(existing.DoctorID, newDate, int(newStart))

	err = s.locker.WithSlotLock(ctx, lockKey, func(lockCtx context.Context) error {
		return s.withRetry(lockCtx, func(ctx context.Context) error {
			return s.appts.InTransaction(ctx, func(ctx context.Context, tx Repository) error {
				appt, err := tx.GetByID(ctx, id)
				if err != nil {
					return err
				}
				if !CanTransition(appt.Status, StatusCancelled) {
					return &InvalidTransitionError{AppointmentID: id, From: appt.Status, To: StatusCancelled}
				}
				if _, err := tx.UpdateStatus(ctx, id, appt.Status, StatusCancelled, "rescheduled"); err != nil {
					return err
				}
				next, err := s.bookInTx(ctx, tx, req, slot)
				if err != nil {
					return err
				}
				created = next
				return nil
			})
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	s.log.Info().
		Str("old_appointment_id", id.String()).
		Str("new_appointment_id", created.ID.String()).
		Msg("appointment rescheduled")
	return created, nil
}

// GetAppointment loads one appointment.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appts.GetByID(ctx, id)
}

// StatusHistory lists the recorded status changes of an appointment.
func (s *Service) StatusHistory(ctx context.Context, id uuid.UUID) ([]StatusChange, error) {
	return s.appts.ListStatusHistory(ctx, id)
}

// AvailableSlot pairs a generated slot with its remaining capacity.
type AvailableSlot struct {
	availability.TimeSlot
	Booked    int
	Remaining int
}

// AvailableSlots returns the doctor's slots over [from, to] that still have
// remaining capacity: generated supply minus booked demand.
func (s *Service) AvailableSlots(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]AvailableSlot, error) {
	slots, err := s.avail.SlotsForRange(ctx, doctorID, from, to)
	if err != nil {
		return nil, err
	}

	appts, err := s.appts.ListActiveInRange(ctx, &doctorID, from, to)
	if err != nil {
		return nil, err
	}

	type slotKey struct {
		date  string
		start availability.TimeOfDay
	}
	booked := make(map[slotKey]int)
	for i := range appts {
		a := &appts[i]
		booked[slotKey{a.Date.Format("2006-01-02"), a.StartTime}]++
	}

	var out []AvailableSlot
	for _, slot := range slots {
		n := booked[slotKey{slot.Date.Format("2006-01-02"), slot.StartTime}]
		if n >= slot.Capacity {
			continue
		}
		out = append(out, AvailableSlot{
			TimeSlot:  slot,
			Booked:    n,
			Remaining: slot.Capacity - n,
		})
	}
	return out, nil
}

// resolveSlot finds the generated slot starting at the requested time, or
// explains why none exists.
func (s *Service) resolveSlot(ctx context.Context, doctorID uuid.UUID, date time.Time, start availability.TimeOfDay) (*availability.TimeSlot, []availability.Rule, error) {
	rules, err := s.avail.RulesForDate(ctx, doctorID, date)
	if err != nil {
		return nil, nil, err
	}

	if s.gen.OnLeave(doctorID, date, rules) {
		return nil, nil, &SlotUnavailableError{
			DoctorID:  doctorID,
			Date:      date,
			StartTime: start,
			Reason:    "doctor is on leave",
		}
	}

	for _, slot := range s.gen.ForDate(doctorID, date, rules) {
		if slot.StartTime == start {
			return &slot, rules, nil
		}
	}
	return nil, nil, &SlotUnavailableError{
		DoctorID:  doctorID,
		Date:      date,
		StartTime: start,
		Reason:    "no slot starts at the requested time",
	}
}

// withRetry retries fn on transient storage failures with linear backoff.
// Domain errors (capacity, overlap, transitions, not found) reflect real
// contention or invalid input and are surfaced immediately; a blind retry
// would race the by-then-changed slot state.
func (s *Service) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := s.cfg.BookingRetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		lastErr = err

		if attempt < attempts {
			s.log.Warn().
				Int("attempt", attempt).
				Err(err).
				Msg("transient storage error, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.BookingRetryBackoff * time.Duration(attempt)):
			}
		}
	}
	return &StorageError{Attempts: attempts, Err: lastErr}
}

// isTransient reports whether an error is worth retrying. Anything the engine
// classified itself is final.
func isTransient(err error) bool {
	var (
		slotFull    *SlotFullError
		unavailable *SlotUnavailableError
		transition  *InvalidTransitionError
		conflict    *availability.RuleConflict
		validation  availability.ValidationErrors
	)
	switch {
	case errors.As(err, &slotFull),
		errors.As(err, &unavailable),
		errors.As(err, &transition),
		errors.As(err, &conflict),
		errors.As(err, &validation),
		errors.Is(err, ErrAppointmentNotFound),
		errors.Is(err, availability.ErrRuleNotFound),
		errors.Is(err, tenant.ErrMissingTenant),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
