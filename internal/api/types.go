package api

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/careloop/clinic-scheduling/internal/availability"
	"github.com/careloop/clinic-scheduling/internal/booking"
)

const dateLayout = "2006-01-02"

type CreateAvailabilityRequest struct {
	DoctorID           string `json:"doctor_id"`
	DayOfWeek          int    `json:"day_of_week"`
	StartTime          string `json:"start_time"`
	EndTime            string `json:"end_time"`
	SlotDurationMin    int    `json:"slot_duration_minutes"`
	BufferTimeMin      int    `json:"buffer_time_minutes"`
	MaxPatientsPerSlot int    `json:"max_patients_per_slot"`
	AvailabilityType   string `json:"availability_type"`
	EffectiveFrom      string `json:"effective_from"`
	EffectiveTo        string `json:"effective_to,omitempty"`
	Notes              string `json:"notes,omitempty"`
}

func (r *CreateAvailabilityRequest) toRule() (*availability.Rule, error) {
	doctorID, err := uuid.Parse(r.DoctorID)
	if err != nil {
		return nil, fmt.Errorf("doctor_id must be a valid UUID")
	}
	start, err := availability.ParseTimeOfDay(r.StartTime)
	if err != nil {
		return nil, err
	}
	end, err := availability.ParseTimeOfDay(r.EndTime)
	if err != nil {
		return nil, err
	}
	from, err := time.Parse(dateLayout, r.EffectiveFrom)
	if err != nil {
		return nil, fmt.Errorf("effective_from must be YYYY-MM-DD")
	}
	var to *time.Time
	if r.EffectiveTo != "" {
		t, err := time.Parse(dateLayout, r.EffectiveTo)
		if err != nil {
			return nil, fmt.Errorf("effective_to must be YYYY-MM-DD")
		}
		to = &t
	}

	return &availability.Rule{
		DoctorID:           doctorID,
		DayOfWeek:          r.DayOfWeek,
		StartTime:          start,
		EndTime:            end,
		SlotDurationMin:    r.SlotDurationMin,
		BufferTimeMin:      r.BufferTimeMin,
		MaxPatientsPerSlot: r.MaxPatientsPerSlot,
		Type:               availability.RuleType(r.AvailabilityType),
		EffectiveFrom:      from,
		EffectiveTo:        to,
		Notes:              r.Notes,
	}, nil
}

type RuleResponse struct {
	ID                 uuid.UUID `json:"id"`
	DoctorID           uuid.UUID `json:"doctor_id"`
	DayOfWeek          int       `json:"day_of_week"`
	StartTime          string    `json:"start_time"`
	EndTime            string    `json:"end_time"`
	SlotDurationMin    int       `json:"slot_duration_minutes"`
	BufferTimeMin      int       `json:"buffer_time_minutes"`
	MaxPatientsPerSlot int       `json:"max_patients_per_slot"`
	AvailabilityType   string    `json:"availability_type"`
	EffectiveFrom      string    `json:"effective_from"`
	EffectiveTo        string    `json:"effective_to,omitempty"`
	Notes              string    `json:"notes,omitempty"`
}

func toRuleResponse(r *availability.Rule) RuleResponse {
	resp := RuleResponse{
		ID:                 r.ID,
		DoctorID:           r.DoctorID,
		DayOfWeek:          r.DayOfWeek,
		StartTime:          r.StartTime.String(),
		EndTime:            r.EndTime.String(),
		SlotDurationMin:    r.SlotDurationMin,
		BufferTimeMin:      r.BufferTimeMin,
		MaxPatientsPerSlot: r.MaxPatientsPerSlot,
		AvailabilityType:   string(r.Type),
		EffectiveFrom:      r.EffectiveFrom.Format(dateLayout),
		Notes:              r.Notes,
	}
	if r.EffectiveTo != nil {
		resp.EffectiveTo = r.EffectiveTo.Format(dateLayout)
	}
	return resp
}

type SlotRangeRequest struct {
	DoctorID string `json:"doctor_id"`
	FromDate string `json:"from_date"`
	ToDate   string `json:"to_date"`
}

func (r *SlotRangeRequest) parse() (uuid.UUID, time.Time, time.Time, error) {
	doctorID, err := uuid.Parse(r.DoctorID)
	if err != nil {
		return uuid.Nil, time.Time{}, time.Time{}, fmt.Errorf("doctor_id must be a valid UUID")
	}
	from, err := time.Parse(dateLayout, r.FromDate)
	if err != nil {
		return uuid.Nil, time.Time{}, time.Time{}, fmt.Errorf("from_date must be YYYY-MM-DD")
	}
	to, err := time.Parse(dateLayout, r.ToDate)
	if err != nil {
		return uuid.Nil, time.Time{}, time.Time{}, fmt.Errorf("to_date must be YYYY-MM-DD")
	}
	if to.Before(from) {
		return uuid.Nil, time.Time{}, time.Time{}, fmt.Errorf("to_date must not precede from_date")
	}
	return doctorID, from, to, nil
}

type SlotResponse struct {
	DoctorID     uuid.UUID `json:"doctor_id"`
	Date         string    `json:"date"`
	StartTime    string    `json:"start_time"`
	EndTime      string    `json:"end_time"`
	Capacity     int       `json:"capacity"`
	Booked       int       `json:"booked,omitempty"`
	Remaining    int       `json:"remaining,omitempty"`
	SourceRuleID uuid.UUID `json:"source_rule_id"`
}

func toSlotResponse(s *availability.TimeSlot) SlotResponse {
	return SlotResponse{
		DoctorID:     s.DoctorID,
		Date:         s.Date.Format(dateLayout),
		StartTime:    s.StartTime.String(),
		EndTime:      s.EndTime.String(),
		Capacity:     s.Capacity,
		SourceRuleID: s.SourceRuleID,
	}
}

type CreateAppointmentRequest struct {
	PatientID       string `json:"patient_id"`
	DoctorID        string `json:"doctor_id"`
	AppointmentDate string `json:"appointment_date"`
	AppointmentTime string `json:"appointment_time"`
	DurationMin     int    `json:"duration_minutes"`
	Type            string `json:"appointment_type"`
	Source          string `json:"appointment_source,omitempty"`
	Priority        string `json:"priority,omitempty"`
	ChiefComplaint  string `json:"chief_complaint,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

func (r *CreateAppointmentRequest) toCreateRequest() (booking.CreateRequest, error) {
	patientID, err := uuid.Parse(r.PatientID)
	if err != nil {
		return booking.CreateRequest{}, fmt.Errorf("patient_id must be a valid UUID")
	}
	doctorID, err := uuid.Parse(r.DoctorID)
	if err != nil {
		return booking.CreateRequest{}, fmt.Errorf("doctor_id must be a valid UUID")
	}
	date, err := time.Parse(dateLayout, r.AppointmentDate)
	if err != nil {
		return booking.CreateRequest{}, fmt.Errorf("appointment_date must be YYYY-MM-DD")
	}
	start, err := availability.ParseTimeOfDay(r.AppointmentTime)
	if err != nil {
		return booking.CreateRequest{}, err
	}

	return booking.CreateRequest{
		PatientID:      patientID,
		DoctorID:       doctorID,
		Date:           date,
		StartTime:      start,
		DurationMin:    r.DurationMin,
		Type:           r.Type,
		Source:         r.Source,
		Priority:       r.Priority,
		ChiefComplaint: r.ChiefComplaint,
		Notes:          r.Notes,
	}, nil
}

type CancelAppointmentRequest struct {
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason,omitempty"`
}

type UpdateStatusRequest struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
}

type RescheduleRequest struct {
	AppointmentID string `json:"appointment_id"`
	NewDate       string `json:"new_date"`
	NewTime       string `json:"new_time"`
}

type AppointmentResponse struct {
	ID              uuid.UUID `json:"id"`
	PatientID       uuid.UUID `json:"patient_id"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	AppointmentDate string    `json:"appointment_date"`
	AppointmentTime string    `json:"appointment_time"`
	DurationMin     int       `json:"duration_minutes"`
	Status          string    `json:"status"`
	Type            string    `json:"appointment_type,omitempty"`
	Source          string    `json:"appointment_source,omitempty"`
	Priority        string    `json:"priority,omitempty"`
	ChiefComplaint  string    `json:"chief_complaint,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		DoctorID:        a.DoctorID,
		AppointmentDate: a.Date.Format(dateLayout),
		AppointmentTime: a.StartTime.String(),
		DurationMin:     a.DurationMin,
		Status:          string(a.Status),
		Type:            a.Type,
		Source:          a.Source,
		Priority:        a.Priority,
		ChiefComplaint:  a.ChiefComplaint,
		Notes:           a.Notes,
		CreatedAt:       a.CreatedAt,
	}
}

type ErrorResponse struct {
	Error   string         `json:"error"`
	Details string         `json:"details,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}
