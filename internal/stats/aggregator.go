package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/careloop/clinic-scheduling/internal/availability"
	"github.com/careloop/clinic-scheduling/internal/booking"
)

// DoctorStats is the utilization breakdown for one doctor.
type DoctorStats struct {
	DoctorID        uuid.UUID `json:"doctor_id"`
	TotalSlots      int       `json:"total_slots"`
	BookedSlots     int       `json:"booked_slots"`
	UtilizationRate float64   `json:"utilization_rate"`
}

// AvailabilityStats combines slot supply with booking demand over a range.
type AvailabilityStats struct {
	From            time.Time     `json:"from"`
	To              time.Time     `json:"to"`
	TotalSlots      int           `json:"total_slots"`
	BookedSlots     int           `json:"booked_slots"`
	UtilizationRate float64       `json:"utilization_rate"`
	PerDoctor       []DoctorStats `json:"per_doctor"`
}

// Aggregator is a read-only reducer over the rule and appointment stores.
// It recomputes slots through the same generator the booking engine uses,
// so supply numbers can never drift from what is actually bookable.
type Aggregator struct {
	rules availability.Repository
	appts booking.Repository
	gen   availability.Generator
}

func NewAggregator(rules availability.Repository, appts booking.Repository) *Aggregator {
	return &Aggregator{rules: rules, appts: appts}
}

// GetAvailabilityStats computes utilization over [from, to], for one doctor
// when doctorID is set, otherwise for every doctor with rules in the tenant.
// A slot counts as booked when at least one non-cancelled appointment sits at
// its start time.
func (a *Aggregator) GetAvailabilityStats(ctx context.Context, doctorID *uuid.UUID, from, to time.Time) (*AvailabilityStats, error) {
	doctors, err := a.doctorsInScope(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	appts, err := a.appts.ListActiveInRange(ctx, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list appointments in range: %w", err)
	}

	type slotKey struct {
		doctor uuid.UUID
		date   string
		start  availability.TimeOfDay
	}
	occupied := make(map[slotKey]bool)
	for i := range appts {
		ap := &appts[i]
		occupied[slotKey{ap.DoctorID, ap.Date.Format("2006-01-02"), ap.StartTime}] = true
	}

	out := &AvailabilityStats{From: from, To: to}
	for _, doc := range doctors {
		rules, err := a.rules.ListActiveRules(ctx, doc, from, to)
		if err != nil {
			return nil, fmt.Errorf("list rules for doctor %s: %w", doc, err)
		}

		ds := DoctorStats{DoctorID: doc}
		for slot := range a.gen.Slots(doc, from, to, rules) {
			ds.TotalSlots++
			if occupied[slotKey{doc, slot.Date.Format("2006-01-02"), slot.StartTime}] {
				ds.BookedSlots++
			}
		}
		if ds.TotalSlots > 0 {
			ds.UtilizationRate = float64(ds.BookedSlots) / float64(ds.TotalSlots)
		}

		out.TotalSlots += ds.TotalSlots
		out.BookedSlots += ds.BookedSlots
		out.PerDoctor = append(out.PerDoctor, ds)
	}
	if out.TotalSlots > 0 {
		out.UtilizationRate = float64(out.BookedSlots) / float64(out.TotalSlots)
	}
	return out, nil
}

func (a *Aggregator) doctorsInScope(ctx context.Context, doctorID *uuid.UUID) ([]uuid.UUID, error) {
	if doctorID != nil {
		return []uuid.UUID{*doctorID}, nil
	}

	rules, err := a.rules.ListRulesForTenant(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenant rules: %w", err)
	}

	seen := make(map[uuid.UUID]bool)
	var doctors []uuid.UUID
	for i := range rules {
		if !seen[rules[i].DoctorID] {
			seen[rules[i].DoctorID] = true
			doctors = append(doctors, rules[i].DoctorID)
		}
	}
	return doctors, nil
}
