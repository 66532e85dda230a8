package availability

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type RuleType string

const (
	RuleRegular   RuleType = "regular"
	RuleException RuleType = "exception"
	RuleLeave     RuleType = "leave"
)

// TimeOfDay is a clock time expressed as minutes since midnight.
// Rules and appointments store times this way so that slot arithmetic is
// plain integer math and never touches time zones.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM" (24h clock).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

func (t TimeOfDay) Add(minutes int) TimeOfDay {
	return t + TimeOfDay(minutes)
}

// Rule is a doctor's availability template: a recurring weekly window
// (regular), a one-off override for specific dates (exception), or a block
// that zeroes out availability (leave).
type Rule struct {
	ID                 uuid.UUID
	TenantID           uuid.UUID
	DoctorID           uuid.UUID
	DayOfWeek          int `validate:"min=0,max=6"`
	StartTime          TimeOfDay
	EndTime            TimeOfDay
	SlotDurationMin    int      `validate:"gt=0"`
	BufferTimeMin      int      `validate:"gte=0"`
	MaxPatientsPerSlot int      `validate:"gte=1"`
	Type               RuleType `validate:"oneof=regular exception leave"`
	EffectiveFrom      time.Time
	EffectiveTo        *time.Time
	Notes              string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// AppliesTo reports whether the rule is in effect on the given date.
// Effective bounds are inclusive; a nil EffectiveTo means open-ended.
func (r *Rule) AppliesTo(date time.Time) bool {
	if int(date.Weekday()) != r.DayOfWeek {
		return false
	}
	day := truncateToDay(date)
	if day.Before(truncateToDay(r.EffectiveFrom)) {
		return false
	}
	if r.EffectiveTo != nil && day.After(truncateToDay(*r.EffectiveTo)) {
		return false
	}
	return true
}

// effectiveRangesOverlap reports whether the effective date ranges of two
// rules intersect. Open-ended ranges overlap anything at or after their start.
func effectiveRangesOverlap(a, b *Rule) bool {
	aFrom, bFrom := truncateToDay(a.EffectiveFrom), truncateToDay(b.EffectiveFrom)
	if a.EffectiveTo != nil && truncateToDay(*a.EffectiveTo).Before(bFrom) {
		return false
	}
	if b.EffectiveTo != nil && truncateToDay(*b.EffectiveTo).Before(aFrom) {
		return false
	}
	return true
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// TimeSlot is a concrete bookable unit derived from a rule for one date.
// Slots are recomputed from the rule set on every query and never persisted,
// so a rule edit is reflected immediately everywhere.
type TimeSlot struct {
	DoctorID     uuid.UUID
	Date         time.Time
	StartTime    TimeOfDay
	EndTime      TimeOfDay
	Capacity     int
	BufferMin    int
	SourceRuleID uuid.UUID
}
