package availability

import (
	"iter"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Generator expands availability rules into concrete time slots. It is pure
// and deterministic: the same rules and date range always produce the same
// sequence, so slots are derived on every query instead of being stored.
type Generator struct{}

// Slots returns a lazy, restartable sequence of slots for the doctor over
// [from, to], both dates inclusive. Rules are canonicalized first so that
// duplicate rows from retried writes cannot double-count.
func (g Generator) Slots(doctorID uuid.UUID, from, to time.Time, rules []Rule) iter.Seq[TimeSlot] {
	canonical := Canonicalize(rules)
	return func(yield func(TimeSlot) bool) {
		start := truncateToDay(from)
		end := truncateToDay(to)
		for date := start; !date.After(end); date = date.AddDate(0, 0, 1) {
			for _, slot := range g.ForDate(doctorID, date, canonical) {
				if !yield(slot) {
					return
				}
			}
		}
	}
}

// Generate materializes Slots into a slice.
func (g Generator) Generate(doctorID uuid.UUID, from, to time.Time, rules []Rule) []TimeSlot {
	var out []TimeSlot
	for slot := range g.Slots(doctorID, from, to, rules) {
		out = append(out, slot)
	}
	return out
}

// ForDate produces the slots for a single date. Precedence: a leave rule
// zeroes the date out entirely; otherwise exception rules replace all regular
// rules; otherwise every regular rule contributes its own window. The rules
// passed in are assumed canonicalized.
func (g Generator) ForDate(doctorID uuid.UUID, date time.Time, rules []Rule) []TimeSlot {
	resolved := resolveForDate(doctorID, date, rules)

	var out []TimeSlot
	for i := range resolved {
		rule := &resolved[i]
		for start := rule.StartTime; int(rule.EndTime-start) >= rule.SlotDurationMin; {
			out = append(out, TimeSlot{
				DoctorID:     doctorID,
				Date:         truncateToDay(date),
				StartTime:    start,
				EndTime:      start.Add(rule.SlotDurationMin),
				Capacity:     rule.MaxPatientsPerSlot,
				BufferMin:    rule.BufferTimeMin,
				SourceRuleID: rule.ID,
			})
			start = start.Add(rule.SlotDurationMin + rule.BufferTimeMin)
		}
	}

	// Windows are walked in canonical rule order; clock order is what
	// callers see. Stable, so ties keep rule order.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartTime < out[j].StartTime
	})
	return out
}

// OnLeave reports whether a leave rule covers the date.
func (g Generator) OnLeave(doctorID uuid.UUID, date time.Time, rules []Rule) bool {
	for i := range rules {
		r := &rules[i]
		if r.DoctorID == doctorID && r.Type == RuleLeave && r.AppliesTo(date) {
			return true
		}
	}
	return false
}

func resolveForDate(doctorID uuid.UUID, date time.Time, rules []Rule) []Rule {
	var regular, exception []Rule
	for i := range rules {
		r := rules[i]
		if r.DoctorID != doctorID || !r.AppliesTo(date) {
			continue
		}
		switch r.Type {
		case RuleLeave:
			return nil
		case RuleException:
			exception = append(exception, r)
		case RuleRegular:
			regular = append(regular, r)
		}
	}
	if len(exception) > 0 {
		return exception
	}
	return regular
}
