package availability

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// RuleConflict reports that a candidate rule collides with an existing one.
// The conflicting rule ID is always included so staff can resolve it; the
// engine never auto-merges.
type RuleConflict struct {
	ConflictingRuleID uuid.UUID
	Reason            string
}

func (c *RuleConflict) Error() string {
	return fmt.Sprintf("rule conflict with %s: %s", c.ConflictingRuleID, c.Reason)
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(v))
	for _, e := range v {
		msgs = append(msgs, e.Error())
	}
	return fmt.Sprintf("validation failed: [%s]", strings.Join(msgs, "; "))
}

// Validator enforces structural invariants on single rules and conflict
// invariants across a doctor's rule set. Pure; no storage access.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

// ValidateRule checks a single rule's structure: field ranges via tags, then
// the window invariants a tag cannot express.
func (v *Validator) ValidateRule(rule *Rule) error {
	var errs ValidationErrors

	if err := v.validate.Struct(rule); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				errs = append(errs, ValidationError{
					Field:   fe.Field(),
					Message: fmt.Sprintf("failed %q constraint", fe.Tag()),
				})
			}
		} else {
			return err
		}
	}

	if rule.StartTime >= rule.EndTime {
		errs = append(errs, ValidationError{
			Field:   "StartTime",
			Message: "start_time must be before end_time",
		})
	}
	if rule.EffectiveTo != nil && truncateToDay(*rule.EffectiveTo).Before(truncateToDay(rule.EffectiveFrom)) {
		errs = append(errs, ValidationError{
			Field:   "EffectiveTo",
			Message: "effective_to must not precede effective_from",
		})
	}
	if rule.Type != RuleLeave && rule.StartTime < rule.EndTime {
		window := int(rule.EndTime - rule.StartTime)
		if rule.SlotDurationMin+rule.BufferTimeMin > window {
			errs = append(errs, ValidationError{
				Field:   "SlotDurationMin",
				Message: "window too small to fit a single slot",
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Validate checks a candidate rule against a doctor's existing rules.
// Regular rules may not overlap other regular rules in both time window and
// effective range; a second exception rule over an already-covered range is
// rejected the same way. Exception and leave rules may overlap regular ones,
// since they take precedence at generation time.
func (v *Validator) Validate(existing []Rule, candidate *Rule) error {
	if err := v.ValidateRule(candidate); err != nil {
		return err
	}

	for i := range existing {
		e := &existing[i]
		if e.DoctorID != candidate.DoctorID || e.DayOfWeek != candidate.DayOfWeek {
			continue
		}
		if e.ID == candidate.ID {
			continue
		}
		if !effectiveRangesOverlap(e, candidate) {
			continue
		}

		switch {
		case candidate.Type == RuleRegular && e.Type == RuleRegular:
			if windowsOverlap(e, candidate) {
				return &RuleConflict{
					ConflictingRuleID: e.ID,
					Reason: fmt.Sprintf("regular rule %s-%s overlaps existing regular rule %s-%s",
						candidate.StartTime, candidate.EndTime, e.StartTime, e.EndTime),
				}
			}
		case candidate.Type == RuleException && e.Type == RuleException:
			return &RuleConflict{
				ConflictingRuleID: e.ID,
				Reason:            "an exception rule already covers this weekday and date range",
			}
		}
	}
	return nil
}

func windowsOverlap(a, b *Rule) bool {
	return a.StartTime < b.EndTime && b.StartTime < a.EndTime
}

type canonicalKey struct {
	doctorID uuid.UUID
	day      int
	start    TimeOfDay
	end      TimeOfDay
	ruleType RuleType
}

// Canonicalize collapses exact duplicate rules, keeping the earliest created.
// Upstream writers have no uniqueness constraint, so a retried write can leave
// identical rows that would double-count slots; this runs before every
// generation pass. The result is ordered by created_at for determinism.
func Canonicalize(rules []Rule) []Rule {
	seen := make(map[canonicalKey]int, len(rules))
	out := make([]Rule, 0, len(rules))

	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	for _, r := range sorted {
		key := canonicalKey{r.DoctorID, r.DayOfWeek, r.StartTime, r.EndTime, r.Type}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = len(out)
		out = append(out, r)
	}
	return out
}
