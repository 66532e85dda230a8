package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service ties rule validation to rule storage. Slot derivation lives here so
// UI, booking and stats all go through the same Generator and can never
// disagree about which slots exist.
type Service struct {
	repo      Repository
	validator *Validator
	gen       Generator
	log       zerolog.Logger
}

func NewService(repo Repository, validator *Validator, log zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		validator: validator,
		log:       log,
	}
}

// CreateRule validates a candidate rule against the doctor's existing rules
// and persists it. Conflicts are returned as *RuleConflict with the offending
// rule ID; nothing is written on failure.
func (s *Service) CreateRule(ctx context.Context, rule *Rule) (*Rule, error) {
	existing, err := s.repo.ListRulesForDoctor(ctx, rule.DoctorID)
	if err != nil {
		return nil, fmt.Errorf("list rules for doctor: %w", err)
	}

	if err := s.validator.Validate(Canonicalize(existing), rule); err != nil {
		s.log.Warn().
			Str("doctor_id", rule.DoctorID.String()).
			Int("day_of_week", rule.DayOfWeek).
			Err(err).
			Msg("availability rule rejected")
		return nil, err
	}

	created, err := s.repo.CreateRule(ctx, rule)
	if err != nil {
		return nil, fmt.Errorf("create rule: %w", err)
	}

	s.log.Info().
		Str("rule_id", created.ID.String()).
		Str("doctor_id", created.DoctorID.String()).
		Str("type", string(created.Type)).
		Msg("availability rule created")
	return created, nil
}

// ListRules returns the calling tenant's rules, optionally filtered to one doctor.
func (s *Service) ListRules(ctx context.Context, doctorID *uuid.UUID) ([]Rule, error) {
	if doctorID != nil {
		return s.repo.ListRulesForDoctor(ctx, *doctorID)
	}
	return s.repo.ListRulesForTenant(ctx)
}

// EndRule soft-invalidates a rule as of the given date.
func (s *Service) EndRule(ctx context.Context, id uuid.UUID, effectiveTo time.Time) error {
	if err := s.repo.EndRule(ctx, id, effectiveTo); err != nil {
		return err
	}
	s.log.Info().Str("rule_id", id.String()).Time("effective_to", effectiveTo).Msg("availability rule ended")
	return nil
}

// SlotsForRange loads the doctor's active rules and expands them into slots.
func (s *Service) SlotsForRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]TimeSlot, error) {
	rules, err := s.repo.ListActiveRules(ctx, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}
	return s.gen.Generate(doctorID, from, to, rules), nil
}

// SlotsForDate is SlotsForRange for a single day.
func (s *Service) SlotsForDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]TimeSlot, error) {
	return s.SlotsForRange(ctx, doctorID, date, date)
}

// RulesForDate returns the doctor's canonicalized rules effective on a date.
func (s *Service) RulesForDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Rule, error) {
	rules, err := s.repo.ListActiveRules(ctx, doctorID, date, date)
	if err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}
	return Canonicalize(rules), nil
}
