package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careloop/clinic-scheduling/internal/tenant"
)

const ruleColumns = `id, tenant_id, doctor_id, day_of_week, start_minutes, end_minutes,
	slot_duration_minutes, buffer_time_minutes, max_patients_per_slot,
	availability_type, effective_from, effective_to, notes, created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanRule(row pgx.Row) (*Rule, error) {
	var r Rule
	var startMin, endMin int
	var effectiveTo *time.Time

	err := row.Scan(
		&r.ID,
		&r.TenantID,
		&r.DoctorID,
		&r.DayOfWeek,
		&startMin,
		&endMin,
		&r.SlotDurationMin,
		&r.BufferTimeMin,
		&r.MaxPatientsPerSlot,
		&r.Type,
		&r.EffectiveFrom,
		&effectiveTo,
		&r.Notes,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}

	r.StartTime = TimeOfDay(startMin)
	r.EndTime = TimeOfDay(endMin)
	r.EffectiveTo = effectiveTo
	return &r, nil
}

func (p *PgRepository) CreateRule(ctx context.Context, rule *Rule) (*Rule, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	id := uuid.New()

	row := p.pool.QueryRow(ctx, `
		INSERT INTO doctor_availability (
			id, tenant_id, doctor_id, day_of_week, start_minutes, end_minutes,
			slot_duration_minutes, buffer_time_minutes, max_patients_per_slot,
			availability_type, effective_from, effective_to, notes, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now(), now())
		RETURNING `+ruleColumns+`
	`, id, tenantID, rule.DoctorID, rule.DayOfWeek, int(rule.StartTime), int(rule.EndTime),
		rule.SlotDurationMin, rule.BufferTimeMin, rule.MaxPatientsPerSlot,
		rule.Type, rule.EffectiveFrom, rule.EffectiveTo, rule.Notes)

	created, err := scanRule(row)
	if err != nil {
		return nil, fmt.Errorf("insert availability rule: %w", err)
	}
	return created, nil
}

func (p *PgRepository) GetRuleByID(ctx context.Context, id uuid.UUID) (*Rule, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	row := p.pool.QueryRow(ctx, `
		SELECT `+ruleColumns+`
		FROM doctor_availability
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID)
	return scanRule(row)
}

func (p *PgRepository) ListRulesForDoctor(ctx context.Context, doctorID uuid.UUID) ([]Rule, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM doctor_availability
		WHERE doctor_id = $1 AND tenant_id = $2
		ORDER BY created_at DESC
	`, doctorID, tenantID)
	if err != nil {
		return nil, err
	}
	return collectRules(rows)
}

func (p *PgRepository) ListActiveRules(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Rule, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM doctor_availability
		WHERE doctor_id = $1
		  AND tenant_id = $2
		  AND effective_from <= $3
		  AND (effective_to IS NULL OR effective_to >= $4)
		ORDER BY created_at ASC
	`, doctorID, tenantID, to, from)
	if err != nil {
		return nil, err
	}
	return collectRules(rows)
}

func (p *PgRepository) ListRulesForTenant(ctx context.Context) ([]Rule, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM doctor_availability
		WHERE tenant_id = $1
		ORDER BY doctor_id, day_of_week, start_minutes
	`, tenantID)
	if err != nil {
		return nil, err
	}
	return collectRules(rows)
}

func (p *PgRepository) EndRule(ctx context.Context, id uuid.UUID, effectiveTo time.Time) error {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}

	tag, err := p.pool.Exec(ctx, `
		UPDATE doctor_availability
		SET effective_to = $3,
		    updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID, effectiveTo)
	if err != nil {
		return fmt.Errorf("end availability rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func collectRules(rows pgx.Rows) ([]Rule, error) {
	defer rows.Close()

	var result []Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
