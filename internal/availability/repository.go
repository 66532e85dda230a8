package availability

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrRuleNotFound = errors.New("availability rule not found")

// Repository contains all DB interactions needed for availability rules.
// Every method scopes its query by the tenant ID carried in ctx.
type Repository interface {
	CreateRule(ctx context.Context, rule *Rule) (*Rule, error)
	GetRuleByID(ctx context.Context, id uuid.UUID) (*Rule, error)

	// ListRulesForDoctor returns every rule for the doctor, newest first.
	ListRulesForDoctor(ctx context.Context, doctorID uuid.UUID) ([]Rule, error)

	// ListActiveRules returns rules whose effective range intersects
	// [from, to]. Weekday filtering is the generator's job, not the store's.
	ListActiveRules(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Rule, error)

	// ListRulesForTenant returns all rules visible to the calling tenant.
	ListRulesForTenant(ctx context.Context) ([]Rule, error)

	// EndRule soft-invalidates a rule by setting effective_to. Rules are
	// never deleted or silently overwritten.
	EndRule(ctx context.Context, id uuid.UUID, effectiveTo time.Time) error
}
