package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careloop/clinic-scheduling/internal/availability"
	"github.com/careloop/clinic-scheduling/internal/booking"
	"github.com/careloop/clinic-scheduling/internal/config"
	"github.com/careloop/clinic-scheduling/internal/stats"
	"github.com/careloop/clinic-scheduling/internal/tenant"
)

type memRules struct {
	mu    sync.Mutex
	rules []availability.Rule
}

func (m *memRules) requireTenant(ctx context.Context) error {
	_, err := tenant.FromContext(ctx)
	return err
}

func (m *memRules) CreateRule(ctx context.Context, rule *availability.Rule) (*availability.Rule, error) {
	if err := m.requireTenant(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r := *rule
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	m.rules = append(m.rules, r)
	return &r, nil
}

func (m *memRules) GetRuleByID(ctx context.Context, id uuid.UUID) (*availability.Rule, error) {
	if err := m.requireTenant(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rules {
		if m.rules[i].ID == id {
			r := m.rules[i]
			return &r, nil
		}
	}
	return nil, availability.ErrRuleNotFound
}

func (m *memRules) ListRulesForDoctor(ctx context.Context, doctorID uuid.UUID) ([]availability.Rule, error) {
	if err := m.requireTenant(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []availability.Rule
	for _, r := range m.rules {
		if r.DoctorID == doctorID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRules) ListActiveRules(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]availability.Rule, error) {
	if err := m.requireTenant(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []availability.Rule
	for _, r := range m.rules {
		if r.DoctorID != doctorID || r.EffectiveFrom.After(to) {
			continue
		}
		if r.EffectiveTo != nil && r.EffectiveTo.Before(from) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *memRules) ListRulesForTenant(ctx context.Context) ([]availability.Rule, error) {
	if err := m.requireTenant(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]availability.Rule(nil), m.rules...), nil
}

func (m *memRules) EndRule(ctx context.Context, id uuid.UUID, effectiveTo time.Time) error {
	if err := m.requireTenant(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rules {
		if m.rules[i].ID == id {
			to := effectiveTo
			m.rules[i].EffectiveTo = &to
			return nil
		}
	}
	return availability.ErrRuleNotFound
}

// memAppts serializes everything on one mutex; failures in the booking path
// occur before any write, so no rollback machinery is needed here.
type memAppts struct {
	mu      sync.Mutex
	appts   map[uuid.UUID]booking.Appointment
	history []booking.StatusChange
	inTx    bool
}

func newMemAppts() *memAppts {
	return &memAppts{appts: make(map[uuid.UUID]booking.Appointment)}
}

func (m *memAppts) GetByID(ctx context.Context, id uuid.UUID) (*booking.Appointment, error) {
	if _, err := tenant.FromContext(ctx); err != nil {
		return nil, err
	}
	a, ok := m.appts[id]
	if !ok {
		return nil, booking.ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *memAppts) CountActiveAtSlot(ctx context.Context, doctorID uuid.UUID, date time.Time, start availability.TimeOfDay) (int, error) {
	count := 0
	for _, a := range m.appts {
		if a.DoctorID == doctorID && a.Date.Equal(date) && a.StartTime == start && a.Status != booking.StatusCancelled {
			count++
		}
	}
	return count, nil
}

func (m *memAppts) ListActiveForDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]booking.Appointment, error) {
	var out []booking.Appointment
	for _, a := range m.appts {
		if a.DoctorID == doctorID && a.Date.Equal(date) && a.Status != booking.StatusCancelled {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memAppts) ListActiveInRange(ctx context.Context, doctorID *uuid.UUID, from, to time.Time) ([]booking.Appointment, error) {
	var out []booking.Appointment
	for _, a := range m.appts {
		if doctorID != nil && a.DoctorID != *doctorID {
			continue
		}
		if a.Date.Before(from) || a.Date.After(to) || a.Status == booking.StatusCancelled {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (m *memAppts) Insert(ctx context.Context, appt *booking.Appointment) (*booking.Appointment, error) {
	a := *appt
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	m.appts[a.ID] = a
	m.history = append(m.history, booking.StatusChange{
		AppointmentID: a.ID, ToStatus: a.Status, Reason: "created", ChangedAt: a.CreatedAt,
	})
	return &a, nil
}

func (m *memAppts) UpdateStatus(ctx context.Context, id uuid.UUID, from, to booking.Status, reason string) (*booking.Appointment, error) {
	a, ok := m.appts[id]
	if !ok {
		return nil, booking.ErrAppointmentNotFound
	}
	if a.Status != from {
		return nil, &booking.InvalidTransitionError{AppointmentID: id, From: a.Status, To: to}
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	m.appts[id] = a
	m.history = append(m.history, booking.StatusChange{
		AppointmentID: id, FromStatus: from, ToStatus: to, Reason: reason, ChangedAt: a.UpdatedAt,
	})
	return &a, nil
}

func (m *memAppts) ListStatusHistory(ctx context.Context, id uuid.UUID) ([]booking.StatusChange, error) {
	var out []booking.StatusChange
	for _, c := range m.history {
		if c.AppointmentID == id {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memAppts) InTransaction(ctx context.Context, fn func(ctx context.Context, tx booking.Repository) error) error {
	if m.inTx {
		return fn(ctx, m)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memAppts{appts: m.appts, history: m.history, inTx: true}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.history = tx.history
	return nil
}

func (m *memAppts) LockSlot(ctx context.Context, doctorID uuid.UUID, date time.Time, start availability.TimeOfDay) error {
	return nil
}

type passLocker struct{}

func (passLocker) WithSlotLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type testAPI struct {
	handler  http.Handler
	tenantID uuid.UUID
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	rules := &memRules{}
	appts := newMemAppts()
	availSvc := availability.NewService(rules, availability.NewValidator(), zerolog.Nop())
	bookSvc := booking.NewService(appts, availSvc, passLocker{}, config.Config{
		BookingRetryAttempts: 1,
		BookingRetryBackoff:  time.Millisecond,
	}, zerolog.Nop())
	agg := stats.NewAggregator(rules, appts)

	h := NewSchedulingHandler(availSvc, bookSvc, agg, zerolog.Nop())
	mux := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			h.Query(w, r)
			return
		}
		h.Command(w, r)
	})

	return &testAPI{handler: TenantMiddleware(mux), tenantID: uuid.New()}
}

func (a *testAPI) do(t *testing.T, method, target string, body any, withTenant bool) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if withTenant {
		req.Header.Set("X-Tenant-ID", a.tenantID.String())
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func (a *testAPI) createRule(t *testing.T, doctorID uuid.UUID) {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/scheduling", map[string]any{
		"action":                "create_availability",
		"doctor_id":             doctorID.String(),
		"day_of_week":           1,
		"start_time":            "09:00",
		"end_time":              "12:00",
		"slot_duration_minutes": 30,
		"buffer_time_minutes":   0,
		"max_patients_per_slot": 1,
		"availability_type":     "regular",
		"effective_from":        "2025-01-01",
	}, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestTenantHeaderRequired(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/api/scheduling", nil, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing_tenant", decodeError(t, rec).Error)
}

func TestTenantHeaderMustBeUUID(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/scheduling", nil)
	req.Header.Set("X-Tenant-ID", "not-a-uuid")
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_tenant", decodeError(t, rec).Error)
}

func TestQueryWithoutActionListsCapabilities(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/api/scheduling", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var listing struct {
		Queries  []string `json:"queries"`
		Commands []string `json:"commands"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&listing))
	assert.Contains(t, listing.Queries, "availabilities")
	assert.Contains(t, listing.Commands, "create_appointment")
}

func TestUnknownCommandRejected(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/scheduling", map[string]any{"action": "drop_tables"}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unknown_action", decodeError(t, rec).Error)
}

func TestCreateAvailabilityThenList(t *testing.T) {
	api := newTestAPI(t)
	doc := uuid.New()
	api.createRule(t, doc)

	rec := api.do(t, http.MethodGet, "/api/scheduling?action=availabilities&doctor_id="+doc.String(), nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var rules []RuleResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&rules))
	require.Len(t, rules, 1)
	assert.Equal(t, doc, rules[0].DoctorID)
	assert.Equal(t, "09:00", rules[0].StartTime)
	assert.Equal(t, "regular", rules[0].AvailabilityType)
}

func TestCreateOverlappingRuleMapsToConflict(t *testing.T) {
	api := newTestAPI(t)
	doc := uuid.New()
	api.createRule(t, doc)

	rec := api.do(t, http.MethodPost, "/api/scheduling", map[string]any{
		"action":                "create_availability",
		"doctor_id":             doc.String(),
		"day_of_week":           1,
		"start_time":            "10:00",
		"end_time":              "13:00",
		"slot_duration_minutes": 30,
		"buffer_time_minutes":   0,
		"max_patients_per_slot": 1,
		"availability_type":     "regular",
		"effective_from":        "2025-01-01",
	}, true)

	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "rule_conflict", resp.Error)
	assert.Contains(t, resp.Context, "conflicting_rule_id")
}

func TestCreateAvailabilityValidationError(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/scheduling", map[string]any{
		"action":                "create_availability",
		"doctor_id":             uuid.New().String(),
		"day_of_week":           1,
		"start_time":            "12:00",
		"end_time":              "09:00", // inverted window
		"slot_duration_minutes": 30,
		"buffer_time_minutes":   0,
		"max_patients_per_slot": 1,
		"availability_type":     "regular",
		"effective_from":        "2025-01-01",
	}, true)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "validation_error", decodeError(t, rec).Error)
}

func TestCreateAppointmentAndSlotFullMapping(t *testing.T) {
	api := newTestAPI(t)
	doc := uuid.New()
	api.createRule(t, doc)

	book := func(patient uuid.UUID) *httptest.ResponseRecorder {
		return api.do(t, http.MethodPost, "/api/scheduling", map[string]any{
			"action":           "create_appointment",
			"patient_id":       patient.String(),
			"doctor_id":        doc.String(),
			"appointment_date": "2026-01-05", // a Monday
			"appointment_time": "09:00",
			"duration_minutes": 30,
			"appointment_type": "consultation",
		}, true)
	}

	first := book(uuid.New())
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	var appt AppointmentResponse
	require.NoError(t, json.NewDecoder(first.Body).Decode(&appt))
	assert.Equal(t, "scheduled", appt.Status)
	assert.Equal(t, "09:00", appt.AppointmentTime)

	second := book(uuid.New())
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Equal(t, "slot_full", decodeError(t, second).Error)
}

func TestInvalidTransitionMapping(t *testing.T) {
	api := newTestAPI(t)
	doc := uuid.New()
	api.createRule(t, doc)

	rec := api.do(t, http.MethodPost, "/api/scheduling", map[string]any{
		"action":           "create_appointment",
		"patient_id":       uuid.New().String(),
		"doctor_id":        doc.String(),
		"appointment_date": "2026-01-05",
		"appointment_time": "09:30",
		"duration_minutes": 30,
		"appointment_type": "consultation",
	}, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var appt AppointmentResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&appt))

	// scheduled -> completed skips confirmation.
	rec = api.do(t, http.MethodPost, "/api/scheduling", map[string]any{
		"action":         "update_status",
		"appointment_id": appt.ID.String(),
		"status":         "completed",
	}, true)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_status_transition", decodeError(t, rec).Error)
}

func TestCancelUnknownAppointmentMapsToNotFound(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/scheduling", map[string]any{
		"action":         "cancel_appointment",
		"appointment_id": uuid.New().String(),
	}, true)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "appointment_not_found", decodeError(t, rec).Error)
}

func TestStatsQuery(t *testing.T) {
	api := newTestAPI(t)
	doc := uuid.New()
	api.createRule(t, doc)

	target := fmt.Sprintf("/api/scheduling?action=stats&doctor_id=%s&from_date=2026-01-05&to_date=2026-01-05", doc)
	rec := api.do(t, http.MethodGet, target, nil, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result stats.AvailabilityStats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.Equal(t, 6, result.TotalSlots) // 09:00-12:00 in 30-minute slots
	assert.Zero(t, result.BookedSlots)
}
