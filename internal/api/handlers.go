package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careloop/clinic-scheduling/internal/availability"
	"github.com/careloop/clinic-scheduling/internal/booking"
	redisclient "github.com/careloop/clinic-scheduling/internal/redis"
	"github.com/careloop/clinic-scheduling/internal/stats"
	"github.com/careloop/clinic-scheduling/internal/tenant"
)

// SchedulingHandler dispatches the action-based scheduling API consumed by
// the UI layer: queries via GET ?action=..., commands via POST {action,...}.
type SchedulingHandler struct {
	avail *availability.Service
	book  *booking.Service
	stats *stats.Aggregator
	log   zerolog.Logger
}

func NewSchedulingHandler(avail *availability.Service, book *booking.Service, agg *stats.Aggregator, log zerolog.Logger) *SchedulingHandler {
	return &SchedulingHandler{avail: avail, book: book, stats: agg, log: log}
}

var queryActions = []string{"availabilities", "stats"}

var commandActions = []string{
	"create_availability",
	"generate_slots",
	"get_available_slots",
	"create_appointment",
	"cancel_appointment",
	"update_status",
	"reschedule_appointment",
}

// Query handles GET requests. Unknown or missing actions return the
// capability listing rather than an error.
func (h *SchedulingHandler) Query(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("action") {
	case "availabilities":
		h.listAvailabilities(w, r)
	case "stats":
		h.getStats(w, r)
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"queries":  queryActions,
			"commands": commandActions,
		})
	}
}

// Command handles POST requests with a JSON body {action, ...payload}.
func (h *SchedulingHandler) Command(w http.ResponseWriter, r *http.Request) {
	var envelope struct {
		Action string `json:"action"`
	}
	body := json.NewDecoder(r.Body)

	raw := json.RawMessage{}
	if err := body.Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	switch envelope.Action {
	case "create_availability":
		h.createAvailability(w, r, raw)
	case "generate_slots":
		h.generateSlots(w, r, raw)
	case "get_available_slots":
		h.getAvailableSlots(w, r, raw)
	case "create_appointment":
		h.createAppointment(w, r, raw)
	case "cancel_appointment":
		h.cancelAppointment(w, r, raw)
	case "update_status":
		h.updateStatus(w, r, raw)
	case "reschedule_appointment":
		h.rescheduleAppointment(w, r, raw)
	default:
		writeError(w, http.StatusBadRequest, "unknown_action", "unsupported action: "+envelope.Action)
	}
}

func (h *SchedulingHandler) listAvailabilities(w http.ResponseWriter, r *http.Request) {
	var doctorID *uuid.UUID
	if raw := r.URL.Query().Get("doctor_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		doctorID = &id
	}

	rules, err := h.avail.ListRules(r.Context(), doctorID)
	if err != nil {
		h.handleError(w, err)
		return
	}

	out := make([]RuleResponse, 0, len(rules))
	for i := range rules {
		out = append(out, toRuleResponse(&rules[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *SchedulingHandler) getStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var doctorID *uuid.UUID
	if raw := q.Get("doctor_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		doctorID = &id
	}

	from, err := time.Parse(dateLayout, q.Get("from_date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date_range", "from_date must be YYYY-MM-DD")
		return
	}
	to, err := time.Parse(dateLayout, q.Get("to_date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date_range", "to_date must be YYYY-MM-DD")
		return
	}

	result, err := h.stats.GetAvailabilityStats(r.Context(), doctorID, from, to)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *SchedulingHandler) createAvailability(w http.ResponseWriter, r *http.Request, raw json.RawMessage) {
	var req CreateAvailabilityRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	rule, err := req.toRule()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_field", err.Error())
		return
	}

	created, err := h.avail.CreateRule(r.Context(), rule)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRuleResponse(created))
}

func (h *SchedulingHandler) generateSlots(w http.ResponseWriter, r *http.Request, raw json.RawMessage) {
	var req SlotRangeRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	doctorID, from, to, err := req.parse()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_field", err.Error())
		return
	}

	slots, err := h.avail.SlotsForRange(r.Context(), doctorID, from, to)
	if err != nil {
		h.handleError(w, err)
		return
	}

	out := make([]SlotResponse, 0, len(slots))
	for i := range slots {
		out = append(out, toSlotResponse(&slots[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *SchedulingHandler) getAvailableSlots(w http.ResponseWriter, r *http.Request, raw json.RawMessage) {
	var req SlotRangeRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	doctorID, from, to, err := req.parse()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_field", err.Error())
		return
	}

	slots, err := h.book.AvailableSlots(r.Context(), doctorID, from, to)
	if err != nil {
		h.handleError(w, err)
		return
	}

	out := make([]SlotResponse, 0, len(slots))
	for i := range slots {
		resp := toSlotResponse(&slots[i].TimeSlot)
		resp.Booked = slots[i].Booked
		resp.Remaining = slots[i].Remaining
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *SchedulingHandler) createAppointment(w http.ResponseWriter, r *http.Request, raw json.RawMessage) {
	var req CreateAppointmentRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	createReq, err := req.toCreateRequest()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_field", err.Error())
		return
	}

	appt, err := h.book.CreateAppointment(r.Context(), createReq)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *SchedulingHandler) cancelAppointment(w http.ResponseWriter, r *http.Request, raw json.RawMessage) {
	var req CancelAppointmentRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	id, err := uuid.Parse(req.AppointmentID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "appointment_id must be a valid UUID")
		return
	}

	appt, err := h.book.CancelAppointment(r.Context(), id, req.Reason)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *SchedulingHandler) updateStatus(w http.ResponseWriter, r *http.Request, raw json.RawMessage) {
	var req UpdateStatusRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	id, err := uuid.Parse(req.AppointmentID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "appointment_id must be a valid UUID")
		return
	}

	appt, err := h.book.UpdateStatus(r.Context(), id, booking.Status(req.Status), req.Reason)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *SchedulingHandler) rescheduleAppointment(w http.ResponseWriter, r *http.Request, raw json.RawMessage) {
	var req RescheduleRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	id, err := uuid.Parse(req.AppointmentID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "appointment_id must be a valid UUID")
		return
	}
	newDate, err := time.Parse(dateLayout, req.NewDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_field", "new_date must be YYYY-MM-DD")
		return
	}
	newStart, err := availability.ParseTimeOfDay(req.NewTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_field", err.Error())
		return
	}

	appt, err := h.book.RescheduleAppointment(r.Context(), id, newDate, newStart)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

// handleError maps engine errors to distinct HTTP statuses and stable codes,
// keeping "your request was invalid" apart from "try again later".
func (h *SchedulingHandler) handleError(w http.ResponseWriter, err error) {
	var (
		ruleConflict   *availability.RuleConflict
		validationErrs availability.ValidationErrors
		slotFull       *booking.SlotFullError
		unavailable    *booking.SlotUnavailableError
		transition     *booking.InvalidTransitionError
		storage        *booking.StorageError
	)

	switch {
	case errors.As(err, &validationErrs):
		writeErrorContext(w, http.StatusUnprocessableEntity, "validation_error", err.Error(),
			map[string]any{"fields": validationErrs})
	case errors.As(err, &ruleConflict):
		writeErrorContext(w, http.StatusConflict, "rule_conflict", err.Error(),
			map[string]any{"conflicting_rule_id": ruleConflict.ConflictingRuleID})
	case errors.As(err, &slotFull):
		writeError(w, http.StatusConflict, "slot_full", err.Error())
	case errors.As(err, &unavailable):
		ctx := map[string]any{"reason": unavailable.Reason}
		if unavailable.ConflictingAppointmentID != nil {
			ctx["conflicting_appointment_id"] = unavailable.ConflictingAppointmentID
		}
		writeErrorContext(w, http.StatusConflict, "slot_unavailable", err.Error(), ctx)
	case errors.As(err, &transition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, booking.ErrSlotBeingBooked), errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, availability.ErrRuleNotFound):
		writeError(w, http.StatusNotFound, "rule_not_found", err.Error())
	case errors.Is(err, tenant.ErrMissingTenant):
		writeError(w, http.StatusUnauthorized, "missing_tenant", err.Error())
	case errors.As(err, &storage):
		h.log.Error().Err(err).Msg("storage failure surfaced to caller")
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "temporary storage failure, try again later")
	default:
		h.log.Error().Err(err).Msg("unhandled error")
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
