package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"clinicbook/backend/internal/domain"
	"clinicbook/backend/internal/service/availability"
	"clinicbook/backend/internal/service/scheduling"
)

type schedulingService interface {
	Reserve(ctx context.Context, in scheduling.ReserveInput) (domain.Appointment, error)
	Reschedule(ctx context.Context, in scheduling.RescheduleInput) (domain.Appointment, error)
	Release(ctx context.Context, appointmentID uuid.UUID, actor domain.Actor, reason string) (domain.Appointment, error)
	Complete(ctx context.Context, appointmentID uuid.UUID, actor domain.Actor) (domain.Appointment, error)
	MarkNoShow(ctx context.Context, appointmentID uuid.UUID, actor domain.Actor) (domain.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	ListForPatient(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]domain.Appointment, error)
	ListForDoctorOnDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]domain.Appointment, error)
	GenerateSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]domain.SlotCandidate, error)
	AvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]domain.SlotCandidate, error)
}

type availabilityService interface {
	RegisterDoctor(ctx context.Context, name, specialty string) (domain.Doctor, error)
	GetDoctor(ctx context.Context, id uuid.UUID) (domain.Doctor, error)
	ListDoctors(ctx context.Context) ([]domain.Doctor, error)
	Windows(ctx context.Context, doctorID uuid.UUID) ([]domain.AvailabilityWindow, error)
	ReplaceWindows(ctx context.Context, doctorID uuid.UUID, actor domain.Actor, inputs []availability.WindowInput) ([]domain.AvailabilityWindow, error)
}

type handlers struct {
	scheduling   schedulingService
	availability availabilityService
	log          *slog.Logger
}

func (h *handlers) registerDoctor(w http.ResponseWriter, r *http.Request) {
	var req registerDoctorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	doctor, err := h.availability.RegisterDoctor(r.Context(), req.Name, req.Specialty)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDoctorResponse(doctor))
}

func (h *handlers) listDoctors(w http.ResponseWriter, r *http.Request) {
	doctors, err := h.availability.ListDoctors(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := make([]doctorResponse, 0, len(doctors))
	for _, d := range doctors {
		out = append(out, toDoctorResponse(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) getDoctor(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	doctor, err := h.availability.GetDoctor(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDoctorResponse(doctor))
}

func (h *handlers) getAvailability(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	windows, err := h.availability.Windows(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWindowResponses(windows))
}

func (h *handlers) replaceAvailability(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	actor, ok := requestActor(w, r)
	if !ok {
		return
	}
	var req replaceAvailabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	windows, err := h.availability.ReplaceWindows(r.Context(), id, actor, req.Windows)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWindowResponses(windows))
}

func (h *handlers) listSlots(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	date, err := time.Parse("2006-01-02", r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}

	var slots []domain.SlotCandidate
	if r.URL.Query().Get("include_booked") == "true" {
		slots, err = h.scheduling.GenerateSlots(r.Context(), id, date)
	} else {
		slots, err = h.scheduling.AvailableSlots(r.Context(), id, date)
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotResponses(slots))
}

func (h *handlers) reserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
		return
	}
	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}
	start, err := domain.ParseTimeOfDay(req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_start_time", "start_time must be HH:MM")
		return
	}
	end, err := domain.ParseTimeOfDay(req.EndTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_end_time", "end_time must be HH:MM")
		return
	}

	appt, err := h.scheduling.Reserve(r.Context(), scheduling.ReserveInput{
		PatientID: patientID,
		DoctorID:  doctorID,
		Date:      date,
		Start:     start,
		End:       end,
		Type:      domain.AppointmentType(req.Type),
		Symptoms:  req.Symptoms,
		Notes:     req.Notes,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	appt, err := h.scheduling.GetAppointment(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if raw := q.Get("doctor_id"); raw != "" {
		doctorID, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		date, err := time.Parse("2006-01-02", q.Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		appts, err := h.scheduling.ListForDoctorOnDate(r.Context(), doctorID, date)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponses(appts))
		return
	}

	patientID, err := uuid.Parse(q.Get("patient_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id or doctor_id is required")
		return
	}
	from, err := time.Parse("2006-01-02", q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_from", "from must be YYYY-MM-DD")
		return
	}
	to, err := time.Parse("2006-01-02", q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_to", "to must be YYYY-MM-DD")
		return
	}
	appts, err := h.scheduling.ListForPatient(r.Context(), patientID, from, to)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponses(appts))
}

func (h *handlers) reschedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	actor, ok := requestActor(w, r)
	if !ok {
		return
	}
	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	in := scheduling.RescheduleInput{AppointmentID: id, Actor: actor}
	if req.Date != nil {
		date, err := time.Parse("2006-01-02", *req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		in.NewDate = &date
	}
	if req.StartTime != nil {
		start, err := domain.ParseTimeOfDay(*req.StartTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start_time", "start_time must be HH:MM")
			return
		}
		in.NewStart = &start
	}
	if req.EndTime != nil {
		end, err := domain.ParseTimeOfDay(*req.EndTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_end_time", "end_time must be HH:MM")
			return
		}
		in.NewEnd = &end
	}

	appt, err := h.scheduling.Reschedule(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	actor, ok := requestActor(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
	}
	appt, err := h.scheduling.Release(r.Context(), id, actor, req.Reason)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) complete(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, h.scheduling.Complete)
}

func (h *handlers) noShow(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, h.scheduling.MarkNoShow)
}

func (h *handlers) simpleTransition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id uuid.UUID, actor domain.Actor) (domain.Appointment, error)) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	actor, ok := requestActor(w, r)
	if !ok {
		return
	}
	appt, err := fn(r.Context(), id, actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

// requestActor reads the gateway-authenticated actor from headers. The
// engine trusts the gateway; it does not authenticate.
func requestActor(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	id, err := uuid.Parse(r.Header.Get("X-Actor-ID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_actor", "X-Actor-ID header must be a valid UUID")
		return domain.Actor{}, false
	}
	role := domain.ActorRole(r.Header.Get("X-Actor-Role"))
	switch role {
	case domain.RolePatient, domain.RoleDoctor, domain.RoleAdmin:
	default:
		writeError(w, http.StatusBadRequest, "invalid_actor", "X-Actor-Role must be patient, doctor or admin")
		return domain.Actor{}, false
	}
	return domain.Actor{ID: id, Role: role}, true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *scheduling.ValidationError
	var avErr *availability.ValidationError

	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, "invalid_request", vErr.Error())
	case errors.As(err, &avErr):
		writeError(w, http.StatusBadRequest, "invalid_request", avErr.Error())
	case errors.Is(err, scheduling.ErrDoctorNotFound), errors.Is(err, availability.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", "doctor not found")
	case errors.Is(err, scheduling.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", "appointment not found")
	case errors.Is(err, scheduling.ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot_taken", "the selected time slot is not available, pick a different time")
	case errors.Is(err, scheduling.ErrOutOfAvailability):
		writeError(w, http.StatusConflict, "out_of_availability", "the doctor is not available at that time, try a different day")
	case errors.Is(err, scheduling.ErrLockoutViolation):
		writeError(w, http.StatusConflict, "lockout_violation", "appointments can no longer be changed this close to their start")
	case errors.Is(err, scheduling.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", "the appointment status does not permit this change")
	case errors.Is(err, scheduling.ErrActorNotAllowed), errors.Is(err, availability.ErrNotAllowed):
		writeError(w, http.StatusForbidden, "not_allowed", "the actor may not perform this operation")
	case errors.Is(err, scheduling.ErrBusy):
		writeError(w, http.StatusConflict, "schedule_busy", "the schedule is being modified, please retry shortly")
	default:
		h.log.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("err", err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}
