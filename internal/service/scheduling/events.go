package scheduling

import (
	"context"
	"encoding/json"
	"log/slog"

	"clinicbook/backend/internal/domain"
	"clinicbook/backend/internal/store"
)

// EventHandler receives every successful appointment mutation. Handlers run
// synchronously on the mutating goroutine after the transaction commits;
// anything slow (mail, SMS) should hand off internally.
type EventHandler func(domain.AppointmentEvent)

// OnAppointmentEvent registers a handler. Registration normally happens at
// wiring time, before the engine starts serving requests.
func (s *Service) OnAppointmentEvent(h EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

func (s *Service) emit(ev domain.AppointmentEvent) {
	s.mu.RLock()
	handlers := s.handlers
	s.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// logEvent writes the durable form of the event inside the mutating
// transaction, so the event log never records a mutation that rolled back.
func (s *Service) logEvent(ctx context.Context, tx store.ScheduleTx, ev domain.AppointmentEvent) error {
	payload, err := json.Marshal(map[string]any{
		"appointment_id":  ev.Appointment.ID.String(),
		"patient_id":      ev.Appointment.PatientID.String(),
		"doctor_id":       ev.Appointment.DoctorID.String(),
		"date":            ev.Appointment.Date.Format("2006-01-02"),
		"start_time":      ev.Appointment.Start.String(),
		"end_time":        ev.Appointment.End.String(),
		"previous_status": string(ev.PreviousStatus),
		"new_status":      string(ev.Appointment.Status),
		"actor_id":        ev.ActorID.String(),
	})
	if err != nil {
		s.log.Error("marshal event payload failed", slog.Any("err", err), slog.String("event_type", string(ev.Type)))
		payload = nil
	}

	return tx.InsertEvent(ctx, domain.AppointmentEventLog{
		EventType:     ev.Type,
		AppointmentID: ev.Appointment.ID,
		Payload:       payload,
	})
}
