package http

import (
	"time"

	"github.com/google/uuid"

	"clinicbook/backend/internal/domain"
	"clinicbook/backend/internal/service/availability"
)

type registerDoctorRequest struct {
	Name      string `json:"name"`
	Specialty string `json:"specialty"`
}

type doctorResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Specialty string    `json:"specialty,omitempty"`
}

func toDoctorResponse(d domain.Doctor) doctorResponse {
	return doctorResponse{ID: d.ID, Name: d.Name, Specialty: d.Specialty}
}

type replaceAvailabilityRequest struct {
	Windows []availability.WindowInput `json:"windows"`
}

type windowResponse struct {
	Weekday   int    `json:"weekday"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func toWindowResponses(windows []domain.AvailabilityWindow) []windowResponse {
	out := make([]windowResponse, 0, len(windows))
	for _, w := range windows {
		out = append(out, windowResponse{
			Weekday:   int(w.Weekday),
			StartTime: w.Start.String(),
			EndTime:   w.End.String(),
		})
	}
	return out
}

type slotResponse struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func toSlotResponses(slots []domain.SlotCandidate) []slotResponse {
	out := make([]slotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, slotResponse{
			Date:      s.Date.Format("2006-01-02"),
			StartTime: s.Start.String(),
			EndTime:   s.End.String(),
		})
	}
	return out
}

type reserveRequest struct {
	PatientID string `json:"patient_id"`
	DoctorID  string `json:"doctor_id"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Type      string `json:"type"`
	Symptoms  string `json:"symptoms,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

type rescheduleRequest struct {
	Date      *string `json:"date,omitempty"`
	StartTime *string `json:"start_time,omitempty"`
	EndTime   *string `json:"end_time,omitempty"`
}

type cancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

type appointmentResponse struct {
	ID        uuid.UUID `json:"id"`
	PatientID uuid.UUID `json:"patient_id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	Date      string    `json:"date"`
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
	Status    string    `json:"status"`
	Type      string    `json:"type"`
	Symptoms  string    `json:"symptoms,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toAppointmentResponse(a domain.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:        a.ID,
		PatientID: a.PatientID,
		DoctorID:  a.DoctorID,
		Date:      a.Date.Format("2006-01-02"),
		StartTime: a.Start.String(),
		EndTime:   a.End.String(),
		Status:    string(a.Status),
		Type:      string(a.Type),
		Symptoms:  a.Symptoms,
		Notes:     a.Notes,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func toAppointmentResponses(appts []domain.Appointment) []appointmentResponse {
	out := make([]appointmentResponse, 0, len(appts))
	for _, a := range appts {
		out = append(out, toAppointmentResponse(a))
	}
	return out
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
