package domain

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to AppointmentStatus
		want     bool
	}{
		{StatusScheduled, StatusCancelled, true},
		{StatusScheduled, StatusCompleted, true},
		{StatusScheduled, StatusNoShow, true},
		{StatusCancelled, StatusScheduled, false},
		{StatusCancelled, StatusCompleted, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCompleted, StatusNoShow, false},
		{StatusNoShow, StatusScheduled, false},
		{StatusScheduled, StatusScheduled, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTerminalStatesAdmitNoTransitions(t *testing.T) {
	terminal := []AppointmentStatus{StatusCancelled, StatusCompleted, StatusNoShow}
	all := []AppointmentStatus{StatusScheduled, StatusCancelled, StatusCompleted, StatusNoShow}

	for _, from := range terminal {
		if !from.Terminal() {
			t.Errorf("%s.Terminal() = false", from)
		}
		for _, to := range all {
			if CanTransition(from, to) {
				t.Errorf("terminal state %s allows transition to %s", from, to)
			}
		}
	}
	if StatusScheduled.Terminal() {
		t.Errorf("scheduled must not be terminal")
	}
}

func TestTransitionAllowedFor(t *testing.T) {
	tests := []struct {
		to   AppointmentStatus
		role ActorRole
		want bool
	}{
		{StatusCancelled, RolePatient, true},
		{StatusCancelled, RoleDoctor, true},
		{StatusCancelled, RoleAdmin, true},
		{StatusCompleted, RolePatient, false},
		{StatusCompleted, RoleDoctor, true},
		{StatusCompleted, RoleAdmin, true},
		{StatusNoShow, RolePatient, false},
		{StatusNoShow, RoleDoctor, true},
	}

	for _, tt := range tests {
		if got := TransitionAllowedFor(StatusScheduled, tt.to, tt.role); got != tt.want {
			t.Errorf("TransitionAllowedFor(scheduled, %s, %s) = %v, want %v", tt.to, tt.role, got, tt.want)
		}
	}
}

func TestAppointmentStartAt(t *testing.T) {
	a := Appointment{
		Date:  time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC),
		Start: 570, // 09:30
		End:   600,
	}
	want := time.Date(2026, 9, 14, 9, 30, 0, 0, time.UTC)
	if !a.StartAt().Equal(want) {
		t.Fatalf("StartAt = %v, want %v", a.StartAt(), want)
	}
}

func TestStatusAndTypeValidation(t *testing.T) {
	for _, s := range []AppointmentStatus{StatusScheduled, StatusCompleted, StatusCancelled, StatusNoShow} {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if AppointmentStatus("pending").Valid() {
		t.Errorf("unknown status accepted")
	}
	for _, ty := range []AppointmentType{TypeInPerson, TypeVideo, TypePhone} {
		if !ty.Valid() {
			t.Errorf("%s should be valid", ty)
		}
	}
	if AppointmentType("house-call").Valid() {
		t.Errorf("unknown type accepted")
	}
}
