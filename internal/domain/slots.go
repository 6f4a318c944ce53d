package domain

import (
	"sort"
	"time"
)

// SlotCandidate is an ephemeral bookable interval derived from a doctor's
// availability windows. Candidates are never persisted.
type SlotCandidate struct {
	Date  time.Time `json:"date"`
	Start TimeOfDay `json:"start_time"`
	End   TimeOfDay `json:"end_time"`
}

// GenerateSlots walks each window for the date's weekday in steps of
// granularityMinutes and emits [cursor, cursor+granularity) while the full
// step fits. A trailing partial slot shorter than one granularity unit is
// dropped: the engine never offers time the doctor has not fully authorized.
//
// The result is ordered by start and free of overlaps as long as the input
// windows do not overlap each other. Pure function; safe to call concurrently.
func GenerateSlots(date time.Time, windows []AvailabilityWindow, granularityMinutes int) []SlotCandidate {
	if granularityMinutes <= 0 || len(windows) == 0 {
		return nil
	}

	sorted := make([]AvailabilityWindow, len(windows))
	copy(sorted, windows)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	var out []SlotCandidate
	for _, w := range sorted {
		for cursor := w.Start; cursor.Add(granularityMinutes) <= w.End; cursor = cursor.Add(granularityMinutes) {
			out = append(out, SlotCandidate{
				Date:  date,
				Start: cursor,
				End:   cursor.Add(granularityMinutes),
			})
		}
	}
	return out
}

// FilterBookedSlots removes candidates that collide with any appointment in
// taken. Cancelled appointments must already be filtered out by the caller.
func FilterBookedSlots(candidates []SlotCandidate, taken []Appointment) []SlotCandidate {
	if len(taken) == 0 {
		return candidates
	}
	out := make([]SlotCandidate, 0, len(candidates))
	for _, c := range candidates {
		free := true
		for _, a := range taken {
			if a.OverlapsInterval(c.Start, c.End) {
				free = false
				break
			}
		}
		if free {
			out = append(out, c)
		}
	}
	return out
}
