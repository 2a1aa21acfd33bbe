package models

import "time"

// Shift boundaries: day shift covers [06:00, 18:00), night shift covers the rest.
const (
	dayShiftStartHour = 6
	dayShiftEndHour   = 18
)

// ResolveShift maps a timestamp to its operating shift and operating date.
//
// [06:00, 18:00) is day shift D on the timestamp's own calendar date.
// [18:00, 24:00) is night shift N on the timestamp's own calendar date.
// [00:00, 06:00) is night shift N attributed to the PREVIOUS calendar date:
// the early-morning hours belong to the night shift that started the evening
// before. Total over all timestamps; the returned operating date is truncated
// to midnight in the timestamp's location.
func ResolveShift(t time.Time) (ShiftCode, time.Time) {
	date := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	hour := t.Hour()

	switch {
	case hour >= dayShiftStartHour && hour < dayShiftEndHour:
		return ShiftCodeDay, date
	case hour >= dayShiftEndHour:
		return ShiftCodeNight, date
	default:
		return ShiftCodeNight, date.AddDate(0, 0, -1)
	}
}
