package fatfs

import (
	"time"
)

// ParseDate decodes a DOS date stamp. Bits 0-4 hold the day (1-31), bits 5-8 the
// month (1-12) and bits 9-15 the years since 1980. The result is midnight UTC.
//
// A day or month of 0 is invalid and yields time.Time{}, so IsZero reports it.
// Months above 12 roll over into the next year.
func ParseDate(input uint16) time.Time {
	dayOfMonth := input & 0x1F
	monthOfYear := input & 0x1E0 >> 5
	yearSince1980 := input & 0xFE00 >> 9

	// Invalid dates map to the zero time.
	if dayOfMonth == 0 || monthOfYear == 0 {
		return time.Time{}
	}

	return time.Date(1980+int(yearSince1980), time.Month(monthOfYear), int(dayOfMonth), 0, 0, 0, 0, time.UTC)
}

// ParseTime decodes a DOS time stamp with 2 second granularity. Bits 0-4 hold
// seconds/2, bits 5-10 the minutes and bits 11-15 the hours. The date part of the
// result is January 1, year 1, so midnight is the zero time.
//
// Out of range fields are added up but the result never exceeds 23:59:59.
func ParseTime(input uint16) time.Time {
	seconds := int(input&0x1F) * 2
	minutes := input & 0x7E0 >> 5
	hours := input & 0xF800 >> 11

	result := time.Date(1, 1, 1, int(hours), int(minutes), seconds, 0, time.UTC)

	if result.Day() > 1 {
		return time.Date(1, 1, 1, 23, 59, 59, 0, time.UTC)
	}

	return result
}

// dosEpoch is the earliest representable timestamp.
var dosEpoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// dosMax is the latest representable timestamp.
var dosMax = time.Date(2107, 12, 31, 23, 59, 58, 0, time.UTC)

// EncodeDateTime converts t into the FAT date and time fields and the additional
// count of 10 ms units (0-199) used for the creation time.
// The wall clock of t is used as is, FAT does not know about time zones.
// Times outside of 1980 to 2107 are clamped.
func EncodeDateTime(t time.Time) (date uint16, timeOfDay uint16, tenths uint8) {
	t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	if t.Before(dosEpoch) {
		t = dosEpoch
	}
	if t.After(dosMax) {
		t = dosMax
	}

	date = uint16(t.Year()-1980)<<9 | uint16(t.Month())<<5 | uint16(t.Day())
	timeOfDay = uint16(t.Hour())<<11 | uint16(t.Minute())<<5 | uint16(t.Second()/2)
	tenths = uint8((t.Second()%2)*100 + t.Nanosecond()/int(10*time.Millisecond))
	return
}

// DecodeDateTime combines the FAT date, time and 10 ms fields into one time.Time.
// Just like ParseDate, an invalid date results in time.Time{}.
func DecodeDateTime(date uint16, timeOfDay uint16, tenths uint8) time.Time {
	d := ParseDate(date)
	if d.IsZero() {
		return time.Time{}
	}

	tod := ParseTime(timeOfDay)
	if tenths > 199 {
		tenths = 0
	}

	return time.Date(d.Year(), d.Month(), d.Day(), tod.Hour(), tod.Minute(), tod.Second(), 0, time.UTC).
		Add(time.Duration(tenths) * 10 * time.Millisecond)
}
