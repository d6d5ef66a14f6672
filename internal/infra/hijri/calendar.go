// Package hijri resolves the current Islamic (Hijri) month name.
package hijri

import "time"

// MonthNames are the canonical month names, indexed by month number - 1. Remote
// and local lookups both map to this table so their answers compare equal.
var MonthNames = [12]string{
	"Muharram",
	"Safar",
	"Rabi al-Awwal",
	"Rabi al-Thani",
	"Jumada al-Ula",
	"Jumada al-Akhirah",
	"Rajab",
	"Sha'ban",
	"Ramadan",
	"Shawwal",
	"Dhu al-Qadah",
	"Dhu al-Hijjah",
}

// Date is a day in the Hijri calendar.
type Date struct {
	Year  int
	Month int // 1..12
	Day   int
}

// MonthName returns the canonical name for month (1..12), or "" if out of range.
func MonthName(month int) string {
	if month < 1 || month > 12 {
		return ""
	}
	return MonthNames[month-1]
}

// julianDayNumber returns the Julian day number of a Gregorian date.
func julianDayNumber(year int, month time.Month, day int) int {
	a := (14 - int(month)) / 12
	y := year + 4800 - a
	m := int(month) + 12*a - 3
	return day + (153*m+2)/5 + 365*y + y/4 - y/100 + y/400 - 32045
}

// Tabular converts a Gregorian date to the arithmetic (civil) Islamic calendar.
// It can differ by a day or two from sighting-based calendars around month starts.
func Tabular(t time.Time) Date {
	jd := julianDayNumber(t.Year(), t.Month(), t.Day())

	l := jd - 1948440 + 10632
	n := (l - 1) / 10631
	l = l - 10631*n + 354
	j := ((10985-l)/5316)*((50*l)/17719) + (l/5670)*((43*l)/15238)
	l = l - ((30-j)/15)*((17719*j)/50) - (j/16)*((15238*j)/43) + 29
	month := (24 * l) / 709
	day := l - (709*month)/24
	year := 30*n + j - 30

	return Date{Year: year, Month: month, Day: day}
}
