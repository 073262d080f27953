package dynamo

import "time"

// TimeLayout is the layout of every timestamp attribute.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTime renders t as a UTC timestamp attribute value.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}
