package ingest

import (
	"strings"
	"time"

	"github.com/OpenNSW/edibridge/internal/edi"
)

// parseDate reads an X12 CCYYMMDD (or YYMMDD) date and an optional HHMM,
// HHMMSS or HHMMSSDD time. Partner times carry no zone and are stored as UTC.
func parseDate(date, clock string) (*time.Time, bool) {
	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)

	var layout string
	switch len(date) {
	case 8:
		layout = "20060102"
	case 6:
		layout = "060102"
	default:
		return nil, false
	}
	switch {
	case clock == "":
	case len(clock) == 4:
		layout += "1504"
	case len(clock) >= 6:
		layout += "150405"
		clock = clock[:6]
	default:
		return nil, false
	}

	t, err := time.ParseInLocation(layout, date+clock, time.UTC)
	if err != nil {
		return nil, false
	}
	return &t, true
}

// qualifiedDate returns the DTM date with the given DTM01 qualifier.
func qualifiedDate(segments []edi.Segment, qualifier string) *time.Time {
	dtm, ok := edi.FindQualified(segments, "DTM", 1, qualifier)
	if !ok {
		return nil
	}
	t, _ := parseDate(dtm.Element(2), dtm.Element(3))
	return t
}
