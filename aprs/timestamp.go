package aprs

import (
	"fmt"
	"strconv"
	"time"
)

// parseTimestamp reads the 7 character report timestamp: DDHHMMz (UTC),
// DDHHMM/ (local to received) or HHMMSSh (UTC). Day-of-month forms resolve
// to the most recent matching date not after received, allowing a day of
// clock skew. HHMMSSh allows an hour.
func parseTimestamp(s string, received time.Time) (time.Time, error) {
	if len(s) != 7 {
		return time.Time{}, fmt.Errorf("%w: timestamp %q", ErrMalformed, s)
	}
	a, err1 := strconv.Atoi(s[0:2])
	b, err2 := strconv.Atoi(s[2:4])
	c, err3 := strconv.Atoi(s[4:6])
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q", ErrMalformed, s)
	}

	switch s[6] {
	case 'z', '/':
		loc := time.UTC
		if s[6] == '/' {
			loc = received.Location()
		}
		if a < 1 || a > 31 || b > 23 || c > 59 {
			return time.Time{}, fmt.Errorf("%w: timestamp %q out of range", ErrMalformed, s)
		}
		r := received.In(loc)
		t := time.Date(r.Year(), r.Month(), a, b, c, 0, 0, loc)
		if t.After(r.Add(24 * time.Hour)) {
			t = time.Date(r.Year(), r.Month()-1, a, b, c, 0, 0, loc)
		}
		return t, nil
	case 'h':
		if a > 23 || b > 59 || c > 59 {
			return time.Time{}, fmt.Errorf("%w: timestamp %q out of range", ErrMalformed, s)
		}
		r := received.UTC()
		t := time.Date(r.Year(), r.Month(), r.Day(), a, b, c, 0, time.UTC)
		if t.After(r.Add(time.Hour)) {
			t = t.AddDate(0, 0, -1)
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("%w: timestamp indicator %q", ErrMalformed, s[6])
	}
}

// parseMDHM reads the MMDDHHMM (UTC) stamp of a positionless weather report.
func parseMDHM(s string, received time.Time) (time.Time, error) {
	var n [4]int
	for i := range n {
		v, err := strconv.Atoi(s[2*i : 2*i+2])
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: weather timestamp %q", ErrMalformed, s)
		}
		n[i] = v
	}
	month, day, hour, minute := n[0], n[1], n[2], n[3]
	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 {
		return time.Time{}, fmt.Errorf("%w: weather timestamp %q out of range", ErrMalformed, s)
	}
	r := received.UTC()
	t := time.Date(r.Year(), time.Month(month), day, hour, minute, 0, 0, time.UTC)
	if t.After(r.Add(24 * time.Hour)) {
		t = t.AddDate(-1, 0, 0)
	}
	return t, nil
}
