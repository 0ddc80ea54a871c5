package coerce

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ISO8601 is the layout dates are stored in. The offset is always numeric.
const ISO8601 = "2006-01-02T15:04:05-07:00"

// minUnixDigits is the shortest bare digit string read as unix seconds.
const minUnixDigits = 9

// dateLayouts are tried in order. Layouts without a zone are read as UTC.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
	"20060102",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC850,
	time.RFC822Z,
	time.RFC822,
	time.ANSIC,
	time.UnixDate,
	"2 January 2006",
	"2 Jan 2006 15:04",
	"January 2, 2006",
	"Jan 2, 2006",
}

// Date parses raw with a tolerant set of layouts and formats it as ISO-8601
// in UTC. Integers, "@<secs>" and digit strings of nine or more digits are
// unix seconds. nil and "" stay empty.
func Date(raw any) (any, error) {
	t, ok, err := ParseDate(raw)
	if err != nil {
		return nil, &Error{Type: TypeDate, Value: raw, Err: err}
	}
	if !ok {
		return nil, nil
	}
	return t.UTC().Format(ISO8601), nil
}

// ParseDate returns the instant raw denotes. ok is false for empty input.
func ParseDate(raw any) (t time.Time, ok bool, err error) {
	switch v := raw.(type) {
	case nil:
		return time.Time{}, false, nil
	case time.Time:
		return v, true, nil
	case int:
		return time.Unix(int64(v), 0), true, nil
	case int64:
		return time.Unix(v, 0), true, nil
	case float64:
		return time.Unix(int64(v), 0), true, nil
	case json.Number:
		return parseDateString(v.String())
	case string:
		return parseDateString(v)
	default:
		return time.Time{}, false, errors.New("unsupported date value")
	}
}

func parseDateString(s string) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false, nil
	}

	if secs, isUnix := unixSeconds(s); isUnix {
		return time.Unix(secs, 0), true, nil
	}

	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true, nil
		}
	}
	return time.Time{}, false, errors.New("unrecognised date format")
}

// unixSeconds accepts "@<secs>" or a bare run of at least nine digits.
// Shorter digit strings are years or compact dates, not timestamps.
func unixSeconds(s string) (int64, bool) {
	if rest, ok := strings.CutPrefix(s, "@"); ok {
		n, err := strconv.ParseInt(rest, 10, 64)
		return n, err == nil
	}
	if len(s) < minUnixDigits || strings.TrimLeft(s, "0123456789") != "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
