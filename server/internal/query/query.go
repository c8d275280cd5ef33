// Package query parses the request parameters shared by every analytics
// module.
package query

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/obsidianstack/analytics/server/internal/timeline"
)

// Upper bounds of the duration parameters.
const (
	MaxInterval  = 24 * time.Hour
	MaxIncrement = 366 * 24 * time.Hour
)

// ErrInvalid is wrapped by every Parse error.
var ErrInvalid = errors.New("query: invalid request")

// Query is a parsed module request.
type Query struct {
	DeviceID string
	From     time.Time
	To       time.Time
	At       time.Time

	// Count caps the number of samples read in recent mode.
	Count int

	// Interval between streaming iterations. Zero means a single response.
	Interval time.Duration

	// Increment is the OEE bucket width. Zero means the whole window.
	Increment time.Duration

	// Details attaches per-interval event lists to results.
	Details bool
}

// Parse reads a Query from URL parameters. deviceId is required; from, to
// and at are RFC 3339 timestamps; interval is milliseconds and increment is
// seconds. Negative interval values are treated as zero.
func Parse(v url.Values) (Query, error) {
	q := Query{DeviceID: v.Get("deviceId")}
	if q.DeviceID == "" {
		return Query{}, fmt.Errorf("%w: deviceId is required", ErrInvalid)
	}

	var err error
	if q.From, err = parseTime(v, "from"); err != nil {
		return Query{}, err
	}
	if q.To, err = parseTime(v, "to"); err != nil {
		return Query{}, err
	}
	if q.At, err = parseTime(v, "at"); err != nil {
		return Query{}, err
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return Query{}, fmt.Errorf("%w: to is before from", ErrInvalid)
	}

	if q.Count, err = parseInt(v, "count"); err != nil {
		return Query{}, err
	}
	if q.Count < 0 {
		return Query{}, fmt.Errorf("%w: count must not be negative", ErrInvalid)
	}

	ms, err := parseInt(v, "interval")
	if err != nil {
		return Query{}, err
	}
	if ms > int(MaxInterval/time.Millisecond) {
		return Query{}, fmt.Errorf("%w: interval must not exceed %d ms", ErrInvalid, MaxInterval.Milliseconds())
	}
	if ms > 0 {
		q.Interval = time.Duration(ms) * time.Millisecond
	}

	secs, err := parseInt(v, "increment")
	if err != nil {
		return Query{}, err
	}
	if secs < 0 {
		return Query{}, fmt.Errorf("%w: increment must not be negative", ErrInvalid)
	}
	if secs > int(MaxIncrement/time.Second) {
		return Query{}, fmt.Errorf("%w: increment must not exceed %d s", ErrInvalid, int64(MaxIncrement/time.Second))
	}
	q.Increment = time.Duration(secs) * time.Second

	if s := v.Get("details"); s != "" {
		if q.Details, err = strconv.ParseBool(s); err != nil {
			return Query{}, fmt.Errorf("%w: details %q: %v", ErrInvalid, s, err)
		}
	}
	return q, nil
}

// Window returns the replay window. at stands in for from when from is
// absent.
func (q Query) Window() timeline.Window {
	from := q.From
	if from.IsZero() {
		from = q.At
	}
	return timeline.Window{From: from, To: q.To}
}

// Streaming reports whether the request asks for periodic re-computation.
func (q Query) Streaming() bool { return q.Interval > 0 }

func parseTime(v url.Values, key string) (time.Time, error) {
	s := v.Get(key)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s %q: %v", ErrInvalid, key, s, err)
	}
	return t.UTC(), nil
}

func parseInt(v url.Values, key string) (int, error) {
	s := v.Get(key)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q: %v", ErrInvalid, key, s, err)
	}
	return n, nil
}
