package funnel

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ciplastic/funnel-dashboard/internal/model"
)

// DateLayout is the calendar-date format used in keys and query parameters.
const DateLayout = "2006-01-02"

// DefaultTimezone is the clinic's business timezone.
const DefaultTimezone = "America/Mexico_City"

// ErrBadDateRange is returned for missing, malformed or inverted ranges.
var ErrBadDateRange = eris.New("funnel: invalid date range")

// DateRange is an inclusive calendar-day range in a business timezone.
type DateRange struct {
	Start string
	End   string
	From  time.Time // start day 00:00:00.000 local
	To    time.Time // end day 23:59:59.999 local
}

// ParseDateRange builds local-time boundaries from two YYYY-MM-DD strings.
// The components are parsed explicitly so that a plain date is never read as
// UTC midnight.
func ParseDateRange(start, end string, loc *time.Location) (DateRange, error) {
	if loc == nil {
		loc = time.Local
	}
	if start == "" || end == "" {
		return DateRange{}, eris.Wrap(ErrBadDateRange, "startDate and endDate are required")
	}
	sy, sm, sd, err := splitDate(start)
	if err != nil {
		return DateRange{}, eris.Wrapf(ErrBadDateRange, "startDate %q", start)
	}
	ey, em, ed, err := splitDate(end)
	if err != nil {
		return DateRange{}, eris.Wrapf(ErrBadDateRange, "endDate %q", end)
	}

	r := DateRange{
		Start: start,
		End:   end,
		From:  time.Date(sy, time.Month(sm), sd, 0, 0, 0, 0, loc),
		To:    time.Date(ey, time.Month(em), ed, 23, 59, 59, int(999*time.Millisecond), loc),
	}
	if r.To.Before(r.From) {
		return DateRange{}, eris.Wrapf(ErrBadDateRange, "endDate %s before startDate %s", end, start)
	}
	return r, nil
}

// MustDateRange is ParseDateRange for fixed inputs; it panics on error.
func MustDateRange(start, end string, loc *time.Location) DateRange {
	r, err := ParseDateRange(start, end, loc)
	if err != nil {
		panic(err)
	}
	return r
}

// CurrentMonth returns the whole calendar month containing now in loc.
func CurrentMonth(now time.Time, loc *time.Location) DateRange {
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
	last := first.AddDate(0, 1, -1)
	return MustDateRange(first.Format(DateLayout), last.Format(DateLayout), loc)
}

func splitDate(s string) (year, month, day int, err error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 3 {
		return 0, 0, 0, eris.Errorf("funnel: date %q is not YYYY-MM-DD", s)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, 0, 0, eris.Wrapf(err, "funnel: date %q", s)
		}
		nums[i] = n
	}
	year, month, day = nums[0], nums[1], nums[2]
	if month < 1 || month > 12 || day < 1 {
		return 0, 0, 0, eris.Errorf("funnel: date %q out of range", s)
	}
	// Reject overflowing days such as 2025-02-30.
	if time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC).Day() != day {
		return 0, 0, 0, eris.Errorf("funnel: date %q out of range", s)
	}
	return year, month, day, nil
}

// Key is the cache and snapshot key for the range.
func (r DateRange) Key() string {
	return r.Start + "_" + r.End
}

// Contains reports whether t falls inside the inclusive range.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && !t.After(r.To)
}

// Buffered returns the range widened by days on both sides, for coarse
// store reads that are filtered precisely afterwards.
func (r DateRange) Buffered(days int) (from, to time.Time) {
	return r.From.AddDate(0, 0, -days), r.To.AddDate(0, 0, days)
}

// FilterByDateRange returns the records created inside r. Records without a
// creation timestamp are excluded.
func FilterByDateRange(opps []model.Opportunity, r DateRange) []model.Opportunity {
	out := make([]model.Opportunity, 0, len(opps))
	for _, o := range opps {
		if !o.HasCreatedAt() {
			continue
		}
		if r.Contains(o.CreatedAt) {
			out = append(out, o)
		}
	}
	return out
}

// LoadLocation resolves a timezone name, defaulting to DefaultTimezone.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, eris.Wrapf(err, "funnel: load timezone %s", name)
	}
	return loc, nil
}
