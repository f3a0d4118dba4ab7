package expr

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"
)

// TimeUnit is the unit of a time-bucket interval
type TimeUnit int

const (
	UnitSeconds TimeUnit = iota
	UnitMinutes
	UnitHours
	UnitDays
	UnitWeeks
	UnitMonths
	UnitQuarters
	UnitYears
)

var timeUnitNames = []string{"Seconds", "Minutes", "Hours", "Days", "Weeks", "Months", "Quarters", "Years"}

func (u TimeUnit) String() string {
	if int(u) < len(timeUnitNames) {
		return timeUnitNames[u]
	}
	return fmt.Sprintf("TimeUnit(%d)", int(u))
}

// ParseTimeUnit accepts unit names case-insensitively, singular or plural.
func ParseTimeUnit(s string) (TimeUnit, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range timeUnitNames {
		lower := strings.ToLower(n)
		if name == lower || name == strings.TrimSuffix(lower, "s") {
			return TimeUnit(i), nil
		}
	}
	return 0, fmt.Errorf("unknown time unit %q", s)
}

// DatePart selects the calendar field a temporal function extracts
type DatePart int

const (
	PartYear DatePart = iota
	PartQuarter
	PartMonth
	PartWeek
	PartDay
	PartWeekday
	PartDayOfYear
	PartHour
	PartMinute
	PartSecond
	PartMillisecond
)

var datePartNames = []string{
	"year", "quarter", "month", "week", "day", "weekday", "dayofyear",
	"hour", "minute", "second", "millisecond",
}

func (p DatePart) String() string {
	if int(p) < len(datePartNames) {
		return datePartNames[p]
	}
	return fmt.Sprintf("DatePart(%d)", int(p))
}

// ParseDatePart accepts part names case-insensitively, ignoring underscores.
func ParseDatePart(s string) (DatePart, error) {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "")
	for i, n := range datePartNames {
		if name == n {
			return DatePart(i), nil
		}
	}
	return 0, fmt.Errorf("unknown date part %q", s)
}

const defaultTimestampFormat = "RFC3339"

// namedLayouts maps layout names to Go reference layouts.
var namedLayouts = map[string]string{
	"ANSIC":       time.ANSIC,
	"UnixDate":    time.UnixDate,
	"RubyDate":    time.RubyDate,
	"RFC822":      time.RFC822,
	"RFC822Z":     time.RFC822Z,
	"RFC850":      time.RFC850,
	"RFC1123":     time.RFC1123,
	"RFC1123Z":    time.RFC1123Z,
	"RFC3339":     time.RFC3339,
	"RFC3339Nano": time.RFC3339Nano,
	"DateTime":    time.DateTime,
	"DateOnly":    time.DateOnly,
}

type epochFormat int

const (
	notEpoch epochFormat = iota
	epochSeconds
	epochMillis
	epochMicros
	epochNanos
)

var epochFormats = map[string]epochFormat{
	"Unix":   epochSeconds,
	"UnixMs": epochMillis,
	"UnixUs": epochMicros,
	"UnixNs": epochNanos,
}

// TimeParser parses strings into instants with a fixed format and zone.
type TimeParser struct {
	format  string
	layouts []string
	epoch   epochFormat
	loc     *time.Location
	strict  bool
}

// NewTimeParser builds a parser. format may be a strftime pattern (it
// contains '%'), a layout name such as RFC3339 or Unix, or a Go reference
// layout. Values without an offset are read in timezone, UTC when empty.
func NewTimeParser(format, timezone string, strict bool) (*TimeParser, error) {
	if format == "" {
		format = defaultTimestampFormat
	}
	loc := time.UTC
	if timezone != "" {
		var err error
		if loc, err = time.LoadLocation(timezone); err != nil {
			return nil, fmt.Errorf("loading timezone %q: %w", timezone, err)
		}
	}

	p := &TimeParser{format: format, loc: loc, strict: strict}
	if epoch, ok := epochFormats[format]; ok {
		p.epoch = epoch
		return p, nil
	}

	layout := format
	if named, ok := namedLayouts[format]; ok {
		layout = named
	} else if strings.Contains(format, "%") {
		var err error
		if layout, err = strftime.Layout(format); err != nil {
			return nil, fmt.Errorf("converting strftime format %q: %w", format, err)
		}
	}
	p.layouts = []string{layout}
	// strptime's %z also accepts "-07:00"; Go layouts distinguish the two.
	if strings.Contains(layout, "-0700") {
		p.layouts = append(p.layouts, strings.Replace(layout, "-0700", "Z07:00", 1))
	}
	return p, nil
}

// Format returns the format the parser was built from.
func (p *TimeParser) Format() string {
	return p.format
}

// Location returns the zone used for values without an offset.
func (p *TimeParser) Location() *time.Location {
	return p.loc
}

func (p *TimeParser) location() *time.Location {
	if p == nil {
		return time.UTC
	}
	return p.loc
}

// Strict reports whether parse failures abort evaluation.
func (p *TimeParser) Strict() bool {
	return p.strict
}

// Parse parses s into a UTC instant.
func (p *TimeParser) Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if p.epoch != notEpoch {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing %q as %s: %w", s, p.format, err)
		}
		switch p.epoch {
		case epochSeconds:
			return time.Unix(n, 0).UTC(), nil
		case epochMillis:
			return time.UnixMilli(n).UTC(), nil
		case epochMicros:
			return time.UnixMicro(n).UTC(), nil
		default:
			return time.Unix(0, n).UTC(), nil
		}
	}

	var firstErr error
	for _, layout := range p.layouts {
		t, err := time.ParseInLocation(layout, s, p.loc)
		if err == nil {
			return t.UTC(), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, fmt.Errorf("parsing %q with format %q: %w", s, p.format, firstErr)
}

const (
	msPerSecond = int64(1000)
	msPerMinute = 60 * msPerSecond
	msPerHour   = 60 * msPerMinute
	msPerDay    = 24 * msPerHour
	// 1970-01-05 was the first Monday after the epoch.
	firstMondayDay = 4
)

// unitSpanMillis is the longest span of one unit in milliseconds.
var unitSpanMillis = []int64{msPerSecond, msPerMinute, msPerHour, msPerDay, 7 * msPerDay, 31 * msPerDay, 92 * msPerDay, 366 * msPerDay}

// MaxEvery returns the largest interval count of u whose span still fits
// in int64 milliseconds.
func (u TimeUnit) MaxEvery() int64 {
	if u < 0 || int(u) >= len(unitSpanMillis) {
		return math.MaxInt64 / msPerSecond
	}
	return math.MaxInt64 / unitSpanMillis[u]
}

// Truncate rounds the instant ms (milliseconds since the epoch) down to a
// multiple of every units, with every clamped to unit.MaxEvery. Sub-day
// units align to the epoch; days, weeks, months, quarters and years align
// to calendar boundaries in loc.
func Truncate(ms int64, every int64, unit TimeUnit, loc *time.Location) int64 {
	if every <= 0 {
		every = 1
	}
	every = min(every, unit.MaxEvery())
	if loc == nil {
		loc = time.UTC
	}

	switch unit {
	case UnitSeconds:
		return floorTo(ms, every*msPerSecond)
	case UnitMinutes:
		return floorTo(ms, every*msPerMinute)
	case UnitHours:
		return floorTo(ms, every*msPerHour)
	}

	local := time.UnixMilli(ms).In(loc)
	switch unit {
	case UnitDays, UnitWeeks:
		day := civilDay(local)
		if unit == UnitDays {
			day = floorTo(day, every)
		} else {
			day = floorTo(day-firstMondayDay, 7*every) + firstMondayDay
		}
		d := time.Unix(day*(msPerDay/msPerSecond), 0).UTC()
		return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc).UnixMilli()
	default:
		months := every
		switch unit {
		case UnitQuarters:
			months = 3 * every
		case UnitYears:
			months = 12 * every
		}
		index := int64(local.Year()-1970)*12 + int64(local.Month()-1)
		index = floorTo(index, months)
		year := 1970 + int(floorDivInt(index, 12))
		month := time.Month(index-floorDivInt(index, 12)*12) + 1
		return time.Date(year, month, 1, 0, 0, 0, 0, loc).UnixMilli()
	}
}

func civilDay(t time.Time) int64 {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Unix() / (msPerDay / msPerSecond)
}

func floorTo(v, size int64) int64 {
	return floorDivInt(v, size) * size
}

func floorDivInt(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// extractPart returns the calendar field p of the instant ms in loc.
func extractPart(ms int64, p DatePart, loc *time.Location) int64 {
	t := time.UnixMilli(ms).In(loc)
	switch p {
	case PartYear:
		return int64(t.Year())
	case PartQuarter:
		return int64((t.Month()-1)/3 + 1)
	case PartMonth:
		return int64(t.Month())
	case PartWeek:
		_, week := t.ISOWeek()
		return int64(week)
	case PartDay:
		return int64(t.Day())
	case PartWeekday:
		// ISO numbering, Monday = 1
		wd := int64(t.Weekday())
		if wd == 0 {
			wd = 7
		}
		return wd
	case PartDayOfYear:
		return int64(t.YearDay())
	case PartHour:
		return int64(t.Hour())
	case PartMinute:
		return int64(t.Minute())
	case PartSecond:
		return int64(t.Second())
	default:
		return int64(t.Nanosecond() / int(time.Millisecond))
	}
}
