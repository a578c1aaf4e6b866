package hours

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Reasons returned by IsOpen.
const (
	ReasonOpen          = "open"
	ReasonClosedWeekday = "closed_weekday"
	ReasonClosedHoliday = "closed_holiday"
	ReasonOutsideHours  = "outside_hours"
)

// Policy answers whether the call center is open.
type Policy interface {
	IsOpenNow() (bool, string)
}

// AlwaysOpen is used when no schedule is configured.
type AlwaysOpen struct{}

func (AlwaysOpen) IsOpenNow() (bool, string) { return true, ReasonOpen }

// Schedule is a weekly timetable with holiday closures.
//
//	timezone: America/Chicago
//	closed_message: "Our office is closed."
//	weekly:
//	  monday:    [{open: "08:00", close: "18:00"}]
//	  saturday:  [{open: "09:00", close: "12:00"}]
//	holidays: ["2026-12-25", "2027-01-01"]
type Schedule struct {
	Timezone      string              `yaml:"timezone"`
	ClosedMessage string              `yaml:"closed_message"`
	Weekly        map[string][]Window `yaml:"weekly"`
	Holidays      []string            `yaml:"holidays"`

	loc      *time.Location
	days     map[time.Weekday][]window
	holidays map[string]bool

	Now func() time.Time
}

type Window struct {
	Open  string `yaml:"open"`
	Close string `yaml:"close"`
}

// window is a parsed Window in minutes since midnight, [open, close).
type window struct {
	open, close int
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Load reads and validates a schedule file.
func Load(path string) (*Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading business hours: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML schedule.
func Parse(data []byte) (*Schedule, error) {
	s := &Schedule{Timezone: "UTC"}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing business hours: %w", err)
	}
	if err := s.compile(); err != nil {
		return nil, err
	}
	s.Now = time.Now
	return s, nil
}

func (s *Schedule) compile() error {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return fmt.Errorf("business hours timezone %q: %w", s.Timezone, err)
	}
	s.loc = loc

	s.days = map[time.Weekday][]window{}
	for name, windows := range s.Weekly {
		day, ok := weekdays[strings.ToLower(name)]
		if !ok {
			return fmt.Errorf("business hours: unknown weekday %q", name)
		}
		for _, w := range windows {
			open, err := parseClock(w.Open)
			if err != nil {
				return fmt.Errorf("business hours %s open: %w", name, err)
			}
			closeAt, err := parseClock(w.Close)
			if err != nil {
				return fmt.Errorf("business hours %s close: %w", name, err)
			}
			if closeAt <= open {
				return fmt.Errorf("business hours %s: close %s must be after open %s", name, w.Close, w.Open)
			}
			s.days[day] = append(s.days[day], window{open: open, close: closeAt})
		}
	}

	s.holidays = map[string]bool{}
	for _, h := range s.Holidays {
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return fmt.Errorf("business hours holiday %q: %w", h, err)
		}
		s.holidays[h] = true
	}
	return nil
}

func parseClock(v string) (int, error) {
	if v == "24:00" {
		return 24 * 60, nil
	}
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q (want HH:MM)", v)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func (s *Schedule) IsOpenNow() (bool, string) {
	return s.IsOpen(s.Now())
}

// IsOpen evaluates the schedule at t in the schedule's timezone.
func (s *Schedule) IsOpen(t time.Time) (bool, string) {
	local := t.In(s.loc)
	if s.holidays[local.Format("2006-01-02")] {
		return false, ReasonClosedHoliday
	}
	windows := s.days[local.Weekday()]
	if len(windows) == 0 {
		return false, ReasonClosedWeekday
	}
	minute := local.Hour()*60 + local.Minute()
	for _, w := range windows {
		if minute >= w.open && minute < w.close {
			return true, ReasonOpen
		}
	}
	return false, ReasonOutsideHours
}
