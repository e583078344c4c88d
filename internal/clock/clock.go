// Package clock resolves market-local time of day and trading-day keys.
package clock

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Time is a local time of day in minutes after midnight.
type Time int

// Of returns the time of day of t in loc.
func Of(t time.Time, loc *time.Location) Time {
	lt := t.In(loc)
	return Time(lt.Hour()*60 + lt.Minute())
}

// Parse accepts "HH:MM" or "HH".
func Parse(s string) (Time, error) {
	s = strings.TrimSpace(s)
	hh, mm, found := strings.Cut(s, ":")
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("clock: invalid hour in %q", s)
	}
	m := 0
	if found {
		if m, err = strconv.Atoi(mm); err != nil {
			return 0, fmt.Errorf("clock: invalid minute in %q", s)
		}
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("clock: %q out of range", s)
	}
	return Time(h*60 + m), nil
}

// MustParse is Parse for literals.
func MustParse(s string) Time {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

// Hour builds a Time at the top of hour h.
func Hour(h int) Time { return Time(h * 60) }

func (t Time) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// On returns the instant at wall-clock t on the local day containing day.
// On DST transition days this differs from midnight plus t minutes.
func (t Time) On(day time.Time, loc *time.Location) time.Time {
	d := day.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), int(t)/60, int(t)%60, 0, 0, loc)
}

func (t *Time) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t Time) MarshalYAML() (interface{}, error) {
	return t.String(), nil
}

// DayKey identifies one trading day of one market.
type DayKey struct {
	Market string
	Date   string
}

// KeyFor returns the trading-day key of t for market in loc.
func KeyFor(market string, t time.Time, loc *time.Location) DayKey {
	return DayKey{Market: market, Date: t.In(loc).Format("2006-01-02")}
}

func (k DayKey) String() string { return k.Market + "/" + k.Date }

// StartOfDay returns local midnight of the day containing t.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	return Time(0).On(t, loc)
}
