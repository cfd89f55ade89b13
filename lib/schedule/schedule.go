// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

// Package schedule parses the tick schedules in zooid.yaml. A schedule
// is either a five-field cron expression evaluated in UTC
// (minute hour day-of-month month day-of-week) or "@every <duration>".
//
// Cron fields accept *, single values, ranges (1-5), lists (1,3,5), and
// steps (*/15, 0-30/5). When both day fields are restricted, a day
// matches if either does, as in classic cron.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule yields successive fire times.
type Schedule struct {
	expression string

	// every is set for "@every" schedules; the cron fields are unused.
	every time.Duration

	minute, hour, dayOfMonth, month, dayOfWeek set
	// domStar and dowStar record a wildcard day field, which switches
	// day matching from OR to AND.
	domStar, dowStar bool
}

// set holds the allowed values of one field, 0-63.
type set uint64

func (s set) has(value int) bool { return s&(1<<uint(value)) != 0 }

type fieldSpec struct {
	name     string
	min, max int
}

var fieldSpecs = [5]fieldSpec{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// searchLimit bounds Next. Four years covers every leap-day pattern.
const searchLimit = 4 * 366 * 24 * time.Hour

// Parse parses a cron expression or "@every <duration>".
func Parse(expression string) (Schedule, error) {
	expression = strings.TrimSpace(expression)
	if rest, ok := strings.CutPrefix(expression, "@every "); ok {
		every, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil {
			return Schedule{}, fmt.Errorf("schedule %q: %w", expression, err)
		}
		if every < time.Second {
			return Schedule{}, fmt.Errorf("schedule %q: interval must be at least 1s", expression)
		}
		return Schedule{expression: expression, every: every}, nil
	}

	fields := strings.Fields(expression)
	if len(fields) != len(fieldSpecs) {
		return Schedule{}, fmt.Errorf("schedule %q: expected 5 fields, got %d", expression, len(fields))
	}
	var sets [5]set
	for i, field := range fields {
		parsed, err := parseField(field, fieldSpecs[i])
		if err != nil {
			return Schedule{}, fmt.Errorf("schedule %q: %s field: %w", expression, fieldSpecs[i].name, err)
		}
		sets[i] = parsed
	}
	return Schedule{
		expression: expression,
		minute:     sets[0],
		hour:       sets[1],
		dayOfMonth: sets[2],
		month:      sets[3],
		dayOfWeek:  sets[4],
		domStar:    fields[2] == "*",
		dowStar:    fields[4] == "*",
	}, nil
}

// MustParse is Parse for expressions known to be valid.
func MustParse(expression string) Schedule {
	schedule, err := Parse(expression)
	if err != nil {
		panic(err)
	}
	return schedule
}

// String returns the expression the schedule was parsed from.
func (s Schedule) String() string { return s.expression }

// Next returns the first fire time strictly after t.
func (s Schedule) Next(t time.Time) (time.Time, error) {
	if s.every > 0 {
		return t.Add(s.every), nil
	}
	if s.minute == 0 {
		return time.Time{}, fmt.Errorf("schedule: Next on an unparsed schedule")
	}

	candidate := t.UTC().Truncate(time.Minute).Add(time.Minute)
	limit := candidate.Add(searchLimit)
	for candidate.Before(limit) {
		switch {
		case !s.month.has(int(candidate.Month())):
			candidate = time.Date(candidate.Year(), candidate.Month()+1, 1, 0, 0, 0, 0, time.UTC)
		case !s.dayMatches(candidate):
			candidate = time.Date(candidate.Year(), candidate.Month(), candidate.Day()+1, 0, 0, 0, 0, time.UTC)
		case !s.hour.has(candidate.Hour()):
			candidate = candidate.Truncate(time.Hour).Add(time.Hour)
		case !s.minute.has(candidate.Minute()):
			candidate = candidate.Add(time.Minute)
		default:
			return candidate, nil
		}
	}
	return time.Time{}, fmt.Errorf("schedule %q: no fire time within four years of %s", s.expression, t.UTC().Format(time.RFC3339))
}

func (s Schedule) dayMatches(t time.Time) bool {
	dom := s.dayOfMonth.has(t.Day())
	dow := s.dayOfWeek.has(int(t.Weekday()))
	if s.domStar || s.dowStar {
		return dom && dow
	}
	return dom || dow
}

func parseField(field string, spec fieldSpec) (set, error) {
	var result set
	for _, term := range strings.Split(field, ",") {
		low, high, step, err := parseTerm(term, spec)
		if err != nil {
			return 0, err
		}
		for value := low; value <= high; value += step {
			result |= 1 << uint(value)
		}
	}
	return result, nil
}

// parseTerm returns the inclusive bounds and step of one list term.
func parseTerm(term string, spec fieldSpec) (low, high, step int, err error) {
	rangePart, stepPart, stepped := strings.Cut(term, "/")
	step = 1
	if stepped {
		if step, err = strconv.Atoi(stepPart); err != nil || step <= 0 {
			return 0, 0, 0, fmt.Errorf("step %q must be a positive integer", stepPart)
		}
	}

	if rangePart == "*" {
		return spec.min, spec.max, step, nil
	}
	lowPart, highPart, isRange := strings.Cut(rangePart, "-")
	if low, err = strconv.Atoi(lowPart); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid value %q", lowPart)
	}
	high = low
	if isRange {
		if high, err = strconv.Atoi(highPart); err != nil {
			return 0, 0, 0, fmt.Errorf("invalid value %q", highPart)
		}
		if low > high {
			return 0, 0, 0, fmt.Errorf("range %d-%d is reversed", low, high)
		}
	} else if stepped {
		// "5/15" means every 15 starting at 5.
		high = spec.max
	}
	if low < spec.min || high > spec.max {
		return 0, 0, 0, fmt.Errorf("%d-%d out of range [%d-%d]", low, high, spec.min, spec.max)
	}
	return low, high, step, nil
}
