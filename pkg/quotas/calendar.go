/*
 Licensed to the Apache Software Foundation (ASF) under one
 or more contributor license agreements.  See the NOTICE file
 distributed with this work for additional information
 regarding copyright ownership.  The ASF licenses this file
 to you under the Apache License, Version 2.0 (the
 "License"); you may not use this file except in compliance
 with the License.  You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package quotas

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kao-sched/kao-core/pkg/common"
)

const (
	secondsPerDay  int64 = 86400
	secondsPerWeek       = 7 * secondsPerDay

	// DefaultPeriod is the length of the calendar timeline when none is configured.
	DefaultPeriod = secondsPerWeek
	// NoRule is the rule set id of an instant no calendar rule covers.
	NoRule = -1
	// OneshotLayout is the timestamp format of one-shot rules, read in the calendar location.
	OneshotLayout = "2006-01-02 15:04"

	unbounded int64 = math.MaxInt64 / 4
	// 1970-01-05 was a Monday: periods are aligned on week starts
	referenceMonday int64 = 4 * secondsPerDay
)

var dayNames = map[string]int{
	"mon": 0, "tue": 1, "wed": 2, "thu": 3, "fri": 4, "sat": 5, "sun": 6,
}

// PeriodicalRule is a recurring "<time-range> <day-range> * *" pattern naming a rule set.
type PeriodicalRule struct {
	Pattern     string
	RuleSet     string
	Description string
}

// OneshotRule covers the absolute range [Start, End) and takes priority over periodical rules.
type OneshotRule struct {
	Start       string
	End         string
	RuleSet     string
	Description string
}

type CalendarRules struct {
	Periodical []PeriodicalRule
	Oneshot    []OneshotRule
}

func (r CalendarRules) IsEmpty() bool {
	return len(r.Periodical) == 0 && len(r.Oneshot) == 0
}

// window is a weekly range [begin, end) in seconds from Monday 00:00
type window struct {
	begin int64
	end   int64
	id    int
	index int
}

type oneshot struct {
	begin int64
	end   int64
	id    int
	index int
}

// span is a range [begin, end) of the period timeline
type span struct {
	begin int64
	end   int64
	id    int
}

// Calendar maps timestamps to the active rule set id.
// Periodical rules are tiled week after week over a timeline of one period, which repeats.
// Positions are wall clock seconds in the calendar location.
type Calendar struct {
	period      int64
	loc         *time.Location
	names       []string
	ids         map[string]int
	windows     []window
	oneshots    []oneshot
	periodicals int
	timeline    []span
}

// ParseCalendar parses the rules. Malformed entries fail with a ConfigurationError naming the rule index,
// periodical rules counted first. Overlaps are not errors here, see Check.
func ParseCalendar(rules CalendarRules, period int64, loc *time.Location) (*Calendar, error) {
	if period <= 0 {
		period = DefaultPeriod
	}
	if loc == nil {
		loc = time.Local
	}
	c := &Calendar{
		period:      period,
		loc:         loc,
		ids:         make(map[string]int),
		periodicals: len(rules.Periodical),
	}
	for i, rule := range rules.Periodical {
		ranges, err := parsePattern(rule.Pattern)
		if err != nil {
			return nil, common.NewConfigurationError("calendar", i, "periodical %q: %v", rule.Pattern, err)
		}
		if rule.RuleSet == "" {
			return nil, common.NewConfigurationError("calendar", i, "periodical %q has no rule set", rule.Pattern)
		}
		id := c.idOf(rule.RuleSet)
		for _, r := range ranges {
			c.windows = append(c.windows, window{begin: r[0], end: r[1], id: id, index: i})
		}
	}
	for i, rule := range rules.Oneshot {
		index := len(rules.Periodical) + i
		begin, err := time.ParseInLocation(OneshotLayout, strings.TrimSpace(rule.Start), loc)
		if err != nil {
			return nil, common.NewConfigurationError("calendar", index, "oneshot start %q: %v", rule.Start, err)
		}
		end, err := time.ParseInLocation(OneshotLayout, strings.TrimSpace(rule.End), loc)
		if err != nil {
			return nil, common.NewConfigurationError("calendar", index, "oneshot end %q: %v", rule.End, err)
		}
		if !end.After(begin) {
			return nil, common.NewConfigurationError("calendar", index, "oneshot ends before it starts")
		}
		if rule.RuleSet == "" {
			return nil, common.NewConfigurationError("calendar", index, "oneshot has no rule set")
		}
		c.oneshots = append(c.oneshots, oneshot{begin: begin.Unix(), end: end.Unix(), id: c.idOf(rule.RuleSet), index: index})
	}
	sort.SliceStable(c.oneshots, func(i, j int) bool {
		return c.oneshots[i].begin < c.oneshots[j].begin
	})
	c.buildTimeline()
	return c, nil
}

// ValidateCalendar parses and checks the rules without failing: the result is the validity and
// the index of the first offending rule, -1 when valid.
func ValidateCalendar(rules CalendarRules, period int64, loc *time.Location) (bool, int) {
	c, err := ParseCalendar(rules, period, loc)
	if err != nil {
		var ce *common.ConfigurationError
		if errors.As(err, &ce) {
			return false, ce.Index
		}
		return false, 0
	}
	return c.Check()
}

func (c *Calendar) idOf(name string) int {
	if id, ok := c.ids[name]; ok {
		return id
	}
	id := len(c.names)
	c.ids[name] = id
	c.names = append(c.names, name)
	return id
}

// Check reports whether periodical rules with different rule sets or one-shot rules overlap.
// The offending index is the later rule of the first overlapping pair, -1 when valid.
func (c *Calendar) Check() (bool, int) {
	offending := -1
	for j := range c.windows {
		for i := 0; i < j; i++ {
			a, b := c.windows[i], c.windows[j]
			if a.index == b.index || a.id == b.id {
				continue
			}
			if a.begin < b.end && b.begin < a.end {
				offending = minOffending(offending, maxInt(a.index, b.index))
			}
		}
	}
	for j := 1; j < len(c.oneshots); j++ {
		for i := 0; i < j; i++ {
			a, b := c.oneshots[i], c.oneshots[j]
			if a.begin < b.end && b.begin < a.end {
				offending = minOffending(offending, maxInt(a.index, b.index))
			}
		}
	}
	return offending == -1, offending
}

func minOffending(current, candidate int) int {
	if current == -1 || candidate < current {
		return candidate
	}
	return current
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (c *Calendar) Period() int64 {
	return c.period
}

func (c *Calendar) Location() *time.Location {
	return c.loc
}

// RuleSetNames returns the rule set names indexed by id.
func (c *Calendar) RuleSetNames() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// RuleSetID returns the id of a rule set named by a rule.
func (c *Calendar) RuleSetID(name string) (int, bool) {
	id, ok := c.ids[name]
	return id, ok
}

// RulesAt returns the rule set id active at t and the seconds until the next transition.
func (c *Calendar) RulesAt(t int64) (int, int64) {
	for _, o := range c.oneshots {
		if o.begin <= t && t < o.end {
			return o.id, o.end - t
		}
		if o.begin > t {
			break
		}
	}
	id, remaining := NoRule, unbounded
	if len(c.timeline) > 0 {
		pos := c.position(t)
		tl := c.timeline
		i := sort.Search(len(tl), func(i int) bool {
			return tl[i].end > pos
		})
		current := tl[i]
		id = current.id
		switch {
		case len(tl) == 1:
			remaining = unbounded
		case i == len(tl)-1 && tl[0].id == current.id:
			remaining = current.end - pos + tl[0].end - tl[0].begin
		default:
			remaining = current.end - pos
		}
	}
	if remaining != unbounded {
		remaining = c.elapsed(t, remaining)
	}
	for _, o := range c.oneshots {
		if o.begin > t {
			if o.begin-t < remaining {
				remaining = o.begin - t
			}
			break
		}
	}
	return id, remaining
}

// elapsed converts a wall clock distance from t into seconds: a daylight saving change in
// between moves the transition instant by the clock shift.
func (c *Calendar) elapsed(t, wall int64) int64 {
	local := common.Unix(t, c.loc)
	y, m, d := local.Date()
	end := time.Date(y, m, d, local.Hour(), local.Minute(), local.Second()+int(wall), 0, c.loc).Unix()
	if end <= t {
		return wall
	}
	return end - t
}

// position of t in the period timeline
func (c *Calendar) position(t int64) int64 {
	local := common.Unix(t, c.loc)
	y, m, d := local.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix()
	wall := day + int64(local.Hour()*3600+local.Minute()*60+local.Second())
	pos := (wall - referenceMonday) % c.period
	if pos < 0 {
		pos += c.period
	}
	return pos
}

func (c *Calendar) buildTimeline() {
	if len(c.windows) == 0 {
		return
	}
	points := []int64{0, secondsPerWeek}
	for _, w := range c.windows {
		points = append(points, w.begin, w.end)
	}
	sort.Slice(points, func(i, j int) bool { return points[i] < points[j] })
	var week []span
	for k := 0; k+1 < len(points); k++ {
		begin, end := points[k], points[k+1]
		if begin == end {
			continue
		}
		id := NoRule
		for _, w := range c.windows {
			if w.begin <= begin && begin < w.end {
				id = w.id
				break
			}
		}
		week = appendSpan(week, span{begin: begin, end: end, id: id})
	}
	for offset := int64(0); offset < c.period; offset += secondsPerWeek {
		for _, s := range week {
			begin := offset + s.begin
			if begin >= c.period {
				break
			}
			end := offset + s.end
			if end > c.period {
				end = c.period
			}
			c.timeline = appendSpan(c.timeline, span{begin: begin, end: end, id: s.id})
		}
	}
}

func appendSpan(spans []span, s span) []span {
	if n := len(spans); n > 0 && spans[n-1].id == s.id && spans[n-1].end == s.begin {
		spans[n-1].end = s.end
		return spans
	}
	return append(spans, s)
}

// parsePattern turns "<time-range> <day-range> * *" into weekly [begin, end) ranges
func parsePattern(pattern string) ([][2]int64, error) {
	fields := strings.Fields(pattern)
	if len(fields) != 4 {
		return nil, fmt.Errorf("expected 4 fields, got %d", len(fields))
	}
	if fields[2] != "*" || fields[3] != "*" {
		return nil, fmt.Errorf("only * is supported for the month and day of month fields")
	}
	begin, end, err := parseTimeRange(fields[0])
	if err != nil {
		return nil, err
	}
	days, err := parseDays(fields[1])
	if err != nil {
		return nil, err
	}
	var out [][2]int64
	for d := 0; d < 7; d++ {
		if !days[d] {
			continue
		}
		b := int64(d)*secondsPerDay + begin
		e := int64(d)*secondsPerDay + end
		if e <= secondsPerWeek {
			out = append(out, [2]int64{b, e})
			continue
		}
		out = append(out, [2]int64{b, secondsPerWeek}, [2]int64{0, e - secondsPerWeek})
	}
	return out, nil
}

// parseTimeRange returns the range in seconds from the start of the day, the end may pass midnight
func parseTimeRange(str string) (int64, int64, error) {
	if str == "*" {
		return 0, secondsPerDay, nil
	}
	parts := strings.Split(str, "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time range %q", str)
	}
	begin, err := parseClock(parts[0])
	if err != nil {
		return 0, 0, err
	}
	end, err := parseClock(parts[1])
	if err != nil {
		return 0, 0, err
	}
	if begin == secondsPerDay {
		return 0, 0, fmt.Errorf("time range %q starts at 24:00", str)
	}
	if end == 0 {
		end = secondsPerDay
	}
	if end <= begin {
		end += secondsPerDay
	}
	return begin, end, nil
}

func parseClock(str string) (int64, error) {
	parts := strings.Split(str, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q", str)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid time %q", str)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || len(parts[1]) != 2 {
		return 0, fmt.Errorf("invalid time %q", str)
	}
	if hours < 0 || minutes < 0 || minutes > 59 || hours > 24 || (hours == 24 && minutes != 0) {
		return 0, fmt.Errorf("time %q out of range", str)
	}
	return int64(hours*3600 + minutes*60), nil
}

func parseDays(str string) ([7]bool, error) {
	var days [7]bool
	if str == "*" {
		for d := range days {
			days[d] = true
		}
		return days, nil
	}
	for _, item := range strings.Split(strings.ToLower(str), ",") {
		bounds := strings.Split(item, "-")
		if len(bounds) > 2 {
			return days, fmt.Errorf("invalid day range %q", item)
		}
		first, ok := dayNames[bounds[0]]
		if !ok {
			return days, fmt.Errorf("unknown day %q", bounds[0])
		}
		last := first
		if len(bounds) == 2 {
			if last, ok = dayNames[bounds[1]]; !ok {
				return days, fmt.Errorf("unknown day %q", bounds[1])
			}
		}
		for d := first; ; d = (d + 1) % 7 {
			days[d] = true
			if d == last {
				break
			}
		}
	}
	return days, nil
}
