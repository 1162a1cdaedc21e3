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

package resources

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ResourceID names one schedulable unit, typically a core.
type ResourceID int64

// Interval is a closed range of resource ids.
type Interval struct {
	Low  ResourceID
	High ResourceID
}

func (i Interval) Len() int {
	return int(i.High-i.Low) + 1
}

func (i Interval) String() string {
	if i.Low == i.High {
		return strconv.FormatInt(int64(i.Low), 10)
	}
	return fmt.Sprintf("%d-%d", i.Low, i.High)
}

// IntervalSet is a deduplicated, ordered set of resource ids stored as sorted, disjoint
// and non-adjacent closed ranges. The value is immutable: every operation returns a new set.
// The zero value is the empty set.
type IntervalSet struct {
	itvs []Interval
}

// NewIntervalSet builds a set from arbitrary, possibly overlapping or unsorted ranges.
// Ranges with Low > High are ignored.
func NewIntervalSet(itvs ...Interval) IntervalSet {
	if len(itvs) == 0 {
		return IntervalSet{}
	}
	sorted := make([]Interval, 0, len(itvs))
	for _, itv := range itvs {
		if itv.Low <= itv.High {
			sorted = append(sorted, itv)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Low != sorted[j].Low {
			return sorted[i].Low < sorted[j].Low
		}
		return sorted[i].High < sorted[j].High
	})
	return IntervalSet{itvs: coalesce(sorted)}
}

// FromIDs builds a set from single ids.
func FromIDs(ids ...ResourceID) IntervalSet {
	itvs := make([]Interval, len(ids))
	for i, id := range ids {
		itvs[i] = Interval{Low: id, High: id}
	}
	return NewIntervalSet(itvs...)
}

// Range returns the set [low, high].
func Range(low, high ResourceID) IntervalSet {
	return NewIntervalSet(Interval{Low: low, High: high})
}

// coalesce merges overlapping and adjacent ranges of a sorted slice in place.
func coalesce(sorted []Interval) []Interval {
	if len(sorted) == 0 {
		return nil
	}
	out := sorted[:1]
	for _, itv := range sorted[1:] {
		last := &out[len(out)-1]
		if itv.Low <= last.High+1 {
			if itv.High > last.High {
				last.High = itv.High
			}
			continue
		}
		out = append(out, itv)
	}
	return out
}

// Intervals returns a copy of the ranges.
func (s IntervalSet) Intervals() []Interval {
	out := make([]Interval, len(s.itvs))
	copy(out, s.itvs)
	return out
}

// Len returns the cardinality of the set.
func (s IntervalSet) Len() int {
	n := 0
	for _, itv := range s.itvs {
		n += itv.Len()
	}
	return n
}

// RangeCount returns the number of ranges.
func (s IntervalSet) RangeCount() int {
	return len(s.itvs)
}

func (s IntervalSet) IsEmpty() bool {
	return len(s.itvs) == 0
}

// Min returns the smallest id, false on an empty set.
func (s IntervalSet) Min() (ResourceID, bool) {
	if s.IsEmpty() {
		return 0, false
	}
	return s.itvs[0].Low, true
}

// Max returns the largest id, false on an empty set.
func (s IntervalSet) Max() (ResourceID, bool) {
	if s.IsEmpty() {
		return 0, false
	}
	return s.itvs[len(s.itvs)-1].High, true
}

func (s IntervalSet) Contains(id ResourceID) bool {
	i := sort.Search(len(s.itvs), func(i int) bool {
		return s.itvs[i].High >= id
	})
	return i < len(s.itvs) && s.itvs[i].Low <= id
}

func (s IntervalSet) Equal(o IntervalSet) bool {
	if len(s.itvs) != len(o.itvs) {
		return false
	}
	for i := range s.itvs {
		if s.itvs[i] != o.itvs[i] {
			return false
		}
	}
	return true
}

func (s IntervalSet) Union(o IntervalSet) IntervalSet {
	if s.IsEmpty() {
		return o
	}
	if o.IsEmpty() {
		return s
	}
	merged := make([]Interval, 0, len(s.itvs)+len(o.itvs))
	i, j := 0, 0
	for i < len(s.itvs) || j < len(o.itvs) {
		if j >= len(o.itvs) || (i < len(s.itvs) && s.itvs[i].Low <= o.itvs[j].Low) {
			merged = append(merged, s.itvs[i])
			i++
		} else {
			merged = append(merged, o.itvs[j])
			j++
		}
	}
	return IntervalSet{itvs: coalesce(merged)}
}

func (s IntervalSet) Intersection(o IntervalSet) IntervalSet {
	var out []Interval
	i, j := 0, 0
	for i < len(s.itvs) && j < len(o.itvs) {
		a, b := s.itvs[i], o.itvs[j]
		low, high := maxID(a.Low, b.Low), minID(a.High, b.High)
		if low <= high {
			out = append(out, Interval{Low: low, High: high})
		}
		if a.High < b.High {
			i++
		} else {
			j++
		}
	}
	return IntervalSet{itvs: out}
}

func (s IntervalSet) Difference(o IntervalSet) IntervalSet {
	if s.IsEmpty() || o.IsEmpty() {
		return s
	}
	var out []Interval
	j := 0
	for _, itv := range s.itvs {
		low := itv.Low
		for j < len(o.itvs) && o.itvs[j].High < low {
			j++
		}
		k := j
		for k < len(o.itvs) && o.itvs[k].Low <= itv.High {
			if o.itvs[k].Low > low {
				out = append(out, Interval{Low: low, High: o.itvs[k].Low - 1})
			}
			if o.itvs[k].High >= itv.High {
				low = itv.High + 1
				break
			}
			low = o.itvs[k].High + 1
			k++
		}
		if low <= itv.High {
			out = append(out, Interval{Low: low, High: itv.High})
		}
	}
	return IntervalSet{itvs: out}
}

// IsSubset reports whether every id of s is in o.
func (s IntervalSet) IsSubset(o IntervalSet) bool {
	j := 0
	for _, itv := range s.itvs {
		for j < len(o.itvs) && o.itvs[j].High < itv.Low {
			j++
		}
		if j >= len(o.itvs) || o.itvs[j].Low > itv.Low || o.itvs[j].High < itv.High {
			return false
		}
	}
	return true
}

// Intersects reports whether s and o share at least one id.
func (s IntervalSet) Intersects(o IntervalSet) bool {
	i, j := 0, 0
	for i < len(s.itvs) && j < len(o.itvs) {
		a, b := s.itvs[i], o.itvs[j]
		if a.Low <= b.High && b.Low <= a.High {
			return true
		}
		if a.High < b.High {
			i++
		} else {
			j++
		}
	}
	return false
}

// Elements returns the ids at positions [from, to) of the ordered set.
// Positions are clamped to the cardinality.
func (s IntervalSet) Elements(from, to int) IntervalSet {
	if from < 0 {
		from = 0
	}
	if to <= from {
		return IntervalSet{}
	}
	var out []Interval
	pos := 0
	for _, itv := range s.itvs {
		n := itv.Len()
		if pos+n <= from {
			pos += n
			continue
		}
		if pos >= to {
			break
		}
		low := itv.Low
		if from > pos {
			low += ResourceID(from - pos)
		}
		high := itv.High
		if pos+n > to {
			high = itv.Low + ResourceID(to-pos) - 1
		}
		out = append(out, Interval{Low: low, High: high})
		pos += n
	}
	return IntervalSet{itvs: out}
}

// IDs expands the set into single ids.
func (s IntervalSet) IDs() []ResourceID {
	ids := make([]ResourceID, 0, s.Len())
	for _, itv := range s.itvs {
		for id := itv.Low; id <= itv.High; id++ {
			ids = append(ids, id)
		}
	}
	return ids
}

// String renders the set as space separated ranges, e.g. "1-4 8 10-12".
func (s IntervalSet) String() string {
	parts := make([]string, len(s.itvs))
	for i, itv := range s.itvs {
		parts[i] = itv.String()
	}
	return strings.Join(parts, " ")
}

// Parse reads the format produced by String. Commas are accepted as separators.
func Parse(str string) (IntervalSet, error) {
	fields := strings.FieldsFunc(str, func(r rune) bool {
		return r == ' ' || r == ','
	})
	itvs := make([]Interval, 0, len(fields))
	for _, field := range fields {
		lowStr, highStr, isRange := strings.Cut(field, "-")
		low, err := strconv.ParseInt(lowStr, 10, 64)
		if err != nil {
			return IntervalSet{}, fmt.Errorf("invalid resource range %q: %w", field, err)
		}
		high := low
		if isRange {
			if high, err = strconv.ParseInt(highStr, 10, 64); err != nil {
				return IntervalSet{}, fmt.Errorf("invalid resource range %q: %w", field, err)
			}
			if high < low {
				return IntervalSet{}, fmt.Errorf("invalid resource range %q: high below low", field)
			}
		}
		itvs = append(itvs, Interval{Low: ResourceID(low), High: ResourceID(high)})
	}
	return NewIntervalSet(itvs...), nil
}

func (s IntervalSet) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *IntervalSet) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func minID(a, b ResourceID) ResourceID {
	if a < b {
		return a
	}
	return b
}

func maxID(a, b ResourceID) ResourceID {
	if a > b {
		return a
	}
	return b
}
