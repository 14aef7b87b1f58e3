// Copyright 2024 The ChronoGraph Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package entity

import "math"

// NoUpperBound marks an open (unbounded) end of a time interval, e.g. a
// fragment's EndTime while it is still the latest fragment. Series
// intervals mark an open end with an empty string instead.
const NoUpperBound = math.MaxInt64

// TimeSeriesInterval is a half-open range [StartSeries, EndSeries) over the
// series namespace. Either bound may be open: an empty StartSeries means
// "from the beginning", an empty EndSeries means "to the end".
type TimeSeriesInterval struct {
	StartSeries string
	EndSeries   string
}

// IsSeriesName reports whether this interval denotes a single series name
// rather than a range (used by point-series lookups such as First/Last).
func (t TimeSeriesInterval) IsSeriesName() bool {
	return t.StartSeries == t.EndSeries && t.StartSeries != ""
}

func (t TimeSeriesInterval) hasOpenStart() bool { return t.StartSeries == "" }
func (t TimeSeriesInterval) hasOpenEnd() bool   { return t.EndSeries == "" }

// Overlaps reports whether two series intervals intersect.
func (t TimeSeriesInterval) Overlaps(o TimeSeriesInterval) bool {
	if !t.hasOpenEnd() && !o.hasOpenStart() && t.EndSeries <= o.StartSeries {
		return false
	}
	if !o.hasOpenEnd() && !t.hasOpenStart() && o.EndSeries <= t.StartSeries {
		return false
	}
	return true
}

// Contains reports whether the named series falls inside this interval.
func (t TimeSeriesInterval) Contains(series string) bool {
	if !t.hasOpenStart() && series < t.StartSeries {
		return false
	}
	if !t.hasOpenEnd() && series >= t.EndSeries {
		return false
	}
	return true
}

// TimeInterval is a half-open range [StartTime, EndTime) of unix nanoseconds.
// EndTime == NoUpperBound means the interval is still open (the "latest").
type TimeInterval struct {
	StartTime int64
	EndTime   int64
}

func (t TimeInterval) IsOpen() bool { return t.EndTime == NoUpperBound }

// Span returns EndTime-StartTime; callers must not call this on an open
// interval.
func (t TimeInterval) Span() int64 { return t.EndTime - t.StartTime }

// Overlaps reports whether two time intervals intersect.
func (t TimeInterval) Overlaps(o TimeInterval) bool {
	return t.StartTime < o.EndTime && o.StartTime < t.EndTime
}

// Intersect returns the overlapping sub-interval of t and o. The caller must
// have already established that the two intervals overlap.
func (t TimeInterval) Intersect(o TimeInterval) TimeInterval {
	start := t.StartTime
	if o.StartTime > start {
		start = o.StartTime
	}
	end := t.EndTime
	if o.EndTime < end {
		end = o.EndTime
	}
	return TimeInterval{StartTime: start, EndTime: end}
}
