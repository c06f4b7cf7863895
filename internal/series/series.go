package series

import (
	"math"
	"time"
)

// Series is a dense monthly series anchored at Start. Missing observations
// are stored as NaN, so zero is a real observed value and absence of
// activity must be encoded as missing by the loader.
type Series struct {
	start Month
	vals  []float64
}

// New returns a Series over vals starting at start. The slice is copied.
func New(start Month, vals []float64) *Series {
	v := make([]float64, len(vals))
	copy(v, vals)
	return &Series{start: start, vals: v}
}

// Empty returns an all-missing Series of n months starting at start.
func Empty(start Month, n int) *Series {
	v := make([]float64, n)
	for i := range v {
		v[i] = math.NaN()
	}
	return &Series{start: start, vals: v}
}

// FromPoints builds a Series spanning the min..max month of the given
// observations, with every unmentioned month missing.
func FromPoints(points map[Month]float64) *Series {
	if len(points) == 0 {
		return &Series{}
	}
	first, last := Month(math.MaxInt32), Month(math.MinInt32)
	for m := range points {
		if m < first {
			first = m
		}
		if m > last {
			last = m
		}
	}
	s := Empty(first, int(last-first)+1)
	for m, v := range points {
		s.Set(m, v)
	}
	return s
}

// Start returns the first month of the span.
func (s *Series) Start() Month { return s.start }

// End returns the last month of the span, inclusive.
func (s *Series) End() Month { return s.start.Add(len(s.vals) - 1) }

// Len returns the number of months in the span, missing included.
func (s *Series) Len() int { return len(s.vals) }

// At returns the value at month m, or NaN when m is missing or outside the
// span.
func (s *Series) At(m Month) float64 {
	i := int(m - s.start)
	if i < 0 || i >= len(s.vals) {
		return math.NaN()
	}
	return s.vals[i]
}

// Index returns the value at offset i from Start.
func (s *Series) Index(i int) float64 {
	return s.vals[i]
}

// Set stores v at month m. Months outside the span are ignored.
func (s *Series) Set(m Month, v float64) {
	i := int(m - s.start)
	if i < 0 || i >= len(s.vals) {
		return
	}
	s.vals[i] = v
}

// Observed reports whether month m holds a real observation.
func (s *Series) Observed(m Month) bool {
	return !math.IsNaN(s.At(m))
}

// ObservedCount returns the number of non-missing months.
func (s *Series) ObservedCount() int {
	n := 0
	for _, v := range s.vals {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// MissingCount returns the number of missing months in the span.
func (s *Series) MissingCount() int {
	return len(s.vals) - s.ObservedCount()
}

// FirstObserved returns the earliest observed month.
func (s *Series) FirstObserved() (Month, bool) {
	for i, v := range s.vals {
		if !math.IsNaN(v) {
			return s.start.Add(i), true
		}
	}
	return 0, false
}

// LastObserved returns the latest observed month.
func (s *Series) LastObserved() (Month, bool) {
	for i := len(s.vals) - 1; i >= 0; i-- {
		if !math.IsNaN(s.vals[i]) {
			return s.start.Add(i), true
		}
	}
	return 0, false
}

// Window returns a copy of the months in [from, to], padding with missing
// where the request extends beyond the span.
func (s *Series) Window(from, to Month) *Series {
	if to < from {
		return &Series{start: from}
	}
	out := Empty(from, int(to-from)+1)
	for m := from; m <= to; m++ {
		out.Set(m, s.At(m))
	}
	return out
}

// Tail returns the last n months of the span.
func (s *Series) Tail(n int) *Series {
	if n >= len(s.vals) {
		return s.Clone()
	}
	return s.Window(s.End().Add(-(n - 1)), s.End())
}

// Clone returns a deep copy.
func (s *Series) Clone() *Series {
	return New(s.start, s.vals)
}

// Values returns a copy of the raw values, missing as NaN.
func (s *Series) Values() []float64 {
	v := make([]float64, len(s.vals))
	copy(v, s.vals)
	return v
}

// Observations returns the observed months and their values in order.
func (s *Series) Observations() ([]Month, []float64) {
	months := make([]Month, 0, len(s.vals))
	vals := make([]float64, 0, len(s.vals))
	for i, v := range s.vals {
		if !math.IsNaN(v) {
			months = append(months, s.start.Add(i))
			vals = append(vals, v)
		}
	}
	return months, vals
}

// CalendarValues returns the observed values falling in calendar month cm,
// oldest first.
func (s *Series) CalendarValues(cm time.Month) []float64 {
	var out []float64
	for i, v := range s.vals {
		if s.start.Add(i).Calendar() == cm && !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// Aggregate sums the given series month by month over their union span.
// Missing values contribute nothing; a month where every input is missing
// stays missing, so pure gaps survive summation.
func Aggregate(members ...*Series) *Series {
	first, last := Month(math.MaxInt32), Month(math.MinInt32)
	any := false
	for _, m := range members {
		if m == nil || m.Len() == 0 {
			continue
		}
		any = true
		if m.Start() < first {
			first = m.Start()
		}
		if m.End() > last {
			last = m.End()
		}
	}
	if !any {
		return &Series{}
	}
	out := Empty(first, int(last-first)+1)
	for _, member := range members {
		if member == nil {
			continue
		}
		for i, v := range member.vals {
			if math.IsNaN(v) {
				continue
			}
			m := member.start.Add(i)
			if cur := out.At(m); math.IsNaN(cur) {
				out.Set(m, v)
			} else {
				out.Set(m, cur+v)
			}
		}
	}
	return out
}
