package availability

import (
	"iter"
	"slices"
	"time"
)

type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps treats both intervals as half-open: [a,b) and [b,c) do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

func (i Interval) Contains(o Interval) bool {
	return !o.Start.Before(i.Start) && !o.End.After(i.End)
}

func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Candidates yields every interval of length duration that starts at window.Start plus a
// multiple of step and ends no later than window.End.
//
// The sequence holds no state between iterations, so ranging over it twice yields the
// same intervals.
func Candidates(window Interval, duration, step time.Duration) iter.Seq[Interval] {
	return func(yield func(Interval) bool) {
		if duration <= 0 || step <= 0 || !window.End.After(window.Start) {
			return
		}
		for t := window.Start; !t.Add(duration).After(window.End); t = t.Add(step) {
			if !yield(Interval{Start: t, End: t.Add(duration)}) {
				return
			}
		}
	}
}

// Free yields the candidates of window that start at or after notBefore and overlap none of
// the busy intervals.
func Free(window Interval, duration, step time.Duration, busy []Interval, notBefore time.Time) iter.Seq[Interval] {
	return func(yield func(Interval) bool) {
		for c := range Candidates(window, duration, step) {
			if c.Start.Before(notBefore) || OverlapsAny(c, busy) {
				continue
			}
			if !yield(c) {
				return
			}
		}
	}
}

// Merge drains the sequences into one slice ordered by start time. Windows that overlap each
// other can produce the same slot twice; only the first is kept.
func Merge(seqs ...iter.Seq[Interval]) []Interval {
	var out []Interval
	for _, seq := range seqs {
		out = slices.AppendSeq(out, seq)
	}
	slices.SortStableFunc(out, func(a, b Interval) int {
		return a.Start.Compare(b.Start)
	})
	return slices.CompactFunc(out, func(a, b Interval) bool {
		return a.Start.Equal(b.Start) && a.End.Equal(b.End)
	})
}

func OverlapsAny(iv Interval, busy []Interval) bool {
	for _, b := range busy {
		if iv.Overlaps(b) {
			return true
		}
	}
	return false
}
