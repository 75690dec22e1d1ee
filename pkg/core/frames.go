// pkg/core/frames.go
package core

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidInterval is returned when a frame interval has start > end
var ErrInvalidInterval = errors.New("invalid frame interval")

// FrameInterval is an inclusive range of frame numbers
type FrameInterval struct {
	Start int `json:"frame_start"`
	End   int `json:"frame_end"`
}

// NewFrameInterval builds an interval, rejecting negative frames and
// start > end.
func NewFrameInterval(start, end int) (FrameInterval, error) {
	if start < 0 || start > end {
		return FrameInterval{}, fmt.Errorf("%w: [%d,%d]", ErrInvalidInterval, start, end)
	}
	return FrameInterval{Start: start, End: end}, nil
}

// Frame returns the interval covering a single frame
func Frame(n int) FrameInterval {
	return FrameInterval{Start: n, End: n}
}

// Has reports whether frame lies inside the interval
func (fi FrameInterval) Has(frame int) bool {
	return fi.Start <= frame && frame <= fi.End
}

// FrameIntervals is a sorted list of non-overlapping, non-adjacent intervals.
// The zero value is an empty set.
type FrameIntervals []FrameInterval

// NewFrameIntervals normalizes the given intervals into a set.
func NewFrameIntervals(intervals ...FrameInterval) FrameIntervals {
	return Union(nil, intervals...)
}

// Union merges additions into existing and returns the normalized result.
// Intervals merge when they overlap or touch (b.Start <= a.End+1).
// Neither input is modified.
func Union(existing FrameIntervals, additions ...FrameInterval) FrameIntervals {
	if len(existing) == 0 && len(additions) == 0 {
		return nil
	}

	all := make([]FrameInterval, 0, len(existing)+len(additions))
	all = append(all, existing...)
	all = append(all, additions...)
	slices.SortFunc(all, func(a, b FrameInterval) int {
		return cmp.Or(cmp.Compare(a.Start, b.Start), cmp.Compare(a.End, b.End))
	})

	out := make(FrameIntervals, 0, len(all))
	cur := all[0]
	for _, fi := range all[1:] {
		// fi.Start > cur.End on the right side, so fi.Start-1 cannot overflow
		if fi.Start <= cur.End || fi.Start-1 <= cur.End {
			if fi.End > cur.End {
				cur.End = fi.End
			}
			continue
		}
		out = append(out, cur)
		cur = fi
	}
	return append(out, cur)
}

// Union returns the union of both sets
func (fis FrameIntervals) Union(other FrameIntervals) FrameIntervals {
	return Union(fis, other...)
}

// Intersection returns the frames present in both sets
func (fis FrameIntervals) Intersection(other FrameIntervals) FrameIntervals {
	var out FrameIntervals
	i, j := 0, 0
	for i < len(fis) && j < len(other) {
		start := max(fis[i].Start, other[j].Start)
		end := min(fis[i].End, other[j].End)
		if start <= end {
			out = append(out, FrameInterval{Start: start, End: end})
		}
		if fis[i].End < other[j].End {
			i++
		} else {
			j++
		}
	}
	return out
}

// Has reports whether frame is covered by any interval.
func (fis FrameIntervals) Has(frame int) bool {
	_, found := slices.BinarySearchFunc(fis, frame, func(fi FrameInterval, f int) int {
		switch {
		case fi.End < f:
			return -1
		case fi.Start > f:
			return 1
		default:
			return 0
		}
	})
	return found
}

// Empty reports whether the set covers no frames
func (fis FrameIntervals) Empty() bool {
	return len(fis) == 0
}

// Outer returns the smallest interval enclosing the whole set.
func (fis FrameIntervals) Outer() (FrameInterval, bool) {
	if len(fis) == 0 {
		return FrameInterval{}, false
	}
	return FrameInterval{Start: fis[0].Start, End: fis[len(fis)-1].End}, true
}

// NumFrames counts the frames covered by the set
func (fis FrameIntervals) NumFrames() int {
	n := 0
	for _, fi := range fis {
		n += fi.End - fi.Start + 1
	}
	return n
}

// RemoveFrame returns the set without frame, splitting an interval if needed.
func (fis FrameIntervals) RemoveFrame(frame int) FrameIntervals {
	out := make(FrameIntervals, 0, len(fis)+1)
	for _, fi := range fis {
		if !fi.Has(frame) {
			out = append(out, fi)
			continue
		}
		if fi.Start < frame {
			out = append(out, FrameInterval{Start: fi.Start, End: frame - 1})
		}
		if frame < fi.End {
			out = append(out, FrameInterval{Start: frame + 1, End: fi.End})
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Frames lists every frame of the set in ascending order.
func (fis FrameIntervals) Frames() []int {
	frames := make([]int, 0, fis.NumFrames())
	for _, fi := range fis {
		for f := fi.Start; f <= fi.End; f++ {
			frames = append(frames, f)
		}
	}
	return frames
}

// Validate checks every interval has 0 <= start <= end.
func (fis FrameIntervals) Validate() error {
	for _, fi := range fis {
		if fi.Start < 0 || fi.Start > fi.End {
			return fmt.Errorf("%w: [%d,%d]", ErrInvalidInterval, fi.Start, fi.End)
		}
	}
	return nil
}

// Equal reports whether both sets cover the same intervals
func (fis FrameIntervals) Equal(other FrameIntervals) bool {
	return slices.Equal(fis, other)
}
