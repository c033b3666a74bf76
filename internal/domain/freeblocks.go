package domain

import "time"

type FreeBlock struct {
	Start    time.Time
	End      time.Time
	Duration time.Duration
}

// MergeFreeBlocks folds ordered slots into maximal runs of contiguous available time.
// Returned blocks are ascending and never overlap or touch.
func MergeFreeBlocks(slots []Slot) []FreeBlock {
	out := []FreeBlock{}
	var cur *FreeBlock
	for _, s := range slots {
		if !s.Available {
			if cur != nil {
				out = append(out, *cur)
				cur = nil
			}
			continue
		}
		if cur != nil && s.Start.Equal(cur.End) {
			cur.End = s.End
			cur.Duration = cur.End.Sub(cur.Start)
			continue
		}
		if cur != nil {
			out = append(out, *cur)
		}
		cur = &FreeBlock{Start: s.Start, End: s.End, Duration: s.End.Sub(s.Start)}
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}

// FilterBlocks keeps the blocks lasting at least minDuration. Blocks are returned whole;
// callers needing an exact length slice from the block start.
func FilterBlocks(blocks []FreeBlock, minDuration time.Duration) []FreeBlock {
	out := []FreeBlock{}
	for _, b := range blocks {
		if b.Duration >= minDuration {
			out = append(out, b)
		}
	}
	return out
}
