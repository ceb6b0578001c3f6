package spreadsheet

import (
	"fmt"
	"maps"
	"slices"
)

// MergeSpan is the size of a merged block counted from its top left anchor
type MergeSpan struct {
	Rows int `json:"rs"`
	Cols int `json:"cs"`
}

// MergeRange returns the block covered by a merge anchored at anchor
func MergeRange(anchor Ref, span MergeSpan) Range {
	return Range{
		From: anchor,
		To:   Ref{Row: anchor.Row + span.Rows - 1, Col: anchor.Col + span.Cols - 1},
	}
}

func spanOf(rng Range) MergeSpan {
	return MergeSpan{Rows: rng.Rows(), Cols: rng.Cols()}
}

// Overlaps reports whether two ranges share at least one cell
func (rng Range) Overlaps(other Range) bool {
	return rng.From.Row <= other.To.Row && rng.To.Row >= other.From.Row &&
		rng.From.Col <= other.To.Col && rng.To.Col >= other.From.Col
}

func singleCell(rng Range) bool {
	return rng.From == rng.To
}

// Merges returns every merged block in row-major order of their anchors
func (sr *StyleResolver) Merges() []Range {
	anchors := slices.SortedFunc(maps.Keys(sr.merges), compareRefs)
	out := make([]Range, 0, len(anchors))
	for _, anchor := range anchors {
		out = append(out, MergeRange(anchor, sr.merges[anchor]))
	}
	return out
}

// MergeAt returns the merged block containing ref
func (sr *StyleResolver) MergeAt(ref Ref) (Range, bool) {
	if span, ok := sr.merges[ref]; ok {
		return MergeRange(ref, span), true
	}
	for anchor, span := range sr.merges {
		if rng := MergeRange(anchor, span); rng.Contains(ref) {
			return rng, true
		}
	}
	return Range{}, false
}

// Anchor maps a cell covered by a merge to the anchor of that merge. any
// other ref is returned as is.
func (sr *StyleResolver) Anchor(ref Ref) Ref {
	if len(sr.merges) == 0 {
		return ref
	}
	if rng, ok := sr.MergeAt(ref); ok {
		return rng.From
	}
	return ref
}

// AddMerge records rng as a merged block. single cells and blocks that
// overlap an existing merge are refused.
func (sr *StyleResolver) AddMerge(rng Range) error {
	if !rng.From.Valid() || !rng.To.Valid() {
		return NewApplicationError(OutOfRange, fmt.Sprintf("merge %s is outside the grid", rng))
	}
	if singleCell(rng) {
		return NewApplicationError(InvalidArgument, fmt.Sprintf("merge %s covers a single cell", rng))
	}
	for _, existing := range sr.Merges() {
		if existing.Overlaps(rng) {
			return NewApplicationError(InvalidArgument, fmt.Sprintf("merge %s overlaps merged range %s", rng, existing))
		}
	}
	sr.merges[rng.From] = spanOf(rng)
	return nil
}

// RemoveMerges drops every merged block overlapping rng and returns them
func (sr *StyleResolver) RemoveMerges(rng Range) []Range {
	var removed []Range
	for _, merged := range sr.Merges() {
		if merged.Overlaps(rng) {
			delete(sr.merges, merged.From)
			removed = append(removed, merged)
		}
	}
	return removed
}

// splitByMove returns a merged block that moving count items from src to
// before dst would tear apart: the moved span cuts through it or the
// destination lies inside it.
func (sr *StyleResolver) splitByMove(axis Axis, src, count, dst int) (Range, bool) {
	srcEnd := src + count - 1
	for _, merged := range sr.Merges() {
		start, end := axis.index(merged.From), axis.index(merged.To)
		overlaps := src <= end && srcEnd >= start
		contained := src <= start && srcEnd >= end
		if overlaps && !contained {
			return merged, true
		}
		if dst > start && dst <= end && !contained {
			return merged, true
		}
	}
	return Range{}, false
}

// shiftMerges grows or shrinks merged blocks for an insert or delete. blocks
// deleted entirely or reduced to one cell are dropped.
func shiftMerges(merges map[Ref]MergeSpan, axis Axis, at, count int) map[Ref]MergeSpan {
	out := make(map[Ref]MergeSpan, len(merges))
	for anchor, span := range merges {
		rng, ok := ShiftRange(MergeRange(anchor, span), axis, at, count)
		if !ok || singleCell(rng) {
			continue
		}
		out[rng.From] = spanOf(rng)
	}
	return out
}

func moveMerges(merges map[Ref]MergeSpan, axis Axis, src, count, dst int) map[Ref]MergeSpan {
	out := make(map[Ref]MergeSpan, len(merges))
	for anchor, span := range merges {
		rng := MergeRange(anchor, span)
		rng = NewRange(MoveRef(rng.From, axis, src, count, dst), MoveRef(rng.To, axis, src, count, dst))
		if singleCell(rng) {
			continue
		}
		out[rng.From] = spanOf(rng)
	}
	return out
}
