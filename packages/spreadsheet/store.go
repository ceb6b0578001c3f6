package spreadsheet

import (
	"fmt"
	"iter"
	"slices"
)

// Direction is a Ctrl+Arrow navigation direction
type Direction int

const (
	DirectionUp Direction = iota
	DirectionDown
	DirectionLeft
	DirectionRight
)

// ParseDirection accepts up, down, left and right
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "up":
		return DirectionUp, nil
	case "down":
		return DirectionDown, nil
	case "left":
		return DirectionLeft, nil
	case "right":
		return DirectionRight, nil
	}
	return 0, NewApplicationError(InvalidArgument, fmt.Sprintf("unknown direction %q", s))
}

// Store is the cell storage a Spreadsheet computes over. implementations
// must keep every operation atomic with respect to the others; the
// Spreadsheet serializes calls.
type Store interface {
	Get(ref Ref) (Cell, bool)
	Set(ref Ref, cell Cell) error
	Delete(ref Ref) (bool, error)
	GetGrid(rng Range) Grid
	SetGrid(grid Grid) error
	Replace(grid Grid, tiers TierStyles) error
	Cells() iter.Seq2[Ref, Cell]
	Len() int

	GetStyle(ref Ref) Style
	EffectiveStyle(ref Ref) Style
	SetStyle(ref Ref, patch Style) error
	SetRangeStyle(rng Range, patch Style) error
	SetColumnStyle(col int, patch Style) error
	SetRowStyle(row int, patch Style) error
	SetSheetStyle(patch Style) error
	ToggleStyle(ref Ref, key StyleKey) error
	TierStyles() TierStyles

	Merge(rng Range) error
	Unmerge(rng Range) ([]Range, error)
	Merges() []Range
	Anchor(ref Ref) Ref
	SetConditionalFormats(rules []ConditionalFormat) error
	SetRowHeight(row, height int) error
	SetColumnWidth(col, width int) error

	InsertRows(at, count int) error
	InsertColumns(at, count int) error
	DeleteRows(at, count int) error
	DeleteColumns(at, count int) error
	MoveRows(src, count, dst int) error
	MoveColumns(src, count, dst int) error

	FindEdge(ref Ref, dir Direction, bound Range) Ref
}

// MemStore keeps cells in a map keyed by Sref, with its own StyleResolver
// for the Sheet, Column and Row tiers.
type MemStore struct {
	cells  map[Sref]Cell
	styles *StyleResolver
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty in-memory store
func NewMemStore() *MemStore {
	return &MemStore{
		cells:  make(map[Sref]Cell),
		styles: NewStyleResolver(),
	}
}

// Get returns a copy of the cell at ref
func (s *MemStore) Get(ref Ref) (Cell, bool) {
	cell, ok := s.cells[ref.Sref()]
	if !ok {
		return Cell{}, false
	}
	return cell.Clone(), true
}

// Lookup reads by Sref, suitable as a Resolver
func (s *MemStore) Lookup(sref Sref) (Cell, bool) {
	cell, ok := s.cells[sref]
	return cell, ok
}

// Set stores cell at ref. an empty cell removes the entry.
func (s *MemStore) Set(ref Ref, cell Cell) error {
	if !ref.Valid() {
		return NewApplicationError(OutOfRange, fmt.Sprintf("cell %s is outside the grid", ref))
	}
	if cell.IsEmpty() {
		delete(s.cells, ref.Sref())
		return nil
	}
	s.cells[ref.Sref()] = cell.Clone()
	return nil
}

// Delete removes the cell at ref and reports whether one existed
func (s *MemStore) Delete(ref Ref) (bool, error) {
	sref := ref.Sref()
	if _, ok := s.cells[sref]; !ok {
		return false, nil
	}
	delete(s.cells, sref)
	return true, nil
}

// GetGrid returns copies of the stored cells inside rng. it walks whichever
// is smaller, the range or the store.
func (s *MemStore) GetGrid(rng Range) Grid {
	grid := make(Grid)
	if rng.Rows()*rng.Cols() <= len(s.cells) {
		for ref := range rng.Refs() {
			if cell, ok := s.cells[ref.Sref()]; ok {
				grid[ref.Sref()] = cell.Clone()
			}
		}
		return grid
	}
	for sref, cell := range s.cells {
		ref, err := ParseRef(string(sref))
		if err == nil && rng.Contains(ref) {
			grid[sref] = cell.Clone()
		}
	}
	return grid
}

// SetGrid stores every cell of grid, empty cells delete
func (s *MemStore) SetGrid(grid Grid) error {
	for sref, cell := range grid {
		ref, err := ParseRef(string(sref))
		if err != nil {
			return invalidArgument(err)
		}
		if err := s.Set(ref, cell); err != nil {
			return err
		}
	}
	return nil
}

// Cells iterates every stored cell in row-major order
func (s *MemStore) Cells() iter.Seq2[Ref, Cell] {
	refs := make([]Ref, 0, len(s.cells))
	for sref := range s.cells {
		if ref, err := ParseRef(string(sref)); err == nil {
			refs = append(refs, ref)
		}
	}
	slices.SortFunc(refs, compareRefs)
	return func(yield func(Ref, Cell) bool) {
		for _, ref := range refs {
			cell, ok := s.cells[ref.Sref()]
			if !ok {
				continue
			}
			if !yield(ref, cell.Clone()) {
				return
			}
		}
	}
}

func compareRefs(a, b Ref) int {
	if a.Row != b.Row {
		return a.Row - b.Row
	}
	return a.Col - b.Col
}

// Len returns the number of stored cells
func (s *MemStore) Len() int {
	return len(s.cells)
}

// GetStyle merges the explicit overrides of all four tiers, without
// defaults. nil when no tier sets anything for ref.
func (s *MemStore) GetStyle(ref Ref) Style {
	return s.styles.Overrides(ref, s.cells[ref.Sref()].Style)
}

// EffectiveStyle is GetStyle with the defaults merged underneath and the
// matching conditional formats on top
func (s *MemStore) EffectiveStyle(ref Ref) Style {
	return s.styles.Effective(ref, s.cells[ref.Sref()])
}

// SetStyle merges patch into the Cell tier of ref, dropping keys that match
// what the cell inherits.
func (s *MemStore) SetStyle(ref Ref, patch Style) error {
	normalized, err := normalizeStylePatch(patch)
	if err != nil {
		return err
	}
	return s.setCellStyle(ref, normalized)
}

func (s *MemStore) setCellStyle(ref Ref, patch Style) error {
	if !ref.Valid() {
		return NewApplicationError(OutOfRange, fmt.Sprintf("cell %s is outside the grid", ref))
	}
	cell := s.cells[ref.Sref()]
	cell.Style = s.styles.PruneCell(ref, mergeStyle(cell.Style, patch))
	return s.Set(ref, cell)
}

// SetRangeStyle applies patch to the Cell tier of every cell in rng
func (s *MemStore) SetRangeStyle(rng Range, patch Style) error {
	normalized, err := normalizeStylePatch(patch)
	if err != nil {
		return err
	}
	for ref := range rng.Refs() {
		if err := s.setCellStyle(ref, normalized); err != nil {
			return err
		}
	}
	return nil
}

// SetColumnStyle merges patch into a column tier
func (s *MemStore) SetColumnStyle(col int, patch Style) error {
	if col < 1 || col > MaxCols {
		return NewApplicationError(OutOfRange, fmt.Sprintf("column %d is outside the grid", col))
	}
	normalized, err := normalizeStylePatch(patch)
	if err != nil {
		return err
	}
	s.styles.SetColumn(col, normalized)
	return nil
}

// SetRowStyle merges patch into a row tier
func (s *MemStore) SetRowStyle(row int, patch Style) error {
	if row < 1 || row > MaxRows {
		return NewApplicationError(OutOfRange, fmt.Sprintf("row %d is outside the grid", row))
	}
	normalized, err := normalizeStylePatch(patch)
	if err != nil {
		return err
	}
	s.styles.SetRow(row, normalized)
	return nil
}

// SetSheetStyle merges patch into the sheet tier
func (s *MemStore) SetSheetStyle(patch Style) error {
	normalized, err := normalizeStylePatch(patch)
	if err != nil {
		return err
	}
	s.styles.SetSheet(normalized)
	return nil
}

// ToggleStyle flips a boolean key relative to its effective value. when the
// flipped value equals what the cell inherits, the Cell tier key is dropped.
func (s *MemStore) ToggleStyle(ref Ref, key StyleKey) error {
	if !IsBoolStyleKey(key) {
		return NewApplicationError(InvalidArgument, fmt.Sprintf("style key %q cannot be toggled", key))
	}
	current := overlay(s.styles.Inherited(ref), s.cells[ref.Sref()].Style).Bool(key)
	return s.setCellStyle(ref, Style{key: !current})
}

// TierStyles returns a copy of the sheet, column and row tiers
func (s *MemStore) TierStyles() TierStyles {
	return s.styles.Tiers()
}

// LoadTierStyles replaces the sheet, column and row tiers
func (s *MemStore) LoadTierStyles(tiers TierStyles) {
	s.styles.Load(tiers)
}

// Merge records rng as a merged block. covered cells lose their content and
// keep their style, the anchor keeps everything.
func (s *MemStore) Merge(rng Range) error {
	if err := s.styles.AddMerge(rng); err != nil {
		return err
	}
	for sref, cell := range s.GetGrid(rng) {
		if sref == rng.From.Sref() {
			continue
		}
		ref, err := ParseRef(string(sref))
		if err != nil {
			continue
		}
		if err := s.Set(ref, Cell{Style: cell.Style}); err != nil {
			return err
		}
	}
	return nil
}

// Unmerge drops every merged block overlapping rng and returns them
func (s *MemStore) Unmerge(rng Range) ([]Range, error) {
	return s.styles.RemoveMerges(rng), nil
}

// Merges returns the merged blocks in row-major order of their anchors
func (s *MemStore) Merges() []Range {
	return s.styles.Merges()
}

// Anchor maps a cell covered by a merge to its anchor
func (s *MemStore) Anchor(ref Ref) Ref {
	return s.styles.Anchor(ref)
}

// SetConditionalFormats replaces the conditional formats
func (s *MemStore) SetConditionalFormats(rules []ConditionalFormat) error {
	return s.styles.SetConditionalFormats(rules)
}

// SetRowHeight sets a row height in pixels
func (s *MemStore) SetRowHeight(row, height int) error {
	return s.styles.SetRowHeight(row, height)
}

// SetColumnWidth sets a column width in pixels
func (s *MemStore) SetColumnWidth(col, width int) error {
	return s.styles.SetColumnWidth(col, width)
}

// Reset drops every cell and tier style
func (s *MemStore) Reset() {
	s.cells = make(map[Sref]Cell)
	s.styles = NewStyleResolver()
}

// Replace swaps the whole content of the store for grid and tiers
func (s *MemStore) Replace(grid Grid, tiers TierStyles) error {
	s.Reset()
	s.styles.Load(tiers)
	return s.SetGrid(grid)
}

func (s *MemStore) InsertRows(at, count int) error {
	return s.shift(AxisRow, at, count)
}

func (s *MemStore) InsertColumns(at, count int) error {
	return s.shift(AxisColumn, at, count)
}

func (s *MemStore) DeleteRows(at, count int) error {
	return s.shift(AxisRow, at, -count)
}

func (s *MemStore) DeleteColumns(at, count int) error {
	return s.shift(AxisColumn, at, -count)
}

// shift moves every cell at or after at along axis, rewrites formulas and
// shifts the tier styles, sizes, merges and conditional formats. count < 0
// deletes.
func (s *MemStore) shift(axis Axis, at, count int) error {
	if err := checkStructural(axis, at, count); err != nil {
		return err
	}
	cells := make(map[Sref]Cell, len(s.cells))
	for sref, cell := range s.cells {
		ref, err := ParseRef(string(sref))
		if err != nil {
			continue
		}
		moved, ok := ShiftRef(ref, axis, at, count)
		if !ok {
			continue
		}
		if cell.IsFormula() {
			cell.Formula = ShiftFormula(cell.Formula, axis, at, count)
			cell.Input = cell.Formula
		}
		cells[moved.Sref()] = cell
	}
	s.cells = cells
	s.styles.Shift(axis, at, count)
	return nil
}

func (s *MemStore) MoveRows(src, count, dst int) error {
	return s.move(AxisRow, src, count, dst)
}

func (s *MemStore) MoveColumns(src, count, dst int) error {
	return s.move(AxisColumn, src, count, dst)
}

func (s *MemStore) move(axis Axis, src, count, dst int) error {
	if err := checkMove(axis, src, count, dst); err != nil {
		return err
	}
	if merged, ok := s.styles.splitByMove(axis, src, count, dst); ok {
		return NewApplicationError(InvalidArgument, fmt.Sprintf("%s move %d+%d to %d would split merged range %s", axis, src, count, dst, merged))
	}
	cells := make(map[Sref]Cell, len(s.cells))
	for sref, cell := range s.cells {
		ref, err := ParseRef(string(sref))
		if err != nil {
			continue
		}
		if cell.IsFormula() {
			cell.Formula = MoveFormula(cell.Formula, axis, src, count, dst)
			cell.Input = cell.Formula
		}
		cells[MoveRef(ref, axis, src, count, dst).Sref()] = cell
	}
	s.cells = cells
	s.styles.Move(axis, src, count, dst)
	return nil
}

func checkStructural(axis Axis, at, count int) error {
	if count == 0 {
		return NewApplicationError(InvalidArgument, "count must not be zero")
	}
	if at < 1 || at > axis.limit() {
		return NewApplicationError(OutOfRange, fmt.Sprintf("%s %d is outside the grid", axis, at))
	}
	return nil
}

func checkMove(axis Axis, src, count, dst int) error {
	if count < 1 {
		return NewApplicationError(InvalidArgument, "count must be positive")
	}
	if src < 1 || src+count-1 > axis.limit() || dst < 1 || dst > axis.limit()+1 {
		return NewApplicationError(OutOfRange, fmt.Sprintf("%s move %d+%d to %d is outside the grid", axis, src, count, dst))
	}
	if dst > src && dst < src+count {
		return NewApplicationError(InvalidArgument, "destination lies inside the moved block")
	}
	return nil
}

// FindEdge implements Ctrl+Arrow navigation inside bound: inside a run of
// populated cells it walks to the end of the run, otherwise it jumps to the
// next populated cell, otherwise it stops at the boundary. style-only cells
// are not populated.
func (s *MemStore) FindEdge(ref Ref, dir Direction, bound Range) Ref {
	return FindEdge(s.Cells(), ref, dir, bound)
}

// FindEdge is the store-independent Ctrl+Arrow scan over cells
func FindEdge(cells iter.Seq2[Ref, Cell], ref Ref, dir Direction, bound Range) Ref {
	horizontal := dir == DirectionLeft || dir == DirectionRight
	forward := dir == DirectionDown || dir == DirectionRight

	occupied := make(map[int]struct{})
	for r, cell := range cells {
		if !cell.HasContent() || !bound.Contains(r) {
			continue
		}
		if horizontal && r.Row == ref.Row {
			occupied[r.Col] = struct{}{}
		} else if !horizontal && r.Col == ref.Col {
			occupied[r.Row] = struct{}{}
		}
	}

	pos, lo, hi := ref.Row, bound.From.Row, bound.To.Row
	at := func(p int) Ref { return Ref{Row: p, Col: ref.Col} }
	if horizontal {
		pos, lo, hi = ref.Col, bound.From.Col, bound.To.Col
		at = func(p int) Ref { return Ref{Row: ref.Row, Col: p} }
	}
	step := 1
	limit := hi
	if !forward {
		step = -1
		limit = lo
	}
	has := func(p int) bool {
		_, ok := occupied[p]
		return ok
	}
	inBound := func(p int) bool { return p >= lo && p <= hi }

	if has(pos) && inBound(pos+step) && has(pos+step) {
		end := pos
		for next := pos + step; inBound(next) && has(next); next += step {
			end = next
		}
		return at(end)
	}

	best, found := 0, false
	for p := range occupied {
		ahead := (forward && p > pos) || (!forward && p < pos)
		if !ahead {
			continue
		}
		if !found || (forward && p < best) || (!forward && p > best) {
			best, found = p, true
		}
	}
	if found {
		return at(best)
	}
	return at(limit)
}
