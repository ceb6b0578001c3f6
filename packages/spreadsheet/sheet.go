package spreadsheet

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/text/language"
)

// Change describes an edit made to a spreadsheet, as seen by listeners and
// as applied by ApplyChange. Cells holds the written cells, Removed the
// addresses that became empty. a Reset change carries the whole grid and
// every tier style, it is sent after structural edits.
type Change struct {
	Cells   Grid        `json:"cells,omitempty"`
	Removed []Sref      `json:"removed,omitempty"`
	Styles  *TierStyles `json:"styles,omitempty"`
	Reset   bool        `json:"reset,omitempty"`
}

// Empty reports whether the change carries nothing
func (c Change) Empty() bool {
	return len(c.Cells) == 0 && len(c.Removed) == 0 && c.Styles == nil && !c.Reset
}

// Spreadsheet is the main spreadsheet type that combines storage, parsing,
// dependency tracking, and formula evaluation into a unified API. every
// method is safe for concurrent use; edits are applied one at a time.
type Spreadsheet struct {
	mu        sync.Mutex
	id        uuid.UUID
	store     Store
	graph     *DependencyGraph
	formulas  *FormulaTable
	functions *BuiltInFunctions
	calc      *Calculator
	logger    *slog.Logger
	locale    language.Tag

	listenersMu sync.Mutex
	listeners   []func(Change)
}

// Option configures a Spreadsheet
type Option func(*Spreadsheet)

// WithStore computes over store instead of a fresh MemStore
func WithStore(store Store) Option {
	return func(s *Spreadsheet) { s.store = store }
}

// WithLogger sets the logger, slog.Default() otherwise
func WithLogger(logger *slog.Logger) Option {
	return func(s *Spreadsheet) { s.logger = logger }
}

// WithFunctions sets the built-in function seams (clock, random source)
func WithFunctions(functions *BuiltInFunctions) Option {
	return func(s *Spreadsheet) { s.functions = functions }
}

// WithLocale sets the language used by ToDisplayString
func WithLocale(tag language.Tag) Option {
	return func(s *Spreadsheet) { s.locale = tag }
}

// WithID sets the document id, a random one otherwise
func WithID(id uuid.UUID) Option {
	return func(s *Spreadsheet) { s.id = id }
}

// NewSpreadsheet creates a new spreadsheet. formulas already held by the
// store are registered and calculated.
func NewSpreadsheet(opts ...Option) (*Spreadsheet, error) {
	s := &Spreadsheet{
		graph:    NewDependencyGraph(),
		formulas: NewFormulaTable(),
		locale:   language.AmericanEnglish,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == uuid.Nil {
		s.id = uuid.New()
	}
	if s.store == nil {
		s.store = NewMemStore()
	}
	if s.functions == nil {
		s.functions = NewDefaultBuiltInFunctions()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("sheet", s.id.String())
	s.calc = NewCalculator(s.store, s.graph, s.formulas, s.functions, s.logger)

	if err := s.rebuild(nil); err != nil {
		return nil, err
	}
	return s, nil
}

// ID returns the document id
func (s *Spreadsheet) ID() uuid.UUID {
	return s.id
}

// Store returns the backing store
func (s *Spreadsheet) Store() Store {
	return s.store
}

// Locale returns the display language
func (s *Spreadsheet) Locale() language.Tag {
	return s.locale
}

// OnChange registers a listener for local edits. listeners run after the
// edit completed, outside the spreadsheet lock.
func (s *Spreadsheet) OnChange(fn func(Change)) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Spreadsheet) notify(change Change) {
	if change.Empty() {
		return
	}
	s.listenersMu.Lock()
	listeners := append([]func(Change){}, s.listeners...)
	s.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(change)
	}
}

// edit runs fn under the lock and notifies listeners of the change it made
func (s *Spreadsheet) edit(fn func() (Change, error)) error {
	s.mu.Lock()
	change, err := fn()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(change)
	return nil
}

// resolveAddress parses a user supplied address, bad input is an
// InvalidArgument AppError
func resolveAddress(address string) (Ref, error) {
	ref, err := ParseRef(strings.TrimSpace(address))
	if err != nil {
		return Ref{}, invalidArgument(err)
	}
	return ref, nil
}

func resolveRange(text string) (Range, error) {
	rng, err := ParseRange(strings.TrimSpace(text))
	if err != nil {
		return Range{}, invalidArgument(err)
	}
	return rng, nil
}

// Set writes typed input to a cell. input starting with "=" is a formula,
// anything else goes through InferValue, which may add a number format to
// the cell. empty input clears the content and keeps the style.
func (s *Spreadsheet) Set(address string, input string) error {
	ref, err := resolveAddress(address)
	if err != nil {
		return err
	}
	return s.edit(func() (Change, error) {
		ref := s.store.Anchor(ref)
		existing, _ := s.store.Get(ref)
		cell := Cell{Style: existing.Style}

		var hint Style
		trimmed := strings.TrimSpace(input)
		switch {
		case strings.HasPrefix(trimmed, "="):
			cell.Input = input
			cell.Formula = "=" + strings.TrimSpace(trimmed[1:])
		case trimmed != "":
			cell.Input = input
			cell.Value, hint = InferValueAt(input, s.functions.clock.Now())
		}

		if err := s.store.Set(ref, cell); err != nil {
			return Change{}, err
		}
		if hint != nil {
			if _, ok := existing.Style[StyleNumberFormat]; !ok {
				if err := s.store.SetStyle(ref, hint); err != nil {
					return Change{}, err
				}
			}
		}
		return s.commit([]Ref{ref})
	})
}

// SetCell writes a cell as is. a formula without its leading "=" gets one.
func (s *Spreadsheet) SetCell(address string, cell Cell) error {
	ref, err := resolveAddress(address)
	if err != nil {
		return err
	}
	cell.Formula = NormalizeFormula(cell.Formula)
	return s.edit(func() (Change, error) {
		ref := s.store.Anchor(ref)
		if err := s.store.Set(ref, cell); err != nil {
			return Change{}, err
		}
		return s.commit([]Ref{ref})
	})
}

// Remove deletes a cell, content and style
func (s *Spreadsheet) Remove(address string) error {
	ref, err := resolveAddress(address)
	if err != nil {
		return err
	}
	return s.edit(func() (Change, error) {
		ref := s.store.Anchor(ref)
		existed, err := s.store.Delete(ref)
		if err != nil {
			return Change{}, err
		}
		if !existed {
			return Change{}, nil
		}
		return s.commit([]Ref{ref})
	})
}

// SetGrid writes many cells at once and recalculates once. empty cells
// delete.
func (s *Spreadsheet) SetGrid(grid Grid) error {
	refs := make([]Ref, 0, len(grid))
	normalized := make(Grid, len(grid))
	for sref, cell := range grid {
		ref, err := resolveAddress(string(sref))
		if err != nil {
			return err
		}
		cell.Formula = NormalizeFormula(cell.Formula)
		normalized[ref.Sref()] = cell
		refs = append(refs, ref)
	}
	return s.edit(func() (Change, error) {
		if err := s.store.SetGrid(normalized); err != nil {
			return Change{}, err
		}
		return s.commit(refs)
	})
}

// CopyRange pastes the cells of src with their top left corner at dst.
// formulas are relocated by the offset, cells in the target area that have
// no source counterpart are cleared.
func (s *Spreadsheet) CopyRange(src string, dst string) error {
	rng, err := resolveRange(src)
	if err != nil {
		return err
	}
	to, err := resolveAddress(dst)
	if err != nil {
		return err
	}
	deltaRow, deltaCol := to.Row-rng.From.Row, to.Col-rng.From.Col
	target := Range{
		From: to,
		To:   Ref{Row: rng.To.Row + deltaRow, Col: rng.To.Col + deltaCol},
	}
	if !target.To.Valid() {
		return NewApplicationError(OutOfRange, fmt.Sprintf("paste at %s does not fit in the grid", to))
	}

	return s.edit(func() (Change, error) {
		source := s.store.GetGrid(rng)
		pasted := make(Grid, len(source))
		for sref, cell := range source {
			ref, err := ParseRef(string(sref))
			if err != nil {
				continue
			}
			if cell.IsFormula() {
				cell.Formula = RelocateFormula(cell.Formula, deltaRow, deltaCol)
				cell.Input = cell.Formula
				cell.Value = Result{}
			}
			dest := Ref{Row: ref.Row + deltaRow, Col: ref.Col + deltaCol}
			pasted[dest.Sref()] = cell
		}

		var refs []Ref
		for sref := range s.store.GetGrid(target) {
			if _, ok := pasted[sref]; ok {
				continue
			}
			ref, _ := ParseRef(string(sref))
			if _, err := s.store.Delete(ref); err != nil {
				return Change{}, err
			}
			refs = append(refs, ref)
		}
		if err := s.store.SetGrid(pasted); err != nil {
			return Change{}, err
		}
		for sref := range pasted {
			ref, _ := ParseRef(string(sref))
			refs = append(refs, ref)
		}
		return s.commit(refs)
	})
}

// commit re-derives the edges of the written cells, recalculates their
// closure and returns the change for listeners. cells whose formula would
// close a cycle get #ERROR! and stay out of the recalculation. extra cells
// are recalculated without being re-registered.
func (s *Spreadsheet) commit(refs []Ref, extra ...Sref) (Change, error) {
	slices.SortFunc(refs, compareRefs)
	refs = slices.Compact(refs)
	changed := make([]Sref, 0, len(refs))
	for _, ref := range refs {
		sref := ref.Sref()
		cell, _ := s.store.Get(ref)
		err := s.register(sref, cell)
		if errors.Is(err, ErrCircularReference) {
			s.logger.Warn("rejected formula closing a cycle", "cell", sref, "formula", cell.Formula)
			cell.Value = Err(ErrorKindError)
			if err := s.store.Set(ref, cell); err != nil {
				return Change{}, err
			}
			continue
		}
		changed = append(changed, sref)
	}
	changed = append(changed, s.graph.Readmit()...)
	changed = append(changed, s.coveredBy(refs)...)
	changed = append(changed, extra...)

	if _, err := s.calc.Recalculate(changed); err != nil {
		return Change{}, err
	}

	change := Change{Cells: make(Grid)}
	for _, ref := range refs {
		if cell, ok := s.store.Get(ref); ok {
			change.Cells[ref.Sref()] = cell
			continue
		}
		change.Removed = append(change.Removed, ref.Sref())
	}
	return change, nil
}

// register updates the formula table and graph for the content of a cell
func (s *Spreadsheet) register(sref Sref, cell Cell) error {
	if !cell.IsFormula() {
		s.formulas.Release(sref)
		s.graph.Remove(sref)
		return nil
	}
	if _, _, err := s.formulas.Intern(sref, cell.Formula); err != nil {
		// unparseable formulas evaluate to #ERROR! and read nothing
		s.graph.Remove(sref)
		return nil
	}
	s.graph.SetVolatile(sref, s.formulas.IsVolatile(sref))
	return s.graph.OnWrite(sref, cell.Formula)
}

// rebuild re-registers every stored formula and recalculates them all.
// cells rejected for closing a cycle before the rebuild, located through
// remap when the store was shifted, are registered last so the cycle stays
// pinned on the same cell. remap may be nil.
func (s *Spreadsheet) rebuild(remap func(Ref) (Ref, bool)) error {
	pinned := make(map[Ref]struct{})
	for sref := range s.graph.Rejected() {
		ref, err := ParseRef(string(sref))
		if err != nil {
			continue
		}
		if remap != nil {
			var ok bool
			if ref, ok = remap(ref); !ok {
				continue
			}
		}
		pinned[ref] = struct{}{}
	}

	s.graph.Reset()
	s.formulas.Clear()

	var formulas, last []Ref
	for ref, cell := range s.store.Cells() {
		if !cell.IsFormula() {
			continue
		}
		if _, ok := pinned[ref]; ok {
			last = append(last, ref)
			continue
		}
		formulas = append(formulas, ref)
	}
	formulas = append(formulas, last...)

	// otherwise in row-major order, a new cycle is pinned on its last cell
	var all []Sref
	for _, ref := range formulas {
		sref := ref.Sref()
		cell, _ := s.store.Get(ref)
		if err := s.register(sref, cell); errors.Is(err, ErrCircularReference) {
			s.logger.Warn("rejected formula closing a cycle", "cell", sref, "formula", cell.Formula)
			cell.Value = Err(ErrorKindError)
			if err := s.store.Set(ref, cell); err != nil {
				return err
			}
			continue
		}
		all = append(all, sref)
	}
	_, err := s.calc.Recalculate(all)
	return err
}

// Get returns the value of a cell, the zero Result for an empty one
func (s *Spreadsheet) Get(address string) (Result, error) {
	ref, err := resolveAddress(address)
	if err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cell, _ := s.store.Get(s.store.Anchor(ref))
	return cell.Value, nil
}

// GetCell returns a copy of a cell, the anchor for a cell covered by a merge
func (s *Spreadsheet) GetCell(address string) (Cell, bool, error) {
	ref, err := resolveAddress(address)
	if err != nil {
		return Cell{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cell, ok := s.store.Get(s.store.Anchor(ref))
	return cell, ok, nil
}

// Cells iterates a snapshot of every stored cell in row-major order
func (s *Spreadsheet) Cells() iter.Seq2[Ref, Cell] {
	s.mu.Lock()
	type entry struct {
		ref  Ref
		cell Cell
	}
	var entries []entry
	for ref, cell := range s.store.Cells() {
		entries = append(entries, entry{ref, cell})
	}
	s.mu.Unlock()

	return func(yield func(Ref, Cell) bool) {
		for _, e := range entries {
			if !yield(e.ref, e.cell) {
				return
			}
		}
	}
}

// Grid returns a copy of the cells inside a range such as "A1:C10"
func (s *Spreadsheet) Grid(text string) (Grid, error) {
	rng, err := resolveRange(text)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.GetGrid(rng), nil
}

// Dependants returns the cells whose formula directly reads address
func (s *Spreadsheet) Dependants(address string) ([]Sref, error) {
	ref, err := resolveAddress(address)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.Dependants(ref.Sref()), nil
}

// Precedents returns the cells the formula at address directly reads
func (s *Spreadsheet) Precedents(address string) ([]Sref, error) {
	ref, err := resolveAddress(address)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.Precedents(ref.Sref()), nil
}

// IsRejected reports whether the formula at address was rejected for
// closing a cycle
func (s *Spreadsheet) IsRejected(address string) bool {
	ref, err := resolveAddress(address)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.IsRejected(ref.Sref())
}

// Evaluate evaluates formula against the current grid without storing it
func (s *Spreadsheet) Evaluate(formula string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	tree, err := s.formulas.Compile(formula)
	if err != nil {
		return Err(ErrorKindError)
	}
	return NewEvaluator(s.calc.Resolver(), s.functions).Evaluate(tree)
}

// ToDisplayString renders the value of a cell under its effective number
// format. a cell covered by a merge shows its anchor.
func (s *Spreadsheet) ToDisplayString(address string) (string, error) {
	ref, err := resolveAddress(address)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ref = s.store.Anchor(ref)
	cell, ok := s.store.Get(ref)
	if !ok {
		return "", nil
	}
	return FormatValue(cell.Value, s.store.EffectiveStyle(ref), s.locale), nil
}

// FindEdge moves from address in direction the way Ctrl+Arrow does, staying
// inside bound ("" for the whole grid)
func (s *Spreadsheet) FindEdge(address string, dir Direction, bound string) (Ref, error) {
	ref, err := resolveAddress(address)
	if err != nil {
		return Ref{}, err
	}
	rng := GridRange()
	if bound != "" {
		if rng, err = resolveRange(bound); err != nil {
			return Ref{}, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.FindEdge(ref, dir, rng), nil
}

// GetStyle returns the merged explicit overrides of all tiers for a cell
func (s *Spreadsheet) GetStyle(address string) (Style, error) {
	ref, err := resolveAddress(address)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.GetStyle(s.store.Anchor(ref)), nil
}

// EffectiveStyle is GetStyle with defaults filled in and the conditional
// formats the cell value passes applied on top
func (s *Spreadsheet) EffectiveStyle(address string) (Style, error) {
	ref, err := resolveAddress(address)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.EffectiveStyle(s.store.Anchor(ref)), nil
}

// SetStyle merges patch into the Cell tier of address
func (s *Spreadsheet) SetStyle(address string, patch Style) error {
	ref, err := resolveAddress(address)
	if err != nil {
		return err
	}
	return s.edit(func() (Change, error) {
		ref := s.store.Anchor(ref)
		if err := s.store.SetStyle(ref, patch); err != nil {
			return Change{}, err
		}
		return s.cellChange(Range{From: ref, To: ref}), nil
	})
}

// SetRangeStyle merges patch into the Cell tier of every cell in a range
func (s *Spreadsheet) SetRangeStyle(text string, patch Style) error {
	rng, err := resolveRange(text)
	if err != nil {
		return err
	}
	return s.edit(func() (Change, error) {
		if err := s.store.SetRangeStyle(rng, patch); err != nil {
			return Change{}, err
		}
		return s.cellChange(rng), nil
	})
}

// ToggleStyle flips a boolean style key of a cell
func (s *Spreadsheet) ToggleStyle(address string, key StyleKey) error {
	ref, err := resolveAddress(address)
	if err != nil {
		return err
	}
	return s.edit(func() (Change, error) {
		ref := s.store.Anchor(ref)
		if err := s.store.ToggleStyle(ref, key); err != nil {
			return Change{}, err
		}
		return s.cellChange(Range{From: ref, To: ref}), nil
	})
}

// SetColumnStyle merges patch into a column tier, col is 1-based
func (s *Spreadsheet) SetColumnStyle(col int, patch Style) error {
	return s.edit(func() (Change, error) {
		if err := s.store.SetColumnStyle(col, patch); err != nil {
			return Change{}, err
		}
		return s.tierChange(), nil
	})
}

// SetRowStyle merges patch into a row tier, row is 1-based
func (s *Spreadsheet) SetRowStyle(row int, patch Style) error {
	return s.edit(func() (Change, error) {
		if err := s.store.SetRowStyle(row, patch); err != nil {
			return Change{}, err
		}
		return s.tierChange(), nil
	})
}

// SetSheetStyle merges patch into the sheet tier
func (s *Spreadsheet) SetSheetStyle(patch Style) error {
	return s.edit(func() (Change, error) {
		if err := s.store.SetSheetStyle(patch); err != nil {
			return Change{}, err
		}
		return s.tierChange(), nil
	})
}

// TierStyles returns a copy of the sheet, column and row tiers
func (s *Spreadsheet) TierStyles() TierStyles {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.TierStyles()
}

// cellChange lists the state of every cell of rng after a Cell tier edit.
// small ranges report removed cells too.
func (s *Spreadsheet) cellChange(rng Range) Change {
	change := Change{Cells: s.store.GetGrid(rng)}
	if rng.Rows()*rng.Cols() <= rangeExpansionLimit {
		for ref := range rng.Refs() {
			if _, ok := change.Cells[ref.Sref()]; !ok {
				change.Removed = append(change.Removed, ref.Sref())
			}
		}
	}
	return change
}

func (s *Spreadsheet) tierChange() Change {
	tiers := s.store.TierStyles()
	return Change{Styles: &tiers}
}

// coveredBy lists the cells covered by merges anchored at one of refs. they
// read as their anchor, so their dependants follow every anchor write.
func (s *Spreadsheet) coveredBy(refs []Ref) []Sref {
	merges := s.store.Merges()
	if len(merges) == 0 {
		return nil
	}
	anchors := make(map[Ref]struct{}, len(refs))
	for _, ref := range refs {
		anchors[ref] = struct{}{}
	}
	var out []Sref
	for _, rng := range merges {
		if _, ok := anchors[rng.From]; !ok {
			continue
		}
		out = append(out, mergedCells(rng)...)
	}
	return out
}

func mergedCells(rng Range) []Sref {
	out := make([]Sref, 0, rng.Rows()*rng.Cols())
	for ref := range rng.Refs() {
		out = append(out, ref.Sref())
	}
	return out
}

// mergeDelta lists the cells of every merge present in only one of before
// and after
func mergeDelta(before, after []Range) []Sref {
	var out []Sref
	for _, rng := range before {
		if !slices.Contains(after, rng) {
			out = append(out, mergedCells(rng)...)
		}
	}
	for _, rng := range after {
		if !slices.Contains(before, rng) {
			out = append(out, mergedCells(rng)...)
		}
	}
	return out
}

// Merge merges the cells of a range into one block shown by its top left
// anchor. covered cells lose their content, formulas reading them read the
// anchor from now on.
func (s *Spreadsheet) Merge(text string) error {
	rng, err := resolveRange(text)
	if err != nil {
		return err
	}
	return s.edit(func() (Change, error) {
		before := s.store.GetGrid(rng)
		if err := s.store.Merge(rng); err != nil {
			return Change{}, err
		}
		refs := []Ref{rng.From}
		for sref := range before {
			if ref, err := ParseRef(string(sref)); err == nil {
				refs = append(refs, ref)
			}
		}
		change, err := s.commit(refs)
		if err != nil {
			return Change{}, err
		}
		tiers := s.store.TierStyles()
		change.Styles = &tiers
		return change, nil
	})
}

// Unmerge splits every merged block overlapping a range. the covered cells
// come back empty.
func (s *Spreadsheet) Unmerge(text string) error {
	rng, err := resolveRange(text)
	if err != nil {
		return err
	}
	return s.edit(func() (Change, error) {
		removed, err := s.store.Unmerge(rng)
		if err != nil {
			return Change{}, err
		}
		if len(removed) == 0 {
			return Change{}, nil
		}
		if _, err := s.commit(nil, mergeDelta(removed, nil)...); err != nil {
			return Change{}, err
		}
		return s.tierChange(), nil
	})
}

// Merges returns the merged blocks in row-major order of their anchors
func (s *Spreadsheet) Merges() []Range {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Merges()
}

// MergeAt returns the merged block containing address
func (s *Spreadsheet) MergeAt(address string) (Range, bool) {
	ref, err := resolveAddress(address)
	if err != nil {
		return Range{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rng := range s.store.Merges() {
		if rng.Contains(ref) {
			return rng, true
		}
	}
	return Range{}, false
}

// SetConditionalFormats replaces every conditional format. rules apply in
// order, a rule without an id gets a random one.
func (s *Spreadsheet) SetConditionalFormats(rules []ConditionalFormat) error {
	return s.edit(func() (Change, error) {
		if err := s.store.SetConditionalFormats(rules); err != nil {
			return Change{}, err
		}
		return s.tierChange(), nil
	})
}

// ConditionalFormats returns a copy of the conditional formats
func (s *Spreadsheet) ConditionalFormats() []ConditionalFormat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.TierStyles().Conditional
}

// SetRowHeight sets the height of a row in pixels, DefaultRowHeight resets it
func (s *Spreadsheet) SetRowHeight(row, height int) error {
	return s.edit(func() (Change, error) {
		if err := s.store.SetRowHeight(row, height); err != nil {
			return Change{}, err
		}
		return s.tierChange(), nil
	})
}

// SetColumnWidth sets the width of a column in pixels, DefaultColumnWidth
// resets it
func (s *Spreadsheet) SetColumnWidth(col, width int) error {
	return s.edit(func() (Change, error) {
		if err := s.store.SetColumnWidth(col, width); err != nil {
			return Change{}, err
		}
		return s.tierChange(), nil
	})
}

// RowHeights returns the row sizes
func (s *Spreadsheet) RowHeights() Dimensions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Dimensions{Default: DefaultRowHeight, Custom: s.store.TierStyles().RowHeights}
}

// ColumnWidths returns the column sizes
func (s *Spreadsheet) ColumnWidths() Dimensions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Dimensions{Default: DefaultColumnWidth, Custom: s.store.TierStyles().ColumnWidths}
}

// InsertRows inserts count empty rows before row at
func (s *Spreadsheet) InsertRows(at, count int) error {
	return s.structural(func() error { return s.store.InsertRows(at, count) }, shifted(AxisRow, at, count))
}

// InsertColumns inserts count empty columns before column at
func (s *Spreadsheet) InsertColumns(at, count int) error {
	return s.structural(func() error { return s.store.InsertColumns(at, count) }, shifted(AxisColumn, at, count))
}

// DeleteRows deletes count rows starting at row at. references into them
// become #REF!.
func (s *Spreadsheet) DeleteRows(at, count int) error {
	return s.structural(func() error { return s.store.DeleteRows(at, count) }, shifted(AxisRow, at, -count))
}

// DeleteColumns deletes count columns starting at column at
func (s *Spreadsheet) DeleteColumns(at, count int) error {
	return s.structural(func() error { return s.store.DeleteColumns(at, count) }, shifted(AxisColumn, at, -count))
}

// MoveRows moves count rows starting at src to before row dst
func (s *Spreadsheet) MoveRows(src, count, dst int) error {
	return s.structural(func() error { return s.store.MoveRows(src, count, dst) }, moved(AxisRow, src, count, dst))
}

// MoveColumns moves count columns starting at src to before column dst
func (s *Spreadsheet) MoveColumns(src, count, dst int) error {
	return s.structural(func() error { return s.store.MoveColumns(src, count, dst) }, moved(AxisColumn, src, count, dst))
}

// structural runs a shift of the store, then rebuilds the graph from the
// rewritten formulas and recalculates everything
func (s *Spreadsheet) structural(fn func() error, remap func(Ref) (Ref, bool)) error {
	return s.edit(func() (Change, error) {
		if err := fn(); err != nil {
			return Change{}, err
		}
		if err := s.rebuild(remap); err != nil {
			return Change{}, err
		}
		return s.snapshot(), nil
	})
}

func shifted(axis Axis, at, count int) func(Ref) (Ref, bool) {
	return func(ref Ref) (Ref, bool) { return ShiftRef(ref, axis, at, count) }
}

func moved(axis Axis, src, count, dst int) func(Ref) (Ref, bool) {
	return func(ref Ref) (Ref, bool) { return MoveRef(ref, axis, src, count, dst), true }
}

func (s *Spreadsheet) snapshot() Change {
	grid := make(Grid, s.store.Len())
	for ref, cell := range s.store.Cells() {
		grid[ref.Sref()] = cell
	}
	tiers := s.store.TierStyles()
	return Change{Cells: grid, Styles: &tiers, Reset: true}
}

// Snapshot returns the whole document as a Reset change
func (s *Spreadsheet) Snapshot() Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Calculate recalculates every formula cell
func (s *Spreadsheet) Calculate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []Sref
	for ref, cell := range s.store.Cells() {
		if cell.IsFormula() {
			all = append(all, ref.Sref())
		}
	}
	_, err := s.calc.Recalculate(all)
	return err
}

// Recalculate recalculates the closure of the given cells and returns the
// formula cells in evaluation order
func (s *Spreadsheet) Recalculate(changed ...Sref) ([]Sref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calc.Recalculate(changed)
}

// ApplyRemote applies cells written and removed by another writer, then
// recalculates their closure exactly as for a local write. listeners are not
// notified.
func (s *Spreadsheet) ApplyRemote(grid Grid, removed []Sref) error {
	return s.ApplyChange(Change{Cells: grid, Removed: removed})
}

// ApplyChange applies a change received from another writer. listeners are
// not notified.
func (s *Spreadsheet) ApplyChange(change Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if change.Reset {
		tiers := TierStyles{}
		if change.Styles != nil {
			tiers = *change.Styles
		}
		if err := s.store.Replace(change.Cells, tiers); err != nil {
			return fmt.Errorf("replace document: %w", err)
		}
		return s.rebuild(nil)
	}

	var extra []Sref
	if change.Styles != nil {
		before := s.store.Merges()
		if err := s.store.Replace(s.snapshot().Cells, *change.Styles); err != nil {
			return fmt.Errorf("replace tier styles: %w", err)
		}
		extra = mergeDelta(before, s.store.Merges())
	}

	refs := make([]Ref, 0, len(change.Cells)+len(change.Removed))
	for _, sref := range change.Removed {
		ref, err := resolveAddress(string(sref))
		if err != nil {
			return err
		}
		if _, err := s.store.Delete(ref); err != nil {
			return err
		}
		refs = append(refs, ref)
	}
	for sref, cell := range change.Cells {
		ref, err := resolveAddress(string(sref))
		if err != nil {
			return err
		}
		if err := s.store.Set(ref, cell); err != nil {
			return err
		}
		refs = append(refs, ref)
	}
	_, err := s.commit(refs, extra...)
	return err
}
