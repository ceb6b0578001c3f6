package spreadsheet

import "strings"

// Reference is one cell or range read by a formula
type Reference struct {
	Range   Range
	IsRange bool
}

func (r Reference) String() string {
	if r.IsRange {
		return r.Range.String()
	}
	return r.Range.From.String()
}

// ExtractReferences lexes text and returns every distinct reference token in
// order of first appearance. malformed or out of bounds references are
// skipped. a leading "=" is tolerated.
func ExtractReferences(text string) []Reference {
	var refs []Reference
	seen := make(map[Reference]struct{})
	for _, tok := range Tokenize(StripFormulaPrefix(text)) {
		var ref Reference
		switch tok.Type {
		case TokenReference:
			r, err := ParseRef(tok.Value)
			if err != nil {
				continue
			}
			ref = Reference{Range: Range{From: r, To: r}}
		case TokenRange:
			rng, err := ParseRange(strings.ReplaceAll(tok.Value, "$", ""))
			if err != nil {
				continue
			}
			ref = Reference{Range: rng, IsRange: true}
		default:
			continue
		}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		refs = append(refs, ref)
	}
	return refs
}

// Dependencies are the edges a formula contributes to the graph. ranges are
// kept whole here, the graph expands them.
type Dependencies struct {
	Cells  []Sref
	Ranges []Range
}

// ExtractDependencies splits the references of formula into cell edges and
// range edges.
func ExtractDependencies(formula string) Dependencies {
	var deps Dependencies
	for _, ref := range ExtractReferences(formula) {
		if ref.IsRange {
			deps.Ranges = append(deps.Ranges, ref.Range)
			continue
		}
		deps.Cells = append(deps.Cells, ref.Range.From.Sref())
	}
	return deps
}

// Empty reports whether the formula reads no cells at all
func (d Dependencies) Empty() bool {
	return len(d.Cells) == 0 && len(d.Ranges) == 0
}
