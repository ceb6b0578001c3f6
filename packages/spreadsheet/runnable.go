package spreadsheet

import "fmt"

// RunnableSpreadsheet provides a chainable interface for spreadsheet
// operations. wraps the standard Spreadsheet and tracks errors internally
type RunnableSpreadsheet struct {
	spreadsheet *Spreadsheet
	err         error
	printLn     func(string)
}

// NewRunnableSpreadsheet creates a new RunnableSpreadsheet. printLn is
// required and will be used for all logging operations (CheckError, Print)
func NewRunnableSpreadsheet(printLn func(string), opts ...Option) *RunnableSpreadsheet {
	sheet, err := NewSpreadsheet(opts...)
	return &RunnableSpreadsheet{
		spreadsheet: sheet,
		err:         err,
		printLn:     printLn,
	}
}

// Set writes typed input to a cell (chainable)
func (r *RunnableSpreadsheet) Set(address string, input string) *RunnableSpreadsheet {
	if r.err != nil {
		return r
	}
	r.err = r.spreadsheet.Set(address, input)
	return r
}

// SetStyle merges a style patch into a cell (chainable)
func (r *RunnableSpreadsheet) SetStyle(address string, patch Style) *RunnableSpreadsheet {
	if r.err != nil {
		return r
	}
	r.err = r.spreadsheet.SetStyle(address, patch)
	return r
}

// Remove removes a cell (chainable)
func (r *RunnableSpreadsheet) Remove(address string) *RunnableSpreadsheet {
	if r.err != nil {
		return r
	}
	r.err = r.spreadsheet.Remove(address)
	return r
}

// InsertRows inserts rows (chainable)
func (r *RunnableSpreadsheet) InsertRows(at, count int) *RunnableSpreadsheet {
	if r.err != nil {
		return r
	}
	r.err = r.spreadsheet.InsertRows(at, count)
	return r
}

// DeleteRows deletes rows (chainable)
func (r *RunnableSpreadsheet) DeleteRows(at, count int) *RunnableSpreadsheet {
	if r.err != nil {
		return r
	}
	r.err = r.spreadsheet.DeleteRows(at, count)
	return r
}

// Calculate recalculates all formulas (chainable)
func (r *RunnableSpreadsheet) Calculate() *RunnableSpreadsheet {
	if r.err != nil {
		return r
	}
	r.err = r.spreadsheet.Calculate()
	return r
}

// Print prints the display string of a cell (chainable)
func (r *RunnableSpreadsheet) Print(address string) *RunnableSpreadsheet {
	if r.err != nil {
		return r
	}
	text, err := r.spreadsheet.ToDisplayString(address)
	if err != nil {
		r.err = err
		return r
	}
	r.printLn(fmt.Sprintf("%s: %s", address, text))
	return r
}

// Run executes a final calculation and returns the spreadsheet and any
// error. typically the last method in the chain
func (r *RunnableSpreadsheet) Run() (*Spreadsheet, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.err = r.spreadsheet.Calculate(); r.err != nil {
		return nil, r.err
	}
	return r.spreadsheet, nil
}

// RunOrPanic executes a final calculation and panics if there's an
// error. useful for examples and tests where you want to fail fast
func (r *RunnableSpreadsheet) RunOrPanic() *Spreadsheet {
	spreadsheet, err := r.Run()
	if err != nil {
		panic(err)
	}
	return spreadsheet
}

// Error returns the current error state
func (r *RunnableSpreadsheet) Error() error {
	return r.err
}

// CheckError logs the current error using the printLn function (chainable)
func (r *RunnableSpreadsheet) CheckError() *RunnableSpreadsheet {
	if r.err != nil {
		r.printLn(fmt.Sprintf("ERROR: %v", r.err))
	} else {
		r.printLn("No errors")
	}
	return r
}

// Spreadsheet returns the underlying spreadsheet. use with caution as it
// bypasses error tracking.
func (r *RunnableSpreadsheet) Spreadsheet() *Spreadsheet {
	return r.spreadsheet
}

// Reset clears the error state (chainable)
func (r *RunnableSpreadsheet) Reset() *RunnableSpreadsheet {
	r.err = nil
	return r
}
