// Command sheetcalc evaluates, converts and serves spreadsheet documents.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/vogtb/go-spreadsheet/packages/logging"
	"github.com/vogtb/go-spreadsheet/packages/replica"
	"github.com/vogtb/go-spreadsheet/packages/sheetio"
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet"
	"github.com/vogtb/go-spreadsheet/packages/sqlitestore"
)

// set at build time with -ldflags "-X main.version=..."
var version = "dev"

// documents opened without --document share this id
var defaultDocument = uuid.NewSHA1(uuid.NameSpaceURL, []byte("sheetcalc:default"))

// Globals are the flags shared by every command
type Globals struct {
	LogLevel  string `name:"log-level" help:"Log level (debug, info, warn, error)." default:"info" env:"SHEETCALC_LOG_LEVEL"`
	LogFormat string `name:"log-format" help:"Log format (text, json)." default:"text" env:"SHEETCALC_LOG_FORMAT"`
	DB        string `name:"db" help:"SQLite database holding the document." env:"SHEETCALC_DB"`
	Document  string `name:"document" help:"Document id inside --db."`
	Locale    string `name:"locale" help:"Language used to display numbers." default:"en-US"`
}

// CLI is the command line grammar
type CLI struct {
	Globals

	Eval    EvalCmd    `cmd:"" help:"Evaluate a formula on an empty sheet."`
	Run     RunCmd     `cmd:"" help:"Load a document, apply edits, recalculate and print or write it."`
	Serve   ServeCmd   `cmd:"" help:"Serve a document to replicas over WebSocket."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

// app carries the process streams and lifetime into commands
type app struct {
	ctx    context.Context
	stdout io.Writer
	stderr io.Writer
}

func (g *Globals) logger(a *app) (*slog.Logger, error) {
	level, err := logging.ParseLevel(g.LogLevel)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(g.LogFormat)
	if err != nil {
		return nil, err
	}
	return logging.New(a.stderr, level, format), nil
}

func (g *Globals) options(logger *slog.Logger) ([]spreadsheet.Option, error) {
	tag, err := language.Parse(g.Locale)
	if err != nil {
		return nil, fmt.Errorf("locale %q: %w", g.Locale, err)
	}
	return []spreadsheet.Option{
		spreadsheet.WithLogger(logger),
		spreadsheet.WithLocale(tag),
	}, nil
}

// open builds the spreadsheet, backed by --db when set. the returned func
// releases the database.
func (g *Globals) open(a *app, logger *slog.Logger) (*spreadsheet.Spreadsheet, func() error, error) {
	opts, err := g.options(logger)
	if err != nil {
		return nil, nil, err
	}
	closer := func() error { return nil }

	if g.DB != "" {
		id := defaultDocument
		if g.Document != "" {
			if id, err = uuid.Parse(g.Document); err != nil {
				return nil, nil, fmt.Errorf("document %q: %w", g.Document, err)
			}
		}
		store, err := sqlitestore.Open(a.ctx, g.DB, id, sqlitestore.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, spreadsheet.WithStore(store), spreadsheet.WithID(id))
		closer = store.Close
	}

	sheet, err := spreadsheet.NewSpreadsheet(opts...)
	if err != nil {
		closer()
		return nil, nil, err
	}
	return sheet, closer, nil
}

// EvalCmd evaluates a single formula
type EvalCmd struct {
	Formula string `arg:"" help:"Formula to evaluate, with or without the leading '='."`
}

func (c *EvalCmd) Run(g *Globals, a *app) error {
	logger, err := g.logger(a)
	if err != nil {
		return err
	}
	opts, err := g.options(logger)
	if err != nil {
		return err
	}
	sheet, err := spreadsheet.NewSpreadsheet(opts...)
	if err != nil {
		return err
	}

	result := sheet.Evaluate(spreadsheet.NormalizeFormula(c.Formula))
	fmt.Fprintln(a.stdout, spreadsheet.FormatValue(result, nil, sheet.Locale()))
	if result.Type == spreadsheet.ResultError {
		return fmt.Errorf("formula evaluated to %s", result)
	}
	return nil
}

// RunCmd loads, edits and recalculates a document
type RunCmd struct {
	XLSX     string `name:"xlsx" help:"Import an Office Open XML workbook." type:"existingfile" xor:"input"`
	XML      string `name:"xml" help:"Import an XML Spreadsheet 2003 workbook." type:"existingfile" xor:"input"`
	Snapshot string `name:"snapshot" help:"Load a snapshot file." type:"existingfile" xor:"input"`
	Sheet    string `name:"sheet" help:"Worksheet to import, the first one when empty."`

	Set   []string `name:"set" help:"Edit a cell, as ADDRESS=INPUT. Repeatable." placeholder:"A1=INPUT" sep:"none"`
	Print string   `name:"print" help:"Range to print as a table of display strings." placeholder:"A1:C10"`

	OutXLSX     string `name:"out-xlsx" help:"Write the document as an xlsx workbook." type:"path"`
	OutSnapshot string `name:"out-snapshot" help:"Write the document as a snapshot file." type:"path"`
	Compress    bool   `name:"compress" help:"xz-compress --out-snapshot." default:"true" negatable:""`
}

func (c *RunCmd) Run(g *Globals, a *app) error {
	logger, err := g.logger(a)
	if err != nil {
		return err
	}
	sheet, closer, err := g.open(a, logger)
	if err != nil {
		return err
	}
	defer closer()

	if err := c.load(sheet); err != nil {
		return err
	}
	for _, edit := range c.Set {
		address, input, ok := strings.Cut(edit, "=")
		if !ok {
			return fmt.Errorf("--set %q: expected ADDRESS=INPUT", edit)
		}
		if err := sheet.Set(strings.TrimSpace(address), input); err != nil {
			return fmt.Errorf("--set %q: %w", edit, err)
		}
	}
	if err := sheet.Calculate(); err != nil {
		return err
	}
	logger.Debug("document calculated", "edits", len(c.Set))

	if c.Print != "" {
		if err := printRange(a.stdout, sheet, c.Print); err != nil {
			return err
		}
	}
	if c.OutXLSX != "" {
		if err := writeFile(c.OutXLSX, func(w io.Writer) error {
			return sheetio.ExportXLSX(w, sheet.Snapshot(), c.Sheet)
		}); err != nil {
			return err
		}
		logger.Info("workbook written", "path", c.OutXLSX)
	}
	if c.OutSnapshot != "" {
		if err := writeFile(c.OutSnapshot, func(w io.Writer) error {
			return sheetio.WriteSnapshot(w, sheet.Snapshot(), c.Compress)
		}); err != nil {
			return err
		}
		logger.Info("snapshot written", "path", c.OutSnapshot, "compressed", c.Compress)
	}
	return nil
}

func (c *RunCmd) load(sheet *spreadsheet.Spreadsheet) error {
	var (
		path string
		read func(io.Reader) (spreadsheet.Change, error)
	)
	switch {
	case c.XLSX != "":
		path = c.XLSX
		read = func(r io.Reader) (spreadsheet.Change, error) { return sheetio.ImportXLSX(r, c.Sheet) }
	case c.XML != "":
		path = c.XML
		read = func(r io.Reader) (spreadsheet.Change, error) { return sheetio.ImportSpreadsheetML(r, c.Sheet) }
	case c.Snapshot != "":
		path = c.Snapshot
		read = sheetio.ReadSnapshot
	default:
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	doc, err := read(f)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return sheet.ApplyChange(doc)
}

// printRange writes one tab separated line per row of text
func printRange(w io.Writer, sheet *spreadsheet.Spreadsheet, text string) error {
	rng, err := spreadsheet.ParseRange(text)
	if err != nil {
		return fmt.Errorf("--print %q: %w", text, err)
	}

	var sb strings.Builder
	for row := rng.From.Row; row <= rng.To.Row; row++ {
		for col := rng.From.Col; col <= rng.To.Col; col++ {
			if col > rng.From.Col {
				sb.WriteByte('\t')
			}
			ref := spreadsheet.Ref{Row: row, Col: col}
			shown, err := sheet.ToDisplayString(ref.String())
			if err != nil {
				return err
			}
			sb.WriteString(shown)
		}
		sb.WriteByte('\n')
	}
	_, err = io.WriteString(w, sb.String())
	return err
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if err := write(f); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ServeCmd runs a replica hub
type ServeCmd struct {
	Addr string `name:"addr" help:"Address to listen on." default:"localhost:8080"`
	Path string `name:"path" help:"WebSocket endpoint path." default:"/ws"`
}

func (c *ServeCmd) Run(g *Globals, a *app) error {
	logger, err := g.logger(a)
	if err != nil {
		return err
	}
	sheet, closer, err := g.open(a, logger)
	if err != nil {
		return err
	}
	defer closer()

	hub := replica.NewHub(sheet, replica.WithHubLogger(logger))
	mux := http.NewServeMux()
	mux.Handle(c.Path, hub)

	ln, err := net.Listen("tcp", c.Addr)
	if err != nil {
		return err
	}
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(a.ctx)
	defer cancel()
	go hub.Run(ctx)

	errs := make(chan error, 1)
	go func() { errs <- server.Serve(ln) }()
	logging.ServerStartup(logger, "replica", ln.Addr().String(), "path", c.Path, "document", sheet.ID().String())

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdown, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := server.Shutdown(shutdown); err != nil {
		return err
	}
	if err := <-errs; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// VersionCmd prints the build version
type VersionCmd struct{}

func (c *VersionCmd) Run(a *app) error {
	fmt.Fprintf(a.stdout, "sheetcalc version %s\n", version)
	return nil
}

func newParser(cli *CLI, a *app, opts ...kong.Option) (*kong.Kong, error) {
	opts = append([]kong.Option{
		kong.Name("sheetcalc"),
		kong.Description("Spreadsheet formula engine: evaluate, convert and serve documents"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
		kong.Writers(a.stdout, a.stderr),
	}, opts...)
	return kong.New(cli, opts...)
}

// execute parses args and runs the selected command
func execute(a *app, args []string, opts ...kong.Option) error {
	var cli CLI
	parser, err := newParser(&cli, a, opts...)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	return kctx.Run(&cli.Globals, a)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{ctx: ctx, stdout: os.Stdout, stderr: os.Stderr}
	var cli CLI
	parser, err := newParser(&cli, a)
	if err != nil {
		panic(err)
	}
	kctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)
	kctx.FatalIfErrorf(kctx.Run(&cli.Globals, a))
}
