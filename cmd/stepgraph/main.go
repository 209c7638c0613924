package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/mattn/go-runewidth"

	"github.com/hanpama/stepgraph/internal/ctxlog"
	"github.com/hanpama/stepgraph/internal/eventbus"
	"github.com/hanpama/stepgraph/internal/executor"
	"github.com/hanpama/stepgraph/internal/language"
	"github.com/hanpama/stepgraph/internal/memrt"
	"github.com/hanpama/stepgraph/internal/otel"
	"github.com/hanpama/stepgraph/internal/planner"
	"github.com/hanpama/stepgraph/internal/schema"
	"github.com/hanpama/stepgraph/internal/server"
)

const rootUsage = `stepgraph: GraphQL plan execution engine

USAGE:
  stepgraph <command> [flags]

COMMANDS:
  serve            Run the HTTP GraphQL endpoint over a YAML dataset
  exec             Execute one operation and print the JSON result
  explain          Print the LayerPlan tree of an operation
  schema           Print the normalized SDL of a schema
  help             Show help for any command
`

const serveUsage = `serve FLAGS:
  -schema <file>                      GraphQL SDL file (required)
  -data <file>                        YAML dataset (required)
  -server.addr <addr>                 HTTP listen address (default: :8080)
  -server.pretty                      Pretty-print JSON responses
  -server.timeout <duration>          Per-request timeout, e.g. 10s (default: 10s)
  -server.metadata-header <name>      Forward HTTP header to request metadata. Repeatable
  -server.graphiql <bool>             Serve GraphiQL to browsers (default: true)
  -server.explain                     Attach the LayerPlan tree to responses (extensions.plan)
  -exec.concurrency N                 Max sibling buckets run at once (default: 0, unlimited)
  -otel.endpoint <addr>               OTLP collector endpoint
  -otel.service <name>                OpenTelemetry service name (default: stepgraph)
  -log.level <level>                  debug, info, warn or error (default: info)
`

const execUsage = `exec FLAGS:
  -schema <file>           GraphQL SDL file (required)
  -data <file>             YAML dataset (required)
  -query <file>            GraphQL document, - for stdin (required)
  -operation <name>        Operation to run when the document has several
  -variables <json>        Variable values as a JSON object
  -pretty <bool>           Indent output (default: true on terminals)
  -exec.concurrency N      Max sibling buckets run at once (default: 0, unlimited)
  -log.level <level>       debug, info, warn or error (default: warn)
`

const explainUsage = `explain FLAGS:
  -schema <file>           GraphQL SDL file (required)
  -query <file>            GraphQL document, - for stdin (required)
  -operation <name>        Operation to plan when the document has several
  -variables <json>        Variable values as a JSON object
`

const schemaUsage = `schema FLAGS:
  -schema <file>           GraphQL SDL file (required)
  -out <file>              Write SDL to file (default: stdout)
`

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	global := flag.NewFlagSet("stepgraph", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer)) // silence automatic output
	if err := global.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "serve":
		return cmdServe(cmdArgs)
	case "exec":
		return cmdExec(cmdArgs, stdin, stdout)
	case "explain":
		return cmdExplain(cmdArgs, stdin, stdout)
	case "schema":
		return cmdSchema(cmdArgs, stdout)
	case "help":
		return cmdHelp(cmdArgs, stdout)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, rootUsage)
		return nil
	}
	switch args[0] {
	case "serve":
		fmt.Fprint(stdout, serveUsage)
	case "exec":
		fmt.Fprint(stdout, execUsage)
	case "explain":
		fmt.Fprint(stdout, explainUsage)
	case "schema":
		fmt.Fprint(stdout, schemaUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

type stringListFlag []string

func (s *stringListFlag) String() string { return "" }

func (s *stringListFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// variablesFlag decodes a JSON object of variable values.
type variablesFlag map[string]any

func (v *variablesFlag) String() string { return "" }

func (v *variablesFlag) Set(s string) error {
	m := map[string]any{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return fmt.Errorf("variables must be a JSON object: %w", err)
	}
	*v = m
	return nil
}

func newLogger(level string, w io.Writer) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid -log.level %q", level)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})), nil
}

func loadSchema(path string) (*schema.Schema, error) {
	if path == "" {
		return nil, fmt.Errorf("-schema is required")
	}
	sdl, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sch, err := schema.BuildFromSDL(string(sdl))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sch, nil
}

func loadData(path string) (*memrt.Runtime, error) {
	if path == "" {
		return nil, fmt.Errorf("-data is required")
	}
	return memrt.LoadFile(path)
}

func loadQuery(path string, stdin io.Reader) (*language.QueryDocument, error) {
	var src []byte
	var err error
	switch path {
	case "":
		return nil, fmt.Errorf("-query is required")
	case "-":
		src, err = io.ReadAll(stdin)
	default:
		src, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	return language.ParseQuery(string(src))
}

func cmdServe(args []string) error {
	schemaFile := ""
	dataFile := ""
	addr := ":8080"
	pretty := false
	timeout := 10 * time.Second
	graphiql := true
	explain := false
	concurrency := 0
	otelEndpoint := ""
	otelService := "stepgraph"
	logLevel := "info"
	var metadataHeaders stringListFlag

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&schemaFile, "schema", schemaFile, "GraphQL SDL file")
	fs.StringVar(&dataFile, "data", dataFile, "YAML dataset")
	fs.StringVar(&addr, "server.addr", addr, "HTTP listen address")
	fs.BoolVar(&pretty, "server.pretty", pretty, "Pretty-print JSON responses")
	fs.DurationVar(&timeout, "server.timeout", timeout, "Per-request timeout")
	fs.Var(&metadataHeaders, "server.metadata-header", "Forward HTTP header to request metadata")
	fs.BoolVar(&graphiql, "server.graphiql", graphiql, "Serve GraphiQL to browsers")
	fs.BoolVar(&explain, "server.explain", explain, "Attach the LayerPlan tree to responses")
	fs.IntVar(&concurrency, "exec.concurrency", concurrency, "Max sibling buckets run at once")
	fs.StringVar(&otelEndpoint, "otel.endpoint", otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", otelService, "OpenTelemetry service name")
	fs.StringVar(&logLevel, "log.level", logLevel, "Log level")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, serveUsage)
		return err
	}

	logger, err := newLogger(logLevel, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	sch, err := loadSchema(schemaFile)
	if err != nil {
		fmt.Fprint(os.Stderr, serveUsage)
		return err
	}
	runtime, err := loadData(dataFile)
	if err != nil {
		fmt.Fprint(os.Stderr, serveUsage)
		return err
	}

	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(otelEndpoint, otelService)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	sopts := []server.Option{server.WithGraphiQL(graphiql)}
	if pretty {
		sopts = append(sopts, server.WithPretty())
	}
	if timeout > 0 {
		sopts = append(sopts, server.WithTimeout(timeout))
	}
	if explain {
		sopts = append(sopts, server.WithExplain())
	}
	if len(metadataHeaders) > 0 {
		sopts = append(sopts, server.WithMetadataHeaders(metadataHeaders...))
	}
	if concurrency > 0 {
		sopts = append(sopts, server.WithExecutionOptions(executor.WithConcurrency(concurrency)))
	}
	h, err := server.New(runtime, sch, sopts...)
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/graphql", h)

	logger.Info("GraphQL server listening", "addr", addr)
	return http.ListenAndServe(addr, mux)
}

func cmdExec(args []string, stdin io.Reader, stdout io.Writer) error {
	schemaFile := ""
	dataFile := ""
	queryFile := ""
	operation := ""
	concurrency := 0
	logLevel := "warn"
	var variables variablesFlag
	pretty := false
	if f, ok := stdout.(*os.File); ok {
		pretty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	fs := flag.NewFlagSet("exec", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&schemaFile, "schema", schemaFile, "GraphQL SDL file")
	fs.StringVar(&dataFile, "data", dataFile, "YAML dataset")
	fs.StringVar(&queryFile, "query", queryFile, "GraphQL document")
	fs.StringVar(&operation, "operation", operation, "Operation name")
	fs.Var(&variables, "variables", "Variable values as JSON")
	fs.BoolVar(&pretty, "pretty", pretty, "Indent output")
	fs.IntVar(&concurrency, "exec.concurrency", concurrency, "Max sibling buckets run at once")
	fs.StringVar(&logLevel, "log.level", logLevel, "Log level")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, execUsage)
		return err
	}

	logger, err := newLogger(logLevel, os.Stderr)
	if err != nil {
		return err
	}
	sch, err := loadSchema(schemaFile)
	if err != nil {
		fmt.Fprint(os.Stderr, execUsage)
		return err
	}
	runtime, err := loadData(dataFile)
	if err != nil {
		fmt.Fprint(os.Stderr, execUsage)
		return err
	}
	doc, err := loadQuery(queryFile, stdin)
	if err != nil {
		return err
	}

	var eopts []executor.Option
	if concurrency > 0 {
		eopts = append(eopts, executor.WithConcurrency(concurrency))
	}
	ctx := ctxlog.WithLogger(context.Background(), logger)
	res := planner.NewExecutor(runtime, sch, eopts...).ExecuteRequest(ctx, doc, operation, variables, nil)

	enc := json.NewEncoder(stdout)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(res)
}

func cmdExplain(args []string, stdin io.Reader, stdout io.Writer) error {
	schemaFile := ""
	queryFile := ""
	operation := ""
	var variables variablesFlag

	fs := flag.NewFlagSet("explain", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&schemaFile, "schema", schemaFile, "GraphQL SDL file")
	fs.StringVar(&queryFile, "query", queryFile, "GraphQL document")
	fs.StringVar(&operation, "operation", operation, "Operation name")
	fs.Var(&variables, "variables", "Variable values as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, explainUsage)
		return err
	}

	sch, err := loadSchema(schemaFile)
	if err != nil {
		fmt.Fprint(os.Stderr, explainUsage)
		return err
	}
	doc, err := loadQuery(queryFile, stdin)
	if err != nil {
		return err
	}
	// planning never calls the runtime
	plan, err := planner.Plan(sch, planner.NewMockRuntime(nil), doc, operation, variables)
	if err != nil {
		return err
	}
	if err := plan.Finalize(); err != nil {
		return err
	}
	_, err = io.WriteString(stdout, renderPlan(plan.Describe()))
	return err
}

// renderPlan indents each line by depth and aligns the details in one column.
func renderPlan(lines []executor.PlanLine) string {
	heads := make([]string, len(lines))
	width := 0
	for i, l := range lines {
		heads[i] = strings.Repeat("  ", l.Depth) + l.Label
		if w := runewidth.StringWidth(heads[i]); w > width {
			width = w
		}
	}
	var b strings.Builder
	for i, l := range lines {
		if l.Detail == "" {
			b.WriteString(heads[i])
		} else {
			b.WriteString(runewidth.FillRight(heads[i], width))
			b.WriteString("  ")
			b.WriteString(l.Detail)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func cmdSchema(args []string, stdout io.Writer) error {
	schemaFile := ""
	outFile := ""
	fs := flag.NewFlagSet("schema", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&schemaFile, "schema", schemaFile, "GraphQL SDL file")
	fs.StringVar(&outFile, "out", outFile, "Write SDL to file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, schemaUsage)
		return err
	}
	sch, err := loadSchema(schemaFile)
	if err != nil {
		fmt.Fprint(os.Stderr, schemaUsage)
		return err
	}
	sdl := schema.Render(sch)
	if outFile == "" {
		_, err := io.WriteString(stdout, sdl)
		return err
	}
	return os.WriteFile(outFile, []byte(sdl), 0644)
}
