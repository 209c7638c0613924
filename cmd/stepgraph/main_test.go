package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/stepgraph/internal/executor"
)

const testSDL = `
type Query {
  books: [Book!]!
  greeting(name: String = "world"): String
}

type Book {
  title: String!
}
`

const testData = `
roots:
  Query:
    books: {$all: Book}
    greeting: hello
objects:
  Book:
    - {title: Dune}
    - {title: Emma}
`

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func TestExecPrintsResult(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"schema.graphql": testSDL,
		"data.yaml":      testData,
		"query.graphql":  `query Q($n: String) { books { title } greeting(name: $n) }`,
	})
	var out bytes.Buffer
	err := run([]string{"exec",
		"-schema", filepath.Join(dir, "schema.graphql"),
		"-data", filepath.Join(dir, "data.yaml"),
		"-query", filepath.Join(dir, "query.graphql"),
		"-variables", `{"n": "ignored"}`,
	}, nil, &out)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	want := map[string]any{"data": map[string]any{
		"books":    []any{map[string]any{"title": "Dune"}, map[string]any{"title": "Emma"}},
		"greeting": "hello",
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}
	require.NotContains(t, out.String(), "\n  ", "buffers are not terminals")
}

func TestExecReadsQueryFromStdin(t *testing.T) {
	dir := writeFiles(t, map[string]string{"schema.graphql": testSDL, "data.yaml": testData})
	var out bytes.Buffer
	err := run([]string{"exec", "-pretty",
		"-schema", filepath.Join(dir, "schema.graphql"),
		"-data", filepath.Join(dir, "data.yaml"),
		"-query", "-",
	}, strings.NewReader(`{ greeting }`), &out)
	require.NoError(t, err)
	require.Equal(t, "{\n  \"data\": {\n    \"greeting\": \"hello\"\n  }\n}\n", out.String())
}

func TestExecRequiresFlags(t *testing.T) {
	dir := writeFiles(t, map[string]string{"schema.graphql": testSDL})
	err := run([]string{"exec", "-schema", filepath.Join(dir, "schema.graphql")}, nil, new(bytes.Buffer))
	require.EqualError(t, err, "-data is required")

	err = run([]string{"exec", "-variables", "[1]"}, nil, new(bytes.Buffer))
	require.ErrorContains(t, err, "variables must be a JSON object")
}

func TestExplainPrintsTree(t *testing.T) {
	dir := writeFiles(t, map[string]string{"schema.graphql": testSDL})
	var out bytes.Buffer
	err := run([]string{"explain", "-schema", filepath.Join(dir, "schema.graphql"), "-query", "-"},
		strings.NewReader(`{ books { title } }`), &out)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.True(t, strings.HasPrefix(lines[0], "LayerPlan#0(root)"), lines[0])
	require.Contains(t, out.String(), "(listItem)")
	require.Contains(t, out.String(), "Resolve(Book.title)")
}

func TestRenderPlanAlignsDetails(t *testing.T) {
	got := renderPlan([]executor.PlanLine{
		{Depth: 0, Label: "LayerPlan#0(root)", Detail: "root=1"},
		{Depth: 1, Label: "1 名前", Detail: "deps=[0]"},
		{Depth: 1, Label: "2 x"},
	})
	want := "LayerPlan#0(root)  root=1\n" +
		"  1 名前           deps=[0]\n" +
		"  2 x\n"
	require.Equal(t, want, got)
}

func TestSchemaRendersSDL(t *testing.T) {
	dir := writeFiles(t, map[string]string{"schema.graphql": testSDL})
	var out bytes.Buffer
	require.NoError(t, run([]string{"schema", "-schema", filepath.Join(dir, "schema.graphql")}, nil, &out))
	require.Contains(t, out.String(), "type Book {\n  title: String!\n}\n")

	outFile := filepath.Join(dir, "out.graphql")
	require.NoError(t, run([]string{"schema", "-schema", filepath.Join(dir, "schema.graphql"), "-out", outFile}, nil, new(bytes.Buffer)))
	written, err := os.ReadFile(outFile)
	require.NoError(t, err)
	require.Equal(t, out.String(), string(written))
}

func TestHelpAndUnknownCommands(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"help"}, nil, &out))
	require.Equal(t, rootUsage, out.String())

	out.Reset()
	require.NoError(t, run([]string{"help", "explain"}, nil, &out))
	require.Equal(t, explainUsage, out.String())

	require.EqualError(t, run([]string{"help", "nope"}, nil, &out), `unknown help topic "nope"`)
	require.EqualError(t, run([]string{"frobnicate"}, nil, &out), `unknown command "frobnicate"`)
	require.EqualError(t, run(nil, nil, &out), "missing command")
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := newLogger("loud", new(bytes.Buffer))
	require.Error(t, err)
	l, err := newLogger("debug", new(bytes.Buffer))
	require.NoError(t, err)
	require.NotNil(t, l)
}
