package language

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseQuery(t *testing.T) {
	doc, err := ParseQuery(`query Q($id: ID!) { node(id: $id) { ... on User { name } } }`)
	require.NoError(t, err)
	require.Len(t, doc.Operations, 1)
	op := doc.Operations[0]
	require.Equal(t, Query, op.Operation)
	require.Equal(t, "Q", op.Name)
	require.Equal(t, "node", op.SelectionSet[0].(*Field).Name)
}

func TestParseQuery_SyntaxErrorHasLocation(t *testing.T) {
	_, err := ParseQuery(`{ a `)
	require.Error(t, err)
	var gerr *Error
	require.True(t, errors.As(err, &gerr))
	require.NotEmpty(t, gerr.Locations)
	require.Equal(t, 1, gerr.Locations[0].Line)
}
