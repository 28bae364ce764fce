package sheets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColumnLetter(t *testing.T) {
	cases := map[int]string{1: "A", 10: "J", 12: "L", 26: "Z", 27: "AA", 52: "AZ", 53: "BA", 702: "ZZ", 703: "AAA"}
	for in, want := range cases {
		assert.Equal(t, want, ColumnLetter(in), "col %d", in)
		assert.Equal(t, in, columnIndex(want))
	}
	assert.Equal(t, "", ColumnLetter(0))
}

func TestSheetRange(t *testing.T) {
	assert.Equal(t, "Users!A2:J", SheetRange("Users", "A2", "J"))
	assert.Equal(t, "Users!A1", SheetRange("Users", "A1", ""))
	assert.Equal(t, "Users", SheetRange("Users", "", ""))
	assert.Equal(t, "'Final Users'!A1", SheetRange("Final Users", "A1", ""))
	assert.Equal(t, "'Bob''s'!A1", SheetRange("Bob's", "A1", ""))
}

func TestParseRange(t *testing.T) {
	r, err := parseRange("Users!A2:J")
	require.NoError(t, err)
	assert.Equal(t, "Users", r.Sheet)
	assert.Equal(t, cellRef{Col: 1, Row: 2}, r.Start)
	assert.Equal(t, cellRef{Col: 10}, r.End)

	r, err = parseRange("'Final Users'!B3")
	require.NoError(t, err)
	assert.Equal(t, "Final Users", r.Sheet)
	assert.Equal(t, r.Start, r.End)

	r, err = parseRange("Users")
	require.NoError(t, err)
	assert.Equal(t, cellRef{Col: 1, Row: 1}, r.Start)
	assert.Equal(t, cellRef{}, r.End)

	_, err = parseRange("Users!1x")
	assert.Error(t, err)
	_, err = parseRange("!A1")
	assert.Error(t, err)
}
