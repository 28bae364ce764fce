package sheets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackend_ReadWrite(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()

	_, err := m.Get(ctx, "Users!A1:J")
	assert.ErrorIs(t, err, ErrRangeNotFound)

	require.NoError(t, m.AddSheet(ctx, "Users"))
	assert.Error(t, m.AddSheet(ctx, "Users"))

	rows, err := m.Get(ctx, "Users!A2:J")
	require.NoError(t, err)
	assert.Empty(t, rows)

	require.NoError(t, m.Update(ctx, "Users!A1", [][]string{{"ID", "Name"}}))
	require.NoError(t, m.Append(ctx, "Users!A1", [][]string{{"1", "ann"}, {"2", "bob"}}))
	require.NoError(t, m.BatchUpdate(ctx, []RangeValues{{Range: "Users!A3:B3", Values: [][]string{{"2", "bobby"}}}}))

	rows, err = m.Get(ctx, "Users!A2:B")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"1", "ann"}, {"2", "bobby"}}, rows)

	rows, err = m.Get(ctx, "Users!B1:B1")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Name"}}, rows)

	require.NoError(t, m.Clear(ctx, "Users!A2:B"))
	rows, err = m.Get(ctx, "Users!A2:B")
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, 4, m.Writes())

	titles, err := m.SheetTitles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Users"}, titles)
}

func TestMemoryBackend_AppendAfterTrailingBlanks(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()
	m.SetRows("S", [][]string{{"h"}, {"a"}, {""}, {}})

	require.NoError(t, m.Append(ctx, "S!A1", [][]string{{"b"}}))
	assert.Equal(t, [][]string{{"h"}, {"a"}, {"b"}}, m.Rows("S"))
}
