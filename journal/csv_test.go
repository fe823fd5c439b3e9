package journal

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVHeaders(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	j, err := NewCSV(dir)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	assert.Equal(t, transactionHeader, readCSV(t, filepath.Join(dir, "transactions.csv"))[0])
	assert.Equal(t, equityHeader, readCSV(t, filepath.Join(dir, "equity.csv"))[0])
	assert.Equal(t, aggregationHeader, readCSV(t, filepath.Join(dir, "aggregation.csv"))[0])
}

func TestCSVRecords(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	j, err := NewCSV(dir)
	require.NoError(t, err)
	ctx := context.Background()

	exit := time.Date(2024, 3, 4, 15, 55, 0, 0, time.UTC)
	require.NoError(t, j.InsertTransaction(ctx, txn("T1", "AAPL", "overnight", exit, 12.5)))
	require.NoError(t, j.RecordEquity(ctx, EquitySnapshot{Time: exit, Cash: 1, Equity: 2, Positions: 3}))
	require.NoError(t, j.UpdateAggregation(ctx, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, j.Close())

	rows := readCSV(t, filepath.Join(dir, "transactions.csv"))
	require.Len(t, rows, 2)
	assert.Equal(t, "T1", rows[1][0])
	assert.Equal(t, "AAPL", rows[1][1])
	assert.Equal(t, "true", rows[1][2])
	assert.Equal(t, "12.500000", rows[1][9])
	assert.Equal(t, "", rows[1][11])
	assert.Equal(t, "2024-03-04T15:55:00Z", rows[1][7])

	eq := readCSV(t, filepath.Join(dir, "equity.csv"))
	require.Len(t, eq, 2)
	assert.Equal(t, "3", eq[1][3])

	agg := readCSV(t, filepath.Join(dir, "aggregation.csv"))
	require.Len(t, agg, 2)
	assert.Equal(t, []string{"2024-03-04", "overnight"}, agg[1][:2])
	assert.Equal(t, "1", agg[1][6])
}

func TestF(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "1.500000", f(1.5))
	assert.Equal(t, "", optional(nil))
	assert.Equal(t, "-0.250000", optional(ptr(-0.25)))
}
