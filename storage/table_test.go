package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextframe/contextframe-go/capabilities"
	"github.com/contextframe/contextframe-go/models"
	"github.com/contextframe/contextframe-go/schema"
)

func testTable(t *testing.T) *Table {
	t.Helper()
	table, err := CreateTable(context.Background(), "file://"+t.TempDir()+"/ds.cf", 4, nil)
	require.NoError(t, err)
	return table
}

func rec(uuid, title string) *models.Record {
	return &models.Record{UUID: uuid, Title: title, RecordType: models.RecordTypeDocument}
}

func scanAll(t *testing.T, table *Table, opts ScanOptions) *schema.Batch {
	t.Helper()
	scanner, err := table.Scan(opts)
	require.NoError(t, err)
	batch, err := scanner.All(context.Background())
	require.NoError(t, err)
	return batch
}

func TestCreateOpenTable(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	table, err := CreateTable(ctx, "file://"+dir+"/ds.cf", 8, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), table.Version())
	assert.Equal(t, 8, table.Dimension())

	// Creating on top of an existing dataset fails.
	_, err = CreateTable(ctx, "file://"+dir+"/ds.cf", 8, nil)
	require.Error(t, err)

	reopened, err := OpenTable(ctx, "file://"+dir+"/ds.cf", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), reopened.Version())
	assert.Equal(t, 8, reopened.Dimension())
}

func TestAppendAndScan(t *testing.T) {
	table := testTable(t)
	ctx := context.Background()
	require.NoError(t, table.Append(ctx, schema.ToBatch([]*models.Record{
		rec("u-1", "one"), rec("u-2", "two"),
	})))
	assert.Equal(t, uint64(2), table.Version())
	assert.Equal(t, uint64(2), table.NumRows())

	batch := scanAll(t, table, ScanOptions{})
	assert.Equal(t, []string{"u-1", "u-2"}, batch.UUID)

	filtered := scanAll(t, table, ScanOptions{Filter: "title = 'two'"})
	assert.Equal(t, []string{"u-2"}, filtered.UUID)
}

func TestVersionMonotonicity(t *testing.T) {
	table := testTable(t)
	ctx := context.Background()
	before := table.Version()
	for i, r := range []*models.Record{rec("u-1", "a"), rec("u-2", "b")} {
		require.NoError(t, table.Append(ctx, schema.ToBatch([]*models.Record{r})))
		assert.Equal(t, before+uint64(i)+1, table.Version())
	}
	_, err := table.DeleteRows(ctx, []string{"u-1"})
	require.NoError(t, err)
	assert.Equal(t, before+3, table.Version())
}

func TestDeleteRows(t *testing.T) {
	table := testTable(t)
	ctx := context.Background()
	require.NoError(t, table.Append(ctx, schema.ToBatch([]*models.Record{
		rec("u-1", "one"), rec("u-2", "two"),
	})))
	n, err := table.DeleteRows(ctx, []string{"u-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, uint64(1), table.NumRows())

	// Deleting a tombstoned or unknown uuid is a no-op, not an error.
	n, err = table.DeleteRows(ctx, []string{"u-1", "missing"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	batch := scanAll(t, table, ScanOptions{})
	assert.Equal(t, []string{"u-2"}, batch.UUID)
}

func TestUpsertRowsSingleVersionBump(t *testing.T) {
	table := testTable(t)
	ctx := context.Background()
	require.NoError(t, table.Append(ctx, schema.ToBatch([]*models.Record{rec("u-1", "old")})))
	v := table.Version()

	require.NoError(t, table.UpsertRows(ctx, schema.ToBatch([]*models.Record{rec("u-1", "new")})))
	assert.Equal(t, v+1, table.Version())
	assert.Equal(t, uint64(1), table.NumRows())

	batch := scanAll(t, table, ScanOptions{})
	assert.Equal(t, []string{"new"}, batch.Title)
}

func TestBlobStorageAndBlobSafeScan(t *testing.T) {
	table := testTable(t)
	ctx := context.Background()
	withBlob := rec("u-1", "T")
	withBlob.RawData = []byte{0x89, 0x50, 0x4e, 0x47}
	withBlob.RawDataType = "image/png"
	require.NoError(t, table.Append(ctx, schema.ToBatch([]*models.Record{withBlob, rec("u-2", "T")})))

	// Filtered scan: blob column elided, both rows returned.
	batch := scanAll(t, table, ScanOptions{Filter: "title = 'T'"})
	require.Equal(t, 2, batch.NumRows)
	assert.Nil(t, batch.RawData)
	assert.Equal(t, "image/png", batch.RawDataType[0])

	// Explicitly projecting the blob column alongside a filter is a
	// programmer error.
	_, err := table.Scan(ScanOptions{Filter: "title = 'T'", Columns: []string{schema.ColRawData}})
	assert.ErrorIs(t, err, models.ErrBlobScan)

	// The explicit fetch path returns the payload.
	blob, err := table.FetchBlob(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 0x50, 0x4e, 0x47}, blob)

	_, err = table.FetchBlob(ctx, "u-2")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestScanLimitOffset(t *testing.T) {
	table := testTable(t)
	ctx := context.Background()
	require.NoError(t, table.Append(ctx, schema.ToBatch([]*models.Record{
		rec("u-1", "a"), rec("u-2", "b"), rec("u-3", "c"), rec("u-4", "d"),
	})))
	batch := scanAll(t, table, ScanOptions{Limit: 2, Offset: 1})
	assert.Equal(t, []string{"u-2", "u-3"}, batch.UUID)
}

func TestConflictBetweenHandles(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	uri := "file://" + dir + "/ds.cf"
	a, err := CreateTable(ctx, uri, 4, nil)
	require.NoError(t, err)
	b, err := OpenTable(ctx, uri, 0, nil)
	require.NoError(t, err)

	require.NoError(t, a.Append(ctx, schema.ToBatch([]*models.Record{rec("u-1", "from a")})))

	err = b.Append(ctx, schema.ToBatch([]*models.Record{rec("u-2", "from b")}))
	var ce *models.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, uint64(1), ce.ExpectedVersion)
	assert.Equal(t, uint64(2), ce.ActualVersion)

	// After the conflict the loser's snapshot tracks the winner; a retry
	// succeeds and sees both rows.
	require.NoError(t, b.Append(ctx, schema.ToBatch([]*models.Record{rec("u-2", "from b")})))
	batch := scanAll(t, b, ScanOptions{})
	assert.ElementsMatch(t, []string{"u-1", "u-2"}, batch.UUID)
}

func TestCompactDropsTombstones(t *testing.T) {
	table := testTable(t)
	ctx := context.Background()
	require.NoError(t, table.Append(ctx, schema.ToBatch([]*models.Record{rec("u-1", "a")})))
	require.NoError(t, table.Append(ctx, schema.ToBatch([]*models.Record{rec("u-2", "b")})))
	_, err := table.DeleteRows(ctx, []string{"u-1"})
	require.NoError(t, err)

	require.NoError(t, table.Compact(ctx, 1000))
	stats := table.Stats()
	assert.Equal(t, uint64(1), stats.NumRows)
	assert.Equal(t, 1, stats.NumFragments)

	batch := scanAll(t, table, ScanOptions{})
	assert.Equal(t, []string{"u-2"}, batch.UUID)
}

func TestCheckoutPinsReadOnly(t *testing.T) {
	table := testTable(t)
	ctx := context.Background()
	require.NoError(t, table.Append(ctx, schema.ToBatch([]*models.Record{rec("u-1", "a")})))
	require.NoError(t, table.Append(ctx, schema.ToBatch([]*models.Record{rec("u-2", "b")})))

	require.NoError(t, table.Checkout(ctx, 2))
	batch := scanAll(t, table, ScanOptions{})
	assert.Equal(t, []string{"u-1"}, batch.UUID)

	err := table.Append(ctx, schema.ToBatch([]*models.Record{rec("u-3", "c")}))
	require.Error(t, err)
}

func TestTagsAndListVersions(t *testing.T) {
	table := testTable(t)
	ctx := context.Background()
	require.NoError(t, table.Append(ctx, schema.ToBatch([]*models.Record{rec("u-1", "a")})))
	require.NoError(t, table.Tag(ctx, 2, "v1.0"))

	versions, err := table.ListVersions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, uint64(1), versions[0].Version)
	assert.Equal(t, []string{"v1.0"}, versions[1].Tags)

	require.Error(t, table.Tag(ctx, 99, "nope"))
}

func TestCleanupOldVersions(t *testing.T) {
	table := testTable(t)
	ctx := context.Background()
	for _, r := range []*models.Record{rec("u-1", "a"), rec("u-2", "b"), rec("u-3", "c")} {
		require.NoError(t, table.Append(ctx, schema.ToBatch([]*models.Record{r})))
	}
	removed, err := table.CleanupOldVersions(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	versions, err := table.ListVersions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, uint64(3), versions[0].Version)

	// The live data is untouched.
	batch := scanAll(t, table, ScanOptions{})
	assert.Equal(t, uint64(3), uint64(batch.NumRows))
}

func TestCleanupRespectsAge(t *testing.T) {
	table := testTable(t)
	ctx := context.Background()
	require.NoError(t, table.Append(ctx, schema.ToBatch([]*models.Record{rec("u-1", "a")})))
	// Everything is brand new, so an age threshold keeps all versions.
	removed, err := table.CleanupOldVersions(ctx, 1, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestDeterministicClockAndIDs(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	table, err := CreateTable(ctx, "file://"+dir+"/ds.cf", 4, &TableOptions{
		Clock: capabilities.FixedClock{T: fixed},
		IDs:   &capabilities.SequentialIDs{Prefix: "frag"},
	})
	require.NoError(t, err)
	require.NoError(t, table.Append(ctx, schema.ToBatch([]*models.Record{rec("u-1", "a")})))

	versions, err := table.ListVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, fixed, versions[0].CreatedAt)
}
