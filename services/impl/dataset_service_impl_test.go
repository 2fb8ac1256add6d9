package impl

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextframe/contextframe-go/capabilities"
	"github.com/contextframe/contextframe-go/models"
	"github.com/contextframe/contextframe-go/services"
	"github.com/contextframe/contextframe-go/storage"
)

const (
	u1 = "11111111-1111-4111-8111-111111111111"
	u2 = "22222222-2222-4222-8222-222222222222"
	u3 = "33333333-3333-4333-8333-333333333333"
	c1 = "cccccccc-cccc-4ccc-8ccc-cccccccccccc"
)

func newTestDataset(t *testing.T) services.DatasetService {
	t.Helper()
	ds, err := CreateDataset(context.Background(), "file://"+t.TempDir()+"/ds.cf", 4, &storage.TableOptions{
		Clock: capabilities.FixedClock{T: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)},
	})
	require.NoError(t, err)
	return ds
}

func doc(uuid, title string) *models.Record {
	return &models.Record{UUID: uuid, Title: title}
}

func TestCreateAddGet(t *testing.T) {
	ds := newTestDataset(t)
	ctx := context.Background()

	created, err := ds.Add(ctx, &models.Record{
		UUID:        u1,
		Title:       "T",
		TextContent: "hello",
		Vector:      []float32{0, 1, 0, 0},
	})
	require.NoError(t, err)
	assert.Equal(t, models.RecordTypeDocument, created.RecordType)
	assert.Equal(t, "2024-05-01", created.CreatedAt)

	got, err := ds.Get(ctx, u1, false)
	require.NoError(t, err)
	assert.Equal(t, "T", got.Title)
	assert.Equal(t, "hello", got.TextContent)
	assert.Equal(t, []float32{0, 1, 0, 0}, got.Vector)

	stats, err := ds.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.NumRows)
}

func TestAddAssignsUUID(t *testing.T) {
	ds := newTestDataset(t)
	created, err := ds.Add(context.Background(), &models.Record{Title: "anon"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.UUID)
}

func TestAddRejectsDuplicateUUID(t *testing.T) {
	ds := newTestDataset(t)
	ctx := context.Background()
	_, err := ds.Add(ctx, doc(u1, "first"))
	require.NoError(t, err)
	_, err = ds.Add(ctx, doc(u1, "second"))
	var de *models.DuplicateError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, u1, de.UUID)
}

func TestAddRejectsWrongDimension(t *testing.T) {
	ds := newTestDataset(t)
	rec := doc(u1, "bad vector")
	rec.Vector = []float32{1, 2}
	_, err := ds.Add(context.Background(), rec)
	var dim *models.DimensionError
	require.ErrorAs(t, err, &dim)
}

func TestUpsertPreservesUUID(t *testing.T) {
	ds := newTestDataset(t)
	ctx := context.Background()
	_, err := ds.Add(ctx, doc(u1, "T"))
	require.NoError(t, err)
	before, err := ds.Stats(ctx)
	require.NoError(t, err)

	_, err = ds.Upsert(ctx, doc(u1, "T2"))
	require.NoError(t, err)

	got, err := ds.Get(ctx, u1, false)
	require.NoError(t, err)
	assert.Equal(t, "T2", got.Title)

	after, err := ds.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), after.NumRows)
	assert.Equal(t, before.Version+1, after.Version)
}

func TestUpsertInsertsWhenAbsent(t *testing.T) {
	ds := newTestDataset(t)
	_, err := ds.Upsert(context.Background(), doc(u1, "fresh"))
	require.NoError(t, err)
	got, err := ds.Get(context.Background(), u1, false)
	require.NoError(t, err)
	assert.Equal(t, "fresh", got.Title)
}

func TestDeleteIsIdempotent(t *testing.T) {
	ds := newTestDataset(t)
	ctx := context.Background()
	_, err := ds.Add(ctx, doc(u1, "T"))
	require.NoError(t, err)

	require.NoError(t, ds.DeleteRecord(ctx, u1))
	statsAfterFirst, err := ds.Stats(ctx)
	require.NoError(t, err)

	require.NoError(t, ds.DeleteRecord(ctx, u1))
	statsAfterSecond, err := ds.Stats(ctx)
	require.NoError(t, err)

	assert.Equal(t, statsAfterFirst.NumRows, statsAfterSecond.NumRows)
	_, err = ds.Get(ctx, u1, false)
	var nfe *models.NotFoundError
	require.ErrorAs(t, err, &nfe)
}

func TestUpdateRecordRequiresExisting(t *testing.T) {
	ds := newTestDataset(t)
	_, err := ds.UpdateRecord(context.Background(), u1, doc("", "nope"))
	var nfe *models.NotFoundError
	require.ErrorAs(t, err, &nfe)
}

func TestGetStripsBlobUnlessRequested(t *testing.T) {
	ds := newTestDataset(t)
	ctx := context.Background()
	rec := doc(u1, "T")
	rec.RawData = []byte("image bytes")
	rec.RawDataType = "image/png"
	_, err := ds.Add(ctx, rec)
	require.NoError(t, err)

	got, err := ds.Get(ctx, u1, false)
	require.NoError(t, err)
	assert.Nil(t, got.RawData)
	assert.Equal(t, "image/png", got.RawDataType)

	got, err = ds.Get(ctx, u1, true)
	require.NoError(t, err)
	assert.Equal(t, []byte("image bytes"), got.RawData)

	blob, err := ds.FetchBlob(ctx, u1)
	require.NoError(t, err)
	assert.Equal(t, []byte("image bytes"), blob)
}

func TestFetchBlobNilForBloblessRecord(t *testing.T) {
	ds := newTestDataset(t)
	ctx := context.Background()
	_, err := ds.Add(ctx, doc(u1, "no blob"))
	require.NoError(t, err)
	blob, err := ds.FetchBlob(ctx, u1)
	require.NoError(t, err)
	assert.Nil(t, blob)

	_, err = ds.FetchBlob(ctx, u2)
	var nfe *models.NotFoundError
	require.ErrorAs(t, err, &nfe)
}

func TestMemberOfTargetMustExist(t *testing.T) {
	ds := newTestDataset(t)
	rec := doc(u1, "orphan member")
	rec.Relationships = []models.Relationship{models.NewMemberOf(c1)}
	_, err := ds.Add(context.Background(), rec)
	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Reason, "does not exist")
}

func TestMemberInheritsHeaderCollection(t *testing.T) {
	ds := newTestDataset(t)
	ctx := context.Background()
	_, err := ds.Add(ctx, &models.Record{
		UUID:       c1,
		Title:      "Header",
		RecordType: models.RecordTypeCollectionHeader,
		Collection: "A",
	})
	require.NoError(t, err)

	member := doc(u1, "member")
	member.Relationships = []models.Relationship{models.NewMemberOf(c1)}
	created, err := ds.Add(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, "A", created.Collection)

	mismatched := doc(u2, "wrong collection")
	mismatched.Collection = "B"
	mismatched.Relationships = []models.Relationship{models.NewMemberOf(c1)}
	_, err = ds.Add(ctx, mismatched)
	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestAddManyBatches(t *testing.T) {
	ds := newTestDataset(t)
	ctx := context.Background()
	recs := []*models.Record{doc(u1, "a"), doc(u2, "b"), doc(u3, "c")}
	created, err := ds.AddMany(ctx, recs, 2)
	require.NoError(t, err)
	require.Len(t, created, 3)

	stats, err := ds.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), stats.NumRows)

	listed, err := ds.List(ctx, "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, listed, 3)
}

func TestConcurrentUpsertConflict(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	uri := "file://" + dir + "/ds.cf"
	a, err := CreateDataset(ctx, uri, 4, nil)
	require.NoError(t, err)
	_, err = a.Add(ctx, doc(u1, "base"))
	require.NoError(t, err)

	b, err := OpenDataset(ctx, uri, 0, nil)
	require.NoError(t, err)

	// Both handles start from the same version and race an upsert with
	// different content.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = a.Upsert(ctx, doc(u1, "from a"))
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = b.Upsert(ctx, doc(u1, "from b"))
	}()
	wg.Wait()

	conflicts := 0
	for _, err := range errs {
		if err != nil {
			var ce *models.ConflictError
			require.ErrorAs(t, err, &ce)
			conflicts++
		}
	}
	require.Equal(t, 1, conflicts, "exactly one writer must lose")

	// The loser retries and observes the winner's committed state.
	loser := a
	if errs[1] != nil {
		loser = b
	}
	_, err = loser.Upsert(ctx, doc(u1, "retry"))
	require.NoError(t, err)
	got, err := loser.Get(ctx, u1, false)
	require.NoError(t, err)
	assert.Equal(t, "retry", got.Title)

	stats, err := loser.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.NumRows)
}

func TestEnsureDatasetHeaderSingleton(t *testing.T) {
	ds := newTestDataset(t)
	ctx := context.Background()
	first, err := ds.EnsureDatasetHeader(ctx, "My Dataset")
	require.NoError(t, err)
	assert.Equal(t, models.RecordTypeDatasetHeader, first.RecordType)

	second, err := ds.EnsureDatasetHeader(ctx, "Other Title")
	require.NoError(t, err)
	assert.Equal(t, first.UUID, second.UUID)
}

func TestValidateAllReportsCleanDataset(t *testing.T) {
	ds := newTestDataset(t)
	ctx := context.Background()
	_, err := ds.Add(ctx, doc(u1, "fine"))
	require.NoError(t, err)
	problems, err := ds.ValidateAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestListVersionsAndCheckout(t *testing.T) {
	ds := newTestDataset(t)
	ctx := context.Background()
	_, err := ds.Add(ctx, doc(u1, "a"))
	require.NoError(t, err)
	_, err = ds.Add(ctx, doc(u2, "b"))
	require.NoError(t, err)

	versions, err := ds.ListVersions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 3)

	require.NoError(t, ds.Checkout(ctx, 2))
	listed, err := ds.List(ctx, "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}
