package impl

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextframe/contextframe-go/models"
	"github.com/contextframe/contextframe-go/services"
)

func collectionFixture(t *testing.T) (services.DatasetService, services.CollectionService, *models.Record) {
	t.Helper()
	ds := newTestDataset(t)
	col := NewCollectionService(ds)
	header, err := col.CreateCollection(context.Background(), &models.Record{Title: "Research", Collection: "A"})
	require.NoError(t, err)
	return ds, col, header
}

func TestCreateCollectionHeader(t *testing.T) {
	_, _, header := collectionFixture(t)
	assert.Equal(t, models.RecordTypeCollectionHeader, header.RecordType)
	assert.Equal(t, "A", header.Collection)
}

func TestCollectionRoundTrip(t *testing.T) {
	ds, col, header := collectionFixture(t)
	ctx := context.Background()

	var memberIDs []string
	for i := 0; i < 3; i++ {
		rec := doc(fmt.Sprintf("%08d-aaaa-4aaa-8aaa-aaaaaaaaaaaa", i), fmt.Sprintf("member %d", i))
		rec.Relationships = []models.Relationship{models.NewMemberOf(header.UUID)}
		created, err := ds.Add(ctx, rec)
		require.NoError(t, err)
		memberIDs = append(memberIDs, created.UUID)
	}

	got, members, err := col.GetCollection(ctx, header.UUID)
	require.NoError(t, err)
	assert.Equal(t, header.UUID, got.UUID)
	require.Len(t, members, 3)
	for i, m := range members {
		assert.Equal(t, memberIDs[i], m.UUID, "insertion order preserved")
		assert.Equal(t, "A", m.Collection)
	}
}

func TestCollectionAddRemoveDocuments(t *testing.T) {
	ds, col, header := collectionFixture(t)
	ctx := context.Background()
	_, err := ds.Add(ctx, doc(u1, "loose"))
	require.NoError(t, err)

	require.NoError(t, col.AddDocuments(ctx, header.UUID, []string{u1}))
	_, members, err := col.GetCollection(ctx, header.UUID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "A", members[0].Collection)

	// Adding twice does not duplicate the edge.
	require.NoError(t, col.AddDocuments(ctx, header.UUID, []string{u1}))
	rec, err := ds.Get(ctx, u1, false)
	require.NoError(t, err)
	assert.Len(t, rec.Relationships, 1)

	require.NoError(t, col.RemoveDocuments(ctx, header.UUID, []string{u1}))
	_, members, err = col.GetCollection(ctx, header.UUID)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestCollectionDelete(t *testing.T) {
	ds, col, header := collectionFixture(t)
	ctx := context.Background()
	_, err := ds.Add(ctx, doc(u1, "member"))
	require.NoError(t, err)
	require.NoError(t, col.AddDocuments(ctx, header.UUID, []string{u1}))

	require.NoError(t, col.DeleteCollection(ctx, header.UUID, false))
	_, err = ds.Get(ctx, header.UUID, false)
	var nfe *models.NotFoundError
	require.ErrorAs(t, err, &nfe)

	// The member survives, detached.
	rec, err := ds.Get(ctx, u1, false)
	require.NoError(t, err)
	assert.Empty(t, rec.Relationships)
}

func TestCollectionDeleteWithMembers(t *testing.T) {
	ds, col, header := collectionFixture(t)
	ctx := context.Background()
	_, err := ds.Add(ctx, doc(u1, "member"))
	require.NoError(t, err)
	require.NoError(t, col.AddDocuments(ctx, header.UUID, []string{u1}))

	require.NoError(t, col.DeleteCollection(ctx, header.UUID, true))
	_, err = ds.Get(ctx, u1, false)
	var nfe *models.NotFoundError
	require.ErrorAs(t, err, &nfe)
}

func TestCollectionStats(t *testing.T) {
	ds, col, header := collectionFixture(t)
	ctx := context.Background()
	withVec := doc(u1, "vectored")
	withVec.TextContent = "some text"
	withVec.Vector = []float32{1, 0, 0, 0}
	withVec.Relationships = []models.Relationship{models.NewMemberOf(header.UUID)}
	_, err := ds.Add(ctx, withVec)
	require.NoError(t, err)

	plain := doc(u2, "plain")
	plain.Relationships = []models.Relationship{models.NewMemberOf(header.UUID)}
	_, err = ds.Add(ctx, plain)
	require.NoError(t, err)

	stats, err := col.CollectionStats(ctx, header.UUID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.MemberCount)
	assert.Equal(t, 1, stats.WithVectors)
	assert.Equal(t, int64(len("some text")), stats.TotalTextLen)
}

func TestGetCollectionRejectsNonHeader(t *testing.T) {
	ds, col, _ := collectionFixture(t)
	ctx := context.Background()
	_, err := ds.Add(ctx, doc(u1, "plain document"))
	require.NoError(t, err)
	_, _, err = col.GetCollection(ctx, u1)
	var nfe *models.NotFoundError
	require.ErrorAs(t, err, &nfe)
	assert.Equal(t, "collection", nfe.Resource)
}

func TestCreateFrameset(t *testing.T) {
	ds, col, _ := collectionFixture(t)
	ctx := context.Background()
	src := doc(u1, "source")
	src.TextContent = "the answer lives here"
	_, err := ds.Add(ctx, src)
	require.NoError(t, err)

	fs, err := col.CreateFrameset(ctx, "Answer", "the synthesized answer", "what is it?",
		[]services.FramesetSource{{UUID: u1, Excerpt: "the answer lives here"}})
	require.NoError(t, err)
	assert.Equal(t, models.RecordTypeFrameset, fs.RecordType)
	assert.Equal(t, "what is it?", fs.Context)
	require.Len(t, fs.Relationships, 1)
	assert.Equal(t, models.RelationshipMemberOf, fs.Relationships[0].Type)
	assert.Equal(t, "the answer lives here", fs.Relationships[0].Description)

	// Citing an absent record fails validation.
	_, err = col.CreateFrameset(ctx, "Bad", "answer", "q?",
		[]services.FramesetSource{{UUID: u3}})
	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)

	_, err = col.CreateFrameset(ctx, "Empty", "answer", "q?", nil)
	require.ErrorAs(t, err, &ve)
}
