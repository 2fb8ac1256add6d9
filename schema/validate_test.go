package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextframe/contextframe-go/models"
)

const testUUID = "a81bc81b-dead-4e5d-abff-90865d1e13b1"

func validRecord() *models.Record {
	return &models.Record{
		UUID:       testUUID,
		Title:      "A record",
		RecordType: models.RecordTypeDocument,
		CreatedAt:  "2024-05-01",
		UpdatedAt:  "2024-05-01",
	}
}

func TestValidateAcceptsMinimalRecord(t *testing.T) {
	require.NoError(t, Validate(validRecord(), 4))
}

func TestValidateRequiresUUIDAndTitle(t *testing.T) {
	rec := validRecord()
	rec.UUID = ""
	err := Validate(rec, 4)
	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "uuid", ve.Field)

	rec = validRecord()
	rec.UUID = "not-a-uuid"
	require.Error(t, Validate(rec, 4))

	rec = validRecord()
	rec.Title = ""
	err = Validate(rec, 4)
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "title", ve.Field)
}

func TestValidateRejectsUnknownEnums(t *testing.T) {
	rec := validRecord()
	rec.RecordType = "novel"
	require.Error(t, Validate(rec, 4))

	rec = validRecord()
	rec.Status = "bogus"
	require.Error(t, Validate(rec, 4))

	rec = validRecord()
	rec.Status = models.StatusPublished
	require.NoError(t, Validate(rec, 4))
}

func TestValidateVectorDimension(t *testing.T) {
	rec := validRecord()
	rec.Vector = []float32{0, 1, 0, 0}
	require.NoError(t, Validate(rec, 4))

	rec.Vector = []float32{0, 1}
	err := Validate(rec, 4)
	var de *models.DimensionError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 4, de.Want)
	assert.Equal(t, 2, de.Got)
}

func TestValidateDates(t *testing.T) {
	rec := validRecord()
	rec.CreatedAt = "01/05/2024"
	require.Error(t, Validate(rec, 4))

	rec = validRecord()
	rec.UpdatedAt = "2024-5-1"
	require.Error(t, Validate(rec, 4))
}

func TestValidateRelationships(t *testing.T) {
	rec := validRecord()
	rec.Relationships = []models.Relationship{{Type: models.RelationshipRelated}}
	err := Validate(rec, 4)
	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Reason, "no identifier")

	rec.Relationships = []models.Relationship{{Type: "friend", ID: testUUID}}
	require.Error(t, Validate(rec, 4))

	rec.Relationships = []models.Relationship{{Type: models.RelationshipRelated, URI: "https://example.com/doc"}}
	require.NoError(t, Validate(rec, 4))
}

func TestValidateCustomMetadataKeys(t *testing.T) {
	rec := validRecord()
	rec.CustomMetadata = []models.MetadataPair{
		{Key: "lang", Value: "en"},
		{Key: "lang", Value: "de"},
	}
	err := Validate(rec, 4)
	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Reason, "duplicate key")
}

func TestValidateBlobNeedsMime(t *testing.T) {
	rec := validRecord()
	rec.RawData = []byte{1, 2, 3}
	require.Error(t, Validate(rec, 4))
	rec.RawDataType = "image/png"
	require.NoError(t, Validate(rec, 4))
}

func TestValidateCollectionHeader(t *testing.T) {
	rec := validRecord()
	rec.RecordType = models.RecordTypeCollectionHeader
	require.Error(t, Validate(rec, 4))
	rec.Collection = "A"
	require.NoError(t, Validate(rec, 4))
}

func TestValidateFrameset(t *testing.T) {
	rec := validRecord()
	rec.RecordType = models.RecordTypeFrameset
	rec.Context = "what is the answer?"
	require.Error(t, Validate(rec, 4), "frameset without member_of must fail")

	rec.Relationships = []models.Relationship{models.NewMemberOf(testUUID)}
	require.NoError(t, Validate(rec, 4))

	rec.Context = ""
	require.Error(t, Validate(rec, 4), "frameset without context must fail")
}
