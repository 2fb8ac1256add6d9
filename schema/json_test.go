package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextframe/contextframe-go/models"
)

func TestDecodeRecordJSONKnownFields(t *testing.T) {
	rec, err := DecodeRecordJSON([]byte(`{
		"uuid": "a81bc81b-dead-4e5d-abff-90865d1e13b1",
		"title": "T",
		"record_type": "document",
		"text_content": "hello",
		"vector": [0, 1, 0, 0]
	}`))
	require.NoError(t, err)
	assert.Equal(t, "T", rec.Title)
	assert.Equal(t, []float32{0, 1, 0, 0}, rec.Vector)
}

func TestDecodeRecordJSONRejectsUnknownField(t *testing.T) {
	_, err := DecodeRecordJSON([]byte(`{"title": "T", "rating": 5}`))
	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "rating", ve.Field)
	assert.Contains(t, ve.Hint, "x_")
}

func TestDecodeRecordJSONExtensionNamespace(t *testing.T) {
	rec, err := DecodeRecordJSON([]byte(`{"title": "T", "x_rating": 5, "x_team": "core"}`))
	require.NoError(t, err)
	v, ok := rec.CustomValue("x_rating")
	require.True(t, ok)
	assert.Equal(t, "5", v)
	v, ok = rec.CustomValue("x_team")
	require.True(t, ok)
	assert.Equal(t, "core", v)
}

func TestDecodeRecordJSONCustomMetadataObjectForm(t *testing.T) {
	rec, err := DecodeRecordJSON([]byte(`{
		"title": "T",
		"custom_metadata": {"plain": "text", "typed": {"a": 1}}
	}`))
	require.NoError(t, err)
	v, ok := rec.CustomValue("plain")
	require.True(t, ok)
	assert.Equal(t, "text", v)
	// Non-string values keep their JSON encoding, so the round-trip is
	// lossless for callers that decode them again.
	v, ok = rec.CustomValue("typed")
	require.True(t, ok)
	assert.JSONEq(t, `{"a": 1}`, v)
}

func TestDecodeRecordJSONCustomMetadataListForm(t *testing.T) {
	rec, err := DecodeRecordJSON([]byte(`{
		"title": "T",
		"custom_metadata": [{"key": "b", "value": "2"}, {"key": "a", "value": "1"}]
	}`))
	require.NoError(t, err)
	// List form preserves insertion order.
	require.Len(t, rec.CustomMetadata, 2)
	assert.Equal(t, "b", rec.CustomMetadata[0].Key)
	assert.Equal(t, "a", rec.CustomMetadata[1].Key)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := fullRecord()
	data, err := EncodeRecordJSON(in)
	require.NoError(t, err)
	out, err := DecodeRecordJSON(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
