package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextframe/contextframe-go/models"
	"github.com/contextframe/contextframe-go/schema"
)

func evalOn(t *testing.T, expr string, rec *models.Record) bool {
	t.Helper()
	parsed, err := ParseFilter(expr)
	require.NoError(t, err, "filter %q", expr)
	batch := schema.ToBatch([]*models.Record{rec})
	return parsed.Eval(batch, 0)
}

func filterRecord() *models.Record {
	pos := 2
	return &models.Record{
		UUID:       "a81bc81b-dead-4e5d-abff-90865d1e13b1",
		Title:      "The Title",
		RecordType: models.RecordTypeDocument,
		Author:     "ada",
		Status:     models.StatusPublished,
		Tags:       []string{"go", "search"},
		Position:   &pos,
		Relationships: []models.Relationship{
			{Type: models.RelationshipMemberOf, ID: "header-1"},
			{Type: models.RelationshipRelated, ID: "other-1"},
		},
	}
}

func TestFilterOperators(t *testing.T) {
	rec := filterRecord()
	cases := []struct {
		expr string
		want bool
	}{
		{"title = 'The Title'", true},
		{"title = 'Other'", false},
		{"title != 'Other'", true},
		{"author < 'bob'", true},
		{"author <= 'ada'", true},
		{"status IN ('draft', 'published')", true},
		{"status IN ('draft', 'review')", false},
		{"title LIKE 'The %'", true},
		{"title LIKE '%title%'", false},
		{"title LIKE 'The Titl_'", true},
		{"context IS NULL", true},
		{"title IS NOT NULL", true},
		{"position = 2", true},
		{"position <= 1", false},
		{"tags = 'go'", true},
		{"tags = 'rust'", false},
		{"title = 'The Title' AND author = 'ada'", true},
		{"title = 'Other' OR author = 'ada'", true},
		{"NOT title = 'Other'", true},
		{"NOT (title = 'The Title' AND author = 'ada')", false},
		{"relationships.type = 'member_of'", true},
		{"relationships.type = 'member_of' AND relationships.id = 'header-1'", true},
		{"relationships.id = 'absent'", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, evalOn(t, tc.expr, rec), "filter %q", tc.expr)
	}
}

func TestFilterRejectsForeignOperators(t *testing.T) {
	bad := []string{
		"position > 1",
		"position >= 1",
		"title <> 'x'",
		"title ~ 'x'",
		"title BETWEEN 'a' AND 'b'",
		"title = ",
		"(title = 'x'",
		"title LIKE 5",
		"IN ('a')",
	}
	for _, expr := range bad {
		_, err := ParseFilter(expr)
		var fpe *models.FilterParseError
		require.ErrorAs(t, err, &fpe, "filter %q must fail", expr)
	}
}

func TestFilterErrorCarriesPosition(t *testing.T) {
	_, err := ParseFilter("title > 'x'")
	var fpe *models.FilterParseError
	require.ErrorAs(t, err, &fpe)
	assert.Equal(t, 6, fpe.Pos)
	assert.Equal(t, ">", fpe.Token)
}

func TestFilterRejectsUnknownAndBlobColumns(t *testing.T) {
	_, err := ParseFilter("nonexistent = 'x'")
	var fpe *models.FilterParseError
	require.ErrorAs(t, err, &fpe)

	_, err = ParseFilter("raw_data = 'x'")
	require.ErrorAs(t, err, &fpe)
	assert.Contains(t, fpe.Reason, "blob")

	_, err = ParseFilter("vector = 'x'")
	require.ErrorAs(t, err, &fpe)
}

func TestFilterEmptyIsNil(t *testing.T) {
	expr, err := ParseFilter("   ")
	require.NoError(t, err)
	assert.Nil(t, expr)
}

func TestFilterQuotedEscapes(t *testing.T) {
	rec := filterRecord()
	rec.Title = "it's"
	assert.True(t, evalOn(t, "title = 'it''s'", rec))
}
